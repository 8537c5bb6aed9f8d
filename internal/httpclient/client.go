package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxBodyBytes bounds how much of a response body is retained on a
// delivery attempt record.
const MaxBodyBytes = 4 << 10

type Client struct {
	httpClient *http.Client
}

type Response struct {
	StatusCode int
	Headers    map[string][]string
	Body       string
}

func New(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Do executes a request with the given method, headers and payload.
// The response body is truncated to MaxBodyBytes.
func (c *Client) Do(ctx context.Context, method, url string, headers map[string]string, payload []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       string(body),
	}, nil
}

// Post sends a JSON payload with the default method and no extra headers.
func (c *Client) Post(ctx context.Context, url string, payload []byte) (*Response, error) {
	return c.Do(ctx, http.MethodPost, url, nil, payload)
}
