package domain

import "time"

// DeliveryState is the lifecycle state of a webhook delivery.
type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
	DeliveryCancelled DeliveryState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s DeliveryState) Terminal() bool {
	return s == DeliveryDelivered || s == DeliveryFailed || s == DeliveryCancelled
}

// HTTPResponse summarizes the last HTTP response seen for a delivery.
// The body is truncated by the HTTP client before it gets here.
type HTTPResponse struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       string              `json:"body,omitempty"`
}

// WebhookDelivery is one webhook delivery attempt sequence. It is
// owned and mutated exclusively by the retry engine for the duration
// of its lifecycle; everyone else sees read-only snapshots.
type WebhookDelivery struct {
	ID             string              `json:"id"`
	NotificationID string              `json:"notification_id"`
	URL            string              `json:"url"`
	Method         string              `json:"method"`
	Headers        map[string]string   `json:"headers,omitempty"`
	Payload        []byte              `json:"payload"`
	IdempotencyKey string              `json:"idempotency_key,omitempty"`
	AttemptCount   int                 `json:"attempt_count"`
	MaxAttempts    int                 `json:"max_attempts"`
	State          DeliveryState       `json:"state"`
	NextRetryAt    time.Time           `json:"next_retry_at,omitempty"`
	LastAttemptAt  time.Time           `json:"last_attempt_at,omitempty"`
	LastResponse   *HTTPResponse       `json:"last_response,omitempty"`
	LastError      string              `json:"last_error,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// Snapshot returns a deep copy safe to hand outside the engine.
func (d *WebhookDelivery) Snapshot() WebhookDelivery {
	cp := *d
	if d.Headers != nil {
		cp.Headers = make(map[string]string, len(d.Headers))
		for k, v := range d.Headers {
			cp.Headers[k] = v
		}
	}
	if d.Payload != nil {
		cp.Payload = append([]byte(nil), d.Payload...)
	}
	if d.LastResponse != nil {
		respCopy := *d.LastResponse
		if d.LastResponse.Headers != nil {
			respCopy.Headers = make(map[string][]string, len(d.LastResponse.Headers))
			for k, v := range d.LastResponse.Headers {
				respCopy.Headers[k] = append([]string(nil), v...)
			}
		}
		cp.LastResponse = &respCopy
	}
	return cp
}
