package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// Channel identifies one delivery medium.
type Channel string

const (
	ChannelEmail   Channel = "email"
	ChannelSMS     Channel = "sms"
	ChannelPush    Channel = "push"
	ChannelInApp   Channel = "in_app"
	ChannelWebhook Channel = "webhook"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp, ChannelWebhook:
		return true
	}
	return false
}

type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

var (
	ErrNoRecipient    = errors.New("notification has no recipient")
	ErrNoChannels     = errors.New("notification has no channels")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrEmptyMessage   = errors.New("notification has neither body nor template")
)

// Request is a single notification request. It is immutable once
// accepted by the engine; Normalize is called exactly once at the
// acceptance boundary.
type Request struct {
	ID          string            `json:"id"`
	Recipient   string            `json:"recipient"`
	Recipients  []string          `json:"recipients,omitempty"`
	Type        string            `json:"type"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	TemplateID  string            `json:"template_id,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
	Channels    []Channel         `json:"channels"`
	Priority    Priority          `json:"priority"`
	WebhookURL  string            `json:"webhook_url,omitempty"`
	ScheduledAt *time.Time        `json:"scheduled_at,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	MaxRetries  int               `json:"max_retries,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Normalize deduplicates the channel set, defaults the priority and
// validates the request. It returns the first validation error found.
func (r *Request) Normalize() error {
	if r.Recipient == "" && len(r.Recipients) == 0 {
		return ErrNoRecipient
	}
	if len(r.Channels) == 0 {
		return ErrNoChannels
	}

	seen := make(map[Channel]struct{}, len(r.Channels))
	deduped := r.Channels[:0]
	for _, ch := range r.Channels {
		if !ch.Valid() {
			return ErrUnknownChannel
		}
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		deduped = append(deduped, ch)
	}
	r.Channels = deduped

	if r.Body == "" && r.TemplateID == "" {
		return ErrEmptyMessage
	}
	if r.Priority == "" {
		r.Priority = PriorityNormal
	}
	return nil
}

// Expired reports whether the request carries an expiry that has passed.
func (r *Request) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// IdempotencyKey derives a stable key from the request content so that
// receivers of retried webhook deliveries can deduplicate. Channel
// order does not affect the key.
func (r *Request) IdempotencyKey() string {
	channels := make([]string, len(r.Channels))
	for i, ch := range r.Channels {
		channels[i] = string(ch)
	}
	sort.Strings(channels)

	payload := struct {
		Recipient  string            `json:"recipient"`
		Type       string            `json:"type"`
		Title      string            `json:"title"`
		Body       string            `json:"body"`
		TemplateID string            `json:"template_id"`
		Variables  map[string]string `json:"variables"`
		Channels   []string          `json:"channels"`
	}{r.Recipient, r.Type, r.Title, r.Body, r.TemplateID, r.Variables, channels}

	b, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
