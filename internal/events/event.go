package events

import (
	"time"

	"github.com/agrovault/notify/internal/domain"
)

// Kind distinguishes per-channel outcome events from the single
// aggregate event emitted when a notification resolves.
type Kind string

const (
	KindChannelOutcome Kind = "channel_outcome"
	KindAggregate      Kind = "aggregate"
	KindWebhookAttempt Kind = "webhook_attempt"
)

// Event is one observable dispatch occurrence. The dispatcher emits
// one per channel outcome and one per aggregate result; the webhook
// engine emits one per delivery attempt.
type Event struct {
	Kind           Kind                 `json:"kind"`
	NotificationID string               `json:"notification_id"`
	DeliveryID     string               `json:"delivery_id,omitempty"`
	Recipient      string               `json:"recipient,omitempty"`
	Channel        domain.Channel       `json:"channel,omitempty"`
	Outcome        domain.OutcomeStatus `json:"outcome,omitempty"`
	Aggregate      domain.ResultStatus  `json:"aggregate,omitempty"`
	Error          string               `json:"error,omitempty"`
	Attempt        int                  `json:"attempt,omitempty"`
	Timestamp      time.Time            `json:"timestamp"`
}
