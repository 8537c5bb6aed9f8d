package broker

import "context"

// Publisher is the outbound event surface. The engine only publishes;
// consuming inbound business events is someone else's job.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// Subjects used by the engine.
const (
	SubjectDeliveryEvents = "notifications.events"
	SubjectWebhookDead    = "notifications.webhooks.dead"
)
