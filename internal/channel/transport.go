package channel

import (
	"context"

	"github.com/agrovault/notify/internal/domain"
)

// Message is the rendered text handed to a transport.
type Message struct {
	Title    string
	Body     string
	Type     string
	Metadata map[string]string
}

// SendResult is the provider call outcome. Failures are data, not
// errors: a transport returns Success=false with Error set rather
// than an error value, so the dispatcher can record the outcome.
type SendResult struct {
	Success           bool
	ProviderMessageID string
	Error             string
	CostCents         int64
}

// Transport performs the actual send for one channel. Implementations
// wrap the real providers (SMTP, Twilio, FCM, ...); they may be slow
// and must honor ctx cancellation and deadline.
type Transport interface {
	Send(ctx context.Context, recipient string, msg Message, priority domain.Priority) SendResult
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, recipient string, msg Message, priority domain.Priority) SendResult

func (f TransportFunc) Send(ctx context.Context, recipient string, msg Message, priority domain.Priority) SendResult {
	return f(ctx, recipient, msg, priority)
}
