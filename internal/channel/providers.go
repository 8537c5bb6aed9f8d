package channel

import (
	"context"
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/agrovault/notify/internal/domain"
	"github.com/agrovault/notify/internal/logging"
)

// Simulated providers stand in for real delivery integrations. Each
// mimics its provider's latency profile and honors context
// cancellation, so timeout and expiry behavior is exercised end to end
// without external accounts.

func providerMessageID(prefix string) string {
	id, err := gonanoid.New(12)
	if err != nil {
		return prefix + "_" + time.Now().Format("20060102150405")
	}
	return prefix + "_" + id
}

func simulate(ctx context.Context, latency time.Duration) bool {
	select {
	case <-time.After(latency):
		return true
	case <-ctx.Done():
		return false
	}
}

// SimulatedEmail delivers after SMTP-like latency.
func SimulatedEmail() Transport {
	return TransportFunc(func(ctx context.Context, recipient string, msg Message, priority domain.Priority) SendResult {
		if !simulate(ctx, 150*time.Millisecond) {
			return SendResult{Success: false, Error: "email send cancelled: " + ctx.Err().Error()}
		}
		logging.FromContext(ctx).Info("email sent",
			slog.String("code", "CH_EMAIL_SENT"),
			slog.String("recipient", recipient),
			slog.String("title", msg.Title),
		)
		return SendResult{Success: true, ProviderMessageID: providerMessageID("em")}
	})
}

// SimulatedSMS delivers after carrier-gateway latency and reports a
// per-message cost.
func SimulatedSMS() Transport {
	return TransportFunc(func(ctx context.Context, recipient string, msg Message, priority domain.Priority) SendResult {
		if !simulate(ctx, 100*time.Millisecond) {
			return SendResult{Success: false, Error: "sms send cancelled: " + ctx.Err().Error()}
		}
		logging.FromContext(ctx).Info("sms sent",
			slog.String("code", "CH_SMS_SENT"),
			slog.String("recipient", recipient),
		)
		return SendResult{Success: true, ProviderMessageID: providerMessageID("sm"), CostCents: 2}
	})
}

// SimulatedPush delivers with the low latency of a push gateway.
func SimulatedPush() Transport {
	return TransportFunc(func(ctx context.Context, recipient string, msg Message, priority domain.Priority) SendResult {
		if !simulate(ctx, 50*time.Millisecond) {
			return SendResult{Success: false, Error: "push send cancelled: " + ctx.Err().Error()}
		}
		logging.FromContext(ctx).Info("push sent",
			slog.String("code", "CH_PUSH_SENT"),
			slog.String("recipient", recipient),
			slog.String("priority", string(priority)),
		)
		return SendResult{Success: true, ProviderMessageID: providerMessageID("ps")}
	})
}

// SimulatedInApp records the notification instantly; there is no
// external provider to wait on.
func SimulatedInApp() Transport {
	return TransportFunc(func(ctx context.Context, recipient string, msg Message, priority domain.Priority) SendResult {
		logging.FromContext(ctx).Info("in-app notification stored",
			slog.String("code", "CH_INAPP_STORED"),
			slog.String("recipient", recipient),
		)
		return SendResult{Success: true, ProviderMessageID: providerMessageID("ia")}
	})
}

// RegisterSimulated fills a registry with all simulated providers.
func RegisterSimulated(r *Registry) {
	r.Register(domain.ChannelEmail, SimulatedEmail())
	r.Register(domain.ChannelSMS, SimulatedSMS())
	r.Register(domain.ChannelPush, SimulatedPush())
	r.Register(domain.ChannelInApp, SimulatedInApp())
}
