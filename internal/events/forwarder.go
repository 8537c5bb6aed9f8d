package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/agrovault/notify/internal/broker"
)

// Forward relays hub events to an external publisher until ctx is
// done. A failed publish is logged and dropped; the event stream is
// observability, not a source of truth.
func Forward(ctx context.Context, hub *Hub, pub broker.Publisher, subject string) {
	sub := &Subscriber{
		ID:     "broker-forwarder",
		Events: make(chan Event, 256),
	}
	hub.Subscribe(sub)
	defer hub.Unsubscribe(sub.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := pub.Publish(ctx, subject, data); err != nil {
				slog.Warn("failed to forward event",
					slog.String("code", "EVT_FORWARD_ERR"),
					slog.String("subject", subject),
					slog.Any("error", err),
				)
			}
		}
	}
}
