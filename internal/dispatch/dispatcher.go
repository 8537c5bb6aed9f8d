// Package dispatch fans a notification request out across its
// requested channels concurrently and aggregates the per-channel
// outcomes into a single result.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agrovault/notify/internal/channel"
	"github.com/agrovault/notify/internal/domain"
	"github.com/agrovault/notify/internal/events"
	"github.com/agrovault/notify/internal/logging"
	"github.com/agrovault/notify/internal/template"
	"github.com/agrovault/notify/internal/webhook"
)

// webhookEnqueuer is the slice of the retry engine the dispatcher
// needs: hand off a delivery, get back its id.
type webhookEnqueuer interface {
	Enqueue(ctx context.Context, d *domain.WebhookDelivery) string
}

// Dispatcher turns one request into one result. Channel sends run in
// independent goroutines; a failure or panic in one channel never
// affects another. Webhook sends are handed to the retry engine
// instead of a single blocking call.
type Dispatcher struct {
	registry    *channel.Registry
	renderer    template.Renderer
	webhooks    webhookEnqueuer
	hub         *events.Hub
	sendTimeout time.Duration
}

func NewDispatcher(registry *channel.Registry, renderer template.Renderer, webhooks *webhook.Engine, hub *events.Hub, sendTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		registry:    registry,
		renderer:    renderer,
		webhooks:    webhooks,
		hub:         hub,
		sendTimeout: sendTimeout,
	}
}

// Dispatch runs the request to completion for recipient. The request
// must already be normalized. The returned result always has one
// outcome per requested channel; per-channel failures are data, never
// an error return.
func (d *Dispatcher) Dispatch(ctx context.Context, req *domain.Request, recipient string) *domain.Result {
	ctx = logging.WithNotificationID(ctx, req.ID)
	ctx = logging.WithRecipient(ctx, recipient)
	l := logging.FromContext(ctx)

	result := domain.NewResult(req.ID, recipient)

	if req.Expired(time.Now()) {
		result.Error = "notification expired before dispatch"
		result.Resolve()
		l.Warn("notification expired", slog.String("code", "DSP_EXPIRED"))
		d.publishAggregate(result)
		return result
	}

	// Render once, before fanning out. A render failure aborts every
	// channel with a single shared error.
	msg, err := d.resolveMessage(req)
	if err != nil {
		result.Error = err.Error()
		result.Resolve()
		l.Error("template resolution failed",
			slog.String("code", "DSP_TEMPLATE_ERR"),
			slog.Any("error", err),
		)
		d.publishAggregate(result)
		return result
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, ch := range req.Channels {
		wg.Add(1)
		go func(ch domain.Channel) {
			defer wg.Done()
			outcome := d.sendOne(ctx, req, recipient, ch, msg)

			mu.Lock()
			result.Outcomes[ch] = outcome
			mu.Unlock()

			d.publishOutcome(req.ID, recipient, outcome)
		}(ch)
	}
	wg.Wait()

	result.Resolve()
	l.Info("notification dispatched",
		slog.String("code", "DSP_DONE"),
		slog.String("status", string(result.Status)),
		slog.Int("channels", len(result.Outcomes)),
	)
	d.publishAggregate(result)
	return result
}

func (d *Dispatcher) resolveMessage(req *domain.Request) (channel.Message, error) {
	msg := channel.Message{Title: req.Title, Body: req.Body, Type: req.Type}
	if req.TemplateID == "" {
		return msg, nil
	}
	rendered, err := d.renderer.Render(req.TemplateID, req.Variables)
	if err != nil {
		return channel.Message{}, fmt.Errorf("resolve template: %w", err)
	}
	msg.Title = rendered.Title
	msg.Body = rendered.Body
	return msg, nil
}

// sendOne produces the outcome for a single channel. Panics in a
// transport are contained here so one channel cannot take down the
// rest of the fan-out.
func (d *Dispatcher) sendOne(ctx context.Context, req *domain.Request, recipient string, ch domain.Channel, msg channel.Message) (outcome domain.ChannelOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = domain.ChannelOutcome{
				Channel:     ch,
				Status:      domain.OutcomeFailed,
				Error:       fmt.Sprintf("transport panic: %v", r),
				CompletedAt: time.Now(),
			}
		}
	}()

	if ch == domain.ChannelWebhook {
		return d.handOffWebhook(ctx, req, msg)
	}

	transport, ok := d.registry.Lookup(ch)
	if !ok {
		return domain.ChannelOutcome{
			Channel:     ch,
			Status:      domain.OutcomeFailed,
			Error:       fmt.Sprintf("no transport registered for channel %s", ch),
			CompletedAt: time.Now(),
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	res := transport.Send(sendCtx, recipient, msg, req.Priority)
	outcome = domain.ChannelOutcome{
		Channel:           ch,
		ProviderMessageID: res.ProviderMessageID,
		CostCents:         res.CostCents,
		CompletedAt:       time.Now(),
	}
	if res.Success {
		outcome.Status = domain.OutcomeSent
	} else {
		outcome.Status = domain.OutcomeFailed
		outcome.Error = res.Error
		if outcome.Error == "" && sendCtx.Err() != nil {
			outcome.Error = "transport timed out"
		}
	}
	return outcome
}

// handOffWebhook enqueues the delivery with the retry engine and
// records a pending outcome carrying the delivery id.
func (d *Dispatcher) handOffWebhook(ctx context.Context, req *domain.Request, msg channel.Message) domain.ChannelOutcome {
	if req.WebhookURL == "" {
		return domain.ChannelOutcome{
			Channel:     domain.ChannelWebhook,
			Status:      domain.OutcomeFailed,
			Error:       "request has no webhook url",
			CompletedAt: time.Now(),
		}
	}

	idemKey := req.IdempotencyKey()
	payload, err := json.Marshal(struct {
		NotificationID string `json:"notification_id"`
		IdempotencyKey string `json:"idempotency_key"`
		Type           string `json:"type"`
		Title          string `json:"title"`
		Body           string `json:"body"`
	}{req.ID, idemKey, req.Type, msg.Title, msg.Body})
	if err != nil {
		return domain.ChannelOutcome{
			Channel:     domain.ChannelWebhook,
			Status:      domain.OutcomeFailed,
			Error:       fmt.Sprintf("encode webhook payload: %v", err),
			CompletedAt: time.Now(),
		}
	}

	deliveryID := d.webhooks.Enqueue(ctx, &domain.WebhookDelivery{
		NotificationID: req.ID,
		URL:            req.WebhookURL,
		Payload:        payload,
		IdempotencyKey: idemKey,
		MaxAttempts:    req.MaxRetries,
	})

	return domain.ChannelOutcome{
		Channel:           domain.ChannelWebhook,
		Status:            domain.OutcomePending,
		ProviderMessageID: deliveryID,
		CompletedAt:       time.Now(),
	}
}

func (d *Dispatcher) publishOutcome(notificationID, recipient string, outcome domain.ChannelOutcome) {
	if d.hub == nil {
		return
	}
	d.hub.Publish(events.Event{
		Kind:           events.KindChannelOutcome,
		NotificationID: notificationID,
		Recipient:      recipient,
		Channel:        outcome.Channel,
		Outcome:        outcome.Status,
		Error:          outcome.Error,
		Timestamp:      time.Now(),
	})
}

func (d *Dispatcher) publishAggregate(result *domain.Result) {
	if d.hub == nil {
		return
	}
	d.hub.Publish(events.Event{
		Kind:           events.KindAggregate,
		NotificationID: result.ID,
		Recipient:      result.Recipient,
		Aggregate:      result.Status,
		Error:          result.Error,
		Timestamp:      time.Now(),
	})
}
