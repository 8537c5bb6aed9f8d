// Package webhook drives a bounded-retry state machine for outbound
// webhook deliveries: pending → delivered | failed | cancelled, with a
// pending self-loop on retryable failures while attempts remain.
package webhook

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/agrovault/notify/internal/broker"
	"github.com/agrovault/notify/internal/domain"
	"github.com/agrovault/notify/internal/events"
	"github.com/agrovault/notify/internal/httpclient"
	"github.com/agrovault/notify/internal/logging"
	"github.com/agrovault/notify/internal/retry"
	"github.com/agrovault/notify/internal/schedule"
	"github.com/agrovault/notify/internal/store"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Engine owns every WebhookDelivery for the duration of its retry
// lifecycle. All transitions happen under the engine's lock; callers
// only ever see read-only snapshots.
type Engine struct {
	client    *httpclient.Client
	policy    *retry.Policy
	scheduler *schedule.Scheduler
	hub       *events.Hub

	// Optional collaborators; nil disables them.
	deadLetter broker.Publisher
	archive    store.AttemptStore

	mu         sync.Mutex
	deliveries map[string]*domain.WebhookDelivery
	retries    map[string]string // delivery id -> scheduler tracking id
}

func NewEngine(client *httpclient.Client, policy *retry.Policy, scheduler *schedule.Scheduler, hub *events.Hub) *Engine {
	return &Engine{
		client:     client,
		policy:     policy,
		scheduler:  scheduler,
		hub:        hub,
		deliveries: make(map[string]*domain.WebhookDelivery),
		retries:    make(map[string]string),
	}
}

// WithDeadLetter publishes exhausted deliveries to the dead-letter
// subject before they go terminal.
func (e *Engine) WithDeadLetter(pub broker.Publisher) *Engine {
	e.deadLetter = pub
	return e
}

// WithArchive records every attempt in a persistent store.
func (e *Engine) WithArchive(archive store.AttemptStore) *Engine {
	e.archive = archive
	return e
}

// Enqueue registers a delivery and starts its first attempt
// asynchronously. It returns the delivery id immediately.
func (e *Engine) Enqueue(ctx context.Context, d *domain.WebhookDelivery) string {
	if d.ID == "" {
		id, err := gonanoid.Generate(idAlphabet, 16)
		if err != nil {
			id = time.Now().Format("20060102150405.000000000")
		}
		d.ID = "wh_" + id
	}
	if d.Method == "" {
		d.Method = http.MethodPost
	}
	if d.MaxAttempts <= 0 {
		d.MaxAttempts = e.policy.MaxAttempts()
	}
	d.State = domain.DeliveryPending
	d.CreatedAt = time.Now()

	e.mu.Lock()
	e.deliveries[d.ID] = d
	e.mu.Unlock()

	logging.FromContext(ctx).Info("webhook delivery enqueued",
		slog.String("code", "WH_ENQUEUED"),
		slog.String("delivery_id", d.ID),
	)

	// Attempts run on the engine's lifetime, not the caller's. The
	// submitting request context is often cancelled the moment the
	// handler returns, and the delivery must outlive it; retries
	// already run on the scheduler's base context.
	go e.attempt(e.scheduler.Context(), d.ID)
	return d.ID
}

// Status returns a read-only snapshot of a delivery.
func (e *Engine) Status(id string) (domain.WebhookDelivery, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.deliveries[id]
	if !ok {
		return domain.WebhookDelivery{}, false
	}
	return d.Snapshot(), true
}

// Cancel transitions a non-terminal delivery to cancelled and
// suppresses any already-scheduled retry. It returns false when the
// delivery is unknown or already terminal.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	d, ok := e.deliveries[id]
	if !ok || d.State.Terminal() {
		e.mu.Unlock()
		return false
	}
	d.State = domain.DeliveryCancelled
	trackingID, scheduled := e.retries[id]
	delete(e.retries, id)
	snap := d.Snapshot()
	e.mu.Unlock()

	if scheduled {
		e.scheduler.Cancel(trackingID)
	}
	// Cancellation is terminal too; anyone folding delivery outcomes
	// back into an aggregate needs to hear about it.
	e.publishAttempt(&snap)
	slog.Info("webhook delivery cancelled",
		slog.String("code", "WH_CANCELLED"),
		slog.String("delivery_id", id),
	)
	return true
}

// Evict drops terminal deliveries whose last activity predates cutoff,
// so a long-running engine does not accumulate resolved records
// forever. In-flight deliveries are never touched. Returns the number
// evicted.
func (e *Engine) Evict(cutoff time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for id, d := range e.deliveries {
		if !d.State.Terminal() {
			continue
		}
		last := d.LastAttemptAt
		if last.IsZero() {
			last = d.CreatedAt
		}
		if last.Before(cutoff) {
			delete(e.deliveries, id)
			n++
		}
	}
	return n
}

// attempt performs one delivery attempt. The HTTP call runs outside
// the lock; the resulting transition is applied atomically by
// recordAttempt, which also detects a cancel that raced the call.
func (e *Engine) attempt(ctx context.Context, id string) {
	e.mu.Lock()
	d, ok := e.deliveries[id]
	if !ok || d.State != domain.DeliveryPending {
		e.mu.Unlock()
		return
	}
	delete(e.retries, id)
	method := d.Method
	url := d.URL
	payload := append([]byte(nil), d.Payload...)
	headers := make(map[string]string, len(d.Headers)+1)
	for k, v := range d.Headers {
		headers[k] = v
	}
	if d.IdempotencyKey != "" {
		headers["X-Idempotency-Key"] = d.IdempotencyKey
	}
	e.mu.Unlock()

	ctx = logging.WithNotificationID(ctx, id)
	l := logging.FromContext(ctx)

	resp, err := e.client.Do(ctx, method, url, headers, payload)

	var httpResp *domain.HTTPResponse
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	} else {
		httpResp = &domain.HTTPResponse{
			StatusCode: resp.StatusCode,
			Headers:    resp.Headers,
			Body:       resp.Body,
		}
	}

	state, attempt := e.recordAttempt(ctx, id, httpResp, errMsg)

	switch state {
	case domain.DeliveryDelivered:
		l.Info("webhook delivered",
			slog.String("code", "WH_DELIVERED"),
			slog.Int("attempt", attempt),
		)
	case domain.DeliveryFailed:
		l.Error("webhook delivery exhausted",
			slog.String("code", "WH_EXHAUSTED"),
			slog.Int("attempts", attempt),
		)
	case domain.DeliveryPending:
		l.Warn("webhook attempt failed, retry scheduled",
			slog.String("code", "WH_RETRY"),
			slog.Int("attempt", attempt),
			slog.String("error", errMsg),
		)
	case domain.DeliveryCancelled:
		// Cancel won the race against the in-flight attempt.
	}
}

// recordAttempt applies one attempt outcome to the state machine and
// returns the resulting state. A 2xx response transitions to
// delivered; anything else consumes an attempt and either exhausts the
// delivery or schedules the next try with backoff.
func (e *Engine) recordAttempt(ctx context.Context, id string, resp *domain.HTTPResponse, errMsg string) (domain.DeliveryState, int) {
	e.mu.Lock()
	d, ok := e.deliveries[id]
	if !ok {
		e.mu.Unlock()
		return domain.DeliveryCancelled, 0
	}
	if d.State.Terminal() {
		// Cancelled (or otherwise finished) while the attempt was in
		// flight; the outcome is discarded.
		state, attempts := d.State, d.AttemptCount
		e.mu.Unlock()
		return state, attempts
	}

	d.AttemptCount++
	d.LastAttemptAt = time.Now()
	d.LastResponse = resp
	d.LastError = errMsg

	delivered := resp != nil && resp.StatusCode >= 200 && resp.StatusCode < 300

	switch {
	case delivered:
		d.State = domain.DeliveryDelivered
	case d.AttemptCount >= d.MaxAttempts:
		d.State = domain.DeliveryFailed
	default:
		delay := e.policy.NextDelay(d.AttemptCount)
		d.NextRetryAt = time.Now().Add(delay)
		trackingID := e.scheduler.Schedule(d.NextRetryAt, func(ctx context.Context) {
			e.attempt(ctx, id)
		})
		e.retries[id] = trackingID
	}
	snap := d.Snapshot()
	e.mu.Unlock()

	e.publishAttempt(&snap)
	if e.archive != nil {
		if err := e.archive.SaveAttempt(ctx, &snap, resp, errMsg); err != nil {
			logging.FromContext(ctx).Warn("failed to archive webhook attempt",
				slog.String("code", "DB_ERROR"), slog.Any("error", err))
		}
	}
	if snap.State == domain.DeliveryFailed {
		e.publishDeadLetter(ctx, &snap)
	}
	return snap.State, snap.AttemptCount
}

func (e *Engine) publishAttempt(snap *domain.WebhookDelivery) {
	if e.hub == nil {
		return
	}
	outcome := domain.OutcomePending
	switch snap.State {
	case domain.DeliveryDelivered:
		outcome = domain.OutcomeSent
	case domain.DeliveryFailed, domain.DeliveryCancelled:
		outcome = domain.OutcomeFailed
	}
	e.hub.Publish(events.Event{
		Kind:           events.KindWebhookAttempt,
		NotificationID: snap.NotificationID,
		DeliveryID:     snap.ID,
		Channel:        domain.ChannelWebhook,
		Outcome:        outcome,
		Error:          snap.LastError,
		Attempt:        snap.AttemptCount,
		Timestamp:      time.Now(),
	})
}

func (e *Engine) publishDeadLetter(ctx context.Context, snap *domain.WebhookDelivery) {
	if e.deadLetter == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := e.deadLetter.Publish(ctx, broker.SubjectWebhookDead, data); err != nil {
		logging.FromContext(ctx).Error("failed to publish dead-lettered delivery",
			slog.String("code", "BROKER_ERROR"), slog.Any("error", err))
	}
}
