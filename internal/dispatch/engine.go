package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agrovault/notify/internal/domain"
	"github.com/agrovault/notify/internal/events"
	"github.com/agrovault/notify/internal/logging"
	"github.com/agrovault/notify/internal/schedule"
	"github.com/agrovault/notify/internal/store"
	"github.com/agrovault/notify/internal/webhook"
)

// Engine is the inbound surface of the notification core: submit,
// bulk submit, deferred scheduling with cancellation, webhook status
// inspection and delivery confirmation.
type Engine struct {
	dispatcher *Dispatcher
	scheduler  *schedule.Scheduler
	webhooks   *webhook.Engine
	hub        *events.Hub
	poolSize   int

	archive store.ResultStore // optional

	mu      sync.RWMutex
	results map[string]*domain.Result

	// Webhook fold-back rendezvous, keyed by delivery id. Whichever
	// side arrives first leaves its half: track registers the result
	// awaiting its delivery, the event listener parks a terminal event
	// that beat tracking.
	awaiting  map[string]*domain.Result
	unclaimed map[string]events.Event
}

func NewEngine(dispatcher *Dispatcher, scheduler *schedule.Scheduler, webhooks *webhook.Engine, hub *events.Hub, poolSize int) *Engine {
	return &Engine{
		dispatcher: dispatcher,
		scheduler:  scheduler,
		webhooks:   webhooks,
		hub:        hub,
		poolSize:   poolSize,
		results:    make(map[string]*domain.Result),
		awaiting:   make(map[string]*domain.Result),
		unclaimed:  make(map[string]events.Event),
	}
}

// WithArchive persists resolved results to a store as they complete.
func (e *Engine) WithArchive(archive store.ResultStore) *Engine {
	e.archive = archive
	return e
}

// Start wires the webhook terminal-event listener so a pending webhook
// outcome is folded back into its result when the retry lifecycle
// resolves. It returns when ctx is done.
func (e *Engine) Start(ctx context.Context) {
	sub := &events.Subscriber{
		ID:     "engine-webhook-listener",
		Events: make(chan events.Event, 256),
	}
	e.hub.Subscribe(sub)
	defer e.hub.Unsubscribe(sub.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events:
			if ev.Kind == events.KindWebhookAttempt && ev.Outcome != domain.OutcomePending {
				e.resolveWebhookOutcome(ctx, ev)
			}
		}
	}
}

// Submit accepts one request, fans it out and returns the aggregate
// result. The caller always gets a result, never an error, for
// per-channel failures; only malformed requests error out.
func (e *Engine) Submit(ctx context.Context, req *domain.Request) (*domain.Result, error) {
	if err := e.accept(req); err != nil {
		return nil, err
	}

	result := e.dispatcher.Dispatch(ctx, req, req.Recipient)
	e.track(ctx, result)
	return result, nil
}

// SubmitBulk dispatches the common payload to every recipient through
// the bounded worker pool. No per-recipient failure escapes as an
// error.
func (e *Engine) SubmitBulk(ctx context.Context, recipients []string, common *domain.Request) ([]*domain.Result, BulkSummary, error) {
	if len(recipients) == 0 {
		return nil, BulkSummary{}, fmt.Errorf("bulk submit: %w", domain.ErrNoRecipient)
	}
	common.Recipients = recipients
	if err := e.accept(common); err != nil {
		return nil, BulkSummary{}, err
	}

	results, summary := e.dispatcher.DispatchBulk(ctx, common, recipients, e.poolSize)
	for _, r := range results {
		e.track(ctx, r)
	}
	return results, summary, nil
}

// Schedule defers the request until `at` and returns a tracking id
// immediately. The request is validated now so a malformed request
// fails fast rather than at fire time.
func (e *Engine) Schedule(ctx context.Context, req *domain.Request, at time.Time) (string, error) {
	if err := e.accept(req); err != nil {
		return "", err
	}

	trackingID := e.scheduler.Schedule(at, func(ctx context.Context) {
		result := e.dispatcher.Dispatch(ctx, req, req.Recipient)
		e.track(ctx, result)
	})

	logging.FromContext(ctx).Info("notification scheduled",
		slog.String("code", "DSP_SCHEDULED"),
		slog.String("tracking_id", trackingID),
		slog.Time("at", at),
	)
	return trackingID, nil
}

// CancelScheduled stops a deferred request before it fires. False
// means the id is unknown or the request already fired.
func (e *Engine) CancelScheduled(trackingID string) bool {
	return e.scheduler.Cancel(trackingID)
}

// WebhookStatus returns a read-only snapshot of a webhook delivery.
func (e *Engine) WebhookStatus(id string) (domain.WebhookDelivery, bool) {
	return e.webhooks.Status(id)
}

// CancelWebhook aborts a non-terminal webhook delivery.
func (e *Engine) CancelWebhook(id string) bool {
	return e.webhooks.Cancel(id)
}

// Result looks up a tracked result by notification id.
func (e *Engine) Result(id string) (*domain.Result, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.results[id]
	return r, ok
}

// Confirm applies an external delivery-confirmation callback to a
// tracked result.
func (e *Engine) Confirm(ctx context.Context, id string, status domain.ResultStatus) bool {
	e.mu.Lock()
	r, ok := e.results[id]
	if !ok {
		e.mu.Unlock()
		return false
	}
	applied := r.Confirm(status)
	e.mu.Unlock()

	if applied && e.archive != nil {
		if err := e.archive.SaveResult(ctx, r); err != nil {
			logging.FromContext(ctx).Warn("failed to archive confirmed result",
				slog.String("code", "DB_ERROR"), slog.Any("error", err))
		}
	}
	return applied
}

// Evict drops terminal results completed before cutoff along with any
// parked fold-back events of the same age. Pending results, including
// those still awaiting a webhook delivery, are never touched. Returns
// the number of results evicted.
func (e *Engine) Evict(cutoff time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for key, r := range e.results {
		if r.Status.Terminal() && !r.CompletedAt.IsZero() && r.CompletedAt.Before(cutoff) {
			delete(e.results, key)
			n++
		}
	}
	for id, ev := range e.unclaimed {
		if ev.Timestamp.Before(cutoff) {
			delete(e.unclaimed, id)
		}
	}
	return n
}

// StartSweeper evicts resolved results and webhook deliveries older
// than retention, every interval, until ctx is done.
func (e *Engine) StartSweeper(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cutoff := now.Add(-retention)
			evicted := e.Evict(cutoff)
			if e.webhooks != nil {
				evicted += e.webhooks.Evict(cutoff)
			}
			if evicted > 0 {
				logging.FromContext(ctx).Info("resolved records evicted",
					slog.String("code", "DSP_EVICT"),
					slog.Int("count", evicted),
				)
			}
		}
	}
}

// accept normalizes and stamps a request at the acceptance boundary.
func (e *Engine) accept(req *domain.Request) error {
	if err := req.Normalize(); err != nil {
		return fmt.Errorf("reject notification: %w", err)
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	return nil
}

func (e *Engine) track(ctx context.Context, result *domain.Result) {
	e.mu.Lock()
	// Bulk dispatch reuses one notification id across recipients; key
	// by id plus recipient when the id is already taken.
	key := result.ID
	if existing, ok := e.results[key]; ok && existing.Recipient != result.Recipient {
		key = result.ID + ":" + result.Recipient
	}
	e.results[key] = result

	// A pending webhook outcome carries its delivery id; register the
	// result for fold-back, or apply the terminal event that already
	// arrived while this dispatch was still returning.
	if out, ok := result.Outcomes[domain.ChannelWebhook]; ok &&
		out.Status == domain.OutcomePending && out.ProviderMessageID != "" {
		if ev, done := e.unclaimed[out.ProviderMessageID]; done {
			delete(e.unclaimed, out.ProviderMessageID)
			applyWebhookEvent(result, ev)
		} else {
			e.awaiting[out.ProviderMessageID] = result
		}
	}
	e.mu.Unlock()

	if e.archive != nil {
		if err := e.archive.SaveResult(ctx, result); err != nil {
			logging.FromContext(ctx).Warn("failed to archive result",
				slog.String("code", "DB_ERROR"), slog.Any("error", err))
		}
	}
}

// resolveWebhookOutcome folds a terminal delivery event back into the
// result that handed off that exact delivery. Correlation is by
// delivery id: a notification id is not unique across a bulk dispatch,
// and one recipient's outcome must never resolve another's result. An
// event that beats tracking is parked until track claims it.
func (e *Engine) resolveWebhookOutcome(ctx context.Context, ev events.Event) {
	if ev.DeliveryID == "" {
		return
	}

	e.mu.Lock()
	r, ok := e.awaiting[ev.DeliveryID]
	if !ok {
		e.unclaimed[ev.DeliveryID] = ev
		e.mu.Unlock()
		return
	}
	delete(e.awaiting, ev.DeliveryID)
	applyWebhookEvent(r, ev)
	e.mu.Unlock()

	if e.archive != nil {
		if err := e.archive.SaveResult(ctx, r); err != nil {
			logging.FromContext(ctx).Warn("failed to archive resolved result",
				slog.String("code", "DB_ERROR"), slog.Any("error", err))
		}
	}
}

// applyWebhookEvent replaces the pending webhook outcome with the
// terminal one and re-derives the aggregate. Caller holds e.mu.
func applyWebhookEvent(r *domain.Result, ev events.Event) {
	current, ok := r.Outcomes[domain.ChannelWebhook]
	if !ok || current.Status != domain.OutcomePending || current.ProviderMessageID != ev.DeliveryID {
		return
	}
	r.Outcomes[domain.ChannelWebhook] = domain.ChannelOutcome{
		Channel:           domain.ChannelWebhook,
		Status:            ev.Outcome,
		ProviderMessageID: current.ProviderMessageID,
		Error:             ev.Error,
		CompletedAt:       ev.Timestamp,
	}
	r.Resolve()
}
