package dispatch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agrovault/notify/internal/channel"
	"github.com/agrovault/notify/internal/domain"
	"github.com/agrovault/notify/internal/events"
	"github.com/agrovault/notify/internal/httpclient"
	"github.com/agrovault/notify/internal/retry"
	"github.com/agrovault/notify/internal/schedule"
	"github.com/agrovault/notify/internal/template"
	"github.com/agrovault/notify/internal/webhook"
)

func testEngine(t *testing.T, registry *channel.Registry) *Engine {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := events.NewHub()
	scheduler := schedule.New(ctx)
	t.Cleanup(scheduler.Stop)

	cfg := retry.Config{
		MaxAttempts:       2,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		JitterFactor:      0,
	}
	wh := webhook.NewEngine(httpclient.New(time.Second), retry.NewPolicy(cfg), scheduler, hub)

	store := template.NewStore()
	dispatcher := NewDispatcher(registry, store, wh, hub, 100*time.Millisecond)
	engine := NewEngine(dispatcher, scheduler, wh, hub, 4)
	go engine.Start(ctx)
	return engine
}

func TestSubmitRejectsMalformedRequest(t *testing.T) {
	registry := channel.NewRegistry()
	e := testEngine(t, registry)

	_, err := e.Submit(context.Background(), &domain.Request{Recipient: "u1", Body: "x"})
	if !errors.Is(err, domain.ErrNoChannels) {
		t.Errorf("expected ErrNoChannels, got %v", err)
	}
}

func TestSubmitReturnsTrackedResult(t *testing.T) {
	registry := channel.NewRegistry()
	registry.Register(domain.ChannelEmail, succeedingTransport("e1"))
	e := testEngine(t, registry)

	result, err := e.Submit(context.Background(), &domain.Request{
		Recipient: "u1",
		Body:      "hi",
		Channels:  []domain.Channel{domain.ChannelEmail},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.Status != domain.StatusSent {
		t.Errorf("expected sent, got %s", result.Status)
	}

	tracked, ok := e.Result(result.ID)
	if !ok {
		t.Fatal("expected result to be tracked by id")
	}
	if tracked.Status != domain.StatusSent {
		t.Errorf("tracked status = %s, want sent", tracked.Status)
	}
}

func TestSubmitBulkNoErrorEscapes(t *testing.T) {
	registry := channel.NewRegistry()
	registry.Register(domain.ChannelEmail, channel.TransportFunc(func(ctx context.Context, recipient string, msg channel.Message, priority domain.Priority) channel.SendResult {
		if recipient == "u2" {
			panic("provider blew up")
		}
		return channel.SendResult{Success: true}
	}))
	e := testEngine(t, registry)

	results, summary, err := e.SubmitBulk(context.Background(), []string{"u1", "u2", "u3"}, &domain.Request{
		Body:     "hi",
		Channels: []domain.Channel{domain.ChannelEmail},
	})
	if err != nil {
		t.Fatalf("SubmitBulk failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if summary.Sent != 2 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 2 sent / 1 failed", summary)
	}
}

func TestScheduleFiresAndDispatches(t *testing.T) {
	var sends atomic.Int32
	registry := channel.NewRegistry()
	registry.Register(domain.ChannelEmail, channel.TransportFunc(func(ctx context.Context, recipient string, msg channel.Message, priority domain.Priority) channel.SendResult {
		sends.Add(1)
		return channel.SendResult{Success: true}
	}))
	e := testEngine(t, registry)

	req := &domain.Request{
		Recipient: "u1",
		Body:      "hi",
		Channels:  []domain.Channel{domain.ChannelEmail},
	}
	id, err := e.Schedule(context.Background(), req, time.Now().Add(20*time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected a tracking id")
	}

	deadline := time.Now().Add(2 * time.Second)
	for sends.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if sends.Load() != 1 {
		t.Fatalf("expected exactly 1 dispatch, got %d", sends.Load())
	}

	if e.CancelScheduled(id) {
		t.Error("expected CancelScheduled after fire to return false")
	}
}

func TestCancelScheduledPreventsDispatch(t *testing.T) {
	var sends atomic.Int32
	registry := channel.NewRegistry()
	registry.Register(domain.ChannelEmail, channel.TransportFunc(func(ctx context.Context, recipient string, msg channel.Message, priority domain.Priority) channel.SendResult {
		sends.Add(1)
		return channel.SendResult{Success: true}
	}))
	e := testEngine(t, registry)

	id, err := e.Schedule(context.Background(), &domain.Request{
		Recipient: "u1",
		Body:      "hi",
		Channels:  []domain.Channel{domain.ChannelEmail},
	}, time.Now().Add(60*time.Millisecond))
	if err != nil {
		t.Fatalf("Schedule failed: %v", err)
	}

	if !e.CancelScheduled(id) {
		t.Fatal("expected CancelScheduled before fire to return true")
	}

	time.Sleep(120 * time.Millisecond)
	if sends.Load() != 0 {
		t.Error("cancelled notification must never reach the dispatcher")
	}
}

func TestWebhookOutcomeFoldedBackIntoResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := channel.NewRegistry()
	e := testEngine(t, registry)

	result, err := e.Submit(context.Background(), &domain.Request{
		Recipient:  "u1",
		Body:       "hi",
		WebhookURL: server.URL,
		Channels:   []domain.Channel{domain.ChannelWebhook},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if result.Status != domain.StatusPending {
		t.Fatalf("expected pending aggregate at submit time, got %s", result.Status)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		tracked, _ := e.Result(result.ID)
		if tracked.Status == domain.StatusSent {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	tracked, _ := e.Result(result.ID)
	t.Fatalf("webhook delivery never resolved the result, status = %s", tracked.Status)
}

func TestBulkWebhookOutcomesResolvePerRecipient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := channel.NewRegistry()
	e := testEngine(t, registry)

	// Bulk dispatch shares one notification id across recipients, so
	// each delivery must resolve its own recipient's result.
	results, _, err := e.SubmitBulk(context.Background(), []string{"r1", "r2", "r3"}, &domain.Request{
		Body:       "hi",
		WebhookURL: server.URL,
		Channels:   []domain.Channel{domain.ChannelWebhook},
	})
	if err != nil {
		t.Fatalf("SubmitBulk failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		done := 0
		for _, r := range results {
			if r.Status == domain.StatusSent {
				done++
			}
		}
		if done == len(results) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	for i, r := range results {
		if r.Status != domain.StatusSent {
			t.Errorf("results[%d] recipient %s status = %s, want sent", i, r.Recipient, r.Status)
		}
	}
}

func TestWebhookOutcomeBeatingTrackingStillResolves(t *testing.T) {
	// A closed listener refuses connections instantly, so the delivery
	// can go terminal before Submit has even registered the result.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	registry := channel.NewRegistry()
	e := testEngine(t, registry)

	result, err := e.Submit(context.Background(), &domain.Request{
		Recipient:  "u1",
		Body:       "hi",
		WebhookURL: url,
		Channels:   []domain.Channel{domain.ChannelWebhook},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for result.Status != domain.StatusFailed && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if result.Status != domain.StatusFailed {
		t.Fatalf("result stranded in %s, want failed", result.Status)
	}
	if out := result.Outcomes[domain.ChannelWebhook]; out.Status != domain.OutcomeFailed {
		t.Errorf("webhook outcome = %s, want failed", out.Status)
	}
}

func TestWebhookStatusAndCancelSurface(t *testing.T) {
	// Slow server keeps the first attempt in flight long enough to
	// observe the pending state.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	registry := channel.NewRegistry()
	e := testEngine(t, registry)

	result, err := e.Submit(context.Background(), &domain.Request{
		Recipient:  "u1",
		Body:       "hi",
		WebhookURL: server.URL,
		Channels:   []domain.Channel{domain.ChannelWebhook},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	deliveryID := result.Outcomes[domain.ChannelWebhook].ProviderMessageID
	snap, ok := e.WebhookStatus(deliveryID)
	if !ok {
		t.Fatal("expected webhook status for the delivery id")
	}
	if !snap.State.Terminal() {
		if !e.CancelWebhook(deliveryID) {
			t.Error("expected CancelWebhook of pending delivery to return true")
		}
	}

	if _, ok := e.WebhookStatus("unknown"); ok {
		t.Error("expected unknown delivery id to report not found")
	}
}

func TestEvictDropsResolvedResultsAndSparesPending(t *testing.T) {
	// Slow receiver keeps the webhook delivery, and with it the
	// aggregate result, pending through the eviction pass.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := channel.NewRegistry()
	registry.Register(domain.ChannelEmail, succeedingTransport("e1"))
	e := testEngine(t, registry)

	resolved, err := e.Submit(context.Background(), &domain.Request{
		Recipient: "u1",
		Body:      "x",
		Channels:  []domain.Channel{domain.ChannelEmail},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	pending, err := e.Submit(context.Background(), &domain.Request{
		Recipient:  "u2",
		Body:       "x",
		WebhookURL: server.URL,
		Channels:   []domain.Channel{domain.ChannelWebhook},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if n := e.Evict(time.Now().Add(time.Minute)); n != 1 {
		t.Errorf("evicted %d results, want 1", n)
	}
	if _, ok := e.Result(resolved.ID); ok {
		t.Error("resolved result survived eviction")
	}
	if _, ok := e.Result(pending.ID); !ok {
		t.Error("pending result was evicted")
	}
}

func TestConfirmDeliveryCallback(t *testing.T) {
	registry := channel.NewRegistry()
	registry.Register(domain.ChannelEmail, succeedingTransport("e1"))
	e := testEngine(t, registry)

	result, err := e.Submit(context.Background(), &domain.Request{
		Recipient: "u1",
		Body:      "hi",
		Channels:  []domain.Channel{domain.ChannelEmail},
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if !e.Confirm(context.Background(), result.ID, domain.StatusDelivered) {
		t.Error("expected confirmation over sent result to apply")
	}
	tracked, _ := e.Result(result.ID)
	if tracked.Status != domain.StatusDelivered {
		t.Errorf("expected delivered, got %s", tracked.Status)
	}

	if e.Confirm(context.Background(), "unknown", domain.StatusDelivered) {
		t.Error("expected confirmation of unknown result to be rejected")
	}
}
