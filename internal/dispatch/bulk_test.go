package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agrovault/notify/internal/channel"
	"github.com/agrovault/notify/internal/domain"
)

func TestBulkMiddleRecipientFails(t *testing.T) {
	registry := channel.NewRegistry()
	registry.Register(domain.ChannelEmail, channel.TransportFunc(func(ctx context.Context, recipient string, msg channel.Message, priority domain.Priority) channel.SendResult {
		if recipient == "u2" {
			return channel.SendResult{Success: false, Error: "mailbox rejected"}
		}
		return channel.SendResult{Success: true}
	}))
	d, _ := testDispatcher(registry)

	req := normalized(t, &domain.Request{
		Recipients: []string{"u1", "u2", "u3"},
		Body:       "hi",
		Channels:   []domain.Channel{domain.ChannelEmail},
	})

	results, summary := d.DispatchBulk(context.Background(), req, []string{"u1", "u2", "u3"}, 2)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	wantStatuses := []domain.ResultStatus{domain.StatusSent, domain.StatusFailed, domain.StatusSent}
	for i, want := range wantStatuses {
		if results[i].Status != want {
			t.Errorf("results[%d].Status = %s, want %s", i, results[i].Status, want)
		}
	}
	if summary.Sent != 2 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 2 sent / 1 failed", summary)
	}
}

func TestBulkResultsInRecipientOrder(t *testing.T) {
	registry := channel.NewRegistry()
	registry.Register(domain.ChannelEmail, succeedingTransport("e"))
	d, _ := testDispatcher(registry)

	recipients := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	req := normalized(t, &domain.Request{
		Recipients: recipients,
		Body:       "hi",
		Channels:   []domain.Channel{domain.ChannelEmail},
	})

	results, _ := d.DispatchBulk(context.Background(), req, recipients, 3)

	for i, r := range results {
		if r.Recipient != recipients[i] {
			t.Errorf("results[%d].Recipient = %s, want %s", i, r.Recipient, recipients[i])
		}
	}
}

func TestBulkConcurrencyBoundedByPool(t *testing.T) {
	var inFlight, peak atomic.Int32
	var mu sync.Mutex

	registry := channel.NewRegistry()
	registry.Register(domain.ChannelEmail, channel.TransportFunc(func(ctx context.Context, recipient string, msg channel.Message, priority domain.Priority) channel.SendResult {
		cur := inFlight.Add(1)
		mu.Lock()
		if cur > peak.Load() {
			peak.Store(cur)
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		return channel.SendResult{Success: true}
	}))
	d, _ := testDispatcher(registry)

	recipients := make([]string, 12)
	for i := range recipients {
		recipients[i] = string(rune('a' + i))
	}
	req := normalized(t, &domain.Request{
		Recipients: recipients,
		Body:       "hi",
		Channels:   []domain.Channel{domain.ChannelEmail},
	})

	d.DispatchBulk(context.Background(), req, recipients, 3)

	if p := peak.Load(); p > 3 {
		t.Errorf("expected at most 3 concurrent dispatches, saw %d", p)
	}
}

func TestBulkEmptyRecipientListIsHarmless(t *testing.T) {
	registry := channel.NewRegistry()
	d, _ := testDispatcher(registry)

	req := normalized(t, &domain.Request{
		Recipients: []string{"x"},
		Body:       "hi",
		Channels:   []domain.Channel{domain.ChannelEmail},
	})

	results, summary := d.DispatchBulk(context.Background(), req, nil, 4)
	if len(results) != 0 || summary.Total != 0 {
		t.Errorf("expected empty results for empty recipient list, got %d", len(results))
	}
}
