package channel

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/agrovault/notify/internal/domain"
)

func TestSimulatedProvidersSucceed(t *testing.T) {
	r := NewRegistry()
	RegisterSimulated(r)

	for _, ch := range []domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelPush, domain.ChannelInApp} {
		transport, ok := r.Lookup(ch)
		if !ok {
			t.Fatalf("channel %s not registered", ch)
		}
		res := transport.Send(context.Background(), "farmer@example.com", Message{Title: "t", Body: "b"}, domain.PriorityNormal)
		if !res.Success {
			t.Errorf("channel %s failed: %s", ch, res.Error)
		}
		if res.ProviderMessageID == "" {
			t.Errorf("channel %s returned no provider message id", ch)
		}
	}
}

func TestSimulatedEmailHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := SimulatedEmail().Send(ctx, "farmer@example.com", Message{Body: "b"}, domain.PriorityNormal)
	if res.Success {
		t.Fatal("expected cancelled send to fail")
	}
	if !strings.Contains(res.Error, "cancelled") {
		t.Errorf("error = %q, want cancellation reason", res.Error)
	}
}

func TestSimulatedSMSReportsCost(t *testing.T) {
	res := SimulatedSMS().Send(context.Background(), "+15550100", Message{Body: "b"}, domain.PriorityHigh)
	if !res.Success {
		t.Fatalf("sms failed: %s", res.Error)
	}
	if res.CostCents <= 0 {
		t.Errorf("expected positive sms cost, got %d", res.CostCents)
	}
}
