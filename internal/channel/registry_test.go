package channel

import (
	"context"
	"testing"

	"github.com/agrovault/notify/internal/domain"
)

func okTransport() Transport {
	return TransportFunc(func(ctx context.Context, recipient string, msg Message, priority domain.Priority) SendResult {
		return SendResult{Success: true}
	})
}

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(domain.ChannelEmail, okTransport()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, ok := r.Lookup(domain.ChannelEmail); !ok {
		t.Error("expected registered transport to be found")
	}
	if _, ok := r.Lookup(domain.ChannelSMS); ok {
		t.Error("expected unregistered channel to not be found")
	}
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("pigeon", okTransport()); err == nil {
		t.Error("expected unknown channel to be rejected")
	}
	if err := r.Register(domain.ChannelEmail, nil); err == nil {
		t.Error("expected nil transport to be rejected")
	}
}

func TestRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(domain.ChannelSMS, TransportFunc(func(ctx context.Context, recipient string, msg Message, priority domain.Priority) SendResult {
		return SendResult{Success: false, Error: "v1"}
	}))
	r.Register(domain.ChannelSMS, okTransport())

	tr, _ := r.Lookup(domain.ChannelSMS)
	if res := tr.Send(context.Background(), "u1", Message{}, domain.PriorityNormal); !res.Success {
		t.Error("expected replacement transport to be used")
	}
}
