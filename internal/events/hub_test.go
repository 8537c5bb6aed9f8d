package events

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agrovault/notify/internal/domain"
)

func TestHubSubscribeAndPublish(t *testing.T) {
	hub := NewHub()

	sub := &Subscriber{
		ID:     "test-sub-1",
		Events: make(chan Event, 10),
	}
	hub.Subscribe(sub)

	event := Event{
		Kind:           KindChannelOutcome,
		NotificationID: "notif-1",
		Recipient:      "farmer-1",
		Channel:        domain.ChannelEmail,
		Outcome:        domain.OutcomeSent,
		Timestamp:      time.Now(),
	}

	hub.Publish(event)

	select {
	case received := <-sub.Events:
		if received.NotificationID != event.NotificationID {
			t.Errorf("expected notification ID %s, got %s", event.NotificationID, received.NotificationID)
		}
		if received.Outcome != event.Outcome {
			t.Errorf("expected outcome %s, got %s", event.Outcome, received.Outcome)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for event")
	}
}

func TestHubFilterByNotificationID(t *testing.T) {
	hub := NewHub()

	sub := &Subscriber{
		ID:             "filtered-sub",
		NotificationID: "target-notif",
		Events:         make(chan Event, 10),
	}
	hub.Subscribe(sub)

	hub.Publish(Event{Kind: KindAggregate, NotificationID: "target-notif", Aggregate: domain.StatusSent})
	hub.Publish(Event{Kind: KindAggregate, NotificationID: "other-notif", Aggregate: domain.StatusFailed})

	select {
	case received := <-sub.Events:
		if received.NotificationID != "target-notif" {
			t.Errorf("expected target-notif, got %s", received.NotificationID)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("timeout waiting for matching event")
	}

	select {
	case <-sub.Events:
		t.Error("should not receive non-matching event")
	case <-time.After(50 * time.Millisecond):
		// Expected - no more events
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()

	sub := &Subscriber{ID: "sub-1", Events: make(chan Event, 1)}
	hub.Subscribe(sub)
	if hub.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.SubscriberCount())
	}

	hub.Unsubscribe("sub-1")
	if hub.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.SubscriberCount())
	}

	if _, open := <-sub.Events; open {
		t.Error("expected subscriber channel to be closed")
	}
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub()

	// Unbuffered channel with no reader: publishes must drop, not block.
	sub := &Subscriber{ID: "slow-sub", Events: make(chan Event)}
	hub.Subscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(Event{Kind: KindChannelOutcome, NotificationID: "n"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}

func TestHubConcurrentPublishAndSubscribe(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			sub := &Subscriber{ID: fmt.Sprintf("sub-%d", n), Events: make(chan Event, 100)}
			hub.Subscribe(sub)
		}(i)
		go func() {
			defer wg.Done()
			hub.Publish(Event{Kind: KindAggregate, NotificationID: "race"})
		}()
	}
	wg.Wait()
}
