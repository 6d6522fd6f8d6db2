package stream

import (
	"context"
	"testing"
	"time"

	"veriflow.org/internal/verification"
)

func event(sessionRef, checkID string) verification.CheckEvent {
	return verification.CheckEvent{
		SessionRef: sessionRef,
		Check:      verification.Check{ID: checkID, Processed: true, Outcome: verification.OutcomeClear},
		Timestamp:  time.Now().UTC(),
	}
}

func TestPublishReachesOnlySessionSubscribers(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s1 := h.Subscribe(ctx, "sess-1")
	s2 := h.Subscribe(ctx, "sess-2")

	h.Publish(event("sess-1", "chk_1"))

	select {
	case evt := <-s1:
		if evt.Check.ID != "chk_1" {
			t.Fatalf("unexpected check id: %s", evt.Check.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("sess-1 subscriber received nothing")
	}

	select {
	case evt := <-s2:
		t.Fatalf("sess-2 subscriber must not receive %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	h := NewHub()
	// Must not panic or block.
	h.Publish(event("sess-none", "chk_1"))
}

func TestSubscriberOnlySeesEventsAfterSubscribe(t *testing.T) {
	h := NewHub()
	h.Publish(event("sess-1", "chk_early"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := h.Subscribe(ctx, "sess-1")

	select {
	case evt := <-ch:
		t.Fatalf("must not replay earlier events, got %v", evt)
	case <-time.After(50 * time.Millisecond):
	}

	h.Publish(event("sess-1", "chk_late"))
	select {
	case evt := <-ch:
		if evt.Check.ID != "chk_late" {
			t.Fatalf("unexpected check id: %s", evt.Check.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected late event")
	}
}

func TestSessionEntryEvictedOnLastUnsubscribe(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	ch := h.Subscribe(ctx, "sess-1")
	if got := h.Subscribers("sess-1"); got != 1 {
		t.Fatalf("expected 1 subscriber, got %d", got)
	}

	cancel()
	// The channel close signals teardown completion.
	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed on context end")
	}

	deadline := time.Now().Add(time.Second)
	for h.Subscribers("sess-1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("session entry was not evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Never read from the channel; its buffer will fill.
	_ = h.Subscribe(ctx, "sess-1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			h.Publish(event("sess-1", "chk"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
