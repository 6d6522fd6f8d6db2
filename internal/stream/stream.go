// Package stream fans out check updates to live subscribers, keyed by the
// verification session they belong to.
package stream

import (
	"context"
	"sync"

	"veriflow.org/internal/obs"
	"veriflow.org/internal/verification"
)

// Hub maps a session ref to its active subscribers. Entries are created
// lazily on first subscription and removed when the last subscriber leaves,
// so an idle process holds no per-session state.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[int]chan verification.CheckEvent
	next     int
}

// NewHub initialises an empty hub.
func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[int]chan verification.CheckEvent)}
}

// Subscribe registers a subscriber for one session and returns the channel
// that will receive its updates. Only events published after this call are
// delivered; the sequence is not replayable. The channel is closed when ctx
// ends.
func (h *Hub) Subscribe(ctx context.Context, sessionRef string) <-chan verification.CheckEvent {
	ch := make(chan verification.CheckEvent, 16)

	h.mu.Lock()
	id := h.next
	h.next++
	subs, ok := h.sessions[sessionRef]
	if !ok {
		subs = make(map[int]chan verification.CheckEvent)
		h.sessions[sessionRef] = subs
	}
	subs[id] = ch
	h.mu.Unlock()
	obs.StreamSubscriberAdd(1)

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		if subs, ok := h.sessions[sessionRef]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(h.sessions, sessionRef)
			}
		}
		close(ch)
		h.mu.Unlock()
		obs.StreamSubscriberAdd(-1)
	}()

	return ch
}

// Publish delivers the event to every subscriber of its session. With no
// subscriber the event is discarded; nothing is buffered for late joiners.
func (h *Hub) Publish(evt verification.CheckEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.sessions[evt.SessionRef] {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers reports how many channels are attached to a session.
func (h *Hub) Subscribers(sessionRef string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionRef])
}
