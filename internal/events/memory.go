package events

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// Hub is an in-process Notifier.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ev.DocumentID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, documentID string) (<-chan Event, func(), error) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	if h.subs[documentID] == nil {
		h.subs[documentID] = make(map[chan Event]struct{})
	}
	h.subs[documentID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			h.mu.Lock()
			delete(h.subs[documentID], ch)
			if len(h.subs[documentID]) == 0 {
				delete(h.subs, documentID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}
