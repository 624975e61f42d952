package conn

import "sync"

// Hub fans one value stream out to any number of subscribers. Publishing never
// blocks; a subscriber that falls behind its buffer loses the message.
type Hub[T any] struct {
	mu          sync.RWMutex
	subscribers map[chan T]struct{}
	closed      bool
}

// NewHub constructs an empty hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{subscribers: make(map[chan T]struct{})}
}

// Publish delivers v to every live subscriber, dropping it for full buffers.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for ch := range h.subscribers {
		select {
		case ch <- v:
		default:
		}
	}
}

// Subscribe returns a channel of future values and a cleanup func. The channel
// is closed on unsubscribe or when the hub shuts down.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		empty := make(chan T)
		close(empty)
		return empty, func() {}
	}
	ch := make(chan T, 64)
	h.subscribers[ch] = struct{}{}
	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

// Close drops all subscribers and rejects future publishes.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
	}
	h.subscribers = make(map[chan T]struct{})
}
