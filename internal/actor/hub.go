package actor

import "github.com/rs/zerolog/log"

// Hub fans events out to subscriber channels. The subscriber set belongs to
// the loop: Emit runs in tasks, Subscribe and Close are called from outside.
// A subscriber that stops reading loses events once its buffer is full.
type Hub[T any] struct {
	loop   *Loop
	buffer int
	subs   map[int]chan T
	next   int
}

// NewHub creates a hub on loop with the given per-subscriber buffer.
func NewHub[T any](loop *Loop, buffer int) *Hub[T] {
	return &Hub[T]{loop: loop, buffer: buffer, subs: map[int]chan T{}}
}

// Subscribe returns a channel receiving every event emitted from now on and
// a function ending the subscription. It must not be called from a task.
// Once the loop has stopped the returned channel is already closed.
func (h *Hub[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, h.buffer)
	var (
		id    int
		added bool
	)
	h.loop.Do(func() {
		id = h.next
		h.next++
		h.subs[id] = ch
		added = true
	})
	if !added {
		close(ch)
		return ch, func() {}
	}
	return ch, func() {
		h.loop.Post(func() {
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Emit delivers v to every subscriber with room for it. It never blocks.
func (h *Hub[T]) Emit(v T) {
	for id, ch := range h.subs {
		select {
		case ch <- v:
		default:
			log.Warn().Str("module", "actor").Int("subscriber", id).Msg("subscriber full, event dropped")
		}
	}
}

// Close closes every subscriber channel. Call it after the loop stopped.
func (h *Hub[T]) Close() {
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
