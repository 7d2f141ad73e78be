package chat

import (
	"sync"

	"github.com/drtelemed/drsdk/internal/domain"
)

// history keeps messages in arrival order, keyed by domain.ChatMessage.Key.
// Messages without a key are kept but cannot be updated.
type history struct {
	mu       sync.RWMutex
	messages []domain.ChatMessage
	index    map[string]int
}

func newHistory() *history {
	return &history{index: map[string]int{}}
}

func (h *history) reindex() {
	h.index = make(map[string]int, len(h.messages))
	for i, m := range h.messages {
		if k := m.Key(); k != "" {
			h.index[k] = i
		}
	}
}

// MergePage installs msgs as the latest page. Known messages missing from the
// page keep their order: those older than the page stay in front of it, the
// rest follow it.
func (h *history) MergePage(msgs []domain.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	onPage := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		if k := m.Key(); k != "" {
			onPage[k] = true
		}
	}

	var before, after []domain.ChatMessage
	seen := false
	for _, m := range h.messages {
		if k := m.Key(); k != "" && onPage[k] {
			seen = true
			continue
		}
		if seen {
			after = append(after, m)
		} else {
			before = append(before, m)
		}
	}
	if !seen {
		before, after = nil, before
	}

	merged := make([]domain.ChatMessage, 0, len(before)+len(msgs)+len(after))
	merged = append(merged, before...)
	merged = append(merged, msgs...)
	h.messages = append(merged, after...)
	h.reindex()
}

// Upsert appends m, or replaces the message with the same key in place.
func (h *history) Upsert(m domain.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if k := m.Key(); k != "" {
		if i, ok := h.index[k]; ok {
			h.messages[i] = m
			return
		}
		h.index[k] = len(h.messages)
	}
	h.messages = append(h.messages, m)
}

// PrependOlder puts the messages of an older page in front, skipping those
// already known.
func (h *history) PrependOlder(msgs []domain.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	older := make([]domain.ChatMessage, 0, len(msgs)+len(h.messages))
	for _, m := range msgs {
		if k := m.Key(); k != "" {
			if _, ok := h.index[k]; ok {
				continue
			}
		}
		older = append(older, m)
	}
	h.messages = append(older, h.messages...)
	h.reindex()
}

// UpdateStatus sets the status of the message with the given client or
// server message id.
func (h *history) UpdateStatus(messageID string, status domain.MessageStatus) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i, ok := h.index[messageID]; ok {
		h.messages[i].Status = status
		return true
	}
	for i := range h.messages {
		if h.messages[i].RealMessageID == messageID {
			h.messages[i].Status = status
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the messages.
func (h *history) Snapshot() []domain.ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]domain.ChatMessage(nil), h.messages...)
}
