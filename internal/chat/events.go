package chat

import "github.com/drtelemed/drsdk/internal/domain"

// EventKind tags an Event.
type EventKind int

const (
	EventWritingStatus EventKind = iota
	EventOnlineStatus
	// EventMessage carries a chat or service message received on the socket.
	EventMessage
	EventMessageStatus
)

func (k EventKind) String() string {
	switch k {
	case EventWritingStatus:
		return "writing_status"
	case EventOnlineStatus:
		return "online_status"
	case EventMessage:
		return "message"
	case EventMessageStatus:
		return "message_status"
	}
	return "unknown"
}

// Event is one notification from a Session. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind      EventKind
	Writing   domain.WritingStatus
	Online    domain.OnlineStatus
	Message   domain.ChatMessage
	MessageID string
	Status    domain.MessageStatus
}

// HistoryResult completes a LoadChatHistory call.
type HistoryResult struct {
	Messages []domain.ChatMessage
	Err      error
}
