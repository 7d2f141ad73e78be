package domain

import (
	"strconv"

	"github.com/google/uuid"
)

// MessageStatus is the delivery status of a chat message.
type MessageStatus string

const (
	MessageNew      MessageStatus = "new"
	MessagePush     MessageStatus = "push"
	MessageReceived MessageStatus = "recd"
	MessageRead     MessageStatus = "read"
	MessageCreated  MessageStatus = "crtd"
	MessageError    MessageStatus = "error"
)

// Valid reports whether s is part of the server vocabulary.
func (s MessageStatus) Valid() bool {
	switch s {
	case MessageNew, MessagePush, MessageReceived, MessageRead, MessageCreated, MessageError:
		return true
	}
	return false
}

// ChatMessage is a message as delivered by the history API and the socket.
type ChatMessage struct {
	ID             *int          `json:"id"`
	MessageID      string        `json:"messageId"`
	RealMessageID  string        `json:"realMessageId"`
	ChatID         *int          `json:"chatId"`
	Message        string        `json:"message"`
	ServiceMessage string        `json:"serviceMessage"`
	Name           string        `json:"name"`
	UserType       string        `json:"userType"`
	UserID         *int          `json:"userId"`
	UserPhoto      string        `json:"userPhoto"`
	Image          string        `json:"image"`
	Timestamp      string        `json:"timestamp"`
	DateInsert     string        `json:"dateInsert"`
	AnswerType     string        `json:"answerType"`
	Status         MessageStatus `json:"status"`
	ClientStatus   string        `json:"clientStatus"`
	File           *File         `json:"file"`
}

// Key identifies the message in history: the client-generated message id
// when present, the server id otherwise.
func (m ChatMessage) Key() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	if m.ID != nil {
		return "#" + strconv.Itoa(*m.ID)
	}
	return ""
}

// File is an attachment of a received message.
type File struct {
	Path            string `json:"path"`
	PathBase64      string `json:"pathBase64"`
	Mime            string `json:"mime"`
	Thumbnail       string `json:"thumbnail"`
	ThumbnailBase64 string `json:"thumbnailBase64"`
	Name            string `json:"name"`
	FileType        string `json:"fileType"`
}

// OutgoingFile is an attachment of a message being sent.
type OutgoingFile struct {
	Base64       string
	OriginalName string
}

// OutgoingMessage is a message composed by the user.
type OutgoingMessage struct {
	UniqueID string
	Text     string
	File     *OutgoingFile
}

// NewOutgoingMessage creates a message with a fresh unique id. file may be nil.
func NewOutgoingMessage(text string, file *OutgoingFile) OutgoingMessage {
	return OutgoingMessage{
		UniqueID: uuid.NewString(),
		Text:     text,
		File:     file,
	}
}

// WritingStatus is the opponent's typing state.
type WritingStatus int

const (
	NotWriting WritingStatus = iota
	Writing
)

func (s WritingStatus) String() string {
	if s == Writing {
		return "writing"
	}
	return "not_writing"
}

// OnlineStatus is the opponent's presence.
type OnlineStatus int

const (
	Offline OnlineStatus = iota
	Online
	Away
)

func (s OnlineStatus) String() string {
	switch s {
	case Online:
		return "online"
	case Away:
		return "away"
	}
	return "offline"
}

// PresenceFromChatStatus maps a server chat status to presence. ok is false
// for values outside the presence vocabulary.
func PresenceFromChatStatus(status string) (OnlineStatus, bool) {
	switch status {
	case "active":
		return Online, true
	case "inactive":
		return Offline, true
	case "awaiting":
		return Away, true
	}
	return Offline, false
}
