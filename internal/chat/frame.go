package chat

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/drtelemed/drsdk/internal/domain"
)

// Socket frame types.
const (
	frameTyping     = "typing2"
	frameMessage    = "message"
	frameService    = "service"
	frameStatus     = "status"
	frameChatStatus = "chatStatus"
)

const typingStopped = "stopped"

type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type typingBody struct {
	Status string `json:"status"`
}

type statusBody struct {
	MessageID string               `json:"messageId"`
	Status    domain.MessageStatus `json:"status"`
}

type chatStatusBody struct {
	Status     string `json:"status"`
	StatusText string `json:"statusText"`
}

type outboundMessage struct {
	Data     outboundMessageData `json:"data"`
	UniqueID string              `json:"uniqueId"`
}

type outboundMessageData struct {
	Message   string `json:"message,omitempty"`
	MessageID string `json:"messageId"`
	Type      string `json:"type"`
}

type outboundTyping struct {
	Data outboundTypingData `json:"data"`
}

type outboundTypingData struct {
	Status string `json:"status"`
	Type   string `json:"type"`
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// unwrap returns raw[key] when it holds an object, raw otherwise.
func unwrap(raw json.RawMessage, key string) json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return raw
	}
	if v, ok := m[key]; ok && isObject(v) {
		return v
	}
	return raw
}

// parseFrame splits a socket frame into its type and body. The server wraps
// bodies in data.message, and messages and statuses once more in
// data.message.data; flat bodies are accepted too.
func parseFrame(text string) (string, json.RawMessage, error) {
	var f inboundFrame
	if err := json.Unmarshal([]byte(text), &f); err != nil {
		return "", nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" || !isObject(f.Data) {
		return "", nil, fmt.Errorf("decode frame: missing type or data")
	}

	body := unwrap(f.Data, "message")
	switch f.Type {
	case frameMessage, frameService, frameStatus:
		body = unwrap(body, "data")
	}
	return f.Type, body, nil
}

func encodeMessage(msg domain.OutgoingMessage) (string, error) {
	raw, err := json.Marshal(outboundMessage{
		Data:     outboundMessageData{Message: msg.Text, Type: frameMessage},
		UniqueID: msg.UniqueID,
	})
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	return string(raw), nil
}

func encodeTyping(typing bool) (string, error) {
	status := "started"
	if !typing {
		status = typingStopped
	}
	raw, err := json.Marshal(outboundTyping{Data: outboundTypingData{Status: status, Type: frameTyping}})
	if err != nil {
		return "", fmt.Errorf("encode typing: %w", err)
	}
	return string(raw), nil
}
