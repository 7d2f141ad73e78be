package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/drtelemed/drsdk/internal/domain"
)

const (
	pathChatToken = "chat/token"
	pathHistory   = "chat/message/get-list-paginated/2"
	pathPhoto     = "chat/message/photo"

	// uploadNameLayout prefixes uploaded file names (dd.MM.yyyy.hh.mm.ss).
	uploadNameLayout = "02.01.2006.03.04.05"
)

type chatTokenData struct {
	Token      string `json:"token"`
	QuestionID *int   `json:"questionId"`
}

type historyData struct {
	MessageList []domain.ChatMessage `json:"messageList"`
}

// ChatService is the chat side of the REST API.
type ChatService struct {
	client domain.RequestClient
	now    func() time.Time
}

// NewChatService creates a ChatService.
func NewChatService(client domain.RequestClient) *ChatService {
	return &ChatService{client: client, now: time.Now}
}

// FetchChatToken obtains the socket token for a chat.
func (s *ChatService) FetchChatToken(ctx context.Context, chatID int, done func(string, error)) {
	s.client.Get(ctx, pathChatToken, map[string]any{"chatId": chatID}, func(data json.RawMessage, err error) {
		if err != nil {
			done("", fmt.Errorf("%s: %w", pathChatToken, err))
			return
		}
		var td chatTokenData
		if err := decode(pathChatToken, data, &td); err != nil {
			done("", err)
			return
		}
		if td.Token == "" {
			done("", fmt.Errorf("%s: empty token: %w", pathChatToken, ErrNoData))
			return
		}
		done(td.Token, nil)
	})
}

// FetchHistory loads one page of chat history. A null payload is an empty page.
func (s *ChatService) FetchHistory(ctx context.Context, q domain.HistoryQuery, done func([]domain.ChatMessage, error)) {
	params := map[string]any{
		"chatId": q.ChatID,
		"active": "true",
	}
	if q.Limit > 0 {
		params["limit"] = q.Limit
	}
	if q.LastMessageID != "" {
		params["lastMessageId"] = q.LastMessageID
	}

	s.client.Get(ctx, pathHistory, params, func(data json.RawMessage, err error) {
		if err != nil {
			done(nil, fmt.Errorf("%s: %w", pathHistory, err))
			return
		}
		if len(data) == 0 || string(data) == "null" {
			done(nil, nil)
			return
		}
		var hd historyData
		if err := decode(pathHistory, data, &hd); err != nil {
			done(nil, err)
			return
		}
		done(hd.MessageList, nil)
	})
}

// UploadFile posts the message's attachment; the server then relays the
// message to the chat.
func (s *ChatService) UploadFile(ctx context.Context, chatID int, msg domain.OutgoingMessage, done func(error)) {
	if msg.File == nil {
		done(fmt.Errorf("%s: message %s has no file", pathPhoto, msg.UniqueID))
		return
	}
	params := map[string]any{
		"original_name": s.now().Format(uploadNameLayout) + msg.File.OriginalName,
		"message":       msg.File.OriginalName,
		"base64":        msg.File.Base64,
		"chatId":        chatID,
		"messageId":     msg.UniqueID,
	}
	s.client.Post(ctx, pathPhoto, params, func(_ json.RawMessage, err error) {
		if err != nil {
			done(fmt.Errorf("%s: %w", pathPhoto, err))
			return
		}
		done(nil)
	})
}
