package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/drtelemed/drsdk/internal/domain"
)

const (
	pathJoin  = "telemed/join"
	pathLeave = "telemed/leave"
)

// flexBool accepts "true"/"false" strings, booleans and 0/1.
type flexBool struct {
	set   bool
	value bool
}

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseBool(s)
		if err != nil {
			return nil
		}
		b.set, b.value = true, v
		return nil
	}
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		b.set, b.value = true, v
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		b.set, b.value = true, n != 0
	}
	return nil
}

type joinData struct {
	UseMediaServer     *int               `json:"useMediaServer"`
	WSSURL             string             `json:"wssUrl"`
	WSSPostURL         string             `json:"wssPostUrl"`
	UserID             string             `json:"userId"`
	RoomID             string             `json:"roomId"`
	IsInitiator        flexBool           `json:"isInitiator"`
	TurnServerOverride []domain.ICEServer `json:"turnServerOverride"`
}

// TelemedService joins and leaves consultation rooms.
type TelemedService struct {
	client domain.RequestClient
}

// NewTelemedService creates a TelemedService.
func NewTelemedService(client domain.RequestClient) *TelemedService {
	return &TelemedService{client: client}
}

func consultationParam(id string) any {
	if n, err := strconv.Atoi(id); err == nil {
		return n
	}
	return id
}

// Join negotiates the call room for a consultation.
func (s *TelemedService) Join(ctx context.Context, consultationID, token string, done func(*domain.RoomNegotiationResult, error)) {
	params := map[string]any{
		"token":          token,
		"consultationId": consultationParam(consultationID),
	}
	s.client.Post(ctx, pathJoin, params, func(data json.RawMessage, err error) {
		if err != nil {
			done(nil, fmt.Errorf("%s: %w", pathJoin, err))
			return
		}
		var jd joinData
		if err := decode(pathJoin, data, &jd); err != nil {
			done(nil, err)
			return
		}
		room, err := jd.result()
		if err != nil {
			done(nil, err)
			return
		}
		done(room, nil)
	})
}

func (jd joinData) result() (*domain.RoomNegotiationResult, error) {
	if jd.RoomID == "" || jd.UserID == "" || jd.WSSURL == "" || jd.WSSPostURL == "" {
		return nil, fmt.Errorf("%s: incomplete room parameters: %w", pathJoin, ErrNoData)
	}

	room := &domain.RoomNegotiationResult{
		RoomID:           jd.RoomID,
		ClientID:         jd.UserID,
		SignalingURL:     jd.WSSURL,
		SignalingPostURL: jd.WSSPostURL,
		IsInitiator:      !jd.IsInitiator.set || jd.IsInitiator.value,
		RelayRequired:    jd.UseMediaServer == nil || *jd.UseMediaServer == 1,
	}
	for _, srv := range jd.TurnServerOverride {
		if len(srv.URLs) > 0 {
			room.ICEServers = append(room.ICEServers, srv)
		}
	}
	if len(room.ICEServers) == 0 {
		room.ICEServers = []domain.ICEServer{{URLs: []string{domain.DefaultSTUNServer}}}
	}
	return room, nil
}

// Leave notifies the server that the user left the consultation room.
func (s *TelemedService) Leave(ctx context.Context, consultationID, token string, done func(error)) {
	params := map[string]any{
		"token":          token,
		"consultationId": consultationParam(consultationID),
	}
	s.client.Post(ctx, pathLeave, params, func(_ json.RawMessage, err error) {
		if err != nil {
			done(fmt.Errorf("%s: %w", pathLeave, err))
			return
		}
		done(nil)
	})
}
