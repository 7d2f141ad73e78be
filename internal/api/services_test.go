package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/drtelemed/drsdk/internal/domain"
)

// fakeRequests answers every request synchronously with a canned payload.
type fakeRequests struct {
	path   string
	params map[string]any
	data   string
	err    error
}

func (f *fakeRequests) respond(path string, params map[string]any, done func(json.RawMessage, error)) {
	f.path, f.params = path, params
	if f.err != nil {
		done(nil, f.err)
		return
	}
	done(json.RawMessage(f.data), nil)
}

func (f *fakeRequests) Get(_ context.Context, path string, params map[string]any, done func(json.RawMessage, error)) {
	f.respond(path, params, done)
}

func (f *fakeRequests) Post(_ context.Context, path string, params map[string]any, done func(json.RawMessage, error)) {
	f.respond(path, params, done)
}

func (f *fakeRequests) Delete(_ context.Context, path string, params map[string]any, done func(json.RawMessage, error)) {
	f.respond(path, params, done)
}

func TestJoin_ParsesRoom(t *testing.T) {
	rc := &fakeRequests{data: `{
		"useMediaServer": 1,
		"wssUrl": "wss://sig.example/ws",
		"wssPostUrl": "https://sig.example",
		"userId": "client-1",
		"roomId": "room-9",
		"isInitiator": "false",
		"turnServerOverride": [{"urls":["turn:turn.example:3478"],"username":"u","credential":"p"}]
	}`}
	svc := NewTelemedService(rc)

	var room *domain.RoomNegotiationResult
	var err error
	svc.Join(context.Background(), "123", "tok", func(r *domain.RoomNegotiationResult, e error) { room, err = r, e })

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc.path != "telemed/join" || rc.params["consultationId"] != 123 || rc.params["token"] != "tok" {
		t.Errorf("unexpected request %s %v", rc.path, rc.params)
	}
	if room.RoomID != "room-9" || room.ClientID != "client-1" {
		t.Errorf("unexpected room ids %+v", room)
	}
	if room.IsInitiator {
		t.Error("expected non-initiator")
	}
	if !room.RelayRequired {
		t.Error("expected relay required")
	}
	if len(room.ICEServers) != 1 || room.ICEServers[0].Username != "u" {
		t.Errorf("unexpected ICE servers %+v", room.ICEServers)
	}
}

func TestJoin_DefaultsToSTUNAndInitiator(t *testing.T) {
	rc := &fakeRequests{data: `{"wssUrl":"wss://a","wssPostUrl":"https://a","userId":"c","roomId":"r","useMediaServer":0}`}

	var room *domain.RoomNegotiationResult
	NewTelemedService(rc).Join(context.Background(), "1", "t", func(r *domain.RoomNegotiationResult, _ error) { room = r })

	if room == nil {
		t.Fatal("expected room")
	}
	if !room.IsInitiator || room.RelayRequired {
		t.Errorf("unexpected flags %+v", room)
	}
	if len(room.ICEServers) != 1 || room.ICEServers[0].URLs[0] != domain.DefaultSTUNServer {
		t.Errorf("expected default STUN server, got %+v", room.ICEServers)
	}
}

func TestJoin_IncompleteRoomIsNoData(t *testing.T) {
	rc := &fakeRequests{data: `{"roomId":"r"}`}

	var err error
	NewTelemedService(rc).Join(context.Background(), "1", "t", func(_ *domain.RoomNegotiationResult, e error) { err = e })

	if !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestJoin_PropagatesServerError(t *testing.T) {
	rc := &fakeRequests{err: &ServerError{Code: 500}}

	var err error
	NewTelemedService(rc).Join(context.Background(), "1", "t", func(_ *domain.RoomNegotiationResult, e error) { err = e })

	var se *ServerError
	if !errors.As(err, &se) || se.Code != 500 {
		t.Errorf("expected wrapped server error, got %v", err)
	}
}

func TestFetchOrder_DecodesConsultation(t *testing.T) {
	rc := &fakeRequests{data: `{"chatId":77,"specializationName":"Therapist","doctor":{"fullName":"Dr. Who","photo":"p.png"}}`}

	var c *domain.Consultation
	NewOrderService(rc).FetchOrder(context.Background(), "5", func(got *domain.Consultation, _ error) { c = got })

	if rc.path != "user/order/5" {
		t.Errorf("unexpected path %s", rc.path)
	}
	if c == nil || c.ChatID == nil || *c.ChatID != 77 {
		t.Fatalf("unexpected consultation %+v", c)
	}
	info := domain.IncomingCallInfoFrom(c)
	if info.Name != "Dr. Who" || info.Specialization != "Therapist" {
		t.Errorf("unexpected caller info %+v", info)
	}
}

func TestFetchChatToken_EmptyTokenFails(t *testing.T) {
	rc := &fakeRequests{data: `{"token":""}`}

	var err error
	NewChatService(rc).FetchChatToken(context.Background(), 1, func(_ string, e error) { err = e })

	if !errors.Is(err, ErrNoData) {
		t.Errorf("expected ErrNoData, got %v", err)
	}
}

func TestFetchHistory_SendsPagingParams(t *testing.T) {
	rc := &fakeRequests{data: `{"messageList":[{"id":1,"message":"hi"},{"id":2,"messageId":"m2"}]}`}

	var msgs []domain.ChatMessage
	NewChatService(rc).FetchHistory(context.Background(), domain.HistoryQuery{ChatID: 3, Limit: 20, LastMessageID: "m9"},
		func(got []domain.ChatMessage, _ error) { msgs = got })

	if rc.params["active"] != "true" || rc.params["limit"] != 20 || rc.params["lastMessageId"] != "m9" {
		t.Errorf("unexpected params %v", rc.params)
	}
	if len(msgs) != 2 || msgs[0].Key() != "#1" || msgs[1].Key() != "m2" {
		t.Errorf("unexpected messages %+v", msgs)
	}
}

func TestFetchHistory_NullIsEmptyPage(t *testing.T) {
	rc := &fakeRequests{data: `null`}

	called := false
	NewChatService(rc).FetchHistory(context.Background(), domain.HistoryQuery{ChatID: 3}, func(got []domain.ChatMessage, err error) {
		called = true
		if err != nil || len(got) != 0 {
			t.Errorf("expected empty page, got %v %v", got, err)
		}
	})
	if !called {
		t.Fatal("callback not invoked")
	}
	if _, ok := rc.params["lastMessageId"]; ok {
		t.Error("lastMessageId must be omitted when empty")
	}
}

func TestUploadFile_PrefixesName(t *testing.T) {
	rc := &fakeRequests{data: `{}`}
	svc := NewChatService(rc)
	svc.now = func() time.Time { return time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC) }

	msg := domain.OutgoingMessage{UniqueID: "u1", File: &domain.OutgoingFile{Base64: "AAA", OriginalName: "scan.jpg"}}
	var err error
	svc.UploadFile(context.Background(), 8, msg, func(e error) { err = e })

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rc.params["original_name"] != "05.03.2024.02.07.09scan.jpg" {
		t.Errorf("unexpected original_name %v", rc.params["original_name"])
	}
	if rc.params["messageId"] != "u1" || rc.params["chatId"] != 8 || rc.params["base64"] != "AAA" {
		t.Errorf("unexpected params %v", rc.params)
	}
}
