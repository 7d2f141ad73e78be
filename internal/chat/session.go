// Package chat runs the consultation chat: startup negotiation, the socket
// with its bounded reconnect, frame dispatch and in-memory history.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/drtelemed/drsdk/internal/actor"
	"github.com/drtelemed/drsdk/internal/api"
	"github.com/drtelemed/drsdk/internal/domain"
)

const eventBuffer = 64

// Defaults for zero Config fields.
const (
	DefaultSocketHost      = "telemed-dr.ru"
	DefaultHistoryPageSize = 20
	DefaultTypingQuiet     = 5 * time.Second
	DefaultRetryDelay      = 5 * time.Second
	DefaultMaxRetries      = 5
)

// SocketState is the chat socket lifecycle.
type SocketState int

const (
	SocketDisconnected SocketState = iota
	SocketConnecting
	SocketConnected
)

func (s SocketState) String() string {
	switch s {
	case SocketConnecting:
		return "connecting"
	case SocketConnected:
		return "connected"
	}
	return "disconnected"
}

type Config struct {
	SocketHost      string
	HistoryPageSize int
	TypingQuiet     time.Duration
	RetryDelay      time.Duration
	MaxRetries      int
}

func (c Config) withDefaults() Config {
	if c.SocketHost == "" {
		c.SocketHost = DefaultSocketHost
	}
	if c.HistoryPageSize <= 0 {
		c.HistoryPageSize = DefaultHistoryPageSize
	}
	if c.TypingQuiet <= 0 {
		c.TypingQuiet = DefaultTypingQuiet
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	return c
}

// Deps are the collaborators of a Session. Clock defaults to the real clock.
// Release, if set, runs once when the session is destroyed.
type Deps struct {
	Orders  domain.OrderFetcher
	Chat    domain.ChatNegotiator
	Socket  domain.ChatSocketFactory
	Clock   clock.Clock
	Release func()
}

// Session owns one consultation chat.
type Session struct {
	cfg  Config
	deps Deps

	loop      *actor.Loop
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	events    *actor.Hub[Event]
	history   *history

	writing atomic.Int32
	online  atomic.Int32

	chatID      int
	createDone  chan error
	created     bool
	loads       map[chan HistoryResult]struct{}
	socket      domain.ChatSocketTransport
	socketState SocketState
	retries     int
	typingTimer *actor.Timer
	retryTimer  *actor.Timer
}

// New creates a session. Nothing happens until Create.
func New(cfg Config, deps Deps) *Session {
	cfg = cfg.withDefaults()
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	loop := actor.NewLoop()
	s := &Session{
		cfg:     cfg,
		deps:    deps,
		loop:    loop,
		ctx:     ctx,
		cancel:  cancel,
		events:  actor.NewHub[Event](loop, eventBuffer),
		history: newHistory(),
		loads:   map[chan HistoryResult]struct{}{},
	}
	s.typingTimer = actor.NewTimer(deps.Clock, loop, cfg.TypingQuiet, s.typingExpired)
	s.retryTimer = actor.NewTimer(deps.Clock, loop, cfg.RetryDelay, s.retryExpired)
	return s
}

// Create fetches the order, exchanges its chat id for a socket token, opens
// the socket and loads the latest history page, in that order. The channel
// receives nil once the history is in, or the first error.
func (s *Session) Create(ctx context.Context, consultationID string) <-chan error {
	done := make(chan error, 1)
	if !s.loop.Post(func() { s.create(ctx, consultationID, done) }) {
		done <- ErrSessionClosed
	}
	return done
}

// Destroy closes the socket and stops all timers. No event is delivered
// after it returns. It is safe to call more than once.
func (s *Session) Destroy() {
	s.closeOnce.Do(func() {
		s.loop.Do(s.teardown)
		s.loop.Stop()
		s.cancel()
		s.events.Close()
		if s.deps.Release != nil {
			s.deps.Release()
		}
		log.Info().Str("module", "chat").Int("chat", s.chatID).Msg("chat destroyed")
	})
}

// Subscribe returns a stream of session events and a function that ends the
// subscription. The stream is closed by Destroy.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.events.Subscribe()
}

// SendMessage uploads the attachment, if any, and sends the message frame.
// Neither waits for the other.
func (s *Session) SendMessage(msg domain.OutgoingMessage) {
	s.loop.Post(func() { s.sendMessage(msg) })
}

// IsUserTyping tells the opponent whether the user is typing.
func (s *Session) IsUserTyping(typing bool) {
	s.loop.Post(func() {
		frame, err := encodeTyping(typing)
		if err != nil {
			log.Error().Err(err).Str("module", "chat").Msg("typing frame")
			return
		}
		s.send(frame)
	})
}

// LoadChatHistory fetches up to limit messages, older than lastMessageID
// when it is set, and completes with the whole history.
func (s *Session) LoadChatHistory(lastMessageID string, limit int) <-chan HistoryResult {
	res := make(chan HistoryResult, 1)
	if !s.loop.Post(func() { s.loadHistory(lastMessageID, limit, res) }) {
		res <- HistoryResult{Err: ErrSessionClosed}
	}
	return res
}

// ChatHistory returns the messages known so far.
func (s *Session) ChatHistory() []domain.ChatMessage {
	return s.history.Snapshot()
}

func (s *Session) WritingStatus() domain.WritingStatus {
	return domain.WritingStatus(s.writing.Load())
}

func (s *Session) OnlineStatus() domain.OnlineStatus {
	return domain.OnlineStatus(s.online.Load())
}

func (s *Session) create(ctx context.Context, consultationID string, done chan error) {
	if s.created || s.createDone != nil {
		done <- ErrAlreadyCreated
		return
	}
	s.createDone = done

	log.Info().Str("module", "chat").Str("consultation", consultationID).Msg("creating chat")
	s.deps.Orders.FetchOrder(ctx, consultationID, func(c *domain.Consultation, err error) {
		s.loop.Post(func() { s.onOrder(ctx, c, err) })
	})
}

func (s *Session) finishCreate(err error) {
	if s.createDone == nil {
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "chat").Msg("create failed")
	} else {
		s.created = true
	}
	s.createDone <- err
	s.createDone = nil
}

func (s *Session) onOrder(ctx context.Context, c *domain.Consultation, err error) {
	if err != nil {
		s.finishCreate(fmt.Errorf("fetch order: %w", err))
		return
	}
	if c == nil || c.ChatID == nil {
		s.finishCreate(api.ErrMissingChatID)
		return
	}
	s.chatID = *c.ChatID

	s.deps.Chat.FetchChatToken(ctx, s.chatID, func(token string, err error) {
		s.loop.Post(func() { s.onToken(ctx, token, err) })
	})
}

func (s *Session) onToken(ctx context.Context, token string, err error) {
	if err != nil {
		s.finishCreate(fmt.Errorf("fetch chat token: %w", err))
		return
	}
	s.openSocket(token)

	q := domain.HistoryQuery{ChatID: s.chatID, Limit: s.cfg.HistoryPageSize}
	s.deps.Chat.FetchHistory(ctx, q, func(msgs []domain.ChatMessage, err error) {
		s.loop.Post(func() { s.onInitialHistory(msgs, err) })
	})
}

func (s *Session) onInitialHistory(msgs []domain.ChatMessage, err error) {
	if err != nil {
		s.finishCreate(fmt.Errorf("fetch history: %w", err))
		return
	}
	s.history.MergePage(msgs)
	log.Info().Str("module", "chat").Int("chat", s.chatID).Int("messages", len(msgs)).Msg("chat ready")
	s.finishCreate(nil)
}

func (s *Session) openSocket(token string) {
	s.socket = s.deps.Socket(domain.ChatSocketConfig{
		Host:   s.cfg.SocketHost,
		ChatID: strconv.Itoa(s.chatID),
		Token:  token,
	})
	s.socket.SetHandler(&socketHandler{s: s})
	s.connectSocket()
}

func (s *Session) connectSocket() {
	s.setSocketState(SocketConnecting)
	s.socket.Connect()
}

func (s *Session) setSocketState(st SocketState) {
	if s.socketState == st {
		return
	}
	log.Debug().Str("module", "chat").Stringer("from", s.socketState).Stringer("to", st).Msg("socket state")
	s.socketState = st
}

func (s *Session) onSocketConnect() {
	s.setSocketState(SocketConnected)
	s.retries = 0
	s.retryTimer.Stop()
}

func (s *Session) onSocketDisconnect(err error) {
	log.Warn().Err(err).Str("module", "chat").Int("retries", s.retries).Msg("socket disconnected")
	s.setSocketState(SocketDisconnected)
	s.retryTimer.Reset()
}

func (s *Session) retryExpired() {
	if s.socketState != SocketDisconnected {
		return
	}
	if s.retries >= s.cfg.MaxRetries {
		log.Warn().Str("module", "chat").Int("retries", s.retries).Msg("socket retry limit reached")
		return
	}
	s.retries++
	log.Info().Str("module", "chat").Int("attempt", s.retries).Msg("socket retry")
	s.connectSocket()
}

func (s *Session) onText(text string) {
	typ, body, err := parseFrame(text)
	if err != nil {
		log.Warn().Err(err).Str("module", "chat").Msg("bad frame")
		return
	}
	switch typ {
	case frameTyping:
		s.onTyping(body)
	case frameMessage, frameService:
		s.onMessage(typ, body)
	case frameStatus:
		s.onMessageStatus(body)
	case frameChatStatus:
		s.onChatStatus(body)
	default:
		log.Debug().Str("module", "chat").Str("type", typ).Msg("frame ignored")
	}
}

func (s *Session) onTyping(body json.RawMessage) {
	var tb typingBody
	if err := json.Unmarshal(body, &tb); err != nil {
		log.Debug().Err(err).Str("module", "chat").Msg("typing body")
		return
	}
	if tb.Status == typingStopped {
		s.typingTimer.Stop()
		s.setWriting(domain.NotWriting)
		return
	}
	s.setWriting(domain.Writing)
	s.typingTimer.Reset()
}

func (s *Session) typingExpired() {
	s.setWriting(domain.NotWriting)
}

func (s *Session) setWriting(w domain.WritingStatus) {
	if s.WritingStatus() == w {
		return
	}
	s.writing.Store(int32(w))
	s.events.Emit(Event{Kind: EventWritingStatus, Writing: w})
}

func (s *Session) onMessage(typ string, body json.RawMessage) {
	var m domain.ChatMessage
	if err := json.Unmarshal(body, &m); err != nil {
		log.Warn().Err(err).Str("module", "chat").Str("type", typ).Msg("message body")
		return
	}
	log.Debug().Str("module", "chat").Str("type", typ).Str("message", m.Key()).Msg("message received")
	s.history.Upsert(m)
	s.events.Emit(Event{Kind: EventMessage, Message: m})
}

func (s *Session) onMessageStatus(body json.RawMessage) {
	var sb statusBody
	if err := json.Unmarshal(body, &sb); err != nil || sb.MessageID == "" || !sb.Status.Valid() {
		log.Debug().Str("module", "chat").RawJSON("body", body).Msg("status ignored")
		return
	}
	s.history.UpdateStatus(sb.MessageID, sb.Status)
	s.events.Emit(Event{Kind: EventMessageStatus, MessageID: sb.MessageID, Status: sb.Status})
}

func (s *Session) onChatStatus(body json.RawMessage) {
	var cb chatStatusBody
	if err := json.Unmarshal(body, &cb); err != nil {
		log.Debug().Err(err).Str("module", "chat").Msg("chat status body")
		return
	}
	presence, ok := domain.PresenceFromChatStatus(cb.Status)
	if !ok {
		log.Debug().Str("module", "chat").Str("status", cb.Status).Msg("unknown chat status")
		return
	}
	if s.OnlineStatus() == presence {
		return
	}
	s.online.Store(int32(presence))
	s.events.Emit(Event{Kind: EventOnlineStatus, Online: presence})
}

func (s *Session) sendMessage(msg domain.OutgoingMessage) {
	if msg.File != nil {
		s.upload(msg)
	}
	frame, err := encodeMessage(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "chat").Msg("message frame")
		return
	}
	s.send(frame)
}

func (s *Session) upload(msg domain.OutgoingMessage) {
	if s.chatID == 0 {
		log.Warn().Err(ErrNotCreated).Str("module", "chat").Msg("upload skipped")
		return
	}
	id := msg.UniqueID
	s.deps.Chat.UploadFile(s.ctx, s.chatID, msg, func(err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "chat").Str("message", id).Msg("upload failed")
			return
		}
		log.Debug().Str("module", "chat").Str("message", id).Msg("file uploaded")
	})
}

func (s *Session) send(frame string) {
	if s.socket == nil {
		log.Warn().Err(ErrNotConnected).Str("module", "chat").Msg("frame dropped")
		return
	}
	if err := s.socket.Send(frame); err != nil {
		log.Warn().Err(err).Str("module", "chat").Msg("send failed")
	}
}

func (s *Session) loadHistory(lastMessageID string, limit int, res chan HistoryResult) {
	if s.chatID == 0 {
		res <- HistoryResult{Err: ErrNotCreated}
		return
	}
	if limit <= 0 {
		limit = s.cfg.HistoryPageSize
	}
	s.loads[res] = struct{}{}

	q := domain.HistoryQuery{ChatID: s.chatID, Limit: limit, LastMessageID: lastMessageID}
	s.deps.Chat.FetchHistory(s.ctx, q, func(msgs []domain.ChatMessage, err error) {
		s.loop.Post(func() {
			if _, ok := s.loads[res]; !ok {
				return
			}
			delete(s.loads, res)
			if err != nil {
				res <- HistoryResult{Err: fmt.Errorf("fetch history: %w", err)}
				return
			}
			if lastMessageID == "" {
				s.history.MergePage(msgs)
			} else {
				s.history.PrependOlder(msgs)
			}
			res <- HistoryResult{Messages: s.history.Snapshot()}
		})
	})
}

func (s *Session) teardown() {
	s.typingTimer.Stop()
	s.retryTimer.Stop()
	if s.socket != nil {
		s.socket.Disconnect()
		s.setSocketState(SocketDisconnected)
	}
	s.finishCreate(ErrSessionClosed)
	for res := range s.loads {
		res <- HistoryResult{Err: ErrSessionClosed}
		delete(s.loads, res)
	}
}

// socketHandler moves socket callbacks onto the loop.
type socketHandler struct {
	s *Session
}

func (h *socketHandler) OnConnect() {
	h.s.loop.Post(h.s.onSocketConnect)
}

func (h *socketHandler) OnDisconnect(err error) {
	h.s.loop.Post(func() { h.s.onSocketDisconnect(err) })
}

func (h *socketHandler) OnText(text string) {
	h.s.loop.Post(func() { h.s.onText(text) })
}
