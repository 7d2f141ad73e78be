package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/drtelemed/drsdk/internal/domain"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	leaveTimeout     = 5 * time.Second
)

// Client is the signaling channel to the room's collider server. Messages
// sent before registration are queued and flushed once registered.
type Client struct {
	cfg          domain.SignalingConfig
	handler      domain.SignalingHandler
	pingInterval time.Duration
	http         *http.Client

	mu         sync.Mutex
	conn       *websocket.Conn
	registered bool
	roomID     string
	clientID   string
	pending    []string

	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient creates a signaling client reporting to handler.
func NewClient(cfg domain.SignalingConfig, handler domain.SignalingHandler, pingInterval time.Duration) *Client {
	return &Client{
		cfg:          cfg,
		handler:      handler,
		pingInterval: pingInterval,
		http:         &http.Client{Timeout: leaveTimeout},
		closed:       make(chan struct{}),
	}
}

// Factory returns a SignalingFactory producing Clients.
func Factory(pingInterval time.Duration) domain.SignalingFactory {
	return func(cfg domain.SignalingConfig, h domain.SignalingHandler) domain.SignalingTransport {
		return NewClient(cfg, h, pingInterval)
	}
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Connect dials the signaling WebSocket and starts the read loop. The
// handler sees ChannelOpen once the socket is up.
func (c *Client) Connect() error {
	if c.isClosed() {
		return ErrClosed
	}

	log.Info().Str("module", "signal").Str("url", c.cfg.URL).Msg("connecting")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	conn, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.mu.Lock()
	if c.isClosed() {
		c.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.mu.Unlock()

	go c.readLoop(conn)
	if c.pingInterval > 0 {
		go c.pingLoop(conn)
	}

	c.handler.OnChannelState(domain.ChannelOpen)
	return nil
}

// Register binds the connection to the room and flushes queued messages.
func (c *Client) Register(roomID, clientID string) {
	c.mu.Lock()
	if c.conn == nil || c.registered || c.isClosed() {
		c.mu.Unlock()
		return
	}
	if err := c.writeJSON(registerCommand{Cmd: "register", RoomID: roomID, ClientID: clientID}); err != nil {
		c.mu.Unlock()
		log.Warn().Err(err).Str("module", "signal").Msg("register failed")
		c.fail()
		return
	}
	c.registered = true
	c.roomID, c.clientID = roomID, clientID
	pending := c.pending
	c.pending = nil
	for _, msg := range pending {
		if err := c.writeJSON(sendCommand{Cmd: "send", Msg: msg}); err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("flush failed")
			break
		}
	}
	c.mu.Unlock()

	log.Info().Str("module", "signal").Str("room", roomID).Str("client", clientID).Int("flushed", len(pending)).Msg("registered")
	c.handler.OnChannelState(domain.ChannelRegistered)
}

// Send relays msg to the peer, queueing it until registration.
func (c *Client) Send(msg domain.SignalMessage) {
	data, err := encodeMessage(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode failed")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isClosed() {
		return
	}
	if !c.registered {
		c.pending = append(c.pending, string(data))
		return
	}
	log.Debug().Str("module", "signal").Str("type", string(msg.Type)).Msg(">>>")
	if err := c.writeJSON(sendCommand{Cmd: "send", Msg: string(data)}); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("write failed")
	}
}

// writeJSON must be called with mu held.
func (c *Client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close shuts the channel down. When registered it first leaves the room on
// the collider. No handler callbacks are made after Close returns.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		close(c.closed)
		conn := c.conn
		registered := c.registered
		roomID, clientID := c.roomID, c.clientID
		c.pending = nil
		c.mu.Unlock()

		if conn != nil {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
			conn.Close()
		}
		if registered && c.cfg.PostURL != "" {
			go c.leaveRoom(roomID, clientID)
		}
		log.Info().Str("module", "signal").Msg("closed")
	})
}

func (c *Client) leaveRoom(roomID, clientID string) {
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer cancel()

	target := strings.TrimSuffix(c.cfg.PostURL, "/") + "/" + roomID + "/" + clientID
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, target, nil)
	if err != nil {
		return
	}
	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("leave room failed")
		return
	}
	resp.Body.Close()
}

func (c *Client) fail() {
	if c.isClosed() {
		return
	}
	c.handler.OnChannelState(domain.ChannelError)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Str("module", "signal").Msg("server closed channel")
				c.handler.OnChannelState(domain.ChannelClosed)
				return
			}
			log.Warn().Err(err).Str("module", "signal").Msg("read error")
			c.handler.OnChannelState(domain.ChannelError)
			return
		}

		var in inbound
		if err := json.Unmarshal(data, &in); err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("unmarshal error")
			continue
		}
		if in.Error != "" {
			log.Warn().Str("module", "signal").Str("error", in.Error).Msg("collider error")
			c.fail()
			continue
		}
		if in.Msg == "" {
			continue
		}

		msg, err := decodeMessage([]byte(in.Msg))
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("dropping message")
			continue
		}
		if c.isClosed() {
			return
		}
		log.Debug().Str("module", "signal").Str("type", string(msg.Type)).Msg("<<<")
		c.handler.OnSignal(msg)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout))
			c.mu.Unlock()
			if err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Debug().Err(err).Str("module", "signal").Msg("ping error")
				}
				return
			}
		}
	}
}
