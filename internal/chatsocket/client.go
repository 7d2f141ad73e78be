// Package chatsocket is the persistent WebSocket connection to the chat
// server. It carries raw text frames; framing lives in the chat package.
package chatsocket

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/drtelemed/drsdk/internal/domain"
)

// ErrNotConnected is returned by Send while no connection is up.
var ErrNotConnected = errors.New("chat socket not connected")

const (
	handshakeTimeout = 5 * time.Second
	writeTimeout     = 5 * time.Second
	subprotocol      = "chat"
	basicCredentials = "1003:1003"
)

// Option customizes a Client.
type Option func(*Client)

// WithScheme overrides the default "wss" scheme.
func WithScheme(scheme string) Option {
	return func(c *Client) { c.scheme = scheme }
}

// Client is a ChatSocketTransport over gorilla/websocket. Each Connect
// starts a new connection generation; Disconnect ends it and silences any
// callbacks still pending from it.
type Client struct {
	cfg          domain.ChatSocketConfig
	pingInterval time.Duration
	scheme       string

	mu         sync.Mutex
	handler    domain.ChatSocketHandler
	conn       *websocket.Conn
	connecting bool
	gen        uint64
}

// NewClient creates a chat socket client.
func NewClient(cfg domain.ChatSocketConfig, pingInterval time.Duration, opts ...Option) *Client {
	c := &Client{cfg: cfg, pingInterval: pingInterval, scheme: "wss"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Factory returns a ChatSocketFactory producing Clients.
func Factory(pingInterval time.Duration, opts ...Option) domain.ChatSocketFactory {
	return func(cfg domain.ChatSocketConfig) domain.ChatSocketTransport {
		return NewClient(cfg, pingInterval, opts...)
	}
}

// URL returns the socket endpoint for the configured chat.
func (c *Client) URL() string {
	q := url.Values{}
	q.Set("chatId", c.cfg.ChatID)
	q.Set("token", c.cfg.Token)
	return fmt.Sprintf("%s://%s/wschat/ws/?%s", c.scheme, c.cfg.Host, q.Encode())
}

// SetHandler installs the event handler.
func (c *Client) SetHandler(h domain.ChatSocketHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// current returns the handler if gen is still the live generation.
func (c *Client) current(gen uint64) domain.ChatSocketHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	return c.handler
}

// Connect dials in the background. The outcome is reported through the
// handler's OnConnect or OnDisconnect.
func (c *Client) Connect() {
	c.mu.Lock()
	if c.conn != nil || c.connecting {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.dial(gen)
}

func (c *Client) dial(gen uint64) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{subprotocol},
	}
	header := http.Header{}
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(basicCredentials)))

	log.Info().Str("module", "chatsocket").Str("host", c.cfg.Host).Str("chat", c.cfg.ChatID).Msg("connecting")

	conn, _, err := dialer.Dial(c.URL(), header)

	c.mu.Lock()
	stale := gen != c.gen
	if !stale {
		c.connecting = false
		if err == nil {
			c.conn = conn
		}
	}
	h := c.handler
	c.mu.Unlock()

	if stale {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "chatsocket").Msg("dial failed")
		if h != nil {
			h.OnDisconnect(fmt.Errorf("websocket dial: %w", err))
		}
		return
	}

	log.Info().Str("module", "chatsocket").Msg("connected")
	go c.readLoop(conn, gen)
	if c.pingInterval > 0 {
		go c.pingLoop(conn, gen)
	}
	if h != nil {
		h.OnConnect()
	}
}

// Disconnect closes the connection without reporting it.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	conn := c.conn
	c.conn = nil
	c.connecting = false
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		conn.Close()
		log.Info().Str("module", "chatsocket").Msg("disconnected")
	}
}

// Send writes one text frame.
func (c *Client) Send(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	log.Debug().Str("module", "chatsocket").Str("frame", text).Msg(">>>")
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			live := gen == c.gen
			if live {
				c.conn = nil
			}
			h := c.handler
			c.mu.Unlock()

			if !live {
				return
			}
			log.Warn().Err(err).Str("module", "chatsocket").Msg("connection lost")
			if h != nil {
				h.OnDisconnect(err)
			}
			return
		}

		log.Debug().Str("module", "chatsocket").Str("frame", string(data)).Msg("<<<")
		if h := c.current(gen); h != nil {
			h.OnText(string(data))
		} else {
			return
		}
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, gen uint64) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeTimeout))
		c.mu.Unlock()
		if err != nil {
			log.Debug().Err(err).Str("module", "chatsocket").Msg("ping error")
			return
		}
	}
}
