// Package drsdk gives a host application a consultation chat and a
// consultation call against the telemed backend.
//
// A Factory shares one credential refresh coordinator across every module it
// creates: an expired token on any module's request refreshes credentials
// once and the new tokens reach all modules.
package drsdk

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/drtelemed/drsdk/internal/api"
	"github.com/drtelemed/drsdk/internal/call"
	"github.com/drtelemed/drsdk/internal/chat"
	"github.com/drtelemed/drsdk/internal/chatsocket"
	"github.com/drtelemed/drsdk/internal/config"
	"github.com/drtelemed/drsdk/internal/domain"
	"github.com/drtelemed/drsdk/internal/reachability"
	"github.com/drtelemed/drsdk/internal/retry"
	"github.com/drtelemed/drsdk/internal/signal"
	"github.com/drtelemed/drsdk/internal/webrtc"
)

type (
	Config = config.Config

	ChatSession     = chat.Session
	ChatEvent       = chat.Event
	ChatEventKind   = chat.EventKind
	HistoryResult   = chat.HistoryResult
	ChatMessage     = domain.ChatMessage
	OutgoingMessage = domain.OutgoingMessage
	OutgoingFile    = domain.OutgoingFile
	MessageStatus   = domain.MessageStatus
	WritingStatus   = domain.WritingStatus
	OnlineStatus    = domain.OnlineStatus

	CallSession      = call.Session
	CallEvent        = call.Event
	CallEventKind    = call.EventKind
	CallState        = call.State
	IncomingCallInfo = domain.IncomingCallInfo
	MediaTrack       = domain.MediaTrack
	FrameSink        = webrtc.FrameSink
)

// LoadConfig reads the configuration from .env, DRSDK_* variables and
// defaults.
func LoadConfig() (*Config, error) {
	return config.Load()
}

// DefaultConfig returns the configuration with every value at its default.
func DefaultConfig() Config {
	return config.Default()
}

// NewOutgoingMessage builds a message with a fresh client-side id.
func NewOutgoingMessage(text string, file *OutgoingFile) OutgoingMessage {
	return domain.NewOutgoingMessage(text, file)
}

// Option customizes a Factory.
type Option func(*Factory)

// WithHTTPClient sets the HTTP client used for every REST request.
func WithHTTPClient(hc *http.Client) Option {
	return func(f *Factory) { f.http = hc }
}

// WithFrameSink receives the local camera frames of call modules.
func WithFrameSink(sink FrameSink) Option {
	return func(f *Factory) { f.sink = sink }
}

// WithClock replaces the clock driving timers and reachability probes.
func WithClock(c clock.Clock) Option {
	return func(f *Factory) { f.clock = c }
}

// WithoutReachability makes call modules connect right away instead of
// waiting for the backend to become reachable.
func WithoutReachability() Option {
	return func(f *Factory) { f.noReach = true }
}

// Factory creates chat and call modules.
type Factory struct {
	cfg     config.Config
	http    *http.Client
	sink    FrameSink
	clock   clock.Clock
	noReach bool

	auth   *api.Client
	app    *api.AppAuthenticator
	login  *api.LoginManager
	retry  *retry.Coordinator
	reauth chan error

	mu      sync.Mutex
	clients map[*api.Client]struct{}
	reach   *reachability.Observer
}

// NewFactory creates a Factory. Credentials for refreshing tokens come from
// cfg's app login, app password and refresh token.
func NewFactory(cfg config.Config, opts ...Option) *Factory {
	f := &Factory{
		cfg:     cfg,
		clock:   clock.New(),
		reauth:  make(chan error, 1),
		clients: map[*api.Client]struct{}{},
	}
	for _, opt := range opts {
		opt(f)
	}

	f.auth = f.newClient(cfg.APIHost, "", "")
	f.app = api.NewAppAuthenticator(f.auth, cfg.AppLogin, cfg.AppPassword)
	f.login = api.NewLoginManager(f.auth, cfg.RefreshToken)
	f.retry = retry.New(appRefresher{f}, userRefresher{f}, f.signalReauth)
	return f
}

// Reauth delivers a signal each time a user token refresh fails and the user
// has to log in again. Signals are dropped while one is pending.
func (f *Factory) Reauth() <-chan error {
	return f.reauth
}

// ChatModule creates a chat session authenticated with the given tokens. The
// session does nothing until Create.
func (f *Factory) ChatModule(token, userToken string) *ChatSession {
	client, release := f.register(f.cfg.APIHost, token, userToken)
	return chat.New(chat.Config{
		SocketHost:      f.cfg.ChatSocketHost,
		HistoryPageSize: f.cfg.HistoryPageSize,
		TypingQuiet:     f.cfg.TypingQuietInterval,
		RetryDelay:      f.cfg.SocketRetryDelay,
		MaxRetries:      f.cfg.SocketMaxRetries,
	}, chat.Deps{
		Orders:  api.NewOrderService(client),
		Chat:    api.NewChatService(client),
		Socket:  chatsocket.Factory(f.cfg.PingInterval),
		Clock:   f.clock,
		Release: release,
	})
}

// CallsModule creates a call session for a consultation. Subscribe before
// calling Start to observe the initial state.
func (f *Factory) CallsModule(consultationID, token, userToken string) *CallSession {
	client, release := f.register(f.cfg.CallAPIHost, token, userToken)
	deps := call.Deps{
		Negotiator: api.NewTelemedService(client),
		Orders:     api.NewOrderService(client),
		Signaling:  signal.Factory(f.cfg.PingInterval),
		Media:      webrtc.Factory(),
		Camera:     webrtc.NewCameraCatalog(f.sink),
		Release:    release,
	}
	if reach := f.observer(); reach != nil {
		deps.Reachability = reach
	}
	return call.New(call.Config{
		ConsultationID: consultationID,
		Token:          userToken,
	}, deps)
}

// Close stops the reachability probes shared by call modules. Sessions
// already handed out keep working but no longer see reachability changes.
func (f *Factory) Close() {
	f.mu.Lock()
	reach := f.reach
	f.reach = nil
	f.mu.Unlock()
	if reach != nil {
		reach.Stop()
	}
}

func (f *Factory) newClient(host, token, userToken string) *api.Client {
	return api.NewClient(api.Options{
		Host:       host,
		Locale:     f.cfg.Locale,
		Version:    f.cfg.SDKVersion,
		Login:      f.cfg.Login,
		Token:      token,
		UserToken:  userToken,
		HTTPClient: f.http,
	})
}

// register tracks a module client until the returned release is called.
func (f *Factory) register(host, token, userToken string) (*api.Client, func()) {
	c := f.newClient(host, token, userToken)
	c.SetFailureHandler(f.retry)
	f.mu.Lock()
	f.clients[c] = struct{}{}
	f.mu.Unlock()
	return c, func() {
		f.mu.Lock()
		delete(f.clients, c)
		f.mu.Unlock()
	}
}

func (f *Factory) observer() *reachability.Observer {
	if f.noReach {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reach == nil {
		f.reach = reachability.New(f.cfg.ReachabilityTarget, f.cfg.ReachabilityInterval, f.clock)
		f.reach.Start()
	}
	return f.reach
}

func (f *Factory) each(fn func(c *api.Client)) {
	f.mu.Lock()
	clients := make([]*api.Client, 0, len(f.clients))
	for c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.Unlock()
	for _, c := range clients {
		fn(c)
	}
}

func (f *Factory) signalReauth(err error) {
	log.Warn().Err(err).Str("module", "drsdk").Msg("re-authentication required")
	f.login.DeleteToken()
	f.each(func(c *api.Client) { c.SetUserToken("") })
	select {
	case f.reauth <- fmt.Errorf("%w: %w", api.ErrReauthRequired, err):
	default:
	}
}

// appRefresher installs a refreshed application token on every module.
type appRefresher struct{ f *Factory }

func (r appRefresher) RefreshAppToken(done func(ok bool)) {
	r.f.app.RefreshAppToken(func(ok bool) {
		if ok {
			token, _ := r.f.auth.Tokens()
			r.f.each(func(c *api.Client) { c.SetToken(token) })
		}
		done(ok)
	})
}

// userRefresher installs a refreshed user token on every module.
type userRefresher struct{ f *Factory }

func (r userRefresher) RefreshUserToken(done func(err error)) {
	r.f.login.RefreshUserToken(func(err error) {
		if err == nil {
			if _, userToken := r.f.auth.Tokens(); userToken != "" {
				r.f.each(func(c *api.Client) { c.SetUserToken(userToken) })
			}
		}
		done(err)
	})
}
