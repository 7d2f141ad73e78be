// Package retry deduplicates credential refreshes across concurrent REST
// requests and replays the requests that waited on a refresh.
package retry

import (
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
)

// Server error codes that trigger a credential refresh.
const (
	CodeAppTokenExpired     = 300
	CodeUserTokenExpired    = 104
	CodeUserTokenExpiredAlt = 4043
)

// CodedError is an error carrying a server error code.
type CodedError interface {
	error
	ErrorCode() int
}

// AppTokenRefresher obtains a new application token.
type AppTokenRefresher interface {
	RefreshAppToken(done func(ok bool))
}

// UserTokenRefresher obtains a new user token.
type UserTokenRefresher interface {
	RefreshUserToken(done func(err error))
}

// Coordinator routes failed requests through credential refreshes. At most
// one user-token refresh is in flight at any time; requests failing while it
// runs are queued and replayed once it succeeds.
type Coordinator struct {
	app      AppTokenRefresher
	user     UserTokenRefresher
	onReauth func(error)

	mu         sync.Mutex
	refreshing bool
	pending    []func()
}

// New creates a Coordinator. onReauth is called once per failed user-token
// refresh; any of the arguments may be nil.
func New(app AppTokenRefresher, user UserTokenRefresher, onReauth func(error)) *Coordinator {
	return &Coordinator{
		app:      app,
		user:     user,
		onReauth: onReauth,
	}
}

// Refreshing reports whether a user-token refresh is in flight.
func (c *Coordinator) Refreshing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshing
}

// RequestFailed decides what happens to a failed request. retry re-issues the
// request, fail reports err to its caller.
//
// When a user-token refresh is already in flight the request is queued for
// replay and fail is also called right away, so the caller sees a failure
// even though the request will be re-issued later.
func (c *Coordinator) RequestFailed(err error, retry func(), fail func(error)) {
	var coded CodedError
	if !errors.As(err, &coded) {
		fail(err)
		return
	}

	switch code := coded.ErrorCode(); {
	case code == CodeAppTokenExpired && c.app != nil:
		c.refreshAppToken(err, retry, fail)
	case (code == CodeUserTokenExpired || code == CodeUserTokenExpiredAlt) && c.user != nil:
		c.refreshUserToken(err, retry, fail)
	default:
		fail(err)
	}
}

func (c *Coordinator) refreshAppToken(err error, retry func(), fail func(error)) {
	log.Info().Str("module", "retry").Msg("refresh expired application token")
	c.app.RefreshAppToken(func(ok bool) {
		if ok {
			retry()
			return
		}
		fail(err)
	})
}

func (c *Coordinator) refreshUserToken(err error, retry func(), fail func(error)) {
	c.mu.Lock()
	if c.refreshing {
		c.pending = append(c.pending, retry)
		queued := len(c.pending)
		c.mu.Unlock()
		log.Info().Str("module", "retry").Int("queued", queued).Msg("user token refresh in flight, request queued")
		fail(err)
		return
	}
	c.refreshing = true
	c.mu.Unlock()

	log.Info().Str("module", "retry").Msg("refresh expired user token")
	c.user.RefreshUserToken(func(refreshErr error) {
		c.mu.Lock()
		queued := c.pending
		c.pending = nil
		c.refreshing = false
		c.mu.Unlock()

		if refreshErr != nil {
			log.Warn().Err(refreshErr).Str("module", "retry").Int("dropped", len(queued)).Msg("user token refresh failed")
			fail(err)
			if c.onReauth != nil {
				c.onReauth(refreshErr)
			}
			return
		}

		retry()
		for _, r := range queued {
			r()
		}
	})
}
