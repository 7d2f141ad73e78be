package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const refreshTimeout = 15 * time.Second

type appAuthData struct {
	AccessToken string `json:"accessToken"`
}

type refreshData struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// AppAuthenticator obtains application tokens from app/auth.
type AppAuthenticator struct {
	client   *Client
	login    string
	password string
}

// NewAppAuthenticator creates an AppAuthenticator. With empty credentials
// every refresh fails.
func NewAppAuthenticator(client *Client, login, password string) *AppAuthenticator {
	return &AppAuthenticator{client: client, login: login, password: password}
}

// RefreshAppToken requests a new application token and installs it on the
// client.
func (a *AppAuthenticator) RefreshAppToken(done func(ok bool)) {
	if a.login == "" || a.password == "" {
		done(false)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		data, err := a.client.Do(ctx, http.MethodPost, "app/auth", map[string]any{
			"login":    a.login,
			"password": a.password,
		})
		if err != nil {
			log.Warn().Err(err).Str("module", "api").Msg("app auth failed")
			done(false)
			return
		}
		var ad appAuthData
		if err := decode("app/auth", data, &ad); err != nil || ad.AccessToken == "" {
			done(false)
			return
		}
		a.client.SetToken(ad.AccessToken)
		done(true)
	}()
}

// LoginManager refreshes the user token through user/refresh.
type LoginManager struct {
	client *Client

	mu           sync.Mutex
	refreshToken string
}

// NewLoginManager creates a LoginManager.
func NewLoginManager(client *Client, refreshToken string) *LoginManager {
	return &LoginManager{client: client, refreshToken: refreshToken}
}

// RefreshUserToken exchanges the refresh token for a new user token.
func (m *LoginManager) RefreshUserToken(done func(err error)) {
	m.mu.Lock()
	rt := m.refreshToken
	m.mu.Unlock()
	if rt == "" {
		done(ErrNotAuthenticated)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()

		data, err := m.client.Do(ctx, http.MethodPost, "user/refresh", map[string]any{"refreshToken": rt})
		if err != nil {
			done(err)
			return
		}
		var rd refreshData
		if decode("user/refresh", data, &rd) == nil {
			if rd.Token != "" {
				m.client.SetUserToken(rd.Token)
			}
			if rd.RefreshToken != "" {
				m.mu.Lock()
				m.refreshToken = rd.RefreshToken
				m.mu.Unlock()
			}
		}
		done(nil)
	}()
}

// DeleteToken forgets the refresh token.
func (m *LoginManager) DeleteToken() {
	m.mu.Lock()
	m.refreshToken = ""
	m.mu.Unlock()
	m.client.SetUserToken("")
}
