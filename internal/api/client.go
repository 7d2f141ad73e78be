package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Failure routes a failed request either to a retry or to its caller.
// *retry.Coordinator satisfies it.
type Failure interface {
	RequestFailed(err error, retry func(), fail func(error))
}

// Options configures a Client.
type Options struct {
	Host       string
	Locale     string
	Version    string
	Login      string
	Token      string
	UserToken  string
	HTTPClient *http.Client
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
}

type errorData struct {
	Error *struct {
		Code    *int   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Client talks to the telemed REST API. Every request carries the fixed
// locale/version/login/token/User-Token headers.
type Client struct {
	host    string
	http    *http.Client
	locale  string
	version string
	login   string

	mu        sync.RWMutex
	token     string
	userToken string
	failure   Failure
}

// NewClient creates an API client.
func NewClient(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		host:      opts.Host,
		http:      hc,
		locale:    opts.Locale,
		version:   opts.Version,
		login:     opts.Login,
		token:     opts.Token,
		userToken: opts.UserToken,
	}
}

// SetFailureHandler injects the retry coordinator after construction to
// resolve the circular dependency (refreshers need the Client, the
// coordinator needs the refreshers).
func (c *Client) SetFailureHandler(f Failure) {
	c.mu.Lock()
	c.failure = f
	c.mu.Unlock()
}

// SetToken replaces the application token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// SetUserToken replaces the user token sent with every request.
func (c *Client) SetUserToken(token string) {
	c.mu.Lock()
	c.userToken = token
	c.mu.Unlock()
}

// Tokens returns the application and user tokens currently sent.
func (c *Client) Tokens() (token, userToken string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.userToken
}

// Get issues a GET with params encoded in the query string.
func (c *Client) Get(ctx context.Context, path string, params map[string]any, done func(json.RawMessage, error)) {
	go c.attempt(ctx, http.MethodGet, path, params, done)
}

// Post issues a POST with params encoded as a JSON body.
func (c *Client) Post(ctx context.Context, path string, params map[string]any, done func(json.RawMessage, error)) {
	go c.attempt(ctx, http.MethodPost, path, params, done)
}

// Delete issues a DELETE with params encoded as a JSON body.
func (c *Client) Delete(ctx context.Context, path string, params map[string]any, done func(json.RawMessage, error)) {
	go c.attempt(ctx, http.MethodDelete, path, params, done)
}

func (c *Client) attempt(ctx context.Context, method, path string, params map[string]any, done func(json.RawMessage, error)) {
	data, err := c.Do(ctx, method, path, params)
	if err == nil {
		done(data, nil)
		return
	}

	c.mu.RLock()
	f := c.failure
	c.mu.RUnlock()
	if f == nil || ctx.Err() != nil {
		done(nil, err)
		return
	}

	log.Debug().Err(err).Str("module", "api").Str("path", path).Msg("request failed")
	f.RequestFailed(err, func() {
		go c.attempt(ctx, method, path, params, done)
	}, func(err error) {
		done(nil, err)
	})
}

// Do performs one request synchronously and returns the envelope's data. It
// does not route failures through the retry coordinator; credential
// refreshers use it directly.
func (c *Client) Do(ctx context.Context, method, path string, params map[string]any) (json.RawMessage, error) {
	req, err := c.newRequest(ctx, method, path, params)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("module", "api").Str("method", method).Str("path", path).Msg("request")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ServerError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Warn().Err(err).Str("module", "api").Str("path", path).Msg("malformed response")
		return nil, fmt.Errorf("unmarshal response: %w", ErrNoData)
	}

	if !env.Success {
		return nil, parseError(env.Data)
	}
	return env.Data, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, params map[string]any) (*http.Request, error) {
	target := c.host + path

	var body io.Reader
	if method == http.MethodGet {
		if len(params) > 0 {
			q := url.Values{}
			for k, v := range params {
				q.Set(k, fmt.Sprint(v))
			}
			target += "?" + q.Encode()
		}
	} else {
		if params == nil {
			params = map[string]any{}
		}
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}

	c.mu.RLock()
	req.Header.Set("locale", c.locale)
	req.Header.Set("version", c.version)
	req.Header.Set("login", c.login)
	req.Header.Set("token", c.token)
	req.Header.Set("User-Token", c.userToken)
	c.mu.RUnlock()
	req.Header.Set("Content-Type", "application/json")

	return req, nil
}

func parseError(data json.RawMessage) error {
	var ed errorData
	if err := json.Unmarshal(data, &ed); err != nil || ed.Error == nil || ed.Error.Code == nil {
		return &ServerError{Code: CodeUnknown, Message: "unknown_error"}
	}
	return &ServerError{Code: *ed.Error.Code, Message: ed.Error.Message}
}

// decode unmarshals data into v, reporting ErrNoData on malformed payloads.
func decode(path string, data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return fmt.Errorf("%s: %w", path, ErrNoData)
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Warn().Err(err).Str("module", "api").Str("path", path).Msg("decode failed")
		return fmt.Errorf("%s: %w", path, ErrNoData)
	}
	return nil
}
