package api

import (
	"errors"
	"fmt"
)

var (
	// ErrNoData marks a response whose payload could not be decoded.
	ErrNoData = errors.New("no data")
	// ErrMissingChatID is returned when the order carries no chat.
	ErrMissingChatID = errors.New("order has no chat id")
	// ErrNotAuthenticated is returned when a user token refresh is attempted
	// without a refresh token.
	ErrNotAuthenticated = errors.New("request made while not authenticated")
	// ErrReauthRequired is signalled to the host when the user must log in again.
	ErrReauthRequired = errors.New("re-authentication required")
)

// CodeUnknown is used when the server reports a failure without a code.
const CodeUnknown = 9999

// ServerError is a failure reported by the telemed API.
type ServerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server error %d", e.Code)
	}
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// ErrorCode returns the server error code.
func (e *ServerError) ErrorCode() int {
	return e.Code
}
