package chat

import "errors"

var (
	// ErrSessionClosed completes pending requests once the session is destroyed.
	ErrSessionClosed = errors.New("chat session closed")
	// ErrNotConnected is logged when a frame is sent before the socket exists.
	ErrNotConnected = errors.New("chat socket not connected")
	// ErrAlreadyCreated is returned by a second Create.
	ErrAlreadyCreated = errors.New("chat session already created")
	// ErrNotCreated is returned by history loads before Create resolved the chat.
	ErrNotCreated = errors.New("chat session not created")
)
