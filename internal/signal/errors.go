package signal

import "errors"

// ErrClosed is returned when using a client after Close.
var ErrClosed = errors.New("signaling channel closed")
