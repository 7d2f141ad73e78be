package call

import "errors"

// ErrSessionClosed is returned once the call was completed or rejected.
var ErrSessionClosed = errors.New("call session closed")
