package call

import "github.com/drtelemed/drsdk/internal/domain"

// EventKind tags an Event.
type EventKind int

const (
	// EventConnectState carries the external connect state: 1 connected,
	// 0 disconnected.
	EventConnectState EventKind = iota
	// EventLocalTrack carries the local track handle, nil once released.
	EventLocalTrack
	// EventRemoteTrack carries the remote track handle, nil once released.
	EventRemoteTrack
	EventError
	// EventVideoSize reports the remote video size.
	EventVideoSize
	// EventIncomingCall announces a remote offer waiting for AcceptCall.
	EventIncomingCall
)

func (k EventKind) String() string {
	switch k {
	case EventConnectState:
		return "connect_state"
	case EventLocalTrack:
		return "local_track"
	case EventRemoteTrack:
		return "remote_track"
	case EventError:
		return "error"
	case EventVideoSize:
		return "video_size"
	case EventIncomingCall:
		return "incoming_call"
	}
	return "unknown"
}

// External connect states.
const (
	Disconnect = 0
	Connect    = 1
)

// Event is one notification from a Session. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind         EventKind
	ConnectState int
	Track        domain.MediaTrack
	Err          error
	Width        int
	Height       int
	IncomingCall domain.IncomingCallInfo
}
