package domain

// SDPPayload is the JSON structure for SDP offer/answer messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure for ICE candidate messages.
type ICECandidatePayload struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

// SignalType names a message exchanged over the signaling channel.
type SignalType string

const (
	SignalOffer            SignalType = "offer"
	SignalAnswer           SignalType = "answer"
	SignalCandidate        SignalType = "candidate"
	SignalCandidateRemoval SignalType = "remove-candidates"
	SignalBye              SignalType = "bye"
)

// SignalMessage is one decoded signaling message. Only the fields relevant
// to Type are set.
type SignalMessage struct {
	Type       SignalType
	SDP        string
	Candidate  ICECandidatePayload
	Candidates []ICECandidatePayload
}

// ChannelState is the signaling channel lifecycle.
type ChannelState int

const (
	ChannelOpen ChannelState = iota
	ChannelRegistered
	ChannelError
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelOpen:
		return "open"
	case ChannelRegistered:
		return "registered"
	case ChannelError:
		return "error"
	case ChannelClosed:
		return "closed"
	}
	return "unknown"
}

// ICEState mirrors the ICE connection state reported by the media transport.
type ICEState int

const (
	ICENew ICEState = iota
	ICEChecking
	ICEConnected
	ICECompleted
	ICEDisconnected
	ICEFailed
	ICEClosed
)

func (s ICEState) String() string {
	switch s {
	case ICENew:
		return "new"
	case ICEChecking:
		return "checking"
	case ICEConnected:
		return "connected"
	case ICECompleted:
		return "completed"
	case ICEDisconnected:
		return "disconnected"
	case ICEFailed:
		return "failed"
	case ICEClosed:
		return "closed"
	}
	return "unknown"
}

// Established reports whether media can flow in this state.
func (s ICEState) Established() bool {
	return s == ICEConnected || s == ICECompleted
}

// Lost reports whether the media path is gone.
func (s ICEState) Lost() bool {
	return s == ICEDisconnected || s == ICEFailed || s == ICEClosed
}
