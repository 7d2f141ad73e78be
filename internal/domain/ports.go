package domain

import (
	"context"
	"encoding/json"
)

// RequestClient performs REST calls against the telemed API. done receives
// the envelope's data on success. Calls never block the caller.
type RequestClient interface {
	Get(ctx context.Context, path string, params map[string]any, done func(json.RawMessage, error))
	Post(ctx context.Context, path string, params map[string]any, done func(json.RawMessage, error))
	Delete(ctx context.Context, path string, params map[string]any, done func(json.RawMessage, error))
}

// ConsultationNegotiator joins and leaves the call room over REST.
type ConsultationNegotiator interface {
	Join(ctx context.Context, consultationID, token string, done func(*RoomNegotiationResult, error))
	Leave(ctx context.Context, consultationID, token string, done func(error))
}

// OrderFetcher retrieves the consultation order.
type OrderFetcher interface {
	FetchOrder(ctx context.Context, id string, done func(*Consultation, error))
}

// HistoryQuery selects a page of chat history.
type HistoryQuery struct {
	ChatID        int
	Limit         int
	LastMessageID string
}

// ChatNegotiator is the chat side of the REST API.
type ChatNegotiator interface {
	FetchChatToken(ctx context.Context, chatID int, done func(token string, err error))
	FetchHistory(ctx context.Context, q HistoryQuery, done func([]ChatMessage, error))
	UploadFile(ctx context.Context, chatID int, msg OutgoingMessage, done func(error))
}

// SignalingHandler receives signaling events.
type SignalingHandler interface {
	OnChannelState(state ChannelState)
	OnSignal(msg SignalMessage)
}

// SignalingConfig addresses one room on the signaling server.
type SignalingConfig struct {
	URL      string
	PostURL  string
	RoomID   string
	ClientID string
}

// SignalingTransport manages the signaling connection for one room.
type SignalingTransport interface {
	Connect() error
	Register(roomID, clientID string)
	Send(msg SignalMessage)
	Close()
}

// SignalingFactory builds a signaling transport bound to h.
type SignalingFactory func(cfg SignalingConfig, h SignalingHandler) SignalingTransport

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// MediaTrack is an opaque handle on a local or remote media track.
type MediaTrack interface {
	ID() string
	Kind() TrackKind
}

// MediaHandler receives media transport events.
type MediaHandler interface {
	OnLocalCandidate(c ICECandidatePayload)
	OnICEState(state ICEState)
	OnRemoteTrack(track MediaTrack)
}

// MediaConfig carries the negotiated relay servers and media flags.
type MediaConfig struct {
	ICEServers    []ICEServer
	RelayRequired bool
	AudioOnly     bool
}

// MediaTransport manages the peer-to-peer media session.
type MediaTransport interface {
	// CreateLocalTrack attaches local media and returns the primary local
	// track: video unless audioOnly is set.
	CreateLocalTrack(audioOnly bool) (MediaTrack, error)
	CreateOffer() (SDPPayload, error)
	CreateAnswer() (SDPPayload, error)
	SetRemoteDescription(sdp SDPPayload) error
	AddICECandidate(c ICECandidatePayload) error
	RemoveICECandidates(cs []ICECandidatePayload) error
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	SetSpeakerEnabled(enabled bool)
	Close()
}

// MediaFactory builds a media transport bound to h.
type MediaFactory func(cfg MediaConfig, h MediaHandler) (MediaTransport, error)

// CameraFacing selects the front or back camera.
type CameraFacing int

const (
	FacingFront CameraFacing = iota
	FacingBack
)

func (f CameraFacing) String() string {
	if f == FacingBack {
		return "back"
	}
	return "front"
}

// Opposite returns the other facing side.
func (f CameraFacing) Opposite() CameraFacing {
	if f == FacingBack {
		return FacingFront
	}
	return FacingBack
}

// FrameRateRange is a supported frame rate interval of a camera format.
type FrameRateRange struct {
	Min float64
	Max float64
}

// CameraFormat is one capture format offered by a camera.
type CameraFormat struct {
	DeviceID   string
	Width      int
	Height     int
	FrameRates []FrameRateRange
}

// Camera is the device capability the call session drives for capture.
type Camera interface {
	Formats(facing CameraFacing) []CameraFormat
	StartCapture(format CameraFormat, fps int) error
	StopCapture()
}

// ChatSocketHandler receives chat socket events.
type ChatSocketHandler interface {
	OnConnect()
	OnDisconnect(err error)
	OnText(text string)
}

// ChatSocketConfig addresses one chat on the socket server.
type ChatSocketConfig struct {
	Host   string
	ChatID string
	Token  string
}

// ChatSocketTransport is the persistent chat connection. Connect dials in
// the background and reports through the handler.
type ChatSocketTransport interface {
	SetHandler(h ChatSocketHandler)
	Connect()
	Disconnect()
	Send(text string) error
}

// ChatSocketFactory builds a chat socket transport.
type ChatSocketFactory func(cfg ChatSocketConfig) ChatSocketTransport

// ReachabilityObserver reports network reachability transitions.
type ReachabilityObserver interface {
	Subscribe(fn func(reachable bool)) (cancel func())
}
