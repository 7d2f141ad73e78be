// Package call runs a video consultation: room negotiation, signaling,
// media and the reconnect policy around them.
package call

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/drtelemed/drsdk/internal/actor"
	"github.com/drtelemed/drsdk/internal/domain"
)

const (
	leaveTimeout = 10 * time.Second
	eventBuffer  = 64
)

// State is the call lifecycle.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Leaving
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Leaving:
		return "leaving"
	}
	return "unknown"
}

// Config identifies the consultation.
type Config struct {
	ConsultationID string
	Token          string
	AudioOnly      bool
}

// Deps are the collaborators of a Session. Orders, Camera and Reachability
// are optional. Release, if set, runs once when the call has ended.
type Deps struct {
	Negotiator   domain.ConsultationNegotiator
	Orders       domain.OrderFetcher
	Signaling    domain.SignalingFactory
	Media        domain.MediaFactory
	Camera       domain.Camera
	Reachability domain.ReachabilityObserver
	Release      func()
}

// Session owns one consultation call. All state below the loop is only
// touched by tasks on the loop.
type Session struct {
	cfg  Config
	deps Deps

	loop      *actor.Loop
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	stateMirror atomic.Int32
	muted       atomic.Bool
	speaker     atomic.Bool
	camera      atomic.Bool

	events *actor.Hub[Event]

	started     bool
	state       State
	emitted     int
	attempt     uint64
	audioOnly   bool
	accepted    bool
	callInfo    domain.IncomingCallInfo
	unsubscribe func()

	room              *domain.RoomNegotiationResult
	media             domain.MediaTransport
	signaling         domain.SignalingTransport
	remoteSet         bool
	pendingOffer      *domain.SDPPayload
	pendingCandidates []domain.ICECandidatePayload

	stagedLocal  domain.MediaTrack
	stagedRemote domain.MediaTrack
	localTrack   domain.MediaTrack
	remoteTrack  domain.MediaTrack

	facing    domain.CameraFacing
	capturing bool
}

// New creates a session. Nothing happens until Start.
func New(cfg Config, deps Deps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	loop := actor.NewLoop()
	s := &Session{
		cfg:       cfg,
		deps:      deps,
		loop:      loop,
		ctx:       ctx,
		cancel:    cancel,
		events:    actor.NewHub[Event](loop, eventBuffer),
		emitted:   -1,
		audioOnly: cfg.AudioOnly,
	}
	s.speaker.Store(true)
	s.camera.Store(true)
	return s
}

// Start publishes the initial disconnected state and begins watching
// reachability. The first reachable notification connects. Without a
// reachability observer Start connects right away.
func (s *Session) Start() error {
	if !s.loop.Post(s.start) {
		return ErrSessionClosed
	}
	return nil
}

// Subscribe returns a stream of session events and a function that ends the
// subscription. The stream is closed when the session ends.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.events.Subscribe()
}

// Connect joins the room unless a call is already in progress.
func (s *Session) Connect(audioOnly bool) {
	s.loop.Post(func() { s.connect(audioOnly) })
}

// Reconnect connects with the last audio-only flag. It is a no-op unless
// the session is disconnected.
func (s *Session) Reconnect() {
	s.loop.Post(s.reconnect)
}

// AcceptCall answers a pending incoming call, or connects when idle.
func (s *Session) AcceptCall() {
	s.loop.Post(s.acceptCall)
}

// RejectCall sends bye and ends the session without leaving the room.
func (s *Session) RejectCall() {
	s.shutdown(false)
}

// CompleteCall hangs up, leaves the room and ends the session. No event is
// delivered after it returns.
func (s *Session) CompleteCall() {
	s.shutdown(true)
}

// SwitchCamera moves capture to the camera on the other side.
func (s *Session) SwitchCamera() {
	s.loop.Post(s.switchCamera)
}

// ClearCall stops local capture and releases the track handles held for the
// host.
func (s *Session) ClearCall() {
	s.loop.Post(func() {
		s.stopCapture()
		s.releaseTracks()
	})
}

func (s *Session) SetMuted(muted bool) {
	s.muted.Store(muted)
	s.loop.Post(func() {
		if s.media != nil {
			s.media.SetAudioEnabled(!muted)
		}
	})
}

func (s *Session) SetSpeakerEnabled(enabled bool) {
	s.speaker.Store(enabled)
	s.loop.Post(func() {
		if s.media != nil {
			s.media.SetSpeakerEnabled(enabled)
		}
	})
}

func (s *Session) SetCameraEnabled(enabled bool) {
	s.camera.Store(enabled)
	s.loop.Post(func() {
		if s.media != nil {
			s.media.SetVideoEnabled(enabled)
		}
	})
}

func (s *Session) Muted() bool          { return s.muted.Load() }
func (s *Session) SpeakerEnabled() bool { return s.speaker.Load() }
func (s *Session) CameraEnabled() bool  { return s.camera.Load() }
func (s *Session) State() State         { return State(s.stateMirror.Load()) }

// ReportVideoSize forwards the remote video size while a remote track is
// active.
func (s *Session) ReportVideoSize(width, height int) {
	s.loop.Post(func() {
		if s.remoteTrack == nil {
			return
		}
		s.emit(Event{Kind: EventVideoSize, Width: width, Height: height})
	})
}

func (s *Session) start() {
	if s.started {
		return
	}
	s.started = true
	s.emitConnectState()
	s.fetchCallInfo()

	if s.deps.Reachability == nil {
		s.connect(s.audioOnly)
		return
	}
	s.unsubscribe = s.deps.Reachability.Subscribe(func(reachable bool) {
		s.loop.Post(func() { s.onReachable(reachable) })
	})
}

func (s *Session) fetchCallInfo() {
	if s.deps.Orders == nil {
		return
	}
	s.deps.Orders.FetchOrder(s.ctx, s.cfg.ConsultationID, func(c *domain.Consultation, err error) {
		s.loop.Post(func() {
			if err != nil {
				log.Warn().Err(err).Str("module", "call").Msg("fetch order failed")
				return
			}
			s.callInfo = domain.IncomingCallInfoFrom(c)
		})
	})
}

func (s *Session) onReachable(reachable bool) {
	log.Debug().Str("module", "call").Bool("reachable", reachable).Stringer("state", s.state).Msg("reachability changed")
	switch {
	case reachable && s.state == Disconnected:
		s.connect(s.audioOnly)
	case !reachable && (s.state == Connecting || s.state == Connected):
		s.leave(true)
	}
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	log.Debug().Str("module", "call").Stringer("from", s.state).Stringer("to", st).Msg("state")
	s.state = st
	s.stateMirror.Store(int32(st))
}

// emitConnectState publishes the external state if it changed.
func (s *Session) emitConnectState() {
	external := Disconnect
	if s.state == Connected {
		external = Connect
	}
	if external == s.emitted {
		return
	}
	s.emitted = external
	s.emit(Event{Kind: EventConnectState, ConnectState: external})
}

func (s *Session) emit(ev Event) {
	s.events.Emit(ev)
}

func (s *Session) reconnect() {
	if s.state != Disconnected {
		log.Debug().Str("module", "call").Stringer("state", s.state).Msg("reconnect ignored")
		return
	}
	s.connect(s.audioOnly)
}

func (s *Session) connect(audioOnly bool) {
	if s.state != Disconnected {
		log.Debug().Str("module", "call").Stringer("state", s.state).Msg("connect ignored")
		return
	}
	s.audioOnly = audioOnly
	s.setState(Connecting)
	s.attempt++
	attempt := s.attempt

	log.Info().Str("module", "call").Str("consultation", s.cfg.ConsultationID).Bool("audio_only", audioOnly).Uint64("attempt", attempt).Msg("joining room")
	s.deps.Negotiator.Join(s.ctx, s.cfg.ConsultationID, s.cfg.Token, func(room *domain.RoomNegotiationResult, err error) {
		s.loop.Post(func() { s.onJoined(attempt, room, err) })
	})
}

func (s *Session) onJoined(attempt uint64, room *domain.RoomNegotiationResult, err error) {
	if attempt != s.attempt || s.state != Connecting {
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("join failed")
		s.emit(Event{Kind: EventError, Err: fmt.Errorf("join room: %w", err)})
		s.setState(Disconnected)
		s.emitConnectState()
		return
	}

	log.Info().Str("module", "call").Str("room", room.RoomID).Str("client", room.ClientID).
		Bool("initiator", room.IsInitiator).Bool("relay", room.RelayRequired).Msg("room joined")

	s.room = room
	if err := s.buildTransports(attempt); err != nil {
		s.abort(err)
	}
}

func (s *Session) buildTransports(attempt uint64) error {
	h := &attemptHandler{s: s, attempt: attempt}

	media, err := s.deps.Media(domain.MediaConfig{
		ICEServers:    s.room.ICEServers,
		RelayRequired: s.room.RelayRequired,
		AudioOnly:     s.audioOnly,
	}, h)
	if err != nil {
		return fmt.Errorf("create media transport: %w", err)
	}
	s.media = media

	track, err := media.CreateLocalTrack(s.audioOnly)
	if err != nil {
		return fmt.Errorf("create local track: %w", err)
	}
	s.stagedLocal = track
	media.SetAudioEnabled(!s.muted.Load())
	media.SetVideoEnabled(s.camera.Load())
	media.SetSpeakerEnabled(s.speaker.Load())
	if !s.audioOnly {
		s.startCapture()
	}

	sig := s.deps.Signaling(domain.SignalingConfig{
		URL:      s.room.SignalingURL,
		PostURL:  s.room.SignalingPostURL,
		RoomID:   s.room.RoomID,
		ClientID: s.room.ClientID,
	}, h)
	s.signaling = sig
	go func() {
		if err := sig.Connect(); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("signaling connect failed")
			h.OnChannelState(domain.ChannelError)
		}
	}()
	return nil
}

// abort reports err and leaves without reconnecting.
func (s *Session) abort(err error) {
	log.Error().Err(err).Str("module", "call").Msg("call setup failed")
	s.emit(Event{Kind: EventError, Err: err})
	s.leave(false)
}

func (s *Session) onChannelState(st domain.ChannelState) {
	log.Debug().Str("module", "call").Stringer("channel", st).Msg("signaling state")
	switch st {
	case domain.ChannelOpen:
		s.signaling.Register(s.room.RoomID, s.room.ClientID)
	case domain.ChannelRegistered:
		if s.room.IsInitiator {
			s.sendOffer()
		}
	case domain.ChannelError, domain.ChannelClosed:
		log.Warn().Str("module", "call").Stringer("channel", st).Msg("signaling lost")
		s.leave(true)
	}
}

func (s *Session) sendOffer() {
	offer, err := s.media.CreateOffer()
	if err != nil {
		s.abort(fmt.Errorf("create offer: %w", err))
		return
	}
	log.Info().Str("module", "call").Msg("sending offer")
	s.signaling.Send(domain.SignalMessage{Type: domain.SignalOffer, SDP: offer.SDP})
}

func (s *Session) answer() {
	offer := *s.pendingOffer
	s.pendingOffer = nil

	if err := s.media.SetRemoteDescription(offer); err != nil {
		s.abort(fmt.Errorf("set remote offer: %w", err))
		return
	}
	s.remoteDescriptionSet()

	answer, err := s.media.CreateAnswer()
	if err != nil {
		s.abort(fmt.Errorf("create answer: %w", err))
		return
	}
	log.Info().Str("module", "call").Msg("sending answer")
	s.signaling.Send(domain.SignalMessage{Type: domain.SignalAnswer, SDP: answer.SDP})
}

func (s *Session) onSignal(msg domain.SignalMessage) {
	switch msg.Type {
	case domain.SignalOffer:
		if s.room.IsInitiator {
			log.Warn().Str("module", "call").Msg("offer received by initiator, ignored")
			return
		}
		s.pendingOffer = &domain.SDPPayload{Type: string(domain.SignalOffer), SDP: msg.SDP}
		if s.accepted {
			s.answer()
			return
		}
		log.Info().Str("module", "call").Str("caller", s.callInfo.Name).Msg("incoming call")
		s.emit(Event{Kind: EventIncomingCall, IncomingCall: s.callInfo})

	case domain.SignalAnswer:
		err := s.media.SetRemoteDescription(domain.SDPPayload{Type: string(domain.SignalAnswer), SDP: msg.SDP})
		if err != nil {
			s.abort(fmt.Errorf("set remote answer: %w", err))
			return
		}
		s.remoteDescriptionSet()

	case domain.SignalCandidate:
		if !s.remoteSet {
			s.pendingCandidates = append(s.pendingCandidates, msg.Candidate)
			return
		}
		s.addCandidate(msg.Candidate)

	case domain.SignalCandidateRemoval:
		if err := s.media.RemoveICECandidates(msg.Candidates); err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("remove candidates")
		}

	case domain.SignalBye:
		log.Info().Str("module", "call").Msg("remote hung up")
		s.leave(true)
	}
}

func (s *Session) remoteDescriptionSet() {
	s.remoteSet = true
	for _, c := range s.pendingCandidates {
		s.addCandidate(c)
	}
	s.pendingCandidates = nil
}

func (s *Session) addCandidate(c domain.ICECandidatePayload) {
	if err := s.media.AddICECandidate(c); err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("add remote candidate")
	}
}

func (s *Session) onLocalCandidate(c domain.ICECandidatePayload) {
	s.signaling.Send(domain.SignalMessage{Type: domain.SignalCandidate, Candidate: c})
}

func (s *Session) onICEState(st domain.ICEState) {
	log.Debug().Str("module", "call").Stringer("ice", st).Msg("ice state")
	switch {
	case st.Established() && s.state == Connecting:
		s.setState(Connected)
		s.publishTracks()
		s.emitConnectState()
	case st.Lost() && (s.state == Connecting || s.state == Connected):
		log.Warn().Str("module", "call").Stringer("ice", st).Msg("media path lost")
		s.leave(true)
	}
}

func (s *Session) onRemoteTrack(t domain.MediaTrack) {
	if s.stagedRemote != nil && s.stagedRemote.Kind() == domain.TrackVideo && t.Kind() != domain.TrackVideo {
		return
	}
	s.stagedRemote = t
	if s.state == Connected {
		s.remoteTrack = t
		s.emit(Event{Kind: EventRemoteTrack, Track: t})
	}
}

func (s *Session) publishTracks() {
	if s.stagedLocal != nil {
		s.localTrack = s.stagedLocal
		s.emit(Event{Kind: EventLocalTrack, Track: s.localTrack})
	}
	if s.stagedRemote != nil {
		s.remoteTrack = s.stagedRemote
		s.emit(Event{Kind: EventRemoteTrack, Track: s.remoteTrack})
	}
}

func (s *Session) releaseTracks() {
	s.stagedLocal, s.stagedRemote = nil, nil
	if s.localTrack != nil {
		s.localTrack = nil
		s.emit(Event{Kind: EventLocalTrack})
	}
	if s.remoteTrack != nil {
		s.remoteTrack = nil
		s.emit(Event{Kind: EventRemoteTrack})
	}
}

// teardown closes the transports of the current attempt. Callbacks still
// queued for it are dropped.
func (s *Session) teardown() {
	s.attempt++
	s.stopCapture()
	if s.signaling != nil {
		s.signaling.Close()
		s.signaling = nil
	}
	if s.media != nil {
		s.media.Close()
		s.media = nil
	}
	s.room = nil
	s.remoteSet = false
	s.pendingOffer = nil
	s.pendingCandidates = nil
}

// leave drops the call and tells the server. With reconnect set the session
// rejoins once the server acknowledged.
func (s *Session) leave(reconnect bool) {
	if s.state != Connecting && s.state != Connected {
		return
	}
	s.setState(Leaving)
	s.releaseTracks()
	s.emitConnectState()
	s.teardown()

	log.Info().Str("module", "call").Bool("reconnect", reconnect).Msg("leaving room")
	s.deps.Negotiator.Leave(s.ctx, s.cfg.ConsultationID, s.cfg.Token, func(err error) {
		s.loop.Post(func() { s.onLeft(err, reconnect) })
	})
}

func (s *Session) onLeft(err error, reconnect bool) {
	if s.state != Leaving {
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "call").Msg("leave failed")
		s.emit(Event{Kind: EventError, Err: fmt.Errorf("leave room: %w", err)})
	}
	s.setState(Disconnected)
	s.emitConnectState()
	if reconnect {
		s.reconnect()
	}
}

func (s *Session) acceptCall() {
	s.accepted = true
	switch {
	case s.pendingOffer != nil:
		s.answer()
	case s.state == Disconnected:
		s.connect(s.audioOnly)
	}
}

// hangup sends bye and tears the call down for good.
func (s *Session) hangup(leaveRoom bool) {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	inRoom := s.state == Connecting || s.state == Connected

	s.releaseTracks()
	s.setState(Disconnected)
	s.emitConnectState()
	if s.signaling != nil {
		s.signaling.Send(domain.SignalMessage{Type: domain.SignalBye})
	}
	s.teardown()

	if !leaveRoom || !inRoom {
		return
	}
	log.Info().Str("module", "call").Msg("leaving room")
	ctx, cancel := context.WithTimeout(context.Background(), leaveTimeout)
	s.deps.Negotiator.Leave(ctx, s.cfg.ConsultationID, s.cfg.Token, func(err error) {
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("module", "call").Msg("leave failed")
		}
	})
}

func (s *Session) shutdown(leaveRoom bool) {
	s.closeOnce.Do(func() {
		s.loop.Do(func() { s.hangup(leaveRoom) })
		s.loop.Stop()
		s.cancel()
		s.events.Close()
		if s.deps.Release != nil {
			s.deps.Release()
		}
		log.Info().Str("module", "call").Str("consultation", s.cfg.ConsultationID).Msg("call ended")
	})
}

func (s *Session) switchCamera() {
	if !s.capturing {
		return
	}
	s.stopCapture()
	s.facing = s.facing.Opposite()
	s.startCapture()
}

func (s *Session) startCapture() {
	if s.deps.Camera == nil {
		return
	}
	format, ok := SelectFormat(s.deps.Camera.Formats(s.facing))
	if !ok {
		log.Warn().Str("module", "call").Stringer("facing", s.facing).Msg("no camera format")
		return
	}
	fps := SelectFPS(format)
	if err := s.deps.Camera.StartCapture(format, fps); err != nil {
		log.Warn().Err(err).Str("module", "call").Str("device", format.DeviceID).Msg("start capture")
		return
	}
	log.Info().Str("module", "call").Str("device", format.DeviceID).Stringer("facing", s.facing).
		Int("width", format.Width).Int("height", format.Height).Int("fps", fps).Msg("capture started")
	s.capturing = true
}

func (s *Session) stopCapture() {
	if !s.capturing {
		return
	}
	s.deps.Camera.StopCapture()
	s.capturing = false
}

// attemptHandler routes transport callbacks of one connect attempt onto the
// loop and drops them once the attempt is torn down.
type attemptHandler struct {
	s       *Session
	attempt uint64
}

func (h *attemptHandler) post(fn func()) {
	h.s.loop.Post(func() {
		if h.attempt != h.s.attempt {
			return
		}
		fn()
	})
}

func (h *attemptHandler) OnChannelState(st domain.ChannelState) {
	h.post(func() { h.s.onChannelState(st) })
}

func (h *attemptHandler) OnSignal(msg domain.SignalMessage) {
	h.post(func() { h.s.onSignal(msg) })
}

func (h *attemptHandler) OnLocalCandidate(c domain.ICECandidatePayload) {
	h.post(func() { h.s.onLocalCandidate(c) })
}

func (h *attemptHandler) OnICEState(st domain.ICEState) {
	h.post(func() { h.s.onICEState(st) })
}

func (h *attemptHandler) OnRemoteTrack(t domain.MediaTrack) {
	h.post(func() { h.s.onRemoteTrack(t) })
}
