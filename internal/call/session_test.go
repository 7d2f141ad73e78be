package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/drtelemed/drsdk/internal/domain"
)

// --- mocks ---

type fakeTrack struct {
	id   string
	kind domain.TrackKind
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind { return t.kind }

type fakeNegotiator struct {
	mu      sync.Mutex
	room    *domain.RoomNegotiationResult
	joinErr error
	hold    bool
	joins   int
	leaves  int
	held    []func(*domain.RoomNegotiationResult, error)
}

func (n *fakeNegotiator) Join(_ context.Context, _, _ string, done func(*domain.RoomNegotiationResult, error)) {
	n.mu.Lock()
	n.joins++
	if n.hold {
		n.held = append(n.held, done)
		n.mu.Unlock()
		return
	}
	room, err := n.room, n.joinErr
	n.mu.Unlock()

	if err != nil {
		done(nil, err)
		return
	}
	r := *room
	done(&r, nil)
}

func (n *fakeNegotiator) Leave(_ context.Context, _, _ string, done func(error)) {
	n.mu.Lock()
	n.leaves++
	n.mu.Unlock()
	done(nil)
}

func (n *fakeNegotiator) counts() (joins, leaves int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.joins, n.leaves
}

type fakeOrders struct {
	order *domain.Consultation
}

func (o *fakeOrders) FetchOrder(_ context.Context, _ string, done func(*domain.Consultation, error)) {
	done(o.order, nil)
}

type fakeSignaling struct {
	cfg     domain.SignalingConfig
	handler domain.SignalingHandler
	sent    chan domain.SignalMessage

	mu         sync.Mutex
	registered []string
	closed     bool
}

func (f *fakeSignaling) Connect() error {
	f.handler.OnChannelState(domain.ChannelOpen)
	return nil
}

func (f *fakeSignaling) Register(roomID, clientID string) {
	f.mu.Lock()
	f.registered = append(f.registered, roomID+"/"+clientID)
	f.mu.Unlock()
	f.handler.OnChannelState(domain.ChannelRegistered)
}

func (f *fakeSignaling) Send(msg domain.SignalMessage) {
	f.sent <- msg
}

func (f *fakeSignaling) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSignaling) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeMedia struct {
	cfg     domain.MediaConfig
	handler domain.MediaHandler

	mu         sync.Mutex
	remote     []domain.SDPPayload
	candidates []domain.ICECandidatePayload
	audio      bool
	video      bool
	speaker    bool
	closed     bool
}

func (m *fakeMedia) CreateLocalTrack(audioOnly bool) (domain.MediaTrack, error) {
	if audioOnly {
		return &fakeTrack{id: "local-audio", kind: domain.TrackAudio}, nil
	}
	return &fakeTrack{id: "local-video", kind: domain.TrackVideo}, nil
}

func (m *fakeMedia) CreateOffer() (domain.SDPPayload, error) {
	return domain.SDPPayload{Type: "offer", SDP: "v=0 offer"}, nil
}

func (m *fakeMedia) CreateAnswer() (domain.SDPPayload, error) {
	return domain.SDPPayload{Type: "answer", SDP: "v=0 answer"}, nil
}

func (m *fakeMedia) SetRemoteDescription(sdp domain.SDPPayload) error {
	m.mu.Lock()
	m.remote = append(m.remote, sdp)
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) AddICECandidate(c domain.ICECandidatePayload) error {
	m.mu.Lock()
	m.candidates = append(m.candidates, c)
	m.mu.Unlock()
	return nil
}

func (m *fakeMedia) RemoveICECandidates([]domain.ICECandidatePayload) error { return nil }

func (m *fakeMedia) SetAudioEnabled(enabled bool) {
	m.mu.Lock()
	m.audio = enabled
	m.mu.Unlock()
}

func (m *fakeMedia) SetVideoEnabled(enabled bool) {
	m.mu.Lock()
	m.video = enabled
	m.mu.Unlock()
}

func (m *fakeMedia) SetSpeakerEnabled(enabled bool) {
	m.mu.Lock()
	m.speaker = enabled
	m.mu.Unlock()
}

func (m *fakeMedia) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

type fakeCamera struct {
	mu      sync.Mutex
	formats map[domain.CameraFacing][]domain.CameraFormat
	started []domain.CameraFormat
	fps     []int
	stops   int
}

func (c *fakeCamera) Formats(facing domain.CameraFacing) []domain.CameraFormat {
	return c.formats[facing]
}

func (c *fakeCamera) StartCapture(f domain.CameraFormat, fps int) error {
	c.mu.Lock()
	c.started = append(c.started, f)
	c.fps = append(c.fps, fps)
	c.mu.Unlock()
	return nil
}

func (c *fakeCamera) StopCapture() {
	c.mu.Lock()
	c.stops++
	c.mu.Unlock()
}

type fakeReachability struct {
	mu sync.Mutex
	fn func(bool)
}

func (r *fakeReachability) Subscribe(fn func(bool)) func() {
	r.mu.Lock()
	r.fn = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.fn = nil
		r.mu.Unlock()
	}
}

func (r *fakeReachability) set(reachable bool) {
	r.mu.Lock()
	fn := r.fn
	r.mu.Unlock()
	if fn != nil {
		fn(reachable)
	}
}

// --- harness ---

type harness struct {
	neg    *fakeNegotiator
	medias chan *fakeMedia
	sigs   chan *fakeSignaling
	deps   Deps
}

func newHarness(initiator bool) *harness {
	h := &harness{
		neg: &fakeNegotiator{room: &domain.RoomNegotiationResult{
			RoomID:       "r1",
			ClientID:     "c1",
			SignalingURL: "wss://collider.example/ws",
			IsInitiator:  initiator,
			ICEServers:   []domain.ICEServer{{URLs: []string{domain.DefaultSTUNServer}}},
		}},
		medias: make(chan *fakeMedia, 8),
		sigs:   make(chan *fakeSignaling, 8),
	}
	h.deps = Deps{
		Negotiator: h.neg,
		Media: func(cfg domain.MediaConfig, mh domain.MediaHandler) (domain.MediaTransport, error) {
			m := &fakeMedia{cfg: cfg, handler: mh}
			h.medias <- m
			return m, nil
		},
		Signaling: func(cfg domain.SignalingConfig, sh domain.SignalingHandler) domain.SignalingTransport {
			s := &fakeSignaling{cfg: cfg, handler: sh, sent: make(chan domain.SignalMessage, 32)}
			h.sigs <- s
			return s
		},
	}
	return h
}

func (h *harness) media(t *testing.T) *fakeMedia {
	t.Helper()
	select {
	case m := <-h.medias:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("media transport not created")
	}
	return nil
}

func (h *harness) signaling(t *testing.T) *fakeSignaling {
	t.Helper()
	select {
	case s := <-h.sigs:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("signaling transport not created")
	}
	return nil
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event stream closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func nextSent(t *testing.T, s *fakeSignaling) domain.SignalMessage {
	t.Helper()
	select {
	case msg := <-s.sent:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signaling message")
	}
	return domain.SignalMessage{}
}

func expectConnectState(t *testing.T, events <-chan Event, want int) {
	t.Helper()
	ev := nextEvent(t, events)
	if ev.Kind != EventConnectState || ev.ConnectState != want {
		t.Fatalf("expected connect state %d, got %s %+v", want, ev.Kind, ev)
	}
}

// flush waits until every task queued on the session loop so far has run.
func flush(s *Session) {
	s.loop.Do(func() {})
}

func expectNoEvent(t *testing.T, s *Session, events <-chan Event) {
	t.Helper()
	flush(s)
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s %+v", ev.Kind, ev)
	default:
	}
}

// connectToConnected drives a fresh initiator session to Connected.
func connectToConnected(t *testing.T, h *harness) (*Session, <-chan Event, *fakeMedia, *fakeSignaling) {
	t.Helper()
	s := New(Config{ConsultationID: "42", Token: "tok"}, h.deps)
	events, _ := s.Subscribe()
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	expectConnectState(t, events, Disconnect)

	m := h.media(t)
	sig := h.signaling(t)
	if msg := nextSent(t, sig); msg.Type != domain.SignalOffer {
		t.Fatalf("expected offer, got %s", msg.Type)
	}

	m.handler.OnRemoteTrack(&fakeTrack{id: "remote-video", kind: domain.TrackVideo})
	m.handler.OnICEState(domain.ICEConnected)

	if ev := nextEvent(t, events); ev.Kind != EventLocalTrack || ev.Track == nil {
		t.Fatalf("expected local track, got %s", ev.Kind)
	}
	if ev := nextEvent(t, events); ev.Kind != EventRemoteTrack || ev.Track.ID() != "remote-video" {
		t.Fatalf("expected remote track, got %s", ev.Kind)
	}
	expectConnectState(t, events, Connect)
	return s, events, m, sig
}

// --- tests ---

func TestConnect_ReachesConnected(t *testing.T) {
	h := newHarness(true)
	s, _, m, sig := connectToConnected(t, h)
	defer s.CompleteCall()

	if sig.cfg.RoomID != "r1" || sig.cfg.ClientID != "c1" {
		t.Errorf("unexpected signaling config %+v", sig.cfg)
	}
	sig.mu.Lock()
	registered := sig.registered
	sig.mu.Unlock()
	if len(registered) != 1 || registered[0] != "r1/c1" {
		t.Errorf("expected register r1/c1, got %v", registered)
	}
	if len(m.cfg.ICEServers) != 1 || m.cfg.AudioOnly {
		t.Errorf("unexpected media config %+v", m.cfg)
	}
	if s.State() != Connected {
		t.Errorf("expected connected, got %s", s.State())
	}
}

func TestConnect_JoinFailureReportsAndStaysDisconnected(t *testing.T) {
	h := newHarness(true)
	h.neg.joinErr = errors.New("server error 500")

	s := New(Config{ConsultationID: "42", Token: "tok"}, h.deps)
	defer s.CompleteCall()
	events, _ := s.Subscribe()
	s.Start()

	expectConnectState(t, events, Disconnect)
	ev := nextEvent(t, events)
	if ev.Kind != EventError || !errors.Is(ev.Err, h.neg.joinErr) {
		t.Fatalf("expected join error, got %s %v", ev.Kind, ev.Err)
	}
	expectNoEvent(t, s, events)

	if s.State() != Disconnected {
		t.Errorf("expected disconnected, got %s", s.State())
	}
	if joins, _ := h.neg.counts(); joins != 1 {
		t.Errorf("expected no automatic retry, got %d joins", joins)
	}

	s.Reconnect()
	flush(s)
	if joins, _ := h.neg.counts(); joins != 2 {
		t.Errorf("expected reconnect to join again, got %d joins", joins)
	}
}

func TestRemoteBye_ReleasesTracksLeavesAndReconnects(t *testing.T) {
	h := newHarness(true)
	s, events, m, sig := connectToConnected(t, h)
	defer s.CompleteCall()

	sig.handler.OnSignal(domain.SignalMessage{Type: domain.SignalBye})

	if ev := nextEvent(t, events); ev.Kind != EventLocalTrack || ev.Track != nil {
		t.Fatalf("expected local track release, got %s %+v", ev.Kind, ev)
	}
	if ev := nextEvent(t, events); ev.Kind != EventRemoteTrack || ev.Track != nil {
		t.Fatalf("expected remote track release, got %s %+v", ev.Kind, ev)
	}
	expectConnectState(t, events, Disconnect)

	// the reconnect builds fresh transports
	h.media(t)
	h.signaling(t)

	joins, leaves := h.neg.counts()
	if leaves != 1 || joins != 2 {
		t.Errorf("expected 1 leave and 2 joins, got leaves=%d joins=%d", leaves, joins)
	}
	m.mu.Lock()
	mediaClosed := m.closed
	m.mu.Unlock()
	if !mediaClosed || !sig.isClosed() {
		t.Error("expected previous transports closed")
	}
	if s.State() != Connecting {
		t.Errorf("expected connecting after reconnect, got %s", s.State())
	}
}

func TestICEFailure_Reconnects(t *testing.T) {
	h := newHarness(true)
	s, events, m, _ := connectToConnected(t, h)
	defer s.CompleteCall()

	m.handler.OnICEState(domain.ICEFailed)
	nextEvent(t, events)
	nextEvent(t, events)
	expectConnectState(t, events, Disconnect)

	h.media(t)
	if joins, leaves := h.neg.counts(); joins != 2 || leaves != 1 {
		t.Errorf("expected leave then rejoin, got joins=%d leaves=%d", joins, leaves)
	}
}

func TestStaleCallbacksDropped(t *testing.T) {
	h := newHarness(true)
	s, events, m, sig := connectToConnected(t, h)
	defer s.CompleteCall()

	sig.handler.OnChannelState(domain.ChannelClosed)
	nextEvent(t, events)
	nextEvent(t, events)
	expectConnectState(t, events, Disconnect)
	h.media(t)
	h.signaling(t)

	// the old media transport reports connected after it was torn down
	m.handler.OnICEState(domain.ICEConnected)
	expectNoEvent(t, s, events)
	if s.State() == Connected {
		t.Error("stale ICE state must not connect the new attempt")
	}
}

func TestICE_CheckingIsNotConnected(t *testing.T) {
	h := newHarness(true)
	s := New(Config{ConsultationID: "42"}, h.deps)
	defer s.CompleteCall()
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	m := h.media(t)
	h.signaling(t)

	m.handler.OnICEState(domain.ICENew)
	m.handler.OnICEState(domain.ICEChecking)
	flush(s)
	if st := s.State(); st != Connecting {
		t.Errorf("expected connecting while ICE checks, got %s", st)
	}

	m.handler.OnICEState(domain.ICECompleted)
	flush(s)
	if st := s.State(); st != Connected {
		t.Errorf("expected completed ICE to connect, got %s", st)
	}
}

func TestCompleteCall_SilentAfterReturn(t *testing.T) {
	h := newHarness(true)
	s, events, m, sig := connectToConnected(t, h)

	s.CompleteCall()

	if msg := nextSent(t, sig); msg.Type != domain.SignalBye {
		t.Errorf("expected bye, got %s", msg.Type)
	}
	if _, leaves := h.neg.counts(); leaves != 1 {
		t.Errorf("expected leave on hangup, got %d", leaves)
	}

	var kinds []EventKind
	for ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	want := []EventKind{EventLocalTrack, EventRemoteTrack, EventConnectState}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v before close, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v before close, got %v", want, kinds)
		}
	}

	m.handler.OnICEState(domain.ICEConnected)
	sig.handler.OnSignal(domain.SignalMessage{Type: domain.SignalBye})
	if joins, _ := h.neg.counts(); joins != 1 {
		t.Errorf("expected no reconnect after hangup, got %d joins", joins)
	}
	if err := s.Start(); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}

	// idempotent
	s.CompleteCall()
}

func TestCompleteCall_NotBlockedByIdleSubscriber(t *testing.T) {
	h := newHarness(true)
	s, _, _, sig := connectToConnected(t, h)

	// the subscription stays open but is never read again
	for i := 0; i < eventBuffer+6; i++ {
		s.ReportVideoSize(640+i, 480)
	}

	done := make(chan struct{})
	go func() {
		s.CompleteCall()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CompleteCall blocked by a subscriber that stopped reading")
	}
	if msg := nextSent(t, sig); msg.Type != domain.SignalBye {
		t.Errorf("expected bye, got %s", msg.Type)
	}
}

func TestCompleteCall_ReleasesOnce(t *testing.T) {
	h := newHarness(true)
	var released int
	h.deps.Release = func() { released++ }
	s := New(Config{ConsultationID: "42"}, h.deps)

	s.CompleteCall()
	s.RejectCall()
	s.CompleteCall()
	if released != 1 {
		t.Errorf("expected one release, got %d", released)
	}
}

func TestRejectCall_SendsByeWithoutLeave(t *testing.T) {
	h := newHarness(true)
	s, _, _, sig := connectToConnected(t, h)

	s.RejectCall()

	if msg := nextSent(t, sig); msg.Type != domain.SignalBye {
		t.Errorf("expected bye, got %s", msg.Type)
	}
	if _, leaves := h.neg.counts(); leaves != 0 {
		t.Errorf("expected no leave on reject, got %d", leaves)
	}
	if !sig.isClosed() {
		t.Error("expected signaling closed")
	}
}

func TestReconnect_NoopUnlessDisconnected(t *testing.T) {
	h := newHarness(true)
	h.neg.hold = true

	s := New(Config{ConsultationID: "42"}, h.deps)
	defer s.CompleteCall()
	s.Start()
	flush(s)

	if s.State() != Connecting {
		t.Fatalf("expected connecting, got %s", s.State())
	}
	s.Reconnect()
	s.Connect(true)
	flush(s)

	if joins, _ := h.neg.counts(); joins != 1 {
		t.Errorf("expected a single join, got %d", joins)
	}
}

func TestReachability_DrivesConnect(t *testing.T) {
	h := newHarness(true)
	reach := &fakeReachability{}
	h.deps.Reachability = reach

	s := New(Config{ConsultationID: "42"}, h.deps)
	defer s.CompleteCall()
	events, _ := s.Subscribe()
	s.Start()
	expectConnectState(t, events, Disconnect)
	flush(s)

	if joins, _ := h.neg.counts(); joins != 0 {
		t.Fatalf("expected no join before reachable, got %d", joins)
	}

	reach.set(true)
	m := h.media(t)
	h.signaling(t)
	m.handler.OnICEState(domain.ICEConnected)
	nextEvent(t, events) // local track
	expectConnectState(t, events, Connect)

	reach.set(false)
	nextEvent(t, events) // local track released
	expectConnectState(t, events, Disconnect)
	h.media(t) // rejoin after leave

	if _, leaves := h.neg.counts(); leaves != 1 {
		t.Errorf("expected leave on reachability loss, got %d", leaves)
	}
}

func TestIncomingCall_AnsweredOnAccept(t *testing.T) {
	h := newHarness(false)
	specialization := 7
	h.deps.Orders = &fakeOrders{order: &domain.Consultation{
		SpecializationName: "Therapist",
		SpecializationID:   &specialization,
		Doctor:             &domain.Doctor{FullName: "Ivan Petrov", Photo: "https://cdn.example/p.jpg"},
	}}

	s := New(Config{ConsultationID: "42"}, h.deps)
	defer s.CompleteCall()
	events, _ := s.Subscribe()
	s.Start()
	expectConnectState(t, events, Disconnect)

	m := h.media(t)
	sig := h.signaling(t)
	sig.handler.OnSignal(domain.SignalMessage{Type: domain.SignalOffer, SDP: "v=0 remote"})

	ev := nextEvent(t, events)
	if ev.Kind != EventIncomingCall {
		t.Fatalf("expected incoming call, got %s", ev.Kind)
	}
	if ev.IncomingCall.Name != "Ivan Petrov" || ev.IncomingCall.Specialization != "Therapist" {
		t.Errorf("unexpected caller info %+v", ev.IncomingCall)
	}
	select {
	case msg := <-sig.sent:
		t.Fatalf("nothing must be sent before accept, got %s", msg.Type)
	default:
	}

	s.AcceptCall()
	if msg := nextSent(t, sig); msg.Type != domain.SignalAnswer || msg.SDP != "v=0 answer" {
		t.Errorf("expected answer, got %+v", msg)
	}
	m.mu.Lock()
	remote := m.remote
	m.mu.Unlock()
	if len(remote) != 1 || remote[0].Type != "offer" || remote[0].SDP != "v=0 remote" {
		t.Errorf("unexpected remote descriptions %+v", remote)
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	h := newHarness(true)
	s := New(Config{ConsultationID: "42"}, h.deps)
	defer s.CompleteCall()
	s.Start()

	m := h.media(t)
	sig := h.signaling(t)
	nextSent(t, sig) // offer

	cand := domain.ICECandidatePayload{SDPMid: "0", Candidate: "candidate:1 1 udp 2122260223 10.0.0.2 50000 typ host"}
	sig.handler.OnSignal(domain.SignalMessage{Type: domain.SignalCandidate, Candidate: cand})
	flush(s)

	m.mu.Lock()
	early := len(m.candidates)
	m.mu.Unlock()
	if early != 0 {
		t.Fatalf("expected candidate held back, got %d", early)
	}

	sig.handler.OnSignal(domain.SignalMessage{Type: domain.SignalAnswer, SDP: "v=0 answer"})
	flush(s)

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.candidates) != 1 || m.candidates[0] != cand {
		t.Errorf("expected buffered candidate applied, got %+v", m.candidates)
	}
}

func TestLocalCandidatesForwarded(t *testing.T) {
	h := newHarness(true)
	s := New(Config{ConsultationID: "42"}, h.deps)
	defer s.CompleteCall()
	s.Start()

	m := h.media(t)
	sig := h.signaling(t)
	nextSent(t, sig) // offer

	cand := domain.ICECandidatePayload{SDPMid: "0", SDPMLineIndex: 0, Candidate: "candidate:2 1 udp 1 192.0.2.1 3478 typ relay"}
	m.handler.OnLocalCandidate(cand)

	msg := nextSent(t, sig)
	if msg.Type != domain.SignalCandidate || msg.Candidate != cand {
		t.Errorf("expected forwarded candidate, got %+v", msg)
	}
}

func TestCamera_StartAndSwitch(t *testing.T) {
	h := newHarness(true)
	cam := &fakeCamera{formats: map[domain.CameraFacing][]domain.CameraFormat{
		domain.FacingFront: {
			format("front", 640, 480, 30),
			format("front", 1280, 720, 15, 30),
		},
		domain.FacingBack: {
			format("back", 1920, 1080, 30),
			format("back", 1280, 720, 60),
		},
	}}
	h.deps.Camera = cam

	s := New(Config{ConsultationID: "42"}, h.deps)
	defer s.CompleteCall()
	s.Start()
	h.media(t)
	h.signaling(t)

	s.SwitchCamera()
	flush(s)

	cam.mu.Lock()
	defer cam.mu.Unlock()
	if len(cam.started) != 2 || cam.stops != 1 {
		t.Fatalf("expected two captures and one stop, got started=%d stops=%d", len(cam.started), cam.stops)
	}
	if cam.started[0].DeviceID != "front" || cam.started[0].Width != 1280 || cam.fps[0] != 30 {
		t.Errorf("unexpected front capture %+v fps=%d", cam.started[0], cam.fps[0])
	}
	if cam.started[1].DeviceID != "back" || cam.started[1].Height != 720 || cam.fps[1] != 60 {
		t.Errorf("unexpected back capture %+v fps=%d", cam.started[1], cam.fps[1])
	}
}

func TestCamera_AudioOnlySkipsCapture(t *testing.T) {
	h := newHarness(true)
	cam := &fakeCamera{formats: map[domain.CameraFacing][]domain.CameraFormat{
		domain.FacingFront: {format("front", 1280, 720, 30)},
	}}
	h.deps.Camera = cam

	s := New(Config{ConsultationID: "42", AudioOnly: true}, h.deps)
	defer s.CompleteCall()
	s.Start()
	m := h.media(t)
	h.signaling(t)

	s.SwitchCamera()
	flush(s)

	if !m.cfg.AudioOnly {
		t.Error("expected audio-only media config")
	}
	cam.mu.Lock()
	defer cam.mu.Unlock()
	if len(cam.started) != 0 {
		t.Errorf("expected no capture in audio-only call, got %d", len(cam.started))
	}
}

func TestVideoSize_OnlyWithRemoteTrack(t *testing.T) {
	h := newHarness(true)
	s := New(Config{ConsultationID: "42"}, h.deps)
	defer s.CompleteCall()
	events, _ := s.Subscribe()

	s.ReportVideoSize(640, 480)
	expectNoEvent(t, s, events)

	s.CompleteCall()

	h = newHarness(true)
	s, events, _, _ = connectToConnected(t, h)
	defer s.CompleteCall()

	s.ReportVideoSize(1280, 720)
	ev := nextEvent(t, events)
	if ev.Kind != EventVideoSize || ev.Width != 1280 || ev.Height != 720 {
		t.Errorf("unexpected event %s %+v", ev.Kind, ev)
	}

	s.ClearCall()
	nextEvent(t, events) // local released
	nextEvent(t, events) // remote released
	s.ReportVideoSize(320, 240)
	expectNoEvent(t, s, events)
}

func TestToggles_AppliedToMedia(t *testing.T) {
	h := newHarness(true)
	s := New(Config{ConsultationID: "42"}, h.deps)
	defer s.CompleteCall()

	if s.Muted() || !s.SpeakerEnabled() || !s.CameraEnabled() {
		t.Fatal("unexpected default toggles")
	}
	s.SetMuted(true)
	s.Start()
	m := h.media(t)
	h.signaling(t)

	s.SetCameraEnabled(false)
	s.SetSpeakerEnabled(false)
	flush(s)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.audio || m.video || m.speaker {
		t.Errorf("expected all disabled, got audio=%v video=%v speaker=%v", m.audio, m.video, m.speaker)
	}
	if !s.Muted() || s.CameraEnabled() || s.SpeakerEnabled() {
		t.Error("getters out of sync")
	}
}
