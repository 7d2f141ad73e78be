package webrtc

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/drtelemed/drsdk/internal/domain"
)

var videoFeedback = []pion.RTCPFeedback{
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
}

// Peer is the call's media transport on a Pion PeerConnection.
type Peer struct {
	pc      *pion.PeerConnection
	handler domain.MediaHandler

	mu             sync.Mutex
	audio          *LocalTrack
	video          *LocalTrack
	audioSender    *pion.RTPSender
	videoSender    *pion.RTPSender
	audioEnabled   bool
	videoEnabled   bool
	speakerEnabled bool
	remote         []*RemoteTrack
}

// Factory returns a MediaFactory producing Peers.
func Factory() domain.MediaFactory {
	return func(cfg domain.MediaConfig, h domain.MediaHandler) (domain.MediaTransport, error) {
		return NewPeer(cfg, h)
	}
}

func newMediaEngine() (*pion.MediaEngine, error) {
	m := &pion.MediaEngine{}

	video := []pion.RTPCodecParameters{
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeH264,
				ClockRate:    90000,
				SDPFmtpLine:  "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
				RTCPFeedback: videoFeedback,
			},
			PayloadType: 102,
		},
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:     pion.MimeTypeVP8,
				ClockRate:    90000,
				RTCPFeedback: videoFeedback,
			},
			PayloadType: 96,
		},
	}
	for _, c := range video {
		if err := m.RegisterCodec(c, pion.RTPCodecTypeVideo); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}

	audio := []pion.RTPCodecParameters{
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:    pion.MimeTypeOpus,
				ClockRate:   48000,
				Channels:    2,
				SDPFmtpLine: "minptime=10;useinbandfec=1",
			},
			PayloadType: 111,
		},
		{
			RTPCodecCapability: pion.RTPCodecCapability{
				MimeType:  pion.MimeTypePCMU,
				ClockRate: 8000,
				Channels:  1,
			},
			PayloadType: 0,
		},
	}
	for _, c := range audio {
		if err := m.RegisterCodec(c, pion.RTPCodecTypeAudio); err != nil {
			return nil, fmt.Errorf("register %s: %w", c.MimeType, err)
		}
	}
	return m, nil
}

func newInterceptors() (*interceptor.Registry, error) {
	i := &interceptor.Registry{}

	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responder)

	generator, err := nack.NewGeneratorInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack generator: %w", err)
	}
	i.Add(generator)

	return i, nil
}

// iceConfiguration converts the negotiated servers. Relay-only transport is
// only forced when a TURN server is actually available.
func iceConfiguration(cfg domain.MediaConfig) pion.Configuration {
	conf := pion.Configuration{BundlePolicy: pion.BundlePolicyMaxBundle}

	hasTURN := false
	for _, s := range cfg.ICEServers {
		conf.ICEServers = append(conf.ICEServers, pion.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
		for _, u := range s.URLs {
			if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
				hasTURN = true
			}
		}
	}
	if cfg.RelayRequired && hasTURN {
		conf.ICETransportPolicy = pion.ICETransportPolicyRelay
	}
	return conf
}

// NewPeer creates a PeerConnection for a call.
func NewPeer(cfg domain.MediaConfig, h domain.MediaHandler) (*Peer, error) {
	m, err := newMediaEngine()
	if err != nil {
		return nil, err
	}
	i, err := newInterceptors()
	if err != nil {
		return nil, err
	}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	)

	pc, err := api.NewPeerConnection(iceConfiguration(cfg))
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	p := &Peer{
		pc:             pc,
		handler:        h,
		audioEnabled:   true,
		videoEnabled:   true,
		speakerEnabled: true,
	}

	pc.OnICECandidate(p.onICECandidate)
	pc.OnICEConnectionStateChange(func(state pion.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("state", state.String()).Msg("ICE connection state")
		h.OnICEState(iceState(state))
	})
	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		log.Debug().Str("module", "webrtc").Str("state", state.String()).Msg("peer connection state")
	})
	pc.OnTrack(p.onTrack)

	return p, nil
}

func iceState(s pion.ICEConnectionState) domain.ICEState {
	switch s {
	case pion.ICEConnectionStateChecking:
		return domain.ICEChecking
	case pion.ICEConnectionStateConnected:
		return domain.ICEConnected
	case pion.ICEConnectionStateCompleted:
		return domain.ICECompleted
	case pion.ICEConnectionStateDisconnected:
		return domain.ICEDisconnected
	case pion.ICEConnectionStateFailed:
		return domain.ICEFailed
	case pion.ICEConnectionStateClosed:
		return domain.ICEClosed
	}
	return domain.ICENew
}

func (p *Peer) onICECandidate(c *pion.ICECandidate) {
	if c == nil {
		log.Debug().Str("module", "webrtc").Msg("ICE gathering complete")
		return
	}

	init := c.ToJSON()
	if isLoopback(init.Candidate) {
		log.Debug().Str("module", "webrtc").Msg("filtering loopback ICE candidate")
		return
	}
	p.handler.OnLocalCandidate(candidatePayload(init))
}

func candidatePayload(init pion.ICECandidateInit) domain.ICECandidatePayload {
	payload := domain.ICECandidatePayload{Candidate: init.Candidate}
	if init.SDPMid != nil {
		payload.SDPMid = *init.SDPMid
	}
	if init.SDPMLineIndex != nil {
		payload.SDPMLineIndex = int(*init.SDPMLineIndex)
	}
	return payload
}

func candidateInit(c domain.ICECandidatePayload) pion.ICECandidateInit {
	mid := c.SDPMid
	index := uint16(c.SDPMLineIndex)
	return pion.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	}
}

func (p *Peer) onTrack(track *pion.TrackRemote, _ *pion.RTPReceiver) {
	codec := track.Codec()
	log.Info().Str("module", "webrtc").Str("kind", track.Kind().String()).Str("codec", codec.MimeType).Msg("got remote track")

	rt := newRemoteTrack(track)
	p.mu.Lock()
	rt.SetEnabled(rt.Kind() != domain.TrackAudio || p.speakerEnabled)
	p.remote = append(p.remote, rt)
	p.mu.Unlock()

	go rt.pump()
	p.handler.OnRemoteTrack(rt)
}

// CreateLocalTrack attaches the local audio track and, unless audioOnly,
// the local video track. The host writes encoded samples to them.
func (p *Peer) CreateLocalTrack(audioOnly bool) (domain.MediaTrack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.audio == nil {
		audio, err := newLocalTrack(pion.RTPCodecCapability{MimeType: pion.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "audio", domain.TrackAudio)
		if err != nil {
			return nil, err
		}
		sender, err := p.pc.AddTrack(audio.track)
		if err != nil {
			return nil, fmt.Errorf("add audio track: %w", err)
		}
		go drainRTCP(sender)
		p.audio, p.audioSender = audio, sender
	}

	if audioOnly {
		return p.audio, nil
	}

	if p.video == nil {
		video, err := newLocalTrack(pion.RTPCodecCapability{MimeType: pion.MimeTypeH264, ClockRate: 90000}, "video", domain.TrackVideo)
		if err != nil {
			return nil, err
		}
		sender, err := p.pc.AddTrack(video.track)
		if err != nil {
			return nil, fmt.Errorf("add video track: %w", err)
		}
		go drainRTCP(sender)
		p.video, p.videoSender = video, sender
	}
	return p.video, nil
}

// drainRTCP keeps the sender's interceptors fed.
func drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (p *Peer) localDescription(sdpType string, create func() (pion.SessionDescription, error)) (domain.SDPPayload, error) {
	desc, err := create()
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("create %s: %w", sdpType, err)
	}
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("set local description: %w", err)
	}
	log.Info().Str("module", "webrtc").Str("type", sdpType).Msg("local SDP set")
	return domain.SDPPayload{Type: desc.Type.String(), SDP: desc.SDP}, nil
}

// CreateOffer creates an SDP offer and sets it as the local description.
func (p *Peer) CreateOffer() (domain.SDPPayload, error) {
	return p.localDescription("offer", func() (pion.SessionDescription, error) {
		return p.pc.CreateOffer(nil)
	})
}

// CreateAnswer creates an SDP answer and sets it as the local description.
func (p *Peer) CreateAnswer() (domain.SDPPayload, error) {
	return p.localDescription("answer", func() (pion.SessionDescription, error) {
		return p.pc.CreateAnswer(nil)
	})
}

// SetRemoteDescription applies the peer's offer or answer.
func (p *Peer) SetRemoteDescription(sdp domain.SDPPayload) error {
	desc := pion.SessionDescription{
		Type: pion.NewSDPType(sdp.Type),
		SDP:  sdp.SDP,
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	log.Info().Str("module", "webrtc").Str("type", sdp.Type).Msg("remote SDP set")
	return nil
}

// AddICECandidate adds a remote candidate. The remote description must be set.
func (p *Peer) AddICECandidate(c domain.ICECandidatePayload) error {
	if err := p.pc.AddICECandidate(candidateInit(c)); err != nil {
		return fmt.Errorf("add ice candidate: %w", err)
	}
	log.Debug().Str("module", "webrtc").Msg("added remote ICE candidate")
	return nil
}

// RemoveICECandidates is accepted for protocol compatibility; the ICE agent
// prunes dead pairs on its own.
func (p *Peer) RemoveICECandidates(cs []domain.ICECandidatePayload) error {
	log.Debug().Str("module", "webrtc").Int("count", len(cs)).Msg("ignoring candidate removal")
	return nil
}

func replaceTrack(sender *pion.RTPSender, track *LocalTrack, enabled bool) {
	if sender == nil || track == nil {
		return
	}
	var err error
	if enabled {
		err = sender.ReplaceTrack(track.track)
	} else {
		err = sender.ReplaceTrack(nil)
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "webrtc").Str("track", track.ID()).Msg("replace track failed")
	}
}

// SetAudioEnabled mutes or unmutes the microphone.
func (p *Peer) SetAudioEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.audioEnabled == enabled {
		return
	}
	p.audioEnabled = enabled
	replaceTrack(p.audioSender, p.audio, enabled)
}

// SetVideoEnabled turns the outgoing video on or off.
func (p *Peer) SetVideoEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.videoEnabled == enabled {
		return
	}
	p.videoEnabled = enabled
	replaceTrack(p.videoSender, p.video, enabled)
}

// SetSpeakerEnabled gates delivery of remote audio.
func (p *Peer) SetSpeakerEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speakerEnabled = enabled
	for _, rt := range p.remote {
		if rt.Kind() == domain.TrackAudio {
			rt.SetEnabled(enabled)
		}
	}
}

// Close shuts down the PeerConnection.
func (p *Peer) Close() {
	if err := p.pc.Close(); err != nil {
		log.Warn().Err(err).Str("module", "webrtc").Msg("close peer connection")
	}
}

func isLoopback(candidate string) bool {
	return strings.Contains(candidate, "127.0.0.1") || strings.Contains(candidate, "::1 ")
}
