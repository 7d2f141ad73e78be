package webrtc

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/drtelemed/drsdk/internal/domain"
)

// LocalTrack is an outgoing track fed with encoded samples.
type LocalTrack struct {
	track *pion.TrackLocalStaticSample
	kind  domain.TrackKind
}

func newLocalTrack(c pion.RTPCodecCapability, id string, kind domain.TrackKind) (*LocalTrack, error) {
	track, err := pion.NewTrackLocalStaticSample(c, id, "drsdk-"+uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	return &LocalTrack{track: track, kind: kind}, nil
}

func (t *LocalTrack) ID() string             { return t.track.ID() }
func (t *LocalTrack) Kind() domain.TrackKind { return t.kind }

// WriteSample sends one encoded frame.
func (t *LocalTrack) WriteSample(s media.Sample) error {
	return t.track.WriteSample(s)
}

// RemoteTrack is an incoming track. Packets are delivered to the sink while
// the track is enabled and dropped otherwise.
type RemoteTrack struct {
	track *pion.TrackRemote

	mu      sync.Mutex
	enabled bool
	sink    func(*rtp.Packet)
}

func newRemoteTrack(track *pion.TrackRemote) *RemoteTrack {
	return &RemoteTrack{track: track, enabled: true}
}

func (t *RemoteTrack) ID() string { return t.track.ID() }

func (t *RemoteTrack) Kind() domain.TrackKind {
	if t.track.Kind() == pion.RTPCodecTypeVideo {
		return domain.TrackVideo
	}
	return domain.TrackAudio
}

// Codec returns the negotiated mime type.
func (t *RemoteTrack) Codec() string {
	return t.track.Codec().MimeType
}

// SetSink installs the packet consumer.
func (t *RemoteTrack) SetSink(fn func(*rtp.Packet)) {
	t.mu.Lock()
	t.sink = fn
	t.mu.Unlock()
}

// SetEnabled opens or closes the delivery gate.
func (t *RemoteTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *RemoteTrack) deliver(pkt *rtp.Packet) {
	t.mu.Lock()
	sink := t.sink
	if !t.enabled {
		sink = nil
	}
	t.mu.Unlock()
	if sink != nil {
		sink(pkt)
	}
}

func (t *RemoteTrack) pump() {
	for {
		pkt, _, err := t.track.ReadRTP()
		if err != nil {
			return
		}
		t.deliver(pkt)
	}
}
