package webrtc

import (
	"io"
	"strings"
	"sync"

	"github.com/pion/rtp"
	pion "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/rs/zerolog/log"
)

// Recorder writes a remote H264 track as an Annex-B byte stream. Output
// starts at the first keyframe.
type Recorder struct {
	mu sync.Mutex
	w  *h264writer.H264Writer
}

// NewRecorder creates a recorder writing to out.
func NewRecorder(out io.Writer) *Recorder {
	return &Recorder{w: h264writer.NewWith(out)}
}

// WriteRTP depacketizes one packet.
func (r *Recorder) WriteRTP(pkt *rtp.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w.WriteRTP(pkt)
}

// Attach records t until the track ends. Non-H264 tracks are ignored.
func (r *Recorder) Attach(t *RemoteTrack) bool {
	if !strings.EqualFold(t.Codec(), pion.MimeTypeH264) {
		log.Info().Str("module", "webrtc").Str("codec", t.Codec()).Msg("not recording non-H264 track")
		return false
	}
	t.SetSink(func(pkt *rtp.Packet) {
		if err := r.WriteRTP(pkt); err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Msg("record write failed")
		}
	})
	return true
}

// Close flushes the writer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.w.Close()
}
