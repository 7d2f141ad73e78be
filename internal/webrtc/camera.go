package webrtc

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/rs/zerolog/log"

	"github.com/drtelemed/drsdk/internal/domain"
)

// ErrNoCamera is returned when the requested capture device is not present.
var ErrNoCamera = errors.New("camera not found")

// FrameSink receives captured frames. The frame is only valid during the call.
type FrameSink func(img image.Image)

// CameraCatalog exposes the video recorders registered with mediadevices as
// a domain.Camera. Facing is derived from the device label.
type CameraCatalog struct {
	query func() []driver.Driver
	sink  FrameSink

	mu     sync.Mutex
	active driver.Driver
	stop   chan struct{}
}

// NewCameraCatalog creates a catalog over the registered drivers.
func NewCameraCatalog(sink FrameSink) *CameraCatalog {
	return &CameraCatalog{
		query: func() []driver.Driver {
			return driver.GetManager().Query(driver.FilterVideoRecorder())
		},
		sink: sink,
	}
}

func facingFromLabel(label string) domain.CameraFacing {
	l := strings.ToLower(label)
	if strings.Contains(l, "back") || strings.Contains(l, "rear") {
		return domain.FacingBack
	}
	return domain.FacingFront
}

// formatsFromProperties groups a device's properties by resolution. Each
// advertised frame rate becomes a fixed range.
func formatsFromProperties(deviceID string, props []prop.Media) []domain.CameraFormat {
	type size struct{ w, h int }
	index := map[size]int{}
	var formats []domain.CameraFormat

	for _, p := range props {
		if p.Width <= 0 || p.Height <= 0 {
			continue
		}
		key := size{p.Width, p.Height}
		i, ok := index[key]
		if !ok {
			i = len(formats)
			index[key] = i
			formats = append(formats, domain.CameraFormat{DeviceID: deviceID, Width: p.Width, Height: p.Height})
		}
		if p.FrameRate > 0 {
			fps := float64(p.FrameRate)
			formats[i].FrameRates = append(formats[i].FrameRates, domain.FrameRateRange{Min: fps, Max: fps})
		}
	}
	for i := range formats {
		sort.Slice(formats[i].FrameRates, func(a, b int) bool {
			return formats[i].FrameRates[a].Max < formats[i].FrameRates[b].Max
		})
	}
	return formats
}

// Formats lists the capture formats of the cameras facing the given side.
func (c *CameraCatalog) Formats(facing domain.CameraFacing) []domain.CameraFormat {
	drivers := c.query()
	var formats []domain.CameraFormat
	for _, d := range drivers {
		if facingFromLabel(d.Info().Label) != facing {
			continue
		}
		formats = append(formats, formatsFromProperties(d.ID(), d.Properties())...)
	}
	if len(formats) == 0 && len(drivers) > 0 {
		// no camera on that side, use the first one
		d := drivers[0]
		formats = formatsFromProperties(d.ID(), d.Properties())
	}
	return formats
}

// closestProperty picks the device property matching format whose frame
// rate is nearest to fps.
func closestProperty(props []prop.Media, format domain.CameraFormat, fps int) (prop.Media, bool) {
	var (
		best  prop.Media
		delta = math.Inf(1)
		found bool
	)
	for _, p := range props {
		if p.Width != format.Width || p.Height != format.Height {
			continue
		}
		d := math.Abs(float64(p.FrameRate) - float64(fps))
		if d < delta {
			best, delta, found = p, d, true
		}
	}
	return best, found
}

// StartCapture opens the format's device and streams frames to the sink
// until StopCapture.
func (c *CameraCatalog) StartCapture(format domain.CameraFormat, fps int) error {
	c.StopCapture()

	var dev driver.Driver
	for _, d := range c.query() {
		if d.ID() == format.DeviceID {
			dev = d
			break
		}
	}
	if dev == nil {
		return fmt.Errorf("%s: %w", format.DeviceID, ErrNoCamera)
	}

	p, ok := closestProperty(dev.Properties(), format, fps)
	if !ok {
		return fmt.Errorf("%s: no %dx%d mode: %w", format.DeviceID, format.Width, format.Height, ErrNoCamera)
	}

	recorder, ok := dev.(driver.VideoRecorder)
	if !ok {
		return fmt.Errorf("%s: not a video recorder: %w", format.DeviceID, ErrNoCamera)
	}
	if err := dev.Open(); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	r, err := recorder.VideoRecord(p)
	if err != nil {
		dev.Close()
		return fmt.Errorf("start capture: %w", err)
	}

	stop := make(chan struct{})
	c.mu.Lock()
	c.active, c.stop = dev, stop
	c.mu.Unlock()

	log.Info().Str("module", "webrtc").Str("device", dev.Info().Label).
		Int("width", p.Width).Int("height", p.Height).Float32("fps", p.FrameRate).Msg("capture started")

	go c.pump(r, stop)
	return nil
}

func (c *CameraCatalog) pump(r video.Reader, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		img, release, err := r.Read()
		if err != nil {
			log.Debug().Err(err).Str("module", "webrtc").Msg("capture ended")
			return
		}
		if c.sink != nil {
			c.sink(img)
		}
		if release != nil {
			release()
		}
	}
}

// StopCapture closes the active device, if any.
func (c *CameraCatalog) StopCapture() {
	c.mu.Lock()
	dev, stop := c.active, c.stop
	c.active, c.stop = nil, nil
	c.mu.Unlock()

	if dev == nil {
		return
	}
	close(stop)
	if err := dev.Close(); err != nil {
		log.Warn().Err(err).Str("module", "webrtc").Msg("close camera")
	}
	log.Info().Str("module", "webrtc").Msg("capture stopped")
}
