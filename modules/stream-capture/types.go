package streamcapture

import (
	"fmt"
	"time"

	"github.com/e7canasta/orion-care-sensor/internal/backoff"
)

// Kind selects the capture backend.
type Kind string

const (
	// KindV4L2 captures from a local camera (/dev/videoN)
	KindV4L2 Kind = "v4l2"
	// KindRTSP captures from an IP camera (H.264 over RTSP)
	KindRTSP Kind = "rtsp"
	// KindTest captures from videotestsrc (no hardware needed)
	KindTest Kind = "test"
)

// Facing modes understood by the device map.
const (
	FacingUser        = "user"
	FacingEnvironment = "environment"
)

// Config describes a camera and the devices it can select between.
type Config struct {
	// Name identifies the camera in logs and frames (Frame.SourceStream)
	Name string `yaml:"name"`
	// Kind is the capture backend (default: v4l2)
	Kind Kind `yaml:"kind"`
	// Device is the default device path or RTSP URL (default: /dev/video0)
	Device string `yaml:"device"`
	// Facing is the facing mode of Device (default: environment)
	Facing string `yaml:"facing"`
	// Devices maps facing modes to alternative devices or URLs
	Devices map[string]string `yaml:"devices"`
	// MJPEG decodes a v4l2 camera that only delivers MJPEG
	MJPEG bool `yaml:"mjpeg"`
	// TestPattern is the videotestsrc pattern for KindTest
	TestPattern int `yaml:"test_pattern"`
	// StartTimeout bounds the wait for PLAYING (default: 10s)
	StartTimeout time.Duration `yaml:"start_timeout"`
	// Reconnect restarts a failed RTSP pipeline before reporting an error.
	// MaxRetries 0 disables reconnection.
	Reconnect backoff.Config `yaml:"reconnect"`
}

func (c *Config) applyDefaults() {
	if c.Kind == "" {
		c.Kind = KindV4L2
	}
	if c.Device == "" && c.Kind == KindV4L2 {
		c.Device = "/dev/video0"
	}
	if c.Facing == "" {
		c.Facing = FacingEnvironment
	}
	if c.Name == "" {
		c.Name = string(c.Kind)
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = 10 * time.Second
	}
}

// Validate checks the configuration (fail-fast).
func (c Config) Validate() error {
	switch c.Kind {
	case KindV4L2, KindTest:
	case KindRTSP:
		if c.Device == "" {
			return fmt.Errorf("stream-capture: RTSP URL is required")
		}
	default:
		return fmt.Errorf("stream-capture: unknown camera kind %q", c.Kind)
	}
	return nil
}

// StreamStats contains current stream statistics
type StreamStats struct {
	// FrameCount is the total number of frames captured
	FrameCount uint64
	// FramesDropped is the total number of frames dropped (consumer busy)
	FramesDropped uint64
	// DropRate is the percentage of frames dropped (0-100)
	DropRate float64
	// FPSTarget is the requested frame rate (0 = source rate)
	FPSTarget float64
	// FPSReal is the measured real FPS
	FPSReal float64
	// LatencyMS is the time since last frame in milliseconds
	LatencyMS int64
	// SourceStream identifies the camera
	SourceStream string
	// Resolution is the negotiated frame resolution (e.g., "1280x720")
	Resolution string
	// Reconnects is the number of reconnection attempts
	Reconnects uint32
	// BytesRead is the total bytes read from the stream
	BytesRead uint64
	// IsConnected indicates if the stream is currently playing
	IsConnected bool

	// Error telemetry by category
	ErrorsPermission uint64
	ErrorsNotFound   uint64
	ErrorsConstraint uint64
	ErrorsNetwork    uint64
	ErrorsCodec      uint64
	ErrorsUnknown    uint64
}
