package streamcapture

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/e7canasta/orion-care-sensor/modules/stream-capture/internal/pipeline"
)

// Camera opens GStreamer capture streams. It implements Provider.
type Camera struct {
	cfg Config
}

var _ Provider = (*Camera)(nil)

// NewCamera creates a camera with fail-fast validation
//
// Validates configuration at construction time:
//   - Kind must be v4l2, rtsp or test
//   - RTSP cameras need a URL
//   - GStreamer must be available
func NewCamera(cfg Config) (*Camera, error) {
	c, err := newCamera(cfg)
	if err != nil {
		return nil, err
	}

	if err := pipeline.Available(); err != nil {
		return nil, fmt.Errorf("stream-capture: GStreamer not available: %w", err)
	}

	slog.Info("stream-capture: camera created",
		"name", c.cfg.Name,
		"kind", c.cfg.Kind,
		"device", c.cfg.Device,
		"facing", c.cfg.Facing,
		"alternatives", len(c.cfg.Devices),
	)
	return c, nil
}

func newCamera(cfg Config) (*Camera, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Camera{cfg: cfg}, nil
}

// Config returns the camera configuration with defaults applied.
func (c *Camera) Config() Config { return c.cfg }

// Open acquires a stream matching the constraints and waits until it plays.
func (c *Camera) Open(ctx context.Context, cons Constraints) (MediaStream, error) {
	if err := context.Cause(ctx); err != nil {
		return nil, err
	}

	if err := cons.Validate(); err != nil {
		return nil, &Error{Category: CategoryConstraint, Op: "open", Err: err}
	}

	location, facing, err := c.resolve(cons)
	if err != nil {
		return nil, err
	}

	target, _ := cons.FrameRate.Target()
	pcfg := pipeline.Config{
		Source:      string(c.cfg.Kind),
		Location:    location,
		MJPEG:       c.cfg.MJPEG,
		TestPattern: c.cfg.TestPattern,
		StrictCaps:  strictCaps(cons),
		OutputCaps:  outputCaps(cons),
		MaxRate:     idealMaxRate(cons),
		TargetFPS:   target,
	}

	s := newStream(c.cfg, location, facing, cons)
	if err := s.start(ctx, pcfg); err != nil {
		_ = s.Stop()
		return nil, err
	}
	return s, nil
}

// resolve picks the device for the constraints.
//
// An exact device id or facing mode must match a configured device. An ideal
// one is honoured when it matches and otherwise falls back to the default
// device.
func (c *Camera) resolve(cons Constraints) (location, facing string, err error) {
	if id := cons.DeviceID.Exact; id != "" {
		return id, c.facingOf(id), nil
	}

	if fm := cons.FacingMode.Exact; fm != "" {
		if loc, ok := c.lookup(fm); ok {
			return loc, fm, nil
		}
		return "", "", &Error{
			Category: CategoryConstraint,
			Op:       "select device",
			Err:      fmt.Errorf("no camera facing %q", fm),
		}
	}

	if id := cons.DeviceID.Ideal; id != "" && c.known(id) {
		return id, c.facingOf(id), nil
	}

	if fm := cons.FacingMode.Ideal; fm != "" {
		if loc, ok := c.lookup(fm); ok {
			return loc, fm, nil
		}
		slog.Debug("stream-capture: no camera for ideal facing mode, using default",
			"facing", fm,
			"default", c.cfg.Facing,
		)
	}

	return c.cfg.Device, c.cfg.Facing, nil
}

func (c *Camera) lookup(facing string) (string, bool) {
	if facing == c.cfg.Facing {
		return c.cfg.Device, true
	}
	loc, ok := c.cfg.Devices[facing]
	return loc, ok && loc != ""
}

func (c *Camera) known(location string) bool {
	if location == c.cfg.Device {
		return true
	}
	for _, loc := range c.cfg.Devices {
		if loc == location {
			return true
		}
	}
	return false
}

func (c *Camera) facingOf(location string) string {
	if location == c.cfg.Device {
		return c.cfg.Facing
	}
	for fm, loc := range c.cfg.Devices {
		if loc == location {
			return fm
		}
	}
	return ""
}
