package barcodescan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/decode"
	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/format"
	"github.com/e7canasta/orion-care-sensor/modules/chime"
	"github.com/e7canasta/orion-care-sensor/modules/framesupplier"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
	"github.com/e7canasta/orion-care-sensor/modules/wakelock"
)

// Defaults applied to zero-valued options.
const (
	DefaultDelay      = time.Second
	DefaultFrameRate  = 12.0
	DefaultFacingMode = streamcapture.FacingEnvironment
)

// Callback receives one detected barcode. ctx ends when the scan ends.
type Callback func(ctx context.Context, code decode.Barcode) error

// ErrorHandler receives failures that do not end the scan, and playback
// errors that do. Calls never overlap and never run on the frame pump, so the
// handler may call Handle.Cancel.
type ErrorHandler func(err error)

// Surface is where the camera stream is rendered and frames are read from.
// *framesupplier.Surface implements it.
type Surface interface {
	SetSource(src framesupplier.Source) error
	Play(ctx context.Context) error
	Pause()
	CurrentFrame() (*framesupplier.Frame, bool)
	OnNextFrame(fn func(time.Time)) (cancel func())
	OnMetadataReady(fn func(framesupplier.Metadata)) (cancel func())
	OnError(fn func(error)) (cancel func())
}

// FrameClock schedules the next detection. The surface is the default clock:
// it fires when a new frame arrives. *framesupplier.TickerClock fires on a
// fixed interval instead.
type FrameClock interface {
	OnNextFrame(fn func(time.Time)) (cancel func())
}

// Detector finds barcodes in a frame. *decode.Bridge implements it.
type Detector interface {
	Detect(ctx context.Context, src any) ([]decode.Barcode, error)
	ConsecutiveFailures() int
}

// WakeLock is a held wake lock.
type WakeLock interface {
	Release() error
}

// WakeLocker acquires wake locks.
type WakeLocker interface {
	Acquire(ctx context.Context) (WakeLock, error)
}

// WakeLockerFunc adapts a function to WakeLocker.
type WakeLockerFunc func(ctx context.Context) (WakeLock, error)

func (f WakeLockerFunc) Acquire(ctx context.Context) (WakeLock, error) { return f(ctx) }

// NoWakeLock never acquires a lock.
var NoWakeLock WakeLocker = WakeLockerFunc(func(context.Context) (WakeLock, error) {
	return nil, nil
})

// Inhibitor adapts a systemd inhibitor to WakeLocker.
func Inhibitor(inh *wakelock.Inhibitor) WakeLocker {
	return WakeLockerFunc(func(ctx context.Context) (WakeLock, error) {
		lock, err := inh.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return lock, nil
	})
}

// Options configures a scan. The zero value is usable.
type Options struct {
	// Surface renders the stream (default: a new framesupplier.Surface)
	Surface Surface
	// Clock paces detections (default: the surface, one per new frame). The
	// caller owns the clock and stops it after the scan.
	Clock FrameClock
	// Camera opens the stream (default: the local v4l2 camera)
	Camera streamcapture.Provider
	// WakeLock keeps the host awake (default: systemd-inhibit; NoWakeLock disables)
	WakeLock WakeLocker
	// Detector replaces the decode bridge (default: decode.NewBridge(Formats))
	Detector Detector
	// SessionCell is the decode session used by the default bridge (default: decode.DefaultCell)
	SessionCell *decode.SessionCell
	// Chime plays the tone (default: GStreamer audio, or silence if unavailable)
	Chime chime.ToneEmitter

	// Delay is the settle delay after a non-empty batch (default: 1s; negative disables)
	Delay time.Duration
	// Formats to detect (default: upc_a, upc_e, qr_code)
	Formats []format.Format

	// Track constraints. A number or string is an ideal (soft) constraint; a
	// streamcapture constraint value or an exact/ideal/min/max map is used
	// verbatim; true means unconstrained.
	FacingMode any // default: ideal "environment"
	FrameRate  any // default: ideal 12
	Width      any
	Height     any
	DeviceID   any

	// Tone is the chime; zero fields take chime.DefaultTone values
	Tone chime.Tone
	// ChimeInterval is the minimum spacing between tones (default: the tone
	// duration; negative disables throttling)
	ChimeInterval time.Duration

	// ErrorHandler receives non-fatal failures (default: logged with slog)
	ErrorHandler ErrorHandler

	// Scopes end the scan as soon as any of them ends, in addition to the
	// context passed to Start.
	Scopes []context.Context

	// Preload bootstraps the decoder before the camera is opened, so a
	// bootstrap failure fails Start instead of the first frame.
	Preload bool

	// DecodeErrorThreshold reports ErrDecodeDegraded after this many
	// consecutive decode failures (0 disables).
	DecodeErrorThreshold int
}

// resolved is Options after defaults and validation.
type resolved struct {
	Options
	constraints streamcapture.Constraints
}

// resolve applies defaults and validates every option that can be checked
// without acquiring anything.
func (o Options) resolve() (*resolved, error) {
	r := &resolved{Options: o}

	if o.Surface != nil && isNil(o.Surface) {
		return nil, configError("surface", fmt.Errorf("nil %T", o.Surface))
	}
	if o.Clock != nil && isNil(o.Clock) {
		return nil, configError("clock", fmt.Errorf("nil %T", o.Clock))
	}

	if len(o.Formats) == 0 {
		r.Formats = format.Default()
	}
	for _, f := range r.Formats {
		if !f.Valid() {
			return nil, configError("formats", fmt.Errorf("unmapped barcode format %q", f))
		}
	}

	switch {
	case o.Delay == 0:
		r.Delay = DefaultDelay
	case o.Delay < 0:
		r.Delay = 0
	}

	r.Tone = withToneDefaults(o.Tone)
	if err := r.Tone.Validate(); err != nil {
		return nil, configError("chime", err)
	}

	if o.ErrorHandler == nil {
		r.ErrorHandler = func(err error) {
			slog.Error("barcode-scan: scan error", "error", err)
		}
	}

	if o.DecodeErrorThreshold < 0 {
		return nil, configError("decode error threshold", errors.New("must not be negative"))
	}

	c, err := o.trackConstraints()
	if err != nil {
		return nil, configError("constraints", err)
	}
	r.constraints = c

	return r, nil
}

// trackConstraints normalizes the constraint options.
func (o Options) trackConstraints() (streamcapture.Constraints, error) {
	var c streamcapture.Constraints
	var err error

	frameRate := o.FrameRate
	if frameRate == nil {
		frameRate = DefaultFrameRate
	}
	if c.FrameRate, err = streamcapture.NumberFrom(frameRate); err != nil {
		return c, fmt.Errorf("frame rate: %w", err)
	}

	facing := o.FacingMode
	if facing == nil {
		facing = DefaultFacingMode
	}
	if c.FacingMode, err = streamcapture.StringFrom(facing); err != nil {
		return c, fmt.Errorf("facing mode: %w", err)
	}

	if c.Width, err = streamcapture.NumberFrom(o.Width); err != nil {
		return c, fmt.Errorf("width: %w", err)
	}
	if c.Height, err = streamcapture.NumberFrom(o.Height); err != nil {
		return c, fmt.Errorf("height: %w", err)
	}
	if c.DeviceID, err = streamcapture.StringFrom(o.DeviceID); err != nil {
		return c, fmt.Errorf("device id: %w", err)
	}

	return c, c.Validate()
}

func withToneDefaults(t chime.Tone) chime.Tone {
	def := chime.DefaultTone()
	if t.Frequency == 0 {
		t.Frequency = def.Frequency
	}
	if t.Duration == 0 {
		t.Duration = def.Duration
	}
	if t.Waveform == "" {
		t.Waveform = def.Waveform
	}
	if t.Volume == 0 {
		t.Volume = def.Volume
	}
	return t
}

// isNil catches typed nil pointers stored in an interface.
func isNil(v any) bool {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Func, reflect.Chan, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
