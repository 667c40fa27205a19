package barcodescan

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/decode"
	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/lifecycle"
	"github.com/e7canasta/orion-care-sensor/modules/chime"
	"github.com/e7canasta/orion-care-sensor/modules/framesupplier"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
	"github.com/e7canasta/orion-care-sensor/modules/wakelock"
)

// State is the lifecycle state of a scan.
type State int32

const (
	// StateAcquiring: camera and wake lock are being acquired
	StateAcquiring State = iota
	// StateActive: the frame loop is running
	StateActive
	// StateDisposed: every resource was released (terminal)
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateAcquiring:
		return "acquiring"
	case StateActive:
		return "active"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Handle controls a running scan.
//
// The exported fields are set before Start returns and never change.
type Handle struct {
	// ID identifies the scan in logs
	ID string
	// Surface the stream is rendered to
	Surface Surface
	// Stream is the camera stream
	Stream streamcapture.MediaStream
	// WakeLock is nil when no lock could be acquired
	WakeLock WakeLock
	// Settings are the negotiated track settings
	Settings framesupplier.TrackSettings

	scope  context.Context
	abort  context.CancelCauseFunc
	stack  *lifecycle.Stack
	state  atomic.Int32
	done   chan struct{}
	loopWG sync.WaitGroup

	detector  Detector
	signal    *chime.Signal
	callback  Callback
	onError   ErrorHandler
	reportMu  sync.Mutex
	delay     time.Duration
	threshold int

	clock       FrameClock
	frameMu     sync.Mutex
	frameCancel func()
	frameClosed bool
	lastFrame   *framesupplier.Frame
	degraded    bool

	frames         atomic.Uint64
	detects        atomic.Uint64
	batches        atomic.Uint64
	delivered      atomic.Uint64
	callbackErrors atomic.Uint64
	loopErrors     atomic.Uint64
}

// Stats is an operational snapshot of a scan.
type Stats struct {
	State          State
	Frames         uint64
	Detects        uint64
	Batches        uint64
	Delivered      uint64
	CallbackErrors uint64
	LoopErrors     uint64
	Chime          chime.Stats

	// Component stats; nil when the component does not report any
	Surface *framesupplier.SurfaceStats
	Stream  *streamcapture.StreamStats
	Decoder *decode.BridgeStats
}

// Start opens the camera and begins scanning. It returns once the stream's
// metadata is available and the frame loop is running.
//
// callback is invoked for every detected barcode, in decode order. After a
// non-empty batch the loop waits Options.Delay before the next frame.
//
// Start fails, releasing everything it acquired, when:
//   - ctx or one of Options.Scopes is already done (returns its cause as is)
//   - ctx is nil or an option is invalid (ErrConfiguration)
//   - the camera cannot be opened (ErrAcquisition)
//   - playback fails before the first frame (ErrPlayback)
//   - Options.Preload is set and the decoder fails to bootstrap (ErrBootstrap)
//
// The scan ends when ctx or any scope ends, when Cancel is called, or on a
// fatal playback or bootstrap error.
func Start(ctx context.Context, callback Callback, opts Options) (*Handle, error) {
	if ctx == nil {
		return nil, configError("context", errors.New("nil context"))
	}
	if callback == nil {
		return nil, configError("callback", errors.New("nil callback"))
	}

	cfg, err := opts.resolve()
	if err != nil {
		return nil, err
	}

	parents := append([]context.Context{ctx}, cfg.Scopes...)
	for _, p := range parents {
		if p == nil {
			continue
		}
		if reason := lifecycle.Reason(p); reason != nil {
			return nil, reason
		}
	}

	detector := cfg.Detector
	if detector == nil {
		bridge, err := decode.NewBridge(cfg.Formats, decode.WithSessionCell(cfg.SessionCell))
		if err != nil {
			return nil, configError("formats", err)
		}
		detector = bridge
	}

	var chimeOpts []chime.Option
	if cfg.ChimeInterval != 0 {
		chimeOpts = append(chimeOpts, chime.WithMinInterval(cfg.ChimeInterval))
	}
	signal, err := chime.New(toneEmitter(cfg.Chime), cfg.Tone, chimeOpts...)
	if err != nil {
		return nil, configError("chime", err)
	}

	h := &Handle{
		ID:        uuid.New().String(),
		stack:     lifecycle.NewStack(),
		done:      make(chan struct{}),
		detector:  detector,
		signal:    signal,
		callback:  callback,
		onError:   cfg.ErrorHandler,
		delay:     cfg.Delay,
		threshold: cfg.DecodeErrorThreshold,
	}
	h.scope, h.abort = lifecycle.Any(parents...)

	// Registered first so it runs last.
	h.stack.DeferFunc("state", func() { h.state.Store(int32(StateDisposed)) })
	h.stack.DeferFunc("scope", func() { h.abort(ErrCancelled) })
	h.stack.DisposeOn(h.scope)
	go func() {
		<-h.stack.Done()
		h.loopWG.Wait()
		close(h.done)
	}()

	log := slog.With("scan_id", h.ID)
	log.Info("barcode-scan: starting scan",
		"formats", cfg.Formats,
		"delay", cfg.Delay,
		"frame_rate", cfg.constraints.FrameRate.String(),
		"facing_mode", cfg.constraints.FacingMode.Value(),
	)

	if err := h.acquire(cfg); err != nil {
		_ = h.stack.Dispose()
		return nil, err
	}

	log.Info("barcode-scan: scan active",
		"width", h.Settings.Width,
		"height", h.Settings.Height,
		"frame_rate", h.Settings.FrameRate,
		"facing_mode", h.Settings.FacingMode,
		"wake_lock", h.WakeLock != nil,
	)
	return h, nil
}

// acquire runs Start's acquisition steps under the handle's release stack.
func (h *Handle) acquire(cfg *resolved) error {
	if cfg.Preload {
		if r, ok := h.detector.(interface{ Ready(context.Context) error }); ok {
			if err := r.Ready(h.scope); err != nil {
				return h.failure(KindBootstrap, "preload decoder", err)
			}
		}
	}

	// Wake lock: best effort.
	locker := cfg.WakeLock
	if locker == nil {
		locker = Inhibitor(wakelock.New(wakelock.Config{}))
	}
	lock, err := locker.Acquire(h.scope)
	switch {
	case err != nil:
		slog.Debug("barcode-scan: wake lock not acquired", "scan_id", h.ID, "error", err)
	case lock != nil && !isNil(lock):
		h.WakeLock = lifecycle.Acquire(h.stack, "wake lock", lock, WakeLock.Release)
	}
	if reason := lifecycle.Reason(h.scope); reason != nil {
		return reason
	}

	camera := cfg.Camera
	if camera == nil {
		cam, err := streamcapture.NewCamera(streamcapture.Config{})
		if err != nil {
			return h.failure(KindAcquisition, "open camera", err)
		}
		camera = cam
	}
	stream, err := camera.Open(h.scope, cfg.constraints)
	if err != nil {
		return h.failure(KindAcquisition, "open camera", err)
	}
	h.Stream = lifecycle.Acquire(h.stack, "media stream", stream, streamcapture.MediaStream.Stop)

	surface := cfg.Surface
	if surface == nil {
		surface = framesupplier.New("scan-" + h.ID[:8])
	}
	h.Surface = surface
	h.clock = cfg.Clock
	if h.clock == nil {
		h.clock = surface
	}
	if err := surface.SetSource(stream); err != nil {
		return h.failure(KindAcquisition, "bind stream", err)
	}
	h.stack.Defer("detach stream", func() error { return surface.SetSource(nil) })

	ready := make(chan framesupplier.Metadata, 1)
	h.stack.DeferFunc("metadata listener", surface.OnMetadataReady(func(md framesupplier.Metadata) {
		select {
		case ready <- md:
		default:
		}
	}))
	h.stack.DeferFunc("error listener", surface.OnError(func(err error) {
		// Listeners run on the surface's pump, which Pause waits for. The
		// handler may call Cancel, so it must not run here.
		go h.playbackFailed(&Error{Kind: KindPlayback, Op: "playback", Err: err})
	}))

	if err := surface.Play(h.scope); err != nil {
		return h.failure(KindPlayback, "play", err)
	}
	h.stack.DeferFunc("pause", surface.Pause)

	var md framesupplier.Metadata
	select {
	case md = <-ready:
	case <-h.scope.Done():
		return lifecycle.Reason(h.scope)
	}

	h.Settings = md.Settings
	if h.Settings.Width == 0 || h.Settings.Height == 0 {
		h.Settings.Width, h.Settings.Height = md.Width, md.Height
	}

	h.stack.DeferFunc("frame callback", h.cancelFrame)
	h.state.Store(int32(StateActive))

	h.loopWG.Add(1)
	go h.loop()
	return nil
}

// failure classifies an acquisition failure. The scope's own reason wins when
// the scope ended while acquiring.
func (h *Handle) failure(kind Kind, op string, err error) error {
	if reason := lifecycle.Reason(h.scope); reason != nil {
		return reason
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Cancel ends the scan and releases every resource. Idempotent. Safe to call
// from a callback.
func (h *Handle) Cancel() {
	h.abort(ErrCancelled)
	if err := h.stack.Dispose(); err != nil {
		slog.Warn("barcode-scan: teardown finished with errors", "scan_id", h.ID, "error", err)
	}
}

// Done is closed once the scan is torn down and its loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns why the scan ended, or nil while it runs.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return lifecycle.Reason(h.scope)
	default:
		return nil
	}
}

// State returns the current lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// Stats returns a snapshot of loop counters and of the surface, stream and
// decoder when they report stats.
func (h *Handle) Stats() Stats {
	st := Stats{
		State:          h.State(),
		Frames:         h.frames.Load(),
		Detects:        h.detects.Load(),
		Batches:        h.batches.Load(),
		Delivered:      h.delivered.Load(),
		CallbackErrors: h.callbackErrors.Load(),
		LoopErrors:     h.loopErrors.Load(),
		Chime:          h.signal.Stats(),
	}
	if s, ok := h.Surface.(interface{ Stats() framesupplier.SurfaceStats }); ok {
		ss := s.Stats()
		st.Surface = &ss
	}
	if s, ok := h.Stream.(interface{ Stats() streamcapture.StreamStats }); ok {
		ss := s.Stats()
		st.Stream = &ss
	}
	if d, ok := h.detector.(interface{ Stats() decode.BridgeStats }); ok {
		ds := d.Stats()
		st.Decoder = &ds
	}
	return st
}

// playbackFailed reports a playback error raised while active and ends the
// scan with it.
func (h *Handle) playbackFailed(err *Error) {
	if h.State() == StateActive {
		h.report(err)
	}
	h.abort(err)
}

// report hands err to the error handler. Calls are serialized.
func (h *Handle) report(err error) {
	h.reportMu.Lock()
	defer h.reportMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("barcode-scan: error handler panicked", "scan_id", h.ID, "panic", r, "error", err)
		}
	}()
	h.onError(err)
}

// toneEmitter picks the chime backend. Audio is optional: without it the
// scan runs silently.
func toneEmitter(e chime.ToneEmitter) chime.ToneEmitter {
	if e != nil {
		return e
	}
	gst, err := chime.NewGStreamerEmitter("")
	if err != nil {
		slog.Debug("barcode-scan: chime disabled", "error", err)
		return chime.Nop
	}
	return gst
}
