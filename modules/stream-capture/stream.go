package streamcapture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/internal/backoff"
	"github.com/e7canasta/orion-care-sensor/modules/framesupplier"
	"github.com/e7canasta/orion-care-sensor/modules/stream-capture/internal/pipeline"
)

// Stream is a playing GStreamer capture pipeline. It implements MediaStream.
type Stream struct {
	cfg       Config
	location  string
	targetFPS float64

	elements *pipeline.Elements

	// Frame output; closed is guarded by mu so callbacks never send on a
	// closed channel.
	frames chan *framesupplier.Frame
	errs   chan error
	mu     sync.RWMutex
	closed bool

	settingsMu sync.RWMutex
	settings   framesupplier.TrackSettings

	// Lifecycle
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
	playing  atomic.Bool
	started  time.Time

	// Statistics (atomic for thread-safety)
	frameCount    atomic.Uint64
	framesDropped atomic.Uint64
	bytesRead     atomic.Uint64
	lastFrameAt   atomic.Int64
	errorCounters pipeline.ErrorCounters
	reconnect     backoff.State
}

var _ MediaStream = (*Stream)(nil)

func newStream(cfg Config, location, facing string, cons Constraints) *Stream {
	ctx, cancel := context.WithCancel(context.Background())

	width, _ := cons.Width.Target()
	height, _ := cons.Height.Target()
	fps, _ := cons.FrameRate.Target()

	return &Stream{
		cfg:       cfg,
		location:  location,
		targetFPS: fps,
		frames:    make(chan *framesupplier.Frame, 1),
		errs:      make(chan error, 1),
		ctx:       ctx,
		cancel:    cancel,
		settings: framesupplier.TrackSettings{
			Width:      int(width),
			Height:     int(height),
			FrameRate:  fps,
			FacingMode: facing,
			DeviceID:   location,
		},
	}
}

// start builds the pipeline and blocks until it is PLAYING.
func (s *Stream) start(ctx context.Context, pcfg pipeline.Config) error {
	s.started = time.Now()

	slog.Info("stream-capture: opening stream",
		"name", s.cfg.Name,
		"kind", s.cfg.Kind,
		"location", s.location,
		"strict_caps", pcfg.StrictCaps,
		"output_caps", pcfg.OutputCaps,
	)

	elements, err := pipeline.Build(pcfg)
	if err != nil {
		return &Error{Category: CategoryNotFound, Op: "build pipeline", Err: err}
	}
	s.elements = elements

	callbackCtx := &pipeline.CallbackContext{
		Deliver:       s.deliver,
		FrameCounter:  &s.frameCount,
		BytesRead:     &s.bytesRead,
		FramesDropped: &s.framesDropped,
		SourceStream:  s.cfg.Name,
		OnCaps:        s.onCaps,
	}
	elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return pipeline.OnNewSample(sink, callbackCtx)
		},
	})

	if err := elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		return classify("start pipeline", err)
	}

	timeout := s.cfg.StartTimeout
	waitCtx, cancel := context.WithTimeoutCause(ctx, timeout,
		fmt.Errorf("pipeline did not reach PLAYING within %s", timeout))
	defer cancel()

	if err := pipeline.WaitPlaying(waitCtx, elements.Pipeline, &s.errorCounters); err != nil {
		// The caller's own cancellation is reported as is.
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return classify("start pipeline", err)
	}
	s.playing.Store(true)

	s.wg.Add(1)
	go s.run()

	slog.Info("stream-capture: stream playing",
		"name", s.cfg.Name,
		"location", s.location,
		"startup", time.Since(s.started),
	)
	return nil
}

// run monitors the pipeline bus, restarting RTSP pipelines with backoff when
// reconnection is configured. The first unrecovered error is reported on Errors.
func (s *Stream) run() {
	defer s.wg.Done()

	reconnect := s.cfg.Kind == KindRTSP && s.cfg.Reconnect.MaxRetries > 0
	metrics := pipeline.MonitorMetrics{
		Location:   s.location,
		FrameCount: &s.frameCount,
		StartedAt:  s.started,
	}

	failed := false
	watch := func(ctx context.Context) error {
		if failed {
			if err := s.restart(ctx); err != nil {
				return err
			}
		}

		err := pipeline.Watch(ctx, s.elements.Pipeline, &s.errorCounters, metrics)
		if err == nil {
			return nil
		}
		failed = true
		s.playing.Store(false)
		if !reconnect {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Run(s.ctx, "stream-capture: "+s.cfg.Name, watch, s.cfg.Reconnect, &s.reconnect)
	if err == nil || s.ctx.Err() != nil {
		return
	}

	if errors.Is(err, pipeline.ErrEOS) {
		err = fmt.Errorf("stream-capture: %s: %w", s.cfg.Name, err)
	} else {
		err = classify("playback", err)
	}
	slog.Error("stream-capture: stream failed",
		"name", s.cfg.Name,
		"error", err,
		"uptime", time.Since(s.started),
		"frames_processed", s.frameCount.Load(),
		"reconnects", s.reconnect.Attempts.Load(),
	)

	select {
	case s.errs <- err:
	default:
	}
}

// restart cycles the pipeline through NULL back to PLAYING.
func (s *Stream) restart(ctx context.Context) error {
	slog.Info("stream-capture: restarting pipeline", "name", s.cfg.Name, "location", s.location)

	if err := pipeline.Destroy(s.elements); err != nil {
		return err
	}
	if err := s.elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()
	if err := pipeline.WaitPlaying(waitCtx, s.elements.Pipeline, &s.errorCounters); err != nil {
		return err
	}

	s.playing.Store(true)
	s.reconnect.Reset()
	slog.Info("stream-capture: pipeline playing, reconnect state reset", "name", s.cfg.Name)
	return nil
}

// deliver hands a frame to the consumer, replacing an unread one.
func (s *Stream) deliver(f *framesupplier.Frame) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	s.lastFrameAt.Store(f.Timestamp.UnixNano())

	select {
	case s.frames <- f:
		return true
	default:
	}

	// Consumer busy: newest frame wins.
	select {
	case <-s.frames:
	default:
	}
	select {
	case s.frames <- f:
	default:
	}
	return false
}

func (s *Stream) onCaps(width, height int) {
	s.settingsMu.RLock()
	same := s.settings.Width == width && s.settings.Height == height
	s.settingsMu.RUnlock()
	if same {
		return
	}

	s.settingsMu.Lock()
	s.settings.Width, s.settings.Height = width, height
	s.settingsMu.Unlock()

	slog.Debug("stream-capture: negotiated geometry", "name", s.cfg.Name, "width", width, "height", height)
}

// Frames returns the frame channel. It is closed by Stop.
func (s *Stream) Frames() <-chan *framesupplier.Frame { return s.frames }

// Errors returns the channel carrying the fatal playback error, if any.
func (s *Stream) Errors() <-chan error { return s.errs }

// Settings returns the negotiated track settings.
func (s *Stream) Settings() framesupplier.TrackSettings {
	s.settingsMu.RLock()
	defer s.settingsMu.RUnlock()
	return s.settings
}

// Stop gracefully shuts down the stream
//
// This method:
//  1. Cancels the monitor
//  2. Waits for goroutines to finish (timeout 3s)
//  3. Sets the pipeline to NULL, releasing the device
//  4. Closes the frame channel
//
// Idempotent - safe to call multiple times.
func (s *Stream) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			slog.Warn("stream-capture: stop timeout exceeded, monitor may still be running")
		}

		if err := pipeline.Destroy(s.elements); err != nil {
			s.stopErr = fmt.Errorf("stream-capture: %w", err)
			slog.Error("stream-capture: failed to destroy pipeline", "error", err)
		}
		s.playing.Store(false)

		s.mu.Lock()
		s.closed = true
		close(s.frames)
		s.mu.Unlock()

		slog.Info("stream-capture: stream stopped",
			"name", s.cfg.Name,
			"frames_captured", s.frameCount.Load(),
			"reconnects", s.reconnect.Attempts.Load(),
			"uptime", time.Since(s.started),
		)
	})
	return s.stopErr
}

// Stats returns current stream statistics
//
// Thread-safe - uses atomic operations for counters.
func (s *Stream) Stats() StreamStats {
	frameCount := s.frameCount.Load()
	framesDropped := s.framesDropped.Load()

	var fpsReal float64
	if !s.started.IsZero() {
		if uptime := time.Since(s.started).Seconds(); uptime > 0 {
			fpsReal = float64(frameCount) / uptime
		}
	}

	var dropRate float64
	if frameCount > 0 {
		dropRate = float64(framesDropped) / float64(frameCount) * 100.0
	}

	var latencyMS int64
	if last := s.lastFrameAt.Load(); last > 0 {
		latencyMS = time.Since(time.Unix(0, last)).Milliseconds()
	}

	settings := s.Settings()

	return StreamStats{
		FrameCount:       frameCount,
		FramesDropped:    framesDropped,
		DropRate:         dropRate,
		FPSTarget:        s.targetFPS,
		FPSReal:          fpsReal,
		LatencyMS:        latencyMS,
		SourceStream:     s.cfg.Name,
		Resolution:       fmt.Sprintf("%dx%d", settings.Width, settings.Height),
		Reconnects:       s.reconnect.Attempts.Load(),
		BytesRead:        s.bytesRead.Load(),
		IsConnected:      s.playing.Load(),
		ErrorsPermission: s.errorCounters.Permission.Load(),
		ErrorsNotFound:   s.errorCounters.NotFound.Load(),
		ErrorsConstraint: s.errorCounters.Constraint.Load(),
		ErrorsNetwork:    s.errorCounters.Network.Load(),
		ErrorsCodec:      s.errorCounters.Codec.Load(),
		ErrorsUnknown:    s.errorCounters.Unknown.Load(),
	}
}
