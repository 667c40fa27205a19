package barcodescan_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	barcodescan "github.com/e7canasta/orion-care-sensor/modules/barcode-scan"
	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/decode"
	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/format"
	"github.com/e7canasta/orion-care-sensor/modules/chime"
	"github.com/e7canasta/orion-care-sensor/modules/framesupplier"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

func hello() []decode.Barcode {
	return []decode.Barcode{{RawValue: "HELLO", Format: format.QRCode}}
}

func TestStart_DeliversDetections(t *testing.T) {
	r := newRig()
	r.detector.respond = func(call int) ([]decode.Barcode, error) {
		if call == 1 {
			return hello(), nil
		}
		return nil, nil
	}

	var mu sync.Mutex
	var got []decode.Barcode
	h := r.start(t, context.Background(), func(ctx context.Context, code decode.Barcode) error {
		mu.Lock()
		got = append(got, code)
		mu.Unlock()
		return nil
	}, r.options())

	if h.State() != barcodescan.StateActive {
		t.Fatalf("State() = %s, want active", h.State())
	}
	if h.Settings.Width != 640 || h.Settings.Height != 480 {
		t.Errorf("Settings = %+v, want negotiated 640x480", h.Settings)
	}
	if h.WakeLock == nil || h.Stream == nil || h.Surface == nil || h.ID == "" {
		t.Errorf("handle not populated: %+v", h)
	}

	r.pumpUntil(t, func() bool { return h.Stats().Delivered == 1 })

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].RawValue != "HELLO" || got[0].Format != format.QRCode {
		t.Errorf("callback got %+v, want one HELLO/qr_code", got)
	}
	if st := h.Stats(); st.Chime.Triggered != 1 || st.Batches != 1 {
		t.Errorf("Stats() = %+v, want one batch and one chime", st)
	}
}

func TestStart_PreAbortedScope(t *testing.T) {
	cause := errors.New("user navigated away")

	tests := []struct {
		name string
		opts func(r *rig, ctx context.Context) (context.Context, barcodescan.Options)
	}{
		{
			name: "start context",
			opts: func(r *rig, aborted context.Context) (context.Context, barcodescan.Options) {
				return aborted, r.options()
			},
		},
		{
			name: "extra scope",
			opts: func(r *rig, aborted context.Context) (context.Context, barcodescan.Options) {
				o := r.options()
				o.Scopes = []context.Context{aborted}
				return context.Background(), o
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig()
			aborted, cancel := context.WithCancelCause(context.Background())
			cancel(cause)

			ctx, opts := tt.opts(r, aborted)
			h, err := barcodescan.Start(ctx, noop, opts)
			if !errors.Is(err, cause) || h != nil {
				t.Fatalf("Start() = (%v, %v), want the scope's cause", h, err)
			}
			if r.camera.Opens() != 0 || r.locker.acquires.Load() != 0 {
				t.Error("resources were requested for a pre-aborted scope")
			}
		})
	}
}

func TestStart_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		nilCtx bool
		cb     barcodescan.Callback
		modify func(*barcodescan.Options)
	}{
		{name: "nil callback", modify: func(*barcodescan.Options) {}},
		{name: "nil context", nilCtx: true, cb: noop, modify: func(*barcodescan.Options) {}},
		{name: "unmapped format", cb: noop, modify: func(o *barcodescan.Options) { o.Formats = []format.Format{"maxicode"} }},
		{name: "video disabled", cb: noop, modify: func(o *barcodescan.Options) { o.FrameRate = false }},
		{name: "bad constraint map", cb: noop, modify: func(o *barcodescan.Options) { o.Width = map[string]any{"best": 1} }},
		{name: "inverted range", cb: noop, modify: func(o *barcodescan.Options) { o.Height = streamcapture.Range(720, 480) }},
		{name: "typed nil surface", cb: noop, modify: func(o *barcodescan.Options) { o.Surface = (*framesupplier.Surface)(nil) }},
		{name: "loud chime", cb: noop, modify: func(o *barcodescan.Options) { o.Tone = chime.Tone{Volume: 3} }},
		{name: "negative threshold", cb: noop, modify: func(o *barcodescan.Options) { o.DecodeErrorThreshold = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig()
			opts := r.options()
			tt.modify(&opts)

			ctx := context.Background()
			if tt.nilCtx {
				ctx = nil
			}
			_, err := barcodescan.Start(ctx, tt.cb, opts)
			if !errors.Is(err, barcodescan.ErrConfiguration) {
				t.Fatalf("Start() error = %v, want ErrConfiguration", err)
			}
			if r.camera.Opens() != 0 || r.locker.acquires.Load() != 0 {
				t.Error("resources were requested for an invalid configuration")
			}
		})
	}
}

func TestStart_AcquisitionDenied(t *testing.T) {
	r := newRig()
	r.camera.err = &streamcapture.Error{
		Category: streamcapture.CategoryPermission,
		Op:       "open",
		Err:      errors.New("permission denied"),
	}

	_, err := barcodescan.Start(context.Background(), noop, r.options())
	if !errors.Is(err, barcodescan.ErrAcquisition) {
		t.Fatalf("Start() error = %v, want ErrAcquisition", err)
	}
	if !errors.Is(err, streamcapture.ErrPermission) {
		t.Errorf("Start() error = %v, want the camera's permission error as cause", err)
	}
	if got := r.locker.lock.releases.Load(); got != 1 {
		t.Errorf("wake lock released %d times, want 1", got)
	}
}

func TestStart_WakeLockIsBestEffort(t *testing.T) {
	r := newRig()
	r.locker.err = errors.New("inhibitor not available")

	h := r.start(t, context.Background(), noop, r.options())
	if h.WakeLock != nil {
		t.Errorf("WakeLock = %v, want nil", h.WakeLock)
	}
	if h.State() != barcodescan.StateActive {
		t.Errorf("State() = %s, want active", h.State())
	}
}

func TestStart_PlaybackErrorBeforeMetadata(t *testing.T) {
	r := newRig()
	r.stream.errs <- errors.New("device unplugged")

	_, err := barcodescan.Start(context.Background(), noop, r.options())
	if !errors.Is(err, barcodescan.ErrPlayback) {
		t.Fatalf("Start() error = %v, want ErrPlayback", err)
	}
	if r.stream.stops.Load() != 1 || r.locker.lock.releases.Load() != 1 {
		t.Errorf("stream stops = %d, lock releases = %d, want 1 each",
			r.stream.stops.Load(), r.locker.lock.releases.Load())
	}
}

func TestStart_CancelledWhileWaitingForMetadata(t *testing.T) {
	r := newRig()
	cause := errors.New("timeout")
	ctx, cancel := context.WithCancelCause(context.Background())
	time.AfterFunc(20*time.Millisecond, func() { cancel(cause) })

	// No frame is ever delivered.
	_, err := barcodescan.Start(ctx, noop, r.options())
	if !errors.Is(err, cause) {
		t.Fatalf("Start() error = %v, want %v", err, cause)
	}
	if r.stream.stops.Load() != 1 {
		t.Errorf("stream stops = %d, want 1", r.stream.stops.Load())
	}
}

func TestStart_Preload(t *testing.T) {
	r := newRig()
	opts := r.options()
	opts.Preload = true
	opts.Detector = readyDetector{&fakeDetector{ready: fmt.Errorf("%w: artifact missing", decode.ErrBootstrap)}}

	_, err := barcodescan.Start(context.Background(), noop, opts)
	if !errors.Is(err, barcodescan.ErrBootstrap) {
		t.Fatalf("Start() error = %v, want ErrBootstrap", err)
	}
	if r.camera.Opens() != 0 {
		t.Error("camera opened although the decoder failed to bootstrap")
	}
}

func TestStart_NormalizesConstraints(t *testing.T) {
	r := newRig()
	opts := r.options()
	opts.Width = 1280
	opts.Height = map[string]any{"exact": 720}

	r.start(t, context.Background(), noop, opts)

	got := r.camera.got
	if v, _ := got.FrameRate.Target(); v != barcodescan.DefaultFrameRate || got.FrameRate.Required() {
		t.Errorf("FrameRate = %s, want ideal %v", got.FrameRate, barcodescan.DefaultFrameRate)
	}
	if got.FacingMode.Ideal != barcodescan.DefaultFacingMode || got.FacingMode.Exact != "" {
		t.Errorf("FacingMode = %+v, want ideal environment", got.FacingMode)
	}
	if got.Width.Ideal == nil || *got.Width.Ideal != 1280 {
		t.Errorf("Width = %s, want ideal 1280", got.Width)
	}
	if got.Height.Exact == nil || *got.Height.Exact != 720 {
		t.Errorf("Height = %s, want exact 720", got.Height)
	}
}

func TestCancel_ReleasesEverythingOnce(t *testing.T) {
	r := newRig()
	h := r.start(t, context.Background(), noop, r.options())

	r.pumpUntil(t, func() bool { return len(r.detector.Calls()) > 0 })

	h.Cancel()
	h.Cancel()
	waitDone(t, h)

	if h.State() != barcodescan.StateDisposed {
		t.Errorf("State() = %s, want disposed", h.State())
	}
	if !errors.Is(h.Err(), barcodescan.ErrCancelled) {
		t.Errorf("Err() = %v, want ErrCancelled", h.Err())
	}
	if r.stream.stops.Load() != 1 {
		t.Errorf("stream stopped %d times, want 1", r.stream.stops.Load())
	}
	if r.locker.lock.releases.Load() != 1 {
		t.Errorf("wake lock released %d times, want 1", r.locker.lock.releases.Load())
	}
	if r.surface.Playing() || r.surface.Source() != nil {
		t.Error("surface still playing or bound after teardown")
	}

	calls := len(r.detector.Calls())
	for i := 0; i < 10; i++ {
		r.surface.Publish(testFrame(uint64(100 + i)))
	}
	time.Sleep(50 * time.Millisecond)
	if got := len(r.detector.Calls()); got != calls {
		t.Errorf("detect called %d more times after cancellation", got-calls)
	}
}

func TestCancel_ParentScope(t *testing.T) {
	r := newRig()
	cause := errors.New("shutdown")

	parent, cancelParent := context.WithCancelCause(context.Background())
	extra, cancelExtra := context.WithCancelCause(context.Background())
	defer cancelParent(nil)

	opts := r.options()
	opts.Scopes = []context.Context{extra}
	h := r.start(t, parent, noop, opts)

	cancelExtra(cause)
	waitDone(t, h)

	if !errors.Is(h.Err(), cause) {
		t.Errorf("Err() = %v, want %v", h.Err(), cause)
	}
	if r.stream.stops.Load() != 1 || r.locker.lock.releases.Load() != 1 {
		t.Error("resources not released after the scope ended")
	}
}

func TestFirstFrameDetectedWithoutWaiting(t *testing.T) {
	r := newRig()
	r.detector.respond = func(call int) ([]decode.Barcode, error) {
		if call == 1 {
			return hello(), nil
		}
		return nil, nil
	}

	// No frame is published after the one that made metadata ready.
	h := r.start(t, context.Background(), noop, r.options())

	deadline := time.Now().Add(2 * time.Second)
	for h.Stats().Delivered != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("first frame not detected, Stats() = %+v", h.Stats())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(r.detector.Calls()); got != 1 {
		t.Errorf("detect called %d times, want 1", got)
	}
}

// manualClock fires only when the test says so.
type manualClock struct {
	mu      sync.Mutex
	waiters []func(time.Time)
}

func (c *manualClock) OnNextFrame(fn func(time.Time)) func() {
	c.mu.Lock()
	c.waiters = append(c.waiters, fn)
	c.mu.Unlock()
	return func() {}
}

// fire runs the pending callbacks once the loop has armed the clock.
func (c *manualClock) fire(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.Lock()
		armed := len(c.waiters) > 0
		c.mu.Unlock()
		if armed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scan loop never armed the clock")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c.mu.Lock()
	waiters := c.waiters
	c.waiters = nil
	c.mu.Unlock()
	for _, fn := range waiters {
		fn(time.Now())
	}
}

func TestClockPacesDetections(t *testing.T) {
	r := newRig()
	clock := &manualClock{}
	opts := r.options()
	opts.Clock = clock

	r.start(t, context.Background(), noop, opts)
	waitCalls := func(n int) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for len(r.detector.Calls()) < n {
			if time.Now().After(deadline) {
				t.Fatalf("detect called %d times, want %d", len(r.detector.Calls()), n)
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	waitCalls(1)

	// New frames alone do not trigger a detection.
	r.surface.Publish(testFrame(1))
	r.surface.Publish(testFrame(2))
	time.Sleep(50 * time.Millisecond)
	if got := len(r.detector.Calls()); got != 1 {
		t.Fatalf("detect called %d times before the clock fired, want 1", got)
	}

	clock.fire(t)
	waitCalls(2)

	// A tick without a new frame is skipped.
	clock.fire(t)
	time.Sleep(50 * time.Millisecond)
	if got := len(r.detector.Calls()); got != 2 {
		t.Errorf("detect called %d times for a repeated frame, want 2", got)
	}
}

func TestStatsIncludeComponents(t *testing.T) {
	r := newRig()
	h := r.start(t, context.Background(), noop, r.options())
	r.pumpUntil(t, func() bool { return len(r.detector.Calls()) >= 2 })

	st := h.Stats()
	if st.Surface == nil || st.Surface.Published < 2 {
		t.Errorf("Surface stats = %+v", st.Surface)
	}
	// The fakes report no stream or decoder stats.
	if st.Stream != nil || st.Decoder != nil {
		t.Errorf("unexpected component stats: stream %+v, decoder %+v", st.Stream, st.Decoder)
	}
}

func TestSettleDelayFollowsNonEmptyBatch(t *testing.T) {
	const delay = 100 * time.Millisecond

	r := newRig()
	r.detector.respond = func(int) ([]decode.Barcode, error) { return hello(), nil }
	opts := r.options()
	opts.Delay = delay

	r.start(t, context.Background(), noop, opts)
	r.pumpUntil(t, func() bool { return len(r.detector.Calls()) >= 3 })

	calls := r.detector.Calls()
	for i := 1; i < len(calls); i++ {
		if gap := calls[i].Sub(calls[i-1]); gap < delay {
			t.Errorf("detect %d ran %s after the previous batch, want >= %s", i, gap, delay)
		}
	}
}

func TestEmptyFramesAddNoChimeOrDelay(t *testing.T) {
	r := newRig()
	opts := r.options()
	opts.Delay = time.Hour

	h := r.start(t, context.Background(), noop, opts)

	start := time.Now()
	r.pumpUntil(t, func() bool { return len(r.detector.Calls()) >= 10 })
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("ten empty frames took %s", elapsed)
	}
	if st := h.Stats(); st.Chime.Triggered != 0 || st.Batches != 0 {
		t.Errorf("Stats() = %+v, want no batches and no chime", st)
	}
	if r.chimes.Load() != 0 {
		t.Errorf("chime emitted %d times", r.chimes.Load())
	}
}

func TestCallbackFailuresAreIsolated(t *testing.T) {
	r := newRig()
	r.detector.respond = func(call int) ([]decode.Barcode, error) {
		if call > 1 {
			return nil, nil
		}
		return []decode.Barcode{
			{RawValue: "first", Format: format.EAN13},
			{RawValue: "second", Format: format.EAN13},
			{RawValue: "third", Format: format.EAN13},
		}, nil
	}

	var mu sync.Mutex
	var order []string
	cb := func(ctx context.Context, code decode.Barcode) error {
		mu.Lock()
		order = append(order, code.RawValue)
		mu.Unlock()

		switch code.RawValue {
		case "first":
			return errors.New("printer offline")
		case "second":
			panic("nil map")
		}
		return nil
	}

	h := r.start(t, context.Background(), cb, r.options())
	r.pumpUntil(t, func() bool { return h.Stats().Batches == 1 && len(r.detector.Calls()) > 1 })

	mu.Lock()
	got := fmt.Sprint(order)
	mu.Unlock()
	if got != "[first second third]" {
		t.Errorf("delivery order = %s, want [first second third]", got)
	}

	st := h.Stats()
	if st.Delivered != 1 || st.CallbackErrors != 2 {
		t.Errorf("Stats() = %+v, want 1 delivered and 2 callback errors", st)
	}
	if n := r.errors.matching(barcodescan.ErrCallback); n != 2 {
		t.Errorf("error handler got %d callback errors, want 2", n)
	}
	if h.State() != barcodescan.StateActive {
		t.Errorf("State() = %s, want active", h.State())
	}
}

func TestCallbackErrStopEndsScan(t *testing.T) {
	r := newRig()
	r.detector.respond = func(int) ([]decode.Barcode, error) { return hello(), nil }

	h := r.start(t, context.Background(), func(context.Context, decode.Barcode) error {
		return fmt.Errorf("got what we needed: %w", barcodescan.ErrStop)
	}, r.options())

	r.pumpUntil(t, func() bool { return h.Err() != nil })
	if !errors.Is(h.Err(), barcodescan.ErrStop) {
		t.Errorf("Err() = %v, want ErrStop", h.Err())
	}
	if r.errors.matching(barcodescan.ErrCallback) != 0 {
		t.Error("ErrStop was reported as a callback failure")
	}
}

func TestPlaybackErrorWhileActive(t *testing.T) {
	r := newRig()
	h := r.start(t, context.Background(), noop, r.options())

	r.stream.errs <- errors.New("connection reset")
	waitDone(t, h)

	if !errors.Is(h.Err(), barcodescan.ErrPlayback) {
		t.Errorf("Err() = %v, want ErrPlayback", h.Err())
	}
	if r.errors.matching(barcodescan.ErrPlayback) != 1 {
		t.Error("playback error not reported to the error handler")
	}
	if r.stream.stops.Load() != 1 || r.locker.lock.releases.Load() != 1 {
		t.Error("resources not released after playback failure")
	}
}

func TestErrorHandlerCancelsOnPlaybackError(t *testing.T) {
	r := newRig()

	var h *barcodescan.Handle
	started := make(chan struct{})
	opts := r.options()
	opts.ErrorHandler = func(err error) {
		r.errors.handle(err)
		if errors.Is(err, barcodescan.ErrPlayback) {
			<-started
			h.Cancel()
		}
	}

	h = r.start(t, context.Background(), noop, opts)
	close(started)

	r.stream.errs <- errors.New("connection reset")
	waitDone(t, h)

	if !errors.Is(h.Err(), barcodescan.ErrCancelled) {
		t.Errorf("Err() = %v, want ErrCancelled", h.Err())
	}
	if r.errors.matching(barcodescan.ErrPlayback) != 1 {
		t.Error("playback error not reported to the error handler")
	}
	if r.stream.stops.Load() != 1 {
		t.Errorf("stream stopped %d times, want 1", r.stream.stops.Load())
	}
	if r.locker.lock.releases.Load() != 1 {
		t.Errorf("wake lock released %d times, want 1", r.locker.lock.releases.Load())
	}
	if r.surface.Playing() {
		t.Error("surface still playing after teardown")
	}
}

func TestBootstrapFailureInLoopEndsScan(t *testing.T) {
	r := newRig()
	r.detector.respond = func(int) ([]decode.Barcode, error) {
		return nil, fmt.Errorf("%w: link failed", decode.ErrBootstrap)
	}

	h := r.start(t, context.Background(), noop, r.options())
	r.pumpUntil(t, func() bool { return h.Err() != nil })

	if !errors.Is(h.Err(), barcodescan.ErrBootstrap) {
		t.Errorf("Err() = %v, want ErrBootstrap", h.Err())
	}
}

func TestDecodeErrorsGoToHandler(t *testing.T) {
	r := newRig()
	r.detector.respond = func(call int) ([]decode.Barcode, error) {
		if call == 1 {
			return nil, decode.ErrUnsupportedSource
		}
		return nil, nil
	}

	h := r.start(t, context.Background(), noop, r.options())
	r.pumpUntil(t, func() bool { return len(r.detector.Calls()) >= 2 })

	if n := r.errors.matching(decode.ErrUnsupportedSource); n != 1 {
		t.Errorf("handler got %d decode errors, want 1", n)
	}
	if st := h.Stats(); st.LoopErrors != 1 || st.State != barcodescan.StateActive {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestDecodeDegradedReportedOncePerStreak(t *testing.T) {
	r := newRig()
	r.detector.failures.Store(5)
	opts := r.options()
	opts.DecodeErrorThreshold = 3

	r.start(t, context.Background(), noop, opts)
	r.pumpUntil(t, func() bool { return len(r.detector.Calls()) >= 4 })

	if n := r.errors.matching(barcodescan.ErrDecodeDegraded); n != 1 {
		t.Fatalf("ErrDecodeDegraded reported %d times, want 1", n)
	}

	// A successful decode ends the streak; the next one is reported again.
	r.detector.failures.Store(0)
	base := len(r.detector.Calls())
	r.pumpUntil(t, func() bool { return len(r.detector.Calls()) >= base+2 })
	r.detector.failures.Store(3)
	base = len(r.detector.Calls())
	r.pumpUntil(t, func() bool { return len(r.detector.Calls()) >= base+2 })

	if n := r.errors.matching(barcodescan.ErrDecodeDegraded); n != 2 {
		t.Errorf("ErrDecodeDegraded reported %d times, want 2", n)
	}
}

func TestCreateBarcodeReaderForwards(t *testing.T) {
	r := newRig()
	r.stream.frames <- testFrame(0)

	h, err := barcodescan.CreateBarcodeReader(context.Background(), noop, r.options())
	if err != nil {
		t.Fatalf("CreateBarcodeReader() error = %v", err)
	}
	defer h.Cancel()

	if h.State() != barcodescan.StateActive || r.camera.Opens() != 1 {
		t.Errorf("State() = %s, opens = %d", h.State(), r.camera.Opens())
	}
}

func TestError_Is(t *testing.T) {
	err := &barcodescan.Error{Kind: barcodescan.KindAcquisition, Op: "open camera", Err: errors.New("busy")}
	if !errors.Is(err, barcodescan.ErrAcquisition) || errors.Is(err, barcodescan.ErrPlayback) {
		t.Errorf("errors.Is mismatch for %v", err)
	}
	if err.Kind.String() != "acquisition" {
		t.Errorf("Kind.String() = %q", err.Kind.String())
	}
}
