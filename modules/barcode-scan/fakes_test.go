package barcodescan_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	barcodescan "github.com/e7canasta/orion-care-sensor/modules/barcode-scan"
	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/decode"
	"github.com/e7canasta/orion-care-sensor/modules/chime"
	"github.com/e7canasta/orion-care-sensor/modules/framesupplier"
	streamcapture "github.com/e7canasta/orion-care-sensor/modules/stream-capture"
)

// fakeStream is a camera stream fed by the test.
type fakeStream struct {
	frames   chan *framesupplier.Frame
	errs     chan error
	settings framesupplier.TrackSettings
	stops    atomic.Int32
	once     sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		frames:   make(chan *framesupplier.Frame, 1),
		errs:     make(chan error, 1),
		settings: framesupplier.TrackSettings{Width: 640, Height: 480, FrameRate: 12, FacingMode: "environment"},
	}
}

func (s *fakeStream) Frames() <-chan *framesupplier.Frame   { return s.frames }
func (s *fakeStream) Errors() <-chan error                  { return s.errs }
func (s *fakeStream) Settings() framesupplier.TrackSettings { return s.settings }

func (s *fakeStream) Stop() error {
	s.stops.Add(1)
	s.once.Do(func() { close(s.frames) })
	return nil
}

// fakeCamera hands out one stream, or fails.
type fakeCamera struct {
	stream *fakeStream
	err    error

	mu    sync.Mutex
	opens int
	got   streamcapture.Constraints
}

func (c *fakeCamera) Open(ctx context.Context, cons streamcapture.Constraints) (streamcapture.MediaStream, error) {
	c.mu.Lock()
	c.opens++
	c.got = cons
	c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	return c.stream, nil
}

func (c *fakeCamera) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

// fakeDetector returns scripted results per call.
type fakeDetector struct {
	respond  func(call int) ([]decode.Barcode, error)
	failures atomic.Int64
	ready    error

	mu    sync.Mutex
	calls []time.Time
}

func (d *fakeDetector) Detect(ctx context.Context, src any) ([]decode.Barcode, error) {
	d.mu.Lock()
	d.calls = append(d.calls, time.Now())
	n := len(d.calls)
	d.mu.Unlock()

	if d.respond == nil {
		return nil, nil
	}
	return d.respond(n)
}

func (d *fakeDetector) ConsecutiveFailures() int { return int(d.failures.Load()) }

func (d *fakeDetector) Calls() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.calls...)
}

// readyDetector adds the optional Ready method used by Options.Preload.
type readyDetector struct {
	*fakeDetector
}

func (d readyDetector) Ready(ctx context.Context) error { return d.ready }

// fakeLock counts releases.
type fakeLock struct {
	releases atomic.Int32
}

func (l *fakeLock) Release() error {
	l.releases.Add(1)
	return nil
}

type fakeLocker struct {
	lock     *fakeLock
	err      error
	acquires atomic.Int32
}

func (l *fakeLocker) Acquire(ctx context.Context) (barcodescan.WakeLock, error) {
	l.acquires.Add(1)
	if l.err != nil {
		return nil, l.err
	}
	return l.lock, nil
}

// countingChime counts emitted tones.
func countingChime(n *atomic.Int32) chime.ToneEmitter {
	return chime.EmitterFunc(func(context.Context, chime.Tone) error {
		n.Add(1)
		return nil
	})
}

// errorLog collects reported errors.
type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) handle(err error) {
	l.mu.Lock()
	l.errs = append(l.errs, err)
	l.mu.Unlock()
}

func (l *errorLog) matching(target error) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, err := range l.errs {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}

// rig wires fakes into Options.
type rig struct {
	stream   *fakeStream
	camera   *fakeCamera
	detector *fakeDetector
	locker   *fakeLocker
	surface  *framesupplier.Surface
	chimes   atomic.Int32
	errors   errorLog
}

func newRig() *rig {
	stream := newFakeStream()
	return &rig{
		stream:   stream,
		camera:   &fakeCamera{stream: stream},
		detector: &fakeDetector{},
		locker:   &fakeLocker{lock: &fakeLock{}},
		surface:  framesupplier.New("test"),
	}
}

func (r *rig) options() barcodescan.Options {
	return barcodescan.Options{
		Surface:      r.surface,
		Camera:       r.camera,
		WakeLock:     r.locker,
		Detector:     r.detector,
		Chime:        countingChime(&r.chimes),
		Delay:        -1,
		ErrorHandler: r.errors.handle,
	}
}

// start starts a scan, feeding the first frame so metadata becomes ready.
func (r *rig) start(t *testing.T, ctx context.Context, cb barcodescan.Callback, opts barcodescan.Options) *barcodescan.Handle {
	t.Helper()
	r.stream.frames <- testFrame(0)

	h, err := barcodescan.Start(ctx, cb, opts)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(h.Cancel)
	return h
}

// pumpUntil publishes frames to the surface until cond holds.
func (r *rig) pumpUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for seq := uint64(1); !cond(); seq++ {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached while pumping frames")
		}
		r.surface.Publish(testFrame(seq))
		time.Sleep(5 * time.Millisecond)
	}
}

func testFrame(seq uint64) *framesupplier.Frame {
	return &framesupplier.Frame{
		Seq:       seq,
		Timestamp: time.Now(),
		Width:     4,
		Height:    4,
		Format:    framesupplier.FormatGray8,
		Data:      make([]byte, 16),
	}
}

func waitDone(t *testing.T, h *barcodescan.Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scan did not finish")
	}
}

func noop(context.Context, decode.Barcode) error { return nil }
