package framesupplier_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/framesupplier"
)

// chanSource is a Source backed by plain channels.
type chanSource struct {
	frames   chan *framesupplier.Frame
	errs     chan error
	settings framesupplier.TrackSettings
}

func newChanSource() *chanSource {
	return &chanSource{
		frames:   make(chan *framesupplier.Frame, 8),
		errs:     make(chan error, 1),
		settings: framesupplier.TrackSettings{Width: 640, Height: 480, FrameRate: 12, FacingMode: "environment"},
	}
}

func (c *chanSource) Frames() <-chan *framesupplier.Frame   { return c.frames }
func (c *chanSource) Errors() <-chan error                  { return c.errs }
func (c *chanSource) Settings() framesupplier.TrackSettings { return c.settings }

func grayFrame(seq uint64, ts time.Time) *framesupplier.Frame {
	return &framesupplier.Frame{
		Seq:       seq,
		Timestamp: ts,
		Width:     4,
		Height:    2,
		Format:    framesupplier.FormatGray8,
		Data:      make([]byte, 8),
	}
}

// --- Mailbox Overwrite (JIT Semantics) ---

// TestPublishOverwrites validates the single-slot mailbox keeps only the newest frame.
func TestPublishOverwrites(t *testing.T) {
	s := framesupplier.New("test")

	if _, ok := s.CurrentFrame(); ok {
		t.Fatal("CurrentFrame() on empty surface reported a frame")
	}

	now := time.Now()
	for i := uint64(1); i <= 3; i++ {
		s.Publish(grayFrame(i, now.Add(time.Duration(i)*time.Millisecond)))
	}

	frame, ok := s.CurrentFrame()
	if !ok {
		t.Fatal("CurrentFrame() reported no frame after Publish")
	}
	if frame.Seq != 3 {
		t.Errorf("CurrentFrame().Seq = %d, want 3", frame.Seq)
	}

	stats := s.Stats()
	if stats.Published != 3 {
		t.Errorf("Published = %d, want 3", stats.Published)
	}
	if stats.Overwritten != 2 {
		t.Errorf("Overwritten = %d, want 2", stats.Overwritten)
	}
}

// TestOnNextFrameOneShot validates a frame callback fires once and must re-register.
func TestOnNextFrameOneShot(t *testing.T) {
	s := framesupplier.New("test")

	var calls atomic.Int32
	s.OnNextFrame(func(time.Time) { calls.Add(1) })

	s.Publish(grayFrame(1, time.Now()))
	s.Publish(grayFrame(2, time.Now()))

	if got := calls.Load(); got != 1 {
		t.Errorf("callback fired %d times, want 1", got)
	}
}

// TestOnNextFrameCancel validates a cancelled registration never fires.
func TestOnNextFrameCancel(t *testing.T) {
	s := framesupplier.New("test")

	var fired atomic.Bool
	cancel := s.OnNextFrame(func(time.Time) { fired.Store(true) })
	cancel()
	cancel() // idempotent

	s.Publish(grayFrame(1, time.Now()))

	if fired.Load() {
		t.Error("cancelled callback fired")
	}
}

// TestOnNextFrameTimestamp validates the callback receives the frame timestamp.
func TestOnNextFrameTimestamp(t *testing.T) {
	s := framesupplier.New("test")
	ts := time.Unix(1700000000, 0)

	var got time.Time
	s.OnNextFrame(func(at time.Time) { got = at })
	s.Publish(grayFrame(1, ts))

	if !got.Equal(ts) {
		t.Errorf("callback timestamp = %v, want %v", got, ts)
	}
}

// --- Metadata / Error Notifications ---

// TestMetadataFiresOnce validates metadata-ready fires on the first frame only,
// and again after a new source is bound.
func TestMetadataFiresOnce(t *testing.T) {
	s := framesupplier.New("test")
	src := newChanSource()
	if err := s.SetSource(src); err != nil {
		t.Fatalf("SetSource() failed: %v", err)
	}

	var mds []framesupplier.Metadata
	s.OnMetadataReady(func(md framesupplier.Metadata) { mds = append(mds, md) })

	s.Publish(grayFrame(1, time.Now()))
	s.Publish(grayFrame(2, time.Now()))

	if len(mds) != 1 {
		t.Fatalf("metadata fired %d times, want 1", len(mds))
	}
	if mds[0].Width != 4 || mds[0].Height != 2 {
		t.Errorf("metadata dims = %dx%d, want 4x2", mds[0].Width, mds[0].Height)
	}
	if mds[0].Settings.FacingMode != "environment" {
		t.Errorf("metadata facing mode = %q, want environment", mds[0].Settings.FacingMode)
	}

	// Rebinding resets the once-per-source notification.
	_ = s.SetSource(newChanSource())
	s.OnMetadataReady(func(md framesupplier.Metadata) { mds = append(mds, md) })
	s.Publish(grayFrame(3, time.Now()))

	if len(mds) != 2 {
		t.Errorf("metadata fired %d times after rebinding, want 2", len(mds))
	}
}

// TestSetSourceClearsMailbox validates rebinding drops the previous source's frame.
func TestSetSourceClearsMailbox(t *testing.T) {
	s := framesupplier.New("test")
	s.Publish(grayFrame(1, time.Now()))

	_ = s.SetSource(nil)

	if _, ok := s.CurrentFrame(); ok {
		t.Error("CurrentFrame() still reports a frame after detaching")
	}
	if s.Source() != nil {
		t.Error("Source() not nil after detaching")
	}
}

// --- Playback ---

// TestPlayWithoutSource validates Play refuses to start with nothing bound.
func TestPlayWithoutSource(t *testing.T) {
	s := framesupplier.New("test")
	if err := s.Play(context.Background()); !errors.Is(err, framesupplier.ErrNoSource) {
		t.Errorf("Play() error = %v, want ErrNoSource", err)
	}
}

// TestPlayPumpsFrames validates frames sent by the source reach the mailbox.
func TestPlayPumpsFrames(t *testing.T) {
	s := framesupplier.New("test")
	src := newChanSource()
	_ = s.SetSource(src)

	got := make(chan uint64, 1)
	s.OnNextFrame(func(time.Time) {
		f, _ := s.CurrentFrame()
		got <- f.Seq
	})

	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("Play() failed: %v", err)
	}
	defer s.Pause()

	if !s.Playing() {
		t.Error("Playing() = false after Play")
	}

	src.frames <- grayFrame(7, time.Now())

	select {
	case seq := <-got:
		if seq != 7 {
			t.Errorf("frame seq = %d, want 7", seq)
		}
	case <-time.After(time.Second):
		t.Fatal("frame never delivered")
	}
}

// TestSourceEndReportsError validates a closed frame channel surfaces ErrSourceEnded once.
func TestSourceEndReportsError(t *testing.T) {
	s := framesupplier.New("test")
	src := newChanSource()
	_ = s.SetSource(src)

	errs := make(chan error, 2)
	s.OnError(func(err error) { errs <- err })

	if err := s.Play(context.Background()); err != nil {
		t.Fatalf("Play() failed: %v", err)
	}
	defer s.Pause()

	close(src.frames)

	select {
	case err := <-errs:
		if !errors.Is(err, framesupplier.ErrSourceEnded) {
			t.Errorf("error = %v, want ErrSourceEnded", err)
		}
	case <-time.After(time.Second):
		t.Fatal("source end never reported")
	}

	s.Fail(errors.New("second"))
	select {
	case err := <-errs:
		t.Errorf("error reported twice: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
}

// TestSourceErrorReported validates errors from the source reach OnError.
func TestSourceErrorReported(t *testing.T) {
	s := framesupplier.New("test")
	src := newChanSource()
	_ = s.SetSource(src)

	errs := make(chan error, 1)
	s.OnError(func(err error) { errs <- err })
	_ = s.Play(context.Background())
	defer s.Pause()

	boom := errors.New("device unplugged")
	src.errs <- boom

	select {
	case err := <-errs:
		if !errors.Is(err, boom) {
			t.Errorf("error = %v, want %v", err, boom)
		}
	case <-time.After(time.Second):
		t.Fatal("source error never reported")
	}
}

// TestPauseIdempotent validates Pause is safe to call repeatedly and concurrently.
func TestPauseIdempotent(t *testing.T) {
	s := framesupplier.New("test")
	_ = s.SetSource(newChanSource())
	_ = s.Play(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Pause()
		}()
	}
	wg.Wait()
	s.Pause()

	if s.Playing() {
		t.Error("Playing() = true after Pause")
	}

	// Play again after pause.
	if err := s.Play(context.Background()); err != nil {
		t.Errorf("Play() after Pause failed: %v", err)
	}
	s.Pause()
}

// --- Cadence ---

// TestCalculateCadenceSteady validates a perfectly regular stream is stable.
func TestCalculateCadenceSteady(t *testing.T) {
	start := time.Now()
	times := make([]time.Time, 31)
	for i := range times {
		times[i] = start.Add(time.Duration(i) * 100 * time.Millisecond)
	}

	stats := framesupplier.CalculateCadence(times, times[30].Sub(times[0]))

	if stats.FPSMean < 9.99 || stats.FPSMean > 10.01 {
		t.Errorf("FPSMean = %.3f, want 10", stats.FPSMean)
	}
	if !stats.IsStable {
		t.Errorf("IsStable = false for regular stream (stddev=%.3f jitter=%.4f)", stats.FPSStdDev, stats.JitterMean)
	}
}

// TestCalculateCadenceDegenerate validates empty and zero-length windows do not divide by zero.
func TestCalculateCadenceDegenerate(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name  string
		times []time.Time
	}{
		{"empty", nil},
		{"single", []time.Time{now}},
		{"same instant", []time.Time{now, now, now}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stats := framesupplier.CalculateCadence(tc.times, 0)
			if stats.FPSMean != 0 || stats.IsStable {
				t.Errorf("got FPSMean=%v IsStable=%v, want zero values", stats.FPSMean, stats.IsStable)
			}
		})
	}
}

// TestTickerClock validates ticks invoke one-shot callbacks until stopped.
func TestTickerClock(t *testing.T) {
	clock := framesupplier.NewTickerClock(5 * time.Millisecond)
	defer clock.Stop()

	fired := make(chan struct{}, 1)
	clock.OnNextFrame(func(time.Time) { fired <- struct{}{} })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("tick never fired")
	}

	clock.Stop()
	clock.Stop()
}
