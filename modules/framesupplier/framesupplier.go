package framesupplier

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrNoSource is returned by Play when no source is bound.
	ErrNoSource = errors.New("framesupplier: no source bound")

	// ErrSourceEnded is reported through OnError when a playing source closes.
	ErrSourceEnded = errors.New("framesupplier: source ended")
)

// statsWindow bounds the number of frame timestamps kept for Stats.
const statsWindow = 120

// Surface binds a Source and exposes the newest frame it delivered.
type Surface struct {
	name string

	mu      sync.Mutex
	source  Source
	current *Frame
	playing bool
	stop    context.CancelFunc
	pumped  chan struct{}

	nextID       uint64
	frameWaiters map[uint64]func(time.Time)
	metaFns      map[uint64]func(Metadata)
	errFns       map[uint64]func(error)
	metaFired    bool
	errFired     bool

	frameTimes []time.Time

	// Statistics (atomic for thread-safety)
	published   atomic.Uint64
	overwritten atomic.Uint64
}

// New creates an idle surface with no source bound.
func New(name string) *Surface {
	return &Surface{
		name:         name,
		frameWaiters: make(map[uint64]func(time.Time)),
		metaFns:      make(map[uint64]func(Metadata)),
		errFns:       make(map[uint64]func(error)),
	}
}

// SetSource binds src, replacing (and pausing) any previous binding.
// A nil src detaches the current source and clears the mailbox.
func (s *Surface) SetSource(src Source) error {
	s.Pause()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.source = src
	s.current = nil
	s.metaFired = false
	s.errFired = false
	s.frameTimes = s.frameTimes[:0]

	if src == nil {
		slog.Debug("framesupplier: source detached", "surface", s.name)
	} else {
		slog.Debug("framesupplier: source bound", "surface", s.name)
	}
	return nil
}

// Source returns the bound source, or nil.
func (s *Surface) Source() Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// Play starts pumping frames from the bound source. Calling Play while
// already playing is a no-op.
func (s *Surface) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.source == nil {
		return ErrNoSource
	}
	if s.playing {
		return nil
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.pumped = make(chan struct{})
	s.playing = true

	go s.pump(pumpCtx, s.source, s.pumped)

	slog.Debug("framesupplier: playback started", "surface", s.name)
	return nil
}

// Pause stops pumping frames and waits for the pump goroutine to exit.
// The last frame stays readable. Idempotent.
func (s *Surface) Pause() {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	s.playing = false
	stop, done := s.stop, s.pumped
	s.stop = nil
	s.mu.Unlock()

	stop()
	<-done
	slog.Debug("framesupplier: playback paused", "surface", s.name)
}

// Playing reports whether frames are being pumped.
func (s *Surface) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// CurrentFrame returns the newest frame, if any has arrived since binding.
func (s *Surface) CurrentFrame() (*Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != nil
}

// OnNextFrame registers a one-shot callback for the next published frame.
func (s *Surface) OnNextFrame(fn func(time.Time)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.frameWaiters[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.frameWaiters, id)
		s.mu.Unlock()
	}
}

// OnMetadataReady registers a callback for the first frame of the bound source.
func (s *Surface) OnMetadataReady(fn func(Metadata)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.metaFns[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.metaFns, id)
		s.mu.Unlock()
	}
}

// OnError registers a callback for the first playback error of the bound source.
// Callbacks run on the pump goroutine and must not call Pause or SetSource.
func (s *Surface) OnError(fn func(error)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.errFns[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.errFns, id)
		s.mu.Unlock()
	}
}

// Publish delivers a frame as if it came from the bound source. The pump uses
// it; tests and non-stream producers may call it directly.
func (s *Surface) Publish(frame *Frame) {
	if frame == nil {
		return
	}

	s.mu.Lock()
	if s.current != nil {
		s.overwritten.Add(1)
	}
	s.current = frame
	s.published.Add(1)

	s.frameTimes = append(s.frameTimes, frame.Timestamp)
	if len(s.frameTimes) > statsWindow {
		s.frameTimes = s.frameTimes[len(s.frameTimes)-statsWindow:]
	}

	var metaFns []func(Metadata)
	var md Metadata
	if !s.metaFired {
		s.metaFired = true
		for id, fn := range s.metaFns {
			metaFns = append(metaFns, fn)
			delete(s.metaFns, id)
		}
		md = Metadata{Width: frame.Width, Height: frame.Height, Format: frame.Format}
		if s.source != nil {
			md.Settings = s.source.Settings()
		}
	}

	waiters := s.frameWaiters
	s.frameWaiters = make(map[uint64]func(time.Time))
	s.mu.Unlock()

	for _, fn := range metaFns {
		fn(md)
	}
	for _, fn := range waiters {
		fn(frame.Timestamp)
	}
}

// Fail reports a playback error once per bound source.
func (s *Surface) Fail(err error) {
	s.mu.Lock()
	if s.errFired {
		s.mu.Unlock()
		return
	}
	s.errFired = true
	fns := make([]func(error), 0, len(s.errFns))
	for id, fn := range s.errFns {
		fns = append(fns, fn)
		delete(s.errFns, id)
	}
	s.mu.Unlock()

	slog.Warn("framesupplier: playback error", "surface", s.name, "error", err)
	for _, fn := range fns {
		fn(err)
	}
}

func (s *Surface) pump(ctx context.Context, src Source, done chan struct{}) {
	defer close(done)

	frames := src.Frames()
	errs := src.Errors()

	for {
		select {
		case <-ctx.Done():
			return

		case frame, ok := <-frames:
			if !ok {
				s.Fail(ErrSourceEnded)
				return
			}
			s.Publish(frame)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			s.Fail(err)
			return
		}
	}
}

// SurfaceStats is an operational snapshot of a surface.
type SurfaceStats struct {
	// Published is the number of frames delivered to the mailbox
	Published uint64
	// Overwritten is the number of frames replaced before or after being read
	Overwritten uint64
	// Cadence describes the delivery rate over the recent window
	Cadence *CadenceStats
}

// Stats returns a snapshot of delivery statistics.
func (s *Surface) Stats() SurfaceStats {
	s.mu.Lock()
	times := make([]time.Time, len(s.frameTimes))
	copy(times, s.frameTimes)
	s.mu.Unlock()

	var window time.Duration
	if len(times) > 1 {
		window = times[len(times)-1].Sub(times[0])
	}

	return SurfaceStats{
		Published:   s.published.Load(),
		Overwritten: s.overwritten.Load(),
		Cadence:     CalculateCadence(times, window),
	}
}
