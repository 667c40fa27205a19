// Package chime plays the short audible tone that confirms a detection.
//
// A Signal is fire-and-forget: Trigger starts the tone on its own goroutine and
// returns immediately. Tones that would overlap the one still playing are
// dropped by a rate limiter, so a burst of detections produces one chime.
package chime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Waveform is the oscillator shape of a tone.
type Waveform string

const (
	Sine     Waveform = "sine"
	Square   Waveform = "square"
	Sawtooth Waveform = "sawtooth"
	Triangle Waveform = "triangle"
)

// Tone describes one chime.
type Tone struct {
	// Frequency in Hz
	Frequency float64 `yaml:"frequency" json:"frequency"`
	// Duration of the tone
	Duration time.Duration `yaml:"duration" json:"duration"`
	// Waveform of the oscillator (default: sine)
	Waveform Waveform `yaml:"waveform" json:"waveform"`
	// Volume from 0.0 to 1.0
	Volume float64 `yaml:"volume" json:"volume"`
}

// DefaultTone is a short, quiet 1 kHz beep.
func DefaultTone() Tone {
	return Tone{
		Frequency: 1000,
		Duration:  200 * time.Millisecond,
		Waveform:  Sine,
		Volume:    0.2,
	}
}

// Validate checks the tone parameters.
func (t Tone) Validate() error {
	if t.Frequency <= 0 {
		return fmt.Errorf("chime: frequency must be positive, got %g", t.Frequency)
	}
	if t.Duration <= 0 {
		return fmt.Errorf("chime: duration must be positive, got %s", t.Duration)
	}
	if t.Volume < 0 || t.Volume > 1 {
		return fmt.Errorf("chime: volume must be in [0, 1], got %g", t.Volume)
	}
	switch t.Waveform {
	case "", Sine, Square, Sawtooth, Triangle:
	default:
		return fmt.Errorf("chime: unknown waveform %q", t.Waveform)
	}
	return nil
}

// ToneEmitter produces a tone. Emit blocks until the tone finished playing or
// ctx ends.
type ToneEmitter interface {
	Emit(ctx context.Context, t Tone) error
}

// EmitterFunc adapts a function to ToneEmitter.
type EmitterFunc func(ctx context.Context, t Tone) error

func (f EmitterFunc) Emit(ctx context.Context, t Tone) error { return f(ctx, t) }

// Nop is a ToneEmitter that plays nothing.
var Nop ToneEmitter = EmitterFunc(func(context.Context, Tone) error { return nil })

// Stats counts Trigger outcomes.
type Stats struct {
	Triggered uint64
	Throttled uint64
	Failed    uint64
}

// Signal plays a fixed tone on demand.
type Signal struct {
	emitter ToneEmitter
	tone    Tone
	limiter *rate.Limiter
	grace   time.Duration

	wg        sync.WaitGroup
	triggered atomic.Uint64
	throttled atomic.Uint64
	failed    atomic.Uint64
}

// Option configures a Signal.
type Option func(*Signal)

// WithMinInterval sets the minimum spacing between two chimes (default: the
// tone duration). Zero or negative disables throttling.
func WithMinInterval(d time.Duration) Option {
	return func(s *Signal) {
		if d <= 0 {
			s.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		s.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// WithGrace sets how long past the tone duration an emitter may take before
// it is cancelled (default: 1s).
func WithGrace(d time.Duration) Option {
	return func(s *Signal) { s.grace = d }
}

// New creates a signal playing tone through emitter. A nil emitter plays
// nothing.
func New(emitter ToneEmitter, tone Tone, opts ...Option) (*Signal, error) {
	if tone.Waveform == "" {
		tone.Waveform = Sine
	}
	if err := tone.Validate(); err != nil {
		return nil, err
	}
	if emitter == nil {
		emitter = Nop
	}

	s := &Signal{
		emitter: emitter,
		tone:    tone,
		limiter: rate.NewLimiter(rate.Every(tone.Duration), 1),
		grace:   time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Tone returns the configured tone.
func (s *Signal) Tone() Tone { return s.tone }

// Trigger starts the tone without waiting for it. Failures and panics of the
// emitter are logged and never reach the caller.
func (s *Signal) Trigger() {
	if !s.limiter.Allow() {
		s.throttled.Add(1)
		return
	}
	s.triggered.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.failed.Add(1)
				slog.Warn("chime: emitter panicked", "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.tone.Duration+s.grace)
		defer cancel()

		if err := s.emitter.Emit(ctx, s.tone); err != nil {
			s.failed.Add(1)
			slog.Debug("chime: tone failed", "error", err)
		}
	}()
}

// Wait blocks until every started tone has finished.
func (s *Signal) Wait() { s.wg.Wait() }

// Stats returns trigger counters.
func (s *Signal) Stats() Stats {
	return Stats{
		Triggered: s.triggered.Load(),
		Throttled: s.throttled.Load(),
		Failed:    s.failed.Load(),
	}
}
