package chime

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestTone_Validate(t *testing.T) {
	tests := []struct {
		name    string
		tone    Tone
		wantErr bool
	}{
		{name: "default", tone: DefaultTone()},
		{name: "zero frequency", tone: Tone{Duration: time.Second}, wantErr: true},
		{name: "zero duration", tone: Tone{Frequency: 440}, wantErr: true},
		{name: "loud", tone: Tone{Frequency: 440, Duration: time.Second, Volume: 1.5}, wantErr: true},
		{name: "bad waveform", tone: Tone{Frequency: 440, Duration: time.Second, Waveform: "noise"}, wantErr: true},
		{name: "square", tone: Tone{Frequency: 440, Duration: time.Second, Waveform: Square, Volume: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tone.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSignal_TriggerPlaysTone(t *testing.T) {
	var got atomic.Value
	emitter := EmitterFunc(func(ctx context.Context, tone Tone) error {
		got.Store(tone)
		return nil
	})

	s, err := New(emitter, DefaultTone())
	if err != nil {
		t.Fatal(err)
	}
	s.Trigger()
	s.Wait()

	if tone, _ := got.Load().(Tone); tone != DefaultTone() {
		t.Errorf("emitted %+v, want %+v", tone, DefaultTone())
	}
	if st := s.Stats(); st.Triggered != 1 || st.Failed != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestSignal_TriggerDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	emitter := EmitterFunc(func(ctx context.Context, tone Tone) error {
		<-release
		return nil
	})

	s, err := New(emitter, DefaultTone())
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		s.Trigger()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked on the emitter")
	}
	close(release)
	s.Wait()
}

func TestSignal_ThrottlesOverlappingTones(t *testing.T) {
	var calls atomic.Int32
	emitter := EmitterFunc(func(ctx context.Context, tone Tone) error {
		calls.Add(1)
		return nil
	})

	s, err := New(emitter, Tone{Frequency: 1000, Duration: time.Hour, Volume: 0.2})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		s.Trigger()
	}
	s.Wait()

	if calls.Load() != 1 {
		t.Errorf("emitter called %d times, want 1", calls.Load())
	}
	if st := s.Stats(); st.Throttled != 4 {
		t.Errorf("Throttled = %d, want 4", st.Throttled)
	}
}

func TestSignal_NoThrottle(t *testing.T) {
	var calls atomic.Int32
	emitter := EmitterFunc(func(ctx context.Context, tone Tone) error {
		calls.Add(1)
		return nil
	})

	s, err := New(emitter, DefaultTone(), WithMinInterval(0))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		s.Trigger()
	}
	s.Wait()

	if calls.Load() != 3 {
		t.Errorf("emitter called %d times, want 3", calls.Load())
	}
}

func TestSignal_FailuresAreContained(t *testing.T) {
	tests := []struct {
		name    string
		emitter ToneEmitter
	}{
		{
			name: "error",
			emitter: EmitterFunc(func(context.Context, Tone) error {
				return errors.New("no audio device")
			}),
		},
		{
			name: "panic",
			emitter: EmitterFunc(func(context.Context, Tone) error {
				panic("driver crashed")
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.emitter, DefaultTone())
			if err != nil {
				t.Fatal(err)
			}
			s.Trigger()
			s.Wait()
			if st := s.Stats(); st.Failed != 1 {
				t.Errorf("Failed = %d, want 1", st.Failed)
			}
		})
	}
}

func TestSignal_EmitterDeadline(t *testing.T) {
	var deadline atomic.Bool
	emitter := EmitterFunc(func(ctx context.Context, tone Tone) error {
		<-ctx.Done()
		deadline.Store(true)
		return ctx.Err()
	})

	s, err := New(emitter, Tone{Frequency: 440, Duration: 10 * time.Millisecond}, WithGrace(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	s.Trigger()
	s.Wait()

	if !deadline.Load() {
		t.Error("emitter context was never cancelled")
	}
}

func TestNew_NilEmitter(t *testing.T) {
	s, err := New(nil, DefaultTone())
	if err != nil {
		t.Fatal(err)
	}
	s.Trigger()
	s.Wait()
	if st := s.Stats(); st.Failed != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestLaunchLine(t *testing.T) {
	line := launchLine(Tone{Frequency: 1000, Duration: 200 * time.Millisecond, Waveform: Sawtooth, Volume: 0.2}, "")

	for _, want := range []string{
		"audiotestsrc wave=saw freq=1000 volume=0.2",
		"num-buffers=20",
		"audio/x-raw,rate=44100",
		"! autoaudiosink",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("launchLine() = %q, missing %q", line, want)
		}
	}
}

func TestNumBuffers(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want int
	}{
		{d: 0, want: 1},
		{d: time.Millisecond, want: 1},
		{d: 10 * time.Millisecond, want: 1},
		{d: 15 * time.Millisecond, want: 2},
		{d: time.Second, want: 100},
	}

	for _, tt := range tests {
		if got := numBuffers(tt.d); got != tt.want {
			t.Errorf("numBuffers(%s) = %d, want %d", tt.d, got, tt.want)
		}
	}
}
