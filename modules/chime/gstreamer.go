package chime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

const (
	sampleRate       = 44100
	samplesPerBuffer = 441 // 10ms
)

// GStreamerEmitter plays tones with audiotestsrc.
//
//	audiotestsrc → audio/x-raw,rate=44100 → audioconvert → sink
type GStreamerEmitter struct {
	// Sink is the audio sink element (default: autoaudiosink)
	Sink string
}

// NewGStreamerEmitter checks that the audio elements are available.
func NewGStreamerEmitter(sink string) (*GStreamerEmitter, error) {
	if sink == "" {
		sink = "autoaudiosink"
	}

	gst.Init(nil)
	for _, name := range []string{"audiotestsrc", "audioconvert", sink} {
		elem, err := gst.NewElement(name)
		if err != nil {
			return nil, fmt.Errorf("chime: GStreamer element %q not available: %w", name, err)
		}
		elem.SetState(gst.StateNull)
	}
	return &GStreamerEmitter{Sink: sink}, nil
}

// Emit plays t and blocks until EOS, a pipeline error, or ctx ends. The
// pipeline is set to NULL before returning.
func (e *GStreamerEmitter) Emit(ctx context.Context, t Tone) error {
	pipeline, err := gst.NewPipelineFromString(launchLine(t, e.Sink))
	if err != nil {
		return fmt.Errorf("chime: failed to create pipeline: %w", err)
	}
	defer pipeline.SetState(gst.StateNull)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("chime: failed to start pipeline: %w", err)
	}

	bus := pipeline.GetPipelineBus()
	for {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			return nil
		case gst.MessageError:
			gerr := msg.ParseError()
			if gerr == nil {
				return errors.New("chime: pipeline error")
			}
			slog.Debug("chime: pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
			return fmt.Errorf("chime: %s", gerr.Error())
		}
	}
}

// launchLine renders the pipeline description for t.
func launchLine(t Tone, sink string) string {
	if sink == "" {
		sink = "autoaudiosink"
	}
	return fmt.Sprintf(
		"audiotestsrc wave=%s freq=%g volume=%g samplesperbuffer=%d num-buffers=%d is-live=true"+
			" ! audio/x-raw,rate=%d ! audioconvert ! %s",
		waveName(t.Waveform), t.Frequency, t.Volume, samplesPerBuffer, numBuffers(t.Duration),
		sampleRate, sink,
	)
}

// numBuffers is the buffer count covering d, at least one.
func numBuffers(d time.Duration) int {
	buf := time.Second * samplesPerBuffer / sampleRate
	n := int((d + buf - 1) / buf)
	if n < 1 {
		return 1
	}
	return n
}

// waveName maps a waveform to the audiotestsrc wave nick.
func waveName(w Waveform) string {
	switch w {
	case Square:
		return "square"
	case Sawtooth:
		return "saw"
	case Triangle:
		return "triangle"
	default:
		return "sine"
	}
}
