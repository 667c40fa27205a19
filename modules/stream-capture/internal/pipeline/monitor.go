package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrEOS is returned by Watch when the source ends.
var ErrEOS = errors.New("end of stream")

// BusError is a classified pipeline error.
type BusError struct {
	Category ErrorCategory
	Message  string
	Debug    string
}

func (e *BusError) Error() string {
	return fmt.Sprintf("pipeline error [%s]: %s", e.Category, e.Message)
}

// ErrorCounters holds atomic counters for different error categories
type ErrorCounters struct {
	Permission atomic.Uint64
	NotFound   atomic.Uint64
	Constraint atomic.Uint64
	Network    atomic.Uint64
	Codec      atomic.Uint64
	Unknown    atomic.Uint64
}

// Count records one error of category c.
func (ec *ErrorCounters) Count(c ErrorCategory) {
	if ec == nil {
		return
	}
	switch c {
	case ErrCategoryPermission:
		ec.Permission.Add(1)
	case ErrCategoryNotFound:
		ec.NotFound.Add(1)
	case ErrCategoryConstraint:
		ec.Constraint.Add(1)
	case ErrCategoryNetwork:
		ec.Network.Add(1)
	case ErrCategoryCodec:
		ec.Codec.Add(1)
	default:
		ec.Unknown.Add(1)
	}
}

// MonitorMetrics holds stream metrics for logging
type MonitorMetrics struct {
	Location   string
	FrameCount *atomic.Uint64
	StartedAt  time.Time
}

func parseBusError(msg *gst.Message) *BusError {
	gerr := msg.ParseError()
	if gerr == nil {
		return &BusError{Category: ErrCategoryUnknown, Message: "unknown error"}
	}
	return &BusError{
		Category: ClassifyGStreamerError(gerr),
		Message:  gerr.Error(),
		Debug:    gerr.DebugString(),
	}
}

// WaitPlaying blocks until the pipeline reaches PLAYING, an error is posted,
// or ctx ends.
func WaitPlaying(ctx context.Context, pipeline *gst.Pipeline, counters *ErrorCounters) error {
	if pipeline == nil {
		return fmt.Errorf("pipeline not initialized")
	}

	bus := pipeline.GetPipelineBus()
	for {
		if err := ctx.Err(); err != nil {
			return context.Cause(ctx)
		}

		// Poll for messages with short timeout for responsive cancellation
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageError:
			be := parseBusError(msg)
			counters.Count(be.Category)
			slog.Error("stream-capture: pipeline failed to start",
				"error", be.Message,
				"debug", be.Debug,
				"category", be.Category.String(),
			)
			return be

		case gst.MessageEOS:
			return ErrEOS

		case gst.MessageStateChanged:
			if msg.Source() != pipeline.GetName() {
				continue
			}
			_, newState := msg.ParseStateChanged()
			if newState == gst.StatePlaying {
				slog.Info("stream-capture: pipeline reached PLAYING state")
				return nil
			}
		}
	}
}

// Watch monitors the pipeline bus until an error or EOS is posted, or ctx ends.
//
// Returns the classified error (or ErrEOS) when the pipeline fails.
// Returns nil if context is cancelled (graceful shutdown).
func Watch(ctx context.Context, pipeline *gst.Pipeline, counters *ErrorCounters, metrics MonitorMetrics) error {
	if pipeline == nil {
		return fmt.Errorf("pipeline not initialized")
	}

	bus := pipeline.GetPipelineBus()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("stream-capture: context cancelled, stopping pipeline monitor")
			return nil
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("stream-capture: end of stream received",
				"location", metrics.Location,
				"uptime", time.Since(metrics.StartedAt),
				"frames_processed", metrics.FrameCount.Load(),
			)
			return ErrEOS

		case gst.MessageError:
			be := parseBusError(msg)
			counters.Count(be.Category)
			slog.Error("stream-capture: pipeline error",
				"error", be.Message,
				"debug", be.Debug,
				"category", be.Category.String(),
				"location", metrics.Location,
				"uptime", time.Since(metrics.StartedAt),
				"frames_processed", metrics.FrameCount.Load(),
			)
			return be

		case gst.MessageStateChanged:
			if msg.Source() == pipeline.GetName() {
				old, newState := msg.ParseStateChanged()
				slog.Debug("stream-capture: pipeline state changed", "from", old, "to", newState)
			}
		}
	}
}
