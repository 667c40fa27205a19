// Package emitter forwards detection events from a framebus.Bus to external
// consumers: an MQTT broker, WebSocket clients, or a JSON-lines stream.
package emitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/framebus"
)

// DefaultBuffer is the subscription channel size used by Forward.
const DefaultBuffer = 32

// Sink consumes detection events.
type Sink interface {
	Emit(ev framebus.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev framebus.Event) error

// Emit calls f(ev).
func (f SinkFunc) Emit(ev framebus.Event) error { return f(ev) }

// Stats contains emitter statistics
type Stats struct {
	Connected bool
	Published uint64
	Errors    uint64
}

type counters struct {
	published atomic.Uint64
	errors    atomic.Uint64
}

func (c *counters) record(err error) error {
	if err != nil {
		c.errors.Add(1)
		return err
	}
	c.published.Add(1)
	return nil
}

// Forward subscribes sink to bus under id and feeds it until ctx ends.
// Emit errors are logged and counted by the sink; they never stop forwarding.
// A buffer <= 0 uses DefaultBuffer.
func Forward(ctx context.Context, bus framebus.Bus, id string, sink Sink, buffer int) error {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	ch := make(chan framebus.Event, buffer)
	if err := bus.Subscribe(id, ch); err != nil {
		return fmt.Errorf("emitter: subscribe %s: %w", id, err)
	}
	defer func() {
		if err := bus.Unsubscribe(id); err != nil && !errors.Is(err, framebus.ErrBusClosed) {
			slog.Warn("emitter: unsubscribe failed", "sink", id, "error", err)
		}
	}()

	slog.Debug("emitter: forwarding", "sink", id, "buffer", buffer)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-ch:
			if err := sink.Emit(ev); err != nil {
				slog.Warn("emitter: emit failed",
					"sink", id,
					"scan_id", ev.ScanID,
					"seq", ev.Seq,
					"error", err,
				)
			}
		}
	}
}
