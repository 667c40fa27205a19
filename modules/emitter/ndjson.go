package emitter

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/e7canasta/orion-care-sensor/modules/framebus"
)

// NDJSON writes one JSON object per line.
type NDJSON struct {
	mu  sync.Mutex
	enc *json.Encoder
	counters
}

// NewNDJSON returns a sink writing to w (stdout, a file, a pipe).
func NewNDJSON(w io.Writer) *NDJSON {
	return &NDJSON{enc: json.NewEncoder(w)}
}

// Emit encodes ev as a single line.
func (n *NDJSON) Emit(ev framebus.Event) error {
	n.mu.Lock()
	err := n.enc.Encode(ev)
	n.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("emitter: ndjson: %w", err)
	}
	return n.record(err)
}

// Stats returns emitter statistics.
func (n *NDJSON) Stats() Stats {
	return Stats{
		Connected: true,
		Published: n.published.Load(),
		Errors:    n.errors.Load(),
	}
}
