package decode

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/format"
)

// Bridge detects barcodes of a fixed format set.
type Bridge struct {
	cell    *SessionCell
	formats []format.Format
	hints   *Hints

	// mu serializes conversion into scratch and the engine call that reads it.
	mu      sync.Mutex
	scratch scratch

	consecutiveFailures atomic.Int64
	detects             atomic.Uint64
	decoded             atomic.Uint64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithSessionCell makes the bridge use cell instead of DefaultCell.
func WithSessionCell(cell *SessionCell) Option {
	return func(b *Bridge) {
		if cell != nil {
			b.cell = cell
		}
	}
}

// NewBridge builds the hint set for formats once. An empty list selects the
// default formats. Formats without a catalog entry are rejected.
func NewBridge(formats []format.Format, opts ...Option) (*Bridge, error) {
	if len(formats) == 0 {
		formats = format.Default()
	}

	idx, err := format.Indexes(formats)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	b := &Bridge{
		cell:    DefaultCell,
		formats: append([]format.Format(nil), formats...),
		hints:   newHints(idx),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Formats returns the formats the bridge asks the engine for.
func (b *Bridge) Formats() []format.Format {
	return append([]format.Format(nil), b.formats...)
}

// Hints returns the translated hint set.
func (b *Bridge) Hints() *Hints { return b.hints }

// Ready bootstraps the shared session if needed.
func (b *Bridge) Ready(ctx context.Context) error {
	_, err := b.cell.Get(ctx)
	return err
}

// Detect returns the barcodes found in src, in engine order.
//
// src must be an image.Image, a framesupplier frame or a Blob; anything else
// fails with ErrUnsupportedSource before the session is touched. A frame that
// fails to convert or decode yields no barcodes and no error.
func (b *Bridge) Detect(ctx context.Context, src any) ([]Barcode, error) {
	if !supported(src) {
		return nil, ErrUnsupportedSource
	}

	session, err := b.cell.Get(ctx)
	if err != nil {
		return nil, err
	}

	b.detects.Add(1)

	b.mu.Lock()
	native, err := b.decode(session.Engine, src)
	b.mu.Unlock()

	if err != nil {
		n := b.consecutiveFailures.Add(1)
		slog.Debug("decode: frame failed", "error", err, "consecutive", n)
		return nil, nil
	}
	b.consecutiveFailures.Store(0)

	codes := marshal(native)
	b.decoded.Add(uint64(len(codes)))
	return codes, nil
}

// decode converts src and runs the engine. Engine panics are returned as errors.
func (b *Bridge) decode(engine Engine, src any) (results []NativeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			results, err = nil, fmt.Errorf("decode: engine panic: %v", r)
		}
	}()

	luma, w, h, err := b.scratch.toLuma(src)
	if err != nil {
		return nil, err
	}
	return engine.DecodeMulti(luma, w, h, b.hints)
}

// marshal copies native results into Barcodes, freeing each one immediately.
func marshal(native []NativeResult) []Barcode {
	if len(native) == 0 {
		return nil
	}

	codes := make([]Barcode, 0, len(native))
	for _, r := range native {
		if r == nil {
			continue
		}
		points := r.Points()
		codes = append(codes, Barcode{
			RawValue:     r.Text(),
			Format:       format.FromIndex(r.FormatIndex()),
			CornerPoints: points,
			BoundingBox:  boundingBox(points),
		})
		r.Free()
	}
	return codes
}

// ConsecutiveFailures reports how many Detect calls in a row failed to decode.
// It resets on the first call that decodes cleanly, barcode or not.
func (b *Bridge) ConsecutiveFailures() int {
	return int(b.consecutiveFailures.Load())
}

// BridgeStats is an operational snapshot of a bridge.
type BridgeStats struct {
	Detects             uint64
	Decoded             uint64
	ConsecutiveFailures int
	ScratchResizes      int
}

// Stats returns detection counters.
func (b *Bridge) Stats() BridgeStats {
	b.mu.Lock()
	resizes := b.scratch.resizes
	b.mu.Unlock()

	return BridgeStats{
		Detects:             b.detects.Load(),
		Decoded:             b.decoded.Load(),
		ConsecutiveFailures: b.ConsecutiveFailures(),
		ScratchResizes:      resizes,
	}
}

// SupportedFormats lists every format a Bridge accepts.
func SupportedFormats() []format.Format {
	return format.Supported()
}
