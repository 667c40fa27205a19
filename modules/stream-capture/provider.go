package streamcapture

import (
	"context"

	"github.com/e7canasta/orion-care-sensor/modules/framesupplier"
)

// MediaStream is a live camera stream.
//
// Implementations must guarantee:
//   - Frames() delivers GRAY8 frames until Stop(); it is closed by Stop()
//   - Errors() carries at most one fatal playback error
//   - Settings() reports the negotiated track properties
//   - Stop() is idempotent (safe to call multiple times)
type MediaStream interface {
	framesupplier.Source

	// Stop releases the device and every track of the stream.
	Stop() error
}

// Provider opens camera streams.
type Provider interface {
	// Open acquires a stream matching the constraints.
	//
	// Open blocks until the stream is playing. Returns an *Error when:
	//   - the device refuses access (CategoryPermission)
	//   - no device matches (CategoryNotFound)
	//   - hard constraints cannot be met (CategoryConstraint)
	//   - the source fails while starting (network, codec, unknown)
	//
	// If ctx ends first, Open returns its cause and nothing stays acquired.
	Open(ctx context.Context, c Constraints) (MediaStream, error)
}
