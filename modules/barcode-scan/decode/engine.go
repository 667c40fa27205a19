package decode

import (
	"context"
	"strconv"
	"strings"

	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/format"
)

// Hints is the engine configuration built once per Bridge from its formats.
type Hints struct {
	Formats []format.NativeIndex
	key     string
}

func newHints(idx []format.NativeIndex) *Hints {
	parts := make([]string, len(idx))
	for i, n := range idx {
		parts[i] = strconv.Itoa(int(n))
	}
	return &Hints{Formats: idx, key: strings.Join(parts, ",")}
}

// Key identifies the hint set; equal format lists have equal keys.
func (h *Hints) Key() string { return h.key }

// NativeResult is one decoded object owned by the engine until Free.
type NativeResult interface {
	Text() string
	FormatIndex() format.NativeIndex
	Points() []Point
	// Free releases engine memory held by the result. The result must not be
	// used afterwards.
	Free()
}

// Engine decodes barcodes from a tightly packed 8-bit luma buffer.
// Implementations must be safe for concurrent use and must not retain luma
// after DecodeMulti returns.
type Engine interface {
	DecodeMulti(luma []byte, width, height int, hints *Hints) ([]NativeResult, error)
}

// Artifact is the fetched engine artifact: the profile the engine is linked
// against.
type Artifact struct {
	Profile Profile
	// Source is where the artifact came from, for logging.
	Source string
	// Digest is the verified integrity string, empty when unchecked.
	Digest string
}

// Module is the loaded engine code, ready to be linked with an artifact.
type Module interface {
	Link(Artifact) (Engine, error)
}

// Loader provides the two halves of a bootstrap. Both are called in parallel.
type Loader interface {
	FetchArtifact(ctx context.Context) (Artifact, error)
	LoadModule(ctx context.Context) (Module, error)
}
