package streamcapture

import (
	"errors"
	"fmt"

	"github.com/e7canasta/orion-care-sensor/modules/stream-capture/internal/pipeline"
)

// ErrorCategory classifies acquisition and playback failures.
type ErrorCategory = pipeline.ErrorCategory

// Error categories.
const (
	CategoryUnknown    = pipeline.ErrCategoryUnknown
	CategoryPermission = pipeline.ErrCategoryPermission
	CategoryNotFound   = pipeline.ErrCategoryNotFound
	CategoryConstraint = pipeline.ErrCategoryConstraint
	CategoryNetwork    = pipeline.ErrCategoryNetwork
	CategoryCodec      = pipeline.ErrCategoryCodec
)

// Sentinels matched by errors.Is against an *Error of the same category.
var (
	ErrPermission = errors.New("stream-capture: permission denied")
	ErrNotFound   = errors.New("stream-capture: device not found")
	ErrConstraint = errors.New("stream-capture: constraints not satisfiable")
	ErrNetwork    = errors.New("stream-capture: network failure")
	ErrCodec      = errors.New("stream-capture: codec failure")

	// ErrStopped is returned by Open when the camera was closed.
	ErrStopped = errors.New("stream-capture: stream stopped")
)

// Error is a classified camera failure.
type Error struct {
	Category ErrorCategory
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stream-capture: %s [%s]: %v", e.Op, e.Category, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the category sentinel.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrPermission:
		return e.Category == CategoryPermission
	case ErrNotFound:
		return e.Category == CategoryNotFound
	case ErrConstraint:
		return e.Category == CategoryConstraint
	case ErrNetwork:
		return e.Category == CategoryNetwork
	case ErrCodec:
		return e.Category == CategoryCodec
	}
	return false
}

// classify wraps a pipeline error with its category.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *pipeline.BusError
	if errors.As(err, &be) {
		return &Error{Category: be.Category, Op: op, Err: err}
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Category: CategoryUnknown, Op: op, Err: err}
}
