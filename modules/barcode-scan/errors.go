package barcodescan

import (
	"errors"
	"fmt"

	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/decode"
)

// Kind classifies scan failures.
type Kind int

const (
	// KindConfiguration is an invalid option (unmapped format, unusable surface)
	KindConfiguration Kind = iota
	// KindBootstrap is a failed decode session bootstrap
	KindBootstrap
	// KindAcquisition is a camera that could not be opened
	KindAcquisition
	// KindPlayback is a stream that failed while playing
	KindPlayback
	// KindCallback is a result callback that failed or panicked
	KindCallback
	// KindDecode is an unexpected failure inside the frame loop
	KindDecode
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindBootstrap:
		return "bootstrap"
	case KindAcquisition:
		return "acquisition"
	case KindPlayback:
		return "playback"
	case KindCallback:
		return "callback"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Sentinels matched by errors.Is against an *Error of the same kind.
var (
	ErrConfiguration = errors.New("barcode-scan: invalid configuration")
	ErrBootstrap     = errors.New("barcode-scan: decoder bootstrap failed")
	ErrAcquisition   = errors.New("barcode-scan: camera acquisition failed")
	ErrPlayback      = errors.New("barcode-scan: playback failed")
	ErrCallback      = errors.New("barcode-scan: callback failed")
)

var (
	// ErrCancelled is the reason recorded by Handle.Cancel.
	ErrCancelled = errors.New("barcode-scan: scan cancelled")

	// ErrStop may be returned (or wrapped) by a callback to end the scan.
	// The scan is torn down with the callback's error as its reason.
	ErrStop = errors.New("barcode-scan: stop requested by callback")

	// ErrDecodeDegraded is reported once per streak of consecutive decode
	// failures reaching Options.DecodeErrorThreshold.
	ErrDecodeDegraded = errors.New("barcode-scan: too many consecutive decode failures")
)

// Error is a classified scan failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("barcode-scan: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinel.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrBootstrap:
		return e.Kind == KindBootstrap
	case ErrAcquisition:
		return e.Kind == KindAcquisition
	case ErrPlayback:
		return e.Kind == KindPlayback
	case ErrCallback:
		return e.Kind == KindCallback
	}
	return false
}

func configError(op string, err error) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Err: err}
}

// bootstrapFailed reports whether err is a failed decode session.
func bootstrapFailed(err error) bool {
	return errors.Is(err, decode.ErrBootstrap) || errors.Is(err, decode.ErrBootstrapTimeout)
}
