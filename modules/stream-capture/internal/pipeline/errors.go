package pipeline

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory represents the classification of GStreamer errors
type ErrorCategory int

const (
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown ErrorCategory = iota
	// ErrCategoryPermission indicates the device or stream refused access
	ErrCategoryPermission
	// ErrCategoryNotFound indicates a missing device, stream or plugin
	ErrCategoryNotFound
	// ErrCategoryConstraint indicates the source cannot satisfy the requested caps
	ErrCategoryConstraint
	// ErrCategoryNetwork indicates network-related failures (connection, timeout, DNS)
	ErrCategoryNetwork
	// ErrCategoryCodec indicates codec/stream failures (decode errors, format issues)
	ErrCategoryCodec
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryPermission:
		return "permission"
	case ErrCategoryNotFound:
		return "not-found"
	case ErrCategoryConstraint:
		return "constraint"
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	default:
		return "unknown"
	}
}

// ClassifyGStreamerError categorizes a bus error.
//
// go-gst's GError does not expose Domain(), so classification relies on
// message heuristics.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return Classify(gerr.Error(), gerr.DebugString())
}

// Classify categorizes an error from its message and debug string. Checks run
// from the most specific category to the most generic.
func Classify(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	switch {
	case containsAny(combined, permissionKeywords):
		return ErrCategoryPermission
	case containsAny(combined, constraintKeywords):
		return ErrCategoryConstraint
	case containsAny(combined, notFoundKeywords):
		return ErrCategoryNotFound
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	default:
		return ErrCategoryUnknown
	}
}

var permissionKeywords = []string{
	"permission denied",
	"not permitted",
	"unauthorized",
	"401",
	"403",
	"forbidden",
	"authentication",
	"credentials",
}

var constraintKeywords = []string{
	"not-negotiated",
	"not negotiated",
	"could not negotiate",
	"no supported format",
	"caps",
}

var notFoundKeywords = []string{
	"no such file",
	"no such device",
	"does not exist",
	"cannot identify device",
	"404",
	"not found",
	"missing plugin",
	"no element",
}

var codecKeywords = []string{
	"codec",
	"decode",
	"h264",
	"h265",
	"mjpeg",
	"jpeg",
	"no decoder",
}

var networkKeywords = []string{
	"connection",
	"timeout",
	"timed out",
	"unreachable",
	"network",
	"dns",
	"resolve",
	"socket",
	"tcp",
	"udp",
	"rtsp",
	"could not connect",
	"failed to connect",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
