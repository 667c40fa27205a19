package framesupplier

import (
	"fmt"
	"time"
)

// PixelFormat describes the byte layout of Frame.Data.
type PixelFormat int

const (
	// FormatGray8 is one luma byte per pixel.
	FormatGray8 PixelFormat = iota
	// FormatRGB is three bytes per pixel (R, G, B).
	FormatRGB
	// FormatRGBA is four bytes per pixel (R, G, B, A).
	FormatRGBA
	// FormatI420 is planar YUV 4:2:0 (Y plane first).
	FormatI420
	// FormatNV12 is semi-planar YUV 4:2:0 (Y plane first).
	FormatNV12
)

// String returns the GStreamer caps name of the format.
func (p PixelFormat) String() string {
	switch p {
	case FormatGray8:
		return "GRAY8"
	case FormatRGB:
		return "RGB"
	case FormatRGBA:
		return "RGBA"
	case FormatI420:
		return "I420"
	case FormatNV12:
		return "NV12"
	default:
		return "unknown"
	}
}

// BytesPerPixel returns the size of one pixel in the first plane.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case FormatRGB:
		return 3
	case FormatRGBA:
		return 4
	default:
		return 1
	}
}

// ParsePixelFormat maps a caps format name to a PixelFormat.
func ParsePixelFormat(name string) (PixelFormat, error) {
	switch name {
	case "GRAY8":
		return FormatGray8, nil
	case "RGB":
		return FormatRGB, nil
	case "RGBA", "RGBx":
		return FormatRGBA, nil
	case "I420":
		return FormatI420, nil
	case "NV12":
		return FormatNV12, nil
	default:
		return 0, fmt.Errorf("framesupplier: unsupported pixel format %q", name)
	}
}

// Frame is a single decoded video frame.
//
// Data MUST NOT be modified after the frame is published: the surface and
// every reader share the same backing array.
type Frame struct {
	// Seq is the monotonic sequence number assigned by the source
	Seq uint64
	// Timestamp is when the frame was captured
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Stride is the length of one row of the first plane in bytes (0 = tightly packed)
	Stride int
	// Format is the byte layout of Data
	Format PixelFormat
	// Data contains the raw pixels
	Data []byte
	// SourceStream identifies the stream (device path or camera name)
	SourceStream string
	// TraceID is a unique identifier for tracing a frame through the pipeline
	TraceID string
}

// RowStride returns the effective stride of the first plane.
func (f *Frame) RowStride() int {
	if f.Stride > 0 {
		return f.Stride
	}
	return f.Width * f.Format.BytesPerPixel()
}

// Validate checks that Data is large enough for the declared geometry.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("framesupplier: nil frame")
	}
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("framesupplier: invalid frame size %dx%d", f.Width, f.Height)
	}
	need := f.RowStride()*(f.Height-1) + f.Width*f.Format.BytesPerPixel()
	if len(f.Data) < need {
		return fmt.Errorf("framesupplier: frame data too short (%d bytes, need %d)", len(f.Data), need)
	}
	return nil
}

// TrackSettings are the negotiated properties of a live video track.
type TrackSettings struct {
	Width      int
	Height     int
	FrameRate  float64
	FacingMode string
	DeviceID   string
}

// Metadata is reported once per bound source, when its first frame arrives.
type Metadata struct {
	Width    int
	Height   int
	Format   PixelFormat
	Settings TrackSettings
}

// Source is a live stream of frames that can be bound to a Surface.
//
// Frames is closed when the source stops. Errors carries fatal stream errors.
type Source interface {
	Frames() <-chan *Frame
	Errors() <-chan error
	Settings() TrackSettings
}
