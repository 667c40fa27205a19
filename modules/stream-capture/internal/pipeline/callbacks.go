package pipeline

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-care-sensor/modules/framesupplier"
)

// CallbackContext holds state needed by GStreamer callbacks
type CallbackContext struct {
	// Deliver hands a frame to the stream; it returns false when the frame
	// was dropped.
	Deliver       func(*framesupplier.Frame) bool
	FrameCounter  *atomic.Uint64 // Sequence numbers
	BytesRead     *atomic.Uint64
	FramesDropped *atomic.Uint64 // Frames the stream could not accept
	SourceStream  string
	// OnCaps is called with the negotiated geometry of every sample.
	OnCaps func(width, height int)
}

// OnNewSample is called by GStreamer when a new frame is available
//
// This callback:
//  1. Pulls the sample from the appsink
//  2. Reads the negotiated width/height from the sample caps
//  3. Copies data (GStreamer will reuse the buffer)
//  4. Hands the frame to the stream (non-blocking - drops if full)
//
// A bad sample is skipped rather than ending the stream.
func OnNewSample(sink *app.Sink, ctx *CallbackContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		slog.Warn("stream-capture: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	width, height, ok := sampleGeometry(sample)
	if !ok {
		slog.Warn("stream-capture: sample without geometry, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("stream-capture: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("stream-capture: empty buffer received")
		return gst.FlowOK
	}

	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	if ctx.OnCaps != nil {
		ctx.OnCaps(width, height)
	}

	seq := ctx.FrameCounter.Add(1)
	ctx.BytesRead.Add(uint64(len(frameData)))

	frame := &framesupplier.Frame{
		Seq:          seq,
		Timestamp:    time.Now(),
		Width:        width,
		Height:       height,
		Stride:       Gray8Stride(width, height, len(frameData)),
		Format:       framesupplier.FormatGray8,
		Data:         frameData,
		SourceStream: ctx.SourceStream,
		TraceID:      uuid.New().String(),
	}

	if !ctx.Deliver(frame) {
		ctx.FramesDropped.Add(1)
		slog.Debug("stream-capture: dropping frame, consumer busy",
			"seq", frame.Seq,
			"trace_id", frame.TraceID,
		)
	}

	return gst.FlowOK
}

// Gray8Stride returns the row stride of a GRAY8 buffer. GStreamer pads raw
// video rows to 4 bytes unless the buffer is tightly packed.
func Gray8Stride(width, height, size int) int {
	if height <= 0 || size == width*height {
		return width
	}
	aligned := (width + 3) &^ 3
	if size >= aligned*height {
		return aligned
	}
	return width
}

func sampleGeometry(sample *gst.Sample) (width, height int, ok bool) {
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0, false
	}
	st := caps.GetStructureAt(0)
	if st == nil {
		return 0, 0, false
	}

	w, err := st.GetValue("width")
	if err != nil {
		return 0, 0, false
	}
	h, err := st.GetValue("height")
	if err != nil {
		return 0, 0, false
	}

	width, wok := w.(int)
	height, hok := h.(int)
	return width, height, wok && hok && width > 0 && height > 0
}

// OnPadAdded is called by GStreamer when rtspsrc creates a new dynamic pad
//
// This callback links the rtspsrc output pad to the depayloader input pad.
func OnPadAdded(srcElement *gst.Element, srcPad *gst.Pad, sinkElement *gst.Element) {
	slog.Debug("stream-capture: pad-added signal received", "pad", srcPad.GetName())

	sinkPad := sinkElement.GetStaticPad("sink")
	if sinkPad == nil {
		slog.Error("stream-capture: failed to get sink pad from depayloader")
		return
	}
	if sinkPad.IsLinked() {
		return
	}

	if ret := srcPad.Link(sinkPad); ret != gst.PadLinkOK {
		slog.Error("stream-capture: failed to link pads",
			"src_pad", srcPad.GetName(),
			"sink_pad", sinkPad.GetName(),
			"ret", ret,
		)
		return
	}

	slog.Debug("stream-capture: pads linked successfully",
		"src_pad", srcPad.GetName(),
		"sink_pad", sinkPad.GetName(),
	)
}
