// Package pipeline builds and drives the GStreamer capture pipelines behind
// streamcapture.Camera.
package pipeline

import (
	"fmt"
	"log/slog"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// Source kinds understood by Build.
const (
	SourceV4L2 = "v4l2"
	SourceRTSP = "rtsp"
	SourceTest = "test"
)

// Config contains configuration for GStreamer pipeline creation
type Config struct {
	// Source is one of SourceV4L2, SourceRTSP or SourceTest
	Source string
	// Location is the device path (v4l2) or URL (rtsp)
	Location string
	// MJPEG inserts jpegdec after a v4l2 source that only delivers MJPEG
	MJPEG bool
	// TestPattern selects the videotestsrc pattern
	TestPattern int
	// StrictCaps constrains the raw source output; empty means unconstrained
	StrictCaps string
	// OutputCaps is the final GRAY8 caps, including soft width/height/framerate
	OutputCaps string
	// MaxRate caps the output frame rate without constraining negotiation (0 = off)
	MaxRate int
	// TargetFPS tunes buffering for low frame rates (0 = unknown)
	TargetFPS float64
}

// Elements holds references to GStreamer pipeline elements
// These references are needed for callbacks and cleanup
type Elements struct {
	Pipeline   *gst.Pipeline
	AppSink    *app.Sink
	Source     *gst.Element
	CapsFilter *gst.Element
	// Depay is the element rtspsrc dynamic pads link to (rtsp only)
	Depay *gst.Element
}

// Build creates a capture pipeline
//
// Pipeline structure:
//
//	v4l2src [→ jpegdec]                                   ┐
//	rtspsrc ⇢ rtph264depay → avdec_h264                    ├→ [strict caps] → videoconvert →
//	videotestsrc                                          ┘
//	videoscale → videorate → capsfilter(GRAY8, soft caps) → appsink
//
// The pipeline is configured but NOT started (state remains NULL).
// Caller must call pipeline.SetState(gst.StatePlaying) to start.
func Build(cfg Config) (*Elements, error) {
	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	chain, head, depay, err := sourceChain(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.StrictCaps != "" {
		strict, err := gst.NewElement("capsfilter")
		if err != nil {
			return nil, fmt.Errorf("failed to create strict capsfilter: %w", err)
		}
		strict.SetProperty("caps", gst.NewCapsFromString(cfg.StrictCaps))
		chain = append(chain, strict)
		slog.Debug("stream-capture: strict caps", "caps", cfg.StrictCaps)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}
	converter.SetProperty("n-threads", 0) // 0 = auto-detect cores

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)     // Only drop frames, never duplicate
	videorate.SetProperty("skip-to-first", true) // Skip to first frame on start
	if cfg.MaxRate > 0 {
		videorate.SetProperty("max-rate", cfg.MaxRate)
	}
	if cfg.TargetFPS > 0 && cfg.TargetFPS <= 2.0 {
		// Immediate drop decisions (no 500ms smoothing window)
		videorate.SetProperty("average-period", uint64(0))
	}

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(cfg.OutputCaps))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false)    // No sync with clock (real-time)
	appsink.SetProperty("max-buffers", 1) // Keep only latest frame
	appsink.SetProperty("drop", true)     // Drop old frames
	appsink.SetProperty("qos", true)      // Let upstream drop before decoding

	chain = append(chain, converter, scaler, videorate, capsfilter, appsink.Element)

	if err := pipeline.AddMany(append([]*gst.Element{head}, chain...)...); err != nil {
		return nil, fmt.Errorf("failed to add pipeline elements: %w", err)
	}

	// rtspsrc has dynamic pads: it is linked in the pad-added callback.
	linked := chain
	if depay == nil {
		linked = append([]*gst.Element{head}, chain...)
	}
	if err := gst.ElementLinkMany(linked...); err != nil {
		return nil, fmt.Errorf("failed to link %s pipeline: %w", cfg.Source, err)
	}

	if depay != nil {
		head.Connect("pad-added", func(self *gst.Element, srcPad *gst.Pad) {
			OnPadAdded(self, srcPad, depay)
		})
	}

	slog.Debug("stream-capture: pipeline created",
		"source", cfg.Source,
		"location", cfg.Location,
		"output_caps", cfg.OutputCaps,
	)

	return &Elements{
		Pipeline:   pipeline,
		AppSink:    appsink,
		Source:     head,
		CapsFilter: capsfilter,
		Depay:      depay,
	}, nil
}

// sourceChain creates the source element and the elements that decode its
// output to raw video. head is the source; chain excludes it.
func sourceChain(cfg Config) (chain []*gst.Element, head, depay *gst.Element, err error) {
	switch cfg.Source {
	case SourceV4L2:
		head, err = gst.NewElement("v4l2src")
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create v4l2src: %w", err)
		}
		if cfg.Location != "" {
			head.SetProperty("device", cfg.Location)
		}
		if cfg.MJPEG {
			dec, err := gst.NewElement("jpegdec")
			if err != nil {
				return nil, nil, nil, fmt.Errorf("failed to create jpegdec: %w", err)
			}
			chain = append(chain, dec)
		}
		return chain, head, nil, nil

	case SourceRTSP:
		head, err = gst.NewElement("rtspsrc")
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create rtspsrc: %w", err)
		}
		head.SetProperty("location", cfg.Location)
		head.SetProperty("protocols", 4) // TCP only

		// Low FPS benefits from minimal buffering
		latency := 200
		if cfg.TargetFPS > 0 && cfg.TargetFPS <= 2.0 {
			latency = 50
		}
		head.SetProperty("latency", latency)
		head.SetProperty("ntp-sync", false)
		head.SetProperty("tcp-timeout", uint64(10000000)) // 10s

		depay, err = gst.NewElement("rtph264depay")
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create rtph264depay: %w", err)
		}
		depay.SetProperty("request-keyframe", true)

		decoder, err := gst.NewElement("avdec_h264")
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create avdec_h264: %w", err)
		}
		decoder.SetProperty("max-threads", 0)
		decoder.SetProperty("output-corrupt", false)

		return []*gst.Element{depay, decoder}, head, depay, nil

	case SourceTest:
		head, err = gst.NewElement("videotestsrc")
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create videotestsrc: %w", err)
		}
		head.SetProperty("is-live", true)
		head.SetProperty("pattern", cfg.TestPattern)
		return nil, head, nil, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown source kind %q", cfg.Source)
	}
}

// Destroy sets the pipeline to NULL, releasing the device.
// Safe to call with nil elements.
func Destroy(elements *Elements) error {
	if elements == nil || elements.Pipeline == nil {
		return nil
	}

	if err := elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("failed to set pipeline to NULL: %w", err)
	}
	return nil
}

// Available reports whether GStreamer can create elements.
func Available() error {
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)
	return nil
}
