// Package streamcapture acquires live camera streams using GStreamer.
//
// A Camera opens a Stream for a set of Constraints. Streams deliver GRAY8
// frames (one luma byte per pixel) on a single-slot channel where the newest
// frame replaces an unread one, so a slow consumer never builds up latency.
//
// # Quick Start
//
//	cam, err := streamcapture.NewCamera(streamcapture.Config{
//	    Device:  "/dev/video0",
//	    Facing:  streamcapture.FacingEnvironment,
//	    Devices: map[string]string{streamcapture.FacingUser: "/dev/video2"},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	stream, err := cam.Open(ctx, streamcapture.Constraints{
//	    FacingMode: streamcapture.StringConstraint{Ideal: streamcapture.FacingEnvironment},
//	    FrameRate:  streamcapture.Ideal(12),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer stream.Stop()
//
//	for frame := range stream.Frames() {
//	    process(frame)
//	}
//
// # Constraints
//
// Each numeric constraint has an ideal and a hard part:
//
//   - Exact, Min and Max are rendered as caps right after the source. A device
//     that cannot satisfy them fails to negotiate and Open returns ErrConstraint.
//   - Ideal is applied downstream by videoscale and videorate and always
//     succeeds. videorate only drops frames, so an ideal frame rate above what
//     the source delivers leaves the source rate untouched.
//
// Facing mode selects between the default device and the Devices map. An exact
// facing mode with no matching device is a constraint error; an ideal one falls
// back to the default device.
//
// # Sources
//
//   - KindV4L2: local camera (v4l2src, optional MJPEG decode)
//   - KindRTSP: IP camera (rtspsrc → rtph264depay → avdec_h264), with optional
//     reconnection using exponential backoff
//   - KindTest: videotestsrc, no hardware needed
//
// # Errors
//
// Acquisition and playback failures are *Error values classified by category
// and matched with errors.Is against ErrPermission, ErrNotFound, ErrConstraint,
// ErrNetwork and ErrCodec. A fatal playback error is delivered once on
// Stream.Errors.
//
// # Dependencies
//
// GStreamer 1.x must be installed on the system:
//
//	# Ubuntu/Debian
//	sudo apt-get install \
//	    gstreamer1.0-tools \
//	    gstreamer1.0-plugins-base \
//	    gstreamer1.0-plugins-good \
//	    gstreamer1.0-libav
//
// # Thread Safety
//
// All public methods are thread-safe. Stop is idempotent and closes the frame
// channel after the pipeline reaches NULL.
package streamcapture
