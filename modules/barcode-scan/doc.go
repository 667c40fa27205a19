// Package barcodescan runs continuous barcode recognition on a live camera.
//
// Start acquires a wake lock (best effort) and a camera stream, renders the
// stream to a surface and runs one detection per delivered frame:
//
//	handle, err := barcodescan.Start(ctx, func(ctx context.Context, code decode.Barcode) error {
//	    fmt.Printf("[%s] %s\n", code.Format, code.RawValue)
//	    return nil
//	}, barcodescan.Options{
//	    Formats:   []format.Format{format.QRCode, format.EAN13},
//	    FrameRate: 10,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer handle.Cancel()
//
// # Frame loop
//
// The loop waits for the surface's next frame instead of polling on a timer,
// so at most one detection is in flight and frames that arrive while it runs
// are replaced, never queued. A non-empty batch plays the chime once, is
// delivered to the callback in decode order, and is followed by the settle
// delay so the same physical barcode is not reported on every frame.
// Options.Clock replaces the surface as the pacing source, for example a
// framesupplier.TickerClock detecting at a fixed interval.
//
// # Teardown
//
// Every acquired resource is pushed on a lifecycle.Stack. When the scan ends
// (ctx or an Options.Scopes context ends, Cancel, a fatal playback or
// bootstrap error, or a callback returning ErrStop) the stack releases, in
// order: the pending frame callback, playback, the stream binding, the camera
// stream, and the wake lock.
//
// # Errors
//
// Start returns an *Error for configuration, acquisition, playback and
// bootstrap failures, matched with errors.Is against ErrConfiguration,
// ErrAcquisition, ErrPlayback and ErrBootstrap. A context that is already done
// is reported with its own cause. Failures during the scan that do not end it
// (callback errors, loop panics, ErrDecodeDegraded) go to Options.ErrorHandler.
package barcodescan
