// Package decode bridges camera frames to the barcode decode engine.
//
// The engine is heavyweight: it is bootstrapped lazily, at most once per
// SessionCell, by fetching its profile artifact and loading its reader module
// in parallel, then linking the two. Every Bridge shares the session of its
// cell (the package-level DefaultCell unless told otherwise).
//
// # Bootstrap
//
// SessionCell.Get is single-flight: concurrent callers wait on the same
// bootstrap, and a failed bootstrap is recorded once and replayed to every
// caller until Reset. A caller whose context ends stops waiting, but the
// bootstrap itself keeps running for the others.
//
// # Detection
//
//	bridge, err := decode.NewBridge([]format.Format{format.QRCode})
//	if err != nil {
//	    return err // unmapped format
//	}
//	codes, err := bridge.Detect(ctx, frame) // *framesupplier.Frame, image.Image or Blob
//
// Decode failures are not errors: a frame that fails to parse yields an empty
// result, the same as a frame with no barcode. Detect only fails for
// unsupported sources and bootstrap failures.
//
// A Bridge owns one scratch luma buffer that is resized only when frame
// dimensions change. Share a bridge within one scan, not across scans.
package decode
