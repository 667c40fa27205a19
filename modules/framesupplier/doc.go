// Package framesupplier is the rendering surface of the scan engine: it binds a
// live frame source, keeps the latest delivered frame, and tells interested
// parties when the next frame arrives.
//
// # Philosophy
//
// "Drop frames, never queue. Latency > Completeness."
//
// The surface holds a single-slot mailbox. Every delivered frame replaces the
// previous one, so a slow consumer always reads the newest frame and frames
// never build up behind a detector.
//
// # Lifecycle
//
//	surface := framesupplier.New("camera-1")
//	surface.OnMetadataReady(func(md framesupplier.Metadata) { ... }) // fires once
//	surface.OnError(func(err error) { ... })                         // fires once
//
//	_ = surface.SetSource(stream) // bind (nil detaches)
//	_ = surface.Play(ctx)         // start pumping frames
//	defer surface.Pause()
//
//	cancel := surface.OnNextFrame(func(ts time.Time) {
//	    frame, _ := surface.CurrentFrame()
//	    process(frame)
//	})
//	defer cancel()
//
// OnNextFrame registrations are one-shot: a callback fires for the first frame
// published after it was registered, and must re-register to see the next one.
// This is the FrameClock contract the scan loop is built on; TickerClock offers
// the same contract driven by a fixed interval.
//
// # Threading
//
// All methods are safe for concurrent use. Callbacks run on the pump goroutine
// and must not call Pause or SetSource.
package framesupplier
