package barcodescan

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/decode"
	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/lifecycle"
)

// loop runs one detection per delivered frame until the scope ends. The
// frame that made metadata ready is detected first, without waiting.
func (h *Handle) loop() {
	defer h.loopWG.Done()

	tick := make(chan struct{}, 1)
	for {
		if lifecycle.Reason(h.scope) != nil {
			return
		}
		if err := h.step(); err != nil {
			h.loopErrors.Add(1)
			h.report(err)
		}
		if lifecycle.Reason(h.scope) != nil || !h.armFrame(tick) {
			return
		}

		select {
		case <-h.scope.Done():
			return
		case <-tick:
		}
	}
}

// armFrame registers a one-shot callback for the next clock tick. It returns
// false once teardown cancelled frame callbacks.
func (h *Handle) armFrame(tick chan<- struct{}) bool {
	h.frameMu.Lock()
	defer h.frameMu.Unlock()

	if h.frameClosed {
		return false
	}
	h.frameCancel = h.clock.OnNextFrame(func(time.Time) {
		select {
		case tick <- struct{}{}:
		default:
		}
	})
	return true
}

func (h *Handle) cancelFrame() {
	h.frameMu.Lock()
	defer h.frameMu.Unlock()

	h.frameClosed = true
	if h.frameCancel != nil {
		h.frameCancel()
		h.frameCancel = nil
	}
}

// step detects barcodes in the current frame and delivers them. Panics are
// returned as errors.
func (h *Handle) step() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &Error{Kind: KindDecode, Op: "frame loop", Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	frame, ok := h.Surface.CurrentFrame()
	if !ok || frame == h.lastFrame {
		return nil
	}
	h.lastFrame = frame
	h.frames.Add(1)

	h.detects.Add(1)
	codes, err := h.detector.Detect(h.scope, frame)
	if lifecycle.Reason(h.scope) != nil {
		// Aborted while detecting: the result is discarded.
		return nil
	}
	if err != nil {
		if bootstrapFailed(err) {
			fatal := &Error{Kind: KindBootstrap, Op: "detect", Err: err}
			h.report(fatal)
			h.abort(fatal)
			return nil
		}
		return &Error{Kind: KindDecode, Op: "detect", Err: err}
	}
	h.checkDegraded()

	if len(codes) == 0 {
		return nil
	}

	h.batches.Add(1)
	h.signal.Trigger()
	for _, code := range codes {
		h.deliver(code)
	}

	h.settle()
	return nil
}

// deliver invokes the callback for one barcode. Failures are reported and do
// not affect the other barcodes of the batch.
func (h *Handle) deliver(code decode.Barcode) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return h.callback(h.scope, code)
	}()

	if err == nil {
		h.delivered.Add(1)
		return
	}

	if errors.Is(err, ErrStop) {
		h.delivered.Add(1)
		slog.Info("barcode-scan: callback requested stop", "scan_id", h.ID, "value", code.RawValue)
		h.abort(err)
		return
	}

	h.callbackErrors.Add(1)
	h.report(&Error{Kind: KindCallback, Op: "callback", Err: err})
}

// settle waits the settle delay, returning early if the scope ends.
func (h *Handle) settle() {
	if h.delay <= 0 {
		return
	}
	timer := time.NewTimer(h.delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-h.scope.Done():
	}
}

// checkDegraded reports ErrDecodeDegraded once per failure streak.
func (h *Handle) checkDegraded() {
	if h.threshold <= 0 {
		return
	}
	n := h.detector.ConsecutiveFailures()
	switch {
	case n == 0:
		h.degraded = false
	case n >= h.threshold && !h.degraded:
		h.degraded = true
		h.report(&Error{
			Kind: KindDecode,
			Op:   "detect",
			Err:  fmt.Errorf("%w (%d in a row)", ErrDecodeDegraded, n),
		})
	}
}
