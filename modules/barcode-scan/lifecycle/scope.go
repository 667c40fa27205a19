// Package lifecycle provides the cancellation scopes and the release stack used
// to guarantee that scan resources are torn down exactly once.
//
// Scopes are plain contexts with a cancel cause: the abort reason of a scope is
// context.Cause(ctx). Aborting is monotonic and idempotent because that is how
// context cancellation already behaves.
package lifecycle

import (
	"context"
	"errors"
)

// ErrAborted is the cause reported when a scope is cancelled without a reason.
var ErrAborted = errors.New("lifecycle: scope aborted")

// Reason returns the abort reason of ctx, or nil while it is still live.
func Reason(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ErrAborted
}

// WithCancel derives a scope that can be aborted with a reason. A nil reason
// is recorded as ErrAborted.
func WithCancel(parent context.Context) (context.Context, context.CancelCauseFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	return ctx, func(cause error) {
		if cause == nil {
			cause = ErrAborted
		}
		cancel(cause)
	}
}

// Any returns a scope that aborts as soon as any parent aborts, carrying that
// parent's reason. Nil parents are ignored. Values are inherited from the first
// non-nil parent.
//
// One AfterFunc listener is registered per extra parent; they are
// unregistered once the scope ends.
func Any(parents ...context.Context) (context.Context, context.CancelCauseFunc) {
	live := make([]context.Context, 0, len(parents))
	for _, p := range parents {
		if p != nil {
			live = append(live, p)
		}
	}
	if len(live) == 0 {
		return WithCancel(context.Background())
	}

	ctx, cancel := WithCancel(live[0])
	stops := make([]func() bool, 0, len(live)-1)

	for _, p := range live[1:] {
		p := p
		if err := Reason(p); err != nil {
			cancel(err)
			break
		}
		stops = append(stops, context.AfterFunc(p, func() {
			cancel(Reason(p))
		}))
	}

	// Listeners die with the scope so long-lived parents do not accumulate them.
	context.AfterFunc(ctx, func() {
		for _, stop := range stops {
			stop()
		}
	})

	return ctx, cancel
}
