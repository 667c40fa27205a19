package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Stack holds release actions and runs them in reverse order on Dispose.
//
// Guarantees:
//   - every registered release runs exactly once
//   - releases run in reverse order of registration
//   - a failing (or panicking) release does not stop the ones after it;
//     failures are joined into Dispose's result
//   - Dispose is idempotent; concurrent callers block until the first finishes
//     and observe the same result
//
// Registering on an already disposed stack runs the release immediately.
type Stack struct {
	mu       sync.Mutex
	releases []release
	disposed bool

	once sync.Once
	done chan struct{}
	err  error
}

type release struct {
	name string
	fn   func() error
}

// NewStack creates an empty stack.
func NewStack() *Stack {
	return &Stack{done: make(chan struct{})}
}

// Acquire registers release for resource and returns resource unchanged, so
// acquisition and registration read as one statement.
func Acquire[T any](s *Stack, name string, resource T, releaseFn func(T) error) T {
	s.push(release{name: name, fn: func() error { return releaseFn(resource) }})
	return resource
}

// Defer registers fn to run on Dispose.
func (s *Stack) Defer(name string, fn func() error) {
	s.push(release{name: name, fn: fn})
}

// DeferFunc registers a release that cannot fail.
func (s *Stack) DeferFunc(name string, fn func()) {
	s.push(release{name: name, fn: func() error { fn(); return nil }})
}

func (s *Stack) push(r release) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		if err := run(r); err != nil {
			slog.Warn("lifecycle: late release failed", "resource", r.name, "error", err)
		}
		return
	}
	s.releases = append(s.releases, r)
	s.mu.Unlock()
}

// Dispose runs every registered release once, newest first.
func (s *Stack) Dispose() error {
	s.once.Do(func() {
		s.mu.Lock()
		s.disposed = true
		releases := s.releases
		s.releases = nil
		s.mu.Unlock()

		var errs []error
		for i := len(releases) - 1; i >= 0; i-- {
			if err := run(releases[i]); err != nil {
				errs = append(errs, err)
			}
		}
		s.err = errors.Join(errs...)
		close(s.done)
	})
	<-s.done
	return s.err
}

// DisposeOn disposes the stack asynchronously once ctx ends. The returned
// function detaches the trigger.
func (s *Stack) DisposeOn(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		if err := s.Dispose(); err != nil {
			slog.Warn("lifecycle: dispose finished with errors", "error", err)
		}
	})
}

// Done is closed after Dispose completes.
func (s *Stack) Done() <-chan struct{} {
	return s.done
}

// Disposed reports whether Dispose has started.
func (s *Stack) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

// Len returns the number of pending releases.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.releases)
}

func run(r release) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("lifecycle: release %q panicked: %v", r.name, p)
		}
	}()
	if err := r.fn(); err != nil {
		return fmt.Errorf("lifecycle: release %q: %w", r.name, err)
	}
	return nil
}
