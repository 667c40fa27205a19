package decode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrBootstrap wraps every bootstrap failure.
	ErrBootstrap = errors.New("decode: bootstrap failed")

	// ErrBootstrapTimeout is the cause recorded when a bootstrap exceeds its deadline.
	ErrBootstrapTimeout = errors.New("decode: bootstrap timed out")
)

// DefaultBootstrapTimeout bounds one bootstrap attempt.
const DefaultBootstrapTimeout = 60 * time.Second

// Session is a linked, ready engine. It is shared read-only by every bridge
// of its cell.
type Session struct {
	Engine   Engine
	Artifact Artifact
	Ready    time.Time
}

// flight is one bootstrap attempt and its outcome.
type flight struct {
	done    chan struct{}
	session *Session
	err     error
}

// SessionCell holds at most one decode session. The zero value is not usable;
// create cells with NewSessionCell.
type SessionCell struct {
	mu      sync.Mutex
	loader  Loader
	timeout time.Duration
	current *flight

	bootstraps atomic.Uint64
}

// DefaultCell is the process-wide session shared by bridges that are not given
// a cell of their own.
var DefaultCell = NewSessionCell(nil)

// NewSessionCell creates a cell bootstrapped by loader. A nil loader uses the
// gozxing engine with the embedded default profile.
func NewSessionCell(loader Loader) *SessionCell {
	if loader == nil {
		loader = NewZXingLoader(LoaderConfig{})
	}
	return &SessionCell{loader: loader, timeout: DefaultBootstrapTimeout}
}

// SetLoader replaces the loader and resets the cell.
func (c *SessionCell) SetLoader(loader Loader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if loader == nil {
		loader = NewZXingLoader(LoaderConfig{})
	}
	c.loader = loader
	c.current = nil
}

// SetTimeout bounds future bootstrap attempts. Zero disables the bound.
func (c *SessionCell) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// Get returns the ready session, bootstrapping it on first use.
//
// Concurrent callers share one bootstrap. A failed bootstrap is terminal: the
// same error is returned to every caller until Reset. If ctx ends first, Get
// returns its cause while the bootstrap continues for the remaining callers.
func (c *SessionCell) Get(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	f := c.current
	if f == nil {
		if ctx.Err() != nil {
			c.mu.Unlock()
			return nil, context.Cause(ctx)
		}
		f = &flight{done: make(chan struct{})}
		c.current = f
		c.bootstraps.Add(1)
		go c.bootstrap(context.WithoutCancel(ctx), c.loader, c.timeout, f)
	}
	c.mu.Unlock()

	// A settled flight wins over a dead context.
	select {
	case <-f.done:
		return f.session, f.err
	default:
	}

	select {
	case <-f.done:
		return f.session, f.err
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// Peek returns the session if it is ready, without starting a bootstrap.
func (c *SessionCell) Peek() (*Session, bool) {
	c.mu.Lock()
	f := c.current
	c.mu.Unlock()
	if f == nil {
		return nil, false
	}
	select {
	case <-f.done:
		return f.session, f.err == nil
	default:
		return nil, false
	}
}

// Reset forgets the current session or failure. The next Get bootstraps again.
// Callers already waiting on an in-flight bootstrap still receive its outcome.
func (c *SessionCell) Reset() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	slog.Debug("decode: session reset")
}

// Bootstraps reports how many bootstrap attempts the cell has started.
func (c *SessionCell) Bootstraps() uint64 {
	return c.bootstraps.Load()
}

func (c *SessionCell) bootstrap(ctx context.Context, loader Loader, timeout time.Duration, f *flight) {
	defer close(f.done)

	start := time.Now()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, timeout, ErrBootstrapTimeout)
		defer cancel()
	}

	session, err := link(ctx, loader)
	if err != nil {
		f.err = fmt.Errorf("%w: %w", ErrBootstrap, err)
		slog.Error("decode: bootstrap failed", "error", err, "elapsed", time.Since(start))
		return
	}

	session.Ready = time.Now()
	f.session = session
	slog.Info("decode: session ready",
		"artifact", session.Artifact.Source,
		"digest", session.Artifact.Digest,
		"elapsed", time.Since(start),
	)
}

// link fetches the artifact and loads the module in parallel, then links them.
func link(ctx context.Context, loader Loader) (*Session, error) {
	var (
		artifact Artifact
		module   Module
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer recoverInto(&err, "fetch artifact")
		a, err := loader.FetchArtifact(gctx)
		if err != nil {
			return fmt.Errorf("fetch artifact: %w", err)
		}
		artifact = a
		return nil
	})
	g.Go(func() (err error) {
		defer recoverInto(&err, "load module")
		m, err := loader.LoadModule(gctx)
		if err != nil {
			return fmt.Errorf("load module: %w", err)
		}
		module = m
		return nil
	})
	if err := g.Wait(); err != nil {
		if cause := context.Cause(ctx); cause != nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", cause, err)
		}
		return nil, err
	}

	engine, err := linkSafely(module, artifact)
	if err != nil {
		return nil, fmt.Errorf("link: %w", err)
	}
	if engine == nil {
		return nil, errors.New("link: module returned no engine")
	}

	return &Session{Engine: engine, Artifact: artifact}, nil
}

func linkSafely(module Module, artifact Artifact) (engine Engine, err error) {
	defer recoverInto(&err, "engine")
	return module.Link(artifact)
}

func recoverInto(err *error, stage string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s: panic: %v", stage, r)
	}
}
