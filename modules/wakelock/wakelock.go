// Package wakelock keeps the host awake while a scan is running.
//
// On Linux the lock is a systemd-inhibit child process that holds an idle and
// sleep inhibitor for as long as it lives. Releasing the lock kills it.
package wakelock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// ErrUnavailable is returned when the inhibitor binary cannot be found.
var ErrUnavailable = errors.New("wakelock: inhibitor not available")

// Config describes the inhibitor.
type Config struct {
	// Binary is the inhibitor executable (default: systemd-inhibit)
	Binary string `yaml:"binary"`
	// What is the inhibited operation set (default: idle:sleep)
	What string `yaml:"what"`
	// Who and Why are shown by systemd-inhibit --list
	Who string `yaml:"who"`
	Why string `yaml:"why"`
	// Settle is how long Acquire watches the child for an early exit (default: 100ms)
	Settle time.Duration `yaml:"settle"`
}

func (c *Config) applyDefaults() {
	if c.Binary == "" {
		c.Binary = "systemd-inhibit"
	}
	if c.What == "" {
		c.What = "idle:sleep"
	}
	if c.Who == "" {
		c.Who = "orion-barcode-scan"
	}
	if c.Why == "" {
		c.Why = "Scanning barcodes"
	}
	if c.Settle <= 0 {
		c.Settle = 100 * time.Millisecond
	}
}

// Inhibitor acquires wake locks.
type Inhibitor struct {
	cfg Config
}

// New creates an inhibitor. The binary is resolved on Acquire.
func New(cfg Config) *Inhibitor {
	cfg.applyDefaults()
	return &Inhibitor{cfg: cfg}
}

// Lock is a held wake lock.
type Lock struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error // exit status, valid after done

	once       sync.Once
	releaseErr error
}

// Acquire starts the inhibitor and returns the held lock.
//
// The child is not bound to ctx: the lock lives until Release. ctx only
// bounds the acquisition itself.
func (i *Inhibitor) Acquire(ctx context.Context) (*Lock, error) {
	if err := context.Cause(ctx); err != nil {
		return nil, err
	}

	path, err := exec.LookPath(i.cfg.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	cmd := exec.Command(path,
		"--what="+i.cfg.What,
		"--who="+i.cfg.Who,
		"--why="+i.cfg.Why,
		"--mode=block",
		"sleep", "infinity",
	)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("wakelock: failed to start %s: %w", i.cfg.Binary, err)
	}

	l := &Lock{cmd: cmd, done: make(chan struct{})}
	go func() {
		l.err = cmd.Wait()
		close(l.done)
	}()

	// An inhibitor refused by logind exits right away.
	select {
	case <-l.done:
		return nil, fmt.Errorf("wakelock: %s exited early: %v", i.cfg.Binary, l.err)
	case <-ctx.Done():
		_ = l.Release()
		return nil, context.Cause(ctx)
	case <-time.After(i.cfg.Settle):
	}

	slog.Debug("wakelock: acquired", "pid", cmd.Process.Pid, "what", i.cfg.What)
	return l, nil
}

// Release kills the inhibitor and waits for it to exit. Idempotent.
func (l *Lock) Release() error {
	l.once.Do(func() {
		select {
		case <-l.done:
			// Already gone: nothing to release.
			return
		default:
		}

		if err := l.cmd.Process.Kill(); err != nil {
			l.releaseErr = fmt.Errorf("wakelock: failed to kill inhibitor: %w", err)
			return
		}

		select {
		case <-l.done:
			slog.Debug("wakelock: released", "pid", l.cmd.Process.Pid)
		case <-time.After(3 * time.Second):
			l.releaseErr = errors.New("wakelock: inhibitor did not exit")
		}
	})
	return l.releaseErr
}

// Held reports whether the inhibitor is still running.
func (l *Lock) Held() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}
