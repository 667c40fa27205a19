package framebus

import (
	"context"
	"errors"
	"sync"
)

// ErrReceiverClosed is returned by Receive after the receiver was closed.
var ErrReceiverClosed = errors.New("framebus: receiver is closed")

// Receiver holds the newest event for a latest-only subscriber.
type Receiver struct {
	mu     sync.Mutex
	event  *Event
	unread bool
	notify chan struct{}
	closed bool
}

func newReceiver() *Receiver {
	return &Receiver{notify: make(chan struct{})}
}

// set stores ev and reports whether an unread event was replaced.
func (r *Receiver) set(ev Event) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	replaced = r.unread
	r.event = &ev
	r.unread = true

	close(r.notify)
	r.notify = make(chan struct{})
	return replaced
}

// Receive blocks until an unread event is available, the receiver is closed,
// or ctx ends.
func (r *Receiver) Receive(ctx context.Context) (Event, error) {
	for {
		r.mu.Lock()
		if r.unread {
			r.unread = false
			ev := *r.event
			r.mu.Unlock()
			return ev, nil
		}
		if r.closed {
			r.mu.Unlock()
			return Event{}, ErrReceiverClosed
		}
		notify := r.notify
		r.mu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return Event{}, context.Cause(ctx)
		}
	}
}

// TryReceive returns the newest event without blocking. ok is false if no
// event was ever published.
func (r *Receiver) TryReceive() (ev Event, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.event == nil {
		return Event{}, false
	}
	r.unread = false
	return *r.event, true
}

// Close wakes blocked receivers. Idempotent.
func (r *Receiver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.notify)
}
