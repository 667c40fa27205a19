package framebus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/decode"
)

// Bus distributes detection events to multiple subscribers.
type Bus interface {
	// Subscribe registers a channel to receive events (DropNew).
	// Returns error if id already exists or if bus is closed.
	Subscribe(id string, ch chan<- Event) error

	// SubscribeLatest registers a latest-only receiver (DropOld).
	SubscribeLatest(id string) (*Receiver, error)

	// Unsubscribe removes a subscriber by id.
	Unsubscribe(id string) error

	// Publish sends ev to all subscribers (non-blocking).
	// Events published after Close are dropped.
	Publish(ev Event)

	// Stats returns current bus statistics snapshot.
	Stats() BusStats

	// Close stops the bus. Latest-only receivers are closed; subscriber
	// channels are not (the subscriber owns them). Idempotent.
	Close() error
}

var (
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id.
	ErrSubscriberExists = errors.New("framebus: subscriber id already exists")

	// ErrSubscriberNotFound is returned when Unsubscribe is called with unknown id.
	ErrSubscriberNotFound = errors.New("framebus: subscriber id not found")

	// ErrBusClosed is returned when operations are attempted on a closed bus.
	ErrBusClosed = errors.New("framebus: bus is closed")

	// ErrNilChannel is returned by Subscribe for a nil channel.
	ErrNilChannel = errors.New("framebus: nil channel provided")
)

// Event is one detected barcode.
type Event struct {
	// ScanID identifies the scan that produced the event
	ScanID string `json:"scan_id"`

	// Seq is the bus-wide sequence number, assigned by Publish
	Seq uint64 `json:"seq"`

	// Timestamp is when the barcode was detected
	Timestamp time.Time `json:"timestamp"`

	// Source identifies the camera (device path or URL)
	Source string `json:"source,omitempty"`

	// Barcode is the detection itself
	Barcode decode.Barcode `json:"barcode"`
}

// BusStats contains global and per-subscriber metrics.
type BusStats struct {
	// TotalPublished is the number of Publish() calls
	TotalPublished uint64

	// TotalSent is the sum of events sent to channel subscribers
	TotalSent uint64

	// TotalDropped is the sum of events dropped by channel subscribers.
	// Latest-only receivers are reported per subscriber only.
	TotalDropped uint64

	// Subscribers contains per-subscriber breakdown
	Subscribers map[string]SubscriberStats
}

// SubscriberStats tracks metrics for a single subscriber.
type SubscriberStats struct {
	// Sent is the number of events delivered to this subscriber
	Sent uint64

	// Dropped is the number of events lost because the channel was full
	Dropped uint64

	// Superseded is the number of events a latest-only receiver replaced
	// before they were read
	Superseded uint64

	// Latest is true for latest-only receivers
	Latest bool
}

type subscriber struct {
	ch         chan<- Event
	latest     *Receiver
	sent       atomic.Uint64
	dropped    atomic.Uint64
	superseded atomic.Uint64
}

// bus is the concrete implementation of Bus.
type bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	// Global counter (atomic - no lock needed in Publish)
	totalPublished atomic.Uint64
}

// New creates a new bus.
func New() Bus {
	return &bus{
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe registers a channel to receive events.
func (b *bus) Subscribe(id string, ch chan<- Event) error {
	if ch == nil {
		return ErrNilChannel
	}
	return b.add(id, &subscriber{ch: ch})
}

// SubscribeLatest registers a receiver that only keeps the newest event.
func (b *bus) SubscribeLatest(id string) (*Receiver, error) {
	r := newReceiver()
	if err := b.add(id, &subscriber{latest: r}); err != nil {
		return nil, err
	}
	return r, nil
}

func (b *bus) add(id string, s *subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = s
	return nil
}

// Unsubscribe removes a subscriber by id.
func (b *bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	s, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if s.latest != nil {
		s.latest.Close()
	}

	delete(b.subscribers, id)
	return nil
}

// Publish sends ev to all subscribers (non-blocking).
//
// For each subscriber:
//   - If channel has space: event is sent, Sent counter incremented
//   - If channel is full: event is dropped, Dropped counter incremented
//   - Latest-only receivers always accept; an unread event they replace
//     counts as superseded
func (b *bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	ev.Seq = b.totalPublished.Add(1)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	for _, s := range b.subscribers {
		if s.latest != nil {
			if s.latest.set(ev) {
				s.superseded.Add(1)
			}
			s.sent.Add(1)
			continue
		}

		select {
		case s.ch <- ev:
			s.sent.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}

// Stats returns current bus statistics snapshot.
//
// Stats() can be called concurrently with all other operations, including
// after Close.
func (b *bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := BusStats{
		TotalPublished: b.totalPublished.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}

	for id, s := range b.subscribers {
		sent := s.sent.Load()
		dropped := s.dropped.Load()

		if s.latest == nil {
			result.TotalSent += sent
			result.TotalDropped += dropped
		}
		result.Subscribers[id] = SubscriberStats{
			Sent:       sent,
			Dropped:    dropped,
			Superseded: s.superseded.Load(),
			Latest:     s.latest != nil,
		}
	}

	return result
}

// Close stops the bus and prevents further operations.
func (b *bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil // Already closed, idempotent
	}
	b.closed = true

	for _, s := range b.subscribers {
		if s.latest != nil {
			s.latest.Close()
		}
	}
	return nil
}
