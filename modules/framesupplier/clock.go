package framesupplier

import (
	"sync"
	"time"
)

// TickerClock is a FrameClock driven by a fixed interval instead of frame
// arrival. It suits sources that do not push frames, such as a still image
// re-sampled periodically.
type TickerClock struct {
	mu      sync.Mutex
	nextID  uint64
	waiters map[uint64]func(time.Time)
	ticker  *time.Ticker
	done    chan struct{}
	once    sync.Once
}

// NewTickerClock starts a clock that fires every interval.
func NewTickerClock(interval time.Duration) *TickerClock {
	if interval <= 0 {
		interval = time.Second / 30
	}
	c := &TickerClock{
		waiters: make(map[uint64]func(time.Time)),
		ticker:  time.NewTicker(interval),
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

// OnNextFrame registers a one-shot callback for the next tick.
func (c *TickerClock) OnNextFrame(fn func(time.Time)) (cancel func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.waiters[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
	}
}

// Stop halts the clock. Pending callbacks never fire. Idempotent.
func (c *TickerClock) Stop() {
	c.once.Do(func() {
		c.ticker.Stop()
		close(c.done)
	})
}

func (c *TickerClock) run() {
	for {
		select {
		case <-c.done:
			return
		case ts := <-c.ticker.C:
			c.mu.Lock()
			waiters := c.waiters
			c.waiters = make(map[uint64]func(time.Time))
			c.mu.Unlock()

			for _, fn := range waiters {
				fn(ts)
			}
		}
	}
}
