package framebus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/decode"
	"github.com/e7canasta/orion-care-sensor/modules/barcode-scan/format"
)

func event(raw string) Event {
	return Event{ScanID: "scan-1", Barcode: decode.Barcode{RawValue: raw, Format: format.QRCode}}
}

// TestBasicPublishSubscribe verifies basic functionality.
func TestBasicPublishSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Event, 10)
	if err := bus.Subscribe("test", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	bus.Publish(event("HELLO"))

	select {
	case received := <-ch:
		if received.Barcode.RawValue != "HELLO" {
			t.Errorf("Expected HELLO, got %q", received.Barcode.RawValue)
		}
		if received.Seq != 1 {
			t.Errorf("Expected seq 1, got %d", received.Seq)
		}
		if received.Timestamp.IsZero() {
			t.Error("Expected Publish to stamp the event")
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Timeout waiting for event")
	}
}

// TestNonBlockingPublish verifies Publish never blocks.
func TestNonBlockingPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Event, 1)
	bus.Subscribe("slow", ch)

	done := make(chan bool)
	go func() {
		bus.Publish(event("first"))  // Should succeed
		bus.Publish(event("second")) // Should drop (buffer full)
		done <- true
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Publish blocked (should be non-blocking)")
	}

	received := <-ch
	if received.Barcode.RawValue != "first" {
		t.Errorf("Expected first, got %q", received.Barcode.RawValue)
	}

	subStats := bus.Stats().Subscribers["slow"]
	if subStats.Sent != 1 {
		t.Errorf("Expected 1 sent, got %d", subStats.Sent)
	}
	if subStats.Dropped != 1 {
		t.Errorf("Expected 1 dropped, got %d", subStats.Dropped)
	}
}

// TestStatsAccuracy verifies stats match actual behavior.
func TestStatsAccuracy(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch1 := make(chan Event, 10) // Large buffer
	ch2 := make(chan Event, 1)  // Small buffer (will drop)

	bus.Subscribe("worker-1", ch1)
	bus.Subscribe("worker-2", ch2)
	latest, err := bus.SubscribeLatest("worker-3")
	if err != nil {
		t.Fatalf("SubscribeLatest failed: %v", err)
	}

	for i := 0; i < 5; i++ {
		bus.Publish(event("code"))
	}

	stats := bus.Stats()
	if stats.TotalPublished != 5 {
		t.Errorf("Expected 5 published, got %d", stats.TotalPublished)
	}

	if stats.Subscribers["worker-1"].Sent != 5 {
		t.Errorf("Worker-1 expected 5 sent, got %d", stats.Subscribers["worker-1"].Sent)
	}
	if w2 := stats.Subscribers["worker-2"]; w2.Sent != 1 || w2.Dropped != 4 {
		t.Errorf("Worker-2 expected 1 sent/4 dropped, got %d/%d", w2.Sent, w2.Dropped)
	}
	// Latest-only: every event is handed over, 4 of them replaced unread.
	if w3 := stats.Subscribers["worker-3"]; w3.Sent != 5 || w3.Superseded != 4 || w3.Dropped != 0 || !w3.Latest {
		t.Errorf("Worker-3 expected 5 sent/4 superseded/0 dropped, got %+v", w3)
	}

	// Totals cover channel sinks only: 5+1 sent, 4 dropped.
	if stats.TotalSent != 6 || stats.TotalDropped != 4 {
		t.Errorf("Expected totals 6 sent/4 dropped, got %d/%d", stats.TotalSent, stats.TotalDropped)
	}

	ev, ok := latest.TryReceive()
	if !ok || ev.Seq != 5 {
		t.Errorf("Expected latest seq 5, got %d (ok=%v)", ev.Seq, ok)
	}
}

// TestSubscribeDuplicateID verifies error handling.
func TestSubscribeDuplicateID(t *testing.T) {
	bus := New()
	defer bus.Close()

	if err := bus.Subscribe("test", make(chan Event, 1)); err != nil {
		t.Fatalf("First subscribe failed: %v", err)
	}

	if err := bus.Subscribe("test", make(chan Event, 1)); err != ErrSubscriberExists {
		t.Errorf("Expected ErrSubscriberExists, got %v", err)
	}
	if _, err := bus.SubscribeLatest("test"); err != ErrSubscriberExists {
		t.Errorf("Expected ErrSubscriberExists, got %v", err)
	}
}

// TestUnsubscribe verifies unsubscribe functionality.
func TestUnsubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Event, 1)
	bus.Subscribe("test", ch)

	if n := len(bus.Stats().Subscribers); n != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", n)
	}

	if err := bus.Unsubscribe("test"); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}

	if n := len(bus.Stats().Subscribers); n != 0 {
		t.Errorf("Expected 0 subscribers, got %d", n)
	}

	bus.Publish(event("late"))

	select {
	case <-ch:
		t.Error("Received event after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

// TestUnsubscribeNotFound verifies error handling.
func TestUnsubscribeNotFound(t *testing.T) {
	bus := New()
	defer bus.Close()

	if err := bus.Unsubscribe("nonexistent"); err != ErrSubscriberNotFound {
		t.Errorf("Expected ErrSubscriberNotFound, got %v", err)
	}
}

// TestMultipleSubscribers verifies fan-out to multiple channels.
func TestMultipleSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	channels := make([]chan Event, 10)
	for i := 0; i < 10; i++ {
		ch := make(chan Event, 5)
		channels[i] = ch
		bus.Subscribe(string(rune('A'+i)), ch)
	}

	bus.Publish(event("fan-out"))

	for i, ch := range channels {
		select {
		case received := <-ch:
			if received.Barcode.RawValue != "fan-out" {
				t.Errorf("Subscriber %d: expected fan-out, got %q", i, received.Barcode.RawValue)
			}
		case <-time.After(1 * time.Second):
			t.Errorf("Subscriber %d: timeout waiting for event", i)
		}
	}

	stats := bus.Stats()
	if stats.TotalPublished != 1 {
		t.Errorf("Expected 1 published, got %d", stats.TotalPublished)
	}
	if stats.TotalSent != 10 {
		t.Errorf("Expected 10 sent (1 event × 10 subscribers), got %d", stats.TotalSent)
	}
	if stats.TotalDropped != 0 {
		t.Errorf("Expected 0 dropped, got %d", stats.TotalDropped)
	}
}

// TestConcurrentPublish verifies thread safety with multiple publishers.
func TestConcurrentPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch := make(chan Event, 1000)
	bus.Subscribe("test", ch)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(event("burst"))
			}
		}()
	}

	wg.Wait()

	stats := bus.Stats()
	if stats.TotalPublished != 1000 {
		t.Errorf("Expected 1000 published, got %d", stats.TotalPublished)
	}

	subStats := stats.Subscribers["test"]
	if subStats.Sent+subStats.Dropped != 1000 {
		t.Errorf("Expected 1000 total (sent+dropped), got %d", subStats.Sent+subStats.Dropped)
	}

	// Sequence numbers are unique even under concurrent publishers.
	seen := make(map[uint64]bool, len(ch))
	for len(ch) > 0 {
		ev := <-ch
		if seen[ev.Seq] {
			t.Fatalf("Duplicate seq %d", ev.Seq)
		}
		seen[ev.Seq] = true
	}
}

// TestConcurrentSubscribe verifies thread safety with dynamic subscribers.
func TestConcurrentSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			bus.Publish(event("tick"))
			time.Sleep(1 * time.Millisecond)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			id := string(rune('A' + i))
			if i%2 == 0 {
				bus.Subscribe(id, make(chan Event, 10))
			} else {
				bus.SubscribeLatest(id)
			}
			time.Sleep(5 * time.Millisecond)
			bus.Unsubscribe(id)
		}
	}()

	wg.Wait()

	if stats := bus.Stats(); stats.TotalPublished != 100 {
		t.Errorf("Expected 100 published, got %d", stats.TotalPublished)
	}
}

// TestClosedBus verifies behavior after Close().
func TestClosedBus(t *testing.T) {
	bus := New()
	ch := make(chan Event, 1)
	bus.Subscribe("test", ch)
	latest, _ := bus.SubscribeLatest("latest")

	if err := bus.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if err := bus.Subscribe("new", make(chan Event, 1)); err != ErrBusClosed {
		t.Errorf("Expected ErrBusClosed, got %v", err)
	}
	if err := bus.Unsubscribe("test"); err != ErrBusClosed {
		t.Errorf("Expected ErrBusClosed, got %v", err)
	}

	// Publish after close is dropped, not a panic: scans may still be
	// draining while the process shuts down.
	bus.Publish(event("late"))

	if stats := bus.Stats(); stats.TotalPublished != 0 {
		t.Errorf("Expected 0 published, got %d", stats.TotalPublished)
	}
	if len(ch) != 0 {
		t.Error("Received event after Close")
	}

	if _, err := latest.Receive(context.Background()); !errors.Is(err, ErrReceiverClosed) {
		t.Errorf("Expected ErrReceiverClosed, got %v", err)
	}
}

// TestStatsMonotonicity verifies counters only increase.
func TestStatsMonotonicity(t *testing.T) {
	bus := New()
	defer bus.Close()

	bus.Subscribe("test", make(chan Event, 1))

	prevStats := bus.Stats()

	for i := 0; i < 10; i++ {
		bus.Publish(event("code"))

		stats := bus.Stats()

		if stats.TotalPublished < prevStats.TotalPublished {
			t.Error("TotalPublished decreased (not monotonic)")
		}
		if stats.TotalSent < prevStats.TotalSent {
			t.Error("TotalSent decreased (not monotonic)")
		}
		if stats.TotalDropped < prevStats.TotalDropped {
			t.Error("TotalDropped decreased (not monotonic)")
		}

		prevStats = stats
	}
}

// TestNilChannelSubscribe verifies error handling.
func TestNilChannelSubscribe(t *testing.T) {
	bus := New()
	defer bus.Close()

	if err := bus.Subscribe("test", nil); err != ErrNilChannel {
		t.Errorf("Expected ErrNilChannel, got %v", err)
	}
}

// TestIdempotentClose verifies Close can be called multiple times.
func TestIdempotentClose(t *testing.T) {
	bus := New()

	if err := bus.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
}

// BenchmarkPublishSingleSubscriber measures Publish performance.
func BenchmarkPublishSingleSubscriber(b *testing.B) {
	bus := New()
	defer bus.Close()

	bus.Subscribe("bench", make(chan Event, 1000))
	ev := event("bench")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bus.Publish(ev)
	}
}

// BenchmarkPublishMultipleSubscribers measures fan-out performance.
func BenchmarkPublishMultipleSubscribers(b *testing.B) {
	bus := New()
	defer bus.Close()

	for i := 0; i < 10; i++ {
		bus.Subscribe(string(rune('A'+i)), make(chan Event, 1000))
	}
	ev := event("bench")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bus.Publish(ev)
	}
}
