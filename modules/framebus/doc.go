// Package framebus fans detection events out to multiple subscribers.
//
// A scan publishes one Event per detected barcode; emitters (MQTT, WebSocket,
// NDJSON) subscribe and forward them. Publish never blocks: a subscriber that
// cannot keep up loses events rather than slowing the scan loop.
//
// # Core Philosophy
//
// "Drop events, never queue. Latency > Completeness."
//
// Two delivery policies are available:
//
//   - Subscribe (DropNew): the event goes to the subscriber's channel if it
//     has room, otherwise it is dropped and counted.
//   - SubscribeLatest (DropOld): the subscriber always sees the newest event;
//     older unread events are replaced.
//
// # Basic Usage
//
//	bus := framebus.New()
//	defer bus.Close()
//
//	ch := make(chan framebus.Event, 16)
//	bus.Subscribe("mqtt", ch)
//
//	bus.Publish(framebus.Event{ScanID: id, Barcode: code})
//
//	stats := bus.Stats()
//	fmt.Printf("Published: %d, Sent: %d, Dropped: %d\n",
//	    stats.TotalPublished, stats.TotalSent, stats.TotalDropped)
//
// # Thread Safety
//
// All methods are safe for concurrent use. Subscribe and Unsubscribe can be
// called while publishing.
package framebus
