package framebus

import "sort"

// CalculateDropRate returns the share of deliveries lost across all sinks
// (0.0 to 1.0). Returns 0.0 if nothing has been sent or dropped.
func CalculateDropRate(stats BusStats) float64 {
	return rate(stats.TotalSent, stats.TotalDropped)
}

// CalculateSubscriberDropRate returns the drop rate for a specific subscriber.
// Returns 0.0 if the subscriber is unknown or has seen no events.
func CalculateSubscriberDropRate(stats BusStats, subscriberID string) float64 {
	sub, exists := stats.Subscribers[subscriberID]
	if !exists {
		return 0.0
	}
	return rate(sub.Sent, sub.Dropped)
}

// SinkDropRates returns the drop rate of every channel subscriber, keyed by
// subscriber id. Latest-only receivers never drop and are left out.
func SinkDropRates(stats BusStats) map[string]float64 {
	rates := make(map[string]float64, len(stats.Subscribers))
	for id, sub := range stats.Subscribers {
		if sub.Latest {
			continue
		}
		rates[id] = CalculateSubscriberDropRate(stats, id)
	}
	return rates
}

// SlowestSink returns the channel subscriber losing the largest share of
// events. id is empty when no sink has dropped anything. Ties go to the
// lexically smallest id so the answer is stable.
func SlowestSink(stats BusStats) (id string, dropRate float64) {
	rates := SinkDropRates(stats)
	ids := make([]string, 0, len(rates))
	for sink := range rates {
		ids = append(ids, sink)
	}
	sort.Strings(ids)

	for _, sink := range ids {
		if r := rates[sink]; r > dropRate {
			id, dropRate = sink, r
		}
	}
	return id, dropRate
}

func rate(sent, dropped uint64) float64 {
	total := sent + dropped
	if total == 0 {
		return 0.0
	}
	return float64(dropped) / float64(total)
}
