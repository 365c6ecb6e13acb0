// Package ingest implements the Intake Workers (C3) and Batcher (C4)
// components: three goroutines draining external queues into internal
// channels, and the generic time-and-size-bounded drain the coordinator
// uses on each of those channels every iteration.
package ingest

import "time"

// pollTimeout is the "~100ms" bound spec.md §4.3/§4.4 calls for on both the
// intake workers' external-queue poll and the batcher's per-poll wait.
const pollTimeout = 100 * time.Millisecond

// DrainBatch drains ch into a slice, returning when any of:
//
//   - the elapsed time since the call reaches interval,
//   - the slice reaches threshold items,
//   - a single poll of ch (bounded by pollTimeout, or less if interval is
//     about to elapse) yields nothing.
//
// The third condition means threshold is an upper bound, not a minimum: a
// quiet channel flushes whatever has accumulated well before threshold is
// reached. DrainBatch never blocks longer than interval and always returns,
// possibly with an empty slice. It returns early if ch is closed.
func DrainBatch[T any](ch <-chan T, interval time.Duration, threshold int) []T {
	batch := make([]T, 0)
	deadline := time.Now().Add(interval)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return batch
		}
		wait := remaining
		if wait > pollTimeout {
			wait = pollTimeout
		}

		timer := time.NewTimer(wait)
		select {
		case item, ok := <-ch:
			timer.Stop()
			if !ok {
				return batch
			}
			batch = append(batch, item)
			if threshold > 0 && len(batch) >= threshold {
				return batch
			}
		case <-timer.C:
			return batch
		}
	}
}
