// Counters backing the filter profile, the emergency watcher and the
// throttle consequence.
//
// Includes an interface and implementations using redis and in-process memory.
package countstore

import (
	"context"
	"fmt"
	"time"
)

// PeriodTotal selects the unbounded counter that only Reset clears.
const PeriodTotal time.Duration = 0

// CountStore keeps named counters. A counter with a non-zero period lives in
// fixed windows of that length aligned to the Unix epoch; reads and writes
// address the window containing the current time.
type CountStore interface {
	GetCount(ctx context.Context, name, val string, period time.Duration) (int64, error)
	// IncrementBy adds delta and returns the counter's new value.
	IncrementBy(ctx context.Context, name, val string, period time.Duration, delta int64) (int64, error)
	// Reset clears the total counter for name/val.
	Reset(ctx context.Context, name, val string) error
}

// Increment adds one to a counter.
func Increment(ctx context.Context, cs CountStore, name, val string, period time.Duration) (int64, error) {
	return cs.IncrementBy(ctx, name, val, period, 1)
}

func periodBucket(name, val string, period time.Duration, now time.Time) string {
	if period <= 0 {
		return fmt.Sprintf("%s/%s", name, val)
	}
	secs := periodSeconds(period)
	return fmt.Sprintf("%s/%s/%d@%d", name, val, secs, now.Unix()/secs)
}

// periodSeconds rounds a period down to whole seconds, minimum one.
func periodSeconds(period time.Duration) int64 {
	return max(int64(period/time.Second), 1)
}

// windowEnd is when the window containing now closes.
func windowEnd(period time.Duration, now time.Time) time.Time {
	secs := periodSeconds(period)
	return time.Unix((now.Unix()/secs+1)*secs, 0)
}
