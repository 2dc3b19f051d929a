package countstore

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// sweepEvery is how many increments pass between sweeps of expired windows.
const sweepEvery = 4096

type memCounter struct {
	n       atomic.Int64
	expires int64 // unix seconds, 0 for totals
}

// MemCountStore is a race-safe in-process CountStore.
type MemCountStore struct {
	counts *xsync.MapOf[string, *memCounter]
	writes atomic.Int64
	now    func() time.Time
}

// NewMemCountStore creates an empty store using the wall clock.
func NewMemCountStore() *MemCountStore {
	return NewMemCountStoreWithClock(time.Now)
}

// NewMemCountStoreWithClock creates an empty store reading time from now.
func NewMemCountStoreWithClock(now func() time.Time) *MemCountStore {
	return &MemCountStore{counts: xsync.NewMapOf[string, *memCounter](), now: now}
}

func (s *MemCountStore) GetCount(ctx context.Context, name, val string, period time.Duration) (int64, error) {
	now := s.now()
	c, ok := s.counts.Load(periodBucket(name, val, period, now))
	if !ok || (c.expires != 0 && c.expires <= now.Unix()) {
		return 0, nil
	}
	return c.n.Load(), nil
}

func (s *MemCountStore) IncrementBy(ctx context.Context, name, val string, period time.Duration, delta int64) (int64, error) {
	now := s.now()
	c, _ := s.counts.LoadOrCompute(periodBucket(name, val, period, now), func() *memCounter {
		c := &memCounter{}
		if period > 0 {
			c.expires = windowEnd(period, now).Unix()
		}
		return c
	})
	if s.writes.Add(1)%sweepEvery == 0 {
		s.sweep(now)
	}
	return c.n.Add(delta), nil
}

func (s *MemCountStore) Reset(ctx context.Context, name, val string) error {
	s.counts.Delete(periodBucket(name, val, PeriodTotal, s.now()))
	return nil
}

func (s *MemCountStore) sweep(now time.Time) {
	s.counts.Range(func(key string, c *memCounter) bool {
		if c.expires != 0 && c.expires <= now.Unix() {
			s.counts.Delete(key)
		}
		return true
	})
}
