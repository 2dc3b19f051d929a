package countstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisCountPrefix = "af/count/"

// RedisCountStore is a CountStore shared between processes.
type RedisCountStore struct {
	Client *redis.Client
}

var _ CountStore = (*RedisCountStore)(nil)

func NewRedisCountStore(redisURL string) (*RedisCountStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
		return nil, err
	}
	return &RedisCountStore{Client: rdb}, nil
}

func (s *RedisCountStore) GetCount(ctx context.Context, name, val string, period time.Duration) (int64, error) {
	key := redisCountPrefix + periodBucket(name, val, period, time.Now())
	c, err := s.Client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return c, nil
}

func (s *RedisCountStore) IncrementBy(ctx context.Context, name, val string, period time.Duration, delta int64) (int64, error) {
	now := time.Now()
	key := redisCountPrefix + periodBucket(name, val, period, now)

	// increment and set expiry in a single round-trip
	multi := s.Client.Pipeline()
	incr := multi.IncrBy(ctx, key, delta)
	if period > 0 {
		multi.ExpireAt(ctx, key, windowEnd(period, now).Add(period))
	}
	if _, err := multi.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *RedisCountStore) Reset(ctx context.Context, name, val string) error {
	return s.Client.Del(ctx, redisCountPrefix+periodBucket(name, val, PeriodTotal, time.Now())).Err()
}
