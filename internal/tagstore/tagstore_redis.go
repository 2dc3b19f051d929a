package tagstore

import (
	"context"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

var redisTagPrefix = "af/tags/"

// RedisTagStore keeps tags in redis sets, expiring after TTL.
type RedisTagStore struct {
	Client *redis.Client
	TTL    time.Duration
}

var _ TagStore = (*RedisTagStore)(nil)

func NewRedisTagStore(redisURL string, ttl time.Duration) (*RedisTagStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	if _, err := rdb.Ping(context.TODO()).Result(); err != nil {
		return nil, err
	}
	return &RedisTagStore{Client: rdb, TTL: ttl}, nil
}

func (s *RedisTagStore) Get(ctx context.Context, key string) ([]string, error) {
	tags, err := s.Client.SMembers(ctx, redisTagPrefix+key).Result()
	if err == redis.Nil {
		return []string{}, nil
	} else if err != nil {
		return nil, err
	}
	sort.Strings(tags)
	return tags, nil
}

func (s *RedisTagStore) Add(ctx context.Context, key string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	members := make([]any, len(tags))
	for i, t := range tags {
		members[i] = t
	}
	multi := s.Client.Pipeline()
	multi.SAdd(ctx, redisTagPrefix+key, members...)
	if s.TTL > 0 {
		multi.Expire(ctx, redisTagPrefix+key, s.TTL)
	}
	_, err := multi.Exec(ctx)
	return err
}

func (s *RedisTagStore) Remove(ctx context.Context, key string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	members := make([]any, len(tags))
	for i, t := range tags {
		members[i] = t
	}
	return s.Client.SRem(ctx, redisTagPrefix+key, members...).Err()
}
