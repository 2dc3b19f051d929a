package cachestore

import (
	"context"
)

// CacheStore maps (name, key) to a string value. A missing entry reads as "".
type CacheStore interface {
	Get(ctx context.Context, name, key string) (string, error)
	Set(ctx context.Context, name, key string, val string) error
	Purge(ctx context.Context, name, key string) error
}
