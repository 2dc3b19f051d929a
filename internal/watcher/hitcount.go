package watcher

import (
	"context"

	"github.com/solatis/abusefilter/internal/types"
)

// HitCounter persists per-rule hit counts.
type HitCounter interface {
	IncrementHitCount(ctx context.Context, ids []types.RuleID) error
}

// HitCount bumps the hit count of every matched rule.
type HitCount struct {
	Counter HitCounter
}

var _ Watcher = HitCount{}

func (h HitCount) Run(ctx context.Context, group string, matched []types.RuleID) error {
	if len(matched) == 0 {
		return nil
	}
	return h.Counter.IncrementHitCount(ctx, matched)
}
