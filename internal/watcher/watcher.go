// Package watcher holds the post-run watchers: the emergency watcher that
// throttles new rules matching a suspicious share of actions, and the hit
// counter.
package watcher

import (
	"context"

	"github.com/solatis/abusefilter/internal/types"
)

// Watcher runs after every action with the rules that matched it.
type Watcher interface {
	Run(ctx context.Context, group string, matched []types.RuleID) error
}
