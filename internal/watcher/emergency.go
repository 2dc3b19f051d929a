package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solatis/abusefilter/internal/profile"
	"github.com/solatis/abusefilter/internal/types"
)

// Thresholds decide when a rule is throttled: it must be younger than Age,
// have more than Count matches, and match more than Fraction of the
// group's actions.
type Thresholds struct {
	Count    int64         `mapstructure:"count"`
	Fraction float64       `mapstructure:"threshold"`
	Age      time.Duration `mapstructure:"age"`
}

// DefaultThresholds apply to groups without their own entry.
var DefaultThresholds = Thresholds{Count: 2, Fraction: 0.05, Age: 24 * time.Hour}

// RuleSource is the part of the rule repository the watcher needs.
type RuleSource interface {
	GetRule(ctx context.Context, id types.RuleID) (*types.Rule, error)
	SetThrottled(ctx context.Context, ids []types.RuleID) error
}

type Emergency struct {
	profiler *profile.Profiler
	rules    RuleSource
	// thresholds per group; the "default" entry, if any, replaces
	// DefaultThresholds.
	thresholds map[string]Thresholds
	now        func() time.Time
	logger     *slog.Logger
}

var _ Watcher = (*Emergency)(nil)

func NewEmergency(profiler *profile.Profiler, rules RuleSource, thresholds map[string]Thresholds, logger *slog.Logger) *Emergency {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emergency{
		profiler:   profiler,
		rules:      rules,
		thresholds: thresholds,
		now:        time.Now,
		logger:     logger.With("component", "emergency"),
	}
}

// WithClock replaces the clock used for rule ages.
func (e *Emergency) WithClock(now func() time.Time) *Emergency {
	e.now = now
	return e
}

// Thresholds returns the thresholds that apply to group.
func (e *Emergency) Thresholds(group string) Thresholds {
	if t, ok := e.thresholds[group]; ok {
		return t
	}
	if t, ok := e.thresholds[types.DefaultGroup]; ok {
		return t
	}
	return DefaultThresholds
}

// FiltersToThrottle returns the rules among ids that should be throttled.
// Rules that are inactive, already throttled, or older than the age
// threshold are never returned.
func (e *Emergency) FiltersToThrottle(ctx context.Context, group string, ids []types.RuleID) ([]types.RuleID, error) {
	gp, err := e.profiler.GroupProfile(ctx, group)
	if err != nil {
		return nil, err
	}
	if gp.Total == 0 {
		return nil, nil
	}
	th := e.Thresholds(group)
	now := e.now()

	var out []types.RuleID
	for _, id := range ids {
		r, err := e.rules.GetRule(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load rule %s: %w", id, err)
		}
		if !r.Active() || r.Throttled {
			continue
		}
		changed := r.UpdatedAt
		if changed.IsZero() {
			changed = r.CreatedAt
		}
		if !changed.Add(th.Age).After(now) {
			continue
		}

		rp, err := e.profiler.RuleProfile(ctx, id)
		if err != nil {
			return nil, err
		}
		if rp.Matches > th.Count && float64(rp.Matches)/float64(gp.Total) > th.Fraction {
			out = append(out, id)
		}
	}
	return out, nil
}

// Apply marks rules throttled.
func (e *Emergency) Apply(ctx context.Context, ids []types.RuleID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := e.rules.SetThrottled(ctx, ids); err != nil {
		return fmt.Errorf("throttle rules %v: %w", ids, err)
	}
	e.logger.Warn("rules throttled", "rules", ids)
	return nil
}

// Run evaluates the matched rules of one action and throttles those over
// the thresholds.
func (e *Emergency) Run(ctx context.Context, group string, matched []types.RuleID) error {
	ids, err := e.FiltersToThrottle(ctx, group, matched)
	if err != nil {
		return err
	}
	return e.Apply(ctx, ids)
}
