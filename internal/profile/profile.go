// Package profile keeps the filter profile: how many actions each rule group
// has seen, and per rule how often it ran, matched, and what it cost.
//
// Counters are approximate under concurrency. They feed the emergency
// watcher and operator reports, neither of which needs exact figures.
package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/solatis/abusefilter/internal/countstore"
	"github.com/solatis/abusefilter/internal/types"
)

const (
	groupTotal   = "group-total"
	groupMatches = "group-matches"
	ruleRuns     = "rule-runs"
	ruleMatches  = "rule-matches"
	ruleOps      = "rule-ops"
	ruleMicros   = "rule-micros"
)

// DefaultActionsCap bounds the group totals; once exceeded the group
// profile starts over.
const DefaultActionsCap = 10000

// GroupProfile summarises a rule group.
type GroupProfile struct {
	Total   int64 `json:"total"`
	Matches int64 `json:"matches"`
}

// RuleProfile summarises one rule since it was last modified.
type RuleProfile struct {
	Runs     int64         `json:"runs"`
	Matches  int64         `json:"matches"`
	Ops      int64         `json:"ops"`
	Duration time.Duration `json:"duration"`
}

// AvgOps is the mean operation count per run.
func (p RuleProfile) AvgOps() float64 {
	if p.Runs == 0 {
		return 0
	}
	return float64(p.Ops) / float64(p.Runs)
}

// AvgDuration is the mean evaluation time per run.
func (p RuleProfile) AvgDuration() time.Duration {
	if p.Runs == 0 {
		return 0
	}
	return p.Duration / time.Duration(p.Runs)
}

type Profiler struct {
	counts     countstore.CountStore
	actionsCap int64
}

// New creates a profiler over counts. actionsCap <= 0 selects DefaultActionsCap.
func New(counts countstore.CountStore, actionsCap int64) *Profiler {
	if actionsCap <= 0 {
		actionsCap = DefaultActionsCap
	}
	return &Profiler{counts: counts, actionsCap: actionsCap}
}

func ruleKey(id types.RuleID) string {
	return fmt.Sprintf("%d", int64(id))
}

// RecordRun adds one action in group and the per-rule results of that run.
// Rules that were not evaluated (no Ops and no Err) are not counted.
func (p *Profiler) RecordRun(ctx context.Context, group string, results []types.MatchResult) error {
	total, err := countstore.Increment(ctx, p.counts, groupTotal, group, countstore.PeriodTotal)
	if err != nil {
		return fmt.Errorf("profile group %s: %w", group, err)
	}
	if total > p.actionsCap {
		if err := p.ResetGroup(ctx, group); err != nil {
			return err
		}
		if _, err := countstore.Increment(ctx, p.counts, groupTotal, group, countstore.PeriodTotal); err != nil {
			return fmt.Errorf("profile group %s: %w", group, err)
		}
	}

	anyMatch := false
	for _, r := range results {
		key := ruleKey(r.RuleID)
		if _, err := countstore.Increment(ctx, p.counts, ruleRuns, key, countstore.PeriodTotal); err != nil {
			return fmt.Errorf("profile rule %s: %w", r.RuleID, err)
		}
		if r.Ops > 0 {
			if _, err := p.counts.IncrementBy(ctx, ruleOps, key, countstore.PeriodTotal, int64(r.Ops)); err != nil {
				return fmt.Errorf("profile rule %s: %w", r.RuleID, err)
			}
		}
		if us := r.Duration.Microseconds(); us > 0 {
			if _, err := p.counts.IncrementBy(ctx, ruleMicros, key, countstore.PeriodTotal, us); err != nil {
				return fmt.Errorf("profile rule %s: %w", r.RuleID, err)
			}
		}
		if r.Matched {
			anyMatch = true
			if _, err := countstore.Increment(ctx, p.counts, ruleMatches, key, countstore.PeriodTotal); err != nil {
				return fmt.Errorf("profile rule %s: %w", r.RuleID, err)
			}
		}
	}
	if anyMatch {
		if _, err := countstore.Increment(ctx, p.counts, groupMatches, group, countstore.PeriodTotal); err != nil {
			return fmt.Errorf("profile group %s: %w", group, err)
		}
	}
	return nil
}

func (p *Profiler) GroupProfile(ctx context.Context, group string) (GroupProfile, error) {
	var gp GroupProfile
	var err error
	if gp.Total, err = p.counts.GetCount(ctx, groupTotal, group, countstore.PeriodTotal); err != nil {
		return gp, err
	}
	if gp.Matches, err = p.counts.GetCount(ctx, groupMatches, group, countstore.PeriodTotal); err != nil {
		return gp, err
	}
	return gp, nil
}

func (p *Profiler) RuleProfile(ctx context.Context, id types.RuleID) (RuleProfile, error) {
	var rp RuleProfile
	key := ruleKey(id)
	var err error
	if rp.Runs, err = p.counts.GetCount(ctx, ruleRuns, key, countstore.PeriodTotal); err != nil {
		return rp, err
	}
	if rp.Matches, err = p.counts.GetCount(ctx, ruleMatches, key, countstore.PeriodTotal); err != nil {
		return rp, err
	}
	if rp.Ops, err = p.counts.GetCount(ctx, ruleOps, key, countstore.PeriodTotal); err != nil {
		return rp, err
	}
	us, err := p.counts.GetCount(ctx, ruleMicros, key, countstore.PeriodTotal)
	if err != nil {
		return rp, err
	}
	rp.Duration = time.Duration(us) * time.Microsecond
	return rp, nil
}

// ResetRule clears a rule's profile. Run it after every save of the rule,
// see store.Rules.OnSave.
func (p *Profiler) ResetRule(ctx context.Context, id types.RuleID) error {
	key := ruleKey(id)
	for _, name := range []string{ruleRuns, ruleMatches, ruleOps, ruleMicros} {
		if err := p.counts.Reset(ctx, name, key); err != nil {
			return fmt.Errorf("reset profile of rule %s: %w", id, err)
		}
	}
	return nil
}

func (p *Profiler) ResetGroup(ctx context.Context, group string) error {
	for _, name := range []string{groupTotal, groupMatches} {
		if err := p.counts.Reset(ctx, name, group); err != nil {
			return fmt.Errorf("reset profile of group %s: %w", group, err)
		}
	}
	return nil
}
