package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/abusefilter/internal/countstore"
	"github.com/solatis/abusefilter/internal/profile"
	"github.com/solatis/abusefilter/internal/types"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeRules struct {
	mu    sync.Mutex
	rules map[types.RuleID]*types.Rule
	hits  map[types.RuleID]int64
}

func newFakeRules(rules ...*types.Rule) *fakeRules {
	f := &fakeRules{rules: map[types.RuleID]*types.Rule{}, hits: map[types.RuleID]int64{}}
	for _, r := range rules {
		f.rules[r.ID] = r
	}
	return f
}

func (f *fakeRules) GetRule(ctx context.Context, id types.RuleID) (*types.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok {
		return nil, types.ErrRuleNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRules) SetThrottled(ctx context.Context, ids []types.RuleID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.rules[id].Throttled = true
	}
	return nil
}

func (f *fakeRules) IncrementHitCount(ctx context.Context, ids []types.RuleID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.hits[id]++
	}
	return nil
}

// record adds actions runs to group, of which the first matches match rule id.
func record(t *testing.T, p *profile.Profiler, group string, id types.RuleID, actions, matches int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < actions; i++ {
		res := []types.MatchResult{{RuleID: id, Matched: i < matches, Ops: 1}}
		if err := p.RecordRun(ctx, group, res); err != nil {
			t.Fatalf("RecordRun() error = %v, want nil", err)
		}
	}
}

func rule(id types.RuleID, age time.Duration) *types.Rule {
	return &types.Rule{ID: id, Enabled: true, CreatedAt: now.Add(-age), UpdatedAt: now.Add(-age)}
}

func TestFiltersToThrottleBroadNewRule(t *testing.T) {
	ctx := context.Background()
	p := profile.New(countstore.NewMemCountStore(), 100000)
	record(t, p, "default", 1, 10000, 10000)

	rules := newFakeRules(rule(1, time.Hour))
	e := NewEmergency(p, rules, map[string]Thresholds{
		"default": {Count: 5, Fraction: 0.5, Age: 24 * time.Hour},
	}, nil).WithClock(func() time.Time { return now })

	got, err := e.FiltersToThrottle(ctx, "default", []types.RuleID{1})
	if err != nil {
		t.Fatalf("FiltersToThrottle() error = %v, want nil", err)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("FiltersToThrottle() = %v, want [1]", got)
	}

	if err := e.Run(ctx, "default", []types.RuleID{1}); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	r, _ := rules.GetRule(ctx, 1)
	if !r.Throttled {
		t.Errorf("rule not throttled after Run")
	}

	// once throttled it is not returned again
	got, _ = e.FiltersToThrottle(ctx, "default", []types.RuleID{1})
	if len(got) != 0 {
		t.Errorf("FiltersToThrottle() = %v after throttling, want none", got)
	}
}

func TestFiltersToThrottleSkips(t *testing.T) {
	ctx := context.Background()
	p := profile.New(countstore.NewMemCountStore(), 100000)
	for id := types.RuleID(1); id <= 5; id++ {
		record(t, p, "default", id, 100, 100)
	}
	old := rule(1, 48*time.Hour)
	disabled := rule(2, time.Hour)
	disabled.Enabled = false
	deleted := rule(3, time.Hour)
	deleted.Deleted = true
	young := rule(4, time.Hour)
	throttled := rule(5, time.Hour)
	throttled.Throttled = true

	e := NewEmergency(p, newFakeRules(old, disabled, deleted, young, throttled), nil, nil).
		WithClock(func() time.Time { return now })

	got, err := e.FiltersToThrottle(ctx, "default", []types.RuleID{1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("FiltersToThrottle() error = %v, want nil", err)
	}
	if len(got) != 1 || got[0] != 4 {
		t.Errorf("FiltersToThrottle() = %v, want [4]", got)
	}
}

func TestFiltersToThrottleThresholds(t *testing.T) {
	tests := []struct {
		name    string
		actions int
		matches int
		th      Thresholds
		want    bool
	}{
		{"count not exceeded", 10, 5, Thresholds{Count: 5, Fraction: 0.1, Age: 24 * time.Hour}, false},
		{"count exceeded", 10, 6, Thresholds{Count: 5, Fraction: 0.1, Age: 24 * time.Hour}, true},
		{"fraction not exceeded", 100, 50, Thresholds{Count: 5, Fraction: 0.5, Age: 24 * time.Hour}, false},
		{"fraction exceeded", 100, 51, Thresholds{Count: 5, Fraction: 0.5, Age: 24 * time.Hour}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := profile.New(countstore.NewMemCountStore(), 100000)
			record(t, p, "g", 1, tt.actions, tt.matches)
			e := NewEmergency(p, newFakeRules(rule(1, time.Hour)), map[string]Thresholds{"g": tt.th}, nil).
				WithClock(func() time.Time { return now })
			got, err := e.FiltersToThrottle(context.Background(), "g", []types.RuleID{1})
			if err != nil {
				t.Fatalf("FiltersToThrottle() error = %v, want nil", err)
			}
			if (len(got) == 1) != tt.want {
				t.Errorf("FiltersToThrottle() = %v, want throttled %v", got, tt.want)
			}
		})
	}
}

func TestThresholdFallback(t *testing.T) {
	e := NewEmergency(nil, nil, map[string]Thresholds{"uploads": {Count: 9}}, nil)
	if got := e.Thresholds("uploads").Count; got != 9 {
		t.Errorf("Thresholds(uploads).Count = %d, want 9", got)
	}
	if got := e.Thresholds("other"); got != DefaultThresholds {
		t.Errorf("Thresholds(other) = %+v, want %+v", got, DefaultThresholds)
	}
	e = NewEmergency(nil, nil, map[string]Thresholds{"default": {Count: 3}}, nil)
	if got := e.Thresholds("other").Count; got != 3 {
		t.Errorf("Thresholds(other).Count = %d, want 3", got)
	}
}

func TestNoActionsNoThrottle(t *testing.T) {
	p := profile.New(countstore.NewMemCountStore(), 0)
	e := NewEmergency(p, newFakeRules(rule(1, time.Hour)), nil, nil)
	got, err := e.FiltersToThrottle(context.Background(), "default", []types.RuleID{1})
	if err != nil || len(got) != 0 {
		t.Errorf("FiltersToThrottle() = %v, %v, want none, nil", got, err)
	}
}

// Whatever the counters say, old or already throttled rules are never
// returned.
func TestThrottleMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)
	properties.Property("old and throttled rules are never returned", prop.ForAll(
		func(ageHours int, throttled bool, matches int) bool {
			ctx := context.Background()
			p := profile.New(countstore.NewMemCountStore(), 100000)
			for i := 0; i < matches; i++ {
				_ = p.RecordRun(ctx, "default", []types.MatchResult{{RuleID: 1, Matched: true}})
			}
			r := rule(1, time.Duration(ageHours)*time.Hour)
			r.Throttled = throttled
			e := NewEmergency(p, newFakeRules(r), nil, nil).WithClock(func() time.Time { return now })
			got, err := e.FiltersToThrottle(ctx, "default", []types.RuleID{1})
			if err != nil {
				return false
			}
			if throttled || ageHours >= 24 {
				return len(got) == 0
			}
			return true
		},
		gen.IntRange(0, 72),
		gen.Bool(),
		gen.IntRange(0, 20),
	))
	properties.TestingRun(t)
}

func TestHitCount(t *testing.T) {
	rules := newFakeRules()
	h := HitCount{Counter: rules}
	ctx := context.Background()
	if err := h.Run(ctx, "default", []types.RuleID{1, 2}); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	_ = h.Run(ctx, "default", []types.RuleID{1})
	_ = h.Run(ctx, "default", nil)
	if rules.hits[1] != 2 || rules.hits[2] != 1 {
		t.Errorf("hits = %v, want 1:2 2:1", rules.hits)
	}
}
