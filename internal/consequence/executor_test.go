package consequence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/abusefilter/internal/cachestore"
	"github.com/solatis/abusefilter/internal/countstore"
	"github.com/solatis/abusefilter/internal/tagstore"
	"github.com/solatis/abusefilter/internal/types"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	exec     *Executor
	registry *Registry
	accounts *MemAccounts
	tags     *tagstore.MemTagStore
}

func newFixture() *fixture {
	accounts := NewMemAccounts()
	tags := tagstore.NewMemTagStore()
	reg := NewDefaultRegistry(Services{
		Tags:      tags,
		Cache:     cachestore.NewMemCacheStore(1000, time.Hour),
		Counts:    countstore.NewMemCountStoreWithClock(func() time.Time { return fixedNow }),
		Accounts:  accounts,
		Mutations: accounts,
		Now:       func() time.Time { return fixedNow },
	})
	return &fixture{exec: NewExecutor(reg, nil), registry: reg, accounts: accounts, tags: tags}
}

func editBy(userID int64) *types.ActionContext {
	return &types.ActionContext{
		Kind:   types.ActionEdit,
		Actor:  types.Actor{ID: userID, Name: "Mallory", IP: "192.0.2.7"},
		Target: types.Page{Namespace: 0, Title: "Sandbox"},
	}
}

func match(id types.RuleID, c types.Consequences) types.MatchResult {
	return types.MatchResult{RuleID: id, Matched: true, Consequences: c}
}

func TestPlanDecision(t *testing.T) {
	tests := []struct {
		name    string
		matches []types.MatchResult
		want    types.Decision
	}{
		{"nothing", nil, types.DecisionAllow},
		{"tag only", []types.MatchResult{match(1, types.Consequences{types.ConsequenceTag: {"x"}})}, types.DecisionAllow},
		{"warn", []types.MatchResult{match(1, types.Consequences{types.ConsequenceWarn: {"msg"}})}, types.DecisionWarn},
		{"disallow wins over warn", []types.MatchResult{
			match(1, types.Consequences{types.ConsequenceWarn: {"msg"}}),
			match(2, types.Consequences{types.ConsequenceDisallow: nil}),
		}, types.DecisionDeny},
		{"block denies", []types.MatchResult{match(1, types.Consequences{types.ConsequenceBlock: nil})}, types.DecisionDeny},
		{"unmatched ignored", []types.MatchResult{{RuleID: 1, Consequences: types.Consequences{types.ConsequenceDisallow: nil}}}, types.DecisionAllow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			plan := f.exec.Plan(context.Background(), editBy(1), tt.matches)
			if plan.Decision != tt.want {
				t.Errorf("Decision = %v, want %v", plan.Decision, tt.want)
			}
		})
	}
}

func TestTagsAreUnioned(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ac := editBy(1)

	report := f.exec.Apply(ctx, ac, []types.MatchResult{
		match(1, types.Consequences{types.ConsequenceTag: {"spam", "vandalism"}}),
		match(2, types.Consequences{types.ConsequenceTag: {"spam"}}),
	})
	require.NoError(t, report.Err())
	assert.Equal(t, []string{"spam", "vandalism"}, report.Tags())

	stored, err := f.tags.Get(ctx, ActionKey(ac))
	require.NoError(t, err)
	assert.Equal(t, []string{"spam", "vandalism"}, stored)

	// one invocation covering both rules
	require.Len(t, report.Applied, 1)
	assert.Equal(t, []types.RuleID{1, 2}, report.Applied[0].RuleIDs)
}

func TestDestructiveRunLast(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	var order []types.ConsequenceKind
	record := func(kind types.ConsequenceKind) Handler {
		return HandlerFunc(func(ctx context.Context, inv Invocation) (Effect, error) {
			order = append(order, kind)
			return Effect{}, nil
		})
	}
	for _, k := range []types.ConsequenceKind{
		types.ConsequenceBlock, types.ConsequenceDegroup, types.ConsequenceBlockAutopromote,
		types.ConsequenceTag, types.ConsequenceDisallow, types.ConsequenceWarn,
	} {
		f.registry.Register(k, record(k))
	}
	f.registry.Register("notify", record("notify"))

	f.exec.Apply(ctx, editBy(1), []types.MatchResult{
		match(1, types.Consequences{types.ConsequenceBlock: nil, types.ConsequenceTag: {"a"}}),
		match(2, types.Consequences{types.ConsequenceDegroup: nil, types.ConsequenceWarn: nil, "notify": nil}),
		match(3, types.Consequences{types.ConsequenceBlockAutopromote: nil, types.ConsequenceDisallow: nil}),
	})

	want := []types.ConsequenceKind{
		types.ConsequenceTag, types.ConsequenceWarn, types.ConsequenceDisallow, "notify",
		types.ConsequenceBlockAutopromote, types.ConsequenceDegroup, types.ConsequenceBlock,
	}
	assert.Equal(t, want, order)
}

func TestFailuresAreCollected(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	boom := errors.New("tag service down")
	f.registry.Register(types.ConsequenceTag, HandlerFunc(func(ctx context.Context, inv Invocation) (Effect, error) {
		return Effect{}, boom
	}))
	f.registry.Register(types.ConsequenceDegroup, HandlerFunc(func(ctx context.Context, inv Invocation) (Effect, error) {
		panic("degroup exploded")
	}))
	f.accounts.Put(types.Account{UserID: 1, Groups: []string{"autoconfirmed"}})

	report := f.exec.Apply(ctx, editBy(1), []types.MatchResult{
		match(1, types.Consequences{
			types.ConsequenceTag:     {"x"},
			types.ConsequenceDegroup: nil,
			types.ConsequenceBlock:   {"1h"},
			"unregistered":           nil,
		}),
	})

	require.Len(t, report.Failures, 3)
	assert.ErrorIs(t, report.Err(), boom)
	assert.ErrorIs(t, report.Err(), types.ErrUnknownConsequence)

	// the block still went through
	acct, ok := f.accounts.Get(1)
	require.True(t, ok)
	assert.True(t, acct.Blocked)
	assert.Equal(t, fixedNow.Add(time.Hour), acct.BlockExpiry)
}

func TestThrottledRuleKeepsNonDestructive(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.accounts.Put(types.Account{UserID: 1, Groups: []string{"autoconfirmed"}})

	m := match(1, types.Consequences{
		types.ConsequenceDisallow: nil,
		types.ConsequenceTag:      {"t"},
		types.ConsequenceBlock:    nil,
		types.ConsequenceDegroup:  nil,
	})
	m.Throttled = true
	plan := f.exec.Plan(ctx, editBy(1), []types.MatchResult{m})

	assert.Equal(t, []types.ConsequenceKind{types.ConsequenceTag, types.ConsequenceDisallow}, plan.Effective[1])
	assert.Len(t, plan.Skipped, 2)
	assert.Equal(t, types.DecisionDeny, plan.Decision)

	report := f.exec.Execute(ctx, plan)
	require.NoError(t, report.Err())
	acct, _ := f.accounts.Get(1)
	assert.False(t, acct.Blocked)
	assert.Equal(t, []string{"autoconfirmed"}, acct.Groups)
}

func TestWarnOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ac := editBy(1)
	warn := []types.MatchResult{match(7, types.Consequences{types.ConsequenceWarn: {"abusefilter-warning"}})}

	first := f.exec.Plan(ctx, ac, warn)
	assert.Equal(t, types.DecisionWarn, first.Decision)
	require.NoError(t, f.exec.Execute(ctx, first).Err())

	// resubmission after the warning goes through
	second := f.exec.Plan(ctx, ac, warn)
	assert.Equal(t, types.DecisionAllow, second.Decision)
	require.NoError(t, f.exec.Execute(ctx, second).Err())

	// and the warning was consumed
	third := f.exec.Plan(ctx, ac, warn)
	assert.Equal(t, types.DecisionWarn, third.Decision)

	// other targets are warned independently
	other := editBy(1)
	other.Target.Title = "Elsewhere"
	assert.Equal(t, types.DecisionWarn, f.exec.Plan(ctx, other, warn).Decision)
}

func TestThrottleGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	ac := editBy(1)
	m := []types.MatchResult{match(3, types.Consequences{
		types.ConsequenceThrottle: {"2,60", "user"},
		types.ConsequenceDisallow: nil,
	})}

	var got []types.Decision
	for i := 0; i < 4; i++ {
		got = append(got, f.exec.Plan(ctx, ac, m).Decision)
	}
	want := []types.Decision{types.DecisionAllow, types.DecisionAllow, types.DecisionDeny, types.DecisionDeny}
	assert.Equal(t, want, got)
}

func TestThrottleBadParams(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	plan := f.exec.Plan(ctx, editBy(1), []types.MatchResult{match(3, types.Consequences{
		types.ConsequenceThrottle: {"lots"},
		types.ConsequenceDisallow: nil,
	})})
	// a broken gate does not withhold the rule's consequences
	assert.Equal(t, types.DecisionDeny, plan.Decision)
	require.Len(t, plan.Failures, 1)
}

func TestBlockMergesDurations(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	report := f.exec.Apply(ctx, editBy(1), []types.MatchResult{
		match(1, types.Consequences{types.ConsequenceBlock: {"1h"}}),
		match(2, types.Consequences{types.ConsequenceBlock: {"72h"}}),
	})
	require.NoError(t, report.Err())
	muts := report.Mutations()
	require.Len(t, muts, 1)
	assert.Equal(t, []types.RuleID{1, 2}, muts[0].RuleIDs)
	assert.False(t, muts[0].Prior.Blocked)
	assert.Equal(t, fixedNow.Add(72*time.Hour), muts[0].After.BlockExpiry)

	// an indefinite block from another rule supersedes it
	f.exec.Apply(ctx, editBy(1), []types.MatchResult{match(3, types.Consequences{types.ConsequenceBlock: {"infinity"}})})
	acct, _ := f.accounts.Get(1)
	assert.True(t, acct.BlockExpiry.IsZero())

	// and a shorter one is a no-op
	report = f.exec.Apply(ctx, editBy(1), []types.MatchResult{match(4, types.Consequences{types.ConsequenceBlock: {"1h"}})})
	assert.Empty(t, report.Mutations())
}

func TestAnonymousActorNotMutated(t *testing.T) {
	f := newFixture()
	ac := editBy(0)
	report := f.exec.Apply(context.Background(), ac, []types.MatchResult{
		match(1, types.Consequences{types.ConsequenceBlock: nil, types.ConsequenceDegroup: nil}),
	})
	require.NoError(t, report.Err())
	assert.Empty(t, report.Mutations())
}

// Two actions against the same account, one blocking and one degrouping,
// must both land.
func TestConcurrentBlockAndDegroup(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		f := newFixture()
		f.accounts.Put(types.Account{UserID: 42, Name: "Mallory", Groups: []string{"autoconfirmed", "rollbacker"}})

		var wg sync.WaitGroup
		reports := make([]*ExecutionReport, 2)
		for j, kind := range []types.ConsequenceKind{types.ConsequenceBlock, types.ConsequenceDegroup} {
			wg.Add(1)
			go func(j int, kind types.ConsequenceKind) {
				defer wg.Done()
				reports[j] = f.exec.Apply(ctx, editBy(42), []types.MatchResult{
					match(types.RuleID(j+1), types.Consequences{kind: nil}),
				})
			}(j, kind)
		}
		wg.Wait()

		for _, r := range reports {
			require.NoError(t, r.Err())
			require.Len(t, r.Mutations(), 1)
		}
		acct, _ := f.accounts.Get(42)
		assert.True(t, acct.Blocked, "block lost")
		assert.Empty(t, acct.Groups, "degroup lost")
		assert.Equal(t, int64(2), acct.Version)

		// whichever ran second saw the first's result
		a, b := reports[0].Mutations()[0], reports[1].Mutations()[0]
		if a.After.Version > b.After.Version {
			a, b = b, a
		}
		assert.Equal(t, a.After, b.Prior)
	}
}
