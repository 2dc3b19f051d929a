package filter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/solatis/abusefilter/internal/types"
	"github.com/solatis/abusefilter/internal/vars"
)

const stashCacheName = "stash"

// stashEntry is what RunForStash leaves for Run.
type stashEntry struct {
	Matched []types.RuleID         `json:"matched"`
	Vars    map[string]types.Value `json:"vars"`
}

// stashVolatile lists variables that differ between a preview and the save
// it precedes without affecting what the action is.
var stashVolatile = []string{"timestamp"}

// stashKey identifies an action by the inputs of its variable store and the
// version of every rule in the set. It must be taken before evaluation, while
// deferred slots are still unresolved.
func stashKey(group string, store *vars.Store, ruleset []*types.Rule) (string, error) {
	inputs := store.Inputs()
	for _, name := range stashVolatile {
		delete(inputs, name)
	}
	raw, err := json.Marshal(inputs)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00", group)
	h.Write(raw)
	h.Write([]byte{0})
	for _, r := range ruleset {
		fmt.Fprintf(h, "%d:%d:%d;", int64(r.ID), r.Version, r.UpdatedAt.UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RunForStash evaluates an action ahead of its submission, for instance
// while an upload is stashed or an edit is being previewed, and caches
// the outcome for Run. Nothing is logged or applied. The returned
// Decision is a preview; throttle gates and warnings are only consulted
// by Run.
func (r *Runner) RunForStash(ctx context.Context, ac types.ActionContext) (*RunResult, error) {
	group := r.Group(ac.Kind)
	logger := r.logger.With("group", group, "action", ac.Kind, "actor", ac.Actor.Name, "stash", true)

	ruleset, err := r.loadRules(ctx, group)
	if err != nil {
		return nil, err
	}
	store, err := r.stores.Build(ac)
	if err != nil {
		return nil, err
	}
	key, keyErr := stashKey(group, store, ruleset)
	res := &RunResult{Group: group}
	r.evaluateAll(ctx, res, ruleset, store, logger)
	matched := res.matchedRules(ruleset)
	res.Decision = previewDecision(matched)

	if r.stash == nil || res.Degraded {
		return res, nil
	}
	if keyErr != nil {
		logger.Warn("failed to key stashed evaluation", "err", keyErr)
		return res, nil
	}
	raw, err := json.Marshal(stashEntry{Matched: res.MatchedRuleIDs, Vars: store.Snapshot()})
	if err != nil {
		return res, err
	}
	if err := r.stash.Set(ctx, stashCacheName, key, string(raw)); err != nil {
		logger.Warn("failed to stash evaluation", "err", err)
	}
	return res, nil
}

// loadStash returns and consumes a stashed evaluation matching store, which
// must not have been evaluated yet.
func (r *Runner) loadStash(ctx context.Context, group string, store *vars.Store, ruleset []*types.Rule) (*stashEntry, bool) {
	if r.stash == nil {
		return nil, false
	}
	key, err := stashKey(group, store, ruleset)
	if err != nil {
		r.logger.Warn("failed to key stash lookup", "err", err)
		return nil, false
	}
	raw, err := r.stash.Get(ctx, stashCacheName, key)
	if err != nil || raw == "" {
		return nil, false
	}
	var entry stashEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		r.logger.Warn("discarding unreadable stash entry", "err", err)
		return nil, false
	}
	if err := r.stash.Purge(ctx, stashCacheName, key); err != nil {
		r.logger.Warn("failed to purge stash entry", "err", err)
	}
	return &entry, true
}

func stashedResults(ruleset []*types.Rule, matched []types.RuleID) []types.MatchResult {
	out := make([]types.MatchResult, 0, len(ruleset))
	for _, rule := range ruleset {
		out = append(out, types.MatchResult{
			RuleID:       rule.ID,
			Matched:      slices.Contains(matched, rule.ID),
			Throttled:    rule.Throttled,
			Consequences: rule.Actions,
		})
	}
	return out
}

func previewDecision(matched []*types.Rule) types.Decision {
	d := types.DecisionAllow
	for _, rule := range matched {
		for kind := range rule.Actions {
			if kind.Denies() && !(rule.Throttled && kind.Destructive()) {
				return types.DecisionDeny
			}
			if kind == types.ConsequenceWarn {
				d = types.DecisionWarn
			}
		}
	}
	return d
}
