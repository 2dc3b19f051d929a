package filter

import (
	"errors"

	"github.com/solatis/abusefilter/internal/consequence"
	"github.com/solatis/abusefilter/internal/types"
)

// Message is a user-visible message produced by a run.
type Message struct {
	Key    string       `json:"key"`
	RuleID types.RuleID `json:"rule_id,omitempty"`
	Text   string       `json:"text"`
}

// RunResult is the outcome of screening one action.
type RunResult struct {
	Group    string
	Decision types.Decision
	// Results holds one entry per evaluated rule, in evaluation order.
	Results        []types.MatchResult
	MatchedRuleIDs []types.RuleID
	Messages       []Message
	// Diagnostics lists the rules skipped because of an error. They are for
	// operators and never reach Messages.
	Diagnostics []types.Diagnostic
	// Degraded is set when every rule failed on a variable computation,
	// which points at an outage rather than at the rules.
	Degraded       bool
	BlockedDomains []string
	LogIDs         []types.LogID
	Report         *consequence.ExecutionReport
	// Stashed is set when the evaluation was reused from RunForStash.
	Stashed bool
}

// matchedRules fills MatchedRuleIDs and returns the matched rules.
func (res *RunResult) matchedRules(ruleset []*types.Rule) []*types.Rule {
	byID := make(map[types.RuleID]*types.Rule, len(ruleset))
	for _, r := range ruleset {
		byID[r.ID] = r
	}
	var out []*types.Rule
	res.MatchedRuleIDs = nil
	for _, mr := range res.Results {
		if mr.Matched {
			res.MatchedRuleIDs = append(res.MatchedRuleIDs, mr.RuleID)
			out = append(out, byID[mr.RuleID])
		}
	}
	return out
}

func asBudget(err error) (*types.BudgetExceededError, bool) {
	var bx *types.BudgetExceededError
	if errors.As(err, &bx) {
		return bx, true
	}
	return nil, false
}
