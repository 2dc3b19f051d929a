// internal/types/rules.go
package types

import (
	"sort"
	"time"
)

/*
 * Rule definitions.
 *
 * A Rule pairs a pattern in the rule language with the consequences to apply
 * when it matches. Rules belong to a group; each action kind is mapped to a
 * group and only that group's enabled rules are evaluated for it.
 *
 * Consequence parameters are free-form strings; their meaning is owned by the
 * handler registered for the kind (e.g. block: [duration, talk-access],
 * throttle: [count, period, scope...], tag: tag names).
 */

// ConsequenceKind names a consequence a rule may carry.
type ConsequenceKind string

const (
	ConsequenceTag              ConsequenceKind = "tag"
	ConsequenceWarn             ConsequenceKind = "warn"
	ConsequenceDisallow         ConsequenceKind = "disallow"
	ConsequenceThrottle         ConsequenceKind = "throttle"
	ConsequenceBlockAutopromote ConsequenceKind = "blockautopromote"
	ConsequenceDegroup          ConsequenceKind = "degroup"
	ConsequenceBlock            ConsequenceKind = "block"
)

// Destructive reports whether the consequence mutates account state.
// Destructive consequences are applied after all non-destructive ones and are
// withheld for throttled rules.
func (k ConsequenceKind) Destructive() bool {
	switch k {
	case ConsequenceBlock, ConsequenceDegroup, ConsequenceBlockAutopromote:
		return true
	default:
		return false
	}
}

// Denies reports whether the consequence prevents the action from completing.
func (k ConsequenceKind) Denies() bool {
	return k == ConsequenceDisallow || k == ConsequenceBlock
}

// Consequences maps a consequence kind to its parameters.
type Consequences map[ConsequenceKind][]string

// Kinds returns the kinds in deterministic order.
func (c Consequences) Kinds() []ConsequenceKind {
	out := make([]ConsequenceKind, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultGroup is the rule group used for action kinds with no configured group.
const DefaultGroup = "default"

// Rule is a stored filter.
type Rule struct {
	ID          RuleID
	Group       string
	Description string
	Pattern     string
	Comments    string
	Enabled     bool
	Deleted     bool
	Hidden      bool
	Global      bool
	Throttled   bool
	Priority    int
	Actions     Consequences
	HitCount    int64
	Version     int
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Active reports whether the rule participates in runs.
func (r *Rule) Active() bool {
	return r.Enabled && !r.Deleted
}

// SortRules orders rules for a run: global before local, then ascending
// priority, then ascending ID.
func SortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Global != b.Global {
			return a.Global
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})
}
