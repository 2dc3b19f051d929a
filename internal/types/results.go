package types

import "time"

// Decision is the overall outcome of a run for one action.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionWarn
	DecisionDeny
)

func (d Decision) String() string {
	switch d {
	case DecisionWarn:
		return "warn"
	case DecisionDeny:
		return "deny"
	default:
		return "allow"
	}
}

// Diagnostic records why a rule did not produce a verdict.
type Diagnostic struct {
	RuleID  RuleID `json:"rule_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// MatchResult is the outcome of evaluating one rule against one action.
type MatchResult struct {
	RuleID       RuleID
	Matched      bool
	Throttled    bool
	Consequences Consequences
	Err          error
	Ops          int
	Duration     time.Duration
}

// LogEntry is one persisted match.
type LogEntry struct {
	ID           LogID            `json:"id" db:"id"`
	RuleID       RuleID           `json:"rule_id" db:"rule_id"`
	Group        string           `json:"group" db:"rule_group"`
	Action       ActionKind       `json:"action" db:"action"`
	ActorID      int64            `json:"actor_id" db:"actor_id"`
	ActorName    string           `json:"actor_name" db:"actor_name"`
	Namespace    int              `json:"namespace" db:"namespace"`
	Title        string           `json:"title" db:"title"`
	VarDump      map[string]Value `json:"var_dump" db:"-"`
	Consequences []string         `json:"consequences" db:"-"`
	Timestamp    time.Time        `json:"timestamp" db:"created_at"`
}
