package types

import (
	"slices"
	"time"
)

// FilterUser is the name recorded as the performer of automatic blocks.
const FilterUser = "Abuse filter"

// Account is the mutable state of a user account that destructive
// consequences act on.
type Account struct {
	UserID                  int64     `json:"user_id" db:"user_id"`
	Name                    string    `json:"name" db:"name"`
	Groups                  []string  `json:"groups" db:"-"`
	Blocked                 bool      `json:"blocked" db:"blocked"`
	BlockedBy               string    `json:"blocked_by,omitempty" db:"blocked_by"`
	BlockReason             string    `json:"block_reason,omitempty" db:"block_reason"`
	BlockExpiry             time.Time `json:"block_expiry,omitempty" db:"block_expiry"`
	AutopromoteBlockedUntil time.Time `json:"autopromote_blocked_until,omitempty" db:"autopromote_blocked_until"`
	Version                 int64     `json:"version" db:"version"`
}

// Clone returns a copy that shares no slices with a.
func (a Account) Clone() Account {
	a.Groups = slices.Clone(a.Groups)
	return a
}

// InGroup reports membership of group.
func (a Account) InGroup(group string) bool {
	return slices.Contains(a.Groups, group)
}

// MutationRecord is the before and after image of one destructive
// consequence, kept so that it can be reverted later.
type MutationRecord struct {
	ID      int64           `json:"id" db:"id"`
	Kind    ConsequenceKind `json:"kind" db:"kind"`
	UserID  int64           `json:"user_id" db:"user_id"`
	RuleIDs []RuleID        `json:"rule_ids" db:"-"`
	Prior   Account         `json:"prior" db:"-"`
	After   Account         `json:"after" db:"-"`
	At      time.Time       `json:"at" db:"created_at"`
	// Reverted is set once the mutation has been undone.
	Reverted bool `json:"reverted" db:"reverted"`
}
