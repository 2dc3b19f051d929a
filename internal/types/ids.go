package types

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// RuleID identifies a rule. Rule IDs are assigned by the repository and are
// displayed to users as "#<id>", so they stay small integers.
type RuleID int64

// String renders the ID in its user-facing form without the leading '#'.
func (id RuleID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// LogID identifies a match log entry (UUIDv7).
// Time-ordered IDs ensure sequential inserts cluster in B-tree pages.
type LogID string

// NewLogID generates a UUIDv7 log identifier.
// Panics on clock regression (uuid.Must); acceptable for ID generation.
func NewLogID() LogID {
	return LogID(uuid.Must(uuid.NewV7()).String())
}

// ParseLogID validates and converts a string to LogID.
func ParseLogID(s string) (LogID, error) {
	if _, err := uuid.Parse(s); err != nil {
		return "", err
	}
	return LogID(s), nil
}

// ParseRuleID accepts "123" or "#123".
func ParseRuleID(s string) (RuleID, error) {
	if len(s) > 0 && s[0] == '#' {
		s = s[1:]
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, ErrInvalidRuleID
	}
	return RuleID(n), nil
}

// LogIDTime extracts the timestamp embedded in a UUIDv7 log ID.
// Returns zero time for invalid UUIDs; caller should check IsZero().
func LogIDTime(id LogID) time.Time {
	u, err := uuid.Parse(string(id))
	if err != nil {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec)
}
