// Package store persists rules, match logs, account state and revision text
// in SQL through the named queries of the db package.
package store

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/solatis/abusefilter/internal/core/db"
)

// ErrVersionConflict indicates a rule was changed concurrently; the caller
// should reload and retry.
var ErrVersionConflict = errors.New("rule version conflict")

// Store bundles the SQL-backed repositories sharing one query set.
type Store struct {
	Rules     *Rules
	Logs      *Logs
	Accounts  *Accounts
	Revisions *Revisions
}

// New builds every repository over q. now defaults to time.Now.
func New(q *db.Queries, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		Rules:     &Rules{q: q, now: now},
		Logs:      &Logs{q: q},
		Accounts:  NewAccounts(q, now),
		Revisions: &Revisions{q: q},
	}
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}
