package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/abusefilter/internal/core/db"
	"github.com/solatis/abusefilter/internal/types"
)

// DefaultLogLimit bounds ListForRule when no limit is given.
const DefaultLogLimit = 100

// Logs is the SQL match log.
type Logs struct {
	q *db.Queries
}

func NewLogs(q *db.Queries) *Logs {
	return &Logs{q: q}
}

type logRow struct {
	ID           string    `db:"id"`
	RuleID       int64     `db:"rule_id"`
	Group        string    `db:"rule_group"`
	Action       string    `db:"action"`
	ActorID      int64     `db:"actor_id"`
	ActorName    string    `db:"actor_name"`
	Namespace    int       `db:"namespace"`
	Title        string    `db:"title"`
	VarDump      string    `db:"var_dump"`
	Consequences string    `db:"consequences"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r logRow) entry() (types.LogEntry, error) {
	e := types.LogEntry{
		ID:        types.LogID(r.ID),
		RuleID:    types.RuleID(r.RuleID),
		Group:     r.Group,
		Action:    types.ActionKind(r.Action),
		ActorID:   r.ActorID,
		ActorName: r.ActorName,
		Namespace: r.Namespace,
		Title:     r.Title,
		Timestamp: r.CreatedAt,
	}
	if err := decodeJSON(r.VarDump, &e.VarDump); err != nil {
		return e, fmt.Errorf("log %s: invalid var dump: %w", r.ID, err)
	}
	if err := decodeJSON(r.Consequences, &e.Consequences); err != nil {
		return e, fmt.Errorf("log %s: invalid consequences: %w", r.ID, err)
	}
	return e, nil
}

// Record writes all entries of one run atomically.
func (s *Logs) Record(ctx context.Context, entries []types.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.q.InTx(ctx, func(tx *db.Queries) error {
		for _, e := range entries {
			dump, err := encodeJSON(e.VarDump)
			if err != nil {
				return fmt.Errorf("failed to encode var dump: %w", err)
			}
			cons, err := encodeJSON(e.Consequences)
			if err != nil {
				return fmt.Errorf("failed to encode consequences: %w", err)
			}
			if _, err := tx.Exec(ctx, "insert-log-entry",
				string(e.ID), int64(e.RuleID), e.Group, string(e.Action), e.ActorID, e.ActorName,
				e.Namespace, e.Title, dump, cons, e.Timestamp.UTC()); err != nil {
				return fmt.Errorf("failed to insert log entry %s: %w", e.ID, err)
			}
		}
		return nil
	})
}

// GetLog returns one entry or types.ErrLogNotFound.
func (s *Logs) GetLog(ctx context.Context, id types.LogID) (types.LogEntry, error) {
	var row logRow
	if err := s.q.Get(ctx, "get-log-entry", &row, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.LogEntry{}, types.ErrLogNotFound
		}
		return types.LogEntry{}, fmt.Errorf("failed to get log entry %s: %w", id, err)
	}
	return row.entry()
}

// ListForRule returns the newest entries of a rule, newest first.
func (s *Logs) ListForRule(ctx context.Context, ruleID types.RuleID, limit int) ([]types.LogEntry, error) {
	if limit <= 0 {
		limit = DefaultLogLimit
	}
	var rows []logRow
	if err := s.q.Select(ctx, "list-log-entries-for-rule", &rows, int64(ruleID), limit); err != nil {
		return nil, fmt.Errorf("failed to list logs of rule %d: %w", ruleID, err)
	}
	out := make([]types.LogEntry, 0, len(rows))
	for _, row := range rows {
		e, err := row.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// RenameUser rewrites the actor name of past entries after an account
// rename and reports how many entries changed.
func (s *Logs) RenameUser(ctx context.Context, oldName, newName string) (int64, error) {
	res, err := s.q.Exec(ctx, "rename-log-user", newName, oldName)
	if err != nil {
		return 0, fmt.Errorf("failed to rename %s in logs: %w", oldName, err)
	}
	return res.RowsAffected()
}
