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

// Rules is the SQL rule repository. Every save bumps the rule version and
// appends a row to rule_history inside the same transaction.
type Rules struct {
	q      *db.Queries
	now    func() time.Time
	onSave []func(ctx context.Context, r *types.Rule) error
}

// NewRules creates a rule repository. now defaults to time.Now.
func NewRules(q *db.Queries, now func() time.Time) *Rules {
	if now == nil {
		now = time.Now
	}
	return &Rules{q: q, now: now}
}

// OnSave registers fn to run after every committed save, for state derived
// from a rule's previous version such as its filter profile.
func (s *Rules) OnSave(fn func(ctx context.Context, r *types.Rule) error) {
	s.onSave = append(s.onSave, fn)
}

type ruleRow struct {
	ID          int64     `db:"id"`
	Group       string    `db:"rule_group"`
	Description string    `db:"description"`
	Pattern     string    `db:"pattern"`
	Comments    string    `db:"comments"`
	Enabled     bool      `db:"enabled"`
	Deleted     bool      `db:"deleted"`
	Hidden      bool      `db:"hidden"`
	Global      bool      `db:"global"`
	Throttled   bool      `db:"throttled"`
	Priority    int       `db:"priority"`
	Actions     string    `db:"actions"`
	HitCount    int64     `db:"hit_count"`
	Version     int       `db:"version"`
	CreatedBy   string    `db:"created_by"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r ruleRow) rule() (*types.Rule, error) {
	rule := &types.Rule{
		ID:          types.RuleID(r.ID),
		Group:       r.Group,
		Description: r.Description,
		Pattern:     r.Pattern,
		Comments:    r.Comments,
		Enabled:     r.Enabled,
		Deleted:     r.Deleted,
		Hidden:      r.Hidden,
		Global:      r.Global,
		Throttled:   r.Throttled,
		Priority:    r.Priority,
		HitCount:    r.HitCount,
		Version:     r.Version,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if err := decodeJSON(r.Actions, &rule.Actions); err != nil {
		return nil, fmt.Errorf("rule %d: invalid actions: %w", r.ID, err)
	}
	return rule, nil
}

func rulesFromRows(rows []ruleRow) ([]*types.Rule, error) {
	out := make([]*types.Rule, 0, len(rows))
	for _, row := range rows {
		r, err := row.rule()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// EnabledRules returns the enabled, undeleted rules of group in run order.
func (s *Rules) EnabledRules(ctx context.Context, group string) ([]*types.Rule, error) {
	var rows []ruleRow
	if err := s.q.Select(ctx, "list-enabled-rules", &rows, group, true, false); err != nil {
		return nil, fmt.Errorf("failed to list rules for group %s: %w", group, err)
	}
	rules, err := rulesFromRows(rows)
	if err != nil {
		return nil, err
	}
	types.SortRules(rules)
	return rules, nil
}

// ListRules returns every rule ordered by ID, optionally including deleted ones.
func (s *Rules) ListRules(ctx context.Context, includeDeleted bool) ([]*types.Rule, error) {
	var rows []ruleRow
	if err := s.q.Select(ctx, "list-rules", &rows); err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	rules, err := rulesFromRows(rows)
	if err != nil {
		return nil, err
	}
	if includeDeleted {
		return rules, nil
	}
	out := rules[:0]
	for _, r := range rules {
		if !r.Deleted {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetRule returns one rule or types.ErrRuleNotFound.
func (s *Rules) GetRule(ctx context.Context, id types.RuleID) (*types.Rule, error) {
	return getRule(ctx, s.q, id)
}

func getRule(ctx context.Context, q *db.Queries, id types.RuleID) (*types.Rule, error) {
	var row ruleRow
	if err := q.Get(ctx, "get-rule", &row, int64(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, types.ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to get rule %d: %w", id, err)
	}
	return row.rule()
}

// SaveRule inserts or updates r on behalf of actor. A rule with ID zero gets
// the next free ID; a rule whose ID is not stored yet is inserted under that
// ID. Updates require r.Version to match the stored version unless it is zero,
// in which case the stored version is taken as-is. On success r carries the
// new version and timestamps.
func (s *Rules) SaveRule(ctx context.Context, r *types.Rule, actor string) error {
	if r.Group == "" {
		r.Group = types.DefaultGroup
	}
	actions, err := encodeJSON(r.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}
	now := s.now().UTC()

	err = s.q.InTx(ctx, func(tx *db.Queries) error {
		existing, err := s.lookupForSave(ctx, tx, r)
		if err != nil {
			return err
		}

		if existing == nil {
			if _, err := tx.Exec(ctx, "insert-rule",
				int64(r.ID), r.Group, r.Description, r.Pattern, r.Comments, r.Enabled, r.Deleted,
				r.Hidden, r.Global, r.Throttled, r.Priority, actions, actor, now, now); err != nil {
				return fmt.Errorf("failed to insert rule %d: %w", r.ID, err)
			}
			r.Version = 1
			r.CreatedBy = actor
			r.CreatedAt = now
		} else {
			expect := r.Version
			if expect == 0 {
				expect = existing.Version
			}
			res, err := tx.Exec(ctx, "update-rule",
				r.Group, r.Description, r.Pattern, r.Comments, r.Enabled, r.Deleted, r.Hidden,
				r.Global, r.Throttled, r.Priority, actions, now, int64(r.ID), expect)
			if err != nil {
				return fmt.Errorf("failed to update rule %d: %w", r.ID, err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return fmt.Errorf("rule %d at version %d: %w", r.ID, expect, ErrVersionConflict)
			}
			r.Version = expect + 1
			r.CreatedBy = existing.CreatedBy
			r.CreatedAt = existing.CreatedAt
			r.HitCount = existing.HitCount
		}
		r.UpdatedAt = now

		if _, err := tx.Exec(ctx, "insert-rule-history",
			int64(r.ID), r.Version, r.Group, r.Description, r.Pattern, r.Comments, r.Enabled,
			r.Deleted, r.Hidden, r.Global, r.Priority, actions, actor, now); err != nil {
			return fmt.Errorf("failed to record history of rule %d: %w", r.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, fn := range s.onSave {
		if err := fn(ctx, r); err != nil {
			return fmt.Errorf("rule %d saved, post-save hook failed: %w", r.ID, err)
		}
	}
	return nil
}

// lookupForSave assigns an ID to new rules and returns the stored rule, if any.
func (s *Rules) lookupForSave(ctx context.Context, tx *db.Queries, r *types.Rule) (*types.Rule, error) {
	if r.ID == 0 {
		var next int64
		if err := tx.Get(ctx, "next-rule-id", &next); err != nil {
			return nil, fmt.Errorf("failed to allocate rule id: %w", err)
		}
		r.ID = types.RuleID(next)
		return nil, nil
	}
	existing, err := getRule(ctx, tx, r.ID)
	if errors.Is(err, types.ErrRuleNotFound) {
		return nil, nil
	}
	return existing, err
}

// DeleteRule soft-deletes a rule. Deleted rules keep their history and log
// entries but no longer run.
func (s *Rules) DeleteRule(ctx context.Context, id types.RuleID, actor string) error {
	r, err := s.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if r.Deleted {
		return nil
	}
	r.Deleted = true
	r.Enabled = false
	return s.SaveRule(ctx, r, actor)
}

// SetThrottled marks rules as throttled. Throttling is not versioned; it is
// flipped back by the next explicit save of the rule.
func (s *Rules) SetThrottled(ctx context.Context, ids []types.RuleID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.q.In(ctx, "set-rules-throttled", true, ruleIDArgs(ids)); err != nil {
		return fmt.Errorf("failed to throttle rules: %w", err)
	}
	return nil
}

// IncrementHitCount adds one to the hit count of each rule.
func (s *Rules) IncrementHitCount(ctx context.Context, ids []types.RuleID) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.q.In(ctx, "increment-hit-counts", ruleIDArgs(ids)); err != nil {
		return fmt.Errorf("failed to increment hit counts: %w", err)
	}
	return nil
}

func ruleIDArgs(ids []types.RuleID) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}

// RuleVersion is one historical revision of a rule.
type RuleVersion struct {
	types.Rule
	ChangedBy string
	ChangedAt time.Time
}

type historyRow struct {
	RuleID      int64     `db:"rule_id"`
	Version     int       `db:"version"`
	Group       string    `db:"rule_group"`
	Description string    `db:"description"`
	Pattern     string    `db:"pattern"`
	Comments    string    `db:"comments"`
	Enabled     bool      `db:"enabled"`
	Deleted     bool      `db:"deleted"`
	Hidden      bool      `db:"hidden"`
	Global      bool      `db:"global"`
	Priority    int       `db:"priority"`
	Actions     string    `db:"actions"`
	ChangedBy   string    `db:"changed_by"`
	ChangedAt   time.Time `db:"changed_at"`
}

// RuleHistory returns every version of a rule, oldest first.
func (s *Rules) RuleHistory(ctx context.Context, id types.RuleID) ([]RuleVersion, error) {
	var rows []historyRow
	if err := s.q.Select(ctx, "list-rule-history", &rows, int64(id)); err != nil {
		return nil, fmt.Errorf("failed to list history of rule %d: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, types.ErrRuleNotFound
	}
	out := make([]RuleVersion, 0, len(rows))
	for _, h := range rows {
		v := RuleVersion{
			Rule: types.Rule{
				ID:          types.RuleID(h.RuleID),
				Group:       h.Group,
				Description: h.Description,
				Pattern:     h.Pattern,
				Comments:    h.Comments,
				Enabled:     h.Enabled,
				Deleted:     h.Deleted,
				Hidden:      h.Hidden,
				Global:      h.Global,
				Priority:    h.Priority,
				Version:     h.Version,
				UpdatedAt:   h.ChangedAt,
			},
			ChangedBy: h.ChangedBy,
			ChangedAt: h.ChangedAt,
		}
		if err := decodeJSON(h.Actions, &v.Actions); err != nil {
			return nil, fmt.Errorf("rule %d version %d: invalid actions: %w", h.RuleID, h.Version, err)
		}
		out = append(out, v)
	}
	return out, nil
}
