package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/solatis/abusefilter/internal/consequence"
	"github.com/solatis/abusefilter/internal/core/db"
	"github.com/solatis/abusefilter/internal/types"
)

// Accounts is the SQL account state and mutation log.
//
// Updates of one account are serialised in-process by a per-user mutex and,
// on PostgreSQL, across processes by SELECT ... FOR UPDATE. SQLite runs with a
// single connection so its transactions are already exclusive.
type Accounts struct {
	q     *db.Queries
	now   func() time.Time
	locks *xsync.MapOf[int64, *sync.Mutex]
}

var (
	_ consequence.AccountMutator = (*Accounts)(nil)
	_ consequence.MutationLog    = (*Accounts)(nil)
)

// NewAccounts creates an account store. now defaults to time.Now.
func NewAccounts(q *db.Queries, now func() time.Time) *Accounts {
	if now == nil {
		now = time.Now
	}
	return &Accounts{
		q:     q,
		now:   now,
		locks: xsync.NewMapOf[int64, *sync.Mutex](),
	}
}

type accountRow struct {
	UserID                  int64        `db:"user_id"`
	Name                    string       `db:"name"`
	Groups                  string       `db:"user_groups"`
	Blocked                 bool         `db:"blocked"`
	BlockedBy               string       `db:"blocked_by"`
	BlockReason             string       `db:"block_reason"`
	BlockExpiry             sql.NullTime `db:"block_expiry"`
	AutopromoteBlockedUntil sql.NullTime `db:"autopromote_blocked_until"`
	Version                 int64        `db:"version"`
}

func (r accountRow) account() (types.Account, error) {
	a := types.Account{
		UserID:      r.UserID,
		Name:        r.Name,
		Blocked:     r.Blocked,
		BlockedBy:   r.BlockedBy,
		BlockReason: r.BlockReason,
		Version:     r.Version,
	}
	if r.BlockExpiry.Valid {
		a.BlockExpiry = r.BlockExpiry.Time
	}
	if r.AutopromoteBlockedUntil.Valid {
		a.AutopromoteBlockedUntil = r.AutopromoteBlockedUntil.Time
	}
	if err := decodeJSON(r.Groups, &a.Groups); err != nil {
		return a, fmt.Errorf("account %d: invalid groups: %w", r.UserID, err)
	}
	return a, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// GetAccount returns an account or types.ErrUserNotFound.
func (s *Accounts) GetAccount(ctx context.Context, userID int64) (types.Account, error) {
	return getAccount(ctx, s.q, "get-account", userID)
}

func getAccount(ctx context.Context, q *db.Queries, query string, userID int64) (types.Account, error) {
	var row accountRow
	if err := q.Get(ctx, query, &row, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, types.ErrUserNotFound
		}
		return types.Account{}, fmt.Errorf("failed to get account %d: %w", userID, err)
	}
	return row.account()
}

// PutAccount stores a, replacing any existing row.
func (s *Accounts) PutAccount(ctx context.Context, a types.Account) error {
	return putAccount(ctx, s.q, a)
}

func putAccount(ctx context.Context, q *db.Queries, a types.Account) error {
	groups := a.Groups
	if groups == nil {
		groups = []string{}
	}
	enc, err := encodeJSON(groups)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx, "upsert-account",
		a.UserID, a.Name, enc, a.Blocked, a.BlockedBy, a.BlockReason,
		nullTime(a.BlockExpiry), nullTime(a.AutopromoteBlockedUntil), a.Version); err != nil {
		return fmt.Errorf("failed to store account %d: %w", a.UserID, err)
	}
	return nil
}

// UpdateAccount applies fn to the current state of an account and stores the
// result with an incremented version. Unknown accounts start from their zero
// state. When fn fails, including with consequence.ErrNoChange, nothing is
// written and prior is returned as both images.
func (s *Accounts) UpdateAccount(ctx context.Context, userID int64, fn func(*types.Account) error) (types.Account, types.Account, error) {
	l, _ := s.locks.LoadOrCompute(userID, func() *sync.Mutex { return &sync.Mutex{} })
	l.Lock()
	defer l.Unlock()

	query := "get-account"
	if s.q.DriverName() == db.DriverPostgres {
		query = "get-account-for-update"
	}

	var prior, after types.Account
	err := s.q.InTx(ctx, func(tx *db.Queries) error {
		var err error
		prior, err = getAccount(ctx, tx, query, userID)
		if errors.Is(err, types.ErrUserNotFound) {
			prior, err = types.Account{UserID: userID}, nil
		}
		if err != nil {
			return err
		}
		after = prior.Clone()
		if err := fn(&after); err != nil {
			after = prior
			return err
		}
		after.UserID = userID
		after.Version = prior.Version + 1
		return putAccount(ctx, tx, after)
	})
	return prior, after, err
}

type mutationRow struct {
	ID       int64     `db:"id"`
	Kind     string    `db:"kind"`
	UserID   int64     `db:"user_id"`
	RuleIDs  string    `db:"rule_ids"`
	Prior    string    `db:"prior_state"`
	After    string    `db:"after_state"`
	At       time.Time `db:"created_at"`
	Reverted bool      `db:"reverted"`
}

func (r mutationRow) record() (types.MutationRecord, error) {
	rec := types.MutationRecord{
		ID:       r.ID,
		Kind:     types.ConsequenceKind(r.Kind),
		UserID:   r.UserID,
		At:       r.At,
		Reverted: r.Reverted,
	}
	if err := decodeJSON(r.RuleIDs, &rec.RuleIDs); err != nil {
		return rec, fmt.Errorf("mutation %d: invalid rule ids: %w", r.ID, err)
	}
	if err := decodeJSON(r.Prior, &rec.Prior); err != nil {
		return rec, fmt.Errorf("mutation %d: invalid prior state: %w", r.ID, err)
	}
	if err := decodeJSON(r.After, &rec.After); err != nil {
		return rec, fmt.Errorf("mutation %d: invalid after state: %w", r.ID, err)
	}
	return rec, nil
}

// RecordMutation persists rec and its rule links, setting rec.ID.
func (s *Accounts) RecordMutation(ctx context.Context, rec *types.MutationRecord) error {
	if rec.At.IsZero() {
		rec.At = s.now()
	}
	ruleIDs, err := encodeJSON(rec.RuleIDs)
	if err != nil {
		return err
	}
	prior, err := encodeJSON(rec.Prior)
	if err != nil {
		return err
	}
	after, err := encodeJSON(rec.After)
	if err != nil {
		return err
	}

	return s.q.InTx(ctx, func(tx *db.Queries) error {
		var id int64
		if err := tx.Get(ctx, "insert-mutation", &id,
			string(rec.Kind), rec.UserID, ruleIDs, prior, after, rec.At.UTC(), rec.Reverted); err != nil {
			return fmt.Errorf("failed to record %s mutation of user %d: %w", rec.Kind, rec.UserID, err)
		}
		for _, rid := range rec.RuleIDs {
			if _, err := tx.Exec(ctx, "insert-mutation-rule", id, int64(rid)); err != nil {
				return fmt.Errorf("failed to link mutation %d to rule %d: %w", id, rid, err)
			}
		}
		rec.ID = id
		return nil
	})
}

// Mutations returns records caused by ruleID in [from, to), oldest first.
func (s *Accounts) Mutations(ctx context.Context, ruleID types.RuleID, from, to time.Time) ([]types.MutationRecord, error) {
	var rows []mutationRow
	if err := s.q.Select(ctx, "list-mutations-for-rule", &rows, int64(ruleID), from.UTC(), to.UTC()); err != nil {
		return nil, fmt.Errorf("failed to list mutations of rule %d: %w", ruleID, err)
	}
	out := make([]types.MutationRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Accounts) MarkReverted(ctx context.Context, id int64) error {
	res, err := s.q.Exec(ctx, "mark-mutation-reverted", true, id)
	if err != nil {
		return fmt.Errorf("failed to mark mutation %d reverted: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return types.ErrLogNotFound
	}
	return nil
}
