package consequence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/solatis/abusefilter/internal/types"
)

// ErrNoChange is returned by an update function that leaves the account as
// it was; the store then writes nothing.
var ErrNoChange = errors.New("account unchanged")

// AccountMutator performs read-modify-write updates of one account with
// exclusive access to it for the duration of fn. fn sees the latest
// committed state, so concurrent updates of the same account never lose
// each other's writes. A missing account is passed to fn as a zero Account
// with UserID set.
type AccountMutator interface {
	UpdateAccount(ctx context.Context, userID int64, fn func(*types.Account) error) (prior, after types.Account, err error)
}

// MutationLog persists the mutation records used to revert consequences.
type MutationLog interface {
	RecordMutation(ctx context.Context, rec *types.MutationRecord) error
	Mutations(ctx context.Context, ruleID types.RuleID, from, to time.Time) ([]types.MutationRecord, error)
	MarkReverted(ctx context.Context, id int64) error
}

// MemAccounts is an in-memory AccountMutator and MutationLog.
type MemAccounts struct {
	mu       sync.Mutex
	accounts map[int64]types.Account
	records  []types.MutationRecord

	// per-user mutexes serialising UpdateAccount
	locks *xsync.MapOf[int64, *sync.Mutex]
}

var (
	_ AccountMutator = (*MemAccounts)(nil)
	_ MutationLog    = (*MemAccounts)(nil)
)

func NewMemAccounts() *MemAccounts {
	return &MemAccounts{
		accounts: make(map[int64]types.Account),
		locks:    xsync.NewMapOf[int64, *sync.Mutex](),
	}
}

// Put stores an account, replacing any existing one.
func (m *MemAccounts) Put(a types.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.UserID] = a.Clone()
}

// Get returns a copy of an account.
func (m *MemAccounts) Get(userID int64) (types.Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	return a.Clone(), ok
}

func (m *MemAccounts) UpdateAccount(ctx context.Context, userID int64, fn func(*types.Account) error) (types.Account, types.Account, error) {
	l, _ := m.locks.LoadOrCompute(userID, func() *sync.Mutex { return &sync.Mutex{} })
	l.Lock()
	defer l.Unlock()

	prior, ok := m.Get(userID)
	if !ok {
		prior = types.Account{UserID: userID}
	}
	after := prior.Clone()
	if err := fn(&after); err != nil {
		return prior, prior, err
	}
	after.UserID = userID
	after.Version = prior.Version + 1
	m.Put(after)
	return prior, after, nil
}

func (m *MemAccounts) RecordMutation(ctx context.Context, rec *types.MutationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.records) + 1)
	m.records = append(m.records, *rec)
	return nil
}

// Mutations returns records caused by ruleID in [from, to), oldest first.
func (m *MemAccounts) Mutations(ctx context.Context, ruleID types.RuleID, from, to time.Time) ([]types.MutationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.MutationRecord
	for _, r := range m.records {
		if r.At.Before(from) || !r.At.Before(to) {
			continue
		}
		for _, id := range r.RuleIDs {
			if id == ruleID {
				out = append(out, r)
				break
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (m *MemAccounts) MarkReverted(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id <= 0 || int(id) > len(m.records) {
		return types.ErrLogNotFound
	}
	m.records[id-1].Reverted = true
	return nil
}
