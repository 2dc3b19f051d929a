package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/abusefilter/internal/consequence"
	"github.com/solatis/abusefilter/internal/core/db"
	"github.com/solatis/abusefilter/internal/types"
	"github.com/solatis/abusefilter/internal/vars"
)

var ruleColumns = []string{
	"id", "rule_group", "description", "pattern", "comments", "enabled", "deleted", "hidden", "global",
	"throttled", "priority", "actions", "hit_count", "version", "created_by", "created_at", "updated_at",
}

func newMockQueries(t *testing.T) (*db.Queries, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	q, err := db.LoadQueries(sqlx.NewDb(mockDB, db.DriverPostgres))
	require.NoError(t, err)
	return q, mock
}

func fixedNow() time.Time {
	return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestRules_EnabledRules(t *testing.T) {
	q, mock := newMockQueries(t)
	s := NewRules(q, fixedNow)
	now := fixedNow()

	rows := sqlmock.NewRows(ruleColumns).
		AddRow(3, "default", "local", "true", "", true, false, false, false, false, 0, `{"tag":["spam"]}`, 0, 1, "admin", now, now).
		AddRow(8, "default", "global", "false", "", true, false, false, true, false, 5, `{"disallow":[]}`, 2, 4, "admin", now, now)
	mock.ExpectQuery(`SELECT .+ FROM rules WHERE rule_group = \$1 AND enabled = \$2 AND deleted = \$3`).
		WithArgs("default", true, false).
		WillReturnRows(rows)

	rules, err := s.EnabledRules(context.Background(), "default")
	require.NoError(t, err)
	require.Len(t, rules, 2)

	assert.Equal(t, types.RuleID(8), rules[0].ID, "global rules run first")
	assert.Equal(t, types.RuleID(3), rules[1].ID)
	assert.Equal(t, []string{"spam"}, rules[1].Actions[types.ConsequenceTag])
	assert.Contains(t, rules[0].Actions, types.ConsequenceDisallow)
	assert.Equal(t, 4, rules[0].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRules_GetRuleNotFound(t *testing.T) {
	q, mock := newMockQueries(t)
	s := NewRules(q, fixedNow)

	mock.ExpectQuery(`SELECT .+ FROM rules WHERE id = \$1`).
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows(ruleColumns))

	_, err := s.GetRule(context.Background(), 99)
	assert.ErrorIs(t, err, types.ErrRuleNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRules_SaveNewRule(t *testing.T) {
	q, mock := newMockQueries(t)
	s := NewRules(q, fixedNow)
	var saved []types.RuleID
	s.OnSave(func(ctx context.Context, r *types.Rule) error {
		saved = append(saved, r.ID)
		return nil
	})

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(id\), 0\) \+ 1 FROM rules`).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(7))
	mock.ExpectExec(`INSERT INTO rules`).
		WithArgs(7, "default", "spam links", `added_links contains "spam"`, "", true, false,
			false, false, false, 0, `{"disallow":[]}`, "admin", fixedNow(), fixedNow()).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec(`INSERT INTO rule_history`).
		WithArgs(7, 1, "default", "spam links", `added_links contains "spam"`, "", true,
			false, false, false, 0, `{"disallow":[]}`, "admin", fixedNow()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	r := &types.Rule{
		Description: "spam links",
		Pattern:     `added_links contains "spam"`,
		Enabled:     true,
		Actions:     types.Consequences{types.ConsequenceDisallow: {}},
	}
	err := s.SaveRule(context.Background(), r, "admin")
	require.NoError(t, err)

	assert.Equal(t, types.RuleID(7), r.ID)
	assert.Equal(t, 1, r.Version)
	assert.Equal(t, types.DefaultGroup, r.Group)
	assert.Equal(t, fixedNow(), r.CreatedAt)
	assert.Equal(t, []types.RuleID{7}, saved)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRules_SaveVersionConflict(t *testing.T) {
	q, mock := newMockQueries(t)
	s := NewRules(q, fixedNow)
	now := fixedNow()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM rules WHERE id = \$1`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows(ruleColumns).
			AddRow(5, "default", "", "true", "", true, false, false, false, false, 0, `{}`, 0, 3, "admin", now, now))
	mock.ExpectExec(`UPDATE rules`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	s.OnSave(func(ctx context.Context, r *types.Rule) error {
		t.Errorf("OnSave hook ran for rule %d after a failed save", r.ID)
		return nil
	})

	r := &types.Rule{ID: 5, Pattern: "false", Version: 2}
	err := s.SaveRule(context.Background(), r, "admin")
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRules_SetThrottled(t *testing.T) {
	q, mock := newMockQueries(t)
	s := NewRules(q, fixedNow)

	mock.ExpectExec(`UPDATE rules SET throttled = \$1 WHERE id IN \(\$2, \$3\)`).
		WithArgs(true, 4, 9).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, s.SetThrottled(context.Background(), []types.RuleID{4, 9}))
	require.NoError(t, s.SetThrottled(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRules_IncrementHitCount(t *testing.T) {
	q, mock := newMockQueries(t)
	s := NewRules(q, fixedNow)

	mock.ExpectExec(`UPDATE rules SET hit_count = hit_count \+ 1 WHERE id IN \(\$1\)`).
		WithArgs(12).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.IncrementHitCount(context.Background(), []types.RuleID{12}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogs_Record(t *testing.T) {
	q, mock := newMockQueries(t)
	s := NewLogs(q)

	entries := []types.LogEntry{
		{ID: types.NewLogID(), RuleID: 1, Group: "default", Action: types.ActionEdit, ActorName: "Mallory",
			VarDump: map[string]types.Value{"user_name": types.String("Mallory")}, Consequences: []string{"disallow"},
			Timestamp: fixedNow()},
		{ID: types.NewLogID(), RuleID: 2, Group: "default", Action: types.ActionEdit, ActorName: "Mallory",
			Timestamp: fixedNow()},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO match_log`).
		WithArgs(string(entries[0].ID), 1, "default", "edit", 0, "Mallory", 0, "",
			`{"user_name":"Mallory"}`, `["disallow"]`, fixedNow()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO match_log`).
		WithArgs(string(entries[1].ID), 2, "default", "edit", 0, "Mallory", 0, "",
			`null`, `null`, fixedNow()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Record(context.Background(), entries))
	require.NoError(t, s.Record(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogs_RecordRollsBack(t *testing.T) {
	q, mock := newMockQueries(t)
	s := NewLogs(q)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO match_log`).WillReturnError(assert.AnError)
	mock.ExpectRollback()

	err := s.Record(context.Background(), []types.LogEntry{{ID: types.NewLogID(), RuleID: 1}})
	assert.ErrorIs(t, err, assert.AnError)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogs_GetLog(t *testing.T) {
	q, mock := newMockQueries(t)
	s := NewLogs(q)
	id := types.NewLogID()

	cols := []string{"id", "rule_id", "rule_group", "action", "actor_id", "actor_name", "namespace",
		"title", "var_dump", "consequences", "created_at"}
	mock.ExpectQuery(`SELECT .+ FROM match_log WHERE id = \$1`).
		WithArgs(string(id)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(string(id), 4, "default", "edit", 10, "Mallory", 0, "Sandbox",
				`{"added_lines":["a","b"]}`, `["warn"]`, fixedNow()))
	mock.ExpectQuery(`SELECT .+ FROM match_log WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(cols))

	e, err := s.GetLog(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.RuleID(4), e.RuleID)
	assert.Equal(t, []string{"warn"}, e.Consequences)
	assert.True(t, e.VarDump["added_lines"].Equal(types.Strings([]string{"a", "b"})))

	_, err = s.GetLog(context.Background(), types.NewLogID())
	assert.ErrorIs(t, err, types.ErrLogNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogs_RenameUser(t *testing.T) {
	q, mock := newMockQueries(t)
	s := NewLogs(q)

	mock.ExpectExec(`UPDATE match_log SET actor_name = \$1 WHERE actor_name = \$2`).
		WithArgs("NewName", "OldName").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.RenameUser(context.Background(), "OldName", "NewName")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var accountColumns = []string{"user_id", "name", "user_groups", "blocked", "blocked_by", "block_reason",
	"block_expiry", "autopromote_blocked_until", "version"}

func TestAccounts_UpdateNewAccount(t *testing.T) {
	q, mock := newMockQueries(t)
	s := NewAccounts(q, fixedNow)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE user_id = \$1 FOR UPDATE`).
		WithArgs(42).
		WillReturnRows(sqlmock.NewRows(accountColumns))
	mock.ExpectExec(`INSERT INTO accounts`).
		WithArgs(42, "", `[]`, true, types.FilterUser, "spam", nil, nil, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	prior, after, err := s.UpdateAccount(context.Background(), 42, func(a *types.Account) error {
		a.Blocked = true
		a.BlockedBy = types.FilterUser
		a.BlockReason = "spam"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), prior.Version)
	assert.False(t, prior.Blocked)
	assert.Equal(t, int64(1), after.Version)
	assert.True(t, after.Blocked)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccounts_UpdateNoChange(t *testing.T) {
	q, mock := newMockQueries(t)
	s := NewAccounts(q, fixedNow)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM accounts WHERE user_id = \$1 FOR UPDATE`).
		WithArgs(7).
		WillReturnRows(sqlmock.NewRows(accountColumns).
			AddRow(7, "Alice", `["autoconfirmed"]`, false, "", "", nil, nil, 3))
	mock.ExpectRollback()

	prior, after, err := s.UpdateAccount(context.Background(), 7, func(a *types.Account) error {
		return consequence.ErrNoChange
	})
	assert.ErrorIs(t, err, consequence.ErrNoChange)
	assert.Equal(t, []string{"autoconfirmed"}, prior.Groups)
	assert.Equal(t, prior, after)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccounts_RecordMutation(t *testing.T) {
	q, mock := newMockQueries(t)
	s := NewAccounts(q, fixedNow)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO account_mutations .+ RETURNING id`).
		WithArgs("degroup", 7, `[3,5]`, sqlmock.AnyArg(), sqlmock.AnyArg(), fixedNow(), false).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(11))
	mock.ExpectExec(`INSERT INTO account_mutation_rules`).WithArgs(11, 3).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO account_mutation_rules`).WithArgs(11, 5).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec := &types.MutationRecord{
		Kind:    types.ConsequenceDegroup,
		UserID:  7,
		RuleIDs: []types.RuleID{3, 5},
		Prior:   types.Account{UserID: 7, Groups: []string{"sysop"}},
		After:   types.Account{UserID: 7},
	}
	require.NoError(t, s.RecordMutation(context.Background(), rec))
	assert.Equal(t, int64(11), rec.ID)
	assert.Equal(t, fixedNow(), rec.At)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccounts_MarkRevertedUnknown(t *testing.T) {
	q, mock := newMockQueries(t)
	s := NewAccounts(q, fixedNow)

	mock.ExpectExec(`UPDATE account_mutations SET reverted = \$1 WHERE id = \$2`).
		WithArgs(true, 404).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, s.MarkReverted(context.Background(), 404), types.ErrLogNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevisions_NotFound(t *testing.T) {
	q, mock := newMockQueries(t)
	s := NewRevisions(q)

	mock.ExpectQuery(`SELECT text FROM revisions WHERE id = \$1`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{"text"}))
	mock.ExpectQuery(`SELECT text FROM revisions WHERE id = \$1`).
		WithArgs(6).
		WillReturnRows(sqlmock.NewRows([]string{"text"}).AddRow("old text"))

	_, err := s.RevisionText(context.Background(), 5)
	assert.ErrorIs(t, err, vars.ErrRevisionNotFound)

	text, err := s.RevisionText(context.Background(), 6)
	require.NoError(t, err)
	assert.Equal(t, "old text", text)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseRuleFile(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{
			name: "valid",
			input: `
rules:
  - id: 12
    description: Link spam
    pattern: 'added_links contains "spam.example"'
    actions:
      disallow: []
      tag: [spam]
  - description: Page blanking
    pattern: 'new_size < 50'
    enabled: false
`,
			want: 2,
		},
		{name: "empty", input: "", want: 0},
		{name: "unknown field", input: "rules:\n  - pattern: 'true'\n    severity: high\n", wantErr: true},
		{name: "missing pattern", input: "rules:\n  - description: nothing\n", wantErr: true},
		{name: "duplicate id", input: "rules:\n  - id: 1\n    pattern: 'true'\n  - id: 1\n    pattern: 'false'\n", wantErr: true},
		{name: "negative id", input: "rules:\n  - id: -1\n    pattern: 'true'\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules, err := ParseRuleFile(strings.NewReader(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseRuleFile() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseRuleFile() error = %v, want nil", err)
			}
			if len(rules) != tt.want {
				t.Errorf("ParseRuleFile() returned %d rules, want %d", len(rules), tt.want)
			}
		})
	}
}

func TestParseRuleFile_Defaults(t *testing.T) {
	rules, err := ParseRuleFile(strings.NewReader("rules:\n  - pattern: 'true'\n    actions:\n      warn:\n"))
	require.NoError(t, err)
	require.Len(t, rules, 1)

	assert.True(t, rules[0].Enabled)
	assert.Equal(t, types.RuleID(0), rules[0].ID)
	assert.Equal(t, []string{}, rules[0].Actions[types.ConsequenceWarn])
}
