package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	embeddedmigrations "github.com/solatis/abusefilter/migrations"
)

// MigrationStatus represents the state of a single migration.
type MigrationStatus struct {
	ID          string     `db:"migration_id"`
	Checksum    string     `db:"checksum"`
	Applied     bool       `db:"-"`
	AppliedAt   *time.Time `db:"applied_at"`
	ExecutionMs int64      `db:"execution_ms"`
}

// migration is one embedded schema file.
type migration struct {
	ID       string
	Checksum string
	SQL      string
}

// MigrateUp applies every pending embedded migration in filename order.
// Each migration and its bookkeeping row commit in one transaction. It
// refuses to run when an applied migration no longer matches its embedded
// file or has no embedded file at all.
func MigrateUp(ctx context.Context, db *sqlx.DB) error {
	embedded, applied, err := loadMigrations(ctx, db)
	if err != nil {
		return err
	}
	if err := checkApplied(embedded, applied); err != nil {
		return fmt.Errorf("migration checksum validation failed: %w", err)
	}

	for _, m := range embedded {
		if _, ok := applied[m.ID]; ok {
			continue
		}
		if err := runMigration(ctx, db, m); err != nil {
			return err
		}
	}
	return nil
}

// MigrateStatus lists every embedded migration with its applied state.
func MigrateStatus(ctx context.Context, db *sqlx.DB) ([]MigrationStatus, error) {
	embedded, applied, err := loadMigrations(ctx, db)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(embedded))
	for _, m := range embedded {
		s, ok := applied[m.ID]
		if !ok {
			s = MigrationStatus{ID: m.ID, Checksum: m.Checksum}
		}
		statuses = append(statuses, s)
	}
	return statuses, nil
}

// loadMigrations reads the embedded migrations for the connection's driver
// and the rows already recorded in the migrations table, creating the table
// on first use.
func loadMigrations(ctx context.Context, db *sqlx.DB) ([]migration, map[string]MigrationStatus, error) {
	var (
		fsys fs.FS
		dir  string
	)
	switch db.DriverName() {
	case DriverSQLite:
		fsys, dir = embeddedmigrations.SqliteMigrations, "sqlite"
	case DriverPostgres:
		fsys, dir = embeddedmigrations.PostgresMigrations, "postgres"
	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", db.DriverName())
	}

	embedded, err := readMigrations(fsys, dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse migrations: %w", err)
	}

	// TIMESTAMP lets go-sqlite3 scan applied_at into time.Time as lib/pq does
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			migration_id TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL,
			execution_ms INTEGER NOT NULL
		)
	`); err != nil {
		return nil, nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var rows []MigrationStatus
	if err := db.SelectContext(ctx, &rows,
		"SELECT migration_id, checksum, applied_at, execution_ms FROM migrations"); err != nil {
		return nil, nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	applied := make(map[string]MigrationStatus, len(rows))
	for _, r := range rows {
		r.Applied = true
		applied[r.ID] = r
	}
	return embedded, applied, nil
}

// readMigrations returns the .sql files under dir sorted by name, each with
// the sha256 of its content.
func readMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	var out []migration
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(content)
		out = append(out, migration{ID: e.Name(), Checksum: hex.EncodeToString(sum[:]), SQL: string(content)})
	}
	slices.SortFunc(out, func(a, b migration) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// checkApplied reports an applied migration whose embedded file is gone
// or was edited after it ran.
func checkApplied(embedded []migration, applied map[string]MigrationStatus) error {
	want := make(map[string]string, len(embedded))
	for _, m := range embedded {
		want[m.ID] = m.Checksum
	}
	for id, s := range applied {
		sum, ok := want[id]
		if !ok {
			return fmt.Errorf("migration %s exists in database but not in embedded files", id)
		}
		if sum != s.Checksum {
			return fmt.Errorf("checksum mismatch for migration %s: expected %s, got %s", id, sum, s.Checksum)
		}
	}
	return nil
}

// runMigration executes m statement by statement and records it, all in
// one transaction.
func runMigration(ctx context.Context, db *sqlx.DB, m migration) error {
	start := time.Now()
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", m.ID, err)
	}
	defer tx.Rollback()

	// lib/pq runs one statement per Exec
	for _, stmt := range splitStatements(m.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.ID, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		tx.Rebind("INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)"),
		m.ID, m.Checksum, time.Now().UTC(), time.Since(start).Milliseconds(),
	); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", m.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", m.ID, err)
	}
	return nil
}

// splitStatements splits a migration on semicolons, dropping comment lines
// and empty statements.
func splitStatements(sqlText string) []string {
	var lines []string
	for _, line := range strings.Split(sqlText, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}
	var out []string
	for _, stmt := range strings.Split(strings.Join(lines, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
