package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/solatis/abusefilter/internal/core/db"
	"github.com/solatis/abusefilter/internal/store"
	"github.com/solatis/abusefilter/internal/types"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute(%v) error = %v, want nil", args, err)
	}
	return out.String()
}

func TestRenameUserRewritesMatchLog(t *testing.T) {
	ctx := context.Background()
	url := "sqlite://" + filepath.Join(t.TempDir(), "abusefilter.db")
	execute(t, "--db-url", url, "--log-level", "error", "migrate", "up")

	conn, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("Open() error = %v, want nil", err)
	}
	defer conn.Close()
	q, err := db.LoadQueries(conn)
	if err != nil {
		t.Fatalf("LoadQueries() error = %v, want nil", err)
	}
	st := store.New(q, nil)

	entry := types.LogEntry{
		ID:        types.NewLogID(),
		RuleID:    1,
		Group:     types.DefaultGroup,
		Action:    types.ActionEdit,
		ActorName: "Mallory",
		Timestamp: time.Now().UTC(),
	}
	if err := st.Logs.Record(ctx, []types.LogEntry{entry}); err != nil {
		t.Fatalf("Record() error = %v, want nil", err)
	}

	out := execute(t, "--db-url", url, "--log-level", "error", "rename-user", "Mallory", "Trent")
	if !strings.Contains(out, "1 log entries updated") {
		t.Errorf("rename-user output = %q, want 1 entry updated", out)
	}

	got, err := st.Logs.GetLog(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetLog() error = %v, want nil", err)
	}
	if got.ActorName != "Trent" {
		t.Errorf("ActorName = %q, want %q", got.ActorName, "Trent")
	}
}
