package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/abusefilter/internal/core/db"
	"github.com/solatis/abusefilter/internal/vars"
)

// Revisions serves stored page text to the variable store.
type Revisions struct {
	q *db.Queries
}

var _ vars.RevisionLookup = (*Revisions)(nil)

func NewRevisions(q *db.Queries) *Revisions {
	return &Revisions{q: q}
}

func (s *Revisions) RevisionText(ctx context.Context, revID int64) (string, error) {
	var text string
	if err := s.q.Get(ctx, "get-revision-text", &text, revID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", vars.ErrRevisionNotFound
		}
		return "", fmt.Errorf("failed to load revision %d: %w", revID, err)
	}
	return text, nil
}

// PutRevision stores the text of a revision.
func (s *Revisions) PutRevision(ctx context.Context, revID, pageID int64, text string, at time.Time) error {
	if _, err := s.q.Exec(ctx, "insert-revision", revID, pageID, text, at.UTC()); err != nil {
		return fmt.Errorf("failed to store revision %d: %w", revID, err)
	}
	return nil
}
