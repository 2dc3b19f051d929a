package consequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/solatis/abusefilter/internal/types"
)

// RevertSkip records a mutation that was left in place.
type RevertSkip struct {
	Mutation types.MutationRecord
	Reason   string
}

type RevertReport struct {
	Reverted []types.MutationRecord
	Skipped  []RevertSkip
}

// Reverter undoes the destructive consequences of a rule over a time range.
// Only effects that are still in place are undone: a block is lifted only
// if the filter placed it, removed groups are re-added, and an autopromote
// block is cleared only if nobody has changed it since.
type Reverter struct {
	accounts  AccountMutator
	mutations MutationLog
	logger    *slog.Logger
}

func NewReverter(accounts AccountMutator, mutations MutationLog, logger *slog.Logger) *Reverter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reverter{accounts: accounts, mutations: mutations, logger: logger.With("component", "revert")}
}

func (r *Reverter) Revert(ctx context.Context, ruleID types.RuleID, from, to time.Time, reason string) (*RevertReport, error) {
	recs, err := r.mutations.Mutations(ctx, ruleID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load mutations of rule %s: %w", ruleID, err)
	}
	report := &RevertReport{}
	for _, rec := range recs {
		if rec.Reverted {
			report.Skipped = append(report.Skipped, RevertSkip{Mutation: rec, Reason: "already reverted"})
			continue
		}
		_, _, err := r.accounts.UpdateAccount(ctx, rec.UserID, func(a *types.Account) error {
			return undo(rec, a, reason)
		})
		if errors.Is(err, ErrNoChange) {
			report.Skipped = append(report.Skipped, RevertSkip{Mutation: rec, Reason: "changed since"})
			continue
		} else if err != nil {
			return report, fmt.Errorf("revert %s of user %d: %w", rec.Kind, rec.UserID, err)
		}
		if err := r.mutations.MarkReverted(ctx, rec.ID); err != nil {
			return report, err
		}
		rec.Reverted = true
		report.Reverted = append(report.Reverted, rec)
		r.logger.Info("reverted consequence", "rule", ruleID, "kind", rec.Kind, "user", rec.UserID, "reason", reason)
	}
	return report, nil
}

func undo(rec types.MutationRecord, a *types.Account, reason string) error {
	switch rec.Kind {
	case types.ConsequenceBlock:
		if !a.Blocked || a.BlockedBy != types.FilterUser {
			return ErrNoChange
		}
		a.Blocked = false
		a.BlockedBy = ""
		a.BlockReason = reason
		a.BlockExpiry = time.Time{}
	case types.ConsequenceDegroup:
		changed := false
		for _, g := range rec.Prior.Groups {
			if !slices.Contains(a.Groups, g) {
				a.Groups = append(a.Groups, g)
				changed = true
			}
		}
		if !changed {
			return ErrNoChange
		}
	case types.ConsequenceBlockAutopromote:
		if !a.AutopromoteBlockedUntil.Equal(rec.After.AutopromoteBlockedUntil) {
			return ErrNoChange
		}
		a.AutopromoteBlockedUntil = time.Time{}
	default:
		return ErrNoChange
	}
	return nil
}
