package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/solatis/abusefilter/internal/consequence"
	"github.com/solatis/abusefilter/internal/types"
)

var (
	revertFrom   string
	revertTo     string
	revertReason string
)

var revertCmd = &cobra.Command{
	Use:   "revert <rule-id>",
	Short: "Undo the blocks and group removals a rule applied",
	Long: `Revert undoes the account consequences a rule applied between --from
and --to (RFC 3339 timestamps). Effects that were changed by someone else
since are skipped and reported.`,
	Args: cobra.ExactArgs(1),
	RunE: runRevert,
}

func init() {
	rootCmd.AddCommand(revertCmd)
	revertCmd.Flags().StringVar(&revertFrom, "from", "", "start of the range (RFC 3339, required)")
	revertCmd.Flags().StringVar(&revertTo, "to", "", "end of the range (RFC 3339, defaults to now)")
	revertCmd.Flags().StringVar(&revertReason, "reason", "", "reason recorded on reverted blocks")
	_ = revertCmd.MarkFlagRequired("from")
}

func runRevert(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	ruleID, err := types.ParseRuleID(args[0])
	if err != nil {
		return err
	}
	from, err := time.Parse(time.RFC3339, revertFrom)
	if err != nil {
		return fmt.Errorf("invalid --from: %w", err)
	}
	to := time.Now()
	if revertTo != "" {
		if to, err = time.Parse(time.RFC3339, revertTo); err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
	}
	if !from.Before(to) {
		return fmt.Errorf("--from must be before --to")
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	reverter := consequence.NewReverter(a.store.Accounts, a.store.Accounts, a.logger)
	report, err := reverter.Revert(ctx, ruleID, from, to, revertReason)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, m := range report.Reverted {
		fmt.Fprintf(out, "reverted %s on user %d\n", m.Kind, m.UserID)
	}
	for _, s := range report.Skipped {
		fmt.Fprintf(out, "skipped %s on user %d: %s\n", s.Mutation.Kind, s.Mutation.UserID, s.Reason)
	}
	fmt.Fprintf(out, "%d reverted, %d skipped\n", len(report.Reverted), len(report.Skipped))
	return nil
}
