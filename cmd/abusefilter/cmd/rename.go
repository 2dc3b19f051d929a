package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var renameUserCmd = &cobra.Command{
	Use:   "rename-user <old-name> <new-name>",
	Short: "Carry an account rename over to the match log",
	Long: `Rename-user rewrites the actor name of every match log entry recorded
under the old account name, so past matches stay attributed to the account
after it is renamed.`,
	Args: cobra.ExactArgs(2),
	RunE: runRenameUser,
}

func init() {
	rootCmd.AddCommand(renameUserCmd)
}

func runRenameUser(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	oldName, newName := args[0], args[1]
	if oldName == newName {
		return fmt.Errorf("old and new names are the same")
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.store.Logs.RenameUser(ctx, oldName, newName)
	if err != nil {
		return err
	}
	a.logger.Info("renamed user in match log", "from", oldName, "to", newName, "entries", n)
	fmt.Fprintf(cmd.OutOrStdout(), "%d log entries updated\n", n)
	return nil
}
