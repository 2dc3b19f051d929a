package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/abusefilter/internal/store"
)

var importActor string

var importCmd = &cobra.Command{
	Use:   "import <rules.yaml>",
	Short: "Create or update rules from a YAML file",
	Long: `Import saves every rule in the file. Rules with an id update the
existing rule, or create it under that id; rules without one get a new id.
Import stops at the first rule whose pattern fails to compile.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVar(&importActor, "actor", "import", "name recorded in rule history")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()
	parsed, err := store.ParseRuleFile(f)
	if err != nil {
		return err
	}

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if _, err := a.backends(); err != nil {
		return err
	}

	n, err := a.store.Rules.Import(ctx, parsed, importActor, func(pattern string) error {
		_, err := checkPattern(pattern)
		return err
	})
	if err != nil {
		return err
	}
	a.logger.Info("rules imported", "count", n, "file", args[0], "actor", importActor)
	fmt.Fprintf(cmd.OutOrStdout(), "%d rules imported\n", n)
	return nil
}
