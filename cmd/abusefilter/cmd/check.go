package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/solatis/abusefilter/internal/rules"
	"github.com/solatis/abusefilter/internal/store"
	"github.com/solatis/abusefilter/internal/vars"
)

var checkFile string

var checkCmd = &cobra.Command{
	Use:   "check [pattern]",
	Short: "Check the syntax of a rule pattern or a rule file",
	Long: `Check compiles a pattern given on the command line, or every rule in
the YAML file named by --file, and reports syntax errors and unknown
variables. Nothing is evaluated.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVarP(&checkFile, "file", "f", "", "rule file to check")
}

func runCheck(cmd *cobra.Command, args []string) error {
	switch {
	case checkFile != "" && len(args) > 0:
		return fmt.Errorf("pass either a pattern or --file, not both")
	case checkFile != "":
		return checkRuleFile(cmd, checkFile)
	case len(args) == 1:
		prog, err := checkPattern(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok (static cost %d)\n", prog.StaticCost)
		return nil
	default:
		return fmt.Errorf("pattern or --file required")
	}
}

func checkPattern(source string) (*rules.Program, error) {
	prog, err := rules.Compile(source)
	if err != nil {
		return nil, err
	}
	if err := rules.CheckVariables(prog, vars.IsKnown); err != nil {
		return nil, err
	}
	return prog, nil
}

func checkRuleFile(cmd *cobra.Command, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	parsed, err := store.ParseRuleFile(f)
	if err != nil {
		return err
	}
	failed := 0
	for _, r := range parsed {
		if _, err := checkPattern(r.Pattern); err != nil {
			failed++
			fmt.Fprintf(cmd.OutOrStdout(), "rule %d (%s): %v\n", r.ID, r.Description, err)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d rules failed to compile", failed, len(parsed))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d rules ok\n", len(parsed))
	return nil
}
