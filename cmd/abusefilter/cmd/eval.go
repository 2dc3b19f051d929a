package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/solatis/abusefilter/internal/types"
	"github.com/solatis/abusefilter/internal/vars"
)

var (
	evalVarsFile string
	evalLogID    string
)

var evalCmd = &cobra.Command{
	Use:   "eval <pattern>",
	Short: "Evaluate a pattern against sample variables or a logged match",
	Long: `Eval runs a pattern against the variables in a YAML or JSON file
(--vars) or against the variable dump of a match log entry (--log), with
the configured operation budget. Nothing is logged or applied.`,
	Args: cobra.ExactArgs(1),
	RunE: runEval,
}

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().StringVar(&evalVarsFile, "vars", "", "YAML or JSON file of variable values")
	evalCmd.Flags().StringVar(&evalLogID, "log", "", "match log entry whose variables to use")
}

func runEval(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if evalVarsFile != "" && evalLogID != "" {
		return fmt.Errorf("pass either --vars or --log, not both")
	}

	prog, err := checkPattern(args[0])
	if err != nil {
		return err
	}

	var dump map[string]types.Value
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if evalLogID != "" {
		dump, err = logDump(ctx, evalLogID)
	} else if evalVarsFile != "" {
		dump, err = loadVarsFile(evalVarsFile)
	}
	if err != nil {
		return err
	}

	_, evaluator := newEvaluator(cfg.Engine)
	out, err := evaluator.Evaluate(ctx, prog, vars.FromDump(dump), cfg.Engine.OperationBudget)
	if err != nil {
		return fmt.Errorf("evaluation failed after %d operations: %w", out.Ops, err)
	}

	value, err := json.Marshal(out.Value)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "matched: %t\nvalue: %s\noperations: %d\n", out.Matched(), value, out.Ops)
	return nil
}

func logDump(ctx context.Context, raw string) (map[string]types.Value, error) {
	id, err := types.ParseLogID(raw)
	if err != nil {
		return nil, err
	}
	a, err := openApp(ctx)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	entry, err := a.store.Logs.GetLog(ctx, id)
	if err != nil {
		return nil, err
	}
	return entry.VarDump, nil
}

// loadVarsFile reads variable values from YAML. JSON documents parse as
// YAML too.
func loadVarsFile(path string) (map[string]types.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	dump := make(map[string]types.Value, len(raw))
	for name, x := range raw {
		v, err := types.FromNative(x)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", name, err)
		}
		dump[name] = v
	}
	return dump, nil
}
