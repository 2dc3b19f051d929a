package filter

import (
	"context"

	"github.com/solatis/abusefilter/internal/rules"
	"github.com/solatis/abusefilter/internal/types"
	"github.com/solatis/abusefilter/internal/vars"
)

// CheckSyntax compiles source and checks that every variable it reads is
// known. It is what a rule editor calls before saving.
func (r *Runner) CheckSyntax(source string) (*rules.Program, error) {
	prog, err := r.compiler.Compile(source)
	if err != nil {
		return nil, err
	}
	if err := rules.CheckVariables(prog, vars.IsKnown); err != nil {
		return nil, err
	}
	return prog, nil
}

// ExamineResult is the outcome of evaluating a rule against given variables.
type ExamineResult struct {
	Matched bool
	Value   types.Value
	Ops     int
}

// Examine evaluates source against a fixed set of variables, such as the
// dump of a logged match or sample input from a rule editor. Nothing is
// logged or applied.
func (r *Runner) Examine(ctx context.Context, source string, dump map[string]types.Value) (*ExamineResult, error) {
	prog, err := r.compiler.Compile(source)
	if err != nil {
		return nil, err
	}
	out, err := r.evaluator.Evaluate(ctx, prog, vars.FromDump(dump), r.cfg.OperationBudget)
	if err != nil {
		return nil, err
	}
	return &ExamineResult{Matched: out.Matched(), Value: out.Value, Ops: out.Ops}, nil
}
