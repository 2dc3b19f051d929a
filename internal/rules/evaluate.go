// internal/rules/evaluate.go
package rules

import (
	"context"
	"time"

	"github.com/solatis/abusefilter/internal/types"
)

/*
 * Rule evaluation.
 *
 * Evaluate walks a Program's AST against a variable source. Evaluation is
 * synchronous: the only blocking step is a variable read, which may trigger
 * one lazy computation in the store. The context is handed to those reads
 * and is not otherwise consulted; an evaluation ends by completing, by an
 * error, or by exhausting its budget.
 *
 * Evaluation order is left to right. '&' and '|' evaluate their right
 * operand only when the left operand does not decide the result, so a
 * guard such as `user_editcount < 10 & expensive_var =~ "x"` never touches
 * expensive_var for established users and never pays for it.
 *
 * Errors abort the evaluation and are returned unchanged:
 *   - *types.UnsetVariableError and *types.ComputationError from variable reads
 *   - *types.TypeError from operators and builtins
 *   - *types.BudgetExceededError when the budget runs out or a regex times out
 */

// Variables is the read side of a variable store.
type Variables interface {
	Get(ctx context.Context, name string) (types.Value, error)
}

// Evaluator evaluates compiled programs. It is safe for concurrent use.
type Evaluator struct {
	patterns     *PatternCache
	regexTimeout time.Duration
	matchSlots   chan struct{}
}

// NewEvaluator creates an evaluator. regexTimeout bounds each pattern match;
// zero disables the bound.
func NewEvaluator(patterns *PatternCache, regexTimeout time.Duration) *Evaluator {
	if patterns == nil {
		patterns = NewPatternCache(0)
	}
	return &Evaluator{
		patterns:     patterns,
		regexTimeout: regexTimeout,
		matchSlots:   make(chan struct{}, maxBackgroundMatches),
	}
}

// Outcome is the result of a successful evaluation.
type Outcome struct {
	Value types.Value
	Ops   int
}

// Matched reports the truthiness of the result.
func (o Outcome) Matched() bool { return truthy(o.Value) }

// Evaluate runs prog with at most budget units of work. On error the
// returned Outcome still reports the work done up to the failure.
func (e *Evaluator) Evaluate(ctx context.Context, prog *Program, vars Variables, budget int) (Outcome, error) {
	s := &state{ctx: ctx, ev: e, vars: vars, budget: budget}
	v, err := s.eval(prog.Root)
	if err != nil {
		return Outcome{Ops: s.used}, err
	}
	return Outcome{Value: v, Ops: s.used}, nil
}

// state is the per-evaluation context. It is never shared between goroutines.
type state struct {
	ctx    context.Context
	ev     *Evaluator
	vars   Variables
	budget int
	used   int
}

func (s *state) charge(n int) error {
	if s.used+n > s.budget {
		s.used = s.budget
		return &types.BudgetExceededError{Budget: s.budget, Used: s.budget + n, Reason: types.BudgetReasonOperations}
	}
	s.used += n
	return nil
}

func (s *state) eval(n Node) (types.Value, error) {
	if err := s.charge(CostNode); err != nil {
		return types.Null, err
	}
	switch t := n.(type) {
	case *Literal:
		return t.Value, nil
	case *VarRef:
		return s.vars.Get(s.ctx, t.Name)
	case *Unary:
		return s.evalUnary(t)
	case *Binary:
		return s.evalBinary(t)
	case *Call:
		return s.evalCall(t)
	case *ListLit:
		items := make([]types.Value, len(t.Items))
		for i, it := range t.Items {
			v, err := s.eval(it)
			if err != nil {
				return types.Null, err
			}
			items[i] = v
		}
		return types.List(items...), nil
	case *Index:
		return s.evalIndex(t)
	}
	return types.Null, &types.TypeError{Position: n.Pos(), Message: "unknown node"}
}

func (s *state) evalUnary(n *Unary) (types.Value, error) {
	x, err := s.eval(n.X)
	if err != nil {
		return types.Null, err
	}
	switch n.Op {
	case OpNot:
		return types.Bool(!truthy(x)), nil
	case OpNeg:
		f, err := toNumber(x, n.At)
		if err != nil {
			return types.Null, err
		}
		return types.Number(-f), nil
	default:
		f, err := toNumber(x, n.At)
		if err != nil {
			return types.Null, err
		}
		return types.Number(f), nil
	}
}

func (s *state) evalBinary(n *Binary) (types.Value, error) {
	l, err := s.eval(n.L)
	if err != nil {
		return types.Null, err
	}
	switch n.Op {
	case OpAnd:
		if !truthy(l) {
			return types.False, nil
		}
		r, err := s.eval(n.R)
		if err != nil {
			return types.Null, err
		}
		return types.Bool(truthy(r)), nil
	case OpOr:
		if truthy(l) {
			return types.True, nil
		}
		r, err := s.eval(n.R)
		if err != nil {
			return types.Null, err
		}
		return types.Bool(truthy(r)), nil
	}
	r, err := s.eval(n.R)
	if err != nil {
		return types.Null, err
	}
	if n.Op == OpXor {
		return types.Bool(truthy(l) != truthy(r)), nil
	}
	return s.applyBinary(n, l, r)
}

func (s *state) evalCall(n *Call) (types.Value, error) {
	args := make([]types.Value, len(n.Args))
	for i, a := range n.Args {
		v, err := s.eval(a)
		if err != nil {
			return types.Null, err
		}
		args[i] = v
	}
	if err := s.charge(n.Fn.Cost); err != nil {
		return types.Null, err
	}
	return n.Fn.fn(s, n, args)
}

func (s *state) evalIndex(n *Index) (types.Value, error) {
	x, err := s.eval(n.X)
	if err != nil {
		return types.Null, err
	}
	idx, err := s.eval(n.Index)
	if err != nil {
		return types.Null, err
	}
	if x.Kind() != types.KindList {
		return types.Null, &types.TypeError{Position: n.At, Message: "cannot index " + x.Kind().String()}
	}
	f, err := toNumber(idx, n.At)
	if err != nil {
		return types.Null, err
	}
	i := int(f)
	if float64(i) != f || i < 0 || i >= x.Len() {
		return types.Null, &types.TypeError{Position: n.At, Message: "list index " + types.FormatNumber(f) + " out of range"}
	}
	return x.Items()[i], nil
}
