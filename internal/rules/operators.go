// internal/rules/operators.go
package rules

import (
	"math"
	"strings"

	"github.com/solatis/abusefilter/internal/types"
)

/*
 * Operator semantics for the non-short-circuit binary operators.
 *
 * Arithmetic:
 *   '+'  list + list concatenates; if either side is a string the string
 *        forms are concatenated; otherwise numeric addition.
 *   '- * / % **' are numeric. Division and modulo by zero fail with
 *        TypeError. '%' truncates both operands to integers first.
 *
 * Membership:
 *   'x in y'       y list: some item loosely equals x
 *                  y null: false
 *                  otherwise: string(x) is a substring of string(y)
 *   'y contains x' is 'x in y' with the operands swapped.
 *
 * Pattern operators ('=~', 'rlike', 'regex', 'irlike', 'like', 'matches')
 * treat the left side as subject and the right side as pattern, and are
 * bounded by the evaluator's regex timeout.
 */

func (op Operator) matchesPattern() bool {
	return op == OpRegex || op == OpIRegex || op == OpLike
}

// applyBinary evaluates a non-boolean binary operator on two evaluated operands.
func (s *state) applyBinary(n *Binary, l, r types.Value) (types.Value, error) {
	switch n.Op {
	case OpEq:
		return types.Bool(looseEqual(l, r)), nil
	case OpNeq:
		return types.Bool(!looseEqual(l, r)), nil
	case OpStrictEq:
		return types.Bool(strictEqual(l, r)), nil
	case OpStrictNeq:
		return types.Bool(!strictEqual(l, r)), nil
	case OpLt, OpLte, OpGt, OpGte:
		c, err := compareOrdered(l, r, n.At)
		if err != nil {
			return types.Null, err
		}
		switch n.Op {
		case OpLt:
			return types.Bool(c < 0), nil
		case OpLte:
			return types.Bool(c <= 0), nil
		case OpGt:
			return types.Bool(c > 0), nil
		default:
			return types.Bool(c >= 0), nil
		}
	case OpIn:
		return types.Bool(contains(r, l)), nil
	case OpContains:
		return types.Bool(contains(l, r)), nil
	case OpRegex, OpIRegex, OpLike:
		if err := s.charge(CostRegexOperator); err != nil {
			return types.Null, err
		}
		return s.matchPattern(n, toString(l), toString(r))
	case OpAdd:
		return add(l, r, n.At)
	case OpSub, OpMul, OpDiv, OpMod, OpPow:
		return arithmetic(n.Op, l, r, n.At)
	}
	return types.Null, &types.TypeError{Position: n.At, Message: "unsupported operator " + n.Op.String()}
}

// contains reports whether haystack contains needle.
func contains(haystack, needle types.Value) bool {
	switch haystack.Kind() {
	case types.KindList:
		for _, item := range haystack.Items() {
			if looseEqual(item, needle) {
				return true
			}
		}
		return false
	case types.KindNull:
		return false
	default:
		return strings.Contains(toString(haystack), toString(needle))
	}
}

func add(l, r types.Value, pos int) (types.Value, error) {
	if l.Kind() == types.KindList && r.Kind() == types.KindList {
		if l.Len()+r.Len() > types.MaxListLength {
			return types.Null, &types.TypeError{Position: pos, Message: "list too long"}
		}
		items := make([]types.Value, 0, l.Len()+r.Len())
		items = append(items, l.Items()...)
		items = append(items, r.Items()...)
		return types.List(items...), nil
	}
	if l.Kind() == types.KindString || r.Kind() == types.KindString {
		return types.String(toString(l) + toString(r)), nil
	}
	a, err := toNumber(l, pos)
	if err != nil {
		return types.Null, err
	}
	b, err := toNumber(r, pos)
	if err != nil {
		return types.Null, err
	}
	return types.Number(a + b), nil
}

func arithmetic(op Operator, l, r types.Value, pos int) (types.Value, error) {
	a, err := toNumber(l, pos)
	if err != nil {
		return types.Null, err
	}
	b, err := toNumber(r, pos)
	if err != nil {
		return types.Null, err
	}
	switch op {
	case OpSub:
		return types.Number(a - b), nil
	case OpMul:
		return types.Number(a * b), nil
	case OpDiv:
		if b == 0 {
			return types.Null, &types.TypeError{Position: pos, Message: "division by zero"}
		}
		return types.Number(a / b), nil
	case OpMod:
		ai, bi := int64(a), int64(b)
		if bi == 0 {
			return types.Null, &types.TypeError{Position: pos, Message: "division by zero"}
		}
		return types.Int(ai % bi), nil
	case OpPow:
		res := math.Pow(a, b)
		if math.IsNaN(res) {
			return types.Null, &types.TypeError{Position: pos, Message: "invalid exponentiation"}
		}
		return types.Number(res), nil
	}
	return types.Null, &types.TypeError{Position: pos, Message: "unsupported operator " + op.String()}
}
