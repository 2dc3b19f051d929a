package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for abusefilter operations.
var (
	// ErrRuleSetUnavailable indicates the active rule set could not be loaded.
	// This is the only error that aborts an action check.
	ErrRuleSetUnavailable = errors.New("rule set unavailable")

	// ErrEmptyExpression indicates a rule pattern contains no expression.
	ErrEmptyExpression = errors.New("rule expression is empty")

	// ErrSourceTooLong indicates a rule pattern exceeds MaxSourceLength.
	ErrSourceTooLong = errors.New("rule pattern exceeds maximum length")

	// ErrVariableAlreadySet indicates a write to a slot that already holds a computed value.
	ErrVariableAlreadySet = errors.New("variable already set")

	// ErrUnknownComputation indicates a deferred slot names an unregistered computation kind.
	ErrUnknownComputation = errors.New("unknown computation kind")

	// ErrInvalidRuleID indicates a rule ID that is not a positive integer.
	ErrInvalidRuleID = errors.New("invalid rule id")

	// ErrRuleNotFound indicates a rule lookup by ID failed.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrLogNotFound indicates a match log lookup by ID failed.
	ErrLogNotFound = errors.New("log entry not found")

	// ErrUserNotFound indicates an account mutation targeted an unknown user.
	ErrUserNotFound = errors.New("user not found")

	// ErrUnknownConsequence indicates a rule references a consequence with no handler.
	ErrUnknownConsequence = errors.New("unknown consequence")
)

// SyntaxError reports a lexing or parsing failure at a byte offset of the source.
type SyntaxError struct {
	Position int
	Message  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Position, e.Message)
}

// UnsetVariableError reports a read of a variable that has no slot.
// Known is true when the name is part of the schema but was not populated
// for the current action kind.
type UnsetVariableError struct {
	Name  string
	Known bool
}

func (e *UnsetVariableError) Error() string {
	if e.Known {
		return fmt.Sprintf("variable %q is not set for this action", e.Name)
	}
	return fmt.Sprintf("unrecognised variable %q", e.Name)
}

// TypeError reports an operation applied to incompatible values, including
// division by zero and invalid regular expressions.
type TypeError struct {
	Position int
	Message  string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("type error at position %d: %s", e.Position, e.Message)
}

// Budget exhaustion reasons.
const (
	BudgetReasonOperations = "operations"
	BudgetReasonRegex      = "regex"
)

// BudgetExceededError reports that a rule ran out of operation budget or that a
// single regular expression match exceeded its time bound.
type BudgetExceededError struct {
	Budget int
	Used   int
	Reason string
}

func (e *BudgetExceededError) Error() string {
	if e.Reason == BudgetReasonRegex {
		return "regular expression match exceeded time limit"
	}
	return fmt.Sprintf("operation budget exceeded (%d/%d)", e.Used, e.Budget)
}

// ComputationError wraps a failure of a deferred variable computation.
type ComputationError struct {
	Variable string
	Kind     string
	Err      error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("computing %s (%s): %v", e.Variable, e.Kind, e.Err)
}

func (e *ComputationError) Unwrap() error {
	return e.Err
}

// Diagnostic kinds reported per rule in a run result.
const (
	DiagSyntax       = "syntax-error"
	DiagUnset        = "unset-variable"
	DiagType         = "type-error"
	DiagBudget       = "budget-exceeded"
	DiagComputation  = "computation-error"
	DiagInternal     = "internal-error"
	DiagNotEvaluated = "not-evaluated"
)

// Classify maps an evaluation error to its diagnostic kind.
func Classify(err error) string {
	var (
		syn  *SyntaxError
		uns  *UnsetVariableError
		typ  *TypeError
		bud  *BudgetExceededError
		comp *ComputationError
	)
	switch {
	case errors.As(err, &comp):
		return DiagComputation
	case errors.As(err, &bud):
		return DiagBudget
	case errors.As(err, &syn):
		return DiagSyntax
	case errors.As(err, &uns):
		return DiagUnset
	case errors.As(err, &typ):
		return DiagType
	default:
		return DiagInternal
	}
}
