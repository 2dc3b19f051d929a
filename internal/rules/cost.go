// internal/rules/cost.go
package rules

/*
 * Cost model for rule evaluation.
 *
 * Every AST node visited costs CostNode, including variable reads (whose lazy
 * computation, if any, happens inside that single step). Builtin calls add
 * their registered cost on top of the node cost, charged after the arguments
 * are evaluated. The right operand of a short-circuited '&' or '|' is never
 * visited and therefore never charged.
 *
 * A budget of N admits at most N units of work; the charge that would exceed
 * N aborts evaluation with BudgetExceededError.
 */

const (
	// CostNode is charged for each node visit.
	CostNode = 1

	// Builtin call surcharges.
	CostCallTrivial   = 1
	CostCallString    = 2
	CostCallSearch    = 4
	CostCallRegex     = 8
	CostCallNormalize = 8

	// CostRegexOperator is the surcharge for =~, rlike, irlike, regex, like.
	CostRegexOperator = 4
)
