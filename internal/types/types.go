// Package types provides domain models shared across abusefilter components.
//
// Values, rules, action contexts and the error taxonomy live here so the
// language (internal/rules), the variable store (internal/vars) and the
// runner (internal/filter) agree on one vocabulary without importing each
// other. ID utilities in ids.go are the only file that pulls in a third-party
// dependency.
package types

// Resource limits enforced by the rule language and the runner.
const (
	// MaxSourceLength bounds the size of a rule pattern accepted by the parser.
	MaxSourceLength = 64 * 1024

	// MaxNestingDepth bounds parenthesis, list and call nesting during parsing.
	// The evaluator recurses once per nesting level, so this also bounds stack use.
	MaxNestingDepth = 64

	// DefaultOperationBudget is the per-rule evaluation budget when none is configured.
	DefaultOperationBudget = 1000

	// MaxListLength bounds list literals and list-producing functions.
	MaxListLength = 10000

	// MaxVarDumpSize caps the serialized variable dump stored per match log entry.
	MaxVarDumpSize = 256 * 1024
)
