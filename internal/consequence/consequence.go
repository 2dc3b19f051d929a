// Package consequence applies the consequences of matched rules.
//
// Each consequence kind is served by a Handler looked up in a Registry.
// Applying is split in two: Plan decides which consequences take effect
// (throttled rules lose their destructive consequences, throttle gates and
// warn-once markers are consulted) and Execute applies them, non-destructive
// kinds first. A failing handler never stops the others; every failure is
// collected in the ExecutionReport.
package consequence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/solatis/abusefilter/internal/types"
)

// Item is one matched rule's request for a consequence.
type Item struct {
	RuleID types.RuleID
	Params []string
}

// Invocation carries every item of one kind for one action, so that a
// handler can merge them (union of tags, longest block).
type Invocation struct {
	Kind   types.ConsequenceKind
	Action *types.ActionContext
	Items  []Item
}

// RuleIDs lists the rules behind the invocation.
func (inv Invocation) RuleIDs() []types.RuleID {
	out := make([]types.RuleID, len(inv.Items))
	for i, it := range inv.Items {
		out[i] = it.RuleID
	}
	return out
}

// Effect describes what a handler did.
type Effect struct {
	Kind     types.ConsequenceKind
	RuleIDs  []types.RuleID
	Tags     []string
	Mutation *types.MutationRecord
}

// Handler applies one consequence kind.
type Handler interface {
	Apply(ctx context.Context, inv Invocation) (Effect, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, inv Invocation) (Effect, error)

func (f HandlerFunc) Apply(ctx context.Context, inv Invocation) (Effect, error) {
	return f(ctx, inv)
}

// Verdict is the outcome of a preflight check.
type Verdict int

const (
	// Proceed applies the consequence.
	Proceed Verdict = iota
	// SkipConsequence drops this consequence only.
	SkipConsequence
	// SkipRule drops every other consequence of the rule.
	SkipRule
)

// Preflight is implemented by handlers that decide per rule, before
// anything is applied, whether their consequence goes ahead.
type Preflight interface {
	Preflight(ctx context.Context, ac *types.ActionContext, item Item) (Verdict, error)
}

// Registry maps consequence kinds to handlers. It is populated at startup
// and read-only afterwards.
type Registry struct {
	handlers map[types.ConsequenceKind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[types.ConsequenceKind]Handler)}
}

// Register adds or replaces the handler for kind.
func (r *Registry) Register(kind types.ConsequenceKind, h Handler) {
	r.handlers[kind] = h
}

func (r *Registry) Lookup(kind types.ConsequenceKind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds in application order.
func (r *Registry) Kinds() []types.ConsequenceKind {
	out := make([]types.ConsequenceKind, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sortKinds(out)
	return out
}

// builtinOrder fixes the order of the built-in kinds. Kinds registered by
// extensions run after the built-in non-destructive ones.
var builtinOrder = []types.ConsequenceKind{
	types.ConsequenceThrottle,
	types.ConsequenceTag,
	types.ConsequenceWarn,
	types.ConsequenceDisallow,
	types.ConsequenceBlockAutopromote,
	types.ConsequenceDegroup,
	types.ConsequenceBlock,
}

func kindRank(k types.ConsequenceKind) int {
	if i := slices.Index(builtinOrder, k); i >= 0 {
		if k.Destructive() {
			return 100 + i
		}
		return i
	}
	return 50
}

func sortKinds(kinds []types.ConsequenceKind) {
	sort.SliceStable(kinds, func(i, j int) bool {
		ri, rj := kindRank(kinds[i]), kindRank(kinds[j])
		if ri != rj {
			return ri < rj
		}
		return kinds[i] < kinds[j]
	})
}

// Skip records a consequence that was not applied.
type Skip struct {
	RuleID types.RuleID          `json:"rule_id"`
	Kind   types.ConsequenceKind `json:"kind"`
	Reason string                `json:"reason"`
}

// Failure records a consequence that could not be applied.
type Failure struct {
	Kind    types.ConsequenceKind
	RuleIDs []types.RuleID
	Err     error
}

func (f Failure) Error() string {
	return fmt.Sprintf("consequence %s for rules %v: %v", f.Kind, f.RuleIDs, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// ExecutionReport is the outcome of applying a plan.
type ExecutionReport struct {
	Applied  []Effect
	Skipped  []Skip
	Failures []Failure
}

// Err joins all failures, or returns nil.
func (r *ExecutionReport) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Tags returns the union of all applied tags.
func (r *ExecutionReport) Tags() []string {
	var out []string
	for _, e := range r.Applied {
		out = append(out, e.Tags...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// Mutations returns the account mutations that were applied.
func (r *ExecutionReport) Mutations() []types.MutationRecord {
	var out []types.MutationRecord
	for _, e := range r.Applied {
		if e.Mutation != nil {
			out = append(out, *e.Mutation)
		}
	}
	return out
}
