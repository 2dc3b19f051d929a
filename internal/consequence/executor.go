package consequence

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/solatis/abusefilter/internal/types"
)

// Plan is the set of consequences that will take effect for one action.
type Plan struct {
	Action   *types.ActionContext
	Decision types.Decision
	// Effective lists, per matched rule, the kinds that will be applied.
	Effective map[types.RuleID][]types.ConsequenceKind
	Skipped   []Skip
	Failures  []Failure

	invocations []Invocation
}

// Has reports whether rule id will apply kind.
func (p *Plan) Has(id types.RuleID, kind types.ConsequenceKind) bool {
	for _, k := range p.Effective[id] {
		if k == kind {
			return true
		}
	}
	return false
}

// Executor plans and applies consequences. It is safe for concurrent use.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
}

func NewExecutor(registry *Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, logger: logger.With("component", "consequence")}
}

// Apply plans and executes consequences for matches in one step.
func (e *Executor) Apply(ctx context.Context, ac *types.ActionContext, matches []types.MatchResult) *ExecutionReport {
	return e.Execute(ctx, e.Plan(ctx, ac, matches))
}

// Plan works out which consequences of the matched results take effect.
// Unmatched results are ignored.
func (e *Executor) Plan(ctx context.Context, ac *types.ActionContext, matches []types.MatchResult) *Plan {
	plan := &Plan{
		Action:    ac,
		Effective: make(map[types.RuleID][]types.ConsequenceKind),
	}
	byKind := make(map[types.ConsequenceKind][]Item)

	for _, m := range matches {
		if !m.Matched {
			continue
		}
		kinds := m.Consequences.Kinds()
		sortKinds(kinds)
		effective := make([]types.ConsequenceKind, 0, len(kinds))
		skipRest := false
		for _, kind := range kinds {
			item := Item{RuleID: m.RuleID, Params: m.Consequences[kind]}
			if skipRest {
				plan.Skipped = append(plan.Skipped, Skip{RuleID: m.RuleID, Kind: kind, Reason: "throttle limit not reached"})
				continue
			}
			if m.Throttled && kind.Destructive() {
				plan.Skipped = append(plan.Skipped, Skip{RuleID: m.RuleID, Kind: kind, Reason: "rule throttled"})
				continue
			}
			h, ok := e.registry.Lookup(kind)
			if !ok {
				plan.Failures = append(plan.Failures, Failure{Kind: kind, RuleIDs: []types.RuleID{m.RuleID}, Err: types.ErrUnknownConsequence})
				continue
			}
			if pf, ok := h.(Preflight); ok {
				verdict, err := pf.Preflight(ctx, ac, item)
				if err != nil {
					// a failed check does not withhold the consequence
					plan.Failures = append(plan.Failures, Failure{Kind: kind, RuleIDs: []types.RuleID{m.RuleID}, Err: err})
					verdict = Proceed
				}
				switch verdict {
				case SkipConsequence:
					plan.Skipped = append(plan.Skipped, Skip{RuleID: m.RuleID, Kind: kind, Reason: "preflight"})
					continue
				case SkipRule:
					skipRest = true
					continue
				}
			}
			effective = append(effective, kind)
			byKind[kind] = append(byKind[kind], item)
		}
		plan.Effective[m.RuleID] = effective
	}

	kinds := make([]types.ConsequenceKind, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sortKinds(kinds)
	for _, k := range kinds {
		plan.invocations = append(plan.invocations, Invocation{Kind: k, Action: ac, Items: byKind[k]})
	}
	plan.Decision = decide(kinds)
	return plan
}

func decide(kinds []types.ConsequenceKind) types.Decision {
	d := types.DecisionAllow
	for _, k := range kinds {
		if k.Denies() {
			return types.DecisionDeny
		}
		if k == types.ConsequenceWarn {
			d = types.DecisionWarn
		}
	}
	return d
}

// Execute applies a plan. Every invocation is attempted regardless of
// earlier failures.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (report *ExecutionReport) {
	report = &ExecutionReport{
		Skipped:  append([]Skip(nil), plan.Skipped...),
		Failures: append([]Failure(nil), plan.Failures...),
	}
	for _, inv := range plan.invocations {
		h, _ := e.registry.Lookup(inv.Kind)
		eff, err := e.applyOne(ctx, h, inv)
		if err != nil {
			e.logger.Warn("consequence failed", "kind", inv.Kind, "rules", inv.RuleIDs(), "err", err)
			report.Failures = append(report.Failures, Failure{Kind: inv.Kind, RuleIDs: inv.RuleIDs(), Err: err})
			continue
		}
		eff.Kind = inv.Kind
		eff.RuleIDs = inv.RuleIDs()
		report.Applied = append(report.Applied, eff)
	}
	return report
}

func (e *Executor) applyOne(ctx context.Context, h Handler, inv Invocation) (eff Effect, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Apply(ctx, inv)
}
