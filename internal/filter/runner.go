// Package filter runs a rule group against one action: it evaluates every
// enabled rule, logs the matches, updates the profile, applies consequences
// and runs the watchers.
//
// A rule that fails to compile or evaluate is skipped and reported in the
// result's diagnostics; it never fails the action. Only failing to load the
// rule set at all is fatal (types.ErrRuleSetUnavailable).
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solatis/abusefilter/internal/cachestore"
	"github.com/solatis/abusefilter/internal/consequence"
	"github.com/solatis/abusefilter/internal/profile"
	"github.com/solatis/abusefilter/internal/rules"
	"github.com/solatis/abusefilter/internal/setstore"
	"github.com/solatis/abusefilter/internal/types"
	"github.com/solatis/abusefilter/internal/vars"
	"github.com/solatis/abusefilter/internal/watcher"
)

// RuleRepository supplies the rules of a group.
type RuleRepository interface {
	EnabledRules(ctx context.Context, group string) ([]*types.Rule, error)
}

// LogSink persists match log entries.
type LogSink interface {
	Record(ctx context.Context, entries []types.LogEntry) error
}

// StoreFactory builds the variable store for an action.
type StoreFactory interface {
	Build(ac types.ActionContext) (*vars.Store, error)
}

// Config holds the runner's tunables.
type Config struct {
	// Groups maps action kinds to rule groups; unmapped kinds use
	// types.DefaultGroup.
	Groups map[types.ActionKind]string
	// OperationBudget is the fresh budget each rule evaluation gets.
	OperationBudget int
	// BlockedDomainSet names the set of blocked external domains; empty
	// disables the check.
	BlockedDomainSet string
	// Messages overrides or adds user-visible message templates by key.
	Messages map[string]string
}

// Options are the collaborators of a Runner. Rules, Stores and Executor are
// required.
type Options struct {
	Config    Config
	Rules     RuleRepository
	Compiler  *rules.CompileCache
	Evaluator *rules.Evaluator
	Stores    StoreFactory
	Logs      LogSink
	Profiler  *profile.Profiler
	Executor  *consequence.Executor
	Watchers  []watcher.Watcher
	// Stash caches evaluations made before an action is submitted.
	Stash  cachestore.CacheStore
	Sets   setstore.SetStore
	Logger *slog.Logger
	Now    func() time.Time
}

// Runner is safe for concurrent use; each Run owns its variable store.
type Runner struct {
	cfg       Config
	rules     RuleRepository
	compiler  *rules.CompileCache
	evaluator *rules.Evaluator
	stores    StoreFactory
	logs      LogSink
	profiler  *profile.Profiler
	executor  *consequence.Executor
	watchers  []watcher.Watcher
	stash     cachestore.CacheStore
	sets      setstore.SetStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner validates opts and creates a runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Rules == nil {
		return nil, fmt.Errorf("rules cannot be nil")
	}
	if opts.Stores == nil {
		return nil, fmt.Errorf("stores cannot be nil")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if opts.Compiler == nil {
		opts.Compiler = rules.NewCompileCache(rules.DefaultCompileCacheSize)
	}
	if opts.Evaluator == nil {
		opts.Evaluator = rules.NewEvaluator(rules.NewPatternCache(0), rules.DefaultRegexTimeout)
	}
	if opts.Config.OperationBudget <= 0 {
		opts.Config.OperationBudget = types.DefaultOperationBudget
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		cfg:       opts.Config,
		rules:     opts.Rules,
		compiler:  opts.Compiler,
		evaluator: opts.Evaluator,
		stores:    opts.Stores,
		logs:      opts.Logs,
		profiler:  opts.Profiler,
		executor:  opts.Executor,
		watchers:  opts.Watchers,
		stash:     opts.Stash,
		sets:      opts.Sets,
		logger:    opts.Logger.With("component", "filter"),
		now:       opts.Now,
	}, nil
}

// Group returns the rule group for an action kind.
func (r *Runner) Group(kind types.ActionKind) string {
	if g, ok := r.cfg.Groups[kind]; ok && g != "" {
		return g
	}
	return types.DefaultGroup
}

func (r *Runner) loadRules(ctx context.Context, group string) ([]*types.Rule, error) {
	all, err := r.rules.EnabledRules(ctx, group)
	if err != nil {
		return nil, fmt.Errorf("%w: group %s: %v", types.ErrRuleSetUnavailable, group, err)
	}
	active := make([]*types.Rule, 0, len(all))
	for _, rule := range all {
		if rule.Active() {
			active = append(active, rule)
		}
	}
	types.SortRules(active)
	return active, nil
}

// Run screens one action. The returned error is non-nil only when the
// action could not be screened at all.
func (r *Runner) Run(ctx context.Context, ac types.ActionContext) (*RunResult, error) {
	start := time.Now()
	if ac.Timestamp.IsZero() {
		ac.Timestamp = r.now()
	}
	group := r.Group(ac.Kind)
	logger := r.logger.With("group", group, "action", ac.Kind, "actor", ac.Actor.Name)

	ruleset, err := r.loadRules(ctx, group)
	if err != nil {
		return nil, err
	}
	store, err := r.stores.Build(ac)
	if err != nil {
		return nil, err
	}

	res := &RunResult{Group: group}
	var dump map[string]types.Value
	if entry, ok := r.loadStash(ctx, group, store, ruleset); ok {
		stashHitCount.Inc()
		res.Stashed = true
		res.Results = stashedResults(ruleset, entry.Matched)
		dump = entry.Vars
	} else {
		r.evaluateAll(ctx, res, ruleset, store, logger)
	}
	matched := res.matchedRules(ruleset)

	blocked := r.blockedDomains(ctx, &ac, store, logger)
	res.BlockedDomains = blocked
	if dump == nil {
		dump = store.Snapshot()
	}

	plan := r.executor.Plan(ctx, &ac, res.Results)
	res.Decision = plan.Decision
	if len(blocked) > 0 {
		res.Decision = types.DecisionDeny
	}

	// the audit trail is written before anything is applied
	if len(matched) > 0 {
		ruleMatchCount.WithLabelValues(group).Add(float64(len(matched)))
		res.LogIDs = r.writeLogs(ctx, &ac, group, matched, plan, dump, logger)
	}
	if r.profiler != nil {
		if err := r.profiler.RecordRun(ctx, group, res.Results); err != nil {
			logger.Warn("failed to update filter profile", "err", err)
		}
	}

	res.Report = r.executor.Execute(ctx, plan)
	for _, f := range res.Report.Failures {
		consequenceFailureCount.WithLabelValues(string(f.Kind)).Inc()
	}

	for _, w := range r.watchers {
		if err := w.Run(ctx, group, res.MatchedRuleIDs); err != nil {
			logger.Warn("watcher failed", "err", err)
		}
	}

	res.Messages = r.messages(res, matched, plan)
	if res.Degraded {
		degradedRunCount.WithLabelValues(group).Inc()
		logger.Error("all rules failed on variable computation, running degraded")
	}
	runCount.WithLabelValues(group, res.Decision.String()).Inc()
	runDuration.WithLabelValues(group).Observe(time.Since(start).Seconds())
	logger.Debug("run complete", "decision", res.Decision, "matched", res.MatchedRuleIDs, "diagnostics", len(res.Diagnostics))
	return res, nil
}

// evaluateAll runs every rule against store. A fresh budget is given to
// each rule, so an expensive rule cannot starve the others.
func (r *Runner) evaluateAll(ctx context.Context, res *RunResult, ruleset []*types.Rule, store *vars.Store, logger *slog.Logger) {
	computationFailures := 0
	for _, rule := range ruleset {
		mr := r.evaluateRule(ctx, rule, store)
		res.Results = append(res.Results, mr)
		if mr.Err == nil {
			continue
		}
		kind := types.Classify(mr.Err)
		ruleErrorCount.WithLabelValues(kind).Inc()
		if kind == types.DiagComputation {
			computationFailures++
		}
		if bx, ok := asBudget(mr.Err); ok {
			budgetExceededCount.WithLabelValues(res.Group, bx.Reason).Inc()
		}
		logger.Warn("rule skipped", "rule", rule.ID, "kind", kind, "err", mr.Err)
		res.Diagnostics = append(res.Diagnostics, types.Diagnostic{RuleID: rule.ID, Kind: kind, Message: mr.Err.Error()})
	}
	res.Degraded = len(ruleset) > 0 && computationFailures == len(ruleset)
}

// evaluateRule compiles and evaluates one rule. Panics are contained to the
// rule.
func (r *Runner) evaluateRule(ctx context.Context, rule *types.Rule, store *vars.Store) (mr types.MatchResult) {
	start := time.Now()
	mr = types.MatchResult{RuleID: rule.ID, Throttled: rule.Throttled, Consequences: rule.Actions}
	defer func() {
		if p := recover(); p != nil {
			mr.Matched = false
			mr.Err = fmt.Errorf("rule %s: internal error: %v", rule.ID, p)
		}
		mr.Duration = time.Since(start)
	}()

	prog, err := r.compiler.Compile(rule.Pattern)
	if err != nil {
		mr.Err = err
		return mr
	}
	out, err := r.evaluator.Evaluate(ctx, prog, store, r.cfg.OperationBudget)
	mr.Ops = out.Ops
	if err != nil {
		mr.Err = err
		return mr
	}
	mr.Matched = out.Matched()
	return mr
}

func (r *Runner) writeLogs(ctx context.Context, ac *types.ActionContext, group string, matched []*types.Rule, plan *consequence.Plan, dump map[string]types.Value, logger *slog.Logger) []types.LogID {
	entries := make([]types.LogEntry, 0, len(matched))
	for _, rule := range matched {
		kinds := plan.Effective[rule.ID]
		cons := make([]string, len(kinds))
		for i, k := range kinds {
			cons[i] = string(k)
		}
		entries = append(entries, types.LogEntry{
			ID:           types.NewLogID(),
			RuleID:       rule.ID,
			Group:        group,
			Action:       ac.Kind,
			ActorID:      ac.Actor.ID,
			ActorName:    ac.Actor.Name,
			Namespace:    ac.Target.Namespace,
			Title:        ac.Target.Title,
			VarDump:      dump,
			Consequences: cons,
			Timestamp:    ac.Timestamp,
		})
	}
	ids := make([]types.LogID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	if r.logs == nil {
		return ids
	}
	if err := r.logs.Record(ctx, entries); err != nil {
		logWriteErrorCount.Inc()
		logger.Error("failed to write match log", "err", err)
	}
	return ids
}
