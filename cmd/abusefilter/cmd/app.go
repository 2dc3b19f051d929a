package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/abusefilter/internal/cachestore"
	"github.com/solatis/abusefilter/internal/consequence"
	"github.com/solatis/abusefilter/internal/core/config"
	"github.com/solatis/abusefilter/internal/core/db"
	"github.com/solatis/abusefilter/internal/countstore"
	"github.com/solatis/abusefilter/internal/filter"
	"github.com/solatis/abusefilter/internal/profile"
	"github.com/solatis/abusefilter/internal/rules"
	"github.com/solatis/abusefilter/internal/setstore"
	"github.com/solatis/abusefilter/internal/store"
	"github.com/solatis/abusefilter/internal/tagstore"
	"github.com/solatis/abusefilter/internal/types"
	"github.com/solatis/abusefilter/internal/vars"
	"github.com/solatis/abusefilter/internal/watcher"
)

// app holds the services shared by the subcommands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *sqlx.DB
	queries *db.Queries
	store   *store.Store
	shared  *backends
}

// openApp loads configuration, sets up logging and opens the database.
func openApp(ctx context.Context) (*app, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	database, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to load queries: %w", err)
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      database,
		queries: queries,
		store:   store.New(queries, nil),
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// backends are the stores that live in redis when it is configured and in
// process otherwise, plus the filter profile kept in them.
type backends struct {
	counts   countstore.CountStore
	warned   cachestore.CacheStore
	stash    cachestore.CacheStore
	tags     consequence.Tagger
	profiler *profile.Profiler
}

// backends connects the shared stores once and resets a rule's profile
// whenever the rule is saved.
func (a *app) backends() (*backends, error) {
	if a.shared != nil {
		return a.shared, nil
	}
	b, err := a.connectBackends()
	if err != nil {
		return nil, err
	}
	b.profiler = profile.New(b.counts, a.cfg.Actions.ProfileActionsCap)
	a.store.Rules.OnSave(func(ctx context.Context, r *types.Rule) error {
		return b.profiler.ResetRule(ctx, r.ID)
	})
	a.shared = b
	return b, nil
}

func (a *app) connectBackends() (*backends, error) {
	c := a.cfg.Cache
	if a.cfg.Redis.URL == "" {
		return &backends{
			counts: countstore.NewMemCountStore(),
			warned: cachestore.NewMemCacheStore(c.Size, c.WarnTTL),
			stash:  cachestore.NewMemCacheStore(c.Size, c.StashTTL),
			tags:   tagstore.NewMemTagStore(),
		}, nil
	}

	counts, err := countstore.NewRedisCountStore(a.cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect count store: %w", err)
	}
	warned, err := cachestore.NewRedisCacheStore(a.cfg.Redis.URL, c.WarnTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect warning cache: %w", err)
	}
	stash, err := cachestore.NewRedisCacheStore(a.cfg.Redis.URL, c.StashTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect stash cache: %w", err)
	}
	tags, err := tagstore.NewRedisTagStore(a.cfg.Redis.URL, c.TagTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect tag store: %w", err)
	}
	return &backends{counts: counts, warned: warned, stash: stash, tags: tags}, nil
}

// newEvaluator builds the compile cache and evaluator from the engine config.
func newEvaluator(e config.EngineConfig) (*rules.CompileCache, *rules.Evaluator) {
	return rules.NewCompileCache(e.CompileCacheSize),
		rules.NewEvaluator(rules.NewPatternCache(e.PatternCacheSize), e.RegexTimeout)
}

// newRunner wires the complete filter runner.
func (a *app) newRunner() (*filter.Runner, error) {
	b, err := a.backends()
	if err != nil {
		return nil, err
	}

	sets := setstore.NewMemSetStore()
	if a.cfg.Sets.File != "" {
		if err := sets.LoadFromFile(a.cfg.Sets.File); err != nil {
			return nil, fmt.Errorf("failed to load sets: %w", err)
		}
	}

	registry := consequence.NewDefaultRegistry(consequence.Services{
		Tags:          b.tags,
		Cache:         b.warned,
		Counts:        b.counts,
		Accounts:      a.store.Accounts,
		Mutations:     a.store.Accounts,
		BlockDuration: a.cfg.Actions.BlockDuration,
		Now:           time.Now,
	})

	profiler := b.profiler
	thresholds := make(map[string]watcher.Thresholds, len(a.cfg.Emergency))
	for group, th := range a.cfg.Emergency {
		thresholds[group] = watcher.Thresholds{Count: th.Count, Fraction: th.Threshold, Age: th.Age}
	}

	groups := make(map[types.ActionKind]string, len(a.cfg.Groups))
	for kind, group := range a.cfg.Groups {
		groups[types.ActionKind(kind)] = group
	}

	compiler, evaluator := newEvaluator(a.cfg.Engine)
	return filter.NewRunner(filter.Options{
		Config: filter.Config{
			Groups:           groups,
			OperationBudget:  a.cfg.Engine.OperationBudget,
			BlockedDomainSet: a.cfg.Sets.BlockedDomainSet,
			Messages:         a.cfg.Messages,
		},
		Rules:     a.store.Rules,
		Compiler:  compiler,
		Evaluator: evaluator,
		Stores:    vars.NewGenerator(vars.NewBuiltinRegistry(a.store.Revisions, nil)),
		Logs:      a.store.Logs,
		Profiler:  profiler,
		Executor:  consequence.NewExecutor(registry, a.logger),
		Watchers: []watcher.Watcher{
			&watcher.HitCount{Counter: a.store.Rules},
			watcher.NewEmergency(profiler, a.store.Rules, thresholds, a.logger),
		},
		Stash:  b.stash,
		Sets:   sets,
		Logger: a.logger,
	})
}
