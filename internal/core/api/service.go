// Package api provides the gRPC FilterAPI service. Requests and responses
// are google.protobuf.Struct messages so clients need no generated stubs.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solatis/abusefilter/internal/filter"
	"github.com/solatis/abusefilter/internal/types"
)

// RuleLister is the part of the rule repository ListRules needs.
type RuleLister interface {
	ListRules(ctx context.Context, includeDeleted bool) ([]*types.Rule, error)
}

// LogReader loads logged matches for Examine.
type LogReader interface {
	GetLog(ctx context.Context, id types.LogID) (types.LogEntry, error)
}

// FilterService implements FilterAPIServer.
// Thin orchestration layer delegating to the filter runner and the stores.
type FilterService struct {
	runner  *filter.Runner
	rules   RuleLister
	logs    LogReader
	timeout time.Duration
	logger  *slog.Logger
}

var _ FilterAPIServer = (*FilterService)(nil)

// NewFilterService creates the service. timeout bounds each Run; zero
// leaves the caller's deadline alone.
func NewFilterService(runner *filter.Runner, rules RuleLister, logs LogReader, timeout time.Duration, logger *slog.Logger) (*FilterService, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if rules == nil {
		return nil, fmt.Errorf("rules cannot be nil")
	}
	if logs == nil {
		return nil, fmt.Errorf("logs cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FilterService{
		runner:  runner,
		rules:   rules,
		logs:    logs,
		timeout: timeout,
		logger:  logger.With("component", "api"),
	}, nil
}
