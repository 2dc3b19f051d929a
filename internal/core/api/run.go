package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/abusefilter/internal/core/auth"
	"github.com/solatis/abusefilter/internal/filter"
	"github.com/solatis/abusefilter/internal/types"
)

type runRequest struct {
	Action types.ActionContext `json:"action"`
	// Stash evaluates without side effects and caches the result for the
	// submission that follows.
	Stash bool `json:"stash"`
}

type runResponse struct {
	Group          string             `json:"group"`
	Decision       string             `json:"decision"`
	MatchedRuleIDs []types.RuleID     `json:"matched_rule_ids"`
	Messages       []filter.Message   `json:"messages"`
	Diagnostics    []types.Diagnostic `json:"diagnostics,omitempty"`
	Degraded       bool               `json:"degraded"`
	BlockedDomains []string           `json:"blocked_domains,omitempty"`
	LogIDs         []types.LogID      `json:"log_ids,omitempty"`
	Tags           []string           `json:"tags,omitempty"`
	Failures       []string           `json:"failures,omitempty"`
	Stashed        bool               `json:"stashed"`
}

func newRunResponse(res *filter.RunResult) runResponse {
	out := runResponse{
		Group:          res.Group,
		Decision:       res.Decision.String(),
		MatchedRuleIDs: res.MatchedRuleIDs,
		Messages:       res.Messages,
		Diagnostics:    res.Diagnostics,
		Degraded:       res.Degraded,
		BlockedDomains: res.BlockedDomains,
		LogIDs:         res.LogIDs,
		Stashed:        res.Stashed,
	}
	if out.MatchedRuleIDs == nil {
		out.MatchedRuleIDs = []types.RuleID{}
	}
	if out.Messages == nil {
		out.Messages = []filter.Message{}
	}
	if res.Report != nil {
		out.Tags = res.Report.Tags()
		for _, f := range res.Report.Failures {
			out.Failures = append(out.Failures, f.Error())
		}
	}
	return out
}

// Run screens one action. Only an unavailable rule set fails the call;
// broken rules are reported as diagnostics.
func (s *FilterService) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req runRequest
	if err := decode(in, &req); err != nil {
		return nil, statusError(err)
	}
	if !req.Action.Kind.Valid() {
		return nil, statusError(fmt.Errorf("%w: unknown action kind %q", errBadRequest, req.Action.Kind))
	}
	if req.Action.Timestamp.IsZero() {
		req.Action.Timestamp = time.Now().UTC()
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	logger := s.logger.With("client", auth.ClientFromContext(ctx), "action", req.Action.Kind)

	var (
		res *filter.RunResult
		err error
	)
	if req.Stash {
		res, err = s.runner.RunForStash(ctx, req.Action)
	} else {
		res, err = s.runner.Run(ctx, req.Action)
	}
	if err != nil {
		if errors.Is(err, types.ErrRuleSetUnavailable) {
			logger.Error("rule set unavailable", "err", err)
		}
		return nil, statusError(err)
	}

	out, err := encode(newRunResponse(res))
	if err != nil {
		return nil, statusError(err)
	}
	logger.Debug("action screened", "decision", res.Decision, "matched", len(res.MatchedRuleIDs))
	return out, nil
}
