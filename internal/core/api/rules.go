package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/solatis/abusefilter/internal/types"
)

type listRulesRequest struct {
	Group         string `json:"group"`
	IncludeHidden bool   `json:"include_hidden"`
	IfNoneMatch   string `json:"if_none_match"`
}

type ruleView struct {
	ID          types.RuleID       `json:"id"`
	Group       string             `json:"group"`
	Description string             `json:"description"`
	Pattern     string             `json:"pattern"`
	Enabled     bool               `json:"enabled"`
	Hidden      bool               `json:"hidden,omitempty"`
	Global      bool               `json:"global,omitempty"`
	Throttled   bool               `json:"throttled,omitempty"`
	Priority    int                `json:"priority"`
	Actions     types.Consequences `json:"actions"`
	HitCount    int64              `json:"hit_count"`
	Version     int                `json:"version"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

type listRulesResponse struct {
	ETag        string     `json:"etag"`
	NotModified bool       `json:"not_modified"`
	Rules       []ruleView `json:"rules"`
}

// ListRules returns the undeleted rules, optionally of one group.
// The ETag lets clients skip unchanged rule sets.
func (s *FilterService) ListRules(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req listRulesRequest
	if err := decode(in, &req); err != nil {
		return nil, statusError(err)
	}

	all, err := s.rules.ListRules(ctx, false)
	if err != nil {
		return nil, statusError(fmt.Errorf("%w: %v", types.ErrRuleSetUnavailable, err))
	}

	views := make([]ruleView, 0, len(all))
	for _, r := range all {
		if req.Group != "" && r.Group != req.Group {
			continue
		}
		if r.Hidden && !req.IncludeHidden {
			continue
		}
		views = append(views, ruleView{
			ID:          r.ID,
			Group:       r.Group,
			Description: r.Description,
			Pattern:     r.Pattern,
			Enabled:     r.Enabled,
			Hidden:      r.Hidden,
			Global:      r.Global,
			Throttled:   r.Throttled,
			Priority:    r.Priority,
			Actions:     r.Actions,
			HitCount:    r.HitCount,
			Version:     r.Version,
			UpdatedAt:   r.UpdatedAt,
		})
	}

	etag := computeETAG(views)
	if req.IfNoneMatch != "" && req.IfNoneMatch == etag {
		return encodeOrStatus(listRulesResponse{ETag: etag, NotModified: true, Rules: []ruleView{}})
	}
	return encodeOrStatus(listRulesResponse{ETag: etag, Rules: views})
}

// computeETAG hashes the sorted (id, version, throttled) triples. Any save
// bumps the version, so the tag changes exactly when a listed rule does.
func computeETAG(rules []ruleView) string {
	keys := make([]string, 0, len(rules))
	for _, r := range rules {
		keys = append(keys, fmt.Sprintf("%d:%d:%t", r.ID, r.Version, r.Throttled))
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
