package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/solatis/abusefilter/internal/types"
)

// RuleFile is the YAML form of a rule set used for bulk import:
//
//	rules:
//	  - id: 12
//	    group: default
//	    description: Link spam
//	    pattern: 'added_links contains "spam.example"'
//	    actions:
//	      disallow: []
//	      tag: [spam]
type RuleFile struct {
	Rules []RuleSpec `yaml:"rules"`
}

// RuleSpec is one rule in a RuleFile. Enabled defaults to true.
type RuleSpec struct {
	ID          int64               `yaml:"id"`
	Group       string              `yaml:"group"`
	Description string              `yaml:"description"`
	Pattern     string              `yaml:"pattern"`
	Comments    string              `yaml:"comments"`
	Enabled     *bool               `yaml:"enabled"`
	Hidden      bool                `yaml:"hidden"`
	Global      bool                `yaml:"global"`
	Priority    int                 `yaml:"priority"`
	Actions     map[string][]string `yaml:"actions"`
}

// ParseRuleFile decodes a rule file. Unknown fields are rejected.
func ParseRuleFile(r io.Reader) ([]*types.Rule, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f RuleFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}

	out := make([]*types.Rule, 0, len(f.Rules))
	seen := make(map[int64]bool)
	for i, spec := range f.Rules {
		if spec.Pattern == "" {
			return nil, fmt.Errorf("rule %d: %w", i+1, types.ErrEmptyExpression)
		}
		if spec.ID < 0 {
			return nil, fmt.Errorf("rule %d: %w", i+1, types.ErrInvalidRuleID)
		}
		if spec.ID > 0 {
			if seen[spec.ID] {
				return nil, fmt.Errorf("rule %d: duplicate id %d", i+1, spec.ID)
			}
			seen[spec.ID] = true
		}

		enabled := true
		if spec.Enabled != nil {
			enabled = *spec.Enabled
		}
		actions := make(types.Consequences, len(spec.Actions))
		for kind, params := range spec.Actions {
			if params == nil {
				params = []string{}
			}
			actions[types.ConsequenceKind(kind)] = params
		}
		out = append(out, &types.Rule{
			ID:          types.RuleID(spec.ID),
			Group:       spec.Group,
			Description: spec.Description,
			Pattern:     spec.Pattern,
			Comments:    spec.Comments,
			Enabled:     enabled,
			Hidden:      spec.Hidden,
			Global:      spec.Global,
			Priority:    spec.Priority,
			Actions:     actions,
		})
	}
	return out, nil
}

// Import saves each rule in order, validating its pattern with check first
// when check is non-nil. It stops at the first failure and returns the
// number of rules saved before it.
func (s *Rules) Import(ctx context.Context, rules []*types.Rule, actor string, check func(pattern string) error) (int, error) {
	for i, r := range rules {
		if check != nil {
			if err := check(r.Pattern); err != nil {
				return i, fmt.Errorf("rule %q: %w", r.Description, err)
			}
		}
		if err := s.SaveRule(ctx, r, actor); err != nil {
			return i, err
		}
	}
	return len(rules), nil
}
