// Named string sets, used for lists such as blocked external domains.
package setstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type SetStore interface {
	InSet(ctx context.Context, name, val string) (bool, error)
}

// MemSetStore holds sets in memory. Values are compared case-insensitively.
type MemSetStore struct {
	mu   sync.RWMutex
	sets map[string]map[string]bool
}

var _ SetStore = (*MemSetStore)(nil)

func NewMemSetStore() *MemSetStore {
	return &MemSetStore{sets: make(map[string]map[string]bool)}
}

func (s *MemSetStore) InSet(ctx context.Context, name, val string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[name]
	if !ok {
		// a missing set is an empty set
		return false, nil
	}
	return set[strings.ToLower(val)], nil
}

// Replace sets the members of name.
func (s *MemSetStore) Replace(name string, vals []string) {
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[strings.ToLower(strings.TrimSpace(v))] = true
	}
	s.mu.Lock()
	s.sets[name] = m
	s.mu.Unlock()
}

// LoadFromFile reads a YAML (or JSON) document mapping set names to lists.
func (s *MemSetStore) LoadFromFile(p string) error {
	raw, err := os.ReadFile(p)
	if err != nil {
		return err
	}
	var sets map[string][]string
	if err := yaml.Unmarshal(raw, &sets); err != nil {
		return fmt.Errorf("parse set file %s: %w", p, err)
	}
	for name, l := range sets {
		s.Replace(name, l)
	}
	return nil
}
