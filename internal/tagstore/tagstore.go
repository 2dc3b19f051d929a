// Change tags applied to actions by the tag consequence.
//
// Includes an interface and implementations using redis and in-process memory.
package tagstore

import (
	"context"
	"sort"
	"sync"
)

// TagStore records tags per action key. Adding is a set union, so applying
// the same tag twice has no further effect.
type TagStore interface {
	Get(ctx context.Context, key string) ([]string, error)
	Add(ctx context.Context, key string, tags []string) error
	Remove(ctx context.Context, key string, tags []string) error
}

type MemTagStore struct {
	mu   sync.Mutex
	data map[string]map[string]bool
}

var _ TagStore = (*MemTagStore)(nil)

func NewMemTagStore() *MemTagStore {
	return &MemTagStore{data: make(map[string]map[string]bool)}
}

// Get returns the tags for key in sorted order.
func (s *MemTagStore) Get(ctx context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for t := range s.data[key] {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemTagStore) Add(ctx context.Context, key string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[key]
	if !ok {
		m = make(map[string]bool, len(tags))
		s.data[key] = m
	}
	for _, t := range tags {
		m[t] = true
	}
	return nil
}

// does not error if tags not in set
func (s *MemTagStore) Remove(ctx context.Context, key string, tags []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tags {
		delete(s.data[key], t)
	}
	return nil
}
