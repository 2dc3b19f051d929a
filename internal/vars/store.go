// Package vars holds the per-action variable store and the lazy
// computations that populate it.
package vars

import (
	"context"
	"fmt"
	"sort"

	"github.com/solatis/abusefilter/internal/types"
)

/*
 * Variable store.
 *
 * One Store exists per action and is shared by every rule evaluated for that
 * action. A slot is either Computed (holds a value) or Deferred (holds a
 * computation kind and parameters). Reading a Deferred slot runs the
 * computation once and replaces the slot with its result, so later reads
 * by the same or other rules are free.
 *
 * Transitions are one way: Deferred -> Computed. A failed computation leaves
 * the slot Deferred so a later read retries it. Set may turn a Deferred slot
 * Computed directly; nothing turns a Computed slot back.
 *
 * The store is not safe for concurrent use. The runner evaluates rules for
 * one action sequentially.
 */

type slotState uint8

const (
	slotDeferred slotState = iota
	slotComputed
)

type slot struct {
	state     slotState
	value     types.Value
	kind      string
	params    map[string]types.Value
	resolving bool
}

// Store is the variable store for one action.
type Store struct {
	slots    map[string]*slot
	computer Computer
	computed int
}

// NewStore creates an empty store resolving deferred slots with computer.
func NewStore(computer Computer) *Store {
	return &Store{slots: map[string]*slot{}, computer: computer}
}

// Get returns the value of name, computing it if deferred.
func (s *Store) Get(ctx context.Context, name string) (types.Value, error) {
	name = Canonical(name)
	sl, ok := s.slots[name]
	if !ok {
		return types.Null, &types.UnsetVariableError{Name: name, Known: IsKnown(name)}
	}
	if sl.state == slotComputed {
		return sl.value, nil
	}
	if sl.resolving {
		return types.Null, &types.ComputationError{Variable: name, Kind: sl.kind, Err: fmt.Errorf("cyclic dependency")}
	}
	if s.computer == nil {
		return types.Null, &types.ComputationError{Variable: name, Kind: sl.kind, Err: types.ErrUnknownComputation}
	}

	sl.resolving = true
	defer func() { sl.resolving = false }()
	v, err := s.computer.Compute(ctx, sl.kind, sl.params, s)
	if err != nil {
		return types.Null, &types.ComputationError{Variable: name, Kind: sl.kind, Err: err}
	}
	sl.state = slotComputed
	sl.value = v
	sl.params = nil
	s.computed++
	return v, nil
}

// Set stores a computed value. Fails if name already holds a computed value.
func (s *Store) Set(name string, v types.Value) error {
	name = Canonical(name)
	if sl, ok := s.slots[name]; ok {
		if sl.state == slotComputed {
			return fmt.Errorf("set %s: %w", name, types.ErrVariableAlreadySet)
		}
		sl.state = slotComputed
		sl.value = v
		sl.params = nil
		return nil
	}
	s.slots[name] = &slot{state: slotComputed, value: v}
	return nil
}

// SetDeferred registers a lazy computation. Fails if name already has a slot.
func (s *Store) SetDeferred(name, kind string, params map[string]types.Value) error {
	name = Canonical(name)
	if _, ok := s.slots[name]; ok {
		return fmt.Errorf("defer %s: %w", name, types.ErrVariableAlreadySet)
	}
	s.slots[name] = &slot{state: slotDeferred, kind: kind, params: params}
	return nil
}

// Has reports whether name has a slot, computed or not.
func (s *Store) Has(name string) bool {
	_, ok := s.slots[Canonical(name)]
	return ok
}

// IsComputed reports whether name holds a computed value.
func (s *Store) IsComputed(name string) bool {
	sl, ok := s.slots[Canonical(name)]
	return ok && sl.state == slotComputed
}

// Names lists every slot name in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.slots))
	for name := range s.slots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ComputedLazily reports how many deferred slots have been resolved.
func (s *Store) ComputedLazily() int {
	return s.computed
}

// Snapshot returns the computed slots. Deferred slots are left out so that
// logging a match never triggers computations.
func (s *Store) Snapshot() map[string]types.Value {
	out := make(map[string]types.Value, len(s.slots))
	for name, sl := range s.slots {
		if sl.state == slotComputed {
			out[name] = sl.value
		}
	}
	return out
}

// SlotInput describes a slot without resolving it.
type SlotInput struct {
	Value  *types.Value            `json:"value,omitempty"`
	Kind   string                  `json:"kind,omitempty"`
	Params map[string]types.Value `json:"params,omitempty"`
}

// Inputs describes every slot without computing anything: computed slots by
// value, deferred slots by computation kind and parameters. Two stores with
// equal inputs evaluate every rule the same way.
func (s *Store) Inputs() map[string]SlotInput {
	out := make(map[string]SlotInput, len(s.slots))
	for name, sl := range s.slots {
		if sl.state == slotComputed {
			v := sl.value
			out[name] = SlotInput{Value: &v}
			continue
		}
		out[name] = SlotInput{Kind: sl.kind, Params: sl.params}
	}
	return out
}

// FromDump rebuilds a fully computed store from a logged snapshot.
func FromDump(dump map[string]types.Value) *Store {
	s := NewStore(nil)
	for name, v := range dump {
		s.slots[Canonical(name)] = &slot{state: slotComputed, value: v}
	}
	return s
}
