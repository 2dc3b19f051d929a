package rules

import (
	"context"
	"testing"

	"github.com/solatis/abusefilter/internal/types"
)

// mapVars is a Variables backed by a map that counts reads per name.
type mapVars struct {
	values map[string]types.Value
	reads  map[string]int
}

func newMapVars(values map[string]types.Value) *mapVars {
	return &mapVars{values: values, reads: map[string]int{}}
}

func (m *mapVars) Get(_ context.Context, name string) (types.Value, error) {
	m.reads[name]++
	v, ok := m.values[name]
	if !ok {
		return types.Null, &types.UnsetVariableError{Name: name}
	}
	return v, nil
}

func mustCompile(t *testing.T, src string) *Program {
	t.Helper()
	prog, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile(%q) error = %v, want nil", src, err)
	}
	return prog
}

func evalString(t *testing.T, src string, vars map[string]types.Value) (types.Value, error) {
	t.Helper()
	prog := mustCompile(t, src)
	out, err := NewEvaluator(nil, 0).Evaluate(context.Background(), prog, newMapVars(vars), 10000)
	return out.Value, err
}
