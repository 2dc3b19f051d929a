package vars

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/solatis/abusefilter/internal/types"
)

// countingComputer counts invocations and fails while failures > 0.
type countingComputer struct {
	calls    int
	failures int
	value    types.Value
}

func (c *countingComputer) Compute(_ context.Context, _ string, _ map[string]types.Value, _ *Store) (types.Value, error) {
	c.calls++
	if c.failures > 0 {
		c.failures--
		return types.Null, errors.New("storage unavailable")
	}
	return c.value, nil
}

func TestStore_DeferredComputedOnce(t *testing.T) {
	comp := &countingComputer{value: types.String("text")}
	s := NewStore(comp)
	if err := s.SetDeferred("new_wikitext", "revision-text-by-id", nil); err != nil {
		t.Fatalf("SetDeferred() error = %v, want nil", err)
	}
	if s.IsComputed("new_wikitext") {
		t.Fatalf("IsComputed() = true before first read, want false")
	}

	for i := 0; i < 3; i++ {
		v, err := s.Get(context.Background(), "new_wikitext")
		if err != nil {
			t.Fatalf("Get() error = %v, want nil", err)
		}
		if v.AsString() != "text" {
			t.Errorf("Get() = %v, want %q", v, "text")
		}
	}
	if comp.calls != 1 {
		t.Errorf("computer calls = %d, want 1", comp.calls)
	}
	if s.ComputedLazily() != 1 {
		t.Errorf("ComputedLazily() = %d, want 1", s.ComputedLazily())
	}
}

func TestStore_FailedComputationRetried(t *testing.T) {
	comp := &countingComputer{failures: 1, value: types.Int(7)}
	s := NewStore(comp)
	_ = s.SetDeferred("old_size", KindLength, nil)

	_, err := s.Get(context.Background(), "old_size")
	var ce *types.ComputationError
	if !errors.As(err, &ce) {
		t.Fatalf("Get() error = %v, want ComputationError", err)
	}
	if ce.Variable != "old_size" || ce.Kind != KindLength {
		t.Errorf("ComputationError = %+v, want variable old_size kind %s", ce, KindLength)
	}
	if s.IsComputed("old_size") {
		t.Errorf("IsComputed() = true after failure, want false")
	}

	v, err := s.Get(context.Background(), "old_size")
	if err != nil {
		t.Fatalf("second Get() error = %v, want nil", err)
	}
	if v.AsNumber() != 7 {
		t.Errorf("second Get() = %v, want 7", v)
	}
	if comp.calls != 2 {
		t.Errorf("computer calls = %d, want 2", comp.calls)
	}
}

func TestStore_WriteRules(t *testing.T) {
	s := NewStore(&countingComputer{})

	if err := s.SetDeferred("a", "k", nil); err != nil {
		t.Fatalf("SetDeferred(a) error = %v, want nil", err)
	}
	if err := s.SetDeferred("a", "k", nil); !errors.Is(err, types.ErrVariableAlreadySet) {
		t.Errorf("SetDeferred(a) twice error = %v, want ErrVariableAlreadySet", err)
	}
	if err := s.Set("a", types.Int(1)); err != nil {
		t.Errorf("Set() over deferred error = %v, want nil", err)
	}
	if err := s.Set("a", types.Int(2)); !errors.Is(err, types.ErrVariableAlreadySet) {
		t.Errorf("Set() over computed error = %v, want ErrVariableAlreadySet", err)
	}
	if err := s.SetDeferred("a", "k", nil); !errors.Is(err, types.ErrVariableAlreadySet) {
		t.Errorf("SetDeferred() over computed error = %v, want ErrVariableAlreadySet", err)
	}
	v, _ := s.Get(context.Background(), "a")
	if v.AsNumber() != 1 {
		t.Errorf("Get(a) = %v, want 1", v)
	}
}

func TestStore_UnsetVariables(t *testing.T) {
	s := NewStore(nil)
	tests := []struct {
		name  string
		known bool
	}{
		{"new_wikitext", true},
		{"file_sha1", true},
		{"no_such_variable", false},
	}
	for _, tt := range tests {
		_, err := s.Get(context.Background(), tt.name)
		var uv *types.UnsetVariableError
		if !errors.As(err, &uv) {
			t.Errorf("Get(%s) error = %v, want UnsetVariableError", tt.name, err)
			continue
		}
		if uv.Known != tt.known {
			t.Errorf("Get(%s) Known = %v, want %v", tt.name, uv.Known, tt.known)
		}
	}
}

func TestStore_DeprecatedAlias(t *testing.T) {
	s := NewStore(nil)
	_ = s.Set("page_title", types.String("Main Page"))
	v, err := s.Get(context.Background(), "article_text")
	if err != nil {
		t.Fatalf("Get(article_text) error = %v, want nil", err)
	}
	if v.AsString() != "Main Page" {
		t.Errorf("Get(article_text) = %v, want %q", v, "Main Page")
	}
}

func TestStore_CycleDetected(t *testing.T) {
	reg := NewRegistry()
	reg.Register("self", func(ctx context.Context, _ map[string]types.Value, s *Store) (types.Value, error) {
		return s.Get(ctx, "loop")
	})
	s := NewStore(reg)
	_ = s.SetDeferred("loop", "self", nil)

	_, err := s.Get(context.Background(), "loop")
	var ce *types.ComputationError
	if !errors.As(err, &ce) {
		t.Fatalf("Get(loop) error = %v, want ComputationError", err)
	}
}

func TestStore_SnapshotExcludesDeferred(t *testing.T) {
	s := NewStore(&countingComputer{value: types.True})
	_ = s.Set("user_name", types.String("Alice"))
	_ = s.SetDeferred("user_age", KindAge, nil)

	snap := s.Snapshot()
	if _, ok := snap["user_age"]; ok {
		t.Errorf("Snapshot() contains deferred user_age")
	}
	if snap["user_name"].AsString() != "Alice" {
		t.Errorf("Snapshot()[user_name] = %v, want Alice", snap["user_name"])
	}

	restored := FromDump(snap)
	v, err := restored.Get(context.Background(), "user_name")
	if err != nil || v.AsString() != "Alice" {
		t.Errorf("FromDump().Get(user_name) = %v, %v, want Alice, nil", v, err)
	}
}

func TestStore_UnknownComputationKind(t *testing.T) {
	s := NewStore(NewRegistry())
	_ = s.SetDeferred("x", "no-such-kind", nil)
	_, err := s.Get(context.Background(), "x")
	if !errors.Is(err, types.ErrUnknownComputation) {
		t.Errorf("Get() error = %v, want ErrUnknownComputation", err)
	}
}

func TestStore_PropertyLazyIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("N reads of a deferred slot compute it exactly once", prop.ForAll(
		func(reads int, text string) bool {
			comp := &countingComputer{value: types.String(text)}
			s := NewStore(comp)
			_ = s.SetDeferred("v", "k", nil)
			for i := 0; i < reads; i++ {
				v, err := s.Get(context.Background(), "v")
				if err != nil || v.AsString() != text {
					return false
				}
			}
			return comp.calls == 1
		},
		gen.IntRange(1, 50),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestStore_InputsDoNotCompute(t *testing.T) {
	comp := &countingComputer{value: types.String("text")}
	s := NewStore(comp)
	if err := s.Set("user_editcount", types.Int(3)); err != nil {
		t.Fatalf("Set() error = %v, want nil", err)
	}
	params := map[string]types.Value{"revid": types.Int(42)}
	if err := s.SetDeferred("old_wikitext", "revision-text-by-id", params); err != nil {
		t.Fatalf("SetDeferred() error = %v, want nil", err)
	}

	in := s.Inputs()
	if comp.calls != 0 {
		t.Fatalf("Inputs() computed %d slots, want 0", comp.calls)
	}
	if v := in["user_editcount"].Value; v == nil || v.AsNumber() != 3 {
		t.Errorf("Inputs()[user_editcount].Value = %v, want 3", v)
	}
	deferred := in["old_wikitext"]
	if deferred.Value != nil || deferred.Kind != "revision-text-by-id" {
		t.Errorf("Inputs()[old_wikitext] = %+v, want deferred revision-text-by-id", deferred)
	}
	if deferred.Params["revid"].AsNumber() != 42 {
		t.Errorf("Inputs()[old_wikitext].Params[revid] = %v, want 42", deferred.Params["revid"])
	}
}
