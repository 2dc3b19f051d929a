package vars

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/solatis/abusefilter/internal/types"
)

// Computer resolves deferred slots. The store passes itself so a computation
// can read the variables it depends on.
type Computer interface {
	Compute(ctx context.Context, kind string, params map[string]types.Value, store *Store) (types.Value, error)
}

// ComputeFunc implements one computation kind.
type ComputeFunc func(ctx context.Context, params map[string]types.Value, store *Store) (types.Value, error)

// Registry is a Computer dispatching on kind. Populate it at startup; it is
// read-only afterwards and safe to share between stores.
type Registry struct {
	funcs map[string]ComputeFunc

	// Observe, when set, is called after every computation.
	Observe func(kind string, elapsed time.Duration, err error)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: map[string]ComputeFunc{}}
}

// Register adds or replaces the function for kind.
func (r *Registry) Register(kind string, fn ComputeFunc) {
	r.funcs[kind] = fn
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	out := make([]string, 0, len(r.funcs))
	for k := range r.funcs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Compute implements Computer.
func (r *Registry) Compute(ctx context.Context, kind string, params map[string]types.Value, store *Store) (types.Value, error) {
	fn, ok := r.funcs[kind]
	if !ok {
		return types.Null, fmt.Errorf("%w: %s", types.ErrUnknownComputation, kind)
	}
	if r.Observe == nil {
		return fn(ctx, params, store)
	}
	start := time.Now()
	v, err := fn(ctx, params, store)
	r.Observe(kind, time.Since(start), err)
	return v, err
}
