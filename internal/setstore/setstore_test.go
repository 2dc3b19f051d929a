package setstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemSetStore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	s := NewMemSetStore()
	ok, err := s.InSet(ctx, "blocked-domains", "spam.example")
	assert.NoError(err)
	assert.False(ok)

	s.Replace("blocked-domains", []string{"Spam.Example", " bad.example "})
	ok, _ = s.InSet(ctx, "blocked-domains", "SPAM.example")
	assert.True(ok)
	ok, _ = s.InSet(ctx, "blocked-domains", "bad.example")
	assert.True(ok)
	ok, _ = s.InSet(ctx, "blocked-domains", "good.example")
	assert.False(ok)
}

func TestMemSetStoreLoadFromFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "sets.yaml")
	require.NoError(t, os.WriteFile(p, []byte("blocked-domains:\n  - spam.example\n  - casino.example\n"), 0o600))

	s := NewMemSetStore()
	require.NoError(t, s.LoadFromFile(p))

	ok, err := s.InSet(context.Background(), "blocked-domains", "casino.example")
	assert.NoError(t, err)
	assert.True(t, ok)
}
