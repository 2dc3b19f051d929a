package consequence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/abusefilter/internal/types"
)

func TestMemAccountsConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	m := NewMemAccounts()

	const users, writers = 4, 25
	var wg sync.WaitGroup
	for u := int64(1); u <= users; u++ {
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(u int64, w int) {
				defer wg.Done()
				_, _, err := m.UpdateAccount(ctx, u, func(a *types.Account) error {
					a.Groups = append(a.Groups, fmt.Sprintf("g%d", w))
					return nil
				})
				assert.NoError(t, err)
			}(u, w)
		}
	}
	wg.Wait()

	for u := int64(1); u <= users; u++ {
		acct, ok := m.Get(u)
		require.True(t, ok, "user %d missing", u)
		assert.Len(t, acct.Groups, writers, "user %d lost writes", u)
		assert.Equal(t, int64(writers), acct.Version)
	}
}

func TestMemAccountsFailedUpdateWritesNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemAccounts()
	m.Put(types.Account{UserID: 7, Name: "Alice", Version: 3})

	prior, after, err := m.UpdateAccount(ctx, 7, func(a *types.Account) error {
		a.Blocked = true
		return ErrNoChange
	})
	require.True(t, errors.Is(err, ErrNoChange))
	assert.Equal(t, prior, after)

	acct, _ := m.Get(7)
	assert.False(t, acct.Blocked)
	assert.Equal(t, int64(3), acct.Version)
}
