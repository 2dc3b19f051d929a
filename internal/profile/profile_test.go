package profile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/abusefilter/internal/countstore"
	"github.com/solatis/abusefilter/internal/types"
)

func TestRecordRun(t *testing.T) {
	ctx := context.Background()
	p := New(countstore.NewMemCountStore(), 0)

	results := []types.MatchResult{
		{RuleID: 1, Matched: true, Ops: 10, Duration: 30 * time.Microsecond},
		{RuleID: 2, Matched: false, Ops: 4, Duration: 10 * time.Microsecond},
	}
	require.NoError(t, p.RecordRun(ctx, "default", results))
	require.NoError(t, p.RecordRun(ctx, "default", results[1:]))

	gp, err := p.GroupProfile(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, GroupProfile{Total: 2, Matches: 1}, gp)

	rp, err := p.RuleProfile(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rp.Runs)
	assert.Equal(t, int64(0), rp.Matches)
	assert.Equal(t, 4.0, rp.AvgOps())
	assert.Equal(t, 10*time.Microsecond, rp.AvgDuration())

	rp, _ = p.RuleProfile(ctx, 1)
	assert.Equal(t, int64(1), rp.Matches)

	require.NoError(t, p.ResetRule(ctx, 1))
	rp, _ = p.RuleProfile(ctx, 1)
	assert.Equal(t, RuleProfile{}, rp)
	assert.Equal(t, 0.0, rp.AvgOps())
}

func TestActionsCap(t *testing.T) {
	ctx := context.Background()
	p := New(countstore.NewMemCountStore(), 3)

	for i := 0; i < 3; i++ {
		require.NoError(t, p.RecordRun(ctx, "g", nil))
	}
	gp, _ := p.GroupProfile(ctx, "g")
	assert.Equal(t, int64(3), gp.Total)

	require.NoError(t, p.RecordRun(ctx, "g", nil))
	gp, _ = p.GroupProfile(ctx, "g")
	assert.Equal(t, int64(1), gp.Total)
}
