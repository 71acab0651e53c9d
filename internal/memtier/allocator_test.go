package memtier

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mjpeg-stream-server/internal/errors"
)

func TestAllocatePrefersFastTier(t *testing.T) {
	a := New(WithFastBudget(3000), WithSlowLimit(10000))

	blk, err := a.Allocate(nil, 1000)
	require.NoError(t, err)
	assert.Equal(t, TierFast, blk.Tier())
	assert.Equal(t, 1000, blk.Len())
	assert.Equal(t, int64(2000), a.FastAvailable())
}

func TestAllocateLargeRequestGoesSlow(t *testing.T) {
	a := New(WithFastBudget(3000), WithSlowLimit(10000))

	// 2001 > 3000*2/3, so the fast tier is skipped even though it would fit.
	blk, err := a.Allocate(nil, 2001)
	require.NoError(t, err)
	assert.Equal(t, TierSlow, blk.Tier())
	assert.Equal(t, int64(3000), a.FastAvailable())
	assert.Equal(t, int64(10000-2001), a.SlowAvailable())
}

func TestAllocateThresholdTracksFreeFastMemory(t *testing.T) {
	a := New(WithFastBudget(3000), WithSlowLimit(10000))

	first, err := a.Allocate(nil, 1500)
	require.NoError(t, err)
	require.Equal(t, TierFast, first.Tier())

	// 1000 == 1500*2/3, still fast.
	second, err := a.Allocate(nil, 1000)
	require.NoError(t, err)
	assert.Equal(t, TierFast, second.Tier())

	// 500 bytes left; 400 > 500*2/3 so this goes slow.
	third, err := a.Allocate(nil, 400)
	require.NoError(t, err)
	assert.Equal(t, TierSlow, third.Tier())
}

func TestAllocateFreesPreviousFirst(t *testing.T) {
	a := New(WithFastBudget(3000), WithSlowLimit(1))

	blk, err := a.Allocate(nil, 1800)
	require.NoError(t, err)
	require.Equal(t, TierFast, blk.Tier())

	// Without freeing the previous block first only 1200 bytes would be
	// free and the request would fail.
	blk, err = a.Allocate(blk, 1900)
	require.NoError(t, err)
	assert.Equal(t, TierFast, blk.Tier())
	assert.Equal(t, int64(1100), a.FastAvailable())
}

func TestAllocateExhaustionIsFatal(t *testing.T) {
	a := New(WithFastBudget(100), WithSlowLimit(200))

	_, err := a.Allocate(nil, 500)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.True(t, errors.Is(err, errors.ErrResourceExhausted))
}

func TestAllocateUsesProbeWithoutSlowLimit(t *testing.T) {
	var probed int
	a := New(WithFastBudget(0), WithProbe(func() (uint64, error) {
		probed++
		return 1 << 20, nil
	}))

	blk, err := a.Allocate(nil, 4096)
	require.NoError(t, err)
	assert.Equal(t, TierSlow, blk.Tier())
	assert.Positive(t, probed)
}

func TestAllocateProbeFailureIsFatal(t *testing.T) {
	a := New(WithFastBudget(0), WithProbe(func() (uint64, error) {
		return 0, fmt.Errorf("no /proc")
	}))

	_, err := a.Allocate(nil, 10)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "no /proc")
}

func TestAllocateInPreferredTier(t *testing.T) {
	a := New(WithFastBudget(1000), WithSlowLimit(5000))

	blk, err := a.AllocateIn(TierSlow, nil, 100)
	require.NoError(t, err)
	assert.Equal(t, TierSlow, blk.Tier())

	blk, err = a.AllocateIn(TierFast, nil, 900)
	require.NoError(t, err)
	assert.Equal(t, TierFast, blk.Tier())

	// Fast is full now, falls back to slow.
	blk, err = a.AllocateIn(TierFast, nil, 200)
	require.NoError(t, err)
	assert.Equal(t, TierSlow, blk.Tier())
}

func TestFreeRestoresBudget(t *testing.T) {
	a := New(WithFastBudget(1000), WithSlowLimit(1000))

	blk, err := a.Allocate(nil, 500)
	require.NoError(t, err)
	a.Free(blk)
	a.Free(blk)
	a.Free(nil)

	st := a.Stats()
	assert.Equal(t, int64(0), st.FastUsed)
	assert.Equal(t, int64(1), st.Allocations)
	assert.Nil(t, blk.Bytes())
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier("psram")
	require.NoError(t, err)
	assert.Equal(t, TierSlow, tier)

	tier, err = ParseTier("fast")
	require.NoError(t, err)
	assert.Equal(t, TierFast, tier)

	_, err = ParseTier("flash")
	assert.True(t, errors.IsInvalid(err))
}
