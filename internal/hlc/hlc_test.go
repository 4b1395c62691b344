package hlc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextCasMonotonic(t *testing.T) {
	c := New(Config{})
	fixed := time.Unix(0, 1_000_000_000)
	c.nowFn = func() time.Time { return fixed }

	first := c.NextCas()
	second := c.NextCas()
	third := c.NextCas()

	require.Less(t, first, second)
	require.Less(t, second, third)
}

func TestNextCasAdvancesWithWallClock(t *testing.T) {
	c := New(Config{})
	current := time.Unix(0, 1_000_000_000)
	c.nowFn = func() time.Time { return current }

	first := c.NextCas()
	current = current.Add(time.Second)
	second := c.NextCas()

	assert.Greater(t, second, first)
	assert.Equal(t, uint64(current.UnixNano()), second)
}

func TestSetMaxNeverRegresses(t *testing.T) {
	c := New(Config{})
	c.nowFn = func() time.Time { return time.Unix(0, 500) }

	c.SetMax(1_000_000)
	assert.Equal(t, uint64(1_000_000), c.Max())

	c.SetMax(10)
	assert.Equal(t, uint64(1_000_000), c.Max(), "SetMax must never move the clock backwards")

	next := c.NextCas()
	assert.Greater(t, next, uint64(1_000_000))
}

func TestValidateDrift(t *testing.T) {
	c := New(Config{DriftAheadThreshold: 10 * time.Millisecond, DriftBehindThreshold: 100 * time.Millisecond})
	now := time.Unix(0, 1_000_000_000)
	c.nowFn = func() time.Time { return now }

	assert.True(t, c.ValidateDrift(uint64(now.UnixNano())))
	assert.True(t, c.ValidateDrift(uint64(now.Add(5*time.Millisecond).UnixNano())))
	assert.False(t, c.ValidateDrift(uint64(now.Add(50*time.Millisecond).UnixNano())))
	assert.True(t, c.ValidateDrift(uint64(now.Add(-50*time.Millisecond).UnixNano())))
	assert.False(t, c.ValidateDrift(uint64(now.Add(-500*time.Millisecond).UnixNano())))
}
