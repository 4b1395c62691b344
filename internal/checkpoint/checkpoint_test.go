package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDirtyThenGetItemsForCursor(t *testing.T) {
	m := New(Config{}, nil)

	m.QueueDirty(1, "a", "va")
	m.QueueDirty(2, "b", "vb")
	m.QueueDirty(3, "c", "vc")

	items, err := m.GetItemsForCursor("persistence")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, int64(1), items[0].Seqno)
	assert.Equal(t, int64(3), items[2].Seqno)

	// A second call with nothing new queued returns nothing.
	items, err = m.GetItemsForCursor("persistence")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestQueueDirtyRejectsNonMonotonicSeqno(t *testing.T) {
	m := New(Config{}, nil)
	m.QueueDirty(5, "a", "va")

	assert.Panics(t, func() {
		m.QueueDirty(5, "b", "vb")
	})
}

func TestIndependentCursorsAdvanceIndependently(t *testing.T) {
	m := New(Config{}, nil)
	m.RegisterCursor("replica-1")

	m.QueueDirty(1, "a", "va")
	m.QueueDirty(2, "b", "vb")

	items, err := m.GetItemsForCursor("persistence")
	require.NoError(t, err)
	require.Len(t, items, 2)

	// replica-1 never consumed, so it still sees both items.
	items, err = m.GetItemsForCursor("replica-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
}

func TestRotationOnFullCheckpoint(t *testing.T) {
	m := New(Config{MaxItemsPerCheckpoint: 2}, nil)
	m.QueueDirty(1, "a", "va")
	m.QueueDirty(2, "b", "vb")
	m.QueueDirty(3, "c", "vc") // must rotate

	assert.Equal(t, 2, m.NumCheckpoints())

	items, err := m.GetItemsForCursor("persistence")
	require.NoError(t, err)
	require.Len(t, items, 3)
}

func TestClearResetsCursorsAndCheckpoints(t *testing.T) {
	m := New(Config{}, nil)
	m.QueueDirty(1, "a", "va")
	m.QueueDirty(2, "b", "vb")

	m.Clear(10)
	assert.Equal(t, 1, m.NumCheckpoints())

	m.QueueDirty(10, "c", "vc")
	items, err := m.GetItemsForCursor("persistence")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(10), items[0].Seqno)
}

func TestRemoveClosedUnreferencedCheckpoints(t *testing.T) {
	m := New(Config{MaxItemsPerCheckpoint: 1}, nil)
	m.QueueDirty(1, "a", "va")
	m.QueueDirty(2, "b", "vb")
	m.QueueDirty(3, "c", "vc")

	// Persistence cursor catches up fully; replica-1 never registered, so
	// only the persistence cursor bounds what can be trimmed.
	_, err := m.GetItemsForCursor("persistence")
	require.NoError(t, err)

	removed := m.RemoveClosedUnreferencedCheckpoints()
	assert.Greater(t, removed, 0)
}
