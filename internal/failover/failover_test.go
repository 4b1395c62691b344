package failover

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTableSeedsSingleBranch(t *testing.T) {
	tbl := New(0)
	entries := tbl.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(0), entries[0].Seqno)
}

func TestCreateEntryAppendsAndCaps(t *testing.T) {
	tbl := New(3)
	tbl.CreateEntry(10)
	tbl.CreateEntry(20)
	tbl.CreateEntry(30)

	entries := tbl.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, int64(30), tbl.Latest().Seqno)
}

func TestResolveStreamRequestValidOnCurrentBranch(t *testing.T) {
	tbl := New(0)
	latest := tbl.Latest()

	_, mustRollback := tbl.ResolveStreamRequest(latest.UUID, 5)
	assert.False(t, mustRollback)
}

func TestResolveStreamRequestRollsBackOnSupersededBranch(t *testing.T) {
	tbl := New(0)
	first := tbl.Latest()
	tbl.CreateEntry(100)

	rollbackTo, mustRollback := tbl.ResolveStreamRequest(first.UUID, 150)
	assert.True(t, mustRollback)
	assert.Equal(t, int64(100), rollbackTo)
}

func TestResolveStreamRequestUnknownUUIDRollsBackToOldest(t *testing.T) {
	tbl := New(0)
	tbl.CreateEntry(50)

	rollbackTo, mustRollback := tbl.ResolveStreamRequest(uuid.New(), 10)
	assert.True(t, mustRollback)
	assert.Equal(t, int64(0), rollbackTo)
}

func TestValidateRejectsNonMonotonicEntries(t *testing.T) {
	entries := []Entry{{Seqno: 10}, {Seqno: 5}}
	assert.Error(t, Validate(entries))
}
