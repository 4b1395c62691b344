package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotReflectsLastSetValuesForVBucket(t *testing.T) {
	r := NewRegistry("vbstatstest")

	r.SetHighSeqno(0, 42)
	r.SetNumItems(0, 7)
	r.SetHighSeqno(1, 999) // different vbucket, must not leak into vbid 0's snapshot

	snap := r.Snapshot(0)
	assert.Equal(t, "42", snap["vb_high_seqno"])
	assert.Equal(t, "7", snap["vb_num_items"])
	_, ok := snap["vb_num_checkpoints"]
	assert.False(t, ok, "never-set metrics should be absent, not zero-valued")

	snap1 := r.Snapshot(1)
	assert.Equal(t, "999", snap1["vb_high_seqno"])
}

func TestCountersIncrement(t *testing.T) {
	r := NewRegistry("vbstatstest2")
	r.IncSyncWriteCommitted(0)
	r.IncSyncWriteCommitted(0)
	r.IncEvictions(0, 3)
	r.IncRollbacks(0)
	// Counters are exercised for registration/no-panic; value assertions
	// would require scraping the Prometheus collector, which the cached
	// Snapshot deliberately does not do for monotonic counters.
}
