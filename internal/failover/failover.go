// Package failover implements the per-vBucket failover table: an ordered
// log of (branch uuid, seqno) pairs recording every point at which this
// vBucket became active on a new node, used to detect and resolve a
// replica whose stream start point lies on a branch that no longer exists.
// The ordered, append/truncate-from-the-front traversal is grounded on the
// teacher's SkipList iterator shape (internal/storage/memtable/skiplist.go)
// — adapted to a small bounded slice since a failover table holds at most a
// few dozen entries and branch identity needs uuid.UUID, not string keys.
package failover

import (
	"sync"

	"github.com/google/uuid"

	"github.com/vbucket-engine/core/internal/errors"
)

// Entry is one branch point: the vBucket became active under UUID starting
// at Seqno.
type Entry struct {
	UUID  uuid.UUID
	Seqno int64
}

const defaultMaxEntries = 25

// Table is the ordered failover log for one vBucket, newest entry last.
type Table struct {
	mu         sync.Mutex
	entries    []Entry
	maxEntries int
}

// New creates a failover table seeded with one branch at seqno 0, the way
// a freshly created vBucket has exactly one identity before any failover
// has ever happened.
func New(maxEntries int) *Table {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Table{
		entries:    []Entry{{UUID: uuid.New(), Seqno: 0}},
		maxEntries: maxEntries,
	}
}

// CreateEntry records a new branch point at seqno, generating a fresh
// UUID, and evicts the oldest entry if the table is at capacity.
func (t *Table) CreateEntry(seqno int64) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := Entry{UUID: uuid.New(), Seqno: seqno}
	t.entries = append(t.entries, e)
	if len(t.entries) > t.maxEntries {
		t.entries = t.entries[len(t.entries)-t.maxEntries:]
	}
	return e
}

// Latest returns the most recent branch entry.
func (t *Table) Latest() Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[len(t.entries)-1]
}

// Entries returns a copy of the table, oldest first.
func (t *Table) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Replace overwrites the table wholesale, used when a passive vBucket
// receives its producer's failover log verbatim on stream setup.
func (t *Table) Replace(entries []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append([]Entry(nil), entries...)
}

// ResolveStreamRequest decides whether a consumer asking to stream from
// (requestedUUID, requestedSeqno) can be satisfied as-is, or must first
// roll back to an earlier seqno because requestedUUID names a branch this
// vBucket has since diverged from.
//
// If requestedUUID matches an entry and requestedSeqno is below the seqno
// of the entry immediately following it (or this is the newest
// entry), the request is valid. Otherwise the consumer must roll back to
// the latest seqno this table and the consumer could still agree on.
func (t *Table) ResolveStreamRequest(requestedUUID uuid.UUID, requestedSeqno int64) (rollbackTo int64, mustRollback bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, e := range t.entries {
		if e.UUID != requestedUUID {
			continue
		}
		// Valid only if the branch was still in effect at requestedSeqno,
		// i.e. no later branch started at or before requestedSeqno.
		if i+1 < len(t.entries) && t.entries[i+1].Seqno <= requestedSeqno {
			return t.entries[i+1].Seqno, true
		}
		return 0, false
	}

	// Unknown uuid: roll back to the oldest entry's seqno, which the consumer
	// could not possibly have already passed, which is the safest seqno
	// both sides are guaranteed to agree on.
	return t.entries[0].Seqno, true
}

// Validate rejects a malformed table (non-monotonic seqnos, which would
// mean two branches were recorded out of order).
func Validate(entries []Entry) error {
	for i := 1; i < len(entries); i++ {
		if entries[i].Seqno < entries[i-1].Seqno {
			return errors.New(errors.Einval, "failover table entries must be seqno-ordered")
		}
	}
	return nil
}
