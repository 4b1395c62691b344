// Package hashtable implements the in-memory, bucket-sharded hash table of
// stored values that backs a single vBucket: a two-perspective,
// eviction-aware table distinguishing committed from pending values.
package hashtable

import "time"

// Datatype is a bitmask of the document's encoding flags.
type Datatype uint8

const (
	DatatypeRaw Datatype = 1 << iota
	DatatypeJSON
	DatatypeSnappy
	DatatypeXattr
)

// CommittedState distinguishes a durable-write prepare from the two ways a
// mutation can become visible.
type CommittedState int

const (
	CommittedViaMutation CommittedState = iota
	CommittedViaPrepare
	Pending
)

// TempMarkerKind tags a StoredValue created to hold a place while a
// background fetch or not-yet-resolved lookup is in flight.
type TempMarkerKind int

const (
	TempNone TempMarkerKind = iota
	TempInit
	TempNonExistent
	TempDeleted
)

// DeletionSource records why a StoredValue became a tombstone.
type DeletionSource int

const (
	DeletionExplicit DeletionSource = iota
	DeletionTTL
)

// Perspective selects which of the (at most two) committed-states
// coexisting at one key a lookup is interested in.
type Perspective int

const (
	Committed Perspective = iota
	PendingOnly
	Any
)

// Item is the serializable form of a StoredValue, used to queue a mutation
// into the checkpoint manager, replication stream, or persistence.
type Item struct {
	Key            string
	Value          []byte
	Datatype       Datatype
	Flags          uint32
	Expiry         time.Time
	Cas            uint64
	BySeqno        int64
	RevSeqno       uint64
	CommittedState CommittedState
	Deleted        bool
	DeletionSource DeletionSource
	PrepareSeqno   int64 // set on commit/abort items, 0 otherwise
	CollectionID   uint64
}

// StoredValue is the in-memory record for one key. Mutation is only valid
// while holding the bucket lock that covers its shard — see BucketLock.
type StoredValue struct {
	Key      string
	Value    []byte
	Datatype Datatype
	Flags    uint32
	Expiry   time.Time

	Cas      uint64
	BySeqno  int64
	RevSeqno uint64

	CommittedState CommittedState
	Deleted        bool
	DeletionSource DeletionSource

	// AccessCount is not updated by the hash table; Value eviction follows
	// the HashTable's residency LRU instead.
	AccessCount int64
	LastAccess  time.Time

	LockUntil time.Time
	Resident  bool

	TempMarker TempMarkerKind

	CollectionID uint64
}

// IsLocked reports whether the value is under an active getLocked lock at
// asOf.
func (sv *StoredValue) IsLocked(asOf time.Time) bool {
	return !sv.LockUntil.IsZero() && asOf.Before(sv.LockUntil)
}

// IsExpired reports whether the value's expiry has passed as of asOf. A
// zero Expiry means "never expires".
func (sv *StoredValue) IsExpired(asOf time.Time) bool {
	return !sv.Expiry.IsZero() && asOf.After(sv.Expiry)
}

// IsTempItem reports whether this is a placeholder never meant to be
// queued for persistence.
func (sv *StoredValue) IsTempItem() bool {
	return sv.TempMarker != TempNone
}

// ToItem renders the StoredValue into its queueable form.
func (sv *StoredValue) ToItem() *Item {
	return &Item{
		Key:            sv.Key,
		Value:          sv.Value,
		Datatype:       sv.Datatype,
		Flags:          sv.Flags,
		Expiry:         sv.Expiry,
		Cas:            sv.Cas,
		BySeqno:        sv.BySeqno,
		RevSeqno:       sv.RevSeqno,
		CommittedState: sv.CommittedState,
		Deleted:        sv.Deleted,
		DeletionSource: sv.DeletionSource,
		CollectionID:   sv.CollectionID,
	}
}

// FromItem constructs the in-memory StoredValue a queued Item represents.
// Pending values are always resident.
func FromItem(it *Item) *StoredValue {
	sv := &StoredValue{
		Key:            it.Key,
		Value:          it.Value,
		Datatype:       it.Datatype,
		Flags:          it.Flags,
		Expiry:         it.Expiry,
		Cas:            it.Cas,
		BySeqno:        it.BySeqno,
		RevSeqno:       it.RevSeqno,
		CommittedState: it.CommittedState,
		Deleted:        it.Deleted,
		DeletionSource: it.DeletionSource,
		CollectionID:   it.CollectionID,
		LastAccess:     time.Now(),
		Resident:       true,
	}
	if it.CommittedState == Pending {
		sv.Resident = true
	}
	return sv
}
