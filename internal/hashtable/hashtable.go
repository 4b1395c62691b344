package hashtable

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/vbucket-engine/core/internal/errors"
)

// EvictionPolicy selects whether whole entries may be evicted (Full) or
// only their value bytes, leaving the key resident (Value).
type EvictionPolicy int

const (
	// ValueEvictionPolicy evicts value bytes but keeps the key, so a read
	// always knows whether the key exists without a bgfetch.
	ValueEvictionPolicy EvictionPolicy = iota
	// FullEvictionPolicy may drop whole entries; residency of a given key
	// becomes unknown and callers must consult a Bloom filter before
	// deciding whether a bgfetch is required.
	FullEvictionPolicy
)

const defaultShardCount = 64

// BucketLock is the only handle through which a StoredValue may be
// mutated. It is obtained from HashTable.Lock and must be released with
// Unlock before any observer callback fires.
type BucketLock struct {
	shard *shard
}

// Unlock releases the underlying shard mutex.
func (b *BucketLock) Unlock() {
	b.shard.mu.Unlock()
}

type keySlot struct {
	committed *StoredValue
	pending   *StoredValue
}

type shard struct {
	mu                 sync.Mutex
	entries            map[string]*keySlot
	maxDeletedRevSeqno map[string]uint64
}

// HashTable is the bucket-sharded map key -> StoredValue. Sharding is by
// xxhash(key) mod numShards into a fixed pool of independently locked
// shards.
type HashTable struct {
	shards []*shard
	policy EvictionPolicy
	logger *zap.Logger

	// residency tracks per-key recency for the Value-eviction policy; an
	// LRU eviction clears the corresponding StoredValue's body rather than
	// removing the key.
	residency *lru.Cache
}

// Config configures a new HashTable.
type Config struct {
	NumShards      int
	Policy         EvictionPolicy
	MaxResidentLRU int // 0 disables LRU-driven value eviction
}

// New creates a HashTable with the given shard count and eviction policy.
func New(cfg Config, logger *zap.Logger) *HashTable {
	if cfg.NumShards <= 0 {
		cfg.NumShards = defaultShardCount
	}
	ht := &HashTable{
		shards: make([]*shard, cfg.NumShards),
		policy: cfg.Policy,
		logger: logger,
	}
	for i := range ht.shards {
		ht.shards[i] = &shard{
			entries:            make(map[string]*keySlot),
			maxDeletedRevSeqno: make(map[string]uint64),
		}
	}
	if cfg.Policy == ValueEvictionPolicy && cfg.MaxResidentLRU > 0 {
		evictCache, err := lru.NewWithEvict(cfg.MaxResidentLRU, ht.onEvict)
		if err == nil {
			ht.residency = evictCache
		}
	}
	return ht
}

func (ht *HashTable) shardFor(key string) *shard {
	h := xxhash.Sum64String(key)
	return ht.shards[h%uint64(len(ht.shards))]
}

// Lock acquires the bucket lock covering key and returns the handle
// required by every other HashTable method.
func (ht *HashTable) Lock(key string) *BucketLock {
	s := ht.shardFor(key)
	s.mu.Lock()
	return &BucketLock{shard: s}
}

func (s *shard) slot(key string) *keySlot {
	return s.entries[key]
}

// Find returns the StoredValue visible from the given perspective, or nil.
func (ht *HashTable) Find(lock *BucketLock, key string, perspective Perspective) *StoredValue {
	slot := lock.shard.slot(key)
	if slot == nil {
		return nil
	}
	switch perspective {
	case Committed:
		return slot.committed
	case PendingOnly:
		return slot.pending
	default: // Any
		if slot.pending != nil {
			return slot.pending
		}
		return slot.committed
	}
}

// FindForWrite returns the value visible to a writer deciding whether a
// mutation may proceed: the pending value if one is tracked (so the caller
// can fail SyncWriteInProgress), otherwise the committed value.
func (ht *HashTable) FindForWrite(lock *BucketLock, key string) *StoredValue {
	slot := lock.shard.slot(key)
	if slot == nil {
		return nil
	}
	if slot.pending != nil {
		return slot.pending
	}
	return slot.committed
}

func (ht *HashTable) touch(key string) {
	if ht.residency != nil {
		ht.residency.Add(key, struct{}{})
	}
}

// AddNewStoredValue inserts a brand-new entry (no prior value at this key
// in the hash table) and returns the stored reference.
func (ht *HashTable) AddNewStoredValue(lock *BucketLock, item *Item) *StoredValue {
	sv := FromItem(item)
	slot := lock.shard.slot(item.Key)
	if slot == nil {
		slot = &keySlot{}
		lock.shard.entries[item.Key] = slot
	}
	if item.CommittedState == Pending {
		if slot.pending != nil {
			errors.Raise("addNewStoredValue: pending value already tracked for key " + item.Key)
		}
		slot.pending = sv
	} else {
		slot.committed = sv
	}
	ht.touch(item.Key)
	return sv
}

// UpdateStoredValue replaces old in place, preserving the slot location so
// any iterator holding a reference to the slot observes the new value.
func (ht *HashTable) UpdateStoredValue(lock *BucketLock, old *StoredValue, item *Item) *StoredValue {
	sv := FromItem(item)
	slot := lock.shard.slot(item.Key)
	if slot == nil {
		errors.Raise("updateStoredValue: no slot for key " + item.Key)
	}
	if item.CommittedState == Pending {
		slot.pending = sv
	} else {
		slot.committed = sv
		if slot.pending == old {
			slot.pending = nil
		}
	}
	ht.touch(item.Key)
	return sv
}

// Del physically removes a key. Forbidden when the committed value is
// locked and not already deleted.
func (ht *HashTable) Del(lock *BucketLock, key string) error {
	slot := lock.shard.slot(key)
	if slot == nil {
		return nil
	}
	if slot.committed != nil && slot.committed.IsLocked(time.Now()) && !slot.committed.Deleted {
		return errors.New(errors.Locked, "cannot remove a locked, non-deleted value: "+key)
	}
	delete(lock.shard.entries, key)
	if ht.residency != nil {
		ht.residency.Remove(key)
	}
	return nil
}

// CleanupIfTemporaryItem discards a temp-marker value once it is no longer
// useful (e.g. a bgfetch resolved and real data was installed).
func (ht *HashTable) CleanupIfTemporaryItem(lock *BucketLock, sv *StoredValue) {
	if sv == nil || !sv.IsTempItem() {
		return
	}
	slot := lock.shard.slot(sv.Key)
	if slot == nil {
		return
	}
	if slot.committed == sv {
		delete(lock.shard.entries, sv.Key)
	}
}

// UpdateMaxDeletedRevSeqno records the highest revSeqno ever observed for a
// key, so that if the key is later recreated its revSeqno restarts
// strictly above this value (the monotonic-across-recreation invariant).
func (ht *HashTable) UpdateMaxDeletedRevSeqno(lock *BucketLock, sv *StoredValue) {
	if sv == nil {
		return
	}
	cur := lock.shard.maxDeletedRevSeqno[sv.Key]
	if sv.RevSeqno > cur {
		lock.shard.maxDeletedRevSeqno[sv.Key] = sv.RevSeqno
	}
}

// NextRevSeqno returns the revSeqno a new version of key must use: strictly
// greater than anything ever seen for this key, whether that came from a
// prior deletion recorded in maxDeletedRevSeqno or from the currently live
// StoredValue being replaced (existing may be nil for a brand new key).
func (ht *HashTable) NextRevSeqno(lock *BucketLock, key string, existing *StoredValue) uint64 {
	max := lock.shard.maxDeletedRevSeqno[key]
	if existing != nil && existing.RevSeqno > max {
		max = existing.RevSeqno
	}
	return max + 1
}

func (ht *HashTable) onEvict(key interface{}, _ interface{}) {
	k, ok := key.(string)
	if !ok {
		return
	}
	s := ht.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot, ok := s.entries[k]; ok && slot.committed != nil {
		slot.committed.Value = nil
		slot.committed.Resident = false
		if ht.logger != nil {
			ht.logger.Debug("evicted value bytes for key", zap.String("key", k))
		}
	}
}

// Policy returns the configured eviction policy.
func (ht *HashTable) Policy() EvictionPolicy {
	return ht.policy
}
