package hashtable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newItem(key string, cas uint64, seqno int64) *Item {
	return &Item{
		Key:            key,
		Value:          []byte("v-" + key),
		Cas:            cas,
		BySeqno:        seqno,
		RevSeqno:       1,
		CommittedState: CommittedViaMutation,
	}
}

func TestAddNewStoredValueThenFind(t *testing.T) {
	ht := New(Config{NumShards: 4}, nil)
	lock := ht.Lock("a")
	defer lock.Unlock()

	sv := ht.AddNewStoredValue(lock, newItem("a", 1, 1))
	require.NotNil(t, sv)

	found := ht.Find(lock, "a", Any)
	require.NotNil(t, found)
	assert.Equal(t, sv, found)
	assert.Equal(t, "a", found.Key)
}

func TestFindMissingKeyReturnsNil(t *testing.T) {
	ht := New(Config{NumShards: 4}, nil)
	lock := ht.Lock("missing")
	defer lock.Unlock()

	assert.Nil(t, ht.Find(lock, "missing", Any))
	assert.Nil(t, ht.FindForWrite(lock, "missing"))
}

func TestPendingAndCommittedCoexist(t *testing.T) {
	ht := New(Config{NumShards: 4}, nil)
	lock := ht.Lock("k")

	committedItem := newItem("k", 1, 1)
	ht.AddNewStoredValue(lock, committedItem)

	pendingItem := newItem("k", 2, 2)
	pendingItem.CommittedState = Pending
	ht.AddNewStoredValue(lock, pendingItem)

	assert.Equal(t, CommittedViaMutation, ht.Find(lock, "k", Committed).CommittedState)
	assert.Equal(t, Pending, ht.Find(lock, "k", PendingOnly).CommittedState)
	// Any prefers the pending value, since a writer must see it to block.
	assert.Equal(t, Pending, ht.Find(lock, "k", Any).CommittedState)
	assert.Equal(t, Pending, ht.FindForWrite(lock, "k").CommittedState)
	lock.Unlock()
}

func TestUpdateStoredValueClearsMatchingPending(t *testing.T) {
	ht := New(Config{NumShards: 4}, nil)
	lock := ht.Lock("k")

	pendingItem := newItem("k", 2, 2)
	pendingItem.CommittedState = Pending
	pending := ht.AddNewStoredValue(lock, pendingItem)

	commitItem := newItem("k", 2, 3)
	commitItem.CommittedState = CommittedViaPrepare
	ht.UpdateStoredValue(lock, pending, commitItem)

	assert.Nil(t, ht.Find(lock, "k", PendingOnly))
	assert.Equal(t, CommittedViaPrepare, ht.Find(lock, "k", Committed).CommittedState)
	lock.Unlock()
}

func TestDelRemovesKey(t *testing.T) {
	ht := New(Config{NumShards: 4}, nil)
	lock := ht.Lock("k")
	ht.AddNewStoredValue(lock, newItem("k", 1, 1))

	err := ht.Del(lock, "k")
	require.NoError(t, err)
	assert.Nil(t, ht.Find(lock, "k", Any))
	lock.Unlock()
}

func TestDelRefusesLockedUndeletedValue(t *testing.T) {
	ht := New(Config{NumShards: 4}, nil)
	lock := ht.Lock("k")
	sv := ht.AddNewStoredValue(lock, newItem("k", 1, 1))
	sv.LockUntil = time.Now().Add(time.Minute)

	err := ht.Del(lock, "k")
	assert.Error(t, err)
	lock.Unlock()
}

func TestMaxDeletedRevSeqnoRestartsAboveHighWaterMark(t *testing.T) {
	ht := New(Config{NumShards: 4}, nil)
	lock := ht.Lock("k")

	sv := ht.AddNewStoredValue(lock, newItem("k", 1, 1))
	sv.RevSeqno = 5
	ht.UpdateMaxDeletedRevSeqno(lock, sv)
	require.NoError(t, ht.Del(lock, "k"))

	next := ht.NextRevSeqno(lock, "k", nil)
	assert.Equal(t, uint64(6), next)
	lock.Unlock()
}

func TestNextRevSeqnoIncreasesAcrossSuccessiveLiveSets(t *testing.T) {
	ht := New(Config{NumShards: 4}, nil)
	lock := ht.Lock("k")

	first := newItem("k", 1, 1)
	first.RevSeqno = ht.NextRevSeqno(lock, "k", nil)
	sv := ht.AddNewStoredValue(lock, first)
	assert.Equal(t, uint64(1), sv.RevSeqno)

	second := newItem("k", 2, 2)
	second.RevSeqno = ht.NextRevSeqno(lock, "k", sv)
	assert.Equal(t, uint64(2), second.RevSeqno, "a second live-key set must not reuse revSeqno 1")
	ht.UpdateStoredValue(lock, sv, second)

	lock.Unlock()
}

func TestCleanupIfTemporaryItemRemovesPlaceholder(t *testing.T) {
	ht := New(Config{NumShards: 4}, nil)
	lock := ht.Lock("k")

	item := newItem("k", 0, 0)
	sv := ht.AddNewStoredValue(lock, item)
	sv.TempMarker = TempInit

	ht.CleanupIfTemporaryItem(lock, sv)
	assert.Nil(t, ht.Find(lock, "k", Any))
	lock.Unlock()
}

func TestValueEvictionClearsBodyKeepsKey(t *testing.T) {
	ht := New(Config{NumShards: 1, Policy: ValueEvictionPolicy, MaxResidentLRU: 1}, nil)

	lock := ht.Lock("a")
	ht.AddNewStoredValue(lock, newItem("a", 1, 1))
	lock.Unlock()

	lock = ht.Lock("b")
	ht.AddNewStoredValue(lock, newItem("b", 2, 2))
	lock.Unlock()

	lock = ht.Lock("a")
	sv := ht.Find(lock, "a", Any)
	require.NotNil(t, sv, "key must remain resident under value-eviction policy")
	assert.Nil(t, sv.Value)
	assert.False(t, sv.Resident)
	lock.Unlock()
}

func TestShardingDistributesAcrossLocks(t *testing.T) {
	ht := New(Config{NumShards: 16}, nil)
	seen := map[*shard]bool{}
	for i := 0; i < 64; i++ {
		lock := ht.Lock(string(rune('a' + i%26)))
		seen[lock.shard] = true
		lock.Unlock()
	}
	assert.Greater(t, len(seen), 1, "keys should spread across more than one shard")
}
