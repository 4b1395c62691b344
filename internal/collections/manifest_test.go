package collections

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seqAlloc returns an allocSeqno callback for Update that mints strictly
// increasing seqnos starting at start, mirroring how a VBucket mints one
// seqno per collection system event.
func seqAlloc(start int64) func(CollectionEvent) int64 {
	next := start
	return func(CollectionEvent) int64 {
		seqno := next
		next++
		return seqno
	}
}

func TestParseManifestRejectsDuplicateCollectionUID(t *testing.T) {
	data := []byte(`{"uid":"1","scopes":[{"uid":"0","name":"_default","collections":[
		{"uid":"8","name":"a"},{"uid":"8","name":"b"}]}]}`)
	_, err := ParseManifest(data)
	assert.Error(t, err)
}

func TestParseManifestRoundTripsHexWireFormat(t *testing.T) {
	data := []byte(`{"uid":"a","scopes":[{"uid":"0","name":"_default","collections":[
		{"uid":"0","name":"_default"},{"uid":"10","name":"widgets","max_ttl":60}]}]}`)
	m, err := ParseManifest(data)
	require.NoError(t, err)
	assert.Equal(t, Generation(0xa), m.Uid)
	_, spec, ok := m.FindCollection(ID(0x10))
	require.True(t, ok)
	assert.Equal(t, "widgets", spec.Name)
	require.NotNil(t, spec.MaxTTL)
	assert.Equal(t, int64(60), *spec.MaxTTL)

	out, err := m.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(out), `"uid":"a"`)
	assert.Contains(t, string(out), `"max_ttl":60`)
}

func TestParseManifestRejectsMissingDefaultScope(t *testing.T) {
	data := []byte(`{"uid":"1","scopes":[{"uid":"1","name":"other","collections":[]}]}`)
	_, err := ParseManifest(data)
	assert.Error(t, err)
}

func TestParseManifestRejectsSystemCollectionID(t *testing.T) {
	data := []byte(`{"uid":"1","scopes":[{"uid":"0","name":"_default","collections":[
		{"uid":"1","name":"nope"}]}]}`)
	_, err := ParseManifest(data)
	assert.Error(t, err)
}

func TestParseManifestRejectsInvalidName(t *testing.T) {
	data := []byte(`{"uid":"1","scopes":[{"uid":"0","name":"_default","collections":[
		{"uid":"8","name":"$reserved"}]}]}`)
	_, err := ParseManifest(data)
	assert.Error(t, err)
}

func TestParseManifestRejectsDuplicateNameWithinScope(t *testing.T) {
	data := []byte(`{"uid":"1","scopes":[{"uid":"0","name":"_default","collections":[
		{"uid":"8","name":"widgets"},{"uid":"9","name":"widgets"}]}]}`)
	_, err := ParseManifest(data)
	assert.Error(t, err)
}

func TestParseManifestRejectsDefaultCollectionOutsideDefaultScope(t *testing.T) {
	data := []byte(`{"uid":"1","scopes":[{"uid":"0","name":"_default","collections":[]},
		{"uid":"1","name":"other","collections":[{"uid":"0","name":"_default"}]}]}`)
	_, err := ParseManifest(data)
	assert.Error(t, err)
}

func TestParseManifestRejectsOversizedMaxTtl(t *testing.T) {
	tooBig := int64(1) << 33
	bm := &BucketManifest{Uid: 1, Scopes: []ScopeSpec{
		{SID: 0, Name: "_default", Collections: []CollectionSpec{
			{CID: 8, Name: "widgets", MaxTTL: &tooBig},
		}},
	}}
	data, err := bm.Marshal()
	require.NoError(t, err)
	_, err = ParseManifest(data)
	assert.Error(t, err)
}

func TestUpdateTracksCreatedAndDropped(t *testing.T) {
	vm := NewVBucketManifest()

	bm1 := &BucketManifest{Uid: 1, Scopes: []ScopeSpec{
		{SID: 0, Name: "_default", Collections: []CollectionSpec{
			{CID: 0, Name: "_default"},
			{CID: 8, Name: "widgets"},
		}},
	}}
	created, dropped := vm.Update(bm1, seqAlloc(10))
	assert.Equal(t, []ID{8}, created)
	assert.Empty(t, dropped)
	assert.True(t, vm.Exists(8))

	bm2 := &BucketManifest{Uid: 2, Scopes: []ScopeSpec{
		{SID: 0, Name: "_default", Collections: []CollectionSpec{
			{CID: 0, Name: "_default"},
		}},
	}}
	created, dropped = vm.Update(bm2, seqAlloc(20))
	assert.Empty(t, created)
	assert.Equal(t, []ID{8}, dropped)
	assert.False(t, vm.Exists(8))
}

func TestUpdateAssignsDistinctSeqnoPerCreatedCollection(t *testing.T) {
	vm := NewVBucketManifest()
	bm := &BucketManifest{Uid: 1, Scopes: []ScopeSpec{
		{SID: 0, Name: "_default", Collections: []CollectionSpec{
			{CID: 0, Name: "_default"},
			{CID: 8, Name: "widgets"},
			{CID: 9, Name: "gadgets"},
		}},
	}}
	var allocated []int64
	alloc := seqAlloc(100)
	created, _ := vm.Update(bm, func(evt CollectionEvent) int64 {
		seqno := alloc(evt)
		allocated = append(allocated, seqno)
		return seqno
	})
	assert.ElementsMatch(t, []ID{8, 9}, created)
	require.Len(t, allocated, 2)
	assert.NotEqual(t, allocated[0], allocated[1], "each created collection must get its own seqno")
}

func TestIsLogicallyDeletedBoundary(t *testing.T) {
	vm := NewVBucketManifest()
	bm := &BucketManifest{Uid: 1, Scopes: []ScopeSpec{
		{SID: 0, Collections: []CollectionSpec{{CID: 0}, {CID: 8, Name: "widgets"}}},
	}}
	vm.Update(bm, seqAlloc(5))

	dropManifest := &BucketManifest{Uid: 2, Scopes: []ScopeSpec{
		{SID: 0, Collections: []CollectionSpec{{CID: 0}}},
	}}
	vm.Update(dropManifest, seqAlloc(15))

	assert.True(t, vm.IsLogicallyDeleted(8, 15), "doc at the drop seqno belongs to the dropped generation")
	assert.True(t, vm.IsLogicallyDeleted(8, 10))
	assert.False(t, vm.IsLogicallyDeleted(0, 100), "default collection was never dropped")
	assert.True(t, vm.IsLogicallyDeleted(8, 4), "doc seqno precedes the collection's creation")
}

func TestUpdateIgnoresStaleOrReplayedManifest(t *testing.T) {
	vm := NewVBucketManifest()
	bm := &BucketManifest{Uid: 5, Scopes: nil}
	vm.Update(bm, seqAlloc(1))
	require.Equal(t, uint64(5), vm.Uid())

	created, dropped := vm.Update(&BucketManifest{Uid: 5}, seqAlloc(2))
	assert.Nil(t, created)
	assert.Nil(t, dropped)
	assert.Equal(t, uint64(5), vm.Uid())
}

func TestCachingReadHandleReusesLookup(t *testing.T) {
	vm := NewVBucketManifest()
	bm := &BucketManifest{Uid: 1, Scopes: []ScopeSpec{
		{SID: 0, Collections: []CollectionSpec{{CID: 8, Name: "widgets"}}},
	}}
	vm.Update(bm, seqAlloc(1))

	h := NewCachingReadHandle(vm)
	assert.True(t, h.Valid(8))
	assert.True(t, h.Valid(8)) // second call hits the cache, not the manifest lock
	assert.False(t, h.Valid(42))
}
