// Package collections implements the two-level collections manifest: a
// bucket-wide scope/collection namespace, JSON-encoded since it travels
// over the replication stream rather than a config file, and a
// per-vBucket manifest tracking each collection's startSeqno/endSeqno for
// logical create/drop.
package collections

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/vbucket-engine/core/internal/errors"
)

// ID identifies a scope or a collection within a bucket manifest. It
// travels on the wire as a hex string, matching the external manifest
// interface, not as a JSON number.
type ID uint64

const (
	DefaultScopeID      ID = 0
	DefaultCollectionID ID = 0

	// SystemCollectionID is reserved for internal system documents and must
	// never appear in a manifest pushed down from the bucket.
	SystemCollectionID ID = 1
)

// MarshalJSON renders the ID as a lowercase hex string, e.g. "8".
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(id), 16))
}

// UnmarshalJSON parses a hex-string ID.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return errors.Wrap(errors.Einval, "invalid hex uid: "+s, err)
	}
	*id = ID(v)
	return nil
}

// Generation is a bucket manifest's monotonic version counter. Like a
// collection/scope uid it is carried on the wire as a hex string.
type Generation uint64

func (g Generation) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(g), 16))
}

func (g *Generation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return errors.Wrap(errors.Einval, "invalid hex uid: "+s, err)
	}
	*g = Generation(v)
	return nil
}

// collectionNamePattern allows A-Z, a-z, 0-9, and _ - % $; a leading '$' is
// rejected separately since that prefix is reserved for system collections.
var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-%$]+$`)

func validName(name string) bool {
	if name == "" || strings.HasPrefix(name, "$") {
		return false
	}
	return collectionNamePattern.MatchString(name)
}

// CollectionSpec is one collection's definition within a scope.
type CollectionSpec struct {
	CID    ID     `json:"uid"`
	Name   string `json:"name"`
	MaxTTL *int64 `json:"max_ttl,omitempty"`
}

// ScopeSpec is one scope's definition within a bucket manifest.
type ScopeSpec struct {
	SID         ID               `json:"uid"`
	Name        string           `json:"name"`
	Collections []CollectionSpec `json:"collections"`
}

// BucketManifest is the bucket-wide scope/collection namespace. Uid
// increases by exactly one on every structural change (create/drop scope
// or collection) and is what a vBucket's manifest update compares against
// to detect a stale or replayed manifest push.
type BucketManifest struct {
	Uid    Generation  `json:"uid"`
	Scopes []ScopeSpec `json:"scopes"`
}

// Marshal renders the manifest to the wire JSON form pushed down to every
// vBucket.
func (m *BucketManifest) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// ParseManifest decodes a wire manifest and validates scope/collection
// uniqueness.
func ParseManifest(data []byte) (*BucketManifest, error) {
	var m BucketManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(errors.Einval, "malformed collections manifest", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// validate enforces the manifest invariants an external push must satisfy:
// exactly one default scope, unique scope/collection names and uids, a
// restricted name alphabet, the reserved System collection id never
// appearing, max_ttl fitting a 32-bit seconds value, and the default
// collection only ever living in the default scope.
func (m *BucketManifest) validate() error {
	seenScope := make(map[ID]bool)
	seenScopeName := make(map[string]bool)
	seenCollection := make(map[ID]bool)
	sawDefaultScope := false

	for _, s := range m.Scopes {
		if seenScope[s.SID] {
			return errors.New(errors.Einval, "duplicate scope uid in manifest")
		}
		seenScope[s.SID] = true
		if seenScopeName[s.Name] {
			return errors.New(errors.Einval, "duplicate scope name in manifest: "+s.Name)
		}
		seenScopeName[s.Name] = true
		if !validName(s.Name) {
			return errors.New(errors.Einval, "invalid scope name: "+s.Name)
		}
		if s.SID == DefaultScopeID {
			sawDefaultScope = true
		}

		seenCollectionNameInScope := make(map[string]bool)
		for _, c := range s.Collections {
			if seenCollection[c.CID] {
				return errors.New(errors.Einval, "duplicate collection uid in manifest")
			}
			seenCollection[c.CID] = true
			if c.CID == SystemCollectionID {
				return errors.New(errors.Einval, "collection uid 1 is reserved for the System collection")
			}
			if !validName(c.Name) {
				return errors.New(errors.Einval, "invalid collection name: "+c.Name)
			}
			if seenCollectionNameInScope[c.Name] {
				return errors.New(errors.Einval, "duplicate collection name within scope: "+c.Name)
			}
			seenCollectionNameInScope[c.Name] = true
			if c.CID == DefaultCollectionID && s.SID != DefaultScopeID {
				return errors.New(errors.Einval, "the default collection is not in the default scope")
			}
			if c.MaxTTL != nil && (*c.MaxTTL < 0 || uint64(*c.MaxTTL) > math.MaxUint32) {
				return errors.New(errors.Einval, "max_ttl out of 32-bit range")
			}
		}
	}
	if !sawDefaultScope {
		return errors.New(errors.Einval, "manifest is missing the default scope")
	}
	return nil
}

// FindCollection returns the collection and its owning scope by ID, or
// false if the manifest has nothing by that ID.
func (m *BucketManifest) FindCollection(cid ID) (ScopeSpec, CollectionSpec, bool) {
	for _, s := range m.Scopes {
		for _, c := range s.Collections {
			if c.CID == cid {
				return s, c, true
			}
		}
	}
	return ScopeSpec{}, CollectionSpec{}, false
}

// entry is the per-vBucket record of one collection's logical lifetime.
// StartSeqno is the seqno of the system event that created it; EndSeqno is
// the seqno of the system event that dropped it, or 0 while still open.
// Keeping a dropped collection's entry (rather than erasing it) lets a DCP
// stream still in flight recognize documents that belong to a
// since-dropped collection, per original_source/collections/manifest.cc.
type entry struct {
	scope      ID
	spec       CollectionSpec
	startSeqno int64
	endSeqno   int64 // 0 while open
}

// CollectionEvent describes one collection lifecycle system event — a
// create or a drop — that Update needs a seqno minted for.
type CollectionEvent struct {
	CID     ID
	Scope   ID
	Name    string
	MaxTTL  *int64
	Dropped bool
}

// VBucketManifest is the per-vBucket projection of the bucket manifest,
// annotated with the seqno each collection was created/dropped at in this
// specific vBucket's mutation log.
type VBucketManifest struct {
	mu          sync.RWMutex
	uid         uint64
	collections map[ID]*entry
}

// NewVBucketManifest creates an empty per-vBucket manifest (the state of a
// freshly created vBucket before any manifest has been applied, holding
// only the always-present default collection).
func NewVBucketManifest() *VBucketManifest {
	vm := &VBucketManifest{collections: make(map[ID]*entry)}
	vm.collections[DefaultCollectionID] = &entry{
		scope:      DefaultScopeID,
		spec:       CollectionSpec{CID: DefaultCollectionID, Name: "_default"},
		startSeqno: 0,
	}
	return vm
}

// Update applies a new bucket manifest, creating entries for newly added
// collections and marking removed ones dropped. Each created or dropped
// collection is its own system event: allocSeqno is called once per event
// and must return a freshly minted, strictly increasing by-seqno (the
// caller mints it from the owning vBucket's seqno generator and queues the
// event into the checkpoint manager). Returns the IDs created and dropped
// by this update.
func (vm *VBucketManifest) Update(bm *BucketManifest, allocSeqno func(CollectionEvent) int64) (created, dropped []ID) {
	vm.mu.Lock()
	defer vm.mu.Unlock()

	if uint64(bm.Uid) <= vm.uid {
		return nil, nil
	}

	present := make(map[ID]bool)
	for _, s := range bm.Scopes {
		for _, c := range s.Collections {
			present[c.CID] = true
			if _, ok := vm.collections[c.CID]; !ok {
				seqno := allocSeqno(CollectionEvent{CID: c.CID, Scope: s.SID, Name: c.Name, MaxTTL: c.MaxTTL})
				vm.collections[c.CID] = &entry{scope: s.SID, spec: c, startSeqno: seqno}
				created = append(created, c.CID)
			}
		}
	}
	for cid, e := range vm.collections {
		if !present[cid] && e.endSeqno == 0 {
			seqno := allocSeqno(CollectionEvent{CID: cid, Scope: e.scope, Name: e.spec.Name, Dropped: true})
			e.endSeqno = seqno
			dropped = append(dropped, cid)
		}
	}
	vm.uid = uint64(bm.Uid)
	return created, dropped
}

// IsLogicallyDeleted reports whether a document's collection was not live
// at the time the document's own seqno was assigned: either docSeqno is at
// or before the seqno at which the collection was dropped (a leftover from
// a dropped collection
// that compaction/an ephemeral purge has not yet reclaimed), or the
// collection did not yet exist at docSeqno (a document from before the
// collection's creation, e.g. replayed out of order during warmup).
func (vm *VBucketManifest) IsLogicallyDeleted(cid ID, docSeqno int64) bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	e, ok := vm.collections[cid]
	if !ok {
		return true
	}
	if docSeqno < e.startSeqno {
		return true
	}
	return e.endSeqno != 0 && docSeqno <= e.endSeqno
}

// Exists reports whether the collection is currently open (not dropped).
func (vm *VBucketManifest) Exists(cid ID) bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	e, ok := vm.collections[cid]
	return ok && e.endSeqno == 0
}

// Uid returns the manifest generation currently applied.
func (vm *VBucketManifest) Uid() uint64 {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.uid
}

// CachingReadHandle caches one collection lookup across a sequence of hash
// table operations performed under a single bucket lock, avoiding a second
// manifest RLock for every key in a multi-get batch that shares a
// collection.
type CachingReadHandle struct {
	vm       *VBucketManifest
	cachedID ID
	cached   *entry
	valid    bool
}

// NewCachingReadHandle opens a read handle bound to vm.
func NewCachingReadHandle(vm *VBucketManifest) *CachingReadHandle {
	return &CachingReadHandle{vm: vm}
}

// Valid resolves cid, reusing the cached lookup if cid matches the last one
// resolved through this handle.
func (h *CachingReadHandle) Valid(cid ID) bool {
	if h.valid && h.cachedID == cid {
		return h.cached.endSeqno == 0
	}
	h.vm.mu.RLock()
	e, ok := h.vm.collections[cid]
	h.vm.mu.RUnlock()
	if !ok {
		h.valid = false
		return false
	}
	h.cachedID = cid
	h.cached = e
	h.valid = true
	return e.endSeqno == 0
}
