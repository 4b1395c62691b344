// Package vbucket wires the hash table, checkpoint manager, durability
// monitor, collections manifest, HLC, conflict resolver, failover table,
// memory admission controller, and host observer into the single
// coordinating type that owns one vBucket. Each operation follows the
// same orchestration shape: validate, admission-check, append to the
// durability log, mutate state, notify.
package vbucket

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vbucket-engine/core/internal/admission"
	"github.com/vbucket-engine/core/internal/bloom"
	"github.com/vbucket-engine/core/internal/checkpoint"
	"github.com/vbucket-engine/core/internal/collections"
	"github.com/vbucket-engine/core/internal/conflictresolution"
	"github.com/vbucket-engine/core/internal/durability"
	"github.com/vbucket-engine/core/internal/errors"
	"github.com/vbucket-engine/core/internal/failover"
	"github.com/vbucket-engine/core/internal/hashtable"
	"github.com/vbucket-engine/core/internal/hlc"
	"github.com/vbucket-engine/core/internal/observer"
	"github.com/vbucket-engine/core/internal/stats"
	"github.com/vbucket-engine/core/internal/util"
	"github.com/vbucket-engine/core/internal/validation"
)

// State is a vBucket's role in its replication topology.
type State int

const (
	StateActive State = iota
	StateReplica
	StatePending
	StateDead
)

// Config wires every collaborator a VBucket needs. Nil collaborators get a
// reasonable default: an in-memory Bloom filter, a recording
// observer.Recorder, an unlimited admission controller.
type Config struct {
	ID               uint16
	State            State
	NumShards        int
	EvictionPolicy   hashtable.EvictionPolicy
	MaxResidentLRU   int
	ConflictStrategy conflictresolution.Strategy
	Admission        admission.Config
	Topology         durability.Topology
	Host             observer.Host
	Stats            *stats.Registry
	Logger           *zap.Logger
}

// VBucket is one partition's full in-memory state machine.
type VBucket struct {
	id uint16

	mu    sync.RWMutex
	state State

	ht       *hashtable.HashTable
	ckpt     *checkpoint.Manager
	clock    *hlc.Clock
	resolver *conflictresolution.Resolver
	failover *failover.Table
	manifest *collections.VBucketManifest
	admit    *admission.Controller
	bloom    *bloom.Filter
	host     observer.Host
	statsReg *stats.Registry
	logger   *zap.Logger
	validate *validation.Validator

	active  *durability.ActiveMonitor
	passive *durability.PassiveMonitor

	highSeqno int64 // atomic
}

// New creates a VBucket wired per cfg.
func New(cfg Config) *VBucket {
	host := cfg.Host
	if host == nil {
		host = observer.NewRecorder(cfg.Logger)
	}

	vb := &VBucket{
		id:       cfg.ID,
		state:    cfg.State,
		ht:       hashtable.New(hashtable.Config{NumShards: cfg.NumShards, Policy: cfg.EvictionPolicy, MaxResidentLRU: cfg.MaxResidentLRU}, cfg.Logger),
		ckpt:     checkpoint.New(checkpoint.Config{}, cfg.Logger),
		clock:    hlc.New(hlc.Config{}),
		resolver: conflictresolution.New(cfg.ConflictStrategy),
		failover: failover.New(0),
		manifest: collections.NewVBucketManifest(),
		admit:    admission.New(cfg.Admission, cfg.Logger),
		bloom:    bloom.New(1_000_000, 0.01),
		host:     host,
		statsReg: cfg.Stats,
		logger:   cfg.Logger,
		validate: validation.NewValidator(),
	}

	if cfg.State == StateActive {
		vb.active = durability.NewActiveMonitor(cfg.Topology, vb.onSyncWriteDone)
	} else if cfg.State == StateReplica {
		vb.passive = durability.NewPassiveMonitor()
	}

	return vb
}

// ID returns the vBucket's numeric identifier.
func (vb *VBucket) ID() uint16 {
	return vb.id
}

// State returns the current topology role.
func (vb *VBucket) State() State {
	vb.mu.RLock()
	defer vb.mu.RUnlock()
	return vb.state
}

// nextSeqno assigns and returns the next by-seqno for this vBucket.
func (vb *VBucket) nextSeqno() int64 {
	seqno := atomic.AddInt64(&vb.highSeqno, 1)
	vb.host.NewSeqno(vb.id, seqno)
	if vb.statsReg != nil {
		vb.statsReg.SetHighSeqno(vb.id, seqno)
	}
	return seqno
}

// HighSeqno returns the highest by-seqno assigned so far.
func (vb *VBucket) HighSeqno() int64 {
	return atomic.LoadInt64(&vb.highSeqno)
}

// estimateSize is a coarse admission-control estimate: key bytes plus
// value bytes plus a fixed per-entry overhead.
func estimateSize(key string, value []byte) uint64 {
	return uint64(len(key) + len(value) + 64)
}

// needsBgFetch reports whether, under full eviction, an absent hash-table
// entry might still be a real item paged out to disk. The Bloom filter's
// false-return guarantee is what lets an absent entry be treated as a
// genuine miss instead; a true return means the caller must signal a
// background fetch rather than report the key missing.
func (vb *VBucket) needsBgFetch(key string) bool {
	return vb.ht.Policy() == hashtable.FullEvictionPolicy && vb.bloom.MayContain(key)
}

// Get looks up key from the given perspective. Returns KeyEnoent if
// absent, Ewouldblock if only a temporary placeholder is resident or if a
// full-eviction miss might still be a paged-out item (a caller-owned
// bgfetch would be required to resolve it).
func (vb *VBucket) Get(key string, perspective hashtable.Perspective) (*hashtable.Item, error) {
	lock := vb.ht.Lock(key)
	defer lock.Unlock()

	sv := vb.ht.Find(lock, key, perspective)
	if sv == nil {
		if vb.needsBgFetch(key) {
			return nil, errors.WouldBlock(key)
		}
		return nil, errors.KeyNotFound(key)
	}
	if sv.IsTempItem() {
		return nil, errors.WouldBlock(key)
	}
	if sv.IsExpired(time.Now()) || sv.Deleted {
		return nil, errors.KeyNotFound(key)
	}
	return sv.ToItem(), nil
}

// GetLocked looks up a live value and places a fresh exclusive lock on it
// for lockDuration, minting a new CAS the caller must present to mutate or
// explicitly unlock the key before the lock expires.
func (vb *VBucket) GetLocked(key string, lockDuration time.Duration) (*hashtable.Item, error) {
	lock := vb.ht.Lock(key)
	defer lock.Unlock()

	sv := vb.ht.Find(lock, key, hashtable.Committed)
	if sv == nil || sv.IsTempItem() || sv.Deleted || sv.IsExpired(time.Now()) {
		if sv == nil && vb.needsBgFetch(key) {
			return nil, errors.WouldBlock(key)
		}
		return nil, errors.KeyNotFound(key)
	}
	if sv.IsLocked(time.Now()) {
		return nil, errors.LockedRetry(key)
	}
	sv.Cas = vb.clock.NextCas()
	sv.LockUntil = time.Now().Add(lockDuration)
	return sv.ToItem(), nil
}

// GetAndUpdateTtl looks up a live value and refreshes its expiry to
// newExpiry, queuing the touch as a dated mutation so persistence and
// replication observe the new TTL.
func (vb *VBucket) GetAndUpdateTtl(key string, newExpiry time.Time) (*hashtable.Item, error) {
	lock := vb.ht.Lock(key)
	defer lock.Unlock()

	existing := vb.ht.FindForWrite(lock, key)
	if existing == nil || existing.Deleted || existing.IsExpired(time.Now()) {
		if existing == nil && vb.needsBgFetch(key) {
			return nil, errors.WouldBlock(key)
		}
		return nil, errors.KeyNotFound(key)
	}
	if existing.CommittedState == hashtable.Pending {
		return nil, errors.SyncWriteBusy(key)
	}
	if existing.IsLocked(time.Now()) {
		return nil, errors.KeyLocked(key)
	}

	seqno := vb.nextSeqno()
	revSeqno := vb.ht.NextRevSeqno(lock, key, existing)
	item := existing.ToItem()
	item.Expiry = newExpiry
	item.Cas = vb.clock.NextCas()
	item.BySeqno = seqno
	item.RevSeqno = revSeqno
	vb.ht.UpdateStoredValue(lock, existing, item)
	vb.ckpt.QueueDirty(seqno, key, item)
	return item, nil
}

// GetMeta returns a key's metadata (cas, seqnos, deletion state) without
// its value, succeeding even for a tombstone — a getMeta caller needs to
// observe a deletion, not just a live document.
func (vb *VBucket) GetMeta(key string) (*hashtable.Item, error) {
	lock := vb.ht.Lock(key)
	defer lock.Unlock()

	sv := vb.ht.Find(lock, key, hashtable.Committed)
	if sv == nil || sv.IsTempItem() {
		if sv == nil && vb.needsBgFetch(key) {
			return nil, errors.WouldBlock(key)
		}
		return nil, errors.KeyNotFound(key)
	}
	item := sv.ToItem()
	item.Value = nil
	return item, nil
}

// AddBackfillItem installs a historical item delivered out-of-band during
// DCP backfill or warmup, carrying its own pre-assigned cas/seqno/revSeqno
// rather than values freshly minted by this vBucket. The high seqno is
// advanced to match when the backfill item is ahead of it, since a
// backfill stream can supply items the normal mutation path hasn't
// produced yet.
func (vb *VBucket) AddBackfillItem(item *hashtable.Item) error {
	lock := vb.ht.Lock(item.Key)
	defer lock.Unlock()

	existing := vb.ht.FindForWrite(lock, item.Key)
	if existing == nil {
		vb.ht.AddNewStoredValue(lock, item)
	} else {
		vb.ht.UpdateStoredValue(lock, existing, item)
	}
	if item.Deleted {
		vb.ht.UpdateMaxDeletedRevSeqno(lock, hashtable.FromItem(item))
	}

	for {
		cur := atomic.LoadInt64(&vb.highSeqno)
		if item.BySeqno <= cur {
			break
		}
		if atomic.CompareAndSwapInt64(&vb.highSeqno, cur, item.BySeqno) {
			vb.host.NewSeqno(vb.id, item.BySeqno)
			if vb.statsReg != nil {
				vb.statsReg.SetHighSeqno(vb.id, item.BySeqno)
			}
			break
		}
	}
	vb.ckpt.QueueDirty(item.BySeqno, item.Key, item)
	return nil
}

// MutationKind distinguishes the three client-facing write verbs, whose
// only difference is the precondition checked against the existing value.
type MutationKind int

const (
	MutationSet MutationKind = iota // upsert unconditionally (CAS=0 means "any")
	MutationAdd                     // fails with NotStored if a live value exists
	MutationReplace                 // fails with KeyEnoent if no live value exists
)

// MutateOptions carries the optional CAS precondition and durability
// requirement for a client write.
type MutateOptions struct {
	Cas          uint64 // 0 means "no CAS check"
	Durability   *durability.Requirement
	CollectionID collections.ID
}

// Mutate applies a Set/Add/Replace. On success it returns the new CAS. If
// opts.Durability is non-nil the write is queued as a sync-write prepare
// and resolves asynchronously via the Host's SyncWriteComplete callback;
// the returned error is SyncWritePending, not nil, signaling the caller
// that the mutation is not yet durable.
func (vb *VBucket) Mutate(kind MutationKind, key string, value []byte, opts MutateOptions) (uint64, error) {
	if err := vb.validate.ValidateMutation(key, value); err != nil {
		return 0, err
	}
	if opts.Durability != nil {
		if err := vb.validate.ValidateDurabilityRequirement(*opts.Durability); err != nil {
			return 0, err
		}
	}
	if err := vb.admit.CheckBeforeMutation(estimateSize(key, value)); err != nil {
		return 0, err
	}
	if !vb.manifest.Exists(opts.CollectionID) {
		return 0, errors.InvalidArgument("unknown or dropped collection")
	}

	lock := vb.ht.Lock(key)
	defer lock.Unlock()

	existing := vb.ht.FindForWrite(lock, key)
	if existing != nil && existing.CommittedState == hashtable.Pending {
		return 0, errors.SyncWriteBusy(key)
	}

	// A resident temp placeholder (a bgfetch marker or an unresolved
	// lookup) is not a real value: treat the key as absent for Add/CAS
	// purposes, the same as if the hash table held nothing at all.
	if existing != nil && existing.IsTempItem() {
		existing = nil
	}
	if existing == nil && vb.needsBgFetch(key) {
		return 0, errors.WouldBlock(key)
	}

	live := existing != nil && !existing.Deleted && !existing.IsExpired(time.Now())

	if live && existing.IsLocked(time.Now()) && (opts.Cas == 0 || existing.Cas != opts.Cas) {
		return 0, errors.KeyLocked(key)
	}

	switch kind {
	case MutationAdd:
		if live {
			return 0, errors.NotStoredErr(key)
		}
	case MutationReplace:
		if !live {
			return 0, errors.KeyNotFound(key)
		}
	}
	if opts.Cas != 0 && (existing == nil || existing.Cas != opts.Cas) {
		return 0, errors.AlreadyExists(key)
	}

	value = vb.host.PreLinkDocument(vb.id, key, value)

	cas := vb.clock.NextCas()
	seqno := vb.nextSeqno()
	revSeqno := vb.ht.NextRevSeqno(lock, key, existing)

	committedState := hashtable.CommittedViaMutation
	if opts.Durability != nil {
		committedState = hashtable.Pending
	}

	item := &hashtable.Item{
		Key: key, Value: value, Cas: cas, BySeqno: seqno, RevSeqno: revSeqno,
		CommittedState: committedState, CollectionID: uint64(opts.CollectionID),
	}

	if existing == nil {
		vb.ht.AddNewStoredValue(lock, item)
	} else {
		vb.ht.UpdateStoredValue(lock, existing, item)
	}
	vb.ckpt.QueueDirty(seqno, key, item)
	vb.admit.Reserve(int64(estimateSize(key, value)))
	vb.bloom.Add(key)

	if opts.Durability != nil {
		if vb.active == nil {
			return 0, errors.DurabilityUnsatisfiable("vbucket is not active")
		}
		if err := vb.active.AddSyncWrite(key, seqno, *opts.Durability); err != nil {
			return 0, err
		}
		if vb.statsReg != nil {
			vb.statsReg.SetSyncWritesTracked(vb.id, vb.active.NumTracked())
		}
		return cas, errors.New(errors.SyncWritePending, "sync write queued, awaiting quorum")
	}

	return cas, nil
}

// Delete removes key via a tombstone, the standard create-a-deleted-
// StoredValue approach rather than a physical hash table removal, so a
// later setWithMeta from a replica can still conflict-resolve against it.
func (vb *VBucket) Delete(key string, cas uint64) error {
	if err := vb.validate.ValidateKey(key); err != nil {
		return err
	}
	lock := vb.ht.Lock(key)
	defer lock.Unlock()

	existing := vb.ht.FindForWrite(lock, key)
	if existing == nil || existing.Deleted {
		return errors.KeyNotFound(key)
	}
	if existing.CommittedState == hashtable.Pending {
		return errors.SyncWriteBusy(key)
	}
	if existing.IsLocked(time.Now()) && (cas == 0 || existing.Cas != cas) {
		return errors.KeyLocked(key)
	}
	if cas != 0 && existing.Cas != cas {
		return errors.AlreadyExists(key)
	}

	newCas := vb.clock.NextCas()
	seqno := vb.nextSeqno()
	revSeqno := vb.ht.NextRevSeqno(lock, key, existing)

	item := &hashtable.Item{
		Key: key, Cas: newCas, BySeqno: seqno, RevSeqno: revSeqno,
		Deleted: true, DeletionSource: hashtable.DeletionExplicit,
		CommittedState: hashtable.CommittedViaMutation,
	}
	vb.ht.UpdateStoredValue(lock, existing, item)
	vb.ht.UpdateMaxDeletedRevSeqno(lock, hashtable.FromItem(item))
	vb.ckpt.QueueDirty(seqno, key, item)
	return nil
}

// ApplyWithMeta resolves a conflict-bearing mutation arriving from
// replication (setWithMeta/delWithMeta), folding the remote CAS into the
// local clock and applying remote only if the configured Resolver says it
// should win.
func (vb *VBucket) ApplyWithMeta(key string, value []byte, remoteCas uint64, remoteRevSeqno uint64, deleted bool, wireChecksum uint32) error {
	if !util.ValidateChecksum(value, wireChecksum) {
		return errors.InvalidArgument("replicated value failed checksum validation for key " + key)
	}
	if err := vb.admit.CheckBeforeReplication(estimateSize(key, value)); err != nil {
		return err
	}

	lock := vb.ht.Lock(key)
	defer lock.Unlock()

	existing := vb.ht.FindForWrite(lock, key)
	remote := conflictresolution.Candidate{Cas: remoteCas, RevSeqno: remoteRevSeqno, Deleted: deleted}

	if existing != nil {
		local := conflictresolution.Candidate{Cas: existing.Cas, RevSeqno: existing.RevSeqno, Deleted: existing.Deleted}
		outcome := vb.resolver.Resolve(local, remote)
		if outcome != conflictresolution.AcceptRemote {
			return errors.New(errors.KeyEexists, "conflict resolution kept local value for "+key)
		}
	}

	vb.clock.SetMax(remoteCas)
	seqno := vb.nextSeqno()

	item := &hashtable.Item{
		Key: key, Value: value, Cas: remoteCas, BySeqno: seqno, RevSeqno: remoteRevSeqno,
		Deleted: deleted, CommittedState: hashtable.CommittedViaMutation,
	}
	if existing == nil {
		vb.ht.AddNewStoredValue(lock, item)
	} else {
		vb.ht.UpdateStoredValue(lock, existing, item)
	}
	vb.ckpt.QueueDirty(seqno, key, item)
	return nil
}

// AckSyncWriteReplicated records a replica's acknowledgment that it holds
// the prepare at prepareSeqno. Only meaningful on an active vBucket.
func (vb *VBucket) AckSyncWriteReplicated(nodeID string, prepareSeqno int64) {
	if vb.active == nil {
		return
	}
	vb.active.AckReplication(nodeID, prepareSeqno)
}

// AckSyncWritePersisted records a replica's acknowledgment that the
// prepare at prepareSeqno is now on disk. The active's own persistence is
// reported through NotifyLocalPersistence instead.
func (vb *VBucket) AckSyncWritePersisted(nodeID string, prepareSeqno int64) {
	if vb.active == nil {
		return
	}
	vb.active.AckPersistence(nodeID, prepareSeqno)
}

// NotifyLocalPersistence records that the active node's own persistence
// of prepareSeqno has completed.
func (vb *VBucket) NotifyLocalPersistence(prepareSeqno int64) {
	if vb.active == nil {
		return
	}
	vb.active.NotifyLocalPersistence(prepareSeqno)
}

func (vb *VBucket) onSyncWriteDone(key string, prepareSeqno int64, result durability.Result) {
	committed := result == durability.ResultCommitted
	if !committed {
		vb.abortPrepare(key, prepareSeqno)
	} else {
		vb.commitPrepare(key, prepareSeqno)
	}

	vb.host.SyncWriteComplete(vb.id, key, prepareSeqno, committed)
	if vb.statsReg != nil {
		if committed {
			vb.statsReg.IncSyncWriteCommitted(vb.id)
		} else {
			vb.statsReg.IncSyncWriteAborted(vb.id)
		}
		vb.statsReg.SetHighPreparedSeqno(vb.id, vb.active.HighPreparedSeqno())
	}
}

func (vb *VBucket) commitPrepare(key string, prepareSeqno int64) {
	lock := vb.ht.Lock(key)
	defer lock.Unlock()
	pending := vb.ht.Find(lock, key, hashtable.PendingOnly)
	if pending == nil || pending.BySeqno != prepareSeqno {
		return
	}
	commitSeqno := vb.nextSeqno()
	item := pending.ToItem()
	item.CommittedState = hashtable.CommittedViaPrepare
	item.BySeqno = commitSeqno
	item.PrepareSeqno = prepareSeqno
	vb.ht.UpdateStoredValue(lock, pending, item)
	vb.ckpt.QueueDirty(commitSeqno, key, item)
}

func (vb *VBucket) abortPrepare(key string, prepareSeqno int64) {
	lock := vb.ht.Lock(key)
	defer lock.Unlock()
	pending := vb.ht.Find(lock, key, hashtable.PendingOnly)
	if pending == nil || pending.BySeqno != prepareSeqno {
		return
	}
	vb.ht.CleanupIfTemporaryItem(lock, pending)
	_ = vb.ht.Del(lock, key)
}

// ApplyReplicatedPrepare tracks an incoming prepare on a passive vBucket.
func (vb *VBucket) ApplyReplicatedPrepare(key string, value []byte, cas uint64, prepareSeqno int64, wireChecksum uint32) error {
	if vb.passive == nil {
		return errors.New(errors.NotSupported, "vbucket is not a replica")
	}
	if !util.ValidateChecksum(value, wireChecksum) {
		return errors.InvalidArgument("replicated prepare failed checksum validation for key " + key)
	}
	lock := vb.ht.Lock(key)
	item := &hashtable.Item{
		Key: key, Value: value, Cas: cas, BySeqno: prepareSeqno,
		CommittedState: hashtable.Pending,
	}
	vb.ht.AddNewStoredValue(lock, item)
	lock.Unlock()

	// Raise the local high seqno to the active-assigned prepare seqno, so
	// the seqno a later commit takes from nextSeqno lies above it.
	for {
		cur := atomic.LoadInt64(&vb.highSeqno)
		if prepareSeqno <= cur || atomic.CompareAndSwapInt64(&vb.highSeqno, cur, prepareSeqno) {
			break
		}
	}
	vb.ckpt.QueueDirty(prepareSeqno, key, item)
	vb.passive.AddSyncWrite(prepareSeqno)
	if vb.host != nil {
		vb.host.SeqnoAck(vb.id, vb.passive.HighPreparedSeqno())
	}
	return nil
}

// ApplyReplicatedCommit resolves a previously tracked prepare as
// committed on a passive vBucket.
func (vb *VBucket) ApplyReplicatedCommit(key string, prepareSeqno int64) error {
	if vb.passive == nil {
		return errors.New(errors.NotSupported, "vbucket is not a replica")
	}
	vb.commitPrepare(key, prepareSeqno)
	vb.passive.Commit(prepareSeqno)
	vb.host.SeqnoAck(vb.id, vb.passive.HighPreparedSeqno())
	return nil
}

// ApplyReplicatedAbort resolves a previously tracked prepare as aborted
// on a passive vBucket.
func (vb *VBucket) ApplyReplicatedAbort(key string, prepareSeqno int64) error {
	if vb.passive == nil {
		return errors.New(errors.NotSupported, "vbucket is not a replica")
	}
	vb.abortPrepare(key, prepareSeqno)
	vb.passive.Abort(prepareSeqno)
	vb.host.SeqnoAck(vb.id, vb.passive.HighPreparedSeqno())
	return nil
}

// SweepDurabilityTimeouts aborts any tracked sync write whose requirement
// timeout has elapsed. The caller (the node's background loop) decides
// the cadence; this method itself never blocks or sleeps.
func (vb *VBucket) SweepDurabilityTimeouts() int {
	if vb.active == nil {
		return 0
	}
	return vb.active.CheckTimeouts(time.Now())
}

// UpdateManifest applies a new bucket manifest, queuing the
// collection-create/drop system events the checkpoint manager must carry
// downstream. Each created or dropped collection is its own system event
// and gets its own freshly minted seqno: the checkpoint manager enforces
// strictly increasing seqnos, so a manifest update touching more than one
// collection could never share a single seqno across every event.
func (vb *VBucket) UpdateManifest(bm *collections.BucketManifest) (created, dropped []collections.ID) {
	return vb.manifest.Update(bm, func(evt collections.CollectionEvent) int64 {
		seqno := vb.nextSeqno()
		vb.ckpt.QueueDirty(seqno, "", evt)
		return seqno
	})
}

// Rollback resets the checkpoint manager to start at toSeqno+1, sets the
// high seqno back to toSeqno and adds a failover entry at toSeqno. Used
// when a replica promoted to active discovers its history diverges from
// what a reconnecting replica expects. The hash table itself is not
// rebuilt and per-collection stats are not re-seeded: values written after
// toSeqno stay resident.
func (vb *VBucket) Rollback(toSeqno int64) {
	vb.ckpt.Clear(toSeqno + 1)
	atomic.StoreInt64(&vb.highSeqno, toSeqno)
	vb.failover.CreateEntry(toSeqno)
	if vb.statsReg != nil {
		vb.statsReg.IncRollbacks(vb.id)
	}
}

// TakeoverToActive transitions a replica (or pending) vBucket to active,
// creating its ActiveMonitor and a new failover branch entry the way a
// real failover mints a new branch identity at the takeover point.
func (vb *VBucket) TakeoverToActive(topology durability.Topology) {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	vb.state = StateActive
	vb.passive = nil
	vb.active = durability.NewActiveMonitor(topology, vb.onSyncWriteDone)
	vb.failover.CreateEntry(vb.HighSeqno())
}

// FailoverTable exposes the vBucket's branch-identity log, e.g. for a DCP
// stream-open negotiation the caller performs outside this package.
func (vb *VBucket) FailoverTable() *failover.Table {
	return vb.failover
}

// Manifest exposes the per-vBucket collections manifest for read-only
// queries (e.g. building a CachingReadHandle for a multi-get batch).
func (vb *VBucket) Manifest() *collections.VBucketManifest {
	return vb.manifest
}

// CheckpointManager exposes the checkpoint manager, e.g. for registering
// a new replication cursor when a DCP stream opens.
func (vb *VBucket) CheckpointManager() *checkpoint.Manager {
	return vb.ckpt
}
