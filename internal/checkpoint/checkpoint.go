// Package checkpoint implements the ordered, seqno-monotonic write log that
// sits between the hash table and both persistence and replication:
// in-memory, cursor-tracked Checkpoints ordered by seqno via an
// emirpasic/gods treemap.
package checkpoint

import (
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"go.uber.org/zap"

	"github.com/vbucket-engine/core/internal/errors"
)

func compareInt64s(a, b interface{}) int {
	x, y := a.(int64), b.(int64)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	default:
		return 0
	}
}

// State is the lifecycle of one Checkpoint.
type State int

const (
	StateOpen State = iota
	StateClosed
)

// QueuedItem is one seqno-ordered entry in a checkpoint.
type QueuedItem struct {
	Seqno int64
	Key   string
	Value interface{} // *hashtable.Item, left untyped to avoid an import cycle
}

// Checkpoint is a contiguous, seqno-ordered run of queued mutations plus the
// snapshot range it represents on the wire.
type Checkpoint struct {
	ID              uint64
	State           State
	SnapshotStart   int64
	SnapshotEnd     int64
	items           *treemap.Map // int64 seqno -> *QueuedItem
	highestSeqno    int64
}

func newCheckpoint(id uint64, snapStart int64) *Checkpoint {
	return &Checkpoint{
		ID:            id,
		State:         StateOpen,
		SnapshotStart: snapStart,
		SnapshotEnd:   snapStart,
		items:         treemap.NewWith(compareInt64s),
	}
}

// Cursor tracks one reader's (persistence, or a replica's DCP stream)
// position through the checkpoint log. A cursor's checkpointIdx points into
// Manager.checkpoints; position is the last seqno it has consumed from that
// checkpoint.
type Cursor struct {
	Name           string
	checkpointIdx  int
	lastSeqno      int64
}

// Manager is the per-vBucket CheckpointManager: an ordered run of
// Checkpoints plus the named cursors reading through them.
type Manager struct {
	mu sync.Mutex

	logger       *zap.Logger
	checkpoints  []*Checkpoint
	nextID       uint64
	openCheckpointID uint64
	maxItemsPerCheckpoint int
	cursors      map[string]*Cursor
}

// Config configures a new Manager.
type Config struct {
	MaxItemsPerCheckpoint int
}

const defaultMaxItemsPerCheckpoint = 10000

// New creates a Manager with one open checkpoint starting at snapshot 0.
func New(cfg Config, logger *zap.Logger) *Manager {
	if cfg.MaxItemsPerCheckpoint <= 0 {
		cfg.MaxItemsPerCheckpoint = defaultMaxItemsPerCheckpoint
	}
	m := &Manager{
		logger:                logger,
		maxItemsPerCheckpoint: cfg.MaxItemsPerCheckpoint,
		cursors:               make(map[string]*Cursor),
	}
	m.checkpoints = []*Checkpoint{newCheckpoint(0, 0)}
	m.nextID = 1
	m.openCheckpointID = 0
	m.RegisterCursor("persistence")
	return m
}

// RegisterCursor adds a new named cursor positioned at the start of the
// oldest checkpoint still held in memory. Called once per replica stream
// and once for the persistence cursor.
func (m *Manager) RegisterCursor(name string) *Cursor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cursors[name]; ok {
		return c
	}
	c := &Cursor{Name: name, checkpointIdx: 0, lastSeqno: m.checkpoints[0].SnapshotStart - 1}
	m.cursors[name] = c
	return c
}

func (m *Manager) openCheckpoint() *Checkpoint {
	return m.checkpoints[len(m.checkpoints)-1]
}

// QueueDirty appends a mutation to the open checkpoint, rotating to a new
// checkpoint first if the current one is full. Seqno must be strictly
// greater than every seqno already queued in this manager; a violation is
// an invariant failure, not a returned error.
func (m *Manager) QueueDirty(seqno int64, key string, value interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	oc := m.openCheckpoint()
	if oc.highestSeqno != 0 && seqno <= oc.highestSeqno {
		errors.Raise("checkpoint: non-monotonic seqno queued")
	}
	if oc.items.Size() >= m.maxItemsPerCheckpoint {
		oc = m.rotateLocked(seqno)
	}
	oc.items.Put(seqno, &QueuedItem{Seqno: seqno, Key: key, Value: value})
	oc.highestSeqno = seqno
	oc.SnapshotEnd = seqno
}

func (m *Manager) rotateLocked(nextSnapStart int64) *Checkpoint {
	m.openCheckpoint().State = StateClosed
	cp := newCheckpoint(m.nextID, nextSnapStart)
	m.nextID++
	m.openCheckpointID = cp.ID
	m.checkpoints = append(m.checkpoints, cp)
	if m.logger != nil {
		m.logger.Debug("rotated checkpoint", zap.Uint64("id", cp.ID))
	}
	return cp
}

// SetOpenCheckpointID forces rotation to a fresh checkpoint with the given
// ID, used when a passive vBucket must align its checkpoint numbering with
// an active's after a takeover.
func (m *Manager) SetOpenCheckpointID(id uint64, snapStart int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.openCheckpoint()
	prev.State = StateClosed
	cp := newCheckpoint(id, snapStart)
	// Carry the high-water seqno over so QueueDirty's monotonic check still
	// covers everything already queued.
	cp.highestSeqno = prev.highestSeqno
	m.nextID = id + 1
	m.openCheckpointID = id
	m.checkpoints = append(m.checkpoints, cp)
}

// ResetSnapshotRange rewrites the open checkpoint's advertised snapshot
// range, used when a passive vBucket receives a new snapshot-marker from
// its active before any mutations in that snapshot have arrived.
func (m *Manager) ResetSnapshotRange(start, end int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oc := m.openCheckpoint()
	oc.SnapshotStart = start
	oc.SnapshotEnd = end
}

// GetItemsForCursor returns every item the named cursor has not yet
// consumed, across as many checkpoints as necessary, and advances the
// cursor to the end of what it returns.
func (m *Manager) GetItemsForCursor(name string) ([]*QueuedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.cursors[name]
	if !ok {
		return nil, errors.New(errors.Einval, "unknown checkpoint cursor: "+name)
	}

	var out []*QueuedItem
	for idx := cur.checkpointIdx; idx < len(m.checkpoints); idx++ {
		cp := m.checkpoints[idx]
		it := cp.items.Iterator()
		for it.Next() {
			seqno := it.Key().(int64)
			if seqno <= cur.lastSeqno {
				continue
			}
			out = append(out, it.Value().(*QueuedItem))
			cur.lastSeqno = seqno
		}
		cur.checkpointIdx = idx
	}
	return out, nil
}

// AdvanceCursorToCheckpointEnd moves a cursor straight to the end of its
// current checkpoint without returning intervening items, used when a
// consumer (e.g. a disconnecting replica stream) must resynchronize at a
// checkpoint boundary rather than replaying every queued item.
func (m *Manager) AdvanceCursorToCheckpointEnd(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.cursors[name]
	if !ok {
		return errors.New(errors.Einval, "unknown checkpoint cursor: "+name)
	}
	cp := m.checkpoints[cur.checkpointIdx]
	cur.lastSeqno = cp.SnapshotEnd
	return nil
}

// Clear discards every checkpoint and starts fresh at the given seqno,
// used on rollback or on a fresh vBucket takeover.
func (m *Manager) Clear(startSeqno int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints = []*Checkpoint{newCheckpoint(m.nextID, startSeqno)}
	m.openCheckpointID = m.nextID
	m.nextID++
	for _, c := range m.cursors {
		c.checkpointIdx = 0
		c.lastSeqno = startSeqno - 1
	}
}

// NumCheckpoints reports how many checkpoints are currently retained, kept
// for stats reporting.
func (m *Manager) NumCheckpoints() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.checkpoints)
}

// RemoveClosedUnreferencedCheckpoints discards fully-closed checkpoints no
// cursor still needs.
func (m *Manager) RemoveClosedUnreferencedCheckpoints() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	minIdx := len(m.checkpoints) - 1
	for _, c := range m.cursors {
		if c.checkpointIdx < minIdx {
			minIdx = c.checkpointIdx
		}
	}
	if minIdx <= 0 {
		return 0
	}
	removed := minIdx
	m.checkpoints = m.checkpoints[minIdx:]
	for _, c := range m.cursors {
		c.checkpointIdx -= minIdx
		if c.checkpointIdx < 0 {
			c.checkpointIdx = 0
		}
	}
	return removed
}
