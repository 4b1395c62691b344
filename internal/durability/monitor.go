// Package durability implements the active and passive durability monitors
// that track a sync write from prepare through quorum resolution to commit
// or abort. Quorum math is grounded on the coordinator's
// internal/algorithm/quorum.go (CalculateQuorum, IsQuorumReached); the
// timeout sweep is grounded on internal/service/conflict_service.go's
// worker-over-channel pattern, generalized into a monitor that exposes a
// pollable CheckTimeouts instead of owning its own goroutine — the monitor
// is a pure state machine, and whatever runs the vBucket's background
// loop decides when to call it.
package durability

import (
	"math"
	"time"

	"github.com/emirpasic/gods/maps/treemap"

	"github.com/vbucket-engine/core/internal/errors"
)

// Level is one of the three durability requirements a sync write can ask
// for.
type Level int

const (
	// Majority requires a quorum of the chain (including the active node)
	// to have the prepare in their in-memory checkpoint.
	Majority Level = iota
	// MajorityAndPersistOnMaster additionally requires the active node to
	// have persisted the prepare to disk.
	MajorityAndPersistOnMaster
	// PersistToMajority requires a quorum of the chain to have persisted
	// the prepare to disk.
	PersistToMajority
)

// Requirement pairs a Level with the timeout after which an unresolved
// sync write aborts.
type Requirement struct {
	Level   Level
	Timeout time.Duration
}

// Chain is one replication chain: the configured replica slots backing the
// active node, in order. The active node itself is never listed; it is
// implicit. A slot whose node has not yet been assigned (e.g. a chain
// still warming up after a topology change) is represented by "" rather
// than being omitted, so the chain's full configured size — not just the
// count of slots currently filled — is visible to the quorum math.
type Chain struct {
	Nodes []string
}

// size is the chain's full configured width, active node included,
// whether or not every slot is currently filled.
func (c Chain) size() int {
	return len(c.Nodes) + 1
}

func (c Chain) quorum() int {
	return c.size()/2 + 1
}

// definedCount is how many slots (active node included) currently have an
// assigned node.
func (c Chain) definedCount() int {
	n := 1 // the active node is always defined
	for _, node := range c.Nodes {
		if node != "" {
			n++
		}
	}
	return n
}

// hasMajorityDefined reports whether enough slots are assigned to ever
// reach quorum; a chain with too many unfilled slots can never satisfy a
// durability requirement and must be rejected at add time rather than
// left to time out.
func (c Chain) hasMajorityDefined() bool {
	return c.definedCount() >= c.quorum()
}

// Topology is the set of chains a sync write must satisfy. Two chains are
// present only during a topology change (old chain + new chain); a sync
// write started under the old topology must keep satisfying both until it
// resolves, so that it survives regardless which chain the rebalance keeps.
type Topology struct {
	Chains []Chain
}

// Result is how a tracked sync write finished.
type Result int

const (
	ResultCommitted Result = iota
	ResultAborted
)

// CompletionFunc is invoked exactly once per tracked write, when it
// resolves to Committed or Aborted.
type CompletionFunc func(key string, prepareSeqno int64, result Result)

type trackedWrite struct {
	key             string
	prepareSeqno    int64
	requirement     Requirement
	createdAt       time.Time
	replicationAcks map[string]bool
	persistenceAcks map[string]bool
	masterPersisted bool
	// satisfied caches whether this write's own requirement currently holds
	// against every chain in the topology. It gates nothing by itself — a
	// satisfied write still waits behind every older unresolved write, so
	// that commits drain from the front of the tracked set in seqno order
	// and the High Prepared Seqno never skips a gap.
	satisfied bool
}

func (tw *trackedWrite) satisfiedFor(chain Chain) bool {
	switch tw.requirement.Level {
	case PersistToMajority:
		count := 0
		if tw.masterPersisted {
			count++
		}
		for _, n := range chain.Nodes {
			if tw.persistenceAcks[n] {
				count++
			}
		}
		return count >= chain.quorum()
	case MajorityAndPersistOnMaster:
		if !tw.masterPersisted {
			return false
		}
		return tw.replicationCount(chain) >= chain.quorum()
	default: // Majority
		return tw.replicationCount(chain) >= chain.quorum()
	}
}

func (tw *trackedWrite) replicationCount(chain Chain) int {
	count := 1 // the active node itself
	for _, n := range chain.Nodes {
		if tw.replicationAcks[n] {
			count++
		}
	}
	return count
}

// ActiveMonitor tracks sync writes prepared on the active node of a
// vBucket through to quorum resolution.
type ActiveMonitor struct {
	topology Topology
	tracked  *treemap.Map // int64 prepareSeqno -> *trackedWrite
	resolved map[int64]bool
	hps      int64
	onDone   CompletionFunc
}

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

// NewActiveMonitor creates an ActiveMonitor for the given topology. onDone
// is called (synchronously, by whichever goroutine triggers resolution)
// for every tracked write that commits or aborts.
func NewActiveMonitor(topology Topology, onDone CompletionFunc) *ActiveMonitor {
	return &ActiveMonitor{
		topology: topology,
		tracked:  treemap.NewWith(compareInt64s),
		resolved: make(map[int64]bool),
		onDone:   onDone,
	}
}

// SetTopology installs a new topology (e.g. mid-rebalance). A tracked write
// is re-evaluated against it only when its next ack or local persistence
// notification arrives; CheckTimeouts does not re-evaluate it. None are
// aborted here, per the "never silently drop an in-flight durable write on
// a topology change" rule — a write whose level the new topology can no
// longer satisfy simply rides out its own timeout.
func (m *ActiveMonitor) SetTopology(topology Topology) {
	m.topology = topology
}

// AddSyncWrite begins tracking a new prepare. Returns DurabilityImpossible
// if the monitor has no chains at all, or if any chain has too few
// assigned slots to ever reach its own majority — a sync write started
// against such a chain could never resolve except by timing out.
func (m *ActiveMonitor) AddSyncWrite(key string, prepareSeqno int64, req Requirement) error {
	if len(m.topology.Chains) == 0 {
		return errors.DurabilityUnsatisfiable("no replication chains configured")
	}
	for _, chain := range m.topology.Chains {
		if !chain.hasMajorityDefined() {
			return errors.DurabilityUnsatisfiable("chain has too many unassigned slots to reach majority")
		}
	}
	tw := &trackedWrite{
		key:             key,
		prepareSeqno:    prepareSeqno,
		requirement:     req,
		createdAt:       time.Now(),
		replicationAcks: make(map[string]bool),
		persistenceAcks: make(map[string]bool),
	}
	m.tracked.Put(prepareSeqno, tw)
	return nil
}

// AckReplication records that nodeID has the prepare at prepareSeqno in
// its in-memory checkpoint.
func (m *ActiveMonitor) AckReplication(nodeID string, prepareSeqno int64) {
	v, ok := m.tracked.Get(prepareSeqno)
	if !ok {
		return
	}
	tw := v.(*trackedWrite)
	tw.replicationAcks[nodeID] = true
	m.tryResolve(tw)
}

// AckPersistence records that nodeID has persisted the prepare at
// prepareSeqno to disk. A persistence ack implies a replication ack.
func (m *ActiveMonitor) AckPersistence(nodeID string, prepareSeqno int64) {
	v, ok := m.tracked.Get(prepareSeqno)
	if !ok {
		return
	}
	tw := v.(*trackedWrite)
	tw.persistenceAcks[nodeID] = true
	tw.replicationAcks[nodeID] = true
	m.tryResolve(tw)
}

// NotifyLocalPersistence records that the active node itself has
// persisted the prepare at prepareSeqno.
func (m *ActiveMonitor) NotifyLocalPersistence(prepareSeqno int64) {
	v, ok := m.tracked.Get(prepareSeqno)
	if !ok {
		return
	}
	tw := v.(*trackedWrite)
	tw.masterPersisted = true
	m.tryResolve(tw)
}

// tryResolve refreshes tw's own satisfied flag, then drains as many
// writes as possible from the front (lowest prepareSeqno) of the tracked
// set. A write only commits once every older tracked write has already
// resolved — its own quorum being met is necessary but not sufficient,
// since committing it out of order would let the High Prepared Seqno
// skip over a still-unresolved lower seqno.
func (m *ActiveMonitor) tryResolve(tw *trackedWrite) {
	tw.satisfied = true
	for _, chain := range m.topology.Chains {
		if !tw.satisfiedFor(chain) {
			tw.satisfied = false
			break
		}
	}
	m.drainFront()
}

// drainFront commits every prefix of tracked writes, in ascending
// prepareSeqno order, that is currently satisfied, stopping at the first
// unsatisfied write — the fence a lower, still-pending durability level
// (e.g. PersistToMajority) imposes on every write queued after it.
func (m *ActiveMonitor) drainFront() {
	for {
		k, v := m.tracked.Min()
		if v == nil {
			return
		}
		tw := v.(*trackedWrite)
		if !tw.satisfied {
			return
		}
		m.tracked.Remove(k)
		m.resolved[tw.prepareSeqno] = true
		m.advanceHPS()
		if m.onDone != nil {
			m.onDone(tw.key, tw.prepareSeqno, ResultCommitted)
		}
	}
}

// advanceHPS raises the HPS to the highest resolved prepareSeqno that lies
// below every still-tracked prepare. Seqnos that were never prepares (the
// vBucket's ordinary mutations share the same sequence) are not gaps.
func (m *ActiveMonitor) advanceHPS() {
	front := int64(math.MaxInt64)
	if k, _ := m.tracked.Min(); k != nil {
		front = k.(int64)
	}
	for s := range m.resolved {
		if s < front {
			if s > m.hps {
				m.hps = s
			}
			delete(m.resolved, s)
		}
	}
}

// HighPreparedSeqno returns the highest prepareSeqno below which every
// prepare has resolved, with no gap.
func (m *ActiveMonitor) HighPreparedSeqno() int64 {
	return m.hps
}

// NumTracked reports how many sync writes are still awaiting resolution.
func (m *ActiveMonitor) NumTracked() int {
	return m.tracked.Size()
}

// CheckTimeouts scans tracked writes for ones whose requirement timeout
// has elapsed as of now, aborts them, and reports each via onDone. The
// caller (the vBucket's background loop) decides the sweep cadence; the
// monitor itself never starts a goroutine.
func (m *ActiveMonitor) CheckTimeouts(now time.Time) int {
	var timedOut []*trackedWrite
	it := m.tracked.Iterator()
	for it.Next() {
		tw := it.Value().(*trackedWrite)
		if now.Sub(tw.createdAt) >= tw.requirement.Timeout {
			timedOut = append(timedOut, tw)
		}
	}
	for _, tw := range timedOut {
		m.tracked.Remove(tw.prepareSeqno)
		m.resolved[tw.prepareSeqno] = true
		m.advanceHPS()
		if m.onDone != nil {
			m.onDone(tw.key, tw.prepareSeqno, ResultAborted)
		}
	}
	// An abort can remove the write that was fencing an already-satisfied,
	// younger write; give it a chance to commit now that it is the front.
	if len(timedOut) > 0 {
		m.drainFront()
	}
	return len(timedOut)
}
