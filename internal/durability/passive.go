package durability

import (
	"math"

	"github.com/emirpasic/gods/maps/treemap"
)

// PassiveMonitor tracks sync writes a replica has received a prepare for
// but has not yet seen a commit or abort for from its active. It exists
// purely to compute the local High Prepared Seqno, which the replica's
// seqnoAck callback reports upstream.
type PassiveMonitor struct {
	tracked *treemap.Map // int64 prepareSeqno -> struct{}
	resolved map[int64]bool
	hps     int64
}

// NewPassiveMonitor creates an empty PassiveMonitor.
func NewPassiveMonitor() *PassiveMonitor {
	return &PassiveMonitor{
		tracked:  treemap.NewWith(compareInt64s),
		resolved: make(map[int64]bool),
	}
}

// AddSyncWrite records a prepare received from the active.
func (m *PassiveMonitor) AddSyncWrite(prepareSeqno int64) {
	m.tracked.Put(prepareSeqno, struct{}{})
}

// Commit records that the active's commit for prepareSeqno has been
// applied locally, and advances HPS up to the oldest still-tracked prepare.
func (m *PassiveMonitor) Commit(prepareSeqno int64) {
	m.resolve(prepareSeqno)
}

// Abort records that the active's abort for prepareSeqno has been applied
// locally.
func (m *PassiveMonitor) Abort(prepareSeqno int64) {
	m.resolve(prepareSeqno)
}

func (m *PassiveMonitor) resolve(prepareSeqno int64) {
	m.tracked.Remove(prepareSeqno)
	m.resolved[prepareSeqno] = true
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
// prepare this replica has seen has been resolved, with no gap.
func (m *PassiveMonitor) HighPreparedSeqno() int64 {
	return m.hps
}

// NumTracked reports how many prepares are awaiting a commit or abort.
func (m *PassiveMonitor) NumTracked() int {
	return m.tracked.Size()
}
