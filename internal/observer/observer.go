// Package observer defines the host callback interfaces a vBucket invokes
// into as side effects of its operations, and a recording test double that
// implements all of them. Each callback is one named method with a typed
// signature rather than a single generic "event" callback.
package observer

import (
	"sync"

	"go.uber.org/zap"
)

// NewSeqnoObserver is notified whenever a vBucket assigns a new by-seqno,
// so the host can advance any cross-vBucket high-seqno bookkeeping (e.g. a
// bucket-wide max-seqno used for DCP rollback negotiation).
type NewSeqnoObserver interface {
	NewSeqno(vbid uint16, seqno int64)
}

// SyncWriteCompleteObserver is notified when a tracked sync write resolves.
type SyncWriteCompleteObserver interface {
	SyncWriteComplete(vbid uint16, key string, prepareSeqno int64, committed bool)
}

// SeqnoAckObserver is notified when a passive vBucket's High Prepared
// Seqno advances, so the host can forward the ack to the active node's
// DCP consumer.
type SeqnoAckObserver interface {
	SeqnoAck(vbid uint16, preparedSeqno int64)
}

// PreLinkDocumentObserver is given a chance to rewrite a document's xattrs
// immediately before it becomes visible to readers (e.g. to stamp a
// server-generated CAS-derived macro expansion).
type PreLinkDocumentObserver interface {
	PreLinkDocument(vbid uint16, key string, value []byte) []byte
}

// Host aggregates every callback interface a vBucket may invoke. A
// concrete host need not implement all four directly; Recorder below
// implements Host entirely for tests.
type Host interface {
	NewSeqnoObserver
	SyncWriteCompleteObserver
	SeqnoAckObserver
	PreLinkDocumentObserver
}

// SyncWriteCompletion is one recorded SyncWriteComplete call.
type SyncWriteCompletion struct {
	VBucketID    uint16
	Key          string
	PrepareSeqno int64
	Committed    bool
}

// Recorder is a Host implementation that records every callback
// invocation for test assertions, instead of forwarding to a real
// cluster-facing component.
type Recorder struct {
	mu sync.Mutex

	Logger *zap.Logger

	Seqnos       []int64
	Completions  []SyncWriteCompletion
	Acks         []int64
	PreLinkCalls int
}

// NewRecorder creates an empty Recorder.
func NewRecorder(logger *zap.Logger) *Recorder {
	return &Recorder{Logger: logger}
}

func (r *Recorder) NewSeqno(vbid uint16, seqno int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Seqnos = append(r.Seqnos, seqno)
	if r.Logger != nil {
		r.Logger.Debug("new seqno", zap.Uint16("vbid", vbid), zap.Int64("seqno", seqno))
	}
}

func (r *Recorder) SyncWriteComplete(vbid uint16, key string, prepareSeqno int64, committed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Completions = append(r.Completions, SyncWriteCompletion{
		VBucketID: vbid, Key: key, PrepareSeqno: prepareSeqno, Committed: committed,
	})
}

func (r *Recorder) SeqnoAck(vbid uint16, preparedSeqno int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Acks = append(r.Acks, preparedSeqno)
}

func (r *Recorder) PreLinkDocument(vbid uint16, key string, value []byte) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PreLinkCalls++
	return value
}

var _ Host = (*Recorder)(nil)
