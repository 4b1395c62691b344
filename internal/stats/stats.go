// Package stats implements the per-vBucket textual stats surface: one
// struct field per metric, built with promauto so every metric
// self-registers, plus a flat map[string]string snapshot pairing a stat
// name with its current value for a diagnostics dump.
package stats

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the Prometheus metrics for every vBucket hosted by one
// node, labeled by vbid so a single registry serves the whole process.
type Registry struct {
	mu sync.Mutex

	HighSeqno          *prometheus.GaugeVec
	HighPreparedSeqno  *prometheus.GaugeVec
	NumItems           *prometheus.GaugeVec
	NumTempItems       *prometheus.GaugeVec
	MemUsedBytes       *prometheus.GaugeVec
	NumCheckpoints     *prometheus.GaugeVec
	SyncWritesTracked  *prometheus.GaugeVec
	SyncWritesCommitted *prometheus.CounterVec
	SyncWritesAborted  *prometheus.CounterVec
	EvictionsTotal     *prometheus.CounterVec
	RollbacksTotal     *prometheus.CounterVec

	// cache of the last value pushed per (metric, vbid), used to serve a
	// synchronous Snapshot without scraping the Prometheus collectors.
	lastValues map[string]float64
}

// NewRegistry creates and registers every vBucket metric. namespace is the
// Prometheus namespace (process-wide, e.g. the node ID) every metric is
// registered under.
func NewRegistry(namespace string) *Registry {
	vbidLabel := []string{"vbid"}
	r := &Registry{
		lastValues: make(map[string]float64),
	}

	r.HighSeqno = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "vbucket", Name: "high_seqno",
		Help: "Highest by-seqno assigned on this vBucket.",
	}, vbidLabel)
	r.HighPreparedSeqno = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "vbucket", Name: "high_prepared_seqno",
		Help: "Highest prepareSeqno below which every sync write has resolved.",
	}, vbidLabel)
	r.NumItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "vbucket", Name: "num_items",
		Help: "Number of live (non-deleted) items in the hash table.",
	}, vbidLabel)
	r.NumTempItems = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "vbucket", Name: "num_temp_items",
		Help: "Number of temporary placeholder items awaiting bgfetch resolution.",
	}, vbidLabel)
	r.MemUsedBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "vbucket", Name: "mem_used_bytes",
		Help: "Estimated resident value bytes for this vBucket.",
	}, vbidLabel)
	r.NumCheckpoints = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "checkpoint", Name: "num_checkpoints",
		Help: "Number of checkpoints currently retained.",
	}, vbidLabel)
	r.SyncWritesTracked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "durability", Name: "sync_writes_tracked",
		Help: "Sync writes awaiting quorum resolution.",
	}, vbidLabel)
	r.SyncWritesCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "durability", Name: "sync_writes_committed_total",
		Help: "Sync writes that reached quorum and committed.",
	}, vbidLabel)
	r.SyncWritesAborted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "durability", Name: "sync_writes_aborted_total",
		Help: "Sync writes that timed out before reaching quorum.",
	}, vbidLabel)
	r.EvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "vbucket", Name: "evictions_total",
		Help: "Values evicted from the hash table.",
	}, vbidLabel)
	r.RollbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "vbucket", Name: "rollbacks_total",
		Help: "Times this vBucket rolled back to a prior seqno.",
	}, vbidLabel)

	return r
}

func vb(vbid uint16) string {
	return fmt.Sprintf("%d", vbid)
}

// SetHighSeqno records the current high seqno for vbid and caches it for
// Snapshot.
func (r *Registry) SetHighSeqno(vbid uint16, seqno int64) {
	r.HighSeqno.WithLabelValues(vb(vbid)).Set(float64(seqno))
	r.cache(vbid, "vb_high_seqno", float64(seqno))
}

// SetHighPreparedSeqno records the current HPS for vbid.
func (r *Registry) SetHighPreparedSeqno(vbid uint16, seqno int64) {
	r.HighPreparedSeqno.WithLabelValues(vb(vbid)).Set(float64(seqno))
	r.cache(vbid, "vb_high_prepared_seqno", float64(seqno))
}

// SetNumItems records the live item count for vbid.
func (r *Registry) SetNumItems(vbid uint16, n int) {
	r.NumItems.WithLabelValues(vb(vbid)).Set(float64(n))
	r.cache(vbid, "vb_num_items", float64(n))
}

// SetNumTempItems records the temp-item count for vbid.
func (r *Registry) SetNumTempItems(vbid uint16, n int) {
	r.NumTempItems.WithLabelValues(vb(vbid)).Set(float64(n))
	r.cache(vbid, "vb_num_temp_items", float64(n))
}

// SetMemUsedBytes records estimated resident bytes for vbid.
func (r *Registry) SetMemUsedBytes(vbid uint16, bytes uint64) {
	r.MemUsedBytes.WithLabelValues(vb(vbid)).Set(float64(bytes))
	r.cache(vbid, "vb_mem_used_bytes", float64(bytes))
}

// SetNumCheckpoints records the retained checkpoint count for vbid.
func (r *Registry) SetNumCheckpoints(vbid uint16, n int) {
	r.NumCheckpoints.WithLabelValues(vb(vbid)).Set(float64(n))
	r.cache(vbid, "vb_num_checkpoints", float64(n))
}

// SetSyncWritesTracked records the number of in-flight sync writes.
func (r *Registry) SetSyncWritesTracked(vbid uint16, n int) {
	r.SyncWritesTracked.WithLabelValues(vb(vbid)).Set(float64(n))
	r.cache(vbid, "vb_sync_writes_tracked", float64(n))
}

// IncSyncWriteCommitted increments the committed sync-write counter.
func (r *Registry) IncSyncWriteCommitted(vbid uint16) {
	r.SyncWritesCommitted.WithLabelValues(vb(vbid)).Inc()
}

// IncSyncWriteAborted increments the aborted sync-write counter.
func (r *Registry) IncSyncWriteAborted(vbid uint16) {
	r.SyncWritesAborted.WithLabelValues(vb(vbid)).Inc()
}

// IncEvictions increments the eviction counter by n.
func (r *Registry) IncEvictions(vbid uint16, n int) {
	r.EvictionsTotal.WithLabelValues(vb(vbid)).Add(float64(n))
}

// IncRollbacks increments the rollback counter.
func (r *Registry) IncRollbacks(vbid uint16) {
	r.RollbacksTotal.WithLabelValues(vb(vbid)).Inc()
}

func (r *Registry) cache(vbid uint16, name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastValues[fmt.Sprintf("%s:%d", name, vbid)] = value
}

// Snapshot returns a flat, textual key/value map of one vBucket's gauges
// as last reported, the shape a "stats vbucket-details" admin command
// renders verbatim.
func (r *Registry) Snapshot(vbid uint16) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string)
	suffix := fmt.Sprintf(":%d", vbid)
	for k, v := range r.lastValues {
		if len(k) > len(suffix) && k[len(k)-len(suffix):] == suffix {
			name := k[:len(k)-len(suffix)]
			out[name] = fmt.Sprintf("%v", v)
		}
	}
	return out
}
