// Package admission implements memory admission control for a vBucket: a
// warning/throttle/circuit-breaker staged policy over an
// atomically-updated in-memory byte counter, checked against a mutation
// threshold and an independent, higher replication threshold.
package admission

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/vbucket-engine/core/internal/errors"
)

// Controller tracks estimated resident bytes for one vBucket (or a whole
// node, if shared) and decides whether a mutation of a given size may be
// admitted.
type Controller struct {
	usedBytes int64 // atomic

	logger *zap.Logger

	warningThreshold     uint64
	throttleThreshold    uint64
	circuitBreakThreshold uint64

	// replicationThreshold gates replicated (passive-side) mutations
	// alone, independent of the client-write thresholds above — a
	// replica must keep accepting the active's stream even while client
	// writes are throttled, up to its own higher limit.
	replicationThreshold uint64
}

// Config carries the byte thresholds that stage admission decisions.
type Config struct {
	WarningThreshold      uint64
	ThrottleThreshold     uint64
	CircuitBreakThreshold uint64
	ReplicationThreshold  uint64
}

// New creates a Controller. A zero-valued threshold disables that stage.
func New(cfg Config, logger *zap.Logger) *Controller {
	return &Controller{
		logger:                logger,
		warningThreshold:      cfg.WarningThreshold,
		throttleThreshold:     cfg.ThrottleThreshold,
		circuitBreakThreshold: cfg.CircuitBreakThreshold,
		replicationThreshold:  cfg.ReplicationThreshold,
	}
}

// Reserve records estimatedBytes as newly resident, for accounting after a
// mutation has been admitted.
func (c *Controller) Reserve(estimatedBytes int64) {
	atomic.AddInt64(&c.usedBytes, estimatedBytes)
}

// Release records estimatedBytes as no longer resident (eviction, delete,
// or value-byte drop).
func (c *Controller) Release(estimatedBytes int64) {
	atomic.AddInt64(&c.usedBytes, -estimatedBytes)
}

// UsedBytes returns the current tracked byte count.
func (c *Controller) UsedBytes() uint64 {
	v := atomic.LoadInt64(&c.usedBytes)
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// CheckBeforeMutation decides whether a client mutation of estimatedBytes
// may proceed. Returns Enomem once the circuit-break threshold is
// crossed; below that, small writes are still admitted while over the
// throttle threshold (the same "allow small writes, reject large ones"
// policy the DiskManager applies), returning Tmpfail for anything larger
// than a tenth of the remaining budget.
func (c *Controller) CheckBeforeMutation(estimatedBytes uint64) error {
	used := c.UsedBytes()

	if c.circuitBreakThreshold > 0 && used >= c.circuitBreakThreshold {
		if c.logger != nil {
			c.logger.Error("memory circuit breaker engaged", zap.Uint64("used_bytes", used))
		}
		return errors.OutOfMemory("vbucket_memory", used, c.circuitBreakThreshold)
	}

	if c.throttleThreshold > 0 && used >= c.throttleThreshold {
		remaining := uint64(0)
		if c.circuitBreakThreshold > used {
			remaining = c.circuitBreakThreshold - used
		}
		if estimatedBytes > remaining/10 {
			return errors.New(errors.Tmpfail, fmt.Sprintf(
				"memory usage at %d bytes, write throttled", used))
		}
	}

	if c.warningThreshold > 0 && used >= c.warningThreshold && c.logger != nil {
		c.logger.Warn("vbucket memory usage high", zap.Uint64("used_bytes", used))
	}

	return nil
}

// CheckBeforeReplication decides whether an incoming replicated mutation
// of estimatedBytes may be applied. A replica must not reject its
// active's stream under the same threshold a client write is throttled
// at; it only refuses once the (typically higher) replication threshold
// is crossed.
func (c *Controller) CheckBeforeReplication(estimatedBytes uint64) error {
	if c.replicationThreshold == 0 {
		return nil
	}
	used := c.UsedBytes()
	if used >= c.replicationThreshold {
		return errors.OutOfMemory("vbucket_replication_memory", used, c.replicationThreshold)
	}
	return nil
}
