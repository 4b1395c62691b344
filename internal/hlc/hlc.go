// Package hlc implements the hybrid logical clock used to generate CAS
// values for a single vBucket. One Clock is owned per vBucket; the
// semantics are single-writer and clock-skew-bounded rather than causal.
package hlc

import (
	"sync"
	"time"
)

// Clock produces monotonic, clock-skew-bounded CAS values. It mirrors the
// ep-engine HLC: maxCas tracks the highest CAS ever handed out or folded
// in. epochSeqno is only recorded and returned by EpochSeqno, and the drift
// thresholds are only applied by ValidateDrift; NextCas uses neither.
type Clock struct {
	mu sync.Mutex

	maxCas     uint64
	epochSeqno uint64

	driftAheadThreshold  time.Duration
	driftBehindThreshold time.Duration

	// nowFn is overridden in tests to avoid wall-clock flakiness.
	nowFn func() time.Time
}

// Config carries the epoch seqno and the two drift thresholds that
// ValidateDrift checks candidates against.
type Config struct {
	EpochSeqno           uint64
	DriftAheadThreshold  time.Duration
	DriftBehindThreshold time.Duration
}

// DefaultDriftAheadThreshold and DefaultDriftBehindThreshold match the
// ep-engine defaults (25ms/5s) — generous enough that NTP jitter never
// forces a CAS to run backwards in practice.
const (
	DefaultDriftAheadThreshold  = 25 * time.Millisecond
	DefaultDriftBehindThreshold = 5 * time.Second
)

// New creates a Clock. A zero Config gets the package defaults.
func New(cfg Config) *Clock {
	if cfg.DriftAheadThreshold == 0 {
		cfg.DriftAheadThreshold = DefaultDriftAheadThreshold
	}
	if cfg.DriftBehindThreshold == 0 {
		cfg.DriftBehindThreshold = DefaultDriftBehindThreshold
	}
	return &Clock{
		epochSeqno:           cfg.EpochSeqno,
		driftAheadThreshold:  cfg.DriftAheadThreshold,
		driftBehindThreshold: cfg.DriftBehindThreshold,
		nowFn:                time.Now,
	}
}

// nowNanos returns the wall clock in CAS units: plain nanoseconds since the
// Unix epoch, with no bits shifted or reserved for a logical counter.
func (c *Clock) nowNanos() uint64 {
	return uint64(c.nowFn().UnixNano())
}

// NextCas returns a new CAS value, monotonically greater than every value
// previously returned by this Clock. If wall time has not advanced past
// maxCas, the clock increments maxCas by one instead of stalling —
// exactly the HLC property that lets concurrent callers on one vBucket
// never observe a CAS collision.
func (c *Clock) NextCas() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowNanos()
	if now > c.maxCas {
		c.maxCas = now
	} else {
		c.maxCas++
	}
	return c.maxCas
}

// SetMax folds an externally-observed CAS (e.g. from a replicated
// setWithMeta) into the local clock so the local clock's next generated
// value is still greater than anything already accepted for this vBucket —
// the propagation rule that keeps CAS monotonic across a conflict-resolved
// mutation.
func (c *Clock) SetMax(observed uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if observed > c.maxCas {
		c.maxCas = observed
	}
}

// Max returns the highest CAS handed out or folded in so far.
func (c *Clock) Max() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxCas
}

// EpochSeqno returns the seqno this clock was anchored at during warm-up.
func (c *Clock) EpochSeqno() uint64 {
	return c.epochSeqno
}

// ValidateDrift reports whether a candidate CAS (e.g. arriving via
// setWithMeta from another node) falls within the configured drift bounds
// of this clock's current wall-time view. It never mutates clock state;
// callers decide what to do with an out-of-bounds candidate.
func (c *Clock) ValidateDrift(candidate uint64) bool {
	now := c.nowNanos()
	aheadBound := uint64(c.driftAheadThreshold.Nanoseconds())
	behindBound := uint64(c.driftBehindThreshold.Nanoseconds())

	if candidate > now && candidate-now > aheadBound {
		return false
	}
	if candidate < now && now-candidate > behindBound {
		return false
	}
	return true
}
