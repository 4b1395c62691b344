package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vbucket-engine/core/internal/errors"
)

func TestCheckBeforeMutationAllowsUnderThresholds(t *testing.T) {
	c := New(Config{ThrottleThreshold: 1000, CircuitBreakThreshold: 2000}, nil)
	c.Reserve(100)
	assert.NoError(t, c.CheckBeforeMutation(50))
}

func TestCheckBeforeMutationRejectsOverCircuitBreaker(t *testing.T) {
	c := New(Config{ThrottleThreshold: 1000, CircuitBreakThreshold: 2000}, nil)
	c.Reserve(2500)

	err := c.CheckBeforeMutation(10)
	assert.Equal(t, errors.Enomem, errors.CodeOf(err))
}

func TestCheckBeforeMutationThrottlesLargeWritesNotSmall(t *testing.T) {
	c := New(Config{ThrottleThreshold: 1000, CircuitBreakThreshold: 2000}, nil)
	c.Reserve(1500) // over throttle, under circuit breaker; remaining=500, allowance=50

	assert.NoError(t, c.CheckBeforeMutation(10))
	err := c.CheckBeforeMutation(200)
	assert.Equal(t, errors.Tmpfail, errors.CodeOf(err))
}

func TestReleaseReducesUsedBytes(t *testing.T) {
	c := New(Config{}, nil)
	c.Reserve(100)
	c.Release(40)
	assert.Equal(t, uint64(60), c.UsedBytes())
}

func TestCheckBeforeReplicationIndependentOfClientThresholds(t *testing.T) {
	c := New(Config{ThrottleThreshold: 10, CircuitBreakThreshold: 20, ReplicationThreshold: 1000}, nil)
	c.Reserve(500) // would block a client write, but replication threshold is much higher

	assert.NoError(t, c.CheckBeforeReplication(10))

	c.Reserve(600)
	err := c.CheckBeforeReplication(10)
	assert.Equal(t, errors.Enomem, errors.CodeOf(err))
}
