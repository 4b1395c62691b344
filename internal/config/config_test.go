package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "node:\n  node_id: vb-node-1\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "vb-node-1", cfg.Node.NodeID)
	assert.Equal(t, 1024, cfg.Node.NumVBuckets)
	assert.Equal(t, 64, cfg.HashTable.NumShards)
	assert.Equal(t, "value", cfg.HashTable.EvictionPolicy)
	assert.Equal(t, "majority", cfg.Durability.DefaultLevel)
	assert.NotZero(t, cfg.Admission.ThrottleThreshold)
	assert.True(t, cfg.Admission.CircuitBreakThreshold > cfg.Admission.ThrottleThreshold)
}

func TestLoadConfigRejectsMissingNodeID(t *testing.T) {
	path := writeConfig(t, "node:\n  num_vbuckets: 16\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigRejectsUnknownEvictionPolicy(t *testing.T) {
	path := writeConfig(t, "node:\n  node_id: x\nhash_table:\n  eviction_policy: bogus\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigRejectsUnknownDurabilityLevel(t *testing.T) {
	path := writeConfig(t, "node:\n  node_id: x\ndurability:\n  default_level: quorum\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestEvictionPolicyTranslatesFullPolicy(t *testing.T) {
	path := writeConfig(t, "node:\n  node_id: x\nhash_table:\n  eviction_policy: full\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 1, int(cfg.EvictionPolicy()))
}
