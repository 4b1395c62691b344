// Package config loads and validates a vBucket node's YAML configuration:
// node identity, hash table, checkpoint, durability, admission, HLC,
// validation, and logging sections.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vbucket-engine/core/internal/durability"
	"github.com/vbucket-engine/core/internal/hashtable"
)

// NodeConfig identifies this process and the vBucket range it hosts.
type NodeConfig struct {
	NodeID         string `yaml:"node_id"`
	NumVBuckets    int    `yaml:"num_vbuckets"`
	BackgroundLoopWorkers int `yaml:"background_loop_workers"`
}

// HashTableConfig configures each vBucket's hash table.
type HashTableConfig struct {
	NumShards      int    `yaml:"num_shards"`
	EvictionPolicy string `yaml:"eviction_policy"` // "value" or "full"
	MaxResidentLRU int    `yaml:"max_resident_lru"`
}

// CheckpointConfig configures the per-vBucket checkpoint manager.
type CheckpointConfig struct {
	MaxItemsPerCheckpoint int `yaml:"max_items_per_checkpoint"`
}

// DurabilityConfig configures default sync-write behavior and the
// background timeout sweep cadence.
type DurabilityConfig struct {
	DefaultLevel         string        `yaml:"default_level"` // "majority", "majority_and_persist_on_master", "persist_to_majority"
	DefaultTimeout       time.Duration `yaml:"default_timeout"`
	TimeoutSweepInterval time.Duration `yaml:"timeout_sweep_interval"`
}

// AdmissionConfig configures the memory admission controller's staged
// thresholds, in bytes.
type AdmissionConfig struct {
	WarningThreshold      uint64 `yaml:"warning_threshold_bytes"`
	ThrottleThreshold     uint64 `yaml:"throttle_threshold_bytes"`
	CircuitBreakThreshold uint64 `yaml:"circuit_break_threshold_bytes"`
	ReplicationThreshold  uint64 `yaml:"replication_threshold_bytes"`
}

// HLCConfig configures the clock-skew bounds for CAS generation.
type HLCConfig struct {
	DriftAheadThreshold  time.Duration `yaml:"drift_ahead_threshold"`
	DriftBehindThreshold time.Duration `yaml:"drift_behind_threshold"`
}

// ValidationConfig configures the key/value size limits enforced at the
// vBucket boundary.
type ValidationConfig struct {
	MaxKeySize   int `yaml:"max_key_size"`
	MaxValueSize int `yaml:"max_value_size"`
}

// LoggingConfig configures the process-wide logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete configuration for one vBucket-hosting node.
type Config struct {
	Node       NodeConfig       `yaml:"node"`
	HashTable  HashTableConfig  `yaml:"hash_table"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Durability DurabilityConfig `yaml:"durability"`
	Admission  AdmissionConfig  `yaml:"admission"`
	HLC        HLCConfig        `yaml:"hlc"`
	Validation ValidationConfig `yaml:"validation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoadConfig reads and validates configuration from filePath.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Node.NumVBuckets == 0 {
		cfg.Node.NumVBuckets = 1024
	}
	if cfg.Node.BackgroundLoopWorkers == 0 {
		cfg.Node.BackgroundLoopWorkers = 4
	}

	if cfg.HashTable.NumShards == 0 {
		cfg.HashTable.NumShards = 64
	}
	if cfg.HashTable.EvictionPolicy == "" {
		cfg.HashTable.EvictionPolicy = "value"
	}
	if cfg.HashTable.MaxResidentLRU == 0 {
		cfg.HashTable.MaxResidentLRU = 100000
	}

	if cfg.Checkpoint.MaxItemsPerCheckpoint == 0 {
		cfg.Checkpoint.MaxItemsPerCheckpoint = 10000
	}

	if cfg.Durability.DefaultLevel == "" {
		cfg.Durability.DefaultLevel = "majority"
	}
	if cfg.Durability.DefaultTimeout == 0 {
		cfg.Durability.DefaultTimeout = 2500 * time.Millisecond
	}
	if cfg.Durability.TimeoutSweepInterval == 0 {
		cfg.Durability.TimeoutSweepInterval = 100 * time.Millisecond
	}

	if cfg.Admission.ThrottleThreshold == 0 {
		cfg.Admission.ThrottleThreshold = 1 << 30 // 1GiB
	}
	if cfg.Admission.CircuitBreakThreshold == 0 {
		cfg.Admission.CircuitBreakThreshold = uint64(float64(cfg.Admission.ThrottleThreshold) * 1.25)
	}
	if cfg.Admission.ReplicationThreshold == 0 {
		cfg.Admission.ReplicationThreshold = uint64(float64(cfg.Admission.CircuitBreakThreshold) * 1.5)
	}

	if cfg.HLC.DriftAheadThreshold == 0 {
		cfg.HLC.DriftAheadThreshold = 25 * time.Millisecond
	}
	if cfg.HLC.DriftBehindThreshold == 0 {
		cfg.HLC.DriftBehindThreshold = 5 * time.Second
	}

	if cfg.Validation.MaxKeySize == 0 {
		cfg.Validation.MaxKeySize = 250
	}
	if cfg.Validation.MaxValueSize == 0 {
		cfg.Validation.MaxValueSize = 20 * 1024 * 1024
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	if c.Node.NodeID == "" {
		return fmt.Errorf("node.node_id is required")
	}
	if c.Node.NumVBuckets < 1 {
		return fmt.Errorf("node.num_vbuckets must be at least 1")
	}
	if c.HashTable.EvictionPolicy != "value" && c.HashTable.EvictionPolicy != "full" {
		return fmt.Errorf("hash_table.eviction_policy must be \"value\" or \"full\"")
	}
	if _, err := c.DurabilityLevel(); err != nil {
		return err
	}
	if c.Admission.CircuitBreakThreshold > 0 && c.Admission.ThrottleThreshold > c.Admission.CircuitBreakThreshold {
		return fmt.Errorf("admission.throttle_threshold_bytes must not exceed admission.circuit_break_threshold_bytes")
	}
	return nil
}

// EvictionPolicy translates the configured string into hashtable.EvictionPolicy.
func (c *Config) EvictionPolicy() hashtable.EvictionPolicy {
	if c.HashTable.EvictionPolicy == "full" {
		return hashtable.FullEvictionPolicy
	}
	return hashtable.ValueEvictionPolicy
}

// DurabilityLevel translates the configured string into durability.Level.
func (c *Config) DurabilityLevel() (durability.Level, error) {
	switch c.Durability.DefaultLevel {
	case "majority":
		return durability.Majority, nil
	case "majority_and_persist_on_master":
		return durability.MajorityAndPersistOnMaster, nil
	case "persist_to_majority":
		return durability.PersistToMajority, nil
	default:
		return 0, fmt.Errorf("durability.default_level %q is not a recognized level", c.Durability.DefaultLevel)
	}
}
