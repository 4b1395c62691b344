// Command vbnode hosts a range of vBuckets in one process: it loads
// configuration, creates every vBucket active with a single-node
// (no-replica) topology, and runs a background worker pool that sweeps
// each vBucket's durability timeouts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vbucket-engine/core/internal/admission"
	"github.com/vbucket-engine/core/internal/config"
	"github.com/vbucket-engine/core/internal/durability"
	"github.com/vbucket-engine/core/internal/stats"
	"github.com/vbucket-engine/core/internal/util/workerpool"
	"github.com/vbucket-engine/core/internal/vbucket"
)

func main() {
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.String("node_id", cfg.Node.NodeID),
		zap.Int("num_vbuckets", cfg.Node.NumVBuckets))

	statsReg := stats.NewRegistry(cfg.Node.NodeID)

	// A single-node deployment has one chain with no replica nodes; its
	// quorum of 1 is satisfied by the active node alone, so durability
	// requirements still resolve without a cluster.
	topology := durability.Topology{Chains: []durability.Chain{{}}}

	vbuckets := make([]*vbucket.VBucket, cfg.Node.NumVBuckets)
	for i := range vbuckets {
		vbuckets[i] = vbucket.New(vbucket.Config{
			ID:             uint16(i),
			State:          vbucket.StateActive,
			NumShards:      cfg.HashTable.NumShards,
			EvictionPolicy: cfg.EvictionPolicy(),
			MaxResidentLRU: cfg.HashTable.MaxResidentLRU,
			Topology:       topology,
			Stats:          statsReg,
			Logger:         logger,
			Admission: admission.Config{
				WarningThreshold:      cfg.Admission.WarningThreshold,
				ThrottleThreshold:     cfg.Admission.ThrottleThreshold,
				CircuitBreakThreshold: cfg.Admission.CircuitBreakThreshold,
				ReplicationThreshold:  cfg.Admission.ReplicationThreshold,
			},
		})
	}

	pool := workerpool.NewWorkerPool(&workerpool.Config{
		Name:       "vbnode-background",
		MaxWorkers: cfg.Node.BackgroundLoopWorkers,
		QueueSize:  cfg.Node.NumVBuckets * 2,
		Logger:     logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	stopSweep := startDurabilitySweepLoop(ctx, pool, vbuckets, cfg.Durability.TimeoutSweepInterval, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down gracefully...")
	cancel()
	<-stopSweep
	if err := pool.Stop(10 * time.Second); err != nil {
		logger.Error("worker pool did not drain cleanly", zap.Error(err))
	}
}

// startDurabilitySweepLoop submits, on every tick, one task per vBucket
// that sweeps that vBucket's durability monitor for timed-out sync writes.
// Returns a channel closed once the loop has
// observed ctx cancellation and stopped submitting new work.
func startDurabilitySweepLoop(ctx context.Context, pool *workerpool.WorkerPool, vbuckets []*vbucket.VBucket, interval time.Duration, logger *zap.Logger) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, vb := range vbuckets {
					vb := vb
					_ = pool.Submit(workerpool.Task{
						ID: fmt.Sprintf("sweep-vb-%d", vb.ID()),
						Fn: func(context.Context) error {
							n := vb.SweepDurabilityTimeouts()
							if n > 0 {
								logger.Debug("aborted timed-out sync writes", zap.Uint16("vbid", vb.ID()), zap.Int("count", n))
							}
							return nil
						},
					})
				}
			}
		}
	}()
	return done
}

func initLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return cfg.Build()
}
