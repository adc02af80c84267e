// Package keeper runs the in-process due-payment sweep.
package keeper

import (
	"context"
	"time"

	"github.com/kevin07696/escrow-scheduler/internal/auth"
	"github.com/kevin07696/escrow-scheduler/internal/domain"
	"github.com/kevin07696/escrow-scheduler/internal/domain/ports"
	"github.com/kevin07696/escrow-scheduler/internal/services/scheduler"
	"github.com/kevin07696/escrow-scheduler/pkg/observability"
	"github.com/kevin07696/escrow-scheduler/pkg/resilience"
	"github.com/kevin07696/escrow-scheduler/pkg/shutdown"
	"go.uber.org/zap"
)

// LeaseName is the lease replicas contend for before sweeping.
const LeaseName = "keeper-sweep"

// Caller is the identity sweeps run as.
const Caller domain.AccountID = "keeper"

// DueProcessor sweeps due subscriptions
type DueProcessor interface {
	ProcessDue(ctx context.Context, limit int) (*scheduler.BatchResult, error)
}

// Config tunes the runner
type Config struct {
	Interval  time.Duration
	BatchSize int
	LeaseTTL  time.Duration
}

// Runner sweeps due payments on an interval. Only the replica holding the
// lease sweeps on a given tick.
type Runner struct {
	processor DueProcessor
	locker    ports.LeaseLocker
	timeouts  *resilience.TimeoutConfig
	logger    *zap.Logger
	cfg       Config
	worker    *shutdown.PeriodicWorker
}

// NewRunner creates a keeper runner
func NewRunner(processor DueProcessor, locker ports.LeaseLocker, timeouts *resilience.TimeoutConfig, cfg Config, logger *zap.Logger) *Runner {
	return &Runner{
		processor: processor,
		locker:    locker,
		timeouts:  timeouts,
		logger:    logger,
		cfg:       cfg,
		worker:    shutdown.NewPeriodicWorker("keeper", cfg.Interval, logger),
	}
}

// Start begins sweeping in the background
func (r *Runner) Start(ctx context.Context) {
	r.worker.Start(ctx, func(ctx context.Context) {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Keeper sweep failed", zap.Error(err))
		}
	})
}

// Shutdown stops the runner after the current sweep
func (r *Runner) Shutdown(ctx context.Context) error {
	return r.worker.Shutdown(ctx)
}

// RunOnce performs one sweep if the lease is free. A nil result means another
// replica holds the lease.
func (r *Runner) RunOnce(ctx context.Context) (*scheduler.BatchResult, error) {
	release, ok, err := r.locker.Acquire(ctx, LeaseName, r.cfg.LeaseTTL)
	if err != nil {
		observability.RecordKeeperSweep("lease_error")
		return nil, err
	}
	if !ok {
		observability.RecordKeeperSweep("lease_held")
		r.logger.Debug("Keeper lease held elsewhere, skipping tick")
		return nil, nil
	}
	defer func() {
		// Released on a fresh context so a cancelled sweep still frees the lease.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			r.logger.Warn("Failed to release keeper lease", zap.Error(err))
		}
	}()

	sweepCtx, cancel := r.timeouts.SweepContext(auth.WithCaller(ctx, Caller, auth.AuthTypeInternal))
	defer cancel()

	start := time.Now()
	result, err := r.processor.ProcessDue(sweepCtx, r.cfg.BatchSize)
	if err != nil {
		observability.RecordKeeperSweep("error")
		return nil, err
	}
	switch {
	case len(result.Skipped) > 0:
		observability.RecordKeeperSweep("partial")
	case result.Requested == 0:
		observability.RecordKeeperSweep("idle")
	default:
		observability.RecordKeeperSweep("ok")
	}

	if result.Requested > 0 {
		r.logger.Info("Keeper sweep completed",
			zap.Int("requested", result.Requested),
			zap.Int("processed", len(result.Processed)),
			zap.Int("skipped", len(result.Skipped)),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return result, nil
}
