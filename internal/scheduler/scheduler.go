package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/afroboost/campaign-scheduler/internal/service/concurrency"
	"github.com/afroboost/campaign-scheduler/internal/telemetry"
	apperrors "github.com/afroboost/campaign-scheduler/pkg/errors"
	"github.com/afroboost/campaign-scheduler/pkg/logger"
)

// Sweeper performs one sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (SweepReport, error)
}

// Lock serializes sweeps across processes.
type Lock interface {
	Acquire(ctx context.Context) (concurrency.ReleaseFunc, bool, error)
}

// Scheduler runs sweeps once or on a fixed interval.
type Scheduler struct {
	sweeper Sweeper
	lock    Lock
	logger  *logger.Logger
}

// New constructs a scheduler. A nil lock means sweeps are not coordinated.
func New(sweeper Sweeper, lock Lock, log *logger.Logger) *Scheduler {
	if lock == nil {
		lock = concurrency.NopLock{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{sweeper: sweeper, lock: lock, logger: log}
}

// RunOnce performs a single sweep under the sweep lock. It returns
// apperrors.ErrLockHeld when another process is sweeping.
func (s *Scheduler) RunOnce(ctx context.Context) (SweepReport, error) {
	release, ok, err := s.lock.Acquire(ctx)
	if err != nil {
		telemetry.SweepsTotal.WithLabelValues("error").Inc()
		return SweepReport{}, err
	}
	if !ok {
		telemetry.SweepsTotal.WithLabelValues("skipped").Inc()
		return SweepReport{}, apperrors.ErrLockHeld
	}
	defer func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := release(rctx); err != nil {
			s.logger.Warn("scheduler: sweep lock release failed", zap.Error(err))
		}
	}()

	started := time.Now()
	report, err := s.sweeper.Sweep(ctx)
	telemetry.SweepDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		telemetry.SweepsTotal.WithLabelValues("error").Inc()
		return report, err
	}
	telemetry.SweepsTotal.WithLabelValues("ok").Inc()
	return report, nil
}

// Run sweeps immediately and then on every tick until ctx is cancelled. A failed
// sweep is logged and the loop continues.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler: loop started", zap.Duration("interval", interval))
	for {
		_, err := s.RunOnce(ctx)
		switch {
		case errors.Is(err, apperrors.ErrLockHeld):
			s.logger.Info("scheduler: another sweep holds the lock, skipping")
		case err != nil && ctx.Err() == nil:
			s.logger.Error("scheduler: sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler: loop stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
