package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
	"github.com/angelmondragon/marketsettle-backend/pkg/metrics"
)

const defaultInterval = time.Minute

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service executes registered cron jobs on a fixed cadence.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration

	// mu keeps ticker cycles and manual triggers in this process from
	// interleaving; the lock covers other instances.
	mu sync.Mutex
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

// Run starts the cron loop until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.runCycle(ctx); err != nil {
		s.logg.Error(ctx, "scheduled run failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := s.runCycle(ctx); err != nil {
				s.logg.Error(ctx, "scheduled run failed", err)
			}
		}
	}
}

// Trigger runs a single registered job immediately under the same lock as
// the scheduled cycle. It returns CodeConflict when another run holds the lock.
func (s *Service) Trigger(ctx context.Context, name string) error {
	job := s.registry.Find(name)
	if job == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "job not registered").
			WithDetails(map[string]any{"job": name})
	}
	return s.withLock(ctx, func(ctx context.Context) error {
		return s.runJob(ctx, job)
	}, func() error {
		return pkgerrors.New(pkgerrors.CodeConflict, "another run is in progress").
			WithDetails(map[string]any{"job": name})
	})
}

func (s *Service) runCycle(ctx context.Context) error {
	return s.withLock(ctx, func(ctx context.Context) error {
		s.logg.Info(ctx, "scheduled run starting")
		for _, job := range s.registry.Jobs() {
			if ctx.Err() != nil {
				break
			}
			_ = s.runJob(ctx, job)
		}
		s.logg.Info(ctx, "scheduled run complete")
		return nil
	}, func() error {
		s.logg.Info(ctx, "another cron instance is running; skipping this cycle")
		return nil
	})
}

func (s *Service) withLock(ctx context.Context, fn func(context.Context) error, busy func() error) error {
	if !s.mu.TryLock() {
		return busy()
	}
	defer s.mu.Unlock()

	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock acquire")
	}
	if !locked {
		return busy()
	}
	defer func() {
		// release even when ctx was canceled mid-run
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()
	return fn(ctx)
}

func (s *Service) runJob(ctx context.Context, job Job) error {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	jobCtx = s.logg.WithField(jobCtx, "event", "cron.job")
	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.IncFailure(job.Name())
		return err
	}
	s.logg.Info(jobCtx, "job completed")
	s.metrics.IncSuccess(job.Name())
	return nil
}
