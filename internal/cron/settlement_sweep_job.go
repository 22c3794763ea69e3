package cron

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/marketsettle-backend/internal/settlement"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
)

// SettlementSweepJobName is the registry name of the sweep.
const SettlementSweepJobName = "settlement-sweep"

type sweeper interface {
	RunSweep(ctx context.Context) (*settlement.SweepReport, error)
}

type SettlementSweepJobParams struct {
	Logger  *logger.Logger
	Sweeper sweeper
}

// NewSettlementSweepJob builds the job that pays out delivered orders whose
// holding period has elapsed.
func NewSettlementSweepJob(params SettlementSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("settlement sweeper required")
	}
	return &settlementSweepJob{logg: params.Logger, sweeper: params.Sweeper}, nil
}

type settlementSweepJob struct {
	logg    *logger.Logger
	sweeper sweeper
}

func (j *settlementSweepJob) Name() string { return SettlementSweepJobName }

// Run sweeps once. Per-order failures do not stop the sweep; they are
// combined into the returned error so the job is counted as failed.
func (j *settlementSweepJob) Run(ctx context.Context) error {
	report, err := j.sweeper.RunSweep(ctx)
	if err != nil {
		return fmt.Errorf("settlement sweep: %w", err)
	}
	var errs []error
	for _, line := range report.Outcomes {
		if line.Outcome != settlement.OutcomeFailed {
			continue
		}
		errs = append(errs, fmt.Errorf("order %s: %w", line.OrderID, errors.New(line.Error)))
	}
	if report.Interrupted {
		j.logg.Warn(j.logg.WithField(ctx, "remaining", report.Eligible-report.Processed), "settlement sweep interrupted")
	}
	return multierr.Combine(errs...)
}
