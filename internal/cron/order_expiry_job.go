package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketsettle-backend/internal/orders"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
)

const (
	defaultPendingTTL      = 72 * time.Hour
	defaultExpiryBatchSize = 100
	orderExpiredReason     = "expired: not confirmed in time"
)

// OrderExpiryJobParams configure the stale pending order job.
type OrderExpiryJobParams struct {
	Logger    *logger.Logger
	Reader    stalePendingReader
	Lifecycle orderCanceller
	TTL       time.Duration
	BatchSize int
	Now       func() time.Time
}

type stalePendingReader interface {
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

type orderCanceller interface {
	Transition(ctx context.Context, input orders.TransitionInput) (*orders.TransitionResult, error)
}

// NewOrderExpiryJob builds the job that cancels pending orders older than
// TTL, returning their reserved stock to the batches.
func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reader == nil {
		return nil, fmt.Errorf("pending orders reader required")
	}
	if params.Lifecycle == nil {
		return nil, fmt.Errorf("order lifecycle required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatchSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &orderExpiryJob{
		logg:      params.Logger,
		reader:    params.Reader,
		lifecycle: params.Lifecycle,
		ttl:       ttl,
		batchSize: batch,
		now:       now,
	}, nil
}

type orderExpiryJob struct {
	logg      *logger.Logger
	reader    stalePendingReader
	lifecycle orderCanceller
	ttl       time.Duration
	batchSize int
	now       func() time.Time
}

func (j *orderExpiryJob) Name() string { return "order-expiry" }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	ids, err := j.reader.ListStalePending(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("query stale pending orders: %w", err)
	}
	var errs []error
	expired := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		_, err := j.lifecycle.Transition(ctx, orders.TransitionInput{
			OrderID: id,
			To:      enums.OrderStatusCancelled,
			Reason:  orderExpiredReason,
		})
		switch {
		case err == nil:
			expired++
		case pkgerrors.Is(err, pkgerrors.CodeStateConflict):
			// moved on since the query; nothing to expire
		default:
			errs = append(errs, fmt.Errorf("expire order %s: %w", id, err))
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"found":   len(ids),
		"expired": expired,
	})
	j.logg.Info(logCtx, "pending order expiry complete")
	return multierr.Combine(errs...)
}
