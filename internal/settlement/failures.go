package settlement

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
	"github.com/angelmondragon/marketsettle-backend/pkg/metrics"
)

type counterStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Del(ctx context.Context, keys ...string) error
	SettlementFailureKey(orderID string) string
}

// FailureTracker counts consecutive settlement failures per order and flags
// orders whose streak reaches the alert threshold.
type FailureTracker struct {
	store     counterStore
	threshold int64
	window    time.Duration
	logg      *logger.Logger
	metrics   *metrics.SettlementMetrics
}

func NewFailureTracker(store counterStore, threshold int, window time.Duration, logg *logger.Logger, m *metrics.SettlementMetrics) *FailureTracker {
	return &FailureTracker{
		store:     store,
		threshold: int64(threshold),
		window:    window,
		logg:      logg,
		metrics:   m,
	}
}

// RecordFailure bumps the streak for orderID and returns it. Counter errors
// are logged and reported as a zero streak.
func (t *FailureTracker) RecordFailure(ctx context.Context, orderID uuid.UUID, cause error) int64 {
	if t == nil {
		return 0
	}
	ctx = t.logg.WithOrderID(ctx, orderID.String())
	if t.store == nil {
		t.logg.Error(ctx, "settlement failed", cause)
		return 0
	}
	streak, err := t.store.IncrWithTTL(ctx, t.store.SettlementFailureKey(orderID.String()), t.window)
	if err != nil {
		t.logg.Error(ctx, "failed to record settlement failure", err)
		t.logg.Error(ctx, "settlement failed", cause)
		return 0
	}
	ctx = t.logg.WithField(ctx, "failure_streak", streak)
	if t.threshold > 0 && streak >= t.threshold {
		if streak == t.threshold {
			t.metrics.IncStalled()
		}
		t.logg.Error(ctx, "settlement stalled: failure threshold reached", cause)
		return streak
	}
	t.logg.Error(ctx, "settlement failed, will retry on next sweep", cause)
	return streak
}

// Reset clears the streak after a successful settlement.
func (t *FailureTracker) Reset(ctx context.Context, orderID uuid.UUID) {
	if t == nil || t.store == nil {
		return
	}
	if err := t.store.Del(ctx, t.store.SettlementFailureKey(orderID.String())); err != nil {
		t.logg.Warn(t.logg.WithOrderID(ctx, orderID.String()), "failed to reset settlement failure counter")
	}
}
