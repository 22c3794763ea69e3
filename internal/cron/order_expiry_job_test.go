package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketsettle-backend/internal/orders"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
)

type fakePendingReader struct {
	ids    []uuid.UUID
	cutoff time.Time
	limit  int
	err    error
}

func (f *fakePendingReader) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	f.cutoff = cutoff
	f.limit = limit
	return f.ids, f.err
}

type fakeCanceller struct {
	errs   map[uuid.UUID]error
	inputs []orders.TransitionInput
}

func (f *fakeCanceller) Transition(_ context.Context, input orders.TransitionInput) (*orders.TransitionResult, error) {
	f.inputs = append(f.inputs, input)
	if err := f.errs[input.OrderID]; err != nil {
		return nil, err
	}
	return &orders.TransitionResult{From: enums.OrderStatusPending, To: input.To}, nil
}

func TestOrderExpiryJobCancelsStaleOrders(t *testing.T) {
	now := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	raced, broken, ok := uuid.New(), uuid.New(), uuid.New()
	reader := &fakePendingReader{ids: []uuid.UUID{raced, broken, ok}}
	canceller := &fakeCanceller{errs: map[uuid.UUID]error{
		raced:  pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently"),
		broken: errors.New("inventory batch missing"),
	}}
	job, err := NewOrderExpiryJob(OrderExpiryJobParams{
		Logger:    newTestLogger(),
		Reader:    reader,
		Lifecycle: canceller,
		TTL:       48 * time.Hour,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Len(t, multierr.Errors(err), 1)
	require.ErrorContains(t, err, broken.String())

	require.Equal(t, now.Add(-48*time.Hour), reader.cutoff)
	require.Equal(t, defaultExpiryBatchSize, reader.limit)
	require.Len(t, canceller.inputs, 3)
	for _, input := range canceller.inputs {
		require.Equal(t, enums.OrderStatusCancelled, input.To)
		require.Equal(t, orderExpiredReason, input.Reason)
		require.Nil(t, input.ActorID)
	}
}

func TestOrderExpiryJobStopsOnCanceledContext(t *testing.T) {
	reader := &fakePendingReader{ids: []uuid.UUID{uuid.New(), uuid.New()}}
	canceller := &fakeCanceller{}
	job, err := NewOrderExpiryJob(OrderExpiryJobParams{Logger: newTestLogger(), Reader: reader, Lifecycle: canceller})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, job.Run(ctx), context.Canceled)
	require.Empty(t, canceller.inputs)
}

func TestOrderExpiryJobQueryError(t *testing.T) {
	job, err := NewOrderExpiryJob(OrderExpiryJobParams{
		Logger:    newTestLogger(),
		Reader:    &fakePendingReader{err: errors.New("timeout")},
		Lifecycle: &fakeCanceller{},
	})
	require.NoError(t, err)
	require.ErrorContains(t, job.Run(context.Background()), "timeout")
}
