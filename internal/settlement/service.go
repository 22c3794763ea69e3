package settlement

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/internal/fees"
	"github.com/angelmondragon/marketsettle-backend/internal/ledger"
	"github.com/angelmondragon/marketsettle-backend/internal/sellers"
	"github.com/angelmondragon/marketsettle-backend/pkg/config"
	"github.com/angelmondragon/marketsettle-backend/pkg/db"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
	"github.com/angelmondragon/marketsettle-backend/pkg/metrics"
	"github.com/angelmondragon/marketsettle-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type feeResolver interface {
	Resolve(ctx context.Context, tx *gorm.DB, scope fees.Scope, amount int64) (*fees.Split, error)
}

type ledgerCreditor interface {
	Credit(ctx context.Context, tx *gorm.DB, input ledger.EntryInput) (*models.SellerLedgerEntry, error)
}

type sellerResolver interface {
	ResolveOrder(ctx context.Context, tx *gorm.DB, order *models.Order) (*sellers.Seller, error)
}

// ServiceParams wires the settlement service.
type ServiceParams struct {
	Config     config.SettlementConfig
	DB         txRunner
	Repository Repository
	Fees       feeResolver
	Ledger     ledgerCreditor
	Sellers    sellerResolver
	Outbox     outboxPublisher
	Failures   *FailureTracker
	Metrics    *metrics.SettlementMetrics
	Logger     *logger.Logger
	Now        func() time.Time
}

// Service pays sellers for delivered orders exactly once.
type Service struct {
	cfg      config.SettlementConfig
	db       txRunner
	repo     Repository
	fees     feeResolver
	ledger   ledgerCreditor
	sellers  sellerResolver
	outbox   outboxPublisher
	failures *FailureTracker
	metrics  *metrics.SettlementMetrics
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("settlement repository required")
	}
	if params.Fees == nil {
		return nil, fmt.Errorf("fee resolver required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger required")
	}
	if params.Sellers == nil {
		return nil, fmt.Errorf("seller resolver required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg := params.Config
	if cfg.SweepWorkers <= 0 {
		cfg.SweepWorkers = 1
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:      cfg,
		db:       params.DB,
		repo:     params.Repository,
		fees:     params.Fees,
		ledger:   params.Ledger,
		sellers:  params.Sellers,
		outbox:   params.Outbox,
		failures: params.Failures,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// HoldingPeriodElapsed reports whether an order created at createdAt may be settled at now.
func (s *Service) HoldingPeriodElapsed(createdAt, now time.Time) bool {
	return now.Sub(createdAt) >= s.cfg.HoldingPeriod
}

// SettleOrder runs the settlement routine for one order in its own transaction.
func (s *Service) SettleOrder(ctx context.Context, orderID uuid.UUID) (*Result, error) {
	return s.settle(ctx, orderID, PathManual)
}

func (s *Service) settle(ctx context.Context, orderID uuid.UUID, path Path) (*Result, error) {
	var result *Result
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.SettleTx(ctx, tx, orderID, path)
		return err
	})
	s.Observe(ctx, orderID, path, result, err)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SettleInstant settles inside a savepoint of the caller's transaction. On
// error the savepoint is rolled back and tx stays usable. Nothing is recorded
// here: the caller passes the outcome to Observe once tx has committed.
func (s *Service) SettleInstant(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*Result, error) {
	var result *Result
	err := db.WithSavepoint(ctx, tx, func(sp *gorm.DB) error {
		var err error
		result, err = s.SettleTx(ctx, sp, orderID, PathInstant)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SettleTx is the settlement routine. The claim, the ledger credit and the
// settlement record share tx.
func (s *Service) SettleTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, path Path) (*Result, error) {
	repo := s.repo.WithTx(tx)
	ctx = s.logg.WithFields(s.logg.WithOrderID(ctx, orderID.String()), map[string]any{"path": path})

	order, err := repo.LockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	result := &Result{OrderID: orderID, Path: path}
	switch {
	case order.Settlement.IsPaid:
		result.Outcome = OutcomeAlreadyPaid
		return result, nil
	case order.Status != enums.OrderStatusDelivered:
		return result.skip(SkipNotDelivered, nil), nil
	case !s.HoldingPeriodElapsed(order.CreatedAt, now):
		return result.skip(SkipHoldingPeriod, nil), nil
	case order.HasRefundRequest:
		return result.skip(SkipRefundRequested, nil), nil
	}
	active, err := repo.HasActiveReturn(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("check active returns: %w", err)
	}
	if active {
		return result.skip(SkipRefundRequested, nil), nil
	}

	seller, err := s.sellers.ResolveOrder(ctx, tx, order)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeDataIntegrity) {
			s.logg.Error(ctx, "settlement skipped: seller could not be resolved", err)
			return result.skip(SkipDataIntegrity, err), nil
		}
		return nil, err
	}

	split, err := s.fees.Resolve(ctx, tx, fees.Scope{SellerID: seller.SellerID, CategoryID: seller.CategoryID}, order.FinalAmount)
	if err != nil {
		return nil, err
	}

	claimed, err := repo.ClaimSettlement(ctx, orderID, now)
	if err != nil {
		return nil, fmt.Errorf("claim settlement: %w", err)
	}
	if !claimed {
		result.Outcome = OutcomeAlreadyPaid
		return result, nil
	}

	entry, err := s.ledger.Credit(ctx, tx, ledger.EntryInput{
		SellerID:    seller.SellerID,
		ShopID:      seller.ShopID,
		Type:        enums.LedgerEntryOrderPayment,
		Amount:      split.NetAmount,
		Gross:       split.Gross,
		PlatformFee: split.FeeAmount,
		FeeRate:     split.FeeRate,
		OrderID:     &orderID,
		Description: fmt.Sprintf("payment for order %s", order.OrderNumber),
	})
	if err != nil {
		return nil, err
	}

	entryID := entry.ID
	record := models.OrderSettlement{
		IsPaid:        true,
		PaidAt:        &now,
		LedgerEntryID: &entryID,
		FeeAmount:     split.FeeAmount,
		FeeRate:       split.FeeRate,
		NetAmount:     split.NetAmount,
		FeeConfigID:   split.ConfigID,
	}
	if err := repo.SaveSettlement(ctx, orderID, record, now); err != nil {
		return nil, fmt.Errorf("save settlement: %w", err)
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderSettled,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Data: outbox.OrderSettledEvent{
			OrderID:       orderID,
			SellerID:      seller.SellerID,
			ShopID:        seller.ShopID,
			LedgerEntryID: entryID,
			Gross:         split.Gross,
			FeeAmount:     split.FeeAmount,
			FeeRate:       split.FeeRate,
			NetAmount:     split.NetAmount,
			PaidAt:        now,
		},
	}); err != nil {
		return nil, fmt.Errorf("emit settled event: %w", err)
	}

	result.Outcome = OutcomePaid
	result.Split = split
	result.LedgerEntryID = &entryID
	return result, nil
}

// Observe records a committed settlement attempt: outcome metrics, the
// failure streak and the settlement log line.
func (s *Service) Observe(ctx context.Context, orderID uuid.UUID, path Path, result *Result, err error) {
	if err != nil {
		s.metrics.ObserveOutcome(string(path), string(OutcomeFailed))
		s.failures.RecordFailure(s.logg.WithField(ctx, "path", path), orderID, err)
		return
	}
	if result == nil {
		return
	}
	s.metrics.ObserveOutcome(string(path), string(result.Outcome))
	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, orderID.String()), map[string]any{
		"path":    path,
		"outcome": result.Outcome,
	})
	switch result.Outcome {
	case OutcomePaid:
		s.metrics.AddPaid(result.Split.NetAmount, result.Split.FeeAmount)
		s.failures.Reset(ctx, orderID)
		s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
			"net_amount": result.Split.NetAmount,
			"fee_amount": result.Split.FeeAmount,
		}), "order settled")
	case OutcomeSkipped:
		s.logg.Debug(s.logg.WithField(logCtx, "skip_reason", result.SkipReason), "settlement skipped")
	default:
		s.logg.Debug(logCtx, "settlement already paid")
	}
}

// RunSweep settles eligible orders with a bounded worker pool. Cancellation
// stops dispatch between orders; an order already started runs to completion.
func (s *Service) RunSweep(ctx context.Context) (*SweepReport, error) {
	started := time.Now()
	cutoff := s.now().UTC().Add(-s.cfg.HoldingPeriod)

	// the listing is bounded by the batch size; a cancelled sweep still
	// reports how many orders it left behind
	ids, err := s.repo.ListEligible(context.WithoutCancel(ctx), cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list eligible orders")
	}

	report := &SweepReport{Eligible: len(ids), Outcomes: make([]OrderOutcome, 0, len(ids))}
	var mu sync.Mutex
	var group errgroup.Group
	group.SetLimit(s.cfg.SweepWorkers)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		group.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			result, err := s.settle(context.WithoutCancel(ctx), id, PathSweep)
			mu.Lock()
			report.add(id, result, err)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	report.Interrupted = report.Processed < report.Eligible
	s.metrics.ObserveSweep(time.Since(started))

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"eligible":     report.Eligible,
		"processed":    report.Processed,
		"paid":         report.Paid,
		"already_paid": report.AlreadyPaid,
		"skipped":      report.Skipped,
		"failed":       report.Failed,
		"interrupted":  report.Interrupted,
		"duration_ms":  time.Since(started).Milliseconds(),
	})
	s.logg.Info(logCtx, "settlement sweep finished")
	return report, nil
}
