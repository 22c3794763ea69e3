package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/internal/ledger"
	"github.com/angelmondragon/marketsettle-backend/internal/settlement"
	"github.com/angelmondragon/marketsettle-backend/pkg/config"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
	"github.com/angelmondragon/marketsettle-backend/pkg/outbox"
	"github.com/angelmondragon/marketsettle-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// InstantSettler pays a delivered order inside the caller's transaction.
type InstantSettler interface {
	HoldingPeriodElapsed(createdAt, now time.Time) bool
	SettleInstant(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (*settlement.Result, error)
	Observe(ctx context.Context, orderID uuid.UUID, path settlement.Path, result *settlement.Result, err error)
}

// LedgerReverser undoes a completed seller credit.
type LedgerReverser interface {
	Reverse(ctx context.Context, tx *gorm.DB, entryID uuid.UUID, reason string) (*ledger.ReverseResult, error)
}

// InventoryReleaser returns allocated units to their batches.
type InventoryReleaser interface {
	Release(ctx context.Context, tx *gorm.DB, allocations types.BatchAllocations) error
}

// Service drives the order lifecycle.
type Service interface {
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Transition(ctx context.Context, input TransitionInput) (*TransitionResult, error)
	TransitionTx(ctx context.Context, tx *gorm.DB, input TransitionInput) (*TransitionResult, error)
	Committed(ctx context.Context, result *TransitionResult)
}

// ServiceParams wires the order service.
type ServiceParams struct {
	Repository Repository
	DB         txRunner
	Outbox     outboxPublisher
	Settlement InstantSettler
	Ledger     LedgerReverser
	Inventory  InventoryReleaser
	Flags      config.FeatureFlagsConfig
	Logger     *logger.Logger
	Now        func() time.Time
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxPublisher
	settlement InstantSettler
	ledger     LedgerReverser
	inventory  InventoryReleaser
	flags      config.FeatureFlagsConfig
	logg       *logger.Logger
	now        func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Settlement == nil {
		return nil, fmt.Errorf("settlement service required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger reverser required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory releaser required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:       params.Repository,
		tx:         params.DB,
		outbox:     params.Outbox,
		settlement: params.Settlement,
		ledger:     params.Ledger,
		inventory:  params.Inventory,
		flags:      params.Flags,
		logg:       params.Logger,
		now:        now,
	}, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	return s.repo.FindByID(ctx, orderID)
}

func (s *service) Transition(ctx context.Context, input TransitionInput) (*TransitionResult, error) {
	var result *TransitionResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.TransitionTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.Committed(ctx, result)
	return result, nil
}

// Committed records the instant settlement attempt of a transition whose
// transaction has committed. Transition calls it itself; TransitionTx callers
// call it after their own commit.
func (s *service) Committed(ctx context.Context, result *TransitionResult) {
	if result == nil || result.instant == nil {
		return
	}
	attempt := result.instant
	result.instant = nil
	s.settlement.Observe(ctx, attempt.orderID, settlement.PathInstant, attempt.result, attempt.err)
}

// TransitionTx applies the transition inside tx. An illegal transition
// returns a state conflict before anything is written.
func (s *service) TransitionTx(ctx context.Context, tx *gorm.DB, input TransitionInput) (*TransitionResult, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if !input.To.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status").
			WithDetails(map[string]any{"to": input.To})
	}

	repo := s.repo.WithTx(tx)
	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())
	order, err := repo.LockByID(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	from := order.Status
	if !from.CanTransitionTo(input.To) {
		return nil, pkgerrors.InvalidTransition("order", from.String(), input.To.String())
	}

	now := s.now().UTC()
	updates := map[string]any{"status": input.To, "updated_at": now}
	switch input.To {
	case enums.OrderStatusDelivered:
		updates["payment_status"] = enums.PaymentStatusPaid
		updates["delivered_at"] = now
		if order.Payment.PaidAt == nil {
			updates["payment_paid_at"] = now
		}
	case enums.OrderStatusCancelled:
		updates["payment_status"] = enums.PaymentStatusRefunded
		updates["cancelled_at"] = now
		updates["cancelled_by"] = input.ActorID
		if input.Reason != "" {
			updates["cancellation_reason"] = input.Reason
		}
		for _, item := range order.Items {
			if err := s.inventory.Release(ctx, tx, item.Allocations); err != nil {
				return nil, fmt.Errorf("release inventory for line %s: %w", item.ID, err)
			}
		}
	case enums.OrderStatusRefunded:
		updates["payment_status"] = enums.PaymentStatusRefunded
	}

	if err := repo.UpdateFields(ctx, order.ID, from, updates); err != nil {
		return nil, err
	}

	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         actorRef(input.ActorID),
		Data: outbox.OrderStatusChangedEvent{
			OrderID: order.ID,
			From:    from,
			To:      input.To,
			Reason:  input.Reason,
		},
	}); err != nil {
		return nil, fmt.Errorf("emit status change: %w", err)
	}

	result := &TransitionResult{From: from, To: input.To, At: now}
	logCtx := s.logg.WithFields(ctx, map[string]any{"from": from, "to": input.To})

	switch input.To {
	case enums.OrderStatusDelivered:
		s.afterDelivered(logCtx, tx, order, now, result)
	case enums.OrderStatusRefunded:
		if order.Settlement.IsPaid && input.ReturnID == nil && order.Settlement.LedgerEntryID != nil {
			reason := input.Reason
			if reason == "" {
				reason = fmt.Sprintf("order %s refunded", order.OrderNumber)
			}
			reversal, err := s.ledger.Reverse(ctx, tx, *order.Settlement.LedgerEntryID, reason)
			if err != nil {
				return nil, err
			}
			result.Reversal = reversal
		}
	}

	refreshed, err := repo.FindByID(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	result.Order = refreshed
	s.logg.Info(logCtx, "order status changed")
	return result, nil
}

// afterDelivered settles immediately when the holding period has already
// elapsed. Settlement errors stay inside their savepoint.
func (s *service) afterDelivered(ctx context.Context, tx *gorm.DB, order *models.Order, now time.Time, result *TransitionResult) {
	if !s.flags.InstantSettlement || !s.settlement.HoldingPeriodElapsed(order.CreatedAt, now) {
		result.SettlementDeferred = true
		s.logg.Debug(s.logg.WithField(ctx, "order_age", order.Age(now).String()), "settlement deferred to sweep")
		return
	}
	settled, err := s.settlement.SettleInstant(ctx, tx, order.ID)
	result.instant = &instantAttempt{orderID: order.ID, result: settled, err: err}
	if err != nil {
		result.SettlementDeferred = true
		s.logg.Error(ctx, "instant settlement failed, deferring to sweep", err)
		return
	}
	result.Settlement = settled
}

func actorRef(actorID *uuid.UUID) *outbox.ActorRef {
	if actorID == nil {
		return nil
	}
	return &outbox.ActorRef{AccountID: *actorID}
}
