package returns

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/internal/catalog"
	"github.com/angelmondragon/marketsettle-backend/internal/ledger"
	"github.com/angelmondragon/marketsettle-backend/internal/orders"
	"github.com/angelmondragon/marketsettle-backend/internal/sellers"
	"github.com/angelmondragon/marketsettle-backend/pkg/config"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
	"github.com/angelmondragon/marketsettle-backend/pkg/outbox"
	"github.com/angelmondragon/marketsettle-backend/pkg/validate"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type orderTransitioner interface {
	TransitionTx(ctx context.Context, tx *gorm.DB, input orders.TransitionInput) (*orders.TransitionResult, error)
}

type ledgerDebiter interface {
	Debit(ctx context.Context, tx *gorm.DB, input ledger.EntryInput) (*ledger.DebitResult, error)
}

type sellerResolver interface {
	ResolveOrder(ctx context.Context, tx *gorm.DB, order *models.Order) (*sellers.Seller, error)
}

// ServiceParams wires the returns service.
type ServiceParams struct {
	Config     config.ReturnsConfig
	DB         txRunner
	Repository Repository
	Orders     orders.Repository
	Lifecycle  orderTransitioner
	Accounts   catalog.Repository
	Ledger     ledgerDebiter
	Sellers    sellerResolver
	Outbox     outboxPublisher
	Logger     *logger.Logger
	Now        func() time.Time
}

// Service manages return requests and the refund clawback.
type Service struct {
	cfg       config.ReturnsConfig
	db        txRunner
	repo      Repository
	orders    orders.Repository
	lifecycle orderTransitioner
	accounts  catalog.Repository
	ledger    ledgerDebiter
	sellers   sellerResolver
	outbox    outboxPublisher
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.DB == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("returns repository required")
	case params.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case params.Lifecycle == nil:
		return nil, fmt.Errorf("order lifecycle required")
	case params.Accounts == nil:
		return nil, fmt.Errorf("accounts repository required")
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger required")
	case params.Sellers == nil:
		return nil, fmt.Errorf("seller resolver required")
	case params.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Config.RestockingFee < 0:
		return nil, fmt.Errorf("restocking fee must not be negative")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		cfg:       params.Config,
		db:        params.DB,
		repo:      params.Repository,
		orders:    params.Orders,
		lifecycle: params.Lifecycle,
		accounts:  params.Accounts,
		ledger:    params.Ledger,
		sellers:   params.Sellers,
		outbox:    params.Outbox,
		logg:      params.Logger,
		now:       now,
	}, nil
}

func (s *Service) Get(ctx context.Context, returnID uuid.UUID) (*models.ReturnRequest, error) {
	return s.repo.FindByID(ctx, returnID)
}

// RequestReturn opens a return on a delivered order and blocks its settlement.
func (s *Service) RequestReturn(ctx context.Context, input RequestInput) (*models.ReturnRequest, error) {
	input.Reason = validate.SanitizeString(input.Reason, 500)
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	if !input.Resolution.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid resolution").
			WithDetails(map[string]any{"resolution": input.Resolution})
	}

	var created *models.ReturnRequest
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := s.orders.WithTx(tx).LockByID(ctx, input.OrderID)
		if err != nil {
			return err
		}
		if order.BuyerID != input.BuyerID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to buyer")
		}
		if order.Status != enums.OrderStatusDelivered {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "only delivered orders can be returned").
				WithDetails(map[string]any{"status": order.Status})
		}
		active, err := repo.HasActive(ctx, order.ID)
		if err != nil {
			return err
		}
		if active {
			return pkgerrors.New(pkgerrors.CodeConflict, "order already has an active return")
		}

		items, err := returnItems(order, input.Items)
		if err != nil {
			return err
		}
		request := &models.ReturnRequest{
			OrderID:    order.ID,
			BuyerID:    input.BuyerID,
			Resolution: input.Resolution,
			Reason:     input.Reason,
			Status:     enums.ReturnStatusRequested,
			Items:      items,
		}
		request.ItemsSubtotal = request.ReturnedItemsTotal()
		if err := repo.Create(ctx, request); err != nil {
			return err
		}
		if err := repo.AddHistory(ctx, &models.ReturnStatusChange{
			ReturnID: request.ID,
			ToStatus: enums.ReturnStatusRequested,
			ActorID:  &input.BuyerID,
			Note:     input.Reason,
		}); err != nil {
			return err
		}
		if err := repo.SetOrderRefundRequest(ctx, order.ID, true, &request.ID, s.now().UTC()); err != nil {
			return err
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventReturnRequested,
			AggregateType: enums.AggregateReturn,
			AggregateID:   request.ID,
			Actor:         &outbox.ActorRef{AccountID: input.BuyerID, Role: string(enums.AccountRoleBuyer)},
			Data: outbox.ReturnStatusChangedEvent{
				ReturnID: request.ID,
				OrderID:  order.ID,
				To:       enums.ReturnStatusRequested,
			},
		}); err != nil {
			return err
		}
		created = request
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithReturnID(s.logg.WithOrderID(ctx, input.OrderID.String()), created.ID.String()), "return requested")
	return created, nil
}

func returnItems(order *models.Order, inputs []ItemInput) ([]models.ReturnItem, error) {
	if len(inputs) == 0 {
		items := make([]models.ReturnItem, 0, len(order.Items))
		for _, line := range order.Items {
			items = append(items, models.ReturnItem{LineItemID: line.ID, Quantity: line.Quantity, UnitPrice: line.UnitPrice})
		}
		return items, nil
	}
	lines := make(map[uuid.UUID]models.OrderLineItem, len(order.Items))
	for _, line := range order.Items {
		lines[line.ID] = line
	}
	requested := make(map[uuid.UUID]int, len(inputs))
	items := make([]models.ReturnItem, 0, len(inputs))
	for _, input := range inputs {
		line, ok := lines[input.LineItemID]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item does not belong to order").
				WithDetails(map[string]any{"line_item_id": input.LineItemID})
		}
		requested[line.ID] += input.Quantity
		if requested[line.ID] > line.Quantity {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "return quantity exceeds ordered quantity").
				WithDetails(map[string]any{"line_item_id": line.ID, "ordered": line.Quantity, "requested": requested[line.ID]})
		}
		items = append(items, models.ReturnItem{LineItemID: line.ID, Quantity: input.Quantity, UnitPrice: line.UnitPrice})
	}
	return items, nil
}

// RefundAmount is the returned items total less shipping and restocking, floored at zero.
func RefundAmount(itemsTotal, shippingFee, restockingFee int64) int64 {
	refund := itemsTotal - shippingFee - restockingFee
	if refund < 0 {
		return 0
	}
	return refund
}

// ApproveReturn refunds the buyer, claws the refund back from a paid seller
// and moves the order to REFUNDED, all in one transaction. Only a REQUESTED
// return can be approved, so a second approval is rejected.
func (s *Service) ApproveReturn(ctx context.Context, returnID, actorID uuid.UUID) (*ClawbackOutcome, error) {
	ctx = s.logg.WithReturnID(ctx, returnID.String())
	var outcome *ClawbackOutcome
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		request, err := repo.LockByID(ctx, returnID)
		if err != nil {
			return err
		}
		if !request.Status.CanTransitionTo(enums.ReturnStatusApproved) {
			return pkgerrors.InvalidTransition("return", request.Status.String(), enums.ReturnStatusApproved.String())
		}
		order, err := s.orders.WithTx(tx).LockByID(ctx, request.OrderID)
		if err != nil {
			return err
		}
		ctx := s.logg.WithOrderID(ctx, order.ID.String())

		refund := RefundAmount(request.ReturnedItemsTotal(), order.ShippingFee, s.cfg.RestockingFee)
		outcome = &ClawbackOutcome{RefundAmount: refund, SellerWasPaid: order.Settlement.IsPaid}

		if refund > 0 {
			if err := s.creditBuyer(ctx, tx, order.BuyerID, refund); err != nil {
				return err
			}
			outcome.BuyerCredited = true
		}

		var clawbackID *uuid.UUID
		if refund > 0 && order.Settlement.IsPaid {
			result, err := s.clawback(ctx, tx, order, request, refund)
			if err != nil {
				return err
			}
			outcome.Clawback = result
			id := result.Entry.ID
			clawbackID = &id
		} else if !order.Settlement.IsPaid {
			s.logg.Info(ctx, "seller not paid yet, no clawback needed")
		}

		now := s.now().UTC()
		if err := repo.TransitionStatus(ctx, request.ID, request.Status, enums.ReturnStatusApproved, now, map[string]any{
			"shipping_deduction": order.ShippingFee,
			"restocking_fee":     s.cfg.RestockingFee,
			"refund_amount":      refund,
			"clawback_entry_id":  clawbackID,
			"reviewed_by":        actorID,
			"reviewed_at":        now,
		}); err != nil {
			return err
		}
		if err := s.recordChange(ctx, tx, request, enums.ReturnStatusApproved, &actorID, fmt.Sprintf("refund %d", refund)); err != nil {
			return err
		}

		if _, err := s.lifecycle.TransitionTx(ctx, tx, orders.TransitionInput{
			OrderID:  order.ID,
			To:       enums.OrderStatusRefunded,
			ActorID:  &actorID,
			Reason:   "return approved",
			ReturnID: &request.ID,
		}); err != nil {
			return err
		}

		outcome.Return, err = repo.FindByID(ctx, request.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"refund_amount":   outcome.RefundAmount,
		"seller_was_paid": outcome.SellerWasPaid,
	}), "return approved")
	return outcome, nil
}

func (s *Service) creditBuyer(ctx context.Context, tx *gorm.DB, buyerID uuid.UUID, amount int64) error {
	accounts := s.accounts.WithTx(tx)
	buyer, err := accounts.LockAccount(ctx, buyerID)
	if err != nil {
		return err
	}
	return accounts.UpdateAccountBalance(ctx, buyer.ID, buyer.Balance+amount)
}

func (s *Service) clawback(ctx context.Context, tx *gorm.DB, order *models.Order, request *models.ReturnRequest, amount int64) (*ledger.DebitResult, error) {
	seller, err := s.sellers.ResolveOrder(ctx, tx, order)
	if err != nil {
		return nil, err
	}
	orderID, returnID := order.ID, request.ID
	result, err := s.ledger.Debit(ctx, tx, ledger.EntryInput{
		SellerID:    seller.SellerID,
		ShopID:      seller.ShopID,
		Type:        enums.LedgerEntryRefundDeduction,
		Amount:      amount,
		OrderID:     &orderID,
		ReturnID:    &returnID,
		Description: fmt.Sprintf("refund for order %s", order.OrderNumber),
		Policy:      ledger.DebitClamp,
	})
	if err != nil {
		return nil, err
	}
	if result.Uncovered > 0 {
		s.logg.Warn(s.logg.WithFields(s.logg.WithSellerID(ctx, seller.SellerID.String()), map[string]any{
			"requested": result.Requested,
			"debited":   result.Debited,
			"shortfall": result.Uncovered,
		}), "clawback exceeded seller balance, shortfall recorded for reconciliation")
	}
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventSellerClawbackApplied,
		AggregateType: enums.AggregateReturn,
		AggregateID:   request.ID,
		Data: outbox.SellerClawbackEvent{
			ReturnID:  request.ID,
			OrderID:   order.ID,
			SellerID:  seller.SellerID,
			EntryID:   result.Entry.ID,
			Requested: result.Requested,
			Debited:   result.Debited,
			Shortfall: result.Uncovered,
		},
	}); err != nil {
		return nil, err
	}
	return result, nil
}

// RejectReturn closes a requested return and lets settlement resume.
func (s *Service) RejectReturn(ctx context.Context, returnID, actorID uuid.UUID, note string) (*models.ReturnRequest, error) {
	return s.close(ctx, returnID, enums.ReturnStatusRejected, &actorID, validate.SanitizeString(note, 500), nil)
}

// CancelReturn withdraws a requested return on behalf of its buyer.
func (s *Service) CancelReturn(ctx context.Context, returnID, buyerID uuid.UUID) (*models.ReturnRequest, error) {
	return s.close(ctx, returnID, enums.ReturnStatusCancelled, &buyerID, "cancelled by buyer", &buyerID)
}

func (s *Service) close(ctx context.Context, returnID uuid.UUID, to enums.ReturnStatus, actorID *uuid.UUID, note string, owner *uuid.UUID) (*models.ReturnRequest, error) {
	var updated *models.ReturnRequest
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		request, err := repo.LockByID(ctx, returnID)
		if err != nil {
			return err
		}
		if owner != nil && request.BuyerID != *owner {
			return pkgerrors.New(pkgerrors.CodeForbidden, "return does not belong to buyer")
		}
		if !request.Status.CanTransitionTo(to) {
			return pkgerrors.InvalidTransition("return", request.Status.String(), to.String())
		}
		now := s.now().UTC()
		if err := repo.TransitionStatus(ctx, request.ID, request.Status, to, now, map[string]any{
			"reviewed_by": actorID,
			"reviewed_at": now,
		}); err != nil {
			return err
		}
		if err := repo.SetOrderRefundRequest(ctx, request.OrderID, false, nil, now); err != nil {
			return err
		}
		if err := s.recordChange(ctx, tx, request, to, actorID, note); err != nil {
			return err
		}
		updated, err = repo.FindByID(ctx, request.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(s.logg.WithReturnID(ctx, returnID.String()), "status", to), "return closed, settlement may resume")
	return updated, nil
}

// MarkItemReturned records that the goods came back.
func (s *Service) MarkItemReturned(ctx context.Context, returnID uuid.UUID, actorID *uuid.UUID) (*models.ReturnRequest, error) {
	return s.advance(ctx, returnID, enums.ReturnStatusItemReturned, actorID, "item received")
}

// MarkRefunded records that the buyer refund has been paid out.
func (s *Service) MarkRefunded(ctx context.Context, returnID uuid.UUID, actorID *uuid.UUID) (*models.ReturnRequest, error) {
	return s.advance(ctx, returnID, enums.ReturnStatusRefunded, actorID, "refund issued")
}

// Complete closes a refunded return.
func (s *Service) Complete(ctx context.Context, returnID uuid.UUID, actorID *uuid.UUID) (*models.ReturnRequest, error) {
	return s.advance(ctx, returnID, enums.ReturnStatusCompleted, actorID, "completed")
}

func (s *Service) advance(ctx context.Context, returnID uuid.UUID, to enums.ReturnStatus, actorID *uuid.UUID, note string) (*models.ReturnRequest, error) {
	var updated *models.ReturnRequest
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		request, err := repo.LockByID(ctx, returnID)
		if err != nil {
			return err
		}
		if !request.Status.CanTransitionTo(to) {
			return pkgerrors.InvalidTransition("return", request.Status.String(), to.String())
		}
		if err := repo.TransitionStatus(ctx, request.ID, request.Status, to, s.now().UTC(), nil); err != nil {
			return err
		}
		if err := s.recordChange(ctx, tx, request, to, actorID, note); err != nil {
			return err
		}
		updated, err = repo.FindByID(ctx, request.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) recordChange(ctx context.Context, tx *gorm.DB, request *models.ReturnRequest, to enums.ReturnStatus, actorID *uuid.UUID, note string) error {
	from := request.Status
	if err := s.repo.WithTx(tx).AddHistory(ctx, &models.ReturnStatusChange{
		ReturnID:   request.ID,
		FromStatus: &from,
		ToStatus:   to,
		ActorID:    actorID,
		Note:       note,
	}); err != nil {
		return err
	}
	var actor *outbox.ActorRef
	if actorID != nil {
		actor = &outbox.ActorRef{AccountID: *actorID}
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReturnStatusChanged,
		AggregateType: enums.AggregateReturn,
		AggregateID:   request.ID,
		Actor:         actor,
		Data: outbox.ReturnStatusChangedEvent{
			ReturnID: request.ID,
			OrderID:  request.OrderID,
			From:     &from,
			To:       to,
		},
	})
}
