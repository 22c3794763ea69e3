package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/internal/inventory"
	"github.com/angelmondragon/marketsettle-backend/internal/orders"
	"github.com/angelmondragon/marketsettle-backend/internal/sellers"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
	"github.com/angelmondragon/marketsettle-backend/pkg/outbox"
	"github.com/angelmondragon/marketsettle-backend/pkg/types"
	"github.com/angelmondragon/marketsettle-backend/pkg/validate"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type accountLoader interface {
	FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type stockReserver interface {
	Reserve(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int, enforcePerOrderLimit bool) (*inventory.Allocation, error)
}

type productResolver interface {
	ResolveProduct(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (*sellers.Seller, error)
}

// Service places orders against FIFO inventory.
type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error)
}

// ItemInput is one requested product line.
type ItemInput struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  int       `json:"quantity" validate:"required,gt=0"`
}

// PlaceOrderInput captures a buyer purchase from a single shop.
type PlaceOrderInput struct {
	BuyerID         uuid.UUID           `json:"buyer_id" validate:"required"`
	Items           []ItemInput         `json:"items" validate:"required,min=1,dive"`
	ShippingFee     int64               `json:"shipping_fee" validate:"gte=0"`
	Tip             int64               `json:"tip" validate:"gte=0"`
	PaymentMethod   enums.PaymentMethod `json:"payment_method" validate:"required"`
	ShippingAddress *types.Address      `json:"shipping_address,omitempty" validate:"omitempty"`
}

// ServiceParams wires the checkout service.
type ServiceParams struct {
	DB        txRunner
	Accounts  accountLoader
	Orders    orders.Repository
	Inventory stockReserver
	Sellers   productResolver
	Outbox    outboxPublisher
	Logger    *logger.Logger
	Now       func() time.Time
	// EnforcePerOrderLimit caps each line at the oldest batch's remaining stock.
	EnforcePerOrderLimit bool
}

type service struct {
	tx        txRunner
	accounts  accountLoader
	orders    orders.Repository
	inventory stockReserver
	sellers   productResolver
	outbox    outboxPublisher
	logg      *logger.Logger
	now       func() time.Time
	limit     bool
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Accounts == nil {
		return nil, fmt.Errorf("account loader required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory reserver required")
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
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:        params.DB,
		accounts:  params.Accounts,
		orders:    params.Orders,
		inventory: params.Inventory,
		sellers:   params.Sellers,
		outbox:    params.Outbox,
		logg:      params.Logger,
		now:       now,
		limit:     params.EnforcePerOrderLimit,
	}, nil
}

// PlaceOrder reserves stock for every line and creates a PENDING order. Any
// failure rolls back every reservation.
func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	if !input.PaymentMethod.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method").
			WithDetails(map[string]any{"payment_method": input.PaymentMethod})
	}

	buyer, err := s.accounts.FindAccount(ctx, input.BuyerID)
	if err != nil {
		return nil, err
	}
	if buyer.Role != enums.AccountRoleBuyer {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only buyer accounts can place orders")
	}

	items := mergeItems(input.Items)
	var created *models.Order
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var shopID uuid.UUID
		lines := make([]models.OrderLineItem, 0, len(items))
		for _, item := range items {
			seller, err := s.sellers.ResolveProduct(ctx, tx, item.ProductID)
			if err != nil {
				return err
			}
			if shopID == uuid.Nil {
				shopID = seller.ShopID
			} else if seller.ShopID != shopID {
				return pkgerrors.New(pkgerrors.CodeValidation, "all items must come from the same shop")
			}
			if seller.SellerID == buyer.ID {
				return pkgerrors.New(pkgerrors.CodeForbidden, "sellers cannot buy their own products")
			}

			alloc, err := s.inventory.Reserve(ctx, tx, item.ProductID, item.Quantity, s.limit)
			if err != nil {
				return err
			}
			lines = append(lines, models.OrderLineItem{
				ProductID:   item.ProductID,
				ProductName: alloc.ProductName,
				Quantity:    item.Quantity,
				UnitPrice:   alloc.UnitPrice,
				UnitCost:    alloc.UnitCost,
				LineTotal:   alloc.UnitPrice * int64(item.Quantity),
				Allocations: alloc.Allocations,
			})
		}

		order := &models.Order{
			OrderNumber:     s.orderNumber(),
			BuyerID:         buyer.ID,
			ShippingAddress: input.ShippingAddress,
			Status:          enums.OrderStatusPending,
			ShippingFee:     input.ShippingFee,
			Tip:             input.Tip,
			Items:           lines,
			Payment: models.OrderPayment{
				Method: input.PaymentMethod,
				Status: enums.PaymentStatusPending,
			},
		}
		order.Subtotal = order.ItemsSubtotal()
		order.FinalAmount = order.Subtotal + order.ShippingFee + order.Tip
		order.Payment.Amount = order.FinalAmount
		if err := order.ValidateTotals(); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "order totals are inconsistent")
		}

		saved, err := s.orders.WithTx(tx).Create(ctx, order)
		if err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   saved.ID,
			Actor:         &outbox.ActorRef{AccountID: buyer.ID, Role: string(buyer.Role)},
			Data: outbox.OrderCreatedEvent{
				OrderID:     saved.ID,
				OrderNumber: saved.OrderNumber,
				BuyerID:     buyer.ID,
				FinalAmount: saved.FinalAmount,
			},
		}); err != nil {
			return err
		}
		created = saved
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(s.logg.WithOrderID(ctx, created.ID.String()), map[string]any{
		"buyer_id":     buyer.ID.String(),
		"final_amount": created.FinalAmount,
		"line_count":   len(created.Items),
	})
	s.logg.Info(logCtx, "order placed")
	return created, nil
}

func (s *service) orderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
	return fmt.Sprintf("ORD-%s-%s", s.now().UTC().Format("20060102"), suffix)
}
