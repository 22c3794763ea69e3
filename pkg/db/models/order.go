package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	"github.com/angelmondragon/marketsettle-backend/pkg/types"
)

// Order is a buyer purchase from a single shop.
type Order struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber     string            `gorm:"column:order_number;not null;uniqueIndex"`
	BuyerID         uuid.UUID         `gorm:"column:buyer_id;type:uuid;not null;index"`
	ShippingAddress *types.Address    `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	Status          enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending';index:idx_orders_settlement_sweep,priority:1"`

	Subtotal    int64 `gorm:"column:subtotal;not null"`
	ShippingFee int64 `gorm:"column:shipping_fee;not null;default:0"`
	Tip         int64 `gorm:"column:tip;not null;default:0"`
	FinalAmount int64 `gorm:"column:final_amount;not null"`

	Payment    OrderPayment    `gorm:"embedded;embeddedPrefix:payment_"`
	Settlement OrderSettlement `gorm:"embedded;embeddedPrefix:settlement_"`

	CancellationReason *string    `gorm:"column:cancellation_reason"`
	CancelledBy        *uuid.UUID `gorm:"column:cancelled_by;type:uuid"`
	CancelledAt        *time.Time `gorm:"column:cancelled_at"`
	DeliveredAt        *time.Time `gorm:"column:delivered_at"`

	HasRefundRequest bool       `gorm:"column:has_refund_request;not null;default:false"`
	ReturnRequestID  *uuid.UUID `gorm:"column:return_request_id;type:uuid"`

	Items     []OrderLineItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime;index:idx_orders_settlement_sweep,priority:2"`
	UpdatedAt time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderPayment is the buyer side payment record.
type OrderPayment struct {
	Method        enums.PaymentMethod `gorm:"column:method;type:text;not null"`
	Status        enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	Amount        int64               `gorm:"column:amount;not null"`
	TransactionID *string             `gorm:"column:transaction_id"`
	PaidAt        *time.Time          `gorm:"column:paid_at"`
}

// OrderSettlement records the seller payout for the order.
type OrderSettlement struct {
	IsPaid        bool            `gorm:"column:is_paid;not null;default:false"`
	PaidAt        *time.Time      `gorm:"column:paid_at"`
	LedgerEntryID *uuid.UUID      `gorm:"column:ledger_entry_id;type:uuid"`
	FeeAmount     int64           `gorm:"column:fee_amount;not null;default:0"`
	FeeRate       decimal.Decimal `gorm:"column:fee_rate;type:numeric(10,6);not null;default:0"`
	NetAmount     int64           `gorm:"column:net_amount;not null;default:0"`
	FeeConfigID   *uuid.UUID      `gorm:"column:fee_config_id;type:uuid"`
}

// OrderLineItem snapshots price and cost at purchase time.
type OrderLineItem struct {
	ID          uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OrderID     uuid.UUID              `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID   uuid.UUID              `gorm:"column:product_id;type:uuid;not null"`
	ProductName string                 `gorm:"column:product_name;not null"`
	Quantity    int                    `gorm:"column:quantity;not null"`
	UnitPrice   int64                  `gorm:"column:unit_price;not null"`
	UnitCost    int64                  `gorm:"column:unit_cost;not null"`
	LineTotal   int64                  `gorm:"column:line_total;not null"`
	Allocations types.BatchAllocations `gorm:"column:allocations;type:jsonb;serializer:json"`
	CreatedAt   time.Time              `gorm:"column:created_at;autoCreateTime"`
}

// ErrInvalidTotals marks an order rejected on insert because its monetary
// fields do not add up.
var ErrInvalidTotals = errors.New("order totals invalid")

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	if err := o.ValidateTotals(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTotals, err)
	}
	return nil
}

func (i *OrderLineItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// ItemsSubtotal sums unit price times quantity across the line items.
func (o *Order) ItemsSubtotal() int64 {
	var total int64
	for _, item := range o.Items {
		total += item.UnitPrice * int64(item.Quantity)
	}
	return total
}

// ValidateTotals checks the monetary invariants of the order.
func (o *Order) ValidateTotals() error {
	if len(o.Items) == 0 {
		return fmt.Errorf("order has no line items")
	}
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("line item %s has non-positive quantity", item.ProductID)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("line item %s has negative unit price", item.ProductID)
		}
		if item.LineTotal != item.UnitPrice*int64(item.Quantity) {
			return fmt.Errorf("line item %s total %d != %d x %d", item.ProductID, item.LineTotal, item.UnitPrice, item.Quantity)
		}
	}
	if o.ShippingFee < 0 || o.Tip < 0 {
		return fmt.Errorf("shipping fee and tip must not be negative")
	}
	if sum := o.ItemsSubtotal(); o.Subtotal != sum {
		return fmt.Errorf("subtotal %d does not match items total %d", o.Subtotal, sum)
	}
	if want := o.Subtotal + o.ShippingFee + o.Tip; o.FinalAmount != want {
		return fmt.Errorf("final amount %d does not match subtotal+shipping+tip %d", o.FinalAmount, want)
	}
	if o.Payment.Amount != o.FinalAmount {
		return fmt.Errorf("payment amount %d does not match final amount %d", o.Payment.Amount, o.FinalAmount)
	}
	return nil
}

// Age returns how long ago the order was created.
func (o *Order) Age(now time.Time) time.Duration {
	return now.Sub(o.CreatedAt)
}
