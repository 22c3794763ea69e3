package outbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
)

type OrderCreatedEvent struct {
	OrderID     uuid.UUID `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	BuyerID     uuid.UUID `json:"buyerId"`
	FinalAmount int64     `json:"finalAmount"`
}

type OrderStatusChangedEvent struct {
	OrderID uuid.UUID         `json:"orderId"`
	From    enums.OrderStatus `json:"from"`
	To      enums.OrderStatus `json:"to"`
	Reason  string            `json:"reason,omitempty"`
}

type OrderSettledEvent struct {
	OrderID       uuid.UUID       `json:"orderId"`
	SellerID      uuid.UUID       `json:"sellerId"`
	ShopID        uuid.UUID       `json:"shopId"`
	LedgerEntryID uuid.UUID       `json:"ledgerEntryId"`
	Gross         int64           `json:"gross"`
	FeeAmount     int64           `json:"feeAmount"`
	FeeRate       decimal.Decimal `json:"feeRate"`
	NetAmount     int64           `json:"netAmount"`
	PaidAt        time.Time       `json:"paidAt"`
}

type LedgerEntryReversedEvent struct {
	EntryID    uuid.UUID `json:"entryId"`
	ReversalID uuid.UUID `json:"reversalId"`
	SellerID   uuid.UUID `json:"sellerId"`
	Amount     int64     `json:"amount"`
	Reason     string    `json:"reason"`
}

type SellerWithdrawalEvent struct {
	EntryID  uuid.UUID `json:"entryId"`
	SellerID uuid.UUID `json:"sellerId"`
	Amount   int64     `json:"amount"`
	Ref      string    `json:"ref"`
}

type ReturnStatusChangedEvent struct {
	ReturnID uuid.UUID           `json:"returnId"`
	OrderID  uuid.UUID           `json:"orderId"`
	From     *enums.ReturnStatus `json:"from,omitempty"`
	To       enums.ReturnStatus  `json:"to"`
}

type SellerClawbackEvent struct {
	ReturnID  uuid.UUID `json:"returnId"`
	OrderID   uuid.UUID `json:"orderId"`
	SellerID  uuid.UUID `json:"sellerId"`
	EntryID   uuid.UUID `json:"entryId"`
	Requested int64     `json:"requested"`
	Debited   int64     `json:"debited"`
	Shortfall int64     `json:"shortfall"`
}
