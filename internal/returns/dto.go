package returns

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/marketsettle-backend/internal/ledger"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
)

// ItemInput selects a quantity of one order line for return.
type ItemInput struct {
	LineItemID uuid.UUID `json:"line_item_id" validate:"required"`
	Quantity   int       `json:"quantity" validate:"required,gt=0"`
}

// RequestInput opens a return on a delivered order. No items means the whole order.
type RequestInput struct {
	OrderID    uuid.UUID              `json:"order_id" validate:"required"`
	BuyerID    uuid.UUID              `json:"buyer_id" validate:"required"`
	Resolution enums.ReturnResolution `json:"resolution" validate:"required"`
	Reason     string                 `json:"reason" validate:"required,max=500"`
	Items      []ItemInput            `json:"items" validate:"omitempty,dive"`
}

// ClawbackOutcome reports the money movements of an approved return.
type ClawbackOutcome struct {
	Return        *models.ReturnRequest `json:"return"`
	RefundAmount  int64                 `json:"refund_amount"`
	BuyerCredited bool                  `json:"buyer_credited"`
	SellerWasPaid bool                  `json:"seller_was_paid"`
	// Clawback is nil when the seller was never paid or nothing is refunded.
	Clawback *ledger.DebitResult `json:"clawback,omitempty"`
}
