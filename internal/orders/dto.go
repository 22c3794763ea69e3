package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketsettle-backend/internal/ledger"
	"github.com/angelmondragon/marketsettle-backend/internal/settlement"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
)

// TransitionInput describes a requested status change. ReturnID is set when
// the change is driven by an approved return.
type TransitionInput struct {
	OrderID  uuid.UUID
	To       enums.OrderStatus
	ActorID  *uuid.UUID
	Reason   string
	ReturnID *uuid.UUID
}

// TransitionResult reports the applied change and its side effects.
type TransitionResult struct {
	Order      *models.Order
	From       enums.OrderStatus
	To         enums.OrderStatus
	At         time.Time
	Settlement *settlement.Result
	// SettlementDeferred is set when a delivered order was left for the sweep.
	SettlementDeferred bool
	Reversal           *ledger.ReverseResult

	instant *instantAttempt
}

// instantAttempt holds an instant settlement outcome until the surrounding
// transaction commits.
type instantAttempt struct {
	orderID uuid.UUID
	result  *settlement.Result
	err     error
}
