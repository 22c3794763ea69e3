package settlement

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketsettle-backend/internal/fees"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
)

// Path names what triggered a settlement attempt.
type Path string

const (
	PathInstant Path = "instant"
	PathSweep   Path = "sweep"
	PathManual  Path = "manual"
)

type Outcome string

const (
	OutcomePaid        Outcome = "paid"
	OutcomeAlreadyPaid Outcome = "already_paid"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeFailed      Outcome = "failed"
)

type SkipReason string

const (
	SkipNotDelivered    SkipReason = "not_delivered"
	SkipHoldingPeriod   SkipReason = "holding_period"
	SkipRefundRequested SkipReason = "refund_requested"
	SkipDataIntegrity   SkipReason = "data_integrity"
)

// Result is the outcome of one settlement attempt.
type Result struct {
	OrderID       uuid.UUID   `json:"order_id"`
	Path          Path        `json:"path"`
	Outcome       Outcome     `json:"outcome"`
	SkipReason    SkipReason  `json:"skip_reason,omitempty"`
	Split         *fees.Split `json:"split,omitempty"`
	LedgerEntryID *uuid.UUID  `json:"ledger_entry_id,omitempty"`
	cause         error
}

func (r *Result) skip(reason SkipReason, cause error) *Result {
	r.Outcome = OutcomeSkipped
	r.SkipReason = reason
	r.cause = cause
	return r
}

// Err converts a non-paid outcome into a typed error.
func (r *Result) Err() error {
	if r == nil {
		return nil
	}
	switch r.Outcome {
	case OutcomePaid:
		return nil
	case OutcomeAlreadyPaid:
		return pkgerrors.New(pkgerrors.CodeAlreadyPaid, "order settlement already paid").
			WithDetails(map[string]any{"order_id": r.OrderID})
	case OutcomeFailed:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, r.cause, "settlement failed")
	}
	switch r.SkipReason {
	case SkipRefundRequested:
		return pkgerrors.New(pkgerrors.CodeRefundBlocksSettlement, "order has an open refund request").
			WithDetails(map[string]any{"order_id": r.OrderID})
	case SkipDataIntegrity:
		return pkgerrors.Wrap(pkgerrors.CodeDataIntegrity, r.cause, "order seller could not be resolved")
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order not eligible for settlement: %s", r.SkipReason)).
			WithDetails(map[string]any{"order_id": r.OrderID, "reason": r.SkipReason})
	}
}

// OrderOutcome is one line of a sweep report.
type OrderOutcome struct {
	OrderID    uuid.UUID  `json:"order_id"`
	Outcome    Outcome    `json:"outcome"`
	SkipReason SkipReason `json:"skip_reason,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// SweepReport summarises one sweep cycle.
type SweepReport struct {
	Eligible    int            `json:"eligible"`
	Processed   int            `json:"processed"`
	Paid        int            `json:"paid"`
	AlreadyPaid int            `json:"already_paid"`
	Skipped     int            `json:"skipped"`
	Failed      int            `json:"failed"`
	Interrupted bool           `json:"interrupted"`
	Outcomes    []OrderOutcome `json:"outcomes"`
}

func (r *SweepReport) add(orderID uuid.UUID, result *Result, err error) {
	r.Processed++
	line := OrderOutcome{OrderID: orderID}
	switch {
	case err != nil:
		r.Failed++
		line.Outcome = OutcomeFailed
		line.Error = err.Error()
	case result.Outcome == OutcomePaid:
		r.Paid++
		line.Outcome = OutcomePaid
	case result.Outcome == OutcomeAlreadyPaid:
		r.AlreadyPaid++
		line.Outcome = OutcomeAlreadyPaid
	default:
		r.Skipped++
		line.Outcome = OutcomeSkipped
		line.SkipReason = result.SkipReason
	}
	r.Outcomes = append(r.Outcomes, line)
}
