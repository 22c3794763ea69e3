package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder       OutboxAggregateType = "order"
	AggregateLedgerEntry OutboxAggregateType = "seller_ledger_entry"
	AggregateReturn      OutboxAggregateType = "return_request"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateLedgerEntry,
	AggregateReturn,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a domain event.
type OutboxEventType string

const (
	EventOrderCreated          OutboxEventType = "order_created"
	EventOrderStatusChanged    OutboxEventType = "order_status_changed"
	EventOrderSettled          OutboxEventType = "order_settled"
	EventLedgerEntryReversed   OutboxEventType = "ledger_entry_reversed"
	EventSellerWithdrawal      OutboxEventType = "seller_withdrawal"
	EventReturnRequested       OutboxEventType = "return_requested"
	EventReturnStatusChanged   OutboxEventType = "return_status_changed"
	EventSellerClawbackApplied OutboxEventType = "seller_clawback_applied"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderStatusChanged,
	EventOrderSettled,
	EventLedgerEntryReversed,
	EventSellerWithdrawal,
	EventReturnRequested,
	EventReturnStatusChanged,
	EventSellerClawbackApplied,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
