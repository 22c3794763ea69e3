package enums

import "fmt"

// ReturnStatus tracks a buyer return request.
type ReturnStatus string

const (
	ReturnStatusRequested    ReturnStatus = "requested"
	ReturnStatusApproved     ReturnStatus = "approved"
	ReturnStatusRejected     ReturnStatus = "rejected"
	ReturnStatusItemReturned ReturnStatus = "item_returned"
	ReturnStatusRefunded     ReturnStatus = "refunded"
	ReturnStatusCompleted    ReturnStatus = "completed"
	ReturnStatusCancelled    ReturnStatus = "cancelled"
)

var validReturnStatuses = []ReturnStatus{
	ReturnStatusRequested,
	ReturnStatusApproved,
	ReturnStatusRejected,
	ReturnStatusItemReturned,
	ReturnStatusRefunded,
	ReturnStatusCompleted,
	ReturnStatusCancelled,
}

var returnStatusTransitions = map[ReturnStatus][]ReturnStatus{
	ReturnStatusRequested:    {ReturnStatusApproved, ReturnStatusRejected, ReturnStatusCancelled},
	ReturnStatusApproved:     {ReturnStatusItemReturned, ReturnStatusRefunded},
	ReturnStatusItemReturned: {ReturnStatusRefunded},
	ReturnStatusRefunded:     {ReturnStatusCompleted},
	ReturnStatusRejected:     {},
	ReturnStatusCancelled:    {},
	ReturnStatusCompleted:    {},
}

// ActiveReturnStatuses block settlement of the order they belong to.
var ActiveReturnStatuses = []ReturnStatus{
	ReturnStatusRequested,
	ReturnStatusApproved,
	ReturnStatusItemReturned,
}

// String implements fmt.Stringer.
func (s ReturnStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ReturnStatus.
func (s ReturnStatus) IsValid() bool {
	for _, candidate := range validReturnStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsActive reports whether a return in this status still blocks settlement.
func (s ReturnStatus) IsActive() bool {
	for _, candidate := range ActiveReturnStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s ReturnStatus) CanTransitionTo(next ReturnStatus) bool {
	for _, candidate := range returnStatusTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseReturnStatus converts raw input into a ReturnStatus.
func ParseReturnStatus(value string) (ReturnStatus, error) {
	for _, candidate := range validReturnStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid return status %q", value)
}

// ReturnResolution is what the buyer asked for.
type ReturnResolution string

const (
	ReturnResolutionRefund   ReturnResolution = "refund"
	ReturnResolutionExchange ReturnResolution = "exchange"
)

// IsValid reports whether the value is a known ReturnResolution.
func (r ReturnResolution) IsValid() bool {
	return r == ReturnResolutionRefund || r == ReturnResolutionExchange
}
