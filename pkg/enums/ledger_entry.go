package enums

import "fmt"

// LedgerEntryType classifies a seller ledger movement.
type LedgerEntryType string

const (
	LedgerEntryOrderPayment    LedgerEntryType = "ORDER_PAYMENT"
	LedgerEntryRefundDeduction LedgerEntryType = "REFUND_DEDUCTION"
	LedgerEntryWithdrawal      LedgerEntryType = "WITHDRAWAL"
	LedgerEntryAdjustment      LedgerEntryType = "ADJUSTMENT"
	LedgerEntryPenalty         LedgerEntryType = "PENALTY"
	LedgerEntryBonus           LedgerEntryType = "BONUS"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryOrderPayment,
	LedgerEntryRefundDeduction,
	LedgerEntryWithdrawal,
	LedgerEntryAdjustment,
	LedgerEntryPenalty,
	LedgerEntryBonus,
}

// String implements fmt.Stringer.
func (t LedgerEntryType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known LedgerEntryType.
func (t LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsCredit reports whether entries of this type add to the seller balance.
// ADJUSTMENT is signed by its amount and is neither credit nor debit here.
func (t LedgerEntryType) IsCredit() bool {
	return t == LedgerEntryOrderPayment || t == LedgerEntryBonus
}

// IsDebit reports whether entries of this type subtract from the seller balance.
func (t LedgerEntryType) IsDebit() bool {
	return t == LedgerEntryRefundDeduction || t == LedgerEntryWithdrawal || t == LedgerEntryPenalty
}

// ParseLedgerEntryType converts raw input into LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}

// LedgerEntryStatus tracks whether a ledger entry has been applied.
type LedgerEntryStatus string

const (
	LedgerEntryStatusPending   LedgerEntryStatus = "PENDING"
	LedgerEntryStatusCompleted LedgerEntryStatus = "COMPLETED"
	LedgerEntryStatusFailed    LedgerEntryStatus = "FAILED"
	LedgerEntryStatusReversed  LedgerEntryStatus = "REVERSED"
)

var validLedgerEntryStatuses = []LedgerEntryStatus{
	LedgerEntryStatusPending,
	LedgerEntryStatusCompleted,
	LedgerEntryStatusFailed,
	LedgerEntryStatusReversed,
}

// String implements fmt.Stringer.
func (s LedgerEntryStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known LedgerEntryStatus.
func (s LedgerEntryStatus) IsValid() bool {
	for _, candidate := range validLedgerEntryStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseLedgerEntryStatus converts raw input into LedgerEntryStatus.
func ParseLedgerEntryStatus(value string) (LedgerEntryStatus, error) {
	for _, candidate := range validLedgerEntryStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry status %q", value)
}
