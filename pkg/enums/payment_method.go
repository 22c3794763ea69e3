package enums

import "fmt"

// PaymentMethod describes how a buyer settles an order.
type PaymentMethod string

const (
	PaymentMethodCashOnDelivery PaymentMethod = "cod"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodWallet         PaymentMethod = "wallet"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCashOnDelivery,
	PaymentMethodBankTransfer,
	PaymentMethodCard,
	PaymentMethodWallet,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
