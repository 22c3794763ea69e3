package types

import (
	"fmt"
	"strings"
)

// Address is a shipping destination stored as JSON on the order row.
type Address struct {
	RecipientName string  `json:"recipient_name" validate:"required"`
	Phone         string  `json:"phone,omitempty"`
	Line1         string  `json:"line1" validate:"required"`
	Line2         *string `json:"line2,omitempty"`
	City          string  `json:"city" validate:"required"`
	State         string  `json:"state,omitempty"`
	PostalCode    string  `json:"postal_code" validate:"required"`
	Country       string  `json:"country" validate:"required,len=2"`
}

// String renders a single line representation used in logs and emails.
func (a Address) String() string {
	parts := []string{a.Line1}
	if a.Line2 != nil && strings.TrimSpace(*a.Line2) != "" {
		parts = append(parts, *a.Line2)
	}
	parts = append(parts, a.City)
	if a.State != "" {
		parts = append(parts, a.State)
	}
	parts = append(parts, fmt.Sprintf("%s %s", a.PostalCode, a.Country))
	return strings.Join(parts, ", ")
}
