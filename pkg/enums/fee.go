package enums

import "fmt"

// FeeScope is the reach of a platform fee configuration.
type FeeScope string

const (
	FeeScopeGlobal   FeeScope = "global"
	FeeScopeSeller   FeeScope = "seller"
	FeeScopeCategory FeeScope = "category"
)

var validFeeScopes = []FeeScope{
	FeeScopeGlobal,
	FeeScopeSeller,
	FeeScopeCategory,
}

// IsValid reports whether the value is a known FeeScope.
func (s FeeScope) IsValid() bool {
	for _, candidate := range validFeeScopes {
		if candidate == s {
			return true
		}
	}
	return false
}

// Specificity ranks scopes; higher wins during fee resolution.
func (s FeeScope) Specificity() int {
	switch s {
	case FeeScopeSeller:
		return 2
	case FeeScopeCategory:
		return 1
	default:
		return 0
	}
}

// ParseFeeScope converts raw input into a FeeScope.
func ParseFeeScope(value string) (FeeScope, error) {
	for _, candidate := range validFeeScopes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fee scope %q", value)
}

// FeeType selects how a fee amount is computed.
type FeeType string

const (
	FeeTypePercentage FeeType = "percentage"
	FeeTypeFixed      FeeType = "fixed"
	FeeTypeTiered     FeeType = "tiered"
)

var validFeeTypes = []FeeType{
	FeeTypePercentage,
	FeeTypeFixed,
	FeeTypeTiered,
}

// IsValid reports whether the value is a known FeeType.
func (t FeeType) IsValid() bool {
	for _, candidate := range validFeeTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseFeeType converts raw input into a FeeType.
func ParseFeeType(value string) (FeeType, error) {
	for _, candidate := range validFeeTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fee type %q", value)
}
