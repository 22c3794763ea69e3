package enums

import "fmt"

// AccountRole distinguishes buyers from sellers.
type AccountRole string

const (
	AccountRoleBuyer  AccountRole = "buyer"
	AccountRoleSeller AccountRole = "seller"
	AccountRoleAdmin  AccountRole = "admin"
)

var validAccountRoles = []AccountRole{
	AccountRoleBuyer,
	AccountRoleSeller,
	AccountRoleAdmin,
}

// IsValid reports whether the value is a known AccountRole.
func (r AccountRole) IsValid() bool {
	for _, candidate := range validAccountRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseAccountRole converts raw input into an AccountRole.
func ParseAccountRole(value string) (AccountRole, error) {
	for _, candidate := range validAccountRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid account role %q", value)
}
