package types

import (
	"sort"

	"github.com/shopspring/decimal"
)

// FeeTier applies Rate to gross amounts at or above MinAmount.
type FeeTier struct {
	MinAmount int64           `json:"min_amount" validate:"gte=0"`
	Rate      decimal.Decimal `json:"rate"`
}

// FeeTiers is stored as JSON on platform fee configs.
type FeeTiers []FeeTier

// Match returns the tier with the highest MinAmount not above amount.
func (t FeeTiers) Match(amount int64) (FeeTier, bool) {
	if len(t) == 0 {
		return FeeTier{}, false
	}
	sorted := make(FeeTiers, len(t))
	copy(sorted, t)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinAmount < sorted[j].MinAmount })

	var (
		match FeeTier
		found bool
	)
	for _, tier := range sorted {
		if tier.MinAmount > amount {
			break
		}
		match, found = tier, true
	}
	return match, found
}
