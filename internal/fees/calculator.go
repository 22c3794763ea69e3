package fees

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
)

// Scope identifies whose configs may apply to a gross amount.
type Scope struct {
	SellerID   uuid.UUID
	CategoryID *uuid.UUID
}

// Split is the fee/net breakdown of a gross amount.
type Split struct {
	Gross     int64           `json:"gross"`
	FeeAmount int64           `json:"fee_amount"`
	FeeRate   decimal.Decimal `json:"fee_rate"`
	FeeType   enums.FeeType   `json:"fee_type"`
	NetAmount int64           `json:"net_amount"`
	ConfigID  *uuid.UUID      `json:"config_id,omitempty"`
}

const rateScale = 6

func applies(cfg models.PlatformFeeConfig, scope Scope, at time.Time) bool {
	if !cfg.EffectiveAt(at) {
		return false
	}
	switch cfg.Scope {
	case enums.FeeScopeGlobal:
		return true
	case enums.FeeScopeSeller:
		return cfg.SellerID != nil && *cfg.SellerID == scope.SellerID
	case enums.FeeScopeCategory:
		return cfg.CategoryID != nil && scope.CategoryID != nil && *cfg.CategoryID == *scope.CategoryID
	}
	return false
}

// beats reports whether a wins over b: more specific scope, then higher
// priority, then most recently created.
func beats(a, b models.PlatformFeeConfig) bool {
	if a.Scope.Specificity() != b.Scope.Specificity() {
		return a.Scope.Specificity() > b.Scope.Specificity()
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.CreatedAt.After(b.CreatedAt)
}

// Select picks the winning config for scope at the given time.
func Select(configs []models.PlatformFeeConfig, scope Scope, at time.Time) (models.PlatformFeeConfig, bool) {
	var (
		best  models.PlatformFeeConfig
		found bool
	)
	for _, cfg := range configs {
		if !applies(cfg, scope, at) {
			continue
		}
		if !found || beats(cfg, best) {
			best, found = cfg, true
		}
	}
	return best, found
}

// Calculate splits amount using the winning config, or defaultRate as a
// percentage when none applies.
func Calculate(configs []models.PlatformFeeConfig, scope Scope, amount int64, at time.Time, defaultRate decimal.Decimal) (*Split, error) {
	if amount < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}

	cfg, ok := Select(configs, scope, at)
	if !ok {
		return percentage(amount, defaultRate, nil), nil
	}

	id := cfg.ID
	switch cfg.FeeType {
	case enums.FeeTypeFixed:
		fee := cfg.FixedAmount
		if fee > amount {
			fee = amount
		}
		rate := decimal.Zero
		if amount > 0 {
			rate = decimal.NewFromInt(fee).Div(decimal.NewFromInt(amount)).Round(rateScale)
		}
		return &Split{Gross: amount, FeeAmount: fee, FeeRate: rate, FeeType: enums.FeeTypeFixed, NetAmount: amount - fee, ConfigID: &id}, nil
	case enums.FeeTypeTiered:
		rate := cfg.Rate
		if tier, ok := cfg.Tiers.Match(amount); ok {
			rate = tier.Rate
		}
		split := percentage(amount, rate, &id)
		split.FeeType = enums.FeeTypeTiered
		return split, nil
	default:
		return percentage(amount, cfg.Rate, &id), nil
	}
}

func percentage(amount int64, rate decimal.Decimal, configID *uuid.UUID) *Split {
	fee := decimal.NewFromInt(amount).Mul(rate).Round(0).IntPart()
	if fee < 0 {
		fee = 0
	}
	if fee > amount {
		fee = amount
	}
	return &Split{
		Gross:     amount,
		FeeAmount: fee,
		FeeRate:   rate,
		FeeType:   enums.FeeTypePercentage,
		NetAmount: amount - fee,
		ConfigID:  configID,
	}
}
