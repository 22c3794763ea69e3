package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	"github.com/angelmondragon/marketsettle-backend/pkg/types"
)

// PlatformFeeConfig is a commission policy for a scope.
type PlatformFeeConfig struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Name           string          `gorm:"column:name;not null"`
	Scope          enums.FeeScope  `gorm:"column:scope;type:text;not null"`
	SellerID       *uuid.UUID      `gorm:"column:seller_id;type:uuid;index"`
	CategoryID     *uuid.UUID      `gorm:"column:category_id;type:uuid;index"`
	FeeType        enums.FeeType   `gorm:"column:fee_type;type:text;not null"`
	Rate           decimal.Decimal `gorm:"column:rate;type:numeric(10,6);not null;default:0"`
	FixedAmount    int64           `gorm:"column:fixed_amount;not null;default:0"`
	Tiers          types.FeeTiers  `gorm:"column:tiers;type:jsonb;serializer:json"`
	IsActive       bool            `gorm:"column:is_active;not null;default:true"`
	Priority       int             `gorm:"column:priority;not null;default:0"`
	EffectiveFrom  *time.Time      `gorm:"column:effective_from"`
	EffectiveUntil *time.Time      `gorm:"column:effective_until"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *PlatformFeeConfig) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// EffectiveAt reports whether the config applies at t.
func (c *PlatformFeeConfig) EffectiveAt(t time.Time) bool {
	if !c.IsActive {
		return false
	}
	if c.EffectiveFrom != nil && t.Before(*c.EffectiveFrom) {
		return false
	}
	if c.EffectiveUntil != nil && !t.Before(*c.EffectiveUntil) {
		return false
	}
	return true
}
