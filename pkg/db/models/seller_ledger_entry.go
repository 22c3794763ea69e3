package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	"github.com/angelmondragon/marketsettle-backend/pkg/types"
)

// SellerLedgerEntry is an append-only movement on a seller balance. Net is
// signed: positive for credits, negative for debits.
type SellerLedgerEntry struct {
	ID            uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	Code          string                  `gorm:"column:code;not null;uniqueIndex"`
	SellerID      uuid.UUID               `gorm:"column:seller_id;type:uuid;not null;index:idx_seller_ledger_seller_created,priority:1"`
	ShopID        uuid.UUID               `gorm:"column:shop_id;type:uuid;not null"`
	Type          enums.LedgerEntryType   `gorm:"column:type;type:text;not null"`
	Status        enums.LedgerEntryStatus `gorm:"column:status;type:text;not null"`
	OrderID       *uuid.UUID              `gorm:"column:order_id;type:uuid;index"`
	ReturnID      *uuid.UUID              `gorm:"column:return_id;type:uuid"`
	WithdrawalRef *string                 `gorm:"column:withdrawal_ref"`
	ReversalOfID  *uuid.UUID              `gorm:"column:reversal_of_id;type:uuid"`
	Gross         int64                   `gorm:"column:gross;not null"`
	PlatformFee   int64                   `gorm:"column:platform_fee;not null;default:0"`
	FeeRate       decimal.Decimal         `gorm:"column:fee_rate;type:numeric(10,6);not null;default:0"`
	Net           int64                   `gorm:"column:net;not null"`
	BalanceBefore int64                   `gorm:"column:balance_before;not null"`
	BalanceAfter  int64                   `gorm:"column:balance_after;not null"`
	Description   string                  `gorm:"column:description;not null;default:''"`
	Metadata      types.JSONMap           `gorm:"column:metadata;type:jsonb;serializer:json"`
	ProcessedAt   *time.Time              `gorm:"column:processed_at"`
	CreatedAt     time.Time               `gorm:"column:created_at;autoCreateTime;index:idx_seller_ledger_seller_created,priority:2"`
	UpdatedAt     time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (e *SellerLedgerEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
