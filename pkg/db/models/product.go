package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Product is a listing sold by a shop. BasePrice applies when no inventory
// batch carries its own selling price.
type Product struct {
	ID         uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	ShopID     uuid.UUID        `gorm:"column:shop_id;type:uuid;not null;index"`
	CategoryID *uuid.UUID       `gorm:"column:category_id;type:uuid"`
	Name       string           `gorm:"column:name;not null"`
	BasePrice  int64            `gorm:"column:base_price;not null"`
	IsActive   bool             `gorm:"column:is_active;not null;default:true"`
	Shop       *Shop            `gorm:"foreignKey:ShopID"`
	Batches    []InventoryBatch `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
