package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InventoryBatch is one received lot of a product. Exhausted batches are kept.
type InventoryBatch struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID         uuid.UUID `gorm:"column:product_id;type:uuid;not null;index:idx_inventory_batches_fifo,priority:1"`
	BatchNumber       string    `gorm:"column:batch_number;not null"`
	QuantityReceived  int       `gorm:"column:quantity_received;not null"`
	QuantityRemaining int       `gorm:"column:quantity_remaining;not null"`
	CostPrice         int64     `gorm:"column:cost_price;not null"`
	SellingPrice      *int64    `gorm:"column:selling_price"`
	ReceivedAt        time.Time `gorm:"column:received_at;not null;index:idx_inventory_batches_fifo,priority:2"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (b *InventoryBatch) BeforeCreate(*gorm.DB) error {
	ensureID(&b.ID)
	return nil
}
