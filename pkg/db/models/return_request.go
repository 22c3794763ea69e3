package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
)

// ReturnRequest is a buyer request to send back (part of) an order.
type ReturnRequest struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OrderID           uuid.UUID              `gorm:"column:order_id;type:uuid;not null;index"`
	BuyerID           uuid.UUID              `gorm:"column:buyer_id;type:uuid;not null"`
	Resolution        enums.ReturnResolution `gorm:"column:resolution;type:text;not null"`
	Reason            string                 `gorm:"column:reason;not null"`
	Status            enums.ReturnStatus     `gorm:"column:status;type:text;not null;default:'requested'"`
	ItemsSubtotal     int64                  `gorm:"column:items_subtotal;not null;default:0"`
	ShippingDeduction int64                  `gorm:"column:shipping_deduction;not null;default:0"`
	RestockingFee     int64                  `gorm:"column:restocking_fee;not null;default:0"`
	RefundAmount      int64                  `gorm:"column:refund_amount;not null;default:0"`
	ClawbackEntryID   *uuid.UUID             `gorm:"column:clawback_entry_id;type:uuid"`
	ReviewedBy        *uuid.UUID             `gorm:"column:reviewed_by;type:uuid"`
	ReviewedAt        *time.Time             `gorm:"column:reviewed_at"`
	Items             []ReturnItem           `gorm:"foreignKey:ReturnID;constraint:OnDelete:CASCADE"`
	History           []ReturnStatusChange   `gorm:"foreignKey:ReturnID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// ReturnItem is one returned order line, priced at the original unit price.
type ReturnItem struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ReturnID   uuid.UUID `gorm:"column:return_id;type:uuid;not null;index"`
	LineItemID uuid.UUID `gorm:"column:line_item_id;type:uuid;not null"`
	Quantity   int       `gorm:"column:quantity;not null"`
	UnitPrice  int64     `gorm:"column:unit_price;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// ReturnStatusChange is the audit trail of a return request.
type ReturnStatusChange struct {
	ID         uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ReturnID   uuid.UUID           `gorm:"column:return_id;type:uuid;not null;index"`
	FromStatus *enums.ReturnStatus `gorm:"column:from_status;type:text"`
	ToStatus   enums.ReturnStatus  `gorm:"column:to_status;type:text;not null"`
	ActorID    *uuid.UUID          `gorm:"column:actor_id;type:uuid"`
	Note       string              `gorm:"column:note;not null;default:''"`
	CreatedAt  time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (r *ReturnRequest) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

func (i *ReturnItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

func (c *ReturnStatusChange) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// ReturnedItemsTotal sums unit price times quantity of the returned items.
func (r *ReturnRequest) ReturnedItemsTotal() int64 {
	var total int64
	for _, item := range r.Items {
		total += item.UnitPrice * int64(item.Quantity)
	}
	return total
}
