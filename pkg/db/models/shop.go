package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Shop is a storefront owned by a seller account.
type Shop struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID   uuid.UUID `gorm:"column:owner_id;type:uuid;not null;index"`
	Name      string    `gorm:"column:name;not null"`
	IsActive  bool      `gorm:"column:is_active;not null;default:true"`
	Owner     *Account  `gorm:"foreignKey:OwnerID"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *Shop) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
