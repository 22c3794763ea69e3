package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
)

// Account is a buyer or seller. Balance is the spendable amount in minor units
// and is only mutated under a row lock.
type Account struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	Role        enums.AccountRole `gorm:"column:role;type:text;not null"`
	Email       string            `gorm:"column:email;type:text;not null;uniqueIndex"`
	DisplayName string            `gorm:"column:display_name;not null"`
	Balance     int64             `gorm:"column:balance;not null;default:0"`
	CreatedAt   time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *Account) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}
