package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/pkg/db"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
)

// Repository holds the order queries the settlement routine needs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	HasActiveReturn(ctx context.Context, orderID uuid.UUID) (bool, error)
	ClaimSettlement(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error)
	SaveSettlement(ctx context.Context, orderID uuid.UUID, settlement models.OrderSettlement, at time.Time) error
	ListEligible(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LockOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order not found")
		}
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", id).
		Order("created_at ASC").
		Order("id ASC").
		Find(&order.Items).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) HasActiveReturn(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ReturnRequest{}).
		Where("order_id = ? AND status IN ?", orderID, enums.ActiveReturnStatuses).
		Count(&count).Error
	return count > 0, err
}

// ClaimSettlement flips settlement_is_paid for a delivered unpaid order.
// Exactly one caller can win the claim for an order.
func (r *repository) ClaimSettlement(ctx context.Context, orderID uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ? AND settlement_is_paid = ?", orderID, enums.OrderStatusDelivered, false).
		Updates(map[string]any{"settlement_is_paid": true, "updated_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SaveSettlement(ctx context.Context, orderID uuid.UUID, s models.OrderSettlement, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"settlement_is_paid":         s.IsPaid,
			"settlement_paid_at":         s.PaidAt,
			"settlement_ledger_entry_id": s.LedgerEntryID,
			"settlement_fee_amount":      s.FeeAmount,
			"settlement_fee_rate":        s.FeeRate,
			"settlement_net_amount":      s.NetAmount,
			"settlement_fee_config_id":   s.FeeConfigID,
			"updated_at":                 at,
		}).Error
}

// ListEligible returns delivered, unpaid, refund-free orders created at or
// before cutoff, oldest first.
func (r *repository) ListEligible(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("status = ? AND settlement_is_paid = ? AND has_refund_request = ? AND created_at <= ?",
			enums.OrderStatusDelivered, false, false, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}
