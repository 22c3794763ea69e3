package returns

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

const activeReturnConstraint = "ux_return_requests_active_order"

// Repository persists return requests and their audit trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, request *models.ReturnRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.ReturnRequest, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.ReturnRequest, error)
	HasActive(ctx context.Context, orderID uuid.UUID) (bool, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.ReturnStatus, at time.Time, updates map[string]any) error
	AddHistory(ctx context.Context, change *models.ReturnStatusChange) error
	SetOrderRefundRequest(ctx context.Context, orderID uuid.UUID, requested bool, returnID *uuid.UUID, at time.Time) error
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

func (r *repository) Create(ctx context.Context, request *models.ReturnRequest) error {
	if err := r.db.WithContext(ctx).Create(request).Error; err != nil {
		if db.IsUniqueViolation(err, activeReturnConstraint) {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order already has an active return")
		}
		return err
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ReturnRequest, error) {
	var request models.ReturnRequest
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("History", func(tx *gorm.DB) *gorm.DB { return tx.Order("created_at ASC").Order("id ASC") }).
		Where("id = ?", id).
		First(&request).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &request, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.ReturnRequest, error) {
	var request models.ReturnRequest
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&request).Error; err != nil {
		return nil, notFound(err)
	}
	if err := r.db.WithContext(ctx).Where("return_id = ?", id).Find(&request.Items).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) HasActive(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ReturnRequest{}).
		Where("order_id = ? AND status IN ?", orderID, enums.ActiveReturnStatuses).
		Count(&count).Error
	return count > 0, err
}

// TransitionStatus moves the request from -> to only if it is still in from.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.ReturnStatus, at time.Time, updates map[string]any) error {
	values := map[string]any{"status": to, "updated_at": at}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.ReturnRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.InvalidTransition("return", from.String(), to.String())
	}
	return nil
}

func (r *repository) AddHistory(ctx context.Context, change *models.ReturnStatusChange) error {
	return r.db.WithContext(ctx).Create(change).Error
}

func (r *repository) SetOrderRefundRequest(ctx context.Context, orderID uuid.UUID, requested bool, returnID *uuid.UUID, at time.Time) error {
	updates := map[string]any{"has_refund_request": requested, "updated_at": at}
	if returnID != nil {
		updates["return_request_id"] = *returnID
	}
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "return request not found")
	}
	return err
}
