package ledger

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

// Repository manages persistence for seller ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.SellerLedgerEntry) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.SellerLedgerEntry, error)
	LockByID(ctx context.Context, id uuid.UUID) (*models.SellerLedgerEntry, error)
	FindOrderPayment(ctx context.Context, orderID uuid.UUID) (*models.SellerLedgerEntry, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.LedgerEntryStatus, at time.Time, updates map[string]any) error
	ListPendingShortfalls(ctx context.Context, sellerID uuid.UUID) ([]models.SellerLedgerEntry, error)
	ListApplied(ctx context.Context, sellerID uuid.UUID) ([]models.SellerLedgerEntry, error)
	ListRecent(ctx context.Context, sellerID uuid.UUID, limit int) ([]models.SellerLedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.SellerLedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SellerLedgerEntry, error) {
	var entry models.SellerLedgerEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, notFound(err)
	}
	return &entry, nil
}

func (r *repository) LockByID(ctx context.Context, id uuid.UUID) (*models.SellerLedgerEntry, error) {
	var entry models.SellerLedgerEntry
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, notFound(err)
	}
	return &entry, nil
}

func (r *repository) FindOrderPayment(ctx context.Context, orderID uuid.UUID) (*models.SellerLedgerEntry, error) {
	var entry models.SellerLedgerEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND type = ?", orderID, enums.LedgerEntryOrderPayment).
		First(&entry).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &entry, nil
}

// TransitionStatus moves an entry between statuses only if it is still in from.
func (r *repository) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.LedgerEntryStatus, at time.Time, updates map[string]any) error {
	values := map[string]any{"status": to, "updated_at": at}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.SellerLedgerEntry{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.InvalidTransition("ledger entry", string(from), string(to))
	}
	return nil
}

// ListPendingShortfalls returns unrecovered shortfalls oldest first.
func (r *repository) ListPendingShortfalls(ctx context.Context, sellerID uuid.UUID) ([]models.SellerLedgerEntry, error) {
	var entries []models.SellerLedgerEntry
	err := r.db.WithContext(ctx).
		Where("seller_id = ? AND type = ? AND status = ?", sellerID, enums.LedgerEntryAdjustment, enums.LedgerEntryStatusPending).
		Order("created_at ASC").
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

// ListApplied returns every entry that moved the balance, in application order.
func (r *repository) ListApplied(ctx context.Context, sellerID uuid.UUID) ([]models.SellerLedgerEntry, error) {
	var entries []models.SellerLedgerEntry
	err := r.db.WithContext(ctx).
		Where("seller_id = ? AND status IN ?", sellerID, []enums.LedgerEntryStatus{enums.LedgerEntryStatusCompleted, enums.LedgerEntryStatusReversed}).
		Order("processed_at ASC").
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

func (r *repository) ListRecent(ctx context.Context, sellerID uuid.UUID, limit int) ([]models.SellerLedgerEntry, error) {
	var entries []models.SellerLedgerEntry
	err := r.db.WithContext(ctx).
		Where("seller_id = ?", sellerID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "ledger entry not found")
	}
	return err
}
