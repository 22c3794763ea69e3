package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/pkg/db"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
)

// Repository persists accounts, shops, products and their inventory batches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateAccount(ctx context.Context, account *models.Account) error
	CreateShop(ctx context.Context, shop *models.Shop) error
	CreateProduct(ctx context.Context, product *models.Product) error
	CreateBatch(ctx context.Context, batch *models.InventoryBatch) error
	FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	LockAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	UpdateAccountBalance(ctx context.Context, id uuid.UUID, balance int64) error
	FindShop(ctx context.Context, id uuid.UUID) (*models.Shop, error)
	FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	ListBatches(ctx context.Context, productID uuid.UUID) ([]models.InventoryBatch, error)
	LockBatches(ctx context.Context, productID uuid.UUID) ([]models.InventoryBatch, error)
	LockBatchesByID(ctx context.Context, ids []uuid.UUID) ([]models.InventoryBatch, error)
	UpdateBatchRemaining(ctx context.Context, id uuid.UUID, remaining int) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a catalog repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repository{db: conn}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAccount(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) CreateShop(ctx context.Context, shop *models.Shop) error {
	return r.db.WithContext(ctx).Create(shop).Error
}

func (r *repository) CreateProduct(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *repository) CreateBatch(ctx context.Context, batch *models.InventoryBatch) error {
	if batch.QuantityRemaining < 0 || batch.QuantityRemaining > batch.QuantityReceived {
		return pkgerrors.New(pkgerrors.CodeValidation, "batch remaining quantity out of range")
	}
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *repository) FindAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		return nil, notFound(err, "account not found")
	}
	return &account, nil
}

func (r *repository) LockAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var account models.Account
	if err := db.ForUpdate(r.db.WithContext(ctx)).Where("id = ?", id).First(&account).Error; err != nil {
		return nil, notFound(err, "account not found")
	}
	return &account, nil
}

func (r *repository) UpdateAccountBalance(ctx context.Context, id uuid.UUID, balance int64) error {
	if balance < 0 {
		return pkgerrors.New(pkgerrors.CodeInternal, "account balance would go negative")
	}
	res := r.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Update("balance", balance)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return nil
}

func (r *repository) FindShop(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&shop).Error; err != nil {
		return nil, notFound(err, "shop not found")
	}
	return &shop, nil
}

func (r *repository) FindProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).Preload("Shop").Where("id = ?", id).First(&product).Error; err != nil {
		return nil, notFound(err, "product not found")
	}
	return &product, nil
}

// ListBatches returns every batch of a product oldest first.
func (r *repository) ListBatches(ctx context.Context, productID uuid.UUID) ([]models.InventoryBatch, error) {
	var batches []models.InventoryBatch
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("received_at ASC").
		Order("id ASC").
		Find(&batches).Error
	return batches, err
}

// LockBatches is ListBatches with row locks held until the transaction ends.
func (r *repository) LockBatches(ctx context.Context, productID uuid.UUID) ([]models.InventoryBatch, error) {
	var batches []models.InventoryBatch
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("product_id = ?", productID).
		Order("received_at ASC").
		Order("id ASC").
		Find(&batches).Error
	return batches, err
}

func (r *repository) LockBatchesByID(ctx context.Context, ids []uuid.UUID) ([]models.InventoryBatch, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var batches []models.InventoryBatch
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&batches).Error
	return batches, err
}

func (r *repository) UpdateBatchRemaining(ctx context.Context, id uuid.UUID, remaining int) error {
	if remaining < 0 {
		return pkgerrors.New(pkgerrors.CodeInternal, "batch remaining would go negative")
	}
	res := r.db.WithContext(ctx).
		Model(&models.InventoryBatch{}).
		Where("id = ? AND quantity_received >= ?", id, remaining).
		Update("quantity_remaining", remaining)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "batch remaining exceeds received quantity")
	}
	return nil
}

func notFound(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, msg)
	}
	return err
}
