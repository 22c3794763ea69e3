package fees

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
)

// Repository persists platform fee configs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, cfg *models.PlatformFeeConfig) error
	ListCandidates(ctx context.Context, scope Scope) ([]models.PlatformFeeConfig, error)
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

func (r *repository) Create(ctx context.Context, cfg *models.PlatformFeeConfig) error {
	return r.db.WithContext(ctx).Create(cfg).Error
}

// ListCandidates returns active configs that could apply to scope. Effective
// windows are checked by the caller against its clock.
func (r *repository) ListCandidates(ctx context.Context, scope Scope) ([]models.PlatformFeeConfig, error) {
	query := r.db.WithContext(ctx).Where("is_active = ?", true)

	categoryID := uuid.Nil
	if scope.CategoryID != nil {
		categoryID = *scope.CategoryID
	}
	query = query.Where(
		"(scope = ? OR (scope = ? AND seller_id = ?) OR (scope = ? AND category_id = ?))",
		enums.FeeScopeGlobal,
		enums.FeeScopeSeller, scope.SellerID,
		enums.FeeScopeCategory, categoryID,
	)

	var configs []models.PlatformFeeConfig
	if err := query.Order("created_at DESC").Find(&configs).Error; err != nil {
		return nil, err
	}
	return configs, nil
}
