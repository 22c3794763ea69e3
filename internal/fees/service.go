package fees

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
	"github.com/angelmondragon/marketsettle-backend/pkg/types"
	"github.com/angelmondragon/marketsettle-backend/pkg/validate"
)

// ServiceParams wires the fee service.
type ServiceParams struct {
	Repository  Repository
	DefaultRate decimal.Decimal
	Now         func() time.Time
}

// Service resolves fee splits and manages fee configs.
type Service struct {
	repo        Repository
	defaultRate decimal.Decimal
	now         func() time.Time
}

// CreateConfigInput describes a new platform fee config.
type CreateConfigInput struct {
	Name           string          `json:"name" validate:"required,max=120"`
	Scope          enums.FeeScope  `json:"scope" validate:"required"`
	SellerID       *uuid.UUID      `json:"seller_id"`
	CategoryID     *uuid.UUID      `json:"category_id"`
	FeeType        enums.FeeType   `json:"fee_type" validate:"required"`
	Rate           decimal.Decimal `json:"rate"`
	FixedAmount    int64           `json:"fixed_amount" validate:"gte=0"`
	Tiers          types.FeeTiers  `json:"tiers" validate:"dive"`
	Priority       int             `json:"priority"`
	EffectiveFrom  *time.Time      `json:"effective_from"`
	EffectiveUntil *time.Time      `json:"effective_until"`
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("fee repository required")
	}
	if params.DefaultRate.IsNegative() || params.DefaultRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("default fee rate must be within [0,1]")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: params.Repository, defaultRate: params.DefaultRate, now: now}, nil
}

// Resolve loads the candidate configs inside tx and computes the split.
func (s *Service) Resolve(ctx context.Context, tx *gorm.DB, scope Scope, amount int64) (*Split, error) {
	configs, err := s.repo.WithTx(tx).ListCandidates(ctx, scope)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load fee configs")
	}
	return Calculate(configs, scope, amount, s.now(), s.defaultRate)
}

// CreateConfig validates and stores a fee config.
func (s *Service) CreateConfig(ctx context.Context, input CreateConfigInput) (*models.PlatformFeeConfig, error) {
	if err := validate.Struct(input); err != nil {
		return nil, err
	}
	if err := checkConfig(input); err != nil {
		return nil, err
	}

	cfg := &models.PlatformFeeConfig{
		Name:           input.Name,
		Scope:          input.Scope,
		SellerID:       input.SellerID,
		CategoryID:     input.CategoryID,
		FeeType:        input.FeeType,
		Rate:           input.Rate,
		FixedAmount:    input.FixedAmount,
		Tiers:          input.Tiers,
		IsActive:       true,
		Priority:       input.Priority,
		EffectiveFrom:  input.EffectiveFrom,
		EffectiveUntil: input.EffectiveUntil,
	}
	if err := s.repo.Create(ctx, cfg); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create fee config")
	}
	return cfg, nil
}

func checkConfig(input CreateConfigInput) error {
	invalid := func(msg string) error {
		return pkgerrors.New(pkgerrors.CodeValidation, msg)
	}
	if !input.Scope.IsValid() {
		return invalid("unknown fee scope")
	}
	if !input.FeeType.IsValid() {
		return invalid("unknown fee type")
	}
	switch input.Scope {
	case enums.FeeScopeGlobal:
		if input.SellerID != nil || input.CategoryID != nil {
			return invalid("global config must not reference a seller or category")
		}
	case enums.FeeScopeSeller:
		if input.SellerID == nil {
			return invalid("seller config requires seller_id")
		}
	case enums.FeeScopeCategory:
		if input.CategoryID == nil {
			return invalid("category config requires category_id")
		}
	}
	if !validRate(input.Rate) {
		return invalid("rate must be within [0,1]")
	}
	if input.FeeType == enums.FeeTypeTiered {
		if len(input.Tiers) == 0 {
			return invalid("tiered config requires tiers")
		}
		for _, tier := range input.Tiers {
			if !validRate(tier.Rate) {
				return invalid("tier rate must be within [0,1]")
			}
		}
	}
	if input.EffectiveFrom != nil && input.EffectiveUntil != nil && !input.EffectiveUntil.After(*input.EffectiveFrom) {
		return invalid("effective_until must be after effective_from")
	}
	return nil
}

func validRate(rate decimal.Decimal) bool {
	return !rate.IsNegative() && !rate.GreaterThan(decimal.NewFromInt(1))
}
