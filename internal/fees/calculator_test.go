package fees

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
	"github.com/angelmondragon/marketsettle-backend/pkg/types"
)

var (
	now         = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	defaultRate = decimal.RequireFromString("0.05")
)

func globalConfig(rate string) models.PlatformFeeConfig {
	return models.PlatformFeeConfig{
		ID:       uuid.New(),
		Scope:    enums.FeeScopeGlobal,
		FeeType:  enums.FeeTypePercentage,
		Rate:     decimal.RequireFromString(rate),
		IsActive: true,
	}
}

func TestCalculateGlobalPercentage(t *testing.T) {
	cfg := globalConfig("0.05")
	split, err := Calculate([]models.PlatformFeeConfig{cfg}, Scope{SellerID: uuid.New()}, 1_000_000, now, defaultRate)
	require.NoError(t, err)
	require.Equal(t, int64(50_000), split.FeeAmount)
	require.Equal(t, int64(950_000), split.NetAmount)
	require.Equal(t, cfg.ID, *split.ConfigID)
}

func TestCalculateSellerOverridesGlobal(t *testing.T) {
	sellerID := uuid.New()
	seller := models.PlatformFeeConfig{
		ID:       uuid.New(),
		Scope:    enums.FeeScopeSeller,
		SellerID: &sellerID,
		FeeType:  enums.FeeTypePercentage,
		Rate:     decimal.RequireFromString("0.02"),
		IsActive: true,
	}
	global := globalConfig("0.05")
	global.Priority = 100

	split, err := Calculate([]models.PlatformFeeConfig{global, seller}, Scope{SellerID: sellerID}, 1_000_000, now, defaultRate)
	require.NoError(t, err)
	require.Equal(t, int64(20_000), split.FeeAmount)
	require.Equal(t, seller.ID, *split.ConfigID)

	// another seller only sees the global config
	split, err = Calculate([]models.PlatformFeeConfig{global, seller}, Scope{SellerID: uuid.New()}, 1_000_000, now, defaultRate)
	require.NoError(t, err)
	require.Equal(t, int64(50_000), split.FeeAmount)
}

func TestCalculateSpecificityOrder(t *testing.T) {
	sellerID, categoryID := uuid.New(), uuid.New()
	category := models.PlatformFeeConfig{ID: uuid.New(), Scope: enums.FeeScopeCategory, CategoryID: &categoryID, FeeType: enums.FeeTypePercentage, Rate: decimal.RequireFromString("0.03"), IsActive: true}
	seller := models.PlatformFeeConfig{ID: uuid.New(), Scope: enums.FeeScopeSeller, SellerID: &sellerID, FeeType: enums.FeeTypePercentage, Rate: decimal.RequireFromString("0.01"), IsActive: true}
	configs := []models.PlatformFeeConfig{globalConfig("0.05"), category, seller}

	got, ok := Select(configs, Scope{SellerID: sellerID, CategoryID: &categoryID}, now)
	require.True(t, ok)
	require.Equal(t, seller.ID, got.ID)

	got, ok = Select(configs, Scope{SellerID: uuid.New(), CategoryID: &categoryID}, now)
	require.True(t, ok)
	require.Equal(t, category.ID, got.ID)
}

func TestCalculateTiesBreakOnPriorityThenRecency(t *testing.T) {
	older := globalConfig("0.04")
	older.CreatedAt = now.Add(-48 * time.Hour)
	newer := globalConfig("0.06")
	newer.CreatedAt = now.Add(-time.Hour)

	got, _ := Select([]models.PlatformFeeConfig{older, newer}, Scope{}, now)
	require.Equal(t, newer.ID, got.ID)

	older.Priority = 1
	got, _ = Select([]models.PlatformFeeConfig{older, newer}, Scope{}, now)
	require.Equal(t, older.ID, got.ID)
}

func TestCalculateDefaultRateWhenNothingApplies(t *testing.T) {
	inactive := globalConfig("0.5")
	inactive.IsActive = false
	expired := globalConfig("0.5")
	until := now.Add(-time.Minute)
	expired.EffectiveUntil = &until

	split, err := Calculate([]models.PlatformFeeConfig{inactive, expired}, Scope{}, 1_000, now, defaultRate)
	require.NoError(t, err)
	require.Equal(t, int64(50), split.FeeAmount)
	require.Nil(t, split.ConfigID)
	require.True(t, split.FeeRate.Equal(defaultRate))
}

func TestCalculateRoundsHalfUp(t *testing.T) {
	split, err := Calculate(nil, Scope{}, 10, now, decimal.RequireFromString("0.05"))
	require.NoError(t, err)
	// 0.5 rounds up
	require.Equal(t, int64(1), split.FeeAmount)
	require.Equal(t, int64(9), split.NetAmount)
}

func TestCalculateFixedIsCappedAtAmount(t *testing.T) {
	cfg := globalConfig("0")
	cfg.FeeType = enums.FeeTypeFixed
	cfg.FixedAmount = 500

	split, err := Calculate([]models.PlatformFeeConfig{cfg}, Scope{}, 10_000, now, defaultRate)
	require.NoError(t, err)
	require.Equal(t, int64(500), split.FeeAmount)
	require.True(t, split.FeeRate.Equal(decimal.RequireFromString("0.05")))

	split, err = Calculate([]models.PlatformFeeConfig{cfg}, Scope{}, 300, now, defaultRate)
	require.NoError(t, err)
	require.Equal(t, int64(300), split.FeeAmount)
	require.Zero(t, split.NetAmount)
}

func TestCalculateTiered(t *testing.T) {
	cfg := globalConfig("0.10")
	cfg.FeeType = enums.FeeTypeTiered
	cfg.Tiers = types.FeeTiers{
		{MinAmount: 100_000, Rate: decimal.RequireFromString("0.03")},
		{MinAmount: 0, Rate: decimal.RequireFromString("0.08")},
		{MinAmount: 1_000_000, Rate: decimal.RequireFromString("0.02")},
	}

	cases := map[int64]int64{
		50_000:    4_000,
		100_000:   3_000,
		2_000_000: 40_000,
	}
	for amount, fee := range cases {
		split, err := Calculate([]models.PlatformFeeConfig{cfg}, Scope{}, amount, now, defaultRate)
		require.NoError(t, err)
		require.Equal(t, fee, split.FeeAmount, "amount %d", amount)
		require.Equal(t, enums.FeeTypeTiered, split.FeeType)
	}
}

func TestCalculateRejectsNegativeAmount(t *testing.T) {
	_, err := Calculate(nil, Scope{}, -1, now, defaultRate)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}
