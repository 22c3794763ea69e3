package types

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFeeTiersMatch(t *testing.T) {
	tiers := FeeTiers{
		{MinAmount: 1_000_000, Rate: decimal.RequireFromString("0.03")},
		{MinAmount: 0, Rate: decimal.RequireFromString("0.05")},
		{MinAmount: 100_000, Rate: decimal.RequireFromString("0.04")},
	}

	tier, ok := tiers.Match(50_000)
	assert.True(t, ok)
	assert.True(t, tier.Rate.Equal(decimal.RequireFromString("0.05")))

	tier, ok = tiers.Match(100_000)
	assert.True(t, ok)
	assert.True(t, tier.Rate.Equal(decimal.RequireFromString("0.04")))

	tier, ok = tiers.Match(5_000_000)
	assert.True(t, ok)
	assert.True(t, tier.Rate.Equal(decimal.RequireFromString("0.03")))

	_, ok = FeeTiers{{MinAmount: 10, Rate: decimal.NewFromInt(0)}}.Match(5)
	assert.False(t, ok)
	_, ok = FeeTiers(nil).Match(5)
	assert.False(t, ok)
}

func TestBatchAllocationsTotals(t *testing.T) {
	allocs := BatchAllocations{
		{BatchID: uuid.New(), Quantity: 5, UnitCost: 6, UnitPrice: 10},
		{BatchID: uuid.New(), Quantity: 2, UnitCost: 7, UnitPrice: 12},
	}
	assert.Equal(t, 7, allocs.TotalQuantity())
	assert.Equal(t, int64(44), allocs.TotalCost())
}

func TestAddressString(t *testing.T) {
	line2 := "Apt 4"
	addr := Address{Line1: "1 Main St", Line2: &line2, City: "Austin", State: "TX", PostalCode: "78701", Country: "US"}
	assert.Equal(t, "1 Main St, Apt 4, Austin, TX, 78701 US", addr.String())
}
