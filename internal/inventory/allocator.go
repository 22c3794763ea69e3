package inventory

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
	"github.com/angelmondragon/marketsettle-backend/pkg/types"
)

// Quote is the display view of a product's stock.
type Quote struct {
	Available           int   `json:"available"`
	UnitPrice           int64 `json:"unit_price"`
	UnitCost            int64 `json:"unit_cost"`
	MaxQuantityPerOrder int   `json:"max_quantity_per_order"`
}

// Allocation is the result of consuming stock for one order line.
type Allocation struct {
	ProductName string
	Allocations types.BatchAllocations
	UnitPrice   int64
	UnitCost    int64
	// Remaining holds the new remaining quantity of every touched batch.
	Remaining map[uuid.UUID]int
}

func fifoOrder(batches []models.InventoryBatch) []models.InventoryBatch {
	sorted := make([]models.InventoryBatch, len(batches))
	copy(sorted, batches)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ReceivedAt.Equal(sorted[j].ReceivedAt) {
			return sorted[i].ReceivedAt.Before(sorted[j].ReceivedAt)
		}
		return sorted[i].ID.String() < sorted[j].ID.String()
	})
	return sorted
}

func batchPrice(batch models.InventoryBatch, basePrice int64) int64 {
	if batch.SellingPrice != nil {
		return *batch.SellingPrice
	}
	return basePrice
}

func available(batches []models.InventoryBatch) int {
	total := 0
	for _, batch := range batches {
		if batch.QuantityRemaining > 0 {
			total += batch.QuantityRemaining
		}
	}
	return total
}

// QuoteBatches prices a product from its oldest non-empty batch.
func QuoteBatches(batches []models.InventoryBatch, basePrice int64) (*Quote, error) {
	for _, batch := range fifoOrder(batches) {
		if batch.QuantityRemaining <= 0 {
			continue
		}
		return &Quote{
			Available:           available(batches),
			UnitPrice:           batchPrice(batch, basePrice),
			UnitCost:            batch.CostPrice,
			MaxQuantityPerOrder: batch.QuantityRemaining,
		}, nil
	}
	return nil, pkgerrors.New(pkgerrors.CodeInsufficientInventory, "product is out of stock").
		WithDetails(map[string]any{"requested": 0, "available": 0})
}

// PricedQuantity counts the leading allocated units sold at the line's unit
// price. It is below the allocated total when the line crosses into a batch
// with a different selling price.
func (a *Allocation) PricedQuantity() int {
	total := 0
	for _, alloc := range a.Allocations {
		if alloc.UnitPrice != a.UnitPrice {
			break
		}
		total += alloc.Quantity
	}
	return total
}

// Allocate consumes qty units oldest batch first. It does not mutate batches.
// The line is priced at the oldest consumed batch; its cost is the
// quantity-weighted cost of everything consumed, rounded half-up.
func Allocate(batches []models.InventoryBatch, qty int, basePrice int64) (*Allocation, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if avail := available(batches); avail < qty {
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientInventory, "insufficient inventory").
			WithDetails(map[string]any{"requested": qty, "available": avail})
	}

	result := &Allocation{Remaining: map[uuid.UUID]int{}}
	need := qty
	for _, batch := range fifoOrder(batches) {
		if need == 0 {
			break
		}
		if batch.QuantityRemaining <= 0 {
			continue
		}
		take := batch.QuantityRemaining
		if take > need {
			take = need
		}
		result.Allocations = append(result.Allocations, types.BatchAllocation{
			BatchID:   batch.ID,
			Quantity:  take,
			UnitCost:  batch.CostPrice,
			UnitPrice: batchPrice(batch, basePrice),
		})
		result.Remaining[batch.ID] = batch.QuantityRemaining - take
		need -= take
	}

	result.UnitPrice = result.Allocations[0].UnitPrice
	result.UnitCost = decimal.NewFromInt(result.Allocations.TotalCost()).
		Div(decimal.NewFromInt(int64(qty))).
		Round(0).
		IntPart()
	return result, nil
}
