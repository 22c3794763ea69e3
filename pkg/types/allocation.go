package types

import "github.com/google/uuid"

// BatchAllocation records how many units of an order line came from one
// inventory batch and at what price and cost.
type BatchAllocation struct {
	BatchID   uuid.UUID `json:"batch_id"`
	Quantity  int       `json:"quantity"`
	UnitCost  int64     `json:"unit_cost"`
	UnitPrice int64     `json:"unit_price"`
}

// BatchAllocations is stored as JSON on order line items.
type BatchAllocations []BatchAllocation

// TotalQuantity sums allocated units.
func (a BatchAllocations) TotalQuantity() int {
	total := 0
	for _, alloc := range a {
		total += alloc.Quantity
	}
	return total
}

// TotalCost sums unit cost times quantity across allocations.
func (a BatchAllocations) TotalCost() int64 {
	var total int64
	for _, alloc := range a {
		total += alloc.UnitCost * int64(alloc.Quantity)
	}
	return total
}
