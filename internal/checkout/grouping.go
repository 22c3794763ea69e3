package checkout

import "github.com/google/uuid"

// mergeItems folds repeated products into one line, keeping first-seen order.
func mergeItems(items []ItemInput) []ItemInput {
	merged := make([]ItemInput, 0, len(items))
	index := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		if i, ok := index[item.ProductID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}
