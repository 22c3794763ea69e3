package models

// All lists every persisted model, in dependency order, for AutoMigrate.
func All() []any {
	return []any{
		&Account{},
		&Shop{},
		&Product{},
		&InventoryBatch{},
		&Order{},
		&OrderLineItem{},
		&SellerLedgerEntry{},
		&ReturnRequest{},
		&ReturnItem{},
		&ReturnStatusChange{},
		&PlatformFeeConfig{},
		&OutboxEvent{},
	}
}
