// Package dbtest opens migrated in-memory databases and seeds fixtures for
// repository and service tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
)

// Open returns a fresh shared-cache sqlite database with every model migrated.
func Open(t testing.TB, name string) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_busy_timeout=5000", name, uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return conn
}

func MustCreateAccount(t testing.TB, db *gorm.DB, role enums.AccountRole, balance int64) *models.Account {
	t.Helper()
	account := &models.Account{
		Role:        role,
		Email:       fmt.Sprintf("%s_%s@example.com", role, uuid.NewString()),
		DisplayName: fmt.Sprintf("Test %s", role),
		Balance:     balance,
	}
	if err := db.Create(account).Error; err != nil {
		t.Fatalf("create account: %v", err)
	}
	return account
}

func MustCreateShop(t testing.TB, db *gorm.DB, ownerID uuid.UUID) *models.Shop {
	t.Helper()
	shop := &models.Shop{OwnerID: ownerID, Name: "Test Shop", IsActive: true}
	if err := db.Create(shop).Error; err != nil {
		t.Fatalf("create shop: %v", err)
	}
	return shop
}

func MustCreateProduct(t testing.TB, db *gorm.DB, shopID uuid.UUID, basePrice int64) *models.Product {
	t.Helper()
	product := &models.Product{ShopID: shopID, Name: "Test Product", BasePrice: basePrice, IsActive: true}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}

func MustCreateBatch(t testing.TB, db *gorm.DB, productID uuid.UUID, qty int, cost int64, price *int64, receivedAt time.Time) *models.InventoryBatch {
	t.Helper()
	batch := &models.InventoryBatch{
		ProductID:         productID,
		BatchNumber:       fmt.Sprintf("B-%s", uuid.NewString()[:8]),
		QuantityReceived:  qty,
		QuantityRemaining: qty,
		CostPrice:         cost,
		SellingPrice:      price,
		ReceivedAt:        receivedAt,
	}
	if err := db.Create(batch).Error; err != nil {
		t.Fatalf("create batch: %v", err)
	}
	return batch
}

// Seller bundles a seller account with its shop and one product.
type Seller struct {
	Account *models.Account
	Shop    *models.Shop
	Product *models.Product
}

func MustCreateSeller(t testing.TB, db *gorm.DB, balance, basePrice int64) Seller {
	t.Helper()
	account := MustCreateAccount(t, db, enums.AccountRoleSeller, balance)
	shop := MustCreateShop(t, db, account.ID)
	product := MustCreateProduct(t, db, shop.ID, basePrice)
	return Seller{Account: account, Shop: shop, Product: product}
}

// MustCreateOrder inserts a single-line order for product in the given status.
func MustCreateOrder(t testing.TB, db *gorm.DB, buyerID, productID uuid.UUID, qty int, unitPrice int64, status enums.OrderStatus, createdAt time.Time) *models.Order {
	t.Helper()
	lineTotal := unitPrice * int64(qty)
	order := &models.Order{
		OrderNumber: fmt.Sprintf("ORD-%s", uuid.NewString()[:12]),
		BuyerID:     buyerID,
		Status:      status,
		Subtotal:    lineTotal,
		FinalAmount: lineTotal,
		Payment: models.OrderPayment{
			Method: enums.PaymentMethodCard,
			Status: enums.PaymentStatusPending,
			Amount: lineTotal,
		},
		Items: []models.OrderLineItem{{
			ProductID:   productID,
			ProductName: "Test Product",
			Quantity:    qty,
			UnitPrice:   unitPrice,
			LineTotal:   lineTotal,
		}},
		CreatedAt: createdAt,
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}
