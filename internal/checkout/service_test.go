package checkout

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/internal/catalog"
	"github.com/angelmondragon/marketsettle-backend/internal/inventory"
	"github.com/angelmondragon/marketsettle-backend/internal/orders"
	"github.com/angelmondragon/marketsettle-backend/internal/sellers"
	"github.com/angelmondragon/marketsettle-backend/pkg/db"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
	"github.com/angelmondragon/marketsettle-backend/pkg/outbox"
)

var checkoutNow = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

type checkoutFixture struct {
	conn   *gorm.DB
	seller dbtest.Seller
	buyer  *models.Account
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	conn := dbtest.Open(t, "checkout")
	return &checkoutFixture{
		conn:   conn,
		seller: dbtest.MustCreateSeller(t, conn, 0, 1_500),
		buyer:  dbtest.MustCreateAccount(t, conn, enums.AccountRoleBuyer, 0),
	}
}

func (f *checkoutFixture) service(t *testing.T, limit bool) Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard})
	catalogRepo := catalog.NewRepository(f.conn)
	stock, err := inventory.NewService(inventory.ServiceParams{Repository: catalogRepo, Logger: logg})
	require.NoError(t, err)
	resolver, err := sellers.NewResolver(catalogRepo)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		DB:                   db.NewFromConn(f.conn),
		Accounts:             catalogRepo,
		Orders:               orders.NewRepository(f.conn),
		Inventory:            stock,
		Sellers:              resolver,
		Outbox:               outbox.NewService(outbox.NewRepository(f.conn), logg),
		Logger:               logg,
		Now:                  func() time.Time { return checkoutNow },
		EnforcePerOrderLimit: limit,
	})
	require.NoError(t, err)
	return svc
}

func (f *checkoutFixture) remaining(t *testing.T, batchID uuid.UUID) int {
	t.Helper()
	var batch models.InventoryBatch
	require.NoError(t, f.conn.First(&batch, "id = ?", batchID).Error)
	return batch.QuantityRemaining
}

func int64Ptr(v int64) *int64 { return &v }

func TestPlaceOrderAllocatesAcrossBatchesFIFO(t *testing.T) {
	f := newCheckoutFixture(t)
	older := dbtest.MustCreateBatch(t, f.conn, f.seller.Product.ID, 3, 800, int64Ptr(1_200), checkoutNow.Add(-48*time.Hour))
	newer := dbtest.MustCreateBatch(t, f.conn, f.seller.Product.ID, 10, 1_000, int64Ptr(1_200), checkoutNow.Add(-24*time.Hour))
	svc := f.service(t, false)

	order, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		BuyerID:       f.buyer.ID,
		Items:         []ItemInput{{ProductID: f.seller.Product.ID, Quantity: 2}, {ProductID: f.seller.Product.ID, Quantity: 3}},
		ShippingFee:   500,
		Tip:           100,
		PaymentMethod: enums.PaymentMethodCard,
	})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPending, order.Status)
	require.Len(t, order.Items, 1)

	line := order.Items[0]
	require.Equal(t, 5, line.Quantity)
	require.Equal(t, int64(1_200), line.UnitPrice)
	require.Equal(t, int64(880), line.UnitCost)
	require.Equal(t, int64(6_000), line.LineTotal)
	require.Len(t, line.Allocations, 2)
	require.Equal(t, older.ID, line.Allocations[0].BatchID)
	require.Equal(t, 3, line.Allocations[0].Quantity)
	require.Equal(t, newer.ID, line.Allocations[1].BatchID)
	require.Equal(t, 2, line.Allocations[1].Quantity)

	require.Equal(t, int64(6_000), order.Subtotal)
	require.Equal(t, int64(6_600), order.FinalAmount)
	require.Equal(t, order.FinalAmount, order.Payment.Amount)
	require.NoError(t, order.ValidateTotals())
	require.Contains(t, order.OrderNumber, "ORD-20260302-")

	require.Equal(t, 0, f.remaining(t, older.ID))
	require.Equal(t, 8, f.remaining(t, newer.ID))

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventOrderCreated).Count(&events).Error)
	require.Equal(t, int64(1), events)
}

func TestPlaceOrderRejectsLineAcrossBatchPrices(t *testing.T) {
	f := newCheckoutFixture(t)
	older := dbtest.MustCreateBatch(t, f.conn, f.seller.Product.ID, 3, 800, int64Ptr(1_200), checkoutNow.Add(-48*time.Hour))
	newer := dbtest.MustCreateBatch(t, f.conn, f.seller.Product.ID, 10, 1_000, int64Ptr(1_400), checkoutNow.Add(-24*time.Hour))
	svc := f.service(t, false)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		BuyerID:       f.buyer.ID,
		Items:         []ItemInput{{ProductID: f.seller.Product.ID, Quantity: 5}},
		PaymentMethod: enums.PaymentMethodCard,
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientInventory))
	require.Equal(t, 3, f.remaining(t, older.ID))
	require.Equal(t, 10, f.remaining(t, newer.ID))

	var count int64
	require.NoError(t, f.conn.Model(&models.Order{}).Count(&count).Error)
	require.Equal(t, int64(0), count)
}

func TestPlaceOrderInsufficientStockRollsBack(t *testing.T) {
	f := newCheckoutFixture(t)
	batch := dbtest.MustCreateBatch(t, f.conn, f.seller.Product.ID, 4, 800, nil, checkoutNow.Add(-time.Hour))
	svc := f.service(t, false)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		BuyerID:       f.buyer.ID,
		Items:         []ItemInput{{ProductID: f.seller.Product.ID, Quantity: 5}},
		PaymentMethod: enums.PaymentMethodWallet,
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientInventory))
	require.Equal(t, 4, f.remaining(t, batch.ID))

	var count int64
	require.NoError(t, f.conn.Model(&models.Order{}).Count(&count).Error)
	require.Equal(t, int64(0), count)
}

func TestPlaceOrderEnforcesPerOrderLimit(t *testing.T) {
	f := newCheckoutFixture(t)
	dbtest.MustCreateBatch(t, f.conn, f.seller.Product.ID, 2, 800, nil, checkoutNow.Add(-48*time.Hour))
	dbtest.MustCreateBatch(t, f.conn, f.seller.Product.ID, 5, 800, nil, checkoutNow.Add(-24*time.Hour))
	svc := f.service(t, true)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		BuyerID:       f.buyer.ID,
		Items:         []ItemInput{{ProductID: f.seller.Product.ID, Quantity: 3}},
		PaymentMethod: enums.PaymentMethodCard,
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	order, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		BuyerID:       f.buyer.ID,
		Items:         []ItemInput{{ProductID: f.seller.Product.ID, Quantity: 2}},
		PaymentMethod: enums.PaymentMethodCard,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1_500), order.Items[0].UnitPrice)
}

func TestPlaceOrderRejectsMixedShops(t *testing.T) {
	f := newCheckoutFixture(t)
	other := dbtest.MustCreateSeller(t, f.conn, 0, 900)
	dbtest.MustCreateBatch(t, f.conn, f.seller.Product.ID, 5, 800, nil, checkoutNow)
	dbtest.MustCreateBatch(t, f.conn, other.Product.ID, 5, 500, nil, checkoutNow)
	svc := f.service(t, false)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		BuyerID:       f.buyer.ID,
		Items:         []ItemInput{{ProductID: f.seller.Product.ID, Quantity: 1}, {ProductID: other.Product.ID, Quantity: 1}},
		PaymentMethod: enums.PaymentMethodCard,
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestPlaceOrderValidatesInput(t *testing.T) {
	f := newCheckoutFixture(t)
	svc := f.service(t, false)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		BuyerID:       f.buyer.ID,
		Items:         []ItemInput{{ProductID: f.seller.Product.ID, Quantity: 0}},
		ShippingFee:   -1,
		PaymentMethod: enums.PaymentMethodCard,
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	require.Contains(t, details, "PlaceOrderInput.items[0].quantity")
	require.Contains(t, details, "PlaceOrderInput.shipping_fee")

	_, err = svc.PlaceOrder(context.Background(), PlaceOrderInput{
		BuyerID:       f.buyer.ID,
		Items:         []ItemInput{{ProductID: f.seller.Product.ID, Quantity: 1}},
		PaymentMethod: "barter",
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestPlaceOrderRequiresBuyerAccount(t *testing.T) {
	f := newCheckoutFixture(t)
	dbtest.MustCreateBatch(t, f.conn, f.seller.Product.ID, 5, 800, nil, checkoutNow)
	svc := f.service(t, false)

	_, err := svc.PlaceOrder(context.Background(), PlaceOrderInput{
		BuyerID:       f.seller.Account.ID,
		Items:         []ItemInput{{ProductID: f.seller.Product.ID, Quantity: 1}},
		PaymentMethod: enums.PaymentMethodCard,
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))
}

func TestMergeItemsKeepsFirstSeenOrder(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	merged := mergeItems([]ItemInput{{ProductID: a, Quantity: 1}, {ProductID: b, Quantity: 2}, {ProductID: a, Quantity: 4}})
	require.Equal(t, []ItemInput{{ProductID: a, Quantity: 5}, {ProductID: b, Quantity: 2}}, merged)
}
