package returns

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/internal/catalog"
	"github.com/angelmondragon/marketsettle-backend/internal/fees"
	"github.com/angelmondragon/marketsettle-backend/internal/inventory"
	"github.com/angelmondragon/marketsettle-backend/internal/ledger"
	"github.com/angelmondragon/marketsettle-backend/internal/orders"
	"github.com/angelmondragon/marketsettle-backend/internal/sellers"
	"github.com/angelmondragon/marketsettle-backend/internal/settlement"
	"github.com/angelmondragon/marketsettle-backend/pkg/config"
	"github.com/angelmondragon/marketsettle-backend/pkg/db"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
	"github.com/angelmondragon/marketsettle-backend/pkg/outbox"
)

const day = 24 * time.Hour

type returnsFixture struct {
	svc     *Service
	settler *settlement.Service
	conn    *gorm.DB
	seller  dbtest.Seller
	buyer   *models.Account
	admin   uuid.UUID
	now     time.Time
}

func newFixture(t *testing.T, sellerBalance, restockingFee int64) *returnsFixture {
	t.Helper()
	conn := dbtest.Open(t, "returns")
	logg := logger.New(logger.Options{ServiceName: "returns-test", Output: io.Discard})
	client := db.NewFromConn(conn)
	catalogRepo := catalog.NewRepository(conn)
	ordersRepo := orders.NewRepository(conn)
	events := outbox.NewService(outbox.NewRepository(conn), logg)
	f := &returnsFixture{conn: conn, admin: uuid.New(), now: time.Date(2026, 7, 20, 8, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	feeSvc, err := fees.NewService(fees.ServiceParams{Repository: fees.NewRepository(conn), DefaultRate: decimal.RequireFromString("0.05"), Now: clock})
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repository: ledger.NewRepository(conn),
		Accounts:   catalogRepo,
		DB:         client,
		Outbox:     events,
		Logger:     logg,
		Now:        clock,
	})
	require.NoError(t, err)
	resolver, err := sellers.NewResolver(catalogRepo)
	require.NoError(t, err)
	f.settler, err = settlement.NewService(settlement.ServiceParams{
		Config:     config.SettlementConfig{HoldingPeriod: 7 * day, SweepBatchSize: 10, SweepWorkers: 1},
		DB:         client,
		Repository: settlement.NewRepository(conn),
		Fees:       feeSvc,
		Ledger:     ledgerSvc,
		Sellers:    resolver,
		Outbox:     events,
		Logger:     logg,
		Now:        clock,
	})
	require.NoError(t, err)
	stock, err := inventory.NewService(inventory.ServiceParams{Repository: catalogRepo, Logger: logg})
	require.NoError(t, err)
	lifecycle, err := orders.NewService(orders.ServiceParams{
		Repository: ordersRepo,
		DB:         client,
		Outbox:     events,
		Settlement: f.settler,
		Ledger:     ledgerSvc,
		Inventory:  stock,
		Logger:     logg,
		Now:        clock,
	})
	require.NoError(t, err)

	f.svc, err = NewService(ServiceParams{
		Config:     config.ReturnsConfig{RestockingFee: restockingFee},
		DB:         client,
		Repository: NewRepository(conn),
		Orders:     ordersRepo,
		Lifecycle:  lifecycle,
		Accounts:   catalogRepo,
		Ledger:     ledgerSvc,
		Sellers:    resolver,
		Outbox:     events,
		Logger:     logg,
		Now:        clock,
	})
	require.NoError(t, err)
	f.seller = dbtest.MustCreateSeller(t, conn, sellerBalance, 1_000_000)
	f.buyer = dbtest.MustCreateAccount(t, conn, enums.AccountRoleBuyer, 0)
	return f
}

func (f *returnsFixture) deliveredOrder(t *testing.T, shippingFee int64) *models.Order {
	t.Helper()
	order := dbtest.MustCreateOrder(t, f.conn, f.buyer.ID, f.seller.Product.ID, 1, 1_000_000, enums.OrderStatusDelivered, f.now.Add(-10*day))
	if shippingFee > 0 {
		require.NoError(t, f.conn.Model(&models.Order{}).Where("id = ?", order.ID).Updates(map[string]any{
			"shipping_fee":   shippingFee,
			"final_amount":   order.Subtotal + shippingFee,
			"payment_amount": order.Subtotal + shippingFee,
		}).Error)
	}
	return order
}

func (f *returnsFixture) settle(t *testing.T, orderID uuid.UUID) {
	t.Helper()
	result, err := f.settler.SettleOrder(context.Background(), orderID)
	require.NoError(t, err)
	require.Equal(t, settlement.OutcomePaid, result.Outcome)
}

func (f *returnsFixture) balance(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	var account models.Account
	require.NoError(t, f.conn.First(&account, "id = ?", id).Error)
	return account.Balance
}

func (f *returnsFixture) order(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, f.conn.First(&order, "id = ?", id).Error)
	return order
}

func (f *returnsFixture) request(t *testing.T, orderID uuid.UUID) *models.ReturnRequest {
	t.Helper()
	request, err := f.svc.RequestReturn(context.Background(), RequestInput{
		OrderID:    orderID,
		BuyerID:    f.buyer.ID,
		Resolution: enums.ReturnResolutionRefund,
		Reason:     "  arrived damaged  ",
	})
	require.NoError(t, err)
	return request
}

func TestRequestReturnBlocksSettlement(t *testing.T) {
	f := newFixture(t, 0, 0)
	order := f.deliveredOrder(t, 0)

	request := f.request(t, order.ID)
	require.Equal(t, enums.ReturnStatusRequested, request.Status)
	require.Equal(t, "arrived damaged", request.Reason)
	require.Equal(t, int64(1_000_000), request.ItemsSubtotal)
	require.Len(t, request.Items, 1)

	stored := f.order(t, order.ID)
	require.True(t, stored.HasRefundRequest)
	require.Equal(t, request.ID, *stored.ReturnRequestID)

	result, err := f.settler.SettleOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, settlement.SkipRefundRequested, result.SkipReason)

	_, err = f.svc.RequestReturn(context.Background(), RequestInput{
		OrderID:    order.ID,
		BuyerID:    f.buyer.ID,
		Resolution: enums.ReturnResolutionRefund,
		Reason:     "again",
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeConflict))
}

func TestRequestReturnValidation(t *testing.T) {
	f := newFixture(t, 0, 0)
	shipped := dbtest.MustCreateOrder(t, f.conn, f.buyer.ID, f.seller.Product.ID, 1, 500, enums.OrderStatusShipped, f.now)

	_, err := f.svc.RequestReturn(context.Background(), RequestInput{OrderID: shipped.ID, BuyerID: f.buyer.ID, Resolution: enums.ReturnResolutionRefund, Reason: "late"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))

	order := f.deliveredOrder(t, 0)
	_, err = f.svc.RequestReturn(context.Background(), RequestInput{OrderID: order.ID, BuyerID: uuid.New(), Resolution: enums.ReturnResolutionRefund, Reason: "mine"})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	_, err = f.svc.RequestReturn(context.Background(), RequestInput{OrderID: order.ID, BuyerID: f.buyer.ID, Resolution: enums.ReturnResolutionRefund, Reason: "   "})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = f.svc.RequestReturn(context.Background(), RequestInput{
		OrderID:    order.ID,
		BuyerID:    f.buyer.ID,
		Resolution: enums.ReturnResolutionRefund,
		Reason:     "too many",
		Items:      []ItemInput{{LineItemID: order.Items[0].ID, Quantity: 2}},
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestApproveReturnClawsBackFromPaidSeller(t *testing.T) {
	f := newFixture(t, 100_000, 0)
	order := f.deliveredOrder(t, 0)
	f.settle(t, order.ID)
	require.Equal(t, int64(1_050_000), f.balance(t, f.seller.Account.ID))

	request := f.request(t, order.ID)
	outcome, err := f.svc.ApproveReturn(context.Background(), request.ID, f.admin)
	require.NoError(t, err)
	require.Equal(t, int64(1_000_000), outcome.RefundAmount)
	require.True(t, outcome.BuyerCredited)
	require.True(t, outcome.SellerWasPaid)
	require.NotNil(t, outcome.Clawback)
	require.Equal(t, int64(1_000_000), outcome.Clawback.Debited)
	require.Equal(t, int64(0), outcome.Clawback.Uncovered)
	require.Equal(t, enums.ReturnStatusApproved, outcome.Return.Status)
	require.Equal(t, outcome.Clawback.Entry.ID, *outcome.Return.ClawbackEntryID)
	require.Len(t, outcome.Return.History, 2)

	require.Equal(t, int64(50_000), f.balance(t, f.seller.Account.ID))
	require.Equal(t, int64(1_000_000), f.balance(t, f.buyer.ID))

	stored := f.order(t, order.ID)
	require.Equal(t, enums.OrderStatusRefunded, stored.Status)
	require.Equal(t, enums.PaymentStatusRefunded, stored.Payment.Status)

	var payment models.SellerLedgerEntry
	require.NoError(t, f.conn.First(&payment, "id = ?", *stored.Settlement.LedgerEntryID).Error)
	require.Equal(t, enums.LedgerEntryStatusCompleted, payment.Status)

	_, err = f.svc.ApproveReturn(context.Background(), request.ID, f.admin)
	require.Error(t, err)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
	require.Equal(t, int64(50_000), f.balance(t, f.seller.Account.ID))
	require.Equal(t, int64(1_000_000), f.balance(t, f.buyer.ID))
}

func TestApproveReturnClampsAndRecordsShortfall(t *testing.T) {
	f := newFixture(t, 0, 0)
	order := f.deliveredOrder(t, 0)
	f.settle(t, order.ID)

	request := f.request(t, order.ID)
	outcome, err := f.svc.ApproveReturn(context.Background(), request.ID, f.admin)
	require.NoError(t, err)
	require.Equal(t, int64(950_000), outcome.Clawback.Debited)
	require.Equal(t, int64(50_000), outcome.Clawback.Uncovered)
	require.NotNil(t, outcome.Clawback.Shortfall)
	require.Equal(t, enums.LedgerEntryStatusPending, outcome.Clawback.Shortfall.Status)
	require.Equal(t, int64(0), f.balance(t, f.seller.Account.ID))

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventSellerClawbackApplied).Count(&events).Error)
	require.Equal(t, int64(1), events)
}

func TestApproveReturnWithoutPayoutSkipsClawback(t *testing.T) {
	f := newFixture(t, 0, 20_000)
	order := f.deliveredOrder(t, 30_000)
	request := f.request(t, order.ID)

	outcome, err := f.svc.ApproveReturn(context.Background(), request.ID, f.admin)
	require.NoError(t, err)
	require.False(t, outcome.SellerWasPaid)
	require.Nil(t, outcome.Clawback)
	require.Equal(t, int64(950_000), outcome.RefundAmount)
	require.Equal(t, int64(30_000), outcome.Return.ShippingDeduction)
	require.Equal(t, int64(20_000), outcome.Return.RestockingFee)
	require.Equal(t, int64(950_000), f.balance(t, f.buyer.ID))
	require.Equal(t, int64(0), f.balance(t, f.seller.Account.ID))

	var entries int64
	require.NoError(t, f.conn.Model(&models.SellerLedgerEntry{}).Count(&entries).Error)
	require.Equal(t, int64(0), entries)
}

func TestRejectReturnLetsSettlementResume(t *testing.T) {
	f := newFixture(t, 0, 0)
	order := f.deliveredOrder(t, 0)
	request := f.request(t, order.ID)

	rejected, err := f.svc.RejectReturn(context.Background(), request.ID, f.admin, "no evidence of damage")
	require.NoError(t, err)
	require.Equal(t, enums.ReturnStatusRejected, rejected.Status)
	require.False(t, f.order(t, order.ID).HasRefundRequest)

	f.settle(t, order.ID)
	require.Equal(t, int64(950_000), f.balance(t, f.seller.Account.ID))

	_, err = f.svc.ApproveReturn(context.Background(), request.ID, f.admin)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))
}

func TestCancelReturnRequiresOwner(t *testing.T) {
	f := newFixture(t, 0, 0)
	order := f.deliveredOrder(t, 0)
	request := f.request(t, order.ID)

	_, err := f.svc.CancelReturn(context.Background(), request.ID, uuid.New())
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeForbidden))

	cancelled, err := f.svc.CancelReturn(context.Background(), request.ID, f.buyer.ID)
	require.NoError(t, err)
	require.Equal(t, enums.ReturnStatusCancelled, cancelled.Status)
	require.False(t, f.order(t, order.ID).HasRefundRequest)
}

func TestReturnBookkeepingTransitions(t *testing.T) {
	f := newFixture(t, 0, 0)
	order := f.deliveredOrder(t, 0)
	request := f.request(t, order.ID)

	_, err := f.svc.Complete(context.Background(), request.ID, &f.admin)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeStateConflict))

	_, err = f.svc.ApproveReturn(context.Background(), request.ID, f.admin)
	require.NoError(t, err)
	for _, step := range []func(context.Context, uuid.UUID, *uuid.UUID) (*models.ReturnRequest, error){
		f.svc.MarkItemReturned,
		f.svc.MarkRefunded,
		f.svc.Complete,
	} {
		_, err := step(context.Background(), request.ID, &f.admin)
		require.NoError(t, err)
	}
	final, err := f.svc.Get(context.Background(), request.ID)
	require.NoError(t, err)
	require.Equal(t, enums.ReturnStatusCompleted, final.Status)
	require.Len(t, final.History, 5)
}

func TestRefundAmountFloorsAtZero(t *testing.T) {
	require.Equal(t, int64(700), RefundAmount(1_000, 200, 100))
	require.Equal(t, int64(0), RefundAmount(100, 200, 0))
	require.Equal(t, int64(0), RefundAmount(300, 200, 100))
}
