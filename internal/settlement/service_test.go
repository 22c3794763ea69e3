package settlement

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketsettle-backend/internal/catalog"
	"github.com/angelmondragon/marketsettle-backend/internal/fees"
	"github.com/angelmondragon/marketsettle-backend/internal/ledger"
	"github.com/angelmondragon/marketsettle-backend/internal/sellers"
	"github.com/angelmondragon/marketsettle-backend/pkg/config"
	"github.com/angelmondragon/marketsettle-backend/pkg/db"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/dbtest"
	"github.com/angelmondragon/marketsettle-backend/pkg/db/models"
	"github.com/angelmondragon/marketsettle-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketsettle-backend/pkg/errors"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
	"github.com/angelmondragon/marketsettle-backend/pkg/outbox"
)

var testNow = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "settlement-test", Output: io.Discard})
}

func testConfig() config.SettlementConfig {
	return config.SettlementConfig{
		HoldingPeriod:  7 * 24 * time.Hour,
		SweepBatchSize: 50,
		SweepWorkers:   1,
		DefaultFeeRate: "0.05",
	}
}

type settlementFixture struct {
	svc    *Service
	conn   *gorm.DB
	seller dbtest.Seller
	buyer  *models.Account
	now    time.Time
}

func newFixture(t *testing.T) *settlementFixture {
	t.Helper()
	conn := dbtest.Open(t, "settlement")
	logg := testLogger()
	client := db.NewFromConn(conn)
	accounts := catalog.NewRepository(conn)
	events := outbox.NewService(outbox.NewRepository(conn), logg)
	f := &settlementFixture{conn: conn, now: testNow}
	clock := func() time.Time { return f.now }

	feeSvc, err := fees.NewService(fees.ServiceParams{
		Repository:  fees.NewRepository(conn),
		DefaultRate: decimal.RequireFromString("0.05"),
		Now:         clock,
	})
	require.NoError(t, err)
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repository: ledger.NewRepository(conn),
		Accounts:   accounts,
		DB:         client,
		Outbox:     events,
		Logger:     logg,
		Now:        clock,
	})
	require.NoError(t, err)
	resolver, err := sellers.NewResolver(accounts)
	require.NoError(t, err)

	f.svc, err = NewService(ServiceParams{
		Config:     testConfig(),
		DB:         client,
		Repository: NewRepository(conn),
		Fees:       feeSvc,
		Ledger:     ledgerSvc,
		Sellers:    resolver,
		Outbox:     events,
		Logger:     logg,
		Now:        clock,
	})
	require.NoError(t, err)
	f.seller = dbtest.MustCreateSeller(t, conn, 0, 1_000_000)
	f.buyer = dbtest.MustCreateAccount(t, conn, enums.AccountRoleBuyer, 0)
	return f
}

func (f *settlementFixture) order(t *testing.T, status enums.OrderStatus, age time.Duration) *models.Order {
	t.Helper()
	return dbtest.MustCreateOrder(t, f.conn, f.buyer.ID, f.seller.Product.ID, 1, 1_000_000, status, f.now.Add(-age))
}

func (f *settlementFixture) balance(t *testing.T) int64 {
	t.Helper()
	var account models.Account
	require.NoError(t, f.conn.First(&account, "id = ?", f.seller.Account.ID).Error)
	return account.Balance
}

func (f *settlementFixture) reload(t *testing.T, id uuid.UUID) models.Order {
	t.Helper()
	var order models.Order
	require.NoError(t, f.conn.First(&order, "id = ?", id).Error)
	return order
}

func TestSettleOrderPaysNetOfDefaultFee(t *testing.T) {
	f := newFixture(t)
	order := f.order(t, enums.OrderStatusDelivered, 10*24*time.Hour)

	result, err := f.svc.SettleOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, result.Outcome)
	require.Equal(t, int64(50_000), result.Split.FeeAmount)
	require.Equal(t, int64(950_000), result.Split.NetAmount)
	require.NotNil(t, result.LedgerEntryID)
	require.Equal(t, int64(950_000), f.balance(t))

	stored := f.reload(t, order.ID)
	require.True(t, stored.Settlement.IsPaid)
	require.Equal(t, int64(50_000), stored.Settlement.FeeAmount)
	require.Equal(t, int64(950_000), stored.Settlement.NetAmount)
	require.Equal(t, *result.LedgerEntryID, *stored.Settlement.LedgerEntryID)
	require.WithinDuration(t, f.now, stored.UpdatedAt, time.Second)

	var entry models.SellerLedgerEntry
	require.NoError(t, f.conn.First(&entry, "id = ?", *result.LedgerEntryID).Error)
	require.Equal(t, enums.LedgerEntryOrderPayment, entry.Type)
	require.Equal(t, int64(1_000_000), entry.Gross)
	require.Equal(t, int64(50_000), entry.PlatformFee)

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", enums.EventOrderSettled, order.ID).
		Count(&events).Error)
	require.Equal(t, int64(1), events)
}

func TestSettleOrderIsIdempotent(t *testing.T) {
	f := newFixture(t)
	order := f.order(t, enums.OrderStatusDelivered, 8*24*time.Hour)

	first, err := f.svc.SettleOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomePaid, first.Outcome)

	second, err := f.svc.SettleOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeAlreadyPaid, second.Outcome)
	require.True(t, pkgerrors.Is(second.Err(), pkgerrors.CodeAlreadyPaid))

	require.Equal(t, int64(950_000), f.balance(t))
	var entries int64
	require.NoError(t, f.conn.Model(&models.SellerLedgerEntry{}).Where("order_id = ?", order.ID).Count(&entries).Error)
	require.Equal(t, int64(1), entries)
}

func TestSettleOrderSkipsIneligibleOrders(t *testing.T) {
	f := newFixture(t)

	shipped := f.order(t, enums.OrderStatusShipped, 10*24*time.Hour)
	result, err := f.svc.SettleOrder(context.Background(), shipped.ID)
	require.NoError(t, err)
	require.Equal(t, SkipNotDelivered, result.SkipReason)
	require.True(t, pkgerrors.Is(result.Err(), pkgerrors.CodeStateConflict))

	young := f.order(t, enums.OrderStatusDelivered, 2*24*time.Hour)
	result, err = f.svc.SettleOrder(context.Background(), young.ID)
	require.NoError(t, err)
	require.Equal(t, SkipHoldingPeriod, result.SkipReason)

	disputed := f.order(t, enums.OrderStatusDelivered, 10*24*time.Hour)
	require.NoError(t, f.conn.Model(&models.Order{}).Where("id = ?", disputed.ID).Update("has_refund_request", true).Error)
	result, err = f.svc.SettleOrder(context.Background(), disputed.ID)
	require.NoError(t, err)
	require.Equal(t, SkipRefundRequested, result.SkipReason)
	require.True(t, pkgerrors.Is(result.Err(), pkgerrors.CodeRefundBlocksSettlement))

	require.Equal(t, int64(0), f.balance(t))
}

func TestSettleOrderSkipsOrdersWithActiveReturn(t *testing.T) {
	f := newFixture(t)
	order := f.order(t, enums.OrderStatusDelivered, 10*24*time.Hour)
	require.NoError(t, f.conn.Create(&models.ReturnRequest{
		OrderID:    order.ID,
		BuyerID:    f.buyer.ID,
		Resolution: enums.ReturnResolutionRefund,
		Status:     enums.ReturnStatusRequested,
		Reason:     "damaged",
	}).Error)

	result, err := f.svc.SettleOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, SkipRefundRequested, result.SkipReason)
	require.False(t, f.reload(t, order.ID).Settlement.IsPaid)
}

func TestSettleOrderUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SettleOrder(context.Background(), uuid.New())
	require.Error(t, err)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestSettleOrderUsesSellerFeeConfig(t *testing.T) {
	f := newFixture(t)
	sellerID := f.seller.Account.ID
	require.NoError(t, f.conn.Create(&models.PlatformFeeConfig{
		Name:     "reduced",
		Scope:    enums.FeeScopeSeller,
		SellerID: &sellerID,
		FeeType:  enums.FeeTypePercentage,
		Rate:     decimal.RequireFromString("0.025"),
		IsActive: true,
	}).Error)
	order := f.order(t, enums.OrderStatusDelivered, 10*24*time.Hour)

	result, err := f.svc.SettleOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, int64(25_000), result.Split.FeeAmount)
	require.Equal(t, int64(975_000), result.Split.NetAmount)
	require.NotNil(t, result.Split.ConfigID)
}

func TestSettleInstantRollsBackOnlyTheSavepoint(t *testing.T) {
	f := newFixture(t)
	order := f.order(t, enums.OrderStatusDelivered, 10*24*time.Hour)
	client := db.NewFromConn(f.conn)

	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		result, err := f.svc.SettleInstant(context.Background(), tx, order.ID)
		require.NoError(t, err)
		require.Equal(t, PathInstant, result.Path)
		require.Equal(t, OutcomePaid, result.Outcome)

		_, err = f.svc.SettleInstant(context.Background(), tx, uuid.New())
		require.Error(t, err)
		return nil
	})
	require.NoError(t, err)
	require.True(t, f.reload(t, order.ID).Settlement.IsPaid)
	require.Equal(t, int64(950_000), f.balance(t))
}

func TestSweepDefersThenPaysAfterHoldingPeriod(t *testing.T) {
	f := newFixture(t)
	order := f.order(t, enums.OrderStatusDelivered, 2*24*time.Hour)

	report, err := f.svc.RunSweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, report.Eligible)
	require.False(t, f.reload(t, order.ID).Settlement.IsPaid)

	f.now = f.now.Add(6 * 24 * time.Hour)
	report, err = f.svc.RunSweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Eligible)
	require.Equal(t, 1, report.Paid)
	require.False(t, report.Interrupted)
	require.True(t, f.reload(t, order.ID).Settlement.IsPaid)
	require.Equal(t, int64(950_000), f.balance(t))

	report, err = f.svc.RunSweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, report.Eligible)
}

func TestSweepSkipsRefundRequestedAndUndelivered(t *testing.T) {
	f := newFixture(t)
	paid := f.order(t, enums.OrderStatusDelivered, 9*24*time.Hour)
	disputed := f.order(t, enums.OrderStatusDelivered, 9*24*time.Hour)
	require.NoError(t, f.conn.Model(&models.Order{}).Where("id = ?", disputed.ID).Update("has_refund_request", true).Error)
	f.order(t, enums.OrderStatusShipped, 9*24*time.Hour)

	report, err := f.svc.RunSweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Eligible)
	require.Equal(t, 1, report.Paid)
	require.Equal(t, paid.ID, report.Outcomes[0].OrderID)
	require.False(t, f.reload(t, disputed.ID).Settlement.IsPaid)
}

func TestSweepStopsDispatchOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	f.order(t, enums.OrderStatusDelivered, 9*24*time.Hour)
	f.order(t, enums.OrderStatusDelivered, 9*24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := f.svc.RunSweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, report.Eligible)
	require.Equal(t, 0, report.Processed)
	require.True(t, report.Interrupted)
	require.Equal(t, int64(0), f.balance(t))
}

func TestConcurrentSettlementPaysOnce(t *testing.T) {
	orderID := uuid.New()
	repo := &fakeRepo{order: models.Order{
		ID:          orderID,
		Status:      enums.OrderStatusDelivered,
		FinalAmount: 10_000,
		CreatedAt:   testNow.Add(-30 * 24 * time.Hour),
	}}
	credits := &fakeLedger{}
	svc, err := NewService(ServiceParams{
		Config:     testConfig(),
		DB:         fakeTx{},
		Repository: repo,
		Fees:       fakeFees{},
		Ledger:     credits,
		Sellers:    fakeSellers{},
		Outbox:     &fakeOutbox{},
		Logger:     testLogger(),
		Now:        func() time.Time { return testNow },
	})
	require.NoError(t, err)

	const callers = 16
	results := make([]*Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.SettleOrder(context.Background(), orderID)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	paid, already := 0, 0
	for _, result := range results {
		switch result.Outcome {
		case OutcomePaid:
			paid++
		case OutcomeAlreadyPaid:
			already++
		}
	}
	require.Equal(t, 1, paid)
	require.Equal(t, callers-1, already)
	require.Equal(t, 1, credits.count())
}

func TestSettleTxSkipsUnresolvableSeller(t *testing.T) {
	repo := &fakeRepo{order: models.Order{
		ID:          uuid.New(),
		Status:      enums.OrderStatusDelivered,
		FinalAmount: 10_000,
		CreatedAt:   testNow.Add(-30 * 24 * time.Hour),
	}}
	svc, err := NewService(ServiceParams{
		Config:     testConfig(),
		DB:         fakeTx{},
		Repository: repo,
		Fees:       fakeFees{},
		Ledger:     &fakeLedger{},
		Sellers:    fakeSellers{err: pkgerrors.New(pkgerrors.CodeDataIntegrity, "shop owner missing")},
		Outbox:     &fakeOutbox{},
		Logger:     testLogger(),
		Now:        func() time.Time { return testNow },
	})
	require.NoError(t, err)

	result, err := svc.SettleOrder(context.Background(), repo.order.ID)
	require.NoError(t, err)
	require.Equal(t, SkipDataIntegrity, result.SkipReason)
	require.True(t, pkgerrors.Is(result.Err(), pkgerrors.CodeDataIntegrity))
	require.False(t, repo.order.Settlement.IsPaid)
}

func TestSettleOrderRecordsFailureStreak(t *testing.T) {
	repo := &fakeRepo{order: models.Order{
		ID:          uuid.New(),
		Status:      enums.OrderStatusDelivered,
		FinalAmount: 10_000,
		CreatedAt:   testNow.Add(-30 * 24 * time.Hour),
	}}
	store := newFakeCounters()
	svc, err := NewService(ServiceParams{
		Config:     testConfig(),
		DB:         fakeTx{},
		Repository: repo,
		Fees:       fakeFees{err: errors.New("connection reset")},
		Ledger:     &fakeLedger{},
		Sellers:    fakeSellers{},
		Outbox:     &fakeOutbox{},
		Failures:   NewFailureTracker(store, 2, time.Hour, testLogger(), nil),
		Logger:     testLogger(),
		Now:        func() time.Time { return testNow },
	})
	require.NoError(t, err)

	for range 3 {
		_, err := svc.SettleOrder(context.Background(), repo.order.ID)
		require.Error(t, err)
	}
	require.Equal(t, int64(3), store.value(repo.order.ID))
}

type fakeRepo struct {
	mu    sync.Mutex
	order models.Order
}

func (f *fakeRepo) WithTx(*gorm.DB) Repository { return f }

func (f *fakeRepo) LockOrder(_ context.Context, id uuid.UUID) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id != f.order.ID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	order := f.order
	return &order, nil
}

func (f *fakeRepo) HasActiveReturn(context.Context, uuid.UUID) (bool, error) { return false, nil }

func (f *fakeRepo) ClaimSettlement(context.Context, uuid.UUID, time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.order.Settlement.IsPaid {
		return false, nil
	}
	f.order.Settlement.IsPaid = true
	return true, nil
}

func (f *fakeRepo) SaveSettlement(_ context.Context, _ uuid.UUID, settlement models.OrderSettlement, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order.Settlement = settlement
	return nil
}

func (f *fakeRepo) ListEligible(context.Context, time.Time, int) ([]uuid.UUID, error) {
	return []uuid.UUID{f.order.ID}, nil
}

type fakeTx struct{}

func (fakeTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

type fakeFees struct {
	err error
}

func (f fakeFees) Resolve(_ context.Context, _ *gorm.DB, _ fees.Scope, amount int64) (*fees.Split, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fees.Split{Gross: amount, FeeAmount: amount / 20, NetAmount: amount - amount/20, FeeRate: decimal.RequireFromString("0.05")}, nil
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []ledger.EntryInput
}

func (f *fakeLedger) Credit(_ context.Context, _ *gorm.DB, input ledger.EntryInput) (*models.SellerLedgerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, input)
	return &models.SellerLedgerEntry{ID: uuid.New(), Type: input.Type, Net: input.Amount}, nil
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

type fakeSellers struct {
	err error
}

func (f fakeSellers) ResolveOrder(context.Context, *gorm.DB, *models.Order) (*sellers.Seller, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &sellers.Seller{SellerID: uuid.New(), ShopID: uuid.New()}, nil
}

type fakeOutbox struct {
	mu     sync.Mutex
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}
