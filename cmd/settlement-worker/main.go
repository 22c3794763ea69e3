package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/marketsettle-backend/api/controllers"
	"github.com/angelmondragon/marketsettle-backend/api/routes"
	"github.com/angelmondragon/marketsettle-backend/internal/catalog"
	"github.com/angelmondragon/marketsettle-backend/internal/checkout"
	"github.com/angelmondragon/marketsettle-backend/internal/cron"
	"github.com/angelmondragon/marketsettle-backend/internal/fees"
	"github.com/angelmondragon/marketsettle-backend/internal/inventory"
	"github.com/angelmondragon/marketsettle-backend/internal/ledger"
	"github.com/angelmondragon/marketsettle-backend/internal/orders"
	"github.com/angelmondragon/marketsettle-backend/internal/returns"
	"github.com/angelmondragon/marketsettle-backend/internal/sellers"
	"github.com/angelmondragon/marketsettle-backend/internal/settlement"
	"github.com/angelmondragon/marketsettle-backend/pkg/config"
	"github.com/angelmondragon/marketsettle-backend/pkg/db"
	"github.com/angelmondragon/marketsettle-backend/pkg/instance"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
	"github.com/angelmondragon/marketsettle-backend/pkg/metrics"
	"github.com/angelmondragon/marketsettle-backend/pkg/migrate"
	"github.com/angelmondragon/marketsettle-backend/pkg/outbox"
	"github.com/angelmondragon/marketsettle-backend/pkg/redis"
)

const (
	serviceKind     = "settlement-worker"
	shutdownTimeout = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceKind})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	w, err := wire(cfg, logg, dbClient, redisClient, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to wire settlement worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID(),
	})

	server := &http.Server{
		Addr: net.JoinHostPort("", cfg.Ops.Port),
		Handler: routes.NewOpsRouter(cfg, logg, routes.OpsDeps{
			Gatherer:   prometheus.DefaultGatherer,
			Ready:      map[string]controllers.Pinger{"database": dbClient, "redis": redisClient},
			Scheduler:  w.scheduler,
			Settlement: w.settlement,
			Ledger:     w.ledger,
			Checkout:   w.checkout,
			Orders:     w.lifecycle,
			Returns:    w.returns,
			Inventory:  w.inventory,
			Fees:       w.fees,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logg.Info(logg.WithField(groupCtx, "addr", server.Addr), "ops server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		logg.Info(groupCtx, "starting settlement scheduler")
		return w.scheduler.Run(groupCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "settlement worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "settlement worker shutting down gracefully")
}

type worker struct {
	scheduler  *cron.Service
	settlement *settlement.Service
	ledger     *ledger.Service
	checkout   checkout.Service
	lifecycle  orders.Service
	returns    *returns.Service
	inventory  *inventory.Service
	fees       *fees.Service
}

func wire(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*worker, error) {
	conn := dbClient.DB()
	settlementMetrics := metrics.NewSettlementMetrics(reg)
	cronMetrics := metrics.NewCronJobMetrics(reg)

	catalogRepo := catalog.NewRepository(conn)
	ordersRepo := orders.NewRepository(conn)
	outboxRepo := outbox.NewRepository(conn)
	events := outbox.NewService(outboxRepo, logg)

	feeService, err := fees.NewService(fees.ServiceParams{
		Repository:  fees.NewRepository(conn),
		DefaultRate: cfg.Settlement.FeeRate(),
	})
	if err != nil {
		return nil, err
	}
	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repository: ledger.NewRepository(conn),
		Accounts:   catalogRepo,
		DB:         dbClient,
		Outbox:     events,
		Logger:     logg,
		Metrics:    settlementMetrics,
	})
	if err != nil {
		return nil, err
	}
	resolver, err := sellers.NewResolver(catalogRepo)
	if err != nil {
		return nil, err
	}
	settlementService, err := settlement.NewService(settlement.ServiceParams{
		Config:     cfg.Settlement,
		DB:         dbClient,
		Repository: settlement.NewRepository(conn),
		Fees:       feeService,
		Ledger:     ledgerService,
		Sellers:    resolver,
		Outbox:     events,
		Failures:   settlement.NewFailureTracker(redisClient, cfg.Settlement.FailureAlertThreshold, cfg.Settlement.FailureWindow, logg, settlementMetrics),
		Metrics:    settlementMetrics,
		Logger:     logg,
	})
	if err != nil {
		return nil, err
	}
	stock, err := inventory.NewService(inventory.ServiceParams{Repository: catalogRepo, Logger: logg})
	if err != nil {
		return nil, err
	}
	lifecycle, err := orders.NewService(orders.ServiceParams{
		Repository: ordersRepo,
		DB:         dbClient,
		Outbox:     events,
		Settlement: settlementService,
		Ledger:     ledgerService,
		Inventory:  stock,
		Flags:      cfg.FeatureFlags,
		Logger:     logg,
	})
	if err != nil {
		return nil, err
	}
	placer, err := checkout.NewService(checkout.ServiceParams{
		DB:                   dbClient,
		Accounts:             catalogRepo,
		Orders:               ordersRepo,
		Inventory:            stock,
		Sellers:              resolver,
		Outbox:               events,
		Logger:               logg,
		EnforcePerOrderLimit: cfg.Orders.EnforcePerOrderLimit,
	})
	if err != nil {
		return nil, err
	}
	returnDesk, err := returns.NewService(returns.ServiceParams{
		Config:     cfg.Returns,
		DB:         dbClient,
		Repository: returns.NewRepository(conn),
		Orders:     ordersRepo,
		Lifecycle:  lifecycle,
		Accounts:   catalogRepo,
		Ledger:     ledgerService,
		Sellers:    resolver,
		Outbox:     events,
		Logger:     logg,
	})
	if err != nil {
		return nil, err
	}

	sweepJob, err := cron.NewSettlementSweepJob(cron.SettlementSweepJobParams{Logger: logg, Sweeper: settlementService})
	if err != nil {
		return nil, err
	}
	expiryJob, err := cron.NewOrderExpiryJob(cron.OrderExpiryJobParams{
		Logger:    logg,
		Reader:    ordersRepo,
		Lifecycle: lifecycle,
		TTL:       cfg.Orders.PendingTTL,
		BatchSize: cfg.Orders.ExpiryBatchSize,
	})
	if err != nil {
		return nil, err
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		DB:               dbClient,
		Repository:       outboxRepo,
		RetentionDays:    cfg.Outbox.RetentionDays,
		TerminalAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(serviceKind, cfg.App.Env), cfg.Settlement.LockTTL)
	if err != nil {
		return nil, err
	}
	scheduler, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(sweepJob, expiryJob, retentionJob),
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Settlement.SweepInterval,
	})
	if err != nil {
		return nil, err
	}
	return &worker{
		scheduler:  scheduler,
		settlement: settlementService,
		ledger:     ledgerService,
		checkout:   placer,
		lifecycle:  lifecycle,
		returns:    returnDesk,
		inventory:  stock,
		fees:       feeService,
	}, nil
}
