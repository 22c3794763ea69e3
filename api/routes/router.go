package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/marketsettle-backend/api/controllers"
	"github.com/angelmondragon/marketsettle-backend/api/middleware"
	"github.com/angelmondragon/marketsettle-backend/internal/checkout"
	"github.com/angelmondragon/marketsettle-backend/internal/cron"
	"github.com/angelmondragon/marketsettle-backend/internal/fees"
	"github.com/angelmondragon/marketsettle-backend/internal/inventory"
	"github.com/angelmondragon/marketsettle-backend/internal/ledger"
	"github.com/angelmondragon/marketsettle-backend/internal/orders"
	"github.com/angelmondragon/marketsettle-backend/internal/returns"
	"github.com/angelmondragon/marketsettle-backend/internal/settlement"
	"github.com/angelmondragon/marketsettle-backend/pkg/config"
	"github.com/angelmondragon/marketsettle-backend/pkg/logger"
)

// OpsDeps are the services behind the worker's operations port.
type OpsDeps struct {
	Gatherer   prometheus.Gatherer
	Ready      map[string]controllers.Pinger
	Scheduler  *cron.Service
	Settlement *settlement.Service
	Ledger     *ledger.Service
	Checkout   checkout.Service
	Orders     orders.Service
	Returns    *returns.Service
	Inventory  *inventory.Service
	Fees       *fees.Service
}

// NewOpsRouter builds the internal operations router. It is served on the
// ops port only; routes whose service is nil are not mounted.
func NewOpsRouter(cfg *config.Config, logg *logger.Logger, deps OpsDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
	)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Get("/healthz", controllers.HealthLive(cfg))
	r.Get("/readyz", controllers.HealthReady(cfg, logg, deps.Ready))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logging(logg))
		if deps.Scheduler != nil {
			r.Post("/sweeps", controllers.TriggerSweep(deps.Scheduler, logg))
		}
		if deps.Checkout != nil {
			r.Post("/orders", controllers.PlaceOrder(deps.Checkout, logg))
		}
		if deps.Orders != nil {
			r.Post("/orders/{orderId}/transitions", controllers.TransitionOrder(deps.Orders, logg))
		}
		if deps.Settlement != nil {
			r.Post("/orders/{orderId}/settle", controllers.SettleOrder(deps.Settlement, logg))
		}
		if deps.Returns != nil {
			r.Post("/returns", controllers.RequestReturn(deps.Returns, logg))
			r.Post("/returns/{returnId}/approve", controllers.ApproveReturn(deps.Returns, logg))
			r.Post("/returns/{returnId}/reject", controllers.RejectReturn(deps.Returns, logg))
		}
		if deps.Ledger != nil {
			r.Get("/sellers/{sellerId}/reconcile", controllers.ReconcileSeller(deps.Ledger, logg))
			r.Get("/sellers/{sellerId}/ledger", controllers.LedgerHistory(deps.Ledger, logg))
			r.Post("/sellers/{sellerId}/withdrawals", controllers.WithdrawFunds(deps.Ledger, logg))
		}
		if deps.Inventory != nil {
			r.Get("/products/{productId}/quote", controllers.QuoteProduct(deps.Inventory, logg))
		}
		if deps.Fees != nil {
			r.Post("/fee-configs", controllers.CreateFeeConfig(deps.Fees, logg))
		}
	})
	return r
}
