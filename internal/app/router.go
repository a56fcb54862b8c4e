package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/eljoodia/eljoodia-erp/internal/notify"
	"github.com/eljoodia/eljoodia-erp/internal/observability"
	"github.com/eljoodia/eljoodia-erp/internal/orders"
	"github.com/eljoodia/eljoodia-erp/internal/production"
	"github.com/eljoodia/eljoodia-erp/internal/stock"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger               *slog.Logger
	Config               *Config
	OrdersHandler        *orders.Handler
	ProductionHandler    *production.Handler
	StockHandler         *stock.Handler
	NotificationsHandler *notify.Handler
	Metrics              *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}
	if !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Handle("/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(identityMiddleware(params.Logger))
		params.OrdersHandler.MountRoutes(r)
		params.ProductionHandler.MountRoutes(r)
		params.StockHandler.MountRoutes(r)
		params.NotificationsHandler.MountRoutes(r)
	})

	return r
}
