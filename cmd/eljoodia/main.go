package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/eljoodia/eljoodia-erp/internal/app"
	"github.com/eljoodia/eljoodia-erp/internal/directory"
	"github.com/eljoodia/eljoodia-erp/internal/notify"
	"github.com/eljoodia/eljoodia-erp/internal/observability"
	"github.com/eljoodia/eljoodia-erp/internal/orders"
	"github.com/eljoodia/eljoodia-erp/internal/platform/cache"
	"github.com/eljoodia/eljoodia-erp/internal/platform/db"
	"github.com/eljoodia/eljoodia-erp/internal/production"
	"github.com/eljoodia/eljoodia-erp/internal/shared"
	"github.com/eljoodia/eljoodia-erp/internal/stock"
	"github.com/eljoodia/eljoodia-erp/migrations"
)

func main() {
	migrate := flag.Bool("migrate", false, "apply database migrations and exit")
	flag.Parse()

	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if *migrate {
		if err := migrations.Apply(ctx, pool); err != nil {
			logger.Error("apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("migrations applied")
		return
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	queue := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	dir := directory.NewRepository(pool)
	audit := shared.NewAuditLogger(pool)

	notifier := notify.NewNotifier(redisClient, queue, dir, metrics, logger)

	ordersRepo := orders.NewRepository(pool)
	ordersService := orders.NewService(ordersRepo, dir, notifier, audit, metrics, logger)
	ordersHandler := orders.NewHandler(logger, ordersService, orders.NewRenderer(dir))

	productionHandler := production.NewHandler(logger, production.NewRepository(pool))
	stockHandler := stock.NewHandler(logger, stock.NewRepository(pool))
	notificationsHandler := notify.NewHandler(logger, notify.NewInbox(pool))

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		OrdersHandler:        ordersHandler,
		ProductionHandler:    productionHandler,
		StockHandler:         stockHandler,
		NotificationsHandler: notificationsHandler,
		Metrics:              metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
