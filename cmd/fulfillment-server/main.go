package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"order-fulfillment/internal/api"
	"order-fulfillment/internal/common/aws"
	"order-fulfillment/internal/common/camunda"
	"order-fulfillment/internal/common/config"
	"order-fulfillment/internal/common/database"
	"order-fulfillment/internal/common/logger"
	"order-fulfillment/internal/common/observability"
	"order-fulfillment/internal/fulfillment/checkout"
	"order-fulfillment/internal/fulfillment/enrich"
	"order-fulfillment/internal/fulfillment/events"
	"order-fulfillment/internal/fulfillment/inventory"
	"order-fulfillment/internal/fulfillment/kitchen"
	"order-fulfillment/internal/fulfillment/orders"
	"order-fulfillment/internal/fulfillment/payment"
	"order-fulfillment/internal/fulfillment/session"
	"order-fulfillment/internal/notify"
	"order-fulfillment/internal/search"
	"order-fulfillment/pkg/registry"

	ao "order-fulfillment/internal/workers/fulfillment/advance-order"
	co "order-fulfillment/internal/workers/fulfillment/create-order"
	ps "order-fulfillment/internal/workers/fulfillment/payment-settled"
	rp "order-fulfillment/internal/workers/fulfillment/request-payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// checkJobRegistry warns about task types the job catalog does not document.
func checkJobRegistry(log *zap.Logger, taskTypes ...string) {
	reg, err := registry.Load(registry.DefaultPath)
	if err != nil {
		log.Warn("job registry unavailable", zap.String("path", registry.DefaultPath), zap.Error(err))
		return
	}
	if err := reg.Validate(); err != nil {
		log.Warn("job registry invalid", zap.Error(err))
		return
	}
	for _, tt := range taskTypes {
		if _, ok := reg.Find(tt); !ok {
			log.Warn("task type missing from job registry", zap.String("taskType", tt))
		}
	}
}

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting fulfillment server",
		zap.String("environment", cfg.App.Environment),
		zap.String("version", cfg.App.Version),
	)

	obs, err := observability.New(cfg.App.Name)
	if err != nil {
		zapLog.Warn("otel exporter unavailable, latency histograms disabled", zap.Error(err))
	}
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- PostgreSQL ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		zapLog.Fatal("migration failed", zap.Error(err))
	}

	// --- Redis ---
	var rdb *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		rdb, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return rdb.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer rdb.Close()

	readiness := map[string]api.Pinger{
		"postgres": pg,
		"redis":    rdb,
	}

	// --- Core services ---
	channel := events.NewChannel(rdb.GetClient(), log)
	store := orders.NewStore(pg.GetDB(), orders.Options{
		References: orders.RandomReference(cfg.Fulfillment.ReferencePrefix),
		Attempts:   cfg.Fulfillment.ReferenceAttempts,
	}, log)
	gate := inventory.NewGate(pg.GetDB(), log)
	mpesa := payment.NewMpesaClient(cfg.Payment.Mpesa, log)
	reconciler := payment.NewReconciler(mpesa, store, channel, obs, log)
	pricing := enrich.Pricing{
		LargeSurcharge: cfg.Fulfillment.LargeSurcharge,
		DeliveryFee:    cfg.Fulfillment.DeliveryFee,
	}
	checkoutSvc := checkout.NewService(gate, store, channel, reconciler, pricing, obs, log)
	sessions := session.NewStore(rdb.GetClient(), 0, log)

	deps := api.Deps{
		Checkout:  checkoutSvc,
		Orders:    store,
		Payments:  reconciler,
		Sessions:  sessions,
		Publisher: channel,

		KitchenFeed: channel,
		KitchenOptions: kitchen.Options{
			LateAfter:       time.Duration(cfg.Kitchen.LateAfterMinutes) * time.Minute,
			RefreshInterval: config.GetDuration(cfg.Kitchen.RefreshInterval),
			Obs:             obs,
		},
		HistoryLimit:    cfg.Kitchen.HistoryLimit,
		ReadinessChecks: readiness,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
	}

	// --- Order history search ---
	if cfg.Search.Enabled {
		var es *database.ElasticsearchClient
		err = retryWithBackoff(func() error {
			var err error
			es, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
			if err != nil {
				return err
			}
			return es.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "Elasticsearch connection")
		if err != nil {
			zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
		}

		index := search.NewIndex(es.Client, cfg.Search.Index, log)
		if err := index.EnsureIndex(ctx); err != nil {
			zapLog.Fatal("order index setup failed", zap.Error(err))
		}
		sub, err := channel.SubscribeAll(ctx)
		if err != nil {
			zapLog.Fatal("indexer subscription failed", zap.Error(err))
		}
		defer sub.Close()
		go index.Run(ctx, sub)

		deps.History = index
		readiness["elasticsearch"] = es
	}

	// --- Ready SMS ---
	if cfg.Notifications.SMS.Enabled {
		sns, err := aws.NewSNSClient(ctx, cfg.Notifications.AWS.Region, cfg.Notifications.SMS.SenderID)
		if err != nil {
			zapLog.Fatal("sns client failed", zap.Error(err))
		}
		notifier := notify.NewReadyNotifier(sns, rdb.GetClient(), config.GetDuration(cfg.Notifications.SMS.DedupTTL), log)
		sub, err := channel.SubscribeAll(ctx)
		if err != nil {
			zapLog.Fatal("notifier subscription failed", zap.Error(err))
		}
		defer sub.Close()
		go notifier.Run(ctx, sub)
	}

	// --- Zeebe workers ---
	var workers []*camunda.Worker
	if cfg.Camunda.Enabled {
		var zc *camunda.Client
		err = retryWithBackoff(func() error {
			var err error
			zc, err = camunda.NewClient(cfg.Camunda)
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer zc.Close()
		readiness["zeebe"] = pingFunc(zc.HealthCheck)

		if wc := co.ConfigFromApp(cfg); wc.Enabled {
			h := co.NewHandler(wc, checkoutSvc, log)
			workers = append(workers, camunda.NewWorker(zc.GetClient(), co.TaskType, wc.MaxJobsActive, wc.Timeout, h, log))
		}
		if wc := rp.ConfigFromApp(cfg); wc.Enabled {
			h := rp.NewHandler(wc, store, reconciler, log)
			workers = append(workers, camunda.NewWorker(zc.GetClient(), rp.TaskType, wc.MaxJobsActive, wc.Timeout, h, log))
		}
		if wc := ao.ConfigFromApp(cfg); wc.Enabled {
			h := ao.NewHandler(wc, store, channel, log)
			workers = append(workers, camunda.NewWorker(zc.GetClient(), ao.TaskType, wc.MaxJobsActive, wc.Timeout, h, log))
		}
		checkJobRegistry(zapLog, co.TaskType, rp.TaskType, ao.TaskType)

		relaySub, err := channel.SubscribeAll(ctx)
		if err != nil {
			zapLog.Fatal("payment relay subscription failed", zap.Error(err))
		}
		defer relaySub.Close()
		go ps.NewRelay(zc, 0, log).Run(ctx, relaySub)
		zapLog.Info("zeebe workers registered", zap.Int("count", len(workers)))
	}

	// --- HTTP ---
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.NewServer(deps, log)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.Router(),
		ReadTimeout:  config.GetDuration(cfg.Server.ReadTimeout),
		WriteTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}

	go func() {
		zapLog.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zapLog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	for _, w := range workers {
		w.Stop(shutdownCtx)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("http shutdown failed", zap.Error(err))
	}

	zapLog.Info("fulfillment server stopped")
}
