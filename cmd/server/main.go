package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/store/memstore"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const serviceName = "checkout-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service",
		zap.String("env", cfg.Server.Env),
		zap.String("store", cfg.Database.StoreDriver))

	tp, err := util.InitTracer(serviceName, cfg.Observ.TraceExporter, cfg.Observ.TraceEndpoint())
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	if tp != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	repo, err := openRepository(cfg)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer repo.Close()

	var coordinator service.CheckoutCoordinator = service.NoopCoordinator{}
	var redisClient *redisclient.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisClient.Close()
		coordinator = redisClient
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	var publisher service.EventPublisher = service.NoopPublisher{}
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	retry := service.RetryPolicy{
		MaxAttempts: cfg.Business.CheckoutMaxAttempts,
		Backoff:     cfg.Business.RetryBackoff,
	}
	ledger := service.NewLedger()
	orderService := service.NewOrderService(repo, coordinator, publisher, ledger, service.OrderServiceConfig{
		AllowedCurrencies: cfg.Business.AllowedCurrencies,
		DefaultCurrency:   cfg.Business.DefaultCurrency,
		Retry:             retry,
		LockTTL:           cfg.Business.CheckoutLockTTL,
		IdempotencyTTL:    cfg.Business.IdempotencyTTL,
	})
	couponService := service.NewCouponService(repo, cfg.Business.AllowedCurrencies)
	inventoryService := service.NewInventoryService(repo, ledger, retry)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var statusWorker *worker.StatusWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
		statusWorker = worker.NewStatusWorker(consumer, orderService, repo)
		go func() {
			if err := statusWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Status worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, couponService, inventoryService, cfg.Business.DefaultCurrency)
	handler.AddReadinessCheck("database", repo)
	if redisClient != nil {
		handler.AddReadinessCheck("redis", redisClient)
	}
	handler.SetupRoutes(router, serviceName)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Metrics are also served on the main router; the dedicated port lets
	// scrapers bypass the public ingress.
	var metricsSrv *http.Server
	if port := cfg.Observ.PrometheusPort; port != "" && port != cfg.Server.Port {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: fmt.Sprintf(":%s", port), Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server stopped", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	workerCancel()
	if statusWorker != nil {
		if err := statusWorker.Stop(); err != nil {
			logger.Error("Failed to stop status worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

// openRepository selects the Postgres store or, for local runs, the
// in-memory store seeded with a demo catalog.
func openRepository(cfg *config.Config) (store.Repository, error) {
	if cfg.Database.StoreDriver == "memory" {
		st := memstore.New()
		st.SeedDemo()
		util.GetLogger().Info("Using in-memory store with demo data",
			zap.Int64("demo_user_id", memstore.DemoUserID))
		return st, nil
	}

	opts := store.DefaultOptions()
	opts.LockTimeout = cfg.Database.LockTimeout
	db, err := store.NewStore(cfg.Database.Driver, cfg.Database.URL, opts)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		util.GetLogger().Info("Database schema applied")
	}

	util.GetLogger().Info("Database connected", zap.String("driver", cfg.Database.Driver))
	return db, nil
}
