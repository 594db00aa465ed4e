package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"log/slog"

	"github.com/techcsc21/trade4u-sub031/libs/health"
	"github.com/techcsc21/trade4u-sub031/libs/httpmiddleware"
	"github.com/techcsc21/trade4u-sub031/libs/kafka"
	"github.com/techcsc21/trade4u-sub031/libs/logging"
	"github.com/techcsc21/trade4u-sub031/libs/metrics"
	"github.com/techcsc21/trade4u-sub031/libs/trace"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/audit"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/config"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/consumer"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/engine"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/handlers"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/notify"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/pricecache"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/service"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/storage"
	"github.com/techcsc21/trade4u-sub031/services/escrow/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	escrowMetrics := service.NewMetrics(registry)
	auditMetrics := audit.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()
	prices := pricecache.New(redisClient, "", cfg.Redis.PriceFallbackTTL, logger)

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	publisher := kafka.Publisher(producer)
	if strings.TrimSpace(cfg.Kafka.Topics.DLQ) != "" {
		publisher = kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DLQ, logger)
	}

	consumerGroup, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
	if err != nil {
		logger.Error("kafka consumer init failed", "error", err)
		os.Exit(1)
	}
	consumerGroup.WithDLQ(producer, cfg.Kafka.Topics.DLQ)
	defer consumerGroup.Close()

	store := storage.New(pool, engine.DefaultFeeSchedule(), cfg.Limits, logger)
	recorder := audit.NewRecorder(store, publisher, cfg.Kafka.Topics.AuditAlerts, cfg.Limits.LargeAmountThreshold, logger, auditMetrics)
	notifier := notify.NewDispatcher(publisher, cfg.Kafka.Topics.TradeNotifications, logger)

	escrowService := service.NewEscrowService(store, prices, recorder, notifier, cfg.Limits, logger, escrowMetrics)
	alertConsumer := consumer.NewAlertConsumer(publisher, cfg.Kafka.Topics.AdminNotifications, logger)
	sweep := sweeper.New(escrowService, cfg.Sweeper.Interval, cfg.Sweeper.BatchSize, logger)

	httpServer := buildHTTPServer(cfg, escrowService, ready, registry, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	ready.SetReady(true)

	go func() {
		logger.Info("escrow http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		logger.Info("escrow alert consumer starting", "topic", cfg.Kafka.Topics.AuditAlerts)
		if err := consumerGroup.Consume(workerCtx, []string{cfg.Kafka.Topics.AuditAlerts}, alertConsumer); err != nil {
			logger.Error("kafka consumer error", "error", err)
		}
	}()

	go func() {
		logger.Info("expiry sweeper starting", "interval", cfg.Sweeper.Interval.String())
		sweep.Run(workerCtx)
	}()

	waitForShutdown(httpServer, escrowService, ready, workerCancel, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func buildHTTPServer(cfg *config.Config, svc *service.EscrowService, ready *health.Manager, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handlers.New(svc, logger).Register(router, []byte(cfg.Auth.JWTSecret))

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, svc *service.EscrowService, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	// Drain the post-commit audit and notification goroutines before the
	// producer is closed.
	svc.Wait()
	logger.Info("shutdown complete")
}
