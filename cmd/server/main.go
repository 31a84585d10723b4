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

	"order-lifecycle/config"
	"order-lifecycle/internal/api"
	"order-lifecycle/internal/broker"
	"order-lifecycle/internal/mailer"
	"order-lifecycle/internal/notify"
	"order-lifecycle/internal/redisclient"
	"order-lifecycle/internal/service"
	"order-lifecycle/internal/store"
	"order-lifecycle/internal/util"
	"order-lifecycle/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting order lifecycle service")

	tp, err := util.InitTracer("order-lifecycle", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		log.Println("Database migrated")
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer, cfg.Kafka.TopicOrder, cfg.Kafka.TopicEmail)

	dispatcher := worker.NewDispatcher(worker.DispatcherOptions{
		MaxAttempts:  cfg.Lifecycle.SideEffectMaxAttempts,
		RetryBackoff: cfg.Lifecycle.SideEffectRetryBackoff,
		TaskTimeout:  cfg.Lifecycle.SideEffectTaskTimeout,
	})

	walletService := service.NewWalletService(db)
	stockService := service.NewStockService(db, redisClient)
	notifyService, err := notify.NewService(db, redisClient, eventPublisher)
	if err != nil {
		log.Fatalf("Failed to initialize notifications: %v", err)
	}

	deps := service.Dependencies{
		Orders:       db,
		SellerOrders: db,
		Users:        db,
		Wallets:      walletService,
		Stock:        stockService,
		Notifier:     notifyService,
		Events:       eventPublisher,
		Dispatcher:   dispatcher,
		LockTTL:      cfg.Lifecycle.StatusLockTTL,
	}
	if cfg.Lifecycle.StatusLocking {
		deps.Locker = redisClient
	}
	orderService := service.NewOrderService(deps)

	ctx := context.Background()
	if err := stockService.SyncStockToRedis(ctx); err != nil {
		logger.Warn("Failed to sync stock to Redis", zap.Error(err))
	}

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	emailConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicEmail, cfg.Kafka.EmailConsumerGroup)
	smtpMailer, err := mailer.NewSMTPMailer(mailer.Config{
		Host:     cfg.Mail.SMTPHost,
		Port:     cfg.Mail.SMTPPort,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
	})
	if err != nil {
		log.Fatalf("Failed to initialize mailer: %v", err)
	}
	emailWorker := worker.NewEmailWorker(emailConsumer, db, smtpMailer)
	go func() {
		if err := emailWorker.Start(workerCtx); err != nil {
			logger.Error("Email worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(orderService, notifyService, walletService, redisClient, map[string]api.Pinger{
		"postgres": db,
		"redis":    redisClient,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	// Side effects already accepted still get to finish before their
	// dependencies are closed.
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Side-effect tasks still running at shutdown", zap.Error(err))
	}

	workerCancel()
	if err := emailWorker.Stop(); err != nil {
		log.Printf("Error stopping email worker: %v", err)
	}

	log.Println("Server exited")
}
