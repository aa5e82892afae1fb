package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"restaurant-system/internal/cache"
	"restaurant-system/internal/catalog"
	"restaurant-system/internal/config"
	"restaurant-system/internal/database"
	"restaurant-system/internal/logger"
	"restaurant-system/internal/messaging"
	"restaurant-system/internal/middleware"
	"restaurant-system/internal/payment"
	"restaurant-system/internal/services/notification"
	"restaurant-system/internal/services/order"
)

func main() {
	var (
		mode       = flag.String("mode", "", "Service mode (order-service, notification-subscriber, migrate)")
		port       = flag.Int("port", 3000, "HTTP port")
		configPath = flag.String("config", "config.yaml", "Path to the configuration file")
		migrations = flag.String("migrations", "migrations", "Directory with SQL migrations")
		prefetch   = flag.Int("prefetch", 10, "RabbitMQ prefetch count")
	)
	flag.Parse()

	if *mode == "" {
		fmt.Fprintf(os.Stderr, "Error: --mode flag is required\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(*mode)
	requestID := logger.GenerateRequestID()

	log.Info("service_starting", fmt.Sprintf("Starting %s", *mode), requestID, map[string]interface{}{
		"mode": *mode,
		"port": *port,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "order-service":
		err = runOrderService(ctx, cfg, log, *port, *migrations)
	case "notification-subscriber":
		err = runNotificationSubscriber(ctx, cfg, log, *prefetch)
	case "migrate":
		err = runMigrate(ctx, cfg, log, *migrations)
	default:
		log.Error("validation_failed", fmt.Sprintf("Unknown mode: %s", *mode), requestID, nil, nil)
		os.Exit(1)
	}
	if err != nil {
		log.Error("service_failed", fmt.Sprintf("%s failed", *mode), requestID, err, nil)
		os.Exit(1)
	}

	log.Info("service_stopped", "Service stopped gracefully", requestID, nil)
}

// runOrderService wires the lifecycle service and serves its HTTP API until ctx is cancelled
func runOrderService(ctx context.Context, cfg *config.Config, log *logger.Logger, port int, migrationsPath string) error {
	requestID := logger.GenerateRequestID()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := database.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if _, err := db.RunMigrations(ctx, migrationsPath); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	redisClient, err := cache.NewRedisClient(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer redisClient.Close()

	conn, err := messaging.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}
	defer conn.Close()

	log.Info("rabbitmq_connected", "Connected to RabbitMQ", requestID, nil)

	gateway := payment.NewStripeGateway(payment.StripeOptions{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		Currency:      cfg.Stripe.Currency,
		Timeout:       time.Duration(cfg.Stripe.TimeoutSeconds) * time.Second,
	})

	service := order.NewService(order.Dependencies{
		Store:       order.NewRepository(db),
		Catalog:     catalog.NewCachedCatalog(catalog.NewPostgresCatalog(db), redisClient, cfg.CatalogTTL(), log),
		Gateway:     gateway,
		Idempotency: order.NewRedisIdempotency(redisClient, cfg.IdempotencyTTL()),
		Events:      messaging.NewPublisher(conn, log),
		Retry: order.RetryPolicy{
			Attempts: cfg.Stripe.MaxRetries,
			Backoff:  time.Duration(cfg.Stripe.RetryBackoffMS) * time.Millisecond,
		},
		Logger: log,
	})

	handler := order.NewHandler(
		service,
		middleware.NewAuthenticator(cfg.Auth.JWTSecret, log),
		middleware.NewRateLimiter(redisClient, cfg.Server.RateLimitPerMinute, time.Minute, log),
		cfg.RequestTimeout(),
		log,
	)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("service_started", fmt.Sprintf("Order Service started on port %d", port), requestID, map[string]interface{}{
			"port": port,
		})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("graceful_shutdown", "Received shutdown signal", requestID, nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return server.Shutdown(shutdownCtx)
}

// runNotificationSubscriber prints order events until ctx is cancelled
func runNotificationSubscriber(ctx context.Context, cfg *config.Config, log *logger.Logger, prefetch int) error {
	conn, err := messaging.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize messaging: %w", err)
	}
	defer conn.Close()

	consumer := messaging.NewConsumer(conn, log, messaging.QueueOrderNotifications, "notification-subscriber", prefetch)
	return notification.NewSubscriber(consumer, log).Start(ctx)
}

// runMigrate applies pending migrations and exits
func runMigrate(ctx context.Context, cfg *config.Config, log *logger.Logger, migrationsPath string) error {
	db, err := database.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	applied, err := db.RunMigrations(ctx, migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("migrations_complete", "Migrations applied", "", map[string]interface{}{
		"applied": applied,
		"count":   len(applied),
	})
	return nil
}
