package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	billingapp "github.com/invoicer/backend/internal/application/billing"
	financeapp "github.com/invoicer/backend/internal/application/finance"
	"github.com/invoicer/backend/internal/domain/payment"
	"github.com/invoicer/backend/internal/domain/shared"
	"github.com/invoicer/backend/internal/infrastructure/auth"
	"github.com/invoicer/backend/internal/infrastructure/cache"
	"github.com/invoicer/backend/internal/infrastructure/config"
	"github.com/invoicer/backend/internal/infrastructure/event"
	"github.com/invoicer/backend/internal/infrastructure/logger"
	mpesa "github.com/invoicer/backend/internal/infrastructure/payment"
	"github.com/invoicer/backend/internal/infrastructure/persistence"
	"github.com/invoicer/backend/internal/infrastructure/scheduler"
	"github.com/invoicer/backend/internal/infrastructure/telemetry"
	"github.com/invoicer/backend/internal/interfaces/http/handler"
	"github.com/invoicer/backend/internal/interfaces/http/middleware"
	"github.com/invoicer/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
)

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting invoicer",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	// Database
	db, err := persistence.NewDatabase(&cfg.Database, persistence.DatabaseOptions{
		Logger:        log,
		LogLevel:      logger.MapGormLogLevel(cfg.Log.Level),
		SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
		Tracing: telemetry.DBTracingConfig{
			Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
			LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		},
	})
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Redis-backed helpers, or in-memory ones when Redis is off
	stores, err := cache.NewStoreFactory(cfg.Redis,
		cache.WithLogger(log),
		cache.WithInMemoryFallback(!cfg.App.IsProduction()),
	).Create(ctx)
	if err != nil {
		log.Fatal("Failed to initialize cache stores", zap.Error(err))
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error("Error closing cache stores", zap.Error(err))
		}
	}()

	// Repositories
	tenantRepo := persistence.NewGormTenantRepository(db.DB)
	planRepo := persistence.NewGormPlanRepository(db.DB)
	subscriptionRepo := persistence.NewGormSubscriptionRepository(db.DB)
	scope := persistence.NewGormTransactionScope(db.DB)

	// Events
	eventBus := event.NewInMemoryEventBus(log)
	notifications := financeapp.NewNotificationHandler(financeapp.NewLoggingNotifier(log), log)
	eventBus.Subscribe(notifications)

	// Ledger and documents
	sequences := financeapp.NewSequenceGenerator(financeapp.SequenceGeneratorConfig{
		Scope: scope,
		Retry: shared.RetryPolicy{
			MaxAttempts:     cfg.Sequence.MaxAttempts,
			InitialInterval: cfg.Sequence.InitialBackoff,
			MaxInterval:     cfg.Sequence.MaxBackoff,
			Multiplier:      2,
		},
		Logger: log,
	})
	poster := financeapp.NewLedgerPoster(financeapp.LedgerPosterConfig{Sequences: sequences, Logger: log})
	allocator := financeapp.NewPaymentAllocator(financeapp.PaymentAllocatorConfig{
		Scope:          scope,
		Poster:         poster,
		Tenants:        tenantRepo,
		EventPublisher: eventBus,
		Logger:         log,
	})
	invoiceService := financeapp.NewInvoiceService(financeapp.InvoiceServiceConfig{
		Scope:          scope,
		Sequences:      sequences,
		Poster:         poster,
		Tenants:        tenantRepo,
		EventPublisher: eventBus,
		Logger:         log,
	})
	paymentService := financeapp.NewPaymentService(financeapp.PaymentServiceConfig{
		Scope:          scope,
		Sequences:      sequences,
		Poster:         poster,
		Allocator:      allocator,
		Tenants:        tenantRepo,
		EventPublisher: eventBus,
		Logger:         log,
	})
	reportService := financeapp.NewReportService(scope)

	// Mobile money
	gateway := newGateway(cfg, stores, log)
	settings := financeapp.ReconciliationSettings{
		WebhookWindow:  cfg.Reconciliation.WebhookWindow,
		MaxPolls:       cfg.Reconciliation.MaxPolls,
		PollMaxAge:     cfg.Reconciliation.PollMaxAge,
		FallbackWindow: cfg.Reconciliation.FallbackWindow,
		IdempotencyTTL: cfg.Idempotency.TTL,
		QueryLockTTL:   cfg.Reconciliation.QueryLockTTL,
		CallbackURL:    strings.TrimRight(cfg.Mpesa.CallbackURL, "/"),
		ReturnURL:      cfg.Reconciliation.ReturnURL,
		DefaultRegion:  cfg.Mpesa.DefaultCountry,
	}
	reconcilerConfig := financeapp.PaymentReconcilerConfig{
		Scope:            scope,
		Gateway:          gateway,
		Sequences:        sequences,
		Poster:           poster,
		Allocator:        allocator,
		Tenants:          tenantRepo,
		IdempotencyStore: stores.Idempotency,
		EventPublisher:   eventBus,
		Settings:         settings,
		Logger:           log,
	}
	// a nil *RedisQueryLocker must not become a non-nil interface
	if stores.Locker != nil {
		reconcilerConfig.Locker = stores.Locker
	}
	reconciler := financeapp.NewPaymentReconciler(reconcilerConfig)

	// Subscriptions
	subscriptionService := billingapp.NewSubscriptionService(billingapp.SubscriptionServiceConfig{
		Plans:         planRepo,
		Subscriptions: subscriptionRepo,
		Tenants:       tenantRepo,
		Logger:        log,
	})

	// Background sweeper for push payments whose callback never came
	sweeper := scheduler.NewPendingPaymentSweeper(reconciler, invoiceService, log, scheduler.SweeperConfig{
		Enabled:   true,
		Interval:  cfg.Reconciliation.SweepInterval,
		BatchSize: cfg.Reconciliation.SweepBatchSize,
	})
	if err := sweeper.Start(ctx); err != nil {
		log.Fatal("Failed to start sweeper", zap.Error(err))
	}

	// HTTP
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	jwtService := auth.NewJWTService(cfg.JWT)
	engine, err := router.NewEngine(router.EngineConfig{
		Logger: log,
		Tracing: middleware.TracingConfig{
			ServiceName: cfg.Telemetry.ServiceName,
			Enabled:     cfg.Telemetry.Enabled,
		},
		Tenant: middleware.TenantMiddlewareConfig{
			Tokens:      jwtService,
			Tenants:     tenantRepo,
			AllowHeader: cfg.App.IsDevelopment(),
			Logger:      log,
		},
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		Handlers: router.Handlers{
			Documents:     handler.NewDocumentHandler(invoiceService),
			Payments:      handler.NewPaymentHandler(paymentService, reconciler),
			Webhooks:      handler.NewWebhookHandler(reconciler),
			Ledger:        handler.NewLedgerHandler(reportService),
			Subscriptions: handler.NewSubscriptionHandler(subscriptionService),
			System: handler.NewSystemHandler(cfg.App.Name, version, map[string]handler.HealthCheck{
				"database": func(context.Context) error { return db.Ping() },
			}),
		},
	})
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err := <-serverErr:
		log.Error("Server failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		log.Error("Sweeper did not stop cleanly", zap.Error(err))
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Error("Event bus did not stop cleanly", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

// newGateway builds the Daraja adapter, or a gateway that refuses every push
// when credentials are missing outside production.
func newGateway(cfg *config.Config, stores *cache.Stores, log *zap.Logger) payment.Gateway {
	mpesaConfig := &mpesa.MpesaConfig{
		BaseURL:        cfg.Mpesa.BaseURL,
		IsSandbox:      cfg.Mpesa.Environment != "production",
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		ShortCode:      cfg.Mpesa.ShortCode,
		Passkey:        cfg.Mpesa.Passkey,
		Timeout:        cfg.Mpesa.Timeout,
		Retry: shared.RetryPolicy{
			MaxAttempts:     cfg.Mpesa.MaxAttempts,
			InitialInterval: cfg.Mpesa.InitialBackoff,
			MaxInterval:     8 * cfg.Mpesa.InitialBackoff,
			Multiplier:      2,
		},
	}
	adapter, err := mpesa.NewMpesaAdapter(mpesaConfig,
		mpesa.WithTokenCache(stores.Tokens),
		mpesa.WithLogger(log),
	)
	if err != nil {
		log.Warn("M-Pesa gateway not configured, STK push disabled", zap.Error(err))
		return mpesa.UnconfiguredGateway{}
	}
	return adapter
}
