package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/smarttransit/booking-saga/internal/config"
	"github.com/smarttransit/booking-saga/internal/database"
	"github.com/smarttransit/booking-saga/internal/handlers"
	"github.com/smarttransit/booking-saga/internal/middleware"
	"github.com/smarttransit/booking-saga/internal/services"
	"github.com/smarttransit/booking-saga/pkg/clock"
	"github.com/smarttransit/booking-saga/pkg/jwt"
	"github.com/smarttransit/booking-saga/pkg/sms"
	"golang.org/x/sync/errgroup"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting booking saga service")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := database.InitSchema(ctx, db.DB); err != nil {
			logger.Fatalf("Failed to initialize schema: %v", err)
		}
		logger.Info("Database schema initialized")
	}

	clk := clock.NewRealClock()

	// Quote store: Redis when configured, in-process otherwise
	var (
		quotes      services.QuoteStore
		redisClient *redis.Client
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		quotes = services.NewRedisQuoteStore(redisClient, cfg.Redis.KeyPrefix, clk)
		logger.Info("Quote store: Redis")
	} else {
		quotes = services.NewMemoryQuoteStore(clk)
		logger.Warn("Quote store: in-process memory (single instance only)")
	}

	var smsGateway sms.Gateway
	if cfg.SMS.Mode == "production" {
		smsGateway = sms.NewHTTPGateway(sms.HTTPConfig{
			APIURL:   cfg.SMS.APIURL,
			Username: cfg.SMS.Username,
			Password: cfg.SMS.Password,
			Mask:     cfg.SMS.Mask,
		}, clk, logger)
		logger.Info("SMS gateway initialized in production mode")
	} else {
		smsGateway = sms.NewLogGateway(logger)
		logger.Info("SMS gateway in development mode (messages are logged, not sent)")
	}

	gateway, err := services.NewPaymentGateway(&cfg.Payment, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize payment gateway: %v", err)
	}
	logger.WithField("provider", gateway.Name()).Info("Payment gateway initialized")

	// Repositories
	bookingRepo := database.NewProvisionalBookingRepository(db.DB, clk)
	webhookEventRepo := database.NewWebhookEventRepository(db.DB, clk)
	eventStore := database.NewPaymentEventStore(db.DB, bookingRepo, webhookEventRepo)
	paymentAuditRepo := database.NewPaymentAuditRepository(db.DB, logger)
	operatorRepo := database.NewOperatorRepository(db.DB)

	// Saga services
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	auditService := services.NewAuditService(db.DB)
	inventory := services.NewInventoryClient(cfg.Inventory, logger)
	notifier := services.NewNotificationService(smsGateway, logger)
	issuer := services.NewIdempotencyKeyIssuer()
	negotiator := services.NewPriceChangeNegotiator(quotes, issuer, clk, logger)
	validator := services.NewPrebookingValidator(bookingRepo, inventory, quotes, negotiator, clk, cfg.Saga.HoldWindow, logger)
	broker := services.NewPaymentSessionBroker(bookingRepo, gateway, paymentAuditRepo, logger)
	provisional := services.NewProvisionalBookingService(bookingRepo, quotes, broker, clk, logger)
	coordinator := services.NewOrderCommitCoordinator(bookingRepo, inventory, gateway, notifier, paymentAuditRepo, logger)
	ingestor := services.NewWebhookIngestor(eventStore, []services.PaymentGateway{gateway}, coordinator, paymentAuditRepo, logger)
	status := services.NewBookingStatusService(bookingRepo)
	operatorAuth := services.NewOperatorAuthService(operatorRepo, jwtService, logger)

	// Background workers
	sweeper := services.NewHoldExpirationService(bookingRepo, gateway, paymentAuditRepo, clk, cfg.Saga.SweepGrace, cfg.Saga.WorkerBatchLimit, logger)
	reconciler := services.NewSagaReconciler(bookingRepo, coordinator, paymentAuditRepo, clk, cfg.Saga.ReconcileAfter, cfg.Saga.WorkerBatchLimit, logger)
	cronService := services.NewCronService(sweeper, reconciler, logger)
	if err := cronService.Start(); err != nil {
		logger.Fatalf("Failed to start cron service: %v", err)
	}
	logger.Info("Cron service started")

	logger.Info("Services initialized")

	// Handlers
	bookingHandler := handlers.NewBookingHandler(issuer, validator, negotiator, provisional, status, auditService, logger).
		WithPollPolicy(cfg.Saga.PollInterval, cfg.Saga.PollMaxAttempts)
	webhookHandler := handlers.NewWebhookHandler(ingestor, logger)
	adminHandler := handlers.NewAdminHandler(operatorAuth, cronService, paymentAuditRepo, auditService, logger)
	healthChecks := map[string]handlers.HealthCheck{"database": db.Healthy}
	if redisClient != nil {
		healthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	healthHandler := handlers.NewHealthHandler(version, healthChecks)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthHandler.Health)

	v1 := router.Group("/api/v1")
	{
		booking := v1.Group("/booking")
		booking.Use(middleware.RateLimitMiddleware(limiter), middleware.OptionalAuth(jwtService))
		{
			booking.POST("/attempts", bookingHandler.IssueAttempt)
			booking.POST("/validate", bookingHandler.Validate)
			booking.POST("/price-change/accept", bookingHandler.AcceptPriceChange)
			booking.POST("/price-change/reject", bookingHandler.RejectPriceChange)
			booking.POST("/provisional", bookingHandler.CreateProvisional)
			booking.GET("/verify", bookingHandler.Verify)
		}

		// Providers retry on their own schedule, so webhooks are not rate limited
		v1.POST("/payments/webhook/:provider", webhookHandler.Receive)

		admin := v1.Group("/admin")
		{
			admin.POST("/login", middleware.RateLimitMiddleware(limiter), adminHandler.Login)

			protected := admin.Group("")
			protected.Use(middleware.AuthMiddleware(jwtService, logger), middleware.RequireRole(jwt.RoleAdmin))
			{
				protected.POST("/reconcile", adminHandler.Reconcile)
				protected.GET("/jobs", adminHandler.Jobs)
				protected.GET("/bookings/:id/audit", adminHandler.BookingAudit)
				protected.GET("/payments/mismatches", adminHandler.AmountMismatches)
			}
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if removed := limiter.Cleanup(); removed > 0 {
					logger.WithField("removed", removed).Debug("Rate limiter entries pruned")
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		logger.Info("Stopping cron service...")
		cronService.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Server forced to shutdown: %v", err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Errorf("Server stopped with error: %v", err)
		os.Exit(1)
	}
	logger.Info("Server exited successfully")
}
