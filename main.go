package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"lms-payment-service/common/auth"
	apperrors "lms-payment-service/common/errors"
	applogger "lms-payment-service/common/logger"
	commonmw "lms-payment-service/common/middleware"
	"lms-payment-service/config"
	"lms-payment-service/controllers"
	"lms-payment-service/database"
	"lms-payment-service/middleware"
	"lms-payment-service/models"
	pkgaws "lms-payment-service/pkg/aws"
	"lms-payment-service/pkg/exchangerate"
	"lms-payment-service/repository"
	"lms-payment-service/routes"
	"lms-payment-service/sender"
	"lms-payment-service/services"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	serviceName      = "lms-payment-service"
	metricsNamespace = "LMS/Payments"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("[PaymentService] failed to load config: %v", err)
	}

	logger, err := applogger.New(cfg.Env)
	if err != nil {
		log.Fatalf("[PaymentService] failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := pkgaws.LoadAWSConfig(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
	if err != nil {
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	}
	if err := cfg.ApplySecrets(ctx, pkgaws.NewSecretsClient(awsCfg)); err != nil {
		logger.Fatal("Failed to load Stripe secrets", zap.Error(err))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	decimal.MarshalJSONWithoutQuotes = true

	// Mongo
	mongoClient, db, err := database.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDB, logger)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer func() { _ = database.DisconnectMongo(mongoClient) }()
	if err := database.EnsureIndexes(ctx, db); err != nil {
		logger.Fatal("Failed to create indexes", zap.Error(err))
	}

	// Redis
	rdb, err := database.NewRedisClient(ctx, cfg.RedisURL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	// Payment ledger (optional)
	var payments repository.PaymentRepository
	if cfg.LedgerEnabled() {
		pg, err := database.ConnectPostgres(database.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			DBName:   cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSLMode,
			TimeZone: cfg.PostgresTimeZone,
		}, logger, &models.Payment{})
		if err != nil {
			logger.Fatal("Failed to connect to Postgres", zap.Error(err))
		}
		defer func() { _ = database.ClosePostgres(pg) }()
		payments = repository.NewGormPaymentRepo(pg)
	} else {
		logger.Warn("POSTGRES_HOST not set, payment ledger disabled")
	}

	// AWS collaborators
	metrics := pkgaws.NewMetricsClient(awsCfg, metricsNamespace, cfg.MetricsEnabled)
	events := services.NewSNSEventPublisher(pkgaws.NewSNSClient(awsCfg), cfg.EventsTopicARN, logger)

	var storage pkgaws.ObjectStorage
	if cfg.ReceiptBucket != "" {
		storage = pkgaws.NewS3Storage(awsCfg, cfg.AssetsURL)
	}
	var email services.EmailSender
	if cfg.SMTPEnabled() {
		smtpSender, err := sender.NewSMTPSender(sender.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			logger.Warn("Receipt email disabled", zap.Error(err))
		} else {
			email = smtpSender
		}
	}

	// Repositories
	orderRepo := repository.NewOrderRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	progressRepo := repository.NewProgressRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	couponRepo := repository.NewCouponRepository(db)
	webhookRepo := repository.NewWebhookEventRepository(db)
	cartRepo := repository.NewCartRepository(rdb)

	// Services
	rates := exchangerate.NewClient(
		exchangerate.NewRedisCache(rdb, cfg.ExchangeRateTTL, logger),
		cfg.ExchangeRateTimeout,
		exchangerate.WithBaseURL(cfg.ExchangeRateURL),
	)
	couponSvc := services.NewCouponService(couponRepo, courseRepo, events, metrics, logger)
	fulfillment := services.NewFulfillmentService(services.FulfillmentDeps{
		Orders:      orderRepo,
		Enrollments: enrollmentRepo,
		Progress:    progressRepo,
		Courses:     courseRepo,
		Carts:       cartRepo,
		Coupons:     couponSvc,
		Notifier:    services.NewNotificationService(repository.NewNotificationRepository(db), logger),
		Events:      events,
		Receipts:    services.NewReceiptService(storage, cfg.ReceiptBucket, email, logger),
		Metrics:     metrics,
		Dispatch:    services.AsyncDispatcher(cfg.RequestTimeout),
	}, logger)
	builder := services.NewOrderBuilder(cartRepo, courseRepo, enrollmentRepo, orderRepo, rates, metrics, logger)
	stripeSvc := services.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.StripeTimeout)
	checkout := services.NewCheckoutService(builder, fulfillment, orderRepo, payments, webhookRepo, stripeSvc, metrics,
		services.CheckoutConfig{FrontendURL: cfg.FrontendURL, ManualPayments: cfg.ManualPayments()}, logger)

	if cfg.ManualPayments() {
		logger.Warn("Manual payment confirmations enabled", zap.String("env", cfg.Env))
	}

	// HTTP
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	controllers.RegisterValidators()

	r := gin.New()
	r.Use(
		gin.Recovery(),
		commonmw.RequestID(),
		commonmw.RequestLogger(logger),
		commonmw.SecurityHeaders(),
		commonmw.CORSMiddleware(cfg.CORSOrigins),
		commonmw.RateLimitMiddleware(cfg.RateLimitPerMinute, cfg.RateLimitBurst, routes.WebhookPath),
		commonmw.Timeout(cfg.RequestTimeout),
		commonmw.MetricsMiddleware(metrics, serviceName),
		apperrors.ErrorMiddleware(logger),
	)

	authMW := middleware.AuthMiddleware(auth.NewTokenVerifier(cfg.JWTSecret), logger)
	routes.RegisterPaymentRoutes(r, controllers.NewPaymentController(checkout, stripeSvc, logger), authMW)
	routes.RegisterCouponRoutes(r, controllers.NewCouponController(couponSvc, logger), authMW)
	routes.RegisterHealthRoutes(r, map[string]routes.HealthCheck{
		"mongo": func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) },
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Payment service running", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}
	logger.Info("Server shutdown complete")
}
