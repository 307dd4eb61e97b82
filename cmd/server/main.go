package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/travelnepal/booking-backend/internal/cache"
	"github.com/travelnepal/booking-backend/internal/config"
	"github.com/travelnepal/booking-backend/internal/database"
	"github.com/travelnepal/booking-backend/internal/handlers"
	"github.com/travelnepal/booking-backend/internal/middleware"
	"github.com/travelnepal/booking-backend/internal/services"
	"github.com/travelnepal/booking-backend/pkg/esewa"
	"github.com/travelnepal/booking-backend/pkg/jwt"
	"github.com/travelnepal/booking-backend/pkg/mailer"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting tour booking backend")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize database connection
	logger.Info("Connecting to database...")
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Database connection established")

	// Optional Redis for intent references
	var (
		redisClient *redis.Client
		intentStore services.IntentStore
	)
	if cfg.Redis.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis.URL)
		cancel()
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisClient.Close()
		intentStore = cache.NewIntentStore(redisClient, cfg.Redis.IntentRefTTL)
		logger.Info("Redis intent store enabled")
	} else {
		logger.Info("REDIS_URL not set, oversized intents stay in the redirect URL")
	}

	// Initialize services
	logger.Info("Initializing services...")
	gateway, err := esewa.NewClient(esewa.Config{
		Environment: cfg.ESewa.Environment,
		ProductCode: cfg.ESewa.ProductCode,
		SecretKey:   cfg.ESewa.SecretKey,
		PaymentURL:  cfg.ESewa.PaymentURL,
		StatusURL:   cfg.ESewa.StatusURL,
		Timeout:     cfg.ESewa.VerifyTimeout,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize eSewa client: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"environment":  gateway.Environment(),
		"product_code": gateway.ProductCode(),
		"payment_url":  gateway.PaymentURL(),
	}).Info("eSewa client initialized")

	jwtService := jwt.NewService(
		cfg.Booking.IntentTokenSecret,
		cfg.Admin.TokenSecret,
		cfg.Booking.IntentTokenTTL,
		cfg.Admin.TokenTTL,
	)
	if !jwtService.IntentEnabled() {
		logger.Warn("INTENT_TOKEN_SECRET not set, booking intents are carried unsigned")
	}

	txRunner := database.NewTxRunner(db, cfg.Database.TxMaxAttempts, logger)
	bookingStore := database.NewBookingStore(db, txRunner, logger)
	auditService := services.NewAuditService(database.NewPaymentAuditRepository(db, logger), logger)
	carrier := services.NewIntentCarrier(jwtService, intentStore, cfg.Booking.MaxURLLength, logger)
	notifier := mailer.New(cfg.Mailer.APIKey, cfg.Mailer.FromName, cfg.Mailer.FromEmail, logger)

	bookingService := services.NewBookingService(bookingStore, gateway, carrier, auditService, cfg.Booking.PublicBaseURL, logger)
	reconciler := services.NewReconciliationService(
		bookingStore,
		gateway,
		carrier,
		auditService,
		notifier,
		services.ReconciliationOptions{
			AllowSkipVerification:   cfg.ESewa.AllowSkipVerification,
			VerifyCallbackSignature: cfg.ESewa.VerifyCallbackSignature,
		},
		logger,
	)
	if cfg.ESewa.AllowSkipVerification {
		logger.Warn("ESEWA_ALLOW_SKIP_VERIFICATION is on, callbacks may bypass the status check")
	}
	logger.Info("Services initialized")

	// Initialize handlers
	bookingHandler := handlers.NewBookingHandler(bookingService, logger)
	callbackHandler := handlers.NewPaymentCallbackHandler(
		reconciler,
		auditService,
		cfg.Booking.FrontendSuccessURL,
		cfg.Booking.FrontendFailureURL,
		logger,
	)
	adminHandler := handlers.NewAdminHandler(auditService, logger)

	// Initialize Gin router
	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))

	// CORS configuration
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(corsConfig))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db, redisClient))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", healthCheckHandler(db, redisClient))

		bookings := v1.Group("/bookings")
		{
			bookings.POST("/esewa", bookingHandler.InitiateBooking)
			bookings.GET("/transactions/:transaction_uuid", bookingHandler.GetBookingByTransaction)
		}

		esewaRoutes := v1.Group("/esewa/v2")
		{
			esewaRoutes.GET("/success", callbackHandler.Success)
			esewaRoutes.GET("/verify", callbackHandler.Success)
			esewaRoutes.GET("/failure", callbackHandler.Failure)
		}

		admin := v1.Group("/admin", middleware.AdminAuth(jwtService, logger))
		{
			admin.GET("/payments/:transaction_uuid/audits", adminHandler.GetPaymentAudits)
			admin.GET("/audits/amount-mismatches", adminHandler.GetAmountMismatches)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server listening on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// Let queued confirmation emails finish
	reconciler.Wait()

	logger.Info("Server exited")
}

// healthCheckHandler returns a health check endpoint
func healthCheckHandler(db database.DB, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
				"error":    err.Error(),
			})
			return
		}

		redisStatus := "disabled"
		if redisClient != nil {
			redisStatus = "healthy"
			if err := redisClient.Ping(ctx).Err(); err != nil {
				redisStatus = "unhealthy"
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"database":  "healthy",
			"redis":     redisStatus,
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}
