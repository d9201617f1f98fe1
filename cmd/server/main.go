// Package main runs the course-marketplace payment HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xuanthe1908/E-Learning-Full/config"
	"github.com/xuanthe1908/E-Learning-Full/internal/auth"
	"github.com/xuanthe1908/E-Learning-Full/internal/courses"
	"github.com/xuanthe1908/E-Learning-Full/internal/middleware"
	"github.com/xuanthe1908/E-Learning-Full/internal/payments"
	"github.com/xuanthe1908/E-Learning-Full/internal/realtime"
	"github.com/xuanthe1908/E-Learning-Full/internal/vnpay"
	"github.com/xuanthe1908/E-Learning-Full/pkg/database"
	"github.com/xuanthe1908/E-Learning-Full/pkg/queue"
	"github.com/xuanthe1908/E-Learning-Full/pkg/redis"
	"github.com/xuanthe1908/E-Learning-Full/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	gateway, err := vnpay.NewClient(vnpay.Config{
		TmnCode:      cfg.VNPay.TmnCode,
		HashSecret:   cfg.VNPay.HashSecret,
		PayURL:       cfg.VNPay.PayURL,
		QRURL:        cfg.VNPay.QRURL,
		QueryURL:     cfg.VNPay.QueryURL,
		ReturnURL:    cfg.VNPay.ReturnURL,
		QueryTimeout: cfg.VNPay.QueryTimeout,
	}, logger)
	if err != nil {
		logger.Fatal("vnpay", zap.Error(err))
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)

	bridge := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, bridge)
	bridgeCtx, stopBridge := context.WithCancel(ctx)
	defer stopBridge()
	go bridge.Run(bridgeCtx, hub)

	jobQueue := queue.NewQueue(rdb.Client, logger)

	courseRepo := courses.NewRepository(pool)
	courseHandler := courses.NewHandler(courseRepo, logger)

	paymentRepo := payments.NewRepository(pool)
	reconciler := payments.NewReconciler(paymentRepo, courseRepo, gateway, hub, jobQueue, logger)
	paymentHandler := payments.NewHandler(paymentRepo, courseRepo, gateway, reconciler, hub, cfg.VNPay.IntentTTL, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Gateway callbacks (no JWT; authenticated by signature)
	router.GET("/payments/vnpay/return", paymentHandler.HandleReturn)
	router.POST("/payments/vnpay/webhook", paymentHandler.HandleWebhook)

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/payments/vnpay/create-payment-url", paymentHandler.CreatePaymentURL)
		api.POST("/payments/vnpay/create-qr-payment", paymentHandler.CreateQRPayment)
		api.GET("/payments/vnpay/status/:orderId", paymentHandler.GetStatus)
		api.GET("/payments/vnpay/ws/:orderId", paymentHandler.WatchStatus)
		api.DELETE("/payments/vnpay/:orderId", paymentHandler.CancelPayment)

		api.POST("/courses/:id/enroll", courseHandler.EnrollFree)
		api.GET("/enrollments", courseHandler.ListEnrollments)

		// Admin dashboard
		api.GET("/payments", middleware.RequireRole("admin"), paymentHandler.List)
		api.GET("/payments/revenue/monthly", middleware.RequireRole("admin"), paymentHandler.MonthlyRevenue)
		api.GET("/payments/revenue/by-month", middleware.RequireRole("admin"), paymentHandler.RevenueByMonth)
		api.GET("/payments/enrollments/by-month", middleware.RequireRole("admin"), paymentHandler.EnrollmentsByMonth)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server started", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
