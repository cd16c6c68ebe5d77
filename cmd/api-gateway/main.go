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

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/shule-api/api/swagger"
	"github.com/noah-isme/shule-api/internal/handler"
	"github.com/noah-isme/shule-api/internal/middleware"
	"github.com/noah-isme/shule-api/internal/repository"
	"github.com/noah-isme/shule-api/internal/service"
	"github.com/noah-isme/shule-api/pkg/cache"
	"github.com/noah-isme/shule-api/pkg/config"
	"github.com/noah-isme/shule-api/pkg/database"
	"github.com/noah-isme/shule-api/pkg/export"
	"github.com/noah-isme/shule-api/pkg/jobs"
	"github.com/noah-isme/shule-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/shule-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/shule-api/pkg/middleware/requestid"
	"github.com/noah-isme/shule-api/pkg/mpesa"
	"github.com/noah-isme/shule-api/pkg/sms"
	"github.com/noah-isme/shule-api/pkg/storage"
)

// @title Shule API
// @version 1.0.0
// @description School management API: timetabling, fees and M-Pesa payments
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	validate := validator.New()

	// Repositories
	txManager := repository.NewTxManager(db)
	timeSlotRepo := repository.NewTimeSlotRepository(db)
	feeRepo := repository.NewFeeRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	studentRepo := repository.NewStudentRepository(db)

	var timetableCache *repository.CacheRepository
	if cfg.Timetable.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, timetable caching disabled", zap.Error(err))
		} else {
			defer redisClient.Close()
			timetableCache = repository.NewCacheRepository(redisClient, logr)
		}
	}

	// Provider clients
	var gateway mpesa.Gateway
	if cfg.Mpesa.ConsumerKey != "" {
		gateway = mpesa.NewClient(cfg.Mpesa)
	} else {
		logr.Warn("M-Pesa credentials missing, STK payments disabled")
	}
	var sender sms.Sender
	if cfg.SMS.APIKey != "" {
		sender = sms.NewClient(cfg.SMS)
	} else {
		logr.Warn("SMS credentials missing, notifications disabled")
	}

	// Services
	metricsSvc := service.NewMetricsService()
	var timetableSvc *service.TimetableService
	if timetableCache != nil {
		timetableSvc = service.NewTimetableService(timeSlotRepo, timetableCache, cfg.Timetable.CacheTTL, metricsSvc, validate, logr)
	} else {
		timetableSvc = service.NewTimetableService(timeSlotRepo, nil, 0, metricsSvc, validate, logr)
	}
	feeSvc := service.NewFeeService(feeRepo, studentRepo, sender, export.NewCSVExporter(), validate, logr)
	paymentSvc := service.NewPaymentService(paymentRepo, feeRepo, studentRepo, txManager, gateway, sender, export.NewPDFExporter(), metricsSvc, validate, logr, cfg.Payments.PendingMaxAge, cfg.SchoolName)

	var receiptStore *storage.LocalStorage
	if cfg.ReceiptsDir != "" {
		receiptStore, err = storage.NewLocalStorage(cfg.ReceiptsDir)
		if err != nil {
			logr.Warn("receipt archive disabled", zap.Error(err))
		}
	}

	// Handlers
	timetableHandler := handler.NewTimetableHandler(timetableSvc)
	feeHandler := handler.NewFeeHandler(feeSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc, receiptStore)
	mpesaHandler := handler.NewMpesaHandler(paymentSvc, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	api := r.Group(cfg.APIPrefix)

	timetable := api.Group("/timetable")
	{
		timetable.GET("/slots", timetableHandler.List)
		timetable.POST("/slots", timetableHandler.Create)
		timetable.POST("/slots/bulk", timetableHandler.Bulk)
		timetable.GET("/slots/:id", timetableHandler.Get)
		timetable.PUT("/slots/:id", timetableHandler.Update)
		timetable.DELETE("/slots/:id", timetableHandler.Delete)
		timetable.POST("/check", timetableHandler.Check)
		timetable.GET("/class/:classId", timetableHandler.ClassTimetable)
		timetable.DELETE("/class/:classId", timetableHandler.DeleteClassTimetable)
		timetable.GET("/teacher/:teacherId", timetableHandler.TeacherTimetable)
		timetable.GET("/statistics", timetableHandler.Statistics)
	}

	fees := api.Group("/fees")
	{
		fees.GET("", feeHandler.List)
		fees.POST("/generate", feeHandler.Generate)
		fees.GET("/defaulters", feeHandler.Defaulters)
		fees.GET("/defaulters/export", feeHandler.ExportDefaulters)
		fees.POST("/defaulters/remind", feeHandler.Remind)
		fees.POST("/overdue", feeHandler.MarkOverdue)
		fees.GET("/:id", feeHandler.Get)
	}

	payments := api.Group("/payments")
	{
		payments.GET("", paymentHandler.List)
		payments.GET("/stats", paymentHandler.Stats)
		payments.POST("/mpesa/stk", paymentHandler.InitiateSTK)
		payments.POST("/manual", paymentHandler.Manual)
		payments.POST("/reconcile", paymentHandler.Reconcile)
		payments.GET("/:id", paymentHandler.Get)
		payments.GET("/:id/status", paymentHandler.Status)
		payments.GET("/:id/receipt", paymentHandler.Receipt)
	}

	webhooks := api.Group("/mpesa")
	{
		webhooks.POST("/callback", mpesaHandler.STKCallback)
		webhooks.POST("/c2b/validation", mpesaHandler.C2BValidation)
		webhooks.POST("/c2b/confirmation", mpesaHandler.C2BConfirmation)
	}

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Background reconciliation of payments stuck in PENDING. Each stale
	// payment is dispatched to the worker queue so a slow provider query
	// never blocks the sweep.
	reconcileQueue := jobs.NewQueue("payment-reconcile", func(ctx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(reconcilePayload)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", job.Payload)
		}
		return paymentSvc.ReconcilePayment(ctx, payload.PaymentID, payload.CheckoutRequestID)
	}, jobs.QueueConfig{
		Workers:    cfg.Payments.WorkerConcurrency,
		MaxRetries: cfg.Payments.WorkerRetries,
		Logger:     logr,
	})
	reconcileQueue.Start(rootCtx)
	defer reconcileQueue.Stop()

	go runReconciler(rootCtx, cfg.Payments.ReconcileInterval, cfg.Payments.PendingMaxAge, paymentRepo, reconcileQueue, logr)

	if receiptStore != nil {
		go pruneReceipts(rootCtx, receiptStore, logr)
	}

	// Register C2B URLs once at startup so Daraja knows where to confirm
	// paybill payments.
	if gateway != nil && cfg.Mpesa.CallbackURL != "" {
		ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
		if err := gateway.RegisterC2BURLs(ctx, cfg.Mpesa.CallbackURL+"/c2b/validation", cfg.Mpesa.CallbackURL+"/c2b/confirmation"); err != nil {
			logr.Warn("C2B URL registration failed", zap.Error(err))
		}
		cancel()
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

// pruneReceipts drops archived receipt PDFs older than 90 days.
func pruneReceipts(ctx context.Context, store *storage.LocalStorage, logr *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.CleanupOlderThan(90 * 24 * time.Hour)
			if err != nil {
				logr.Warn("receipt cleanup failed", zap.Error(err))
				continue
			}
			if len(removed) > 0 {
				logr.Info("archived receipts pruned", zap.Int("count", len(removed)))
			}
		}
	}
}

type reconcilePayload struct {
	PaymentID         string
	CheckoutRequestID string
}

// runReconciler enqueues stale pending payments on a fixed interval.
func runReconciler(ctx context.Context, interval, maxAge time.Duration, payments *repository.PaymentRepository, queue *jobs.Queue, logr *zap.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stale, err := payments.ListStalePending(ctx, time.Now().UTC().Add(-maxAge))
			if err != nil {
				logr.Warn("stale payment sweep failed", zap.Error(err))
				continue
			}
			for _, p := range stale {
				job := jobs.Job{
					Type:    "payment-reconcile",
					Payload: reconcilePayload{PaymentID: p.ID, CheckoutRequestID: p.MpesaRequestID},
				}
				if err := queue.Enqueue(job); err != nil {
					logr.Warn("reconcile enqueue failed", zap.String("payment_id", p.ID), zap.Error(err))
				}
			}
			if len(stale) > 0 {
				logr.Info("stale payments queued for reconciliation", zap.Int("count", len(stale)))
			}
		}
	}
}
