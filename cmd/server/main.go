package main // Entry point package

import (
	"context"
	"errors"
	"log" // used only before the zap logger exists
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4" // Echo web framework
	"go.uber.org/zap"

	"github.com/iliyamo/studyhall-marketplace/internal/config" // Internal config loader
	"github.com/iliyamo/studyhall-marketplace/internal/database"
	"github.com/iliyamo/studyhall-marketplace/internal/handler"
	"github.com/iliyamo/studyhall-marketplace/internal/logger"
	"github.com/iliyamo/studyhall-marketplace/internal/middleware"
	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/iliyamo/studyhall-marketplace/internal/monitoring"
	"github.com/iliyamo/studyhall-marketplace/internal/payment"
	"github.com/iliyamo/studyhall-marketplace/internal/pricing"
	"github.com/iliyamo/studyhall-marketplace/internal/queue"
	"github.com/iliyamo/studyhall-marketplace/internal/realtime"
	"github.com/iliyamo/studyhall-marketplace/internal/router" // Internal router setup
	"github.com/iliyamo/studyhall-marketplace/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load() // Load environment config

	zl, err := logger.New(cfg.Env, os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		zl.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()
	if cfg.AutoMigrate {
		applied, err := database.Migrate(ctx, db)
		if err != nil {
			zl.Fatal("migration failed", zap.Error(err))
		}
		if len(applied) > 0 {
			zl.Info("migrations applied", zap.Strings("versions", applied))
		}
	}

	// Redis is optional; every consumer degrades when it is nil.
	rdb := config.NewRedisClient(zl)
	if rdb != nil {
		defer rdb.Close()
	}

	publisher := queue.NewPublisher(cfg.RabbitURL, queue.Exchange, zl)
	defer publisher.Close()
	hub := realtime.NewHub(rdb, zl)
	repos := service.NewRepos(db)

	// ---- Payment rails ----
	// Offline is always on; the online rails need credentials.
	registry := payment.NewRegistry()
	registry.Register(payment.NewOffline(cfg.Payment.Currency))
	var gateway service.Gateway
	if cfg.Payment.RazorpayKeyID != "" && cfg.Payment.RazorpayKeySecret != "" {
		rz := payment.NewRazorpay(payment.RazorpayConfig{
			KeyID:         cfg.Payment.RazorpayKeyID,
			KeySecret:     cfg.Payment.RazorpayKeySecret,
			WebhookSecret: cfg.Payment.RazorpayWebhookSecret,
			Currency:      cfg.Payment.Currency,
		})
		registry.Register(rz)
		gateway = rz
	}
	if cfg.Payment.EKQRAPIKey != "" {
		registry.Register(payment.NewEKQR(payment.EKQRConfig{
			APIKey:      cfg.Payment.EKQRAPIKey,
			BaseURL:     cfg.Payment.EKQRBaseURL,
			RedirectURL: cfg.Payment.EKQRRedirectURL,
			Currency:    cfg.Payment.Currency,
		}))
	}
	zl.Info("payment rails enabled", zap.Strings("methods", registry.Methods()))

	// ---- Services ----
	rules := pricing.Rules{
		MaxDays:          cfg.Booking.MaxDays,
		EarnUnit:         cfg.Reward.EarnUnit,
		PointValue:       cfg.Reward.PointValue,
		MaxRedeemPercent: cfg.Reward.MaxRedeemPercent,
	}
	locker := service.NewSeatLocker(rdb, cfg.Booking.SeatLockTTL, zl)
	bookings := service.NewBookingService(db, repos, locker, rules, cfg.Booking.PaymentWindow, publisher, hub, zl)
	payments := service.NewPaymentService(db, repos, registry, gateway, rules,
		service.PaymentOptions{Currency: cfg.Payment.Currency, OfflineWindow: cfg.Booking.OfflinePaymentWindow},
		publisher, hub, zl)
	settlements := service.NewSettlementService(db, repos, cfg.Settlement.CommissionPercent, zl)
	incharges := service.NewInchargeService(db, repos, cfg.BcryptCost, zl)

	// ---- Background workers ----
	var wg sync.WaitGroup
	spawn := func(name string, run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run(ctx)
			zl.Info("worker stopped", zap.String("worker", name))
		}()
	}
	spawn("sweeper", service.NewSweeper(bookings, cfg.Booking.SweepInterval, zl).Run)
	if poller := service.NewPoller(payments, registry, model.MethodEKQR, service.PollConfig{
		Interval:    cfg.Payment.PollInterval,
		BackoffStep: cfg.Payment.PollBackoffStep,
		MaxAttempts: cfg.Payment.PollMaxAttempts,
		BatchSize:   cfg.Payment.PollBatchSize,
		LateGrace:   cfg.Payment.PollLateGrace,
	}, zl); poller != nil {
		spawn("ekqr-poller", poller.Run)
	}
	spawn("monitor", monitoring.NewMonitor(db, 0, zl).Run)
	consumer := queue.NewNotificationConsumer(cfg.RabbitURL, repos.Notifications, zl)
	spawn("notification-consumer", func(ctx context.Context) {
		if err := consumer.Run(ctx); err != nil {
			zl.Error("notification consumer failed", zap.Error(err))
		}
	})

	// ---- HTTP ----
	e := echo.New() // Create Echo instance
	e.HideBanner = true
	e.Validator = handler.RequestValidator{}
	e.Use(middleware.RequestLogger(zl), middleware.Metrics())

	rl := config.LoadRateLimitConfig()
	publicLimit := middleware.NewTokenBucket(rl, rdb, zl)
	payLimit := middleware.NewTokenBucket(rl.WithPrefix("pay", 10), rdb, zl)
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb, zl)

	router.RegisterRoutes(e, &handler.ReadyHandler{DB: db, Redis: rdb})
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, repos.Users, repos.Tokens), cfg.JWTSecret)
	router.RegisterPublic(e, handler.NewPublicHandler(repos, bookings), cfg.JWTSecret, publicLimit, cache)
	payHandler := handler.NewPaymentHandler(payments)
	router.RegisterStudent(e, handler.NewStudentHandler(repos, bookings), payHandler, cfg.JWTSecret, payLimit)
	router.RegisterAccount(e, handler.NewAccountHandler(repos), cfg.JWTSecret)
	router.RegisterWebhooks(e, payHandler)
	router.RegisterOfflineDesk(e, payHandler, cfg.JWTSecret)
	router.RegisterMerchant(e, handler.NewMerchantHandler(repos, incharges), cfg.JWTSecret)
	router.RegisterIncharge(e, handler.NewInchargeHandler(repos), cfg.JWTSecret)
	router.RegisterSupport(e, handler.NewSupportHandler(repos, bookings), cfg.JWTSecret)
	router.RegisterAdmin(e, handler.NewAdminHandler(repos, hub, cfg.BcryptCost), cfg.JWTSecret)
	router.RegisterSettlements(e, handler.NewSettlementHandler(repos, settlements), cfg.JWTSecret)
	router.RegisterRealtime(e, handler.NewStreamHandler(repos, hub, zl), cfg.JWTSecret)

	addr := ":" + cfg.Port // Address string with port
	go func() {
		zl.Info("listening", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown", zap.Error(err))
	}
	wg.Wait()
}
