package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dejidee0/Dimplesluxe/internal/appstate"
	"github.com/dejidee0/Dimplesluxe/internal/config"
	"github.com/dejidee0/Dimplesluxe/internal/controller"
	"github.com/dejidee0/Dimplesluxe/internal/database"
	"github.com/dejidee0/Dimplesluxe/internal/events"
	"github.com/dejidee0/Dimplesluxe/internal/exchange"
	"github.com/dejidee0/Dimplesluxe/internal/infrastructure/payment"
	"github.com/dejidee0/Dimplesluxe/internal/repo"
	"github.com/dejidee0/Dimplesluxe/internal/router"
	"github.com/dejidee0/Dimplesluxe/internal/service"
	"github.com/dejidee0/Dimplesluxe/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	keyPrefix  = "dimplesluxe"
	sessionTTL = 7 * 24 * time.Hour
	cartQueue  = "dimplesluxe.cart-clear"
)

func setupLogger(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Str("service", "dimplesluxe-checkout").Logger()
}

func main() {
	cfg := config.Load()
	setupLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, database.DSN(cfg.DB))
	if err != nil {
		log.Fatal().Err(err).Msg("connect to database")
	}
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}
	dbService := database.New(db, cfg.DB.Database)
	defer dbService.Close()

	// Redis is optional: without it rates and sessions live in process.
	var (
		rateCache exchange.Cache = exchange.NewMemoryCache()
		store     appstate.Store = appstate.NewMemoryStore()
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("connect to redis")
		}
		rateCache = exchange.NewRedisCache(rdb, keyPrefix)
		store = appstate.NewRedisStore(rdb, keyPrefix, sessionTTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to redis")
	}

	rates := exchange.NewService(rateCache,
		&exchange.LatestSource{BaseURL: cfg.Exchange.LatestURL},
		&exchange.ConvertSource{URL: cfg.Exchange.ConvertURL, AccessKey: cfg.Exchange.AccessKey},
	)
	sessions := appstate.NewManager(store, rates)

	// RabbitMQ is optional: without it events are delivered in process.
	var publisher events.Publisher
	if cfg.RabbitURL != "" {
		conn, err := amqp091.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatal().Err(err).Msg("connect to rabbitmq")
		}
		defer conn.Close()

		pubCh, err := conn.Channel()
		if err != nil {
			log.Fatal().Err(err).Msg("open publish channel")
		}
		rp, err := events.NewRabbitPublisher(pubCh, events.ExchangeOrderStatus)
		if err != nil {
			log.Fatal().Err(err).Msg("setup order status exchange")
		}
		publisher = rp

		subCh, err := conn.Channel()
		if err != nil {
			log.Fatal().Err(err).Msg("open consume channel")
		}
		if err := events.Subscribe(ctx, subCh, events.ExchangeOrderStatus, cartQueue, sessions.OnStatusChanged); err != nil {
			log.Fatal().Err(err).Msg("subscribe cart clearing")
		}
	} else {
		local := events.NewLocalPublisher()
		local.Subscribe(sessions.OnStatusChanged)
		publisher = local
	}

	hosted := payment.NewHostedSession(payment.HostedSessionConfig{
		APIBase:       cfg.HostedSession.APIBase,
		SecretKey:     cfg.HostedSession.SecretKey,
		WebhookSecret: cfg.HostedSession.WebhookSecret,
	})
	approve := payment.NewApproveCapture(payment.ApproveCaptureConfig{
		APIBase:   cfg.ApproveCapture.APIBase,
		ClientID:  cfg.ApproveCapture.ClientID,
		Secret:    cfg.ApproveCapture.Secret,
		BrandName: cfg.Wallet.DisplayName,
	})
	bank := payment.NewBankTransfer(payment.BankTransferConfig{
		APIBase:   cfg.BankTransfer.APIBase,
		SecretKey: cfg.BankTransfer.SecretKey,
		Rates:     rates,
	})
	walletCfg := payment.WalletConfig{
		MerchantID:   cfg.Wallet.MerchantID,
		DisplayName:  cfg.Wallet.DisplayName,
		ProcessorURL: cfg.Wallet.ProcessorURL,
		ProcessorKey: cfg.Wallet.ProcessorKey,
		AllowedHosts: cfg.Wallet.AllowedHosts,
	}
	if u, err := url.Parse(cfg.BaseURL); err == nil {
		walletCfg.InitiativeContext = u.Hostname()
	}
	if cfg.Wallet.CertFile != "" {
		client, err := payment.NewMerchantClient(cfg.Wallet.CertFile, cfg.Wallet.KeyFile)
		if err != nil {
			log.Fatal().Err(err).Msg("load wallet merchant identity")
		}
		walletCfg.Client = client
	}
	wallet := payment.NewWallet(walletCfg)

	orderRepo := repo.NewOrderRepo(db)
	paymentRepo := repo.NewPaymentRepo(db)
	reconciler := service.NewReconciler(db, orderRepo, paymentRepo, publisher)
	checkoutService := service.NewCheckoutService(db, orderRepo, paymentRepo, rates, cfg.WhatsAppNumber)
	paymentService := service.NewPaymentService(orderRepo, reconciler, cfg.BaseURL, hosted, approve, bank, wallet)

	poller := worker.NewReconciliationWorker(orderRepo, paymentService, cfg.PollInterval, cfg.PollAfter)
	go poller.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	engine := router.New(router.Options{
		AllowedOrigins:        cfg.AllowedOrigins,
		Health:                dbService,
		Sessions:              controller.NewSessionController(sessions),
		Checkout:              controller.NewCheckoutController(checkoutService, paymentService, reconciler, sessions),
		Payments:              controller.NewPaymentController(paymentService),
		HostedWebhookVerifier: hosted.VerifyWebhook,
		BankWebhookVerifier:   bank.VerifyWebhook,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       time.Minute,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("checkout service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
}
