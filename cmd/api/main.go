package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketplace-ledger/internal/client"
	"marketplace-ledger/internal/config"
	"marketplace-ledger/internal/logger"
	"marketplace-ledger/internal/notify"
	"marketplace-ledger/internal/repository"
	"marketplace-ledger/internal/server"
	"marketplace-ledger/internal/service"
	"marketplace-ledger/internal/worker"

	"github.com/shopspring/decimal"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Init(cfg.Log)

	if err := run(cfg); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	db, err := client.InitDBClient(cfg.Database)
	if err != nil {
		return err
	}

	productRepo := repository.NewProductRepository(db)
	if cfg.Database.Seed {
		if err := productRepo.Seed(ctx); err != nil {
			return err
		}
	}

	feePercent, err := decimal.NewFromString(cfg.Pricing.DefaultFeePercent)
	if err != nil {
		return errors.New("PRICING_DEFAULT_FEE_PERCENT must be a decimal")
	}

	var gateway client.PaymentGateway
	switch cfg.Payment.Provider {
	case "braintree":
		gateway = client.NewBraintreeGateway(&cfg.BrainTree)
	default:
		gateway = client.NewSimulatedGateway(cfg.Payment.SimulatedLatency)
	}

	payouts := &client.PayoutRouter{
		Default:  client.NewManualPayoutClient(),
		ByMethod: map[string]client.PayoutClient{},
	}
	if cfg.Paypal.Enabled() {
		payouts.ByMethod["paypal"] = client.NewPaypalPayoutClient(&cfg.Paypal)
	}

	// events go to redis when configured, otherwise to the log
	publisher := notify.NewLogPublisher()
	if cfg.Redis.Addr != "" {
		rdb, err := client.InitRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		publisher = notify.NewRedisPublisher(rdb, cfg.Redis.Channel)
	}
	dispatcher := notify.NewDispatcher(publisher, 256)
	dispatcher.Start()
	defer dispatcher.Close()

	orderRepo := repository.NewOrderRepository()
	walletRepo := repository.NewWalletRepository()
	withdrawalRepo := repository.NewWithdrawalRepository()
	now := func() time.Time { return time.Now().UTC() }

	walletService := service.NewWalletService(db, walletRepo, withdrawalRepo, now)
	orderService := service.NewOrderService(db, orderRepo, walletRepo, walletService, dispatcher, now)
	checkoutService := service.NewCheckoutService(
		db, gateway,
		productRepo,
		orderRepo,
		repository.NewCheckoutRepository(),
		orderService,
		walletService,
		dispatcher,
		service.CheckoutPolicy{
			DefaultFeePercent: feePercent,
			PaymentTimeout:    cfg.Checkout.PaymentTimeout,
			ExpireAfter:       cfg.Checkout.ExpireAfter,
			ClearingPeriod:    cfg.Wallet.ClearingPeriod,
			SettleWithin:      cfg.Checkout.SettleWithin,
		},
		now,
	)
	depositService := service.NewDepositService(db, gateway, walletRepo, walletService, dispatcher, cfg.Checkout.PaymentTimeout)
	withdrawalService := service.NewWithdrawalService(db, withdrawalRepo, walletService, payouts, dispatcher, now)
	webhookService := service.NewWebhookService(db, repository.NewWebhookEventRepository(), checkoutService, depositService, withdrawalService)

	sweeper := worker.NewSweeper(walletService, checkoutService, cfg.Wallet.SweepInterval, cfg.Wallet.ClearingPeriod)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	srv := server.NewServer(server.Services{
		Checkout:    checkoutService,
		Orders:      orderService,
		Wallet:      walletService,
		Deposits:    depositService,
		Withdrawals: withdrawalService,
		Stats:       service.NewStatsService(db, orderRepo),
		Webhooks:    webhookService,
	}, server.Options{
		JWTSecret:     cfg.Auth.JWTSecret,
		WebhookSecret: cfg.Webhook.Secret,
	})

	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port
	slog.Info("starting HTTP server", "addr", serverAddr, "env", cfg.Environment.Name, "payment_provider", cfg.Payment.Provider)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case err := <-errCh:
		return err
	case <-sigChan:
	}
	slog.Info("signal received, starting graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}
