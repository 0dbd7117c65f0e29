package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/dto"
	"marketplace-ledger/internal/handler"
	mw "marketplace-ledger/internal/middleware"
	"marketplace-ledger/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Services struct {
	Checkout    service.CheckoutService
	Orders      service.OrderService
	Wallet      service.WalletService
	Deposits    service.DepositService
	Withdrawals service.WithdrawalService
	Stats       service.StatsService
	Webhooks    service.WebhookService
}

type Options struct {
	JWTSecret     string
	WebhookSecret string
}

type Server struct {
	echo           *echo.Echo
	opts           Options
	orderHandler   *handler.OrderHandler
	walletHandler  *handler.WalletHandler
	adminHandler   *handler.AdminHandler
	webhookHandler *handler.WebhookHandler
}

func NewServer(svc Services, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	e.Use(middleware.RequestID())
	e.Use(mw.RequestLogContext())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				slog.WarnContext(c.Request().Context(), "request failed", append(attrs, "error", v.Error.Error())...)
				return nil
			}
			slog.InfoContext(c.Request().Context(), "request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:           e,
		opts:           opts,
		orderHandler:   handler.NewOrderHandler(svc.Checkout, svc.Orders),
		walletHandler:  handler.NewWalletHandler(svc.Wallet, svc.Deposits, svc.Withdrawals, svc.Stats),
		adminHandler:   handler.NewAdminHandler(svc.Withdrawals, svc.Wallet, svc.Stats),
		webhookHandler: handler.NewWebhookHandler(svc.Webhooks),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// -------- provider callbacks --------
	hooks := api.Group("/webhooks", mw.WebhookAuth(s.opts.WebhookSecret))
	hooks.POST("/payments", s.webhookHandler.Payments)
	hooks.POST("/payouts", s.webhookHandler.Payouts)

	authed := api.Group("", mw.AuthMiddleware(s.opts.JWTSecret))

	// -------- orders --------
	orders := authed.Group("/orders")
	orders.POST("", s.orderHandler.CreateOrder)
	orders.GET("", s.orderHandler.ListOrders)
	orders.GET("/:orderId", s.orderHandler.GetOrder)
	orders.POST("/:orderId/confirm", s.orderHandler.ConfirmPayment)
	orders.POST("/:orderId/cancel", s.orderHandler.CancelOrder)
	orders.POST("/:orderId/refund", s.orderHandler.RefundOrder)
	orders.POST("/:orderId/downloads", s.orderHandler.RecordDownload)

	// -------- wallet --------
	wallet := authed.Group("/wallet")
	wallet.GET("/balance", s.walletHandler.GetBalance)
	wallet.GET("/transactions", s.walletHandler.ListTransactions)
	wallet.POST("/deposits", s.walletHandler.Deposit)
	wallet.POST("/withdrawals", s.walletHandler.RequestWithdrawal)
	wallet.GET("/withdrawals", s.walletHandler.ListWithdrawals)

	authed.GET("/sellers/me/stats", s.walletHandler.SellerStats)

	// -------- admin --------
	admin := authed.Group("/admin", mw.RequireAdmin())
	admin.POST("/withdrawals/:id/advance", s.adminHandler.AdvanceWithdrawal)
	admin.POST("/withdrawals/:id/complete", s.adminHandler.CompleteWithdrawal)
	admin.POST("/withdrawals/:id/reject", s.adminHandler.RejectWithdrawal)
	admin.GET("/platform-earnings", s.adminHandler.PlatformEarnings)
	admin.GET("/wallets/:userId/reconcile", s.adminHandler.ReconcileWallet)
	admin.POST("/wallets/reconcile", s.adminHandler.ReconcileAll)
}

// errorHandler renders every failure as {"code", "message"}. Ledger errors
// carry their own status; anything unrecognised is a 500.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := dto.ErrorResponse{Code: "InternalError", Message: "internal server error"}

	var he *echo.HTTPError
	if e, ok := apperr.As(err); ok {
		status = e.Status
		body = dto.ErrorResponse{Code: e.Code, Message: e.Message}
	} else if errors.As(err, &he) {
		status = he.Code
		body = dto.ErrorResponse{Code: http.StatusText(he.Code), Message: fmt.Sprint(he.Message)}
	}

	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request().Context(), "request error",
			"method", c.Request().Method,
			"path", c.Path(),
			"error", err,
		)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		slog.ErrorContext(c.Request().Context(), "write error response", "error", err)
	}
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
