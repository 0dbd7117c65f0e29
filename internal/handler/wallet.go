package handler

import (
	"net/http"

	"marketplace-ledger/internal/dto"
	"marketplace-ledger/internal/middleware"
	"marketplace-ledger/internal/model"
	"marketplace-ledger/internal/repository"
	"marketplace-ledger/internal/service"

	"github.com/labstack/echo/v4"
)

type WalletHandler struct {
	walletService     service.WalletService
	depositService    service.DepositService
	withdrawalService service.WithdrawalService
	statsService      service.StatsService
}

func NewWalletHandler(
	walletService service.WalletService,
	depositService service.DepositService,
	withdrawalService service.WithdrawalService,
	statsService service.StatsService,
) *WalletHandler {
	return &WalletHandler{
		walletService:     walletService,
		depositService:    depositService,
		withdrawalService: withdrawalService,
		statsService:      statsService,
	}
}

func (h *WalletHandler) GetBalance(c echo.Context) error {
	ctx := c.Request().Context()

	balance, err := h.walletService.GetBalance(ctx, middleware.UserID(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, balance)
}

func (h *WalletHandler) ListTransactions(c echo.Context) error {
	ctx := c.Request().Context()

	limit, offset, err := pageParams(c)
	if err != nil {
		return err
	}
	filter := repository.TransactionFilter{Limit: limit, Offset: offset}
	if typ := c.QueryParam("type"); typ != "" {
		filter.Types = []model.TransactionType{model.TransactionType(typ)}
	}
	if status := c.QueryParam("status"); status != "" {
		filter.Statuses = []model.TransactionStatus{model.TransactionStatus(status)}
	}

	txs, err := h.walletService.ListTransactions(ctx, middleware.UserID(c), filter)
	if err != nil {
		return err
	}

	resp := make([]*dto.TransactionResponse, 0, len(txs))
	for _, t := range txs {
		resp = append(resp, toTransactionResponse(t))
	}
	return c.JSON(http.StatusOK, resp)
}

// Deposit answers 201 with the credited line. A declined payment is 502 and
// leaves a failed line behind.
func (h *WalletHandler) Deposit(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.DepositRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = "card"
	}

	line, err := h.depositService.Deposit(ctx, middleware.UserID(c), service.DepositRequest{
		Amount:           req.Amount,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, toTransactionResponse(line))
}

func (h *WalletHandler) RequestWithdrawal(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.WithdrawalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	w, err := h.withdrawalService.Request(ctx, middleware.UserID(c), req.Amount,
		model.PaymentMethod(req.PaymentMethod), req.PaymentDetails)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, toWithdrawalResponse(w))
}

func (h *WalletHandler) ListWithdrawals(c echo.Context) error {
	ctx := c.Request().Context()

	limit, offset, err := pageParams(c)
	if err != nil {
		return err
	}

	list, err := h.withdrawalService.List(ctx, middleware.UserID(c), limit, offset)
	if err != nil {
		return err
	}

	resp := make([]*dto.WithdrawalResponse, 0, len(list))
	for _, w := range list {
		resp = append(resp, toWithdrawalResponse(w))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *WalletHandler) SellerStats(c echo.Context) error {
	ctx := c.Request().Context()

	stats, err := h.statsService.SellerStats(ctx, middleware.UserID(c))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, stats)
}
