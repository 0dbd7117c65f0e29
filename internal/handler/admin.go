package handler

import (
	"net/http"

	"marketplace-ledger/internal/dto"
	"marketplace-ledger/internal/service"

	"github.com/labstack/echo/v4"
)

// AdminHandler serves the back-office routes; the router puts them behind
// RequireAdmin.
type AdminHandler struct {
	withdrawalService service.WithdrawalService
	walletService     service.WalletService
	statsService      service.StatsService
}

func NewAdminHandler(
	withdrawalService service.WithdrawalService,
	walletService service.WalletService,
	statsService service.StatsService,
) *AdminHandler {
	return &AdminHandler{
		withdrawalService: withdrawalService,
		walletService:     walletService,
		statsService:      statsService,
	}
}

func (h *AdminHandler) AdvanceWithdrawal(c echo.Context) error {
	ctx := c.Request().Context()

	w, err := h.withdrawalService.Advance(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toWithdrawalResponse(w))
}

func (h *AdminHandler) CompleteWithdrawal(c echo.Context) error {
	ctx := c.Request().Context()

	w, err := h.withdrawalService.Complete(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toWithdrawalResponse(w))
}

func (h *AdminHandler) RejectWithdrawal(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.RejectWithdrawalRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	w, err := h.withdrawalService.Reject(ctx, c.Param("id"), req.Reason)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toWithdrawalResponse(w))
}

func (h *AdminHandler) PlatformEarnings(c echo.Context) error {
	ctx := c.Request().Context()

	from, err := parseTime("from", c.QueryParam("from"))
	if err != nil {
		return err
	}
	to, err := parseTime("to", c.QueryParam("to"))
	if err != nil {
		return err
	}

	earnings, err := h.statsService.PlatformEarnings(ctx, from, to)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, earnings)
}

func (h *AdminHandler) ReconcileWallet(c echo.Context) error {
	ctx := c.Request().Context()

	rec, err := h.walletService.Reconcile(ctx, c.Param("userId"))
	if err != nil && rec == nil {
		return err
	}

	// drift is reported in the body, not as a failed request
	return c.JSON(http.StatusOK, rec)
}

func (h *AdminHandler) ReconcileAll(c echo.Context) error {
	ctx := c.Request().Context()

	failed, err := h.walletService.ReconcileAll(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"failed": failed,
	})
}
