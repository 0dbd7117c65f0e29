package handler

import (
	"net/http"

	"marketplace-ledger/internal/dto"
	"marketplace-ledger/internal/service"

	"github.com/labstack/echo/v4"
)

type WebhookHandler struct {
	webhookService service.WebhookService
}

func NewWebhookHandler(webhookService service.WebhookService) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
	}
}

func (h *WebhookHandler) Payments(c echo.Context) error {
	ctx := c.Request().Context()

	var ev dto.PaymentWebhook
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook payload")
	}

	ack, err := h.webhookService.HandlePayment(ctx, ev)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ack)
}

func (h *WebhookHandler) Payouts(c echo.Context) error {
	ctx := c.Request().Context()

	var ev dto.PayoutWebhook
	if err := c.Bind(&ev); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook payload")
	}

	ack, err := h.webhookService.HandlePayout(ctx, ev)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ack)
}
