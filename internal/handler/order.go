package handler

import (
	"fmt"
	"net/http"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/dto"
	"marketplace-ledger/internal/middleware"
	"marketplace-ledger/internal/model"
	"marketplace-ledger/internal/pricing"
	"marketplace-ledger/internal/repository"
	"marketplace-ledger/internal/service"

	"github.com/labstack/echo/v4"
)

type OrderHandler struct {
	checkoutService service.CheckoutService
	orderService    service.OrderService
}

func NewOrderHandler(checkoutService service.CheckoutService, orderService service.OrderService) *OrderHandler {
	return &OrderHandler{
		checkoutService: checkoutService,
		orderService:    orderService,
	}
}

// buyerOrder loads the checkout behind orderId and checks the caller bought it.
func (h *OrderHandler) buyerOrder(c echo.Context, allowAdmin bool) (*service.CheckoutResult, error) {
	res, err := h.checkoutService.Get(c.Request().Context(), c.Param("orderId"))
	if err != nil {
		return nil, err
	}
	if res.Order.BuyerID != middleware.UserID(c) && !(allowAdmin && middleware.IsAdmin(c)) {
		// do not reveal other people's orders
		return nil, fmt.Errorf("order %s: %w", res.Order.OrderID, apperr.ErrOrderNotFound)
	}
	return res, nil
}

func (h *OrderHandler) CreateOrder(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CreateOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if req.ProductID == "" {
		return fmt.Errorf("productId is required: %w", apperr.ErrInvalidRequest)
	}

	license, err := pricing.ParseLicense(req.LicenseType)
	if err != nil {
		return err
	}

	res, err := h.checkoutService.StartCheckout(ctx, middleware.UserID(c), req.ProductID, license)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, toOrderResponse(res.Order, res.Checkout))
}

func (h *OrderHandler) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()

	limit, offset, err := pageParams(c)
	if err != nil {
		return err
	}
	filter := repository.OrderFilter{Limit: limit, Offset: offset}

	switch c.QueryParam("role") {
	case "", "buyer":
		filter.BuyerID = middleware.UserID(c)
	case "seller":
		filter.SellerID = middleware.UserID(c)
	default:
		return fmt.Errorf("role %q: %w", c.QueryParam("role"), apperr.ErrInvalidRequest)
	}
	if status := c.QueryParam("status"); status != "" {
		filter.Statuses = []model.OrderStatus{model.OrderStatus(status)}
	}

	orders, err := h.orderService.List(ctx, filter)
	if err != nil {
		return err
	}

	resp := make([]*dto.OrderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o, nil))
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *OrderHandler) GetOrder(c echo.Context) error {
	ctx := c.Request().Context()

	res, err := h.checkoutService.Get(ctx, c.Param("orderId"))
	if err != nil {
		return err
	}

	caller := middleware.UserID(c)
	if res.Order.BuyerID != caller && res.Order.SellerID != caller && !middleware.IsAdmin(c) {
		return fmt.Errorf("order %s: %w", res.Order.OrderID, apperr.ErrOrderNotFound)
	}

	return c.JSON(http.StatusOK, toOrderResponse(res.Order, res.Checkout))
}

// ConfirmPayment answers 409 with the stored order when the payment had
// already gone through.
func (h *OrderHandler) ConfirmPayment(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.ConfirmPaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = "card"
	}

	if _, err := h.buyerOrder(c, false); err != nil {
		return err
	}

	res, err := h.checkoutService.ConfirmPayment(ctx, c.Param("orderId"), service.ConfirmRequest{
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		return err
	}

	status := http.StatusOK
	if res.AlreadyCompleted {
		status = http.StatusConflict
	}
	return c.JSON(status, toOrderResponse(res.Order, res.Checkout))
}

func (h *OrderHandler) CancelOrder(c echo.Context) error {
	ctx := c.Request().Context()

	if _, err := h.buyerOrder(c, true); err != nil {
		return err
	}

	res, err := h.checkoutService.Cancel(ctx, c.Param("orderId"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toOrderResponse(res.Order, res.Checkout))
}

func (h *OrderHandler) RefundOrder(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.RefundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	if _, err := h.buyerOrder(c, true); err != nil {
		return err
	}

	order, err := h.orderService.Refund(ctx, c.Param("orderId"), req.Reason)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toOrderResponse(order, nil))
}

func (h *OrderHandler) RecordDownload(c echo.Context) error {
	ctx := c.Request().Context()

	if _, err := h.buyerOrder(c, false); err != nil {
		return err
	}

	order, err := h.orderService.RecordDownload(ctx, c.Param("orderId"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.DownloadResponse{
		OrderID:       order.OrderID,
		DownloadCount: order.DownloadCount,
		MaxDownloads:  order.MaxDownloads,
		Remaining:     order.MaxDownloads - order.DownloadCount,
	})
}
