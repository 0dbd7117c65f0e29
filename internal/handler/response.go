package handler

import (
	"fmt"
	"strconv"
	"time"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/dto"
	"marketplace-ledger/internal/model"

	"github.com/labstack/echo/v4"
)

const maxPageSize = 100

func toOrderResponse(o *model.Order, checkout *model.Checkout) *dto.OrderResponse {
	resp := &dto.OrderResponse{
		OrderID:       o.OrderID,
		BuyerID:       o.BuyerID,
		SellerID:      o.SellerID,
		ProductID:     o.ProductID,
		LicenseType:   string(o.LicenseType),
		Currency:      o.Currency,
		Amount:        o.Amount,
		ServiceFee:    o.ServiceFee,
		SellerAmount:  o.SellerAmount,
		Status:        string(o.Status),
		DownloadCount: o.DownloadCount,
		MaxDownloads:  o.MaxDownloads,
		RefundReason:  o.RefundReason,
		CompletedAt:   o.CompletedAt,
		CreatedAt:     o.CreatedAt,
	}
	if checkout != nil {
		resp.CheckoutState = string(checkout.State)
	}
	return resp
}

func toWithdrawalResponse(w *model.WithdrawalRequest) *dto.WithdrawalResponse {
	return &dto.WithdrawalResponse{
		WithdrawalID:    w.ID,
		Amount:          w.Amount,
		ProcessingFee:   w.ProcessingFee,
		NetAmount:       w.NetAmount,
		PaymentMethod:   string(w.PaymentMethod),
		Status:          string(w.Status),
		PayoutReference: w.PayoutReference,
		PayoutError:     w.PayoutError,
		RejectionReason: w.RejectionReason,
		CompletedAt:     w.CompletedAt,
		CreatedAt:       w.CreatedAt,
	}
}

func toTransactionResponse(t *model.WalletTransaction) *dto.TransactionResponse {
	return &dto.TransactionResponse{
		ID:          t.ID,
		Seq:         t.Seq,
		Amount:      t.Amount,
		Type:        string(t.Type),
		Direction:   string(t.Direction),
		Status:      string(t.Status),
		External:    t.External,
		OrderID:     t.OrderID,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
	}
}

// pageParams reads limit and offset, capping limit at maxPageSize.
func pageParams(c echo.Context) (limit, offset int, err error) {
	limit, offset = 20, 0
	if v := c.QueryParam("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("limit %q: %w", v, apperr.ErrInvalidRequest)
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset %q: %w", v, apperr.ErrInvalidRequest)
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit, offset, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates, read as UTC midnight.
func parseTime(name, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s %q: %w", name, v, apperr.ErrInvalidRequest)
	}
	return t, nil
}
