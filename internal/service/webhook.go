package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/client"
	"marketplace-ledger/internal/dto"
	"marketplace-ledger/internal/model"
	"marketplace-ledger/internal/repository"

	"gorm.io/gorm"
)

const (
	webhookPayment = "payment"
	webhookPayout  = "payout"
)

type WebhookService interface {
	HandlePayment(ctx context.Context, ev dto.PaymentWebhook) (*dto.WebhookAck, error)
	HandlePayout(ctx context.Context, ev dto.PayoutWebhook) (*dto.WebhookAck, error)
}

type webhookServiceImpl struct {
	db                *gorm.DB
	webhookEventRepo  repository.WebhookEventRepository
	checkoutService   CheckoutService
	depositService    DepositService
	withdrawalService WithdrawalService
}

func NewWebhookService(
	db *gorm.DB,
	webhookEventRepo repository.WebhookEventRepository,
	checkoutService CheckoutService,
	depositService DepositService,
	withdrawalService WithdrawalService,
) WebhookService {
	return &webhookServiceImpl{
		db:                db,
		webhookEventRepo:  webhookEventRepo,
		checkoutService:   checkoutService,
		depositService:    depositService,
		withdrawalService: withdrawalService,
	}
}

// process runs apply once per event id. The effects behind apply are
// idempotent themselves, so a crash between apply and the bookkeeping insert
// only costs a harmless replay.
func (s *webhookServiceImpl) process(ctx context.Context, eventID, eventType string, apply func() (string, error)) (*dto.WebhookAck, error) {
	if eventID == "" {
		return nil, fmt.Errorf("missing event id: %w", apperr.ErrInvalidRequest)
	}

	seen, err := s.webhookEventRepo.Exists(ctx, s.db, eventID)
	if err != nil {
		return nil, fmt.Errorf("check webhook event: %w", err)
	}
	if seen {
		slog.InfoContext(ctx, "webhook already processed", "event_id", eventID)
		return &dto.WebhookAck{EventID: eventID, Duplicate: true}, nil
	}

	status, err := apply()
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindPrecondition, apperr.KindNotFound:
			// nothing a redelivery could fix; acknowledge and move on
			slog.WarnContext(ctx, "webhook ignored", "event_id", eventID, "type", eventType, "error", err)
			status = "ignored"
		default:
			return nil, err
		}
	}

	if _, err := s.webhookEventRepo.MarkProcessed(ctx, s.db, eventID, eventType); err != nil {
		return nil, fmt.Errorf("record webhook event: %w", err)
	}
	return &dto.WebhookAck{EventID: eventID, Status: status}, nil
}

// HandlePayment settles the checkout named by OrderID, or the wallet deposit
// named by DepositID.
func (s *webhookServiceImpl) HandlePayment(ctx context.Context, ev dto.PaymentWebhook) (*dto.WebhookAck, error) {
	res := client.PaymentResult{
		Success:          ev.Success,
		PaymentReference: ev.PaymentReference,
		Message:          ev.Message,
	}
	return s.process(ctx, ev.EventID, webhookPayment, func() (string, error) {
		if ev.DepositID != "" {
			line, err := s.depositService.ApplyDepositResult(ctx, ev.DepositID, res)
			if errors.Is(err, apperr.ErrPaymentFailed) {
				return string(model.TxFailed), nil
			}
			if err != nil {
				return "", err
			}
			return string(line.Status), nil
		}

		out, err := s.checkoutService.ApplyPaymentResult(ctx, ev.OrderID, res)
		if errors.Is(err, apperr.ErrPaymentFailed) {
			return string(model.CheckoutFailed), nil
		}
		if err != nil {
			return "", err
		}
		return string(out.Checkout.State), nil
	})
}

func (s *webhookServiceImpl) HandlePayout(ctx context.Context, ev dto.PayoutWebhook) (*dto.WebhookAck, error) {
	return s.process(ctx, ev.EventID, webhookPayout, func() (string, error) {
		var (
			w   *model.WithdrawalRequest
			err error
		)
		switch model.WithdrawalStatus(ev.Status) {
		case model.WithdrawalCompleted:
			w, err = s.withdrawalService.Complete(ctx, ev.WithdrawalID)
		case model.WithdrawalRejected:
			w, err = s.withdrawalService.Reject(ctx, ev.WithdrawalID, ev.Reason)
		default:
			return "", fmt.Errorf("payout status %q: %w", ev.Status, apperr.ErrInvalidRequest)
		}
		if err != nil {
			return "", err
		}
		return string(w.Status), nil
	})
}
