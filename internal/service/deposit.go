package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/client"
	"marketplace-ledger/internal/model"
	"marketplace-ledger/internal/money"
	"marketplace-ledger/internal/notify"
	"marketplace-ledger/internal/repository"

	"gorm.io/gorm"
)

var depositPaymentMethods = map[string]bool{
	"card":   true,
	"paypal": true,
}

type DepositRequest struct {
	Amount           money.Cents
	Currency         string
	PaymentMethod    string
	PaymentReference string
}

// DepositService tops up a wallet from an external payment. The deposit is a
// pending ledger line until the gateway answers for it.
type DepositService interface {
	Deposit(ctx context.Context, userID string, req DepositRequest) (*model.WalletTransaction, error)
	ApplyDepositResult(ctx context.Context, depositID string, res client.PaymentResult) (*model.WalletTransaction, error)
}

type depositServiceImpl struct {
	db            *gorm.DB
	gateway       client.PaymentGateway
	walletRepo    repository.WalletRepository
	walletService WalletService
	notifier      notify.Notifier
	timeout       time.Duration
}

func NewDepositService(
	db *gorm.DB,
	gateway client.PaymentGateway,
	walletRepo repository.WalletRepository,
	walletService WalletService,
	notifier notify.Notifier,
	timeout time.Duration,
) DepositService {
	return &depositServiceImpl{
		db:            db,
		gateway:       gateway,
		walletRepo:    walletRepo,
		walletService: walletService,
		notifier:      notifier,
		timeout:       timeout,
	}
}

func (s *depositServiceImpl) Deposit(ctx context.Context, userID string, req DepositRequest) (*model.WalletTransaction, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("amount %s: %w", req.Amount, apperr.ErrInvalidDepositAmount)
	}
	if !depositPaymentMethods[req.PaymentMethod] {
		return nil, fmt.Errorf("payment method %q: %w", req.PaymentMethod, apperr.ErrInvalidPaymentMethod)
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	detached := context.WithoutCancel(ctx)
	line, err := s.walletService.Append(detached, AppendRequest{
		UserID:      userID,
		Amount:      req.Amount,
		Type:        model.TxDeposit,
		Status:      model.TxPending,
		Description: fmt.Sprintf("Deposit via %s", req.PaymentMethod),
	})
	if err != nil {
		return nil, fmt.Errorf("record deposit: %w", err)
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if _, err := s.settle(detached, line, client.PaymentResult{Message: "cancelled before payment dispatch"}); err != nil {
			slog.WarnContext(ctx, "drop abandoned deposit", "deposit_id", line.ID, "error", err)
		}
		return nil, fmt.Errorf("deposit %s: %w", line.ID, ctxErr)
	}

	gwCtx, cancel := context.WithTimeout(detached, s.timeout)
	defer cancel()

	result, err := s.gateway.Authorize(gwCtx, client.PaymentRequest{
		OrderID:          line.ID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		// the buyer may have been charged; the line waits for the callback
		slog.WarnContext(ctx, "deposit outcome unknown", "deposit_id", line.ID, "user_id", userID, "error", err)
		return nil, fmt.Errorf("deposit %s: awaiting gateway confirmation: %v: %w", line.ID, err, apperr.ErrPaymentInProgress)
	}
	return s.settle(detached, line, *result)
}

// ApplyDepositResult settles a deposit from a gateway callback.
func (s *depositServiceImpl) ApplyDepositResult(ctx context.Context, depositID string, res client.PaymentResult) (*model.WalletTransaction, error) {
	line, err := s.walletRepo.FindByID(ctx, s.db, depositID)
	if err != nil {
		return nil, err
	}
	if line.Type != model.TxDeposit {
		return nil, fmt.Errorf("%s line %s is not a deposit: %w", line.Type, depositID, apperr.ErrTransactionNotFound)
	}
	return s.settle(context.WithoutCancel(ctx), line, res)
}

func (s *depositServiceImpl) settle(ctx context.Context, line *model.WalletTransaction, res client.PaymentResult) (*model.WalletTransaction, error) {
	to := model.TxFailed
	if res.Success {
		to = model.TxCompleted
	}

	settled := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.walletService.SettleTx(ctx, tx, line, to)
		if err != nil {
			return fmt.Errorf("settle deposit: %w", err)
		}
		if ok {
			settled = true
			return nil
		}

		current, err := s.walletRepo.FindByID(ctx, tx, line.ID)
		if err != nil {
			return err
		}
		*line = *current
		switch {
		case current.Status == to:
			return nil
		case res.Success:
			return fmt.Errorf("gateway reports payment %q for failed deposit %s: %w",
				res.PaymentReference, line.ID, apperr.ErrIntegrityViolation)
		default:
			return fmt.Errorf("failure reported for credited deposit %s: %w", line.ID, apperr.ErrInvalidDepositTransition)
		}
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindIntegrity {
			slog.ErrorContext(ctx, "payment captured for a closed deposit", "deposit_id", line.ID, "error", err)
		}
		return nil, err
	}

	if to == model.TxFailed {
		reason := res.Message
		if reason == "" {
			reason = "payment declined"
		}
		if settled {
			slog.InfoContext(ctx, "deposit failed", "deposit_id", line.ID, "reason", reason)
		}
		return line, fmt.Errorf("deposit %s: %s: %w", line.ID, reason, apperr.ErrPaymentFailed)
	}
	if !settled {
		return line, nil
	}

	slog.InfoContext(ctx, "deposit credited", "deposit_id", line.ID, "user_id", line.UserID, "payment_reference", res.PaymentReference)
	s.notifier.Notify(ctx, notify.Event{
		Type:      notify.EventDepositCompleted,
		DepositID: line.ID,
		UserID:    line.UserID,
		Amount:    line.Amount,
	})
	return line, nil
}
