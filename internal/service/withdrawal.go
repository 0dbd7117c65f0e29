package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/client"
	"marketplace-ledger/internal/model"
	"marketplace-ledger/internal/money"
	"marketplace-ledger/internal/notify"
	"marketplace-ledger/internal/pricing"
	"marketplace-ledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type withdrawalFee struct {
	flat    money.Cents
	percent decimal.Decimal
	min     money.Cents
}

var withdrawalFees = map[model.PaymentMethod]withdrawalFee{
	model.PayoutBankTransfer: {flat: 200},
	model.PayoutPaypal:       {percent: decimal.NewFromInt(2), min: 25},
	model.PayoutCrypto:       {flat: 100, percent: decimal.NewFromInt(1)},
	model.PayoutOther:        {flat: 200},
}

// ProcessingFee returns the fee charged for withdrawing amount via method.
func ProcessingFee(method model.PaymentMethod, amount money.Cents) (money.Cents, error) {
	f, ok := withdrawalFees[method]
	if !ok {
		return 0, fmt.Errorf("payment method %q: %w", method, apperr.ErrInvalidPaymentMethod)
	}
	fee := f.flat
	if !f.percent.IsZero() {
		pct, _, err := pricing.ComputeFees(amount, f.percent)
		if err != nil {
			return 0, err
		}
		fee += pct
	}
	if fee < f.min {
		fee = f.min
	}
	return fee, nil
}

type WithdrawalService interface {
	Request(ctx context.Context, userID string, amount money.Cents, method model.PaymentMethod, details json.RawMessage) (*model.WithdrawalRequest, error)
	Get(ctx context.Context, id string) (*model.WithdrawalRequest, error)
	List(ctx context.Context, userID string, limit, offset int) ([]*model.WithdrawalRequest, error)
	Advance(ctx context.Context, id string) (*model.WithdrawalRequest, error)
	Complete(ctx context.Context, id string) (*model.WithdrawalRequest, error)
	Reject(ctx context.Context, id, reason string) (*model.WithdrawalRequest, error)
}

type withdrawalServiceImpl struct {
	db             *gorm.DB
	withdrawalRepo repository.WithdrawalRepository
	walletService  WalletService
	payouts        client.PayoutClient
	notifier       notify.Notifier
	currency       string
	payoutTimeout  time.Duration
	now            func() time.Time
}

func NewWithdrawalService(
	db *gorm.DB,
	withdrawalRepo repository.WithdrawalRepository,
	walletService WalletService,
	payouts client.PayoutClient,
	notifier notify.Notifier,
	now func() time.Time,
) WithdrawalService {
	return &withdrawalServiceImpl{
		db:             db,
		withdrawalRepo: withdrawalRepo,
		walletService:  walletService,
		payouts:        payouts,
		notifier:       notifier,
		currency:       "USD",
		payoutTimeout:  30 * time.Second,
		now:            now,
	}
}

func parseDetails(method model.PaymentMethod, raw json.RawMessage) (map[string]any, error) {
	var details map[string]any
	if err := json.Unmarshal(raw, &details); err != nil || len(details) == 0 {
		return nil, fmt.Errorf("payment details must be a non-empty object: %w", apperr.ErrInvalidPaymentMethod)
	}
	if method == model.PayoutPaypal {
		if email, _ := details["email"].(string); email == "" {
			return nil, fmt.Errorf("paypal payment details need an email: %w", apperr.ErrInvalidPaymentMethod)
		}
	}
	return details, nil
}

func (s *withdrawalServiceImpl) Request(
	ctx context.Context,
	userID string,
	amount money.Cents,
	method model.PaymentMethod,
	details json.RawMessage,
) (*model.WithdrawalRequest, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("amount %s: %w", amount, apperr.ErrInvalidWithdrawalAmt)
	}
	fee, err := ProcessingFee(method, amount)
	if err != nil {
		return nil, err
	}
	if _, err := parseDetails(method, details); err != nil {
		return nil, err
	}
	if amount <= fee {
		return nil, fmt.Errorf("amount %s does not cover fee %s: %w", amount, fee, apperr.ErrInvalidWithdrawalAmt)
	}

	now := s.now()
	w := &model.WithdrawalRequest{
		ID:             uuid.NewString(),
		UserID:         userID,
		Amount:         amount,
		ProcessingFee:  fee,
		NetAmount:      amount - fee,
		Status:         model.WithdrawalPending,
		PaymentMethod:  method,
		PaymentDetails: string(details),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.walletService.ReserveForWithdrawal(ctx, tx, userID, amount); err != nil {
			return err
		}
		if err := s.withdrawalRepo.Create(ctx, tx, w); err != nil {
			return fmt.Errorf("store withdrawal in db: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "withdrawal requested", "withdrawal_id", w.ID, "user_id", userID, "amount", amount.String())
	return w, nil
}

func (s *withdrawalServiceImpl) Get(ctx context.Context, id string) (*model.WithdrawalRequest, error) {
	return s.withdrawalRepo.FindByID(ctx, s.db, id)
}

func (s *withdrawalServiceImpl) List(ctx context.Context, userID string, limit, offset int) ([]*model.WithdrawalRequest, error) {
	return s.withdrawalRepo.ListByUser(ctx, s.db, userID, limit, offset)
}

func (s *withdrawalServiceImpl) transitionErr(w *model.WithdrawalRequest, to model.WithdrawalStatus) error {
	return fmt.Errorf("withdrawal %s %s -> %s: %w", w.ID, w.Status, to, apperr.ErrInvalidWithdrawalTransition)
}

// Advance claims the request and hands it to the payout provider. A failed
// dispatch leaves the request in processing with the error recorded: the
// provider may have accepted the transfer anyway, so only the payouts webhook
// or an operator's Complete/Reject resolves it. Calling Advance again on such
// a request re-sends it under the same withdrawal id.
func (s *withdrawalServiceImpl) Advance(ctx context.Context, id string) (*model.WithdrawalRequest, error) {
	w, err := s.withdrawalRepo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	switch {
	case w.Status == model.WithdrawalPending:
		ok, err := s.withdrawalRepo.Transition(ctx, s.db, id,
			[]model.WithdrawalStatus{model.WithdrawalPending}, model.WithdrawalProcessing, nil)
		if err != nil {
			return nil, fmt.Errorf("claim withdrawal: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("withdrawal %s changed concurrently: %w", id, apperr.ErrInvalidWithdrawalTransition)
		}
	case w.Status == model.WithdrawalProcessing && w.PayoutReference != "":
		return w, nil
	case w.Status == model.WithdrawalProcessing:
		slog.InfoContext(ctx, "re-sending payout", "withdrawal_id", id, "last_error", w.PayoutError)
	default:
		return nil, s.transitionErr(w, model.WithdrawalProcessing)
	}

	details, _ := parseDetails(w.PaymentMethod, json.RawMessage(w.PaymentDetails))
	detached := context.WithoutCancel(ctx)
	payCtx, cancel := context.WithTimeout(detached, s.payoutTimeout)
	defer cancel()

	res, err := s.payouts.Payout(payCtx, client.PayoutRequest{
		WithdrawalID: w.ID,
		UserID:       w.UserID,
		Method:       string(w.PaymentMethod),
		Amount:       w.NetAmount,
		Currency:     s.currency,
		Details:      details,
	})
	if err != nil {
		slog.WarnContext(ctx, "payout dispatch failed, outcome unknown", "withdrawal_id", id, "error", err)
		if _, recErr := s.withdrawalRepo.Transition(detached, s.db, id,
			[]model.WithdrawalStatus{model.WithdrawalProcessing}, model.WithdrawalProcessing,
			map[string]interface{}{"payout_error": err.Error()}); recErr != nil {
			slog.ErrorContext(ctx, "record payout error", "withdrawal_id", id, "error", recErr)
		}
		return nil, fmt.Errorf("withdrawal %s: %v: %w", id, err, apperr.ErrPayoutFailed)
	}

	if _, err := s.withdrawalRepo.Transition(detached, s.db, id,
		[]model.WithdrawalStatus{model.WithdrawalProcessing}, model.WithdrawalProcessing,
		map[string]interface{}{"payout_reference": res.Reference, "payout_error": ""}); err != nil {
		return nil, fmt.Errorf("store payout reference: %w", err)
	}

	slog.InfoContext(ctx, "payout initiated", "withdrawal_id", id, "reference", res.Reference)
	return s.withdrawalRepo.FindByID(detached, s.db, id)
}

// Complete finalizes a processing withdrawal: the gross amount leaves the
// wallet and the reservation held for it is released in the same statement.
// Completing an already completed withdrawal returns it unchanged.
func (s *withdrawalServiceImpl) Complete(ctx context.Context, id string) (*model.WithdrawalRequest, error) {
	var out *model.WithdrawalRequest
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := s.withdrawalRepo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.Status == model.WithdrawalCompleted {
			out = w
			return nil
		}
		if !w.Status.CanTransitionTo(model.WithdrawalCompleted) {
			return s.transitionErr(w, model.WithdrawalCompleted)
		}

		ok, err := s.withdrawalRepo.Transition(ctx, tx, id,
			[]model.WithdrawalStatus{model.WithdrawalProcessing}, model.WithdrawalCompleted,
			map[string]interface{}{"completed_at": s.now()})
		if err != nil {
			return fmt.Errorf("mark withdrawal completed: %w", err)
		}
		if !ok {
			return fmt.Errorf("withdrawal %s changed concurrently: %w", id, apperr.ErrInvalidWithdrawalTransition)
		}

		if _, err := s.walletService.AppendTx(ctx, tx, AppendRequest{
			UserID:        w.UserID,
			Amount:        w.Amount,
			Type:          model.TxWithdrawal,
			Status:        model.TxCompleted,
			WithdrawalID:  w.ID,
			Description:   fmt.Sprintf("Withdrawal via %s", w.PaymentMethod),
			ReservedDelta: -w.Amount,
		}); err != nil {
			if errors.Is(err, apperr.ErrInsufficientBalance) {
				return fmt.Errorf("withdrawal %s exceeds its reservation: %w", id, apperr.ErrIntegrityViolation)
			}
			return fmt.Errorf("append withdrawal: %w", err)
		}

		out, err = s.withdrawalRepo.FindByID(ctx, tx, id)
		applied = true
		return err
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindIntegrity {
			slog.ErrorContext(ctx, "withdrawal completion aborted", "withdrawal_id", id, "error", err)
		}
		return nil, err
	}

	if applied {
		s.notifier.Notify(ctx, notify.Event{
			Type:         notify.EventWithdrawalCompleted,
			WithdrawalID: out.ID,
			UserID:       out.UserID,
			Amount:       out.Amount,
		})
	}
	return out, nil
}

// Reject declines a withdrawal that was never claimed, or a processing one
// whose payout the provider or an operator reports as not sent, and gives
// the reserved amount back. Nothing is appended to the ledger.
func (s *withdrawalServiceImpl) Reject(ctx context.Context, id, reason string) (*model.WithdrawalRequest, error) {
	var out *model.WithdrawalRequest
	applied := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := s.withdrawalRepo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if w.Status == model.WithdrawalRejected {
			out = w
			return nil
		}
		if !w.Status.CanTransitionTo(model.WithdrawalRejected) {
			return s.transitionErr(w, model.WithdrawalRejected)
		}

		ok, err := s.withdrawalRepo.Transition(ctx, tx, id,
			[]model.WithdrawalStatus{w.Status}, model.WithdrawalRejected,
			map[string]interface{}{"rejection_reason": reason})
		if err != nil {
			return fmt.Errorf("mark withdrawal rejected: %w", err)
		}
		if !ok {
			return fmt.Errorf("withdrawal %s changed concurrently: %w", id, apperr.ErrInvalidWithdrawalTransition)
		}

		if err := s.walletService.ReleaseReservation(ctx, tx, w.UserID, w.Amount); err != nil {
			return err
		}

		out, err = s.withdrawalRepo.FindByID(ctx, tx, id)
		applied = true
		return err
	})
	if err != nil {
		return nil, err
	}

	if applied {
		s.notifier.Notify(ctx, notify.Event{
			Type:         notify.EventWithdrawalRejected,
			WithdrawalID: out.ID,
			UserID:       out.UserID,
			Amount:       out.Amount,
		})
	}
	return out, nil
}
