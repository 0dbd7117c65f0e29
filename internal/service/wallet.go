package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/model"
	"marketplace-ledger/internal/money"
	"marketplace-ledger/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AppendRequest struct {
	UserID       string
	Amount       money.Cents
	Type         model.TransactionType
	Direction    model.Direction // empty means model.DefaultDirection(Type)
	Status       model.TransactionStatus
	External     bool
	OrderID      string
	WithdrawalID string
	Description  string
	// ReservedDelta adjusts the withdrawal reservation in the same statement.
	ReservedDelta money.Cents
}

type Balance struct {
	UserID    string      `json:"userId"`
	Available money.Cents `json:"available"`
	Pending   money.Cents `json:"pending"`
	Reserved  money.Cents `json:"reserved"`
}

type Reconciliation struct {
	UserID     string  `json:"userId"`
	Folded     Balance `json:"folded"`
	Projection Balance `json:"projection"`
	LastSeq    int64   `json:"lastSeq"`
	FoldSeq    int64   `json:"foldSeq"`
	InSync     bool    `json:"inSync"`
}

type WalletService interface {
	Append(ctx context.Context, req AppendRequest) (*model.WalletTransaction, error)
	AppendTx(ctx context.Context, tx *gorm.DB, req AppendRequest) (*model.WalletTransaction, error)
	GetBalance(ctx context.Context, userID string) (*Balance, error)
	ReserveForWithdrawal(ctx context.Context, tx *gorm.DB, userID string, amount money.Cents) error
	ReleaseReservation(ctx context.Context, tx *gorm.DB, userID string, amount money.Cents) error
	SettleTx(ctx context.Context, tx *gorm.DB, t *model.WalletTransaction, to model.TransactionStatus) (bool, error)
	ReleaseMatured(ctx context.Context, clearingPeriod time.Duration) (int, error)
	Reconcile(ctx context.Context, userID string) (*Reconciliation, error)
	ReconcileAll(ctx context.Context) ([]*Reconciliation, error)
	ListTransactions(ctx context.Context, userID string, filter repository.TransactionFilter) ([]*model.WalletTransaction, error)
}

type walletServiceImpl struct {
	db             *gorm.DB
	walletRepo     repository.WalletRepository
	withdrawalRepo repository.WithdrawalRepository
	now            func() time.Time
}

func NewWalletService(
	db *gorm.DB,
	walletRepo repository.WalletRepository,
	withdrawalRepo repository.WithdrawalRepository,
	now func() time.Time,
) WalletService {
	return &walletServiceImpl{
		db:             db,
		walletRepo:     walletRepo,
		withdrawalRepo: withdrawalRepo,
		now:            now,
	}
}

func (s *walletServiceImpl) Append(ctx context.Context, req AppendRequest) (*model.WalletTransaction, error) {
	var out *model.WalletTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.AppendTx(ctx, tx, req)
		out = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendTx inserts one ledger line and moves the account projection in tx.
func (s *walletServiceImpl) AppendTx(ctx context.Context, tx *gorm.DB, req AppendRequest) (*model.WalletTransaction, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("append: missing user: %w", apperr.ErrInvalidRequest)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("append: amount %s must be positive: %w", req.Amount, apperr.ErrInvalidRequest)
	}
	if req.Direction == "" {
		req.Direction = model.DefaultDirection(req.Type)
	}
	if req.Status == "" {
		req.Status = model.TxCompleted
	}

	if err := s.walletRepo.EnsureAccount(ctx, tx, req.UserID); err != nil {
		return nil, fmt.Errorf("ensure wallet account: %w", err)
	}

	d := bucketDelta(req.Amount, req.Direction, req.Status, req.External)
	d.Reserved = req.ReservedDelta
	seq, err := s.walletRepo.ApplyDelta(ctx, tx, req.UserID, d, true)
	if err != nil {
		return nil, err
	}

	now := s.now()
	t := &model.WalletTransaction{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Seq:          seq,
		Amount:       req.Amount,
		Type:         req.Type,
		Direction:    req.Direction,
		Status:       req.Status,
		External:     req.External,
		OrderID:      req.OrderID,
		WithdrawalID: req.WithdrawalID,
		Description:  req.Description,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.walletRepo.Insert(ctx, tx, t); err != nil {
		return nil, fmt.Errorf("insert wallet transaction: %w", err)
	}
	return t, nil
}

// bucketDelta is the projection change caused by a line in the given status.
func bucketDelta(amount money.Cents, dir model.Direction, status model.TransactionStatus, external bool) repository.Delta {
	if external {
		return repository.Delta{}
	}
	signed := amount
	if dir == model.Debit {
		signed = -amount
	}
	switch status {
	case model.TxCompleted:
		return repository.Delta{Available: signed}
	case model.TxPending:
		return repository.Delta{Pending: signed}
	default:
		return repository.Delta{}
	}
}

// SettleTx moves a pending line to completed or failed and shifts the
// projection with it. It reports false if the line was no longer pending.
func (s *walletServiceImpl) SettleTx(ctx context.Context, tx *gorm.DB, t *model.WalletTransaction, to model.TransactionStatus) (bool, error) {
	if to != model.TxCompleted && to != model.TxFailed {
		return false, fmt.Errorf("settle to %s: %w", to, apperr.ErrInvalidRequest)
	}

	ok, err := s.walletRepo.TransitionStatus(ctx, tx, t.ID, model.TxPending, to)
	if err != nil || !ok {
		return ok, err
	}

	before := bucketDelta(t.Amount, t.Direction, model.TxPending, t.External)
	after := bucketDelta(t.Amount, t.Direction, to, t.External)
	d := repository.Delta{
		Available: after.Available - before.Available,
		Pending:   after.Pending - before.Pending,
	}
	if _, err := s.walletRepo.ApplyDelta(ctx, tx, t.UserID, d, false); err != nil {
		return false, err
	}
	t.Status = to
	return true, nil
}

func (s *walletServiceImpl) ReserveForWithdrawal(ctx context.Context, tx *gorm.DB, userID string, amount money.Cents) error {
	if amount <= 0 {
		return fmt.Errorf("reserve %s: %w", amount, apperr.ErrInvalidWithdrawalAmt)
	}
	if err := s.walletRepo.EnsureAccount(ctx, tx, userID); err != nil {
		return fmt.Errorf("ensure wallet account: %w", err)
	}
	_, err := s.walletRepo.ApplyDelta(ctx, tx, userID, repository.Delta{Reserved: amount}, false)
	return err
}

func (s *walletServiceImpl) ReleaseReservation(ctx context.Context, tx *gorm.DB, userID string, amount money.Cents) error {
	_, err := s.walletRepo.ApplyDelta(ctx, tx, userID, repository.Delta{Reserved: -amount}, false)
	if errors.Is(err, apperr.ErrInsufficientBalance) {
		return fmt.Errorf("release %s for %s exceeds reservation: %w", amount, userID, apperr.ErrIntegrityViolation)
	}
	return err
}

type fold struct {
	available money.Cents
	pending   money.Cents
	lastSeq   int64
}

// foldLedger replays the user's log in sequence order. Completed lines never
// change status again, so the running available total can not dip below zero
// unless the log itself is corrupt.
func foldLedger(userID string, txs []*model.WalletTransaction) (fold, error) {
	var f fold
	for _, t := range txs {
		if t.Seq <= f.lastSeq {
			return f, fmt.Errorf("wallet %s: seq %d after %d: %w", userID, t.Seq, f.lastSeq, apperr.ErrIntegrityViolation)
		}
		f.lastSeq = t.Seq
		if t.Amount < 0 {
			return f, fmt.Errorf("wallet %s: negative amount on %s: %w", userID, t.ID, apperr.ErrIntegrityViolation)
		}

		d := bucketDelta(t.Amount, t.Direction, t.Status, t.External)
		f.available += d.Available
		f.pending += d.Pending
		if f.available < 0 {
			return f, fmt.Errorf("wallet %s: available negative at seq %d: %w", userID, t.Seq, apperr.ErrIntegrityViolation)
		}
	}
	if f.pending < 0 {
		return f, fmt.Errorf("wallet %s: pending negative: %w", userID, apperr.ErrIntegrityViolation)
	}
	return f, nil
}

func (s *walletServiceImpl) foldBalance(ctx context.Context, tx *gorm.DB, userID string) (*Balance, fold, error) {
	txs, err := s.walletRepo.FoldSource(ctx, tx, userID)
	if err != nil {
		return nil, fold{}, fmt.Errorf("load wallet log: %w", err)
	}
	f, err := foldLedger(userID, txs)
	if err != nil {
		return nil, f, err
	}

	reserved, err := s.withdrawalRepo.SumActive(ctx, tx, userID)
	if err != nil {
		return nil, f, fmt.Errorf("sum reservations: %w", err)
	}
	if f.available-reserved < 0 {
		return nil, f, fmt.Errorf("wallet %s: reservations %s exceed available %s: %w",
			userID, reserved, f.available, apperr.ErrIntegrityViolation)
	}

	return &Balance{
		UserID:    userID,
		Available: f.available - reserved,
		Pending:   f.pending,
		Reserved:  reserved,
	}, f, nil
}

// GetBalance derives the balance from the transaction log, never from the
// cached projection.
func (s *walletServiceImpl) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	var b *Balance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		b, _, err = s.foldBalance(ctx, tx, userID)
		return err
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindIntegrity {
			slog.ErrorContext(ctx, "wallet fold failed", "user_id", userID, "error", err)
		}
		return nil, err
	}
	return b, nil
}

func (s *walletServiceImpl) Reconcile(ctx context.Context, userID string) (*Reconciliation, error) {
	var rec *Reconciliation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		folded, f, err := s.foldBalance(ctx, tx, userID)
		if err != nil {
			return err
		}
		acc, err := s.walletRepo.GetAccount(ctx, tx, userID)
		if err != nil {
			return fmt.Errorf("load wallet account: %w", err)
		}

		rec = &Reconciliation{
			UserID: userID,
			Folded: *folded,
			Projection: Balance{
				UserID:    userID,
				Available: acc.Available - acc.Reserved,
				Pending:   acc.Pending,
				Reserved:  acc.Reserved,
			},
			LastSeq: acc.LastSeq,
			FoldSeq: f.lastSeq,
		}
		rec.InSync = rec.Folded == rec.Projection && rec.LastSeq == rec.FoldSeq
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "wallet reconcile failed", "user_id", userID, "error", err)
		return nil, err
	}
	if !rec.InSync {
		slog.ErrorContext(ctx, "wallet projection drift",
			"user_id", userID,
			"folded_available", rec.Folded.Available.String(),
			"projection_available", rec.Projection.Available.String(),
			"folded_pending", rec.Folded.Pending.String(),
			"projection_pending", rec.Projection.Pending.String(),
			"last_seq", rec.LastSeq,
			"fold_seq", rec.FoldSeq,
		)
		return rec, fmt.Errorf("wallet %s projection drift: %w", userID, apperr.ErrIntegrityViolation)
	}
	return rec, nil
}

// ReconcileAll checks every wallet and returns the ones that fail.
func (s *walletServiceImpl) ReconcileAll(ctx context.Context) ([]*Reconciliation, error) {
	ids, err := s.walletRepo.ListUserIDs(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("list wallets: %w", err)
	}

	failed := []*Reconciliation{}
	for _, id := range ids {
		rec, err := s.Reconcile(ctx, id)
		if err == nil {
			continue
		}
		if apperr.KindOf(err) != apperr.KindIntegrity {
			return nil, err
		}
		if rec == nil {
			// the log itself did not fold
			rec = &Reconciliation{UserID: id}
		}
		failed = append(failed, rec)
	}
	return failed, nil
}

func (s *walletServiceImpl) ListTransactions(ctx context.Context, userID string, filter repository.TransactionFilter) ([]*model.WalletTransaction, error) {
	return s.walletRepo.ListByUser(ctx, s.db, userID, filter)
}

// ReleaseMatured completes pending sale lines older than clearingPeriod.
func (s *walletServiceImpl) ReleaseMatured(ctx context.Context, clearingPeriod time.Duration) (int, error) {
	cutoff := s.now().Add(-clearingPeriod)
	sales, err := s.walletRepo.ListPendingSales(ctx, s.db, cutoff, 500)
	if err != nil {
		return 0, fmt.Errorf("list pending sales: %w", err)
	}

	released := 0
	for _, sale := range sales {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			ok, err := s.SettleTx(ctx, tx, sale, model.TxCompleted)
			if ok {
				released++
			}
			return err
		})
		if err != nil {
			return released, fmt.Errorf("release sale %s: %w", sale.ID, err)
		}
	}
	return released, nil
}
