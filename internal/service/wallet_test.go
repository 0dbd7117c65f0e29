package service

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/model"
	"marketplace-ledger/internal/money"
	"marketplace-ledger/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsIncreasingSeq(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		h.deposit(t, "u1", "1.00")
	}
	h.deposit(t, "u2", "3.00")

	txs := h.transactions(t, "u1")
	require.Len(t, txs, 5)
	for i, tx := range txs {
		assert.Equal(t, int64(i+1), tx.Seq)
		assert.Equal(t, model.Credit, tx.Direction)
	}
	assert.Equal(t, int64(1), h.transactions(t, "u2")[0].Seq, "sequences are per user")

	listed, err := h.wallet.ListTransactions(ctx, "u1", repository.TransactionFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, int64(5), listed[0].Seq, "newest first")
}

func TestAppendValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.wallet.Append(ctx, AppendRequest{UserID: "u1", Amount: 0, Type: model.TxDeposit})
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	_, err = h.wallet.Append(ctx, AppendRequest{UserID: "u1", Amount: -100, Type: model.TxDeposit})
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)
	_, err = h.wallet.Append(ctx, AppendRequest{Amount: 100, Type: model.TxDeposit})
	assert.ErrorIs(t, err, apperr.ErrInvalidRequest)

	_, err = h.wallet.Append(ctx, AppendRequest{UserID: "u1", Amount: 100, Type: model.TxWithdrawal})
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
	assert.Empty(t, h.transactions(t, "u1"), "rejected debits leave no trace")
}

func TestGetBalanceForUnknownUser(t *testing.T) {
	h := newHarness(t)
	b := h.balance(t, "nobody")
	assert.Equal(t, Balance{UserID: "nobody"}, *b)
	h.requireInSync(t, "nobody")
}

func TestFoldLedger(t *testing.T) {
	line := func(seq int64, amount string, dir model.Direction, status model.TransactionStatus) *model.WalletTransaction {
		return &model.WalletTransaction{
			ID:        "tx",
			Seq:       seq,
			Amount:    money.MustParse(amount),
			Type:      model.TxDeposit,
			Direction: dir,
			Status:    status,
		}
	}

	t.Run("sums completed and pending separately", func(t *testing.T) {
		f, err := foldLedger("u", []*model.WalletTransaction{
			line(1, "10.00", model.Credit, model.TxCompleted),
			line(2, "4.00", model.Credit, model.TxPending),
			line(3, "2.50", model.Debit, model.TxCompleted),
			line(4, "7.00", model.Credit, model.TxFailed),
		})
		require.NoError(t, err)
		assert.Equal(t, money.MustParse("7.50"), f.available)
		assert.Equal(t, money.MustParse("4.00"), f.pending)
		assert.Equal(t, int64(4), f.lastSeq)
	})

	t.Run("external lines are ignored", func(t *testing.T) {
		ext := line(1, "50.00", model.Debit, model.TxCompleted)
		ext.External = true
		f, err := foldLedger("u", []*model.WalletTransaction{ext})
		require.NoError(t, err)
		assert.Zero(t, f.available)
	})

	t.Run("negative running balance", func(t *testing.T) {
		_, err := foldLedger("u", []*model.WalletTransaction{
			line(1, "5.00", model.Debit, model.TxCompleted),
			line(2, "10.00", model.Credit, model.TxCompleted),
		})
		assert.ErrorIs(t, err, apperr.ErrIntegrityViolation)
	})

	t.Run("seq must increase", func(t *testing.T) {
		_, err := foldLedger("u", []*model.WalletTransaction{
			line(1, "5.00", model.Credit, model.TxCompleted),
			line(1, "5.00", model.Credit, model.TxCompleted),
		})
		assert.ErrorIs(t, err, apperr.ErrIntegrityViolation)
	})

	t.Run("negative pending", func(t *testing.T) {
		_, err := foldLedger("u", []*model.WalletTransaction{
			line(1, "5.00", model.Debit, model.TxPending),
		})
		assert.ErrorIs(t, err, apperr.ErrIntegrityViolation)
	})
}

func TestReconcileDetectsDrift(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.deposit(t, "u1", "20.00")
	h.requireInSync(t, "u1")

	require.NoError(t, h.db.Model(&model.WalletAccount{}).
		Where("user_id = ?", "u1").
		Update("available", money.MustParse("25.00")).Error)

	rec, err := h.wallet.Reconcile(ctx, "u1")
	require.ErrorIs(t, err, apperr.ErrIntegrityViolation)
	require.NotNil(t, rec)
	assert.False(t, rec.InSync)
	assert.Equal(t, money.MustParse("20.00"), rec.Folded.Available)
	assert.Equal(t, money.MustParse("25.00"), rec.Projection.Available)

	// the reported balance still comes from the log
	assert.Equal(t, money.MustParse("20.00"), h.balance(t, "u1").Available)
}

func TestReconcileAll(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "u1", "20.00")
	h.deposit(t, "u2", "5.00")
	h.deposit(t, "u3", "7.00")

	require.NoError(t, h.db.Model(&model.WalletAccount{}).
		Where("user_id = ?", "u2").
		Update("last_seq", 9).Error)

	failed, err := h.wallet.ReconcileAll(context.Background())
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "u2", failed[0].UserID)
	assert.Equal(t, int64(9), failed[0].LastSeq)
	assert.Equal(t, int64(1), failed[0].FoldSeq)
}

func TestGetBalanceRejectsCorruptLog(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "u1", "20.00")
	require.NoError(t, h.db.Model(&model.WalletTransaction{}).
		Where("user_id = ?", "u1").
		Update("direction", model.Debit).Error)

	_, err := h.wallet.GetBalance(context.Background(), "u1")
	assert.ErrorIs(t, err, apperr.ErrIntegrityViolation)
}

func TestRandomAppendsNeverGoNegative(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	var expected money.Cents
	for i := 0; i < 200; i++ {
		amount := money.Cents(rng.Intn(5000) + 1)
		req := AppendRequest{UserID: "u1", Amount: amount, Type: model.TxDeposit}
		if rng.Intn(2) == 0 {
			req.Type = model.TxWithdrawal
		}

		_, err := h.wallet.Append(ctx, req)
		switch {
		case err == nil && req.Type == model.TxDeposit:
			expected += amount
		case err == nil:
			expected -= amount
		case errors.Is(err, apperr.ErrInsufficientBalance):
			require.Greater(t, amount, expected)
		default:
			require.NoError(t, err)
		}
		require.GreaterOrEqual(t, expected, money.Cents(0))
	}

	assert.Equal(t, expected, h.balance(t, "u1").Available)
	h.requireInSync(t, "u1")
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	h := newHarness(t)
	h.deposit(t, "u1", "10.00")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.wallet.Append(context.Background(), AppendRequest{
				UserID: "u1",
				Amount: money.MustParse("3.00"),
				Type:   model.TxWithdrawal,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, succeeded)
	assert.Equal(t, money.MustParse("1.00"), h.balance(t, "u1").Available)
	h.requireInSync(t, "u1")
}
