package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/model"
	"marketplace-ledger/internal/money"
	"marketplace-ledger/internal/notify"
	"marketplace-ledger/internal/pricing"
	"marketplace-ledger/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOrderTransitionTx(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prod-1", "seller", "10.00")
	started, err := h.checkout.StartCheckout(ctx, "buyer", "prod-1", pricing.LicensePersonal)
	require.NoError(t, err)
	id := started.Order.OrderID

	run := func(to model.OrderStatus) error {
		return h.db.Transaction(func(tx *gorm.DB) error {
			_, err := h.orders.TransitionTx(ctx, tx, id, to, nil)
			return err
		})
	}

	assert.ErrorIs(t, run(model.OrderRefunded), apperr.ErrInvalidOrderTransition)
	assert.ErrorIs(t, run(model.OrderPending), apperr.ErrInvalidOrderTransition)
	require.NoError(t, run(model.OrderCancelled))
	assert.ErrorIs(t, run(model.OrderCompleted), apperr.ErrInvalidOrderTransition)

	err = h.db.Transaction(func(tx *gorm.DB) error {
		_, err := h.orders.TransitionTx(ctx, tx, "ORD-MISSING", model.OrderCompleted, nil)
		return err
	})
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
}

func TestRecordDownload(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prod-1", "seller", "10.00")
	order := h.purchase(t, "buyer", "prod-1", pricing.LicensePersonal)
	require.Equal(t, 5, order.MaxDownloads)

	for i := 1; i <= 5; i++ {
		got, err := h.orders.RecordDownload(ctx, order.OrderID)
		require.NoError(t, err)
		assert.Equal(t, i, got.DownloadCount)
	}

	_, err := h.orders.RecordDownload(ctx, order.OrderID)
	assert.ErrorIs(t, err, apperr.ErrDownloadLimitExceeded)

	got, err := h.orders.Get(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.DownloadCount)

	_, err = h.orders.RecordDownload(ctx, "ORD-MISSING")
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
}

func TestRecordDownloadRequiresCompletedOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prod-1", "seller", "10.00")
	started, err := h.checkout.StartCheckout(ctx, "buyer", "prod-1", pricing.LicensePersonal)
	require.NoError(t, err)

	_, err = h.orders.RecordDownload(ctx, started.Order.OrderID)
	assert.ErrorIs(t, err, apperr.ErrOrderNotDownloadable)

	order := h.purchase(t, "buyer", "prod-1", pricing.LicensePersonal)
	_, err = h.orders.Refund(ctx, order.OrderID, "changed my mind")
	require.NoError(t, err)
	_, err = h.orders.RecordDownload(ctx, order.OrderID)
	assert.ErrorIs(t, err, apperr.ErrOrderNotDownloadable)
}

func TestConcurrentDownloadsRespectCap(t *testing.T) {
	h := newHarness(t)
	h.addProduct(t, "prod-1", "seller", "10.00")
	order := h.purchase(t, "buyer", "prod-1", pricing.LicensePersonal)

	var (
		wg       sync.WaitGroup
		ok       atomic.Int32
		exceeded atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orders.RecordDownload(context.Background(), order.OrderID)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperr.ErrDownloadLimitExceeded):
				exceeded.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), ok.Load())
	assert.Equal(t, int32(15), exceeded.Load())

	got, err := h.orders.Get(context.Background(), order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.DownloadCount)
}

func TestRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prod-1", "seller", "29.99")
	order := h.purchase(t, "buyer", "prod-1", pricing.LicenseCommercial)
	require.Equal(t, money.MustParse("53.99"), h.balance(t, "seller").Available)

	refunded, err := h.orders.Refund(ctx, order.OrderID, "file was corrupt")
	require.NoError(t, err)
	assert.Equal(t, model.OrderRefunded, refunded.Status)
	assert.Equal(t, "file was corrupt", refunded.RefundReason)
	require.NotNil(t, refunded.RefundedAt)

	sellerTxs := h.transactions(t, "seller")
	require.Len(t, sellerTxs, 2)
	debit := sellerTxs[1]
	assert.Equal(t, model.TxRefund, debit.Type)
	assert.Equal(t, model.Debit, debit.Direction)
	assert.Equal(t, money.MustParse("53.99"), debit.Amount)
	assert.Equal(t, order.OrderID, debit.OrderID)

	buyerTxs := h.transactions(t, "buyer")
	require.Len(t, buyerTxs, 2)
	credit := buyerTxs[1]
	assert.Equal(t, model.TxRefund, credit.Type)
	assert.Equal(t, model.Credit, credit.Direction)
	assert.Equal(t, money.MustParse("59.98"), credit.Amount)

	assert.Equal(t, money.Cents(0), h.balance(t, "seller").Available)
	assert.Equal(t, money.MustParse("59.98"), h.balance(t, "buyer").Available)
	h.requireInSync(t, "seller")
	h.requireInSync(t, "buyer")

	_, err = h.orders.Refund(ctx, order.OrderID, "again")
	assert.ErrorIs(t, err, apperr.ErrOrderNotRefundable)
	assert.Len(t, h.transactions(t, "seller"), 2)

	assert.Equal(t, []string{notify.EventOrderCompleted, notify.EventOrderRefunded}, h.notifier.types())
}

func TestRefundRequiresCompletedOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prod-1", "seller", "10.00")
	started, err := h.checkout.StartCheckout(ctx, "buyer", "prod-1", pricing.LicensePersonal)
	require.NoError(t, err)

	_, err = h.orders.Refund(ctx, started.Order.OrderID, "")
	assert.ErrorIs(t, err, apperr.ErrOrderNotRefundable)

	_, err = h.orders.Refund(ctx, "ORD-MISSING", "")
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
}

func TestRefundInsideClearingWindowCancelsPendingSale(t *testing.T) {
	h := newHarness(t, func(o *harnessOpts) {
		o.policy.ClearingPeriod = 7 * 24 * time.Hour
	})
	ctx := context.Background()
	h.addProduct(t, "prod-1", "seller", "10.00")
	order := h.purchase(t, "buyer", "prod-1", pricing.LicensePersonal)

	b := h.balance(t, "seller")
	assert.Equal(t, money.Cents(0), b.Available)
	assert.Equal(t, money.MustParse("9.00"), b.Pending)

	_, err := h.orders.Refund(ctx, order.OrderID, "duplicate purchase")
	require.NoError(t, err)

	sellerTxs := h.transactions(t, "seller")
	require.Len(t, sellerTxs, 1, "a pending sale is cancelled, not offset")
	assert.Equal(t, model.TxFailed, sellerTxs[0].Status)

	b = h.balance(t, "seller")
	assert.Equal(t, money.Cents(0), b.Available)
	assert.Equal(t, money.Cents(0), b.Pending)
	assert.Equal(t, money.MustParse("10.00"), h.balance(t, "buyer").Available)
	h.requireInSync(t, "seller")

	// nothing left to clear
	h.clock.Advance(8 * 24 * time.Hour)
	n, err := h.wallet.ReleaseMatured(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRefundFailsWhenSellerFundsAreReserved(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prod-1", "seller", "10.00")
	order := h.purchase(t, "buyer", "prod-1", pricing.LicensePersonal)

	_, err := h.withdrawals.Request(ctx, "seller", money.MustParse("9.00"), model.PayoutBankTransfer,
		[]byte(`{"iban":"DE89370400440532013000"}`))
	require.NoError(t, err)

	_, err = h.orders.Refund(ctx, order.OrderID, "late complaint")
	require.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	// nothing moved
	got, err := h.orders.Get(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, got.Status)
	assert.Len(t, h.transactions(t, "seller"), 1)
	assert.Len(t, h.transactions(t, "buyer"), 1)
	h.requireInSync(t, "seller")
}

func TestReleaseMatured(t *testing.T) {
	const clearing = 7 * 24 * time.Hour
	h := newHarness(t, func(o *harnessOpts) {
		o.policy.ClearingPeriod = clearing
	})
	ctx := context.Background()
	h.addProduct(t, "prod-1", "seller", "10.00")
	h.purchase(t, "buyer", "prod-1", pricing.LicensePersonal)

	h.clock.Advance(6 * 24 * time.Hour)
	h.purchase(t, "buyer", "prod-1", pricing.LicensePersonal)

	n, err := h.wallet.ReleaseMatured(ctx, clearing)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(2 * 24 * time.Hour)
	n, err = h.wallet.ReleaseMatured(ctx, clearing)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b := h.balance(t, "seller")
	assert.Equal(t, money.MustParse("9.00"), b.Available)
	assert.Equal(t, money.MustParse("9.00"), b.Pending)
	h.requireInSync(t, "seller")

	// a second pass finds nothing new
	n, err = h.wallet.ReleaseMatured(ctx, clearing)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListOrders(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prod-1", "seller", "10.00")
	h.addProduct(t, "prod-2", "other-seller", "20.00")

	first := h.purchase(t, "buyer", "prod-1", pricing.LicensePersonal)
	h.clock.Advance(time.Minute)
	second := h.purchase(t, "buyer", "prod-2", pricing.LicensePersonal)
	h.clock.Advance(time.Minute)
	_, err := h.checkout.StartCheckout(ctx, "buyer", "prod-1", pricing.LicensePersonal)
	require.NoError(t, err)

	all, err := h.orders.List(ctx, repository.OrderFilter{BuyerID: "buyer"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, second.OrderID, all[1].OrderID, "newest first")
	assert.Equal(t, first.OrderID, all[2].OrderID)

	completed, err := h.orders.List(ctx, repository.OrderFilter{
		BuyerID:  "buyer",
		Statuses: []model.OrderStatus{model.OrderCompleted},
	})
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	bySeller, err := h.orders.List(ctx, repository.OrderFilter{SellerID: "other-seller"})
	require.NoError(t, err)
	require.Len(t, bySeller, 1)
	assert.Equal(t, second.OrderID, bySeller[0].OrderID)

	paged, err := h.orders.List(ctx, repository.OrderFilter{BuyerID: "buyer", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 1)
	assert.Equal(t, second.OrderID, paged[0].OrderID)
}
