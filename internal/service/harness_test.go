package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"marketplace-ledger/internal/client"
	"marketplace-ledger/internal/dbtest"
	"marketplace-ledger/internal/model"
	"marketplace-ledger/internal/money"
	"marketplace-ledger/internal/notify"
	"marketplace-ledger/internal/pricing"
	"marketplace-ledger/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.Type
	}
	return out
}

type harnessOpts struct {
	policy  CheckoutPolicy
	gateway client.PaymentGateway
	payouts client.PayoutClient
}

type harness struct {
	db       *gorm.DB
	clock    *testClock
	notifier *recordingNotifier
	opts     harnessOpts

	products      repository.ProductRepository
	orderRepo     repository.OrderRepository
	checkoutRepo  repository.CheckoutRepository
	walletRepo    repository.WalletRepository
	withdrawRepo  repository.WithdrawalRepository
	wallet        WalletService
	orders        OrderService
	checkout      CheckoutService
	deposits      DepositService
	withdrawals   WithdrawalService
	stats         StatsService
	webhooks      WebhookService
	webhookEvents repository.WebhookEventRepository
}

func newHarness(t *testing.T, mods ...func(*harnessOpts)) *harness {
	t.Helper()

	opts := harnessOpts{
		policy: CheckoutPolicy{
			DefaultFeePercent: decimal.NewFromInt(10),
			PaymentTimeout:    time.Second,
			ExpireAfter:       30 * time.Minute,
		},
		gateway: client.NewSimulatedGateway(0),
		payouts: client.NewManualPayoutClient(),
	}
	for _, m := range mods {
		m(&opts)
	}

	h := &harness{
		db:            dbtest.New(t),
		clock:         newTestClock(),
		notifier:      &recordingNotifier{},
		opts:          opts,
		orderRepo:     repository.NewOrderRepository(),
		checkoutRepo:  repository.NewCheckoutRepository(),
		walletRepo:    repository.NewWalletRepository(),
		withdrawRepo:  repository.NewWithdrawalRepository(),
		webhookEvents: repository.NewWebhookEventRepository(),
	}
	h.products = repository.NewProductRepository(h.db)
	h.wallet = NewWalletService(h.db, h.walletRepo, h.withdrawRepo, h.clock.Now)
	h.orders = NewOrderService(h.db, h.orderRepo, h.walletRepo, h.wallet, h.notifier, h.clock.Now)
	h.checkout = h.newCheckoutService()
	h.deposits = NewDepositService(h.db, opts.gateway, h.walletRepo, h.wallet, h.notifier, opts.policy.PaymentTimeout)
	h.withdrawals = NewWithdrawalService(h.db, h.withdrawRepo, h.wallet, opts.payouts, h.notifier, h.clock.Now)
	h.stats = NewStatsService(h.db, h.orderRepo)
	h.webhooks = NewWebhookService(h.db, h.webhookEvents, h.checkout, h.deposits, h.withdrawals)
	return h
}

// newCheckoutService builds a second service over the same store, standing in
// for another API process.
func (h *harness) newCheckoutService() CheckoutService {
	return NewCheckoutService(h.db, h.opts.gateway, h.products, h.orderRepo, h.checkoutRepo,
		h.orders, h.wallet, h.notifier, h.opts.policy, h.clock.Now)
}

func (h *harness) addProduct(t *testing.T, id, sellerID, basePrice string, mods ...func(*model.Product)) *model.Product {
	t.Helper()
	p := &model.Product{
		ID:             id,
		SellerID:       sellerID,
		Title:          id,
		BasePrice:      money.MustParse(basePrice),
		Currency:       "USD",
		DefaultLicense: pricing.LicensePersonal,
		Status:         model.ProductPublished,
		IsActive:       true,
	}
	for _, m := range mods {
		m(p)
	}
	require.NoError(t, h.products.Create(context.Background(), p))
	return p
}

func (h *harness) purchase(t *testing.T, buyerID, productID string, license pricing.LicenseType) *model.Order {
	t.Helper()
	ctx := context.Background()
	started, err := h.checkout.StartCheckout(ctx, buyerID, productID, license)
	require.NoError(t, err)
	res, err := h.checkout.ConfirmPayment(ctx, started.Order.OrderID, ConfirmRequest{PaymentMethod: "card", PaymentReference: "tok_visa"})
	require.NoError(t, err)
	require.Equal(t, model.OrderCompleted, res.Order.Status)
	return res.Order
}

func (h *harness) deposit(t *testing.T, userID, amount string) {
	t.Helper()
	_, err := h.wallet.Append(context.Background(), AppendRequest{
		UserID:      userID,
		Amount:      money.MustParse(amount),
		Type:        model.TxDeposit,
		Status:      model.TxCompleted,
		Description: "test deposit",
	})
	require.NoError(t, err)
}

func (h *harness) balance(t *testing.T, userID string) *Balance {
	t.Helper()
	b, err := h.wallet.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	return b
}

func (h *harness) transactions(t *testing.T, userID string) []*model.WalletTransaction {
	t.Helper()
	txs, err := h.walletRepo.FoldSource(context.Background(), h.db, userID)
	require.NoError(t, err)
	return txs
}

func (h *harness) requireInSync(t *testing.T, userID string) {
	t.Helper()
	rec, err := h.wallet.Reconcile(context.Background(), userID)
	require.NoError(t, err)
	require.True(t, rec.InSync)
}
