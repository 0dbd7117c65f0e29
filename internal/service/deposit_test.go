package service

import (
	"context"
	"testing"
	"time"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/client"
	"marketplace-ledger/internal/dto"
	"marketplace-ledger/internal/model"
	"marketplace-ledger/internal/money"
	"marketplace-ledger/internal/notify"
	"marketplace-ledger/internal/pricing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositCreditsWallet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	line, err := h.deposits.Deposit(ctx, "buyer", DepositRequest{
		Amount:           money.MustParse("50.00"),
		PaymentMethod:    "card",
		PaymentReference: "tok_visa",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TxDeposit, line.Type)
	assert.Equal(t, model.Credit, line.Direction)
	assert.Equal(t, model.TxCompleted, line.Status)
	assert.False(t, line.External)

	b := h.balance(t, "buyer")
	assert.Equal(t, money.MustParse("50.00"), b.Available)
	assert.Equal(t, money.Cents(0), b.Pending)
	h.requireInSync(t, "buyer")
	assert.Equal(t, []string{notify.EventDepositCompleted}, h.notifier.types())
}

func TestDepositDeclined(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	line, err := h.deposits.Deposit(ctx, "buyer", DepositRequest{
		Amount:           money.MustParse("50.00"),
		PaymentMethod:    "card",
		PaymentReference: client.DeclinePrefix + "_stolen_card",
	})
	require.ErrorIs(t, err, apperr.ErrPaymentFailed)
	require.NotNil(t, line)
	assert.Equal(t, model.TxFailed, line.Status)

	txs := h.transactions(t, "buyer")
	require.Len(t, txs, 1)
	assert.Equal(t, model.TxFailed, txs[0].Status)
	assert.Equal(t, Balance{UserID: "buyer"}, *h.balance(t, "buyer"))
	h.requireInSync(t, "buyer")
	assert.Empty(t, h.notifier.types())
}

func TestDepositValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		req    DepositRequest
		expErr error
	}{
		{"zero", DepositRequest{Amount: 0, PaymentMethod: "card"}, apperr.ErrInvalidDepositAmount},
		{"negative", DepositRequest{Amount: -500, PaymentMethod: "card"}, apperr.ErrInvalidDepositAmount},
		{"wallet funding itself", DepositRequest{Amount: 500, PaymentMethod: "wallet"}, apperr.ErrInvalidPaymentMethod},
		{"unknown method", DepositRequest{Amount: 500, PaymentMethod: "cheque"}, apperr.ErrInvalidPaymentMethod},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.deposits.Deposit(ctx, "buyer", tc.req)
			assert.ErrorIs(t, err, tc.expErr)
		})
	}
	assert.Empty(t, h.transactions(t, "buyer"))
}

func TestDepositAwaitsGatewayCallback(t *testing.T) {
	h := newHarness(t, func(o *harnessOpts) {
		o.gateway = erroringGateway{}
		o.policy.PaymentTimeout = 20 * time.Millisecond
	})
	ctx := context.Background()

	_, err := h.deposits.Deposit(ctx, "buyer", DepositRequest{Amount: money.MustParse("50.00"), PaymentMethod: "paypal"})
	require.ErrorIs(t, err, apperr.ErrPaymentInProgress)

	txs := h.transactions(t, "buyer")
	require.Len(t, txs, 1)
	depositID := txs[0].ID
	assert.Equal(t, model.TxPending, txs[0].Status)

	// not spendable until the gateway answers
	b := h.balance(t, "buyer")
	assert.Equal(t, money.Cents(0), b.Available)
	assert.Equal(t, money.MustParse("50.00"), b.Pending)

	ack, err := h.webhooks.HandlePayment(ctx, dto.PaymentWebhook{
		EventID:          "evt_dep_ok",
		DepositID:        depositID,
		Success:          true,
		PaymentReference: "pp_123",
	})
	require.NoError(t, err)
	assert.Equal(t, string(model.TxCompleted), ack.Status)

	b = h.balance(t, "buyer")
	assert.Equal(t, money.MustParse("50.00"), b.Available)
	assert.Equal(t, money.Cents(0), b.Pending)
	h.requireInSync(t, "buyer")

	// a redelivered success is a no-op, a contradicting decline is ignored
	_, err = h.deposits.ApplyDepositResult(ctx, depositID, client.PaymentResult{Success: true})
	require.NoError(t, err)
	ack, err = h.webhooks.HandlePayment(ctx, dto.PaymentWebhook{EventID: "evt_dep_no", DepositID: depositID})
	require.NoError(t, err)
	assert.Equal(t, "ignored", ack.Status)

	assert.Len(t, h.transactions(t, "buyer"), 1)
	assert.Equal(t, money.MustParse("50.00"), h.balance(t, "buyer").Available)
	assert.Equal(t, []string{notify.EventDepositCompleted}, h.notifier.types())
}

func TestSuccessForFailedDepositIsIntegrityViolation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	line, err := h.deposits.Deposit(ctx, "buyer", DepositRequest{
		Amount:           money.MustParse("20.00"),
		PaymentMethod:    "card",
		PaymentReference: client.DeclinePrefix,
	})
	require.ErrorIs(t, err, apperr.ErrPaymentFailed)

	_, err = h.webhooks.HandlePayment(ctx, dto.PaymentWebhook{
		EventID:   "evt_dep_late",
		DepositID: line.ID,
		Success:   true,
	})
	require.ErrorIs(t, err, apperr.ErrIntegrityViolation)

	seen, err := h.webhookEvents.Exists(ctx, h.db, "evt_dep_late")
	require.NoError(t, err)
	assert.False(t, seen)
	assert.Equal(t, money.Cents(0), h.balance(t, "buyer").Available)
}

func TestDepositWebhookForUnknownLine(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addProduct(t, "prod-1", "seller", "10.00")
	order := h.purchase(t, "buyer", "prod-1", pricing.LicensePersonal)
	purchase := h.transactions(t, "buyer")[0]
	require.Equal(t, order.OrderID, purchase.OrderID)

	ack, err := h.webhooks.HandlePayment(ctx, dto.PaymentWebhook{EventID: "evt_missing", DepositID: "no-such-line", Success: true})
	require.NoError(t, err)
	assert.Equal(t, "ignored", ack.Status)

	_, err = h.deposits.ApplyDepositResult(ctx, purchase.ID, client.PaymentResult{Success: true})
	assert.ErrorIs(t, err, apperr.ErrTransactionNotFound)
}
