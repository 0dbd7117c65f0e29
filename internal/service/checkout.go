package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/client"
	"marketplace-ledger/internal/model"
	"marketplace-ledger/internal/notify"
	"marketplace-ledger/internal/pricing"
	"marketplace-ledger/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// walletPayment settles from the buyer's available balance instead of the
// gateway.
const walletPayment = "wallet"

// Payment methods a buyer may confirm a checkout with.
var checkoutPaymentMethods = map[string]bool{
	"card":        true,
	"paypal":      true,
	walletPayment: true,
}

type CheckoutPolicy struct {
	DefaultFeePercent decimal.Decimal
	PaymentTimeout    time.Duration
	ExpireAfter       time.Duration
	// sales clear into available balance after this long; 0 means at once
	ClearingPeriod time.Duration
	// a processing checkout with no gateway answer is failed after this
	// long; 0 leaves it for the payments webhook
	SettleWithin time.Duration
}

type ConfirmRequest struct {
	PaymentMethod    string
	PaymentReference string
}

type CheckoutResult struct {
	Order    *model.Order
	Checkout *model.Checkout
	// AlreadyCompleted is set when the order had been paid by an earlier call.
	AlreadyCompleted bool
}

type CheckoutService interface {
	StartCheckout(ctx context.Context, buyerID, productID string, license pricing.LicenseType) (*CheckoutResult, error)
	ConfirmPayment(ctx context.Context, orderID string, req ConfirmRequest) (*CheckoutResult, error)
	ApplyPaymentResult(ctx context.Context, orderID string, res client.PaymentResult) (*CheckoutResult, error)
	Cancel(ctx context.Context, orderID string) (*CheckoutResult, error)
	Get(ctx context.Context, orderID string) (*CheckoutResult, error)
	ExpireStale(ctx context.Context) (int, error)
}

type checkoutServiceImpl struct {
	db            *gorm.DB
	gateway       client.PaymentGateway
	productRepo   repository.ProductRepository
	orderRepo     repository.OrderRepository
	checkoutRepo  repository.CheckoutRepository
	orderService  OrderService
	walletService WalletService
	notifier      notify.Notifier
	policy        CheckoutPolicy
	now           func() time.Time

	ids      orderIDGenerator
	inflight singleflight.Group
}

func NewCheckoutService(
	db *gorm.DB,
	gateway client.PaymentGateway,
	productRepo repository.ProductRepository,
	orderRepo repository.OrderRepository,
	checkoutRepo repository.CheckoutRepository,
	orderService OrderService,
	walletService WalletService,
	notifier notify.Notifier,
	policy CheckoutPolicy,
	now func() time.Time,
) CheckoutService {
	return &checkoutServiceImpl{
		db:            db,
		gateway:       gateway,
		productRepo:   productRepo,
		orderRepo:     orderRepo,
		checkoutRepo:  checkoutRepo,
		orderService:  orderService,
		walletService: walletService,
		notifier:      notifier,
		policy:        policy,
		now:           now,
	}
}

func (s *checkoutServiceImpl) StartCheckout(ctx context.Context, buyerID, productID string, license pricing.LicenseType) (*CheckoutResult, error) {
	if _, err := pricing.ParseLicense(string(license)); err != nil {
		return nil, err
	}

	product, err := s.productRepo.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.Purchasable() {
		return nil, fmt.Errorf("product %s is %s (active=%t): %w",
			productID, product.Status, product.IsActive, apperr.ErrProductUnavailable)
	}
	if product.SellerID == buyerID {
		return nil, fmt.Errorf("buyer %s owns product %s: %w", buyerID, productID, apperr.ErrSelfPurchase)
	}

	feePercent := s.policy.DefaultFeePercent
	if product.ServiceFeePercent.Valid {
		feePercent = product.ServiceFeePercent.Decimal
	}
	quote, err := pricing.NewQuote(product.BasePrice, license, feePercent)
	if err != nil {
		return nil, fmt.Errorf("price product %s: %w", productID, err)
	}

	now := s.now()
	order := &model.Order{
		ID:                uuid.NewString(),
		OrderID:           s.ids.Next(now),
		BuyerID:           buyerID,
		SellerID:          product.SellerID,
		ProductID:         product.ID,
		LicenseType:       quote.License,
		Currency:          product.Currency,
		Amount:            quote.Amount,
		ServiceFee:        quote.ServiceFee,
		SellerAmount:      quote.SellerAmount,
		ServiceFeePercent: quote.ServiceFeePercent,
		Status:            model.OrderPending,
		DownloadCount:     0,
		MaxDownloads:      quote.MaxDownloads,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	checkout := &model.Checkout{
		OrderID:   order.OrderID,
		BuyerID:   buyerID,
		State:     model.CheckoutInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.Create(ctx, tx, order); err != nil {
			return fmt.Errorf("store order in db: %w", err)
		}
		if err := s.checkoutRepo.Create(ctx, tx, checkout); err != nil {
			return fmt.Errorf("store checkout in db: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "checkout started",
		"order_id", order.OrderID,
		"product_id", productID,
		"license", license,
		"amount", order.Amount.String(),
	)
	return &CheckoutResult{Order: order, Checkout: checkout}, nil
}

func (s *checkoutServiceImpl) Get(ctx context.Context, orderID string) (*CheckoutResult, error) {
	return s.load(ctx, s.db, orderID)
}

func (s *checkoutServiceImpl) load(ctx context.Context, tx *gorm.DB, orderID string) (*CheckoutResult, error) {
	checkout, err := s.checkoutRepo.FindByOrderID(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	order, err := s.orderRepo.FindByOrderID(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{Order: order, Checkout: checkout}, nil
}

// ConfirmPayment authorizes the buyer's payment and completes the order.
// Concurrent calls for one order share a single attempt; calls that arrive
// after completion get the stored result back with AlreadyCompleted set.
func (s *checkoutServiceImpl) ConfirmPayment(ctx context.Context, orderID string, req ConfirmRequest) (*CheckoutResult, error) {
	if !checkoutPaymentMethods[req.PaymentMethod] {
		return nil, fmt.Errorf("payment method %q: %w", req.PaymentMethod, apperr.ErrInvalidPaymentMethod)
	}

	leader := false
	v, err, _ := s.inflight.Do(orderID, func() (interface{}, error) {
		leader = true
		return s.confirm(ctx, orderID, req)
	})
	if err != nil {
		return nil, err
	}

	res := *v.(*CheckoutResult)
	if !leader {
		res.AlreadyCompleted = true
	}
	return &res, nil
}

func (s *checkoutServiceImpl) confirm(ctx context.Context, orderID string, req ConfirmRequest) (*CheckoutResult, error) {
	// store writes must not be torn by the caller going away; ctx is only
	// consulted explicitly, right before dispatch
	detached := context.WithoutCancel(ctx)

	current, err := s.Get(detached, orderID)
	if err != nil {
		return nil, err
	}
	if current.Checkout.State != model.CheckoutInitiated {
		return s.resultForState(current)
	}

	// initiated -> paying
	ok, err := s.checkoutRepo.Transition(detached, s.db, orderID,
		[]model.CheckoutState{model.CheckoutInitiated}, model.CheckoutPaying,
		map[string]interface{}{"payment_method": req.PaymentMethod})
	if err != nil {
		return nil, fmt.Errorf("mark checkout paying: %w", err)
	}
	if !ok {
		return s.reload(detached, orderID)
	}

	// last point where the caller may still walk away
	if ctxErr := ctx.Err(); ctxErr != nil {
		if _, err := s.cancel(detached, orderID, "cancelled before payment dispatch"); err != nil {
			slog.WarnContext(ctx, "cancel abandoned checkout", "order_id", orderID, "error", err)
		}
		return nil, fmt.Errorf("checkout %s: %w", orderID, ctxErr)
	}

	ok, err = s.checkoutRepo.Transition(detached, s.db, orderID,
		[]model.CheckoutState{model.CheckoutPaying}, model.CheckoutProcessing, nil)
	if err != nil {
		return nil, fmt.Errorf("mark checkout processing: %w", err)
	}
	if !ok {
		return s.reload(detached, orderID)
	}

	if req.PaymentMethod == walletPayment {
		return s.payFromWallet(detached, orderID)
	}

	// from here on the attempt must finish, whatever happens to the caller
	gwCtx, cancel := context.WithTimeout(detached, s.policy.PaymentTimeout)
	defer cancel()

	result, err := s.gateway.Authorize(gwCtx, client.PaymentRequest{
		OrderID:          orderID,
		Amount:           current.Order.Amount,
		Currency:         current.Order.Currency,
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: req.PaymentReference,
	})
	if err != nil {
		// the gateway may have charged the buyer; wait for its callback
		slog.WarnContext(ctx, "payment outcome unknown", "order_id", orderID, "error", err)
		if _, recErr := s.checkoutRepo.Transition(detached, s.db, orderID,
			[]model.CheckoutState{model.CheckoutProcessing}, model.CheckoutProcessing,
			map[string]interface{}{"gateway_error": err.Error()}); recErr != nil {
			slog.ErrorContext(ctx, "record gateway error", "order_id", orderID, "error", recErr)
		}
		return nil, fmt.Errorf("order %s: awaiting gateway confirmation: %v: %w", orderID, err, apperr.ErrPaymentInProgress)
	}

	return s.settle(detached, orderID, *result)
}

// payFromWallet completes a processing checkout by debiting the buyer. A
// short balance fails the checkout with nothing written to either wallet.
func (s *checkoutServiceImpl) payFromWallet(ctx context.Context, orderID string) (*CheckoutResult, error) {
	res, err := s.complete(ctx, orderID, "wallet-"+orderID)
	if !errors.Is(err, apperr.ErrInsufficientBalance) {
		return res, err
	}

	if _, failErr := s.fail(ctx, orderID, "insufficient wallet balance"); !errors.Is(failErr, apperr.ErrPaymentFailed) {
		slog.ErrorContext(ctx, "fail unpaid wallet checkout", "order_id", orderID, "error", failErr)
	}
	return nil, fmt.Errorf("order %s: %w", orderID, err)
}

// ApplyPaymentResult completes or fails a checkout from a gateway callback,
// without calling the gateway again.
func (s *checkoutServiceImpl) ApplyPaymentResult(ctx context.Context, orderID string, res client.PaymentResult) (*CheckoutResult, error) {
	current, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if current.Checkout.State.Terminal() {
		if res.Success && current.Checkout.State != model.CheckoutCompleted {
			err := fmt.Errorf("gateway reports payment %q for %s checkout %s: %w",
				res.PaymentReference, current.Checkout.State, orderID, apperr.ErrIntegrityViolation)
			slog.ErrorContext(ctx, "payment captured for a closed checkout", "order_id", orderID, "error", err)
			return nil, err
		}
		return s.resultForState(current)
	}
	return s.settle(context.WithoutCancel(ctx), orderID, res)
}

func (s *checkoutServiceImpl) reload(ctx context.Context, orderID string) (*CheckoutResult, error) {
	current, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.resultForState(current)
}

// resultForState answers a confirmation that found the checkout already past
// initiated.
func (s *checkoutServiceImpl) resultForState(current *CheckoutResult) (*CheckoutResult, error) {
	switch current.Checkout.State {
	case model.CheckoutCompleted:
		current.AlreadyCompleted = true
		return current, nil
	case model.CheckoutPaying, model.CheckoutProcessing:
		return nil, fmt.Errorf("checkout %s is %s: %w", current.Checkout.OrderID, current.Checkout.State, apperr.ErrPaymentInProgress)
	default:
		return nil, fmt.Errorf("checkout %s is %s: %w", current.Checkout.OrderID, current.Checkout.State, apperr.ErrInvalidCheckoutTransition)
	}
}

var unsettled = []model.CheckoutState{model.CheckoutInitiated, model.CheckoutPaying, model.CheckoutProcessing}

func (s *checkoutServiceImpl) settle(ctx context.Context, orderID string, res client.PaymentResult) (*CheckoutResult, error) {
	if res.Success {
		return s.complete(ctx, orderID, res.PaymentReference)
	}
	return s.fail(ctx, orderID, res.Message)
}

// complete flips checkout and order and writes both wallet lines in one
// transaction, so readers see all of it or none of it. The buyer's line is a
// wallet debit for wallet payments and external otherwise.
func (s *checkoutServiceImpl) complete(ctx context.Context, orderID, paymentRef string) (*CheckoutResult, error) {
	var out *CheckoutResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.checkoutRepo.Transition(ctx, tx, orderID, unsettled, model.CheckoutCompleted,
			map[string]interface{}{"payment_reference": paymentRef})
		if err != nil {
			return fmt.Errorf("mark checkout completed: %w", err)
		}
		if !ok {
			current, err := s.load(ctx, tx, orderID)
			if err != nil {
				return err
			}
			out, err = s.resultForState(current)
			return err
		}

		checkout, err := s.checkoutRepo.FindByOrderID(ctx, tx, orderID)
		if err != nil {
			return err
		}

		now := s.now()
		order, err := s.orderService.TransitionTx(ctx, tx, orderID, model.OrderCompleted, map[string]interface{}{
			"payment_reference": paymentRef,
			"completed_at":      now,
			"download_count":    0,
		})
		if err != nil {
			if errors.Is(err, apperr.ErrInvalidOrderTransition) {
				return fmt.Errorf("checkout %s settled over a non-pending order: %w", orderID, apperr.ErrIntegrityViolation)
			}
			return err
		}

		saleStatus := model.TxCompleted
		if s.policy.ClearingPeriod > 0 {
			saleStatus = model.TxPending
		}
		if _, err := s.walletService.AppendTx(ctx, tx, AppendRequest{
			UserID:      order.SellerID,
			Amount:      order.SellerAmount,
			Type:        model.TxSale,
			Status:      saleStatus,
			OrderID:     order.OrderID,
			Description: fmt.Sprintf("Sale of %s (%s license)", order.ProductID, order.LicenseType),
		}); err != nil {
			return fmt.Errorf("append seller sale: %w", err)
		}
		if _, err := s.walletService.AppendTx(ctx, tx, AppendRequest{
			UserID:      order.BuyerID,
			Amount:      order.Amount,
			Type:        model.TxPurchase,
			Status:      model.TxCompleted,
			External:    checkout.PaymentMethod != walletPayment,
			OrderID:     order.OrderID,
			Description: fmt.Sprintf("Purchase of %s (%s license)", order.ProductID, order.LicenseType),
		}); err != nil {
			return fmt.Errorf("append buyer purchase: %w", err)
		}

		out = &CheckoutResult{Order: order, Checkout: checkout}
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindIntegrity {
			slog.ErrorContext(ctx, "checkout completion aborted", "order_id", orderID, "error", err)
		}
		return nil, err
	}
	if out.AlreadyCompleted {
		return out, nil
	}

	slog.InfoContext(ctx, "order completed", "order_id", orderID, "payment_reference", paymentRef)
	s.notifier.Notify(ctx, notify.Event{
		Type:     notify.EventOrderCompleted,
		OrderID:  out.Order.OrderID,
		BuyerID:  out.Order.BuyerID,
		SellerID: out.Order.SellerID,
		Amount:   out.Order.Amount,
	})
	return out, nil
}

func (s *checkoutServiceImpl) fail(ctx context.Context, orderID, reason string) (*CheckoutResult, error) {
	if reason == "" {
		reason = "payment declined"
	}
	var out *CheckoutResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.checkoutRepo.Transition(ctx, tx, orderID, unsettled, model.CheckoutFailed,
			map[string]interface{}{"failure_reason": reason})
		if err != nil {
			return fmt.Errorf("mark checkout failed: %w", err)
		}
		if !ok {
			current, err := s.load(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if current.Checkout.State == model.CheckoutCompleted {
				return fmt.Errorf("failure reported for paid checkout %s: %w", orderID, apperr.ErrInvalidCheckoutTransition)
			}
			_, err = s.resultForState(current)
			return err
		}

		if _, err := s.orderService.TransitionTx(ctx, tx, orderID, model.OrderCancelled, nil); err != nil {
			return err
		}
		out, err = s.load(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "payment failed", "order_id", orderID, "reason", reason)
	return out, fmt.Errorf("order %s: %s: %w", orderID, reason, apperr.ErrPaymentFailed)
}

// Cancel abandons a checkout that has not reached the gateway yet.
func (s *checkoutServiceImpl) Cancel(ctx context.Context, orderID string) (*CheckoutResult, error) {
	return s.cancel(ctx, orderID, "cancelled by buyer")
}

func (s *checkoutServiceImpl) cancel(ctx context.Context, orderID, reason string) (*CheckoutResult, error) {
	var out *CheckoutResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := s.checkoutRepo.Transition(ctx, tx, orderID,
			[]model.CheckoutState{model.CheckoutInitiated, model.CheckoutPaying}, model.CheckoutCancelled,
			map[string]interface{}{"failure_reason": reason})
		if err != nil {
			return fmt.Errorf("mark checkout cancelled: %w", err)
		}
		if !ok {
			current, err := s.load(ctx, tx, orderID)
			if err != nil {
				return err
			}
			if current.Checkout.State == model.CheckoutCancelled {
				out = current
				return nil
			}
			return fmt.Errorf("checkout %s is %s: %w", orderID, current.Checkout.State, apperr.ErrInvalidCheckoutTransition)
		}

		if _, err := s.orderService.TransitionTx(ctx, tx, orderID, model.OrderCancelled, nil); err != nil {
			return err
		}
		out, err = s.load(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ExpireStale cancels checkouts that never reached the gateway within
// ExpireAfter, and fails those the gateway left unanswered past SettleWithin.
func (s *checkoutServiceImpl) ExpireStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.policy.ExpireAfter)
	stale, err := s.checkoutRepo.ListStale(ctx, s.db,
		[]model.CheckoutState{model.CheckoutInitiated, model.CheckoutPaying}, cutoff, 500)
	if err != nil {
		return 0, fmt.Errorf("list stale checkouts: %w", err)
	}

	expired := 0
	for _, c := range stale {
		_, err := s.cancel(ctx, c.OrderID, "expired")
		switch {
		case err == nil:
			expired++
		case errors.Is(err, apperr.ErrInvalidCheckoutTransition):
			// moved on since we listed it
		default:
			return expired, fmt.Errorf("expire checkout %s: %w", c.OrderID, err)
		}
	}

	if s.policy.SettleWithin <= 0 {
		return expired, nil
	}
	unanswered, err := s.checkoutRepo.ListStale(ctx, s.db,
		[]model.CheckoutState{model.CheckoutProcessing}, s.now().Add(-s.policy.SettleWithin), 500)
	if err != nil {
		return expired, fmt.Errorf("list unanswered checkouts: %w", err)
	}
	for _, c := range unanswered {
		_, err := s.fail(ctx, c.OrderID, "no answer from payment gateway")
		switch {
		case errors.Is(err, apperr.ErrPaymentFailed):
			slog.WarnContext(ctx, "unanswered checkout failed", "order_id", c.OrderID, "gateway_error", c.GatewayError)
			expired++
		case errors.Is(err, apperr.ErrInvalidCheckoutTransition):
			// settled since we listed it
		default:
			return expired, fmt.Errorf("fail unanswered checkout %s: %w", c.OrderID, err)
		}
	}
	return expired, nil
}
