package model

type ProductStatus string

const (
	ProductDraft     ProductStatus = "draft"
	ProductPublished ProductStatus = "published"
	ProductSuspended ProductStatus = "suspended"
	ProductDeleted   ProductStatus = "deleted"
)

// Purchasable reports whether checkout may charge for the product.
func (p *Product) Purchasable() bool {
	return p.IsActive && p.Status == ProductPublished
}

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
	OrderRefunded  OrderStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderCompleted, OrderCancelled},
	OrderCompleted: {OrderRefunded},
}

func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	return contains(orderTransitions[s], to)
}

type CheckoutState string

const (
	CheckoutInitiated  CheckoutState = "initiated"
	CheckoutPaying     CheckoutState = "paying"
	CheckoutProcessing CheckoutState = "processing"
	CheckoutCompleted  CheckoutState = "completed"
	CheckoutFailed     CheckoutState = "failed"
	CheckoutCancelled  CheckoutState = "cancelled"
)

var checkoutTransitions = map[CheckoutState][]CheckoutState{
	CheckoutInitiated:  {CheckoutPaying, CheckoutCancelled, CheckoutCompleted, CheckoutFailed},
	CheckoutPaying:     {CheckoutProcessing, CheckoutCancelled, CheckoutCompleted, CheckoutFailed},
	CheckoutProcessing: {CheckoutCompleted, CheckoutFailed},
}

func (s CheckoutState) CanTransitionTo(to CheckoutState) bool {
	return contains(checkoutTransitions[s], to)
}

// Cancellable is true until payment authorization has been dispatched.
func (s CheckoutState) Cancellable() bool {
	return s == CheckoutInitiated || s == CheckoutPaying
}

func (s CheckoutState) Terminal() bool {
	return s == CheckoutCompleted || s == CheckoutFailed || s == CheckoutCancelled
}

type TransactionType string

const (
	TxSale       TransactionType = "sale"
	TxPurchase   TransactionType = "purchase"
	TxWithdrawal TransactionType = "withdrawal"
	TxRefund     TransactionType = "refund"
	TxDeposit    TransactionType = "deposit"
)

type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// DefaultDirection is the direction implied by a transaction type. A refund is
// a credit for whoever receives it; the seller side passes Debit explicitly.
func DefaultDirection(t TransactionType) Direction {
	switch t {
	case TxPurchase, TxWithdrawal:
		return Debit
	default:
		return Credit
	}
}

type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
)

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalRejected   WithdrawalStatus = "rejected"
)

var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalPending:    {WithdrawalProcessing, WithdrawalRejected},
	WithdrawalProcessing: {WithdrawalCompleted, WithdrawalRejected},
}

func (s WithdrawalStatus) CanTransitionTo(to WithdrawalStatus) bool {
	return contains(withdrawalTransitions[s], to)
}

// Active withdrawals hold a reservation against the wallet.
func (s WithdrawalStatus) Active() bool {
	return s == WithdrawalPending || s == WithdrawalProcessing
}

type PaymentMethod string

const (
	PayoutBankTransfer PaymentMethod = "bank_transfer"
	PayoutPaypal       PaymentMethod = "paypal"
	PayoutCrypto       PaymentMethod = "crypto"
	PayoutOther        PaymentMethod = "other"
)

func contains[T comparable](xs []T, x T) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
