// Package apperr holds the ledger's error taxonomy. Call sites wrap a sentinel
// with fmt.Errorf("...: %w", apperr.ErrX) to add detail; the HTTP layer unwraps
// it with errors.As to pick the response status.
package apperr

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindPrecondition Kind = "precondition"
	KindResource     Kind = "resource"
	KindTransient    Kind = "transient"
	KindIntegrity    Kind = "integrity"
	KindAuth         Kind = "auth"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Retryable reports whether the caller may try again with a fresh attempt.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient
}

func newErr(kind Kind, code, msg string, status int) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Status: status}
}

var (
	ErrInvalidPricingInput         = newErr(KindValidation, "InvalidPricingInput", "invalid pricing input", http.StatusBadRequest)
	ErrInvalidPaymentMethod        = newErr(KindValidation, "InvalidPaymentMethod", "invalid payment method", http.StatusBadRequest)
	ErrInvalidWithdrawalAmt        = newErr(KindValidation, "InvalidWithdrawalAmount", "invalid withdrawal amount", http.StatusBadRequest)
	ErrInvalidDepositAmount        = newErr(KindValidation, "InvalidDepositAmount", "invalid deposit amount", http.StatusBadRequest)
	ErrInvalidLicenseType          = newErr(KindValidation, "InvalidLicenseType", "unknown license type", http.StatusBadRequest)
	ErrSelfPurchase                = newErr(KindValidation, "SelfPurchase", "sellers cannot buy their own product", http.StatusBadRequest)
	ErrInvalidRequest              = newErr(KindValidation, "InvalidRequest", "invalid request", http.StatusBadRequest)
	ErrProductNotFound             = newErr(KindNotFound, "ProductNotFound", "product not found", http.StatusNotFound)
	ErrOrderNotFound               = newErr(KindNotFound, "OrderNotFound", "order not found", http.StatusNotFound)
	ErrCheckoutNotFound            = newErr(KindNotFound, "CheckoutNotFound", "checkout not found", http.StatusNotFound)
	ErrWithdrawalNotFound          = newErr(KindNotFound, "WithdrawalNotFound", "withdrawal not found", http.StatusNotFound)
	ErrTransactionNotFound         = newErr(KindNotFound, "TransactionNotFound", "wallet transaction not found", http.StatusNotFound)
	ErrProductUnavailable          = newErr(KindPrecondition, "ProductUnavailable", "product is not available for purchase", http.StatusUnprocessableEntity)
	ErrOrderNotRefundable          = newErr(KindPrecondition, "OrderNotRefundable", "order cannot be refunded", http.StatusUnprocessableEntity)
	ErrOrderNotDownloadable        = newErr(KindPrecondition, "OrderNotDownloadable", "order is not downloadable", http.StatusForbidden)
	ErrDownloadLimitExceeded       = newErr(KindPrecondition, "DownloadLimitExceeded", "download limit reached", http.StatusForbidden)
	ErrInvalidOrderTransition      = newErr(KindPrecondition, "InvalidOrderTransition", "order status transition not allowed", http.StatusConflict)
	ErrInvalidCheckoutTransition   = newErr(KindPrecondition, "InvalidCheckoutTransition", "checkout state transition not allowed", http.StatusConflict)
	ErrInvalidWithdrawalTransition = newErr(KindPrecondition, "InvalidWithdrawalTransition", "withdrawal status transition not allowed", http.StatusConflict)
	ErrInvalidDepositTransition    = newErr(KindPrecondition, "InvalidDepositTransition", "deposit status transition not allowed", http.StatusConflict)
	ErrInsufficientBalance         = newErr(KindResource, "InsufficientBalance", "insufficient available balance", http.StatusPaymentRequired)
	ErrPaymentFailed               = newErr(KindTransient, "PaymentFailed", "payment was not authorized", http.StatusBadGateway)
	ErrPaymentInProgress           = newErr(KindTransient, "PaymentInProgress", "payment authorization already in flight", http.StatusConflict)
	ErrPayoutFailed                = newErr(KindTransient, "PayoutFailed", "payout could not be initiated", http.StatusBadGateway)
	ErrIntegrityViolation          = newErr(KindIntegrity, "IntegrityViolation", "ledger integrity violation", http.StatusInternalServerError)
	ErrUnauthorized                = newErr(KindAuth, "Unauthorized", "missing or invalid credentials", http.StatusUnauthorized)
	ErrForbidden                   = newErr(KindAuth, "Forbidden", "not allowed", http.StatusForbidden)
)

// As returns the *Error wrapped somewhere in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or "" when err carries no *Error.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}
