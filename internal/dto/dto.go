package dto

import (
	"encoding/json"
	"time"

	"marketplace-ledger/internal/money"
)

type CreateOrderRequest struct {
	ProductID   string `json:"productId"`
	LicenseType string `json:"licenseType"`
}

type OrderResponse struct {
	OrderID       string      `json:"orderId"`
	BuyerID       string      `json:"buyerId"`
	SellerID      string      `json:"sellerId"`
	ProductID     string      `json:"productId"`
	LicenseType   string      `json:"licenseType"`
	Currency      string      `json:"currency"`
	Amount        money.Cents `json:"amount"`
	ServiceFee    money.Cents `json:"serviceFee"`
	SellerAmount  money.Cents `json:"sellerAmount"`
	Status        string      `json:"status"`
	CheckoutState string      `json:"checkoutState,omitempty"`
	DownloadCount int         `json:"downloadCount"`
	MaxDownloads  int         `json:"maxDownloads"`
	RefundReason  string      `json:"refundReason,omitempty"`
	CompletedAt   *time.Time  `json:"completedAt,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

type ConfirmPaymentRequest struct {
	PaymentMethod    string `json:"paymentMethod"`
	PaymentReference string `json:"paymentReference"`
}

type RefundRequest struct {
	Reason string `json:"reason"`
}

type DownloadResponse struct {
	OrderID       string `json:"orderId"`
	DownloadCount int    `json:"downloadCount"`
	MaxDownloads  int    `json:"maxDownloads"`
	Remaining     int    `json:"remaining"`
}

type WithdrawalRequest struct {
	Amount         money.Cents     `json:"amount"`
	PaymentMethod  string          `json:"paymentMethod"`
	PaymentDetails json.RawMessage `json:"paymentDetails"`
}

type DepositRequest struct {
	Amount           money.Cents `json:"amount"`
	PaymentMethod    string      `json:"paymentMethod"`
	PaymentReference string      `json:"paymentReference"`
}

type RejectWithdrawalRequest struct {
	Reason string `json:"reason"`
}

type WithdrawalResponse struct {
	WithdrawalID    string      `json:"withdrawalId"`
	Amount          money.Cents `json:"amount"`
	ProcessingFee   money.Cents `json:"processingFee"`
	NetAmount       money.Cents `json:"netAmount"`
	PaymentMethod   string      `json:"paymentMethod"`
	Status          string      `json:"status"`
	PayoutReference string      `json:"payoutReference,omitempty"`
	PayoutError     string      `json:"payoutError,omitempty"`
	RejectionReason string      `json:"rejectionReason,omitempty"`
	CompletedAt     *time.Time  `json:"completedAt,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
}

type TransactionResponse struct {
	ID          string      `json:"id"`
	Seq         int64       `json:"seq"`
	Amount      money.Cents `json:"amount"`
	Type        string      `json:"type"`
	Direction   string      `json:"direction"`
	Status      string      `json:"status"`
	External    bool        `json:"external,omitempty"`
	OrderID     string      `json:"orderId,omitempty"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type PaymentWebhook struct {
	EventID          string `json:"eventId"`
	OrderID          string `json:"orderId"`
	DepositID        string `json:"depositId"`
	Success          bool   `json:"success"`
	PaymentReference string `json:"paymentReference"`
	Message          string `json:"message"`
}

type PayoutWebhook struct {
	EventID      string `json:"eventId"`
	WithdrawalID string `json:"withdrawalId"`
	Status       string `json:"status"` // completed | rejected
	Reason       string `json:"reason"`
}

type WebhookAck struct {
	EventID   string `json:"eventId"`
	Status    string `json:"status,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
