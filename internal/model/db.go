package model

import (
	"time"

	"marketplace-ledger/internal/money"
	"marketplace-ledger/internal/pricing"

	"github.com/shopspring/decimal"
)

// Product is the catalog's view of something purchasable. The ledger only reads it.
type Product struct {
	ID                string              `gorm:"primaryKey;size:64;not null"`
	SellerID          string              `gorm:"size:64;index;not null"`
	Title             string              `gorm:"size:255;not null"`
	BasePrice         money.Cents         `gorm:"not null"`
	Currency          string              `gorm:"size:8;not null"`
	DefaultLicense    pricing.LicenseType `gorm:"size:16;not null"`
	ServiceFeePercent decimal.NullDecimal `gorm:"type:decimal(5,2)"` // null -> platform default
	Status            ProductStatus       `gorm:"size:16;index;not null"`
	IsActive          bool                `gorm:"not null"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Order struct {
	ID                string              `gorm:"primaryKey;size:36;not null"`
	OrderID           string              `gorm:"size:64;uniqueIndex;not null"` // human readable
	BuyerID           string              `gorm:"size:64;index;not null"`
	SellerID          string              `gorm:"size:64;index;not null"`
	ProductID         string              `gorm:"size:64;index;not null"`
	LicenseType       pricing.LicenseType `gorm:"size:16;not null"`
	Currency          string              `gorm:"size:8;not null"`
	Amount            money.Cents         `gorm:"not null"`
	ServiceFee        money.Cents         `gorm:"not null"`
	SellerAmount      money.Cents         `gorm:"not null"`
	ServiceFeePercent decimal.Decimal     `gorm:"type:decimal(5,2);not null"`
	Status            OrderStatus         `gorm:"size:16;index;not null"`
	PaymentReference  string              `gorm:"size:128"`
	DownloadCount     int                 `gorm:"not null"`
	MaxDownloads      int                 `gorm:"not null"`
	RefundReason      string              `gorm:"type:text"`
	CompletedAt       *time.Time
	RefundedAt        *time.Time
	CreatedAt         time.Time `gorm:"index"`
	UpdatedAt         time.Time
}

// Checkout tracks one purchase attempt. It is keyed by the order it created,
// so the human readable order id doubles as the checkout handle.
type Checkout struct {
	OrderID          string        `gorm:"primaryKey;size:64;not null"`
	BuyerID          string        `gorm:"size:64;index;not null"`
	State            CheckoutState `gorm:"size:16;index;not null"`
	PaymentMethod    string        `gorm:"size:32"`
	PaymentReference string        `gorm:"size:128"`
	FailureReason    string        `gorm:"type:text"`
	GatewayError     string        `gorm:"type:text"` // last authorization error, outcome unknown
	CreatedAt        time.Time
	UpdatedAt        time.Time `gorm:"index"`
}

// WalletTransaction is one append-only ledger line. Only Status ever changes
// after insert.
type WalletTransaction struct {
	ID           string            `gorm:"primaryKey;size:36;not null"`
	UserID       string            `gorm:"size:64;not null;uniqueIndex:idx_wallet_user_seq,priority:1"`
	Seq          int64             `gorm:"not null;uniqueIndex:idx_wallet_user_seq,priority:2"`
	Amount       money.Cents       `gorm:"not null"` // never negative, see Direction
	Type         TransactionType   `gorm:"size:16;index;not null"`
	Direction    Direction         `gorm:"size:8;not null"`
	Status       TransactionStatus `gorm:"size:16;index;not null"`
	External     bool              `gorm:"not null"` // settled outside the wallet, excluded from balances
	OrderID      string            `gorm:"size:64;index"`
	WithdrawalID string            `gorm:"size:36;index"`
	Description  string            `gorm:"type:text;not null"`
	CreatedAt    time.Time         `gorm:"index"`
	UpdatedAt    time.Time
}

// WalletAccount is the cached balance projection of a user's transactions.
// It is rebuilt from the log by WalletService.Reconcile.
type WalletAccount struct {
	UserID    string      `gorm:"primaryKey;size:64;not null"`
	Available money.Cents `gorm:"not null"`
	Pending   money.Cents `gorm:"not null"`
	Reserved  money.Cents `gorm:"not null"`
	LastSeq   int64       `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type WithdrawalRequest struct {
	ID              string           `gorm:"primaryKey;size:36;not null"`
	UserID          string           `gorm:"size:64;index;not null"`
	Amount          money.Cents      `gorm:"not null"`
	ProcessingFee   money.Cents      `gorm:"not null"`
	NetAmount       money.Cents      `gorm:"not null"`
	Status          WithdrawalStatus `gorm:"size:16;index;not null"`
	PaymentMethod   PaymentMethod    `gorm:"size:32;not null"`
	PaymentDetails  string           `gorm:"type:text;not null"` // JSON object
	PayoutReference string           `gorm:"size:128"`
	PayoutError     string           `gorm:"type:text"` // last dispatch failure, outcome unknown
	RejectionReason string           `gorm:"type:text"`
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type WebhookEvent struct {
	EventID     string `gorm:"primaryKey;size:128;not null"`
	EventType   string `gorm:"size:64;index"`
	ProcessedAt time.Time
	CreatedAt   time.Time
}
