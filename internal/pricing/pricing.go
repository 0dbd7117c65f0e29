// Package pricing turns a product's base price and a license tier into the
// amount charged and its split between platform and seller. Everything here is
// pure and safe for concurrent use.
package pricing

import (
	"fmt"

	"marketplace-ledger/internal/apperr"
	"marketplace-ledger/internal/money"

	"github.com/shopspring/decimal"
)

type LicenseType string

const (
	LicensePersonal   LicenseType = "personal"
	LicenseCommercial LicenseType = "commercial"
	LicenseExtended   LicenseType = "extended"
)

type tier struct {
	multiplier   int64
	maxDownloads int
}

// Server-side only; clients choose a tier, never a price.
var tiers = map[LicenseType]tier{
	LicensePersonal:   {multiplier: 1, maxDownloads: 5},
	LicenseCommercial: {multiplier: 2, maxDownloads: 10},
	LicenseExtended:   {multiplier: 5, maxDownloads: 100},
}

// Licenses lists the tiers ordered by price.
func Licenses() []LicenseType {
	return []LicenseType{LicensePersonal, LicenseCommercial, LicenseExtended}
}

func ParseLicense(s string) (LicenseType, error) {
	l := LicenseType(s)
	if _, ok := tiers[l]; !ok {
		return "", fmt.Errorf("license %q: %w", s, apperr.ErrInvalidLicenseType)
	}
	return l, nil
}

func (l LicenseType) Multiplier() int64 {
	return tiers[l].multiplier
}

// MaxDownloads is the download allowance granted by the tier.
func (l LicenseType) MaxDownloads() int {
	return tiers[l].maxDownloads
}

// fee percent is kept as basis points of a percent: 10.25% -> 1025
const percentScale = 100

var maxPercent = decimal.NewFromInt(100)

// ComputePrice returns basePrice multiplied by the tier's fixed multiplier.
func ComputePrice(basePrice money.Cents, license LicenseType) (money.Cents, error) {
	if basePrice <= 0 {
		return 0, fmt.Errorf("base price %s must be positive: %w", basePrice, apperr.ErrInvalidPricingInput)
	}
	t, ok := tiers[license]
	if !ok {
		return 0, fmt.Errorf("license %q: %w", license, apperr.ErrInvalidPricingInput)
	}
	return basePrice * money.Cents(t.multiplier), nil
}

// ComputeFees splits amount into the platform's service fee and the seller's
// net. The fee is truncated to the cent and the seller amount is derived by
// subtraction, so fee+net always equals amount.
func ComputeFees(amount money.Cents, serviceFeePercent decimal.Decimal) (fee, net money.Cents, err error) {
	if amount < 0 {
		return 0, 0, fmt.Errorf("amount %s is negative: %w", amount, apperr.ErrInvalidPricingInput)
	}
	bp, err := percentToBasisPoints(serviceFeePercent)
	if err != nil {
		return 0, 0, err
	}
	fee, net = splitFee(amount, bp)
	return fee, net, nil
}

func splitFee(amount money.Cents, bp int64) (fee, net money.Cents) {
	fee = money.Cents(int64(amount) * bp / (100 * percentScale))
	return fee, amount - fee
}

func percentToBasisPoints(p decimal.Decimal) (int64, error) {
	if p.IsNegative() || p.GreaterThan(maxPercent) {
		return 0, fmt.Errorf("service fee percent %s outside [0,100]: %w", p.String(), apperr.ErrInvalidPricingInput)
	}
	scaled := p.Mul(decimal.NewFromInt(percentScale))
	if !scaled.IsInteger() {
		return 0, fmt.Errorf("service fee percent %s has more than 2 decimal places: %w", p.String(), apperr.ErrInvalidPricingInput)
	}
	return scaled.IntPart(), nil
}

// Quote is the full breakdown stored on an order at creation time.
type Quote struct {
	License           LicenseType
	Amount            money.Cents
	ServiceFee        money.Cents
	SellerAmount      money.Cents
	ServiceFeePercent decimal.Decimal
	MaxDownloads      int
}

func NewQuote(basePrice money.Cents, license LicenseType, serviceFeePercent decimal.Decimal) (Quote, error) {
	amount, err := ComputePrice(basePrice, license)
	if err != nil {
		return Quote{}, err
	}
	fee, net, err := ComputeFees(amount, serviceFeePercent)
	if err != nil {
		return Quote{}, err
	}
	if fee+net != amount {
		return Quote{}, fmt.Errorf("fee %s + net %s != amount %s: %w", fee, net, amount, apperr.ErrIntegrityViolation)
	}
	return Quote{
		License:           license,
		Amount:            amount,
		ServiceFee:        fee,
		SellerAmount:      net,
		ServiceFeePercent: serviceFeePercent,
		MaxDownloads:      license.MaxDownloads(),
	}, nil
}
