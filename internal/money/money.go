// Package money represents currency amounts as integer cents. Decimal values
// only appear at the edges (request parsing, JSON responses, gateway calls).
package money

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents is an amount in minor currency units.
type Cents int64

var hundred = decimal.NewFromInt(100)

// FromDecimal converts d to cents. It refuses values with more than two
// fractional digits instead of rounding them away.
func FromDecimal(d decimal.Decimal) (Cents, error) {
	c := d.Mul(hundred)
	if !c.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than 2 decimal places", d.String())
	}
	return Cents(c.IntPart()), nil
}

// Parse reads a decimal string such as "29.99".
func Parse(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return FromDecimal(d)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Cents {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

func (c Cents) String() string {
	return c.Decimal().StringFixed(2)
}

// MarshalJSON renders the amount as a quoted two-decimal string, e.g. "59.98".
func (c Cents) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON accepts both "59.98" and 59.98.
func (c *Cents) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return err
	}
	v, err := FromDecimal(d)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Value stores cents as a plain integer column.
func (c Cents) Value() (driver.Value, error) {
	return int64(c), nil
}

func (c *Cents) Scan(src any) error {
	switch v := src.(type) {
	case int64:
		*c = Cents(v)
	case int32:
		*c = Cents(v)
	case int:
		*c = Cents(v)
	case float64:
		*c = Cents(v)
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return err
		}
		*c = Cents(d.IntPart())
	case nil:
		*c = 0
	default:
		return fmt.Errorf("scan cents: unsupported type %T", src)
	}
	return nil
}
