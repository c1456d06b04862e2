// Package pricing holds the money rules shared by carts and orders.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"
)

// DeliveryFee is the flat fee charged on every non-empty basket.
var DeliveryFee = decimal.RequireFromString("2.00")

// DeliveryLeadTime is added to the creation time to estimate delivery.
const DeliveryLeadTime = 40 * time.Minute

// MaxQuantity is the largest quantity a single cart or order line may hold.
const MaxQuantity = 1000

// MaxAmount is the largest price or total that fits a NUMERIC(10,2) column.
var MaxAmount = decimal.RequireFromString("99999999.99")

const (
	maxIntegerDigits  = 8
	maxFractionDigits = 2
	// maxScale bounds how many trailing zeros a caller may send after the
	// cents, e.g. "1.50000".
	maxScale = 18
)

// ValidAmount reports whether d is a storable money amount: non-negative, at
// most MaxAmount and with no more than two decimal places. It never expands
// the coefficient, so extreme exponents are rejected cheaply.
func ValidAmount(d decimal.Decimal) bool {
	if d.IsNegative() {
		return false
	}
	if d.IsZero() {
		return true
	}
	exp := int64(d.Exponent())
	if exp < -maxScale {
		return false
	}
	digits := int64(len(d.Coefficient().String()))
	if digits+exp > maxIntegerDigits {
		return false
	}
	if exp < -maxFractionDigits {
		// Only trailing zeros may sit past the second decimal place.
		if -exp-maxFractionDigits >= digits {
			return false
		}
		if !d.Equal(d.Truncate(maxFractionDigits)) {
			return false
		}
	}
	return !d.GreaterThan(MaxAmount)
}

// LineTotal returns price multiplied by quantity, rounded to cents.
func LineTotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

// Totals is the summary block rendered for a basket.
type Totals struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	Total       decimal.Decimal
}

// Summarize applies the delivery fee to subtotal. Empty baskets pay nothing.
func Summarize(subtotal decimal.Decimal) Totals {
	subtotal = subtotal.Round(2)
	fee := decimal.Zero
	if subtotal.IsPositive() {
		fee = DeliveryFee
	}
	return Totals{
		Subtotal:    subtotal,
		DeliveryFee: fee,
		Total:       subtotal.Add(fee),
	}
}
