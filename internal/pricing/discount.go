package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"kasirinaja/terminal/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// ParseDiscountValue reads operator-typed discount text. Grouping commas,
// currency labels and percent signs are ignored. Empty, malformed or
// negative input yields zero; it is never an error.
func ParseDiscountValue(raw string) decimal.Decimal {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")

	var b strings.Builder
	b.Grow(len(s))
	ended := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			if ended {
				return decimal.Zero
			}
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		case r == ' ' || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z'):
			// currency labels such as "Rp" or "IDR" before or after the number
			if b.Len() > 0 {
				ended = true
			}
		default:
			return decimal.Zero
		}
	}

	value, err := decimal.NewFromString(b.String())
	if err != nil || !value.IsPositive() {
		return decimal.Zero
	}
	return value
}

// discountAmount applies a fixed or percentage discount to base.
func discountAmount(base decimal.Decimal, d domain.Discount) int64 {
	value := ParseDiscountValue(d.Value)
	if value.IsZero() {
		return 0
	}

	switch d.Kind {
	case domain.DiscountPercentage:
		return base.Mul(value).DivRound(hundred, 4).Round(0).IntPart()
	case domain.DiscountFixed:
		return value.Round(0).IntPart()
	default:
		return 0
	}
}

func ItemDiscountAmount(line domain.CartLine) int64 {
	if line.IsReturn || line.Quantity <= 0 {
		return 0
	}
	return discountAmount(decimal.NewFromInt(line.SubtotalCents()), line.Discount)
}

func Subtotal(lines []domain.CartLine) int64 {
	total := int64(0)
	for _, line := range lines {
		total += line.SubtotalCents()
	}
	return total
}

func ItemDiscountTotal(lines []domain.CartLine) int64 {
	total := int64(0)
	for _, line := range lines {
		total += ItemDiscountAmount(line)
	}
	return total
}

// OrderDiscountAmount applies the order discount to the post-item-discount
// base. A base at or below zero (a refund-only cart) takes no order discount.
func OrderDiscountAmount(baseCents int64, discount domain.Discount) int64 {
	if baseCents <= 0 {
		return 0
	}
	return discountAmount(decimal.NewFromInt(baseCents), discount)
}

func Compute(lines []domain.CartLine, orderDiscount domain.Discount) domain.CartTotals {
	subtotal := Subtotal(lines)
	itemDiscount := ItemDiscountTotal(lines)
	orderAmount := OrderDiscountAmount(subtotal-itemDiscount, orderDiscount)

	return domain.CartTotals{
		SubtotalCents:      subtotal,
		ItemDiscountCents:  itemDiscount,
		OrderDiscountCents: orderAmount,
		TotalCents:         subtotal - itemDiscount - orderAmount,
	}
}

// Validate reports discounts that would take a sale line or the order below
// zero. Compute never clamps; callers that finalize a sale check this first.
func Validate(lines []domain.CartLine, orderDiscount domain.Discount) error {
	for _, line := range lines {
		if line.IsReturn {
			continue
		}
		amount := ItemDiscountAmount(line)
		if amount > line.SubtotalCents() {
			return fmt.Errorf("line %s discount %d over subtotal %d: %w", line.ID, amount, line.SubtotalCents(), domain.ErrExcessiveDiscount)
		}
	}

	base := Subtotal(lines) - ItemDiscountTotal(lines)
	amount := OrderDiscountAmount(base, orderDiscount)
	if base > 0 && amount > base {
		return fmt.Errorf("order discount %d over %d: %w", amount, base, domain.ErrExcessiveDiscount)
	}
	return nil
}

// InclusiveTax returns the tax portion contained in a tax-inclusive amount.
func InclusiveTax(amountCents int64, ratePercent float64) int64 {
	if ratePercent <= 0 || amountCents == 0 {
		return 0
	}
	rate := decimal.NewFromFloat(ratePercent)
	return decimal.NewFromInt(amountCents).Mul(rate).DivRound(rate.Add(hundred), 4).Round(0).IntPart()
}
