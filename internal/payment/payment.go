package payment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/pricing"
	"kasirinaja/terminal/internal/xid"
)

// Balance is the change owed to the customer, or the shortfall when negative.
func Balance(totalCents int64, tenderedCents int64) int64 {
	return tenderedCents - totalCents
}

type Tender struct {
	Method        string
	TenderedCents int64
	Reference     string
	Splits        []domain.PaymentSplit
}

type Settlement struct {
	Method        string
	Reference     string
	Splits        []domain.PaymentSplit
	TenderedCents int64
	BalanceCents  int64
}

// Settle checks a tender against the amount due. Cash must cover the total;
// card, QRIS and e-wallet are taken for the exact total and need a
// reference; split tenders must add up to the total exactly.
func Settle(tender Tender, totalCents int64, hasReturns bool) (Settlement, error) {
	splits := NormalizeSplits(tender.Splits)
	method := strings.ToLower(strings.TrimSpace(tender.Method))
	if len(splits) > 0 {
		method = domain.PaymentSplitMethod
	}
	if method == "" {
		method = domain.PaymentCash
	}
	reference := strings.TrimSpace(tender.Reference)

	if tender.TenderedCents < 0 {
		return Settlement{}, fmt.Errorf("tendered %d: %w", tender.TenderedCents, domain.ErrInvalidInput)
	}

	switch method {
	case domain.PaymentCash:
		if tender.TenderedCents < totalCents {
			return Settlement{}, fmt.Errorf("tendered %d below total %d: %w", tender.TenderedCents, totalCents, domain.ErrInsufficientPayment)
		}
		return Settlement{
			Method:        method,
			Reference:     reference,
			TenderedCents: tender.TenderedCents,
			BalanceCents:  Balance(totalCents, tender.TenderedCents),
		}, nil

	case domain.PaymentSplitMethod:
		if hasReturns {
			return Settlement{}, fmt.Errorf("split tender with return lines: %w", domain.ErrInvalidInput)
		}
		if len(splits) < 2 {
			return Settlement{}, fmt.Errorf("split tender needs at least two parts: %w", domain.ErrInvalidInput)
		}
		sum := int64(0)
		for _, split := range splits {
			if !IsSplitMethod(split.Method) {
				return Settlement{}, fmt.Errorf("split method %q: %w", split.Method, domain.ErrInvalidInput)
			}
			if split.Method != domain.PaymentCash && split.Reference == "" {
				return Settlement{}, fmt.Errorf("split %s needs a reference: %w", split.Method, domain.ErrInvalidInput)
			}
			sum += split.AmountCents
		}
		if sum < totalCents {
			return Settlement{}, fmt.Errorf("split sum %d below total %d: %w", sum, totalCents, domain.ErrInsufficientPayment)
		}
		if sum != totalCents {
			return Settlement{}, fmt.Errorf("split sum %d differs from total %d: %w", sum, totalCents, domain.ErrInvalidInput)
		}
		return Settlement{Method: method, Splits: splits, TenderedCents: sum}, nil

	case domain.PaymentCard, domain.PaymentQRIS, domain.PaymentEWallet:
		if reference == "" {
			return Settlement{}, fmt.Errorf("%s payment needs a reference: %w", method, domain.ErrInvalidInput)
		}
		tendered := tender.TenderedCents
		if tendered == 0 {
			tendered = totalCents
		}
		// The terminal settles the amount, so the balance is informational.
		return Settlement{
			Method:        method,
			Reference:     reference,
			TenderedCents: tendered,
			BalanceCents:  Balance(totalCents, tendered),
		}, nil

	default:
		return Settlement{}, fmt.Errorf("payment method %q: %w", method, domain.ErrInvalidInput)
	}
}

func NormalizeSplits(splits []domain.PaymentSplit) []domain.PaymentSplit {
	normalized := make([]domain.PaymentSplit, 0, len(splits))
	for _, split := range splits {
		method := strings.ToLower(strings.TrimSpace(split.Method))
		if method == "" || split.AmountCents < 1 {
			continue
		}
		normalized = append(normalized, domain.PaymentSplit{
			Method:      method,
			AmountCents: split.AmountCents,
			Reference:   strings.TrimSpace(split.Reference),
		})
	}
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}

func IsSplitMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentQRIS, domain.PaymentEWallet:
		return true
	default:
		return false
	}
}

// CartSource is the cart being paid for.
type CartSource interface {
	Lines() []domain.CartLine
	OrderDiscount() domain.Discount
	Clear()
}

type InvoiceSubmitter interface {
	SubmitInvoice(ctx context.Context, draft domain.Invoice) (*domain.Invoice, error)
}

type Publisher interface {
	PublishSaleCommitted(invoice domain.Invoice)
}

type Meta struct {
	StoreID    string
	TerminalID string
	ShiftID    string
	CashierID  string
	CustomerID string
}

type Calculator struct {
	submitter      InvoiceSubmitter
	publisher      Publisher
	taxRatePercent float64
	now            func() time.Time
}

func NewCalculator(submitter InvoiceSubmitter, publisher Publisher, taxRatePercent float64) *Calculator {
	return &Calculator{
		submitter:      submitter,
		publisher:      publisher,
		taxRatePercent: taxRatePercent,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Freeze builds the invoice draft for a settled cart. Lines are copied so
// later cart edits cannot reach the invoice.
func Freeze(lines []domain.CartLine, orderDiscount domain.Discount, settlement Settlement, meta Meta, taxRatePercent float64, at time.Time) domain.Invoice {
	totals := pricing.Compute(lines, orderDiscount)
	frozen := make([]domain.CartLine, len(lines))
	copy(frozen, lines)

	inv := domain.Invoice{
		ID:                 xid.New("inv"),
		StoreID:            meta.StoreID,
		TerminalID:         meta.TerminalID,
		ShiftID:            meta.ShiftID,
		CashierID:          meta.CashierID,
		CustomerID:         meta.CustomerID,
		CreatedAt:          at,
		Lines:              frozen,
		SubtotalCents:      totals.SubtotalCents,
		ItemDiscountCents:  totals.ItemDiscountCents,
		OrderDiscountCents: totals.OrderDiscountCents,
		TotalCents:         totals.TotalCents,
		TaxRatePercent:     taxRatePercent,
		TaxCents:           pricing.InclusiveTax(totals.TotalCents, taxRatePercent),
		PaymentMethod:      settlement.Method,
		PaymentReference:   settlement.Reference,
		TenderedCents:      settlement.TenderedCents,
		BalanceCents:       settlement.BalanceCents,
	}
	if len(settlement.Splits) > 0 {
		inv.PaymentSplits = make([]domain.PaymentSplit, len(settlement.Splits))
		copy(inv.PaymentSplits, settlement.Splits)
	}
	return inv
}

// Complete settles the cart and submits the invoice. The cart is cleared only
// after the ledger accepted the invoice.
func (c *Calculator) Complete(ctx context.Context, source CartSource, tender Tender, meta Meta) (*domain.Invoice, error) {
	lines := source.Lines()
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty cart: %w", domain.ErrInvalidInput)
	}
	orderDiscount := source.OrderDiscount()
	if err := pricing.Validate(lines, orderDiscount); err != nil {
		return nil, err
	}

	hasReturns := false
	for _, line := range lines {
		if line.IsReturn {
			hasReturns = true
			break
		}
	}

	totals := pricing.Compute(lines, orderDiscount)
	settlement, err := Settle(tender, totals.TotalCents, hasReturns)
	if err != nil {
		return nil, err
	}

	draft := Freeze(lines, orderDiscount, settlement, meta, c.taxRatePercent, c.now())
	saved, err := c.submitter.SubmitInvoice(ctx, draft)
	if err != nil {
		return nil, fmt.Errorf("submit invoice %s: %w: %w", draft.ID, domain.ErrSubmissionFailed, err)
	}
	if saved == nil {
		saved = &draft
	}

	source.Clear()
	if c.publisher != nil {
		c.publisher.PublishSaleCommitted(saved.Clone())
	}
	zap.S().Infow("sale committed",
		"invoice", saved.ID,
		"terminal", saved.TerminalID,
		"total_cents", saved.TotalCents,
		"payment", saved.PaymentMethod,
	)
	return saved, nil
}
