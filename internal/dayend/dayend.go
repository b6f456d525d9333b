package dayend

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"kasirinaja/terminal/internal/domain"
)

// Header identifies the shift being closed. It is fixed for the lifetime of
// a Reconciler.
type Header struct {
	Date             string
	StoreID          string
	TerminalID       string
	ShiftID          string
	CashierName      string
	OpeningCashCents int64
}

// Summarize aggregates one shift's invoices and expenses. Cashier-entered
// fields are left zero.
func Summarize(header Header, invoices []domain.Invoice, expenses []domain.Expense) domain.DayEndSummary {
	summary := domain.DayEndSummary{
		Date:             header.Date,
		StoreID:          header.StoreID,
		TerminalID:       header.TerminalID,
		ShiftID:          header.ShiftID,
		CashierName:      header.CashierName,
		OpeningCashCents: header.OpeningCashCents,
		SalesByMethod:    map[string]int64{},
	}

	totals := int64(0)
	for _, inv := range invoices {
		summary.InvoiceCount++
		summary.TotalDiscountsCents += inv.DiscountCents()
		summary.TotalTaxCents += inv.TaxCents
		totals += inv.TotalCents

		refunded := int64(0)
		for _, line := range inv.Lines {
			if !line.IsReturn {
				continue
			}
			value := -line.SubtotalCents()
			refunded += value

			method := line.OriginalPaymentMethod
			if method == "" {
				method = inv.PaymentMethod
			}
			summary.SalesByMethod[method] -= value
			if method == domain.PaymentCash {
				summary.CashRefundsCents += value
			}
		}

		sales := inv.TotalCents + refunded
		if sales == 0 {
			continue
		}
		if inv.PaymentMethod == domain.PaymentSplitMethod && len(inv.PaymentSplits) > 0 {
			for _, split := range inv.PaymentSplits {
				summary.SalesByMethod[split.Method] += split.AmountCents
				if split.Method == domain.PaymentCash {
					summary.CashSalesCents += split.AmountCents
				}
			}
			continue
		}
		summary.SalesByMethod[inv.PaymentMethod] += sales
		if inv.PaymentMethod == domain.PaymentCash {
			summary.CashSalesCents += sales
		}
	}

	for _, expense := range expenses {
		summary.TotalExpensesCents += expense.AmountCents
		if isCashExpense(expense) {
			summary.CashExpensesCents += expense.AmountCents
		}
	}

	summary.NetRevenueCents = totals - summary.TotalExpensesCents
	summary.ExpectedCashCents = ExpectedCash(summary.OpeningCashCents, summary.CashSalesCents, summary.CashRefundsCents, summary.CashExpensesCents)
	summary.DifferenceCents = summary.ActualCashCountedCents - summary.ExpectedCashCents
	return summary
}

func ExpectedCash(openingCents, cashSalesCents, cashRefundsCents, cashExpensesCents int64) int64 {
	return openingCents + cashSalesCents - cashRefundsCents - cashExpensesCents
}

func isCashExpense(expense domain.Expense) bool {
	method := strings.ToLower(strings.TrimSpace(expense.PaymentMethod))
	return method == "" || method == domain.PaymentCash
}

// Reconciler holds one shift's day-end summary while the cashier counts the
// drawer. Aggregates are rebuilt on every Refresh; the counted cash, notes and
// signature survive.
type Reconciler struct {
	mu      sync.Mutex
	header  Header
	summary domain.DayEndSummary
}

func New(header Header) *Reconciler {
	return &Reconciler{header: header, summary: Summarize(header, nil, nil)}
}

func (r *Reconciler) Refresh(invoices []domain.Invoice, expenses []domain.Expense) domain.DayEndSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := Summarize(r.header, invoices, expenses)
	next.ActualCashCountedCents = r.summary.ActualCashCountedCents
	next.Notes = r.summary.Notes
	next.Signature = r.summary.Signature
	next.ClosedAt = r.summary.ClosedAt
	next.DifferenceCents = next.ActualCashCountedCents - next.ExpectedCashCents
	r.summary = next
	return cloneSummary(r.summary)
}

func (r *Reconciler) SetActualCash(cents int64) error {
	if cents < 0 {
		return fmt.Errorf("counted cash %d: %w", cents, domain.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.summary.ActualCashCountedCents = cents
	r.summary.DifferenceCents = cents - r.summary.ExpectedCashCents
	return nil
}

func (r *Reconciler) SetNotes(notes string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Notes = strings.TrimSpace(notes)
}

func (r *Reconciler) SetSignature(signature string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summary.Signature = strings.TrimSpace(signature)
}

// Close stamps the summary. A summary cannot be closed unsigned.
func (r *Reconciler) Close(at time.Time) (domain.DayEndSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.summary.Signature == "" {
		return domain.DayEndSummary{}, fmt.Errorf("day-end signature missing: %w", domain.ErrInvalidState)
	}
	closedAt := at.UTC()
	r.summary.ClosedAt = &closedAt
	return cloneSummary(r.summary), nil
}

func (r *Reconciler) Summary() domain.DayEndSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneSummary(r.summary)
}

func cloneSummary(s domain.DayEndSummary) domain.DayEndSummary {
	dup := s
	dup.SalesByMethod = make(map[string]int64, len(s.SalesByMethod))
	for method, cents := range s.SalesByMethod {
		dup.SalesByMethod[method] = cents
	}
	if s.ClosedAt != nil {
		closedAt := *s.ClosedAt
		dup.ClosedAt = &closedAt
	}
	return dup
}
