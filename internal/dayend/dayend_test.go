package dayend

import (
	"errors"
	"testing"
	"time"

	"kasirinaja/terminal/internal/domain"
)

func shiftHeader() Header {
	return Header{
		Date:             "2026-03-14",
		StoreID:          "main-store",
		TerminalID:       "T01",
		ShiftID:          "shift-1",
		CashierName:      "Sari",
		OpeningCashCents: 5000,
	}
}

func shiftInvoices() []domain.Invoice {
	return []domain.Invoice{
		{ID: "inv-1", PaymentMethod: "cash", TotalCents: 30000, ItemDiscountCents: 500, TaxCents: 2973,
			Lines: []domain.CartLine{{ID: "a", UnitPriceCents: 30500, Quantity: 1}}},
		{ID: "inv-2", PaymentMethod: "cash", TotalCents: 12000, OrderDiscountCents: 1000,
			Lines: []domain.CartLine{{ID: "b", UnitPriceCents: 13000, Quantity: 1}}},
		{ID: "inv-3", PaymentMethod: "cash", TotalCents: -1500,
			Lines: []domain.CartLine{{ID: "r", UnitPriceCents: 1500, Quantity: -1, IsReturn: true, OriginalPaymentMethod: "cash"}}},
		{ID: "inv-4", PaymentMethod: "qris", TotalCents: 8000,
			Lines: []domain.CartLine{{ID: "c", UnitPriceCents: 8000, Quantity: 1}}},
	}
}

func shiftExpenses() []domain.Expense {
	return []domain.Expense{
		{ID: "exp-1", Category: "supplies", AmountCents: 3000, PaymentMethod: "cash"},
		{ID: "exp-2", Category: "delivery", AmountCents: 500, PaymentMethod: "transfer"},
	}
}

func TestSummarizeExpectedCash(t *testing.T) {
	summary := Summarize(shiftHeader(), shiftInvoices(), shiftExpenses())

	if summary.CashSalesCents != 42000 {
		t.Fatalf("expected cash sales 42000, got %d", summary.CashSalesCents)
	}
	if summary.CashRefundsCents != 1500 {
		t.Fatalf("expected cash refunds 1500, got %d", summary.CashRefundsCents)
	}
	if summary.CashExpensesCents != 3000 || summary.TotalExpensesCents != 3500 {
		t.Fatalf("unexpected expenses %d/%d", summary.CashExpensesCents, summary.TotalExpensesCents)
	}
	if summary.ExpectedCashCents != 42500 {
		t.Fatalf("expected cash 42500, got %d", summary.ExpectedCashCents)
	}
	if summary.SalesByMethod["cash"] != 40500 || summary.SalesByMethod["qris"] != 8000 {
		t.Fatalf("unexpected sales by method %+v", summary.SalesByMethod)
	}
	if summary.TotalDiscountsCents != 1500 || summary.TotalTaxCents != 2973 {
		t.Fatalf("unexpected discount/tax totals %d/%d", summary.TotalDiscountsCents, summary.TotalTaxCents)
	}
	if summary.NetRevenueCents != 45000 {
		t.Fatalf("expected net revenue 45000, got %d", summary.NetRevenueCents)
	}
	if summary.InvoiceCount != 4 {
		t.Fatalf("expected 4 invoices, got %d", summary.InvoiceCount)
	}
}

func TestReconcilerDifferenceIsExact(t *testing.T) {
	r := New(shiftHeader())
	r.Refresh(shiftInvoices(), shiftExpenses())

	if err := r.SetActualCash(42300); err != nil {
		t.Fatalf("set actual cash: %v", err)
	}
	summary := r.Summary()
	if summary.DifferenceCents != -200 {
		t.Fatalf("expected difference -200, got %d", summary.DifferenceCents)
	}
	if summary.Balanced() {
		t.Fatalf("expected an unbalanced drawer")
	}

	if err := r.SetActualCash(-1); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative count, got %v", err)
	}
}

func TestRefreshKeepsCashierFields(t *testing.T) {
	r := New(shiftHeader())
	_ = r.SetActualCash(42300)
	r.SetNotes("  uang receh kurang  ")
	r.SetSignature("Sari")

	r.Refresh(shiftInvoices(), shiftExpenses())
	summary := r.Summary()
	if summary.ActualCashCountedCents != 42300 || summary.Notes != "uang receh kurang" || summary.Signature != "Sari" {
		t.Fatalf("expected cashier fields to survive refresh, got %+v", summary)
	}
	if summary.DifferenceCents != -200 {
		t.Fatalf("expected difference recomputed to -200, got %d", summary.DifferenceCents)
	}

	r.Refresh(shiftInvoices()[:1], nil)
	if got := r.Summary().ExpectedCashCents; got != 35000 {
		t.Fatalf("expected aggregates rebuilt to 35000, got %d", got)
	}
}

func TestSplitInvoiceAttributesEachPart(t *testing.T) {
	invoices := []domain.Invoice{{
		ID: "inv-s", PaymentMethod: "split", TotalCents: 10000,
		Lines:         []domain.CartLine{{ID: "a", UnitPriceCents: 10000, Quantity: 1}},
		PaymentSplits: []domain.PaymentSplit{{Method: "cash", AmountCents: 4000}, {Method: "card", AmountCents: 6000}},
	}}
	summary := Summarize(Header{}, invoices, nil)
	if summary.SalesByMethod["cash"] != 4000 || summary.SalesByMethod["card"] != 6000 || summary.CashSalesCents != 4000 {
		t.Fatalf("unexpected split attribution %+v", summary.SalesByMethod)
	}
}

func TestMixedInvoiceRefundsToOriginalMethod(t *testing.T) {
	invoices := []domain.Invoice{{
		ID: "inv-m", PaymentMethod: "cash", TotalCents: 2000,
		Lines: []domain.CartLine{
			{ID: "a", UnitPriceCents: 5000, Quantity: 1},
			{ID: "r", UnitPriceCents: 3000, Quantity: -1, IsReturn: true, OriginalPaymentMethod: "card"},
		},
	}}
	summary := Summarize(Header{}, invoices, nil)
	if summary.SalesByMethod["cash"] != 5000 || summary.SalesByMethod["card"] != -3000 {
		t.Fatalf("unexpected attribution %+v", summary.SalesByMethod)
	}
	if summary.CashRefundsCents != 0 || summary.CashSalesCents != 5000 {
		t.Fatalf("expected card refund outside the drawer, got refunds=%d sales=%d", summary.CashRefundsCents, summary.CashSalesCents)
	}
}

func TestCloseRequiresSignature(t *testing.T) {
	r := New(shiftHeader())
	if _, err := r.Close(time.Now()); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState without signature, got %v", err)
	}
	r.SetSignature("Sari")
	closed, err := r.Close(time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.ClosedAt == nil {
		t.Fatalf("expected closed timestamp")
	}
}
