package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("KASIRINAJA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set KASIRINAJA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestSubmitInvoiceEnforcesReturnLimits(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	saleID := fmt.Sprintf("inv-it-sale-%d", stamp)
	firstReturnID := fmt.Sprintf("inv-it-ret1-%d", stamp)
	secondReturnID := fmt.Sprintf("inv-it-ret2-%d", stamp)
	t.Cleanup(func() {
		for _, id := range []string{secondReturnID, firstReturnID, saleID} {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM invoice_lines WHERE invoice_id = $1`, id)
			_, _ = s.db.ExecContext(ctx, `DELETE FROM invoices WHERE id = $1`, id)
		}
	})

	sale := domain.Invoice{
		ID: saleID, StoreID: "main-store", TerminalID: "T-IT", PaymentMethod: domain.PaymentQRIS,
		PaymentSplits: []domain.PaymentSplit{{Method: "cash", AmountCents: 3500}, {Method: "qris", AmountCents: 10000, Reference: "QR-1"}},
		Lines: []domain.CartLine{{
			ID: "l1", ProductID: "SKU-MIE-01", Name: "Mie Goreng Instan", UnitPriceCents: 4500, Quantity: 3,
			Discount: domain.Discount{Kind: domain.DiscountPercentage, Value: "10"},
		}},
		SubtotalCents: 13500, TotalCents: 13500, TenderedCents: 13500,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if _, err := s.SubmitInvoice(ctx, sale); err != nil {
		t.Fatalf("submit sale: %v", err)
	}

	stored, err := s.GetInvoice(ctx, saleID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if len(stored.Lines) != 1 || stored.Lines[0].Discount.Value != "10" || len(stored.PaymentSplits) != 2 {
		t.Fatalf("unexpected stored invoice %+v", stored)
	}

	returnDraft := func(id string, qty int) domain.Invoice {
		return domain.Invoice{
			ID: id, StoreID: "main-store", TerminalID: "T-IT", PaymentMethod: domain.PaymentQRIS,
			Lines: []domain.CartLine{{
				ID: "r1", ProductID: "SKU-MIE-01", UnitPriceCents: 4500, Quantity: -qty, IsReturn: true,
				ReturnReason: "rusak", OriginalInvoiceID: saleID, OriginalLineID: "l1", OriginalPaymentMethod: domain.PaymentQRIS,
			}},
			TotalCents: -4500 * int64(qty),
		}
	}

	if _, err := s.SubmitInvoice(ctx, returnDraft(firstReturnID, 2)); err != nil {
		t.Fatalf("first return: %v", err)
	}
	if _, err := s.SubmitInvoice(ctx, returnDraft(firstReturnID, 2)); err != nil {
		t.Fatalf("resubmit should be idempotent: %v", err)
	}
	returned, err := s.ReturnedQuantities(ctx, saleID)
	if err != nil {
		t.Fatalf("returned quantities: %v", err)
	}
	if returned["l1"] != 2 {
		t.Fatalf("expected 2 returned, got %d", returned["l1"])
	}
	if _, err := s.SubmitInvoice(ctx, returnDraft(secondReturnID, 2)); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected ErrInvalidTransaction past sold quantity, got %v", err)
	}
}

func TestCloseActiveShiftPersistsSummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	terminalID := fmt.Sprintf("T-IT-%d", time.Now().UnixNano())
	shift, err := s.CreateShift(ctx, domain.Shift{StoreID: "main-store", TerminalID: terminalID, CashierName: "Sari", OpeningFloatCents: 5000})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM dayend_summaries WHERE shift_id = $1`, shift.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shifts WHERE id = $1`, shift.ID)
	})
	if _, err := s.CreateShift(ctx, domain.Shift{StoreID: "main-store", TerminalID: terminalID, CashierName: "Budi"}); !errors.Is(err, store.ErrInvalidTransaction) {
		t.Fatalf("expected second open shift rejected, got %v", err)
	}

	closedAt := time.Now().UTC().Truncate(time.Second)
	summary := domain.DayEndSummary{
		Date: closedAt.Format("2006-01-02"), StoreID: "main-store", TerminalID: terminalID, CashierName: "Sari",
		OpeningCashCents: 5000, SalesByMethod: map[string]int64{"cash": 42000},
		CashSalesCents: 42000, CashRefundsCents: 1500, CashExpensesCents: 3000,
		ExpectedCashCents: 42500, ActualCashCountedCents: 42300, DifferenceCents: -200, Signature: "Sari",
	}
	closed, err := s.CloseActiveShift(ctx, "main-store", terminalID, summary, closedAt)
	if err != nil {
		t.Fatalf("close shift: %v", err)
	}
	if closed.Status != domain.ShiftStatusClosed || closed.ClosingCashCents != 42300 {
		t.Fatalf("unexpected closed shift %+v", closed)
	}

	stored, err := s.GetDayEndSummary(ctx, shift.ID)
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if stored.DifferenceCents != -200 || stored.SalesByMethod["cash"] != 42000 || !stored.ClosedAt.Equal(closedAt) {
		t.Fatalf("unexpected stored summary %+v", stored)
	}
	if _, err := s.GetActiveShift(ctx, "main-store", terminalID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected no active shift after close, got %v", err)
	}
}
