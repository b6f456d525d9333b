package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/store/memory"
)

const terminal = "T01"

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	return New(repo, Options{DefaultStoreID: "main-store"}), repo
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "sari", Role: "cashier"})
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func openShift(t *testing.T, svc *Service, ctx context.Context) domain.Shift {
	t.Helper()
	resp, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{
		TerminalID:        terminal,
		CashierName:       "Sari",
		OpeningFloatCents: 5000,
	})
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}
	return resp.Shift
}

func fillSampleCart(t *testing.T, svc *Service, ctx context.Context) {
	t.Helper()
	if _, err := svc.AddToCart(ctx, "", terminal, domain.AddLineRequest{SKU: "SKU-MIE-01", Qty: 1}); err != nil {
		t.Fatalf("add mie: %v", err)
	}
	if _, err := svc.AddToCart(ctx, "", terminal, domain.AddLineRequest{SKU: "sku-telur-01", Qty: 2}); err != nil {
		t.Fatalf("add telur: %v", err)
	}
	view, err := svc.SetOrderDiscount("", terminal, domain.DiscountRequest{Kind: domain.DiscountPercentage, Value: "10"})
	if err != nil {
		t.Fatalf("order discount: %v", err)
	}
	if view.Totals.SubtotalCents != 10900 || view.Totals.OrderDiscountCents != 1090 || view.Totals.TotalCents != 9810 {
		t.Fatalf("unexpected totals %+v", view.Totals)
	}
}

func TestCheckoutRequiresActiveShift(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()
	fillSampleCart(t, svc, ctx)

	_, err := svc.Checkout(ctx, terminal, domain.CheckoutRequest{PaymentMethod: "cash", TenderedCents: 10000})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState without an open shift, got %v", err)
	}
	view, _ := svc.Cart("", terminal)
	if len(view.Lines) != 2 {
		t.Fatalf("expected cart untouched, got %d lines", len(view.Lines))
	}
}

func TestCheckoutCashSale(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()
	shift := openShift(t, svc, ctx)
	fillSampleCart(t, svc, ctx)

	if _, err := svc.Checkout(ctx, terminal, domain.CheckoutRequest{PaymentMethod: "cash", TenderedCents: 9800}); !errors.Is(err, domain.ErrInsufficientPayment) {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}

	resp, err := svc.Checkout(ctx, terminal, domain.CheckoutRequest{PaymentMethod: "cash", TenderedCents: 10000, CustomerID: "cust-1"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	inv := resp.Invoice
	if inv.TotalCents != 9810 || inv.BalanceCents != 190 {
		t.Fatalf("unexpected invoice totals %+v", inv)
	}
	if inv.ShiftID != shift.ID || inv.CashierID != "sari" || inv.StoreID != "main-store" {
		t.Fatalf("unexpected invoice metadata %+v", inv)
	}

	view, _ := svc.Cart("", terminal)
	if len(view.Lines) != 0 {
		t.Fatalf("expected cart cleared after checkout")
	}

	stored, err := svc.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if stored.TotalCents != 9810 {
		t.Fatalf("expected stored total 9810, got %d", stored.TotalCents)
	}

	loyalty, err := svc.CustomerLoyalty(ctx, "cust-1")
	if err != nil {
		t.Fatalf("loyalty: %v", err)
	}
	if loyalty.CumulativeCents != 9810 || loyalty.Tier != "bronze" {
		t.Fatalf("unexpected loyalty %+v", loyalty)
	}
}

func TestCartLineUpdates(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()
	fillSampleCart(t, svc, ctx)

	view, _ := svc.Cart("", terminal)
	telur := view.Lines[1].ID

	view, err := svc.UpdateCartLine("", terminal, telur, domain.SetQuantityRequest{Delta: intPtr(1)})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if view.Lines[1].Quantity != 3 {
		t.Fatalf("expected qty 3, got %d", view.Lines[1].Quantity)
	}
	if _, err := svc.UpdateCartLine("", terminal, telur, domain.SetQuantityRequest{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput without qty or delta, got %v", err)
	}
	if _, err := svc.RemoveCartLine("", terminal, "line-missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.AddToCart(ctx, "", terminal, domain.AddLineRequest{SKU: "SKU-SHAMPOO-01"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected inactive product rejected, got %v", err)
	}

	other, _ := svc.Cart("", "T02")
	if len(other.Lines) != 0 {
		t.Fatalf("expected terminals to keep separate carts")
	}
}

func TestReturnFlowAndDayEndClose(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()
	shift := openShift(t, svc, ctx)
	fillSampleCart(t, svc, ctx)

	sale, err := svc.Checkout(ctx, terminal, domain.CheckoutRequest{PaymentMethod: "cash", TenderedCents: 10000})
	if err != nil {
		t.Fatalf("checkout sale: %v", err)
	}
	var telurLine string
	for _, line := range sale.Invoice.Lines {
		if line.ProductID == "SKU-TELUR-01" {
			telurLine = line.ID
		}
	}

	view, err := svc.LoadReturn(ctx, "", terminal, sale.Invoice.ID)
	if err != nil {
		t.Fatalf("load return: %v", err)
	}
	if len(view.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(view.Candidates))
	}
	if _, err := svc.UpdateReturnLine("", terminal, telurLine, domain.ReturnLineRequest{Qty: intPtr(3)}); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity above sold qty, got %v", err)
	}
	if _, err := svc.UpdateReturnLine("", terminal, telurLine, domain.ReturnLineRequest{Qty: intPtr(1), Reason: strPtr("pecah")}); err != nil {
		t.Fatalf("select return: %v", err)
	}
	cartView, err := svc.CommitReturn(ctx, "", terminal)
	if err != nil {
		t.Fatalf("commit return: %v", err)
	}
	if cartView.Totals.TotalCents != -3200 {
		t.Fatalf("expected refund total -3200, got %d", cartView.Totals.TotalCents)
	}

	refund, err := svc.Checkout(ctx, terminal, domain.CheckoutRequest{PaymentMethod: "cash"})
	if err != nil {
		t.Fatalf("checkout refund: %v", err)
	}
	if refund.Invoice.BalanceCents != 3200 {
		t.Fatalf("expected 3200 paid out, got %d", refund.Invoice.BalanceCents)
	}

	if _, err := svc.CreateExpense(ctx, domain.ExpenseCreateRequest{TerminalID: terminal, Category: "parkir", AmountCents: 1000}); err != nil {
		t.Fatalf("expense: %v", err)
	}

	if _, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{TerminalID: terminal, ActualCashCountedCents: 10600}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected unsigned close rejected, got %v", err)
	}

	preview, err := svc.DayEndSummary(ctx, shift.ID)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.ExpectedCashCents != 10610 {
		t.Fatalf("expected preview 10610, got %d", preview.ExpectedCashCents)
	}

	closed, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{
		TerminalID: terminal, ActualCashCountedCents: 10600, Notes: " kurang receh ", Signature: "Sari",
	})
	if err != nil {
		t.Fatalf("close shift: %v", err)
	}
	summary := closed.Summary
	if summary.CashSalesCents != 9810 || summary.CashRefundsCents != 3200 || summary.CashExpensesCents != 1000 {
		t.Fatalf("unexpected cash figures %+v", summary)
	}
	if summary.ExpectedCashCents != 10610 || summary.DifferenceCents != -10 {
		t.Fatalf("expected 10610 / -10, got %d / %d", summary.ExpectedCashCents, summary.DifferenceCents)
	}
	if summary.NetRevenueCents != 9810-3200-1000 || summary.InvoiceCount != 2 {
		t.Fatalf("unexpected net revenue or count %+v", summary)
	}
	if closed.Shift.Status != domain.ShiftStatusClosed || summary.Notes != "kurang receh" {
		t.Fatalf("unexpected close response %+v", closed)
	}

	rendered, err := svc.RenderDayEnd(ctx, shift.ID, "text")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(string(rendered.Body), "106.10") || !strings.HasSuffix(rendered.FileName, ".txt") {
		t.Fatalf("unexpected rendered report %q (%s)", rendered.Body, rendered.FileName)
	}
	if _, err := svc.RenderDayEnd(ctx, shift.ID, "pdf"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected unknown format rejected, got %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, "", "", 50)
	if err != nil {
		t.Fatalf("audit logs: %v", err)
	}
	actions := map[string]bool{}
	for _, entry := range logs {
		actions[entry.Action] = true
	}
	for _, want := range []string{"shift_open", "checkout", "return_commit", "expense_create", "shift_close"} {
		if !actions[want] {
			t.Fatalf("expected audit action %s in %v", want, actions)
		}
	}
}

func TestOpenShiftTwiceIsInvalidState(t *testing.T) {
	svc, _ := newTestService()
	ctx := cashierCtx()
	openShift(t, svc, ctx)
	_, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{TerminalID: terminal, CashierName: "Budi"})
	if !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

type failingLedger struct {
	*memory.Store
}

func (failingLedger) SubmitInvoice(context.Context, domain.Invoice) (*domain.Invoice, error) {
	return nil, errors.New("ledger unavailable")
}

func TestCheckoutSubmissionFailureKeepsCart(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(repo, Options{Invoices: failingLedger{repo}})
	ctx := cashierCtx()
	openShift(t, svc, ctx)
	fillSampleCart(t, svc, ctx)

	_, err := svc.Checkout(ctx, terminal, domain.CheckoutRequest{PaymentMethod: "cash", TenderedCents: 9810})
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
	view, _ := svc.Cart("", terminal)
	if len(view.Lines) != 2 || view.Totals.TotalCents != 9810 {
		t.Fatalf("expected cart kept for retry, got %+v", view)
	}
	all, _ := repo.ListInvoices(ctx, store.InvoiceFilter{})
	if len(all) != 0 {
		t.Fatalf("expected nothing stored")
	}
}

func TestTierQueries(t *testing.T) {
	svc, _ := newTestService()
	svc.now = func() time.Time { return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC) }

	quote, err := svc.SupplierDiscountQuote(48, 1000)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.DiscountPercent != 5 || quote.GrossCents != 48000 || quote.DiscountCents != 2400 || quote.NetCents != 45600 {
		t.Fatalf("unexpected quote %+v", quote)
	}
	if _, err := svc.SupplierDiscountQuote(0, 1000); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero qty, got %v", err)
	}

	cases := []struct {
		date    string
		days    int
		urgency string
	}{
		{"2026-03-10", -4, "expired"},
		{"2026-03-14", 0, "critical"},
		{"2026-03-21", 7, "warning"},
		{"2026-05-01", 48, "watch"},
		{"2027-01-01", 293, "ok"},
	}
	for _, tc := range cases {
		got, err := svc.ExpiryUrgency(tc.date)
		if err != nil {
			t.Fatalf("expiry %s: %v", tc.date, err)
		}
		if got.DaysToExpiry != tc.days || got.Urgency != tc.urgency {
			t.Fatalf("expiry %s: expected %d/%s, got %d/%s", tc.date, tc.days, tc.urgency, got.DaysToExpiry, got.Urgency)
		}
	}
	if _, err := svc.ExpiryUrgency("14/03/2026"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad date, got %v", err)
	}
}

func TestIdleSessionsArePrunedWhenMapGrows(t *testing.T) {
	svc, _ := newTestService()
	clock := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	svc.sessionPruneAbove = 3
	ctx := cashierCtx()

	if _, err := svc.Cart("", "T-EMPTY"); err != nil {
		t.Fatalf("cart: %v", err)
	}
	if _, err := svc.AddToCart(ctx, "", "T-BUSY", domain.AddLineRequest{SKU: "SKU-MIE-01", Qty: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}

	clock = clock.Add(time.Hour)
	if _, err := svc.Cart("", "T-RECENT"); err != nil {
		t.Fatalf("cart: %v", err)
	}
	if _, err := svc.Cart("", "T-NEW"); err != nil {
		t.Fatalf("cart: %v", err)
	}

	svc.mu.Lock()
	_, emptyKept := svc.sessions["main-store::T-EMPTY"]
	_, busyKept := svc.sessions["main-store::T-BUSY"]
	_, recentKept := svc.sessions["main-store::T-RECENT"]
	count := len(svc.sessions)
	svc.mu.Unlock()
	if emptyKept || !busyKept || !recentKept || count != 3 {
		t.Fatalf("expected only the stale empty session pruned, got empty=%v busy=%v recent=%v count=%d", emptyKept, busyKept, recentKept, count)
	}

	view, err := svc.Cart("", "T-BUSY")
	if err != nil {
		t.Fatalf("cart: %v", err)
	}
	if len(view.Lines) != 1 {
		t.Fatalf("expected busy cart preserved, got %+v", view.Lines)
	}
}
