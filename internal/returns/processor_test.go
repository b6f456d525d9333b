package returns

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"kasirinaja/terminal/internal/cart"
	"kasirinaja/terminal/internal/domain"
)

type fakeLedger struct {
	invoices map[string]domain.Invoice
	returned map[string]map[string]int
}

func (f *fakeLedger) GetInvoice(_ context.Context, invoiceID string) (*domain.Invoice, error) {
	inv, ok := f.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, domain.ErrNotFound)
	}
	dup := inv.Clone()
	return &dup, nil
}

func (f *fakeLedger) ReturnedQuantities(_ context.Context, invoiceID string) (map[string]int, error) {
	out := map[string]int{}
	for k, v := range f.returned[invoiceID] {
		out[k] = v
	}
	return out, nil
}

func sampleInvoice() domain.Invoice {
	return domain.Invoice{
		ID:            "inv-1",
		PaymentMethod: domain.PaymentCash,
		Lines: []domain.CartLine{
			{ID: "l1", ProductID: "SKU-MIE-01", UnitPriceCents: 4500, Quantity: 1},
			{ID: "l2", ProductID: "SKU-TELUR-01", UnitPriceCents: 3200, Quantity: 2,
				Discount: domain.Discount{Kind: domain.DiscountPercentage, Value: "10"}},
			{ID: "l3", ProductID: "SKU-KOPI-01", UnitPriceCents: 2600, Quantity: 5},
		},
		SubtotalCents: 4500 + 6400 + 13000,
	}
}

func newFixture() (*Processor, *fakeLedger) {
	ledger := &fakeLedger{
		invoices: map[string]domain.Invoice{"inv-1": sampleInvoice()},
		returned: map[string]map[string]int{},
	}
	return NewProcessor(ledger, ledger), ledger
}

func TestLoadInvoiceNotFound(t *testing.T) {
	p, _ := newFixture()
	if err := p.LoadInvoice(context.Background(), "inv-missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if p.State() != StateIdle {
		t.Fatalf("expected Idle after failed load, got %s", p.State())
	}
}

func TestLoadInvoiceSeedsZeroCandidates(t *testing.T) {
	p, _ := newFixture()
	if err := p.LoadInvoice(context.Background(), "inv-1"); err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.State() != StateInvoiceLoaded {
		t.Fatalf("expected InvoiceLoaded, got %s", p.State())
	}
	candidates := p.Candidates()
	if len(candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(candidates))
	}
	for _, c := range candidates {
		if c.ReturnQuantity != 0 {
			t.Fatalf("expected zero return quantity, got %+v", c)
		}
	}
}

func TestSetReturnQuantityRejectsOutOfRange(t *testing.T) {
	p, _ := newFixture()
	_ = p.LoadInvoice(context.Background(), "inv-1")

	for _, c := range p.Candidates() {
		if err := p.SetReturnQuantity(c.LineID, c.OriginalQuantity+1); !errors.Is(err, domain.ErrInvalidQuantity) {
			t.Fatalf("line %s: expected ErrInvalidQuantity above original, got %v", c.LineID, err)
		}
		if err := p.SetReturnQuantity(c.LineID, -1); !errors.Is(err, domain.ErrInvalidQuantity) {
			t.Fatalf("line %s: expected ErrInvalidQuantity below zero, got %v", c.LineID, err)
		}
		if err := p.SetReturnQuantity(c.LineID, c.OriginalQuantity); err != nil {
			t.Fatalf("line %s: expected original quantity accepted, got %v", c.LineID, err)
		}
	}
	if p.State() != StateItemsSelected {
		t.Fatalf("expected ItemsSelected, got %s", p.State())
	}
}

func TestSetReturnQuantityHonorsEarlierReturns(t *testing.T) {
	p, ledger := newFixture()
	ledger.returned["inv-1"] = map[string]int{"l3": 4}
	_ = p.LoadInvoice(context.Background(), "inv-1")

	if err := p.SetReturnQuantity("l3", 2); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity past remaining, got %v", err)
	}
	if err := p.SetReturnQuantity("l3", 1); err != nil {
		t.Fatalf("expected remaining unit accepted, got %v", err)
	}
}

func TestCommitRequiresSelectionAndReason(t *testing.T) {
	p, _ := newFixture()
	c := cart.New()

	if err := p.Commit(c); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState before load, got %v", err)
	}

	_ = p.LoadInvoice(context.Background(), "inv-1")
	if err := p.Commit(c); !errors.Is(err, domain.ErrNothingSelected) {
		t.Fatalf("expected ErrNothingSelected, got %v", err)
	}

	_ = p.SetReturnQuantity("l1", 1)
	if err := p.Commit(c); !errors.Is(err, domain.ErrReasonRequired) {
		t.Fatalf("expected ErrReasonRequired, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("expected cart untouched after failed commit")
	}
	if p.State() != StateItemsSelected {
		t.Fatalf("expected selection kept, got %s", p.State())
	}
}

func TestCommitFullReturnNegatesSubtotal(t *testing.T) {
	p, _ := newFixture()
	c := cart.New()
	_ = p.LoadInvoice(context.Background(), "inv-1")

	for _, cand := range p.Candidates() {
		if err := p.SetReturnQuantity(cand.LineID, cand.OriginalQuantity); err != nil {
			t.Fatalf("set qty: %v", err)
		}
		if err := p.SetReturnReason(cand.LineID, "customer changed mind"); err != nil {
			t.Fatalf("set reason: %v", err)
		}
	}
	if err := p.Commit(c); err != nil {
		t.Fatalf("commit: %v", err)
	}

	original := sampleInvoice()
	if got := c.Totals().SubtotalCents; got != -original.SubtotalCents {
		t.Fatalf("expected subtotal %d, got %d", -original.SubtotalCents, got)
	}
	if got := c.Totals().ItemDiscountCents; got != 0 {
		t.Fatalf("expected return lines without discount, got %d", got)
	}
	for _, line := range c.Lines() {
		if !line.IsReturn || line.Quantity >= 0 || line.OriginalInvoiceID != "inv-1" || line.OriginalPaymentMethod != domain.PaymentCash {
			t.Fatalf("unexpected merged line %+v", line)
		}
	}
	if p.State() != StateIdle {
		t.Fatalf("expected Idle after commit, got %s", p.State())
	}
}

func TestApplyOneShot(t *testing.T) {
	p, _ := newFixture()
	c := cart.New()

	err := p.Apply(context.Background(), domain.ReturnRequest{
		OriginalInvoiceID: "inv-1",
		Selections:        []domain.ReturnSelection{{LineID: "l2", ReturnQuantity: 1, Reason: "pecah"}},
	}, c)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := c.Totals().TotalCents; got != -3200 {
		t.Fatalf("expected refund total -3200, got %d", got)
	}
}

func TestResetDropsLoadedInvoice(t *testing.T) {
	p, _ := newFixture()
	_ = p.LoadInvoice(context.Background(), "inv-1")
	_ = p.SetReturnQuantity("l1", 1)

	p.Reset()
	if p.State() != StateIdle || len(p.Candidates()) != 0 {
		t.Fatalf("expected reset to Idle with no candidates")
	}
	if err := p.SetReturnQuantity("l1", 1); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState after reset, got %v", err)
	}
}

func TestRefundMethodForSplitInvoice(t *testing.T) {
	inv := domain.Invoice{PaymentMethod: domain.PaymentSplitMethod, PaymentSplits: []domain.PaymentSplit{
		{Method: "cash", AmountCents: 2000},
		{Method: "qris", AmountCents: 8000},
	}}
	if got := refundMethod(inv); got != "qris" {
		t.Fatalf("expected qris, got %s", got)
	}
}
