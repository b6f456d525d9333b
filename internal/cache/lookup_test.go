package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"kasirinaja/terminal/internal/domain"
)

type countingSource struct {
	calls    int
	invoices map[string]domain.Invoice
}

func (s *countingSource) GetInvoice(_ context.Context, invoiceID string) (*domain.Invoice, error) {
	s.calls++
	inv, ok := s.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", invoiceID, domain.ErrNotFound)
	}
	return &inv, nil
}

type mapCache struct {
	entries map[string]domain.Invoice
	failGet bool
}

func (m *mapCache) Get(_ context.Context, invoiceID string) (*domain.Invoice, bool, error) {
	if m.failGet {
		return nil, false, errors.New("redis down")
	}
	inv, ok := m.entries[invoiceID]
	if !ok {
		return nil, false, nil
	}
	return &inv, true, nil
}

func (m *mapCache) Set(_ context.Context, invoice *domain.Invoice, _ time.Duration) error {
	m.entries[invoice.ID] = *invoice
	return nil
}

func TestCachedInvoicesReadsThrough(t *testing.T) {
	source := &countingSource{invoices: map[string]domain.Invoice{"inv-1": {ID: "inv-1", TotalCents: 9810}}}
	lookup := NewCachedInvoices(source, &mapCache{entries: map[string]domain.Invoice{}}, time.Minute)

	for i := 0; i < 3; i++ {
		inv, err := lookup.GetInvoice(context.Background(), "inv-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if inv.TotalCents != 9810 {
			t.Fatalf("unexpected invoice %+v", inv)
		}
	}
	if source.calls != 1 {
		t.Fatalf("expected one ledger call, got %d", source.calls)
	}
}

func TestCachedInvoicesIgnoresCacheFailure(t *testing.T) {
	source := &countingSource{invoices: map[string]domain.Invoice{"inv-1": {ID: "inv-1"}}}
	lookup := NewCachedInvoices(source, &mapCache{entries: map[string]domain.Invoice{}, failGet: true}, time.Minute)

	if _, err := lookup.GetInvoice(context.Background(), "inv-1"); err != nil {
		t.Fatalf("expected ledger fallback, got %v", err)
	}
	if _, err := lookup.GetInvoice(context.Background(), "inv-404"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNoopCacheNeverHits(t *testing.T) {
	source := &countingSource{invoices: map[string]domain.Invoice{"inv-1": {ID: "inv-1"}}}
	lookup := NewCachedInvoices(source, nil, time.Minute)
	_, _ = lookup.GetInvoice(context.Background(), "inv-1")
	_, _ = lookup.GetInvoice(context.Background(), "inv-1")
	if source.calls != 2 {
		t.Fatalf("expected every call to reach the ledger, got %d", source.calls)
	}
}
