package cache

import (
	"context"
	"time"

	"kasirinaja/terminal/internal/domain"
)

// InvoiceCache keeps committed invoices for return lookups. Invoices never
// change after submission, so entries only expire.
type InvoiceCache interface {
	Get(ctx context.Context, invoiceID string) (*domain.Invoice, bool, error)
	Set(ctx context.Context, invoice *domain.Invoice, ttl time.Duration) error
}

type NoopInvoiceCache struct{}

func (NoopInvoiceCache) Get(_ context.Context, _ string) (*domain.Invoice, bool, error) {
	return nil, false, nil
}

func (NoopInvoiceCache) Set(_ context.Context, _ *domain.Invoice, _ time.Duration) error {
	return nil
}

func invoiceKey(invoiceID string) string {
	return "kasirinaja:invoice:" + invoiceID
}
