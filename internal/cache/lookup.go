package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"kasirinaja/terminal/internal/domain"
)

type InvoiceSource interface {
	GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error)
}

// CachedInvoices reads through the cache to the ledger. Cache errors are
// logged and never fail the lookup.
type CachedInvoices struct {
	source InvoiceSource
	cache  InvoiceCache
	ttl    time.Duration
}

func NewCachedInvoices(source InvoiceSource, cache InvoiceCache, ttl time.Duration) *CachedInvoices {
	if cache == nil {
		cache = NoopInvoiceCache{}
	}
	return &CachedInvoices{source: source, cache: cache, ttl: ttl}
}

func (c *CachedInvoices) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	cached, ok, err := c.cache.Get(ctx, invoiceID)
	if err != nil {
		zap.S().Warnw("invoice cache get", "invoice", invoiceID, "error", err)
	}
	if ok && cached != nil {
		return cached, nil
	}

	inv, err := c.source.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, inv, c.ttl); err != nil {
		zap.S().Warnw("invoice cache set", "invoice", invoiceID, "error", err)
	}
	return inv, nil
}
