package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"kasirinaja/terminal/internal/cache"
	"kasirinaja/terminal/internal/cart"
	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/payment"
	"kasirinaja/terminal/internal/returns"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/tier"
	"kasirinaja/terminal/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// InvoiceLedger is where committed invoices live. The repository satisfies it;
// a remote ledger client can replace it.
type InvoiceLedger interface {
	GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error)
	SubmitInvoice(ctx context.Context, draft domain.Invoice) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, filter store.InvoiceFilter) ([]domain.Invoice, error)
	ReturnedQuantities(ctx context.Context, invoiceID string) (map[string]int, error)
}

type Options struct {
	DefaultStoreID string
	TaxRatePercent float64
	Tiers          *tier.Presets
	Invoices       InvoiceLedger
	InvoiceCache   cache.InvoiceCache
	CacheTTL       time.Duration
	Publisher      payment.Publisher
}

// Session is one terminal's working state. Its mutex serializes every cart
// and return operation for that terminal.
type Session struct {
	mu       sync.Mutex
	Cart     *cart.Store
	Returns  *returns.Processor
	lastSeen time.Time
}

// idle reports whether the session holds nothing worth keeping. Callers must
// hold sess.mu.
func (sess *Session) idle() bool {
	return sess.Cart.Len() == 0 &&
		sess.Cart.OrderDiscount() == (domain.Discount{}) &&
		sess.Returns.State() == returns.StateIdle
}

type Service struct {
	repo           store.Repository
	invoices       InvoiceLedger
	lookup         *cache.CachedInvoices
	calculator     *payment.Calculator
	tiers          tier.Presets
	defaultStoreID string
	now            func() time.Time

	mu                sync.Mutex
	sessions          map[string]*Session
	sessionIdleTTL    time.Duration
	sessionPruneAbove int
}

func New(repo store.Repository, opts Options) *Service {
	if opts.DefaultStoreID == "" {
		opts.DefaultStoreID = "main-store"
	}
	if opts.Invoices == nil {
		opts.Invoices = repo
	}
	if opts.InvoiceCache == nil {
		opts.InvoiceCache = cache.NoopInvoiceCache{}
	}
	presets := tier.DefaultPresets()
	if opts.Tiers != nil {
		presets = *opts.Tiers
	}

	return &Service{
		repo:           repo,
		invoices:       opts.Invoices,
		lookup:         cache.NewCachedInvoices(opts.Invoices, opts.InvoiceCache, opts.CacheTTL),
		calculator:     payment.NewCalculator(opts.Invoices, opts.Publisher, opts.TaxRatePercent),
		tiers:          presets,
		defaultStoreID: opts.DefaultStoreID,
		now:            func() time.Time { return time.Now().UTC() },
		sessions:       make(map[string]*Session),

		sessionIdleTTL:    30 * time.Minute,
		sessionPruneAbove: 256,
	}
}

func (s *Service) DefaultStoreID() string {
	return s.defaultStoreID
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

// session returns the terminal's session, creating it on first use. Empty
// sessions untouched for sessionIdleTTL are dropped once the map grows past
// sessionPruneAbove.
func (s *Service) session(storeID string, terminalID string) (*Session, string, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		return nil, "", fmt.Errorf("terminal_id is required: %w", domain.ErrInvalidInput)
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	key := storeID + "::" + terminalID
	sess, ok := s.sessions[key]
	if !ok {
		if len(s.sessions) >= s.sessionPruneAbove {
			s.pruneSessionsLocked(now)
		}
		sess = &Session{
			Cart:    cart.New(),
			Returns: returns.NewProcessor(s.lookup, s.invoices),
		}
		s.sessions[key] = sess
	}
	sess.lastSeen = now
	return sess, storeID, nil
}

func (s *Service) pruneSessionsLocked(now time.Time) {
	cutoff := now.Add(-s.sessionIdleTTL)
	for key, sess := range s.sessions {
		if !sess.lastSeen.Before(cutoff) {
			continue
		}
		if !sess.mu.TryLock() {
			continue
		}
		if sess.idle() {
			delete(s.sessions, key)
		}
		sess.mu.Unlock()
	}
}

func (s *Service) withCart(storeID string, terminalID string, fn func(sess *Session) error) (domain.CartView, error) {
	sess, _, err := s.session(storeID, terminalID)
	if err != nil {
		return domain.CartView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if fn != nil {
		if err := fn(sess); err != nil {
			return domain.CartView{}, err
		}
	}
	return cartView(terminalID, sess.Cart), nil
}

func cartView(terminalID string, c *cart.Store) domain.CartView {
	return domain.CartView{
		TerminalID:    terminalID,
		Lines:         c.Lines(),
		OrderDiscount: c.OrderDiscount(),
		Totals:        c.Totals(),
	}
}

func (s *Service) Cart(storeID string, terminalID string) (domain.CartView, error) {
	return s.withCart(storeID, terminalID, nil)
}

func (s *Service) AddToCart(ctx context.Context, storeID string, terminalID string, req domain.AddLineRequest) (domain.CartView, error) {
	sku := strings.ToUpper(strings.TrimSpace(req.SKU))
	if sku == "" {
		return domain.CartView{}, fmt.Errorf("sku is required: %w", domain.ErrInvalidInput)
	}
	qty := req.Qty
	if qty == 0 {
		qty = 1
	}

	product, err := s.repo.GetProductBySKU(ctx, sku)
	if err != nil {
		return domain.CartView{}, err
	}
	if !product.Active {
		return domain.CartView{}, fmt.Errorf("product %s is inactive: %w", sku, domain.ErrInvalidInput)
	}

	return s.withCart(storeID, terminalID, func(sess *Session) error {
		_, err := sess.Cart.AddLine(*product, qty)
		return err
	})
}

func (s *Service) UpdateCartLine(storeID string, terminalID string, lineID string, req domain.SetQuantityRequest) (domain.CartView, error) {
	return s.withCart(storeID, terminalID, func(sess *Session) error {
		switch {
		case req.Qty != nil:
			return sess.Cart.SetQuantity(lineID, *req.Qty)
		case req.Delta != nil:
			return sess.Cart.AdjustQuantity(lineID, *req.Delta)
		default:
			return fmt.Errorf("qty or delta is required: %w", domain.ErrInvalidInput)
		}
	})
}

func (s *Service) RemoveCartLine(storeID string, terminalID string, lineID string) (domain.CartView, error) {
	return s.withCart(storeID, terminalID, func(sess *Session) error {
		return sess.Cart.RemoveLine(lineID)
	})
}

func (s *Service) SetItemDiscount(storeID string, terminalID string, lineID string, req domain.DiscountRequest) (domain.CartView, error) {
	return s.withCart(storeID, terminalID, func(sess *Session) error {
		return sess.Cart.SetItemDiscount(lineID, req.Kind, req.Value)
	})
}

func (s *Service) SetOrderDiscount(storeID string, terminalID string, req domain.DiscountRequest) (domain.CartView, error) {
	return s.withCart(storeID, terminalID, func(sess *Session) error {
		return sess.Cart.SetOrderDiscount(req.Kind, req.Value)
	})
}

func (s *Service) ClearCart(storeID string, terminalID string) (domain.CartView, error) {
	return s.withCart(storeID, terminalID, func(sess *Session) error {
		sess.Cart.Clear()
		return nil
	})
}

func (s *Service) GetInvoice(ctx context.Context, invoiceID string) (domain.Invoice, error) {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return domain.Invoice{}, fmt.Errorf("invoice_id is required: %w", domain.ErrInvalidInput)
	}
	inv, err := s.lookup.GetInvoice(ctx, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *inv, nil
}

func (s *Service) withReturns(storeID string, terminalID string, fn func(sess *Session, storeID string) error) (domain.ReturnView, error) {
	sess, storeID, err := s.session(storeID, terminalID)
	if err != nil {
		return domain.ReturnView{}, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if fn != nil {
		if err := fn(sess, storeID); err != nil {
			return domain.ReturnView{}, err
		}
	}
	return sess.Returns.View(), nil
}

func (s *Service) Returns(storeID string, terminalID string) (domain.ReturnView, error) {
	return s.withReturns(storeID, terminalID, nil)
}

// LoadReturn opens a prior invoice of the same store for returns.
func (s *Service) LoadReturn(ctx context.Context, storeID string, terminalID string, invoiceID string) (domain.ReturnView, error) {
	return s.withReturns(storeID, terminalID, func(sess *Session, storeID string) error {
		if err := sess.Returns.LoadInvoice(ctx, strings.TrimSpace(invoiceID)); err != nil {
			return err
		}
		if inv, ok := sess.Returns.Invoice(); ok && inv.StoreID != "" && inv.StoreID != storeID {
			sess.Returns.Reset()
			return fmt.Errorf("invoice %s: %w", invoiceID, domain.ErrNotFound)
		}
		return nil
	})
}

func (s *Service) UpdateReturnLine(storeID string, terminalID string, lineID string, req domain.ReturnLineRequest) (domain.ReturnView, error) {
	return s.withReturns(storeID, terminalID, func(sess *Session, _ string) error {
		if req.Qty == nil && req.Reason == nil {
			return fmt.Errorf("qty or reason is required: %w", domain.ErrInvalidInput)
		}
		if req.Reason != nil {
			if err := sess.Returns.SetReturnReason(lineID, *req.Reason); err != nil {
				return err
			}
		}
		if req.Qty != nil {
			return sess.Returns.SetReturnQuantity(lineID, *req.Qty)
		}
		return nil
	})
}

func (s *Service) CancelReturn(storeID string, terminalID string) (domain.ReturnView, error) {
	return s.withReturns(storeID, terminalID, func(sess *Session, _ string) error {
		sess.Returns.Reset()
		return nil
	})
}

// CommitReturn merges the selected return lines into the terminal's cart.
func (s *Service) CommitReturn(ctx context.Context, storeID string, terminalID string) (domain.CartView, error) {
	var invoiceID string
	view, err := s.withCart(storeID, terminalID, func(sess *Session) error {
		inv, _ := sess.Returns.Invoice()
		invoiceID = inv.ID
		return sess.Returns.Commit(sess.Cart)
	})
	if err != nil {
		return domain.CartView{}, err
	}
	s.logAudit(ctx, storeID, "return_commit", "invoice", invoiceID, fmt.Sprintf("terminal=%s", terminalID))
	return view, nil
}

// Checkout settles the terminal's cart against the open shift.
func (s *Service) Checkout(ctx context.Context, terminalID string, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	shift, err := s.repo.GetActiveShift(ctx, req.StoreID, terminalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CheckoutResponse{}, fmt.Errorf("no open shift for terminal %s: %w", terminalID, domain.ErrInvalidState)
		}
		return domain.CheckoutResponse{}, err
	}

	sess, storeID, err := s.session(req.StoreID, terminalID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	sess.mu.Lock()
	inv, err := s.calculator.Complete(ctx, sess.Cart, payment.Tender{
		Method:        req.PaymentMethod,
		TenderedCents: req.TenderedCents,
		Reference:     req.PaymentReference,
		Splits:        req.PaymentSplits,
	}, payment.Meta{
		StoreID:    storeID,
		TerminalID: terminalID,
		ShiftID:    shift.ID,
		CashierID:  actor.Username,
		CustomerID: strings.TrimSpace(req.CustomerID),
	})
	sess.mu.Unlock()
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	s.logAudit(ctx, storeID, "checkout", "invoice", inv.ID, fmt.Sprintf("total=%d,method=%s", inv.TotalCents, inv.PaymentMethod))
	return domain.CheckoutResponse{Invoice: *inv}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("date must be YYYY-MM-DD: %w", domain.ErrInvalidInput)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		zap.S().Warnw("failed to write audit log", "action", action, "entity_type", entityType, "entity_id", entityID, "error", err)
	}
}
