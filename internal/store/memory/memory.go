package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	products         map[string]domain.Product
	invoicesByID     map[string]domain.Invoice
	invoiceOrder     []string
	shiftsByID       map[string]domain.Shift
	activeShiftByKey map[string]string
	expenses         []domain.Expense
	summariesByShift map[string]domain.DayEndSummary
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD;
// dev defaults are used with a warning when unset. The postgres ledger never
// uses these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		zap.S().Warn("memory store: using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			zap.S().Fatalw("memory store: hash seed password", "username", u.username, "error", err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	products := []domain.Product{
		{SKU: "SKU-MIE-01", Name: "Mie Goreng Instan", Category: "grocery", PriceCents: 4500, Active: true},
		{SKU: "SKU-TELUR-01", Name: "Telur 10 Butir", Category: "grocery", PriceCents: 3200, Active: true},
		{SKU: "SKU-SUSU-01", Name: "Susu UHT 1L", Category: "dairy", PriceCents: 18900, Active: true},
		{SKU: "SKU-ROTI-01", Name: "Roti Tawar", Category: "bakery", PriceCents: 17800, Active: true},
		{SKU: "SKU-KOPI-01", Name: "Kopi Sachet", Category: "beverage", PriceCents: 2600, Active: true},
		{SKU: "SKU-GULA-01", Name: "Gula 1kg", Category: "grocery", PriceCents: 17400, Active: true},
		{SKU: "SKU-TEH-01", Name: "Teh Celup", Category: "beverage", PriceCents: 9800, Active: true},
		{SKU: "SKU-AIR-01", Name: "Air Mineral 600ml", Category: "beverage", PriceCents: 3900, Active: true},
		{SKU: "SKU-KERIPIK-01", Name: "Keripik Singkong", Category: "snack", PriceCents: 12800, Active: true},
		{SKU: "SKU-COKLAT-01", Name: "Coklat Batang", Category: "snack", PriceCents: 8600, Active: true},
		{SKU: "SKU-SABUN-01", Name: "Sabun Mandi", Category: "household", PriceCents: 7400, Active: true},
		{SKU: "SKU-SHAMPOO-01", Name: "Shampoo Sachet", Category: "household", PriceCents: 3200, Active: false},
	}

	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.SKU] = p
	}

	return &Store{
		products:         productMap,
		invoicesByID:     make(map[string]domain.Invoice),
		invoiceOrder:     make([]string, 0, 128),
		shiftsByID:       make(map[string]domain.Shift),
		activeShiftByKey: make(map[string]string),
		expenses:         make([]domain.Expense, 0, 32),
		summariesByShift: make(map[string]domain.DayEndSummary),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmpString(a.SKU, b.SKU)
	})
	return products, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[strings.TrimSpace(sku)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetInvoice(_ context.Context, invoiceID string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoicesByID[invoiceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := inv.Clone()
	return &dup, nil
}

// SubmitInvoice stores a committed invoice. Resubmitting an ID returns the
// stored invoice unchanged.
func (s *Store) SubmitInvoice(_ context.Context, draft domain.Invoice) (*domain.Invoice, error) {
	if strings.TrimSpace(draft.StoreID) == "" || len(draft.Lines) == 0 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if draft.ID == "" {
		draft.ID = xid.New("inv")
	}
	if existing, ok := s.invoicesByID[draft.ID]; ok {
		dup := existing.Clone()
		return &dup, nil
	}

	err := store.CheckReturnLimits(draft, func(invoiceID string) (*domain.Invoice, map[string]int, error) {
		original, ok := s.invoicesByID[invoiceID]
		if !ok {
			return nil, nil, store.ErrNotFound
		}
		return &original, s.returnedLocked(invoiceID), nil
	})
	if err != nil {
		return nil, err
	}

	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now().UTC()
	}
	saved := draft.Clone()
	s.invoicesByID[saved.ID] = saved
	s.invoiceOrder = append(s.invoiceOrder, saved.ID)

	dup := saved.Clone()
	return &dup, nil
}

func (s *Store) ListInvoices(_ context.Context, filter store.InvoiceFilter) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Invoice, 0, 32)
	for _, id := range s.invoiceOrder {
		inv := s.invoicesByID[id]
		if filter.StoreID != "" && inv.StoreID != filter.StoreID {
			continue
		}
		if filter.TerminalID != "" && inv.TerminalID != filter.TerminalID {
			continue
		}
		if filter.ShiftID != "" && inv.ShiftID != filter.ShiftID {
			continue
		}
		if !filter.From.IsZero() && inv.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !inv.CreatedAt.Before(filter.To) {
			continue
		}
		result = append(result, inv.Clone())
	}
	return result, nil
}

func (s *Store) ReturnedQuantities(_ context.Context, invoiceID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.returnedLocked(invoiceID), nil
}

func (s *Store) returnedLocked(invoiceID string) map[string]int {
	invoices := make([]domain.Invoice, 0, len(s.invoicesByID))
	for _, inv := range s.invoicesByID {
		invoices = append(invoices, inv)
	}
	return store.ReturnedFromInvoices(invoices, invoiceID)
}

func (s *Store) CustomerSpend(_ context.Context, customerID string) (int64, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return 0, store.ErrInvalidTransaction
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	total := int64(0)
	for _, inv := range s.invoicesByID {
		if inv.CustomerID == customerID {
			total += inv.TotalCents
		}
	}
	return total, nil
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.StoreID) == "" || strings.TrimSpace(shift.TerminalID) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftMapKey(shift.StoreID, shift.TerminalID)
	if _, exists := s.activeShiftByKey[key]; exists {
		return nil, store.ErrInvalidTransaction
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosedAt = nil
	shift.ClosingCashCents = 0

	s.shiftsByID[shift.ID] = shift
	s.activeShiftByKey[key] = shift.ID
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) GetActiveShift(_ context.Context, storeID string, terminalID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.activeShiftByKey[shiftMapKey(storeID, terminalID)]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrNotFound
	}
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) GetShift(_ context.Context, shiftID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyShift := shift
	return &copyShift, nil
}

// CloseActiveShift closes the terminal's open shift and records its signed
// day-end summary in one step.
func (s *Store) CloseActiveShift(_ context.Context, storeID string, terminalID string, summary domain.DayEndSummary, closedAt time.Time) (*domain.Shift, error) {
	if strings.TrimSpace(storeID) == "" || strings.TrimSpace(terminalID) == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := shiftMapKey(storeID, terminalID)
	shiftID, exists := s.activeShiftByKey[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftStatusOpen {
		return nil, store.ErrNotFound
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusClosed
	shift.ClosingCashCents = summary.ActualCashCountedCents
	shift.ClosedAt = &closedAt

	summary.ShiftID = shift.ID
	summary.ClosedAt = &closedAt
	s.summariesByShift[shift.ID] = cloneSummary(summary)

	delete(s.activeShiftByKey, key)
	s.shiftsByID[shiftID] = shift
	copyShift := shift
	return &copyShift, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	if strings.TrimSpace(expense.StoreID) == "" || expense.AmountCents < 1 {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	s.expenses = append(s.expenses, expense)
	copyExpense := expense
	return &copyExpense, nil
}

func (s *Store) ListExpenses(_ context.Context, storeID string, shiftID string) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Expense, 0, len(s.expenses))
	for _, expense := range s.expenses {
		if storeID != "" && expense.StoreID != storeID {
			continue
		}
		if shiftID != "" && expense.ShiftID != shiftID {
			continue
		}
		result = append(result, expense)
	}
	return result, nil
}

func (s *Store) GetDayEndSummary(_ context.Context, shiftID string) (*domain.DayEndSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.summariesByShift[shiftID]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneSummary(summary)
	return &dup, nil
}

func (s *Store) ListDayEndSummaries(_ context.Context, storeID string, from time.Time, to time.Time) ([]domain.DayEndSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DayEndSummary, 0, 8)
	for _, summary := range s.summariesByShift {
		if storeID != "" && summary.StoreID != storeID {
			continue
		}
		if summary.ClosedAt == nil || summary.ClosedAt.Before(from) || !summary.ClosedAt.Before(to) {
			continue
		}
		result = append(result, cloneSummary(summary))
	}
	slices.SortFunc(result, func(a, b domain.DayEndSummary) int {
		if a.ClosedAt.Equal(*b.ClosedAt) {
			return cmpString(a.ShiftID, b.ShiftID)
		}
		if a.ClosedAt.Before(*b.ClosedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidTransaction
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func shiftMapKey(storeID string, terminalID string) string {
	return storeID + "::" + terminalID
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSummary(src domain.DayEndSummary) domain.DayEndSummary {
	dup := src
	dup.SalesByMethod = make(map[string]int64, len(src.SalesByMethod))
	for method, cents := range src.SalesByMethod {
		dup.SalesByMethod[method] = cents
	}
	if src.ClosedAt != nil {
		closedAt := src.ClosedAt.UTC()
		dup.ClosedAt = &closedAt
	}
	return dup
}
