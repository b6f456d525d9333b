package store

import (
	"context"
	"errors"
	"time"

	"kasirinaja/terminal/internal/domain"
)

var (
	ErrNotFound           = domain.ErrNotFound
	ErrInvalidTransaction = errors.New("invalid transaction")
)

// InvoiceFilter selects committed invoices. Empty fields match everything;
// the time window is half-open [From, To).
type InvoiceFilter struct {
	StoreID    string
	TerminalID string
	ShiftID    string
	From       time.Time
	To         time.Time
}

type Repository interface {
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)

	GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error)
	SubmitInvoice(ctx context.Context, draft domain.Invoice) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, filter InvoiceFilter) ([]domain.Invoice, error)
	ReturnedQuantities(ctx context.Context, invoiceID string) (map[string]int, error)
	CustomerSpend(ctx context.Context, customerID string) (int64, error)

	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetActiveShift(ctx context.Context, storeID string, terminalID string) (*domain.Shift, error)
	GetShift(ctx context.Context, shiftID string) (*domain.Shift, error)
	CloseActiveShift(ctx context.Context, storeID string, terminalID string, summary domain.DayEndSummary, closedAt time.Time) (*domain.Shift, error)

	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpenses(ctx context.Context, storeID string, shiftID string) ([]domain.Expense, error)

	GetDayEndSummary(ctx context.Context, shiftID string) (*domain.DayEndSummary, error)
	ListDayEndSummaries(ctx context.Context, storeID string, from time.Time, to time.Time) ([]domain.DayEndSummary, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// ReturnedFromInvoices counts, per original invoice line, the units already
// taken back by the given invoices.
func ReturnedFromInvoices(invoices []domain.Invoice, originalInvoiceID string) map[string]int {
	returned := map[string]int{}
	for _, inv := range invoices {
		for _, line := range inv.Lines {
			if !line.IsReturn || line.OriginalInvoiceID != originalInvoiceID {
				continue
			}
			returned[line.OriginalLineID] += -line.Quantity
		}
	}
	return returned
}

// CheckReturnLimits rejects a draft whose return lines would take back more
// of an original line than was sold.
func CheckReturnLimits(draft domain.Invoice, lookup func(invoiceID string) (*domain.Invoice, map[string]int, error)) error {
	requested := map[string]map[string]int{}
	for _, line := range draft.Lines {
		if !line.IsReturn {
			continue
		}
		if line.OriginalInvoiceID == "" || line.OriginalLineID == "" || line.Quantity >= 0 {
			return ErrInvalidTransaction
		}
		if requested[line.OriginalInvoiceID] == nil {
			requested[line.OriginalInvoiceID] = map[string]int{}
		}
		requested[line.OriginalInvoiceID][line.OriginalLineID] += -line.Quantity
	}

	for invoiceID, lines := range requested {
		original, returned, err := lookup(invoiceID)
		if err != nil {
			return err
		}
		sold := map[string]int{}
		for _, line := range original.Lines {
			if !line.IsReturn {
				sold[line.ID] = line.Quantity
			}
		}
		for lineID, qty := range lines {
			if qty+returned[lineID] > sold[lineID] {
				return ErrInvalidTransaction
			}
		}
	}
	return nil
}
