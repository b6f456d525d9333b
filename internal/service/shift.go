package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"kasirinaja/terminal/internal/dayend"
	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/report"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/xid"
)

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	req.TerminalID = strings.TrimSpace(req.TerminalID)
	req.CashierName = strings.TrimSpace(req.CashierName)
	if req.TerminalID == "" || req.CashierName == "" {
		return domain.ShiftResponse{}, fmt.Errorf("terminal_id and cashier_name are required: %w", domain.ErrInvalidInput)
	}
	if req.OpeningFloatCents < 0 {
		return domain.ShiftResponse{}, fmt.Errorf("opening float must not be negative: %w", domain.ErrInvalidInput)
	}

	shift := domain.Shift{
		ID:                xid.New("shift"),
		StoreID:           req.StoreID,
		TerminalID:        req.TerminalID,
		CashierName:       req.CashierName,
		OpeningFloatCents: req.OpeningFloatCents,
		Status:            domain.ShiftStatusOpen,
		OpenedAt:          s.now(),
	}
	saved, err := s.repo.CreateShift(ctx, shift)
	if err != nil {
		if errors.Is(err, store.ErrInvalidTransaction) {
			return domain.ShiftResponse{}, fmt.Errorf("shift already open on %s: %w", req.TerminalID, domain.ErrInvalidState)
		}
		return domain.ShiftResponse{}, err
	}

	s.logAudit(ctx, req.StoreID, "shift_open", "shift", saved.ID, req.CashierName)

	return domain.ShiftResponse{Shift: *saved}, nil
}

func (s *Service) GetActiveShift(ctx context.Context, storeID string, terminalID string) (domain.ShiftResponse, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	if terminalID == "" {
		return domain.ShiftResponse{}, fmt.Errorf("terminal_id is required: %w", domain.ErrInvalidInput)
	}

	shift, err := s.repo.GetActiveShift(ctx, storeID, terminalID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	return domain.ShiftResponse{Shift: *shift}, nil
}

// CloseShift reconciles the open shift against the counted cash, then closes
// it and stores the signed summary together.
func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ShiftCloseResponse, error) {
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	if strings.TrimSpace(req.TerminalID) == "" {
		return domain.ShiftCloseResponse{}, fmt.Errorf("terminal_id is required: %w", domain.ErrInvalidInput)
	}

	active, err := s.repo.GetActiveShift(ctx, req.StoreID, req.TerminalID)
	if err != nil {
		return domain.ShiftCloseResponse{}, err
	}

	reconciler, err := s.reconcile(ctx, *active)
	if err != nil {
		return domain.ShiftCloseResponse{}, err
	}
	if err := reconciler.SetActualCash(req.ActualCashCountedCents); err != nil {
		return domain.ShiftCloseResponse{}, err
	}
	reconciler.SetNotes(req.Notes)
	reconciler.SetSignature(req.Signature)

	closedAt := s.now()
	summary, err := reconciler.Close(closedAt)
	if err != nil {
		return domain.ShiftCloseResponse{}, err
	}

	closed, err := s.repo.CloseActiveShift(ctx, req.StoreID, req.TerminalID, summary, closedAt)
	if err != nil {
		return domain.ShiftCloseResponse{}, err
	}
	s.logAudit(ctx, req.StoreID, "shift_close", "shift", closed.ID,
		fmt.Sprintf("expected=%d,counted=%d,difference=%d", summary.ExpectedCashCents, summary.ActualCashCountedCents, summary.DifferenceCents))

	summary.ShiftID = closed.ID
	return domain.ShiftCloseResponse{Shift: *closed, Summary: summary}, nil
}

// reconcile loads the shift's invoices and expenses concurrently and builds a
// reconciler over them.
func (s *Service) reconcile(ctx context.Context, shift domain.Shift) (*dayend.Reconciler, error) {
	var invoices []domain.Invoice
	var expenses []domain.Expense

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		invoices, err = s.invoices.ListInvoices(gctx, store.InvoiceFilter{
			StoreID:    shift.StoreID,
			TerminalID: shift.TerminalID,
			ShiftID:    shift.ID,
		})
		if err != nil {
			return fmt.Errorf("list shift invoices: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		expenses, err = s.repo.ListExpenses(gctx, shift.StoreID, shift.ID)
		if err != nil {
			return fmt.Errorf("list shift expenses: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	reconciler := dayend.New(dayend.Header{
		Date:             shift.OpenedAt.UTC().Format("2006-01-02"),
		StoreID:          shift.StoreID,
		TerminalID:       shift.TerminalID,
		ShiftID:          shift.ID,
		CashierName:      shift.CashierName,
		OpeningCashCents: shift.OpeningFloatCents,
	})
	reconciler.Refresh(invoices, expenses)
	return reconciler, nil
}

// DayEndSummary returns the stored summary of a closed shift, or a live
// preview while the shift is still open.
func (s *Service) DayEndSummary(ctx context.Context, shiftID string) (domain.DayEndSummary, error) {
	shiftID = strings.TrimSpace(shiftID)
	if shiftID == "" {
		return domain.DayEndSummary{}, fmt.Errorf("shift_id is required: %w", domain.ErrInvalidInput)
	}

	summary, err := s.repo.GetDayEndSummary(ctx, shiftID)
	if err == nil {
		return *summary, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.DayEndSummary{}, err
	}

	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.DayEndSummary{}, err
	}
	if shift.Status != domain.ShiftStatusOpen {
		return domain.DayEndSummary{}, fmt.Errorf("shift %s closed without summary: %w", shiftID, domain.ErrNotFound)
	}
	reconciler, err := s.reconcile(ctx, *shift)
	if err != nil {
		return domain.DayEndSummary{}, err
	}
	return reconciler.Summary(), nil
}

type RenderedReport struct {
	ContentType string
	FileName    string
	Body        []byte
}

func (s *Service) RenderDayEnd(ctx context.Context, shiftID string, format string) (RenderedReport, error) {
	f, err := report.ParseFormat(format)
	if err != nil {
		return RenderedReport{}, err
	}
	summary, err := s.DayEndSummary(ctx, shiftID)
	if err != nil {
		return RenderedReport{}, err
	}
	body, err := report.RenderBytes(f, summary, s.now())
	if err != nil {
		return RenderedReport{}, err
	}
	return RenderedReport{
		ContentType: report.ContentType(f),
		FileName:    report.FileName(summary, f),
		Body:        body,
	}, nil
}

// CreateExpense records a paid-out expense, attaching it to the terminal's
// open shift when there is one.
func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	req.Category = strings.TrimSpace(req.Category)
	if req.Category == "" || req.AmountCents < 1 {
		return domain.Expense{}, fmt.Errorf("category and a positive amount are required: %w", domain.ErrInvalidInput)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = domain.PaymentCash
	}

	expense := domain.Expense{
		ID:            xid.New("exp"),
		StoreID:       req.StoreID,
		Category:      req.Category,
		Description:   strings.TrimSpace(req.Description),
		AmountCents:   req.AmountCents,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     s.now(),
	}
	if actor, ok := ActorFromContext(ctx); ok {
		expense.RecordedBy = actor.Username
	}
	if terminalID := strings.TrimSpace(req.TerminalID); terminalID != "" {
		shift, err := s.repo.GetActiveShift(ctx, req.StoreID, terminalID)
		switch {
		case err == nil:
			expense.ShiftID = shift.ID
		case !errors.Is(err, store.ErrNotFound):
			return domain.Expense{}, err
		}
	}

	saved, err := s.repo.CreateExpense(ctx, expense)
	if err != nil {
		return domain.Expense{}, err
	}
	s.logAudit(ctx, req.StoreID, "expense_create", "expense", saved.ID, fmt.Sprintf("category=%s,amount=%d", saved.Category, saved.AmountCents))
	return *saved, nil
}

func (s *Service) ListExpenses(ctx context.Context, storeID string, shiftID string) ([]domain.Expense, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	return s.repo.ListExpenses(ctx, storeID, strings.TrimSpace(shiftID))
}

// ClosedSummaries lists the day-end summaries of shifts closed in [from, to).
func (s *Service) ClosedSummaries(ctx context.Context, storeID string, from time.Time, to time.Time) ([]domain.DayEndSummary, error) {
	return s.repo.ListDayEndSummaries(ctx, storeID, from, to)
}
