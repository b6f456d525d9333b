package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sqlx.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates any missing tables and indexes. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 128)
	err := s.db.SelectContext(ctx, &products, `
		SELECT sku, name, category, price_cents, active
		FROM products
		WHERE active = true
		ORDER BY category, name
	`)
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.GetContext(ctx, &product, `
		SELECT sku, name, category, price_cents, active
		FROM products
		WHERE sku = $1
	`, strings.TrimSpace(sku))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

type invoiceRow struct {
	ID                 string    `db:"id"`
	StoreID            string    `db:"store_id"`
	TerminalID         string    `db:"terminal_id"`
	ShiftID            string    `db:"shift_id"`
	CashierID          string    `db:"cashier_id"`
	CustomerID         string    `db:"customer_id"`
	CreatedAt          time.Time `db:"created_at"`
	SubtotalCents      int64     `db:"subtotal_cents"`
	ItemDiscountCents  int64     `db:"item_discount_cents"`
	OrderDiscountCents int64     `db:"order_discount_cents"`
	TotalCents         int64     `db:"total_cents"`
	TaxRatePercent     float64   `db:"tax_rate_percent"`
	TaxCents           int64     `db:"tax_cents"`
	PaymentMethod      string    `db:"payment_method"`
	PaymentReference   string    `db:"payment_reference"`
	PaymentSplits      string    `db:"payment_splits"`
	TenderedCents      int64     `db:"tendered_cents"`
	BalanceCents       int64     `db:"balance_cents"`
}

type lineRow struct {
	InvoiceID             string `db:"invoice_id"`
	LineNo                int    `db:"line_no"`
	ID                    string `db:"id"`
	ProductID             string `db:"product_id"`
	Name                  string `db:"name"`
	UnitPriceCents        int64  `db:"unit_price_cents"`
	Quantity              int    `db:"quantity"`
	DiscountKind          string `db:"discount_kind"`
	DiscountValue         string `db:"discount_value"`
	IsReturn              bool   `db:"is_return"`
	ReturnReason          string `db:"return_reason"`
	OriginalInvoiceID     string `db:"original_invoice_id"`
	OriginalLineID        string `db:"original_line_id"`
	OriginalPaymentMethod string `db:"original_payment_method"`
	ReturnableQty         int    `db:"returnable_qty"`
}

const invoiceColumns = `id, store_id, terminal_id, shift_id, cashier_id, customer_id, created_at,
	subtotal_cents, item_discount_cents, order_discount_cents, total_cents,
	tax_rate_percent, tax_cents, payment_method, payment_reference, payment_splits::text AS payment_splits,
	tendered_cents, balance_cents`

const lineColumns = `invoice_id, line_no, id, product_id, name, unit_price_cents, quantity,
	discount_kind, discount_value, is_return, return_reason,
	original_invoice_id, original_line_id, original_payment_method, returnable_qty`

func (s *Store) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	return getInvoice(ctx, s.db, invoiceID)
}

func getInvoice(ctx context.Context, q sqlx.QueryerContext, invoiceID string) (*domain.Invoice, error) {
	var row invoiceRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, invoiceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	invoices, err := attachLines(ctx, q, []invoiceRow{row})
	if err != nil {
		return nil, err
	}
	return &invoices[0], nil
}

func attachLines(ctx context.Context, q sqlx.QueryerContext, rows []invoiceRow) ([]domain.Invoice, error) {
	if len(rows) == 0 {
		return []domain.Invoice{}, nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	query, args, err := sqlx.In(`SELECT `+lineColumns+` FROM invoice_lines WHERE invoice_id IN (?) ORDER BY invoice_id, line_no`, ids)
	if err != nil {
		return nil, err
	}
	var lines []lineRow
	if err := sqlx.SelectContext(ctx, q, &lines, sqlx.Rebind(sqlx.DOLLAR, query), args...); err != nil {
		return nil, err
	}
	byInvoice := make(map[string][]domain.CartLine, len(rows))
	for _, line := range lines {
		byInvoice[line.InvoiceID] = append(byInvoice[line.InvoiceID], line.toDomain())
	}

	invoices := make([]domain.Invoice, 0, len(rows))
	for _, row := range rows {
		inv, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		inv.Lines = byInvoice[row.ID]
		if inv.Lines == nil {
			inv.Lines = []domain.CartLine{}
		}
		invoices = append(invoices, inv)
	}
	return invoices, nil
}

// SubmitInvoice persists a committed invoice. Resubmitting an ID returns the
// stored invoice unchanged.
func (s *Store) SubmitInvoice(ctx context.Context, draft domain.Invoice) (*domain.Invoice, error) {
	if strings.TrimSpace(draft.StoreID) == "" || len(draft.Lines) == 0 {
		return nil, store.ErrInvalidTransaction
	}
	if draft.ID == "" {
		draft.ID = xid.New("inv")
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := getInvoice(ctx, tx, draft.ID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	err = store.CheckReturnLimits(draft, func(invoiceID string) (*domain.Invoice, map[string]int, error) {
		var locked string
		if err := tx.GetContext(ctx, &locked, `SELECT id FROM invoices WHERE id = $1 FOR UPDATE`, invoiceID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil, store.ErrNotFound
			}
			return nil, nil, err
		}
		original, err := getInvoice(ctx, tx, invoiceID)
		if err != nil {
			return nil, nil, err
		}
		returned, err := returnedQuantities(ctx, tx, invoiceID)
		if err != nil {
			return nil, nil, err
		}
		return original, returned, nil
	})
	if err != nil {
		return nil, err
	}

	row, err := invoiceRowFrom(draft)
	if err != nil {
		return nil, err
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO invoices (
			id, store_id, terminal_id, shift_id, cashier_id, customer_id, created_at,
			subtotal_cents, item_discount_cents, order_discount_cents, total_cents,
			tax_rate_percent, tax_cents, payment_method, payment_reference, payment_splits,
			tendered_cents, balance_cents
		) VALUES (
			:id, :store_id, :terminal_id, :shift_id, :cashier_id, :customer_id, :created_at,
			:subtotal_cents, :item_discount_cents, :order_discount_cents, :total_cents,
			:tax_rate_percent, :tax_cents, :payment_method, :payment_reference, CAST(:payment_splits AS jsonb),
			:tendered_cents, :balance_cents
		)
	`, row)
	if err != nil {
		if isUniqueViolation(err) {
			_ = tx.Rollback()
			return s.GetInvoice(ctx, draft.ID)
		}
		return nil, err
	}

	lines := make([]lineRow, 0, len(draft.Lines))
	for i, line := range draft.Lines {
		lines = append(lines, lineRowFrom(draft.ID, i, line))
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO invoice_lines (`+lineColumns+`)
		VALUES (
			:invoice_id, :line_no, :id, :product_id, :name, :unit_price_cents, :quantity,
			:discount_kind, :discount_value, :is_return, :return_reason,
			:original_invoice_id, :original_line_id, :original_payment_method, :returnable_qty
		)
	`, lines)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	saved := draft.Clone()
	return &saved, nil
}

func (s *Store) ListInvoices(ctx context.Context, filter store.InvoiceFilter) ([]domain.Invoice, error) {
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 5)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if filter.StoreID != "" {
		add("store_id = $%d", filter.StoreID)
	}
	if filter.TerminalID != "" {
		add("terminal_id = $%d", filter.TerminalID)
	}
	if filter.ShiftID != "" {
		add("shift_id = $%d", filter.ShiftID)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at, id`

	var rows []invoiceRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return attachLines(ctx, s.db, rows)
}

func (s *Store) ReturnedQuantities(ctx context.Context, invoiceID string) (map[string]int, error) {
	return returnedQuantities(ctx, s.db, invoiceID)
}

func returnedQuantities(ctx context.Context, q sqlx.QueryerContext, invoiceID string) (map[string]int, error) {
	var rows []struct {
		LineID string `db:"original_line_id"`
		Qty    int    `db:"qty"`
	}
	err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT original_line_id, COALESCE(SUM(-quantity), 0) AS qty
		FROM invoice_lines
		WHERE is_return = true AND original_invoice_id = $1
		GROUP BY original_line_id
	`, invoiceID)
	if err != nil {
		return nil, err
	}
	returned := make(map[string]int, len(rows))
	for _, row := range rows {
		returned[row.LineID] = row.Qty
	}
	return returned, nil
}

func (s *Store) CustomerSpend(ctx context.Context, customerID string) (int64, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return 0, store.ErrInvalidTransaction
	}
	var total int64
	err := s.db.GetContext(ctx, &total, `
		SELECT COALESCE(SUM(total_cents), 0)
		FROM invoices
		WHERE customer_id = $1
	`, customerID)
	if err != nil {
		return 0, err
	}
	return total, nil
}

const shiftColumns = `id, store_id, terminal_id, cashier_name, opening_float_cents, closing_cash_cents, status, opened_at, closed_at`

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.StoreID) == "" || strings.TrimSpace(shift.TerminalID) == "" {
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

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO shifts (`+shiftColumns+`)
		VALUES (:id, :store_id, :terminal_id, :cashier_name, :opening_float_cents, :closing_cash_cents, :status, :opened_at, :closed_at)
	`, shift)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}
	return &shift, nil
}

func (s *Store) GetActiveShift(ctx context.Context, storeID string, terminalID string) (*domain.Shift, error) {
	var shift domain.Shift
	err := s.db.GetContext(ctx, &shift, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE store_id = $1 AND terminal_id = $2 AND status = $3
		ORDER BY opened_at DESC
		LIMIT 1
	`, storeID, terminalID, domain.ShiftStatusOpen)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return normalizeShift(shift), nil
}

func (s *Store) GetShift(ctx context.Context, shiftID string) (*domain.Shift, error) {
	var shift domain.Shift
	err := s.db.GetContext(ctx, &shift, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1`, shiftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return normalizeShift(shift), nil
}

// CloseActiveShift closes the terminal's open shift and records its signed
// day-end summary in one transaction.
func (s *Store) CloseActiveShift(ctx context.Context, storeID string, terminalID string, summary domain.DayEndSummary, closedAt time.Time) (*domain.Shift, error) {
	if strings.TrimSpace(storeID) == "" || strings.TrimSpace(terminalID) == "" {
		return nil, store.ErrInvalidTransaction
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var shift domain.Shift
	err = tx.GetContext(ctx, &shift, `
		UPDATE shifts
		SET status = $4, closing_cash_cents = $5, closed_at = $6
		WHERE store_id = $1 AND terminal_id = $2 AND status = $3
		RETURNING `+shiftColumns,
		storeID, terminalID, domain.ShiftStatusOpen, domain.ShiftStatusClosed, summary.ActualCashCountedCents, closedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	summary.ShiftID = shift.ID
	summary.ClosedAt = &closedAt
	row, err := summaryRowFrom(summary)
	if err != nil {
		return nil, err
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO dayend_summaries (`+summaryColumnList+`)
		VALUES (
			:shift_id, :store_id, :terminal_id, :business_date, :cashier_name, :opening_cash_cents,
			CAST(:sales_by_method AS jsonb), :invoice_count, :cash_sales_cents, :cash_refunds_cents,
			:cash_expenses_cents, :total_expenses_cents, :total_discounts_cents, :total_tax_cents,
			:net_revenue_cents, :expected_cash_cents, :actual_cash_counted_cents, :difference_cents,
			:notes, :signature, :closed_at
		)
	`, row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidTransaction
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return normalizeShift(shift), nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if strings.TrimSpace(expense.StoreID) == "" || expense.AmountCents < 1 {
		return nil, store.ErrInvalidTransaction
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	if expense.PaymentMethod == "" {
		expense.PaymentMethod = domain.PaymentCash
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO expenses (id, store_id, shift_id, category, description, amount_cents, payment_method, recorded_by, created_at)
		VALUES (:id, :store_id, :shift_id, :category, :description, :amount_cents, :payment_method, :recorded_by, :created_at)
	`, expense)
	if err != nil {
		return nil, err
	}
	return &expense, nil
}

func (s *Store) ListExpenses(ctx context.Context, storeID string, shiftID string) ([]domain.Expense, error) {
	expenses := make([]domain.Expense, 0, 32)
	err := s.db.SelectContext(ctx, &expenses, `
		SELECT id, store_id, shift_id, category, description, amount_cents, payment_method, recorded_by, created_at
		FROM expenses
		WHERE ($1 = '' OR store_id = $1) AND ($2 = '' OR shift_id = $2)
		ORDER BY created_at, id
	`, storeID, shiftID)
	if err != nil {
		return nil, err
	}
	for i := range expenses {
		expenses[i].CreatedAt = expenses[i].CreatedAt.UTC()
	}
	return expenses, nil
}

type summaryRow struct {
	ShiftID                string    `db:"shift_id"`
	StoreID                string    `db:"store_id"`
	TerminalID             string    `db:"terminal_id"`
	BusinessDate           string    `db:"business_date"`
	CashierName            string    `db:"cashier_name"`
	OpeningCashCents       int64     `db:"opening_cash_cents"`
	SalesByMethod          string    `db:"sales_by_method"`
	InvoiceCount           int       `db:"invoice_count"`
	CashSalesCents         int64     `db:"cash_sales_cents"`
	CashRefundsCents       int64     `db:"cash_refunds_cents"`
	CashExpensesCents      int64     `db:"cash_expenses_cents"`
	TotalExpensesCents     int64     `db:"total_expenses_cents"`
	TotalDiscountsCents    int64     `db:"total_discounts_cents"`
	TotalTaxCents          int64     `db:"total_tax_cents"`
	NetRevenueCents        int64     `db:"net_revenue_cents"`
	ExpectedCashCents      int64     `db:"expected_cash_cents"`
	ActualCashCountedCents int64     `db:"actual_cash_counted_cents"`
	DifferenceCents        int64     `db:"difference_cents"`
	Notes                  string    `db:"notes"`
	Signature              string    `db:"signature"`
	ClosedAt               time.Time `db:"closed_at"`
}

const summaryColumnList = `shift_id, store_id, terminal_id, business_date, cashier_name, opening_cash_cents,
	sales_by_method, invoice_count, cash_sales_cents, cash_refunds_cents,
	cash_expenses_cents, total_expenses_cents, total_discounts_cents, total_tax_cents,
	net_revenue_cents, expected_cash_cents, actual_cash_counted_cents, difference_cents,
	notes, signature, closed_at`

const summarySelect = `SELECT shift_id, store_id, terminal_id, business_date, cashier_name, opening_cash_cents,
	sales_by_method::text AS sales_by_method, invoice_count, cash_sales_cents, cash_refunds_cents,
	cash_expenses_cents, total_expenses_cents, total_discounts_cents, total_tax_cents,
	net_revenue_cents, expected_cash_cents, actual_cash_counted_cents, difference_cents,
	notes, signature, closed_at
	FROM dayend_summaries`

func (s *Store) GetDayEndSummary(ctx context.Context, shiftID string) (*domain.DayEndSummary, error) {
	var row summaryRow
	if err := s.db.GetContext(ctx, &row, summarySelect+` WHERE shift_id = $1`, shiftID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	summary, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

func (s *Store) ListDayEndSummaries(ctx context.Context, storeID string, from time.Time, to time.Time) ([]domain.DayEndSummary, error) {
	var rows []summaryRow
	err := s.db.SelectContext(ctx, &rows, summarySelect+`
		WHERE ($1 = '' OR store_id = $1) AND closed_at >= $2 AND closed_at < $3
		ORDER BY closed_at, shift_id
	`, storeID, from, to)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.DayEndSummary, 0, len(rows))
	for _, row := range rows {
		summary, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO audit_logs (id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES (:id, :store_id, :actor_username, :actor_role, :action, :entity_type, :entity_id, :detail, :created_at)
	`, entry)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	logs := make([]domain.AuditLog, 0, 64)
	err := s.db.SelectContext(ctx, &logs, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR store_id = $1) AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	for i := range logs {
		logs[i].CreatedAt = logs[i].CreatedAt.UTC()
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES (:username, :password, :role, :active, :created_at, now())
	`, user)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidTransaction
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	users := make([]domain.UserAccount, 0, 16)
	err := s.db.SelectContext(ctx, &users, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].CreatedAt = users[i].CreatedAt.UTC()
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func invoiceRowFrom(inv domain.Invoice) (invoiceRow, error) {
	splits := inv.PaymentSplits
	if splits == nil {
		splits = []domain.PaymentSplit{}
	}
	raw, err := json.Marshal(splits)
	if err != nil {
		return invoiceRow{}, err
	}
	return invoiceRow{
		ID:                 inv.ID,
		StoreID:            inv.StoreID,
		TerminalID:         inv.TerminalID,
		ShiftID:            inv.ShiftID,
		CashierID:          inv.CashierID,
		CustomerID:         inv.CustomerID,
		CreatedAt:          inv.CreatedAt,
		SubtotalCents:      inv.SubtotalCents,
		ItemDiscountCents:  inv.ItemDiscountCents,
		OrderDiscountCents: inv.OrderDiscountCents,
		TotalCents:         inv.TotalCents,
		TaxRatePercent:     inv.TaxRatePercent,
		TaxCents:           inv.TaxCents,
		PaymentMethod:      inv.PaymentMethod,
		PaymentReference:   inv.PaymentReference,
		PaymentSplits:      string(raw),
		TenderedCents:      inv.TenderedCents,
		BalanceCents:       inv.BalanceCents,
	}, nil
}

func (r invoiceRow) toDomain() (domain.Invoice, error) {
	inv := domain.Invoice{
		ID:                 r.ID,
		StoreID:            r.StoreID,
		TerminalID:         r.TerminalID,
		ShiftID:            r.ShiftID,
		CashierID:          r.CashierID,
		CustomerID:         r.CustomerID,
		CreatedAt:          r.CreatedAt.UTC(),
		SubtotalCents:      r.SubtotalCents,
		ItemDiscountCents:  r.ItemDiscountCents,
		OrderDiscountCents: r.OrderDiscountCents,
		TotalCents:         r.TotalCents,
		TaxRatePercent:     r.TaxRatePercent,
		TaxCents:           r.TaxCents,
		PaymentMethod:      r.PaymentMethod,
		PaymentReference:   r.PaymentReference,
		TenderedCents:      r.TenderedCents,
		BalanceCents:       r.BalanceCents,
	}
	if r.PaymentSplits != "" {
		var splits []domain.PaymentSplit
		if err := json.Unmarshal([]byte(r.PaymentSplits), &splits); err != nil {
			return domain.Invoice{}, fmt.Errorf("decode payment splits for %s: %w", r.ID, err)
		}
		if len(splits) > 0 {
			inv.PaymentSplits = splits
		}
	}
	return inv, nil
}

func lineRowFrom(invoiceID string, lineNo int, line domain.CartLine) lineRow {
	kind := string(line.Discount.Kind)
	if kind == "" {
		kind = string(domain.DiscountFixed)
	}
	return lineRow{
		InvoiceID:             invoiceID,
		LineNo:                lineNo,
		ID:                    line.ID,
		ProductID:             line.ProductID,
		Name:                  line.Name,
		UnitPriceCents:        line.UnitPriceCents,
		Quantity:              line.Quantity,
		DiscountKind:          kind,
		DiscountValue:         line.Discount.Value,
		IsReturn:              line.IsReturn,
		ReturnReason:          line.ReturnReason,
		OriginalInvoiceID:     line.OriginalInvoiceID,
		OriginalLineID:        line.OriginalLineID,
		OriginalPaymentMethod: line.OriginalPaymentMethod,
		ReturnableQty:         line.ReturnableQty,
	}
}

func (r lineRow) toDomain() domain.CartLine {
	return domain.CartLine{
		ID:                    r.ID,
		ProductID:             r.ProductID,
		Name:                  r.Name,
		UnitPriceCents:        r.UnitPriceCents,
		Quantity:              r.Quantity,
		Discount:              domain.Discount{Kind: domain.DiscountKind(r.DiscountKind), Value: r.DiscountValue},
		IsReturn:              r.IsReturn,
		ReturnReason:          r.ReturnReason,
		OriginalInvoiceID:     r.OriginalInvoiceID,
		OriginalLineID:        r.OriginalLineID,
		OriginalPaymentMethod: r.OriginalPaymentMethod,
		ReturnableQty:         r.ReturnableQty,
	}
}

func summaryRowFrom(summary domain.DayEndSummary) (summaryRow, error) {
	byMethod := summary.SalesByMethod
	if byMethod == nil {
		byMethod = map[string]int64{}
	}
	raw, err := json.Marshal(byMethod)
	if err != nil {
		return summaryRow{}, err
	}
	row := summaryRow{
		ShiftID:                summary.ShiftID,
		StoreID:                summary.StoreID,
		TerminalID:             summary.TerminalID,
		BusinessDate:           summary.Date,
		CashierName:            summary.CashierName,
		OpeningCashCents:       summary.OpeningCashCents,
		SalesByMethod:          string(raw),
		InvoiceCount:           summary.InvoiceCount,
		CashSalesCents:         summary.CashSalesCents,
		CashRefundsCents:       summary.CashRefundsCents,
		CashExpensesCents:      summary.CashExpensesCents,
		TotalExpensesCents:     summary.TotalExpensesCents,
		TotalDiscountsCents:    summary.TotalDiscountsCents,
		TotalTaxCents:          summary.TotalTaxCents,
		NetRevenueCents:        summary.NetRevenueCents,
		ExpectedCashCents:      summary.ExpectedCashCents,
		ActualCashCountedCents: summary.ActualCashCountedCents,
		DifferenceCents:        summary.DifferenceCents,
		Notes:                  summary.Notes,
		Signature:              summary.Signature,
	}
	if summary.ClosedAt != nil {
		row.ClosedAt = summary.ClosedAt.UTC()
	}
	return row, nil
}

func (r summaryRow) toDomain() (domain.DayEndSummary, error) {
	byMethod := map[string]int64{}
	if r.SalesByMethod != "" {
		if err := json.Unmarshal([]byte(r.SalesByMethod), &byMethod); err != nil {
			return domain.DayEndSummary{}, fmt.Errorf("decode sales by method for %s: %w", r.ShiftID, err)
		}
	}
	closedAt := r.ClosedAt.UTC()
	return domain.DayEndSummary{
		Date:                   r.BusinessDate,
		StoreID:                r.StoreID,
		TerminalID:             r.TerminalID,
		ShiftID:                r.ShiftID,
		CashierName:            r.CashierName,
		OpeningCashCents:       r.OpeningCashCents,
		SalesByMethod:          byMethod,
		InvoiceCount:           r.InvoiceCount,
		CashSalesCents:         r.CashSalesCents,
		CashRefundsCents:       r.CashRefundsCents,
		CashExpensesCents:      r.CashExpensesCents,
		TotalExpensesCents:     r.TotalExpensesCents,
		TotalDiscountsCents:    r.TotalDiscountsCents,
		TotalTaxCents:          r.TotalTaxCents,
		NetRevenueCents:        r.NetRevenueCents,
		ExpectedCashCents:      r.ExpectedCashCents,
		ActualCashCountedCents: r.ActualCashCountedCents,
		DifferenceCents:        r.DifferenceCents,
		Notes:                  r.Notes,
		Signature:              r.Signature,
		ClosedAt:               &closedAt,
	}, nil
}

func normalizeShift(shift domain.Shift) *domain.Shift {
	shift.OpenedAt = shift.OpenedAt.UTC()
	if shift.ClosedAt != nil {
		closedAt := shift.ClosedAt.UTC()
		shift.ClosedAt = &closedAt
	}
	return &shift
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
