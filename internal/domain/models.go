package domain

import "time"

type Product struct {
	SKU        string `db:"sku" json:"sku"`
	Name       string `db:"name" json:"name"`
	Category   string `db:"category" json:"category"`
	PriceCents int64  `db:"price_cents" json:"price_cents"`
	Active     bool   `db:"active" json:"active"`
}

type DiscountKind string

const (
	DiscountFixed      DiscountKind = "fixed"
	DiscountPercentage DiscountKind = "percentage"
)

func (k DiscountKind) Valid() bool {
	return k == DiscountFixed || k == DiscountPercentage
}

// Discount keeps the operator's raw text; the amount is always derived.
type Discount struct {
	Kind  DiscountKind `json:"kind"`
	Value string       `json:"value"`
}

type CartLine struct {
	ID             string   `json:"id"`
	ProductID      string   `json:"product_id"`
	Name           string   `json:"name"`
	UnitPriceCents int64    `json:"unit_price_cents"`
	Quantity       int      `json:"quantity"`
	Discount       Discount `json:"discount"`
	IsReturn       bool     `json:"is_return"`

	ReturnReason          string `json:"return_reason,omitempty"`
	OriginalInvoiceID     string `json:"original_invoice_id,omitempty"`
	OriginalLineID        string `json:"original_line_id,omitempty"`
	OriginalPaymentMethod string `json:"original_payment_method,omitempty"`
	ReturnableQty         int    `json:"returnable_qty,omitempty"`
}

func (l CartLine) SubtotalCents() int64 {
	return l.UnitPriceCents * int64(l.Quantity)
}

type CartTotals struct {
	SubtotalCents      int64 `json:"subtotal_cents"`
	ItemDiscountCents  int64 `json:"item_discount_cents"`
	OrderDiscountCents int64 `json:"order_discount_cents"`
	TotalCents         int64 `json:"total_cents"`
}

type CartView struct {
	TerminalID    string     `json:"terminal_id"`
	Lines         []CartLine `json:"lines"`
	OrderDiscount Discount   `json:"order_discount"`
	Totals        CartTotals `json:"totals"`
}

type PaymentSplit struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

type Invoice struct {
	ID                 string         `json:"id"`
	StoreID            string         `json:"store_id"`
	TerminalID         string         `json:"terminal_id"`
	ShiftID            string         `json:"shift_id,omitempty"`
	CashierID          string         `json:"cashier_id"`
	CustomerID         string         `json:"customer_id,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	Lines              []CartLine     `json:"lines"`
	SubtotalCents      int64          `json:"subtotal_cents"`
	ItemDiscountCents  int64          `json:"item_discount_cents"`
	OrderDiscountCents int64          `json:"order_discount_cents"`
	TotalCents         int64          `json:"total_cents"`
	TaxRatePercent     float64        `json:"tax_rate_percent"`
	TaxCents           int64          `json:"tax_cents"`
	PaymentMethod      string         `json:"payment_method"`
	PaymentReference   string         `json:"payment_reference,omitempty"`
	PaymentSplits      []PaymentSplit `json:"payment_splits,omitempty"`
	TenderedCents      int64          `json:"tendered_cents"`
	BalanceCents       int64          `json:"balance_cents"`
}

func (inv Invoice) DiscountCents() int64 {
	return inv.ItemDiscountCents + inv.OrderDiscountCents
}

// Clone returns a copy that shares no slices with inv.
func (inv Invoice) Clone() Invoice {
	dup := inv
	dup.Lines = make([]CartLine, len(inv.Lines))
	copy(dup.Lines, inv.Lines)
	if inv.PaymentSplits != nil {
		dup.PaymentSplits = make([]PaymentSplit, len(inv.PaymentSplits))
		copy(dup.PaymentSplits, inv.PaymentSplits)
	}
	return dup
}

type ReturnSelection struct {
	LineID         string `json:"line_id" validate:"required"`
	ReturnQuantity int    `json:"return_quantity" validate:"gte=0"`
	Reason         string `json:"reason"`
}

type ReturnRequest struct {
	OriginalInvoiceID string            `json:"original_invoice_id" validate:"required"`
	Selections        []ReturnSelection `json:"selections" validate:"dive"`
}

type ReturnCandidate struct {
	LineID           string `json:"line_id"`
	ProductID        string `json:"product_id"`
	Name             string `json:"name"`
	UnitPriceCents   int64  `json:"unit_price_cents"`
	OriginalQuantity int    `json:"original_quantity"`
	AlreadyReturned  int    `json:"already_returned"`
	ReturnQuantity   int    `json:"return_quantity"`
	Reason           string `json:"reason"`
}

func (c ReturnCandidate) MaxReturnable() int {
	max := c.OriginalQuantity - c.AlreadyReturned
	if max < 0 {
		return 0
	}
	return max
}

type ReturnView struct {
	State      string            `json:"state"`
	InvoiceID  string            `json:"invoice_id,omitempty"`
	Candidates []ReturnCandidate `json:"candidates"`
}

type Expense struct {
	ID            string    `db:"id" json:"id"`
	StoreID       string    `db:"store_id" json:"store_id"`
	ShiftID       string    `db:"shift_id" json:"shift_id,omitempty"`
	Category      string    `db:"category" json:"category"`
	Description   string    `db:"description" json:"description"`
	AmountCents   int64     `db:"amount_cents" json:"amount_cents"`
	PaymentMethod string    `db:"payment_method" json:"payment_method"`
	RecordedBy    string    `db:"recorded_by" json:"recorded_by"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

type DayEndSummary struct {
	Date                   string           `json:"date"`
	StoreID                string           `json:"store_id"`
	TerminalID             string           `json:"terminal_id"`
	ShiftID                string           `json:"shift_id"`
	CashierName            string           `json:"cashier_name"`
	OpeningCashCents       int64            `json:"opening_cash_cents"`
	SalesByMethod          map[string]int64 `json:"sales_by_method"`
	InvoiceCount           int              `json:"invoice_count"`
	CashSalesCents         int64            `json:"cash_sales_cents"`
	CashRefundsCents       int64            `json:"cash_refunds_cents"`
	CashExpensesCents      int64            `json:"cash_expenses_cents"`
	TotalExpensesCents     int64            `json:"total_expenses_cents"`
	TotalDiscountsCents    int64            `json:"total_discounts_cents"`
	TotalTaxCents          int64            `json:"total_tax_cents"`
	NetRevenueCents        int64            `json:"net_revenue_cents"`
	ExpectedCashCents      int64            `json:"expected_cash_cents"`
	ActualCashCountedCents int64            `json:"actual_cash_counted_cents"`
	DifferenceCents        int64            `json:"difference_cents"`
	Notes                  string           `json:"notes"`
	Signature              string           `json:"signature"`
	ClosedAt               *time.Time       `json:"closed_at,omitempty"`
}

func (s DayEndSummary) Balanced() bool {
	return s.DifferenceCents == 0
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type AddLineRequest struct {
	SKU string `json:"sku" validate:"required"`
	Qty int    `json:"qty" validate:"gte=0"`
}

type SetQuantityRequest struct {
	Qty   *int `json:"qty,omitempty"`
	Delta *int `json:"delta,omitempty"`
}

type DiscountRequest struct {
	Kind  DiscountKind `json:"kind" validate:"required,oneof=fixed percentage"`
	Value string       `json:"value"`
}

type LoadInvoiceRequest struct {
	InvoiceID string `json:"invoice_id" validate:"required"`
}

type ReturnLineRequest struct {
	Qty    *int    `json:"qty,omitempty" validate:"omitempty,gte=0"`
	Reason *string `json:"reason,omitempty"`
}

type ReturnCommitRequest struct {
	ManagerPIN string `json:"manager_pin" validate:"required"`
}

type CheckoutRequest struct {
	StoreID          string         `json:"store_id"`
	PaymentMethod    string         `json:"payment_method" validate:"omitempty,oneof=cash card qris ewallet split"`
	TenderedCents    int64          `json:"tendered_cents" validate:"gte=0"`
	PaymentReference string         `json:"payment_reference,omitempty"`
	PaymentSplits    []PaymentSplit `json:"payment_splits,omitempty"`
	CustomerID       string         `json:"customer_id,omitempty"`
}

type CheckoutResponse struct {
	Invoice Invoice `json:"invoice"`
}

type Shift struct {
	ID                string     `db:"id" json:"id"`
	StoreID           string     `db:"store_id" json:"store_id"`
	TerminalID        string     `db:"terminal_id" json:"terminal_id"`
	CashierName       string     `db:"cashier_name" json:"cashier_name"`
	OpeningFloatCents int64      `db:"opening_float_cents" json:"opening_float_cents"`
	ClosingCashCents  int64      `db:"closing_cash_cents" json:"closing_cash_cents,omitempty"`
	Status            string     `db:"status" json:"status"`
	OpenedAt          time.Time  `db:"opened_at" json:"opened_at"`
	ClosedAt          *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

type ShiftOpenRequest struct {
	StoreID           string `json:"store_id"`
	TerminalID        string `json:"terminal_id" validate:"required"`
	CashierName       string `json:"cashier_name" validate:"required"`
	OpeningFloatCents int64  `json:"opening_float_cents" validate:"gte=0"`
}

type ShiftCloseRequest struct {
	StoreID                string `json:"store_id"`
	TerminalID             string `json:"terminal_id" validate:"required"`
	ActualCashCountedCents int64  `json:"actual_cash_counted_cents" validate:"gte=0"`
	Notes                  string `json:"notes"`
	Signature              string `json:"signature" validate:"required"`
}

type ShiftResponse struct {
	Shift Shift `json:"shift"`
}

type ShiftCloseResponse struct {
	Shift   Shift         `json:"shift"`
	Summary DayEndSummary `json:"summary"`
}

type ExpenseCreateRequest struct {
	StoreID       string `json:"store_id"`
	TerminalID    string `json:"terminal_id"`
	Category      string `json:"category" validate:"required"`
	Description   string `json:"description"`
	AmountCents   int64  `json:"amount_cents" validate:"gt=0"`
	PaymentMethod string `json:"payment_method" validate:"omitempty,oneof=cash card qris ewallet transfer"`
}

type LoyaltyTierResponse struct {
	CustomerID      string `json:"customer_id"`
	CumulativeCents int64  `json:"cumulative_spend_cents"`
	Tier            string `json:"tier"`
}

type SupplierDiscountQuote struct {
	Quantity        int     `json:"quantity"`
	UnitCostCents   int64   `json:"unit_cost_cents"`
	DiscountPercent float64 `json:"discount_percent"`
	GrossCents      int64   `json:"gross_cents"`
	DiscountCents   int64   `json:"discount_cents"`
	NetCents        int64   `json:"net_cents"`
}

type ExpiryUrgencyResponse struct {
	ExpiryDate   string `json:"expiry_date"`
	DaysToExpiry int    `json:"days_to_expiry"`
	Urgency      string `json:"urgency"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string    `db:"username"`
	Password  string    `db:"password"`
	Role      string    `db:"role"`
	Active    bool      `db:"active"`
	CreatedAt time.Time `db:"created_at"`
}

type AuditLog struct {
	ID            string    `db:"id" json:"id"`
	StoreID       string    `db:"store_id" json:"store_id"`
	ActorUsername string    `db:"actor_username" json:"actor_username"`
	ActorRole     string    `db:"actor_role" json:"actor_role"`
	Action        string    `db:"action" json:"action"`
	EntityType    string    `db:"entity_type" json:"entity_type"`
	EntityID      string    `db:"entity_id" json:"entity_id"`
	Detail        string    `db:"detail" json:"detail"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

const (
	PaymentCash        = "cash"
	PaymentCard        = "card"
	PaymentQRIS        = "qris"
	PaymentEWallet     = "ewallet"
	PaymentSplitMethod = "split"
)

const (
	ShiftStatusOpen   = "open"
	ShiftStatusClosed = "closed"
)
