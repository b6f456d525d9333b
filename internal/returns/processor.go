package returns

import (
	"context"
	"fmt"
	"strings"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/xid"
)

type State string

const (
	StateIdle          State = "idle"
	StateInvoiceLoaded State = "invoice_loaded"
	StateItemsSelected State = "items_selected"
	StateMerged        State = "merged"
)

type InvoiceLookup interface {
	GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error)
}

// ReturnedQuantities reports how much of each original invoice line has
// already been taken back by earlier committed invoices.
type ReturnedQuantities interface {
	ReturnedQuantities(ctx context.Context, invoiceID string) (map[string]int, error)
}

type LineMerger interface {
	MergeReturnLines(lines []domain.CartLine) error
}

// Processor walks one return through Idle → InvoiceLoaded → ItemsSelected →
// Merged and back to Idle. The original invoice is never modified.
type Processor struct {
	lookup     InvoiceLookup
	ledger     ReturnedQuantities
	state      State
	invoice    *domain.Invoice
	candidates []domain.ReturnCandidate
}

func NewProcessor(lookup InvoiceLookup, ledger ReturnedQuantities) *Processor {
	return &Processor{lookup: lookup, ledger: ledger, state: StateIdle}
}

func (p *Processor) State() State {
	return p.state
}

func (p *Processor) Invoice() (domain.Invoice, bool) {
	if p.invoice == nil {
		return domain.Invoice{}, false
	}
	return p.invoice.Clone(), true
}

func (p *Processor) Candidates() []domain.ReturnCandidate {
	out := make([]domain.ReturnCandidate, len(p.candidates))
	copy(out, p.candidates)
	return out
}

func (p *Processor) View() domain.ReturnView {
	view := domain.ReturnView{State: string(p.state), Candidates: p.Candidates()}
	if p.invoice != nil {
		view.InvoiceID = p.invoice.ID
	}
	return view
}

// LoadInvoice replaces any return in progress with one candidate per sale
// line of the invoice.
func (p *Processor) LoadInvoice(ctx context.Context, invoiceID string) error {
	invoiceID = strings.TrimSpace(invoiceID)
	if invoiceID == "" {
		return fmt.Errorf("invoice id required: %w", domain.ErrInvalidInput)
	}

	invoice, err := p.lookup.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	if invoice == nil {
		return fmt.Errorf("invoice %s: %w", invoiceID, domain.ErrNotFound)
	}

	returned := map[string]int{}
	if p.ledger != nil {
		returned, err = p.ledger.ReturnedQuantities(ctx, invoice.ID)
		if err != nil {
			return err
		}
	}

	candidates := make([]domain.ReturnCandidate, 0, len(invoice.Lines))
	for _, line := range invoice.Lines {
		if line.IsReturn || line.Quantity <= 0 {
			continue
		}
		candidates = append(candidates, domain.ReturnCandidate{
			LineID:           line.ID,
			ProductID:        line.ProductID,
			Name:             line.Name,
			UnitPriceCents:   line.UnitPriceCents,
			OriginalQuantity: line.Quantity,
			AlreadyReturned:  returned[line.ID],
		})
	}

	frozen := invoice.Clone()
	p.invoice = &frozen
	p.candidates = candidates
	p.state = StateInvoiceLoaded
	return nil
}

func (p *Processor) SetReturnQuantity(lineID string, qty int) error {
	idx, err := p.candidate(lineID)
	if err != nil {
		return err
	}
	c := &p.candidates[idx]
	if qty < 0 || qty > c.OriginalQuantity || qty > c.MaxReturnable() {
		return fmt.Errorf("line %s qty=%d (purchased %d, returned %d): %w",
			lineID, qty, c.OriginalQuantity, c.AlreadyReturned, domain.ErrInvalidQuantity)
	}
	c.ReturnQuantity = qty
	p.refreshState()
	return nil
}

func (p *Processor) SetReturnReason(lineID string, reason string) error {
	idx, err := p.candidate(lineID)
	if err != nil {
		return err
	}
	p.candidates[idx].Reason = strings.TrimSpace(reason)
	return nil
}

// Commit turns the selected candidates into negative cart lines and hands
// them to target. On any error the processor keeps its selection.
func (p *Processor) Commit(target LineMerger) error {
	if p.invoice == nil {
		return fmt.Errorf("no invoice loaded: %w", domain.ErrInvalidState)
	}

	lines := make([]domain.CartLine, 0, len(p.candidates))
	for _, c := range p.candidates {
		if c.ReturnQuantity <= 0 {
			continue
		}
		if c.Reason == "" {
			return fmt.Errorf("line %s: %w", c.LineID, domain.ErrReasonRequired)
		}
		lines = append(lines, domain.CartLine{
			ID:                    xid.New("line"),
			ProductID:             c.ProductID,
			Name:                  c.Name,
			UnitPriceCents:        c.UnitPriceCents,
			Quantity:              -c.ReturnQuantity,
			Discount:              domain.Discount{Kind: domain.DiscountFixed},
			IsReturn:              true,
			ReturnReason:          c.Reason,
			OriginalInvoiceID:     p.invoice.ID,
			OriginalLineID:        c.LineID,
			OriginalPaymentMethod: refundMethod(*p.invoice),
			ReturnableQty:         c.MaxReturnable(),
		})
	}
	if len(lines) == 0 {
		return domain.ErrNothingSelected
	}

	if err := target.MergeReturnLines(lines); err != nil {
		return err
	}
	p.state = StateMerged
	p.Reset()
	return nil
}

// Apply runs a whole return request in one step.
func (p *Processor) Apply(ctx context.Context, req domain.ReturnRequest, target LineMerger) error {
	if err := p.LoadInvoice(ctx, req.OriginalInvoiceID); err != nil {
		return err
	}
	for _, sel := range req.Selections {
		if err := p.SetReturnQuantity(sel.LineID, sel.ReturnQuantity); err != nil {
			return err
		}
		if err := p.SetReturnReason(sel.LineID, sel.Reason); err != nil {
			return err
		}
	}
	return p.Commit(target)
}

func (p *Processor) Reset() {
	p.invoice = nil
	p.candidates = nil
	p.state = StateIdle
}

func (p *Processor) candidate(lineID string) (int, error) {
	if p.invoice == nil {
		return -1, fmt.Errorf("no invoice loaded: %w", domain.ErrInvalidState)
	}
	for i := range p.candidates {
		if p.candidates[i].LineID == lineID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("invoice line %s: %w", lineID, domain.ErrNotFound)
}

func (p *Processor) refreshState() {
	for _, c := range p.candidates {
		if c.ReturnQuantity > 0 {
			p.state = StateItemsSelected
			return
		}
	}
	p.state = StateInvoiceLoaded
}

// refundMethod picks the tender a return is paid back through. Split
// invoices refund through their largest part.
func refundMethod(inv domain.Invoice) string {
	if inv.PaymentMethod != domain.PaymentSplitMethod || len(inv.PaymentSplits) == 0 {
		return inv.PaymentMethod
	}
	best := inv.PaymentSplits[0]
	for _, split := range inv.PaymentSplits[1:] {
		if split.AmountCents > best.AmountCents {
			best = split
		}
	}
	return best.Method
}
