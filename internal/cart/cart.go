package cart

import (
	"fmt"
	"strings"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/pricing"
	"kasirinaja/terminal/internal/xid"
)

// Store owns the lines of one in-progress transaction. It is not safe for
// concurrent use; a terminal session serializes access to it.
type Store struct {
	lines         []domain.CartLine
	orderDiscount domain.Discount
}

func New() *Store {
	return &Store{orderDiscount: defaultDiscount()}
}

func defaultDiscount() domain.Discount {
	return domain.Discount{Kind: domain.DiscountFixed}
}

// AddLine merges into an existing sale line for the same product or appends
// a new line without discount.
func (s *Store) AddLine(product domain.Product, qty int) (domain.CartLine, error) {
	if qty < 1 {
		return domain.CartLine{}, fmt.Errorf("add %s qty=%d: %w", product.SKU, qty, domain.ErrInvalidQuantity)
	}
	if strings.TrimSpace(product.SKU) == "" || product.PriceCents < 0 {
		return domain.CartLine{}, domain.ErrInvalidInput
	}

	for i := range s.lines {
		if s.lines[i].IsReturn || s.lines[i].ProductID != product.SKU {
			continue
		}
		s.lines[i].Quantity += qty
		return s.lines[i], nil
	}

	line := domain.CartLine{
		ID:             xid.New("line"),
		ProductID:      product.SKU,
		Name:           product.Name,
		UnitPriceCents: product.PriceCents,
		Quantity:       qty,
		Discount:       defaultDiscount(),
	}
	s.lines = append(s.lines, line)
	return line, nil
}

// SetQuantity sets the operator-typed count of a line. The line keeps its
// sign, so a return line stays negative. Zero or less removes the line.
func (s *Store) SetQuantity(lineID string, qty int) error {
	idx, err := s.indexOf(lineID)
	if err != nil {
		return err
	}
	if qty <= 0 {
		s.lines = append(s.lines[:idx], s.lines[idx+1:]...)
		return nil
	}

	line := &s.lines[idx]
	if line.IsReturn {
		if line.ReturnableQty > 0 && qty > line.ReturnableQty {
			return fmt.Errorf("return line %s qty=%d above %d: %w", lineID, qty, line.ReturnableQty, domain.ErrInvalidQuantity)
		}
		line.Quantity = -qty
		return nil
	}
	line.Quantity = qty
	return nil
}

// AdjustQuantity moves the absolute count of a line by delta.
func (s *Store) AdjustQuantity(lineID string, delta int) error {
	idx, err := s.indexOf(lineID)
	if err != nil {
		return err
	}
	return s.SetQuantity(lineID, absInt(s.lines[idx].Quantity)+delta)
}

func (s *Store) RemoveLine(lineID string) error {
	idx, err := s.indexOf(lineID)
	if err != nil {
		return err
	}
	s.lines = append(s.lines[:idx], s.lines[idx+1:]...)
	return nil
}

// SetItemDiscount stores raw verbatim so the input can be redisplayed.
func (s *Store) SetItemDiscount(lineID string, kind domain.DiscountKind, raw string) error {
	if !kind.Valid() {
		return fmt.Errorf("discount kind %q: %w", kind, domain.ErrInvalidInput)
	}
	idx, err := s.indexOf(lineID)
	if err != nil {
		return err
	}
	s.lines[idx].Discount = domain.Discount{Kind: kind, Value: raw}
	return nil
}

func (s *Store) SetOrderDiscount(kind domain.DiscountKind, raw string) error {
	if !kind.Valid() {
		return fmt.Errorf("discount kind %q: %w", kind, domain.ErrInvalidInput)
	}
	s.orderDiscount = domain.Discount{Kind: kind, Value: raw}
	return nil
}

func (s *Store) Clear() {
	s.lines = nil
	s.orderDiscount = defaultDiscount()
}

// MergeReturnLines folds return lines into the cart. A line for an original
// invoice line already in the cart is summed, bounded by what may still be
// returned against it.
func (s *Store) MergeReturnLines(lines []domain.CartLine) error {
	merged := make([]domain.CartLine, len(s.lines))
	copy(merged, s.lines)

	for _, incoming := range lines {
		if !incoming.IsReturn || incoming.Quantity >= 0 {
			return fmt.Errorf("merge line %s: %w", incoming.ProductID, domain.ErrInvalidQuantity)
		}

		found := false
		for i := range merged {
			existing := &merged[i]
			if !existing.IsReturn || existing.OriginalInvoiceID != incoming.OriginalInvoiceID || existing.OriginalLineID != incoming.OriginalLineID {
				continue
			}
			qty := absInt(existing.Quantity) + absInt(incoming.Quantity)
			if existing.ReturnableQty > 0 && qty > existing.ReturnableQty {
				return fmt.Errorf("return of %s qty=%d above %d: %w", existing.ProductID, qty, existing.ReturnableQty, domain.ErrInvalidQuantity)
			}
			existing.Quantity = -qty
			existing.ReturnReason = incoming.ReturnReason
			found = true
			break
		}
		if found {
			continue
		}

		if incoming.ID == "" {
			incoming.ID = xid.New("line")
		}
		incoming.Discount = defaultDiscount()
		merged = append(merged, incoming)
	}

	s.lines = merged
	return nil
}

func (s *Store) Lines() []domain.CartLine {
	out := make([]domain.CartLine, len(s.lines))
	copy(out, s.lines)
	return out
}

func (s *Store) OrderDiscount() domain.Discount {
	return s.orderDiscount
}

func (s *Store) Len() int {
	return len(s.lines)
}

func (s *Store) HasReturns() bool {
	for _, line := range s.lines {
		if line.IsReturn {
			return true
		}
	}
	return false
}

func (s *Store) Totals() domain.CartTotals {
	return pricing.Compute(s.lines, s.orderDiscount)
}

func (s *Store) indexOf(lineID string) (int, error) {
	for i := range s.lines {
		if s.lines[i].ID == lineID {
			return i, nil
		}
	}
	return -1, fmt.Errorf("cart line %s: %w", lineID, domain.ErrNotFound)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
