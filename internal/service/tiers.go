package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/tier"
)

func (s *Service) CustomerLoyalty(ctx context.Context, customerID string) (domain.LoyaltyTierResponse, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.LoyaltyTierResponse{}, fmt.Errorf("customer_id is required: %w", domain.ErrInvalidInput)
	}
	spend, err := s.repo.CustomerSpend(ctx, customerID)
	if err != nil {
		return domain.LoyaltyTierResponse{}, err
	}
	return domain.LoyaltyTierResponse{
		CustomerID:      customerID,
		CumulativeCents: spend,
		Tier:            s.tiers.Loyalty.Lookup(float64(spend)),
	}, nil
}

// SupplierDiscountQuote prices a purchase order line with the bulk discount
// for its quantity.
func (s *Service) SupplierDiscountQuote(qty int, unitCostCents int64) (domain.SupplierDiscountQuote, error) {
	if qty < 1 || unitCostCents < 0 {
		return domain.SupplierDiscountQuote{}, fmt.Errorf("qty must be positive and unit cost not negative: %w", domain.ErrInvalidInput)
	}
	percent := s.tiers.SupplierDiscount.Lookup(float64(qty))
	gross := unitCostCents * int64(qty)
	discount := decimal.NewFromInt(gross).
		Mul(decimal.NewFromFloat(percent)).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()

	return domain.SupplierDiscountQuote{
		Quantity:        qty,
		UnitCostCents:   unitCostCents,
		DiscountPercent: percent,
		GrossCents:      gross,
		DiscountCents:   discount,
		NetCents:        gross - discount,
	}, nil
}

func (s *Service) ExpiryUrgency(expiryDate string) (domain.ExpiryUrgencyResponse, error) {
	expiry, err := time.Parse("2006-01-02", strings.TrimSpace(expiryDate))
	if err != nil {
		return domain.ExpiryUrgencyResponse{}, fmt.Errorf("date must be YYYY-MM-DD: %w", domain.ErrInvalidInput)
	}
	days := tier.DaysUntil(expiry, s.now())
	return domain.ExpiryUrgencyResponse{
		ExpiryDate:   expiry.Format("2006-01-02"),
		DaysToExpiry: days,
		Urgency:      s.tiers.ExpiryUrgency.Lookup(float64(days)),
	}, nil
}
