package tier

import (
	"fmt"
	"math"
	"time"

	"kasirinaja/terminal/internal/domain"
)

const (
	LoyaltyBronze   = "bronze"
	LoyaltySilver   = "silver"
	LoyaltyGold     = "gold"
	LoyaltyPlatinum = "platinum"

	UrgencyExpired  = "expired"
	UrgencyCritical = "critical"
	UrgencyWarning  = "warning"
	UrgencyWatch    = "watch"
	UrgencyOK       = "ok"
)

// Presets bundles the three tables the store uses day to day.
type Presets struct {
	Loyalty          *Table[string]
	SupplierDiscount *Table[float64]
	ExpiryUrgency    *Table[string]
}

func DefaultLoyaltyEntries() []Entry[string] {
	return []Entry[string]{
		{Threshold: 0, Payload: LoyaltyBronze},
		{Threshold: 1_000_000, Payload: LoyaltySilver},
		{Threshold: 5_000_000, Payload: LoyaltyGold},
		{Threshold: 15_000_000, Payload: LoyaltyPlatinum},
	}
}

func DefaultSupplierDiscountEntries() []Entry[float64] {
	return []Entry[float64]{
		{Threshold: 0, Payload: 0},
		{Threshold: 24, Payload: 2.5},
		{Threshold: 48, Payload: 5},
		{Threshold: 144, Payload: 7.5},
		{Threshold: 500, Payload: 10},
	}
}

func DefaultExpiryUrgencyEntries() []Entry[string] {
	return []Entry[string]{
		{Threshold: math.Inf(-1), Payload: UrgencyExpired},
		{Threshold: 0, Payload: UrgencyCritical},
		{Threshold: 7, Payload: UrgencyWarning},
		{Threshold: 30, Payload: UrgencyWatch},
		{Threshold: 90, Payload: UrgencyOK},
	}
}

// NewPresets builds the preset tables, falling back to the defaults for any
// override slice that is nil.
func NewPresets(loyalty []Entry[string], supplier []Entry[float64], expiry []Entry[string]) (Presets, error) {
	if loyalty == nil {
		loyalty = DefaultLoyaltyEntries()
	}
	if supplier == nil {
		supplier = DefaultSupplierDiscountEntries()
	}
	if expiry == nil {
		expiry = DefaultExpiryUrgencyEntries()
	}

	loyaltyTable, err := New(loyalty...)
	if err != nil {
		return Presets{}, fmt.Errorf("loyalty tiers: %w", err)
	}
	supplierTable, err := New(supplier...)
	if err != nil {
		return Presets{}, fmt.Errorf("supplier discount tiers: %w", err)
	}
	for _, entry := range supplierTable.Entries() {
		if entry.Payload < 0 || entry.Payload > 100 {
			return Presets{}, fmt.Errorf("supplier discount tiers: percent %v out of range: %w", entry.Payload, domain.ErrInvalidConfiguration)
		}
	}
	expiryTable, err := New(expiry...)
	if err != nil {
		return Presets{}, fmt.Errorf("expiry urgency tiers: %w", err)
	}

	return Presets{
		Loyalty:          loyaltyTable,
		SupplierDiscount: supplierTable,
		ExpiryUrgency:    expiryTable,
	}, nil
}

func DefaultPresets() Presets {
	presets, err := NewPresets(nil, nil, nil)
	if err != nil {
		panic(err)
	}
	return presets
}

// DaysUntil counts whole calendar days from now to expiry in UTC.
// Negative results mean the date has passed.
func DaysUntil(expiry time.Time, now time.Time) int {
	e := time.Date(expiry.UTC().Year(), expiry.UTC().Month(), expiry.UTC().Day(), 0, 0, 0, 0, time.UTC)
	n := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
	return int(e.Sub(n).Hours() / 24)
}
