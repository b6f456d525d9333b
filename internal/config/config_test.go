package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/tier"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("INVOICE_CACHE_TTL_SECONDS", "60")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "-5")
	t.Setenv("TAX_RATE_PERCENT", "11")
	t.Setenv("LEDGER_URL", "https://ledger.example.test/api/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":9090" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	if cfg.InvoiceCacheTTL != time.Minute {
		t.Fatalf("expected 1m cache ttl, got %s", cfg.InvoiceCacheTTL)
	}
	if cfg.AccessTokenTTL != 480*time.Minute {
		t.Fatalf("expected fallback token ttl, got %s", cfg.AccessTokenTTL)
	}
	if cfg.TaxRatePercent != 11 {
		t.Fatalf("expected tax 11, got %v", cfg.TaxRatePercent)
	}
	if cfg.LedgerURL != "https://ledger.example.test/api" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.LedgerURL)
	}
	if cfg.Tiers.Loyalty.Lookup(0) != tier.LoyaltyBronze {
		t.Fatalf("expected default tiers without CONFIG_FILE")
	}
}

func TestLoadRejectsTaxRateOutOfRange(t *testing.T) {
	t.Setenv("TAX_RATE_PERCENT", "150")

	if _, err := Load(); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestLoadTierOverridesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	body := `tiers:
  supplier_discount:
    - threshold: 0
      payload: 0
    - threshold: 10
      payload: "3"
    - threshold: 100
      payload: 12.5
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Tiers.SupplierDiscount.Lookup(50); got != 3 {
		t.Fatalf("expected 3%% at qty 50, got %v", got)
	}
	if got := cfg.Tiers.SupplierDiscount.Lookup(100); got != 12.5 {
		t.Fatalf("expected 12.5%% at qty 100, got %v", got)
	}
	if got := cfg.Tiers.Loyalty.Lookup(5_000_000); got != tier.LoyaltyGold {
		t.Fatalf("expected default loyalty table kept, got %q", got)
	}
}

func TestLoadTierOverridesRejectUnsortedThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	body := `tiers:
  loyalty:
    - threshold: 100
      payload: silver
    - threshold: 0
      payload: bronze
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}
