package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/tier"
)

type Config struct {
	Port               string
	AllowedOrigin      string
	DatabaseURL        string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisEventsChannel string
	StoreID            string
	InvoiceCacheTTL    time.Duration
	AuthSecret         string
	AccessTokenTTL     time.Duration
	ManagerPIN         string
	TaxRatePercent     float64
	LedgerURL          string
	LedgerToken        string
	ReportExportDir    string
	DayEndExportCron   string
	LogLevel           string
	LogFile            string
	Tiers              tier.Presets
}

// Load reads configuration from the environment, with tier table overrides
// taken from the YAML file named by CONFIG_FILE when set.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_EVENTS_CHANNEL", "kasirinaja:sales")
	v.SetDefault("DEFAULT_STORE_ID", "main-store")
	v.SetDefault("INVOICE_CACHE_TTL_SECONDS", 300)
	v.SetDefault("AUTH_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("MANAGER_PIN", "")
	v.SetDefault("TAX_RATE_PERCENT", 0)
	v.SetDefault("LEDGER_URL", "")
	v.SetDefault("LEDGER_TOKEN", "")
	v.SetDefault("REPORT_EXPORT_DIR", "")
	v.SetDefault("DAYEND_EXPORT_CRON", "0 5 0 * * *")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FILE", "")
	v.SetDefault("CONFIG_FILE", "")

	cacheTTL := v.GetInt("INVOICE_CACHE_TTL_SECONDS")
	if cacheTTL < 1 {
		cacheTTL = 300
	}
	tokenTTL := v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	if tokenTTL < 1 {
		tokenTTL = 480
	}
	taxRate := v.GetFloat64("TAX_RATE_PERCENT")
	if taxRate < 0 || taxRate >= 100 {
		return Config{}, fmt.Errorf("TAX_RATE_PERCENT %v out of range: %w", taxRate, domain.ErrInvalidConfiguration)
	}

	cfg := Config{
		Port:               v.GetString("PORT"),
		AllowedOrigin:      v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisPassword:      v.GetString("REDIS_PASSWORD"),
		RedisDB:            v.GetInt("REDIS_DB"),
		RedisEventsChannel: v.GetString("REDIS_EVENTS_CHANNEL"),
		StoreID:            v.GetString("DEFAULT_STORE_ID"),
		InvoiceCacheTTL:    time.Duration(cacheTTL) * time.Second,
		AuthSecret:         strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTL:     time.Duration(tokenTTL) * time.Minute,
		ManagerPIN:         strings.TrimSpace(v.GetString("MANAGER_PIN")),
		TaxRatePercent:     taxRate,
		LedgerURL:          strings.TrimRight(strings.TrimSpace(v.GetString("LEDGER_URL")), "/"),
		LedgerToken:        v.GetString("LEDGER_TOKEN"),
		ReportExportDir:    strings.TrimSpace(v.GetString("REPORT_EXPORT_DIR")),
		DayEndExportCron:   v.GetString("DAYEND_EXPORT_CRON"),
		LogLevel:           strings.ToLower(v.GetString("LOG_LEVEL")),
		LogFile:            strings.TrimSpace(v.GetString("LOG_FILE")),
	}

	presets, err := loadTiers(strings.TrimSpace(v.GetString("CONFIG_FILE")))
	if err != nil {
		return Config{}, err
	}
	cfg.Tiers = presets

	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// loadTiers reads the tiers section of a YAML file. Tables absent from the
// file keep their defaults.
func loadTiers(path string) (tier.Presets, error) {
	if path == "" {
		return tier.DefaultPresets(), nil
	}

	file := viper.New()
	file.SetConfigFile(path)
	if err := file.ReadInConfig(); err != nil {
		return tier.Presets{}, fmt.Errorf("read %s: %w: %w", path, domain.ErrInvalidConfiguration, err)
	}

	loyalty, err := entries(file.Get("tiers.loyalty"), cast.ToStringE)
	if err != nil {
		return tier.Presets{}, fmt.Errorf("tiers.loyalty: %w", err)
	}
	supplier, err := entries(file.Get("tiers.supplier_discount"), cast.ToFloat64E)
	if err != nil {
		return tier.Presets{}, fmt.Errorf("tiers.supplier_discount: %w", err)
	}
	expiry, err := entries(file.Get("tiers.expiry_urgency"), cast.ToStringE)
	if err != nil {
		return tier.Presets{}, fmt.Errorf("tiers.expiry_urgency: %w", err)
	}

	return tier.NewPresets(loyalty, supplier, expiry)
}

// entries converts a loosely typed list of {threshold, payload} maps. A nil
// raw value yields nil so the caller falls back to defaults.
func entries[T any](raw any, payload func(any) (T, error)) ([]tier.Entry[T], error) {
	if raw == nil {
		return nil, nil
	}
	items, err := cast.ToSliceE(raw)
	if err != nil {
		return nil, fmt.Errorf("expected a list: %w", domain.ErrInvalidConfiguration)
	}

	out := make([]tier.Entry[T], 0, len(items))
	for i, item := range items {
		fields, err := cast.ToStringMapE(item)
		if err != nil {
			return nil, fmt.Errorf("entry %d is not a map: %w", i, domain.ErrInvalidConfiguration)
		}
		threshold, err := cast.ToFloat64E(fields["threshold"])
		if err != nil {
			return nil, fmt.Errorf("entry %d threshold: %w", i, domain.ErrInvalidConfiguration)
		}
		value, err := payload(fields["payload"])
		if err != nil {
			return nil, fmt.Errorf("entry %d payload: %w", i, domain.ErrInvalidConfiguration)
		}
		out = append(out, tier.Entry[T]{Threshold: threshold, Payload: value})
	}
	return out, nil
}
