package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"kasirinaja/terminal/internal/cache"
	"kasirinaja/terminal/internal/config"
	"kasirinaja/terminal/internal/events"
	"kasirinaja/terminal/internal/httpapi"
	"kasirinaja/terminal/internal/jobs"
	"kasirinaja/terminal/internal/ledgerclient"
	"kasirinaja/terminal/internal/logging"
	"kasirinaja/terminal/internal/service"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/store/memory"
	pgstore "kasirinaja/terminal/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.Setup(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger setup failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 4)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			log.Fatalf("postgres migration failed: %v", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info("repository: in-memory")
	}

	opts := service.Options{
		DefaultStoreID: cfg.StoreID,
		TaxRatePercent: cfg.TaxRatePercent,
		Tiers:          &cfg.Tiers,
		CacheTTL:       cfg.InvoiceCacheTTL,
	}

	if cfg.LedgerURL != "" {
		ledger, err := ledgerclient.New(cfg.LedgerURL, cfg.LedgerToken, 10*time.Second)
		if err != nil {
			log.Fatalf("ledger client: %v", err)
		}
		opts.Invoices = ledger
		log.Infow("invoice ledger: remote", "url", cfg.LedgerURL)
	} else {
		log.Info("invoice ledger: repository")
	}

	opts.InvoiceCache = cache.NoopInvoiceCache{}
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisInvoiceCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warnf("redis unavailable (%v), using noop cache", err)
		} else {
			opts.InvoiceCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("cache: redis")
		}
	} else {
		log.Info("cache: noop")
	}

	bus := events.NewBus()
	if err := bus.SubscribeSaleCommitted(func(e events.SaleCommitted) {
		zap.L().Debug("sale committed", zap.String("invoice", e.InvoiceID), zap.Int64("total_cents", e.TotalCents))
	}); err != nil {
		log.Fatalf("subscribe sale log: %v", err)
	}
	if cfg.RedisAddr != "" && cfg.RedisEventsChannel != "" {
		relay := events.NewRedisRelay(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisEventsChannel)
		if err := relay.Ping(ctx); err != nil {
			log.Warnf("redis unavailable (%v), sale events stay local", err)
			_ = relay.Close()
		} else if err := bus.SubscribeSaleCommitted(relay.Handle); err != nil {
			log.Warnf("subscribe sale relay: %v", err)
			_ = relay.Close()
		} else {
			closers = append(closers, relay.Close)
			log.Infow("sale events: redis", "channel", cfg.RedisEventsChannel)
		}
	}
	opts.Publisher = bus

	svc := service.New(repo, opts)
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, cfg.AccessTokenTTL, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	var stopJobs func() context.Context
	if cfg.ReportExportDir != "" {
		exporter := jobs.NewDayEndExporter(svc, cfg.StoreID, cfg.ReportExportDir)
		sched, err := jobs.Schedule(cfg.DayEndExportCron, exporter)
		if err != nil {
			log.Fatalf("day-end export: %v", err)
		}
		sched.Start()
		stopJobs = sched.Stop
		log.Infow("day-end export scheduled", "cron", cfg.DayEndExportCron, "dir", cfg.ReportExportDir)
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Infof("POS terminal listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warnf("shutdown error: %v", err)
	}
	if stopJobs != nil {
		<-stopJobs().Done()
	}
	bus.Wait()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Warnf("close error: %v", err)
		}
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	// Reject all-same-digit PINs.
	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	// Reject ascending or descending sequential PINs (e.g. 123456, 987654).
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
