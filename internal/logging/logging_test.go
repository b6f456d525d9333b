package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func TestSetupWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "terminal.log")

	logger, err := Setup("debug", path)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	zap.L().Debug("shift opened", zap.String("terminal", "T1"))
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(raw), `"msg":"shift opened"`) || !strings.Contains(string(raw), `"terminal":"T1"`) {
		t.Fatalf("expected json entry in log file, got %s", raw)
	}
}

func TestSetupFallsBackToInfoOnUnknownLevel(t *testing.T) {
	logger, err := Setup("chatty", "")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	if logger.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("expected debug disabled at fallback level")
	}
	if !logger.Core().Enabled(zap.InfoLevel) {
		t.Fatalf("expected info enabled at fallback level")
	}
}
