package util

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLoggerLevelFromConfig(t *testing.T) {
	logger, err := NewLogger("debug")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug logger should enable debug output")
	}

	logger, err = NewLogger("warn")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("warn logger should suppress info output")
	}
}

func TestLoggerUnknownLevelFallsBackToInfo(t *testing.T) {
	logger, err := NewLogger("shouting")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("unknown level should fall back to info")
	}
	if logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("fallback level should not enable debug")
	}
}

func TestLoggerWithFileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "node.log")

	logger, err := NewLoggerWithFile(path, "info")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("started")
	if err := logger.Sync(); err != nil {
		// Stdout sync can fail on some platforms; the file side is what
		// this test asserts on.
		t.Logf("sync: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file should contain the logged entry")
	}
}
