package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "accountd.log")
	logger, err := NewLogger(path, "info")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Sugar().Infow("daemon_started", "addr", ":8080")
	logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "daemon_started") {
		t.Errorf("log file missing record: %q", data)
	}
}

func TestNewLoggerConsoleOnly(t *testing.T) {
	logger, err := NewLogger("", "debug")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("ok")
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("", "loud"); err == nil {
		t.Error("unknown level accepted")
	}
}
