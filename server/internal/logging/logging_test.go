package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"learnlm/server/internal/config"
)

func TestNewWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learnlm.log")
	logger, err := New(config.LoggingConfig{Level: "warn", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("visible")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"visible"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	if _, err := New(config.LoggingConfig{Level: "loud"}); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := New(config.LoggingConfig{Level: "info", Format: "xml"}); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
