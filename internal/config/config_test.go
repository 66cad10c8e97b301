package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadParsesCacheAndSeedSettings(t *testing.T) {
	t.Setenv("GRID_CACHE_TTL_SECONDS", "-4")
	t.Setenv("SEED_DEMO_BATCH", "true")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := Load()
	if cfg.GridCacheTTLSeconds != 30 {
		t.Fatalf("expected invalid TTL to fall back to 30, got %d", cfg.GridCacheTTLSeconds)
	}
	if !cfg.SeedDemoBatch || cfg.RedisDB != 3 || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestNewLoggerHonoursLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := Config{LogLevel: "warn", LogFormat: "json"}.NewLogger(&buf)

	logger.Info("dropped")
	logger.WithField("batch_id", "b1").Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info line written at warn level: %s", out)
	}
	if !strings.Contains(out, `"batch_id":"b1"`) {
		t.Fatalf("expected JSON fields, got %s", out)
	}

	text := Config{LogLevel: "nonsense", LogFormat: "text"}.NewLogger(&buf)
	if text.GetLevel() != logrus.InfoLevel {
		t.Fatalf("expected unknown level to fall back to info, got %s", text.GetLevel())
	}
	if _, ok := text.Formatter.(*logrus.TextFormatter); !ok {
		t.Fatalf("expected text formatter")
	}
}
