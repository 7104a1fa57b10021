package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("TOKEN_TTL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.DatabaseURL != "sqlite::memory:" {
		t.Fatalf("DatabaseURL = %q, want %q", cfg.DatabaseURL, "sqlite::memory:")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.TokenTTL != 168*time.Hour {
		t.Fatalf("TokenTTL = %v, want %v", cfg.TokenTTL, 168*time.Hour)
	}
}

func TestLoad_RequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error for missing JWT_SECRET")
	}
}

func TestLoad_RejectsInvalidTokenTTL(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("TOKEN_TTL", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error for invalid TOKEN_TTL")
	}
}
