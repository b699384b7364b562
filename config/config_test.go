package config

import (
	"os"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("PORT")
	os.Unsetenv("DB_PATH")
	os.Unsetenv("CURRENCY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.DBPath != "./data/clinic.db" {
		t.Errorf("expected default db path, got %s", cfg.DBPath)
	}
	if cfg.Currency != "USD" {
		t.Errorf("expected default currency USD, got %s", cfg.Currency)
	}
	if len(cfg.CORSOrigins) == 0 {
		t.Error("expected a default CORS origin")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	os.Setenv("PORT", "9999")
	os.Setenv("CURRENCY", "EUR")
	os.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	defer func() {
		os.Unsetenv("PORT")
		os.Unsetenv("CURRENCY")
		os.Unsetenv("CORS_ORIGINS")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "9999" {
		t.Errorf("expected port 9999, got %s", cfg.Port)
	}
	if cfg.Currency != "EUR" {
		t.Errorf("expected currency EUR, got %s", cfg.Currency)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Errorf("expected 2 CORS origins, got %v", cfg.CORSOrigins)
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
}
