package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{
		"DEFAULT_PLATFORM_FEE_PERCENT",
		"AMOUNT_TOLERANCE_KOBO",
		"RESERVATION_STALE_MINUTES",
		"PAYMENT_GATEWAY_TIMEOUT_SECONDS",
		"SETTLEMENT_CURRENCY",
		"CORS_ALLOWED_ORIGINS",
		"PORT",
		"SERVER_PORT",
	} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DefaultPlatformFeePercent != 10 {
		t.Fatalf("expected default platform fee percent 10, got %d", cfg.DefaultPlatformFeePercent)
	}
	if cfg.AmountToleranceKobo != 0 {
		t.Fatalf("expected strict amount tolerance by default, got %d", cfg.AmountToleranceKobo)
	}
	if cfg.ReservationStaleAfter() != 15*time.Minute {
		t.Fatalf("expected 15m reservation staleness, got %s", cfg.ReservationStaleAfter())
	}
	if cfg.GatewayTimeout() != 30*time.Second {
		t.Fatalf("expected 30s gateway timeout, got %s", cfg.GatewayTimeout())
	}
	if cfg.SettlementCurrency != "NGN" {
		t.Fatalf("expected NGN settlement currency, got %q", cfg.SettlementCurrency)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("expected wildcard CORS origin, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfig_ClampsPlatformFeePercent(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "DEFAULT_PLATFORM_FEE_PERCENT", "150")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.DefaultPlatformFeePercent != 100 {
		t.Fatalf("expected platform fee percent capped at 100, got %d", cfg.DefaultPlatformFeePercent)
	}
}

func TestLoadConfig_GatewaySecretAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "PAYMENT_GATEWAY_SECRET_KEY")
	setEnvWithCleanup(t, "PAYSTACK_SECRET_KEY", " sk_alias ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PaymentGatewaySecretKey != "sk_alias" {
		t.Fatalf("expected secret key from alias env var, got %q", cfg.PaymentGatewaySecretKey)
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "7000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "7000" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_ReadsDotEnvFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "SETTLEMENT_CURRENCY")
	unsetEnvWithCleanup(t, "CORS_ALLOWED_ORIGINS")

	dir := t.TempDir()
	content := "SETTLEMENT_CURRENCY=ghs\nCORS_ALLOWED_ORIGINS=https://tickets.example.com, https://admin.example.com\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.SettlementCurrency != "GHS" {
		t.Fatalf("expected GHS from .env, got %q", cfg.SettlementCurrency)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://admin.example.com" {
		t.Fatalf("expected two trimmed origins, got %v", cfg.CORSAllowedOrigins)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
