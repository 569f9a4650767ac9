package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"realty_go/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadConfig_DefaultsAndEnv(t *testing.T) {
	t.Setenv("REALTY_TREASURY_KEY", "secret-key")
	t.Setenv("REALTY_PORT", "9090")

	path := writeConfig(t, `
app:
  name: "RealtyGo"
market:
  assets:
    - token_id: "0.0.1"
      price: 10
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Ledger.TreasuryKey != "secret-key" {
		t.Errorf("expected treasury key from env, got %q", cfg.Ledger.TreasuryKey)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Ledger.Network != "testnet" {
		t.Errorf("defaults not applied: %+v", cfg.Storage)
	}
	if cfg.Market.TradeHistoryLimit != domain.HistoryWindow {
		t.Errorf("expected history limit %d, got %d", domain.HistoryWindow, cfg.Market.TradeHistoryLimit)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("expected ErrConfigNotFound, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"bad network", "ledger:\n  network: moon\n", "ledger.network"},
		{"bad treasury", "ledger:\n  treasury_id: abc\n", "ledger.treasury_id"},
		{"bad driver", "storage:\n  driver: mongo\n", "storage.driver"},
		{"postgres without host", "storage:\n  driver: postgres\n", "storage.postgres"},
		{"bad asset price", "market:\n  assets:\n    - token_id: \"0.0.1\"\n      price: 0\n", "market.assets[0].price"},
		{"bad asset token", "market:\n  assets:\n    - token_id: \"villa-1\"\n      price: 5\n", "market.assets[0].token_id"},
		{"missing asset token", "market:\n  assets:\n    - price: 5\n", "market.assets[0].token_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			var ce *domain.ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("expected ConfigError, got %v", err)
			}
			if ce.Field != tt.field {
				t.Errorf("expected field %s, got %s", tt.field, ce.Field)
			}
		})
	}
}
