package infra

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"realty_go/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// SeedAsset is an asset whose reference price is known at startup.
type SeedAsset struct {
	TokenID string  `yaml:"token_id"`
	Price   float64 `yaml:"price"`
}

// Config holds every setting of the marketplace backend.
// Secrets are overridden from the environment after the file is loaded.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Port           int      `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`

	Ledger struct {
		Network         string `yaml:"network"`
		TreasuryID      string `yaml:"treasury_id"`
		TreasuryKey     string `yaml:"treasury_key"`
		RegistryTopicID string `yaml:"registry_topic_id"`
		USDCTokenID     string `yaml:"usdc_token_id"`
		MirrorURL       string `yaml:"mirror_url"`
	} `yaml:"ledger"`

	Storage struct {
		Driver     string `yaml:"driver"`
		SQLitePath string `yaml:"sqlite_path"`
		Postgres   struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			Database string `yaml:"database"`
			MaxConns int32  `yaml:"max_conns"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	IPFS struct {
		PinataURL  string `yaml:"pinata_url"`
		JWT        string `yaml:"jwt"`
		GatewayURL string `yaml:"gateway_url"`
	} `yaml:"ipfs"`

	ExchangeRate struct {
		URL             string `yaml:"url"`
		PollIntervalSec int    `yaml:"poll_interval_sec"`
	} `yaml:"exchange_rate"`

	Market struct {
		TradeHistoryLimit int         `yaml:"trade_history_limit"`
		Assets            []SeedAsset `yaml:"assets"`
	} `yaml:"market"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads .env (if present), then the YAML file at path, then environment overrides.
func LoadConfig(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, domain.ErrConfigNotFound)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Ledger.Network == "" {
		c.Ledger.Network = "testnet"
	}
	if c.Ledger.MirrorURL == "" {
		c.Ledger.MirrorURL = "https://testnet.mirrornode.hedera.com"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.IPFS.GatewayURL == "" {
		c.IPFS.GatewayURL = "https://gateway.pinata.cloud/ipfs"
	}
	if c.Market.TradeHistoryLimit == 0 {
		c.Market.TradeHistoryLimit = domain.HistoryWindow
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return &domain.ConfigError{Field: "server.port", Err: fmt.Errorf("out of range: %d", c.Server.Port)}
	}

	switch c.Ledger.Network {
	case "mainnet", "testnet", "previewnet":
	default:
		return &domain.ConfigError{Field: "ledger.network", Err: fmt.Errorf("unknown network %q", c.Ledger.Network)}
	}
	if c.Ledger.TreasuryID != "" && !domain.IsAccountID(c.Ledger.TreasuryID) {
		return &domain.ConfigError{Field: "ledger.treasury_id", Err: fmt.Errorf("malformed account id %q", c.Ledger.TreasuryID)}
	}
	if !hasPrefix(c.Ledger.MirrorURL, "http://") && !hasPrefix(c.Ledger.MirrorURL, "https://") {
		return &domain.ConfigError{Field: "ledger.mirror_url", Err: fmt.Errorf("invalid URL %q", c.Ledger.MirrorURL)}
	}

	switch c.Storage.Driver {
	case "sqlite":
	case "postgres":
		if c.Storage.Postgres.Host == "" || c.Storage.Postgres.Database == "" {
			return &domain.ConfigError{Field: "storage.postgres", Err: errors.New("host and database are required")}
		}
	default:
		return &domain.ConfigError{Field: "storage.driver", Err: fmt.Errorf("unsupported driver %q", c.Storage.Driver)}
	}

	for i, a := range c.Market.Assets {
		field := "market.assets[" + strconv.Itoa(i) + "]"
		if !domain.IsAccountID(a.TokenID) {
			return &domain.ConfigError{Field: field + ".token_id", Err: fmt.Errorf("expected shard.realm.num, got %q", a.TokenID)}
		}
		if a.Price <= 0 {
			return &domain.ConfigError{Field: field + ".price", Err: errors.New("must be positive")}
		}
	}
	if c.Market.TradeHistoryLimit < 0 {
		return &domain.ConfigError{Field: "market.trade_history_limit", Err: errors.New("must not be negative")}
	}

	return nil
}

// PostgresConfigured reports whether the Postgres driver is selected.
func (c *Config) PostgresConfigured() bool {
	return c.Storage.Driver == "postgres"
}

func hasPrefix(s, prefix string) bool {
	return strings.HasPrefix(s, prefix)
}

// overrideWithEnv replaces values with environment variables when they are set.
func overrideWithEnv(cfg *Config) {
	if id := os.Getenv("REALTY_TREASURY_ID"); id != "" {
		cfg.Ledger.TreasuryID = id
	}
	if key := os.Getenv("REALTY_TREASURY_KEY"); key != "" {
		cfg.Ledger.TreasuryKey = key
	}
	if jwt := os.Getenv("REALTY_PINATA_JWT"); jwt != "" {
		cfg.IPFS.JWT = jwt
	}
	if pass := os.Getenv("REALTY_DB_PASSWORD"); pass != "" {
		cfg.Storage.Postgres.Password = pass
	}
	if host := os.Getenv("REALTY_DB_HOST"); host != "" {
		cfg.Storage.Postgres.Host = host
	}
	if port := os.Getenv("REALTY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
}
