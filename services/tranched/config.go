package main

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tranchepool/crypto"
	"tranchepool/native/tranche"
	"tranchepool/observability/logging"
)

const (
	defaultListen          = "0.0.0.0:8090"
	defaultDataDir         = "./tranched-data"
	defaultRateLimitPerMin = 120
	defaultRateBurst       = 10
	defaultOracleMaxAge    = 60
)

// Config captures the runtime settings for the tranched daemon.
type Config struct {
	ListenAddress   string                 `yaml:"listen"`
	Environment     string                 `yaml:"env"`
	DataDir         string                 `yaml:"dataDir"`
	RateLimitPerMin float64                `yaml:"rateLimitPerMin"`
	RateBurst       int                    `yaml:"rateBurst"`
	Log             logging.RotationConfig `yaml:"log"`
	Oracle          OracleConfig           `yaml:"oracle"`
	Module          tranche.Config         `yaml:"module"`
	Roles           RolesConfig            `yaml:"roles"`
	CustodyAddress  string                 `yaml:"custodyAddress"`
	Balances        map[string]string      `yaml:"balances"`
}

// OracleConfig configures the price feed consumed by the engine.
type OracleConfig struct {
	// Price is the development feed's fixed quote, in 1e18 fixed point.
	Price string `yaml:"price"`
	// MaxAgeSeconds bounds quote staleness.
	MaxAgeSeconds int `yaml:"maxAgeSeconds"`
}

// RolesConfig binds the four engine identities, bech32 encoded.
type RolesConfig struct {
	Owner             string `yaml:"owner"`
	Borrower          string `yaml:"borrower"`
	Backer            string `yaml:"backer"`
	LiquidityProvider string `yaml:"liquidityProvider"`
}

// LoadConfig reads the YAML configuration from disk, applies environment
// overrides and validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ListenAddress:   defaultListen,
		DataDir:         defaultDataDir,
		RateLimitPerMin: defaultRateLimitPerMin,
		RateBurst:       defaultRateBurst,
		Oracle:          OracleConfig{MaxAgeSeconds: defaultOracleMaxAge},
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() {
	if listen := strings.TrimSpace(os.Getenv("TRANCHED_LISTEN")); listen != "" {
		cfg.ListenAddress = listen
	}
	if env := strings.TrimSpace(os.Getenv("TRANCHED_ENV")); env != "" {
		cfg.Environment = env
	}
	if dir := strings.TrimSpace(os.Getenv("TRANCHED_DATA_DIR")); dir != "" {
		cfg.DataDir = dir
	}
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = defaultRateLimitPerMin
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Oracle.MaxAgeSeconds <= 0 {
		cfg.Oracle.MaxAgeSeconds = defaultOracleMaxAge
	}
	cfg.Module.EnsureDefaults()
}

// Validate ensures the configuration is internally consistent.
func (cfg Config) Validate() error {
	if _, err := decodeStrictAddress(cfg.CustodyAddress, "custodyAddress"); err != nil {
		return err
	}
	if _, err := decodeStrictAddress(cfg.Roles.Borrower, "roles.borrower"); err != nil {
		return err
	}
	if _, err := decodeStrictAddress(cfg.Roles.Backer, "roles.backer"); err != nil {
		return err
	}
	if _, err := decodeStrictAddress(cfg.Roles.LiquidityProvider, "roles.liquidityProvider"); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Roles.Owner) != "" {
		if _, err := decodeStrictAddress(cfg.Roles.Owner, "roles.owner"); err != nil {
			return err
		}
	}
	if _, err := cfg.OraclePrice(); err != nil {
		return err
	}
	for addr := range cfg.Balances {
		if _, err := decodeStrictAddress(addr, "balances key"); err != nil {
			return err
		}
	}
	return nil
}

// OraclePrice parses the configured development feed quote.
func (cfg Config) OraclePrice() (*big.Int, error) {
	raw := strings.TrimSpace(cfg.Oracle.Price)
	if raw == "" {
		return nil, fmt.Errorf("oracle.price is required")
	}
	price, ok := new(big.Int).SetString(raw, 10)
	if !ok || price.Sign() <= 0 {
		return nil, fmt.Errorf("oracle.price must be a positive integer, got %q", raw)
	}
	return price, nil
}

func decodeStrictAddress(raw, field string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("%s is required", field)
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %w", field, err)
	}
	return addr, nil
}
