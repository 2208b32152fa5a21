package tranche

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

const (
	defaultMaxLeverageRatio    = 900
	defaultSwapDeadlineSeconds = 300
)

// Config carries the module parameters. Zero values are replaced with
// defaults by EnsureDefaults.
type Config struct {
	// MaxLeverageRatio is the upper clamp for the allocator's target
	// senior share, expressed as a percentage of total pool capital.
	MaxLeverageRatio uint64 `toml:"MaxLeverageRatio"`
	// SelfChain identifies the local chain for settlement transfers.
	SelfChain string `toml:"SelfChain"`
	// UnderlyingAsset and SettlementAsset form the swap path used when
	// senior liquidity is routed through the settlement AMM.
	UnderlyingAsset string `toml:"UnderlyingAsset"`
	SettlementAsset string `toml:"SettlementAsset"`
	// SwapDeadlineSeconds bounds how long a settlement swap may remain
	// executable.
	SwapDeadlineSeconds uint64 `toml:"SwapDeadlineSeconds"`
}

// DefaultConfig returns the module defaults.
func DefaultConfig() Config {
	return Config{
		MaxLeverageRatio:    defaultMaxLeverageRatio,
		SelfChain:           "tranchepool",
		UnderlyingAsset:     "TPU",
		SettlementAsset:     "TPS",
		SwapDeadlineSeconds: defaultSwapDeadlineSeconds,
	}
}

// LoadConfig reads a TOML module configuration from disk and fills unset
// fields with defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("tranche: load config: %w", err)
	}
	cfg.EnsureDefaults()
	return cfg, nil
}

// EnsureDefaults fills unset fields in place.
func (c *Config) EnsureDefaults() {
	if c == nil {
		return
	}
	defaults := DefaultConfig()
	if c.MaxLeverageRatio == 0 {
		c.MaxLeverageRatio = defaults.MaxLeverageRatio
	}
	if c.SelfChain == "" {
		c.SelfChain = defaults.SelfChain
	}
	if c.UnderlyingAsset == "" {
		c.UnderlyingAsset = defaults.UnderlyingAsset
	}
	if c.SettlementAsset == "" {
		c.SettlementAsset = defaults.SettlementAsset
	}
	if c.SwapDeadlineSeconds == 0 {
		c.SwapDeadlineSeconds = defaults.SwapDeadlineSeconds
	}
}
