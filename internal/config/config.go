// Package config defines all configuration for the arbitrage engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ARB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Mode      string          `mapstructure:"mode"` // "live" | "paper" | "observer"
	DryRun    bool            `mapstructure:"dry_run"`
	Wallet    WalletConfig    `mapstructure:"wallet"`
	Venues    VenuesConfig    `mapstructure:"venues"`
	Mapping   MappingConfig   `mapstructure:"mapping"`
	Detection DetectionConfig `mapstructure:"detection"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Polytope  PolytopeConfig  `mapstructure:"polytope"`
	Risk      RiskConfig      `mapstructure:"risk"`
	RPC       RPCConfig       `mapstructure:"rpc"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Paper     PaperConfig     `mapstructure:"paper"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// WalletConfig holds the Ethereum wallet used for signing on-chain mint/merge
// transactions and CLOB orders.
type WalletConfig struct {
	PrivateKey               string `mapstructure:"private_key"`
	SignatureType            int    `mapstructure:"signature_type"`
	FunderAddress            string `mapstructure:"funder_address"`
	ChainID                  int    `mapstructure:"chain_id"`
	ConditionalTokensAddress string `mapstructure:"conditional_tokens_address"`
}

// VenueEndpoint configures one of the three trading venues.
type VenueEndpoint struct {
	BaseURL    string  `mapstructure:"base_url"`
	WSURL      string  `mapstructure:"ws_url"`
	FeeRatePct float64 `mapstructure:"fee_rate_pct"`
	APIKey     string  `mapstructure:"api_key"`
	APISecret  string  `mapstructure:"api_secret"`
	Passphrase string  `mapstructure:"passphrase"`
}

// VenuesConfig groups all three venue endpoints.
type VenuesConfig struct {
	CLOB       VenueEndpoint `mapstructure:"clob"`
	ExchangeA  VenueEndpoint `mapstructure:"exchange_a"`
	ExchangeB  VenueEndpoint `mapstructure:"exchange_b"`
	PollInterval time.Duration `mapstructure:"poll_interval"` // ExchangeB poll cadence
}

// MappingConfig controls the cross-venue market mapping table source.
type MappingConfig struct {
	FilePath       string        `mapstructure:"file_path"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
	MinConfidence  float64       `mapstructure:"min_confidence"`
}

// DetectionConfig tunes the arbitrage detectors.
type DetectionConfig struct {
	MinEV              float64       `mapstructure:"min_ev"`
	AtomicEpsilon      float64       `mapstructure:"atomic_epsilon"`
	AtomicMinProfitAbs float64       `mapstructure:"atomic_min_profit_abs"`
	CooldownPerMapping time.Duration `mapstructure:"cooldown_per_mapping"`
	StaleBookTimeout   time.Duration `mapstructure:"stale_book_timeout"`
}

// ExecutionConfig tunes the SmartRouter.
type ExecutionConfig struct {
	LegTimeout        time.Duration `mapstructure:"leg_timeout"`
	MinNetProfitUSD   float64       `mapstructure:"min_net_profit_usd"`
	VWAPSlippageBps   float64       `mapstructure:"vwap_slippage_bps"`
	KellyFraction     float64       `mapstructure:"kelly_fraction"`
	MaxPerTradeUSD    float64       `mapstructure:"max_per_trade_usd"`
	RecoveryWindow    time.Duration `mapstructure:"recovery_window"`
	RecoveryChaseBps  float64       `mapstructure:"recovery_chase_bps"`
}

// PolytopeConfig tunes the Barrier Frank-Wolfe projector and the
// multi-market detector built on top of it.
type PolytopeConfig struct {
	MaxIterations      int           `mapstructure:"max_iterations"`
	Tolerance          float64       `mapstructure:"tolerance"`
	BarrierWeight      float64       `mapstructure:"barrier_weight"`
	CacheSize          int           `mapstructure:"cache_size"`
	StallRounds        int           `mapstructure:"stall_rounds"`
	DeviationThreshold float64       `mapstructure:"deviation_threshold"`
	MinNetProfit       float64       `mapstructure:"min_net_profit"`
	CooldownPerEvent   time.Duration `mapstructure:"cooldown_per_event"`
}

// RiskConfig sets hard limits that trigger the kill switch.
type RiskConfig struct {
	MaxDrawdownUSD       float64       `mapstructure:"max_drawdown_usd"`
	MaxConsecutiveLosses int           `mapstructure:"max_consecutive_losses"`
	MaxAPIErrorRate      float64       `mapstructure:"max_api_error_rate"`
	ErrorRateWindow      time.Duration `mapstructure:"error_rate_window"`
	MaxGlobalExposureUSD float64       `mapstructure:"max_global_exposure_usd"`
	MaxExposurePct       float64       `mapstructure:"max_exposure_pct"`
	CooldownAfterKill    time.Duration `mapstructure:"cooldown_after_kill"`
	PersistPath          string        `mapstructure:"persist_path"`
}

// RPCConfig lists candidate on-chain RPC endpoints for the RpcRacer.
type RPCConfig struct {
	Endpoints       []string      `mapstructure:"endpoints"`
	RaceTimeout     time.Duration `mapstructure:"race_timeout"`
	GasStationURL   string        `mapstructure:"gas_station_url"`
	MaxGasGwei      float64       `mapstructure:"max_gas_gwei"`
}

// StoreConfig sets where persistent state is stored (JSON files).
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuditConfig controls the JSONL audit log.
type AuditConfig struct {
	Path string `mapstructure:"path"`
}

// PaperConfig controls the paper-trading ledger.
type PaperConfig struct {
	LedgerPath   string  `mapstructure:"ledger_path"`
	StartBalance float64 `mapstructure:"start_balance"`
}

// NotifyConfig controls the alerting sink.
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
	MinLevel   string `mapstructure:"min_level"` // "info" | "warning" | "critical"
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ARB_PRIVATE_KEY, ARB_CLOB_API_KEY,
// ARB_CLOB_API_SECRET, ARB_CLOB_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("ARB_PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if key := os.Getenv("ARB_CLOB_API_KEY"); key != "" {
		cfg.Venues.CLOB.APIKey = key
	}
	if secret := os.Getenv("ARB_CLOB_API_SECRET"); secret != "" {
		cfg.Venues.CLOB.APISecret = secret
	}
	if pass := os.Getenv("ARB_CLOB_PASSPHRASE"); pass != "" {
		cfg.Venues.CLOB.Passphrase = pass
	}
	if os.Getenv("ARB_DRY_RUN") == "true" || os.Getenv("ARB_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	if cfg.Detection.StaleBookTimeout == 0 {
		cfg.Detection.StaleBookTimeout = 500 * time.Millisecond
	}
	if cfg.Risk.MaxExposurePct == 0 {
		cfg.Risk.MaxExposurePct = 0.05
	}
	if cfg.Detection.AtomicMinProfitAbs == 0 {
		cfg.Detection.AtomicMinProfitAbs = 0.05
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Mode {
	case "live", "paper", "observer":
	default:
		return fmt.Errorf("mode must be one of: live, paper, observer")
	}
	if c.Mode == "live" {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("wallet.private_key is required in live mode (set ARB_PRIVATE_KEY)")
		}
		if c.Wallet.ChainID == 0 {
			return fmt.Errorf("wallet.chain_id is required in live mode")
		}
		switch c.Wallet.SignatureType {
		case 0, 1, 2:
		default:
			return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (PROXY), 2 (GNOSIS_SAFE)")
		}
	}
	if c.Venues.CLOB.BaseURL == "" {
		return fmt.Errorf("venues.clob.base_url is required")
	}
	if c.Mapping.FilePath == "" {
		return fmt.Errorf("mapping.file_path is required")
	}
	if c.Detection.MinEV <= 0 {
		return fmt.Errorf("detection.min_ev must be > 0")
	}
	if c.Execution.MinNetProfitUSD < 0 {
		return fmt.Errorf("execution.min_net_profit_usd must be >= 0")
	}
	if c.Risk.MaxGlobalExposureUSD <= 0 {
		return fmt.Errorf("risk.max_global_exposure_usd must be > 0")
	}
	if c.Risk.MaxExposurePct <= 0 || c.Risk.MaxExposurePct > 1 {
		return fmt.Errorf("risk.max_exposure_pct must be in (0, 1]")
	}
	if c.Detection.StaleBookTimeout <= 0 {
		return fmt.Errorf("detection.stale_book_timeout must be > 0")
	}
	if c.Polytope.MaxIterations <= 0 {
		return fmt.Errorf("polytope.max_iterations must be > 0")
	}
	if c.Polytope.DeviationThreshold <= 0 {
		return fmt.Errorf("polytope.deviation_threshold must be > 0")
	}
	if c.Polytope.MinNetProfit < 0 {
		return fmt.Errorf("polytope.min_net_profit must be >= 0")
	}
	return nil
}
