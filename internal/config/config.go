// Package config loads the typed operator configuration via viper, the
// same pattern used for Polymarket credentials/strategy tuning: a YAML
// file plus WHALEWATCH_* environment overrides, unmarshalled onto a single
// mapstructure-tagged Config tree.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/whalewatch/whalewatch/internal/xerrors"
)

// WhaleThresholds holds the per-symbol-family USD thresholds that classify
// a resting order as large/huge/mega for lifecycle tracking and filtering.
type WhaleThresholds struct {
	Large float64 `mapstructure:"large"`
	Huge  float64 `mapstructure:"huge"`
	Mega  float64 `mapstructure:"mega"`
}

// FeedConfig configures the exchange feed client (L1).
type FeedConfig struct {
	WSURL            string        `mapstructure:"ws_url"`
	RESTURL          string        `mapstructure:"rest_url"`
	TradingPairs     []string      `mapstructure:"trading_pairs"`
	OrderBookDepth   int           `mapstructure:"order_book_depth"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PingMissThreshold int          `mapstructure:"ping_miss_threshold"`
	BackoffInitial   time.Duration `mapstructure:"backoff_initial"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	RESTTimeout      time.Duration `mapstructure:"rest_timeout"`
}

// BookFilterConfig configures the per-event filters C1 applies before
// emitting a WhaleEvent.
type BookFilterConfig struct {
	MinUSD          float64 `mapstructure:"min_usd"`
	MaxUSD          float64 `mapstructure:"max_usd"`
	MinDistancePct  float64 `mapstructure:"min_distance_pct"`
	MaxDistancePct  float64 `mapstructure:"max_distance_pct"`
	MinVolume       float64 `mapstructure:"min_volume"`
}

// SinkConfig configures the batched time-series writer (L2).
type SinkConfig struct {
	URL          string        `mapstructure:"url"`
	Token        string        `mapstructure:"token"`
	Org          string        `mapstructure:"org"`
	Bucket       string        `mapstructure:"bucket"`
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	ChannelDepth int           `mapstructure:"channel_depth"`
}

// DetectorConfig configures the manipulation detector (C2).
type DetectorConfig struct {
	FlashOrderThresholdMS int           `mapstructure:"flash_order_threshold_ms"`
	LayeringMinLevels     int           `mapstructure:"layering_min_levels"`
	LayeringThresholdUSD  float64       `mapstructure:"layering_threshold_usd"`
	LayeringAllowGap      int           `mapstructure:"layering_allow_gap"`
	QuoteStuffingRate     float64       `mapstructure:"quote_stuffing_rate"`
	LifecycleHorizon      time.Duration `mapstructure:"lifecycle_horizon"`
	ChannelCapacity       int           `mapstructure:"channel_capacity"`
	SnapshotInterval      time.Duration `mapstructure:"snapshot_interval"`
}

// BacktestConfig configures the default portfolio/execution parameters
// used by C3 when not overridden per-run.
type BacktestConfig struct {
	InitialCapital       float64 `mapstructure:"initial_capital"`
	PositionSizePct      float64 `mapstructure:"position_size_pct"`
	MaxRiskPerTradePct   float64 `mapstructure:"max_risk_per_trade_pct"`
	MaxPositions         int     `mapstructure:"max_positions"`
	TakerFeePct          float64 `mapstructure:"taker_fee_pct"`
	MakerFeePct          float64 `mapstructure:"maker_fee_pct"`
	SlippageModel        string  `mapstructure:"slippage_model"`
	SlippagePct          float64 `mapstructure:"slippage_pct"`
	ExecutionDelayMS     int     `mapstructure:"execution_delay_ms"`
	RiskFreeRate         float64 `mapstructure:"risk_free_rate"`
}

// Config is the root configuration tree, unmarshalled wholesale from YAML
// plus environment overrides by Load.
type Config struct {
	Feed      FeedConfig                 `mapstructure:"feed"`
	Filters   BookFilterConfig           `mapstructure:"filters"`
	Whale     map[string]WhaleThresholds `mapstructure:"whale_thresholds"`
	Sink      SinkConfig                 `mapstructure:"sink"`
	Detector  DetectorConfig             `mapstructure:"detector"`
	Backtest  BacktestConfig             `mapstructure:"backtest"`
	LogLevel  string                     `mapstructure:"log_level"`
}

func defaults(v *viper.Viper) {
	v.SetDefault("feed.order_book_depth", 20)
	v.SetDefault("feed.ping_interval", 15*time.Second)
	v.SetDefault("feed.ping_miss_threshold", 2)
	v.SetDefault("feed.backoff_initial", 5*time.Second)
	v.SetDefault("feed.backoff_max", 60*time.Second)
	v.SetDefault("feed.rest_timeout", 10*time.Second)

	v.SetDefault("filters.min_usd", 0.0)
	v.SetDefault("filters.max_usd", 0.0)
	v.SetDefault("filters.min_distance_pct", 0.0)
	v.SetDefault("filters.max_distance_pct", 0.0)
	v.SetDefault("filters.min_volume", 0.0)

	v.SetDefault("sink.batch_size", 500)
	v.SetDefault("sink.batch_timeout", 5*time.Second)
	v.SetDefault("sink.channel_depth", 4096)

	v.SetDefault("detector.flash_order_threshold_ms", 10000)
	v.SetDefault("detector.layering_min_levels", 2)
	v.SetDefault("detector.layering_threshold_usd", 30000.0)
	v.SetDefault("detector.layering_allow_gap", 1)
	v.SetDefault("detector.quote_stuffing_rate", 10.0)
	v.SetDefault("detector.lifecycle_horizon", time.Hour)
	v.SetDefault("detector.channel_capacity", 4096)
	v.SetDefault("detector.snapshot_interval", 5*time.Second)

	v.SetDefault("backtest.initial_capital", 10000.0)
	v.SetDefault("backtest.position_size_pct", 10.0)
	v.SetDefault("backtest.max_risk_per_trade_pct", 2.0)
	v.SetDefault("backtest.max_positions", 1)
	v.SetDefault("backtest.taker_fee_pct", 0.06)
	v.SetDefault("backtest.maker_fee_pct", 0.02)
	v.SetDefault("backtest.slippage_model", "fixed")
	v.SetDefault("backtest.slippage_pct", 0.02)
	v.SetDefault("backtest.execution_delay_ms", 100)
	v.SetDefault("backtest.risk_free_rate", 0.02)

	v.SetDefault("log_level", "info")
}

// Load reads configPath (if non-empty) and layers WHALEWATCH_*
// environment overrides on top, returning the fully populated Config.
// Returns a wrapped xerrors.ErrConfigInvalid on any read or decode failure.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("WHALEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w: %v", configPath, xerrors.ErrConfigInvalid, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w: %v", xerrors.ErrConfigInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the minimal set of invariants that would otherwise
// surface as confusing runtime behavior: no trading pairs, a depth outside
// {5, 10, 20}, a non-positive batch size, a non-positive max_positions, or
// an unknown slippage model.
func (c *Config) Validate() error {
	if len(c.Feed.TradingPairs) == 0 {
		return fmt.Errorf("feed.trading_pairs is empty: %w", xerrors.ErrConfigInvalid)
	}
	switch c.Feed.OrderBookDepth {
	case 5, 10, 20:
	default:
		return fmt.Errorf("feed.order_book_depth must be 5, 10, or 20, got %d: %w",
			c.Feed.OrderBookDepth, xerrors.ErrConfigInvalid)
	}
	if c.Sink.BatchSize <= 0 {
		return fmt.Errorf("sink.batch_size must be positive: %w", xerrors.ErrConfigInvalid)
	}
	if c.Backtest.MaxPositions <= 0 {
		return fmt.Errorf("backtest.max_positions must be positive: %w", xerrors.ErrConfigInvalid)
	}
	switch c.Backtest.SlippageModel {
	case "fixed", "volume_based", "orderbook":
	default:
		return fmt.Errorf("backtest.slippage_model %q unknown: %w",
			c.Backtest.SlippageModel, xerrors.ErrConfigInvalid)
	}
	return nil
}

// WhaleThresholdFor resolves the configured thresholds for symbol,
// falling back to a "default" entry if the symbol has no specific one.
func (c *Config) WhaleThresholdFor(symbol string) WhaleThresholds {
	if t, ok := c.Whale[symbol]; ok {
		return t
	}
	return c.Whale["default"]
}
