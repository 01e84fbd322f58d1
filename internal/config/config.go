// Package config loads the immutable process configuration from environment
// variables and an optional YAML file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full engine configuration, read once at startup.
type Config struct {
	Symbols []string `mapstructure:"symbols"`

	Feed      FeedConfig      `mapstructure:"feed"`
	Signal    SignalConfig    `mapstructure:"signal"`
	Regime    RegimeConfig    `mapstructure:"regime"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Portfolio PortfolioConfig `mapstructure:"portfolio"`
	Drawdown  DrawdownConfig  `mapstructure:"drawdown"`
	Sim       SimConfig       `mapstructure:"sim"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Server    ServerConfig    `mapstructure:"server"`
}

// FeedConfig configures the exchange websocket feeds.
type FeedConfig struct {
	WSBaseURL string `mapstructure:"ws_base_url"`
}

// SignalConfig holds scorer thresholds, grouped by mode where applicable.
type SignalConfig struct {
	EnableEarly bool  `mapstructure:"enable_early"`
	EarlyTFSec  int64 `mapstructure:"early_tf_sec"`
	MainTFSec   int64 `mapstructure:"main_tf_sec"`

	EMAFast int `mapstructure:"ema_fast"`
	EMASlow int `mapstructure:"ema_slow"`

	EMAGapEarly float64 `mapstructure:"ema_gap_early"`
	EMAGapMain  float64 `mapstructure:"ema_gap_main"`

	VolumeSMALen     int     `mapstructure:"volume_sma_len"`
	VolumeRatioEarly float64 `mapstructure:"volume_ratio_early"`
	VolumeRatioMain  float64 `mapstructure:"volume_ratio_main"`

	SpreadMaxEarly float64 `mapstructure:"spread_max_early"`
	SpreadMaxMain  float64 `mapstructure:"spread_max_main"`

	CooldownEarly time.Duration `mapstructure:"cooldown_early"`
	CooldownMain  time.Duration `mapstructure:"cooldown_main"`

	EnableWickFilter bool    `mapstructure:"enable_wick_filter"`
	WickMaxEarly     float64 `mapstructure:"wick_max_early"`
	WickMaxMain      float64 `mapstructure:"wick_max_main"`

	EnableMomentum   bool    `mapstructure:"enable_momentum"`
	MomentumMinEarly float64 `mapstructure:"momentum_min_early"`
	MomentumMinMain  float64 `mapstructure:"momentum_min_main"`

	EnableATRCompression bool    `mapstructure:"enable_atr_compression"`
	ATRShort             int     `mapstructure:"atr_short"`
	ATRLong              int     `mapstructure:"atr_long"`
	ATRCompressionRatio  float64 `mapstructure:"atr_compression_ratio"`

	ScoreMinEarly     int `mapstructure:"score_min_early"`
	ScoreMinMain      int `mapstructure:"score_min_main"`
	ScoreMinMainPanic int `mapstructure:"score_min_main_panic"`
	ScoreHighConf     int `mapstructure:"score_high_conf"`
}

// RegimeConfig holds the market-regime thresholds.
type RegimeConfig struct {
	ProxyA string `mapstructure:"proxy_a"`
	ProxyB string `mapstructure:"proxy_b"`

	PanicATRRatio    float64 `mapstructure:"panic_atr_ratio"`
	PanicDropPct     float64 `mapstructure:"panic_drop_pct"`
	RecoveryATRRatio float64 `mapstructure:"recovery_atr_ratio"`

	TrendEMAFast int     `mapstructure:"trend_ema_fast"`
	TrendEMASlow int     `mapstructure:"trend_ema_slow"`
	TrendGapMin  float64 `mapstructure:"trend_gap_min"`
	RangeATRMax  float64 `mapstructure:"range_atr_max"`
	RangeGapMax  float64 `mapstructure:"range_gap_max"`

	MinHold       time.Duration `mapstructure:"min_hold"`
	AlertCooldown time.Duration `mapstructure:"alert_cooldown"`
}

// RiskConfig holds position sizing parameters.
type RiskConfig struct {
	BaseRiskPctEarly float64 `mapstructure:"base_risk_pct_early"`
	BaseRiskPctMain  float64 `mapstructure:"base_risk_pct_main"`
	RiskMaxPct       float64 `mapstructure:"risk_max_pct"`

	SLATRMultEarly float64 `mapstructure:"sl_atr_mult_early"`
	SLATRMultMain  float64 `mapstructure:"sl_atr_mult_main"`

	EnableVolAdjust bool    `mapstructure:"enable_vol_adjust"`
	TargetVolPct    float64 `mapstructure:"target_vol_pct"`

	// Entry offset mechanisms; entry_confirm takes precedence, they never
	// stack.
	EnableEntryConfirm bool    `mapstructure:"enable_entry_confirm"`
	EntryConfirmMinPct float64 `mapstructure:"entry_confirm_min_pct"`
	EntryConfirmMaxPct float64 `mapstructure:"entry_confirm_max_pct"`

	EnableAdaptiveEntry bool    `mapstructure:"enable_adaptive_entry"`
	BreakoutOffsetPct   float64 `mapstructure:"breakout_offset_pct"`

	SlippageBpsEarly float64 `mapstructure:"slippage_bps_early"`
	SlippageBpsMain  float64 `mapstructure:"slippage_bps_main"`
}

// PortfolioConfig holds the gatekeeper limits.
type PortfolioConfig struct {
	MaxPositions    int     `mapstructure:"max_positions"`
	MaxTotalRiskPct float64 `mapstructure:"max_total_risk_pct"`
	MaxCorrelation  float64 `mapstructure:"max_correlation"`
	MinLiquidityUSD float64 `mapstructure:"min_liquidity_usd"`
}

// DrawdownConfig holds the drawdown thresholds.
type DrawdownConfig struct {
	SoftPct      float64       `mapstructure:"soft_pct"`
	HardPct      float64       `mapstructure:"hard_pct"`
	KillPct      float64       `mapstructure:"kill_pct"`
	HardCooldown time.Duration `mapstructure:"hard_cooldown"`
	MinRiskMult  float64       `mapstructure:"min_risk_mult"`
}

// SimConfig configures the paper-execution simulator.
type SimConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	StartNAV        float64       `mapstructure:"start_nav"`
	ExitSlippagePct float64       `mapstructure:"exit_slippage_pct"`
	ReportInterval  time.Duration `mapstructure:"report_interval"`
}

// NotifyConfig configures the outbound notification channel.
type NotifyConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	TelegramBotToken string        `mapstructure:"telegram_bot_token"`
	TelegramChatID   string        `mapstructure:"telegram_chat_id"`
	QueueSize        int           `mapstructure:"queue_size"`
	MinInterval      time.Duration `mapstructure:"min_interval"`
}

// ServerConfig configures the read-only status HTTP server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads configuration from the optional YAML file at path and from
// ENGINE_-prefixed environment variables, applies defaults and validates.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required keys and internal consistency.
func (c *Config) Validate() error {
	if c.Feed.WSBaseURL == "" {
		return fmt.Errorf("config: feed.ws_base_url is required")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("config: symbols must not be empty")
	}
	if c.Notify.Enabled && (c.Notify.TelegramBotToken == "" || c.Notify.TelegramChatID == "") {
		return fmt.Errorf("config: notify enabled but telegram credentials missing")
	}
	if !contains(c.Symbols, c.Regime.ProxyA) || !contains(c.Symbols, c.Regime.ProxyB) {
		return fmt.Errorf("config: regime proxies %s/%s must be included in symbols",
			c.Regime.ProxyA, c.Regime.ProxyB)
	}
	if c.Drawdown.SoftPct >= c.Drawdown.HardPct || c.Drawdown.HardPct >= c.Drawdown.KillPct {
		return fmt.Errorf("config: drawdown thresholds must satisfy soft < hard < kill")
	}
	if c.Signal.ATRShort >= c.Signal.ATRLong {
		return fmt.Errorf("config: atr_short must be below atr_long")
	}
	return nil
}

// HistoryCap returns the bound for candle/volume ring buffers: at least the
// largest lookback any consumer needs, and never below 300.
func (c *Config) HistoryCap() int {
	limit := 300
	if n := c.Signal.VolumeSMALen; n > limit {
		limit = n
	}
	if n := c.Signal.ATRLong + 2; n > limit {
		limit = n
	}
	return limit
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("symbols", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"})

	v.SetDefault("feed.ws_base_url", "")

	v.SetDefault("signal.enable_early", true)
	v.SetDefault("signal.early_tf_sec", 5*60)
	v.SetDefault("signal.main_tf_sec", 15*60)
	v.SetDefault("signal.ema_fast", 20)
	v.SetDefault("signal.ema_slow", 50)
	v.SetDefault("signal.ema_gap_early", 0.0030)
	v.SetDefault("signal.ema_gap_main", 0.0040)
	v.SetDefault("signal.volume_sma_len", 20)
	v.SetDefault("signal.volume_ratio_early", 2.5)
	v.SetDefault("signal.volume_ratio_main", 3.0)
	v.SetDefault("signal.spread_max_early", 0.0025)
	v.SetDefault("signal.spread_max_main", 0.0018)
	v.SetDefault("signal.cooldown_early", time.Minute)
	v.SetDefault("signal.cooldown_main", time.Minute)
	v.SetDefault("signal.enable_wick_filter", true)
	v.SetDefault("signal.wick_max_early", 0.55)
	v.SetDefault("signal.wick_max_main", 0.45)
	v.SetDefault("signal.enable_momentum", true)
	v.SetDefault("signal.momentum_min_early", 0.0060)
	v.SetDefault("signal.momentum_min_main", 0.0070)
	v.SetDefault("signal.enable_atr_compression", true)
	v.SetDefault("signal.atr_short", 14)
	v.SetDefault("signal.atr_long", 50)
	v.SetDefault("signal.atr_compression_ratio", 0.75)
	v.SetDefault("signal.score_min_early", 6)
	v.SetDefault("signal.score_min_main", 10)
	v.SetDefault("signal.score_min_main_panic", 13)
	v.SetDefault("signal.score_high_conf", 14)

	v.SetDefault("regime.proxy_a", "BTCUSDT")
	v.SetDefault("regime.proxy_b", "ETHUSDT")
	v.SetDefault("regime.panic_atr_ratio", 1.6)
	v.SetDefault("regime.panic_drop_pct", 0.03)
	v.SetDefault("regime.recovery_atr_ratio", 1.15)
	v.SetDefault("regime.trend_ema_fast", 20)
	v.SetDefault("regime.trend_ema_slow", 50)
	v.SetDefault("regime.trend_gap_min", 0.0015)
	v.SetDefault("regime.range_atr_max", 0.006)
	v.SetDefault("regime.range_gap_max", 0.0010)
	v.SetDefault("regime.min_hold", 20*time.Minute)
	v.SetDefault("regime.alert_cooldown", 10*time.Minute)

	v.SetDefault("risk.base_risk_pct_early", 0.25)
	v.SetDefault("risk.base_risk_pct_main", 0.50)
	v.SetDefault("risk.risk_max_pct", 1.0)
	v.SetDefault("risk.sl_atr_mult_early", 0.9)
	v.SetDefault("risk.sl_atr_mult_main", 1.0)
	v.SetDefault("risk.enable_vol_adjust", true)
	v.SetDefault("risk.target_vol_pct", 0.010)
	v.SetDefault("risk.enable_entry_confirm", true)
	v.SetDefault("risk.entry_confirm_min_pct", 0.0003)
	v.SetDefault("risk.entry_confirm_max_pct", 0.0015)
	v.SetDefault("risk.enable_adaptive_entry", false)
	v.SetDefault("risk.breakout_offset_pct", 0.0005)
	v.SetDefault("risk.slippage_bps_early", 4.0)
	v.SetDefault("risk.slippage_bps_main", 2.0)

	v.SetDefault("portfolio.max_positions", 8)
	v.SetDefault("portfolio.max_total_risk_pct", 3.0)
	v.SetDefault("portfolio.max_correlation", 0.85)
	v.SetDefault("portfolio.min_liquidity_usd", 25_000.0)

	v.SetDefault("drawdown.soft_pct", 0.06)
	v.SetDefault("drawdown.hard_pct", 0.10)
	v.SetDefault("drawdown.kill_pct", 0.18)
	v.SetDefault("drawdown.hard_cooldown", 6*time.Hour)
	v.SetDefault("drawdown.min_risk_mult", 0.35)

	v.SetDefault("sim.enabled", true)
	v.SetDefault("sim.start_nav", 10_000.0)
	v.SetDefault("sim.exit_slippage_pct", 0.0)
	v.SetDefault("sim.report_interval", time.Hour)

	v.SetDefault("notify.enabled", false)
	v.SetDefault("notify.queue_size", 500)
	v.SetDefault("notify.min_interval", 200*time.Millisecond)

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.addr", ":8080")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
