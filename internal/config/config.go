// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/luisarcher/BybitTradingBot/internal/types"
)

// Config represents the full application configuration.
type Config struct {
	User      UserConfig              `yaml:"user"`
	Tickers   map[string]TickerConfig `yaml:"tickers"`
	Execution ExecutionConfig         `yaml:"execution"`
	Webhook   WebhookConfig           `yaml:"webhook"`
	Alerting  AlertingConfig          `yaml:"alerting"`
	Metrics   MetricsConfig           `yaml:"metrics"`
}

// UserConfig holds exchange account settings.
type UserConfig struct {
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	Collateral string `yaml:"collateral"`
	BaseURL    string `yaml:"base_url"`
}

// TickerConfig holds per-instrument settings.
type TickerConfig struct {
	LongLeverage  int     `yaml:"long_leverage"`
	ShortLeverage int     `yaml:"short_leverage"`
	WalletPerc    float64 `yaml:"wallet_perc"`
}

// ExecutionConfig holds execution loop settings.
type ExecutionConfig struct {
	TakerFeeRate         float64 `yaml:"taker_fee_rate"`
	MarketOnSlippagePerc float64 `yaml:"market_on_slippage_perc"`
	LongTSLPerc          float64 `yaml:"long_tsl_perc"`
	ShortTSLPerc         float64 `yaml:"short_tsl_perc"`
	MaxLimitRetries      int     `yaml:"max_limit_retries"`
	ExitMaxRetries       int     `yaml:"exit_max_retries"`
	OrderPollMs          int     `yaml:"order_poll_ms"`
	StopLimitPollMs      int     `yaml:"stop_limit_poll_ms"`
	RateLimitPerSecond   int     `yaml:"rate_limit_per_second"`
}

// WebhookConfig holds webhook ingress settings.
type WebhookConfig struct {
	Addr string `yaml:"addr"`
}

// AlertingConfig holds alerting settings.
type AlertingConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Channels []ChannelConfig `yaml:"channels"`
}

// ChannelConfig holds a single alert channel configuration.
type ChannelConfig struct {
	Type     string `yaml:"type"` // console | telegram
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// MetricsConfig holds metrics server settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from YAML bytes.
func LoadFromBytes(data []byte) (*Config, error) {
	// Expand environment variables so secrets can live outside the file
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.User.Collateral == "" {
		c.User.Collateral = "USDT"
	}
	if c.User.BaseURL == "" {
		c.User.BaseURL = "https://api.bybit.com"
	}
	if c.Execution.TakerFeeRate == 0 {
		c.Execution.TakerFeeRate = 0.00075
	}
	if c.Execution.MarketOnSlippagePerc == 0 {
		c.Execution.MarketOnSlippagePerc = 3.75
	}
	if c.Execution.LongTSLPerc == 0 {
		c.Execution.LongTSLPerc = 10
	}
	if c.Execution.ShortTSLPerc == 0 {
		c.Execution.ShortTSLPerc = 10
	}
	if c.Execution.MaxLimitRetries == 0 {
		c.Execution.MaxLimitRetries = 3
	}
	if c.Execution.ExitMaxRetries == 0 {
		c.Execution.ExitMaxRetries = 1
	}
	if c.Execution.OrderPollMs == 0 {
		c.Execution.OrderPollMs = 128
	}
	if c.Execution.StopLimitPollMs == 0 {
		c.Execution.StopLimitPollMs = 64
	}
	if c.Execution.RateLimitPerSecond == 0 {
		c.Execution.RateLimitPerSecond = 40
	}
	if c.Webhook.Addr == "" {
		c.Webhook.Addr = ":5001"
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.User.APIKey == "" {
		errs = append(errs, "user.api_key is required")
	}
	if c.User.APISecret == "" {
		errs = append(errs, "user.api_secret is required")
	}

	if len(c.Tickers) == 0 {
		errs = append(errs, "at least one ticker must be configured")
	}
	for name, t := range c.Tickers {
		if t.LongLeverage <= 0 {
			errs = append(errs, fmt.Sprintf("tickers.%s.long_leverage must be positive", name))
		}
		if t.ShortLeverage <= 0 {
			errs = append(errs, fmt.Sprintf("tickers.%s.short_leverage must be positive", name))
		}
		if t.WalletPerc <= 0 || t.WalletPerc > 1 {
			errs = append(errs, fmt.Sprintf("tickers.%s.wallet_perc must be between 0 and 1", name))
		}
	}

	if c.Execution.MarketOnSlippagePerc <= 0 {
		errs = append(errs, "execution.market_on_slippage_perc must be positive")
	}
	if c.Execution.LongTSLPerc <= 0 || c.Execution.LongTSLPerc >= 100 {
		errs = append(errs, "execution.long_tsl_perc must be between 0 and 100")
	}
	if c.Execution.ShortTSLPerc <= 0 || c.Execution.ShortTSLPerc >= 100 {
		errs = append(errs, "execution.short_tsl_perc must be between 0 and 100")
	}
	if c.Execution.MaxLimitRetries < 0 {
		errs = append(errs, "execution.max_limit_retries must not be negative")
	}

	for i, ch := range c.Alerting.Channels {
		switch ch.Type {
		case "console":
		case "telegram":
			if ch.BotToken == "" || ch.ChatID == "" {
				errs = append(errs, fmt.Sprintf("alerting.channels[%d]: telegram requires bot_token and chat_id", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("alerting.channels[%d]: unknown type '%s'", i, ch.Type))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", types.ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// Leverage returns the configured leverage for a ticker and side.
func (t TickerConfig) Leverage(side types.Side) int {
	if side == types.SideBuy {
		return t.LongLeverage
	}
	return t.ShortLeverage
}

// WalletPercDecimal returns the wallet allocation percentage as decimal.
func (t TickerConfig) WalletPercDecimal() decimal.Decimal {
	return decimal.NewFromFloat(t.WalletPerc)
}

// TakerFeeRateDecimal returns the taker fee rate as decimal.
func (c *Config) TakerFeeRateDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Execution.TakerFeeRate)
}

// MarketOnSlippageDecimal returns the slippage fallback threshold in percent.
func (c *Config) MarketOnSlippageDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Execution.MarketOnSlippagePerc)
}

// LongTSLDecimal returns the long trailing-stop percentage.
func (c *Config) LongTSLDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Execution.LongTSLPerc)
}

// ShortTSLDecimal returns the short trailing-stop percentage.
func (c *Config) ShortTSLDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.Execution.ShortTSLPerc)
}

// OrderPollInterval returns the order monitoring poll interval.
func (c *Config) OrderPollInterval() time.Duration {
	return time.Duration(c.Execution.OrderPollMs) * time.Millisecond
}

// StopLimitPollInterval returns the forced-exit tightening poll interval.
func (c *Config) StopLimitPollInterval() time.Duration {
	return time.Duration(c.Execution.StopLimitPollMs) * time.Millisecond
}
