// Package config
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/amirphl/cross-trader/internal/traderr"
)

/*
YAML config example:

mode: "live"
log_level: "info"
log_file: "cross-trader.log"
db_conn_str: "${DB_CONN_STR}"
queue_size: 4096
track_period: 500ms
accounts:
  - name: "wallex-main"
    venue: "wallex"
    api_key: "${WALLEX_API_KEY}"
strategies:
  - id: 1
    name: "btc-quoter"
    executor: "spread-quoter"
    account: "wallex-main"
    enabled: true
    symbols: ["BTC-USDT"]
    props:
      order_alive_time: "5000"
      order_risk_rate: "0.001"
      min_order_quantity: "0.0001"
      max_position_quantity_1k: "100"
      stat_delta: "0.2"
*/

// Recognized property keys.
const (
	KeyOrderAliveTime   = "order_alive_time" // milliseconds
	KeyOrderRiskRate    = "order_risk_rate"
	KeyMinOrderQuantity = "min_order_quantity"
	KeyMaxPositionQty1K = "max_position_quantity_1k"
	KeyStatDelta        = "stat_delta"
)

// DefaultStatDelta applies when a strategy sets no stat_delta.
var DefaultStatDelta = decimal.RequireFromString("0.2")

// Props is the open string-keyed property map carried by account and strategy
// configs. Typed accessors fail with a config error on malformed values and
// fall back to the given default when the key is absent.
type Props map[string]string

// String returns the raw value or def when absent.
func (p Props) String(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Int parses an integer property.
func (p Props) Int(key string, def int64) (int64, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, traderr.Wrap(traderr.KindConfig, err, "property %s=%q is not an integer", key, v)
	}
	return n, nil
}

// Decimal parses a decimal property.
func (p Props) Decimal(key string, def decimal.Decimal) (decimal.Decimal, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, traderr.Wrap(traderr.KindConfig, err, "property %s=%q is not a number", key, v)
	}
	return d, nil
}

// Millis parses a millisecond-count property into a duration.
func (p Props) Millis(key string, def time.Duration) (time.Duration, error) {
	n, err := p.Int(key, int64(def/time.Millisecond))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

// OrderAliveTime returns the replace trigger age.
func (p Props) OrderAliveTime() (time.Duration, error) {
	return p.Millis(KeyOrderAliveTime, 0)
}

// OrderRiskRate returns the adverse-price trigger fraction.
func (p Props) OrderRiskRate() (decimal.Decimal, error) {
	return p.Decimal(KeyOrderRiskRate, decimal.Zero)
}

// MinOrderQuantity returns the replacement floor.
func (p Props) MinOrderQuantity() (decimal.Decimal, error) {
	return p.Decimal(KeyMinOrderQuantity, decimal.Zero)
}

// MaxPositionQuantity returns the risk-control threshold in units. The stored
// value is in thousands.
func (p Props) MaxPositionQuantity() (decimal.Decimal, error) {
	v, err := p.Decimal(KeyMaxPositionQty1K, decimal.Zero)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Mul(decimal.NewFromInt(1000)), nil
}

// StatDelta returns the hedging split divisor.
func (p Props) StatDelta() (decimal.Decimal, error) {
	return p.Decimal(KeyStatDelta, DefaultStatDelta)
}

// AccountConfig binds an account name to a venue and its credentials.
type AccountConfig struct {
	Name   string `yaml:"name"`
	Venue  string `yaml:"venue"` // "wallex" or "sim"
	APIKey string `yaml:"api_key"`
	Props  Props  `yaml:"props"`
}

// StrategyConfig is the stored description of one strategy instance. The
// running copy lives in its runtime; this struct is mutated only through the
// coordinator.
type StrategyConfig struct {
	ID       int64    `yaml:"id"`
	Name     string   `yaml:"name"`
	Executor string   `yaml:"executor"`
	Account  string   `yaml:"account"`
	Enabled  bool     `yaml:"enabled"`
	Symbols  []string `yaml:"symbols"`
	Props    Props    `yaml:"props"`
}

// Config is the process configuration.
type Config struct {
	Mode     string `yaml:"mode"` // "live" or "paper"
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	DBConnStr string `yaml:"db_conn_str"`
	DBMaxOpen int    `yaml:"db_max_open"`
	DBMaxIdle int    `yaml:"db_max_idle"`

	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`

	QueueSize   int           `yaml:"queue_size"`
	TrackPeriod time.Duration `yaml:"track_period"`

	Accounts   []AccountConfig  `yaml:"accounts"`
	Strategies []StrategyConfig `yaml:"strategies"`
}

// Validate rejects configurations the engine cannot run.
func (c Config) Validate() error {
	if c.Mode != "live" && c.Mode != "paper" {
		return traderr.New(traderr.KindConfig, "unknown mode %q", c.Mode)
	}
	accounts := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.Name == "" {
			return traderr.New(traderr.KindConfig, "account with empty name")
		}
		if accounts[a.Name] {
			return traderr.New(traderr.KindConfig, "duplicate account %q", a.Name)
		}
		accounts[a.Name] = true
	}
	ids := make(map[int64]bool, len(c.Strategies))
	names := make(map[string]bool, len(c.Strategies))
	for _, s := range c.Strategies {
		if s.Name == "" || s.Executor == "" {
			return traderr.New(traderr.KindConfig, "strategy %d missing name or executor", s.ID)
		}
		if ids[s.ID] {
			return traderr.New(traderr.KindConfig, "duplicate strategy id %d", s.ID)
		}
		if names[s.Name] {
			return traderr.New(traderr.KindConfig, "duplicate strategy name %q", s.Name)
		}
		ids[s.ID] = true
		names[s.Name] = true
		if !accounts[s.Account] {
			return traderr.New(traderr.KindConfig, "strategy %q references unknown account %q", s.Name, s.Account)
		}
	}
	return nil
}

// Load reads configuration from flags, an optional .env file, and the YAML
// config file. ${VAR} values in the YAML expand from the environment.
func Load(args []string) (Config, error) {
	fs := flag.NewFlagSet("cross-trader", flag.ContinueOnError)
	configFile := fs.String("config", "config.yaml", "Path to YAML config file")
	mode := fs.String("mode", "", "Override mode: live or paper")
	logLevel := fs.String("log-level", "", "Override log level")
	if err := fs.Parse(args); err != nil {
		return Config{}, traderr.Wrap(traderr.KindConfig, err, "flag parsing failed")
	}

	// Missing .env is fine; secrets may come from the real environment.
	_ = godotenv.Load()

	data, err := os.ReadFile(*configFile)
	if err != nil {
		return Config{}, traderr.Wrap(traderr.KindConfig, err, "failed to read config file %s", *configFile)
	}
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Config{
		Mode:        "live",
		LogLevel:    "info",
		DBMaxOpen:   10,
		DBMaxIdle:   5,
		QueueSize:   4096,
		TrackPeriod: 500 * time.Millisecond,
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, traderr.Wrap(traderr.KindConfig, err, "failed to parse config file %s", *configFile)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Strategy finds a strategy config by name.
func (c Config) Strategy(name string) (StrategyConfig, error) {
	for _, s := range c.Strategies {
		if s.Name == name {
			return s, nil
		}
	}
	return StrategyConfig{}, traderr.New(traderr.KindConfig, "unknown strategy %q", name)
}

// Account finds an account config by name.
func (c Config) Account(name string) (AccountConfig, error) {
	for _, a := range c.Accounts {
		if a.Name == name {
			return a, nil
		}
	}
	return AccountConfig{}, traderr.New(traderr.KindConfig, "unknown account %q", name)
}

// Clone deep-copies a strategy config so a runtime never aliases the stored
// property map.
func (s StrategyConfig) Clone() StrategyConfig {
	out := s
	out.Symbols = append([]string(nil), s.Symbols...)
	out.Props = make(Props, len(s.Props))
	for k, v := range s.Props {
		out.Props[k] = v
	}
	return out
}

// Identity renders the coordinator's map key for this config.
func (s StrategyConfig) Identity() string {
	return fmt.Sprintf("%d/%s", s.ID, s.Name)
}
