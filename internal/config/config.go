// Package config defines all configuration for the weather trading agent.
// Config is loaded from an optional YAML file (default: configs/config.yaml)
// with every tunable overridable via its documented environment variable
// (WEATHER_EDGE_THRESHOLD, MAX_DAILY_LOSS_USD, ...).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration.
type Config struct {
	DryRun   bool           `mapstructure:"dry_run"`
	Weather  WeatherConfig  `mapstructure:"weather"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Position PositionConfig `mapstructure:"position"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	API      APIConfig      `mapstructure:"api"`
	Store    StoreConfig    `mapstructure:"store"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// WeatherConfig tunes discovery, forecasting, and signal generation.
//
//   - EdgeThreshold: minimum friction-adjusted edge before a signal fires.
//   - MaxLeadDays: ignore markets resolving further out than this.
//   - DiscoveryInterval: period between catalog refreshes.
//   - ForecastRefresh: period between monitor cycles.
//   - ObservationPoll: day-of observation poll period.
//   - MinParserConfidence: lower bound for admitting a parsed market.
type WeatherConfig struct {
	EdgeThreshold       float64       `mapstructure:"edge_threshold"`
	MaxLeadDays         int           `mapstructure:"max_lead_days"`
	DiscoveryInterval   time.Duration `mapstructure:"discovery_interval"`
	ForecastRefresh     time.Duration `mapstructure:"forecast_refresh"`
	ObservationPoll     time.Duration `mapstructure:"observation_poll"`
	MinParserConfidence float64       `mapstructure:"min_parser_confidence"`
}

// RiskConfig sets hard exposure limits and the daily-loss kill switch.
//
//   - MaxPerMarketUSD / MaxPerRegionUSD / MaxPerDateUSD: exposure caps.
//   - MaxDailyLossUSD: realized daily loss that pauses all trading.
//   - MaxDataAge: reject trades when forecast data is older than this.
//   - MinOrderUSD / MaxOrderUSD: acceptable order-size band.
//   - MTMKillSwitch: also count unrealized (mark-to-market) losses toward
//     the daily stop. Off by default.
type RiskConfig struct {
	MaxPerMarketUSD float64       `mapstructure:"max_per_market_usd"`
	MaxPerRegionUSD float64       `mapstructure:"max_per_region_usd"`
	MaxPerDateUSD   float64       `mapstructure:"max_per_date_usd"`
	MaxDailyLossUSD float64       `mapstructure:"max_daily_loss_usd"`
	MaxDataAge      time.Duration `mapstructure:"max_data_age"`
	MinOrderUSD     float64       `mapstructure:"min_order_usd"`
	MaxOrderUSD     float64       `mapstructure:"max_order_usd"`
	MTMKillSwitch   bool          `mapstructure:"mtm_kill_switch"`
}

// ExecutorConfig controls the signal consumer loop.
type ExecutorConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// PositionConfig controls inventory management: stop-loss, take-profit and
// trailing stop, each independently switchable. Percents are PnL percent of
// entry price. MinPriceRatioPct guards against dumping into a thin book: a
// triggered sell is skipped while best bid < curPrice * ratio / 100.
type PositionConfig struct {
	CheckInterval       time.Duration `mapstructure:"check_interval"`
	StopLossEnabled     bool          `mapstructure:"stop_loss_enabled"`
	StopLossPercent     float64       `mapstructure:"stop_loss_percent"`
	TakeProfitEnabled   bool          `mapstructure:"take_profit_enabled"`
	TakeProfitPercent   float64       `mapstructure:"take_profit_percent"`
	TrailingStopEnabled bool          `mapstructure:"trailing_stop_enabled"`
	TrailingStopPercent float64       `mapstructure:"trailing_stop_percent"`
	MinPriceRatioPct    float64       `mapstructure:"min_price_ratio_pct"`
}

// WalletConfig holds the wallet used for signing orders and redemptions.
// PrivateKey signs L1 (EIP-712) auth and derives L2 API keys.
// FunderAddress is the on-chain address funding orders (may differ from the
// signer when a proxy wallet is used).
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	SignatureType int    `mapstructure:"signature_type"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
}

// APIConfig holds venue and data-provider endpoints plus optional
// pre-derived L2 credentials. If ApiKey/Secret/Passphrase are empty, the
// agent derives them via L1 auth on startup.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	DataBaseURL  string `mapstructure:"data_base_url"`
	WSMarketURL  string `mapstructure:"ws_market_url"`
	RPCURL       string `mapstructure:"rpc_url"`
	ApiKey       string `mapstructure:"api_key"`
	Secret       string `mapstructure:"secret"`
	Passphrase   string `mapstructure:"passphrase"`
}

// StoreConfig sets where state (position peaks, paper ledger) is persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// NotifyConfig configures the optional webhook sink. Empty URL disables it.
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envBindings maps each documented environment variable to its config key.
var envBindings = map[string]string{
	"weather.edge_threshold":         "WEATHER_EDGE_THRESHOLD",
	"weather.max_lead_days":          "WEATHER_MAX_LEAD_DAYS",
	"weather.discovery_interval":     "WEATHER_DISCOVERY_INTERVAL_MS",
	"weather.forecast_refresh":       "WEATHER_FORECAST_REFRESH_MS",
	"weather.observation_poll":       "WEATHER_OBSERVATION_POLL_MS",
	"weather.min_parser_confidence":  "WEATHER_MIN_PARSER_CONFIDENCE",
	"dry_run":                        "WEATHER_DRY_RUN",
	"risk.max_per_market_usd":        "MAX_EXPOSURE_PER_MARKET_USD",
	"risk.max_per_region_usd":        "MAX_EXPOSURE_PER_REGION_USD",
	"risk.max_per_date_usd":          "MAX_EXPOSURE_PER_DATE_USD",
	"risk.max_daily_loss_usd":        "MAX_DAILY_LOSS_USD",
	"risk.max_data_age":              "MAX_DATA_AGE_MS",
	"risk.min_order_usd":             "MIN_ORDER_SIZE_USD",
	"risk.max_order_usd":             "MAX_ORDER_SIZE_USD",
	"risk.mtm_kill_switch":           "RISK_MTM_KILL_SWITCH",
	"executor.poll_interval":         "EXECUTOR_POLL_INTERVAL_MS",
	"position.check_interval":        "POSITION_CHECK_INTERVAL_MS",
	"position.stop_loss_enabled":     "STOP_LOSS_ENABLED",
	"position.stop_loss_percent":     "STOP_LOSS_PERCENT",
	"position.take_profit_enabled":   "TAKE_PROFIT_ENABLED",
	"position.take_profit_percent":   "TAKE_PROFIT_PERCENT",
	"position.trailing_stop_enabled": "TRAILING_STOP_ENABLED",
	"position.trailing_stop_percent": "TRAILING_STOP_PERCENT",
	"position.min_price_ratio_pct":   "SL_TP_MIN_PRICE_PERCENT",
	"wallet.private_key":             "WALLET_PRIVATE_KEY",
	"wallet.funder_address":          "WALLET_FUNDER_ADDRESS",
	"wallet.signature_type":          "WALLET_SIGNATURE_TYPE",
	"wallet.chain_id":                "WALLET_CHAIN_ID",
	"api.api_key":                    "CLOB_API_KEY",
	"api.secret":                     "CLOB_API_SECRET",
	"api.passphrase":                 "CLOB_PASSPHRASE",
	"api.rpc_url":                    "POLYGON_RPC_URL",
	"notify.webhook_url":             "NOTIFY_WEBHOOK_URL",
	"logging.level":                  "LOG_LEVEL",
	"logging.format":                 "LOG_FORMAT",
}

// millisecondKeys are duration fields whose env/YAML value is a plain
// millisecond count rather than a Go duration string.
var millisecondKeys = []string{
	"weather.discovery_interval",
	"weather.forecast_refresh",
	"weather.observation_poll",
	"risk.max_data_age",
	"executor.poll_interval",
	"position.check_interval",
}

// Load reads config from an optional YAML file with env var overrides.
// A missing file is not an error; defaults plus environment suffice.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	// Interval keys are documented as millisecond counts. Convert before
	// unmarshal so time.Duration fields decode correctly.
	for _, key := range millisecondKeys {
		if ms := v.GetInt64(key); ms > 0 {
			v.Set(key, time.Duration(ms)*time.Millisecond)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dry_run", false)

	v.SetDefault("weather.edge_threshold", 0.03)
	v.SetDefault("weather.max_lead_days", 7)
	v.SetDefault("weather.discovery_interval", int64(3600000))
	v.SetDefault("weather.forecast_refresh", int64(1800000))
	v.SetDefault("weather.observation_poll", int64(300000))
	v.SetDefault("weather.min_parser_confidence", 0.8)

	v.SetDefault("risk.max_per_market_usd", 50.0)
	v.SetDefault("risk.max_per_region_usd", 200.0)
	v.SetDefault("risk.max_per_date_usd", 300.0)
	v.SetDefault("risk.max_daily_loss_usd", 100.0)
	v.SetDefault("risk.max_data_age", int64(3600000))
	v.SetDefault("risk.min_order_usd", 1.0)
	v.SetDefault("risk.max_order_usd", 25.0)
	v.SetDefault("risk.mtm_kill_switch", false)

	v.SetDefault("executor.poll_interval", int64(5000))

	v.SetDefault("position.check_interval", int64(60000))
	v.SetDefault("position.stop_loss_enabled", false)
	v.SetDefault("position.stop_loss_percent", 20.0)
	v.SetDefault("position.take_profit_enabled", false)
	v.SetDefault("position.take_profit_percent", 50.0)
	v.SetDefault("position.trailing_stop_enabled", false)
	v.SetDefault("position.trailing_stop_percent", 15.0)
	v.SetDefault("position.min_price_ratio_pct", 50.0)

	v.SetDefault("wallet.chain_id", 137)
	v.SetDefault("wallet.signature_type", 0)

	v.SetDefault("api.clob_base_url", "https://clob.polymarket.com")
	v.SetDefault("api.gamma_base_url", "https://gamma-api.polymarket.com")
	v.SetDefault("api.data_base_url", "https://data-api.polymarket.com")
	v.SetDefault("api.ws_market_url", "wss://ws-subscriptions-clob.polymarket.com/ws/market")
	v.SetDefault("api.rpc_url", "https://polygon-rpc.com")

	v.SetDefault("store.data_dir", "data")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks required fields and value ranges. First failing check wins.
func (c *Config) Validate() error {
	if c.Weather.EdgeThreshold <= 0 || c.Weather.EdgeThreshold >= 1 {
		return fmt.Errorf("weather.edge_threshold must be in (0, 1)")
	}
	if c.Weather.MaxLeadDays < 0 {
		return fmt.Errorf("weather.max_lead_days must be >= 0")
	}
	if c.Weather.MinParserConfidence < 0 || c.Weather.MinParserConfidence > 1 {
		return fmt.Errorf("weather.min_parser_confidence must be in [0, 1]")
	}
	if c.Risk.MaxPerMarketUSD <= 0 {
		return fmt.Errorf("risk.max_per_market_usd must be > 0")
	}
	if c.Risk.MaxPerRegionUSD < c.Risk.MaxPerMarketUSD {
		return fmt.Errorf("risk.max_per_region_usd must be >= risk.max_per_market_usd")
	}
	if c.Risk.MaxDailyLossUSD <= 0 {
		return fmt.Errorf("risk.max_daily_loss_usd must be > 0")
	}
	if c.Risk.MinOrderUSD <= 0 || c.Risk.MaxOrderUSD < c.Risk.MinOrderUSD {
		return fmt.Errorf("order size band invalid: min=%v max=%v", c.Risk.MinOrderUSD, c.Risk.MaxOrderUSD)
	}
	if !c.DryRun {
		if c.Wallet.PrivateKey == "" {
			return fmt.Errorf("wallet.private_key is required for live trading (set WALLET_PRIVATE_KEY or WEATHER_DRY_RUN=true)")
		}
		if c.Wallet.ChainID == 0 {
			return fmt.Errorf("wallet.chain_id is required (137 for mainnet)")
		}
		switch c.Wallet.SignatureType {
		case 0, 1, 2:
		default:
			return fmt.Errorf("wallet.signature_type must be one of: 0 (EOA), 1 (POLY_PROXY), 2 (GNOSIS_SAFE)")
		}
		if c.Wallet.SignatureType != 0 && c.Wallet.FunderAddress == "" {
			return fmt.Errorf("wallet.funder_address is required when wallet.signature_type is 1 or 2")
		}
	}
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.API.GammaBaseURL == "" {
		return fmt.Errorf("api.gamma_base_url is required")
	}
	return nil
}
