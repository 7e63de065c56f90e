package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/STTM-NSU/crypto-buyer/internal/postgres"
)

type VenueKind string

const (
	Coinbase VenueKind = "coinbase"
	Paper    VenueKind = "paper"
)

type StoreKind string

const (
	Postgres StoreKind = "postgres"
	SQLite   StoreKind = "sqlite"
	Memory   StoreKind = "memory"
)

type ScreenerSource string

const (
	ScreenerTable ScreenerSource = "table"
	ScreenerHTTP  ScreenerSource = "http"
)

type OrdersConfig struct {
	PercentPerTrade       float64 `yaml:"percent_per_trade" env:"PERCENT_PER_TRADE"`
	MinNotional           float64 `yaml:"min_order_notional" env:"MIN_ORDER_NOTIONAL"`
	SleepBetweenOrdersSec float64 `yaml:"sleep_between_orders_sec" env:"SLEEP_BETWEEN_ORDERS_SEC"`
	SleepJitter           float64 `yaml:"sleep_jitter" env:"SLEEP_JITTER"` // 0..1 of the delay
	PollIntervalSec       float64 `yaml:"poll_interval_sec" env:"POLL_INTERVAL_SEC"`
	PollMaxTries          int     `yaml:"poll_max_tries" env:"POLL_MAX_TRIES"`
	ClientOrderPrefix     string  `yaml:"client_order_prefix" env:"CLIENT_ORDER_PREFIX"`
}

const (
	_percentPerTradeDefault    = 5.0
	_minNotionalDefault        = 1.0
	_sleepBetweenOrdersDefault = 0.8
	_pollIntervalDefault       = 0.8
	_pollMaxTriesDefault       = 25
	_clientOrderPrefixDefault  = "crypto-buyer"
)

func (c *OrdersConfig) Setup() error {
	if c.PercentPerTrade == 0 {
		c.PercentPerTrade = _percentPerTradeDefault
	}
	if c.PercentPerTrade < 0 || c.PercentPerTrade > 100 {
		return fmt.Errorf("percent per trade %v out of (0, 100]", c.PercentPerTrade)
	}
	if c.MinNotional <= 0 {
		c.MinNotional = _minNotionalDefault
	}
	if c.SleepBetweenOrdersSec < 0 {
		c.SleepBetweenOrdersSec = _sleepBetweenOrdersDefault
	}
	if c.SleepJitter < 0 || c.SleepJitter > 1 {
		c.SleepJitter = 0
	}
	if c.PollIntervalSec <= 0 {
		c.PollIntervalSec = _pollIntervalDefault
	}
	if c.PollMaxTries <= 0 {
		c.PollMaxTries = _pollMaxTriesDefault
	}
	if c.ClientOrderPrefix == "" {
		c.ClientOrderPrefix = _clientOrderPrefixDefault
	}
	return nil
}

func (c OrdersConfig) SleepBetweenOrders() time.Duration {
	return seconds(c.SleepBetweenOrdersSec)
}

func (c OrdersConfig) PollInterval() time.Duration {
	return seconds(c.PollIntervalSec)
}

type FundingConfig struct {
	SettlementCurrency  string  `yaml:"settlement_currency" env:"SETTLEMENT_CURRENCY"`
	SubstituteCurrency  string  `yaml:"substitute_currency" env:"FUNDING_CURRENCY"`
	TargetPortfolioID   string  `yaml:"target_portfolio_id" env:"TARGET_PORTFOLIO_ID"`
	TargetPortfolioName string  `yaml:"target_portfolio_name" env:"TARGET_PORTFOLIO_NAME"`
	SweepEnabled        bool    `yaml:"sweep_enabled" env:"SWEEP_ENABLED"`
	SweepDustThreshold  float64 `yaml:"sweep_dust_threshold" env:"SWEEP_DUST_THRESHOLD"`
	ConvertEnabled      bool    `yaml:"convert_enabled" env:"CONVERT_ENABLED"`
	ConvertPaddingPct   float64 `yaml:"convert_padding_pct" env:"CONVERT_PADDING_PCT"`
	ConvertSettleSec    float64 `yaml:"convert_settle_sec" env:"CONVERT_SETTLE_SEC"`
}

const (
	_settlementCurrencyDefault = "USD"
	_substituteCurrencyDefault = "USDC"
	_sweepDustDefault          = 1.0
	_convertSettleDefault      = 2.0
)

func (c *FundingConfig) Setup() error {
	c.SettlementCurrency = strings.ToUpper(strings.TrimSpace(c.SettlementCurrency))
	c.SubstituteCurrency = strings.ToUpper(strings.TrimSpace(c.SubstituteCurrency))
	c.TargetPortfolioID = strings.TrimSpace(c.TargetPortfolioID)
	c.TargetPortfolioName = strings.TrimSpace(c.TargetPortfolioName)

	if c.SettlementCurrency == "" {
		c.SettlementCurrency = _settlementCurrencyDefault
	}
	if c.SubstituteCurrency == "" {
		c.SubstituteCurrency = _substituteCurrencyDefault
	}
	if c.SubstituteCurrency == c.SettlementCurrency {
		return fmt.Errorf("substitute currency must differ from settlement currency %s", c.SettlementCurrency)
	}
	if c.SweepDustThreshold <= 0 {
		c.SweepDustThreshold = _sweepDustDefault
	}
	if c.ConvertPaddingPct < 0 {
		c.ConvertPaddingPct = 0
	}
	if c.ConvertSettleSec <= 0 {
		c.ConvertSettleSec = _convertSettleDefault
	}
	return nil
}

func (c FundingConfig) ConvertSettleDelay() time.Duration {
	return seconds(c.ConvertSettleSec)
}

type RetryConfig struct {
	Attempts  int           `yaml:"attempts" env:"RETRY_ATTEMPTS"`
	BaseDelay time.Duration `yaml:"base_delay" env:"RETRY_BASE_DELAY"`
	MaxDelay  time.Duration `yaml:"max_delay" env:"RETRY_MAX_DELAY"`
	Jitter    float64       `yaml:"jitter" env:"RETRY_JITTER"`
}

const (
	_retryAttemptsDefault  = 4
	_retryBaseDelayDefault = 500 * time.Millisecond
	_retryMaxDelayDefault  = 8 * time.Second
	_retryJitterDefault    = 0.25
)

func (c *RetryConfig) Setup() {
	if c.Attempts <= 0 {
		c.Attempts = _retryAttemptsDefault
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = _retryBaseDelayDefault
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = _retryMaxDelayDefault
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = _retryJitterDefault
	}
}

type CoinbaseConfig struct {
	BaseURL           string        `yaml:"base_url" env:"COINBASE_BASE_URL"`
	APIKey            string        `yaml:"-" env:"COINBASE_API_KEY"`
	APISecret         string        `yaml:"-" env:"COINBASE_API_SECRET"`
	Timeout           time.Duration `yaml:"timeout" env:"COINBASE_TIMEOUT"`
	RequestsPerSecond int           `yaml:"requests_per_second" env:"COINBASE_RPS"`
	OrdersPerSecond   int           `yaml:"orders_per_second" env:"COINBASE_ORDERS_RPS"`
}

const (
	_coinbaseBaseURLDefault = "https://api.coinbase.com"
	_coinbaseTimeoutDefault = 15 * time.Second
	_coinbaseRPSDefault     = 25 // 30 R/S private endpoints
	_coinbaseOrdersDefault  = 10
)

func (c *CoinbaseConfig) Setup() error {
	if c.BaseURL == "" {
		c.BaseURL = _coinbaseBaseURLDefault
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return err
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = _coinbaseTimeoutDefault
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = _coinbaseRPSDefault
	}
	if c.OrdersPerSecond <= 0 {
		c.OrdersPerSecond = _coinbaseOrdersDefault
	}
	return nil
}

type PaperBalance struct {
	Currency string  `yaml:"currency"`
	Amount   float64 `yaml:"amount"`
}

type PaperPortfolio struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Balances []PaperBalance `yaml:"balances"`
}

type PaperProduct struct {
	Price          float64 `yaml:"price"`
	BaseIncrement  float64 `yaml:"base_increment"`
	QuoteIncrement float64 `yaml:"quote_increment"`
	QuoteMinSize   float64 `yaml:"quote_min_size"`
	BaseMinSize    float64 `yaml:"base_min_size"`
}

type PaperConfig struct {
	DefaultPortfolio string                  `yaml:"default_portfolio"`
	Portfolios       []PaperPortfolio        `yaml:"portfolios"`
	Products         map[string]PaperProduct `yaml:"products"`
	FeeRate          float64                 `yaml:"fee_rate"`
	FillAfterPolls   int                     `yaml:"fill_after_polls"`
}

func (c *PaperConfig) Setup() error {
	if len(c.Portfolios) == 0 {
		return fmt.Errorf("paper venue needs at least one portfolio")
	}
	if c.DefaultPortfolio == "" {
		c.DefaultPortfolio = c.Portfolios[0].ID
	}
	if c.FeeRate < 0 {
		return fmt.Errorf("negative paper fee rate")
	}
	return nil
}

type VenueConfig struct {
	Kind     VenueKind      `yaml:"kind" env:"VENUE"`
	Coinbase CoinbaseConfig `yaml:"coinbase"`
	Paper    PaperConfig    `yaml:"paper"`
}

func (c *VenueConfig) Setup() error {
	if c.Kind == "" {
		c.Kind = Coinbase
	}
	switch c.Kind {
	case Coinbase:
		return c.Coinbase.Setup()
	case Paper:
		return c.Paper.Setup()
	default:
		return fmt.Errorf("unknown venue kind %q", c.Kind)
	}
}

type StoreConfig struct {
	Kind        StoreKind       `yaml:"kind" env:"STORE"`
	SQLitePath  string          `yaml:"sqlite_path" env:"SQLITE_PATH"`
	Postgres    postgres.Config `yaml:"postgres"`
	ScreenerTab string          `yaml:"screener_tab" env:"CRYPTO_SCREENER_TAB"`
	LogTab      string          `yaml:"log_tab" env:"CRYPTO_LOG_TAB"`
	CostTab     string          `yaml:"cost_tab" env:"CRYPTO_COST_TAB"`
}

const (
	_sqlitePathDefault  = "./crypto-buyer.db"
	_screenerTabDefault = "crypto_screener"
	_logTabDefault      = "crypto_log"
	_costTabDefault     = "crypto_cost"
)

func (c *StoreConfig) Setup() error {
	if c.Kind == "" {
		c.Kind = Postgres
	}
	switch c.Kind {
	case Postgres:
		c.Postgres.Setup()
	case SQLite:
		if c.SQLitePath == "" {
			c.SQLitePath = _sqlitePathDefault
		}
	case Memory:
	default:
		return fmt.Errorf("unknown store kind %q", c.Kind)
	}
	if c.ScreenerTab == "" {
		c.ScreenerTab = _screenerTabDefault
	}
	if c.LogTab == "" {
		c.LogTab = _logTabDefault
	}
	if c.CostTab == "" {
		c.CostTab = _costTabDefault
	}
	if c.LogTab == c.CostTab {
		return fmt.Errorf("log and cost tabs must differ")
	}
	return nil
}

type ScreenerConfig struct {
	Source  ScreenerSource `yaml:"source" env:"SCREENER_SOURCE"`
	Address string         `yaml:"address" env:"SCREENER_ADDRESS"`
	Path    string         `yaml:"path" env:"SCREENER_PATH"`
	Limit   int            `yaml:"limit" env:"SCREENER_LIMIT"`
}

const _screenerPathDefault = "/ranked"

func (c *ScreenerConfig) Setup() error {
	if c.Source == "" {
		c.Source = ScreenerTable
	}
	switch c.Source {
	case ScreenerTable:
	case ScreenerHTTP:
		if c.Address == "" {
			return fmt.Errorf("screener address is required for http source")
		}
		if _, err := url.Parse(c.Address); err != nil {
			return err
		}
		if c.Path == "" {
			c.Path = _screenerPathDefault
		}
	default:
		return fmt.Errorf("unknown screener source %q", c.Source)
	}
	if c.Limit < 0 {
		c.Limit = 0
	}
	return nil
}

type BuyerConfig struct {
	LogLevel string         `yaml:"log_level" env:"LOG_LEVEL"`
	DryRun   bool           `yaml:"dry_run" env:"DRY_RUN"`
	Orders   OrdersConfig   `yaml:"orders"`
	Funding  FundingConfig  `yaml:"funding"`
	Retry    RetryConfig    `yaml:"retry"`
	Venue    VenueConfig    `yaml:"venue"`
	Store    StoreConfig    `yaml:"store"`
	Screener ScreenerConfig `yaml:"screener"`
}

func (c *BuyerConfig) ValidateAndSetup() error {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if err := c.Orders.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup orders", err)
	}
	if err := c.Funding.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup funding", err)
	}
	c.Retry.Setup()
	if err := c.Venue.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup venue", err)
	}
	if err := c.Store.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup store", err)
	}
	if err := c.Screener.Setup(); err != nil {
		return fmt.Errorf("%w: can't setup screener", err)
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
