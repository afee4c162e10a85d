package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/efreitasn/perpmatch/internal/domain"
	"github.com/efreitasn/perpmatch/internal/engine"
)

// Config holds all runtime configuration for the matching service.
type Config struct {
	Port            int
	LogLevel        string
	CrankInterval   time.Duration
	ExpireLimit     int
	SettleLimit     int
	MatchLimit      uint8
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	WebhookTimeout  time.Duration
	Markets         []MarketConfig
}

// MarketConfig describes one market as listed in MARKETS_FILE.
type MarketConfig struct {
	Name               string `yaml:"name"`
	BaseLotSize        int64  `yaml:"base_lot_size"`
	QuoteLotSize       int64  `yaml:"quote_lot_size"`
	ReduceOnly         bool   `yaml:"reduce_only"`
	BookCapacity       int    `yaml:"book_capacity"`
	EventQueueCapacity int    `yaml:"event_queue_capacity"`
	Overflow           string `yaml:"overflow"`
	OraclePrice        string `yaml:"oracle_price"`

	overflow engine.OverflowPolicy
	oracle   decimal.Decimal
}

type marketsFile struct {
	Markets []MarketConfig `yaml:"markets"`
}

// Market returns the lot description of the market.
func (m MarketConfig) Market() domain.Market {
	return domain.Market{
		Name:         m.Name,
		BaseLotSize:  m.BaseLotSize,
		QuoteLotSize: m.QuoteLotSize,
		ReduceOnly:   m.ReduceOnly,
	}
}

// Engine returns the orderbook sizing of the market.
func (m MarketConfig) Engine() engine.Config {
	return engine.Config{
		Market:             m.Market(),
		BookCapacity:       m.BookCapacity,
		EventQueueCapacity: m.EventQueueCapacity,
		Overflow:           m.overflow,
	}
}

// Oracle returns the initial oracle price, zero when none was configured.
func (m MarketConfig) Oracle() decimal.Decimal {
	return m.oracle
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	crankInterval, err := getDuration("CRANK_INTERVAL", 1*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid CRANK_INTERVAL: %w", err)
	}
	if crankInterval <= 0 {
		return nil, fmt.Errorf("invalid CRANK_INTERVAL: %v, must be positive", crankInterval)
	}

	expireLimit, err := getInt("EXPIRE_LIMIT", 64)
	if err != nil {
		return nil, fmt.Errorf("invalid EXPIRE_LIMIT: %w", err)
	}
	if expireLimit <= 0 {
		return nil, fmt.Errorf("invalid EXPIRE_LIMIT: %d, must be positive", expireLimit)
	}

	settleLimit, err := getInt("SETTLE_LIMIT", 4096)
	if err != nil {
		return nil, fmt.Errorf("invalid SETTLE_LIMIT: %w", err)
	}
	if settleLimit <= 0 {
		return nil, fmt.Errorf("invalid SETTLE_LIMIT: %d, must be positive", settleLimit)
	}

	matchLimit, err := getInt("MATCH_LIMIT", 32)
	if err != nil {
		return nil, fmt.Errorf("invalid MATCH_LIMIT: %w", err)
	}
	if matchLimit < 0 || matchLimit > 255 {
		return nil, fmt.Errorf("invalid MATCH_LIMIT: %d, must be between 0 and 255", matchLimit)
	}

	readTimeout, err := getDuration("READ_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid READ_TIMEOUT: %w", err)
	}

	writeTimeout, err := getDuration("WRITE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WRITE_TIMEOUT: %w", err)
	}

	idleTimeout, err := getDuration("IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	webhookTimeout, err := getDuration("WEBHOOK_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
	}

	var markets []MarketConfig
	if path := os.Getenv("MARKETS_FILE"); path != "" {
		markets, err = loadMarketsFile(path)
		if err != nil {
			return nil, err
		}
	} else {
		m, err := marketFromEnv()
		if err != nil {
			return nil, err
		}
		markets = []MarketConfig{m}
	}

	seen := make(map[string]bool, len(markets))
	for i := range markets {
		if err := markets[i].validate(); err != nil {
			return nil, err
		}
		if seen[markets[i].Name] {
			return nil, fmt.Errorf("duplicate market %q", markets[i].Name)
		}
		seen[markets[i].Name] = true
	}

	return &Config{
		Port:            port,
		LogLevel:        logLevel,
		CrankInterval:   crankInterval,
		ExpireLimit:     expireLimit,
		SettleLimit:     settleLimit,
		MatchLimit:      uint8(matchLimit),
		ReadTimeout:     readTimeout,
		WriteTimeout:    writeTimeout,
		IdleTimeout:     idleTimeout,
		ShutdownTimeout: shutdownTimeout,
		WebhookTimeout:  webhookTimeout,
		Markets:         markets,
	}, nil
}

func loadMarketsFile(path string) ([]MarketConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read MARKETS_FILE: %w", err)
	}
	var f marketsFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &f); err != nil {
		return nil, fmt.Errorf("parse MARKETS_FILE: %w", err)
	}
	if len(f.Markets) == 0 {
		return nil, fmt.Errorf("MARKETS_FILE %s lists no markets", path)
	}
	for i := range f.Markets {
		f.Markets[i].applyDefaults()
	}
	return f.Markets, nil
}

func marketFromEnv() (MarketConfig, error) {
	m := MarketConfig{
		Name:        getStr("MARKET_NAME", "BTC-PERP"),
		Overflow:    getStr("EVENT_OVERFLOW", "reject"),
		OraclePrice: os.Getenv("MARKET_ORACLE_PRICE"),
		ReduceOnly:  os.Getenv("MARKET_REDUCE_ONLY") == "true",
	}
	var err error
	if m.BaseLotSize, err = getInt64("MARKET_BASE_LOT_SIZE", 1); err != nil {
		return m, fmt.Errorf("invalid MARKET_BASE_LOT_SIZE: %w", err)
	}
	if m.QuoteLotSize, err = getInt64("MARKET_QUOTE_LOT_SIZE", 1); err != nil {
		return m, fmt.Errorf("invalid MARKET_QUOTE_LOT_SIZE: %w", err)
	}
	if m.BookCapacity, err = getInt("BOOK_CAPACITY", 0); err != nil {
		return m, fmt.Errorf("invalid BOOK_CAPACITY: %w", err)
	}
	if m.EventQueueCapacity, err = getInt("EVENT_QUEUE_CAPACITY", 0); err != nil {
		return m, fmt.Errorf("invalid EVENT_QUEUE_CAPACITY: %w", err)
	}
	m.applyDefaults()
	return m, nil
}

func (m *MarketConfig) applyDefaults() {
	if m.BookCapacity == 0 {
		m.BookCapacity = 1024
	}
	if m.EventQueueCapacity == 0 {
		m.EventQueueCapacity = 488
	}
}

func (m *MarketConfig) validate() error {
	if err := m.Market().Validate(); err != nil {
		return err
	}
	if m.BookCapacity < 0 || m.BookCapacity > 1<<20 {
		return fmt.Errorf("market %s: book_capacity %d out of range", m.Name, m.BookCapacity)
	}
	if m.EventQueueCapacity < 0 {
		return fmt.Errorf("market %s: event_queue_capacity %d must be positive", m.Name, m.EventQueueCapacity)
	}
	policy, err := engine.ParseOverflowPolicy(m.Overflow)
	if err != nil {
		return fmt.Errorf("market %s: %w", m.Name, err)
	}
	m.overflow = policy
	if m.OraclePrice != "" {
		price, err := decimal.NewFromString(m.OraclePrice)
		if err != nil || price.IsNegative() {
			return fmt.Errorf("market %s: invalid oracle_price %q", m.Name, m.OraclePrice)
		}
		m.oracle = price
	}
	return nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
