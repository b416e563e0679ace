package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration: an optional YAML file
// overlaid by environment variables.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`

	DefaultExchange string `yaml:"default_exchange"`
	DefaultSymbol   string `yaml:"default_symbol"`

	// Exchanges
	BinanceBaseURL string        `yaml:"binance_base_url"`
	BybitBaseURL   string        `yaml:"bybit_base_url"`
	RateLimit      time.Duration `yaml:"rate_limit"` // minimum spacing between upstream requests
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Circuit breaker per exchange
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`

	CacheTTL CacheTTL `yaml:"cache_ttl"`

	// Infrastructure. Empty RedisAddr keeps the cache in memory; empty
	// SQLitePath disables the candle archive.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	SQLitePath    string `yaml:"sqlite_path"`

	WarmCron    string `yaml:"warm_cron"`
	WarmOnStart bool   `yaml:"warm_on_start"`
}

// CacheTTL is the freshness window per analytics endpoint.
type CacheTTL struct {
	Heatmap     time.Duration `yaml:"heatmap"`
	MVRV        time.Duration `yaml:"mvrv"`
	PiCycle     time.Duration `yaml:"pi_cycle"`
	StockToFlow time.Duration `yaml:"stock_to_flow"`
	Technical   time.Duration `yaml:"technical"`
}

const defaultTTL = 5 * time.Minute

// Load reads path (missing is fine), then .env, then environment overrides,
// then fills defaults and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	// .env never overrides variables already set in the environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] ignoring .env: %v", err)
	}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = getEnv("METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultExchange = strings.ToLower(getEnv("DEFAULT_EXCHANGE", cfg.DefaultExchange))
	cfg.DefaultSymbol = getEnv("DEFAULT_SYMBOL", cfg.DefaultSymbol)
	cfg.BinanceBaseURL = getEnv("BINANCE_BASE_URL", cfg.BinanceBaseURL)
	cfg.BybitBaseURL = getEnv("BYBIT_BASE_URL", cfg.BybitBaseURL)
	cfg.RateLimit = getEnvMillis("RATE_LIMIT_MS", cfg.RateLimit)
	cfg.RequestTimeout = getEnvDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.BreakerFailures = getEnvInt("BREAKER_FAILURES", cfg.BreakerFailures)
	cfg.BreakerCooldown = getEnvDuration("BREAKER_COOLDOWN", cfg.BreakerCooldown)
	cfg.CacheTTL.Heatmap = getEnvDuration("CACHE_TTL_HEATMAP", cfg.CacheTTL.Heatmap)
	cfg.CacheTTL.MVRV = getEnvDuration("CACHE_TTL_MVRV", cfg.CacheTTL.MVRV)
	cfg.CacheTTL.PiCycle = getEnvDuration("CACHE_TTL_PI_CYCLE", cfg.CacheTTL.PiCycle)
	cfg.CacheTTL.StockToFlow = getEnvDuration("CACHE_TTL_STOCK_TO_FLOW", cfg.CacheTTL.StockToFlow)
	cfg.CacheTTL.Technical = getEnvDuration("CACHE_TTL_TECHNICAL", cfg.CacheTTL.Technical)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.RedisDB = getEnvInt("REDIS_DB", cfg.RedisDB)
	cfg.SQLitePath = getEnv("SQLITE_PATH", cfg.SQLitePath)
	cfg.WarmCron = getEnv("WARM_CRON", cfg.WarmCron)
	cfg.WarmOnStart = getEnvBool("WARM_ON_START", cfg.WarmOnStart)

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.HTTPAddr, ":8080")
	setDefault(&c.MetricsAddr, ":9090")
	setDefault(&c.LogLevel, "info")
	setDefault(&c.DefaultExchange, "binance")
	setDefault(&c.DefaultSymbol, "BTC/USDT")
	setDefault(&c.WarmCron, "*/15 * * * *")
	if c.RateLimit == 0 {
		c.RateLimit = 250 * time.Millisecond
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	for _, ttl := range []*time.Duration{
		&c.CacheTTL.Heatmap, &c.CacheTTL.MVRV, &c.CacheTTL.PiCycle,
		&c.CacheTTL.StockToFlow, &c.CacheTTL.Technical,
	} {
		if *ttl == 0 {
			*ttl = defaultTTL
		}
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.DefaultExchange {
	case "binance", "bybit":
	default:
		return fmt.Errorf("config: DEFAULT_EXCHANGE must be binance or bybit, got %q", c.DefaultExchange)
	}
	if !strings.Contains(c.DefaultSymbol, "/") {
		return fmt.Errorf("config: DEFAULT_SYMBOL must look like BASE/QUOTE, got %q", c.DefaultSymbol)
	}
	if c.RateLimit < 0 || c.RequestTimeout < 0 || c.BreakerCooldown < 0 {
		return errors.New("config: durations must not be negative")
	}
	if c.BreakerFailures < 1 {
		return fmt.Errorf("config: BREAKER_FAILURES must be at least 1, got %d", c.BreakerFailures)
	}
	if _, err := cron.ParseStandard(c.WarmCron); err != nil {
		return fmt.Errorf("config: WARM_CRON %q: %w", c.WarmCron, err)
	}
	for name, ttl := range map[string]time.Duration{
		"heatmap": c.CacheTTL.Heatmap, "mvrv": c.CacheTTL.MVRV, "pi_cycle": c.CacheTTL.PiCycle,
		"stock_to_flow": c.CacheTTL.StockToFlow, "technical": c.CacheTTL.Technical,
	} {
		if ttl < 0 {
			return fmt.Errorf("config: cache ttl %s must not be negative", name)
		}
	}
	return nil
}

func setDefault(v *string, fallback string) {
	if *v == "" {
		*v = fallback
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %t", key, v, fallback)
		return fallback
	}
	return b
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
	return fallback
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}
