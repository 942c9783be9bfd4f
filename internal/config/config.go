// Package config loads the process configuration from the environment.
// An optional .env file in the working directory is read first; variables
// already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/atmx/trading-arena/internal/asset"
	"github.com/atmx/trading-arena/internal/model"
)

// Config holds all configuration. It is loaded once at start and never
// changes afterwards.
type Config struct {
	Server  ServerConfig
	Market  MarketConfig
	Session SessionConfig
	Redis   RedisConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Port       string
	SendBuffer int // outbound messages queued per connection
}

// MarketConfig holds the market every session trades.
type MarketConfig struct {
	Assets       asset.Universe
	Tick         float64
	InitialPrice float64
}

// SessionConfig holds default session rules and housekeeping.
type SessionConfig struct {
	StartingCash decimal.Decimal
	TickInterval time.Duration
	Duration     time.Duration
	MaxDuration  time.Duration
	Retention    time.Duration
}

// RedisConfig holds the optional event mirror connection.
type RedisConfig struct {
	URL string
}

// DefaultRules returns the rules a session gets when the host asks for none.
func (c SessionConfig) DefaultRules() model.Rules {
	return model.Rules{
		StartingCapital: c.StartingCash,
		TickInterval:    c.TickInterval,
		Duration:        c.Duration,
	}
}

// Load reads .env, if present, and then the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: reading .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() (Config, error) {
	var p parser

	assets, err := asset.ParseList(getEnv("ASSETS", "GOLD,SILVER,OIL,RICE,WHEAT"))
	if err != nil {
		p.fail("ASSETS", err)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:       getEnv("PORT", "8080"),
			SendBuffer: p.intVar("SEND_BUFFER", 64),
		},
		Market: MarketConfig{
			Assets:       assets,
			Tick:         p.floatVar("PRICE_TICK", 0.01),
			InitialPrice: p.floatVar("INITIAL_PRICE", 100),
		},
		Session: SessionConfig{
			StartingCash: p.decimalVar("DEFAULT_STARTING_CASH", "10000"),
			TickInterval: p.secondsVar("DEFAULT_TICK_SECONDS", 1),
			Duration:     p.secondsVar("DEFAULT_DURATION_SEC", 300),
			MaxDuration:  p.secondsVar("MAX_DURATION_SEC", 3600),
			Retention:    p.durationVar("SESSION_RETENTION", 10*time.Minute),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
	}
	if p.err != nil {
		return Config{}, p.err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.Server.SendBuffer <= 0:
		return invalid("SEND_BUFFER", "must be positive")
	case c.Market.Tick <= 0:
		return invalid("PRICE_TICK", "must be positive")
	case c.Market.InitialPrice < c.Market.Tick:
		return invalid("INITIAL_PRICE", "must be at least one tick")
	case !c.Session.StartingCash.IsPositive():
		return invalid("DEFAULT_STARTING_CASH", "must be positive")
	case c.Session.TickInterval <= 0:
		return invalid("DEFAULT_TICK_SECONDS", "must be positive")
	case c.Session.Duration <= 0:
		return invalid("DEFAULT_DURATION_SEC", "must be positive")
	case c.Session.MaxDuration < c.Session.Duration:
		return invalid("MAX_DURATION_SEC", "must not be below DEFAULT_DURATION_SEC")
	case c.Session.Retention <= 0:
		return invalid("SESSION_RETENTION", "must be positive")
	}
	return nil
}

// ErrInvalid is wrapped by every configuration error.
var ErrInvalid = errors.New("config: invalid value")

func invalid(key, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalid, key, reason)
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser keeps the first parse error so Load can report it with its key.
type parser struct {
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
	}
}

func (p *parser) intVar(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, err)
	}
	return n
}

func (p *parser) floatVar(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(key, err)
	}
	return f
}

func (p *parser) decimalVar(key, def string) decimal.Decimal {
	d, err := decimal.NewFromString(getEnv(key, def))
	if err != nil {
		p.fail(key, err)
	}
	return d
}

func (p *parser) secondsVar(key string, def float64) time.Duration {
	return time.Duration(p.floatVar(key, def) * float64(time.Second))
}

func (p *parser) durationVar(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, err)
	}
	return d
}
