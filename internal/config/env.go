package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// loads configuration from environment variables (and .env when present)
func LoadEnvironmentVariables() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		_ = err // not an error - production environments may not have .env file
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := envconfig.Process("", &cfg.Payment); err != nil {
		return nil, fmt.Errorf("failed to read payment environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.LedgerBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is required for the postgres ledger")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("LEDGER_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.LedgerBackend)
	}

	micros, err := ParseUSDMicros(c.Payment.UnitPriceUSD)
	if err != nil {
		return fmt.Errorf("CREDIT_UNIT_PRICE_USD: %w", err)
	}

	if micros <= 0 {
		return fmt.Errorf("CREDIT_UNIT_PRICE_USD must be positive")
	}

	c.Payment.UnitPriceMicros = micros

	if c.Payment.ExpiresSeconds <= 0 {
		return fmt.Errorf("PAYMENT_EXPIRES_SECONDS must be positive")
	}

	if c.DailyFreeCredits < 0 {
		return fmt.Errorf("DAILY_FREE_CREDITS cannot be negative")
	}

	return nil
}

// reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// converts a decimal dollar string ("0.10") into millionths of a dollar
// without going through float64
func ParseUSDMicros(s string) (int64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	whole, frac, _ := strings.Cut(s, ".")
	if len(frac) > 6 {
		return 0, fmt.Errorf("amount %q has more than 6 decimal places", s)
	}

	if whole == "" {
		whole = "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || w < 0 {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	frac += strings.Repeat("0", 6-len(frac))
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}

	return w*1_000_000 + f, nil
}
