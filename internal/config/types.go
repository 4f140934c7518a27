package config

import "time"

// ledger backends
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// holds all runtime configuration, populated from the environment
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	JWTSecret   string `envconfig:"JWT_SECRET" required:"true"`

	LedgerBackend string        `envconfig:"LEDGER_BACKEND" default:"postgres"`
	DatabaseURL   string        `envconfig:"DATABASE_URL"`
	RedisURL      string        `envconfig:"REDIS_URL"`
	LedgerTimeout time.Duration `envconfig:"LEDGER_TIMEOUT" default:"5s"`
	AccountTTL    time.Duration `envconfig:"ACCOUNT_CACHE_TTL" default:"5m"`

	AnthropicKey   string `envconfig:"ANTHROPIC_API_KEY" required:"true"`
	AnthropicModel string `envconfig:"ANTHROPIC_MODEL" default:"claude-sonnet-4-20250514"`

	Payment PaymentConfig `ignored:"true"`

	// credits granted by the daily claim endpoint, 0 disables it
	DailyFreeCredits int64 `envconfig:"DAILY_FREE_CREDITS" default:"0"`

	// ulule/limiter formatted rate, e.g. "60-M"
	RateLimit string `envconfig:"RATE_LIMIT" default:"60-M"`

	// comma separated browser origins allowed to call the API
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// settlement network and pricing settings
type PaymentConfig struct {
	RPCURL            string        `envconfig:"SOLANA_RPC_URL" default:"https://api.mainnet-beta.solana.com"`
	Network           string        `envconfig:"PAYMENT_NETWORK" default:"solana"`
	Recipient         string        `envconfig:"PAYMENT_RECIPIENT" required:"true"`
	UnitPriceUSD      string        `envconfig:"CREDIT_UNIT_PRICE_USD" default:"0.10"`
	ExpiresSeconds    int           `envconfig:"PAYMENT_EXPIRES_SECONDS" default:"300"`
	MaxAge            time.Duration `envconfig:"PAYMENT_MAX_AGE" default:"24h"`
	USDCMint          string        `envconfig:"USDC_MINT" default:"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"`
	USDTMint          string        `envconfig:"USDT_MINT" default:"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"`
	SettlementTimeout time.Duration `envconfig:"SETTLEMENT_TIMEOUT" default:"10s"`
	StaleAfter        time.Duration `envconfig:"PAYMENT_STALE_AFTER" default:"1m"`
	NotFoundGrace     time.Duration `envconfig:"PAYMENT_NOT_FOUND_GRACE" default:"90s"`
	RPCRatePerSecond  float64       `envconfig:"SOLANA_RPC_RPS" default:"10"`

	// parsed from UnitPriceUSD by Load
	UnitPriceMicros int64 `ignored:"true"`
}
