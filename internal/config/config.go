package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	Environment string
	DatabaseURL string
	HTTPAddr    string
	GRPCAddr    string
	Timezone    string
	RedisAddr   string
	AuditSink   string
	LogLevel    string
	GRPCToken   string
	JWTSecret   string
	JWTIssuer   string

	MaxBodyBytes      int64
	IPAllowlist       string
	RateLimitCapacity int
	RateLimitRefill   float64
	TLSCertFile       string
	TLSKeyFile        string
	TLSClientCAFile   string

	RateCacheTTL        time.Duration
	RateMaxAge          time.Duration
	RateRefreshInterval time.Duration
	ProviderTimeout     time.Duration

	ExchangeRate Provider
	CoinMarket   Provider
}

// Provider is the configuration of one external rate provider.
type Provider struct {
	APIKey  string
	BaseURL string
	Enabled bool
}

const (
	defaultHTTPAddr        = ":8080"
	defaultGRPCAddr        = ":9090"
	defaultTimezone        = "Asia/Tehran"
	defaultExchangeRateURL = "https://v6.exchangerate-api.com"
	defaultCoinMarketURL   = "https://pro-api.coinmarketcap.com"
)

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, relying on environment variables")
	}
	return LoadFromEnv()
}

// LoadFromEnv builds a Config from environment variables only.
func LoadFromEnv() (*Config, error) {
	var errs []error

	cfg := &Config{
		Environment: os.Getenv("APP_ENV"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		HTTPAddr:    getEnv("HTTP_ADDR", defaultHTTPAddr),
		GRPCAddr:    getEnv("GRPC_ADDR", defaultGRPCAddr),
		Timezone:    getEnv("TIMEZONE", defaultTimezone),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
		AuditSink:   os.Getenv("AUDIT_SINK"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		GRPCToken:   os.Getenv("GRPC_API_TOKEN"),
		JWTSecret:   os.Getenv("API_JWT_SECRET"),
		JWTIssuer:   getEnv("API_JWT_ISSUER", "ledgerd"),

		MaxBodyBytes:      int64(intEnv("API_MAX_BODY_BYTES", 1<<20, &errs)),
		IPAllowlist:       os.Getenv("API_IP_ALLOWLIST"),
		RateLimitCapacity: intEnv("API_RATE_LIMIT_CAPACITY", 20, &errs),
		RateLimitRefill:   floatEnv("API_RATE_LIMIT_REFILL_PER_SEC", 10, &errs),
		TLSCertFile:       os.Getenv("API_TLS_CERT"),
		TLSKeyFile:        os.Getenv("API_TLS_KEY"),
		TLSClientCAFile:   os.Getenv("API_TLS_CA"),

		RateCacheTTL:        durationEnv("RATE_CACHE_TTL", time.Hour, &errs),
		RateMaxAge:          durationEnv("RATE_MAX_AGE", 6*time.Hour, &errs),
		RateRefreshInterval: durationEnv("RATE_REFRESH_INTERVAL", time.Hour, &errs),
		ProviderTimeout:     durationEnv("PROVIDER_TIMEOUT", 10*time.Second, &errs),

		ExchangeRate: Provider{
			APIKey:  os.Getenv("EXCHANGERATE_API_KEY"),
			BaseURL: getEnv("EXCHANGERATE_API_URL", defaultExchangeRateURL),
			Enabled: boolEnv("USE_EXCHANGERATE_API", false, &errs),
		},
		CoinMarket: Provider{
			APIKey:  os.Getenv("COINMARKETCAP_API_KEY"),
			BaseURL: getEnv("COINMARKETCAP_API_URL", defaultCoinMarketURL),
			Enabled: boolEnv("USE_COINMARKETCAP_API", false, &errs),
		},
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var missing []string

	if c.Environment == "" {
		missing = append(missing, "APP_ENV")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.ExchangeRate.Enabled && c.ExchangeRate.APIKey == "" {
		missing = append(missing, "EXCHANGERATE_API_KEY")
	}
	if c.CoinMarket.Enabled && c.CoinMarket.APIKey == "" {
		missing = append(missing, "COINMARKETCAP_API_KEY")
	}
	if len(missing) > 0 {
		return errors.New("missing required environment variables: " + strings.Join(missing, ", "))
	}

	if !isSupportedDatabaseURL(c.DatabaseURL) {
		return errors.New("DATABASE_URL must start with sqlite://, postgres:// or postgresql://")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q is not a known zone: %w", c.Timezone, err)
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return errors.New("API_TLS_CERT and API_TLS_KEY must be set together")
	}
	if c.TLSClientCAFile != "" && c.TLSCertFile == "" {
		return errors.New("API_TLS_CA requires API_TLS_CERT and API_TLS_KEY")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL %q must be debug, info, warn or error", c.LogLevel)
	}

	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return errors.New("API_JWT_SECRET must be at least 32 bytes")
	}

	if c.IsProduction() && strings.HasPrefix(c.DatabaseURL, "sqlite://") {
		return errors.New("sqlite DATABASE_URL is not allowed in " + c.Environment)
	}
	return nil
}

// IsProduction reports whether the service runs in production or staging.
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "staging"
}

func isSupportedDatabaseURL(val string) bool {
	prefixes := []string{"sqlite://", "postgres://", "postgresql://"}
	for _, p := range prefixes {
		if strings.HasPrefix(val, p) {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration, errs *[]error) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s must be a positive duration, got %q", key, raw))
		return fallback
	}
	return d
}

func boolEnv(key string, fallback bool, errs *[]error) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a boolean, got %q", key, raw))
		return fallback
	}
	return b
}

func intEnv(key string, fallback int, errs *[]error) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		*errs = append(*errs, fmt.Errorf("%s must be a non-negative integer, got %q", key, raw))
		return fallback
	}
	return n
}

func floatEnv(key string, fallback float64, errs *[]error) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		*errs = append(*errs, fmt.Errorf("%s must be a non-negative number, got %q", key, raw))
		return fallback
	}
	return f
}
