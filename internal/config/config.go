package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"bonanza-lottery/internal/service"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Security   SecurityConfig   `json:"security"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Lottery    LotteryConfig    `json:"lottery"`
	Chain      ChainConfig      `json:"chain"`
	Admin      AdminConfig      `json:"admin"`
	Coupon     CouponConfig     `json:"coupon"`
	Keeper     KeeperConfig     `json:"keeper"`
	Redis      RedisConfig      `json:"redis"`
	Tracing    TracingConfig    `json:"tracing"`
	Auth       AuthConfig       `json:"auth"`
	Logging    LoggingConfig    `json:"logging"`
	Randomness RandomnessConfig `json:"randomness"`
	Features   map[string]bool  `json:"features"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `json:"port"`
	Host            string `json:"host"`
	EnableTLS       bool   `json:"enable_tls"`
	CertFile        string `json:"cert_file"`
	KeyFile         string `json:"key_file"`
	ShutdownTimeout int    `json:"shutdown_timeout"` // in seconds
}

// DatabaseConfig holds database-related configuration. DSN is a sqlite path or file: URI,
// or a libsql:// / https:// URL for a remote libSQL server.
type DatabaseConfig struct {
	DSN string `json:"dsn"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes (default: 1MB)
	MaxRequestBodySize int64 `json:"max_request_body_size"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins string `json:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled"`
	Rate    int  `json:"rate"`
	Window  int  `json:"window"` // in seconds
}

// LotteryConfig holds the engine constants. Amounts are decimal strings in whole tokens,
// lengths are in seconds and rates in basis points.
type LotteryConfig struct {
	TokenDecimals         int32  `json:"token_decimals"`
	MinJackpotPrize       string `json:"min_jackpot_prize"`
	InjectionAmount       string `json:"injection_amount"`
	MinPriceTicket        string `json:"min_price_ticket"`
	MaxPriceTicket        string `json:"max_price_ticket"`
	MinRoundLength        int64  `json:"min_round_length"`
	MaxRoundLength        int64  `json:"max_round_length"`
	MaxTicketsPerBuy      int    `json:"max_tickets_per_buy"`
	MaxTicketsPerClaim    int    `json:"max_tickets_per_claim"`
	JackpotRate           uint64 `json:"jackpot_rate"`
	GuaranteeFundRate     uint64 `json:"guarantee_fund_rate"`
	AffiliateRate         uint64 `json:"affiliate_rate"`
	ReferralRate          uint64 `json:"referral_rate"`
	FirstPrizeRate        uint64 `json:"first_prize_rate"`
	SecondPrizeMultiplier uint64 `json:"second_prize_multiplier"`
	ThirdPrizeMultiplier  uint64 `json:"third_prize_multiplier"`
}

// ChainConfig identifies the coupon signing domain and the engine's ledger account.
type ChainConfig struct {
	ChainID           int64  `json:"chain_id"`
	VerifyingContract string `json:"verifying_contract"`
	CouponSigner      string `json:"coupon_signer"`
	EngineAddress     string `json:"engine_address"`
}

// AdminConfig holds the initial role holders.
type AdminConfig struct {
	Admin             string `json:"admin"`
	Operator          string `json:"operator"`
	Treasury          string `json:"treasury"`
	Injector          string `json:"injector"`
	AffiliateReceiver string `json:"affiliate_receiver"`
}

// CouponConfig holds the redemption policy.
type CouponConfig struct {
	SingleUse     bool `json:"single_use"`
	RedemptionTTL int  `json:"redemption_ttl"` // in seconds, 0 keeps markers forever
}

// KeeperConfig holds the round keeper schedule.
type KeeperConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
}

// RedisConfig holds cache configuration. The in-memory cache is used when disabled.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`
	Endpoint    string  `json:"endpoint"`
	Environment string  `json:"environment"`
	SampleRatio float64 `json:"sample_ratio"`
}

// AuthConfig holds caller authentication configuration.
type AuthConfig struct {
	JWTSecret         string `json:"jwt_secret"`
	AllowCallerHeader bool   `json:"allow_caller_header"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json or text
}

// RandomnessConfig selects the randomness source: "generator" draws with crypto/rand on
// every close, "fixed" serves the last operator-saved result.
type RandomnessConfig struct {
	Mode string `json:"mode"`
}

// LoadConfig loads configuration from environment variables and/or config file.
// A .env file in the working directory is loaded first if present. Environment variables
// take precedence over config file values.
func LoadConfig(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	overrideFromEnv(cfg)

	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			ShutdownTimeout: 30,
		},
		Database: DatabaseConfig{
			DSN: "./bonanza.db",
		},
		Security: SecurityConfig{
			MaxRequestBodySize: 1 << 20,
			AllowedOrigins:     "*",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Rate:    100,
			Window:  60,
		},
		Lottery: LotteryConfig{
			TokenDecimals:         18,
			MinJackpotPrize:       "1200",
			InjectionAmount:       "1200",
			MinPriceTicket:        "1",
			MaxPriceTicket:        "100",
			MinRoundLength:        int64((4*time.Hour - 5*time.Minute) / time.Second),
			MaxRoundLength:        int64((4*24*time.Hour + 5*time.Minute) / time.Second),
			MaxTicketsPerBuy:      1000,
			MaxTicketsPerClaim:    1000,
			JackpotRate:           2500,
			GuaranteeFundRate:     2000,
			AffiliateRate:         500,
			ReferralRate:          1000,
			FirstPrizeRate:        287,
			SecondPrizeMultiplier: 30000,
			ThirdPrizeMultiplier:  3000,
		},
		Chain: ChainConfig{
			ChainID:       1337,
			EngineAddress: "0x000000000000000000000000000000000000B0A2",
		},
		Coupon: CouponConfig{
			SingleUse: true,
		},
		Keeper: KeeperConfig{
			Enabled:  true,
			Schedule: "@every 30s",
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Prefix: "bonanza:",
		},
		Tracing: TracingConfig{
			Endpoint:    "http://localhost:14268/api/traces",
			Environment: "development",
		},
		Auth: AuthConfig{
			AllowCallerHeader: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Randomness: RandomnessConfig{
			Mode: "generator",
		},
		Features: map[string]bool{},
	}
}

// loadFromFile loads configuration from a JSON file.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// overrideFromEnv overrides configuration with environment variables.
func overrideFromEnv(cfg *Config) {
	setString("SERVER_PORT", &cfg.Server.Port)
	setString("SERVER_HOST", &cfg.Server.Host)
	setBool("SERVER_ENABLE_TLS", &cfg.Server.EnableTLS)
	setString("SERVER_CERT_FILE", &cfg.Server.CertFile)
	setString("SERVER_KEY_FILE", &cfg.Server.KeyFile)
	setInt("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	setString("DATABASE_DSN", &cfg.Database.DSN)

	if maxBodySize := os.Getenv("MAX_REQUEST_BODY_SIZE"); maxBodySize != "" {
		if size, err := strconv.ParseInt(maxBodySize, 10, 64); err == nil {
			cfg.Security.MaxRequestBodySize = size
		}
	}
	setString("ALLOWED_ORIGINS", &cfg.Security.AllowedOrigins)

	setBool("RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	setInt("RATE_LIMIT_RATE", &cfg.RateLimit.Rate)
	setInt("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)

	setString("LOTTERY_MIN_JACKPOT_PRIZE", &cfg.Lottery.MinJackpotPrize)
	setString("LOTTERY_INJECTION_AMOUNT", &cfg.Lottery.InjectionAmount)
	setString("LOTTERY_MIN_PRICE_TICKET", &cfg.Lottery.MinPriceTicket)
	setString("LOTTERY_MAX_PRICE_TICKET", &cfg.Lottery.MaxPriceTicket)
	setInt("LOTTERY_MAX_TICKETS_PER_BUY", &cfg.Lottery.MaxTicketsPerBuy)
	setInt("LOTTERY_MAX_TICKETS_PER_CLAIM", &cfg.Lottery.MaxTicketsPerClaim)
	if v := os.Getenv("LOTTERY_MIN_ROUND_LENGTH"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Lottery.MinRoundLength = n
		}
	}
	if v := os.Getenv("LOTTERY_MAX_ROUND_LENGTH"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Lottery.MaxRoundLength = n
		}
	}

	if v := os.Getenv("CHAIN_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Chain.ChainID = n
		}
	}
	setString("CHAIN_VERIFYING_CONTRACT", &cfg.Chain.VerifyingContract)
	setString("CHAIN_COUPON_SIGNER", &cfg.Chain.CouponSigner)
	setString("CHAIN_ENGINE_ADDRESS", &cfg.Chain.EngineAddress)

	setString("ADMIN_ADDRESS", &cfg.Admin.Admin)
	setString("OPERATOR_ADDRESS", &cfg.Admin.Operator)
	setString("TREASURY_ADDRESS", &cfg.Admin.Treasury)
	setString("INJECTOR_ADDRESS", &cfg.Admin.Injector)
	setString("AFFILIATE_RECEIVER_ADDRESS", &cfg.Admin.AffiliateReceiver)

	setBool("COUPON_SINGLE_USE", &cfg.Coupon.SingleUse)
	setInt("COUPON_REDEMPTION_TTL", &cfg.Coupon.RedemptionTTL)

	setBool("KEEPER_ENABLED", &cfg.Keeper.Enabled)
	setString("KEEPER_SCHEDULE", &cfg.Keeper.Schedule)

	setBool("REDIS_ENABLED", &cfg.Redis.Enabled)
	setString("REDIS_ADDR", &cfg.Redis.Addr)
	setString("REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("REDIS_DB", &cfg.Redis.DB)
	setString("REDIS_PREFIX", &cfg.Redis.Prefix)

	setBool("TRACING_ENABLED", &cfg.Tracing.Enabled)
	setString("TRACING_ENDPOINT", &cfg.Tracing.Endpoint)
	setString("TRACING_ENVIRONMENT", &cfg.Tracing.Environment)
	if v := os.Getenv("TRACING_SAMPLE_RATIO"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tracing.SampleRatio = f
		}
	}

	setString("JWT_SECRET", &cfg.Auth.JWTSecret)
	setBool("AUTH_ALLOW_CALLER_HEADER", &cfg.Auth.AllowCallerHeader)

	setString("LOG_LEVEL", &cfg.Logging.Level)
	setString("LOG_FORMAT", &cfg.Logging.Format)

	setString("RANDOMNESS_MODE", &cfg.Randomness.Mode)

	// FEATURE_<NAME>=true|false toggles a feature flag
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "FEATURE_") {
			continue
		}
		if cfg.Features == nil {
			cfg.Features = map[string]bool{}
		}
		cfg.Features[strings.ToLower(strings.TrimPrefix(key, "FEATURE_"))] = parseBool(value)
	}
}

func setString(key string, dst *string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func setBool(key string, dst *bool) {
	if value := os.Getenv(key); value != "" {
		*dst = parseBool(value)
	}
}

func setInt(key string, dst *int) {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			*dst = i
		}
	}
}

func parseBool(value string) bool {
	return strings.ToLower(value) == "true" || value == "1"
}

// ParseTokens converts a decimal whole-token amount into the smallest unit.
func ParseTokens(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid token amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("invalid token amount %q: must not be negative", amount)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("invalid token amount %q: more than %d decimals", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// FormatTokens renders an amount in the smallest unit as whole tokens.
func FormatTokens(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// ToSettings converts the lottery section into engine settings.
func (c *Config) ToSettings() (service.Settings, error) {
	l := c.Lottery
	s := service.Settings{
		MinRoundLength:        time.Duration(l.MinRoundLength) * time.Second,
		MaxRoundLength:        time.Duration(l.MaxRoundLength) * time.Second,
		MaxTicketsPerBuy:      l.MaxTicketsPerBuy,
		MaxTicketsPerClaim:    l.MaxTicketsPerClaim,
		JackpotRate:           l.JackpotRate,
		GuaranteeFundRate:     l.GuaranteeFundRate,
		AffiliateRate:         l.AffiliateRate,
		ReferralRate:          l.ReferralRate,
		FirstPrizeRate:        l.FirstPrizeRate,
		SecondPrizeMultiplier: l.SecondPrizeMultiplier,
		ThirdPrizeMultiplier:  l.ThirdPrizeMultiplier,
	}

	amounts := []struct {
		name  string
		value string
		dst   **big.Int
	}{
		{"min_jackpot_prize", l.MinJackpotPrize, &s.MinJackpotPrize},
		{"injection_amount", l.InjectionAmount, &s.InjectionAmount},
		{"min_price_ticket", l.MinPriceTicket, &s.MinPriceTicket},
		{"max_price_ticket", l.MaxPriceTicket, &s.MaxPriceTicket},
	}
	for _, a := range amounts {
		v, err := ParseTokens(a.value, l.TokenDecimals)
		if err != nil {
			return service.Settings{}, fmt.Errorf("lottery.%s: %w", a.name, err)
		}
		*a.dst = v
	}
	return s, nil
}

// Address parses an optional configured address; empty yields the zero address.
func Address(field, value string) (common.Address, error) {
	if value == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s: %q is not a hex address", field, value)
	}
	return common.HexToAddress(value), nil
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}

	settings, err := c.ToSettings()
	if err != nil {
		return err
	}
	if settings.MinPriceTicket.Cmp(settings.MaxPriceTicket) > 0 {
		return fmt.Errorf("lottery.min_price_ticket must not exceed max_price_ticket")
	}
	if settings.MinRoundLength > settings.MaxRoundLength {
		return fmt.Errorf("lottery.min_round_length must not exceed max_round_length")
	}
	if settings.MaxTicketsPerBuy <= 0 || settings.MaxTicketsPerClaim <= 0 {
		return fmt.Errorf("lottery ticket batch limits must be positive")
	}
	rates := settings.JackpotRate + settings.GuaranteeFundRate + settings.AffiliateRate
	if rates > service.BasisPoints {
		return fmt.Errorf("lottery pool rates exceed %d basis points", service.BasisPoints)
	}
	if settings.ReferralRate > service.BasisPoints {
		return fmt.Errorf("lottery.referral_rate exceeds %d basis points", service.BasisPoints)
	}

	for field, value := range map[string]string{
		"chain.verifying_contract": c.Chain.VerifyingContract,
		"chain.coupon_signer":      c.Chain.CouponSigner,
		"chain.engine_address":     c.Chain.EngineAddress,
		"admin.admin":              c.Admin.Admin,
		"admin.operator":           c.Admin.Operator,
		"admin.treasury":           c.Admin.Treasury,
		"admin.injector":           c.Admin.Injector,
		"admin.affiliate_receiver": c.Admin.AffiliateReceiver,
	} {
		if _, err := Address(field, value); err != nil {
			return err
		}
	}
	if c.Admin.Admin == "" {
		return fmt.Errorf("admin.admin is required")
	}

	switch c.Randomness.Mode {
	case "generator", "fixed":
	default:
		return fmt.Errorf("randomness.mode must be generator or fixed, got %q", c.Randomness.Mode)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	return nil
}
