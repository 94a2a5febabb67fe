package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName        = "QRPay Identity"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour
	defaultSessionTTL     = time.Hour
	defaultResetTTL       = 15 * time.Minute
	defaultOTPTTL         = 10 * time.Minute
	defaultIssuer         = "qrpay-identity"
	defaultHashAlgorithm  = "bcrypt"
	defaultResetURL       = "http://localhost:5173/reset-password"
	defaultSMTPPort       = "587"
	defaultLoginRateLimit = 5
	defaultBreakerTrips   = 5
	defaultBreakerCool    = 30 * time.Second
	minSecretLength       = 32
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	RunMigrations  bool
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret  string
	JWTIssuer  string
	SessionTTL time.Duration
	ResetTTL   time.Duration
	OTPTTL     time.Duration

	HashAlgorithm string
	HashCost      int

	ResetURL string
	SMTP     SMTP

	RequirePIN           bool
	IssueAccountNumbers  bool
	RequireVerifiedLogin bool
	LoginRateLimit       int
}

// SMTP holds mail relay credentials. An empty Host means notifications are
// written to the log instead of being delivered.
type SMTP struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	// BreakerFailures consecutive send failures open the circuit for
	// BreakerCooldown.
	BreakerFailures int
	BreakerCooldown time.Duration
}

// Enabled reports whether an SMTP relay is configured.
func (s SMTP) Enabled() bool {
	return s.Host != ""
}

// Load reads configuration values from the environment and populates a Config
// instance. A .env file in the working directory is honoured when present;
// variables already set in the environment take precedence.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		AppName:       getEnv("APP_NAME", defaultAppName),
		AppEnv:        getEnv("APP_ENV", defaultAppEnv),
		Port:          getEnv("PORT", defaultPort),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		JWTIssuer:     getEnv("JWT_ISSUER", defaultIssuer),
		HashAlgorithm: strings.ToLower(getEnv("HASH_ALGORITHM", defaultHashAlgorithm)),
		ResetURL:      strings.TrimRight(getEnv("RESET_URL", defaultResetURL), "/"),
		SMTP: SMTP{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     getEnv("SMTP_PORT", defaultSMTPPort),
			Username: os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASS"),
			From:     os.Getenv("SMTP_FROM"),
		},
	}
	if cfg.SMTP.From == "" {
		cfg.SMTP.From = cfg.SMTP.Username
	}

	var err error
	if cfg.ShutdownPeriod, err = durationFromEnv("SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationFromEnv("IDEMPOTENCY_TTL", defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = durationFromEnv("SESSION_TTL", defaultSessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.ResetTTL, err = durationFromEnv("RESET_TTL", defaultResetTTL); err != nil {
		return Config{}, err
	}
	if cfg.OTPTTL, err = durationFromEnv("OTP_TTL", defaultOTPTTL); err != nil {
		return Config{}, err
	}
	if cfg.HashCost, err = intFromEnv("HASH_COST", 0); err != nil {
		return Config{}, err
	}
	if cfg.LoginRateLimit, err = intFromEnv("LOGIN_RATE_LIMIT", defaultLoginRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.SMTP.BreakerFailures, err = intFromEnv("SMTP_BREAKER_FAILURES", defaultBreakerTrips); err != nil {
		return Config{}, err
	}
	if cfg.SMTP.BreakerCooldown, err = durationFromEnv("SMTP_BREAKER_COOLDOWN", defaultBreakerCool); err != nil {
		return Config{}, err
	}
	if cfg.RunMigrations, err = boolFromEnv("RUN_MIGRATIONS", true); err != nil {
		return Config{}, err
	}
	if cfg.RequirePIN, err = boolFromEnv("REQUIRE_PIN", false); err != nil {
		return Config{}, err
	}
	if cfg.IssueAccountNumbers, err = boolFromEnv("ISSUE_ACCOUNT_NUMBERS", true); err != nil {
		return Config{}, err
	}
	if cfg.RequireVerifiedLogin, err = boolFromEnv("REQUIRE_VERIFIED_LOGIN", false); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.HashAlgorithm {
	case "bcrypt", "argon2id":
	default:
		return fmt.Errorf("invalid HASH_ALGORITHM %q", c.HashAlgorithm)
	}

	if c.IsDevelopment() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET must be set")
		}
		return nil
	}

	if len(c.JWTSecret) < minSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes when APP_ENV=%s", minSecretLength, c.AppEnv)
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	return nil
}

// IsDevelopment reports whether the service runs in a local environment where
// in-memory fallbacks are acceptable.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationFromEnv accepts either KEY_SECONDS as an integer or KEY as a Go
// duration string; the seconds form wins when both are set.
func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	secondsKey := key + "_SECONDS"
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
