package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	MFA      MFAConfig
	Email    EmailConfig
	Redis    RedisConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret            string
	SessionTokenExpiry   time.Duration
	CookieSecure         bool
	CookieSameSite       string
	RateLimitPerMinute   int
	TimingDelayBaseMs    int
	TimingDelayRandomMs  int
	TimingDelayOnSuccess bool
}

// MFAConfig holds the email one-time code settings
type MFAConfig struct {
	OTPTTL          time.Duration // MFA_OTP_TTL_MIN
	MaxAttempts     int           // MFA_OTP_MAX_ATTEMPTS
	OTPHashCost     int
	JWTSecret       string // MFA_JWT_SECRET, falls back to JWT_SECRET
	TokenExpiry     time.Duration
	UserLockTTL     time.Duration
	UserLockMaxWait time.Duration
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
	ShopName    string
}

type RedisConfig struct {
	URL       string // empty disables the distributed user lock
	KeyPrefix string
}

const (
	minMFATokenExpiry = 1 * time.Minute
	maxMFATokenExpiry = 60 * time.Minute
)

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "zootopia"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "5000"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:            jwtSecret,
			SessionTokenExpiry:   getEnvAsDuration("SESSION_TOKEN_EXPIRY", 30*24*time.Hour),
			CookieSecure:         getEnvAsBool("COOKIE_SECURE", env == "production"),
			CookieSameSite:       getEnv("COOKIE_SAMESITE", "strict"),
			RateLimitPerMinute:   getEnvAsInt("AUTH_RATE_LIMIT_PER_MINUTE", 10),
			TimingDelayBaseMs:    getEnvAsInt("TIMING_DELAY_BASE_MS", 300),
			TimingDelayRandomMs:  getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
			TimingDelayOnSuccess: getEnvAsBool("TIMING_DELAY_ON_SUCCESS", false),
		},
		MFA: MFAConfig{
			OTPTTL:          time.Duration(getEnvAsInt("MFA_OTP_TTL_MIN", 10)) * time.Minute,
			MaxAttempts:     getEnvAsInt("MFA_OTP_MAX_ATTEMPTS", 5),
			OTPHashCost:     getEnvAsInt("MFA_OTP_HASH_COST", 10),
			JWTSecret:       getEnv("MFA_JWT_SECRET", jwtSecret),
			TokenExpiry:     getEnvAsDuration("MFA_TOKEN_EXPIRY", 15*time.Minute),
			UserLockTTL:     getEnvAsDuration("USER_LOCK_TTL", 5*time.Second),
			UserLockMaxWait: getEnvAsDuration("USER_LOCK_MAX_WAIT", 3*time.Second),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
			ShopName:    getEnv("SHOP_NAME", "Zootopia"),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "zootopia"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret("JWT_SECRET", jwtSecret, env); err != nil {
		return nil, err
	}
	if err := validateJWTSecret("MFA_JWT_SECRET", cfg.MFA.JWTSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.MFA.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *MFAConfig) validate() error {
	if c.OTPTTL <= 0 {
		return fmt.Errorf("MFA_OTP_TTL_MIN must be a positive number of minutes")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("MFA_OTP_MAX_ATTEMPTS must be positive (got %d)", c.MaxAttempts)
	}
	if c.TokenExpiry < minMFATokenExpiry || c.TokenExpiry > maxMFATokenExpiry {
		return fmt.Errorf("MFA_TOKEN_EXPIRY must be between %s and %s (got %s)",
			minMFATokenExpiry, maxMFATokenExpiry, c.TokenExpiry)
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secrets
func validateJWTSecret(name, secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return parseList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: allow the Vite dev server and the CRA proxy
	return []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
