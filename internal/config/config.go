package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	RateLimitStoreMemory = "memory"
	RateLimitStoreRedis  = "redis"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	Email     EmailConfig
	Admin     AdminBootstrapConfig
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

// IsDevelopment reports whether development-only conveniences may be enabled
func (c ServerConfig) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

type AuthConfig struct {
	JWTSecret            string
	JWTIssuer            string
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	ResetTokenTTL        time.Duration
	BcryptCost           int
	ResetTokenEcho       bool
	ResetRevokesSessions bool
	LiveAccountCheck     bool
	CleanupInterval      time.Duration
	TimingDelayBase      time.Duration
	TimingDelayRandom    time.Duration
}

// Rule is a fixed-window budget of Max requests per Window
type Rule struct {
	Max    int
	Window time.Duration
}

type RateLimitConfig struct {
	Store                  string
	Login                  Rule
	Refresh                Rule
	ResetRequest           Rule
	ResetPassword          Rule
	AuthenticatedPerMinute int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EmailConfig enables SES delivery of reset links when FromAddress is set
type EmailConfig struct {
	AWSRegion    string
	FromAddress  string
	ResetURLBase string
}

func (c EmailConfig) Enabled() bool {
	return c.FromAddress != ""
}

// AdminBootstrapConfig creates the first Admin account on startup when Username is set
type AdminBootstrapConfig struct {
	FullName string
	Email    string
	Username string
	Password string
}

func (c AdminBootstrapConfig) Enabled() bool {
	return c.Username != ""
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := strings.ToLower(strings.TrimSpace(getEnv("ENV", EnvDevelopment)))

	cfg := &Config{
		Database: loadDatabase(),
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:            jwtSecret,
			JWTIssuer:            getEnv("JWT_ISSUER", "discipline-tracker"),
			AccessTokenTTL:       getEnvAsDuration("ACCESS_TOKEN_TTL", 8*time.Hour),
			RefreshTokenTTL:      getEnvAsDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
			ResetTokenTTL:        getEnvAsDuration("RESET_TOKEN_TTL", 30*time.Minute),
			BcryptCost:           getEnvAsInt("BCRYPT_COST", 12),
			ResetTokenEcho:       getEnvAsBool("RESET_TOKEN_ECHO", false),
			ResetRevokesSessions: getEnvAsBool("RESET_REVOKES_SESSIONS", true),
			LiveAccountCheck:     getEnvAsBool("AUTH_LIVE_ACCOUNT_CHECK", true),
			CleanupInterval:      getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
			TimingDelayBase:      time.Duration(getEnvAsInt("TIMING_DELAY_BASE_MS", 500)) * time.Millisecond,
			TimingDelayRandom:    time.Duration(getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100)) * time.Millisecond,
		},
		RateLimit: RateLimitConfig{
			Store:                  strings.ToLower(getEnv("RATE_LIMIT_STORE", RateLimitStoreMemory)),
			Login:                  getEnvAsRule("RATE_LIMIT_LOGIN", Rule{Max: 5, Window: time.Minute}),
			Refresh:                getEnvAsRule("RATE_LIMIT_REFRESH", Rule{Max: 30, Window: time.Minute}),
			ResetRequest:           getEnvAsRule("RATE_LIMIT_RESET_REQUEST", Rule{Max: 3, Window: 15 * time.Minute}),
			ResetPassword:          getEnvAsRule("RATE_LIMIT_RESET_PASSWORD", Rule{Max: 10, Window: 15 * time.Minute}),
			AuthenticatedPerMinute: getEnvAsInt("RATE_LIMIT_AUTHENTICATED_PER_MINUTE", 120),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Email: EmailConfig{
			AWSRegion:    getEnv("EMAIL_AWS_REGION", "us-east-1"),
			FromAddress:  getEnv("EMAIL_FROM_ADDRESS", ""),
			ResetURLBase: getEnv("RESET_URL_BASE", "http://localhost:5173/reset-password"),
		},
		Admin: AdminBootstrapConfig{
			FullName: getEnv("ADMIN_FULL_NAME", "Administrator"),
			Email:    getEnv("ADMIN_EMAIL", ""),
			Username: getEnv("ADMIN_USERNAME", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ToolingConfig is the subset of configuration used by authctl
type ToolingConfig struct {
	Database   DatabaseConfig
	BcryptCost int
}

// LoadTooling reads only what the admin CLI needs. It does not require JWT_SECRET.
func LoadTooling() (*ToolingConfig, error) {
	_ = godotenv.Load()

	cfg := &ToolingConfig{
		Database:   loadDatabase(),
		BcryptCost: getEnvAsInt("BCRYPT_COST", 12),
	}
	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("BCRYPT_COST must be between %d and %d (got %d)",
			bcrypt.MinCost, bcrypt.MaxCost, cfg.BcryptCost)
	}
	return cfg, nil
}

func loadDatabase() DatabaseConfig {
	return DatabaseConfig{
		Host:              getEnv("DB_HOST", "localhost"),
		Port:              getEnvAsInt("DB_PORT", 5432),
		User:              getEnv("DB_USER", "postgres"),
		Password:          getEnv("DB_PASSWORD", ""),
		Name:              getEnv("DB_NAME", "discipline"),
		SSLMode:           getEnv("DB_SSLMODE", "disable"),
		MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
		MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
		MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
		HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
	}
}

func (c *Config) validate() error {
	if err := validateJWTSecret(c.Auth.JWTSecret, c.Server.Env); err != nil {
		return err
	}

	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("BCRYPT_COST must be between %d and %d (got %d)",
			bcrypt.MinCost, bcrypt.MaxCost, c.Auth.BcryptCost)
	}

	if c.Auth.ResetTokenEcho && !c.Server.IsDevelopment() {
		return fmt.Errorf("RESET_TOKEN_ECHO is only allowed when ENV=%s (got %q)", EnvDevelopment, c.Server.Env)
	}

	for name, ttl := range map[string]time.Duration{
		"ACCESS_TOKEN_TTL":  c.Auth.AccessTokenTTL,
		"REFRESH_TOKEN_TTL": c.Auth.RefreshTokenTTL,
		"RESET_TOKEN_TTL":   c.Auth.ResetTokenTTL,
	} {
		if ttl <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	switch c.RateLimit.Store {
	case RateLimitStoreMemory:
	case RateLimitStoreRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required when RATE_LIMIT_STORE=redis")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_STORE must be %q or %q (got %q)",
			RateLimitStoreMemory, RateLimitStoreRedis, c.RateLimit.Store)
	}

	if c.Admin.Enabled() && (c.Admin.Email == "" || c.Admin.Password == "") {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required when ADMIN_USERNAME is set")
	}

	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env != EnvDevelopment {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
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

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvAsRule reads <prefix>_MAX and <prefix>_WINDOW
func getEnvAsRule(prefix string, defaultVal Rule) Rule {
	rule := Rule{
		Max:    getEnvAsInt(prefix+"_MAX", defaultVal.Max),
		Window: getEnvAsDuration(prefix+"_WINDOW", defaultVal.Window),
	}
	if rule.Max <= 0 || rule.Window <= 0 {
		return defaultVal
	}
	return rule
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env != EnvDevelopment {
		origins := splitList(getEnv("ALLOWED_ORIGINS", ""))
		if origins == nil {
			return []string{}
		}
		return origins
	}

	if origins := splitList(getEnv("ALLOWED_ORIGINS", "")); origins != nil {
		return origins
	}

	return []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
