package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`

	// TrustProxy makes the client IP come from X-Forwarded-For, but only
	// when the peer is a loopback or private address or falls in
	// TrustedProxies. Otherwise the TCP peer address is used.
	TrustProxy     bool     `mapstructure:"TRUST_PROXY"`
	TrustedProxies []string `mapstructure:"TRUSTED_PROXIES"`
	JWTSecret       string        `mapstructure:"JWT_SECRET"`
	SessionTTL      time.Duration `mapstructure:"SESSION_TTL"`
	RecordTokenTTL  time.Duration `mapstructure:"RECORD_TOKEN_TTL"`
	ProfileReqTTL   time.Duration `mapstructure:"PROFILE_REQUEST_TTL"`
	FrontendBaseURL string        `mapstructure:"FRONTEND_BASE_URL"`
	MaxUploadBytes  int64         `mapstructure:"MAX_UPLOAD_BYTES"`

	BlobBackend   string `mapstructure:"BLOB_BACKEND"`
	MongoURL      string `mapstructure:"MONGO_URL"`
	MongoDatabase string `mapstructure:"MONGO_DATABASE"`

	SMTPHost string `mapstructure:"SMTP_HOST"`
	SMTPPort int    `mapstructure:"SMTP_PORT"`
	SMTPUser string `mapstructure:"SMTP_USER"`
	SMTPPass string `mapstructure:"SMTP_PASS"`
	MailFrom string `mapstructure:"MAIL_FROM"`

	RateLimitRPS          float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst        int           `mapstructure:"RATE_LIMIT_BURST"`
	AuthRateLimit         int           `mapstructure:"AUTH_RATE_LIMIT_PER_WINDOW"`
	AuthRateLimitWindow   time.Duration `mapstructure:"AUTH_RATE_LIMIT_WINDOW"`
	RecordRateLimit       int           `mapstructure:"RECORD_RATE_LIMIT_PER_WINDOW"`
	RecordRateLimitWindow time.Duration `mapstructure:"RECORD_RATE_LIMIT_WINDOW"`
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"CORS_ORIGINS", "TRUST_PROXY", "TRUSTED_PROXIES",
	"JWT_SECRET", "SESSION_TTL", "RECORD_TOKEN_TTL", "PROFILE_REQUEST_TTL",
	"FRONTEND_BASE_URL", "MAX_UPLOAD_BYTES",
	"BLOB_BACKEND", "MONGO_URL", "MONGO_DATABASE",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USER", "SMTP_PASS", "MAIL_FROM",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"AUTH_RATE_LIMIT_PER_WINDOW", "AUTH_RATE_LIMIT_WINDOW",
	"RECORD_RATE_LIMIT_PER_WINDOW", "RECORD_RATE_LIMIT_WINDOW",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "5000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("TRUST_PROXY", false)
	v.SetDefault("SESSION_TTL", "720h")
	v.SetDefault("RECORD_TOKEN_TTL", "10m")
	v.SetDefault("PROFILE_REQUEST_TTL", "10m")
	v.SetDefault("FRONTEND_BASE_URL", "http://localhost:5173")
	v.SetDefault("MAX_UPLOAD_BYTES", 10*1024*1024)
	v.SetDefault("BLOB_BACKEND", "postgres")
	v.SetDefault("MONGO_DATABASE", "healthlock")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("MAIL_FROM", "Health-Lock <no-reply@health-lock.local>")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("AUTH_RATE_LIMIT_PER_WINDOW", 30)
	v.SetDefault("AUTH_RATE_LIMIT_WINDOW", "15m")
	v.SetDefault("RECORD_RATE_LIMIT_PER_WINDOW", 60)
	v.SetDefault("RECORD_RATE_LIMIT_WINDOW", "1m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitOrigins(v.GetString("CORS_ORIGINS"))
	cfg.TrustedProxies = splitList(v.GetString("TRUSTED_PROXIES"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitOrigins parses a comma separated origin list, dropping blanks and
// trailing slashes so they compare equal to browser Origin headers.
func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SMTPConfigured reports whether outbound mail can be sent.
func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPUser != "" && c.SMTPPass != ""
}

// Validate checks that the configuration is safe to run. The signing secret is
// mandatory in every environment so a missing key fails at startup instead of
// on the first token operation.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes in production, got %d", len(c.JWTSecret))
	}

	if c.RecordTokenTTL <= 0 {
		return fmt.Errorf("RECORD_TOKEN_TTL must be positive, got %s", c.RecordTokenTTL)
	}
	if c.ProfileReqTTL <= 0 {
		return fmt.Errorf("PROFILE_REQUEST_TTL must be positive, got %s", c.ProfileReqTTL)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}

	for _, cidr := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES: invalid CIDR %q", cidr)
		}
	}

	switch c.BlobBackend {
	case "postgres", "memory":
	case "gridfs":
		if c.MongoURL == "" {
			return fmt.Errorf("MONGO_URL is required when BLOB_BACKEND is \"gridfs\"")
		}
	default:
		return fmt.Errorf("BLOB_BACKEND must be \"postgres\", \"gridfs\", or \"memory\", got %q", c.BlobBackend)
	}

	return nil
}
