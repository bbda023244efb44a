package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// rateLimitOperations lists the operations whose policy can be overridden
// through RATE_LIMIT_<OP>_MAX and RATE_LIMIT_<OP>_WINDOW.
var rateLimitOperations = []string{"login", "read", "write", "search", "export"}

// minSaltBytes is the shortest accepted PHI_ENCRYPTION_SALT once hex-decoded.
const minSaltBytes = 16

type Config struct {
	Port                    string        `mapstructure:"PORT"`
	Env                     string        `mapstructure:"ENV"`
	DatabaseURL             string        `mapstructure:"DATABASE_URL"`
	DBMaxConns              int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns              int32         `mapstructure:"DB_MIN_CONNS"`
	AuthIssuer              string        `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL             string        `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience            string        `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey          string        `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins             []string      `mapstructure:"CORS_ORIGINS"`
	PHIEncryptionPassphrase string        `mapstructure:"PHI_ENCRYPTION_PASSPHRASE"`
	PHIEncryptionSalt       string        `mapstructure:"PHI_ENCRYPTION_SALT"`
	PHIKeyVersion           int           `mapstructure:"PHI_KEY_VERSION"`
	AuditSinkTimeout        time.Duration `mapstructure:"AUDIT_SINK_TIMEOUT"`
	RateLimitSweepInterval  time.Duration `mapstructure:"RATE_LIMIT_SWEEP_INTERVAL"`

	// RateLimitOverrides is keyed by lower-case operation name. Only
	// operations with at least one override set appear in the map.
	RateLimitOverrides map[string]RateLimitOverride `mapstructure:"-"`
}

// RateLimitOverride replaces the built-in policy of one operation. Zero
// fields keep the built-in value.
type RateLimitOverride struct {
	MaxRequests int
	Window      time.Duration
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("PHI_KEY_VERSION", 1)
	v.SetDefault("AUDIT_SINK_TIMEOUT", "3s")
	v.SetDefault("RATE_LIMIT_SWEEP_INTERVAL", "1m")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("PHI_ENCRYPTION_PASSPHRASE")
	v.BindEnv("PHI_ENCRYPTION_SALT")
	v.BindEnv("PHI_KEY_VERSION")
	v.BindEnv("AUDIT_SINK_TIMEOUT")
	v.BindEnv("RATE_LIMIT_SWEEP_INTERVAL")
	for _, op := range rateLimitOperations {
		v.BindEnv(rateLimitKey(op, "MAX"))
		v.BindEnv(rateLimitKey(op, "WINDOW"))
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	cfg.RateLimitOverrides = make(map[string]RateLimitOverride)
	for _, op := range rateLimitOperations {
		o := RateLimitOverride{
			MaxRequests: v.GetInt(rateLimitKey(op, "MAX")),
			Window:      v.GetDuration(rateLimitKey(op, "WINDOW")),
		}
		if o.MaxRequests < 0 || o.Window < 0 {
			return nil, fmt.Errorf("rate limit override for %s must not be negative", op)
		}
		if o.MaxRequests > 0 || o.Window > 0 {
			cfg.RateLimitOverrides[op] = o
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Warn().
			Str("env", cfg.Env).
			Msg("development mode: unauthenticated requests run as the dev admin user; do not use in production")
	}

	return cfg, nil
}

func rateLimitKey(op, suffix string) string {
	return "RATE_LIMIT_" + strings.ToUpper(op) + "_" + suffix
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// PHISalt decodes PHI_ENCRYPTION_SALT. An empty salt decodes to nil.
func (c *Config) PHISalt() ([]byte, error) {
	if c.PHIEncryptionSalt == "" {
		return nil, nil
	}
	salt, err := hex.DecodeString(c.PHIEncryptionSalt)
	if err != nil {
		return nil, fmt.Errorf("PHI_ENCRYPTION_SALT is not valid hex: %w", err)
	}
	return salt, nil
}

// Validate checks that the configuration is safe to run. Outside development
// a token verifier (AUTH_ISSUER/AUTH_JWKS_URL or AUTH_SIGNING_KEY) is required.
// In production PHI_ENCRYPTION_PASSPHRASE and PHI_ENCRYPTION_SALT are required.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf(
			"AUTH_ISSUER, AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set when ENV=%q. "+
				"Refusing to start without authentication configuration", c.Env)
	}

	if c.IsProduction() {
		if c.PHIEncryptionPassphrase == "" {
			return fmt.Errorf("PHI_ENCRYPTION_PASSPHRASE is required in production")
		}
		if c.PHIEncryptionSalt == "" {
			return fmt.Errorf("PHI_ENCRYPTION_SALT is required in production")
		}
	}

	if c.PHIEncryptionPassphrase != "" || c.PHIEncryptionSalt != "" {
		if c.PHIEncryptionPassphrase == "" {
			return fmt.Errorf("PHI_ENCRYPTION_SALT is set but PHI_ENCRYPTION_PASSPHRASE is empty")
		}
		salt, err := c.PHISalt()
		if err != nil {
			return err
		}
		if len(salt) < minSaltBytes {
			return fmt.Errorf("PHI_ENCRYPTION_SALT must be at least %d bytes (%d hex chars), got %d bytes",
				minSaltBytes, minSaltBytes*2, len(salt))
		}
	}

	if c.PHIKeyVersion < 1 {
		return fmt.Errorf("PHI_KEY_VERSION must be >= 1, got %d", c.PHIKeyVersion)
	}

	if c.AuditSinkTimeout <= 0 {
		return fmt.Errorf("AUDIT_SINK_TIMEOUT must be positive, got %s", c.AuditSinkTimeout)
	}

	return nil
}
