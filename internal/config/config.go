package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	Port           string        `mapstructure:"PORT"`
	Env            string        `mapstructure:"ENV"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	StoreBackend   string        `mapstructure:"STORE_BACKEND"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32         `mapstructure:"DB_MIN_CONNS"`
	DBSchema       string        `mapstructure:"DB_SCHEMA"`
	DataDir        string        `mapstructure:"DATA_DIR"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	SelfPaySentinel     string `mapstructure:"SELF_PAY_SENTINEL"`
	ChronicCodes        string `mapstructure:"CHRONIC_CODES"`
	RetentionWindowDays int    `mapstructure:"RETENTION_WINDOW_DAYS"`
	ERWindowDays        int    `mapstructure:"ER_WINDOW_DAYS"`
	LatePaymentDays     int    `mapstructure:"LATE_PAYMENT_DAYS"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "STORE_BACKEND", "DATABASE_URL",
	"DB_MAX_CONNS", "DB_MIN_CONNS", "DB_SCHEMA", "DATA_DIR", "REQUEST_TIMEOUT",
	"SELF_PAY_SENTINEL", "CHRONIC_CODES", "RETENTION_WINDOW_DAYS",
	"ER_WINDOW_DAYS", "LATE_PAYMENT_DAYS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("SELF_PAY_SENTINEL", "No Insurance")
	v.SetDefault("CHRONIC_CODES", "E11,I10,I50,J44,N18")
	v.SetDefault("RETENTION_WINDOW_DAYS", 180)
	v.SetDefault("ER_WINDOW_DAYS", 45)
	v.SetDefault("LATE_PAYMENT_DAYS", 45)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction reports ENV=production, which requires the postgres backend.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ChronicCodeList splits CHRONIC_CODES into trimmed, upper-cased codes.
func (c *Config) ChronicCodeList() []string {
	var codes []string
	for _, code := range strings.Split(c.ChronicCodes, ",") {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code != "" {
			codes = append(codes, code)
		}
	}
	return codes
}

// Level parses LOG_LEVEL, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Validate checks that the configuration is usable before anything is
// started.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
		// Recorded payments live only as long as the process.
		if c.IsProduction() {
			return fmt.Errorf("STORE_BACKEND %q is not allowed when ENV is production", BackendMemory)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %q", BackendPostgres)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendMemory, BackendPostgres, c.StoreBackend)
	}

	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be positive, got %d", c.DBMaxConns)
	}
	if c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS must be between 0 and DB_MAX_CONNS, got %d", c.DBMinConns)
	}
	if c.DBSchema == "" {
		return fmt.Errorf("DB_SCHEMA must not be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}

	if c.RetentionWindowDays <= 0 {
		return fmt.Errorf("RETENTION_WINDOW_DAYS must be positive, got %d", c.RetentionWindowDays)
	}
	if c.ERWindowDays <= 0 {
		return fmt.Errorf("ER_WINDOW_DAYS must be positive, got %d", c.ERWindowDays)
	}
	if c.LatePaymentDays <= 0 {
		return fmt.Errorf("LATE_PAYMENT_DAYS must be positive, got %d", c.LatePaymentDays)
	}
	if len(c.ChronicCodeList()) == 0 {
		return fmt.Errorf("CHRONIC_CODES must list at least one ICD-10 code")
	}
	return nil
}
