package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath   = "CONFIG_PATH"
	EnvDBConnection = "DB_CONNECTION"
)

// AppConfig holds resolved application configuration values.
type AppConfig struct {
	ConfigPath string
}

// LoadFromEnv loads app config from environment variables.
func LoadFromEnv() (AppConfig, error) {
	return AppConfig{ConfigPath: ResolveConfigPath(os.Getenv(EnvConfigPath))}, nil
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = "./config.yaml"
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// ErrMissingDatabaseDSN indicates no database DSN is present in the config file.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn` or `database.dsn` in config file)")

// LoadDatabaseDSN reads the database DSN from the YAML config file. The
// DB_CONNECTION environment variable takes precedence.
func LoadDatabaseDSN(configPath string) (string, error) {
	if dsn := strings.TrimSpace(os.Getenv(EnvDBConnection)); dsn != "" {
		return dsn, nil
	}

	// fileConfig maps the YAML fields needed for DSN resolution.
	type fileConfig struct {
		DatabaseDSN string `yaml:"database-dsn"`
		Database    struct {
			DSN string `yaml:"dsn"`
		} `yaml:"database"`
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return "", fmt.Errorf("read config file: %w", err)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return "", fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	if dsn := strings.TrimSpace(cfg.DatabaseDSN); dsn != "" {
		return dsn, nil
	}
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		return dsn, nil
	}
	return "", ErrMissingDatabaseDSN
}

// Rates holds the financial parameters of the engine. Every rate applies to
// integer-cent amounts; derived values are rounded half away from zero.
type Rates struct {
	FeeRate         float64 `yaml:"fee-rate"`          // Platform fee applied to the bill.
	DepositRate     float64 `yaml:"deposit-rate"`      // Deposit fraction of the post-fee total.
	RiskPoolRate    float64 `yaml:"risk-pool-rate"`    // Risk-pool contribution per successful payment.
	ClinicShareRate float64 `yaml:"clinic-share-rate"` // Clinic revenue share of each payment.

	NumInstallments int   `yaml:"num-installments"` // Fixed installment count per plan.
	IntervalDays    int   `yaml:"interval-days"`    // Days between installments.
	MinBillCents    int64 `yaml:"min-bill-cents"`   // Minimum financeable bill.
}

// DefaultRates returns the production rate configuration.
func DefaultRates() Rates {
	return Rates{
		FeeRate:         0.06,
		DepositRate:     0.25,
		RiskPoolRate:    0.02,
		ClinicShareRate: 0.05,
		NumInstallments: 6,
		IntervalDays:    14,
		MinBillCents:    5000,
	}
}

// defaultSweepInterval is used when the config omits the sweep interval.
const defaultSweepInterval = 5 * time.Minute

// SweepConfig holds background sweep settings.
type SweepConfig struct {
	Interval time.Duration
}

// EngineConfig bundles the rate and sweep settings loaded from YAML.
type EngineConfig struct {
	Rates Rates
	Sweep SweepConfig
}

// LoadEngineConfig loads rate and sweep settings from the YAML config file.
// Missing or zero fields fall back to defaults so a DSN-only config works.
func LoadEngineConfig(configPath string) (EngineConfig, error) {
	// fileConfig maps the YAML fields needed for engine settings. The sweep
	// interval is a duration string ("30s", "5m").
	type fileConfig struct {
		Engine struct {
			Rates Rates `yaml:"rates"`
			Sweep struct {
				Interval string `yaml:"interval"`
			} `yaml:"sweep"`
		} `yaml:"engine"`
	}

	result := EngineConfig{Rates: DefaultRates(), Sweep: SweepConfig{Interval: defaultSweepInterval}}

	data, errRead := os.ReadFile(configPath)
	if errRead != nil {
		if os.IsNotExist(errRead) {
			return result, nil
		}
		return result, fmt.Errorf("read config file: %w", errRead)
	}

	var cfg fileConfig
	if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
		return result, fmt.Errorf("parse config file: %w", errUnmarshal)
	}

	loaded := cfg.Engine.Rates
	if loaded.FeeRate > 0 {
		result.Rates.FeeRate = loaded.FeeRate
	}
	if loaded.DepositRate > 0 {
		result.Rates.DepositRate = loaded.DepositRate
	}
	if loaded.RiskPoolRate > 0 {
		result.Rates.RiskPoolRate = loaded.RiskPoolRate
	}
	if loaded.ClinicShareRate > 0 {
		result.Rates.ClinicShareRate = loaded.ClinicShareRate
	}
	if loaded.NumInstallments > 0 {
		result.Rates.NumInstallments = loaded.NumInstallments
	}
	if loaded.IntervalDays > 0 {
		result.Rates.IntervalDays = loaded.IntervalDays
	}
	if loaded.MinBillCents > 0 {
		result.Rates.MinBillCents = loaded.MinBillCents
	}
	if raw := strings.TrimSpace(cfg.Engine.Sweep.Interval); raw != "" {
		if interval, errParse := time.ParseDuration(raw); errParse == nil && interval > 0 {
			result.Sweep.Interval = interval
		}
	}
	return result, nil
}
