/*
Package config loads the loyalty service configuration.

PRECEDENCE (lowest to highest):
  1. Defaults()
  2. YAML file (-config)
  3. Environment: LOYALTY_PORT, LOYALTY_DB_PATH, LOYALTY_LOG_LEVEL,
     LOYALTY_CODE_TTL
  4. Command-line flags (-port, -db), applied by cmd/server

EXAMPLE:
  server:
    port: 8080
    cors_origins: ["http://localhost:5173"]
  database:
    path: ./data/loyalty.db
    busy_timeout: 2s
  ledger:
    atomic_timeout: 5s
    code_ttl: 15m
    code_prefix: BISTRO
  tiers:
    silver: 500
    gold: 1000
    platinum: 2000
  earn:
    points_per_unit: "10"
    signup_bonus: 100
    referral_bonus: 250
  logging:
    level: info
    format: json
  catalog_file: ./catalog.yaml

NOTES:
  code_ttl has no "off" value: every issued code expires. It is the window
  staff have to verify a code before the session fails.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/observability"
	"github.com/warp/loyalty-engine/rewards"
)

type Config struct {
	Env         string         `yaml:"env"`
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Ledger      LedgerConfig   `yaml:"ledger"`
	Tiers       TierConfig     `yaml:"tiers"`
	Earn        EarnConfig     `yaml:"earn"`
	Logging     LoggingConfig  `yaml:"logging"`
	CatalogFile string         `yaml:"catalog_file"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

type LedgerConfig struct {
	AtomicTimeout    time.Duration `yaml:"atomic_timeout"`
	CodeTTL          time.Duration `yaml:"code_ttl"`
	CodePrefix       string        `yaml:"code_prefix"`
	SessionRetention time.Duration `yaml:"session_retention"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

type TierConfig struct {
	Silver   int64 `yaml:"silver"`
	Gold     int64 `yaml:"gold"`
	Platinum int64 `yaml:"platinum"`
}

type EarnConfig struct {
	PointsPerUnit string `yaml:"points_per_unit"` // decimal string, e.g. "10" or "1.5"
	SignupBonus   int64  `yaml:"signup_bonus"`
	ReferralBonus int64  `yaml:"referral_bonus"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults returns a configuration that runs out of the box.
func Defaults() Config {
	tiers := loyalty.DefaultTierPolicy()
	return Config{
		Env: "development",
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:5173", "http://localhost:8080"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "loyalty.db",
			BusyTimeout: 2 * time.Second,
		},
		Ledger: LedgerConfig{
			AtomicTimeout:    loyalty.DefaultAtomicTimeout,
			CodeTTL:          15 * time.Minute,
			CodePrefix:       loyalty.DefaultCodePrefix,
			SessionRetention: loyalty.DefaultSessionRetention,
			SweepInterval:    30 * time.Second,
		},
		Tiers: TierConfig{
			Silver:   tiers.Threshold(loyalty.TierSilver),
			Gold:     tiers.Threshold(loyalty.TierGold),
			Platinum: tiers.Threshold(loyalty.TierPlatinum),
		},
		Earn: EarnConfig{
			PointsPerUnit: rewards.DefaultPointsPerUnit.String(),
			SignupBonus:   rewards.DefaultSignupBonus,
			ReferralBonus: rewards.DefaultReferralBonus,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (if non-empty) over the defaults, then applies the
// environment. The result is validated.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv in
// production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	if v, ok := lookup("LOYALTY_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOYALTY_PORT: %w", err))
		} else {
			c.Server.Port = port
		}
	}
	if v, ok := lookup("LOYALTY_DB_PATH"); ok && v != "" {
		c.Database.Path = v
	}
	if v, ok := lookup("LOYALTY_LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup("LOYALTY_CODE_TTL"); ok && v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOYALTY_CODE_TTL: %w", err))
		} else {
			c.Ledger.CodeTTL = ttl
		}
	}
	return errors.Join(errs...)
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Ledger.CodeTTL <= 0 {
		errs = append(errs, fmt.Errorf("ledger.code_ttl must be positive, got %s", c.Ledger.CodeTTL))
	}
	if c.Ledger.AtomicTimeout <= 0 {
		errs = append(errs, fmt.Errorf("ledger.atomic_timeout must be positive, got %s", c.Ledger.AtomicTimeout))
	}
	if c.Ledger.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("ledger.sweep_interval must be positive, got %s", c.Ledger.SweepInterval))
	}
	if _, err := c.TierPolicy(); err != nil {
		errs = append(errs, fmt.Errorf("tiers: %w", err))
	}
	if _, err := c.EarnPolicy(); err != nil {
		errs = append(errs, fmt.Errorf("earn: %w", err))
	}
	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	return errors.Join(errs...)
}

func (c Config) TierPolicy() (loyalty.TierPolicy, error) {
	return loyalty.NewTierPolicy(c.Tiers.Silver, c.Tiers.Gold, c.Tiers.Platinum)
}

func (c Config) EarnPolicy() (rewards.EarnPolicy, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.Earn.PointsPerUnit))
	if err != nil {
		return rewards.EarnPolicy{}, fmt.Errorf("points_per_unit %q: %w", c.Earn.PointsPerUnit, err)
	}
	p := rewards.EarnPolicy{
		PointsPerUnit: rate,
		SignupBonus:   c.Earn.SignupBonus,
		ReferralBonus: c.Earn.ReferralBonus,
	}
	if err := p.Validate(); err != nil {
		return rewards.EarnPolicy{}, err
	}
	return p, nil
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
