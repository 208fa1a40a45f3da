// Package config loads ledger configuration from file, environment, and
// flags via viper. The loaded struct is passed explicitly into
// constructors; core components never read configuration ambiently.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tracelock/tracelock/pkg/types"
)

// Storage backend names.
const (
	BackendInMem    = "inmem"
	BackendDynamoDB = "dynamodb"
)

// Config is the full ledger configuration.
type Config struct {
	TenantID     string          `mapstructure:"tenant_id"`
	LogLevel     string          `mapstructure:"log_level"`
	Storage      StorageConfig   `mapstructure:"storage"`
	Capture      CaptureConfig   `mapstructure:"capture"`
	Retention    RetentionConfig `mapstructure:"retention"`
	Server       ServerConfig    `mapstructure:"server"`
	FeatureFlags []string        `mapstructure:"feature_flags"`
}

// StorageConfig selects and parameterizes the key-value backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	TableName string `mapstructure:"table_name"`
	Region    string `mapstructure:"region"`
}

// CaptureConfig controls scheduled snapshot capture.
type CaptureConfig struct {
	Cadence  time.Duration `mapstructure:"cadence"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
	Included []string      `mapstructure:"included"`
	Excluded []string      `mapstructure:"excluded"`
}

// RetentionConfig holds the per-kind retention ceilings applied when no
// stored policy exists for the tenant.
type RetentionConfig struct {
	LightweightMaxAgeDays   int `mapstructure:"lightweight_max_age_days"`
	LightweightMaxCount     int `mapstructure:"lightweight_max_count"`
	ComprehensiveMaxAgeDays int `mapstructure:"comprehensive_max_age_days"`
	ComprehensiveMaxCount   int `mapstructure:"comprehensive_max_count"`
}

// ServerConfig holds the read-only API listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads configuration from the given file path (optional), the
// environment (TRACELOCK_ prefix), and defaults, in that precedence.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TRACELOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".tracelock"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tenant_id", "")
	v.SetDefault("log_level", "info")

	v.SetDefault("storage.backend", BackendInMem)
	v.SetDefault("storage.table_name", "tracelock-ledger")
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("capture.cadence", time.Hour)
	v.SetDefault("capture.lock_ttl", 5*time.Minute)

	v.SetDefault("retention.lightweight_max_age_days", 90)
	v.SetDefault("retention.lightweight_max_count", 500)
	v.SetDefault("retention.comprehensive_max_age_days", 365)
	v.SetDefault("retention.comprehensive_max_count", 120)

	v.SetDefault("server.addr", ":8420")
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("tenant_id is required")
	}
	switch c.Storage.Backend {
	case BackendInMem:
	case BackendDynamoDB:
		if c.Storage.TableName == "" {
			return fmt.Errorf("storage.table_name is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Capture.Cadence <= 0 {
		return fmt.Errorf("capture.cadence must be positive")
	}
	if c.Capture.LockTTL <= 0 {
		return fmt.Errorf("capture.lock_ttl must be positive")
	}
	return nil
}

// RetentionPolicy converts the configured defaults into a policy record.
func (c *Config) RetentionPolicy() *types.RetentionPolicy {
	return &types.RetentionPolicy{
		TenantID: c.TenantID,
		MaxAgeDays: map[types.SnapshotKind]int{
			types.KindLightweight:   c.Retention.LightweightMaxAgeDays,
			types.KindComprehensive: c.Retention.ComprehensiveMaxAgeDays,
		},
		MaxCount: map[types.SnapshotKind]int{
			types.KindLightweight:   c.Retention.LightweightMaxCount,
			types.KindComprehensive: c.Retention.ComprehensiveMaxCount,
		},
		Strategy:      types.StrategyOldestFirst,
		SchemaVersion: 1,
	}
}

// Scope converts the configured capture surface into a snapshot scope.
func (c *Config) Scope() types.Scope {
	return types.Scope{
		Included: c.Capture.Included,
		Excluded: c.Capture.Excluded,
	}
}
