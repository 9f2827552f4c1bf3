package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/theblitlabs/parity-sync/internal/models"
)

type Config struct {
	Runner   RunnerConfig   `mapstructure:"runner"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
}

type RunnerConfig struct {
	DeviceID string `mapstructure:"device_id"`
}

type GatewayConfig struct {
	Address string `mapstructure:"address"`
	AuthKey string `mapstructure:"auth_key"`
}

// SyncConfig governs sync runs. A run snapshots it at start; changes apply
// from the next run onward.
type SyncConfig struct {
	Interval           time.Duration           `mapstructure:"interval"`
	FullResyncInterval time.Duration           `mapstructure:"full_resync_interval"`
	BatchSize          int                     `mapstructure:"batch_size"`
	MaxRetries         int                     `mapstructure:"max_retries"`
	RetryDelay         time.Duration           `mapstructure:"retry_delay"`
	MaxRetryDelay      time.Duration           `mapstructure:"max_retry_delay"`
	Strategy           models.ConflictStrategy `mapstructure:"conflict_strategy"`
	Mode               models.SyncMode         `mapstructure:"mode"`
	PushLocal          bool                    `mapstructure:"push_local"`
	TasksEnabled       bool                    `mapstructure:"tasks_enabled"`
	EarningsEnabled    bool                    `mapstructure:"earnings_enabled"`
	RequestTimeout     time.Duration           `mapstructure:"request_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

// Validate fails fast on configuration that would make a run meaningless,
// before any network call is made.
func (c SyncConfig) Validate() error {
	if !c.Strategy.Valid() {
		return fmt.Errorf("invalid conflict strategy: %q", c.Strategy)
	}
	if !c.Mode.Valid() {
		return fmt.Errorf("invalid sync mode: %q", c.Mode)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay must not be negative, got %s", c.RetryDelay)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()

	// Booleans default on through viper so that an absent key and an
	// explicit false stay distinguishable after Unmarshal.
	viper.SetDefault("sync.tasks_enabled", true)
	viper.SetDefault("sync.earnings_enabled", true)
	viper.SetDefault("sync.push_local", true)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	return &config, nil
}

func applyDefaults(c *Config) {
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 5 * time.Minute
	}
	if c.Sync.FullResyncInterval == 0 {
		c.Sync.FullResyncInterval = 24 * time.Hour
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 100
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 3
	}
	if c.Sync.RetryDelay == 0 {
		c.Sync.RetryDelay = time.Second
	}
	if c.Sync.MaxRetryDelay == 0 {
		c.Sync.MaxRetryDelay = 30 * time.Second
	}
	if c.Sync.Strategy == "" {
		c.Sync.Strategy = models.StrategyLatestWins
	}
	if c.Sync.Mode == "" {
		c.Sync.Mode = models.SyncModeIncremental
	}
	if c.Sync.RequestTimeout == 0 {
		c.Sync.RequestTimeout = 30 * time.Second
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8090"
	}
}
