package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"libris/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Assistant  AssistantConfig  `yaml:"assistant"`
	Events     EventsConfig     `yaml:"events"`
	Seed       SeedConfig       `yaml:"seed"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

// APIClientKey binds an API key to the account it acts for.
type APIClientKey struct {
	Key       string `yaml:"key"`
	Extra     string `yaml:"extra"`
	Name      string `yaml:"name"`
	AccountID int64  `yaml:"account_id"`
	Role      string `yaml:"role"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Driver        string       `yaml:"driver"`
	Path          string       `yaml:"path"`
	BusyTimeoutMS int          `yaml:"busy_timeout_ms"`
	Backup        BackupConfig `yaml:"backup"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	StoragePath   string        `yaml:"storage_path"`
	RetentionDays int           `yaml:"retention_days"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// LedgerConfig holds the booking policy constants.
type LedgerConfig struct {
	MaxDuration        time.Duration `yaml:"max_duration"`
	LeadTime           time.Duration `yaml:"lead_time"`
	CancellationWindow time.Duration `yaml:"cancellation_window"`
	SlotSize           time.Duration `yaml:"slot_size"`
	Timezone           string        `yaml:"timezone"`
}

type AssistantConfig struct {
	SessionTTL        time.Duration `yaml:"session_ttl"`
	RateLimitMessages int           `yaml:"rate_limit_messages"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
}

type EventsConfig struct {
	ForwardEnabled bool   `yaml:"forward_enabled"`
	QueueKey       string `yaml:"queue_key"`
	DeadLetterKey  string `yaml:"dead_letter_key"`
	MaxRetries     int    `yaml:"max_retries"`
}

type SeedConfig struct {
	Path string `yaml:"path"`
}

// Load reads the YAML config at configPath. A .env file next to the process
// is optional; ${VAR} references in the YAML are expanded from the environment.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required for sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if _, err := c.Ledger.Location(); err != nil {
		return fmt.Errorf("ledger timezone: %w", err)
	}
	if c.Ledger.SlotSize <= 0 || c.Ledger.MaxDuration <= 0 {
		return errors.New("ledger slot_size and max_duration must be positive")
	}
	if c.Ledger.LeadTime < 0 || c.Ledger.CancellationWindow < 0 {
		return errors.New("ledger lead_time and cancellation_window must not be negative")
	}

	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key for '%s' is empty", k.Name)
		}
		if k.AccountID == 0 {
			return fmt.Errorf("api key '%s' has no account_id", k.Name)
		}
		if k.Role != "" && k.Role != models.RoleMember && k.Role != models.RoleAdmin {
			return fmt.Errorf("api key '%s' has unknown role %q", k.Name, k.Role)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

// Location resolves the timezone used for operating hours and slot days.
func (l LedgerConfig) Location() (*time.Location, error) {
	if l.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(l.Timezone)
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "libris"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.BusyTimeoutMS == 0 {
		c.Database.BusyTimeoutMS = 5000
	}
	if c.Database.Backup.Interval == 0 {
		c.Database.Backup.Interval = 24 * time.Hour
	}
	if c.Database.Backup.StoragePath == "" {
		c.Database.Backup.StoragePath = "backups"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.HTTP.ReadTimeout == 0 {
		c.API.HTTP.ReadTimeout = 5 * time.Second
	}
	if c.API.HTTP.WriteTimeout == 0 {
		c.API.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.API.HTTP.ShutdownTimeout == 0 {
		c.API.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	for i := range c.API.Auth.APIKeys {
		if c.API.Auth.APIKeys[i].Role == "" {
			c.API.Auth.APIKeys[i].Role = models.RoleMember
		}
	}

	if c.Ledger.MaxDuration == 0 {
		c.Ledger.MaxDuration = 8 * time.Hour
	}
	if c.Ledger.LeadTime == 0 {
		c.Ledger.LeadTime = 15 * time.Minute
	}
	if c.Ledger.CancellationWindow == 0 {
		c.Ledger.CancellationWindow = time.Hour
	}
	if c.Ledger.SlotSize == 0 {
		c.Ledger.SlotSize = 30 * time.Minute
	}

	if c.Assistant.SessionTTL == 0 {
		c.Assistant.SessionTTL = models.DefaultSessionTTL * time.Second
	}
	if c.Assistant.RateLimitMessages == 0 {
		c.Assistant.RateLimitMessages = models.RateLimitMessages
	}
	if c.Assistant.RateLimitWindow == 0 {
		c.Assistant.RateLimitWindow = models.RateLimitWindow * time.Second
	}

	if c.Events.QueueKey == "" {
		c.Events.QueueKey = "libris:events"
	}
	if c.Events.DeadLetterKey == "" {
		c.Events.DeadLetterKey = "libris:events:deadletter"
	}
	if c.Events.MaxRetries == 0 {
		c.Events.MaxRetries = 5
	}
}
