package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"libris/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("LIBRIS_TEST_KEY", "secret-key")

	yamlContent := `
database:
  driver: memory
ledger:
  max_duration: 4h
  timezone: Europe/London
api:
  auth:
    enabled: true
    api_keys:
      - key: "${LIBRIS_TEST_KEY}"
        extra: "extra"
        name: "desk"
        account_id: 2
        role: admin
      - key: "member-key"
        extra: "extra"
        name: "member"
        account_id: 1
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 4*time.Hour, cfg.Ledger.MaxDuration)
	assert.Equal(t, 15*time.Minute, cfg.Ledger.LeadTime)
	require.Len(t, cfg.API.Auth.APIKeys, 2)
	assert.Equal(t, "secret-key", cfg.API.Auth.APIKeys[0].Key)
	assert.Equal(t, models.RoleAdmin, cfg.API.Auth.APIKeys[0].Role)
	assert.Equal(t, models.RoleMember, cfg.API.Auth.APIKeys[1].Role)

	loc, err := cfg.Ledger.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/London", loc.String())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		cfg := Config{Database: DatabaseConfig{Driver: DriverSQLite, Path: "libris.db"}}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}, wantErr: false},
		{name: "memory driver without path", mutate: func(c *Config) { c.Database = DatabaseConfig{Driver: DriverMemory} }, wantErr: false},
		{name: "sqlite without path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "postgres" }, wantErr: true},
		{name: "bad timezone", mutate: func(c *Config) { c.Ledger.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "negative lead time", mutate: func(c *Config) { c.Ledger.LeadTime = -time.Minute }, wantErr: true},
		{
			name: "duplicate api key",
			mutate: func(c *Config) {
				c.API.Auth.APIKeys = []APIClientKey{
					{Key: "k", Name: "a", AccountID: 1},
					{Key: "k", Name: "b", AccountID: 2},
				}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.API.HTTP.Port)
	assert.Equal(t, 8*time.Hour, cfg.Ledger.MaxDuration)
	assert.Equal(t, time.Hour, cfg.Ledger.CancellationWindow)
	assert.Equal(t, 30*time.Minute, cfg.Ledger.SlotSize)
	assert.Equal(t, models.RateLimitMessages, cfg.Assistant.RateLimitMessages)
	assert.Equal(t, time.Minute, cfg.Assistant.RateLimitWindow)
	assert.Equal(t, "libris:events", cfg.Events.QueueKey)
}

func TestValidateAPIKeys(t *testing.T) {
	tests := []struct {
		name    string
		keys    []APIClientKey
		wantErr bool
	}{
		{name: "valid", keys: []APIClientKey{{Key: "a", AccountID: 1}, {Key: "b", AccountID: 2, Role: models.RoleAdmin}}},
		{name: "empty key", keys: []APIClientKey{{Key: " ", AccountID: 1}}, wantErr: true},
		{name: "no account", keys: []APIClientKey{{Key: "a"}}, wantErr: true},
		{name: "bad role", keys: []APIClientKey{{Key: "a", AccountID: 1, Role: "root"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKeys(tt.keys)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKeys() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
