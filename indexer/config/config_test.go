package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfig(t *testing.T) {
	testCases := []struct {
		name        string
		config      *Config
		expectError bool
		errorMsg    string
		validate    func(t *testing.T, cfg *Config)
	}{
		{
			name: "Valid config with all fields",
			config: &Config{
				LogLevel:                    2,
				LogFormat:                   "json",
				RPCURLs:                     []string{"http://localhost:8545"},
				ContractAddresses:           []string{"0x00000000000000000000000000000000000000AA"},
				EventPollingIntervalSeconds: 3,
				SweeperMaxRetries:           7,
				QueryServerPort:             9000,
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3, cfg.EventPollingIntervalSeconds)
				assert.Equal(t, 7, cfg.SweeperMaxRetries)
				assert.Equal(t, 9000, cfg.QueryServerPort)
				assert.Equal(t, "0x00000000000000000000000000000000000000aa", cfg.ContractAddresses[0])
			},
		},
		{
			name: "Valid config with console log format",
			config: &Config{
				LogLevel:  1,
				LogFormat: "console",
			},
		},
		{
			name: "Invalid log level (negative)",
			config: &Config{
				LogLevel:  -1,
				LogFormat: "json",
			},
			expectError: true,
			errorMsg:    "log level must be between 0 and 5",
		},
		{
			name: "Invalid log level (too high)",
			config: &Config{
				LogLevel:  6,
				LogFormat: "json",
			},
			expectError: true,
			errorMsg:    "log level must be between 0 and 5",
		},
		{
			name: "Invalid log format",
			config: &Config{
				LogLevel:  2,
				LogFormat: "xml",
			},
			expectError: true,
			errorMsg:    "log format must be 'json' or 'console'",
		},
		{
			name: "Invalid contract address",
			config: &Config{
				LogFormat:         "json",
				ContractAddresses: []string{"0x1234"},
			},
			expectError: true,
			errorMsg:    "not a valid hex address",
		},
		{
			name: "Invalid start block",
			config: &Config{
				LogFormat:      "json",
				EventStartFrom: ptr(int64(-2)),
			},
			expectError: true,
			errorMsg:    "event_start_from must be -1 or a block number",
		},
		{
			name: "Negative sweeper setting",
			config: &Config{
				LogFormat:         "json",
				SweeperMaxRetries: -1,
			},
			expectError: true,
			errorMsg:    "sweeper settings must not be negative",
		},
		{
			name: "Negative RPC rate limit",
			config: &Config{
				LogFormat:            "json",
				RPCRequestsPerSecond: -1,
			},
			expectError: true,
			errorMsg:    "rpc_requests_per_second must not be negative",
		},
		{
			name: "Config with defaults applied",
			config: &Config{
				LogLevel:  2,
				LogFormat: "json",
				NodeHome:  "/var/lib/mirrord",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "mirror.db", cfg.DatabaseFile)
				assert.Equal(t, filepath.Join("/var/lib/mirrord", "data"), cfg.DatabaseDir)
				assert.Equal(t, 5*time.Second, cfg.EventPollingInterval())
				assert.Equal(t, uint64(2000), cfg.MaxBlockRange)
				assert.Equal(t, 10*time.Second, cfg.ApplyTimeout())
				assert.Equal(t, 30*time.Second, cfg.SweeperInterval())
				assert.Equal(t, 15*time.Second, cfg.SweeperMinAge())
				assert.Equal(t, 5, cfg.SweeperMaxRetries)
				assert.Equal(t, 100, cfg.SweeperBatchSize)
				assert.Equal(t, 8080, cfg.QueryServerPort)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateConfig(tc.config)

			if tc.expectError {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errorMsg)
				return
			}

			require.NoError(t, err)
			if tc.validate != nil {
				tc.validate(t, tc.config)
			}
		})
	}
}

func TestLoadDefaultConfig(t *testing.T) {
	cfg, err := LoadDefaultConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "mirror.db", cfg.DatabaseFile)
	assert.Equal(t, 5, cfg.SweeperMaxRetries)
	assert.False(t, cfg.ChainSourceEnabled())
	require.NoError(t, validateConfig(cfg))
}

func TestSaveAndLoad(t *testing.T) {
	t.Setenv(EnvRPCURL, "")
	t.Setenv(EnvHome, "")
	home := t.TempDir()

	cfg, err := LoadDefaultConfig()
	require.NoError(t, err)
	cfg.LogFormat = "json"
	cfg.RPCURLs = []string{"http://localhost:8545"}
	cfg.ContractAddresses = []string{"0x00000000000000000000000000000000000000Bb"}

	require.NoError(t, Save(cfg, home))
	assert.FileExists(t, filepath.Join(home, "config", "mirror_config.json"))

	loaded, err := Load(home)
	require.NoError(t, err)
	assert.Equal(t, "json", loaded.LogFormat)
	assert.Equal(t, home, loaded.NodeHome)
	assert.Equal(t, filepath.Join(home, "data"), loaded.DatabaseDir)
	assert.Equal(t, []string{"0x00000000000000000000000000000000000000bb"}, loaded.ContractAddresses)
	assert.True(t, loaded.ChainSourceEnabled())
}

func TestLoadErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(t.TempDir())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read config file")
	})

	t.Run("invalid json", func(t *testing.T) {
		home := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(home, "config"), 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(home, "config", "mirror_config.json"), []byte("{"), 0o600))

		_, err := Load(home)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal config")
	})
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv(EnvRPCURL, "http://node:8545")
	t.Setenv(EnvHome, "/srv/mirror")

	cfg := &Config{RPCURLs: []string{"http://localhost:8545"}}
	ApplyEnvOverrides(cfg)

	assert.Equal(t, []string{"http://node:8545"}, cfg.RPCURLs)
	assert.Equal(t, "/srv/mirror", cfg.NodeHome)
}

func ptr[T any](v T) *T {
	return &v
}
