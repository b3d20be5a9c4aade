package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

const (
	configSubdir   = "config"
	configFileName = "mirror_config.json"
	dataSubdir     = "data"

	// EnvRPCURL overrides rpc_urls with a single endpoint.
	EnvRPCURL = "MIRROR_RPC_URL"
	// EnvHome overrides the node home directory.
	EnvHome = "MIRROR_HOME"
)

//go:embed default_config.json
var defaultConfigJSON []byte

func validateConfig(cfg *Config) error {
	// Validate log level
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}

	// Validate log format
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	for i, addr := range cfg.ContractAddresses {
		if !ethcommon.IsHexAddress(addr) {
			return fmt.Errorf("contract address %q is not a valid hex address", addr)
		}
		cfg.ContractAddresses[i] = strings.ToLower(ethcommon.HexToAddress(addr).Hex())
	}

	if cfg.EventStartFrom != nil && *cfg.EventStartFrom < -1 {
		return fmt.Errorf("event_start_from must be -1 or a block number")
	}

	// Set defaults for storage
	if cfg.DatabaseFile == "" {
		cfg.DatabaseFile = "mirror.db"
	}
	if cfg.DatabaseDir == "" && cfg.NodeHome != "" {
		cfg.DatabaseDir = filepath.Join(cfg.NodeHome, dataSubdir)
	}

	// Set defaults for event monitoring
	if cfg.EventPollingIntervalSeconds == 0 {
		cfg.EventPollingIntervalSeconds = 5
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = 2000
	}
	if cfg.RPCRequestsPerSecond < 0 {
		return fmt.Errorf("rpc_requests_per_second must not be negative")
	}

	// Set defaults for reconciliation
	if cfg.ApplyTimeoutSeconds == 0 {
		cfg.ApplyTimeoutSeconds = 10
	}

	// Set defaults for the retry sweeper
	if cfg.SweeperIntervalSeconds == 0 {
		cfg.SweeperIntervalSeconds = 30
	}
	if cfg.SweeperMaxRetries == 0 {
		cfg.SweeperMaxRetries = 5
	}
	if cfg.SweeperMinAgeSeconds == 0 {
		cfg.SweeperMinAgeSeconds = 15
	}
	if cfg.SweeperBatchSize == 0 {
		cfg.SweeperBatchSize = 100
	}
	if cfg.SweeperMaxRetries < 0 || cfg.SweeperBatchSize < 0 ||
		cfg.SweeperIntervalSeconds < 0 || cfg.SweeperMinAgeSeconds < 0 {
		return fmt.Errorf("sweeper settings must not be negative")
	}

	// Set defaults for query server
	if cfg.QueryServerPort == 0 {
		cfg.QueryServerPort = 8080
	}

	return nil
}

// Validate applies defaults and checks the configuration.
func Validate(cfg *Config) error {
	return validateConfig(cfg)
}

// Save writes the given config to <basePath>/config/mirror_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, configFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads the config from <basePath>/config/mirror_config.json, applies
// environment overrides and defaults.
func Load(basePath string) (Config, error) {
	configFile := filepath.Join(basePath, configSubdir, configFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.NodeHome == "" {
		cfg.NodeHome = basePath
	}

	ApplyEnvOverrides(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadDefaultConfig loads the default configuration from embedded JSON
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	return &cfg, nil
}

// ApplyEnvOverrides lets deployments inject the RPC endpoint and home
// directory without editing the config file.
func ApplyEnvOverrides(cfg *Config) {
	if url := strings.TrimSpace(os.Getenv(EnvRPCURL)); url != "" {
		cfg.RPCURLs = []string{url}
	}
	if home := strings.TrimSpace(os.Getenv(EnvHome)); home != "" {
		cfg.NodeHome = home
	}
}
