package config

import "time"

type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Node Config
	NodeHome     string `json:"node_home"`     // Node home directory (default: ~/.mirrord)
	DatabaseDir  string `json:"database_dir"`  // Directory of the SQLite file (default: <node_home>/data)
	DatabaseFile string `json:"database_file"` // SQLite file name (default: mirror.db)

	// Chain Log Source
	RPCURLs                     []string `json:"rpc_urls"`                       // EVM JSON-RPC endpoints, first reachable one is used
	ContractAddresses           []string `json:"contract_addresses"`             // Game factory / game contracts emitting the watched events
	EventStartFrom              *int64   `json:"event_start_from,omitempty"`     // First block when no cursor is stored; -1 or absent means latest
	EventPollingIntervalSeconds int      `json:"event_polling_interval_seconds"` // How often to poll for new logs (default: 5)
	BlockConfirmations          uint64   `json:"block_confirmations"`            // Blocks behind head before a log is ingested
	MaxBlockRange               uint64   `json:"max_block_range"`                // Max blocks per eth_getLogs call (default: 2000)
	RPCRequestsPerSecond        float64  `json:"rpc_requests_per_second"`        // Shared RPC rate limit, 0 disables throttling

	// Reconciliation
	ApplyTimeoutSeconds int `json:"apply_timeout_seconds"` // Upper bound for one event application (default: 10)

	// Retry Sweeper
	SweeperIntervalSeconds int `json:"sweeper_interval_seconds"` // Fixed interval between sweep passes (default: 30)
	SweeperMaxRetries      int `json:"sweeper_max_retries"`      // Retry ceiling per transaction hash (default: 5)
	SweeperMinAgeSeconds   int `json:"sweeper_min_age_seconds"`  // Entries touched more recently are left alone (default: 15)
	SweeperBatchSize       int `json:"sweeper_batch_size"`       // Max entries per pass (default: 100)

	// Query Server Config
	QueryServerPort int `json:"query_server_port"` // Port for HTTP query server (default: 8080)
}

// EventPollingInterval returns the listener poll interval.
func (c *Config) EventPollingInterval() time.Duration {
	return time.Duration(c.EventPollingIntervalSeconds) * time.Second
}

// ApplyTimeout returns the per-event application timeout.
func (c *Config) ApplyTimeout() time.Duration {
	return time.Duration(c.ApplyTimeoutSeconds) * time.Second
}

// SweeperInterval returns the fixed interval between sweep passes.
func (c *Config) SweeperInterval() time.Duration {
	return time.Duration(c.SweeperIntervalSeconds) * time.Second
}

// SweeperMinAge returns how long an entry must stay untouched before it is retried.
func (c *Config) SweeperMinAge() time.Duration {
	return time.Duration(c.SweeperMinAgeSeconds) * time.Second
}

// ChainSourceEnabled reports whether enough is configured to run the log listener.
func (c *Config) ChainSourceEnabled() bool {
	return len(c.RPCURLs) > 0 && len(c.ContractAddresses) > 0
}
