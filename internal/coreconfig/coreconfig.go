// Package coreconfig loads the daemon's YAML configuration file, the way
// the teacher's internal/node.Config loads the P2P node's settings: a
// typed struct with yaml tags, a DefaultConfig, and a LoadConfig that
// creates the file with defaults on first run.
package coreconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/copytrade/engine/internal/chainparams"
	"github.com/copytrade/engine/pkg/helpers"
)

// Config holds all configuration for the copy-trading daemon.
type Config struct {
	// Cluster selects the Solana cluster this engine operates against.
	Cluster chainparams.Cluster `yaml:"cluster"`

	RPC        RPCConfig        `yaml:"rpc"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	Ingress    IngressConfig    `yaml:"ingress"`
	PoolCache  PoolCacheConfig  `yaml:"pool_cache"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
	Fanout     FanoutConfig     `yaml:"fanout"`
	Control    ControlConfig    `yaml:"control"`
}

// RPCConfig holds Chain RPC and Signing Oracle endpoints.
type RPCConfig struct {
	// HTTPEndpoint is the cluster's JSON-RPC HTTP endpoint.
	HTTPEndpoint string `yaml:"http_endpoint"`

	// WebsocketEndpoint is the cluster's pubsub endpoint for logsSubscribe.
	WebsocketEndpoint string `yaml:"websocket_endpoint"`

	// RequestTimeout bounds any single Chain RPC call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// SigningOracleURL is the Signing Oracle's HTTP endpoint. Empty uses
	// the in-process DevFixture instead of a RemoteOracle -- local runs
	// and tests only, never production.
	SigningOracleURL string `yaml:"signing_oracle_url"`

	// SigningOracleTimeout bounds a single Sign call to the oracle.
	SigningOracleTimeout time.Duration `yaml:"signing_oracle_timeout"`

	// DevMnemonic seeds the DevFixture when SigningOracleURL is empty. An
	// empty value generates a fresh mnemonic at startup (never persisted).
	DevMnemonic string `yaml:"dev_mnemonic,omitempty"`
}

// ExecutorConfig mirrors executor.Config, expressed in YAML-friendly
// durations and human-readable SOL amounts rather than raw lamports.
type ExecutorConfig struct {
	// SkipSimulation disables the simulate-then-submit preflight when
	// true. Spec default is false (simulation runs).
	SkipSimulation bool `yaml:"skip_simulation"`

	// MEVProtectionEnabled routes a tip instruction to chainparams.KnownMEVTipAccount.
	MEVProtectionEnabled bool `yaml:"mev_protection_enabled"`

	// MEVTipSOL is the tip amount, expressed in SOL (e.g. "0.0001").
	MEVTipSOL string `yaml:"mev_tip_sol"`

	ConfirmDeadline  time.Duration `yaml:"confirm_deadline"`
	BlockhashMaxAge  time.Duration `yaml:"blockhash_max_age"`
	MaxSubmitRetries int           `yaml:"max_submit_retries"`
}

// MEVTipLamports parses MEVTipSOL into lamports, defaulting to 0 when
// unset or MEV protection is disabled.
func (e ExecutorConfig) MEVTipLamports() (uint64, error) {
	if !e.MEVProtectionEnabled || e.MEVTipSOL == "" {
		return 0, nil
	}
	return helpers.SOLToLamports(e.MEVTipSOL)
}

// CoordinatorConfig mirrors coordinator.Config.
type CoordinatorConfig struct {
	FollowerConcurrency int           `yaml:"follower_concurrency"`
	FollowerQueueDepth  int           `yaml:"follower_queue_depth"`
	PlanDeadline        time.Duration `yaml:"plan_deadline"`
	IdempotencyCapacity int           `yaml:"idempotency_capacity"`
}

// IngressConfig configures Stream Ingress (spec §4.1).
type IngressConfig struct {
	FreshnessHorizon time.Duration `yaml:"freshness_horizon"`
	DedupCapacity    int           `yaml:"dedup_capacity"`

	// WatchedMasters is the initial set of master wallets to subscribe
	// to, as base58 strings. In production this is typically sourced
	// from the Config Store instead; listing it here supports running
	// without one configured yet.
	WatchedMasters []string `yaml:"watched_masters,omitempty"`
}

// PoolCacheConfig configures the Pool State Cache (spec §4.4).
type PoolCacheConfig struct {
	TTL      time.Duration `yaml:"ttl"`
	Capacity int           `yaml:"capacity"`
}

// AggregatorConfig configures the ExternalAggregator fallback builder's
// HTTP client (spec §4.3's ExternalAggregator strategy). BaseURL empty
// leaves the fallback builder unconfigured, which fails closed with
// ErrAggregatorUnavailable rather than silently skipping the check.
type AggregatorConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig holds the SQLite-backed idempotency ledger and outcome
// log's file location.
type StorageConfig struct {
	// DataDir is the directory holding the SQLite database file(s) and
	// the generated config file itself.
	DataDir string `yaml:"data_dir"`

	// ConfigStoreDSN is the Config Store's own SQLite data source, kept
	// distinct from DataDir's ledger database so the two can be backed
	// up or rotated independently.
	ConfigStoreDSN string `yaml:"config_store_dsn"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// FanoutConfig configures the optional libp2p pubsub transport used to
// distribute TradeOutcome events to other engine instances (e.g. a
// read-only dashboard node). Off by default -- most deployments run a
// single instance and publish outcomes straight to EventSink.
type FanoutConfig struct {
	Enabled bool `yaml:"enabled"`

	// Topic is the pubsub topic name outcomes are published under.
	Topic string `yaml:"topic"`

	// ListenAddrs are the multiaddrs the libp2p host listens on.
	ListenAddrs []string `yaml:"listen_addrs"`

	// BootstrapPeers are the initial peers to connect to for topic mesh
	// formation.
	BootstrapPeers []string `yaml:"bootstrap_peers"`
}

// ControlConfig configures the operator control RPC server (pause,
// resume, reload-config, drain, snapshot-metrics).
type ControlConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a Config with sensible defaults, grounded in the
// chainparams package's documented spec defaults.
func DefaultConfig() *Config {
	return &Config{
		Cluster: chainparams.Mainnet,
		RPC: RPCConfig{
			HTTPEndpoint:         "https://api.mainnet-beta.solana.com",
			WebsocketEndpoint:    "wss://api.mainnet-beta.solana.com",
			RequestTimeout:       10 * time.Second,
			SigningOracleTimeout: 5 * time.Second,
		},
		Executor: ExecutorConfig{
			SkipSimulation:       false,
			MEVProtectionEnabled: false,
			MEVTipSOL:            "0.0001",
			ConfirmDeadline:      chainparams.DefaultConfirmDeadlineSeconds * time.Second,
			BlockhashMaxAge:      chainparams.DefaultBlockhashMaxAgeSeconds * time.Second,
			MaxSubmitRetries:     2,
		},
		Coordinator: CoordinatorConfig{
			FollowerConcurrency: chainparams.DefaultFollowerConcurrency,
			FollowerQueueDepth:  chainparams.DefaultFollowerQueueDepth,
			PlanDeadline:        chainparams.DefaultPlanDeadlineSeconds * time.Second,
			IdempotencyCapacity: chainparams.DefaultIdempotencyCacheCapacity,
		},
		Ingress: IngressConfig{
			FreshnessHorizon: chainparams.DefaultFreshnessHorizonSeconds * time.Second,
			DedupCapacity:    chainparams.DefaultIngressDedupCapacity,
		},
		PoolCache: PoolCacheConfig{
			TTL:      chainparams.DefaultPoolCacheTTLSeconds * time.Second,
			Capacity: chainparams.DefaultPoolCacheCapacity,
		},
		Aggregator: AggregatorConfig{
			BaseURL: "",
			Timeout: 5 * time.Second,
		},
		Storage: StorageConfig{
			DataDir:        "~/.copytrade",
			ConfigStoreDSN: "followers.db",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Fanout: FanoutConfig{
			Enabled:        false,
			Topic:          "copytrade-outcomes",
			ListenAddrs:    []string{"/ip4/0.0.0.0/tcp/0"},
			BootstrapPeers: []string{},
		},
		Control: ControlConfig{
			ListenAddr: "127.0.0.1:9191",
		},
	}
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// LoadConfig loads configuration from a YAML file under dataDir. If the
// file doesn't exist, it creates one populated with defaults.
func LoadConfig(dataDir string) (*Config, error) {
	expandedDir := expandPath(dataDir)
	configPath := filepath.Join(expandedDir, ConfigFileName)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("coreconfig: create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("coreconfig: read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("coreconfig: parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("coreconfig: create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("coreconfig: marshal config: %w", err)
	}

	header := []byte("# copytrade engine configuration\n# generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("coreconfig: write config file: %w", err)
	}
	return nil
}

// ConfigPath returns the full path to the config file for the given data
// directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
