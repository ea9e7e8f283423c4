package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/chainmon/substrate-exporter/version"
)

const (
	// LogFormatPlain is a format for colored text.
	LogFormatPlain = "plain"
	// LogFormatJSON is a format for json output.
	LogFormatJSON = "json"

	// DefaultLogLevel defines a default log level as INFO.
	DefaultLogLevel = "info"

	// FollowBest follows the best (possibly unfinalized) chain head.
	FollowBest = "best"
	// FollowFinalized follows finalized heads only.
	FollowFinalized = "finalized"

	DefaultConfigDir      = "config"
	DefaultConfigFileName = "config.toml"
)

var defaultConfigFilePath = filepath.Join(DefaultConfigDir, DefaultConfigFileName)

// Periodic query names accepted in [collector] queries.
const (
	QueryNodeHealth       = "node_health"
	QueryNodeInfo         = "node_info"
	QueryFinalizedHead    = "finalized_head"
	QueryRuntimeVersion   = "runtime_version"
	QueryActiveValidators = "active_validators"
	QueryTotalIssuance    = "total_issuance"
	QueryStaking          = "staking"
)

// KnownQueries lists every periodic query, in execution order.
var KnownQueries = []string{
	QueryNodeHealth,
	QueryNodeInfo,
	QueryFinalizedHead,
	QueryRuntimeVersion,
	QueryActiveValidators,
	QueryTotalIssuance,
	QueryStaking,
}

// Config defines the top level configuration for the exporter.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	Chain           *ChainConfig           `mapstructure:"chain"`
	Collector       *CollectorConfig       `mapstructure:"collector"`
	Scrape          *ScrapeConfig          `mapstructure:"scrape"`
	Retry           *RetryConfig           `mapstructure:"retry"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for the exporter.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Chain:           DefaultChainConfig(),
		Collector:       DefaultCollectorConfig(),
		Scrape:          DefaultScrapeConfig(),
		Retry:           DefaultRetryConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration with short timeouts, suitable for tests.
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		Chain:           TestChainConfig(),
		Collector:       TestCollectorConfig(),
		Scrape:          TestScrapeConfig(),
		Retry:           TestRetryConfig(),
		Instrumentation: TestInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs.
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Chain.ValidateBasic(); err != nil {
		return ErrInSection{Section: "chain", Err: err}
	}
	if err := cfg.Collector.ValidateBasic(); err != nil {
		return ErrInSection{Section: "collector", Err: err}
	}
	if err := cfg.Scrape.ValidateBasic(); err != nil {
		return ErrInSection{Section: "scrape", Err: err}
	}
	if err := cfg.Retry.ValidateBasic(); err != nil {
		return ErrInSection{Section: "retry", Err: err}
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return ErrInSection{Section: "instrumentation", Err: err}
	}
	return nil
}

// -----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for the exporter.
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// The version of the exporter that created or last modified the config file
	Version string `mapstructure:"version"`

	// Output level for logging
	LogLevel string `mapstructure:"log_level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log_format"`
}

// DefaultBaseConfig returns a default base configuration.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		Version:   version.Version,
		LogLevel:  DefaultLogLevel,
		LogFormat: LogFormatPlain,
	}
}

// TestBaseConfig returns a base configuration for testing.
func TestBaseConfig() BaseConfig {
	return DefaultBaseConfig()
}

// ConfigFile returns the full path to the config.toml file.
func (cfg BaseConfig) ConfigFile() string {
	return rootify(defaultConfigFilePath, cfg.RootDir)
}

// ValidateBasic performs basic validation.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case LogFormatPlain, LogFormatJSON:
	default:
		return ErrUnknownLogFormat
	}
	return nil
}

// -----------------------------------------------------------------------------
// ChainConfig

// ChainConfig defines how the exporter talks to the node.
type ChainConfig struct {
	// Websocket JSON-RPC endpoint of the node (ws:// or wss://)
	Endpoint string `mapstructure:"endpoint"`

	// Which heads to follow: "best" or "finalized"
	Follow string `mapstructure:"follow"`

	// Timeout of the websocket handshake and initial metadata fetch
	DialTimeout time.Duration `mapstructure:"dial_timeout"`

	// Default deadline of a single RPC call
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// How often to ping the node
	PingInterval time.Duration `mapstructure:"ping_interval"`

	// How long to wait for any message (including pongs) before the
	// connection is considered lost. Must be greater than ping_interval.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// Number of head notifications buffered before new ones are dropped
	// (dropped blocks are backfilled)
	SubscriptionBuffer int `mapstructure:"subscription_buffer"`

	// Maximum number of missing blocks fetched to fill a gap
	MaxBackfill int `mapstructure:"max_backfill"`

	// Maximum size of a single websocket message in bytes
	MaxMessageSize int64 `mapstructure:"max_message_size"`

	// SS58 network prefix used to render account labels. -1 reads
	// System.SS58Prefix from the runtime.
	SS58Prefix int `mapstructure:"ss58_prefix"`

	// Decimals of the native token. -1 reads system_properties.
	TokenDecimals int `mapstructure:"token_decimals"`
}

// DefaultChainConfig returns a default configuration for the chain client.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		Endpoint:           "ws://127.0.0.1:9944",
		Follow:             FollowBest,
		DialTimeout:        10 * time.Second,
		RequestTimeout:     10 * time.Second,
		PingInterval:       20 * time.Second,
		ReadTimeout:        40 * time.Second,
		SubscriptionBuffer: 64,
		MaxBackfill:        32,
		MaxMessageSize:     64 << 20,
		SS58Prefix:         -1,
		TokenDecimals:      -1,
	}
}

// TestChainConfig returns a configuration for testing the chain client.
func TestChainConfig() *ChainConfig {
	cfg := DefaultChainConfig()
	cfg.DialTimeout = 2 * time.Second
	cfg.RequestTimeout = 2 * time.Second
	cfg.PingInterval = 100 * time.Millisecond
	cfg.ReadTimeout = time.Second
	cfg.SubscriptionBuffer = 16
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *ChainConfig) ValidateBasic() error {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("endpoint must use ws:// or wss://, got %q", cfg.Endpoint)
	}
	if cfg.Follow != FollowBest && cfg.Follow != FollowFinalized {
		return fmt.Errorf("follow must be %q or %q, got %q", FollowBest, FollowFinalized, cfg.Follow)
	}
	if cfg.DialTimeout <= 0 {
		return errors.New("dial_timeout must be positive")
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	if cfg.PingInterval <= 0 {
		return errors.New("ping_interval must be positive")
	}
	if cfg.ReadTimeout <= cfg.PingInterval {
		return errors.New("read_timeout must be greater than ping_interval")
	}
	if cfg.SubscriptionBuffer <= 0 {
		return errors.New("subscription_buffer must be positive")
	}
	if cfg.MaxBackfill < 0 {
		return errors.New("max_backfill can't be negative")
	}
	if cfg.MaxMessageSize <= 0 {
		return errors.New("max_message_size must be positive")
	}
	if cfg.SS58Prefix < -1 || cfg.SS58Prefix > 16383 {
		return errors.New("ss58_prefix must be -1 or in [0, 16383]")
	}
	if cfg.TokenDecimals < -1 || cfg.TokenDecimals > 36 {
		return errors.New("token_decimals must be -1 or in [0, 36]")
	}
	return nil
}

// -----------------------------------------------------------------------------
// CollectorConfig

// CollectorConfig defines what is collected and how often.
type CollectorConfig struct {
	// Prefix of every chain metric name
	Namespace string `mapstructure:"namespace"`

	// Interval between runs of the periodic queries
	QueryInterval time.Duration `mapstructure:"query_interval"`

	// Deadline of a single periodic query run
	QueryTimeout time.Duration `mapstructure:"query_timeout"`

	// Enabled periodic queries
	Queries []string `mapstructure:"queries"`

	// Nodes older than this version are reported as unsupported
	MinNodeVersion string `mapstructure:"min_node_version"`

	// Maximum number of concurrent per-validator storage reads
	StakingConcurrency int `mapstructure:"staking_concurrency"`

	// How long resolved validator identities are cached
	IdentityCacheTTL time.Duration `mapstructure:"identity_cache_ttl"`

	// Maximum number of cached identities
	IdentityCacheSize int `mapstructure:"identity_cache_size"`
}

// DefaultCollectorConfig returns a default configuration for the collector.
func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		Namespace:          "substrate",
		QueryInterval:      60 * time.Second,
		QueryTimeout:       30 * time.Second,
		Queries:            append([]string(nil), KnownQueries...),
		StakingConcurrency: 8,
		IdentityCacheTTL:   10 * time.Minute,
		IdentityCacheSize:  1024,
	}
}

// TestCollectorConfig returns a configuration for testing the collector.
func TestCollectorConfig() *CollectorConfig {
	cfg := DefaultCollectorConfig()
	cfg.Namespace = ""
	cfg.QueryInterval = 50 * time.Millisecond
	cfg.QueryTimeout = time.Second
	return cfg
}

// QueryEnabled reports whether the named query is enabled.
func (cfg *CollectorConfig) QueryEnabled(name string) bool {
	for _, q := range cfg.Queries {
		if q == name {
			return true
		}
	}
	return false
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *CollectorConfig) ValidateBasic() error {
	if cfg.QueryInterval <= 0 {
		return errors.New("query_interval must be positive")
	}
	if cfg.QueryTimeout <= 0 {
		return errors.New("query_timeout must be positive")
	}
	for _, q := range cfg.Queries {
		known := false
		for _, k := range KnownQueries {
			known = known || q == k
		}
		if !known {
			return fmt.Errorf("unknown query %q (known: %s)", q, strings.Join(KnownQueries, ", "))
		}
	}
	if cfg.MinNodeVersion != "" {
		if _, err := semver.NewVersion(cfg.MinNodeVersion); err != nil {
			return fmt.Errorf("invalid min_node_version: %w", err)
		}
	}
	if cfg.StakingConcurrency <= 0 {
		return errors.New("staking_concurrency must be positive")
	}
	if cfg.IdentityCacheTTL < 0 {
		return errors.New("identity_cache_ttl can't be negative")
	}
	if cfg.IdentityCacheSize <= 0 {
		return errors.New("identity_cache_size must be positive")
	}
	return nil
}

// -----------------------------------------------------------------------------
// ScrapeConfig

// ScrapeConfig defines the HTTP endpoint scraped by Prometheus.
type ScrapeConfig struct {
	// TCP or UNIX socket address to listen on
	ListenAddress string `mapstructure:"listen_address"`

	// Path serving the metrics exposition
	Path string `mapstructure:"path"`

	// Maximum number of simultaneous connections. 0 means unlimited.
	MaxOpenConnections int `mapstructure:"max_open_connections"`

	// Origins a cross-domain request can be executed from.
	// Default value '[]' disables cors support.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`

	// How long to wait for in-flight scrapes on shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultScrapeConfig returns a default configuration for the scrape server.
func DefaultScrapeConfig() *ScrapeConfig {
	return &ScrapeConfig{
		ListenAddress:      "tcp://0.0.0.0:8000",
		Path:               "/metrics",
		MaxOpenConnections: 10,
		CORSAllowedOrigins: []string{},
		ReadHeaderTimeout:  10 * time.Second,
		WriteTimeout:       10 * time.Second,
		ShutdownTimeout:    5 * time.Second,
	}
}

// TestScrapeConfig returns a configuration for testing the scrape server.
func TestScrapeConfig() *ScrapeConfig {
	cfg := DefaultScrapeConfig()
	cfg.ListenAddress = "tcp://127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second
	return cfg
}

// IsCorsEnabled returns true if cross-origin resource sharing is enabled.
func (cfg *ScrapeConfig) IsCorsEnabled() bool {
	return len(cfg.CORSAllowedOrigins) != 0
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *ScrapeConfig) ValidateBasic() error {
	if cfg.ListenAddress == "" {
		return errors.New("listen_address can't be empty")
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return errors.New("path must start with /")
	}
	if cfg.MaxOpenConnections < 0 {
		return errors.New("max_open_connections can't be negative")
	}
	if cfg.ReadHeaderTimeout < 0 || cfg.WriteTimeout < 0 || cfg.ShutdownTimeout < 0 {
		return errors.New("timeouts can't be negative")
	}
	return nil
}

// -----------------------------------------------------------------------------
// RetryConfig

// RetryConfig defines the reconnection backoff.
type RetryConfig struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`

	// Randomization factor in [0, 1). 0 disables jitter.
	Jitter float64 `mapstructure:"jitter"`
}

// DefaultRetryConfig returns a default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     time.Minute,
		Jitter:          0.1,
	}
}

// TestRetryConfig returns a retry configuration without jitter.
func TestRetryConfig() *RetryConfig {
	return &RetryConfig{
		InitialInterval: 10 * time.Millisecond,
		Multiplier:      2,
		MaxInterval:     80 * time.Millisecond,
		Jitter:          0,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *RetryConfig) ValidateBasic() error {
	if cfg.InitialInterval <= 0 {
		return errors.New("initial_interval must be positive")
	}
	if cfg.Multiplier < 1 {
		return errors.New("multiplier must be at least 1")
	}
	if cfg.MaxInterval < cfg.InitialInterval {
		return errors.New("max_interval must not be less than initial_interval")
	}
	if cfg.Jitter < 0 || cfg.Jitter >= 1 {
		return errors.New("jitter must be in [0, 1)")
	}
	return nil
}

// -----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the exporter's own metrics.
type InstrumentationConfig struct {
	// When true, Go runtime, process and exporter self metrics are served
	// alongside the chain metrics.
	Prometheus bool `mapstructure:"prometheus"`

	// Instrumentation namespace
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus: true,
		Namespace:  "substrate",
	}
}

// TestInstrumentationConfig returns a default configuration for metrics
// reporting.
func TestInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{Prometheus: false, Namespace: ""}
}

// ValidateBasic performs basic validation.
func (*InstrumentationConfig) ValidateBasic() error {
	return nil
}

// -----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir.
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
