// Package config provides configuration types and defaults for adwd.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zjrosen/adwd/internal/log"
	"github.com/zjrosen/adwd/internal/tracing"
)

// Config holds all configuration options for the daemon.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	State      StateConfig      `mapstructure:"state"`
	History    HistoryConfig    `mapstructure:"history"`
	Hub        HubConfig        `mapstructure:"hub"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Runner     RunnerConfig     `mapstructure:"runner"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	Services   ServicesConfig   `mapstructure:"services"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Tracing    tracing.Config   `mapstructure:"tracing"`
	Flags      map[string]bool  `mapstructure:"flags"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address. Default: "127.0.0.1"
	Host string `mapstructure:"host"`

	// Port is the listen port. 0 picks an ephemeral port. Default: 8001
	Port int `mapstructure:"port"`
}

// StateConfig holds workflow state locations.
type StateConfig struct {
	// Root is the directory containing per-workflow state directories.
	// Each workflow lives at <root>/<adw_id>/ with an adw_state.json file.
	// Overridden by ADWD_STATE_ROOT. Default: ~/agents
	Root string `mapstructure:"root"`

	// WorktreeRoot is the directory containing isolated git worktrees.
	// Default: <root>/../trees (sibling "trees" directory)
	WorktreeRoot string `mapstructure:"worktree_root"`

	// MaxWorktrees caps concurrent isolated workflows.
	// Default: 15
	MaxWorktrees int `mapstructure:"max_worktrees"`

	// DiskThresholdPercent rejects new workflows when disk usage
	// on the state filesystem reaches this percentage. Default: 95
	DiskThresholdPercent float64 `mapstructure:"disk_threshold_percent"`
}

// HistoryConfig holds history indexer settings.
type HistoryConfig struct {
	// DBPath is the SQLite database file.
	// Overridden by ADWD_DB_PATH. Default: <state.root>/adwd.db
	DBPath string `mapstructure:"db_path"`

	// SyncOnStart triggers a full sync when the daemon boots.
	// Default: true
	SyncOnStart bool `mapstructure:"sync_on_start"`

	// SyncIntervalSeconds is the periodic background sync cadence.
	// 0 disables periodic sync. Default: 300
	SyncIntervalSeconds int `mapstructure:"sync_interval_seconds"`
}

// HubConfig holds broadcast hub settings.
type HubConfig struct {
	// SendQueueSize is the per-client outbound frame queue capacity.
	// When full, the oldest frame is dropped. Default: 64
	SendQueueSize int `mapstructure:"send_queue_size"`

	// MaxSendFailures closes a client connection after this many
	// consecutive failed sends. Default: 2
	MaxSendFailures int `mapstructure:"max_send_failures"`
}

// WebhookConfig holds webhook ingestion settings.
type WebhookConfig struct {
	// BotIdentifier prefixes every comment the daemon posts.
	// Comments carrying it are ignored on ingest to prevent loops.
	// Default: "🤖 [adwd]"
	BotIdentifier string `mapstructure:"bot_identifier"`

	// StatsRingSize bounds the recent-failure ring in webhook stats.
	// Default: 25
	StatsRingSize int `mapstructure:"stats_ring_size"`
}

// RunnerConfig holds workflow child process settings.
type RunnerConfig struct {
	// BinDir is the directory holding the workflow executables. Each
	// template resolves to <bin_dir>/<command name>, e.g. adw_plan_iso.
	// Empty resolves executables through PATH.
	BinDir string `mapstructure:"bin_dir"`

	// StopGraceSeconds is how long a stop waits after SIGTERM before
	// escalating to SIGKILL. Default: 10
	StopGraceSeconds int `mapstructure:"stop_grace_seconds"`
}

// QuotaConfig holds the external API quota oracle settings.
type QuotaConfig struct {
	// Command is the oracle executable. It prints the remaining budget as
	// "remaining=<n>" on stdout; a non-zero exit means exhausted. Empty
	// disables the check and workflows are admitted with a warning.
	Command string `mapstructure:"command"`

	// TimeoutSeconds bounds a single oracle call. Default: 10
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ServicesConfig holds sidecar service definitions.
type ServicesConfig struct {
	Webhook ServiceConfig `mapstructure:"webhook"`
	Tunnel  ServiceConfig `mapstructure:"tunnel"`
}

// ServiceConfig defines one supervised sidecar process.
type ServiceConfig struct {
	// Enabled controls whether the service is started with the daemon.
	Enabled bool `mapstructure:"enabled"`

	// Command is the executable to run.
	Command string `mapstructure:"command"`

	// Args are passed to the command.
	Args []string `mapstructure:"args"`

	// Port the service listens on, if any.
	Port int `mapstructure:"port"`

	// TokenEnv names the environment variable holding the service's
	// auth token (e.g., ADWD_TUNNEL_TOKEN for the tunnel).
	TokenEnv string `mapstructure:"token_env"`
}

// ClassifierConfig holds agentic classifier settings for webhook intent.
type ClassifierConfig struct {
	// Enabled controls whether ambiguous comments fall back to the
	// classifier. When false, only fast-path extraction runs.
	Enabled bool `mapstructure:"enabled"`

	// Command is the classifier executable.
	Command string `mapstructure:"command"`

	// TimeoutSeconds bounds a single classification call. Default: 60
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// DefaultStateRoot returns the default workflow state root.
// Returns ~/agents or empty string if home dir unavailable.
func DefaultStateRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "agents")
}

// DefaultTracesFilePath returns the default path for trace file export.
// Returns ~/.config/adwd/traces/traces.jsonl or empty string if home dir unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "adwd", "traces", "traces.jsonl")
}

// DBPathFor resolves the database path for a given state root,
// applying the default <root>/adwd.db when unset.
func (c Config) DBPathFor() string {
	if c.History.DBPath != "" {
		return c.History.DBPath
	}
	return filepath.Join(c.State.Root, "adwd.db")
}

// WorktreeRootFor resolves the worktree root, defaulting to the
// "trees" sibling of the state root.
func (c Config) WorktreeRootFor() string {
	if c.State.WorktreeRoot != "" {
		return c.State.WorktreeRoot
	}
	return filepath.Join(filepath.Dir(c.State.Root), "trees")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8001,
		},
		State: StateConfig{
			Root:                 DefaultStateRoot(),
			WorktreeRoot:         "", // Derived from state root at runtime
			MaxWorktrees:         15,
			DiskThresholdPercent: 95,
		},
		History: HistoryConfig{
			DBPath:              "", // Derived from state root at runtime
			SyncOnStart:         true,
			SyncIntervalSeconds: 300,
		},
		Hub: HubConfig{
			SendQueueSize:   64,
			MaxSendFailures: 2,
		},
		Webhook: WebhookConfig{
			BotIdentifier: "🤖 [adwd]",
			StatsRingSize: 25,
		},
		Runner: RunnerConfig{
			BinDir:           "",
			StopGraceSeconds: 10,
		},
		Quota: QuotaConfig{
			Command:        "",
			TimeoutSeconds: 10,
		},
		Services: ServicesConfig{
			Webhook: ServiceConfig{
				Enabled: false,
				Command: "",
				Port:    8002,
			},
			Tunnel: ServiceConfig{
				Enabled:  false,
				Command:  "",
				TokenEnv: "ADWD_TUNNEL_TOKEN",
			},
		},
		Classifier: ClassifierConfig{
			Enabled:        false,
			Command:        "",
			TimeoutSeconds: 60,
		},
		Tracing: tracing.Config{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  tracing.DefaultServiceName,
		},
	}
}

// ValidateServer checks server configuration for errors.
func ValidateServer(server ServerConfig) error {
	if server.Port < 0 || server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", server.Port)
	}
	return nil
}

// ValidateState checks state configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateState(state StateConfig) error {
	if state.Root != "" && !filepath.IsAbs(state.Root) {
		return fmt.Errorf("state.root must be an absolute path, got %q", state.Root)
	}
	if state.WorktreeRoot != "" && !filepath.IsAbs(state.WorktreeRoot) {
		return fmt.Errorf("state.worktree_root must be an absolute path, got %q", state.WorktreeRoot)
	}
	if state.MaxWorktrees < 0 {
		return fmt.Errorf("state.max_worktrees must be non-negative, got %d", state.MaxWorktrees)
	}
	if state.DiskThresholdPercent < 0 || state.DiskThresholdPercent > 100 {
		return fmt.Errorf("state.disk_threshold_percent must be between 0 and 100, got %v", state.DiskThresholdPercent)
	}
	return nil
}

// ValidateHistory checks history configuration for errors.
func ValidateHistory(history HistoryConfig) error {
	if history.SyncIntervalSeconds < 0 {
		return fmt.Errorf("history.sync_interval_seconds must be non-negative, got %d", history.SyncIntervalSeconds)
	}
	return nil
}

// ValidateHub checks hub configuration for errors.
func ValidateHub(hub HubConfig) error {
	if hub.SendQueueSize < 1 {
		return fmt.Errorf("hub.send_queue_size must be at least 1, got %d", hub.SendQueueSize)
	}
	if hub.MaxSendFailures < 1 {
		return fmt.Errorf("hub.max_send_failures must be at least 1, got %d", hub.MaxSendFailures)
	}
	return nil
}

// ValidateWebhook checks webhook configuration for errors.
func ValidateWebhook(webhook WebhookConfig) error {
	if webhook.StatsRingSize < 1 {
		return fmt.Errorf("webhook.stats_ring_size must be at least 1, got %d", webhook.StatsRingSize)
	}
	return nil
}

// ValidateRunner checks runner configuration for errors.
func ValidateRunner(runner RunnerConfig) error {
	if runner.BinDir != "" && !filepath.IsAbs(runner.BinDir) {
		return fmt.Errorf("runner.bin_dir must be an absolute path, got %q", runner.BinDir)
	}
	if runner.StopGraceSeconds < 0 {
		return fmt.Errorf("runner.stop_grace_seconds must be non-negative, got %d", runner.StopGraceSeconds)
	}
	return nil
}

// ValidateQuota checks quota oracle configuration for errors.
func ValidateQuota(quota QuotaConfig) error {
	if quota.TimeoutSeconds < 0 {
		return fmt.Errorf("quota.timeout_seconds must be non-negative, got %d", quota.TimeoutSeconds)
	}
	return nil
}

// ValidateClassifier checks classifier configuration for errors.
func ValidateClassifier(classifier ClassifierConfig) error {
	if classifier.Enabled && classifier.Command == "" {
		return fmt.Errorf("classifier.command is required when classifier is enabled")
	}
	if classifier.TimeoutSeconds < 0 {
		return fmt.Errorf("classifier.timeout_seconds must be non-negative, got %d", classifier.TimeoutSeconds)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tc tracing.Config) error {
	// Validate SampleRate is in range [0.0, 1.0]
	if tc.SampleRate < 0.0 || tc.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tc.SampleRate)
	}

	// Validate Exporter is a valid option
	if tc.Exporter != "" {
		switch tc.Exporter {
		case "none", "file", "stdout", "otlp":
			// Valid
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tc.Exporter)
		}
	}

	// Only validate path requirements when tracing is enabled
	if tc.Enabled {
		if tc.Exporter == "file" && tc.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if tc.Exporter == "otlp" && tc.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}

	return nil
}

// Validate checks the complete configuration for errors.
func (c Config) Validate() error {
	if err := ValidateServer(c.Server); err != nil {
		return err
	}
	if err := ValidateState(c.State); err != nil {
		return err
	}
	if err := ValidateHistory(c.History); err != nil {
		return err
	}
	if err := ValidateHub(c.Hub); err != nil {
		return err
	}
	if err := ValidateWebhook(c.Webhook); err != nil {
		return err
	}
	if err := ValidateRunner(c.Runner); err != nil {
		return err
	}
	if err := ValidateQuota(c.Quota); err != nil {
		return err
	}
	if err := ValidateClassifier(c.Classifier); err != nil {
		return err
	}
	return ValidateTracing(c.Tracing)
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# adwd Configuration

# HTTP server settings
server:
  host: 127.0.0.1   # Bind address
  port: 8001        # Listen port (0 picks an ephemeral port)

# Workflow state locations
state:
  # Root directory for per-workflow state (default: ~/agents)
  # Each workflow lives at <root>/<adw_id>/adw_state.json
  # Overridden by the ADWD_STATE_ROOT environment variable.
  # root: /home/user/agents

  # Isolated worktree root (default: sibling "trees" directory of root)
  # worktree_root: /home/user/trees

  # Maximum concurrent isolated workflows
  max_worktrees: 15

  # Reject new workflows when the state filesystem reaches this usage
  disk_threshold_percent: 95

# History indexer settings
history:
  # SQLite database path (default: <state.root>/adwd.db)
  # Overridden by the ADWD_DB_PATH environment variable.
  # db_path: /home/user/agents/adwd.db

  # Run a full sync when the daemon starts
  sync_on_start: true

  # Periodic background sync cadence in seconds (0 disables)
  sync_interval_seconds: 300

# Broadcast hub settings
hub:
  send_queue_size: 64    # Per-client outbound queue capacity (drop-oldest)
  max_send_failures: 2   # Close client after this many consecutive failed sends

# Webhook ingestion settings
webhook:
  # Identifier prefixed to every posted comment; comments carrying it
  # are ignored on ingest to prevent feedback loops.
  bot_identifier: "🤖 [adwd]"

  # Recent-failure ring capacity in webhook stats
  stats_ring_size: 25

# Workflow child process settings
runner:
  # Directory holding the workflow executables (adw_plan_iso etc.)
  # Empty resolves them through PATH.
  # bin_dir: /usr/local/bin

  # Seconds to wait after SIGTERM before escalating to SIGKILL
  stop_grace_seconds: 10

# External API quota oracle
quota:
  # Oracle executable; prints "remaining=<n>" on stdout, non-zero exit
  # means exhausted. Empty admits workflows with a warning.
  # command: adw-quota
  timeout_seconds: 10

# Sidecar services supervised by the daemon
services:
  # GitHub webhook receiver
  webhook:
    enabled: false
    # command: adw-webhook
    port: 8002

  # Public tunnel (e.g., cloudflared) exposing the webhook receiver
  tunnel:
    enabled: false
    # command: cloudflared
    # args: ["tunnel", "run"]
    token_env: ADWD_TUNNEL_TOKEN

# Agentic classifier fallback for ambiguous webhook comments
classifier:
  enabled: false
  # command: adw-classify
  timeout_seconds: 60

# Distributed tracing configuration
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/adwd/traces/traces.jsonl  # Output file for file exporter
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)

# Feature flags
# flags:
#   classifier-fallback: true
#   cost-resync: true
#   sidecar-services: false
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	// Create parent directory if needed
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write the template
	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
