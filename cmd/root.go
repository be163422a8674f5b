package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/adwd/internal/config"
)

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
)

var rootCmd = &cobra.Command{
	Use:   "adwd",
	Short: "Agentic development workflow orchestrator",
	Long: `adwd turns issue-tracker events into supervised agentic workflow runs.

It ingests webhook deliveries, admits workflow commands against quota and
capacity checks, spawns the workflow executables as detached children, indexes
their state files into a queryable history, and streams live updates to
WebSocket subscribers.`,
	Version: version,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: ~/.config/adwd/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"enable debug logging")
}

// userConfigPath is the default config location when no flag or local file
// points elsewhere.
func userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".adwd", "config.yaml")
	}
	return filepath.Join(home, ".config", "adwd", "config.yaml")
}

// applyDefaults seeds viper with the full default configuration so a partial
// config file only overrides what it names.
func applyDefaults() {
	defaults := config.Defaults()
	viper.SetDefault("server.host", defaults.Server.Host)
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("state.root", defaults.State.Root)
	viper.SetDefault("state.worktree_root", defaults.State.WorktreeRoot)
	viper.SetDefault("state.max_worktrees", defaults.State.MaxWorktrees)
	viper.SetDefault("state.disk_threshold_percent", defaults.State.DiskThresholdPercent)
	viper.SetDefault("history.db_path", defaults.History.DBPath)
	viper.SetDefault("history.sync_on_start", defaults.History.SyncOnStart)
	viper.SetDefault("history.sync_interval_seconds", defaults.History.SyncIntervalSeconds)
	viper.SetDefault("hub.send_queue_size", defaults.Hub.SendQueueSize)
	viper.SetDefault("hub.max_send_failures", defaults.Hub.MaxSendFailures)
	viper.SetDefault("webhook.bot_identifier", defaults.Webhook.BotIdentifier)
	viper.SetDefault("webhook.stats_ring_size", defaults.Webhook.StatsRingSize)
	viper.SetDefault("runner.bin_dir", defaults.Runner.BinDir)
	viper.SetDefault("runner.stop_grace_seconds", defaults.Runner.StopGraceSeconds)
	viper.SetDefault("quota.command", defaults.Quota.Command)
	viper.SetDefault("quota.timeout_seconds", defaults.Quota.TimeoutSeconds)
	viper.SetDefault("services.webhook.enabled", defaults.Services.Webhook.Enabled)
	viper.SetDefault("services.webhook.command", defaults.Services.Webhook.Command)
	viper.SetDefault("services.webhook.port", defaults.Services.Webhook.Port)
	viper.SetDefault("services.tunnel.enabled", defaults.Services.Tunnel.Enabled)
	viper.SetDefault("services.tunnel.command", defaults.Services.Tunnel.Command)
	viper.SetDefault("services.tunnel.token_env", defaults.Services.Tunnel.TokenEnv)
	viper.SetDefault("classifier.enabled", defaults.Classifier.Enabled)
	viper.SetDefault("classifier.command", defaults.Classifier.Command)
	viper.SetDefault("classifier.timeout_seconds", defaults.Classifier.TimeoutSeconds)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
}

func initConfig() {
	applyDefaults()

	// Path overrides reach the config through the environment as well, so
	// a bare `ADWD_STATE_ROOT=... adwd daemon` works with no config file.
	_ = viper.BindEnv("state.root", "ADWD_STATE_ROOT")
	_ = viper.BindEnv("history.db_path", "ADWD_DB_PATH")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .adwd/config.yaml (current directory)
		// 2. ~/.config/adwd/config.yaml (user config)
		if _, err := os.Stat(filepath.Join(".adwd", "config.yaml")); err == nil {
			viper.SetConfigFile(filepath.Join(".adwd", "config.yaml"))
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "adwd"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	// A missing config file is fine: defaults carry the run, and the
	// daemon writes the commented template on its first start. Writing it
	// here would make `adwd config init` always find an existing file.
	_ = viper.ReadInConfig()

	_ = viper.Unmarshal(&cfg)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the adwd version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("adwd %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
