package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/zjrosen/adwd/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the daemon configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config file",
	Long: `Write the commented default configuration to the --config path, or to
~/.config/adwd/config.yaml when no path is given. Refuses to overwrite an
existing file.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration the daemon would run with: defaults merged
with the loaded config file and environment overrides.`,
	RunE: runConfigShow,
}

var configSetFlagCmd = &cobra.Command{
	Use:   "set-flag <name> <true|false>",
	Short: "Toggle a feature flag in the config file",
	Long: `Set a feature flag, leaving the comments and formatting of the other
config sections untouched.

Known flags:
  classifier-fallback   fall back to the agentic classifier on ambiguous comments
  cost-resync           re-merge late cost data for completed workflows at startup
  sidecar-services      start the webhook and tunnel sidecars with the daemon`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSetFlag,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetFlagCmd)
}

// activeConfigPath is where config mutations land: the explicit flag first,
// then the file viper loaded, then the user default.
func activeConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return userConfigPath()
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path := cfgFile
	if path == "" {
		path = userConfigPath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := config.WriteDefaultConfig(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	out, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return fmt.Errorf("rendering configuration: %w", err)
	}
	if used := viper.ConfigFileUsed(); used != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", used)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}

func runConfigSetFlag(cmd *cobra.Command, args []string) error {
	name := args[0]
	value, err := strconv.ParseBool(args[1])
	if err != nil {
		return fmt.Errorf("flag value must be true or false, got %q", args[1])
	}

	path := activeConfigPath()
	if err := config.SetFlag(path, name, value); err != nil {
		return fmt.Errorf("setting flag: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Set %s=%v in %s\n", name, value, path)
	return nil
}
