package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// v carries the persistent flags, TOOLWEAVE_* environment variables and
	// the optional config file.
	v = viper.New()

	configFile string
	indexFile  string
	formatFlag string
)

var rootCmd = &cobra.Command{
	Use:   "toolweave",
	Short: "Toolweave - tool orchestration for code analysis requests",
	Long: `Toolweave turns natural-language code analysis requests into workflows of
tool calls, executes them with caching and retries, and synthesizes the
results into a single answer.

Configuration is read from an optional YAML file (--config) and from
TOOLWEAVE_* environment variables, e.g. TOOLWEAVE_MAX_PARALLEL_TOOLS=8.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path to a YAML configuration file")
	flags.StringVar(&indexFile, "index", "", "Path to a YAML class index (default: built-in sample project)")
	flags.StringVar(&formatFlag, "format", "text", "Output format (text, json)")
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flags.String("log-format", "human", "Log format (human, json)")

	_ = v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = v.BindPFlag("log_format", flags.Lookup("log-format"))
}
