package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dshills/roomscan-mcp/internal/app"
	"github.com/dshills/roomscan-mcp/internal/config"
	"github.com/dshills/roomscan-mcp/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:           "roomscan",
	Short:         "Photo scans of your home, searchable by the items in them",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "roomscan %s\n", version)
		fmt.Fprintf(out, "Build Time: %s\n", buildTime)
		fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
		fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "json", "log format: json or text")
	rootCmd.PersistentFlags().String("db", "", "sqlite database path")

	mustBind("log.level", "log-level")
	mustBind("log.format", "log-format")
	mustBind("storage.path", "db")

	rootCmd.AddCommand(serveCmd, mcpCmd, embedCmd, statusCmd, versionCmd)
}

func mustBind(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

// loadConfig reads the config file, environment and flags, then builds the
// logger. Logs go to stderr; stdout carries command output and the MCP
// protocol.
func loadConfig() (*config.Config, *slog.Logger, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	logger := app.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
