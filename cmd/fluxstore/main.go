package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fluxstore/internal/config"
	"fluxstore/internal/logging"
)

var (
	// Global flags
	configPath string
	dataDir    string
	logLevel   string
	logFormat  string
)

var logger = logging.For("main")

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "fluxstore",
	Short: "fluxstore - unidirectional state store with persistence and devtools",
	Long: `fluxstore keeps application state in a single store updated only by
dispatched actions. State is persisted between runs and can be inspected
and driven over HTTP.

Run without arguments to start the interactive console.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConsole(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.fluxstore/config.toml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "text or json (overrides config)")

	consoleCmd.Flags().BoolVar(&consoleDevtools, "devtools", false, "also serve the devtools API while the console runs")
	dumpCmd.Flags().StringVar(&dumpFormat, "format", "yaml", "output format: yaml or json")

	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(resetCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, applies flag overrides, validates the
// result and installs the logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	// CLI flags override config file values
	if dataDir != "" {
		cfg.App.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.App.DataDir = config.ExpandHome(cfg.App.DataDir)
	if err := os.MkdirAll(cfg.App.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
