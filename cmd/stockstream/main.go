package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stockstream/internal/infrastructure/config"
	"stockstream/internal/infrastructure/logger"
)

const version = "1.0.0"

var (
	configPath string
	portFlag   int
	modeFlag   string
)

var rootCmd = &cobra.Command{
	Use:   "stockstream",
	Short: "Real-time stock price fan-out service",
	Long: `stockstream consumes stock price updates from Kafka, TCP feeds or a
built-in generator, keeps the latest price and a bounded history per symbol
in memory, and pushes every update to SSE and WebSocket subscribers.

Running without a subcommand is the same as "stockstream serve".`,
	Version:       version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to the YAML config file")
	addServeFlags(rootCmd)
	rootCmd.AddCommand(newServeCmd(), newProduceCmd())
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&portFlag, "port", 0, "HTTP port (overrides config)")
	cmd.Flags().StringVar(&modeFlag, "mode", "", "initial data mode: live or test (overrides config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config and builds the logger both commands share.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
