// Command whalewatch runs the crypto order-book microstructure
// intelligence system: a live L1-to-L2/C2 pipeline, a C3 backtest driver
// over previously recorded data, and a replay mode for exercising C1
// against a local fixture without a network connection.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/whalewatch/whalewatch/internal/config"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "whalewatch",
		Short: "Crypto order-book microstructure intelligence and backtesting",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(newLiveCmd())
	root.AddCommand(newBacktestCmd())
	root.AddCommand(newReplayCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig is shared setup for every subcommand: load and validate the
// config tree, then exit with a message rather than a stack trace on
// failure, matching the corpus's requireNoError-style CLI ergonomics.
func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// newLogger builds the process zap.Logger at the configured level.
func newLogger(level string) *zap.Logger {
	zc := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zc.Level = lvl
	}
	log, err := zc.Build()
	if err != nil {
		log = zap.NewNop()
	}
	return log
}
