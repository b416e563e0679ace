// Package cmd implements the dashctl command tree.
package cmd

import (
	"github.com/spf13/cobra"

	"marketdash/config"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
	sqlitePath string
	logLevel   string
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, nil
}

// NewRootCmd builds the dashctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "dashctl",
		Short: "Market analytics dashboard backend",
		Long: `dashctl computes the dashboard analytics (heatmap, MVRV, Pi-Cycle,
stock-to-flow, technical indicators) from Binance or Bybit candles.

It can print a single payload as JSON, optionally from the local candle
archive without touching the network, or run the HTTP/WebSocket server.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "marketdash.yaml", "YAML config file (missing is fine)")
	root.PersistentFlags().StringVar(&opts.sqlitePath, "sqlite", "", "candle archive path (overrides SQLITE_PATH)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")

	root.AddCommand(
		newComputeCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// Execute runs the command tree.
func Execute() error {
	return NewRootCmd().Execute()
}
