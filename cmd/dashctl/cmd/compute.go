package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"marketdash/internal/analytics"
	"marketdash/internal/app"
	"marketdash/internal/logger"
)

func newComputeCmd(rc *rootOptions) *cobra.Command {
	var (
		symbol   string
		exchange string
		rng      string
		offline  bool
		compact  bool
	)

	cmd := &cobra.Command{
		Use:       "compute <metric>",
		Short:     "Compute one analytics payload and print it as JSON",
		Example:   "  dashctl compute pi-cycle --symbol ETH/USDT\n  dashctl compute technical --range 3M --offline --sqlite data/candles.db",
		Args:      cobra.ExactArgs(1),
		ValidArgs: analytics.Endpoints,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.load()
			if err != nil {
				return err
			}
			// stdout carries the payload; logs go to stderr
			level := cfg.LogLevel
			if rc.logLevel == "" {
				level = "warn"
			}
			logger.InitWriter(os.Stderr, "dashctl", logger.ParseLevel(level))

			a, err := app.New(cfg, app.Options{Offline: offline, Registerer: prometheus.NewRegistry()})
			if err != nil {
				return err
			}
			defer a.Close()

			v, _, err := a.Service.Get(cmd.Context(), args[0], analytics.Query{
				Symbol:   symbol,
				Exchange: exchange,
				Range:    rng,
			})
			if err != nil {
				return fmt.Errorf("compute %s: %w", args[0], err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			if !compact {
				enc.SetIndent("", "  ")
			}
			return enc.Encode(v)
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "trading pair, e.g. BTC/USDT (default from config)")
	cmd.Flags().StringVar(&exchange, "exchange", "", "binance or bybit (default from config)")
	cmd.Flags().StringVar(&rng, "range", "", "technical range: 1M, 3M, 6M, 1Y, 2Y or 5Y")
	cmd.Flags().BoolVar(&offline, "offline", false, "read candles from the sqlite archive only")
	cmd.Flags().BoolVar(&compact, "compact", false, "single-line JSON")
	return cmd
}
