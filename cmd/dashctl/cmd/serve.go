package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"marketdash/internal/app"
	"marketdash/internal/logger"
)

func newServeCmd(rc *rootOptions) *cobra.Command {
	var warm bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, WebSocket push and cache warmer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rc.load()
			if err != nil {
				return err
			}
			if warm {
				cfg.WarmOnStart = true
			}
			logger.Init("marketdash", logger.ParseLevel(cfg.LogLevel))

			a, err := app.New(cfg, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&warm, "warm", false, "warm every cache right after start")
	return cmd
}
