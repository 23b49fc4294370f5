package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/intraday/control"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the control API",
	Long: `Start the configured tradestrategies and accept bars over HTTP.

Bars posted to /api/bars fill paper orders first and then reach every
tradestrategy on the bar's instrument.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		if serveAddr != "" {
			a.cfg.Control.Addr = serveAddr
		}
		return serve(ctx, a)
	},
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides control.addr)")
}

func newServer(a *app) *control.Server {
	return control.New(a.reg,
		control.WithSink(a.paper),
		control.WithLogger(a.log.WithField("component", "control")),
	)
}
