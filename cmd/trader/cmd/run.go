package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/intraday/feed"
	"github.com/rustyeddy/intraday/registry"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay candles through the configured tradestrategies",
	Long: `Replay bars from a CSV file through the paper broker and every
tradestrategy in the config, then print where each one ended up.

CSV rows are: time,instrument,open,high,low,close[,volume]

Example:
  trader run -c trader.yaml --candles spy-2024-03-05.csv
  trader run -c trader.yaml --candles bars.csv --serve`,
	RunE: runRun,
}

var (
	runCandles string
	runBarSize time.Duration
	runFrom    string
	runTo      string
	runServe   bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runCandles, "candles", "", "CSV file of bars to replay (required)")
	runCmd.Flags().DurationVar(&runBarSize, "bar", 5*time.Minute, "bar size of the CSV rows")
	runCmd.Flags().StringVar(&runFrom, "from", "", "first bar to replay (RFC3339)")
	runCmd.Flags().StringVar(&runTo, "to", "", "replay bars before this time (RFC3339)")
	runCmd.Flags().BoolVar(&runServe, "serve", false, "keep the control API up after the replay")
	runCmd.MarkFlagRequired("candles")
}

func runRun(cmd *cobra.Command, args []string) error {
	from, err := parseTime(runFrom)
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := parseTime(runTo)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	src, err := feed.OpenCSV(runCandles, runBarSize, from, to)
	if err != nil {
		return err
	}
	defer src.Close()

	replay := &feed.Replay{
		Source:      src,
		Sink:        a.paper,
		Dispatcher:  a.reg,
		Recorder:    a.recorder,
		Instruments: a.instruments(),
		BarSize:     runBarSize,
		Log:         a.log.WithField("component", "replay"),
	}
	res, err := replay.Run(ctx)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Replayed %d bars", res.Bars)
	if res.Bars > 0 {
		fmt.Fprintf(out, " (%s to %s)", res.First.Format(time.RFC3339), res.Last.Format(time.RFC3339))
	}
	fmt.Fprintf(out, ", skipped %d, failures %d\n\n", res.Skipped, res.Failures)
	printStatus(cmd, a.reg.List())

	if runServe {
		return serve(ctx, a)
	}
	return nil
}

func printStatus(cmd *cobra.Command, list []registry.Status) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSYMBOL\tRULE\tPHASE\tPOSITION\tREASON")
	for _, s := range list {
		reason := s.Reason
		if s.LastError != "" {
			reason = s.LastError
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n", s.ID, s.Symbol, s.Kind, s.Phase, s.Position.Quantity, reason)
	}
	w.Flush()
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

func serve(ctx context.Context, a *app) error {
	return newServer(a).Run(ctx, a.cfg.Control.Addr)
}
