package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/intraday/config"
	"github.com/rustyeddy/intraday/journal"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Report orders and phase changes from the journal",
	Long: `Read the SQLite journal written by run and serve.

Examples:
  trader journal orders today
  trader journal orders day 2024-03-05 --csv orders.csv
  trader journal orders key 01HQ...
  trader journal transitions spy-one-percent-up`,
}

var journalOrdersCmd = &cobra.Command{
	Use:   "orders (today | day YYYY-MM-DD | key ORDER_KEY)",
	Short: "Print order records as org tables",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runJournalOrders,
}

var journalTransitionsCmd = &cobra.Command{
	Use:   "transitions [TRADESTRATEGY]",
	Short: "Print phase changes, for one tradestrategy or for today",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runJournalTransitions,
}

var (
	journalDB  string
	journalCSV string
	journalTZ  string
)

func init() {
	rootCmd.AddCommand(journalCmd)
	journalCmd.AddCommand(journalOrdersCmd)
	journalCmd.AddCommand(journalTransitionsCmd)

	journalCmd.PersistentFlags().StringVar(&journalDB, "db", "", "journal database (defaults to journal.db_path from the config)")
	journalCmd.PersistentFlags().StringVar(&journalTZ, "tz", "Local", "time zone used for day boundaries")
	journalOrdersCmd.Flags().StringVar(&journalCSV, "csv", "", "also write the records to this CSV file")
}

func openJournal() (*journal.SQLite, error) {
	path := journalDB
	if path == "" {
		cfg, err := config.LoadFromFile(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		path = cfg.Journal.DBPath
	}
	if path == "" {
		return nil, errors.New("no journal database: pass --db or set journal.db_path")
	}
	return journal.NewSQLite(path)
}

func runJournalOrders(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	var recs []journal.OrderRecord
	switch args[0] {
	case "today", "day":
		start, end, err := journalDay(args)
		if err != nil {
			return err
		}
		recs, err = j.OrdersBetween(cmd.Context(), start, end)
		if err != nil {
			return fmt.Errorf("query orders: %w", err)
		}
	case "key":
		if len(args) != 2 {
			return errors.New("orders key requires an order key")
		}
		recs, err = j.OrderHistory(cmd.Context(), args[1])
		if err != nil {
			return fmt.Errorf("query orders: %w", err)
		}
	default:
		return fmt.Errorf("unknown orders query %q", args[0])
	}

	if journalCSV != "" {
		f, err := os.Create(journalCSV)
		if err != nil {
			return err
		}
		if err := journal.WriteOrdersCSV(f, recs); err != nil {
			f.Close()
			return fmt.Errorf("write csv: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}

	out, err := journal.FormatOrdersOrg(recs)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func runJournalTransitions(cmd *cobra.Command, args []string) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	var recs []journal.TransitionRecord
	if len(args) == 1 {
		recs, err = j.Transitions(cmd.Context(), args[0])
	} else {
		start, end, derr := journalDay([]string{"today"})
		if derr != nil {
			return derr
		}
		recs, err = j.TransitionsBetween(cmd.Context(), start, end)
	}
	if err != nil {
		return fmt.Errorf("query transitions: %w", err)
	}

	out, err := journal.FormatTransitionsOrg(recs)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

// journalDay turns "today" or "day YYYY-MM-DD" into [start, end).
func journalDay(args []string) (time.Time, time.Time, error) {
	loc, err := time.LoadLocation(journalTZ)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--tz: %w", err)
	}
	day := time.Now().In(loc).Format("2006-01-02")
	if args[0] == "day" {
		if len(args) != 2 {
			return time.Time{}, time.Time{}, errors.New("day requires YYYY-MM-DD")
		}
		day = args[1]
	}
	return dayBounds(loc, day)
}

func dayBounds(loc *time.Location, ymd string) (time.Time, time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", ymd, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1), nil
}
