package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ligustah/docharvest/internal/config"
	"github.com/ligustah/docharvest/internal/ledger"
	"github.com/ligustah/docharvest/internal/progress"
)

// runReport prints runs recorded in the ledger.
func runReport(args []string) int {
	fs := flag.NewFlagSet("report", flag.ExitOnError)

	configPath := fs.String("config", "", "YAML configuration file")
	ledgerPath := fs.String("ledger", "", "SQLite ledger")
	limit := fs.Int("limit", 10, "Number of runs to list")
	runID := fs.String("run", "", "Show failures and pending entities of one run")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: docharvest report [options]

List recent runs, or with -run show one run in detail.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath, config.Config{Ledger: *ledgerPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return ExitInvalidArgs
	}
	if cfg.Ledger == "" {
		fmt.Fprintln(os.Stderr, "Error: -ledger is required")
		fs.Usage()
		return ExitInvalidArgs
	}
	if _, err := os.Stat(cfg.Ledger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	l, err := ledger.Open(cfg.Ledger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening ledger: %v\n", err)
		return ExitStorageError
	}
	defer l.Close()

	ctx := context.Background()
	if *runID != "" {
		err = printRun(ctx, os.Stdout, l, *runID)
	} else {
		err = printRuns(ctx, os.Stdout, l, *limit)
	}
	if errors.Is(err, ledger.ErrRunNotFound) {
		fmt.Fprintf(os.Stderr, "Error: run %s not found\n", *runID)
		return ExitInvalidArgs
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}
	return ExitSuccess
}

func printRuns(ctx context.Context, w io.Writer, l *ledger.Ledger, limit int) error {
	runs, err := l.Runs(ctx, limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tDURATION\tWORKERS\tENTITIES\tDOCUMENTS\tSIZE\tFAILURES\tPENDING")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%s\t%d\t%d\n",
			r.ID,
			r.Started.Local().Format(time.DateTime),
			r.Finished.Sub(r.Started).Round(time.Second),
			r.LoggedIn, r.Workers,
			r.Entities,
			r.Documents,
			progress.FormatBytes(r.Bytes),
			r.Failures,
			r.Pending,
		)
	}
	return tw.Flush()
}

func printRun(ctx context.Context, w io.Writer, l *ledger.Ledger, id string) error {
	r, err := l.Run(ctx, id)
	if err != nil {
		return err
	}
	failures, err := l.Failures(ctx, id)
	if err != nil {
		return err
	}
	pending, err := l.Pending(ctx, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Run:       %s\n", r.ID)
	fmt.Fprintf(w, "Started:   %s\n", r.Started.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Duration:  %s\n", r.Finished.Sub(r.Started).Round(time.Second))
	fmt.Fprintf(w, "Workers:   %d/%d logged in\n", r.LoggedIn, r.Workers)
	fmt.Fprintf(w, "Entities:  %d of %d queued\n", r.Entities, r.Queued)
	fmt.Fprintf(w, "Documents: %d (%s), %d skipped\n", r.Documents, progress.FormatBytes(r.Bytes), r.Skipped)

	if len(failures) > 0 {
		fmt.Fprintf(w, "\nFailures (%d):\n", len(failures))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "WORKER\tKIND\tENTITY\tLABEL\tERROR")
		for _, f := range failures {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", f.WorkerID, f.Kind, f.Entity, f.Label, f.Error)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	if len(pending) > 0 {
		fmt.Fprintf(w, "\nPending (%d):\n", len(pending))
		for _, e := range pending {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	return nil
}
