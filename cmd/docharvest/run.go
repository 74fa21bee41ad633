package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/docharvest/internal/archive"
	"github.com/ligustah/docharvest/internal/config"
	"github.com/ligustah/docharvest/internal/entities"
	"github.com/ligustah/docharvest/internal/filer"
	dochttp "github.com/ligustah/docharvest/internal/http"
	"github.com/ligustah/docharvest/internal/ledger"
	"github.com/ligustah/docharvest/internal/pool"
	"github.com/ligustah/docharvest/internal/portal"
	"github.com/ligustah/docharvest/internal/progress"
	"github.com/ligustah/docharvest/internal/retry"
	"github.com/ligustah/docharvest/internal/watcher"
	"github.com/ligustah/docharvest/internal/worker"
)

// runHarvest logs in a pool of browser sessions and files the documents of
// every listed entity.
func runHarvest(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)

	configPath := fs.String("config", "", "YAML configuration file")
	entitiesFile := fs.String("entities", "", "CSV file listing entity ids")
	list := fs.String("list", "", "Comma-separated entity ids (overrides -entities)")
	column := fs.Int("column", 0, "Zero-based CSV column holding the entity id")
	workers := fs.Int("workers", 0, "Number of concurrent sessions (default 4)")
	downloadRoot := fs.String("download-root", "", "Directory holding the per-worker download directories")
	destination := fs.String("destination", "", "Root of the filed document tree")
	quarantine := fs.String("quarantine", "", "Where conflicting artifacts are moved (default <destination>/_quarantine)")
	ledgerPath := fs.String("ledger", "", "SQLite ledger recording the run")
	archiveURL := fs.String("archive", "", "Bucket URL mirroring filed documents (s3://, gs://, file://)")
	archivePrefix := fs.String("archive-prefix", "", "Object key prefix in the archive bucket")
	verify := fs.Bool("verify", false, "Validate every artifact as PDF before filing")
	skipExisting := fs.Bool("skip-existing", false, "Skip documents that are already filed")
	showProgress := fs.Bool("progress", false, "Show progress output")
	headful := fs.Bool("headful", false, "Show the browser windows")
	noPreflight := fs.Bool("no-preflight", false, "Skip the portal reachability check")
	searchAttempts := fs.Int("search-attempts", 0, "Attempts per search before the entity yields no documents (default 1)")
	fetchTimeout := fs.Duration("fetch-timeout", 0, "Deadline for one download to appear (default 30s)")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: docharvest run [options]

Log in to the portal with a pool of browser sessions, search every entity,
download its documents and file them under <destination>/<entity>/.

Credentials are read from the config file or DOCHARVEST_USER / DOCHARVEST_PIN.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	logger, err := newLogger(*logLevel, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	slog.SetDefault(logger)

	cfg, err := loadConfig(*configPath, config.Config{
		Entities:       *entitiesFile,
		EntityColumn:   *column,
		Workers:        *workers,
		DownloadRoot:   *downloadRoot,
		Destination:    *destination,
		Quarantine:     *quarantine,
		Ledger:         *ledgerPath,
		Verify:         *verify,
		SkipExisting:   *skipExisting,
		Progress:       *showProgress,
		SearchAttempts: *searchAttempts,
		Archive:        config.ArchiveConfig{Bucket: *archiveURL, Prefix: *archivePrefix},
		Deadlines:      config.DeadlinesConfig{Fetch: *fetchTimeout},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return ExitInvalidArgs
	}
	if *headful {
		cfg.Portal.Headless = false
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ids, err := loadEntities(*list, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	ctx, cancel := signalContext()
	defer cancel()

	if !*noPreflight {
		if err := preflight(ctx, cfg, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Error: portal not reachable: %v\n", err)
			return ExitPortalUnreachable
		}
	}

	var reporter *progress.Reporter
	workerOpts := workerOptions(cfg)
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			TotalEntities: len(ids),
			Workers:       min(cfg.Workers, len(ids)),
			Destination:   cfg.Destination,
			Output:        os.Stderr,
		})
		workerOpts.Observer = reporter
		reporter.Start()
	}

	p, err := pool.New(pool.Options{
		Workers:      cfg.Workers,
		DownloadRoot: cfg.DownloadRoot,
		Filer:        filerOptions(cfg),
		Worker:       workerOpts,
		Factory:      portal.BrowserFactory(portalConfig(cfg), logger),
		Logger:       logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	report, runErr := p.Run(ctx, ids)
	if reporter != nil {
		reporter.Stop()
	}

	code := ExitSuccess
	switch {
	case errors.Is(runErr, pool.ErrNoWorkers):
		fmt.Fprintln(os.Stderr, "Error: no session could log in")
		code = ExitNoWorkers
	case runErr != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		code = ExitGeneralError
	case len(report.Pending) > 0:
		code = ExitIncomplete
	}

	// The run is over; recording it must not be cut short by an interrupt.
	bg := context.WithoutCancel(ctx)

	if cfg.Ledger != "" {
		if err := recordRun(bg, cfg.Ledger, report); err != nil {
			fmt.Fprintf(os.Stderr, "Error recording run: %v\n", err)
			code = ExitStorageError
		}
	}

	if cfg.Archive.Bucket != "" && ctx.Err() == nil && code != ExitNoWorkers {
		res, err := mirrorDocuments(ctx, cfg.Archive, report.Documents(), logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error archiving documents: %v\n", err)
			code = ExitStorageError
		} else {
			fmt.Fprintf(os.Stderr, "[docharvest] Archived %d documents (%s), %d unchanged\n",
				res.Uploaded, progress.FormatBytes(res.Bytes), res.Skipped)
		}
	}

	printSummary(os.Stderr, report)
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "[docharvest] Run interrupted; pending entities can be retried")
	}
	return code
}

// loadEntities prefers the -list flag over the configured CSV file.
func loadEntities(list string, cfg config.Config) ([]string, error) {
	if list != "" {
		ids := entities.Parse(list)
		if len(ids) == 0 {
			return nil, entities.ErrNoEntities
		}
		return ids, nil
	}
	if cfg.Entities == "" {
		return nil, errors.New("-entities or -list is required")
	}
	return entities.Load(cfg.Entities, cfg.EntityColumn)
}

func preflight(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	client := dochttp.NewClient(dochttp.Options{
		Timeout:         cfg.Deadlines.Login,
		RetryAttempts:   cfg.Retry.Attempts,
		RetryBackoff:    cfg.Retry.Backoff,
		RetryMaxBackoff: cfg.Retry.MaxBackoff,
		UserAgent:       "docharvest",
	})
	info, err := client.Check(ctx, cfg.Portal.LoginURL)
	if err != nil {
		return err
	}
	logger.Info("portal reachable", "url", info.FinalURL, "status", info.StatusCode,
		"latency", info.Latency, "attempts", info.Attempts)
	return nil
}

func portalConfig(cfg config.Config) portal.Config {
	p := cfg.Portal
	return portal.Config{
		LoginURL:        p.LoginURL,
		SearchURL:       p.SearchURL,
		BrowseURL:       p.BrowseURL,
		User:            p.User,
		Pin:             p.Pin,
		LandingTitle:    p.LandingTitle,
		ResultsSelector: p.ResultsSelector,
		AnchorSelector:  p.AnchorSelector,
		Headless:        p.Headless,
		ExecPath:        p.ExecPath,
		LoginTimeout:    cfg.Deadlines.Login,
		SearchTimeout:   cfg.Deadlines.Search,
		NavigateTimeout: cfg.Deadlines.Navigate,
		ResetTimeout:    cfg.Deadlines.Reset,
		PollInterval:    cfg.Deadlines.PollInterval,
	}
}

func filerOptions(cfg config.Config) filer.Options {
	return filer.Options{
		Destination:    cfg.Destination,
		Quarantine:     cfg.Quarantine,
		RenameTimeout:  cfg.Deadlines.Rename,
		VerifyInterval: cfg.Deadlines.VerifyInterval,
		Verify:         cfg.Verify,
	}
}

func workerOptions(cfg config.Config) worker.Options {
	return worker.Options{
		Watch: watcher.Options{
			Interval: cfg.Deadlines.PollInterval,
			Timeout:  cfg.Deadlines.Fetch,
		},
		Search: retry.Policy{
			Attempts:   cfg.SearchAttempts,
			Backoff:    cfg.Retry.Backoff,
			MaxBackoff: cfg.Retry.MaxBackoff,
		},
		SkipExisting: cfg.SkipExisting,
	}
}

func recordRun(ctx context.Context, path string, report pool.Report) error {
	l, err := ledger.Open(path)
	if err != nil {
		return err
	}
	defer l.Close()
	return l.Record(ctx, report)
}

func mirrorDocuments(ctx context.Context, cfg config.ArchiveConfig, docs []filer.Document, logger *slog.Logger) (archive.Result, error) {
	m, err := archive.Open(ctx, cfg.Bucket, archive.Options{
		Prefix:      cfg.Prefix,
		Concurrency: cfg.Concurrency,
		MaxSize:     cfg.MaxSize,
		Logger:      logger,
	})
	if err != nil {
		return archive.Result{}, err
	}
	defer m.Close()
	return m.Upload(ctx, docs)
}

func printSummary(w io.Writer, report pool.Report) {
	s := report.Summary()
	fmt.Fprintf(w, "[docharvest] Run %s finished in %s\n", report.RunID, s.Duration.Round(time.Second))
	fmt.Fprintf(w, "[docharvest] Workers: %d/%d logged in\n", s.LoggedIn, s.Workers)
	fmt.Fprintf(w, "[docharvest] Entities: %d processed, %d pending\n", s.Entities, s.Pending)
	fmt.Fprintf(w, "[docharvest] Documents: %d filed (%s), %d skipped\n",
		s.Documents, progress.FormatBytes(s.Bytes), s.Skipped)

	if s.Failures == 0 {
		return
	}
	byKind := report.FailuresByKind()
	kinds := make([]worker.Kind, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	fmt.Fprintf(w, "[docharvest] Failures: %d\n", s.Failures)
	for _, k := range kinds {
		fmt.Fprintf(w, "[docharvest]   %-24s %d\n", k, byKind[k])
	}
}
