package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ligustah/docharvest/internal/config"
	"github.com/ligustah/docharvest/internal/entities"
	"github.com/ligustah/docharvest/internal/filer"
	"github.com/ligustah/docharvest/internal/progress"
	"github.com/ligustah/docharvest/internal/watcher"
)

// runRelocate files committed documents left in worker directories by an
// interrupted run.
func runRelocate(args []string) int {
	fs := flag.NewFlagSet("relocate", flag.ExitOnError)

	configPath := fs.String("config", "", "YAML configuration file")
	downloadRoot := fs.String("download-root", "", "Directory holding the per-worker download directories")
	destination := fs.String("destination", "", "Root of the filed document tree")
	quarantine := fs.String("quarantine", "", "Where unattributed artifacts are moved (default <destination>/_quarantine)")
	list := fs.String("list", "", "Comma-separated entity ids to relocate (default: inferred from file names)")
	clean := fs.Bool("clean", false, "Quarantine unrenamed and partial downloads")
	dryRun := fs.Bool("dry-run", false, "Only list what would be moved")
	logLevel := fs.String("log-level", "info", "Log level: debug, info, warn, error")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: docharvest relocate [options]

Move committed <entity>-<label>.pdf files from every worker directory under
the download root to <destination>/<entity>/.

Without -list the entity is taken to be everything before the first "-" in
the file name, which is wrong for ids that contain "-".

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
		DownloadRoot: *downloadRoot,
		Destination:  *destination,
		Quarantine:   *quarantine,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return ExitInvalidArgs
	}
	if err := cfg.ValidatePaths(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	dirs, err := workerDirs(cfg.DownloadRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	opts := filerOptions(cfg)
	opts.Logger = logger

	var (
		filed, quarantined int
		bytes              int64
		errs               []error
	)
	for _, dir := range dirs {
		f := filer.New(dir, opts)

		ids := strandedEntities(dir)
		if *list != "" {
			ids = entities.Parse(*list)
		}
		for _, id := range ids {
			if *dryRun {
				pending, err := f.Pending(id)
				if err != nil {
					errs = append(errs, err)
					continue
				}
				for _, p := range pending {
					fmt.Fprintf(os.Stdout, "%s -> %s\n", p, filepath.Join(cfg.Destination, id, filepath.Base(p)))
				}
				filed += len(pending)
				continue
			}
			docs, err := f.Relocate(id)
			if err != nil {
				errs = append(errs, err)
			}
			filed += len(docs)
			for _, d := range docs {
				bytes += d.Size
			}
		}

		if !*clean {
			continue
		}
		snap, err := watcher.New(watcher.Options{Dir: dir}).Scan()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if snap.Empty() {
			continue
		}
		leftovers := append(snap.Terminal, snap.Partial...)
		if *dryRun {
			for _, p := range leftovers {
				fmt.Fprintf(os.Stdout, "%s -> quarantine\n", p)
			}
			quarantined += len(leftovers)
			continue
		}
		moved, err := f.Quarantine("", leftovers)
		if err != nil {
			errs = append(errs, err)
		}
		quarantined += len(moved)
	}

	verb := "Relocated"
	if *dryRun {
		verb = "Would relocate"
	}
	fmt.Fprintf(os.Stderr, "[docharvest] %s %d documents (%s) from %d worker directories\n",
		verb, filed, progress.FormatBytes(bytes), len(dirs))
	if quarantined > 0 {
		fmt.Fprintf(os.Stderr, "[docharvest] Quarantined %d leftover downloads\n", quarantined)
	}

	if err := errors.Join(errs...); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	return ExitSuccess
}

// workerDirs lists the worker-<n> directories under root.
func workerDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read download root: %w", err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "worker-") {
			dirs = append(dirs, filepath.Join(root, e.Name()))
		}
	}
	return dirs, nil
}

// strandedEntities infers entity ids from the committed file names in dir.
// In-flight artifact names such as report.pdf never contain an entity and
// are skipped.
func strandedEntities(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	pattern := watcher.New(watcher.Options{Dir: dir}).Options().Pattern
	seen := make(map[string]bool)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".pdf") {
			continue
		}
		if inFlight, _ := filepath.Match(pattern, name); inFlight {
			continue
		}
		id, _, ok := strings.Cut(name, "-")
		if !ok || filer.ValidateEntity(id) != nil {
			continue
		}
		seen[id] = true
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
