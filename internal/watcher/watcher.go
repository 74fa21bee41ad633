package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Common errors.
var (
	// ErrTimeout is returned when no terminal artifact appeared before the deadline.
	ErrTimeout = errors.New("watcher: no artifact before deadline")

	// ErrMultipleFound matches any *ConflictError.
	ErrMultipleFound = errors.New("watcher: multiple artifacts found")
)

// ConflictError is returned when the directory holds more terminal artifacts
// than the single in-flight fetch can account for, or a partial download is
// still present next to a finished one when the deadline expires.
//
// The watcher never guesses which file belongs to which request. Use
// errors.As to get the paths and set them aside for inspection.
type ConflictError struct {
	Dir      string
	Paths    []string // terminal artifacts
	Partials []string // partial markers present at the same time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("watcher: %d terminal artifacts and %d partial downloads in %s",
		len(e.Paths), len(e.Partials), e.Dir)
}

// Is makes errors.Is(err, ErrMultipleFound) true for conflicts.
func (e *ConflictError) Is(target error) bool {
	return target == ErrMultipleFound
}

// Options configures a Watcher.
type Options struct {
	// Dir is the worker-private download directory.
	Dir string

	// Pattern matches terminal artifacts (filepath.Match syntax).
	// Default: "report*.pdf"
	Pattern string

	// PartialPattern matches in-progress download markers.
	// Default: "*.crdownload"
	PartialPattern string

	// Interval is the polling interval.
	// Default: 1s
	Interval time.Duration

	// Timeout is the deadline for a single Await.
	// Default: 30s
	Timeout time.Duration
}

// DefaultOptions returns options with the browser defaults for dir.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:            dir,
		Pattern:        "report*.pdf",
		PartialPattern: "*.crdownload",
		Interval:       time.Second,
		Timeout:        30 * time.Second,
	}
}

// Snapshot is the state of the download directory at one poll.
type Snapshot struct {
	Terminal []string
	Partial  []string
}

// Empty reports whether neither terminal nor partial files are present.
func (s Snapshot) Empty() bool {
	return len(s.Terminal) == 0 && len(s.Partial) == 0
}

// Watcher polls a download directory for the artifact of one fetch.
type Watcher struct {
	opts Options
}

// New creates a Watcher. Zero option fields take their defaults.
func New(opts Options) *Watcher {
	def := DefaultOptions(opts.Dir)
	if opts.Pattern == "" {
		opts.Pattern = def.Pattern
	}
	if opts.PartialPattern == "" {
		opts.PartialPattern = def.PartialPattern
	}
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	return &Watcher{opts: opts}
}

// Options returns the effective options.
func (w *Watcher) Options() Options {
	return w.opts
}

// Scan lists terminal artifacts and partial markers currently in the directory.
func (w *Watcher) Scan() (Snapshot, error) {
	entries, err := os.ReadDir(w.opts.Dir)
	if err != nil {
		return Snapshot{}, fmt.Errorf("watcher: scan %s: %w", w.opts.Dir, err)
	}

	var s Snapshot
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if ok, _ := filepath.Match(w.opts.PartialPattern, name); ok {
			s.Partial = append(s.Partial, filepath.Join(w.opts.Dir, name))
			continue
		}
		if ok, _ := filepath.Match(w.opts.Pattern, name); ok && !strings.HasPrefix(name, ".") {
			s.Terminal = append(s.Terminal, filepath.Join(w.opts.Dir, name))
		}
	}
	sort.Strings(s.Terminal)
	sort.Strings(s.Partial)
	return s, nil
}

// Await polls until exactly one terminal artifact is present with no partial
// download alongside it, and returns its path.
//
// Returns ErrTimeout when nothing terminal appeared before the deadline and a
// *ConflictError when more than one terminal artifact is seen. The wait is
// always bounded by Options.Timeout; ctx can end it earlier.
func (w *Watcher) Await(ctx context.Context) (string, error) {
	deadline := time.Now().Add(w.opts.Timeout)

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		s, err := w.Scan()
		if err != nil {
			return "", err
		}

		switch {
		case len(s.Terminal) > 1:
			return "", &ConflictError{Dir: w.opts.Dir, Paths: s.Terminal, Partials: s.Partial}
		case len(s.Terminal) == 1 && len(s.Partial) == 0:
			return s.Terminal[0], nil
		}

		if !time.Now().Before(deadline) {
			if len(s.Terminal) == 1 {
				return "", &ConflictError{Dir: w.opts.Dir, Paths: s.Terminal, Partials: s.Partial}
			}
			return "", fmt.Errorf("%w: %s after %s (%d partial)", ErrTimeout, w.opts.Pattern, w.opts.Timeout, len(s.Partial))
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
