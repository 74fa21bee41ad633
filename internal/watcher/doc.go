// Package watcher detects when a browser download has finished.
//
// The browser writes a partial file (e.g. "report.pdf.crdownload") and
// renames it to its terminal name when done. Nothing signals completion, so
// the watcher polls the worker's private download directory at a fixed
// interval until exactly one terminal artifact is present, or the deadline
// expires.
//
// # Usage
//
//	w := watcher.New(watcher.Options{
//	    Dir:      "/tmp/downloads/worker-0",
//	    Pattern:  "report*.pdf",
//	    Interval: time.Second,
//	    Timeout:  30 * time.Second,
//	})
//
//	path, err := w.Await(ctx)
//	switch {
//	case errors.Is(err, watcher.ErrTimeout):
//	    // skip this document
//	case errors.Is(err, watcher.ErrMultipleFound):
//	    // quarantine the files in err.(*watcher.ConflictError).Paths
//	}
//
// Only one fetch may be in flight per directory; the watcher cannot map
// files to requests.
package watcher
