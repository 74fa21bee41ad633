package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ligustah/docharvest/internal/filer"
	"github.com/ligustah/docharvest/internal/portal"
	"github.com/ligustah/docharvest/internal/queue"
	"github.com/ligustah/docharvest/internal/worker"
)

// ErrNoWorkers is returned by Run when no worker managed to log in.
var ErrNoWorkers = errors.New("pool: no worker logged in")

// Options configures a Pool.
type Options struct {
	// Workers is the number of concurrent sessions.
	// Default: 1
	Workers int

	// DownloadRoot holds one private download directory per worker.
	DownloadRoot string

	// Filer configures filing. Destination is required.
	Filer filer.Options

	// Worker is the template for every worker's options; ID is set per worker.
	Worker worker.Options

	// Factory opens one session per worker.
	Factory portal.Factory

	// Logger receives pool events. Default: slog.Default()
	Logger *slog.Logger
}

// Pool runs a fixed number of workers against one shared queue.
type Pool struct {
	opts Options
	log  *slog.Logger
}

// New validates opts and creates a Pool.
func New(opts Options) (*Pool, error) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.DownloadRoot == "" {
		return nil, errors.New("pool: download root is required")
	}
	if opts.Filer.Destination == "" {
		return nil, errors.New("pool: destination is required")
	}
	if opts.Factory == nil {
		return nil, errors.New("pool: session factory is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Filer.Logger == nil {
		opts.Filer.Logger = opts.Logger
	}
	if opts.Worker.Logger == nil {
		opts.Worker.Logger = opts.Logger
	}
	return &Pool{opts: opts, log: opts.Logger}, nil
}

// WorkerDir returns the download directory of worker id.
func (p *Pool) WorkerDir(id int) string {
	return WorkerDir(p.opts.DownloadRoot, id)
}

// WorkerDir returns the download directory of worker id under root.
func WorkerDir(root string, id int) string {
	return filepath.Join(root, fmt.Sprintf("worker-%d", id))
}

// Run seeds the queue with entities, closes it and runs the workers until
// every one of them has finished. Cancelling ctx is the stop signal: workers
// finish their current phase and exit.
//
// The report is returned even when err is non-nil.
func (p *Pool) Run(ctx context.Context, entities []string) (Report, error) {
	report := Report{RunID: uuid.NewString(), Started: time.Now()}

	q := queue.New()
	for _, e := range entities {
		if err := q.Enqueue(e); err != nil {
			report.Finished = time.Now()
			return report, err
		}
	}
	q.Close()
	report.Queued = q.Len()

	n := min(p.opts.Workers, q.Len())
	if n == 0 {
		report.Finished = time.Now()
		return report, nil
	}

	p.log.Info("starting workers", "run", report.RunID, "workers", n, "entities", report.Queued)

	// A worker that cannot be set up reports its error here; the others
	// keep draining the queue.
	results := make([]worker.Result, n)
	var g errgroup.Group
	for id := range n {
		g.Go(func() error {
			res, err := p.runWorker(ctx, id, q)
			results[id] = res
			return err
		})
	}
	setupErr := g.Wait()

	report.Results = results
	for {
		item, ok := q.TryDequeue()
		if !ok {
			break
		}
		report.Pending = append(report.Pending, item)
	}
	report.Finished = time.Now()

	if setupErr != nil {
		return report, setupErr
	}
	if report.LoggedIn() == 0 {
		return report, ErrNoWorkers
	}
	return report, nil
}

// runWorker prepares the worker's directory and session and runs it. The
// error is non-nil only when the directory could not be created; a session
// that cannot be opened counts as a failed login.
func (p *Pool) runWorker(ctx context.Context, id int, q *queue.Queue) (worker.Result, error) {
	dir := p.WorkerDir(id)
	failed := func(kind worker.Kind, err error) worker.Result {
		now := time.Now()
		return worker.Result{
			WorkerID: id,
			Status:   worker.LoginFailed,
			Failures: []worker.Failure{{Kind: kind, Err: err}},
			Started:  now,
			Finished: now,
		}
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		p.log.Error("create worker directory", "worker", id, "error", err)
		return failed(worker.FilesystemError, err), fmt.Errorf("pool: create worker directory: %w", err)
	}

	session, err := p.opts.Factory(ctx, id, dir)
	if err != nil {
		p.log.Error("open session", "worker", id, "error", err)
		return failed(worker.SessionFault, err), nil
	}

	opts := p.opts.Worker
	opts.ID = id
	w := worker.New(session, filer.New(dir, p.opts.Filer), opts)
	return w.Run(ctx, q), nil
}
