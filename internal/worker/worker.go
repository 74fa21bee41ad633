package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ligustah/docharvest/internal/filer"
	"github.com/ligustah/docharvest/internal/portal"
	"github.com/ligustah/docharvest/internal/queue"
	"github.com/ligustah/docharvest/internal/retry"
	"github.com/ligustah/docharvest/internal/watcher"
)

// State is the worker's position in its lifecycle.
type State int32

const (
	StateInit State = iota
	StateLoggingIn
	StateLoginFailed
	StateDraining
	StateSearching
	StateFetching
	StateFiling
	StateResetting
	StateShuttingDown
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateLoggingIn:
		return "logging_in"
	case StateLoginFailed:
		return "login_failed"
	case StateDraining:
		return "draining"
	case StateSearching:
		return "searching"
	case StateFetching:
		return "fetching"
	case StateFiling:
		return "filing"
	case StateResetting:
		return "resetting"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Observer receives progress events. progress.Reporter satisfies it.
type Observer interface {
	EntityStarted()
	EntityFinished()
	DocumentFiled(size int64)
	Failed()
}

// Options configures a Worker.
type Options struct {
	// ID identifies the worker in logs and results.
	ID int

	// Watch configures the artifact watcher. Dir is always the filer's
	// directory.
	Watch watcher.Options

	// Search bounds retries of a search that timed out. The zero value
	// searches once.
	Search retry.Policy

	// SkipExisting skips locators whose document is already filed.
	SkipExisting bool

	// Observer receives progress events. Optional.
	Observer Observer

	// Logger receives worker events. Default: slog.Default()
	Logger *slog.Logger
}

// Worker owns one session and one download directory and processes entities
// from a shared queue, one at a time.
type Worker struct {
	opts    Options
	session portal.Session
	filer   *filer.Filer
	watch   *watcher.Watcher
	log     *slog.Logger
	state   atomic.Int32
}

// errStop ends the draining loop.
var errStop = errors.New("worker: stop")

// New creates a worker. The session must be unauthenticated and is closed
// when Run returns.
func New(session portal.Session, f *filer.Filer, opts Options) *Worker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Watch.Dir = f.Dir()

	return &Worker{
		opts:    opts,
		session: session,
		filer:   f,
		watch:   watcher.New(opts.Watch),
		log:     opts.Logger.With("worker", opts.ID),
	}
}

// State returns the current state. Safe to call from other goroutines.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Run logs in once, then takes entities from q until it is closed and
// drained, ctx is cancelled, or the session faults.
//
// Cancelling ctx never interrupts a phase: the running search, fetch, wait,
// or reset finishes within its own deadline, and the worker stops before the
// next one. Filesystem work is never interrupted.
func (w *Worker) Run(ctx context.Context, q *queue.Queue) (res Result) {
	res = Result{WorkerID: w.opts.ID, Started: time.Now()}
	defer func() {
		w.setState(StateShuttingDown)
		if err := w.session.Close(); err != nil {
			w.log.Warn("close session", "error", err)
		}
		res.Finished = time.Now()
		w.log.Info("worker finished", "status", res.Status,
			"entities", len(res.Entities), "documents", len(res.Documents), "failures", len(res.Failures))
	}()

	if ctx.Err() != nil {
		res.Status = Aborted
		return res
	}

	w.setState(StateLoggingIn)
	if err := w.session.Login(context.WithoutCancel(ctx)); err != nil {
		w.setState(StateLoginFailed)
		w.record(&res, Failure{Kind: classifyOr(err, LoginTimeout), Err: err})
		res.Status = LoginFailed
		return res
	}

	w.setState(StateDraining)
	for {
		if ctx.Err() != nil {
			res.Status = Aborted
			return res
		}

		entity, err := q.Next(ctx)
		if errors.Is(err, io.EOF) {
			res.Status = Completed
			return res
		}
		if err != nil {
			res.Status = Aborted
			return res
		}

		if err := w.process(ctx, entity, &res); err != nil {
			res.Status = Aborted
			return res
		}
		w.setState(StateDraining)
	}
}

// process runs one entity through search, fetch, filing and reset. It
// returns errStop when the worker must not take further items.
func (w *Worker) process(ctx context.Context, entity string, res *Result) error {
	if o := w.opts.Observer; o != nil {
		o.EntityStarted()
		defer o.EntityFinished()
	}
	res.Entities = append(res.Entities, entity)
	log := w.log.With("entity", entity)
	phase := context.WithoutCancel(ctx)

	if err := filer.ValidateEntity(entity); err != nil {
		w.record(res, Failure{Kind: FilesystemError, Entity: entity, Err: err})
		return nil
	}

	w.setState(StateSearching)
	locs, err := w.search(ctx, phase, entity)
	if err != nil {
		kind := classifyOr(err, SearchTimeout)
		w.record(res, Failure{Kind: kind, Entity: entity, Err: err})
		if kind == SessionFault {
			return errStop
		}
	}
	log.Info("search complete", "documents", len(locs))

	w.setState(StateFetching)
	stop := w.fetchAll(ctx, phase, entity, locs, res)

	w.setState(StateFiling)
	w.relocate(entity, res)

	if stop != nil {
		return stop
	}
	if ctx.Err() != nil {
		return errStop
	}

	w.setState(StateResetting)
	if err := w.session.Reset(phase); err != nil {
		kind := classifyOr(err, ResetTimeout)
		w.record(res, Failure{Kind: kind, Entity: entity, Err: err})
		if kind == SessionFault {
			return errStop
		}
	}
	return nil
}

// search runs SearchAndCollect, retrying timeouts per Options.Search. A stop
// signal ends the retries but not a running attempt.
func (w *Worker) search(ctx, phase context.Context, entity string) ([]portal.Locator, error) {
	var locs []portal.Locator
	retryable := func(err error) bool {
		return errors.Is(err, portal.ErrSearchTimeout)
	}
	attempt := 0
	err := w.opts.Search.Do(ctx, retryable, func(context.Context) error {
		attempt++
		if attempt > 1 {
			w.log.Info("retrying search", "entity", entity, "attempt", attempt)
		}
		var err error
		locs, err = w.session.SearchAndCollect(phase, entity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return locs, nil
}

// fetchAll fetches the locators one after another and files each document
// as soon as it is committed. It returns errStop on a session fault or a
// stop signal.
func (w *Worker) fetchAll(ctx, phase context.Context, entity string, locs []portal.Locator, res *Result) error {
	for _, loc := range locs {
		if err := ctx.Err(); err != nil {
			w.record(res, Failure{Kind: Canceled, Entity: entity, Label: loc.Label, Err: err})
			return errStop
		}
		if w.opts.SkipExisting && w.filer.Exists(entity, loc.Label) {
			w.log.Debug("already filed", "entity", entity, "label", loc.Label)
			res.Skipped++
			continue
		}

		f, ok := w.fetchOne(phase, entity, loc)
		if ok {
			// Committed names can match the terminal pattern; none may
			// remain in the directory at the next fetch.
			w.setState(StateFiling)
			w.relocate(entity, res)
			w.setState(StateFetching)
			continue
		}
		w.record(res, f)
		if f.Kind == SessionFault {
			return errStop
		}
	}
	return nil
}

// fetchOne reconciles the directory, fetches one document, waits for it and
// commits it. On failure it returns the Failure to record.
func (w *Worker) fetchOne(ctx context.Context, entity string, loc portal.Locator) (Failure, bool) {
	fail := func(kind Kind, err error, quarantined []string) (Failure, bool) {
		return Failure{Kind: kind, Entity: entity, Label: loc.Label, Err: err, Quarantined: quarantined}, false
	}

	if err := w.reconcile(entity); err != nil {
		return fail(FilesystemError, err, nil)
	}

	if err := w.session.Fetch(ctx, loc); err != nil {
		return fail(classifyOr(err, FetchTimeout), err, nil)
	}

	path, err := w.watch.Await(ctx)
	if err != nil {
		var conflict *watcher.ConflictError
		if errors.As(err, &conflict) {
			paths := append(append([]string{}, conflict.Paths...), conflict.Partials...)
			moved, qerr := w.filer.Quarantine(entity, paths)
			if qerr != nil {
				w.log.Error("quarantine failed", "entity", entity, "error", qerr)
			}
			return fail(ReconciliationConflict, err, moved)
		}
		return fail(classifyOr(err, FetchTimeout), err, nil)
	}

	if _, err := w.filer.Commit(path, entity, loc.Label); err != nil {
		var moved []string
		if errors.Is(err, filer.ErrInvalidDocument) {
			moved, _ = w.filer.Quarantine(entity, []string{path})
		}
		return fail(FilesystemError, err, moved)
	}
	return Failure{}, true
}

// reconcile quarantines leftovers from earlier fetches so that the next
// artifact to appear can only belong to the next request.
func (w *Worker) reconcile(entity string) error {
	snap, err := w.watch.Scan()
	if err != nil {
		return err
	}
	if snap.Empty() {
		return nil
	}
	stale := append(append([]string{}, snap.Terminal...), snap.Partial...)
	w.log.Warn("stale artifacts before fetch", "entity", entity, "count", len(stale))
	_, err = w.filer.Quarantine(entity, stale)
	return err
}

func (w *Worker) relocate(entity string, res *Result) {
	docs, err := w.filer.Relocate(entity)
	for _, d := range docs {
		res.Documents = append(res.Documents, d)
		if o := w.opts.Observer; o != nil {
			o.DocumentFiled(d.Size)
		}
	}
	if err != nil {
		w.record(res, Failure{Kind: FilesystemError, Entity: entity, Err: err})
	}
}

func (w *Worker) record(res *Result, f Failure) {
	res.Failures = append(res.Failures, f)
	if o := w.opts.Observer; o != nil {
		o.Failed()
	}

	attrs := []any{"kind", f.Kind, "error", f.Err}
	if f.Entity != "" {
		attrs = append(attrs, "entity", f.Entity)
	}
	if f.Label != "" {
		attrs = append(attrs, "label", f.Label)
	}
	if len(f.Quarantined) > 0 {
		attrs = append(attrs, "quarantined", len(f.Quarantined))
	}
	if f.Kind.Fatal() {
		w.log.Error("worker failure", attrs...)
	} else {
		w.log.Warn("entity failure", attrs...)
	}
}
