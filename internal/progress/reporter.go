package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Options configures the progress reporter.
type Options struct {
	// TotalEntities is the number of entities queued for the run.
	TotalEntities int

	// Workers is the number of parallel workers.
	Workers int

	// Destination is the filed document root (for display).
	Destination string

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 2s
	UpdateInterval time.Duration
}

// Counts is a point-in-time view of the counters.
type Counts struct {
	Entities   int   // finished, successfully or not
	InProgress int   // being worked on
	Documents  int   // filed
	Bytes      int64 // filed
	Failures   int
}

// Reporter outputs human-readable progress information. All counter methods
// are safe for concurrent use by the workers.
type Reporter struct {
	opts Options

	mu        sync.Mutex
	entities  atomic.Int32
	active    atomic.Int32
	documents atomic.Int32
	bytes     atomic.Int64
	failures  atomic.Int32
	startTime time.Time
	stopCh    chan struct{}
	done      chan struct{}
	started   bool
	stopped   bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 2 * time.Second
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.startTime = time.Now()
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[docharvest] Entities: %d | Workers: %d | Destination: %s\n",
		r.opts.TotalEntities, r.opts.Workers, r.opts.Destination)

	go r.updateLoop()
}

// Stop prints the final status and stops the reporter. It waits for the
// final line to be written.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.done
}

// EntityStarted marks an entity as in progress.
func (r *Reporter) EntityStarted() {
	r.active.Add(1)
}

// EntityFinished marks an entity as done.
func (r *Reporter) EntityFinished() {
	r.active.Add(-1)
	r.entities.Add(1)
}

// DocumentFiled counts a filed document of the given size.
func (r *Reporter) DocumentFiled(size int64) {
	r.documents.Add(1)
	r.bytes.Add(size)
}

// Failed counts a recorded failure.
func (r *Reporter) Failed() {
	r.failures.Add(1)
}

// Counts returns the current counters.
func (r *Reporter) Counts() Counts {
	return Counts{
		Entities:   int(r.entities.Load()),
		InProgress: int(r.active.Load()),
		Documents:  int(r.documents.Load()),
		Bytes:      r.bytes.Load(),
		Failures:   int(r.failures.Load()),
	}
}

func (r *Reporter) updateLoop() {
	defer close(r.done)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

func (r *Reporter) printProgress() {
	c := r.Counts()

	var percent float64
	if r.opts.TotalEntities > 0 {
		percent = float64(c.Entities) / float64(r.opts.TotalEntities) * 100
	}
	pending := r.opts.TotalEntities - c.Entities - c.InProgress
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "[docharvest] Progress: %.1f%% | Entities: %d done, %d in-progress, %d pending | Documents: %d (%s) | Failures: %d\n",
		percent, c.Entities, c.InProgress, pending, c.Documents, FormatBytes(c.Bytes), c.Failures)
}

func (r *Reporter) printFinalStatus() {
	c := r.Counts()
	fmt.Fprintf(r.opts.Output, "[docharvest] Done: %d entities | %d documents (%s) | %d failures | Total time: %s\n",
		c.Entities, c.Documents, FormatBytes(c.Bytes), c.Failures, formatDuration(time.Since(r.startTime)))
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes formats bytes with IEC units, e.g. "1.5 KiB".
func FormatBytes(b int64) string {
	if b < 0 {
		return "-" + humanize.IBytes(uint64(-b))
	}
	return humanize.IBytes(uint64(b))
}

// ParseBytes parses a human-readable byte string. Both SI ("1KB" = 1000)
// and IEC ("1KiB" = 1024) units are accepted.
func ParseBytes(s string) (int64, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}
	return int64(n), nil
}
