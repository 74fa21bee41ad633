package pool

import (
	"sort"
	"time"

	"github.com/ligustah/docharvest/internal/filer"
	"github.com/ligustah/docharvest/internal/worker"
)

// Report aggregates the worker results of one run.
type Report struct {
	RunID    string
	Queued   int
	Results  []worker.Result
	Pending  []string // entities no worker took
	Started  time.Time
	Finished time.Time
}

// LoggedIn returns the number of workers that authenticated.
func (r Report) LoggedIn() int {
	n := 0
	for _, res := range r.Results {
		if res.Status != worker.LoginFailed {
			n++
		}
	}
	return n
}

// Entities returns every entity taken from the queue, sorted.
func (r Report) Entities() []string {
	var out []string
	for _, res := range r.Results {
		out = append(out, res.Entities...)
	}
	sort.Strings(out)
	return out
}

// Documents returns every filed document.
func (r Report) Documents() []filer.Document {
	var out []filer.Document
	for _, res := range r.Results {
		out = append(out, res.Documents...)
	}
	return out
}

// Failures returns every recorded failure.
func (r Report) Failures() []worker.Failure {
	var out []worker.Failure
	for _, res := range r.Results {
		out = append(out, res.Failures...)
	}
	return out
}

// FailuresByKind counts failures per kind.
func (r Report) FailuresByKind() map[worker.Kind]int {
	out := make(map[worker.Kind]int)
	for _, f := range r.Failures() {
		out[f.Kind]++
	}
	return out
}

// Summary is the headline numbers of a run.
type Summary struct {
	Workers   int
	LoggedIn  int
	Entities  int
	Pending   int
	Documents int
	Bytes     int64
	Skipped   int
	Failures  int
	Duration  time.Duration
}

// Summary computes the headline numbers.
func (r Report) Summary() Summary {
	s := Summary{
		Workers:  len(r.Results),
		LoggedIn: r.LoggedIn(),
		Pending:  len(r.Pending),
		Duration: r.Finished.Sub(r.Started),
	}
	for _, res := range r.Results {
		s.Entities += len(res.Entities)
		s.Documents += len(res.Documents)
		s.Skipped += res.Skipped
		s.Failures += len(res.Failures)
		for _, d := range res.Documents {
			s.Bytes += d.Size
		}
	}
	return s
}
