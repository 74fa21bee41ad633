package worker

import (
	"fmt"
	"time"

	"github.com/ligustah/docharvest/internal/filer"
)

// Status is how a worker ended.
type Status int

const (
	// Completed means the queue was closed and drained.
	Completed Status = iota
	// LoginFailed means the session never authenticated and no items were taken.
	LoginFailed
	// Aborted means the worker stopped early, on a session fault or a stop signal.
	Aborted
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case LoginFailed:
		return "login_failed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is what one worker did during a run.
type Result struct {
	WorkerID  int
	Status    Status
	Entities  []string // taken from the queue, in order
	Documents []filer.Document
	Failures  []Failure
	Skipped   int // locators skipped because the document was already filed
	Started   time.Time
	Finished  time.Time
}

// FailuresFor returns the failures recorded for entity.
func (r Result) FailuresFor(entity string) []Failure {
	var out []Failure
	for _, f := range r.Failures {
		if f.Entity == entity {
			out = append(out, f)
		}
	}
	return out
}

// DocumentsFor returns the documents filed for entity.
func (r Result) DocumentsFor(entity string) []filer.Document {
	var out []filer.Document
	for _, d := range r.Documents {
		if d.Entity == entity {
			out = append(out, d)
		}
	}
	return out
}
