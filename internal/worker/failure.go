package worker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ligustah/docharvest/internal/filer"
	"github.com/ligustah/docharvest/internal/portal"
	"github.com/ligustah/docharvest/internal/watcher"
)

// Kind classifies a failure.
type Kind int

const (
	Unclassified Kind = iota
	LoginTimeout
	SearchTimeout
	FetchTimeout
	ReconciliationConflict
	ResetTimeout
	FilesystemError
	SessionFault
	Canceled
)

var kindNames = map[Kind]string{
	Unclassified:           "unclassified",
	LoginTimeout:           "login_timeout",
	SearchTimeout:          "search_timeout",
	FetchTimeout:           "fetch_timeout",
	ReconciliationConflict: "reconciliation_conflict",
	ResetTimeout:           "reset_timeout",
	FilesystemError:        "filesystem_error",
	SessionFault:           "session_fault",
	Canceled:               "canceled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return Unclassified, fmt.Errorf("worker: unknown failure kind %q", s)
}

// Fatal reports whether a failure of this kind ends the worker.
func (k Kind) Fatal() bool {
	return k == LoginTimeout || k == SessionFault
}

// Failure is one recorded problem. Entity-scoped failures do not stop the
// worker; only LoginTimeout and SessionFault do.
type Failure struct {
	Kind   Kind
	Entity string
	Label  string // empty for failures not tied to one document
	Err    error

	// Quarantined lists artifacts moved aside because of this failure.
	Quarantined []string
}

func (f Failure) Error() string {
	switch {
	case f.Entity == "":
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	case f.Label == "":
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Entity, f.Err)
	default:
		return fmt.Sprintf("%s: %s/%s: %v", f.Kind, f.Entity, f.Label, f.Err)
	}
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Classify maps an error from the session, watcher or filer to a Kind.
func Classify(err error) Kind {
	var pathErr *fs.PathError
	var linkErr *os.LinkError

	switch {
	case err == nil:
		return Unclassified
	case errors.Is(err, portal.ErrSessionFaulted):
		return SessionFault
	case errors.Is(err, context.Canceled):
		return Canceled
	case errors.Is(err, portal.ErrLoginTimeout):
		return LoginTimeout
	case errors.Is(err, portal.ErrSearchTimeout):
		return SearchTimeout
	case errors.Is(err, portal.ErrFetchTimeout), errors.Is(err, watcher.ErrTimeout):
		return FetchTimeout
	case errors.Is(err, watcher.ErrMultipleFound):
		return ReconciliationConflict
	case errors.Is(err, portal.ErrResetTimeout):
		return ResetTimeout
	case errors.Is(err, filer.ErrRenameUnverified),
		errors.Is(err, filer.ErrInvalidDocument),
		errors.Is(err, filer.ErrInvalidEntity),
		errors.As(err, &pathErr),
		errors.As(err, &linkErr):
		return FilesystemError
	default:
		return Unclassified
	}
}

// classifyOr returns Classify(err), or fallback when it is unclassified.
func classifyOr(err error, fallback Kind) Kind {
	if k := Classify(err); k != Unclassified {
		return k
	}
	return fallback
}
