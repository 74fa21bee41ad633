package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/ligustah/docharvest/internal/filer"
	"github.com/ligustah/docharvest/internal/portal"
	"github.com/ligustah/docharvest/internal/watcher"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Unclassified},
		{"login", fmt.Errorf("%w: login", portal.ErrLoginTimeout), LoginTimeout},
		{"search", portal.ErrSearchTimeout, SearchTimeout},
		{"fetch dispatch", portal.ErrFetchTimeout, FetchTimeout},
		{"await", fmt.Errorf("%w: report*.pdf", watcher.ErrTimeout), FetchTimeout},
		{"conflict", &watcher.ConflictError{Paths: []string{"a", "b"}}, ReconciliationConflict},
		{"reset", portal.ErrResetTimeout, ResetTimeout},
		{"rename", filer.ErrRenameUnverified, FilesystemError},
		{"invalid pdf", filer.ErrInvalidDocument, FilesystemError},
		{"path", &os.PathError{Op: "rename", Path: "x", Err: os.ErrPermission}, FilesystemError},
		{"link", &os.LinkError{Op: "rename", Old: "a", New: "b", Err: os.ErrExist}, FilesystemError},
		{"fault", fmt.Errorf("%w: target closed", portal.ErrSessionFaulted), SessionFault},
		{"canceled", fmt.Errorf("portal: search: %w", context.Canceled), Canceled},
		{"other", errors.New("boom"), Unclassified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestKindRoundTrip(t *testing.T) {
	for k := range kindNames {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseKind("nope"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestFatalKinds(t *testing.T) {
	for k := range kindNames {
		want := k == LoginTimeout || k == SessionFault
		if k.Fatal() != want {
			t.Errorf("%s.Fatal() = %v", k, k.Fatal())
		}
	}
}

func TestFailureError(t *testing.T) {
	f := Failure{Kind: FetchTimeout, Entity: "AAPL", Label: "2024-01-05", Err: watcher.ErrTimeout}
	if got := f.Error(); got != "fetch_timeout: AAPL/2024-01-05: "+watcher.ErrTimeout.Error() {
		t.Errorf("unexpected message %q", got)
	}
	if !errors.Is(f, watcher.ErrTimeout) {
		t.Error("failure should unwrap to its cause")
	}
}
