//go:build integration

package portal

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ligustah/docharvest/internal/testutils"
	"github.com/ligustah/docharvest/internal/watcher"
)

func fakePortal(t *testing.T) *testutils.FakePortal {
	t.Helper()
	return testutils.StartFakePortal(t, map[string][]testutils.PortalDocument{
		"AAPL": {
			{Label: "2024-01-05", Body: testutils.FakePDF("AAPL 2024-01-05")},
			{Label: "2024-02-05", Body: testutils.FakePDF("AAPL 2024-02-05")},
		},
	})
}

func TestBrowserSessionAgainstFakePortal(t *testing.T) {
	portal := fakePortal(t)
	dir := filepath.Join(t.TempDir(), "worker-0")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.LoginURL = portal.LoginURL
	cfg.SearchURL = portal.SearchURL
	cfg.BrowseURL = portal.BrowseURL
	cfg.User, cfg.Pin = "u", "p"

	b, err := NewBrowser(cfg, dir, nil)
	if err != nil {
		t.Fatalf("NewBrowser: %v", err)
	}
	defer b.Close()

	ctx := t.Context()
	if err := b.Login(ctx); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if b.State() != Authenticated {
		t.Fatalf("expected authenticated, got %s", b.State())
	}

	locs, err := b.SearchAndCollect(ctx, "AAPL")
	if err != nil {
		t.Fatalf("SearchAndCollect: %v", err)
	}
	if len(locs) != 2 || locs[0].Label != "2024-01-05" || locs[1].Label != "2024-02-05" {
		t.Fatalf("unexpected locators %+v", locs)
	}

	w := watcher.New(watcher.Options{Dir: dir, Interval: 100 * time.Millisecond, Timeout: 15 * time.Second})
	if err := b.Fetch(ctx, locs[0]); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	path, err := w.Await(ctx)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if filepath.Base(path) != "report.pdf" {
		t.Errorf("unexpected artifact %s", path)
	}

	if err := b.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if portal.Downloads() != 1 {
		t.Errorf("expected 1 download, got %d", portal.Downloads())
	}
}

func TestBrowserSearchTimeout(t *testing.T) {
	portal := fakePortal(t)
	dir := filepath.Join(t.TempDir(), "worker-0")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.LoginURL = portal.LoginURL
	cfg.SearchURL = portal.SearchURL
	cfg.BrowseURL = portal.BrowseURL
	cfg.SearchTimeout = 2 * time.Second

	b, err := NewBrowser(cfg, dir, nil)
	if err != nil {
		t.Fatalf("NewBrowser: %v", err)
	}
	defer b.Close()

	if err := b.Login(t.Context()); err != nil {
		t.Fatalf("Login: %v", err)
	}

	start := time.Now()
	locs, err := b.SearchAndCollect(t.Context(), "MISSING")
	if !errors.Is(err, ErrSearchTimeout) {
		t.Fatalf("expected ErrSearchTimeout, got %v", err)
	}
	if len(locs) != 0 {
		t.Errorf("expected no locators, got %v", locs)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("search took %s, expected it bounded by the deadline", elapsed)
	}
	if b.State() != Authenticated {
		t.Errorf("a search timeout must not fault the session, state %s", b.State())
	}
}
