package portal

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Unauthenticated, "unauthenticated"},
		{Authenticated, "authenticated"},
		{Faulted, "faulted"},
		{Closed, "closed"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestSearchURLFor(t *testing.T) {
	tests := []struct {
		template string
		entity   string
		want     string
	}{
		{"https://p.test/search/{entity}/reports", "AAPL", "https://p.test/search/AAPL/reports"},
		{"https://p.test/search?q=%s", "MSFT", "https://p.test/search?q=MSFT"},
		{"https://p.test/search/", "BRK.B", "https://p.test/search/BRK.B"},
		{"https://p.test/search", "A B", "https://p.test/search/A%20B"},
		{"https://p.test/{entity}", "a/b", "https://p.test/a%2Fb"},
	}
	for _, tt := range tests {
		cfg := Config{SearchURL: tt.template}
		if got := cfg.SearchURLFor(tt.entity); got != tt.want {
			t.Errorf("SearchURLFor(%q, %q) = %q, want %q", tt.template, tt.entity, got, tt.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Headless {
		t.Error("expected headless by default")
	}
	if cfg.LandingTitle == "" || cfg.ResultsSelector == "" || cfg.AnchorSelector == "" {
		t.Errorf("expected selector defaults, got %+v", cfg)
	}
	for name, d := range map[string]int64{
		"login":    int64(cfg.LoginTimeout),
		"search":   int64(cfg.SearchTimeout),
		"navigate": int64(cfg.NavigateTimeout),
		"reset":    int64(cfg.ResetTimeout),
		"poll":     int64(cfg.PollInterval),
	} {
		if d <= 0 {
			t.Errorf("expected positive %s duration", name)
		}
	}
}

func TestBrowserRequiresLogin(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "worker-0")
	b, err := NewBrowser(DefaultConfig(), dir, nil)
	if err != nil {
		t.Fatalf("NewBrowser: %v", err)
	}
	defer b.Close()

	if b.State() != Unauthenticated {
		t.Fatalf("expected unauthenticated, got %s", b.State())
	}
	if _, err := b.SearchAndCollect(t.Context(), "AAPL"); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("SearchAndCollect: expected ErrNotAuthenticated, got %v", err)
	}
	if err := b.Fetch(t.Context(), Locator{Label: "x", Reference: "https://p.test/x"}); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Fetch: expected ErrNotAuthenticated, got %v", err)
	}
	if err := b.Reset(t.Context()); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Reset: expected ErrNotAuthenticated, got %v", err)
	}
}

func TestBrowserCloseIsIdempotent(t *testing.T) {
	b, err := NewBrowser(DefaultConfig(), filepath.Join(t.TempDir(), "worker-0"), nil)
	if err != nil {
		t.Fatalf("NewBrowser: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if b.State() != Closed {
		t.Errorf("expected closed, got %s", b.State())
	}
	if err := b.Login(t.Context()); !errors.Is(err, ErrSessionFaulted) {
		t.Errorf("Login after Close: expected ErrSessionFaulted, got %v", err)
	}
}

func TestProfileOutsideDownloadDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "worker-3")
	b, err := NewBrowser(DefaultConfig(), dir, nil)
	if err != nil {
		t.Fatalf("NewBrowser: %v", err)
	}
	defer b.Close()

	profile := ProfileDir(dir)
	if strings.HasPrefix(profile, dir+string(filepath.Separator)) {
		t.Fatalf("profile %s must not live in the download dir", profile)
	}

	data, err := os.ReadFile(filepath.Join(profile, "Default", "Preferences"))
	if err != nil {
		t.Fatalf("read preferences: %v", err)
	}
	var p preferences
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("decode preferences: %v", err)
	}
	if !p.Plugins.AlwaysOpenPDFExternally {
		t.Error("expected the PDF viewer to be disabled")
	}
	if p.Download.DefaultDirectory != dir || p.Download.PromptForDownload {
		t.Errorf("unexpected download preferences %+v", p.Download)
	}
}

func TestCollectScriptEmbedsSelectors(t *testing.T) {
	cfg := DefaultConfig()
	script := collectScript(cfg.ResultsSelector, cfg.AnchorSelector)

	for _, sel := range []string{cfg.ResultsSelector, cfg.AnchorSelector} {
		quoted, _ := json.Marshal(sel)
		if !strings.Contains(script, string(quoted)) {
			t.Errorf("script does not embed %s", quoted)
		}
	}
	if !strings.Contains(script, "reference") || !strings.Contains(script, "label") {
		t.Error("script must yield label and reference fields")
	}
}
