package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
)

// startTimeout bounds the wait for the browser process to come up.
const startTimeout = 20 * time.Second

// Browser is a Session backed by a headless Chrome driven over CDP.
type Browser struct {
	cfg Config
	dir string
	log *slog.Logger

	state   State
	started bool

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

var _ Session = (*Browser)(nil)

// NewBrowser allocates a browser that downloads into dir. The browser
// process starts lazily on the first operation.
func NewBrowser(cfg Config, dir string, logger *slog.Logger) (*Browser, error) {
	if logger == nil {
		logger = slog.Default()
	}

	profile := ProfileDir(dir)
	if err := writePreferences(profile, dir); err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WSURLReadTimeout(startTimeout),
		chromedp.UserDataDir(profile),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}

	// The browser lives as long as the session, not as long as any one call.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	return &Browser{
		cfg:           cfg,
		dir:           dir,
		log:           logger,
		state:         Unauthenticated,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// BrowserFactory returns a Factory that opens a Browser per worker.
func BrowserFactory(cfg Config, logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, id int, dir string) (Session, error) {
		b, err := NewBrowser(cfg, dir, logger.With("worker", id))
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// ProfileDir returns the browser profile directory for a download directory.
// It sits next to dir, never inside it, so the watcher does not see it.
func ProfileDir(dir string) string {
	return filepath.Join(filepath.Dir(dir), ".profiles", filepath.Base(dir))
}

// preferences disable the built-in PDF viewer so that opening a document
// link downloads it.
type preferences struct {
	Download struct {
		DefaultDirectory  string `json:"default_directory"`
		PromptForDownload bool   `json:"prompt_for_download"`
		DirectoryUpgrade  bool   `json:"directory_upgrade"`
	} `json:"download"`
	Plugins struct {
		AlwaysOpenPDFExternally bool `json:"always_open_pdf_externally"`
	} `json:"plugins"`
}

func writePreferences(profile, dir string) error {
	var p preferences
	p.Download.DefaultDirectory = dir
	p.Download.DirectoryUpgrade = true
	p.Plugins.AlwaysOpenPDFExternally = true

	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	def := filepath.Join(profile, "Default")
	if err := os.MkdirAll(def, 0755); err != nil {
		return fmt.Errorf("portal: create profile: %w", err)
	}
	if err := os.WriteFile(filepath.Join(def, "Preferences"), data, 0644); err != nil {
		return fmt.Errorf("portal: write preferences: %w", err)
	}
	return nil
}

// State returns the current lifecycle state.
func (b *Browser) State() State {
	return b.state
}

// Login submits the credentials and waits for the landing page title.
func (b *Browser) Login(ctx context.Context) error {
	if b.state == Faulted || b.state == Closed {
		return fmt.Errorf("%w: login in state %s", ErrSessionFaulted, b.state)
	}

	err := b.run(ctx, b.cfg.LoginTimeout,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(b.dir).
			WithEventsEnabled(true),
		chromedp.Navigate(b.cfg.LoginURL),
		chromedp.WaitVisible(`form`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="user"]`, b.cfg.User, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="pin"]`, b.cfg.Pin, chromedp.ByQuery),
		chromedp.Submit(`form`, chromedp.ByQuery),
		waitTitle(b.cfg.LandingTitle, b.cfg.PollInterval),
	)
	if err != nil {
		b.state = b.stateAfter(err, Unauthenticated)
		return b.classify(ctx, err, ErrLoginTimeout, "login")
	}

	b.state = Authenticated
	b.log.Info("logged in", "url", b.cfg.LoginURL)
	return nil
}

// SearchAndCollect opens the entity's search page and harvests the links in
// the first column of the results table. On a timeout it returns an empty
// list together with ErrSearchTimeout.
func (b *Browser) SearchAndCollect(ctx context.Context, entity string) ([]Locator, error) {
	if err := b.requireAuthenticated(); err != nil {
		return nil, err
	}

	var raw []Locator
	err := b.run(ctx, b.cfg.SearchTimeout,
		chromedp.Navigate(b.cfg.SearchURLFor(entity)),
		chromedp.WaitVisible(b.cfg.ResultsSelector, chromedp.BySearch),
		chromedp.Evaluate(collectScript(b.cfg.ResultsSelector, b.cfg.AnchorSelector), &raw),
	)
	if err != nil {
		b.state = b.stateAfter(err, b.state)
		return []Locator{}, b.classify(ctx, err, ErrSearchTimeout, "search "+entity)
	}

	locs := make([]Locator, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l.Reference) == "" {
			continue
		}
		locs = append(locs, Locator{Label: strings.TrimSpace(l.Label), Reference: l.Reference})
	}
	return locs, nil
}

// Fetch points the page at the locator's reference. The portal answers with
// a download, so there is no page load to wait for.
func (b *Browser) Fetch(ctx context.Context, loc Locator) error {
	if err := b.requireAuthenticated(); err != nil {
		return err
	}

	ref, err := json.Marshal(loc.Reference)
	if err != nil {
		return fmt.Errorf("portal: encode reference: %w", err)
	}

	err = b.run(ctx, b.cfg.NavigateTimeout,
		chromedp.Evaluate(fmt.Sprintf("window.location.assign(%s)", ref), nil),
	)
	if err != nil {
		b.state = b.stateAfter(err, b.state)
		return b.classify(ctx, err, ErrFetchTimeout, "fetch "+loc.Label)
	}
	return nil
}

// Reset navigates back to the browse page.
func (b *Browser) Reset(ctx context.Context) error {
	if err := b.requireAuthenticated(); err != nil {
		return err
	}

	err := b.run(ctx, b.cfg.ResetTimeout,
		chromedp.Navigate(b.cfg.BrowseURL),
		chromedp.WaitReady(`body`, chromedp.ByQuery),
	)
	if err != nil {
		b.state = b.stateAfter(err, b.state)
		return b.classify(ctx, err, ErrResetTimeout, "reset")
	}
	return nil
}

// Close shuts the browser down.
func (b *Browser) Close() error {
	if b.state == Closed {
		return nil
	}
	b.state = Closed

	err := chromedp.Cancel(b.browserCtx)
	b.browserCancel()
	b.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("portal: close browser: %w", err)
	}
	return nil
}

func (b *Browser) requireAuthenticated() error {
	switch b.state {
	case Authenticated:
		return nil
	case Faulted, Closed:
		return fmt.Errorf("%w: state %s", ErrSessionFaulted, b.state)
	default:
		return ErrNotAuthenticated
	}
}

// run executes actions on the browser with a phase deadline. ctx can end the
// phase early; the browser itself is only stopped by Close.
func (b *Browser) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	// The first Run allocates the browser and ties it to the context it is
	// given, so it must not be a phase context.
	if !b.started {
		if err := chromedp.Run(b.browserCtx); err != nil {
			return err
		}
		b.started = true
	}

	tctx, cancel := context.WithTimeout(b.browserCtx, timeout)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(tctx, actions...)
}

// faulted reports whether err means the browser is gone.
func (b *Browser) faulted(err error) bool {
	return b.browserCtx.Err() != nil ||
		errors.Is(err, chromedp.ErrInvalidContext) ||
		errors.Is(err, chromedp.ErrChannelClosed)
}

func (b *Browser) stateAfter(err error, current State) State {
	if b.faulted(err) {
		return Faulted
	}
	return current
}

// classify maps a driver error to the phase's sentinel.
func (b *Browser) classify(ctx context.Context, err error, timeout error, phase string) error {
	switch {
	case b.faulted(err):
		b.log.Error("browser faulted", "phase", phase, "error", err)
		return fmt.Errorf("%w: %s: %v", ErrSessionFaulted, phase, err)
	case ctx.Err() != nil:
		return fmt.Errorf("portal: %s: %w", phase, ctx.Err())
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s", timeout, phase)
	default:
		return fmt.Errorf("portal: %s: %w", phase, err)
	}
}

// waitTitle polls document.title until it equals title.
func waitTitle(title string, interval time.Duration) chromedp.ActionFunc {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return func(ctx context.Context) error {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			var got string
			if err := chromedp.Title(&got).Do(ctx); err != nil {
				return err
			}
			if got == title {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
	}
}

// collectScript returns a JS expression yielding [{label, reference}] for
// the anchors under the results container.
func collectScript(container, anchors string) string {
	c, _ := json.Marshal(container)
	a, _ := json.Marshal(anchors)
	return fmt.Sprintf(`(function(container, anchors) {
	const root = document.evaluate(container, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!root) return [];
	const found = document.evaluate(anchors, root, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	const out = [];
	for (let i = 0; i < found.snapshotLength; i++) {
		const a = found.snapshotItem(i);
		out.push({label: (a.textContent || "").trim(), reference: a.href || ""});
	}
	return out;
})(%s, %s)`, c, a)
}
