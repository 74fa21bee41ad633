package portal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Common errors.
var (
	// ErrLoginTimeout is returned when the authenticated landing page did
	// not appear before the login deadline. Fatal for the worker.
	ErrLoginTimeout = errors.New("portal: login timed out")

	// ErrSearchTimeout is returned when the results view did not become
	// visible before the search deadline. The entity yields no locators.
	ErrSearchTimeout = errors.New("portal: search timed out")

	// ErrResetTimeout is returned when the browse page did not load before
	// the reset deadline. Recoverable.
	ErrResetTimeout = errors.New("portal: reset timed out")

	// ErrFetchTimeout is returned when the fetch navigation could not be
	// dispatched before its deadline.
	ErrFetchTimeout = errors.New("portal: fetch timed out")

	// ErrSessionFaulted is returned once the underlying driver is gone.
	// Fatal for the worker.
	ErrSessionFaulted = errors.New("portal: session faulted")

	// ErrNotAuthenticated is returned by operations that need a logged-in session.
	ErrNotAuthenticated = errors.New("portal: session not authenticated")
)

// State is the lifecycle state of a Session.
type State int

const (
	// Unauthenticated is the initial state, and the state after a failed login.
	Unauthenticated State = iota
	// Authenticated means login succeeded and the session can search and fetch.
	Authenticated
	// Faulted means the driver failed irrecoverably.
	Faulted
	// Closed means Close has been called.
	Closed
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case Faulted:
		return "faulted"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Locator is one document link harvested from a search.
type Locator struct {
	// Label is the human-readable link text; it becomes the file name suffix.
	Label string `json:"label"`
	// Reference is the link target that triggers the download.
	Reference string `json:"reference"`
}

// Session is one authenticated connection to the portal. A Session is owned
// by exactly one worker and is not safe for concurrent use.
type Session interface {
	// Login authenticates, waiting up to the login deadline for the landing page.
	Login(ctx context.Context) error

	// SearchAndCollect opens the search view for entity and returns the
	// document locators found in the first column of the results table.
	SearchAndCollect(ctx context.Context, entity string) ([]Locator, error)

	// Fetch starts the download behind loc. It returns once the navigation
	// has been dispatched; the file appears asynchronously in the session's
	// download directory.
	Fetch(ctx context.Context, loc Locator) error

	// Reset returns to the neutral browse page.
	Reset(ctx context.Context) error

	// State returns the current lifecycle state.
	State() State

	// Close tears the session down. It is safe to call more than once.
	Close() error
}

// Factory opens a Session for worker id that downloads into dir.
type Factory func(ctx context.Context, id int, dir string) (Session, error)

// Config describes the portal and the per-phase deadlines.
type Config struct {
	LoginURL  string
	SearchURL string // contains "{entity}" or "%s"
	BrowseURL string

	User string
	Pin  string

	// LandingTitle is the page title that signals a successful login.
	LandingTitle string

	// ResultsSelector is an XPath for the search results container.
	ResultsSelector string

	// AnchorSelector is an XPath, relative to the results container, for
	// the document links.
	AnchorSelector string

	// Headless runs the browser without a window.
	Headless bool

	// ExecPath overrides the browser binary.
	ExecPath string

	LoginTimeout    time.Duration
	SearchTimeout   time.Duration
	NavigateTimeout time.Duration
	ResetTimeout    time.Duration

	// PollInterval is used while waiting for the landing page.
	PollInterval time.Duration
}

// DefaultConfig returns a Config with the selector and deadline defaults.
func DefaultConfig() Config {
	return Config{
		LandingTitle:    "Value Line - Research - Dashboard",
		ResultsSelector: `//div[@data-module-name="HistoricalPdfs1View"]`,
		AnchorSelector:  `.//table[contains(@class, 'report-results')]//td[1]//a`,
		Headless:        true,
		LoginTimeout:    20 * time.Second,
		SearchTimeout:   20 * time.Second,
		NavigateTimeout: 10 * time.Second,
		ResetTimeout:    20 * time.Second,
		PollInterval:    250 * time.Millisecond,
	}
}

// SearchURLFor expands the search URL template for entity.
func (c Config) SearchURLFor(entity string) string {
	escaped := url.PathEscape(entity)
	if strings.Contains(c.SearchURL, "{entity}") {
		return strings.ReplaceAll(c.SearchURL, "{entity}", escaped)
	}
	if strings.Contains(c.SearchURL, "%s") {
		return strings.Replace(c.SearchURL, "%s", escaped, 1)
	}
	return strings.TrimSuffix(c.SearchURL, "/") + "/" + escaped
}
