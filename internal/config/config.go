package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ligustah/docharvest/internal/progress"
)

// Config defines configuration for the docharvest CLI.
type Config struct {
	Portal PortalConfig `yaml:"portal"`

	// Entities is the CSV file listing entity ids.
	Entities     string `yaml:"entities"`
	EntityColumn int    `yaml:"entity_column"`

	Workers      int    `yaml:"workers"`
	DownloadRoot string `yaml:"download_root"`
	Destination  string `yaml:"destination"`
	Quarantine   string `yaml:"quarantine"`

	Verify         bool `yaml:"verify"`
	SkipExisting   bool `yaml:"skip_existing"`
	Progress       bool `yaml:"progress"`
	SearchAttempts int  `yaml:"search_attempts"`

	// Ledger is the SQLite database recording runs. Empty disables it.
	Ledger string `yaml:"ledger"`

	Archive   ArchiveConfig   `yaml:"archive"`
	Deadlines DeadlinesConfig `yaml:"deadlines"`
	Retry     RetryConfig     `yaml:"retry"`
}

// PortalConfig describes the remote portal.
type PortalConfig struct {
	LoginURL        string `yaml:"login_url"`
	SearchURL       string `yaml:"search_url"`
	BrowseURL       string `yaml:"browse_url"`
	User            string `yaml:"user"`
	Pin             string `yaml:"pin"`
	LandingTitle    string `yaml:"landing_title"`
	ResultsSelector string `yaml:"results_selector"`
	AnchorSelector  string `yaml:"anchor_selector"`
	Headless        bool   `yaml:"headless"`
	ExecPath        string `yaml:"exec_path"`
}

// ArchiveConfig configures the object storage mirror.
type ArchiveConfig struct {
	// Bucket is a gocloud bucket URL (s3://, gs://, file://, mem://).
	// Empty disables the mirror.
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Concurrency int    `yaml:"concurrency"`
	// MaxSize skips documents larger than this. Zero means no limit.
	MaxSize int64 `yaml:"max_size"`
}

// DeadlinesConfig bounds every blocking phase.
type DeadlinesConfig struct {
	Login          time.Duration `yaml:"login"`
	Search         time.Duration `yaml:"search"`
	Navigate       time.Duration `yaml:"navigate"`
	Fetch          time.Duration `yaml:"fetch"`
	Reset          time.Duration `yaml:"reset"`
	Rename         time.Duration `yaml:"rename"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	VerifyInterval time.Duration `yaml:"verify_interval"`
}

// RetryConfig defines retry behavior for the portal preflight check and
// between search attempts.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Portal: PortalConfig{
			LandingTitle:    "Value Line - Research - Dashboard",
			ResultsSelector: `//div[@data-module-name="HistoricalPdfs1View"]`,
			AnchorSelector:  `.//table[contains(@class, 'report-results')]//td[1]//a`,
			Headless:        true,
		},
		Workers:        4,
		DownloadRoot:   "downloads",
		Destination:    "reports",
		SearchAttempts: 1,
		Archive: ArchiveConfig{
			Concurrency: 4,
		},
		Deadlines: DeadlinesConfig{
			Login:          20 * time.Second,
			Search:         20 * time.Second,
			Navigate:       10 * time.Second,
			Fetch:          30 * time.Second,
			Reset:          20 * time.Second,
			Rename:         5 * time.Second,
			PollInterval:   time.Second,
			VerifyInterval: 50 * time.Millisecond,
		},
		Retry: RetryConfig{
			Attempts:   3,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string durations and sizes.
type yamlConfig struct {
	Portal         yamlPortalConfig    `yaml:"portal"`
	Entities       string              `yaml:"entities"`
	EntityColumn   int                 `yaml:"entity_column"`
	Workers        int                 `yaml:"workers"`
	DownloadRoot   string              `yaml:"download_root"`
	Destination    string              `yaml:"destination"`
	Quarantine     string              `yaml:"quarantine"`
	Verify         bool                `yaml:"verify"`
	SkipExisting   bool                `yaml:"skip_existing"`
	Progress       bool                `yaml:"progress"`
	SearchAttempts int                 `yaml:"search_attempts"`
	Ledger         string              `yaml:"ledger"`
	Archive        yamlArchiveConfig   `yaml:"archive"`
	Deadlines      yamlDeadlinesConfig `yaml:"deadlines"`
	Retry          yamlRetryConfig     `yaml:"retry"`
}

type yamlPortalConfig struct {
	LoginURL        string `yaml:"login_url"`
	SearchURL       string `yaml:"search_url"`
	BrowseURL       string `yaml:"browse_url"`
	User            string `yaml:"user"`
	Pin             string `yaml:"pin"`
	LandingTitle    string `yaml:"landing_title"`
	ResultsSelector string `yaml:"results_selector"`
	AnchorSelector  string `yaml:"anchor_selector"`
	Headless        *bool  `yaml:"headless"`
	ExecPath        string `yaml:"exec_path"`
}

type yamlArchiveConfig struct {
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Concurrency int    `yaml:"concurrency"`
	MaxSize     string `yaml:"max_size"`
}

type yamlDeadlinesConfig struct {
	Login          string `yaml:"login"`
	Search         string `yaml:"search"`
	Navigate       string `yaml:"navigate"`
	Fetch          string `yaml:"fetch"`
	Reset          string `yaml:"reset"`
	Rename         string `yaml:"rename"`
	PollInterval   string `yaml:"poll_interval"`
	VerifyInterval string `yaml:"verify_interval"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

// LoadFromFile loads configuration from a YAML file. Unset keys keep their
// defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	p := yc.Portal
	setString(&cfg.Portal.LoginURL, p.LoginURL)
	setString(&cfg.Portal.SearchURL, p.SearchURL)
	setString(&cfg.Portal.BrowseURL, p.BrowseURL)
	setString(&cfg.Portal.User, p.User)
	setString(&cfg.Portal.Pin, p.Pin)
	setString(&cfg.Portal.LandingTitle, p.LandingTitle)
	setString(&cfg.Portal.ResultsSelector, p.ResultsSelector)
	setString(&cfg.Portal.AnchorSelector, p.AnchorSelector)
	setString(&cfg.Portal.ExecPath, p.ExecPath)
	if p.Headless != nil {
		cfg.Portal.Headless = *p.Headless
	}

	setString(&cfg.Entities, yc.Entities)
	cfg.EntityColumn = yc.EntityColumn
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	setString(&cfg.DownloadRoot, yc.DownloadRoot)
	setString(&cfg.Destination, yc.Destination)
	setString(&cfg.Quarantine, yc.Quarantine)
	cfg.Verify = yc.Verify
	cfg.SkipExisting = yc.SkipExisting
	cfg.Progress = yc.Progress
	if yc.SearchAttempts != 0 {
		cfg.SearchAttempts = yc.SearchAttempts
	}
	setString(&cfg.Ledger, yc.Ledger)

	setString(&cfg.Archive.Bucket, yc.Archive.Bucket)
	setString(&cfg.Archive.Prefix, yc.Archive.Prefix)
	if yc.Archive.Concurrency != 0 {
		cfg.Archive.Concurrency = yc.Archive.Concurrency
	}
	if yc.Archive.MaxSize != "" {
		size, err := progress.ParseBytes(yc.Archive.MaxSize)
		if err != nil {
			return Config{}, fmt.Errorf("parse archive.max_size: %w", err)
		}
		cfg.Archive.MaxSize = size
	}

	d := yc.Deadlines
	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"deadlines.login", d.Login, &cfg.Deadlines.Login},
		{"deadlines.search", d.Search, &cfg.Deadlines.Search},
		{"deadlines.navigate", d.Navigate, &cfg.Deadlines.Navigate},
		{"deadlines.fetch", d.Fetch, &cfg.Deadlines.Fetch},
		{"deadlines.reset", d.Reset, &cfg.Deadlines.Reset},
		{"deadlines.rename", d.Rename, &cfg.Deadlines.Rename},
		{"deadlines.poll_interval", d.PollInterval, &cfg.Deadlines.PollInterval},
		{"deadlines.verify_interval", d.VerifyInterval, &cfg.Deadlines.VerifyInterval},
		{"retry.backoff", yc.Retry.Backoff, &cfg.Retry.Backoff},
		{"retry.max_backoff", yc.Retry.MaxBackoff, &cfg.Retry.MaxBackoff},
	} {
		if err := setDuration(f.dst, f.raw); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", f.name, err)
		}
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the DOCHARVEST_ prefix.
func (c *Config) LoadFromEnv() error {
	for _, s := range []struct {
		key string
		dst *string
	}{
		{"DOCHARVEST_LOGIN_URL", &c.Portal.LoginURL},
		{"DOCHARVEST_SEARCH_URL", &c.Portal.SearchURL},
		{"DOCHARVEST_BROWSE_URL", &c.Portal.BrowseURL},
		{"DOCHARVEST_USER", &c.Portal.User},
		{"DOCHARVEST_PIN", &c.Portal.Pin},
		{"DOCHARVEST_CHROME_PATH", &c.Portal.ExecPath},
		{"DOCHARVEST_ENTITIES", &c.Entities},
		{"DOCHARVEST_DOWNLOAD_ROOT", &c.DownloadRoot},
		{"DOCHARVEST_DESTINATION", &c.Destination},
		{"DOCHARVEST_QUARANTINE", &c.Quarantine},
		{"DOCHARVEST_LEDGER", &c.Ledger},
		{"DOCHARVEST_ARCHIVE", &c.Archive.Bucket},
		{"DOCHARVEST_ARCHIVE_PREFIX", &c.Archive.Prefix},
	} {
		setString(s.dst, os.Getenv(s.key))
	}

	for _, s := range []struct {
		key string
		dst *int
	}{
		{"DOCHARVEST_WORKERS", &c.Workers},
		{"DOCHARVEST_SEARCH_ATTEMPTS", &c.SearchAttempts},
		{"DOCHARVEST_ENTITY_COLUMN", &c.EntityColumn},
		{"DOCHARVEST_RETRY_ATTEMPTS", &c.Retry.Attempts},
	} {
		if v := os.Getenv(s.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parse %s: %w", s.key, err)
			}
			*s.dst = n
		}
	}

	for _, s := range []struct {
		key string
		dst *bool
	}{
		{"DOCHARVEST_HEADLESS", &c.Portal.Headless},
		{"DOCHARVEST_VERIFY", &c.Verify},
		{"DOCHARVEST_SKIP_EXISTING", &c.SkipExisting},
		{"DOCHARVEST_PROGRESS", &c.Progress},
	} {
		if v := os.Getenv(s.key); v != "" {
			*s.dst = v == "true" || v == "1"
		}
	}

	for _, s := range []struct {
		key string
		dst *time.Duration
	}{
		{"DOCHARVEST_LOGIN_TIMEOUT", &c.Deadlines.Login},
		{"DOCHARVEST_SEARCH_TIMEOUT", &c.Deadlines.Search},
		{"DOCHARVEST_FETCH_TIMEOUT", &c.Deadlines.Fetch},
		{"DOCHARVEST_RESET_TIMEOUT", &c.Deadlines.Reset},
		{"DOCHARVEST_POLL_INTERVAL", &c.Deadlines.PollInterval},
		{"DOCHARVEST_RETRY_BACKOFF", &c.Retry.Backoff},
	} {
		if err := setDuration(s.dst, os.Getenv(s.key)); err != nil {
			return fmt.Errorf("parse %s: %w", s.key, err)
		}
	}

	if v := os.Getenv("DOCHARVEST_ARCHIVE_MAX_SIZE"); v != "" {
		size, err := progress.ParseBytes(v)
		if err != nil {
			return fmt.Errorf("parse DOCHARVEST_ARCHIVE_MAX_SIZE: %w", err)
		}
		c.Archive.MaxSize = size
	}

	return nil
}

// Validate validates the configuration for a harvest run.
func (c *Config) Validate() error {
	if c.Portal.LoginURL == "" {
		return errors.New("config: portal.login_url is required")
	}
	if c.Portal.SearchURL == "" {
		return errors.New("config: portal.search_url is required")
	}
	if c.Portal.BrowseURL == "" {
		return errors.New("config: portal.browse_url is required")
	}
	if c.Portal.User == "" || c.Portal.Pin == "" {
		return errors.New("config: portal credentials are required")
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.SearchAttempts <= 0 {
		return errors.New("config: search_attempts must be positive")
	}
	if c.EntityColumn < 0 {
		return errors.New("config: entity_column must not be negative")
	}
	if err := c.ValidatePaths(); err != nil {
		return err
	}

	d := c.Deadlines
	for name, v := range map[string]time.Duration{
		"login":           d.Login,
		"search":          d.Search,
		"navigate":        d.Navigate,
		"fetch":           d.Fetch,
		"reset":           d.Reset,
		"rename":          d.Rename,
		"poll_interval":   d.PollInterval,
		"verify_interval": d.VerifyInterval,
	} {
		if v <= 0 {
			return fmt.Errorf("config: deadlines.%s must be positive", name)
		}
	}
	if d.PollInterval > d.Fetch {
		return errors.New("config: deadlines.poll_interval must not exceed deadlines.fetch")
	}
	return nil
}

// ValidatePaths checks only the filesystem layout, which is all the
// relocate command needs.
func (c *Config) ValidatePaths() error {
	if c.DownloadRoot == "" {
		return errors.New("config: download_root is required")
	}
	if c.Destination == "" {
		return errors.New("config: destination is required")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	o := override
	setString(&c.Portal.LoginURL, o.Portal.LoginURL)
	setString(&c.Portal.SearchURL, o.Portal.SearchURL)
	setString(&c.Portal.BrowseURL, o.Portal.BrowseURL)
	setString(&c.Portal.User, o.Portal.User)
	setString(&c.Portal.Pin, o.Portal.Pin)
	setString(&c.Portal.ExecPath, o.Portal.ExecPath)
	setString(&c.Entities, o.Entities)
	setString(&c.DownloadRoot, o.DownloadRoot)
	setString(&c.Destination, o.Destination)
	setString(&c.Quarantine, o.Quarantine)
	setString(&c.Ledger, o.Ledger)
	setString(&c.Archive.Bucket, o.Archive.Bucket)
	setString(&c.Archive.Prefix, o.Archive.Prefix)

	if o.EntityColumn != 0 {
		c.EntityColumn = o.EntityColumn
	}
	if o.Workers != 0 {
		c.Workers = o.Workers
	}
	if o.SearchAttempts != 0 {
		c.SearchAttempts = o.SearchAttempts
	}
	if o.Archive.Concurrency != 0 {
		c.Archive.Concurrency = o.Archive.Concurrency
	}
	if o.Archive.MaxSize != 0 {
		c.Archive.MaxSize = o.Archive.MaxSize
	}
	if o.Verify {
		c.Verify = true
	}
	if o.SkipExisting {
		c.SkipExisting = true
	}
	if o.Progress {
		c.Progress = true
	}

	for _, d := range []struct {
		dst *time.Duration
		v   time.Duration
	}{
		{&c.Deadlines.Login, o.Deadlines.Login},
		{&c.Deadlines.Search, o.Deadlines.Search},
		{&c.Deadlines.Navigate, o.Deadlines.Navigate},
		{&c.Deadlines.Fetch, o.Deadlines.Fetch},
		{&c.Deadlines.Reset, o.Deadlines.Reset},
		{&c.Deadlines.Rename, o.Deadlines.Rename},
		{&c.Deadlines.PollInterval, o.Deadlines.PollInterval},
		{&c.Deadlines.VerifyInterval, o.Deadlines.VerifyInterval},
		{&c.Retry.Backoff, o.Retry.Backoff},
		{&c.Retry.MaxBackoff, o.Retry.MaxBackoff},
	} {
		if d.v != 0 {
			*d.dst = d.v
		}
	}
	if o.Retry.Attempts != 0 {
		c.Retry.Attempts = o.Retry.Attempts
	}
	return c
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
