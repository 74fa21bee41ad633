package filer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Common errors.
var (
	// ErrRenameUnverified is returned when a rename did not become visible
	// within Options.RenameTimeout.
	ErrRenameUnverified = errors.New("filer: rename not visible before deadline")

	// ErrInvalidEntity is returned for entity ids that are empty or could
	// escape the destination directory.
	ErrInvalidEntity = errors.New("filer: invalid entity id")

	// ErrInvalidDocument is returned when PDF verification rejects an artifact.
	ErrInvalidDocument = errors.New("filer: artifact is not a valid PDF")
)

const ext = ".pdf"

// Options configures a Filer.
type Options struct {
	// Destination is the root of the filed document tree.
	Destination string

	// Quarantine is where conflicting or invalid artifacts are moved.
	// Default: <Destination>/_quarantine
	Quarantine string

	// RenameTimeout bounds the wait for a rename to become visible.
	// Default: 5s
	RenameTimeout time.Duration

	// VerifyInterval is the poll interval while verifying a rename.
	// Default: 50ms
	VerifyInterval time.Duration

	// Verify validates artifacts as PDF before they are committed.
	Verify bool

	// Logger receives filing events. Default: slog.Default()
	Logger *slog.Logger
}

// Document is a renamed artifact placed in the destination tree.
type Document struct {
	Entity string
	Label  string
	Path   string
	Size   int64
	Pages  int // set when Verify is enabled
}

// Filer renames completed artifacts in one worker directory and moves them
// to <Destination>/<entity>/.
type Filer struct {
	dir  string
	opts Options
	log  *slog.Logger
}

// New creates a Filer operating on the worker directory dir.
func New(dir string, opts Options) *Filer {
	if opts.Quarantine == "" {
		opts.Quarantine = filepath.Join(opts.Destination, "_quarantine")
	}
	if opts.RenameTimeout <= 0 {
		opts.RenameTimeout = 5 * time.Second
	}
	if opts.VerifyInterval <= 0 {
		opts.VerifyInterval = 50 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Filer{dir: dir, opts: opts, log: opts.Logger}
}

// Dir returns the worker directory.
func (f *Filer) Dir() string {
	return f.dir
}

// FileName returns the final file name for an entity and label.
func FileName(entity, label string) string {
	return entity + "-" + SanitizeLabel(label) + ext
}

// ValidateEntity rejects entity ids that are empty or contain path elements.
func ValidateEntity(entity string) error {
	if entity == "" || entity == "." || entity == ".." ||
		strings.ContainsAny(entity, `/\`) || strings.Contains(entity, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidEntity, entity)
	}
	return nil
}

// SanitizeLabel makes a search-result label safe to use in a file name.
func SanitizeLabel(label string) string {
	label = strings.TrimSpace(label)
	var b strings.Builder
	for _, r := range label {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('-')
		case r < 0x20:
			// drop control characters
		case r == ' ':
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	s := strings.Trim(b.String(), ".")
	if s == "" {
		return "untitled"
	}
	return s
}

// Commit renames candidate in place to <entity>-<label>.pdf and returns the
// new path. It does not return until the new name is visible and the old
// one is gone, or Options.RenameTimeout has elapsed.
func (f *Filer) Commit(candidate, entity, label string) (string, error) {
	if err := ValidateEntity(entity); err != nil {
		return "", err
	}
	if f.opts.Verify {
		if err := VerifyPDF(candidate); err != nil {
			return "", err
		}
	}

	target := filepath.Join(f.dir, FileName(entity, label))
	if candidate == target {
		return target, nil
	}
	if err := os.Rename(candidate, target); err != nil {
		return "", fmt.Errorf("filer: rename %s: %w", filepath.Base(candidate), err)
	}
	if err := f.awaitRename(candidate, target); err != nil {
		return "", err
	}

	f.log.Debug("committed artifact", "entity", entity, "label", label, "path", target)
	return target, nil
}

// awaitRename polls until target exists and source does not.
func (f *Filer) awaitRename(source, target string) error {
	deadline := time.Now().Add(f.opts.RenameTimeout)
	for {
		if exists(target) && !exists(source) {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %s -> %s after %s", ErrRenameUnverified,
				filepath.Base(source), filepath.Base(target), f.opts.RenameTimeout)
		}
		time.Sleep(f.opts.VerifyInterval)
	}
}

// Pattern returns the glob matching committed files of entity in the worker
// directory. The separator after the id keeps "AAPL" from matching "AAPLX-...".
func (f *Filer) Pattern(entity string) string {
	return filepath.Join(f.dir, escapeGlob(entity)+"-*"+ext)
}

// Pending lists committed files of entity still waiting in the worker directory.
func (f *Filer) Pending(entity string) ([]string, error) {
	if err := ValidateEntity(entity); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(f.Pattern(entity))
	if err != nil {
		return nil, fmt.Errorf("filer: glob: %w", err)
	}
	return matches, nil
}

// Relocate moves every committed file of entity from the worker directory to
// <Destination>/<entity>/. With nothing to move it is a no-op: no directory
// is created and no error is returned.
//
// Files that fail to move are skipped and reported in the returned error;
// the documents that were moved are returned either way.
func (f *Filer) Relocate(entity string) ([]Document, error) {
	matches, err := f.Pending(entity)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	destDir := filepath.Join(f.opts.Destination, entity)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("filer: create %s: %w", destDir, err)
	}

	prefix := entity + "-"
	var (
		docs []Document
		errs []error
	)
	for _, src := range matches {
		name := filepath.Base(src)
		dst := filepath.Join(destDir, name)
		if err := moveFile(src, dst); err != nil {
			f.log.Error("relocate failed", "entity", entity, "file", name, "error", err)
			errs = append(errs, fmt.Errorf("filer: move %s: %w", name, err))
			continue
		}

		doc := Document{
			Entity: entity,
			Label:  strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext),
			Path:   dst,
		}
		if fi, err := os.Stat(dst); err == nil {
			doc.Size = fi.Size()
		}
		if f.opts.Verify {
			if n, err := api.PageCountFile(dst); err == nil {
				doc.Pages = n
			}
		}
		f.log.Info("filed document", "entity", entity, "path", dst, "size", doc.Size)
		docs = append(docs, doc)
	}
	return docs, errors.Join(errs...)
}

// Exists reports whether the document for entity and label is already filed.
func (f *Filer) Exists(entity, label string) bool {
	return exists(filepath.Join(f.opts.Destination, entity, FileName(entity, label)))
}

// Quarantine moves paths to <Quarantine>/<entity>/ with a timestamp prefix so
// they can be inspected by hand. It returns the new locations.
func (f *Filer) Quarantine(entity string, paths []string) ([]string, error) {
	if entity == "" || ValidateEntity(entity) != nil {
		entity = "_unknown"
	}
	dir := filepath.Join(f.opts.Quarantine, entity)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("filer: create %s: %w", dir, err)
	}

	stamp := time.Now().UTC().Format("20060102T150405.000000000")
	var (
		moved []string
		errs  []error
	)
	for _, src := range paths {
		dst := filepath.Join(dir, stamp+"-"+filepath.Base(src))
		if err := moveFile(src, dst); err != nil {
			errs = append(errs, fmt.Errorf("filer: quarantine %s: %w", filepath.Base(src), err))
			continue
		}
		moved = append(moved, dst)
	}
	if len(moved) > 0 {
		f.log.Warn("quarantined artifacts", "entity", entity, "dir", dir, "count", len(moved))
	}
	return moved, errors.Join(errs...)
}

// VerifyPDF validates path with pdfcpu in relaxed mode.
func VerifyPDF(path string) error {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, cfg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDocument, filepath.Base(path), err)
	}
	return nil
}

// moveFile renames src to dst, copying across filesystems when needed.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if !errors.As(err, &linkErr) || !errors.Is(linkErr.Err, syscall.EXDEV) {
		return err
	}

	if err := copyFile(src, dst); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// escapeGlob escapes glob metacharacters in a literal path component.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
