package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	"golang.org/x/sync/errgroup"

	"github.com/ligustah/docharvest/internal/filer"
)

// Options configures a Mirror.
type Options struct {
	// Prefix is prepended to every object key.
	Prefix string

	// Concurrency is the number of parallel uploads.
	// Default: 4
	Concurrency int

	// MaxSize skips documents larger than this. Zero means no limit.
	MaxSize int64

	// Logger receives upload events. Default: slog.Default()
	Logger *slog.Logger
}

// Result counts what an upload pass did.
type Result struct {
	Uploaded int
	Skipped  int // already present with the same size
	TooLarge int
	Bytes    int64
}

// Mirror copies filed documents to a bucket as <prefix>/<entity>/<file>.
type Mirror struct {
	bucket *blob.Bucket
	opts   Options
	log    *slog.Logger
	owned  bool
}

// New creates a Mirror writing to bucket. The caller keeps ownership of bucket.
func New(bucket *blob.Bucket, opts Options) *Mirror {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.Prefix = strings.Trim(opts.Prefix, "/")
	return &Mirror{bucket: bucket, opts: opts, log: opts.Logger}
}

// Open opens the bucket at url and returns a Mirror that owns it.
func Open(ctx context.Context, url string, opts Options) (*Mirror, error) {
	bkt, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("archive: open bucket: %w", err)
	}
	m := New(bkt, opts)
	m.owned = true
	return m, nil
}

// Close closes the bucket if the Mirror opened it.
func (m *Mirror) Close() error {
	if m.owned {
		return m.bucket.Close()
	}
	return nil
}

// Key returns the object key for doc.
func (m *Mirror) Key(doc filer.Document) string {
	return path.Join(m.opts.Prefix, doc.Entity, filepath.Base(doc.Path))
}

// Upload copies docs to the bucket. Objects that already exist with the same
// size are left alone. The first error cancels the remaining uploads.
func (m *Mirror) Upload(ctx context.Context, docs []filer.Document) (Result, error) {
	var uploaded, skipped, tooLarge atomic.Int32
	var bytes atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)

	for _, doc := range docs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			size := doc.Size
			if size == 0 {
				fi, err := os.Stat(doc.Path)
				if err != nil {
					return fmt.Errorf("archive: %w", err)
				}
				size = fi.Size()
			}
			if m.opts.MaxSize > 0 && size > m.opts.MaxSize {
				m.log.Warn("document too large to archive", "entity", doc.Entity, "path", doc.Path, "size", size)
				tooLarge.Add(1)
				return nil
			}

			key := m.Key(doc)
			attrs, err := m.bucket.Attributes(ctx, key)
			switch {
			case err == nil && attrs.Size == size:
				skipped.Add(1)
				return nil
			case err != nil && !isNotFound(err):
				return fmt.Errorf("archive: stat %s: %w", key, err)
			}

			if err := m.put(ctx, key, doc.Path); err != nil {
				return err
			}
			uploaded.Add(1)
			bytes.Add(size)
			m.log.Debug("archived document", "key", key, "size", size)
			return nil
		})
	}

	err := g.Wait()
	return Result{
		Uploaded: int(uploaded.Load()),
		Skipped:  int(skipped.Load()),
		TooLarge: int(tooLarge.Load()),
		Bytes:    bytes.Load(),
	}, err
}

func (m *Mirror) put(ctx context.Context, key, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	defer f.Close()

	// Cancelling ctx before Close aborts the write.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := m.bucket.NewWriter(wctx, key, &blob.WriterOptions{ContentType: "application/pdf"})
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", key, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("archive: write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("archive: close %s: %w", key, err)
	}
	return nil
}

// Collect lists the filed documents under destination: every
// <entity>/<entity>-<label>.pdf, skipping directories that start with "_"
// or ".", such as the quarantine tree.
func Collect(destination string) ([]filer.Document, error) {
	entries, err := os.ReadDir(destination)
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", destination, err)
	}

	var docs []filer.Document
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") {
			continue
		}
		files, err := os.ReadDir(filepath.Join(destination, name))
		if err != nil {
			return nil, fmt.Errorf("archive: read %s: %w", name, err)
		}
		prefix := name + "-"
		for _, f := range files {
			fn := f.Name()
			if f.IsDir() || !strings.HasPrefix(fn, prefix) || !strings.HasSuffix(fn, ".pdf") {
				continue
			}
			info, err := f.Info()
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("archive: stat %s: %w", fn, err)
			}
			docs = append(docs, filer.Document{
				Entity: name,
				Label:  strings.TrimSuffix(strings.TrimPrefix(fn, prefix), ".pdf"),
				Path:   filepath.Join(destination, name, fn),
				Size:   info.Size(),
			})
		}
	}
	return docs, nil
}

func isNotFound(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
