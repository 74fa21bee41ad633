package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/ligustah/docharvest/internal/filer"
)

func openMemBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

// fileDoc writes a filed document under dest and returns it.
func fileDoc(t *testing.T, dest, entity, label, content string) filer.Document {
	t.Helper()
	dir := filepath.Join(dest, entity)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(dir, filer.FileName(entity, label))
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return filer.Document{Entity: entity, Label: label, Path: p, Size: int64(len(content))}
}

func readObject(t *testing.T, bucket *blob.Bucket, key string) string {
	t.Helper()
	r, err := bucket.NewReader(context.Background(), key, nil)
	if err != nil {
		t.Fatalf("open %s: %v", key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read %s: %v", key, err)
	}
	return string(data)
}

func TestUploadWritesKeyedObjects(t *testing.T) {
	ctx := context.Background()
	bucket := openMemBucket(t)
	dest := t.TempDir()

	docs := []filer.Document{
		fileDoc(t, dest, "AAPL", "2024-01-05", "aapl one"),
		fileDoc(t, dest, "AAPL", "2024-02-05", "aapl two"),
		fileDoc(t, dest, "MSFT", "2024-01-05", "msft"),
	}

	m := New(bucket, Options{Prefix: "/mirror/", Concurrency: 2})
	res, err := m.Upload(ctx, docs)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Uploaded != 3 || res.Skipped != 0 {
		t.Errorf("unexpected result %+v", res)
	}
	if res.Bytes != int64(len("aapl one")+len("aapl two")+len("msft")) {
		t.Errorf("unexpected byte count %d", res.Bytes)
	}

	if got := readObject(t, bucket, "mirror/AAPL/AAPL-2024-02-05.pdf"); got != "aapl two" {
		t.Errorf("unexpected object content %q", got)
	}
	if got := readObject(t, bucket, "mirror/MSFT/MSFT-2024-01-05.pdf"); got != "msft" {
		t.Errorf("unexpected object content %q", got)
	}

	attrs, err := bucket.Attributes(ctx, "mirror/AAPL/AAPL-2024-01-05.pdf")
	if err != nil {
		t.Fatalf("Attributes: %v", err)
	}
	if attrs.ContentType != "application/pdf" {
		t.Errorf("content type = %q", attrs.ContentType)
	}
}

func TestUploadSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	bucket := openMemBucket(t)
	dest := t.TempDir()
	doc := fileDoc(t, dest, "AAPL", "2024-01-05", "first")

	m := New(bucket, Options{})
	if _, err := m.Upload(ctx, []filer.Document{doc}); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	res, err := m.Upload(ctx, []filer.Document{doc})
	if err != nil {
		t.Fatalf("second Upload: %v", err)
	}
	if res.Uploaded != 0 || res.Skipped != 1 {
		t.Errorf("expected the object to be skipped, got %+v", res)
	}

	// A different size means the filed copy changed.
	doc = fileDoc(t, dest, "AAPL", "2024-01-05", "second, longer")
	res, err = m.Upload(ctx, []filer.Document{doc})
	if err != nil {
		t.Fatalf("third Upload: %v", err)
	}
	if res.Uploaded != 1 {
		t.Errorf("expected a re-upload, got %+v", res)
	}
	if got := readObject(t, bucket, m.Key(doc)); got != "second, longer" {
		t.Errorf("unexpected object content %q", got)
	}
}

func TestUploadMaxSize(t *testing.T) {
	bucket := openMemBucket(t)
	dest := t.TempDir()
	small := fileDoc(t, dest, "AAPL", "small", "1234")
	large := fileDoc(t, dest, "AAPL", "large", "1234567890")

	m := New(bucket, Options{MaxSize: 5})
	res, err := m.Upload(context.Background(), []filer.Document{small, large})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Uploaded != 1 || res.TooLarge != 1 {
		t.Errorf("unexpected result %+v", res)
	}
	if ok, _ := bucket.Exists(context.Background(), m.Key(large)); ok {
		t.Error("oversized document must not be uploaded")
	}
}

func TestUploadStatsMissingSize(t *testing.T) {
	bucket := openMemBucket(t)
	doc := fileDoc(t, t.TempDir(), "AAPL", "x", "abc")
	doc.Size = 0

	res, err := New(bucket, Options{}).Upload(context.Background(), []filer.Document{doc})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if res.Bytes != 3 {
		t.Errorf("expected size taken from the file, got %d", res.Bytes)
	}
}

func TestUploadMissingFile(t *testing.T) {
	bucket := openMemBucket(t)
	doc := filer.Document{Entity: "AAPL", Label: "gone", Path: filepath.Join(t.TempDir(), "AAPL-gone.pdf"), Size: 10}

	if _, err := New(bucket, Options{}).Upload(context.Background(), []filer.Document{doc}); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestUploadCanceled(t *testing.T) {
	bucket := openMemBucket(t)
	doc := fileDoc(t, t.TempDir(), "AAPL", "x", "abc")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(bucket, Options{}).Upload(ctx, []filer.Document{doc}); err == nil {
		t.Fatal("expected an error for a canceled context")
	}
}

func TestCollect(t *testing.T) {
	dest := t.TempDir()
	fileDoc(t, dest, "AAPL", "2024-01-05", "a")
	fileDoc(t, dest, "MSFT", "2024-01-05", "m")
	fileDoc(t, dest, "_quarantine", "x", "q")

	// Files that do not carry the directory's entity prefix are ignored.
	if err := os.WriteFile(filepath.Join(dest, "AAPL", "notes.txt"), []byte("n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dest, "AAPL", "MSFT-2024.pdf"), []byte("n"), 0644); err != nil {
		t.Fatal(err)
	}

	docs, err := Collect(dest)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %+v", docs)
	}
	for _, d := range docs {
		if d.Label != "2024-01-05" || d.Size != 1 {
			t.Errorf("unexpected document %+v", d)
		}
	}
}

func TestCollectMissingDestination(t *testing.T) {
	if _, err := Collect(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected an error for a missing destination")
	}
}
