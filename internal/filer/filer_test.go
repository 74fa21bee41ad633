package filer

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func newTestFiler(t *testing.T) (*Filer, string, string) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "worker-0")
	dest := filepath.Join(root, "dest")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	f := New(dir, Options{
		Destination:    dest,
		RenameTimeout:  time.Second,
		VerifyInterval: 5 * time.Millisecond,
	})
	return f, dir, dest
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestCommitRenamesInPlace(t *testing.T) {
	f, dir, _ := newTestFiler(t)
	candidate := filepath.Join(dir, "report.pdf")
	writeFile(t, candidate, "one")

	got, err := f.Commit(candidate, "AAPL", "2024-01-05")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	want := filepath.Join(dir, "AAPL-2024-01-05.pdf")
	if got != want {
		t.Errorf("Commit = %s, want %s", got, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected committed file: %v", err)
	}
	if _, err := os.Stat(candidate); !os.IsNotExist(err) {
		t.Errorf("expected candidate to be gone, stat err = %v", err)
	}
}

func TestCommitMissingCandidate(t *testing.T) {
	f, dir, _ := newTestFiler(t)

	_, err := f.Commit(filepath.Join(dir, "report.pdf"), "AAPL", "x")
	if err == nil {
		t.Fatal("expected error for missing candidate")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestCommitRejectsInvalidEntity(t *testing.T) {
	f, dir, _ := newTestFiler(t)
	candidate := filepath.Join(dir, "report.pdf")
	writeFile(t, candidate, "x")

	for _, entity := range []string{"", "..", "../etc", "a/b", `a\b`} {
		if _, err := f.Commit(candidate, entity, "x"); !errors.Is(err, ErrInvalidEntity) {
			t.Errorf("Commit(%q): expected ErrInvalidEntity, got %v", entity, err)
		}
	}
}

func TestCommitVerifyRejectsNonPDF(t *testing.T) {
	root := t.TempDir()
	f := New(root, Options{Destination: filepath.Join(root, "dest"), Verify: true})
	candidate := filepath.Join(root, "report.pdf")
	writeFile(t, candidate, "this is not a pdf")

	_, err := f.Commit(candidate, "AAPL", "x")
	if !errors.Is(err, ErrInvalidDocument) {
		t.Fatalf("expected ErrInvalidDocument, got %v", err)
	}
	if _, err := os.Stat(candidate); err != nil {
		t.Errorf("candidate should be left in place for quarantine: %v", err)
	}
}

func TestSanitizeLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-01-05", "2024-01-05"},
		{" 2024/01/05 ", "2024-01-05"},
		{"Q1 report", "Q1_report"},
		{"../../etc", "-..-etc"},
		{"a:b*c?", "a-b-c-"},
		{"", "untitled"},
		{"..", "untitled"},
	}
	for _, tt := range tests {
		if got := SanitizeLabel(tt.in); got != tt.want {
			t.Errorf("SanitizeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRelocateMovesOnlyExactEntity(t *testing.T) {
	f, dir, dest := newTestFiler(t)
	writeFile(t, filepath.Join(dir, "AAPL-2024-01-05.pdf"), "a")
	writeFile(t, filepath.Join(dir, "AAPL-2024-02-05.pdf"), "bb")
	writeFile(t, filepath.Join(dir, "AAPLX-2024-01-05.pdf"), "other entity")
	writeFile(t, filepath.Join(dir, "report.pdf"), "in flight")

	docs, err := f.Relocate("AAPL")
	if err != nil {
		t.Fatalf("Relocate: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(docs))
	}

	var labels []string
	for _, d := range docs {
		labels = append(labels, d.Label)
		if d.Entity != "AAPL" {
			t.Errorf("unexpected entity %q", d.Entity)
		}
	}
	sort.Strings(labels)
	if labels[0] != "2024-01-05" || labels[1] != "2024-02-05" {
		t.Errorf("unexpected labels %v", labels)
	}

	for _, name := range []string{"AAPL-2024-01-05.pdf", "AAPL-2024-02-05.pdf"} {
		if _, err := os.Stat(filepath.Join(dest, "AAPL", name)); err != nil {
			t.Errorf("expected %s filed: %v", name, err)
		}
	}
	for _, name := range []string{"AAPLX-2024-01-05.pdf", "report.pdf"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("%s must not be touched: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dest, "AAPLX")); !os.IsNotExist(err) {
		t.Error("no directory should be created for another entity")
	}
}

func TestRelocateNoMatchesIsNoop(t *testing.T) {
	f, _, dest := newTestFiler(t)

	for i := 0; i < 2; i++ {
		docs, err := f.Relocate("MSFT")
		if err != nil {
			t.Fatalf("Relocate: %v", err)
		}
		if len(docs) != 0 {
			t.Errorf("expected no documents, got %d", len(docs))
		}
	}
	if _, err := os.Stat(filepath.Join(dest, "MSFT")); !os.IsNotExist(err) {
		t.Errorf("expected no destination directory, stat err = %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("expected destination root untouched, stat err = %v", err)
	}
}

func TestRelocateOverwritesNothingOutsideEntity(t *testing.T) {
	f, dir, dest := newTestFiler(t)
	if err := os.MkdirAll(filepath.Join(dest, "MSFT"), 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dest, "MSFT", "MSFT-old.pdf"), "keep")
	writeFile(t, filepath.Join(dir, "AAPL-new.pdf"), "x")

	if _, err := f.Relocate("AAPL"); err != nil {
		t.Fatalf("Relocate: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "MSFT", "MSFT-old.pdf"))
	if err != nil || string(data) != "keep" {
		t.Errorf("other entity's filing changed: %q, %v", data, err)
	}
}

func TestExists(t *testing.T) {
	f, dir, _ := newTestFiler(t)
	if f.Exists("AAPL", "2024-01-05") {
		t.Fatal("expected document not to exist yet")
	}

	writeFile(t, filepath.Join(dir, "AAPL-2024-01-05.pdf"), "x")
	if _, err := f.Relocate("AAPL"); err != nil {
		t.Fatal(err)
	}
	if !f.Exists("AAPL", "2024-01-05") {
		t.Error("expected document to exist after relocate")
	}
}

func TestQuarantine(t *testing.T) {
	f, dir, dest := newTestFiler(t)
	a := filepath.Join(dir, "report.pdf")
	b := filepath.Join(dir, "report (1).pdf")
	writeFile(t, a, "a")
	writeFile(t, b, "b")

	moved, err := f.Quarantine("AAPL", []string{a, b})
	if err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if len(moved) != 2 {
		t.Fatalf("expected 2 moved files, got %v", moved)
	}
	for _, p := range moved {
		if filepath.Dir(p) != filepath.Join(dest, "_quarantine", "AAPL") {
			t.Errorf("unexpected quarantine location %s", p)
		}
		if _, err := os.Stat(p); err != nil {
			t.Errorf("quarantined file missing: %v", err)
		}
	}
	for _, p := range []string{a, b} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should have been moved", p)
		}
	}
}

func TestPattern(t *testing.T) {
	f := New("/dl", Options{Destination: "/dest"})
	if got, want := f.Pattern("BRK.B"), filepath.Join("/dl", "BRK.B-*.pdf"); got != want {
		t.Errorf("Pattern = %s, want %s", got, want)
	}
	if got, want := f.Pattern("A[1]"), filepath.Join("/dl", `A\[1\]-*.pdf`); got != want {
		t.Errorf("Pattern = %s, want %s", got, want)
	}
}
