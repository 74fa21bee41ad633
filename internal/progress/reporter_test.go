package progress

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0 B"},
		{100, "100 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{256 * 1024 * 1024, "256 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
		{1024 * 1024 * 1024 * 1024, "1.0 TiB"},
		{2.5 * 1024 * 1024 * 1024 * 1024, "2.5 TiB"},
	}

	for _, tt := range tests {
		result := FormatBytes(tt.input)
		if result != tt.expected {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"100", 100},
		{"100B", 100},
		{"1KiB", 1024},
		{"1.5KiB", 1536},
		{"256MiB", 256 * 1024 * 1024},
		{"1GiB", 1024 * 1024 * 1024},
		{"1TiB", 1024 * 1024 * 1024 * 1024},
		// SI units
		{"1KB", 1000},
		{"1MB", 1000 * 1000},
		{"1GB", 1000 * 1000 * 1000},
	}

	for _, tt := range tests {
		result, err := ParseBytes(tt.input)
		if err != nil {
			t.Errorf("ParseBytes(%q): %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("ParseBytes(%q) = %d, want %d", tt.input, result, tt.expected)
		}
	}
}

func TestParseBytesInvalid(t *testing.T) {
	_, err := ParseBytes("invalid")
	if err == nil {
		t.Error("expected error for invalid input")
	}
}

func TestReporterCounters(t *testing.T) {
	reporter := NewReporter(Options{
		TotalEntities:  4,
		Workers:        2,
		UpdateInterval: 100 * time.Millisecond,
	})

	// Counters work without starting the reporter
	reporter.EntityStarted()
	if got := reporter.Counts().InProgress; got != 1 {
		t.Errorf("expected 1 in-progress, got %d", got)
	}

	reporter.DocumentFiled(256)
	reporter.DocumentFiled(1024)
	reporter.EntityFinished()

	c := reporter.Counts()
	if c.InProgress != 0 {
		t.Errorf("expected 0 in-progress after finish, got %d", c.InProgress)
	}
	if c.Entities != 1 {
		t.Errorf("expected 1 entity, got %d", c.Entities)
	}
	if c.Documents != 2 || c.Bytes != 1280 {
		t.Errorf("expected 2 documents / 1280 bytes, got %d / %d", c.Documents, c.Bytes)
	}

	reporter.EntityStarted()
	reporter.Failed()
	reporter.EntityFinished()
	if c := reporter.Counts(); c.Failures != 1 || c.Entities != 2 {
		t.Errorf("unexpected counts after failure: %+v", c)
	}
}

func TestReporterStartStop(t *testing.T) {
	var out bytes.Buffer
	reporter := NewReporter(Options{
		TotalEntities:  2,
		Workers:        2,
		Destination:    "/reports",
		Output:         &out,
		UpdateInterval: 10 * time.Millisecond,
	})

	reporter.Start()

	reporter.EntityStarted()
	reporter.DocumentFiled(256 * 1024)
	reporter.EntityFinished()

	reporter.EntityStarted()
	reporter.DocumentFiled(256 * 1024)
	reporter.EntityFinished()

	time.Sleep(50 * time.Millisecond) // Let updates run

	reporter.Stop()
	reporter.Stop()

	text := out.String()
	if !strings.Contains(text, "Entities: 2 | Workers: 2 | Destination: /reports") {
		t.Errorf("missing header in %q", text)
	}
	if !strings.Contains(text, "Done: 2 entities | 2 documents (512 KiB)") {
		t.Errorf("missing final status in %q", text)
	}
}

func TestReporterStopWithoutStart(t *testing.T) {
	reporter := NewReporter(Options{Output: &bytes.Buffer{}})
	reporter.Stop()
}
