// Package entities reads the list of entity ids to harvest.
package entities

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrNoEntities is returned when a source yields no ids.
var ErrNoEntities = errors.New("entities: no entity ids found")

// Options configures Read.
type Options struct {
	// Column is the zero-based column holding the id.
	Column int

	// Header skips the first record.
	Header bool
}

// Load reads ids from the CSV file at path. The first row is a header.
func Load(path string, column int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("entities: open: %w", err)
	}
	defer f.Close()

	return Read(f, Options{Column: column, Header: true})
}

// Read parses ids from CSV. Ids are trimmed; blank ids and repeats are
// dropped, keeping first-seen order.
func Read(r io.Reader, opts Options) ([]string, error) {
	if opts.Column < 0 {
		return nil, fmt.Errorf("entities: invalid column %d", opts.Column)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var (
		ids  []string
		seen = make(map[string]bool)
		line = 0
	)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("entities: %w", err)
		}
		line++
		if line == 1 && opts.Header {
			continue
		}
		if opts.Column >= len(rec) {
			continue
		}

		id := strings.TrimSpace(rec[opts.Column])
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return nil, ErrNoEntities
	}
	return ids, nil
}

// Parse splits a comma-separated list given on the command line.
func Parse(list string) []string {
	var (
		ids  []string
		seen = make(map[string]bool)
	)
	for _, id := range strings.Split(list, ",") {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
