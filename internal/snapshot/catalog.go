// Package snapshot keeps an append-only operator catalogue of vector
// store snapshots as JSON lines on disk.
package snapshot

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Entry records one snapshot.
type Entry struct {
	Name       string    `json:"name"`
	Location   string    `json:"location"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
	RecordedAt time.Time `json:"recorded_at"`
	Note       string    `json:"note,omitempty"`
}

// Catalog is a file-backed snapshot log. Appends are serialized; the
// file is opened per operation so external rotation is safe.
type Catalog struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewCatalog builds a catalogue at path.
func NewCatalog(path string) *Catalog {
	return &Catalog{path: path, now: time.Now}
}

// Append records one entry at the end of the log.
func (c *Catalog) Append(entry Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = c.now()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal snapshot entry: %w", err)
	}

	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open snapshot catalog: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write snapshot entry: %w", err)
	}
	return nil
}

// List returns all recorded entries in append order. A missing file is
// an empty catalogue, not an error. Corrupt lines are skipped.
func (c *Catalog) List() ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := os.Open(c.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot catalog: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read snapshot catalog: %w", err)
	}
	return entries, nil
}
