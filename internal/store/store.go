// Package store provides crash-safe file persistence for job artifacts.
//
// Named artifacts (state, annotations, reports) are written with the
// temp-file-then-rename pattern so readers never observe a partial file.
// Event logs are append-only JSONL.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WriteJSONAtomic marshals payload and writes it to path atomically.
// The temp file is removed if the rename does not happen.
func WriteJSONAtomic(path string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}
	return WriteBytesAtomic(path, append(data, '\n'))
}

// WriteTextAtomic writes content to path atomically.
func WriteTextAtomic(path string, content string) error {
	return WriteBytesAtomic(path, []byte(content))
}

// WriteBytesAtomic writes data to a sibling temp file and renames it over path.
func WriteBytesAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	renamed := false
	defer func() {
		if !renamed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to rename %s over %s: %w", tmpName, path, err)
	}
	renamed = true
	return nil
}

// ReadJSON reads path and unmarshals it into out.
func ReadJSON(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Event is a single row in a job's events.jsonl.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Name      string         `json:"event"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// AppendEvent appends one event row to the given JSONL file.
func AppendEvent(path string, name string, fields map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	row := Event{Timestamp: time.Now().UTC(), Name: name, Fields: fields}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", name, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open event log %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append event %s: %w", name, err)
	}
	return nil
}

// ReadEvents loads all event rows from a JSONL file.
// A missing file yields an empty slice.
func ReadEvents(path string) ([]Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var events []Event
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := data[start:i]
			start = i + 1
			if len(line) == 0 {
				continue
			}
			var ev Event
			if err := json.Unmarshal(line, &ev); err != nil {
				continue // Skip torn trailing line after a crash
			}
			events = append(events, ev)
		}
	}
	return events, nil
}
