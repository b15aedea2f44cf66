// Package audit persists enrichment call records as append-only JSON lines.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/linnemanlabs/arbiter/internal/incident"
)

// JSONL appends one JSON object per line to a file. Appends from concurrent
// goroutines are serialized so lines never interleave.
type JSONL struct {
	mu    sync.Mutex
	path  string
	f     *os.File
	count int
}

// OpenJSONL opens path for appending, creating it and its parent directory
// when missing. Existing records are kept and counted.
func OpenJSONL(path string) (*JSONL, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}
	existing, err := CountLines(path)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G302 G304 -- operator-supplied audit path
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &JSONL{path: path, f: f, count: existing}, nil
}

// Append writes rec as a single line.
func (j *JSONL) Append(_ context.Context, rec *incident.CallRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}
	b = append(b, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return errors.New("audit log closed")
	}
	if _, err := j.f.Write(b); err != nil {
		return fmt.Errorf("write call record: %w", err)
	}
	j.count++
	return nil
}

// Count returns the number of records in the file, including those present
// before it was opened.
func (j *JSONL) Count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

func (j *JSONL) Path() string { return j.path }

// Close flushes and closes the file. Further appends fail.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.f == nil {
		return nil
	}
	err := j.f.Sync()
	if cerr := j.f.Close(); err == nil {
		err = cerr
	}
	j.f = nil
	return err
}

// CountLines counts non-empty lines in path. A missing file has zero lines.
func CountLines(path string) (int, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied audit path
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) > 0 {
			n++
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("scan %s: %w", path, err)
	}
	return n, nil
}

// ReadAll decodes every record in path.
func ReadAll(path string) ([]incident.CallRecord, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied audit path
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var out []incident.CallRecord
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec incident.CallRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
