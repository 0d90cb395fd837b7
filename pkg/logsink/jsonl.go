package logsink

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/odvcencio/appbridge/pkg/logs"
)

// DefaultInstanceName names the file of single-instance runs.
const DefaultInstanceName = "default"

// JSONL appends records as JSON lines, one file per instance.
type JSONL struct {
	dir   string
	mu    sync.Mutex
	files map[string]*os.File
}

// NewJSONL creates dir if needed. Files are opened on first write.
func NewJSONL(dir string) (*JSONL, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &JSONL{dir: dir, files: make(map[string]*os.File)}, nil
}

// Path returns the file an instance's records go to.
func (j *JSONL) Path(instance string) string {
	return filepath.Join(j.dir, fileName(instance)+".jsonl")
}

func (j *JSONL) Write(_ context.Context, batch []logs.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	pending := make(map[string][]byte)
	var order []string
	for _, r := range batch {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		if _, ok := pending[r.Instance]; !ok {
			order = append(order, r.Instance)
		}
		pending[r.Instance] = append(append(pending[r.Instance], data...), '\n')
	}

	for _, instance := range order {
		f, err := j.file(instance)
		if err != nil {
			return err
		}
		if _, err := f.Write(pending[instance]); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Name(), err)
		}
	}
	return nil
}

func (j *JSONL) file(instance string) (*os.File, error) {
	if f, ok := j.files[instance]; ok {
		return f, nil
	}
	f, err := os.OpenFile(j.Path(instance), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open instance log: %w", err)
	}
	j.files[instance] = f
	return f, nil
}

// Close closes every open file.
func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var errs []error
	for name, f := range j.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(j.files, name)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing log files: %w", errors.Join(errs...))
	}
	return nil
}

// ReadRecords decodes a JSONL file written by this sink. Malformed lines
// are skipped.
func ReadRecords(path string) ([]logs.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer f.Close()

	var out []logs.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var r logs.Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, scanner.Err()
}

func fileName(instance string) string {
	if instance == "" {
		return DefaultInstanceName
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, instance)
}
