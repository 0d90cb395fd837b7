package logsink

import (
	"context"
	"sync"

	"github.com/odvcencio/appbridge/pkg/logs"
)

// Memory keeps records in process, indexed by instance.
type Memory struct {
	mu      sync.RWMutex
	records []logs.Record
}

// NewMemory creates an empty memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Write(_ context.Context, batch []logs.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, batch...)
	return nil
}

// Records returns a copy of everything written so far.
func (m *Memory) Records() []logs.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]logs.Record(nil), m.records...)
}

// Instance returns the records of one instance, optionally narrowed to
// one source. An empty source matches both.
func (m *Memory) Instance(instance string, source logs.Source) []logs.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []logs.Record
	for _, r := range m.records {
		if r.Instance != instance {
			continue
		}
		if source != "" && r.Source != source {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Len reports how many records were written.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Reset drops every record.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
}
