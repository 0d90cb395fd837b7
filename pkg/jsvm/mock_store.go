package jsvm

import (
	"encoding/json"
	"sync"
)

// MockConfig replaces a command's behavior. Implementation, when set, is
// JavaScript function source called with the command arguments; otherwise
// ReturnValue is returned as is.
type MockConfig struct {
	Command        string          `json:"command"`
	ReturnValue    json.RawMessage `json:"return_value,omitempty"`
	Implementation string          `json:"implementation,omitempty"`
}

// MockStore holds command mocks for one runtime.
type MockStore struct {
	mu    sync.RWMutex
	mocks map[string]MockConfig
}

// NewMockStore creates an empty store.
func NewMockStore() *MockStore {
	return &MockStore{mocks: make(map[string]MockConfig)}
}

func (s *MockStore) Set(command string, cfg MockConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Command == "" {
		cfg.Command = command
	}
	s.mocks[command] = cfg
}

func (s *MockStore) Get(command string) (MockConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.mocks[command]
	return cfg, ok
}

// Clear removes every mock.
func (s *MockStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mocks = make(map[string]MockConfig)
}

// Reset removes every mock. Go command handlers are never replaced, so
// there are no originals to restore and reset equals clear.
func (s *MockStore) Reset() {
	s.Clear()
}

// Len reports the number of active mocks.
func (s *MockStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mocks)
}
