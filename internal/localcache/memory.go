package localcache

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/example/shelf-sync/internal/types"
)

// Memory is an ephemeral Cache. Values are stored serialized so callers get
// the same copy semantics as the durable backend.
type Memory struct {
	mu     sync.Mutex
	values map[string][]byte
	// Saves counts SaveBooks calls.
	Saves int
}

// NewMemory constructs an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{values: make(map[string][]byte)}
}

// LoadBooks implements Cache.
func (m *Memory) LoadBooks(context.Context) ([]types.BookRecord, error) {
	var books []types.BookRecord
	return books, m.get(BooksKey, &books)
}

// SaveBooks implements Cache.
func (m *Memory) SaveBooks(_ context.Context, books []types.BookRecord) error {
	m.mu.Lock()
	m.Saves++
	m.mu.Unlock()
	return m.set(BooksKey, books)
}

// LoadSettings implements Cache.
func (m *Memory) LoadSettings(context.Context) (types.SyncSettings, error) {
	var settings types.SyncSettings
	return settings, m.get(SettingsKey, &settings)
}

// SaveSettings implements Cache.
func (m *Memory) SaveSettings(_ context.Context, settings types.SyncSettings) error {
	return m.set(SettingsKey, settings)
}

// Close implements Cache.
func (m *Memory) Close() error { return nil }

func (m *Memory) get(key string, dest any) error {
	m.mu.Lock()
	data, ok := m.values[key]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return json.Unmarshal(data, dest)
}

func (m *Memory) set(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.values[key] = data
	m.mu.Unlock()
	return nil
}
