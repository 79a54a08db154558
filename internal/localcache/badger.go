package localcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/example/shelf-sync/internal/types"
)

// Badger is a Cache backed by an embedded Badger database.
type Badger struct {
	db     *badger.DB
	logger zerolog.Logger
}

// OpenBadger opens (or creates) the cache at path. An empty path opens an
// in-memory database.
func OpenBadger(path string, logger zerolog.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	} else {
		opts.SyncWrites = true
		opts.CompactL0OnClose = true
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	logger.Debug().Str("path", path).Msg("local cache opened")
	return &Badger{db: db, logger: logger}, nil
}

// LoadBooks implements Cache.
func (c *Badger) LoadBooks(_ context.Context) ([]types.BookRecord, error) {
	var books []types.BookRecord
	if err := c.get(BooksKey, &books); err != nil {
		return nil, fmt.Errorf("load books: %w", err)
	}
	return books, nil
}

// SaveBooks implements Cache.
func (c *Badger) SaveBooks(_ context.Context, books []types.BookRecord) error {
	if books == nil {
		books = []types.BookRecord{}
	}
	if err := c.set(BooksKey, books); err != nil {
		return fmt.Errorf("save books: %w", err)
	}
	return nil
}

// LoadSettings implements Cache.
func (c *Badger) LoadSettings(_ context.Context) (types.SyncSettings, error) {
	var settings types.SyncSettings
	if err := c.get(SettingsKey, &settings); err != nil {
		return types.SyncSettings{}, fmt.Errorf("load sync settings: %w", err)
	}
	return settings, nil
}

// SaveSettings implements Cache.
func (c *Badger) SaveSettings(_ context.Context, settings types.SyncSettings) error {
	if err := c.set(SettingsKey, settings); err != nil {
		return fmt.Errorf("save sync settings: %w", err)
	}
	return nil
}

// Close flushes and closes the database.
func (c *Badger) Close() error {
	return c.db.Close()
}

// get decodes the value under key into dest; a missing key leaves dest
// untouched.
func (c *Badger) get(key string, dest any) error {
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, dest)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (c *Badger) set(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}
