// Package localcache persists the full book collection and the sync settings
// on the device.
package localcache

import (
	"context"

	"github.com/example/shelf-sync/internal/types"
)

// Fixed keys of the persisted layout.
const (
	BooksKey    = "shelf:books"
	SettingsKey = "shelf:sync"
)

// Cache is the durable device-local store.
type Cache interface {
	LoadBooks(ctx context.Context) ([]types.BookRecord, error)
	SaveBooks(ctx context.Context, books []types.BookRecord) error
	LoadSettings(ctx context.Context) (types.SyncSettings, error)
	SaveSettings(ctx context.Context, settings types.SyncSettings) error
	Close() error
}
