package app

import (
	"context"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/shelf-sync/internal/config"
	"github.com/example/shelf-sync/internal/metadata"
	"github.com/example/shelf-sync/internal/remote"
)

func testConfig() config.Config {
	return config.Config{
		RemoteBackend:     config.BackendHTTP,
		RemoteURL:         "http://127.0.0.1:1",
		MetadataProvider:  config.ProviderOpenLibrary,
		MetadataCacheSize: 16,
		CachePath:         MemoryCachePath,
	}
}

func TestNewWiresDefaults(t *testing.T) {
	a, err := New(context.Background(), testConfig(), zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	defer a.Close()

	if a.DeviceID == "" {
		t.Fatalf("expected generated device id")
	}
	if _, ok := a.Provider.(*metadata.Cached); !ok {
		t.Fatalf("expected cached provider, got %T", a.Provider)
	}
	if _, ok := a.Remote.(*remote.Instrumented); !ok {
		t.Fatalf("expected instrumented remote, got %T", a.Remote)
	}
	if a.Notifier != nil || a.Resources.Redis != nil {
		t.Fatalf("notifications should be off by default")
	}
	if a.Store.Len() != 0 {
		t.Fatalf("expected empty collection")
	}
}

func TestNewOpensBadgerCache(t *testing.T) {
	cfg := testConfig()
	cfg.CachePath = t.TempDir()
	cfg.MetadataCacheSize = 0

	a, err := New(context.Background(), cfg, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, ok := a.Provider.(*metadata.OpenLibrary); !ok {
		t.Fatalf("expected bare provider without cache, got %T", a.Provider)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
