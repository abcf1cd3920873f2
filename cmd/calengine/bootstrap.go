package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cyp0633/calengine/document"
	"github.com/cyp0633/calengine/engine"
	"github.com/cyp0633/calengine/storage"
	"github.com/cyp0633/calengine/storage/memory"
	"github.com/cyp0633/calengine/storage/sqlite"
	"github.com/google/uuid"
)

// openStore creates the configured backend. The returned close function is
// never nil.
func openStore(cfg StoreConfig) (storage.Storage, func() error, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store %s: %w", cfg.Path, err)
		}
		return s, s.Close, nil
	default:
		return memory.New(), func() error { return nil }, nil
	}
}

// setup opens the store, builds the engine and creates the configured
// collections, importing their .ics directories.
func setup(ctx context.Context, cfg *Config, logger *slog.Logger) (*engine.Engine, func() error, error) {
	loc, err := document.SystemResolver.Resolve(cfg.Timezone)
	if err != nil {
		return nil, nil, err
	}
	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return nil, nil, err
	}

	e := engine.New(store,
		engine.WithLogger(logger),
		engine.WithDefaultZone(loc),
		engine.WithMaxIterations(cfg.MaxIterations),
		engine.WithConcurrency(cfg.Concurrency),
		engine.WithLenientDepth(cfg.LenientDepth),
	)

	for _, col := range cfg.Collections {
		err := e.CreateCollection(ctx, &storage.Collection{
			Href:                col.Href,
			DisplayName:         col.DisplayName,
			Timezone:            col.Timezone,
			SupportedComponents: col.Components,
		})
		switch {
		case errors.Is(err, storage.ErrConflict):
			logger.Debug("collection already exists", "href", col.Href)
		case err != nil:
			_ = closeStore()
			return nil, nil, fmt.Errorf("create collection %s: %w", col.Href, err)
		}

		if col.Import == "" {
			continue
		}
		n, err := importDir(ctx, e, col.Href, col.Import, logger)
		if err != nil {
			_ = closeStore()
			return nil, nil, err
		}
		logger.Info("imported calendar objects",
			"collection", col.Href,
			"dir", col.Import,
			"count", n)
	}

	return e, closeStore, nil
}

// importHref derives a stable object href for a file so that re-importing
// into a persistent store replaces instead of duplicating.
func importHref(collection, name string) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(collection+name))
	return collection + id.String() + ".ics"
}

// importDir stores every .ics file in dir into collection. Files the engine
// rejects are logged and skipped.
func importDir(ctx context.Context, e *engine.Engine, collection, dir string, logger *slog.Logger) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read import dir %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	imported := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".ics") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return imported, err
		}
		href := importHref(collection, entry.Name())
		if _, err := e.Put(ctx, href, data, "text/calendar"); err != nil {
			logger.Warn("skipping calendar file",
				"file", entry.Name(),
				"collection", collection,
				"error", err)
			continue
		}
		imported++
	}
	return imported, nil
}
