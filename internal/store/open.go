package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/bsmeter/internal/cache"
	"github.com/ppiankov/bsmeter/internal/model"
)

// Open builds the configured store, with a hot cache in front when enabled
func Open(ctx context.Context, cfg model.StoreConfig, logger *zap.Logger) (Store, error) {
	path, err := ExpandHome(cfg.Path)
	if err != nil {
		return nil, err
	}

	var s Store
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		if path == "" {
			return nil, fmt.Errorf("store.path is required for sqlite")
		}
		s, err = OpenSQLite(ctx, path, logger)
	case "postgres", "postgresql", "pgx":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store.dsn is required for postgres")
		}
		s, err = OpenPostgres(ctx, cfg.DSN, logger)
	case "file":
		if path == "" {
			return nil, fmt.Errorf("store.path is required for the file store")
		}
		s, err = OpenFileStore(path, logger)
	default:
		return nil, fmt.Errorf("unknown store driver: %q (supported: sqlite, postgres, file)", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if cfg.HotCache > 0 {
		s = NewCached(s, cache.NewMemoryCache(cfg.HotCache, 0))
	}
	return s, nil
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("error finding home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
