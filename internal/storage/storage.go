// Package storage selects and opens the wallet store and the compact
// block cache from configuration.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Abdullah1738/juno-sync/internal/cache"
	"github.com/Abdullah1738/juno-sync/internal/cache/fsblock"
	cacherocksdb "github.com/Abdullah1738/juno-sync/internal/cache/rocksdb"
	"github.com/Abdullah1738/juno-sync/internal/wallet"
	"github.com/Abdullah1738/juno-sync/internal/wallet/postgres"
	"github.com/Abdullah1738/juno-sync/internal/wallet/rocksdb"
)

type Config struct {
	Driver string

	DSN    string
	Schema string
	Path   string
}

func Open(ctx context.Context, cfg Config) (wallet.Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "rocksdb":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("storage: db path is required for rocksdb")
		}
		return rocksdb.Open(cfg.Path)
	case "postgres":
		return postgres.Open(ctx, cfg.DSN, cfg.Schema)
	case "mysql":
		return openMySQL(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", cfg.Driver)
	}
}

type CacheConfig struct {
	Driver string

	Path      string
	BlocksDir string
}

func OpenCache(cfg CacheConfig) (cache.Cache, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "rocksdb":
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("storage: cache path is required for rocksdb")
		}
		return cacherocksdb.Open(cfg.Path)
	case "fsblock":
		if strings.TrimSpace(cfg.BlocksDir) == "" {
			return nil, errors.New("storage: blocks dir is required for fsblock")
		}
		if strings.TrimSpace(cfg.Path) == "" {
			return nil, errors.New("storage: cache path is required for the fsblock metadata index")
		}
		return fsblock.Open(cfg.BlocksDir, cfg.Path)
	default:
		return nil, fmt.Errorf("storage: unknown cache driver %q", cfg.Driver)
	}
}
