// Package rocksdb implements the compact block cache on a RocksDB-style
// (Pebble) store: one row per height, keyed by a fixed-width decimal
// height so iteration order is height order.
package rocksdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/Abdullah1738/juno-sync/internal/cache"
	"github.com/Abdullah1738/juno-sync/internal/compact"
)

var blockPrefix = []byte("cb/")

type Cache struct {
	mu sync.Mutex
	db *pebble.DB
}

func Open(path string) (*Cache, error) {
	if path == "" {
		return nil, errors.New("rocksdb: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("rocksdb: mkdir: %w", err)
	}

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("rocksdb: open: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *Cache) Put(ctx context.Context, block *compact.Block) error {
	return c.PutBatch(ctx, []*compact.Block{block})
}

func (c *Cache) PutBatch(ctx context.Context, blocks []*compact.Block) error {
	_ = ctx

	if len(blocks) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	batch := c.db.NewBatch()
	defer batch.Close()

	for _, b := range blocks {
		if b == nil {
			return errors.New("rocksdb: nil block in batch")
		}
		data, err := compact.Encode(b)
		if err != nil {
			return err
		}
		if err := batch.Set(keyBlock(b.Height), data, pebble.NoSync); err != nil {
			return fmt.Errorf("rocksdb: set block %d: %w", b.Height, err)
		}
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: commit: %w", err)
	}
	return nil
}

func (c *Cache) LowestHeight(ctx context.Context) (uint64, bool, error) {
	_ = ctx

	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: blockPrefix,
		UpperBound: prefixUpperBound(blockPrefix),
	})
	if err != nil {
		return 0, false, fmt.Errorf("rocksdb: iter: %w", err)
	}
	defer iter.Close()

	if !iter.First() {
		if err := iter.Error(); err != nil {
			return 0, false, fmt.Errorf("rocksdb: lowest height: %w", err)
		}
		return 0, false, nil
	}
	h, err := heightFromKey(iter.Key())
	if err != nil {
		return 0, false, err
	}
	return h, true, nil
}

func (c *Cache) MaxContiguousHeight(ctx context.Context) (uint64, bool, error) {
	_ = ctx

	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: blockPrefix,
		UpperBound: prefixUpperBound(blockPrefix),
	})
	if err != nil {
		return 0, false, fmt.Errorf("rocksdb: iter: %w", err)
	}
	defer iter.Close()

	found := false
	var max uint64
	for iter.First(); iter.Valid(); iter.Next() {
		h, err := heightFromKey(iter.Key())
		if err != nil {
			return 0, false, err
		}
		if found && h != max+1 {
			break
		}
		max = h
		found = true
	}
	if err := iter.Error(); err != nil {
		return 0, false, fmt.Errorf("rocksdb: max contiguous height: %w", err)
	}
	return max, found, nil
}

func (c *Cache) ForEach(ctx context.Context, lastScanned uint64, limit int, fn func(*compact.Block) error) error {
	lower := make([]byte, 0, len(blockPrefix)+20)
	lower = append(lower, blockPrefix...)
	lower = appendUint64Fixed20(lower, lastScanned+1)

	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(blockPrefix),
	})
	if err != nil {
		return fmt.Errorf("rocksdb: iter: %w", err)
	}
	defer iter.Close()

	seen := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if limit > 0 && seen >= limit {
			break
		}

		rowHeight, err := heightFromKey(iter.Key())
		if err != nil {
			return err
		}
		block, err := compact.Decode(iter.Value())
		if err != nil {
			return fmt.Errorf("%w: height %d: %v", cache.ErrDecode, rowHeight, err)
		}
		if block.Height != rowHeight {
			return fmt.Errorf("%w: block height %d, row height %d", cache.ErrHeightMismatch, block.Height, rowHeight)
		}

		if err := fn(block); err != nil {
			return err
		}
		seen++
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("rocksdb: traverse: %w", err)
	}
	return nil
}

func (c *Cache) TruncateAbove(ctx context.Context, height uint64) error {
	_ = ctx

	c.mu.Lock()
	defer c.mu.Unlock()

	lower := make([]byte, 0, len(blockPrefix)+20)
	lower = append(lower, blockPrefix...)
	lower = appendUint64Fixed20(lower, height+1)

	batch := c.db.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(lower, prefixUpperBound(blockPrefix), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: truncate: %w", err)
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: truncate commit: %w", err)
	}
	return nil
}

func keyBlock(height uint64) []byte {
	b := make([]byte, 0, len(blockPrefix)+20)
	b = append(b, blockPrefix...)
	return appendUint64Fixed20(b, height)
}

func heightFromKey(key []byte) (uint64, error) {
	if len(key) != len(blockPrefix)+20 {
		return 0, errors.New("rocksdb: malformed block key")
	}
	n, err := strconv.ParseUint(string(key[len(blockPrefix):]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("rocksdb: block key height: %w", err)
	}
	return n, nil
}

func appendUint64Fixed20(dst []byte, n uint64) []byte {
	var buf [20]byte
	for i := 19; i >= 0; i-- {
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return append(dst, buf[:]...)
}

func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte{}, prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return []byte{0xFF}
}
