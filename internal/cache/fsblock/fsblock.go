// Package fsblock implements the compact block cache as one file per
// block in a blocks directory, located through a Pebble metadata index
// row per height (hash, time, output and spend counts). The index lets
// the cache answer height queries without opening block files.
package fsblock

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/Abdullah1738/juno-sync/internal/cache"
	"github.com/Abdullah1738/juno-sync/internal/compact"
)

var metaPrefix = []byte("cbm/")

type Cache struct {
	mu        sync.Mutex
	db        *pebble.DB
	blocksDir string
}

// metaRecord is the per-height index row.
type metaRecord struct {
	Height       uint64 `json:"height"`
	Hash         string `json:"hash"`
	Time         uint32 `json:"time"`
	OutputsCount uint32 `json:"outputs_count"`
	SpendsCount  uint32 `json:"spends_count"`
}

func Open(blocksDir, indexPath string) (*Cache, error) {
	if blocksDir == "" {
		return nil, errors.New("fsblock: blocks dir is required")
	}
	if indexPath == "" {
		return nil, errors.New("fsblock: index path is required")
	}
	if err := os.MkdirAll(blocksDir, 0o755); err != nil {
		return nil, fmt.Errorf("fsblock: mkdir blocks dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(indexPath), 0o755); err != nil {
		return nil, fmt.Errorf("fsblock: mkdir index dir: %w", err)
	}

	db, err := pebble.Open(indexPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("fsblock: open index: %w", err)
	}
	return &Cache{db: db, blocksDir: blocksDir}, nil
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

// PutBatch writes each block's file, then commits the whole metadata
// batch as one atomic unit. If the commit fails and releasing the batch
// also fails, the index can no longer be trusted and the process aborts.
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
			return errors.New("fsblock: nil block in batch")
		}
		hash, err := b.BlockHash()
		if err != nil {
			return err
		}

		data, err := compact.Encode(b)
		if err != nil {
			return err
		}
		if err := os.WriteFile(c.blockFilePath(b.Height, hash), data, 0o644); err != nil {
			return fmt.Errorf("fsblock: write block %d: %w", b.Height, err)
		}

		rec := metaRecord{
			Height:       b.Height,
			Hash:         hex.EncodeToString(hash),
			Time:         b.Time,
			OutputsCount: countOutputs(b),
			SpendsCount:  countSpends(b),
		}
		v, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("fsblock: encode meta %d: %w", b.Height, err)
		}
		if err := batch.Set(keyMeta(b.Height), v, pebble.NoSync); err != nil {
			return fmt.Errorf("fsblock: set meta %d: %w", b.Height, err)
		}
	}

	if err := batch.Commit(pebble.NoSync); err != nil {
		if cerr := batch.Close(); cerr != nil {
			log.Fatalf("fsblock: releasing batch failed with %v while recovering from commit error %v; metadata index is likely corrupt", cerr, err)
		}
		return fmt.Errorf("fsblock: commit meta batch: %w", err)
	}
	return nil
}

func (c *Cache) LowestHeight(ctx context.Context) (uint64, bool, error) {
	_ = ctx

	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: metaPrefix,
		UpperBound: prefixUpperBound(metaPrefix),
	})
	if err != nil {
		return 0, false, fmt.Errorf("fsblock: iter: %w", err)
	}
	defer iter.Close()

	if !iter.First() {
		if err := iter.Error(); err != nil {
			return 0, false, fmt.Errorf("fsblock: lowest height: %w", err)
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
		LowerBound: metaPrefix,
		UpperBound: prefixUpperBound(metaPrefix),
	})
	if err != nil {
		return 0, false, fmt.Errorf("fsblock: iter: %w", err)
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
		return 0, false, fmt.Errorf("fsblock: max contiguous height: %w", err)
	}
	return max, found, nil
}

func (c *Cache) ForEach(ctx context.Context, lastScanned uint64, limit int, fn func(*compact.Block) error) error {
	lower := make([]byte, 0, len(metaPrefix)+20)
	lower = append(lower, metaPrefix...)
	lower = appendUint64Fixed20(lower, lastScanned+1)

	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(metaPrefix),
	})
	if err != nil {
		return fmt.Errorf("fsblock: iter: %w", err)
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

		var rec metaRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("fsblock: decode meta: %w", err)
		}
		hash, err := hex.DecodeString(rec.Hash)
		if err != nil {
			return fmt.Errorf("fsblock: meta hash at height %d: %w", rec.Height, err)
		}

		data, err := os.ReadFile(c.blockFilePath(rec.Height, hash))
		if err != nil {
			return fmt.Errorf("fsblock: read block %d: %w", rec.Height, err)
		}
		block, err := compact.Decode(data)
		if err != nil {
			return fmt.Errorf("%w: height %d: %v", cache.ErrDecode, rec.Height, err)
		}
		if block.Height != rec.Height {
			return fmt.Errorf("%w: block height %d, row height %d", cache.ErrHeightMismatch, block.Height, rec.Height)
		}

		if err := fn(block); err != nil {
			return err
		}
		seen++
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("fsblock: traverse: %w", err)
	}
	return nil
}

func (c *Cache) TruncateAbove(ctx context.Context, height uint64) error {
	_ = ctx

	c.mu.Lock()
	defer c.mu.Unlock()

	lower := make([]byte, 0, len(metaPrefix)+20)
	lower = append(lower, metaPrefix...)
	lower = appendUint64Fixed20(lower, height+1)

	// Collect file paths before dropping the index rows that locate them.
	var paths []string
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(metaPrefix),
	})
	if err != nil {
		return fmt.Errorf("fsblock: iter: %w", err)
	}
	for iter.First(); iter.Valid(); iter.Next() {
		var rec metaRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			_ = iter.Close()
			return fmt.Errorf("fsblock: decode meta: %w", err)
		}
		hash, err := hex.DecodeString(rec.Hash)
		if err != nil {
			_ = iter.Close()
			return fmt.Errorf("fsblock: meta hash at height %d: %w", rec.Height, err)
		}
		paths = append(paths, c.blockFilePath(rec.Height, hash))
	}
	if err := iter.Error(); err != nil {
		_ = iter.Close()
		return fmt.Errorf("fsblock: truncate iter: %w", err)
	}
	_ = iter.Close()

	batch := c.db.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(lower, prefixUpperBound(metaPrefix), pebble.NoSync); err != nil {
		return fmt.Errorf("fsblock: truncate: %w", err)
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("fsblock: truncate commit: %w", err)
	}

	// Orphaned files are harmless; remove best-effort once the index no
	// longer references them.
	for _, p := range paths {
		_ = os.Remove(p)
	}
	return nil
}

func (c *Cache) blockFilePath(height uint64, hash []byte) string {
	return filepath.Join(c.blocksDir, fmt.Sprintf("%d-%x-compactblock", height, hash))
}

func countOutputs(b *compact.Block) uint32 {
	var n uint32
	for _, tx := range b.Tx {
		n += uint32(len(tx.Outputs))
	}
	return n
}

func countSpends(b *compact.Block) uint32 {
	var n uint32
	for _, tx := range b.Tx {
		n += uint32(len(tx.Spends))
	}
	return n
}

func keyMeta(height uint64) []byte {
	b := make([]byte, 0, len(metaPrefix)+20)
	b = append(b, metaPrefix...)
	return appendUint64Fixed20(b, height)
}

func heightFromKey(key []byte) (uint64, error) {
	if len(key) != len(metaPrefix)+20 {
		return 0, errors.New("fsblock: malformed meta key")
	}
	n, err := strconv.ParseUint(string(key[len(metaPrefix):]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("fsblock: meta key height: %w", err)
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
