package fsblock

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Abdullah1738/juno-sync/internal/compact"
)

func openTestCache(t *testing.T) (*Cache, string) {
	t.Helper()
	dir := t.TempDir()
	blocksDir := filepath.Join(dir, "blocks")
	c, err := Open(blocksDir, filepath.Join(dir, "index"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, blocksDir
}

func testBlock(height uint64) *compact.Block {
	hash := sha256.Sum256([]byte(fmt.Sprintf("block-%d", height)))
	prev := sha256.Sum256([]byte(fmt.Sprintf("block-%d", height-1)))
	return &compact.Block{
		Height:   height,
		Hash:     hash[:],
		PrevHash: prev[:],
		Time:     uint32(1700000000 + height),
	}
}

func blockFileName(b *compact.Block) string {
	return fmt.Sprintf("%d-%x-compactblock", b.Height, b.Hash)
}

func TestCache_FilesAndIndexStayConsistent(t *testing.T) {
	ctx := context.Background()
	c, blocksDir := openTestCache(t)

	var blocks []*compact.Block
	for h := uint64(50); h < 54; h++ {
		blocks = append(blocks, testBlock(h))
	}
	if err := c.PutBatch(ctx, blocks); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	// One file per block, named by height and hash.
	for _, b := range blocks {
		if _, err := os.Stat(filepath.Join(blocksDir, blockFileName(b))); err != nil {
			t.Fatalf("missing block file for height %d: %v", b.Height, err)
		}
	}
	entries, err := os.ReadDir(blocksDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != len(blocks) {
		t.Fatalf("expected %d block files, found %d", len(blocks), len(entries))
	}

	low, ok, err := c.LowestHeight(ctx)
	if err != nil || !ok || low != 50 {
		t.Fatalf("LowestHeight = %d ok=%v err=%v, want 50", low, ok, err)
	}
	max, ok, err := c.MaxContiguousHeight(ctx)
	if err != nil || !ok || max != 53 {
		t.Fatalf("MaxContiguousHeight = %d ok=%v err=%v, want 53", max, ok, err)
	}

	var seen []uint64
	if err := c.ForEach(ctx, 50, 0, func(b *compact.Block) error {
		seen = append(seen, b.Height)
		return nil
	}); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(seen) != 3 || seen[0] != 51 || seen[2] != 53 {
		t.Fatalf("unexpected traversal: %v", seen)
	}
}

func TestCache_TruncateAboveRemovesFiles(t *testing.T) {
	ctx := context.Background()
	c, blocksDir := openTestCache(t)

	var blocks []*compact.Block
	for h := uint64(0); h < 5; h++ {
		blocks = append(blocks, testBlock(h))
	}
	if err := c.PutBatch(ctx, blocks); err != nil {
		t.Fatalf("PutBatch: %v", err)
	}

	if err := c.TruncateAbove(ctx, 2); err != nil {
		t.Fatalf("TruncateAbove: %v", err)
	}

	max, ok, err := c.MaxContiguousHeight(ctx)
	if err != nil || !ok || max != 2 {
		t.Fatalf("after truncate: max=%d ok=%v err=%v, want 2", max, ok, err)
	}
	for _, b := range blocks {
		_, err := os.Stat(filepath.Join(blocksDir, blockFileName(b)))
		if b.Height <= 2 && err != nil {
			t.Fatalf("kept block file %d missing: %v", b.Height, err)
		}
		if b.Height > 2 && !os.IsNotExist(err) {
			t.Fatalf("truncated block file %d still present (err=%v)", b.Height, err)
		}
	}

	var seen int
	if err := c.ForEach(ctx, 2, 0, func(*compact.Block) error {
		seen++
		return nil
	}); err != nil {
		t.Fatalf("ForEach after truncate: %v", err)
	}
	if seen != 0 {
		t.Fatalf("expected no blocks above 2, saw %d", seen)
	}
}

func TestCache_OverwriteReplacesIndexRow(t *testing.T) {
	ctx := context.Background()
	c, blocksDir := openTestCache(t)

	orig := testBlock(9)
	if err := c.Put(ctx, orig); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Same height, different hash: the index row now locates the new file.
	replacement := testBlock(9)
	newHash := sha256.Sum256([]byte("fork-block-9"))
	replacement.Hash = newHash[:]
	if err := c.Put(ctx, replacement); err != nil {
		t.Fatalf("Put replacement: %v", err)
	}

	if _, err := os.Stat(filepath.Join(blocksDir, blockFileName(replacement))); err != nil {
		t.Fatalf("replacement file missing: %v", err)
	}

	if err := c.ForEach(ctx, 8, 1, func(b *compact.Block) error {
		if fmt.Sprintf("%x", b.Hash) != fmt.Sprintf("%x", replacement.Hash) {
			t.Fatalf("traversal returned stale block %x", b.Hash)
		}
		return nil
	}); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
}
