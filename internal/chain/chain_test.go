package chain_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/Abdullah1738/juno-sync/internal/cache/rocksdb"
	"github.com/Abdullah1738/juno-sync/internal/chain"
	"github.com/Abdullah1738/juno-sync/internal/compact"
	"github.com/Abdullah1738/juno-sync/internal/wallet"
)

func hashAt(height uint64) []byte {
	sum := sha256.Sum256([]byte(fmt.Sprintf("chain-block-%d", height)))
	return sum[:]
}

func linkedBlocks(start uint64, n int) []*compact.Block {
	blocks := make([]*compact.Block, 0, n)
	for i := 0; i < n; i++ {
		h := start + uint64(i)
		blocks = append(blocks, &compact.Block{
			Height:   h,
			Hash:     hashAt(h),
			PrevHash: hashAt(h - 1),
			Time:     uint32(1700000000 + h),
		})
	}
	return blocks
}

func openCache(t *testing.T, blocks []*compact.Block) *rocksdb.Cache {
	t.Helper()
	c, err := rocksdb.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if len(blocks) > 0 {
		if err := c.PutBatch(context.Background(), blocks); err != nil {
			t.Fatalf("PutBatch: %v", err)
		}
	}
	return c
}

func TestValidate_EmptyCache(t *testing.T) {
	c := openCache(t, nil)
	if err := chain.Validate(context.Background(), c, nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_WellLinkedWithoutTip(t *testing.T) {
	c := openCache(t, linkedBlocks(100, 10))
	if err := chain.Validate(context.Background(), c, nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_ExtendsWalletTip(t *testing.T) {
	c := openCache(t, linkedBlocks(100, 10))
	tip := &wallet.Checkpoint{Height: 104, Hash: hex.EncodeToString(hashAt(104))}
	if err := chain.Validate(context.Background(), c, tip); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_CacheAtOrBelowTip(t *testing.T) {
	c := openCache(t, linkedBlocks(100, 5))
	// Tip already past everything in the cache: nothing to check.
	tip := &wallet.Checkpoint{Height: 104, Hash: hex.EncodeToString(hashAt(104))}
	if err := chain.Validate(context.Background(), c, tip); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	tip = &wallet.Checkpoint{Height: 200, Hash: hex.EncodeToString(hashAt(200))}
	if err := chain.Validate(context.Background(), c, tip); err != nil {
		t.Fatalf("Validate at distant tip: %v", err)
	}
}

func TestValidate_FirstBlockDisagreesWithTip(t *testing.T) {
	c := openCache(t, linkedBlocks(100, 5))
	// The wallet scanned a different branch: block 100 does not extend it.
	tip := &wallet.Checkpoint{Height: 99, Hash: hex.EncodeToString(hashAt(1000))}

	err := chain.Validate(context.Background(), c, tip)
	var inv *chain.InvalidChainError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidChainError, got %v", err)
	}
	if inv.Height != 100 {
		t.Fatalf("invalid height = %d, want 100", inv.Height)
	}
}

func TestValidate_BreakInsideCache(t *testing.T) {
	blocks := linkedBlocks(100, 10)
	// A reorg replaced block 106 with one from another branch.
	blocks[6].Hash = hashAt(2006)
	blocks[6].PrevHash = hashAt(2005)
	c := openCache(t, blocks)

	err := chain.Validate(context.Background(), c, nil)
	var inv *chain.InvalidChainError
	if !errors.As(err, &inv) {
		t.Fatalf("expected InvalidChainError, got %v", err)
	}
	if inv.Height != 106 {
		t.Fatalf("invalid height = %d, want 106", inv.Height)
	}
}

func TestValidate_StopsAtContiguityGap(t *testing.T) {
	blocks := linkedBlocks(100, 10)
	// Blocks beyond a gap are not validated; the bad link at 108 is out
	// of range once 105 is missing.
	blocks[8].PrevHash = hashAt(3007)
	withGap := append(append([]*compact.Block{}, blocks[:5]...), blocks[6:]...)
	c := openCache(t, withGap)

	if err := chain.Validate(context.Background(), c, nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
