// Package chain checks hash-chain continuity between the wallet's scanned
// history and the block cache, and within the cache itself. Validation is
// advisory: it mutates nothing and reports where continuity first breaks
// so the caller can purge and refetch.
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/Abdullah1738/juno-sync/internal/cache"
	"github.com/Abdullah1738/juno-sync/internal/compact"
	"github.com/Abdullah1738/juno-sync/internal/wallet"
)

// InvalidChainError reports the first height at which the cache stops
// being a well-linked extension of the wallet's history. Everything at or
// above Height is untrustworthy and must be discarded and refetched.
type InvalidChainError struct {
	Height uint64
}

func (e *InvalidChainError) Error() string {
	return fmt.Sprintf("chain: invalid chain at height %d; blocks at or above this height must be refetched", e.Height)
}

// Validate walks the cache from just above the wallet tip (or from the
// cache's lowest height when tip is nil) up to the cache's maximum
// contiguous height, checking that each block's prev_hash matches its
// predecessor's hash. For the first visited block the predecessor is the
// wallet tip itself, when present. An empty cache, or a cache entirely at
// or below the tip, is valid.
func Validate(ctx context.Context, c cache.Cache, tip *wallet.Checkpoint) error {
	maxHeight, ok, err := c.MaxContiguousHeight(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var from uint64
	var prevHash []byte
	if tip != nil {
		if maxHeight <= tip.Height {
			return nil
		}
		from = tip.Height
		prevHash, err = hex.DecodeString(tip.Hash)
		if err != nil {
			return fmt.Errorf("chain: wallet tip hash: %w", err)
		}
	} else {
		lowest, ok, err := c.LowestHeight(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		// lowest-1 wraps when lowest is zero; ForEach's lower bound adds
		// one back, so the walk still starts at genesis.
		from = lowest - 1
	}

	limit := int(maxHeight - from)
	err = c.ForEach(ctx, from, limit, func(b *compact.Block) error {
		hash, err := b.BlockHash()
		if err != nil {
			return err
		}
		if prevHash != nil {
			prev, err := b.PrevBlockHash()
			if err != nil {
				return err
			}
			if !bytes.Equal(prev, prevHash) {
				return &InvalidChainError{Height: b.Height}
			}
		}
		prevHash = hash
		return nil
	})
	return err
}
