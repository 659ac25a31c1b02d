// Package rewind truncates wallet state back to a target height after a
// reorg or on request, bounded by a pruning-safety policy so a caller
// cannot discard history beyond what the block cache can re-supply.
package rewind

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Abdullah1738/juno-sync/internal/cache"
	"github.com/Abdullah1738/juno-sync/internal/compact"
	"github.com/Abdullah1738/juno-sync/internal/events"
	"github.com/Abdullah1738/juno-sync/internal/wallet"
)

// Policy bounds how far below the current checkpoint a rewind may reach.
// A rewind deeper than PruningDepth is rejected unless the target is
// exactly the designated stable checkpoint height.
type Policy struct {
	PruningDepth uint64
	StableHeight *uint64
}

// InvalidRewindError reports a rewind request that would reach below the
// safety floor, naming the nearest height the caller may rewind to.
type InvalidRewindError struct {
	SafeHeight      uint64
	RequestedHeight uint64
}

func (e *InvalidRewindError) Error() string {
	return fmt.Sprintf("rewind: requested height %d is below the safe rewind height %d", e.RequestedHeight, e.SafeHeight)
}

// ToHeight retracts every note discovered above target, reverses every
// spend applied above target, and retreats the checkpoint to target, as
// one atomic unit. Rewinding to a height at or above the checkpoint is a
// no-op.
func ToHeight(ctx context.Context, st wallet.Store, target uint64, policy Policy) error {
	cp, ok, err := st.Checkpoint(ctx)
	if err != nil {
		return err
	}
	if !ok || target >= cp.Height {
		return nil
	}

	safe := uint64(0)
	if cp.Height > policy.PruningDepth {
		safe = cp.Height - policy.PruningDepth
	}
	if target < safe && (policy.StableHeight == nil || target != *policy.StableHeight) {
		return &InvalidRewindError{SafeHeight: safe, RequestedHeight: target}
	}

	payload, err := json.Marshal(events.RewindPayload{
		Version:        "v1",
		TargetHeight:   target,
		PreviousHeight: cp.Height,
	})
	if err != nil {
		return fmt.Errorf("rewind: marshal payload: %w", err)
	}

	// The event rides in the same transaction as the retraction so the
	// outbox can never miss a rewind that was applied.
	return st.RewindToHeight(ctx, target, &wallet.Event{
		Kind:    events.KindRewind,
		Height:  target,
		Payload: payload,
	})
}

// RecoverInvalidChain rewinds the wallet and cache after the validator
// reports untrusted data starting at invalidHeight. The usual target is
// the height just below the break. When the break sits at the wallet's
// own tip the checkpointed block itself was orphaned, so rewinding to
// the tip would change nothing; instead the wallet's stored block hashes
// are walked back against the cache until they agree, and the wallet
// rewinds to that common ancestor. Returns the height rewound to.
func RecoverInvalidChain(ctx context.Context, c cache.Cache, st wallet.Store, invalidHeight uint64, policy Policy) (uint64, error) {
	target := invalidHeight - 1

	cp, ok, err := st.Checkpoint(ctx)
	if err != nil {
		return 0, err
	}
	if ok && target == cp.Height {
		target, err = commonAncestor(ctx, c, st, cp.Height)
		if err != nil {
			return 0, err
		}
	}

	if err := ToHeight(ctx, st, target, policy); err != nil {
		return 0, err
	}
	if err := c.TruncateAbove(ctx, target); err != nil {
		return 0, err
	}
	return target, nil
}

// commonAncestor walks down from the given height until the wallet's
// stored block hash matches the cache's block at the same height. When
// no stored height matches, everything the wallet scanned is off-chain
// and the ancestor falls below the cache entirely.
func commonAncestor(ctx context.Context, c cache.Cache, st wallet.Store, from uint64) (uint64, error) {
	for h := from; ; h-- {
		stored, ok, err := st.BlockHashAt(ctx, h)
		if err != nil {
			return 0, err
		}
		if ok {
			// h-1 wraps when h is zero; ForEach's lower bound adds one
			// back, so genesis is still visited.
			var cached string
			if err := c.ForEach(ctx, h-1, 1, func(b *compact.Block) error {
				if b.Height != h {
					return nil
				}
				hash, err := b.BlockHash()
				if err != nil {
					return err
				}
				cached = hex.EncodeToString(hash)
				return nil
			}); err != nil {
				return 0, err
			}
			if cached != "" && cached == stored {
				return h, nil
			}
		}
		if h == 0 {
			break
		}
	}

	// No stored block survives on the cached chain. Fall back to just
	// below the cache so the whole range is rescanned.
	lowest, ok, err := c.LowestHeight(ctx)
	if err != nil {
		return 0, err
	}
	if !ok || lowest == 0 {
		return 0, nil
	}
	return lowest - 1, nil
}
