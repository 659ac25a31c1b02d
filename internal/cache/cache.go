// Package cache defines the compact block cache: an append-only,
// height-keyed store of encoded compact blocks that the validator and
// scanner traverse. Two backends implement it: a pebble blob store and a
// filesystem store with a metadata index.
package cache

import (
	"context"
	"errors"

	"github.com/Abdullah1738/juno-sync/internal/compact"
)

var (
	// ErrHeightMismatch reports a row whose stored height key disagrees
	// with the height recovered from its decoded payload.
	ErrHeightMismatch = errors.New("cache: stored height does not match decoded block")

	// ErrDecode reports a row payload that could not be decoded.
	ErrDecode = errors.New("cache: block payload did not decode")
)

type Cache interface {
	Close() error

	// Put appends or overwrites the entry for block.Height.
	Put(ctx context.Context, block *compact.Block) error

	// PutBatch stores a batch of blocks as a single atomic unit: either
	// every entry commits or none do.
	PutBatch(ctx context.Context, blocks []*compact.Block) error

	// LowestHeight returns the lowest cached height, or ok=false when the
	// cache is empty.
	LowestHeight(ctx context.Context) (uint64, bool, error)

	// MaxContiguousHeight returns the greatest height H such that every
	// height from the cache floor up to H has a stored block. ok=false
	// when the cache is empty.
	MaxContiguousHeight(ctx context.Context) (uint64, bool, error)

	// ForEach traverses cached blocks with height strictly greater than
	// lastScanned in ascending height order, decoding each row and
	// invoking fn exactly once per block. At most limit blocks are
	// visited; limit <= 0 means unbounded. Each row's decoded height is
	// checked against its stored key before fn runs; a mismatch stops the
	// traversal with ErrHeightMismatch. Errors from fn stop the traversal
	// and propagate unchanged.
	ForEach(ctx context.Context, lastScanned uint64, limit int, fn func(*compact.Block) error) error

	// TruncateAbove removes every cached block with height strictly
	// greater than the given height, so untrusted rows can be refetched.
	TruncateAbove(ctx context.Context, height uint64) error
}
