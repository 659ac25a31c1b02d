// Package fetch polls the junocashd daemon and keeps the compact block
// cache extended to the daemon's chain tip, truncating the cache back to
// the common ancestor when the daemon reorganizes.
package fetch

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/Abdullah1738/juno-sync/internal/cache"
	"github.com/Abdullah1738/juno-sync/internal/compact"
	sdkjunocashd "github.com/Abdullah1738/juno-sdk-go/junocashd"
)

type Fetcher struct {
	c   cache.Cache
	rpc *sdkjunocashd.Client

	startHeight  uint64
	pollInterval time.Duration
	batchSize    int
}

func New(c cache.Cache, rpc *sdkjunocashd.Client, startHeight uint64, pollInterval time.Duration) (*Fetcher, error) {
	if c == nil {
		return nil, errors.New("fetch: cache is nil")
	}
	if rpc == nil {
		return nil, errors.New("fetch: rpc is nil")
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Fetcher{
		c:            c,
		rpc:          rpc,
		startHeight:  startHeight,
		pollInterval: pollInterval,
		batchSize:    100,
	}, nil
}

func (f *Fetcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		if err := f.FetchOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// FetchOnce advances the cache toward the daemon tip by at most one batch
// of blocks, handling at most one reorg.
func (f *Fetcher) FetchOnce(ctx context.Context) error {
	tip, ok, err := f.c.MaxContiguousHeight(ctx)
	if err != nil {
		return err
	}

	chainHeight, err := f.rpc.GetBlockCount(ctx)
	if err != nil {
		return fmt.Errorf("fetch: getblockcount: %w", err)
	}
	if chainHeight < 0 {
		return nil
	}

	nextHeight := f.startHeight
	if ok {
		nextHeight = tip + 1
	}
	if nextHeight > uint64(chainHeight) {
		return nil
	}

	// Reorg detection: compare the cached tip with the daemon chain at the
	// same height before extending.
	if ok {
		cachedHash, found, err := f.hashAtHeight(ctx, tip)
		if err != nil {
			return err
		}
		if found {
			daemonTipHash, err := f.rpc.GetBlockHash(ctx, int64(tip))
			if err == nil && daemonTipHash != cachedHash {
				common, err := f.findCommonAncestor(ctx, tip)
				if err != nil {
					return err
				}
				log.Printf("fetch: reorg detected, truncating cache to height %d", common)
				if err := f.c.TruncateAbove(ctx, common); err != nil {
					return err
				}
				return nil
			}
		}
	}

	end := uint64(chainHeight)
	if span := end - nextHeight + 1; span > uint64(f.batchSize) {
		end = nextHeight + uint64(f.batchSize) - 1
	}

	blocks := make([]*compact.Block, 0, end-nextHeight+1)
	for h := nextHeight; h <= end; h++ {
		blk, err := f.fetchBlock(ctx, h)
		if err != nil {
			return err
		}
		blocks = append(blocks, blk)
	}
	return f.c.PutBatch(ctx, blocks)
}

func (f *Fetcher) fetchBlock(ctx context.Context, height uint64) (*compact.Block, error) {
	hash, err := f.rpc.GetBlockHash(ctx, int64(height))
	if err != nil {
		return nil, fmt.Errorf("fetch: getblockhash(%d): %w", height, err)
	}

	var blk blockVerbose2
	if err := f.rpc.Call(ctx, "getblock", []any{hash, 2}, &blk); err != nil {
		return nil, fmt.Errorf("fetch: getblock(%d): %w", height, err)
	}
	if blk.Height != int64(height) {
		return nil, fmt.Errorf("fetch: daemon returned unexpected height: got %d want %d", blk.Height, height)
	}
	return compactFromVerbose(blk)
}

// hashAtHeight reads the cached block at height and returns its hash as
// the daemon-facing hex string.
func (f *Fetcher) hashAtHeight(ctx context.Context, height uint64) (string, bool, error) {
	var hash string
	found := false
	err := f.c.ForEach(ctx, height-1, 1, func(b *compact.Block) error {
		if b.Height != height {
			return nil
		}
		h, err := b.BlockHash()
		if err != nil {
			return err
		}
		hash = hex.EncodeToString(h)
		found = true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return hash, found, nil
}

func (f *Fetcher) findCommonAncestor(ctx context.Context, fromHeight uint64) (uint64, error) {
	lowest, ok, err := f.c.LowestHeight(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return fromHeight, nil
	}

	for h := fromHeight; h >= lowest; h-- {
		cachedHash, found, err := f.hashAtHeight(ctx, h)
		if err != nil {
			return 0, err
		}
		if found {
			chainHash, err := f.rpc.GetBlockHash(ctx, int64(h))
			if err == nil && chainHash == cachedHash {
				return h, nil
			}
		}
		if h == 0 {
			break
		}
	}
	// Nothing in the cache is on the daemon chain. lowest-1 wraps when
	// lowest is zero, and TruncateAbove wraps it back: everything goes.
	return lowest - 1, nil
}

func compactFromVerbose(blk blockVerbose2) (*compact.Block, error) {
	hash, err := hex.DecodeString(blk.Hash)
	if err != nil {
		return nil, fmt.Errorf("fetch: block %d hash: %w", blk.Height, err)
	}

	out := &compact.Block{
		Height: uint64(blk.Height),
		Hash:   hash,
		Time:   uint32(blk.Time),
	}
	if blk.PreviousBlockHash != "" {
		prev, err := hex.DecodeString(blk.PreviousBlockHash)
		if err != nil {
			return nil, fmt.Errorf("fetch: block %d prev hash: %w", blk.Height, err)
		}
		out.PrevHash = prev
	}

	for _, t := range blk.Tx {
		if t.Orchard == nil || len(t.Orchard.Actions) == 0 {
			continue
		}
		txid, err := hex.DecodeString(t.TxID)
		if err != nil {
			return nil, fmt.Errorf("fetch: block %d txid: %w", blk.Height, err)
		}

		compTx := compact.Tx{TxID: txid}
		for _, a := range t.Orchard.Actions {
			nf, err := hex.DecodeString(a.Nullifier)
			if err != nil {
				return nil, fmt.Errorf("fetch: tx %s nullifier: %w", t.TxID, err)
			}
			cmx, err := hex.DecodeString(a.CMX)
			if err != nil {
				return nil, fmt.Errorf("fetch: tx %s cmx: %w", t.TxID, err)
			}
			epk, err := hex.DecodeString(a.EphemeralKey)
			if err != nil {
				return nil, fmt.Errorf("fetch: tx %s ephemeral key: %w", t.TxID, err)
			}
			ct, err := hex.DecodeString(a.EncCiphertext)
			if err != nil {
				return nil, fmt.Errorf("fetch: tx %s ciphertext: %w", t.TxID, err)
			}
			if len(ct) > compact.CiphertextSize {
				ct = ct[:compact.CiphertextSize]
			}

			compTx.Spends = append(compTx.Spends, compact.Spend{Nf: nf})
			compTx.Outputs = append(compTx.Outputs, compact.Output{
				Cmu:          cmx,
				EphemeralKey: epk,
				Ciphertext:   ct,
			})
		}
		out.Tx = append(out.Tx, compTx)
	}
	return out, nil
}

type blockVerbose2 struct {
	Hash              string       `json:"hash"`
	Height            int64        `json:"height"`
	Time              int64        `json:"time"`
	PreviousBlockHash string       `json:"previousblockhash,omitempty"`
	Tx                []txVerbose2 `json:"tx"`
}

type txVerbose2 struct {
	TxID    string         `json:"txid"`
	Orchard *orchardBundle `json:"orchard,omitempty"`
}

type orchardBundle struct {
	Actions []orchardAction `json:"actions"`
}

type orchardAction struct {
	Nullifier     string `json:"nullifier"`
	CMX           string `json:"cmx"`
	EphemeralKey  string `json:"ephemeralKey"`
	EncCiphertext string `json:"encCiphertext"`
}
