// Package scanner drives the cache traversal: it consumes cached compact
// blocks strictly height-sequentially, trial-decrypts every output
// through the oracle, records discovered notes and detected spends, and
// advances the wallet checkpoint. All effects for one block commit as a
// single transaction.
package scanner

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Abdullah1738/juno-sync/internal/cache"
	"github.com/Abdullah1738/juno-sync/internal/compact"
	"github.com/Abdullah1738/juno-sync/internal/events"
	"github.com/Abdullah1738/juno-sync/internal/wallet"
)

// Oracle is the external trial-decryption interface: given an output
// descriptor and the wallet's viewing keys, it reports whether the output
// belongs to one of the wallet's accounts and with what contents.
type Oracle interface {
	TryDecrypt(ctx context.Context, out compact.Output, keys []wallet.ViewingKey) (Decrypted, bool, error)
}

// Decrypted is a positive trial-decryption result.
type Decrypted struct {
	AccountID string
	Value     int64
	MemoHex   string
	// Nullifier of the received note, when the oracle can compute it.
	Nullifier string
}

// HeightDiscontinuityError reports a gap in the cache: the next block was
// not exactly one above the last processed height. The checkpoint remains
// at the last good block.
type HeightDiscontinuityError struct {
	Expected uint64
	Found    uint64
}

func (e *HeightDiscontinuityError) Error() string {
	return fmt.Sprintf("scanner: block height discontinuity: expected height %d, found %d", e.Expected, e.Found)
}

type Result struct {
	FromHeight    uint64
	ToHeight      uint64
	BlocksScanned int
	NotesFound    int
	SpendsFound   int
}

// Scan traverses cached blocks above the wallet checkpoint, at most limit
// blocks (limit <= 0 means unbounded). Each block's notes, spends,
// commitments, events and the checkpoint advance commit atomically;
// a failure mid-range leaves every earlier block's effects committed.
// Re-scanning a range after a rewind reproduces identical state: note
// discovery depends only on block content and viewing keys, and tree
// positions are re-derived from scan order.
func Scan(ctx context.Context, c cache.Cache, st wallet.Store, oracle Oracle, limit int) (Result, error) {
	if oracle == nil {
		return Result{}, errors.New("scanner: oracle is nil")
	}

	keys, err := st.ListViewingKeys(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("scanner: list viewing keys: %w", err)
	}

	cp, haveCP, err := st.Checkpoint(ctx)
	if err != nil {
		return Result{}, err
	}

	lastScanned := cp.Height
	if !haveCP {
		lowest, ok, err := c.LowestHeight(ctx)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			return Result{}, nil
		}
		// lowest-1 wraps when lowest is zero; ForEach's lower bound adds
		// one back, so scanning still starts at genesis.
		lastScanned = lowest - 1
	}

	res := Result{}
	prevHeight := lastScanned
	hasPrev := haveCP

	err = c.ForEach(ctx, lastScanned, limit, func(b *compact.Block) error {
		if hasPrev && b.Height != prevHeight+1 {
			return &HeightDiscontinuityError{Expected: prevHeight + 1, Found: b.Height}
		}

		if err := scanBlock(ctx, st, oracle, keys, b, &res); err != nil {
			return err
		}

		if res.BlocksScanned == 0 {
			res.FromHeight = b.Height
		}
		res.ToHeight = b.Height
		res.BlocksScanned++
		prevHeight = b.Height
		hasPrev = true
		return nil
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

func scanBlock(ctx context.Context, st wallet.Store, oracle Oracle, keys []wallet.ViewingKey, b *compact.Block, res *Result) error {
	hash, err := b.BlockHash()
	if err != nil {
		return err
	}

	return st.WithTx(ctx, func(tx wallet.Tx) error {
		pos, err := tx.NextCommitmentPosition(ctx)
		if err != nil {
			return err
		}

		for _, t := range b.Tx {
			txid := hex.EncodeToString(t.TxID)

			for i, out := range t.Outputs {
				outputIndex := uint32(i)
				if err := tx.InsertCommitment(ctx, wallet.Commitment{
					Position:    pos,
					Height:      b.Height,
					TxID:        txid,
					OutputIndex: outputIndex,
					Cmu:         hex.EncodeToString(out.Cmu),
				}); err != nil {
					return err
				}

				dec, ok, err := oracle.TryDecrypt(ctx, out, keys)
				if err != nil {
					return fmt.Errorf("scanner: try decrypt %s output %d: %w", txid, i, err)
				}
				if ok {
					note := wallet.Note{
						AccountID:   dec.AccountID,
						TxID:        txid,
						OutputIndex: outputIndex,
						Height:      b.Height,
						Position:    pos,
						Value:       dec.Value,
						MemoHex:     dec.MemoHex,
						Nullifier:   dec.Nullifier,
					}
					if err := tx.InsertNote(ctx, note); err != nil {
						return err
					}
					if err := insertDepositEvent(ctx, tx, note); err != nil {
						return err
					}
					res.NotesFound++
				}

				pos++
			}

			for _, sp := range t.Spends {
				nf := hex.EncodeToString(sp.Nf)
				note, ok, err := tx.MarkNoteSpent(ctx, nf, b.Height, txid)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				if err := insertSpendEvent(ctx, tx, note, b.Height, txid); err != nil {
					return err
				}
				res.SpendsFound++
			}
		}

		return tx.AdvanceCheckpoint(ctx, wallet.Checkpoint{
			Height: b.Height,
			Hash:   hex.EncodeToString(hash),
		})
	})
}

func insertDepositEvent(ctx context.Context, tx wallet.Tx, n wallet.Note) error {
	payload, err := json.Marshal(events.DepositPayload{
		Version:     "v1",
		AccountID:   n.AccountID,
		TxID:        n.TxID,
		OutputIndex: n.OutputIndex,
		Height:      n.Height,
		Position:    n.Position,
		Value:       n.Value,
		Nullifier:   n.Nullifier,
		MemoHex:     n.MemoHex,
	})
	if err != nil {
		return fmt.Errorf("scanner: marshal deposit payload: %w", err)
	}
	return tx.InsertEvent(ctx, wallet.Event{
		Kind:      events.KindDeposit,
		AccountID: n.AccountID,
		Height:    n.Height,
		Payload:   payload,
	})
}

func insertSpendEvent(ctx context.Context, tx wallet.Tx, n wallet.Note, height uint64, txid string) error {
	payload, err := json.Marshal(events.SpendPayload{
		Version:         "v1",
		AccountID:       n.AccountID,
		TxID:            txid,
		Height:          height,
		NoteTxID:        n.TxID,
		NoteOutputIndex: n.OutputIndex,
		NoteHeight:      n.Height,
		Value:           n.Value,
		Nullifier:       n.Nullifier,
	})
	if err != nil {
		return fmt.Errorf("scanner: marshal spend payload: %w", err)
	}
	return tx.InsertEvent(ctx, wallet.Event{
		Kind:      events.KindSpend,
		AccountID: n.AccountID,
		Height:    height,
		Payload:   payload,
	})
}
