//go:build integration

package integration_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/Abdullah1738/juno-sync/internal/compact"
	"github.com/Abdullah1738/juno-sync/internal/scanner"
	"github.com/Abdullah1738/juno-sync/internal/wallet"
)

// fakeOracle recognizes outputs by commitment and hands back a canned
// decryption, standing in for the native trial-decryption library.
type fakeOracle struct {
	notes map[string]scanner.Decrypted
}

func (o *fakeOracle) TryDecrypt(_ context.Context, out compact.Output, keys []wallet.ViewingKey) (scanner.Decrypted, bool, error) {
	if len(keys) == 0 {
		return scanner.Decrypted{}, false, nil
	}
	dec, ok := o.notes[hex.EncodeToString(out.Cmu)]
	return dec, ok, nil
}

func chainHashAt(height uint64) []byte {
	sum := sha256.Sum256([]byte(fmt.Sprintf("integration-block-%d", height)))
	return sum[:]
}

// makeChain builds n well-linked blocks starting at start, attaching the
// given transactions at their heights.
func makeChain(start uint64, n int, txAt map[uint64][]compact.Tx) []*compact.Block {
	blocks := make([]*compact.Block, 0, n)
	for i := 0; i < n; i++ {
		h := start + uint64(i)
		blocks = append(blocks, &compact.Block{
			Height:   h,
			Hash:     chainHashAt(h),
			PrevHash: chainHashAt(h - 1),
			Time:     uint32(1700000000 + h),
			Tx:       txAt[h],
		})
	}
	return blocks
}

func bytes32(fill byte) []byte {
	b := make([]byte, 32)
	for i := range b {
		b[i] = fill
	}
	return b
}
