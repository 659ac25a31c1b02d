package fetch

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/Abdullah1738/juno-sync/internal/compact"
)

func hexOf(fill byte, n int) string {
	return hex.EncodeToString(bytes.Repeat([]byte{fill}, n))
}

func TestCompactFromVerbose(t *testing.T) {
	blk := blockVerbose2{
		Hash:              hexOf(0x01, 32),
		Height:            120,
		Time:              1700000120,
		PreviousBlockHash: hexOf(0x02, 32),
		Tx: []txVerbose2{
			// Transparent-only transaction: no shielded payload to carry.
			{TxID: hexOf(0x03, 32)},
			{
				TxID: hexOf(0x04, 32),
				Orchard: &orchardBundle{Actions: []orchardAction{{
					Nullifier:     hexOf(0x05, 32),
					CMX:           hexOf(0x06, 32),
					EphemeralKey:  hexOf(0x07, 32),
					EncCiphertext: hexOf(0x08, 580),
				}}},
			},
		},
	}

	out, err := compactFromVerbose(blk)
	if err != nil {
		t.Fatalf("compactFromVerbose: %v", err)
	}
	if out.Height != 120 || out.Time != 1700000120 {
		t.Fatalf("unexpected block fields: %+v", out)
	}
	if hex.EncodeToString(out.Hash) != blk.Hash || hex.EncodeToString(out.PrevHash) != blk.PreviousBlockHash {
		t.Fatalf("hash fields not carried over")
	}
	if len(out.Tx) != 1 {
		t.Fatalf("expected 1 compact tx, got %d", len(out.Tx))
	}

	tx := out.Tx[0]
	if hex.EncodeToString(tx.TxID) != hexOf(0x04, 32) {
		t.Fatalf("unexpected txid %x", tx.TxID)
	}
	if len(tx.Spends) != 1 || hex.EncodeToString(tx.Spends[0].Nf) != hexOf(0x05, 32) {
		t.Fatalf("unexpected spends: %+v", tx.Spends)
	}
	if len(tx.Outputs) != 1 || hex.EncodeToString(tx.Outputs[0].Cmu) != hexOf(0x06, 32) {
		t.Fatalf("unexpected outputs: %+v", tx.Outputs)
	}
	if len(tx.Outputs[0].Ciphertext) != compact.CiphertextSize {
		t.Fatalf("ciphertext not truncated: %d bytes", len(tx.Outputs[0].Ciphertext))
	}
}

func TestCompactFromVerbose_RejectsBadHex(t *testing.T) {
	blk := blockVerbose2{
		Hash:   "zz",
		Height: 5,
	}
	if _, err := compactFromVerbose(blk); err == nil || !strings.Contains(err.Error(), "hash") {
		t.Fatalf("expected hash decode error, got %v", err)
	}

	blk = blockVerbose2{
		Hash:   hexOf(0x01, 32),
		Height: 5,
		Tx: []txVerbose2{{
			TxID: hexOf(0x02, 32),
			Orchard: &orchardBundle{Actions: []orchardAction{{
				Nullifier:     "not-hex",
				CMX:           hexOf(0x03, 32),
				EphemeralKey:  hexOf(0x04, 32),
				EncCiphertext: hexOf(0x05, 52),
			}}},
		}},
	}
	if _, err := compactFromVerbose(blk); err == nil || !strings.Contains(err.Error(), "nullifier") {
		t.Fatalf("expected nullifier decode error, got %v", err)
	}
}
