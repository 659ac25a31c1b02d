// Package compact holds the in-memory form of pruned (compact) blocks as
// produced by the network-facing codec, plus the encoding used for cache
// rows. A compact block carries only what shielded scanning needs: block
// linkage hashes, per-transaction nullifiers, note commitments, ephemeral
// keys and truncated ciphertexts.
package compact

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// HashSize is the size of block, transaction and commitment hashes.
	HashSize = 32

	// CiphertextSize is the truncated note ciphertext length carried per
	// output: enough for trial decryption, not for full note recovery.
	CiphertextSize = 52

	// headerPrevHashOffset locates the previous-block hash inside a raw
	// serialized block header (4-byte version field first).
	headerPrevHashOffset = 4
)

type Block struct {
	Height   uint64 `json:"height"`
	Hash     []byte `json:"hash,omitempty"`
	PrevHash []byte `json:"prev_hash,omitempty"`
	// Header is the raw serialized block header, if the source supplied
	// one. Hash fields may be omitted when it is present.
	Header []byte `json:"header,omitempty"`
	Time   uint32 `json:"time,omitempty"`
	Tx     []Tx   `json:"tx,omitempty"`
}

type Tx struct {
	TxID    []byte   `json:"txid"`
	Spends  []Spend  `json:"spends,omitempty"`
	Outputs []Output `json:"outputs,omitempty"`
}

// Spend is a compact shielded spend descriptor: the revealed nullifier.
type Spend struct {
	Nf []byte `json:"nf"`
}

// Output is a compact shielded output descriptor.
type Output struct {
	Cmu          []byte `json:"cmu"`
	EphemeralKey []byte `json:"epk"`
	Ciphertext   []byte `json:"ct"`
}

// BlockHash returns the block's own hash, deriving it from the embedded
// header when the hash field was omitted by the source.
func (b *Block) BlockHash() ([]byte, error) {
	if len(b.Hash) == HashSize {
		return b.Hash, nil
	}
	if len(b.Header) > 0 {
		return headerHash(b.Header), nil
	}
	return nil, fmt.Errorf("compact: block %d has no hash and no header", b.Height)
}

// PrevBlockHash returns the parent block's hash, falling back to the
// embedded header when the field was omitted.
func (b *Block) PrevBlockHash() ([]byte, error) {
	if len(b.PrevHash) == HashSize {
		return b.PrevHash, nil
	}
	if len(b.Header) >= headerPrevHashOffset+HashSize {
		prev := make([]byte, HashSize)
		copy(prev, b.Header[headerPrevHashOffset:headerPrevHashOffset+HashSize])
		return prev, nil
	}
	return nil, fmt.Errorf("compact: block %d has no prev_hash and no header", b.Height)
}

func headerHash(header []byte) []byte {
	first := sha256.Sum256(header)
	second := sha256.Sum256(first[:])
	return second[:]
}

// Encode serializes a block for cache storage.
func Encode(b *Block) ([]byte, error) {
	if b == nil {
		return nil, errors.New("compact: encode nil block")
	}
	out, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("compact: encode block %d: %w", b.Height, err)
	}
	return out, nil
}

// Decode parses a cache row payload back into a block. A failure here is
// the "payload did not decode" error class, distinct from storage errors.
func Decode(data []byte) (*Block, error) {
	if len(data) == 0 {
		return nil, errors.New("compact: decode empty payload")
	}
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("compact: decode block: %w", err)
	}
	return &b, nil
}
