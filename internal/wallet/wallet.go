// Package wallet defines the wallet-side persistent store: discovered
// notes, spend markers, commitment positions, the scan checkpoint and the
// event outbox. The store is mutated only through per-block transactions
// driven by the scanner and through RewindToHeight.
package wallet

import (
	"context"
	"encoding/json"
	"time"
)

type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	// WithTx runs fn inside a single atomic unit. Everything fn writes
	// commits together or not at all.
	WithTx(ctx context.Context, fn func(Tx) error) error

	UpsertViewingKey(ctx context.Context, accountID, key string) error
	ListViewingKeys(ctx context.Context) ([]ViewingKey, error)

	// Checkpoint returns the highest scanned height and its block hash.
	// ok=false when the wallet has never scanned a block.
	Checkpoint(ctx context.Context) (Checkpoint, bool, error)

	// BlockHashAt returns the stored hash of the scanned block at the
	// given height. ok=false when the wallet never scanned that height
	// or the row was retracted by a rewind.
	BlockHashAt(ctx context.Context, height uint64) (string, bool, error)

	ListNotes(ctx context.Context, accountID string, onlyUnspent bool, limit int) ([]Note, error)
	Balance(ctx context.Context, accountID string) (int64, error)

	// RewindToHeight retracts, as one atomic unit, every note discovered
	// above height, every spend marker applied above height (returning
	// the notes to unspent), commitments and events above height, and the
	// checkpoint itself. A non-nil ev is recorded in the same unit, so a
	// crash can never apply the retraction without its outbox event.
	// Policy bounds are the rewind engine's concern, not the store's.
	RewindToHeight(ctx context.Context, height uint64, ev *Event) error

	EventPublishCursor(ctx context.Context) (int64, error)
	SetEventPublishCursor(ctx context.Context, cursor int64) error
	ListEvents(ctx context.Context, afterID int64, limit int) (events []Event, nextCursor int64, err error)
}

type Tx interface {
	// AdvanceCheckpoint records the block currently being committed as
	// the new scan tip. The scanner calls it in the same transaction as
	// the block's notes and spends.
	AdvanceCheckpoint(ctx context.Context, cp Checkpoint) error

	NextCommitmentPosition(ctx context.Context) (uint64, error)
	InsertCommitment(ctx context.Context, c Commitment) error

	InsertNote(ctx context.Context, n Note) error

	// MarkNoteSpent records the spend of the unspent note carrying the
	// given nullifier. ok=false when no unspent note matches.
	MarkNoteSpent(ctx context.Context, nullifier string, height uint64, txid string) (Note, bool, error)

	InsertEvent(ctx context.Context, e Event) error
}

type ViewingKey struct {
	AccountID string
	Key       string
	CreatedAt time.Time
}

// Checkpoint is the wallet's record of the last fully scanned block.
type Checkpoint struct {
	Height uint64
	Hash   string
}

// Commitment is one note commitment's slot in the global tree ordering.
type Commitment struct {
	Position    uint64
	Height      uint64
	TxID        string
	OutputIndex uint32
	Cmu         string
}

type Note struct {
	AccountID   string
	TxID        string
	OutputIndex uint32
	Height      uint64
	Position    uint64
	Value       int64
	MemoHex     string
	Nullifier   string
	SpentHeight *uint64
	SpentTxID   *string
	CreatedAt   time.Time
}

type Event struct {
	ID        int64
	Kind      string
	AccountID string
	Height    uint64
	Payload   json.RawMessage
	CreatedAt time.Time
}
