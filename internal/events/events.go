// Package events defines the outbox event kinds and payloads written by
// the scanner and the rewind engine and published to the broker.
package events

const (
	KindDeposit = "DepositEvent"
	KindSpend   = "SpendEvent"
	KindRewind  = "RewindEvent"
)

type DepositPayload struct {
	Version     string `json:"version"`
	AccountID   string `json:"account_id"`
	TxID        string `json:"txid"`
	OutputIndex uint32 `json:"output_index"`
	Height      uint64 `json:"height"`
	Position    uint64 `json:"position"`
	Value       int64  `json:"amount_zatoshis"`
	Nullifier   string `json:"nullifier,omitempty"`
	MemoHex     string `json:"memo_hex,omitempty"`
}

type SpendPayload struct {
	Version   string `json:"version"`
	AccountID string `json:"account_id"`
	TxID      string `json:"txid"`
	Height    uint64 `json:"height"`

	NoteTxID        string `json:"note_txid"`
	NoteOutputIndex uint32 `json:"note_output_index"`
	NoteHeight      uint64 `json:"note_height"`
	Value           int64  `json:"amount_zatoshis"`
	Nullifier       string `json:"nullifier,omitempty"`
}

type RewindPayload struct {
	Version        string `json:"version"`
	TargetHeight   uint64 `json:"target_height"`
	PreviousHeight uint64 `json:"previous_height"`
}
