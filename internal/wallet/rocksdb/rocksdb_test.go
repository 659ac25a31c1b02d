package rocksdb

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/Abdullah1738/juno-sync/internal/wallet"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return st
}

func TestStore_ViewingKeys(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st := openTestStore(t)

	if err := st.UpsertViewingKey(ctx, "hot", "vk-old"); err != nil {
		t.Fatalf("UpsertViewingKey: %v", err)
	}
	if err := st.UpsertViewingKey(ctx, "cold", "vk-cold"); err != nil {
		t.Fatalf("UpsertViewingKey: %v", err)
	}
	if err := st.UpsertViewingKey(ctx, "hot", "vk-new"); err != nil {
		t.Fatalf("UpsertViewingKey update: %v", err)
	}

	keys, err := st.ListViewingKeys(ctx)
	if err != nil {
		t.Fatalf("ListViewingKeys: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
	if keys[0].AccountID != "cold" || keys[1].AccountID != "hot" {
		t.Fatalf("unexpected order: %+v", keys)
	}
	if keys[1].Key != "vk-new" {
		t.Fatalf("expected updated key, got %q", keys[1].Key)
	}
}

func TestStore_RewindUnspendsAndDeletes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st := openTestStore(t)

	if err := st.UpsertViewingKey(ctx, "hot", "vk-hot"); err != nil {
		t.Fatalf("UpsertViewingKey: %v", err)
	}

	payload, _ := json.Marshal(map[string]any{"k": "v"})

	if err := st.WithTx(ctx, func(tx wallet.Tx) error {
		pos, err := tx.NextCommitmentPosition(ctx)
		if err != nil {
			return err
		}
		if pos != 0 {
			t.Fatalf("expected next position 0, got %d", pos)
		}

		if err := tx.InsertCommitment(ctx, wallet.Commitment{
			Position: 0,
			Height:   1,
			TxID:     "tx1",
			Cmu:      "cmu1",
		}); err != nil {
			return err
		}
		if err := tx.InsertNote(ctx, wallet.Note{
			AccountID: "hot",
			TxID:      "tx1",
			Height:    1,
			Position:  0,
			Value:     10,
			Nullifier: "nf1",
		}); err != nil {
			return err
		}
		if err := tx.InsertEvent(ctx, wallet.Event{
			Kind:      "DepositEvent",
			AccountID: "hot",
			Height:    1,
			Payload:   payload,
		}); err != nil {
			return err
		}
		return tx.AdvanceCheckpoint(ctx, wallet.Checkpoint{Height: 1, Hash: "h1"})
	}); err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	cp, ok, err := st.Checkpoint(ctx)
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if !ok || cp.Height != 1 || cp.Hash != "h1" {
		t.Fatalf("unexpected checkpoint: ok=%v cp=%+v", ok, cp)
	}

	if err := st.WithTx(ctx, func(tx wallet.Tx) error {
		pos, err := tx.NextCommitmentPosition(ctx)
		if err != nil {
			return err
		}
		if pos != 1 {
			t.Fatalf("expected next position 1, got %d", pos)
		}
		note, spent, err := tx.MarkNoteSpent(ctx, "nf1", 2, "tx2")
		if err != nil {
			return err
		}
		if !spent || note.Value != 10 {
			t.Fatalf("expected spend of note value 10, got spent=%v note=%+v", spent, note)
		}
		return tx.AdvanceCheckpoint(ctx, wallet.Checkpoint{Height: 2, Hash: "h2"})
	}); err != nil {
		t.Fatalf("WithTx spend: %v", err)
	}

	balance, err := st.Balance(ctx, "hot")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != 0 {
		t.Fatalf("expected balance 0 after spend, got %d", balance)
	}

	// Re-spending the same nullifier is a no-op.
	if err := st.WithTx(ctx, func(tx wallet.Tx) error {
		_, spent, err := tx.MarkNoteSpent(ctx, "nf1", 3, "tx3")
		if err != nil {
			return err
		}
		if spent {
			t.Fatalf("expected double spend to be rejected")
		}
		return nil
	}); err != nil {
		t.Fatalf("WithTx double spend: %v", err)
	}

	if err := st.RewindToHeight(ctx, 1, nil); err != nil {
		t.Fatalf("RewindToHeight(1): %v", err)
	}

	unspent, err := st.ListNotes(ctx, "hot", true, 100)
	if err != nil {
		t.Fatalf("ListNotes(unspent after rewind): %v", err)
	}
	if len(unspent) != 1 || unspent[0].SpentHeight != nil || unspent[0].SpentTxID != nil {
		t.Fatalf("expected 1 unspent note after rewind, got %+v", unspent)
	}

	cp, ok, err = st.Checkpoint(ctx)
	if err != nil {
		t.Fatalf("Checkpoint after rewind: %v", err)
	}
	if !ok || cp.Height != 1 || cp.Hash != "h1" {
		t.Fatalf("unexpected checkpoint after rewind: ok=%v cp=%+v", ok, cp)
	}

	// The note is spendable again after the rewind.
	if err := st.WithTx(ctx, func(tx wallet.Tx) error {
		_, spent, err := tx.MarkNoteSpent(ctx, "nf1", 2, "tx2b")
		if err != nil {
			return err
		}
		if !spent {
			t.Fatalf("expected nullifier to be spendable after rewind")
		}
		return nil
	}); err != nil {
		t.Fatalf("WithTx re-spend: %v", err)
	}

	if err := st.RewindToHeight(ctx, 0, nil); err != nil {
		t.Fatalf("RewindToHeight(0): %v", err)
	}

	notesAfter, err := st.ListNotes(ctx, "hot", false, 100)
	if err != nil {
		t.Fatalf("ListNotes(after full rewind): %v", err)
	}
	if len(notesAfter) != 0 {
		t.Fatalf("expected 0 notes after rewind to 0, got %d", len(notesAfter))
	}

	events, _, err := st.ListEvents(ctx, 0, 100)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected 0 events after rewind to 0, got %d", len(events))
	}

	// The commitment position counter retreats with the commitments.
	if err := st.WithTx(ctx, func(tx wallet.Tx) error {
		pos, err := tx.NextCommitmentPosition(ctx)
		if err != nil {
			return err
		}
		if pos != 0 {
			t.Fatalf("expected next position 0 after full rewind, got %d", pos)
		}
		return nil
	}); err != nil {
		t.Fatalf("WithTx position check: %v", err)
	}
}

func TestStore_BlockHashAt(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st := openTestStore(t)

	if _, ok, err := st.BlockHashAt(ctx, 0); err != nil || ok {
		t.Fatalf("expected no hash on empty store, got ok=%v err=%v", ok, err)
	}

	for h := uint64(0); h <= 2; h++ {
		cp := wallet.Checkpoint{Height: h, Hash: string('a' + rune(h))}
		if err := st.WithTx(ctx, func(tx wallet.Tx) error {
			return tx.AdvanceCheckpoint(ctx, cp)
		}); err != nil {
			t.Fatalf("AdvanceCheckpoint %d: %v", h, err)
		}
	}

	hash, ok, err := st.BlockHashAt(ctx, 1)
	if err != nil {
		t.Fatalf("BlockHashAt(1): %v", err)
	}
	if !ok || hash != "b" {
		t.Fatalf("expected hash b at height 1, got ok=%v hash=%q", ok, hash)
	}

	if err := st.RewindToHeight(ctx, 1, nil); err != nil {
		t.Fatalf("RewindToHeight: %v", err)
	}
	if _, ok, err := st.BlockHashAt(ctx, 2); err != nil || ok {
		t.Fatalf("expected height 2 retracted, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := st.BlockHashAt(ctx, 1); err != nil || !ok {
		t.Fatalf("expected height 1 to survive, got ok=%v err=%v", ok, err)
	}
}

func TestStore_RewindRecordsEventWithRetraction(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st := openTestStore(t)

	payload, _ := json.Marshal(map[string]any{"k": "v"})
	for h := uint64(1); h <= 3; h++ {
		height := h
		if err := st.WithTx(ctx, func(tx wallet.Tx) error {
			if err := tx.InsertEvent(ctx, wallet.Event{
				Kind:    "DepositEvent",
				Height:  height,
				Payload: payload,
			}); err != nil {
				return err
			}
			return tx.AdvanceCheckpoint(ctx, wallet.Checkpoint{Height: height, Hash: "h"})
		}); err != nil {
			t.Fatalf("WithTx %d: %v", h, err)
		}
	}

	if err := st.RewindToHeight(ctx, 1, &wallet.Event{
		Kind:    "RewindEvent",
		Height:  1,
		Payload: payload,
	}); err != nil {
		t.Fatalf("RewindToHeight: %v", err)
	}

	evs, _, err := st.ListEvents(ctx, 0, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(evs) != 2 {
		t.Fatalf("expected surviving deposit plus rewind event, got %+v", evs)
	}
	if evs[0].Kind != "DepositEvent" || evs[0].Height != 1 {
		t.Fatalf("unexpected first event: %+v", evs[0])
	}
	if evs[1].Kind != "RewindEvent" || evs[1].Height != 1 {
		t.Fatalf("unexpected rewind event: %+v", evs[1])
	}
	if evs[1].ID <= evs[0].ID {
		t.Fatalf("rewind event id %d not after %d", evs[1].ID, evs[0].ID)
	}
}

func TestStore_EventsPaginationAndCursor(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st := openTestStore(t)

	for i := 0; i < 5; i++ {
		if err := st.WithTx(ctx, func(tx wallet.Tx) error {
			return tx.InsertEvent(ctx, wallet.Event{
				Kind:      "DepositEvent",
				AccountID: "hot",
				Height:    uint64(i + 1),
				Payload:   json.RawMessage(`{}`),
			})
		}); err != nil {
			t.Fatalf("InsertEvent %d: %v", i, err)
		}
	}

	first, next, err := st.ListEvents(ctx, 0, 3)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(first) != 3 || first[0].ID != 1 || next != 3 {
		t.Fatalf("unexpected first page: len=%d next=%d", len(first), next)
	}

	rest, next, err := st.ListEvents(ctx, next, 100)
	if err != nil {
		t.Fatalf("ListEvents rest: %v", err)
	}
	if len(rest) != 2 || rest[0].ID != 4 || next != 5 {
		t.Fatalf("unexpected second page: len=%d next=%d", len(rest), next)
	}

	cursor, err := st.EventPublishCursor(ctx)
	if err != nil {
		t.Fatalf("EventPublishCursor: %v", err)
	}
	if cursor != 0 {
		t.Fatalf("expected initial cursor 0, got %d", cursor)
	}
	if err := st.SetEventPublishCursor(ctx, 5); err != nil {
		t.Fatalf("SetEventPublishCursor: %v", err)
	}
	cursor, err = st.EventPublishCursor(ctx)
	if err != nil {
		t.Fatalf("EventPublishCursor after set: %v", err)
	}
	if cursor != 5 {
		t.Fatalf("expected cursor 5, got %d", cursor)
	}

	none, _, err := st.ListEvents(ctx, cursor, 100)
	if err != nil {
		t.Fatalf("ListEvents after cursor: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no events past cursor, got %d", len(none))
	}
}
