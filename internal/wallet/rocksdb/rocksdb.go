// Package rocksdb implements the wallet store on a RocksDB-style
// (Pebble) store. Records are JSON values behind short key prefixes;
// fixed-width decimal height and position segments keep iteration order
// equal to numeric order. Secondary index rows by discovery height and
// spent height make rewinds a pair of prefix walks.
package rocksdb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/Abdullah1738/juno-sync/internal/wallet"
)

var (
	metaPrefix        = []byte("m/")
	viewingKeyPrefix  = []byte("vk/")
	blockPrefix       = []byte("blk/")
	notePrefix        = []byte("note/")
	noteHeightPrefix  = []byte("nh/")
	spentHeightPrefix = []byte("sh/")
	nullifierPrefix   = []byte("nf/")
	commitmentPrefix  = []byte("cm/")
	eventPrefix       = []byte("ev/")
	eventHeightPrefix = []byte("evh/")
)

type Store struct {
	mu sync.Mutex
	db *pebble.DB
}

type viewingKeyRecord struct {
	Key           string `json:"key"`
	CreatedAtUnix int64  `json:"created_at"`
}

type blockRecord struct {
	Hash string `json:"hash"`
}

type noteRecord struct {
	AccountID     string  `json:"account_id"`
	TxID          string  `json:"txid"`
	OutputIndex   uint32  `json:"output_index"`
	Height        uint64  `json:"height"`
	Position      uint64  `json:"position"`
	Value         int64   `json:"value"`
	MemoHex       string  `json:"memo_hex,omitempty"`
	Nullifier     string  `json:"nullifier,omitempty"`
	SpentHeight   *uint64 `json:"spent_height,omitempty"`
	SpentTxID     *string `json:"spent_txid,omitempty"`
	CreatedAtUnix int64   `json:"created_at"`
}

type commitmentRecord struct {
	Position    uint64 `json:"position"`
	Height      uint64 `json:"height"`
	TxID        string `json:"txid"`
	OutputIndex uint32 `json:"output_index"`
	Cmu         string `json:"cmu"`
}

type eventRecord struct {
	Kind          string          `json:"kind"`
	AccountID     string          `json:"account_id"`
	Height        uint64          `json:"height"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAtUnix int64           `json:"created_at"`
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("rocksdb: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("rocksdb: mkdir: %w", err)
	}

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("rocksdb: open: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	verKey := keyMeta("schema_version")
	_, closer, err := s.db.Get(verKey)
	if err == nil {
		_ = closer.Close()
		return nil
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("rocksdb: schema_version: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(verKey, []byte("1"), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: set schema_version: %w", err)
	}
	if err := b.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: migrate commit: %w", err)
	}
	return nil
}

func (s *Store) WithTx(ctx context.Context, fn func(wallet.Tx) error) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	tx := &rocksTx{
		batch: batch,
		now:   time.Now().UTC(),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: commit: %w", err)
	}
	return nil
}

func (s *Store) UpsertViewingKey(ctx context.Context, accountID, key string) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	vkKey := keyViewingKey(accountID)
	now := time.Now().UTC()

	var rec viewingKeyRecord
	v, closer, err := s.db.Get(vkKey)
	if err == nil {
		if err := json.Unmarshal(v, &rec); err != nil {
			_ = closer.Close()
			return fmt.Errorf("rocksdb: decode viewing key: %w", err)
		}
		_ = closer.Close()
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("rocksdb: get viewing key: %w", err)
	} else {
		rec.CreatedAtUnix = now.Unix()
	}

	rec.Key = key

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rocksdb: encode viewing key: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(vkKey, b, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: upsert viewing key: %w", err)
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: upsert viewing key commit: %w", err)
	}
	return nil
}

func (s *Store) ListViewingKeys(ctx context.Context) ([]wallet.ViewingKey, error) {
	_ = ctx

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: viewingKeyPrefix,
		UpperBound: prefixUpperBound(viewingKeyPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("rocksdb: iter: %w", err)
	}
	defer iter.Close()

	var out []wallet.ViewingKey
	for iter.First(); iter.Valid(); iter.Next() {
		accountID := string(bytes.TrimPrefix(iter.Key(), viewingKeyPrefix))
		var rec viewingKeyRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("rocksdb: decode viewing key: %w", err)
		}
		out = append(out, wallet.ViewingKey{
			AccountID: accountID,
			Key:       rec.Key,
			CreatedAt: time.Unix(rec.CreatedAtUnix, 0).UTC(),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("rocksdb: list viewing keys: %w", err)
	}
	return out, nil
}

func (s *Store) Checkpoint(ctx context.Context) (wallet.Checkpoint, bool, error) {
	_ = ctx

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: blockPrefix,
		UpperBound: prefixUpperBound(blockPrefix),
	})
	if err != nil {
		return wallet.Checkpoint{}, false, fmt.Errorf("rocksdb: iter: %w", err)
	}
	defer iter.Close()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return wallet.Checkpoint{}, false, fmt.Errorf("rocksdb: checkpoint: %w", err)
		}
		return wallet.Checkpoint{}, false, nil
	}
	height, err := fixed20FromKey(iter.Key(), blockPrefix)
	if err != nil {
		return wallet.Checkpoint{}, false, err
	}
	var rec blockRecord
	if err := json.Unmarshal(iter.Value(), &rec); err != nil {
		return wallet.Checkpoint{}, false, fmt.Errorf("rocksdb: checkpoint decode: %w", err)
	}
	return wallet.Checkpoint{Height: height, Hash: rec.Hash}, true, nil
}

func (s *Store) BlockHashAt(ctx context.Context, height uint64) (string, bool, error) {
	_ = ctx

	key := make([]byte, 0, len(blockPrefix)+20)
	key = append(key, blockPrefix...)
	key = appendUint64Fixed20(key, height)

	v, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("rocksdb: block hash at %d: %w", height, err)
	}
	defer closer.Close()

	var rec blockRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return "", false, fmt.Errorf("rocksdb: block record decode: %w", err)
	}
	return rec.Hash, true, nil
}

func (s *Store) ListNotes(ctx context.Context, accountID string, onlyUnspent bool, limit int) ([]wallet.Note, error) {
	_ = ctx

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: notePrefix,
		UpperBound: prefixUpperBound(notePrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("rocksdb: iter: %w", err)
	}
	defer iter.Close()

	var out []wallet.Note
	for iter.First(); iter.Valid(); iter.Next() {
		var rec noteRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("rocksdb: decode note: %w", err)
		}
		if accountID != "" && rec.AccountID != accountID {
			continue
		}
		if onlyUnspent && rec.SpentHeight != nil {
			continue
		}
		out = append(out, noteFromRecord(rec))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("rocksdb: list notes: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Height != out[j].Height {
			return out[i].Height < out[j].Height
		}
		return out[i].Position < out[j].Position
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Balance(ctx context.Context, accountID string) (int64, error) {
	notes, err := s.ListNotes(ctx, accountID, true, 0)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, n := range notes {
		total += n.Value
	}
	return total, nil
}

func (s *Store) RewindToHeight(ctx context.Context, height uint64, ev *wallet.Event) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	// Notes discovered above height: drop them and their index rows.
	if err := s.forEachHeightIndex(noteHeightPrefix, height, func(key []byte) error {
		txid, outputIndex, err := parseHeightIndexKey(key, noteHeightPrefix)
		if err != nil {
			return err
		}
		rec, ok, err := getNote(batch, txid, outputIndex)
		if err != nil {
			return err
		}
		if err := batch.Delete(key, pebble.NoSync); err != nil {
			return fmt.Errorf("rocksdb: rewind delete note index: %w", err)
		}
		if !ok {
			return nil
		}
		if err := batch.Delete(keyNote(txid, outputIndex), pebble.NoSync); err != nil {
			return fmt.Errorf("rocksdb: rewind delete note: %w", err)
		}
		if rec.Nullifier != "" {
			if err := batch.Delete(keyNullifier(rec.Nullifier), pebble.NoSync); err != nil {
				return fmt.Errorf("rocksdb: rewind delete nullifier: %w", err)
			}
		}
		if rec.SpentHeight != nil {
			if err := batch.Delete(keySpentHeightIndex(*rec.SpentHeight, txid, outputIndex), pebble.NoSync); err != nil {
				return fmt.Errorf("rocksdb: rewind delete spent index: %w", err)
			}
		}
		return nil
	}); err != nil {
		return err
	}

	// Notes spent above height: return them to unspent.
	if err := s.forEachHeightIndex(spentHeightPrefix, height, func(key []byte) error {
		txid, outputIndex, err := parseHeightIndexKey(key, spentHeightPrefix)
		if err != nil {
			return err
		}
		if err := batch.Delete(key, pebble.NoSync); err != nil {
			return fmt.Errorf("rocksdb: rewind delete spent index: %w", err)
		}
		rec, ok, err := getNote(batch, txid, outputIndex)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		rec.SpentHeight = nil
		rec.SpentTxID = nil
		if err := putNote(batch, rec); err != nil {
			return err
		}
		if rec.Nullifier != "" {
			if err := putNullifierIndex(batch, rec.Nullifier, txid, outputIndex); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if err := s.rewindCommitments(batch, height); err != nil {
		return err
	}

	// Events recorded above height.
	if err := s.forEachHeightIndex(eventHeightPrefix, height, func(key []byte) error {
		id := bytes.TrimPrefix(key, eventHeightPrefix)
		if i := bytes.IndexByte(id, '/'); i >= 0 {
			id = id[i+1:]
		}
		if err := batch.Delete(key, pebble.NoSync); err != nil {
			return fmt.Errorf("rocksdb: rewind delete event index: %w", err)
		}
		evKey := make([]byte, 0, len(eventPrefix)+len(id))
		evKey = append(evKey, eventPrefix...)
		evKey = append(evKey, id...)
		if err := batch.Delete(evKey, pebble.NoSync); err != nil {
			return fmt.Errorf("rocksdb: rewind delete event: %w", err)
		}
		return nil
	}); err != nil {
		return err
	}

	// Scanned block rows above height; the checkpoint retreats with them.
	lower := make([]byte, 0, len(blockPrefix)+20)
	lower = append(lower, blockPrefix...)
	lower = appendUint64Fixed20(lower, height+1)
	if err := batch.DeleteRange(lower, prefixUpperBound(blockPrefix), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: rewind delete blocks: %w", err)
	}

	if ev != nil {
		if err := insertEvent(batch, *ev, time.Now()); err != nil {
			return err
		}
	}

	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: rewind commit: %w", err)
	}
	return nil
}

// forEachHeightIndex walks index rows whose fixed20 height segment is
// strictly greater than height.
func (s *Store) forEachHeightIndex(prefix []byte, height uint64, fn func(key []byte) error) error {
	lower := make([]byte, 0, len(prefix)+20)
	lower = append(lower, prefix...)
	lower = appendUint64Fixed20(lower, height+1)

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("rocksdb: iter: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		k := append([]byte{}, iter.Key()...)
		if err := fn(k); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("rocksdb: height index iter: %w", err)
	}
	return nil
}

func (s *Store) rewindCommitments(batch *pebble.Batch, height uint64) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: commitmentPrefix,
		UpperBound: prefixUpperBound(commitmentPrefix),
	})
	if err != nil {
		return fmt.Errorf("rocksdb: iter: %w", err)
	}
	defer iter.Close()

	var firstDropPos *uint64
	for iter.First(); iter.Valid(); iter.Next() {
		var rec commitmentRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return fmt.Errorf("rocksdb: decode commitment: %w", err)
		}
		if rec.Height > height {
			p := rec.Position
			firstDropPos = &p
			break
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("rocksdb: commitments scan: %w", err)
	}
	if firstDropPos == nil {
		return nil
	}

	lower := make([]byte, 0, len(commitmentPrefix)+20)
	lower = append(lower, commitmentPrefix...)
	lower = appendUint64Fixed20(lower, *firstDropPos)
	if err := batch.DeleteRange(lower, prefixUpperBound(commitmentPrefix), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: delete commitments range: %w", err)
	}
	if err := batch.Set(keyMeta("next_commitment_pos"), uint64To8(*firstDropPos), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: set next_commitment_pos: %w", err)
	}
	return nil
}

func (s *Store) EventPublishCursor(ctx context.Context) (int64, error) {
	_ = ctx

	v, closer, err := s.db.Get(keyMeta("event_publish_cursor"))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("rocksdb: get event cursor: %w", err)
	}
	defer closer.Close()
	if len(v) != 8 {
		return 0, errors.New("rocksdb: event cursor malformed")
	}
	return int64(binary.BigEndian.Uint64(v)), nil
}

func (s *Store) SetEventPublishCursor(ctx context.Context, cursor int64) error {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(keyMeta("event_publish_cursor"), uint64To8(uint64(cursor)), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: set event cursor: %w", err)
	}
	if err := batch.Commit(pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: set event cursor commit: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, afterID int64, limit int) ([]wallet.Event, int64, error) {
	_ = ctx

	if limit <= 0 {
		limit = 1000
	}

	lower := make([]byte, 0, len(eventPrefix)+20)
	lower = append(lower, eventPrefix...)
	lower = appendUint64Fixed20(lower, uint64(afterID)+1)

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(eventPrefix),
	})
	if err != nil {
		return nil, afterID, fmt.Errorf("rocksdb: iter: %w", err)
	}
	defer iter.Close()

	var out []wallet.Event
	next := afterID
	for iter.First(); iter.Valid() && len(out) < limit; iter.Next() {
		id, err := fixed20FromKey(iter.Key(), eventPrefix)
		if err != nil {
			return nil, afterID, err
		}
		var rec eventRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, afterID, fmt.Errorf("rocksdb: decode event: %w", err)
		}
		out = append(out, wallet.Event{
			ID:        int64(id),
			Kind:      rec.Kind,
			AccountID: rec.AccountID,
			Height:    rec.Height,
			Payload:   rec.Payload,
			CreatedAt: time.Unix(rec.CreatedAtUnix, 0).UTC(),
		})
		next = int64(id)
	}
	if err := iter.Error(); err != nil {
		return nil, afterID, fmt.Errorf("rocksdb: list events: %w", err)
	}
	return out, next, nil
}

type rocksTx struct {
	batch *pebble.Batch
	now   time.Time
}

func (t *rocksTx) AdvanceCheckpoint(ctx context.Context, cp wallet.Checkpoint) error {
	_ = ctx

	b, err := json.Marshal(blockRecord{Hash: cp.Hash})
	if err != nil {
		return fmt.Errorf("rocksdb: encode checkpoint: %w", err)
	}
	key := make([]byte, 0, len(blockPrefix)+20)
	key = append(key, blockPrefix...)
	key = appendUint64Fixed20(key, cp.Height)
	if err := t.batch.Set(key, b, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: advance checkpoint: %w", err)
	}
	return nil
}

func (t *rocksTx) NextCommitmentPosition(ctx context.Context) (uint64, error) {
	_ = ctx

	v, closer, err := t.batch.Get(keyMeta("next_commitment_pos"))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("rocksdb: get next_commitment_pos: %w", err)
	}
	defer closer.Close()
	if len(v) != 8 {
		return 0, errors.New("rocksdb: next_commitment_pos malformed")
	}
	return binary.BigEndian.Uint64(v), nil
}

func (t *rocksTx) InsertCommitment(ctx context.Context, c wallet.Commitment) error {
	_ = ctx

	b, err := json.Marshal(commitmentRecord{
		Position:    c.Position,
		Height:      c.Height,
		TxID:        c.TxID,
		OutputIndex: c.OutputIndex,
		Cmu:         c.Cmu,
	})
	if err != nil {
		return fmt.Errorf("rocksdb: encode commitment: %w", err)
	}
	key := make([]byte, 0, len(commitmentPrefix)+20)
	key = append(key, commitmentPrefix...)
	key = appendUint64Fixed20(key, c.Position)
	if err := t.batch.Set(key, b, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: insert commitment: %w", err)
	}
	if err := t.batch.Set(keyMeta("next_commitment_pos"), uint64To8(c.Position+1), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: set next_commitment_pos: %w", err)
	}
	return nil
}

func (t *rocksTx) InsertNote(ctx context.Context, n wallet.Note) error {
	_ = ctx

	rec := noteRecord{
		AccountID:     n.AccountID,
		TxID:          n.TxID,
		OutputIndex:   n.OutputIndex,
		Height:        n.Height,
		Position:      n.Position,
		Value:         n.Value,
		MemoHex:       n.MemoHex,
		Nullifier:     n.Nullifier,
		SpentHeight:   n.SpentHeight,
		SpentTxID:     n.SpentTxID,
		CreatedAtUnix: t.now.Unix(),
	}
	if err := putNote(t.batch, rec); err != nil {
		return err
	}
	if err := t.batch.Set(keyNoteHeightIndex(n.Height, n.TxID, n.OutputIndex), nil, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: insert note height index: %w", err)
	}
	if n.Nullifier != "" && n.SpentHeight == nil {
		if err := putNullifierIndex(t.batch, n.Nullifier, n.TxID, n.OutputIndex); err != nil {
			return err
		}
	}
	return nil
}

func (t *rocksTx) MarkNoteSpent(ctx context.Context, nullifier string, height uint64, txid string) (wallet.Note, bool, error) {
	_ = ctx

	v, closer, err := t.batch.Get(keyNullifier(nullifier))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return wallet.Note{}, false, nil
		}
		return wallet.Note{}, false, fmt.Errorf("rocksdb: get nullifier: %w", err)
	}
	var ref struct {
		TxID        string `json:"txid"`
		OutputIndex uint32 `json:"output_index"`
	}
	if err := json.Unmarshal(v, &ref); err != nil {
		_ = closer.Close()
		return wallet.Note{}, false, fmt.Errorf("rocksdb: decode nullifier ref: %w", err)
	}
	_ = closer.Close()

	rec, ok, err := getNote(t.batch, ref.TxID, ref.OutputIndex)
	if err != nil {
		return wallet.Note{}, false, err
	}
	if !ok || rec.SpentHeight != nil {
		return wallet.Note{}, false, nil
	}

	rec.SpentHeight = &height
	rec.SpentTxID = &txid
	if err := putNote(t.batch, rec); err != nil {
		return wallet.Note{}, false, err
	}
	if err := t.batch.Delete(keyNullifier(nullifier), pebble.NoSync); err != nil {
		return wallet.Note{}, false, fmt.Errorf("rocksdb: delete nullifier: %w", err)
	}
	if err := t.batch.Set(keySpentHeightIndex(height, ref.TxID, ref.OutputIndex), nil, pebble.NoSync); err != nil {
		return wallet.Note{}, false, fmt.Errorf("rocksdb: insert spent index: %w", err)
	}
	return noteFromRecord(rec), true, nil
}

func (t *rocksTx) InsertEvent(ctx context.Context, e wallet.Event) error {
	_ = ctx
	return insertEvent(t.batch, e, t.now)
}

// insertEvent appends an outbox event row on an indexed batch; the
// rewind path uses it too so the event commits with the retraction.
func insertEvent(batch *pebble.Batch, e wallet.Event, now time.Time) error {
	var nextID uint64 = 1
	v, closer, err := batch.Get(keyMeta("next_event_id"))
	if err == nil {
		if len(v) == 8 {
			nextID = binary.BigEndian.Uint64(v)
		}
		_ = closer.Close()
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("rocksdb: get next_event_id: %w", err)
	}

	rec := eventRecord{
		Kind:          e.Kind,
		AccountID:     e.AccountID,
		Height:        e.Height,
		Payload:       e.Payload,
		CreatedAtUnix: now.Unix(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rocksdb: encode event: %w", err)
	}

	evKey := make([]byte, 0, len(eventPrefix)+20)
	evKey = append(evKey, eventPrefix...)
	evKey = appendUint64Fixed20(evKey, nextID)
	if err := batch.Set(evKey, b, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: insert event: %w", err)
	}

	idxKey := make([]byte, 0, len(eventHeightPrefix)+20+1+20)
	idxKey = append(idxKey, eventHeightPrefix...)
	idxKey = appendUint64Fixed20(idxKey, e.Height)
	idxKey = append(idxKey, '/')
	idxKey = appendUint64Fixed20(idxKey, nextID)
	if err := batch.Set(idxKey, nil, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: insert event height index: %w", err)
	}

	if err := batch.Set(keyMeta("next_event_id"), uint64To8(nextID+1), pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: set next_event_id: %w", err)
	}
	return nil
}

func getNote(batch *pebble.Batch, txid string, outputIndex uint32) (noteRecord, bool, error) {
	v, closer, err := batch.Get(keyNote(txid, outputIndex))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return noteRecord{}, false, nil
		}
		return noteRecord{}, false, fmt.Errorf("rocksdb: get note: %w", err)
	}
	var rec noteRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		_ = closer.Close()
		return noteRecord{}, false, fmt.Errorf("rocksdb: decode note: %w", err)
	}
	_ = closer.Close()
	return rec, true, nil
}

func putNote(batch *pebble.Batch, rec noteRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("rocksdb: encode note: %w", err)
	}
	if err := batch.Set(keyNote(rec.TxID, rec.OutputIndex), b, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: put note: %w", err)
	}
	return nil
}

func putNullifierIndex(batch *pebble.Batch, nullifier, txid string, outputIndex uint32) error {
	ref, err := json.Marshal(struct {
		TxID        string `json:"txid"`
		OutputIndex uint32 `json:"output_index"`
	}{TxID: txid, OutputIndex: outputIndex})
	if err != nil {
		return fmt.Errorf("rocksdb: encode nullifier ref: %w", err)
	}
	if err := batch.Set(keyNullifier(nullifier), ref, pebble.NoSync); err != nil {
		return fmt.Errorf("rocksdb: put nullifier: %w", err)
	}
	return nil
}

func noteFromRecord(rec noteRecord) wallet.Note {
	return wallet.Note{
		AccountID:   rec.AccountID,
		TxID:        rec.TxID,
		OutputIndex: rec.OutputIndex,
		Height:      rec.Height,
		Position:    rec.Position,
		Value:       rec.Value,
		MemoHex:     rec.MemoHex,
		Nullifier:   rec.Nullifier,
		SpentHeight: rec.SpentHeight,
		SpentTxID:   rec.SpentTxID,
		CreatedAt:   time.Unix(rec.CreatedAtUnix, 0).UTC(),
	}
}

func keyMeta(name string) []byte {
	b := make([]byte, 0, len(metaPrefix)+len(name))
	b = append(b, metaPrefix...)
	return append(b, name...)
}

func keyViewingKey(accountID string) []byte {
	b := make([]byte, 0, len(viewingKeyPrefix)+len(accountID))
	b = append(b, viewingKeyPrefix...)
	return append(b, accountID...)
}

func keyNote(txid string, outputIndex uint32) []byte {
	b := make([]byte, 0, len(notePrefix)+len(txid)+12)
	b = append(b, notePrefix...)
	b = append(b, txid...)
	b = append(b, '/')
	return strconv.AppendUint(b, uint64(outputIndex), 10)
}

func keyNullifier(nullifier string) []byte {
	b := make([]byte, 0, len(nullifierPrefix)+len(nullifier))
	b = append(b, nullifierPrefix...)
	return append(b, nullifier...)
}

// keyNoteHeightIndex = nh/<height>/<txid>/<output_index>
func keyNoteHeightIndex(height uint64, txid string, outputIndex uint32) []byte {
	return heightIndexKey(noteHeightPrefix, height, txid, outputIndex)
}

// keySpentHeightIndex = sh/<height>/<txid>/<output_index>
func keySpentHeightIndex(height uint64, txid string, outputIndex uint32) []byte {
	return heightIndexKey(spentHeightPrefix, height, txid, outputIndex)
}

func heightIndexKey(prefix []byte, height uint64, txid string, outputIndex uint32) []byte {
	b := make([]byte, 0, len(prefix)+20+1+len(txid)+12)
	b = append(b, prefix...)
	b = appendUint64Fixed20(b, height)
	b = append(b, '/')
	b = append(b, txid...)
	b = append(b, '/')
	return strconv.AppendUint(b, uint64(outputIndex), 10)
}

func parseHeightIndexKey(key, prefix []byte) (txid string, outputIndex uint32, err error) {
	rest := bytes.TrimPrefix(key, prefix)
	parts := bytes.Split(rest, []byte("/"))
	if len(parts) != 3 {
		return "", 0, errors.New("rocksdb: height index malformed")
	}
	idx, err := strconv.ParseUint(string(parts[2]), 10, 32)
	if err != nil {
		return "", 0, errors.New("rocksdb: height index output_index invalid")
	}
	return string(parts[1]), uint32(idx), nil
}

func fixed20FromKey(key, prefix []byte) (uint64, error) {
	rest := bytes.TrimPrefix(key, prefix)
	if len(rest) < 20 {
		return 0, errors.New("rocksdb: malformed fixed20 key")
	}
	n, err := strconv.ParseUint(string(rest[:20]), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("rocksdb: fixed20 key: %w", err)
	}
	return n, nil
}

func appendUint64Fixed20(dst []byte, n uint64) []byte {
	var buf [20]byte
	for i := 19; i >= 0; i-- {
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return append(dst, buf[:]...)
}

func uint64To8(n uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	return b[:]
}

func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte{}, prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return []byte{0xFF}
}
