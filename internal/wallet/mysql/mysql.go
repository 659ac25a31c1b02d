//go:build mysql

// Package mysql backs the wallet store with MySQL via database/sql.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	driver "github.com/go-sql-driver/mysql"

	"github.com/Abdullah1738/juno-sync/internal/wallet"
)

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mysql: dsn is required")
	}

	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql: parse dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("mysql: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mysql: ping: %w", err)
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
	return applyMigrations(ctx, s.db)
}

func (s *Store) WithTx(ctx context.Context, fn func(wallet.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mysql: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&myTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mysql: commit: %w", err)
	}
	return nil
}

func (s *Store) UpsertViewingKey(ctx context.Context, accountID, key string) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO viewing_keys (account_id, `key`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `key` = VALUES(`key`)", accountID, key)
	if err != nil {
		return fmt.Errorf("mysql: upsert viewing key: %w", err)
	}
	return nil
}

func (s *Store) ListViewingKeys(ctx context.Context) ([]wallet.ViewingKey, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT account_id, `key`, created_at FROM viewing_keys ORDER BY account_id")
	if err != nil {
		return nil, fmt.Errorf("mysql: list viewing keys: %w", err)
	}
	defer rows.Close()

	var out []wallet.ViewingKey
	for rows.Next() {
		var vk wallet.ViewingKey
		if err := rows.Scan(&vk.AccountID, &vk.Key, &vk.CreatedAt); err != nil {
			return nil, fmt.Errorf("mysql: list viewing keys: %w", err)
		}
		out = append(out, vk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql: list viewing keys: %w", err)
	}
	return out, nil
}

func (s *Store) Checkpoint(ctx context.Context) (wallet.Checkpoint, bool, error) {
	var cp wallet.Checkpoint
	if err := s.db.QueryRowContext(ctx, `SELECT height, hash FROM blocks ORDER BY height DESC LIMIT 1`).Scan(&cp.Height, &cp.Hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return wallet.Checkpoint{}, false, nil
		}
		return wallet.Checkpoint{}, false, fmt.Errorf("mysql: checkpoint: %w", err)
	}
	return cp, true, nil
}

func (s *Store) BlockHashAt(ctx context.Context, height uint64) (string, bool, error) {
	var hash string
	if err := s.db.QueryRowContext(ctx, `SELECT hash FROM blocks WHERE height = ?`, height).Scan(&hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("mysql: block hash at %d: %w", height, err)
	}
	return hash, true, nil
}

const noteColumns = `account_id, txid, output_index, height, position, value_zat, memo_hex, nullifier, spent_height, spent_txid, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (wallet.Note, error) {
	var n wallet.Note
	var memo sql.NullString
	var spentHeight sql.NullInt64
	var spentTxID sql.NullString
	if err := row.Scan(
		&n.AccountID,
		&n.TxID,
		&n.OutputIndex,
		&n.Height,
		&n.Position,
		&n.Value,
		&memo,
		&n.Nullifier,
		&spentHeight,
		&spentTxID,
		&n.CreatedAt,
	); err != nil {
		return wallet.Note{}, err
	}
	if memo.Valid {
		n.MemoHex = memo.String
	}
	if spentHeight.Valid {
		h := uint64(spentHeight.Int64)
		n.SpentHeight = &h
	}
	if spentTxID.Valid {
		txid := spentTxID.String
		n.SpentTxID = &txid
	}
	return n, nil
}

func (s *Store) ListNotes(ctx context.Context, accountID string, onlyUnspent bool, limit int) ([]wallet.Note, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}

	query := `SELECT ` + noteColumns + ` FROM notes WHERE account_id = ?`
	if onlyUnspent {
		query += ` AND spent_height IS NULL`
	}
	query += ` ORDER BY height, position LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("mysql: list notes: %w", err)
	}
	defer rows.Close()

	var out []wallet.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("mysql: list notes: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mysql: list notes: %w", err)
	}
	return out, nil
}

func (s *Store) Balance(ctx context.Context, accountID string) (int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(value_zat), 0) FROM notes WHERE account_id = ? AND spent_height IS NULL
`, accountID).Scan(&total); err != nil {
		return 0, fmt.Errorf("mysql: balance: %w", err)
	}
	return total, nil
}

func (s *Store) RewindToHeight(ctx context.Context, height uint64, ev *wallet.Event) error {
	return s.WithTx(ctx, func(tx wallet.Tx) error {
		mytx := tx.(*myTx)

		if _, err := mytx.tx.ExecContext(ctx, `DELETE FROM events WHERE height > ?`, height); err != nil {
			return fmt.Errorf("mysql: rewind events: %w", err)
		}
		if _, err := mytx.tx.ExecContext(ctx, `DELETE FROM commitments WHERE height > ?`, height); err != nil {
			return fmt.Errorf("mysql: rewind commitments: %w", err)
		}
		if _, err := mytx.tx.ExecContext(ctx, `DELETE FROM notes WHERE height > ?`, height); err != nil {
			return fmt.Errorf("mysql: rewind notes: %w", err)
		}
		if _, err := mytx.tx.ExecContext(ctx, `UPDATE notes SET spent_height = NULL, spent_txid = NULL WHERE spent_height > ?`, height); err != nil {
			return fmt.Errorf("mysql: rewind unspend: %w", err)
		}
		if _, err := mytx.tx.ExecContext(ctx, `DELETE FROM blocks WHERE height > ?`, height); err != nil {
			return fmt.Errorf("mysql: rewind blocks: %w", err)
		}
		if ev != nil {
			return tx.InsertEvent(ctx, *ev)
		}
		return nil
	})
}

func (s *Store) EventPublishCursor(ctx context.Context) (int64, error) {
	var cursor int64
	if err := s.db.QueryRowContext(ctx, "SELECT `cursor` FROM event_publish_cursor").Scan(&cursor); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("mysql: get publish cursor: %w", err)
	}
	return cursor, nil
}

func (s *Store) SetEventPublishCursor(ctx context.Context, cursor int64) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO event_publish_cursor (singleton, `cursor`) VALUES (TRUE, ?) ON DUPLICATE KEY UPDATE `cursor` = VALUES(`cursor`)", cursor)
	if err != nil {
		return fmt.Errorf("mysql: set publish cursor: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, afterID int64, limit int) ([]wallet.Event, int64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, kind, account_id, height, payload, created_at
FROM events
WHERE id > ?
ORDER BY id
LIMIT ?
`, afterID, limit)
	if err != nil {
		return nil, afterID, fmt.Errorf("mysql: list events: %w", err)
	}
	defer rows.Close()

	var events []wallet.Event
	nextCursor := afterID
	for rows.Next() {
		var e wallet.Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Kind, &e.AccountID, &e.Height, &payload, &e.CreatedAt); err != nil {
			return nil, afterID, fmt.Errorf("mysql: list events: %w", err)
		}
		e.Payload = payload
		nextCursor = e.ID
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, afterID, fmt.Errorf("mysql: list events: %w", err)
	}
	return events, nextCursor, nil
}

type myTx struct {
	tx *sql.Tx
}

func (t *myTx) AdvanceCheckpoint(ctx context.Context, cp wallet.Checkpoint) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO blocks (height, hash)
VALUES (?, ?)
ON DUPLICATE KEY UPDATE hash = VALUES(hash)
`, cp.Height, cp.Hash)
	if err != nil {
		return fmt.Errorf("mysql: advance checkpoint: %w", err)
	}
	return nil
}

func (t *myTx) NextCommitmentPosition(ctx context.Context) (uint64, error) {
	var nextPos uint64
	if err := t.tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position) + 1, 0) FROM commitments`).Scan(&nextPos); err != nil {
		return 0, fmt.Errorf("mysql: next position: %w", err)
	}
	return nextPos, nil
}

func (t *myTx) InsertCommitment(ctx context.Context, c wallet.Commitment) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT IGNORE INTO commitments (position, height, txid, output_index, cmu)
VALUES (?, ?, ?, ?, ?)
`, c.Position, c.Height, c.TxID, c.OutputIndex, c.Cmu)
	if err != nil {
		return fmt.Errorf("mysql: insert commitment: %w", err)
	}
	return nil
}

func (t *myTx) InsertNote(ctx context.Context, n wallet.Note) error {
	var memo any
	if n.MemoHex != "" {
		memo = n.MemoHex
	}
	_, err := t.tx.ExecContext(ctx, `
INSERT IGNORE INTO notes (account_id, txid, output_index, height, position, value_zat, memo_hex, nullifier)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, n.AccountID, n.TxID, n.OutputIndex, n.Height, n.Position, n.Value, memo, n.Nullifier)
	if err != nil {
		return fmt.Errorf("mysql: insert note: %w", err)
	}
	return nil
}

func (t *myTx) MarkNoteSpent(ctx context.Context, nullifier string, height uint64, txid string) (wallet.Note, bool, error) {
	row := t.tx.QueryRowContext(ctx, `
SELECT `+noteColumns+` FROM notes WHERE nullifier = ? AND spent_height IS NULL FOR UPDATE
`, nullifier)

	n, err := scanNote(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return wallet.Note{}, false, nil
		}
		return wallet.Note{}, false, fmt.Errorf("mysql: mark spent: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, `
UPDATE notes SET spent_height = ?, spent_txid = ? WHERE txid = ? AND output_index = ?
`, height, txid, n.TxID, n.OutputIndex); err != nil {
		return wallet.Note{}, false, fmt.Errorf("mysql: mark spent: %w", err)
	}

	h := height
	spentTxID := txid
	n.SpentHeight = &h
	n.SpentTxID = &spentTxID
	return n, true, nil
}

func (t *myTx) InsertEvent(ctx context.Context, e wallet.Event) error {
	_, err := t.tx.ExecContext(ctx, `
INSERT INTO events (kind, account_id, height, payload)
VALUES (?, ?, ?, ?)
`, e.Kind, e.AccountID, e.Height, string(e.Payload))
	if err != nil {
		return fmt.Errorf("mysql: insert event: %w", err)
	}
	return nil
}
