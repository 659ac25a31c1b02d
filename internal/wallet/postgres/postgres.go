// Package postgres backs the wallet store with PostgreSQL via pgx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/Abdullah1738/juno-sync/internal/db/migrate"
	"github.com/Abdullah1738/juno-sync/internal/wallet"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string, schema string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres: dsn is required")
	}
	if strings.TrimSpace(schema) == "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres: connect: %w", err)
		}
		return &Store{pool: pool}, nil
	}

	adminConn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if _, err := adminConn.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{schema}.Sanitize()); err != nil {
		_ = adminConn.Close(ctx)
		return nil, fmt.Errorf("postgres: create schema: %w", err)
	}
	_ = adminConn.Close(ctx)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse: %w", err)
	}
	if poolCfg.ConnConfig.RuntimeParams == nil {
		poolCfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolCfg.ConnConfig.RuntimeParams["search_path"] = schema

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *Store) Migrate(ctx context.Context) error {
	return migrate.Apply(ctx, s.pool)
}

func (s *Store) WithTx(ctx context.Context, fn func(wallet.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (s *Store) UpsertViewingKey(ctx context.Context, accountID, key string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO viewing_keys (account_id, key)
VALUES ($1, $2)
ON CONFLICT (account_id)
DO UPDATE SET key = EXCLUDED.key
`, accountID, key)
	if err != nil {
		return fmt.Errorf("postgres: upsert viewing key: %w", err)
	}
	return nil
}

func (s *Store) ListViewingKeys(ctx context.Context) ([]wallet.ViewingKey, error) {
	rows, err := s.pool.Query(ctx, `SELECT account_id, key, created_at FROM viewing_keys ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list viewing keys: %w", err)
	}
	defer rows.Close()

	var out []wallet.ViewingKey
	for rows.Next() {
		var vk wallet.ViewingKey
		if err := rows.Scan(&vk.AccountID, &vk.Key, &vk.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: list viewing keys: %w", err)
		}
		out = append(out, vk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list viewing keys: %w", err)
	}
	return out, nil
}

func (s *Store) Checkpoint(ctx context.Context) (wallet.Checkpoint, bool, error) {
	var cp wallet.Checkpoint
	if err := s.pool.QueryRow(ctx, `SELECT height, hash FROM blocks ORDER BY height DESC LIMIT 1`).Scan(&cp.Height, &cp.Hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Checkpoint{}, false, nil
		}
		return wallet.Checkpoint{}, false, fmt.Errorf("postgres: checkpoint: %w", err)
	}
	return cp, true, nil
}

func (s *Store) BlockHashAt(ctx context.Context, height uint64) (string, bool, error) {
	var hash string
	if err := s.pool.QueryRow(ctx, `SELECT hash FROM blocks WHERE height = $1`, height).Scan(&hash); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("postgres: block hash at %d: %w", height, err)
	}
	return hash, true, nil
}

const noteColumns = `account_id, txid, output_index, height, position, value_zat, memo_hex, nullifier, spent_height, spent_txid, created_at`

func scanNote(row pgx.Row) (wallet.Note, error) {
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

	query := `SELECT ` + noteColumns + ` FROM notes WHERE account_id = $1`
	if onlyUnspent {
		query += ` AND spent_height IS NULL`
	}
	query += ` ORDER BY height, position LIMIT $2`

	rows, err := s.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list notes: %w", err)
	}
	defer rows.Close()

	var out []wallet.Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list notes: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list notes: %w", err)
	}
	return out, nil
}

func (s *Store) Balance(ctx context.Context, accountID string) (int64, error) {
	var total int64
	if err := s.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(value_zat), 0) FROM notes WHERE account_id = $1 AND spent_height IS NULL
`, accountID).Scan(&total); err != nil {
		return 0, fmt.Errorf("postgres: balance: %w", err)
	}
	return total, nil
}

func (s *Store) RewindToHeight(ctx context.Context, height uint64, ev *wallet.Event) error {
	return s.WithTx(ctx, func(tx wallet.Tx) error {
		pgtx := tx.(*pgTx)

		if _, err := pgtx.tx.Exec(ctx, `DELETE FROM events WHERE height > $1`, height); err != nil {
			return fmt.Errorf("postgres: rewind events: %w", err)
		}
		if _, err := pgtx.tx.Exec(ctx, `DELETE FROM commitments WHERE height > $1`, height); err != nil {
			return fmt.Errorf("postgres: rewind commitments: %w", err)
		}
		if _, err := pgtx.tx.Exec(ctx, `DELETE FROM notes WHERE height > $1`, height); err != nil {
			return fmt.Errorf("postgres: rewind notes: %w", err)
		}
		if _, err := pgtx.tx.Exec(ctx, `UPDATE notes SET spent_height = NULL, spent_txid = NULL WHERE spent_height > $1`, height); err != nil {
			return fmt.Errorf("postgres: rewind unspend: %w", err)
		}
		if _, err := pgtx.tx.Exec(ctx, `DELETE FROM blocks WHERE height > $1`, height); err != nil {
			return fmt.Errorf("postgres: rewind blocks: %w", err)
		}
		if ev != nil {
			return tx.InsertEvent(ctx, *ev)
		}
		return nil
	})
}

func (s *Store) EventPublishCursor(ctx context.Context) (int64, error) {
	var cursor int64
	if err := s.pool.QueryRow(ctx, `SELECT cursor FROM event_publish_cursor`).Scan(&cursor); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: get publish cursor: %w", err)
	}
	return cursor, nil
}

func (s *Store) SetEventPublishCursor(ctx context.Context, cursor int64) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO event_publish_cursor (singleton, cursor)
VALUES (TRUE, $1)
ON CONFLICT (singleton)
DO UPDATE SET cursor = EXCLUDED.cursor, updated_at = now()
`, cursor)
	if err != nil {
		return fmt.Errorf("postgres: set publish cursor: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, afterID int64, limit int) ([]wallet.Event, int64, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
SELECT id, kind, account_id, height, payload, created_at
FROM events
WHERE id > $1
ORDER BY id
LIMIT $2
`, afterID, limit)
	if err != nil {
		return nil, afterID, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []wallet.Event
	nextCursor := afterID
	for rows.Next() {
		var e wallet.Event
		if err := rows.Scan(&e.ID, &e.Kind, &e.AccountID, &e.Height, &e.Payload, &e.CreatedAt); err != nil {
			return nil, afterID, fmt.Errorf("postgres: list events: %w", err)
		}
		nextCursor = e.ID
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, afterID, fmt.Errorf("postgres: list events: %w", err)
	}
	return events, nextCursor, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) AdvanceCheckpoint(ctx context.Context, cp wallet.Checkpoint) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO blocks (height, hash)
VALUES ($1, $2)
ON CONFLICT (height) DO UPDATE SET hash = EXCLUDED.hash
`, cp.Height, cp.Hash)
	if err != nil {
		return fmt.Errorf("postgres: advance checkpoint: %w", err)
	}
	return nil
}

func (t *pgTx) NextCommitmentPosition(ctx context.Context) (uint64, error) {
	var nextPos uint64
	if err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(position) + 1, 0) FROM commitments`).Scan(&nextPos); err != nil {
		return 0, fmt.Errorf("postgres: next position: %w", err)
	}
	return nextPos, nil
}

func (t *pgTx) InsertCommitment(ctx context.Context, c wallet.Commitment) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO commitments (position, height, txid, output_index, cmu)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (position) DO NOTHING
`, c.Position, c.Height, c.TxID, c.OutputIndex, c.Cmu)
	if err != nil {
		return fmt.Errorf("postgres: insert commitment: %w", err)
	}
	return nil
}

func (t *pgTx) InsertNote(ctx context.Context, n wallet.Note) error {
	var memo any
	if n.MemoHex != "" {
		memo = n.MemoHex
	}
	_, err := t.tx.Exec(ctx, `
INSERT INTO notes (account_id, txid, output_index, height, position, value_zat, memo_hex, nullifier)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (txid, output_index) DO NOTHING
`, n.AccountID, n.TxID, n.OutputIndex, n.Height, n.Position, n.Value, memo, n.Nullifier)
	if err != nil {
		return fmt.Errorf("postgres: insert note: %w", err)
	}
	return nil
}

func (t *pgTx) MarkNoteSpent(ctx context.Context, nullifier string, height uint64, txid string) (wallet.Note, bool, error) {
	row := t.tx.QueryRow(ctx, `
UPDATE notes
SET spent_height = $1, spent_txid = $2
WHERE nullifier = $3 AND spent_height IS NULL
RETURNING `+noteColumns+`
`, height, txid, nullifier)

	n, err := scanNote(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Note{}, false, nil
		}
		return wallet.Note{}, false, fmt.Errorf("postgres: mark spent: %w", err)
	}
	return n, true, nil
}

func (t *pgTx) InsertEvent(ctx context.Context, e wallet.Event) error {
	_, err := t.tx.Exec(ctx, `
INSERT INTO events (kind, account_id, height, payload)
VALUES ($1, $2, $3, $4::jsonb)
`, e.Kind, e.AccountID, e.Height, string(e.Payload))
	if err != nil {
		return fmt.Errorf("postgres: insert event: %w", err)
	}
	return nil
}
