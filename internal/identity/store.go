package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/journalsync/internal/common"
	"github.com/dmitrijs2005/journalsync/internal/dbx"
)

// KeyInfo describes one registered public key ("vault") as the client
// sees it.
type KeyInfo struct {
	PublicKey string    `json:"public_key"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists the device's mnemonic and its cache of registered public
// keys. The cache is overwritten wholesale after each full server sync.
type Store interface {
	SaveMnemonic(ctx context.Context, mnemonic string) error
	LoadMnemonic(ctx context.Context) (string, error)
	DeleteMnemonic(ctx context.Context) error

	UpsertKey(ctx context.Context, info KeyInfo) error
	UpdateNote(ctx context.Context, publicKey, note string) error
	DeleteKey(ctx context.Context, publicKey string) error
	ListKeys(ctx context.Context) ([]KeyInfo, error)
	ReplaceKeys(ctx context.Context, keys []KeyInfo) error
}

const storeSchema = `
CREATE TABLE IF NOT EXISTS identity_secrets (
	name TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS public_keys (
	public_key TEXT PRIMARY KEY,
	note TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// SQLiteStore is the SQLite-backed Store used by devices. It shares the
// client's journal database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore binds a store to an open database and ensures the schema.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, storeSchema); err != nil {
		return nil, fmt.Errorf("init identity schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveMnemonic(ctx context.Context, mnemonic string) error {
	query := `INSERT INTO identity_secrets (name, value) VALUES ('mnemonic', ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, query, mnemonic); err != nil {
		return fmt.Errorf("failed to save mnemonic: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadMnemonic(ctx context.Context) (string, error) {
	var mnemonic string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM identity_secrets WHERE name = 'mnemonic'`).Scan(&mnemonic)
	if errors.Is(err, sql.ErrNoRows) {
		return "", common.ErrorNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to load mnemonic: %w", err)
	}
	return mnemonic, nil
}

func (s *SQLiteStore) DeleteMnemonic(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM identity_secrets WHERE name = 'mnemonic'`); err != nil {
		return fmt.Errorf("failed to delete mnemonic: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpsertKey(ctx context.Context, info KeyInfo) error {
	query := `INSERT INTO public_keys (public_key, note, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(public_key) DO UPDATE SET note = excluded.note, updated_at = excluded.updated_at`
	_, err := s.db.ExecContext(ctx, query,
		info.PublicKey, info.Note, info.CreatedAt.UnixMilli(), info.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert public key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateNote(ctx context.Context, publicKey, note string) error {
	query := `UPDATE public_keys SET note = ?, updated_at = ? WHERE public_key = ?`
	res, err := s.db.ExecContext(ctx, query, note, time.Now().UnixMilli(), publicKey)
	if err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteKey(ctx context.Context, publicKey string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM public_keys WHERE public_key = ?`, publicKey); err != nil {
		return fmt.Errorf("failed to delete public key: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT public_key, note, created_at, updated_at FROM public_keys ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to select public keys: %w", err)
	}
	defer rows.Close()

	var result []KeyInfo
	for rows.Next() {
		var info KeyInfo
		var created, updated int64
		if err := rows.Scan(&info.PublicKey, &info.Note, &created, &updated); err != nil {
			return nil, err
		}
		info.CreatedAt = time.UnixMilli(created)
		info.UpdatedAt = time.UnixMilli(updated)
		result = append(result, info)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ReplaceKeys overwrites the whole cache with the authoritative server set,
// inside one transaction.
func (s *SQLiteStore) ReplaceKeys(ctx context.Context, keys []KeyInfo) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM public_keys`); err != nil {
			return fmt.Errorf("failed to clear public keys: %w", err)
		}
		for _, info := range keys {
			query := `INSERT INTO public_keys (public_key, note, created_at, updated_at)
				VALUES (?, ?, ?, ?)`
			_, err := tx.ExecContext(ctx, query,
				info.PublicKey, info.Note, info.CreatedAt.UnixMilli(), info.UpdatedAt.UnixMilli())
			if err != nil {
				return fmt.Errorf("failed to insert public key: %w", err)
			}
		}
		return nil
	})
}
