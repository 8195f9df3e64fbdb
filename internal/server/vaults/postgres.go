package vaults

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/journalsync/internal/common"
	"github.com/dmitrijs2005/journalsync/internal/dbx"
)

// PostgresRepository implements Repository over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, v *Vault) error {
	query := `
		INSERT INTO vaults (user_unique_id, public_key, note, created_at, updated_at, max_storage_size)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_unique_id, public_key)
		DO UPDATE SET
			note = EXCLUDED.note,
			updated_at = EXCLUDED.updated_at;
	`
	_, err := r.db.ExecContext(ctx, query,
		v.UserUniqueID, v.PublicKey, v.Note, v.CreatedAt, v.UpdatedAt, v.MaxStorageSize)
	if err != nil {
		return fmt.Errorf("failed to upsert vault: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByKey(ctx context.Context, userUniqueID, publicKey string) (*Vault, error) {
	query := `
		SELECT user_unique_id, public_key, note, created_at, updated_at,
			last_synced_at, sync_count, used_storage_size, max_storage_size
		FROM vaults WHERE user_unique_id = $1 AND public_key = $2
	`
	row := r.db.QueryRowContext(ctx, query, userUniqueID, publicKey)

	var v Vault
	err := row.Scan(&v.UserUniqueID, &v.PublicKey, &v.Note, &v.CreatedAt, &v.UpdatedAt,
		&v.LastSyncedAt, &v.SyncCount, &v.UsedStorageSize, &v.MaxStorageSize)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select vault: %w", err)
	}
	return &v, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userUniqueID string) ([]Vault, error) {
	query := `
		SELECT user_unique_id, public_key, note, created_at, updated_at,
			last_synced_at, sync_count, used_storage_size, max_storage_size
		FROM vaults WHERE user_unique_id = $1 ORDER BY created_at ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userUniqueID)
	if err != nil {
		return nil, fmt.Errorf("failed to select vaults: %w", err)
	}
	defer rows.Close()

	var result []Vault
	for rows.Next() {
		var v Vault
		if err := rows.Scan(&v.UserUniqueID, &v.PublicKey, &v.Note, &v.CreatedAt, &v.UpdatedAt,
			&v.LastSyncedAt, &v.SyncCount, &v.UsedStorageSize, &v.MaxStorageSize); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userUniqueID, publicKey string) error {
	query := `DELETE FROM vaults WHERE user_unique_id = $1 AND public_key = $2`
	if _, err := r.db.ExecContext(ctx, query, userUniqueID, publicKey); err != nil {
		return fmt.Errorf("failed to delete vault: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Touch(ctx context.Context, userUniqueID, publicKey string, usedStorageSize int64) error {
	query := `
		UPDATE vaults SET last_synced_at = NOW(), sync_count = sync_count + 1,
			used_storage_size = $3, updated_at = NOW()
		WHERE user_unique_id = $1 AND public_key = $2
	`
	if _, err := r.db.ExecContext(ctx, query, userUniqueID, publicKey, usedStorageSize); err != nil {
		return fmt.Errorf("failed to touch vault: %w", err)
	}
	return nil
}
