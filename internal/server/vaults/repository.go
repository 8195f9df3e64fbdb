package vaults

import "context"

// Repository describes vault persistence. The Postgres implementation is
// the production one; tests use it against an in-memory fake.
type Repository interface {
	// Upsert inserts a vault or refreshes note/updated_at for an existing
	// (user, key) pair.
	Upsert(ctx context.Context, v *Vault) error

	// GetByKey returns the vault for (userUniqueID, publicKey), or
	// common.ErrorNotFound.
	GetByKey(ctx context.Context, userUniqueID, publicKey string) (*Vault, error)

	// ListByUser returns the user's vaults ordered by creation time.
	ListByUser(ctx context.Context, userUniqueID string) ([]Vault, error)

	// Delete removes a vault row; deleting a missing row is a no-op.
	Delete(ctx context.Context, userUniqueID, publicKey string) error

	// Touch updates sync stats after a successful sync.
	Touch(ctx context.Context, userUniqueID, publicKey string, usedStorageSize int64) error
}
