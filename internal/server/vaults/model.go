// Package vaults implements the server-side registry of public keys: one
// vault per registered device key, bounded by the owner's subscription
// tier.
package vaults

import "time"

// Vault is one registered public key belonging to a user, with its sync
// statistics.
type Vault struct {
	UserUniqueID    string
	PublicKey       string
	Note            string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastSyncedAt    *time.Time
	SyncCount       int64
	UsedStorageSize int64
	MaxStorageSize  int64
}

// Tier holds the capacity limits of a user's subscription. It is supplied
// by the subscription system and only ever read here.
type Tier struct {
	MaxVaults       int
	MaxStorageBytes int64
	MaxDevices      int
}

// Item is one candidate key in a register request.
type Item struct {
	PublicKey string
	Note      string
}

// RegisterResult reports the merged set after tier enforcement, plus
// per-item outcome counts. Partial success is expected: individual item
// failures are skipped, not fatal.
type RegisterResult struct {
	Vaults   []Vault
	Accepted int
	Skipped  int
}
