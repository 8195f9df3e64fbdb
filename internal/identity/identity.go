package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/journalsync/internal/common"
	"github.com/dmitrijs2005/journalsync/internal/logging"
)

// DefaultNote is attached to a freshly created key registration.
const DefaultNote = "this device"

// Registry is the server-side key registry as seen by a device. Register
// sends the full local set and returns the authoritative merged set.
type Registry interface {
	Register(ctx context.Context, keys []KeyInfo) ([]KeyInfo, error)
	Update(ctx context.Context, publicKey, note string) error
	Delete(ctx context.Context, publicKey string) error
}

// Identity is the per-device identity pipeline:
// Uninitialized -> KeyDerived -> Ready. Boot derives keys immediately when
// a persisted mnemonic exists; callers of KeyPair block on a latch until
// derivation has happened.
type Identity struct {
	store    Store
	registry Registry
	log      logging.Logger

	mu    sync.Mutex
	pair  *KeyPair
	ready chan struct{} // closed once the key pair is derived
}

// New creates an identity bound to a local store and the remote registry.
func New(store Store, registry Registry, log logging.Logger) *Identity {
	return &Identity{
		store:    store,
		registry: registry,
		log:      log.With("module", "identity"),
		ready:    make(chan struct{}),
	}
}

// Boot loads a persisted mnemonic, derives the key pair and opens the
// latch. With no mnemonic stored it leaves the identity uninitialized and
// returns nil; callers then use CreateMnemonic or ImportFromMnemonic.
func (i *Identity) Boot(ctx context.Context) error {
	mnemonic, err := i.store.LoadMnemonic(ctx)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pair, err := DeriveKeyPair(mnemonic)
	if err != nil {
		return err
	}
	i.setPair(pair)
	return nil
}

// KeyPair blocks until the identity is ready and returns the derived pair.
// The latch never times out on its own; callers bound the wait via ctx.
func (i *Identity) KeyPair(ctx context.Context) (*KeyPair, error) {
	i.mu.Lock()
	ready := i.ready
	i.mu.Unlock()
	select {
	case <-ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pair, nil
}

// Ready reports whether the key pair has been derived, without blocking.
func (i *Identity) Ready() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	select {
	case <-i.ready:
		return true
	default:
		return false
	}
}

func (i *Identity) setPair(pair *KeyPair) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.pair = pair
	select {
	case <-i.ready:
	default:
		close(i.ready)
	}
}

// CreateMnemonic generates a fresh mnemonic, derives keys, persists the
// mnemonic, registers the public key locally, then syncs the key set to the
// server in the background.
func (i *Identity) CreateMnemonic(ctx context.Context) (string, error) {
	mnemonic, err := NewMnemonic()
	if err != nil {
		return "", err
	}
	if err := i.adopt(ctx, mnemonic, DefaultNote); err != nil {
		return "", err
	}
	return mnemonic, nil
}

// ImportFromMnemonic validates the given phrase (checksum included),
// derives the same keys any other device would, and performs the same
// local-then-remote registration as CreateMnemonic.
func (i *Identity) ImportFromMnemonic(ctx context.Context, mnemonic, note string) error {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return err
	}
	if note == "" {
		note = DefaultNote
	}
	return i.adopt(ctx, mnemonic, note)
}

func (i *Identity) adopt(ctx context.Context, mnemonic, note string) error {
	pair, err := DeriveKeyPair(mnemonic)
	if err != nil {
		return err
	}
	if err := i.store.SaveMnemonic(ctx, mnemonic); err != nil {
		return err
	}
	now := time.Now()
	info := KeyInfo{PublicKey: pair.PublicKeyHex(), Note: note, CreatedAt: now, UpdatedAt: now}
	if err := i.store.UpsertKey(ctx, info); err != nil {
		return err
	}
	i.setPair(pair)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := i.SyncPublicKeys(ctx); err != nil {
			i.log.Warn(ctx, "background public key sync failed", "error", err)
		}
	}()
	return nil
}

// Clear wipes the identity and recreates it from a fresh mnemonic. Reset
// is destroy-and-recreate; the identity is never left half-initialized.
func (i *Identity) Clear(ctx context.Context) (string, error) {
	i.mu.Lock()
	if i.pair != nil {
		i.pair.Wipe()
		i.pair = nil
	}
	i.ready = make(chan struct{})
	i.mu.Unlock()

	if err := i.store.DeleteMnemonic(ctx); err != nil {
		return "", err
	}
	if err := i.store.ReplaceKeys(ctx, nil); err != nil {
		return "", err
	}
	return i.CreateMnemonic(ctx)
}

// SyncPublicKeys sends the full local key set to the server and overwrites
// the local cache with the authoritative merged response. The server
// enforces the tier's vault limit during the merge.
func (i *Identity) SyncPublicKeys(ctx context.Context) error {
	local, err := i.store.ListKeys(ctx)
	if err != nil {
		return err
	}
	merged, err := i.registry.Register(ctx, local)
	if err != nil {
		return err
	}
	return i.store.ReplaceKeys(ctx, merged)
}

// Keys lists the locally cached registered keys.
func (i *Identity) Keys(ctx context.Context) ([]KeyInfo, error) {
	return i.store.ListKeys(ctx)
}

// UpdatePublicKey changes a key's note locally, then fires a best-effort
// remote update. A remote failure is logged, never surfaced: local state
// stays authoritative until the next full sync.
func (i *Identity) UpdatePublicKey(ctx context.Context, publicKey, note string) error {
	if err := i.store.UpdateNote(ctx, publicKey, note); err != nil {
		return err
	}
	i.bestEffort(ctx, "update public key", func(ctx context.Context) error {
		return i.registry.Update(ctx, publicKey, note)
	})
	return nil
}

// DeletePublicKey removes a key locally, then fires a best-effort remote
// delete.
func (i *Identity) DeletePublicKey(ctx context.Context, publicKey string) error {
	if err := i.store.DeleteKey(ctx, publicKey); err != nil {
		return err
	}
	i.bestEffort(ctx, "delete public key", func(ctx context.Context) error {
		return i.registry.Delete(ctx, publicKey)
	})
	return nil
}

// bestEffort retries the remote call with exponential backoff and logs the
// terminal failure instead of returning it.
func (i *Identity) bestEffort(ctx context.Context, op string, fn func(ctx context.Context) error) {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		return retry.RetryableError(fn(ctx))
	})
	if err != nil {
		i.log.Warn(ctx, "best-effort remote call failed", "op", op, "error", err)
	}
}
