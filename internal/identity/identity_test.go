package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/journalsync/internal/logging"

	_ "modernc.org/sqlite"
)

type fakeRegistry struct {
	mu       sync.Mutex
	merged   []KeyInfo
	fail     bool
	updates  []string
	deletes  []string
	register int
}

func (f *fakeRegistry) Register(ctx context.Context, keys []KeyInfo) ([]KeyInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.register++
	if f.fail {
		return nil, errors.New("registry unavailable")
	}
	if f.merged != nil {
		return f.merged, nil
	}
	return keys, nil
}

func (f *fakeRegistry) Update(ctx context.Context, publicKey, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("registry unavailable")
	}
	f.updates = append(f.updates, publicKey)
	return nil
}

func (f *fakeRegistry) Delete(ctx context.Context, publicKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("registry unavailable")
	}
	f.deletes = append(f.deletes, publicKey)
	return nil
}

func setupIdentity(t *testing.T) (*Identity, *SQLiteStore, *fakeRegistry) {
	t.Helper()
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteStore(context.Background(), db)
	require.NoError(t, err)

	reg := &fakeRegistry{}
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	return New(store, reg, log), store, reg
}

func TestIdentity_BootWithoutMnemonicStaysUninitialized(t *testing.T) {
	id, _, _ := setupIdentity(t)
	ctx := context.Background()

	require.NoError(t, id.Boot(ctx))
	assert.False(t, id.Ready())

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err := id.KeyPair(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIdentity_CreateMnemonicDerivesAndRegisters(t *testing.T) {
	id, store, _ := setupIdentity(t)
	ctx := context.Background()

	mnemonic, err := id.CreateMnemonic(ctx)
	require.NoError(t, err)
	require.NoError(t, ValidateMnemonic(mnemonic))
	assert.True(t, id.Ready())

	pair, err := id.KeyPair(ctx)
	require.NoError(t, err)

	keys, err := store.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, pair.PublicKeyHex(), keys[0].PublicKey)
	assert.Equal(t, DefaultNote, keys[0].Note)

	stored, err := store.LoadMnemonic(ctx)
	require.NoError(t, err)
	assert.Equal(t, mnemonic, stored)
}

func TestIdentity_BootDerivesSameKeys(t *testing.T) {
	id, store, _ := setupIdentity(t)
	ctx := context.Background()

	mnemonic, err := id.CreateMnemonic(ctx)
	require.NoError(t, err)
	pair, err := id.KeyPair(ctx)
	require.NoError(t, err)

	reg := &fakeRegistry{}
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	rebooted := New(store, reg, log)
	require.NoError(t, rebooted.Boot(ctx))
	assert.True(t, rebooted.Ready())

	pair2, err := rebooted.KeyPair(ctx)
	require.NoError(t, err)
	assert.Equal(t, pair.PublicKeyHex(), pair2.PublicKeyHex())
	_ = mnemonic
}

func TestIdentity_ImportRejectsInvalidMnemonic(t *testing.T) {
	id, _, _ := setupIdentity(t)
	err := id.ImportFromMnemonic(context.Background(), "twelve bogus words that cannot possibly pass the checksum test here", "laptop")
	assert.Error(t, err)
	assert.False(t, id.Ready())
}

func TestIdentity_ImportMatchesCreate(t *testing.T) {
	id, _, _ := setupIdentity(t)
	ctx := context.Background()

	mnemonic, err := id.CreateMnemonic(ctx)
	require.NoError(t, err)
	pair, err := id.KeyPair(ctx)
	require.NoError(t, err)

	other, _, _ := setupOther(t)
	require.NoError(t, other.ImportFromMnemonic(ctx, mnemonic, "second device"))
	pair2, err := other.KeyPair(ctx)
	require.NoError(t, err)

	assert.Equal(t, pair.PublicKeyHex(), pair2.PublicKeyHex())
}

// setupOther builds a second identity with its own database.
func setupOther(t *testing.T) (*Identity, *SQLiteStore, *fakeRegistry) {
	t.Helper()
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s-other?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteStore(context.Background(), db)
	require.NoError(t, err)
	reg := &fakeRegistry{}
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	return New(store, reg, log), store, reg
}

func TestIdentity_ClearRecreates(t *testing.T) {
	id, store, _ := setupIdentity(t)
	ctx := context.Background()

	m1, err := id.CreateMnemonic(ctx)
	require.NoError(t, err)
	p1, err := id.KeyPair(ctx)
	require.NoError(t, err)
	k1 := p1.PublicKeyHex()

	m2, err := id.Clear(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, m1, m2)
	assert.True(t, id.Ready())

	p2, err := id.KeyPair(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, k1, p2.PublicKeyHex())

	keys, err := store.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, p2.PublicKeyHex(), keys[0].PublicKey)
}

func TestIdentity_SyncPublicKeysOverwritesCache(t *testing.T) {
	id, store, reg := setupIdentity(t)
	ctx := context.Background()

	_, err := id.CreateMnemonic(ctx)
	require.NoError(t, err)

	now := time.Now()
	reg.mu.Lock()
	reg.merged = []KeyInfo{
		{PublicKey: "aa", Note: "kept by server", CreatedAt: now, UpdatedAt: now},
		{PublicKey: "bb", Note: "another device", CreatedAt: now, UpdatedAt: now},
	}
	reg.mu.Unlock()

	require.NoError(t, id.SyncPublicKeys(ctx))

	keys, err := store.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "aa", keys[0].PublicKey)
	assert.Equal(t, "bb", keys[1].PublicKey)
}

func TestIdentity_UpdatePublicKeyIsLocalFirst(t *testing.T) {
	id, store, reg := setupIdentity(t)
	ctx := context.Background()

	_, err := id.CreateMnemonic(ctx)
	require.NoError(t, err)
	pair, err := id.KeyPair(ctx)
	require.NoError(t, err)

	// Remote failures must not surface to the caller.
	reg.mu.Lock()
	reg.fail = true
	reg.mu.Unlock()

	require.NoError(t, id.UpdatePublicKey(ctx, pair.PublicKeyHex(), "renamed"))

	keys, err := store.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "renamed", keys[0].Note)
}

func TestIdentity_DeletePublicKeyIsLocalFirst(t *testing.T) {
	id, store, reg := setupIdentity(t)
	ctx := context.Background()

	_, err := id.CreateMnemonic(ctx)
	require.NoError(t, err)
	pair, err := id.KeyPair(ctx)
	require.NoError(t, err)

	reg.mu.Lock()
	reg.fail = true
	reg.mu.Unlock()

	require.NoError(t, id.DeletePublicKey(ctx, pair.PublicKeyHex()))

	keys, err := store.ListKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}
