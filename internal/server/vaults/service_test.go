package vaults

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/journalsync/internal/common"
	"github.com/dmitrijs2005/journalsync/internal/logging"
)

type fakeRepo struct {
	mu      sync.Mutex
	rows    map[string]*Vault // user:key
	failKey string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string]*Vault)}
}

func (f *fakeRepo) key(user, pub string) string { return user + ":" + pub }

func (f *fakeRepo) Upsert(ctx context.Context, v *Vault) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v.PublicKey == f.failKey {
		return errors.New("storage failure")
	}
	k := f.key(v.UserUniqueID, v.PublicKey)
	if old, ok := f.rows[k]; ok {
		old.Note = v.Note
		old.UpdatedAt = v.UpdatedAt
		return nil
	}
	clone := *v
	f.rows[k] = &clone
	return nil
}

func (f *fakeRepo) GetByKey(ctx context.Context, user, pub string) (*Vault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.rows[f.key(user, pub)]; ok {
		clone := *v
		return &clone, nil
	}
	return nil, common.ErrorNotFound
}

func (f *fakeRepo) ListByUser(ctx context.Context, user string) ([]Vault, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []Vault
	for _, v := range f.rows {
		if v.UserUniqueID == user {
			result = append(result, *v)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PublicKey < result[j].PublicKey })
	return result, nil
}

func (f *fakeRepo) Delete(ctx context.Context, user, pub string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, f.key(user, pub))
	return nil
}

func (f *fakeRepo) Touch(ctx context.Context, user, pub string, used int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.rows[f.key(user, pub)]
	if !ok {
		return common.ErrorNotFound
	}
	v.SyncCount++
	v.UsedStorageSize = used
	return nil
}

func setupService(t *testing.T) (*Service, *fakeRepo) {
	t.Helper()
	repo := newFakeRepo()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	return NewService(repo, nil, log), repo
}

func items(keys ...string) []Item {
	result := make([]Item, len(keys))
	for i, k := range keys {
		result[i] = Item{PublicKey: k, Note: "device " + k}
	}
	return result
}

func TestRegister_FullCapacityRejectsAllNewKeys(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	tier := Tier{MaxVaults: 2, MaxStorageBytes: 1 << 20}

	_, err := svc.Register(ctx, "u1", items("k1", "k2"), tier)
	require.NoError(t, err)

	res, err := svc.Register(ctx, "u1", items("k3", "k4", "k5"), tier)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Accepted)
	assert.Equal(t, 3, res.Skipped)
	require.Len(t, res.Vaults, 2)
	assert.Equal(t, "k1", res.Vaults[0].PublicKey)
	assert.Equal(t, "k2", res.Vaults[1].PublicKey)
}

func TestRegister_TruncatesToRemainingCapacity(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	tier := Tier{MaxVaults: 2, MaxStorageBytes: 1 << 20}

	_, err := svc.Register(ctx, "u1", items("k1"), tier)
	require.NoError(t, err)

	res, err := svc.Register(ctx, "u1", items("k2", "k3", "k4"), tier)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Vaults, 2)
	// First candidate wins the remaining slot; existing key untouched.
	assert.Equal(t, "k1", res.Vaults[0].PublicKey)
	assert.Equal(t, "k2", res.Vaults[1].PublicKey)
}

func TestRegister_ExistingKeysUpdateWithoutCapacity(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	tier := Tier{MaxVaults: 1, MaxStorageBytes: 1 << 20}

	_, err := svc.Register(ctx, "u1", items("k1"), tier)
	require.NoError(t, err)

	res, err := svc.Register(ctx, "u1", []Item{{PublicKey: "k1", Note: "renamed"}}, tier)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, 0, res.Skipped)
	require.Len(t, res.Vaults, 1)
	assert.Equal(t, "renamed", res.Vaults[0].Note)
}

func TestRegister_ItemFailureIsSkippedNotFatal(t *testing.T) {
	svc, repo := setupService(t)
	ctx := context.Background()
	tier := Tier{MaxVaults: 10, MaxStorageBytes: 1 << 20}

	repo.failKey = "bad"
	res, err := svc.Register(ctx, "u1", items("k1", "bad", "k2"), tier)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, res.Vaults, 2)
}

func TestRegister_ManyCandidatesBoundedConcurrency(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	tier := Tier{MaxVaults: 64, MaxStorageBytes: 1 << 20}

	var keys []string
	for i := 0; i < 64; i++ {
		keys = append(keys, fmt.Sprintf("key-%02d", i))
	}
	res, err := svc.Register(ctx, "u1", items(keys...), tier)
	require.NoError(t, err)
	assert.Equal(t, 64, res.Accepted)
	assert.Len(t, res.Vaults, 64)
}

func TestDestroy_IdempotentAndCleansStorage(t *testing.T) {
	repo := newFakeRepo()
	cleaned := 0
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	svc := NewService(repo, func(ctx context.Context, user, pub string) error {
		cleaned++
		return nil
	}, log)
	ctx := context.Background()

	_, err := svc.Register(ctx, "u1", items("k1"), Tier{MaxVaults: 5})
	require.NoError(t, err)

	require.NoError(t, svc.Destroy(ctx, "u1", "k1"))
	assert.Equal(t, 1, cleaned)

	// Destroying again is a no-op on the row and still succeeds.
	require.NoError(t, svc.Destroy(ctx, "u1", "k1"))

	_, err = svc.Stats(ctx, "u1", "k1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDestroy_CleanupFailureStillRemovesRow(t *testing.T) {
	repo := newFakeRepo()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	svc := NewService(repo, func(ctx context.Context, user, pub string) error {
		return errors.New("cleanup failed")
	}, log)
	ctx := context.Background()

	_, err := svc.Register(ctx, "u1", items("k1"), Tier{MaxVaults: 5})
	require.NoError(t, err)

	require.NoError(t, svc.Destroy(ctx, "u1", "k1"))
	_, err = svc.Stats(ctx, "u1", "k1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestTouch_UpdatesStats(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "u1", items("k1"), Tier{MaxVaults: 5, MaxStorageBytes: 100})
	require.NoError(t, err)

	require.NoError(t, svc.Touch(ctx, "u1", "k1", 42))
	v, err := svc.Stats(ctx, "u1", "k1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.SyncCount)
	assert.Equal(t, int64(42), v.UsedStorageSize)
}
