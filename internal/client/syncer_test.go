package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/journalsync/internal/journal"
	"github.com/dmitrijs2005/journalsync/internal/logging"
	"github.com/dmitrijs2005/journalsync/internal/rpc"
	"github.com/dmitrijs2005/journalsync/internal/server/auth"
	"github.com/dmitrijs2005/journalsync/internal/server/hub"
)

var (
	testSecret = []byte("syncer-test-secret")
	journalSeq atomic.Int64
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func openTestJournal(t *testing.T) *journal.SQLJournal {
	t.Helper()
	dsn := fmt.Sprintf("file:syncer_%d?mode=memory&cache=shared", journalSeq.Add(1))
	db, err := journal.OpenSQLite(context.Background(), dsn)
	require.NoError(t, err)
	j := journal.NewSQLJournal(db)
	t.Cleanup(func() { j.Close() })
	return j
}

func startServer(t *testing.T) string {
	t.Helper()
	registry := hub.NewRegistry(hub.Hooks{
		OpenJournal: func(ctx context.Context, key hub.IdentityKey) (*journal.SQLJournal, error) {
			dsn := fmt.Sprintf("file:syncer_srv_%d?mode=memory&cache=shared", journalSeq.Add(1))
			db, err := journal.OpenSQLite(ctx, dsn)
			if err != nil {
				return nil, err
			}
			return journal.NewSQLJournal(db), nil
		},
		Log: testLogger(),
	})
	handler := hub.NewHandler(registry, testSecret, testLogger())
	mux := http.NewServeMux()
	mux.HandleFunc("/api/sync", handler.Sync)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		server.Close()
		registry.Close()
	})
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/api/sync"
}

func identityHeader(t *testing.T, publicKey string) func() http.Header {
	t.Helper()
	token, err := auth.GenerateSyncToken("ns", publicKey, testSecret, time.Hour)
	require.NoError(t, err)
	return func() http.Header {
		h := http.Header{}
		h.Set(rpc.HeaderNamespace, "ns")
		h.Set(rpc.HeaderPublicKey, publicKey)
		h.Set(rpc.HeaderSyncToken, token)
		return h
	}
}

func writeLocal(t *testing.T, j *journal.SQLJournal, event, primaryKey, payload string) *journal.Entry {
	t.Helper()
	e, err := journal.NewEntry(event, primaryKey, []byte(payload))
	require.NoError(t, err)
	require.NoError(t, j.Write(context.Background(), e, nil))
	return e
}

func TestSyncPushesLocalEntries(t *testing.T) {
	url := startServer(t)
	j := openTestJournal(t)
	ctx := context.Background()

	writeLocal(t, j, "note.saved", "note-1", "v1")
	writeLocal(t, j, "note.saved", "note-2", "v1")

	s := NewSyncer(j, url, identityHeader(t, "pk"), Options{}, testLogger())
	require.NoError(t, s.Sync(ctx))

	// Sequences were recorded, so nothing is uncommitted anymore.
	next, err := j.NextRemoteSequence(ctx, ServerRemoteID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), next)

	called := false
	require.NoError(t, j.WithRemoteUncommitted(ctx, ServerRemoteID, func(ctx context.Context, entries []*journal.Entry) ([]journal.RemoteCommit, error) {
		called = true
		return nil, nil
	}))
	assert.False(t, called)
}

func TestSyncPullsIntoSecondDevice(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()

	first := openTestJournal(t)
	e1 := writeLocal(t, first, "note.saved", "note-1", "v1")
	s1 := NewSyncer(first, url, identityHeader(t, "pk"), Options{}, testLogger())
	require.NoError(t, s1.Sync(ctx))

	second := openTestJournal(t)
	s2 := NewSyncer(second, url, identityHeader(t, "pk"), Options{}, testLogger())
	require.NoError(t, s2.Sync(ctx))

	entries, err := second.Entries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, e1.ID, entries[0].ID)

	// A second round is a no-op.
	require.NoError(t, s2.Sync(ctx))
	entries, err = second.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSyncIsIdempotentAcrossRounds(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()

	j := openTestJournal(t)
	writeLocal(t, j, "note.saved", "note-1", "v1")

	s := NewSyncer(j, url, identityHeader(t, "pk"), Options{}, testLogger())
	require.NoError(t, s.Sync(ctx))
	require.NoError(t, s.Sync(ctx))

	entries, err := j.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPullInvokesResolve(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()

	// First device writes two entries for the same record at different
	// times and syncs them up.
	first := openTestJournal(t)
	writeLocal(t, first, "note.saved", "note-1", "v1")
	time.Sleep(5 * time.Millisecond)
	writeLocal(t, first, "note.saved", "note-1", "v2")
	s1 := NewSyncer(first, url, identityHeader(t, "pk"), Options{}, testLogger())
	require.NoError(t, s1.Sync(ctx))

	// Second device pulls both; the earlier entry sees the later one in
	// its conflict set.
	var conflicts []journal.Conflict
	second := openTestJournal(t)
	s2 := NewSyncer(second, url, identityHeader(t, "pk"), Options{
		Resolve: func(ctx context.Context, c journal.Conflict) error {
			conflicts = append(conflicts, c)
			return nil
		},
	}, testLogger())
	require.NoError(t, s2.Sync(ctx))

	require.Len(t, conflicts, 2)
	assert.NotEmpty(t, conflicts[0].Conflicts)
	assert.Empty(t, conflicts[1].Conflicts)
}

func TestDeviceListCallback(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()

	j := openTestJournal(t)
	got := make(chan []rpc.DeviceInfo, 4)
	s := NewSyncer(j, url, identityHeader(t, "pk"), Options{
		OnDeviceList: func(devices []rpc.DeviceInfo) { got <- devices },
	}, testLogger())

	// Acquiring the lease opens the socket, which triggers the first
	// device-list broadcast.
	require.NoError(t, s.Sync(ctx))

	select {
	case devices := <-got:
		require.Len(t, devices, 1)
		assert.True(t, devices[0].Self)
	case <-time.After(3 * time.Second):
		t.Fatal("no device list received")
	}
}

func TestDestroy(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()

	first := openTestJournal(t)
	writeLocal(t, first, "note.saved", "note-1", "v1")
	s1 := NewSyncer(first, url, identityHeader(t, "pk"), Options{}, testLogger())
	require.NoError(t, s1.Sync(ctx))
	require.NoError(t, s1.Destroy(ctx))

	// A fresh device sees an empty server journal afterwards.
	second := openTestJournal(t)
	s2 := NewSyncer(second, url, identityHeader(t, "pk2"), Options{}, testLogger())
	require.NoError(t, s2.Sync(ctx))
	entries, err := second.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
