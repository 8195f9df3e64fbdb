// Package cli implements the interactive device CLI: mnemonic lifecycle,
// encrypted note entries in the local journal, and replication against
// the sync server.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/dmitrijs2005/journalsync/internal/client"
	"github.com/dmitrijs2005/journalsync/internal/client/config"
	"github.com/dmitrijs2005/journalsync/internal/cryptox"
	"github.com/dmitrijs2005/journalsync/internal/identity"
	"github.com/dmitrijs2005/journalsync/internal/journal"
	"github.com/dmitrijs2005/journalsync/internal/logging"
	"github.com/dmitrijs2005/journalsync/internal/rpc"
)

// NoteEvent is the journal event name for saved notes.
const NoteEvent = "note.saved"

type App struct {
	config   *config.Config
	logger   logging.Logger
	journal  *journal.SQLJournal
	identity *identity.Identity
	registry *identity.HTTPRegistry
	reader   *bufio.Reader

	mu      sync.Mutex
	syncer  *client.Syncer
	devices []rpc.DeviceInfo
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := journal.OpenSQLite(ctx, c.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("database init error: %w", err)
	}

	store, err := identity.NewSQLiteStore(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("identity store init error: %w", err)
	}

	app := &App{
		config:  c,
		logger:  logger,
		journal: journal.NewSQLJournal(db),
		reader:  bufio.NewReader(os.Stdin),
	}

	app.registry = identity.NewHTTPRegistry(c.ServerBaseURL, c.Namespace, c.SessionToken, func() string {
		if !app.identity.Ready() {
			return ""
		}
		pair, err := app.identity.KeyPair(context.Background())
		if err != nil {
			return ""
		}
		return pair.PublicKeyHex()
	})
	app.identity = identity.New(store, app.registry, logger)

	if err := app.identity.Boot(ctx); err != nil {
		return nil, fmt.Errorf("identity boot error: %w", err)
	}

	return app, nil
}

func (a *App) isInitialized() bool {
	return a.identity.Ready()
}

// errNoIdentity is returned by commands that need a derived identity
// while the device has none yet.
var errNoIdentity = errors.New("identity not initialized")

// keyPair returns the derived pair without blocking on the readiness
// latch: in an interactive session an uninitialized identity is a user
// error, not something to wait out.
func (a *App) keyPair(ctx context.Context) (*identity.KeyPair, error) {
	if !a.identity.Ready() {
		return nil, errNoIdentity
	}
	return a.identity.KeyPair(ctx)
}

// payloadKey derives the note sealing key from the identity seed. The
// namespace salts the derivation so the same mnemonic yields different
// keys per tenant.
func (a *App) payloadKey(ctx context.Context) ([]byte, error) {
	pair, err := a.keyPair(ctx)
	if err != nil {
		return nil, err
	}
	return cryptox.DerivePayloadKey(pair.Seed(), []byte(a.config.Namespace)), nil
}

// getSyncer lazily builds the replication client: it needs a sync token,
// which only exists once the identity is derived and registered.
func (a *App) getSyncer(ctx context.Context) (*client.Syncer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.syncer != nil {
		return a.syncer, nil
	}

	pair, err := a.keyPair(ctx)
	if err != nil {
		return nil, err
	}
	token, err := a.registry.SyncToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync token error: %w", err)
	}

	publicKey := pair.PublicKeyHex()
	namespace := a.config.Namespace
	header := func() http.Header {
		h := http.Header{}
		h.Set(rpc.HeaderNamespace, namespace)
		h.Set(rpc.HeaderPublicKey, publicKey)
		h.Set(rpc.HeaderSyncToken, token)
		return h
	}

	a.syncer = client.NewSyncer(a.journal, a.wsURL(), header, client.Options{
		OnDeviceList: a.setDevices,
	}, a.logger)
	return a.syncer, nil
}

func (a *App) wsURL() string {
	return "ws" + strings.TrimPrefix(a.config.ServerBaseURL, "http") + "/api/sync"
}

func (a *App) setDevices(devices []rpc.DeviceInfo) {
	a.mu.Lock()
	a.devices = devices
	a.mu.Unlock()
}

func (a *App) Run(ctx context.Context) {
	a.Main(ctx)
	_ = a.journal.Close()
}
