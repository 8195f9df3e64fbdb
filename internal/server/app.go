// Package server initializes and runs the sync server: the postgres vault
// registry, the per-identity coordinators with their sqlite journals, the
// HTTP lifecycle API and the WebSocket sync endpoints. It also handles
// graceful shutdown on OS signals.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/journalsync/internal/common"
	"github.com/dmitrijs2005/journalsync/internal/journal"
	"github.com/dmitrijs2005/journalsync/internal/logging"
	"github.com/dmitrijs2005/journalsync/internal/server/config"
	"github.com/dmitrijs2005/journalsync/internal/server/httpapi"
	"github.com/dmitrijs2005/journalsync/internal/server/hub"
	"github.com/dmitrijs2005/journalsync/internal/server/limits"
	"github.com/dmitrijs2005/journalsync/internal/server/migrations"
	"github.com/dmitrijs2005/journalsync/internal/server/vaults"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	db          *sql.DB
	vaultSvc    *vaults.Service
	hubRegistry *hub.Registry
	fanOut      *peerFanOut
	api         *httpapi.API
}

func NewApp(c *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(slogger)

	db, err := openRegistryDB(context.Background(), c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db}

	// The vault service's storage cleanup tears down the owning
	// coordinator; the coordinator's hooks in turn report sync stats back
	// to the vault service. The registry pointer is bound late to break
	// the cycle.
	cleanup := func(ctx context.Context, userUniqueID, publicKey string) error {
		return app.hubRegistry.DestroyIdentity(ctx, hub.IdentityKey{Namespace: userUniqueID, PublicKey: publicKey})
	}
	app.vaultSvc = vaults.NewService(vaults.NewPostgresRepository(db), cleanup, logger)

	if c.PeerEndpointAddr != "" {
		app.fanOut = newPeerFanOut(c.PeerEndpointAddr, []byte(c.SecretKey), c.SyncTokenValidityDuration, logger)
	}

	app.hubRegistry = hub.NewRegistry(app.buildHooks())

	wsHandler := hub.NewHandler(app.hubRegistry, []byte(c.SecretKey), logger)
	tier := vaults.Tier{
		MaxVaults:       c.MaxVaults,
		MaxStorageBytes: c.MaxStorageBytes,
		MaxDevices:      c.MaxDevices,
	}
	app.api = httpapi.New(app.vaultSvc, wsHandler, []byte(c.SecretKey), tier, c.SyncTokenValidityDuration, logger)

	return app, nil
}

func openRegistryDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func (app *App) buildHooks() hub.Hooks {
	limiter := limits.New(app.config.RateLimitPerSecond, app.config.RateLimitBurst)

	hooks := hub.Hooks{
		OpenJournal: func(ctx context.Context, key hub.IdentityKey) (*journal.SQLJournal, error) {
			if err := os.MkdirAll(app.config.JournalDir, 0o700); err != nil {
				return nil, err
			}
			db, err := journal.OpenSQLite(ctx, "file:"+app.journalPath(key))
			if err != nil {
				return nil, err
			}
			return journal.NewSQLJournal(db), nil
		},
		DestroyStorage: func(ctx context.Context, key hub.IdentityKey) error {
			path := app.journalPath(key)
			for _, p := range []string{path, path + "-wal", path + "-shm"} {
				if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
					return err
				}
			}
			return nil
		},
		Limit: func(key hub.IdentityKey) error {
			if !limiter.Allow(key.String()) {
				return common.ErrTooManyRequests
			}
			return nil
		},
		WriteLimit: func(ctx context.Context, key hub.IdentityKey, total int64) error {
			if total > app.config.MaxStorageBytes {
				return common.ErrStorageLimit
			}
			return nil
		},
		DeviceLimit: func(key hub.IdentityKey, connected int) error {
			if connected > app.config.MaxDevices {
				return common.ErrDeviceLimit
			}
			return nil
		},
		Synced: func(ctx context.Context, key hub.IdentityKey, usedStorage int64) {
			if err := app.vaultSvc.Touch(ctx, key.Namespace, key.PublicKey, usedStorage); err != nil {
				app.logger.Warn(ctx, "sync stats update failed", "identity", key.String(), "error", err)
			}
		},
		Log: app.logger,
	}
	if app.fanOut != nil {
		hooks.FanOut = app.fanOut.Send
	}
	return hooks
}

// journalPath names the per-identity sqlite journal file. Namespaces are
// user ids and public keys are hex, so both are path-safe.
func (app *App) journalPath(key hub.IdentityKey) string {
	return filepath.Join(app.config.JournalDir, key.Namespace+"_"+key.PublicKey+".db")
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {

	server := &http.Server{
		Addr:    app.config.EndpointAddrHTTP,
		Handler: app.api.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(shutdownCtx, err.Error())
		}
	}()

	app.logger.Info(ctx, "listening", "addr", app.config.EndpointAddrHTTP)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	wg.Wait()

	app.hubRegistry.Close()
	if app.fanOut != nil {
		app.fanOut.Close()
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error(ctx, err.Error())
	}
}
