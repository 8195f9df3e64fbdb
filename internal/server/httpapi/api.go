// Package httpapi exposes the vault lifecycle API and the WebSocket sync
// endpoints over a gorilla/mux router.
package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/journalsync/internal/common"
	"github.com/dmitrijs2005/journalsync/internal/logging"
	"github.com/dmitrijs2005/journalsync/internal/server/auth"
	"github.com/dmitrijs2005/journalsync/internal/server/hub"
	"github.com/dmitrijs2005/journalsync/internal/server/vaults"
)

// VaultService is the slice of the vault registry the API needs.
type VaultService interface {
	Register(ctx context.Context, userUniqueID string, items []vaults.Item, tier vaults.Tier) (*vaults.RegisterResult, error)
	Stats(ctx context.Context, userUniqueID, publicKey string) (*vaults.Vault, error)
	Update(ctx context.Context, userUniqueID, publicKey, note string) error
	Destroy(ctx context.Context, userUniqueID, publicKey string) error
}

// KeyInfo is the wire form of one registered key.
type KeyInfo struct {
	PublicKey string    `json:"public_key"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RegisterRequest is the body of PUT /api/register.
type RegisterRequest struct {
	Keys []KeyInfo `json:"keys"`
}

// RegisterResponse carries the authoritative merged key set plus counts of
// what the server accepted and skipped during the merge.
type RegisterResponse struct {
	Keys     []KeyInfo `json:"keys"`
	Accepted int       `json:"accepted"`
	Skipped  int       `json:"skipped"`
}

// UpdateRequest is the body of PATCH /api/update.
type UpdateRequest struct {
	Note string `json:"note"`
}

// VaultStats is the response of GET /api/stats.
type VaultStats struct {
	PublicKey       string     `json:"public_key"`
	Note            string     `json:"note"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
	SyncCount       int64      `json:"sync_count"`
	UsedStorageSize int64      `json:"used_storage_size"`
	MaxStorageSize  int64      `json:"max_storage_size"`
}

// SyncTokenResponse is the response of POST /api/sync-token.
type SyncTokenResponse struct {
	Token string `json:"token"`
}

// API wires the lifecycle handlers, the WebSocket handlers and /metrics
// onto a router.
type API struct {
	vaults            VaultService
	ws                *hub.Handler
	secretKey         []byte
	tier              vaults.Tier
	syncTokenValidity time.Duration
	log               logging.Logger
}

func New(vaultSvc VaultService, ws *hub.Handler, secretKey []byte, tier vaults.Tier, syncTokenValidity time.Duration, log logging.Logger) *API {
	return &API{
		vaults:            vaultSvc,
		ws:                ws,
		secretKey:         secretKey,
		tier:              tier,
		syncTokenValidity: syncTokenValidity,
		log:               log.With("module", "httpapi"),
	}
}

// Router builds the full route table.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/register", a.auth(a.handleRegister)).Methods(http.MethodPut)
	api.Handle("/stats", a.auth(a.handleStats)).Methods(http.MethodGet)
	api.Handle("/update", a.auth(a.handleUpdate)).Methods(http.MethodPatch)
	api.Handle("/destroy", a.auth(a.handleDestroy)).Methods(http.MethodDelete)
	api.Handle("/sync-token", a.auth(a.handleSyncToken)).Methods(http.MethodPost)

	// The WebSocket endpoints authenticate with their own identity token.
	api.HandleFunc("/sync", a.ws.Sync)
	api.HandleFunc("/rpc", a.ws.Rpc)

	r.Handle("/metrics", promhttp.Handler())
	return r
}

type ctxKeyType int

const identityCtxKey ctxKeyType = 0

type apiIdentity struct {
	Namespace string
	PublicKey string
}

// auth validates the bearer session token and the key query parameter
// ("namespace:publicKey", base64), and requires the token's user to own
// the addressed namespace.
func (a *API) auth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.authenticate(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), identityCtxKey, id)))
	})
}

func (a *API) authenticate(r *http.Request) (apiIdentity, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return apiIdentity{}, errors.New("missing bearer token")
	}
	userID, err := auth.GetUserIDFromToken(token, a.secretKey)
	if err != nil {
		return apiIdentity{}, common.ErrInvalidToken
	}

	raw, err := base64.URLEncoding.DecodeString(r.URL.Query().Get("key"))
	if err != nil {
		return apiIdentity{}, errors.New("malformed key token")
	}
	namespace, publicKey, ok := strings.Cut(string(raw), ":")
	if !ok || namespace == "" || publicKey == "" {
		return apiIdentity{}, errors.New("malformed key token")
	}
	if namespace != userID {
		return apiIdentity{}, common.ErrorUnauthorized
	}
	return apiIdentity{Namespace: namespace, PublicKey: publicKey}, nil
}

func requestIdentity(r *http.Request) apiIdentity {
	id, _ := r.Context().Value(identityCtxKey).(apiIdentity)
	return id
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	id := requestIdentity(r)

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	items := make([]vaults.Item, 0, len(req.Keys))
	for _, k := range req.Keys {
		items = append(items, vaults.Item{PublicKey: k.PublicKey, Note: k.Note})
	}

	result, err := a.vaults.Register(r.Context(), id.Namespace, items, a.tier)
	if err != nil {
		a.fail(w, r, "register failed", err)
		return
	}

	resp := RegisterResponse{Accepted: result.Accepted, Skipped: result.Skipped}
	for _, v := range result.Vaults {
		resp.Keys = append(resp.Keys, KeyInfo{
			PublicKey: v.PublicKey,
			Note:      v.Note,
			CreatedAt: v.CreatedAt,
			UpdatedAt: v.UpdatedAt,
		})
	}
	a.writeJSON(w, resp)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	id := requestIdentity(r)

	v, err := a.vaults.Stats(r.Context(), id.Namespace, id.PublicKey)
	if err != nil {
		a.fail(w, r, "stats failed", err)
		return
	}
	a.writeJSON(w, VaultStats{
		PublicKey:       v.PublicKey,
		Note:            v.Note,
		LastSyncedAt:    v.LastSyncedAt,
		SyncCount:       v.SyncCount,
		UsedStorageSize: v.UsedStorageSize,
		MaxStorageSize:  v.MaxStorageSize,
	})
}

func (a *API) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := requestIdentity(r)

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if err := a.vaults.Update(r.Context(), id.Namespace, id.PublicKey, req.Note); err != nil {
		a.fail(w, r, "update failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDestroy(w http.ResponseWriter, r *http.Request) {
	id := requestIdentity(r)

	if err := a.vaults.Destroy(r.Context(), id.Namespace, id.PublicKey); err != nil {
		a.fail(w, r, "destroy failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSyncToken(w http.ResponseWriter, r *http.Request) {
	id := requestIdentity(r)

	token, err := auth.GenerateSyncToken(id.Namespace, id.PublicKey, a.secretKey, a.syncTokenValidity)
	if err != nil {
		a.fail(w, r, "sync token generation failed", err)
		return
	}
	a.writeJSON(w, SyncTokenResponse{Token: token})
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, common.ErrorUnauthorized):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	default:
		a.log.Error(r.Context(), msg, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (a *API) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error(context.Background(), "response encoding failed", "error", err)
	}
}
