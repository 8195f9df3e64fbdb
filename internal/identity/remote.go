package identity

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dmitrijs2005/journalsync/internal/common"
)

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

// HTTPRegistry talks to the sync server's vault lifecycle API. Every call
// carries a base64 "namespace:publicKey" token in the key query parameter
// and a bearer session token.
type HTTPRegistry struct {
	baseURL   string
	namespace string
	token     string
	selfKey   func() string
	client    *http.Client
}

// NewHTTPRegistry builds a registry client. selfKey reports the device's
// own public key hex; it is consulted per call so the registry can be
// constructed before the identity is derived.
func NewHTTPRegistry(baseURL, namespace, token string, selfKey func() string) *HTTPRegistry {
	return &HTTPRegistry{
		baseURL:   baseURL,
		namespace: namespace,
		token:     token,
		selfKey:   selfKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// KeyToken encodes the namespace:publicKey pair the API uses to address a
// vault.
func KeyToken(namespace, publicKey string) string {
	return base64.URLEncoding.EncodeToString([]byte(namespace + ":" + publicKey))
}

func (r *HTTPRegistry) do(ctx context.Context, method, path, publicKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}
	url := fmt.Sprintf("%s%s?key=%s", r.baseURL, path, KeyToken(r.namespace, publicKey))
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+r.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return common.ErrorUnauthorized
	case resp.StatusCode >= 400:
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("registry %s %s: %s: %s", method, path, resp.Status, string(b))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// Register PUTs the full local key set; the response is the merged set the
// server kept after applying the tier's vault limit.
func (r *HTTPRegistry) Register(ctx context.Context, keys []KeyInfo) ([]KeyInfo, error) {
	var resp RegisterResponse
	err := r.do(ctx, http.MethodPut, "/api/register", r.selfKey(), RegisterRequest{Keys: keys}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}

// Update changes the note on a registered key.
func (r *HTTPRegistry) Update(ctx context.Context, publicKey, note string) error {
	return r.do(ctx, http.MethodPatch, "/api/update", publicKey, UpdateRequest{Note: note}, nil)
}

// Delete destroys a vault and its server-side storage.
func (r *HTTPRegistry) Delete(ctx context.Context, publicKey string) error {
	return r.do(ctx, http.MethodDelete, "/api/destroy", publicKey, nil, nil)
}

// SyncTokenResponse is the response of POST /api/sync-token.
type SyncTokenResponse struct {
	Token string `json:"token"`
}

// SyncToken obtains a signed token for opening the WebSocket sync channel
// as this device.
func (r *HTTPRegistry) SyncToken(ctx context.Context) (string, error) {
	var resp SyncTokenResponse
	if err := r.do(ctx, http.MethodPost, "/api/sync-token", r.selfKey(), nil, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Stats fetches the server-side usage numbers for a vault.
func (r *HTTPRegistry) Stats(ctx context.Context, publicKey string) (*VaultStats, error) {
	var stats VaultStats
	if err := r.do(ctx, http.MethodGet, "/api/stats", publicKey, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
