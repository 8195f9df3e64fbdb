package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrijs2005/journalsync/internal/logging"
	"github.com/dmitrijs2005/journalsync/internal/rpc"
	"github.com/dmitrijs2005/journalsync/internal/server/auth"
	"github.com/dmitrijs2005/journalsync/internal/server/metrics"
)

// Handler upgrades HTTP requests to sync sockets and pumps their frames
// into the owning coordinator.
type Handler struct {
	registry  *Registry
	secretKey []byte
	log       logging.Logger
	upgrader  websocket.Upgrader
}

func NewHandler(registry *Registry, secretKey []byte, log logging.Logger) *Handler {
	return &Handler{
		registry:  registry,
		secretKey: secretKey,
		log:       log.With("module", "hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browsers cannot be origin-restricted usefully here;
			// authentication is the identity token, not the origin.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Sync serves the device-facing channel.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, ChannelSync)
}

// Rpc serves the internal replica channel.
func (h *Handler) Rpc(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, ChannelRpc)
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, channel Channel) {
	ctx := r.Context()

	key, code := h.authenticate(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(ctx, "websocket upgrade failed", "error", err)
		return
	}

	if code != 0 {
		closeWith(conn, code, "identity rejected")
		return
	}

	c, err := h.registry.Get(ctx, key)
	if err != nil {
		h.log.Error(ctx, "coordinator start failed", "identity", key.String(), "error", err)
		closeWith(conn, websocket.CloseInternalServerErr, "unavailable")
		return
	}

	state := SessionState{
		Channel:    channel,
		OS:         r.Header.Get(rpc.HeaderOS),
		Browser:    r.Header.Get(rpc.HeaderBrowser),
		DeviceType: r.Header.Get(rpc.HeaderType),
		LastSeenAt: time.Now(),
	}
	if err := c.Connect(conn, state); err != nil {
		metrics.QuotaRejections.WithLabelValues("devices").Inc()
		closeWith(conn, rpc.CloseRateLimited, err.Error())
		return
	}

	metrics.SyncConnections.WithLabelValues(string(channel)).Inc()
	h.log.Info(ctx, "session connected", "identity", key.String(), "channel", string(channel))

	h.readLoop(ctx, conn, c, key)
}

// authenticate validates the identity headers against the sync token.
// Returns a non-zero close code on failure; the socket is still upgraded
// first so the client sees the code instead of a bare HTTP error.
func (h *Handler) authenticate(r *http.Request) (IdentityKey, int) {
	namespace := r.Header.Get(rpc.HeaderNamespace)
	publicKey := r.Header.Get(rpc.HeaderPublicKey)
	token := r.Header.Get(rpc.HeaderSyncToken)

	if token == "" {
		return IdentityKey{}, rpc.CloseUnauthorized
	}
	claims, err := auth.ParseSyncToken(token, h.secretKey)
	if err != nil {
		return IdentityKey{}, rpc.CloseUnauthorized
	}
	if namespace == "" || publicKey == "" ||
		claims.Namespace != namespace || claims.PublicKey != publicKey {
		return IdentityKey{}, rpc.CloseBadIdentity
	}
	return IdentityKey{Namespace: namespace, PublicKey: publicKey}, 0
}

// readLoop parses frames off the socket and hands them to the
// coordinator until the peer goes away.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, c *Coordinator, key IdentityKey) {
	defer func() {
		c.Disconnect(conn)
		_ = conn.Close()
		h.log.Info(ctx, "session disconnected", "identity", key.String())
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame rpc.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.log.Warn(ctx, "malformed frame", "identity", key.String(), "error", err)
			continue
		}
		if err := c.HandleFrame(context.Background(), conn, frame); err != nil {
			// Coordinator stopped, typically after a destroy.
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = conn.Close()
}
