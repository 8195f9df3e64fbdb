package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/journalsync/internal/logging"
	"github.com/dmitrijs2005/journalsync/internal/rpc"
	"github.com/dmitrijs2005/journalsync/internal/server/auth"
	"github.com/dmitrijs2005/journalsync/internal/server/hub"
)

// peerFanOut forwards committed changes to a peer replica over the Rpc
// channel, one leased connection per identity. Delivery is best effort:
// replay on the peer is idempotent, so a dropped batch is recovered by
// the next successful write or a RequestChanges catch-up.
type peerFanOut struct {
	endpoint  string
	secretKey []byte
	validity  time.Duration
	log       logging.Logger

	mu     sync.Mutex
	leases map[hub.IdentityKey]*rpc.Lease
}

func newPeerFanOut(endpoint string, secretKey []byte, validity time.Duration, log logging.Logger) *peerFanOut {
	return &peerFanOut{
		endpoint:  endpoint,
		secretKey: secretKey,
		validity:  validity,
		log:       log.With("module", "fanout", "peer", endpoint),
		leases:    make(map[hub.IdentityKey]*rpc.Lease),
	}
}

func (f *peerFanOut) lease(key hub.IdentityKey) *rpc.Lease {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.leases[key]; ok {
		return l
	}
	header := func() http.Header {
		h := http.Header{}
		h.Set(rpc.HeaderNamespace, key.Namespace)
		h.Set(rpc.HeaderPublicKey, key.PublicKey)
		token, err := auth.GenerateSyncToken(key.Namespace, key.PublicKey, f.secretKey, f.validity)
		if err == nil {
			h.Set(rpc.HeaderSyncToken, token)
		}
		return h
	}
	l := rpc.NewLease(f.endpoint, header, time.Minute, nil, f.log)
	f.leases[key] = l
	return l
}

// Send pushes one change batch. The peer's own fan-out stays quiet for
// entries it has already committed, which is what breaks forwarding
// loops between replicas.
func (f *peerFanOut) Send(ctx context.Context, key hub.IdentityKey, changes []rpc.WireEntry) {
	lease := f.lease(key)
	conn, err := lease.Acquire(ctx)
	if err != nil {
		f.log.Warn(ctx, "peer unreachable", "identity", key.String(), "error", err)
		return
	}
	defer lease.Release()

	var resp rpc.WriteResponse
	if err := conn.Call(ctx, rpc.TypeWrite, rpc.WriteRequest{Entries: changes}, &resp); err != nil {
		f.log.Warn(ctx, "peer write failed", "identity", key.String(), "error", err)
	}
}

func (f *peerFanOut) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.leases {
		l.Close()
	}
}
