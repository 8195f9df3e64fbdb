// Package hub hosts the sync server's per-identity coordinators: each
// (namespace, publicKey) identity is served by exactly one long-lived
// actor owning that identity's journal and WebSocket session table, so
// journal and session access needs no locking. Two channels are
// multiplexed onto the same protocol: Sync (end-user devices) and Rpc
// (server-internal replica and teardown traffic).
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrijs2005/journalsync/internal/journal"
	"github.com/dmitrijs2005/journalsync/internal/logging"
	"github.com/dmitrijs2005/journalsync/internal/rpc"
	"github.com/dmitrijs2005/journalsync/internal/server/metrics"
)

// originRemote is the remote id the coordinator commits entries under;
// its sequence stream is what RequestChanges serves.
const originRemote = "origin"

// IdentityKey names one identity: a tenant namespace plus a device public
// key.
type IdentityKey struct {
	Namespace string
	PublicKey string
}

func (k IdentityKey) String() string {
	return k.Namespace + ":" + k.PublicKey
}

// Hooks parameterize a coordinator. Lifecycle behavior is injected here
// instead of inherited: storage, quota gates and fan-out are all
// capabilities handed in at construction.
type Hooks struct {
	// OpenJournal opens (creating if needed) the identity's journal.
	OpenJournal func(ctx context.Context, key IdentityKey) (*journal.SQLJournal, error)

	// DestroyStorage irreversibly removes the identity's journal storage.
	DestroyStorage func(ctx context.Context, key IdentityKey) error

	// Limit is the tier-aware request-rate gate, consulted before any
	// storage work. Returns common.ErrTooManyRequests when exceeded.
	Limit func(key IdentityKey) error

	// WriteLimit is the storage-byte gate: total is current usage plus
	// the incoming batch. Returns common.ErrStorageLimit when exceeded.
	WriteLimit func(ctx context.Context, key IdentityKey, total int64) error

	// DeviceLimit gates a new Sync connection given the resulting device
	// count. Returns common.ErrDeviceLimit when exceeded.
	DeviceLimit func(key IdentityKey, connected int) error

	// Synced is called after a successful write with the new storage
	// usage (vault stats bookkeeping). Best effort.
	Synced func(ctx context.Context, key IdentityKey, usedStorage int64)

	// FanOut forwards committed changes toward peer replicas. Best
	// effort; the writer does not know the topology.
	FanOut func(ctx context.Context, key IdentityKey, changes []rpc.WireEntry)

	Log logging.Logger
}

// Coordinator is the durable actor for one identity. All mutations of the
// session table and journal run on its single message loop.
type Coordinator struct {
	key   IdentityKey
	hooks Hooks
	log   logging.Logger

	journal  *journal.SQLJournal
	sessions map[*websocket.Conn]*Session

	inbox chan func()
	done  chan struct{}

	destroyed bool
	onStopped func(IdentityKey)
}

func newCoordinator(ctx context.Context, key IdentityKey, hooks Hooks, onStopped func(IdentityKey)) (*Coordinator, error) {
	j, err := hooks.OpenJournal(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open journal for %s: %w", key, err)
	}
	c := &Coordinator{
		key:       key,
		hooks:     hooks,
		log:       hooks.Log.With("module", "coordinator", "identity", key.String()),
		journal:   j,
		sessions:  make(map[*websocket.Conn]*Session),
		inbox:     make(chan func(), 64),
		done:      make(chan struct{}),
		onStopped: onStopped,
	}
	go c.run()
	return c, nil
}

func (c *Coordinator) run() {
	for {
		select {
		case fn := <-c.inbox:
			fn()
		case <-c.done:
			return
		}
	}
}

// post queues fn on the actor loop.
func (c *Coordinator) post(fn func()) error {
	select {
	case c.inbox <- fn:
		return nil
	case <-c.done:
		return errors.New("coordinator stopped")
	}
}

// call runs fn on the actor loop and waits for it to finish.
func (c *Coordinator) call(fn func()) error {
	doneCh := make(chan struct{})
	if err := c.post(func() {
		defer close(doneCh)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-doneCh:
		return nil
	case <-c.done:
		return errors.New("coordinator stopped")
	}
}

// Journal exposes the identity's journal for read-side consumers (stats).
func (c *Coordinator) Journal() *journal.SQLJournal {
	return c.journal
}

// Connect registers a device session and rebroadcasts the device list.
// The device-count gate runs before the table changes.
func (c *Coordinator) Connect(conn *websocket.Conn, state SessionState) error {
	var connectErr error
	err := c.call(func() {
		if c.destroyed {
			connectErr = errors.New("identity destroyed")
			return
		}
		if c.hooks.DeviceLimit != nil {
			if err := c.hooks.DeviceLimit(c.key, len(c.sessions)+1); err != nil {
				connectErr = err
				return
			}
		}
		c.sessions[conn] = newSession(state)
		c.broadcastDeviceList()
	})
	if err != nil {
		return err
	}
	return connectErr
}

// Attach rehydrates a session from its serialized socket attachment after
// a restart, without a device-limit check: the socket was already
// admitted once.
func (c *Coordinator) Attach(conn *websocket.Conn, attachment []byte) error {
	var state SessionState
	if err := json.Unmarshal(attachment, &state); err != nil {
		return fmt.Errorf("decode session attachment: %w", err)
	}
	return c.call(func() {
		c.sessions[conn] = newSession(state)
		c.broadcastDeviceList()
	})
}

// Disconnect marks the session as quit, drops it from the table and
// rebroadcasts the device list to the remaining devices. Committed journal
// writes are unaffected.
func (c *Coordinator) Disconnect(conn *websocket.Conn) {
	_ = c.call(func() {
		s, ok := c.sessions[conn]
		if !ok {
			return
		}
		s.quit = true
		delete(c.sessions, conn)
		c.broadcastDeviceList()
	})
}

// HandleFrame dispatches one parsed frame from the given socket on the
// actor loop. Responses and errors travel back over the same socket.
func (c *Coordinator) HandleFrame(ctx context.Context, conn *websocket.Conn, frame rpc.Frame) error {
	return c.call(func() {
		c.dispatch(ctx, conn, frame)
	})
}

func (c *Coordinator) dispatch(ctx context.Context, conn *websocket.Conn, frame rpc.Frame) {
	s := c.sessions[conn]
	switch frame.Type {
	case rpc.TypeWrite:
		c.handleWrite(ctx, s, conn, frame)
	case rpc.TypeRequestChanges:
		c.handleRequestChanges(ctx, s, conn, frame)
	case rpc.TypeDestroy:
		c.handleDestroy(ctx, s, conn, frame)
	default:
		c.sendError(s, conn, frame.ID, rpc.CodeInternal, "unknown frame type "+frame.Type)
	}
}

func (c *Coordinator) handleWrite(ctx context.Context, s *Session, conn *websocket.Conn, frame rpc.Frame) {
	if c.hooks.Limit != nil {
		if err := c.hooks.Limit(c.key); err != nil {
			metrics.QuotaRejections.WithLabelValues("rate").Inc()
			c.sendError(s, conn, frame.ID, rpc.CodeTooManyRequests, err.Error())
			return
		}
	}

	var req rpc.WriteRequest
	if err := json.Unmarshal(frame.Body, &req); err != nil {
		c.sendError(s, conn, frame.ID, rpc.CodeInternal, "malformed write request")
		return
	}

	var incoming int64
	for _, e := range req.Entries {
		incoming += int64(len(e.Payload))
	}
	if c.hooks.WriteLimit != nil {
		used, err := c.journal.UsedStorage(ctx)
		if err != nil {
			c.sendError(s, conn, frame.ID, rpc.CodeInternal, err.Error())
			return
		}
		if err := c.hooks.WriteLimit(ctx, c.key, used+incoming); err != nil {
			metrics.QuotaRejections.WithLabelValues("storage").Inc()
			c.sendError(s, conn, frame.ID, rpc.CodeStorageLimit, err.Error())
			return
		}
	}

	next, err := c.journal.NextRemoteSequence(ctx, originRemote)
	if err != nil {
		c.sendError(s, conn, frame.ID, rpc.CodeInternal, err.Error())
		return
	}

	var commits []rpc.Commit
	var fresh []rpc.WireEntry
	for _, we := range req.Entries {
		re := we.FromWire()
		if err := c.journal.InsertEntry(ctx, re.Entry); err != nil {
			c.sendError(s, conn, frame.ID, rpc.CodeInternal, err.Error())
			return
		}
		seq, err := c.journal.CommitLocal(ctx, originRemote, re.Entry.ID)
		if err != nil {
			c.sendError(s, conn, frame.ID, rpc.CodeInternal, err.Error())
			return
		}
		commits = append(commits, rpc.Commit{EntryID: re.Entry.ID, Sequence: seq})
		if seq >= next {
			// First time this replica has seen the entry.
			fresh = append(fresh, rpc.ToWire(re.Entry, seq))
			metrics.EntriesWritten.Inc()
		}
	}

	if s != nil {
		s.LastSeenAt = time.Now()
	}

	c.respond(s, conn, frame.ID, rpc.WriteResponse{Commits: commits})

	if len(fresh) > 0 {
		c.broadcastChanges(conn, fresh)
		if c.hooks.FanOut != nil {
			metrics.FanOutMessages.Inc()
			c.hooks.FanOut(ctx, c.key, fresh)
		}
		if c.hooks.Synced != nil {
			if used, err := c.journal.UsedStorage(ctx); err == nil {
				c.hooks.Synced(ctx, c.key, used)
			}
		}
	}
}

func (c *Coordinator) handleRequestChanges(ctx context.Context, s *Session, conn *websocket.Conn, frame rpc.Frame) {
	var req rpc.RequestChangesRequest
	if err := json.Unmarshal(frame.Body, &req); err != nil {
		c.sendError(s, conn, frame.ID, rpc.CodeInternal, "malformed request_changes request")
		return
	}
	start := req.StartSequence
	if start < 1 {
		start = 1
	}
	changes, err := c.journal.ChangesSince(ctx, originRemote, start)
	if err != nil {
		c.sendError(s, conn, frame.ID, rpc.CodeInternal, err.Error())
		return
	}
	wire := make([]rpc.WireEntry, len(changes))
	for i, re := range changes {
		wire[i] = rpc.ToWire(re.Entry, re.Sequence)
	}
	if s != nil {
		s.LastSeenAt = time.Now()
	}
	c.respond(s, conn, frame.ID, rpc.ChangesResponse{Changes: wire})
}

func (c *Coordinator) handleDestroy(ctx context.Context, s *Session, conn *websocket.Conn, frame rpc.Frame) {
	c.respond(s, conn, frame.ID, struct{}{})
	c.destroyLocked(ctx)
}

// Destroy closes every socket, deletes all persisted storage and stops
// the actor. Hard and irreversible; used for tenant/vault deletion.
func (c *Coordinator) Destroy(ctx context.Context) error {
	return c.call(func() {
		c.destroyLocked(ctx)
	})
}

// destroyLocked runs on the actor loop. Each cleanup step is individually
// best-effort; the final stop always happens.
func (c *Coordinator) destroyLocked(ctx context.Context) {
	if c.destroyed {
		return
	}
	c.destroyed = true

	for conn, s := range c.sessions {
		s.quit = true
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "identity destroyed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		_ = conn.Close()
		delete(c.sessions, conn)
	}

	if err := c.journal.Close(); err != nil {
		c.log.Warn(ctx, "journal close failed during destroy", "error", err)
	}
	if c.hooks.DestroyStorage != nil {
		if err := c.hooks.DestroyStorage(ctx, c.key); err != nil {
			c.log.Warn(ctx, "storage destroy failed", "error", err)
		}
	}

	close(c.done)
	if c.onStopped != nil {
		c.onStopped(c.key)
	}
}

// Stop shuts the actor down without touching storage (process shutdown).
func (c *Coordinator) Stop() {
	_ = c.call(func() {
		if c.destroyed {
			return
		}
		c.destroyed = true
		for conn, s := range c.sessions {
			s.quit = true
			_ = conn.Close()
			delete(c.sessions, conn)
		}
		_ = c.journal.Close()
		close(c.done)
		if c.onStopped != nil {
			c.onStopped(c.key)
		}
	})
}

func (c *Coordinator) respond(s *Session, conn *websocket.Conn, id uint64, body any) {
	frame, err := rpc.NewFrame(rpc.TypeResult, id, body)
	if err != nil {
		c.log.Error(context.Background(), "encode response failed", "error", err)
		return
	}
	c.send(s, conn, frame)
}

func (c *Coordinator) sendError(s *Session, conn *websocket.Conn, id uint64, code, message string) {
	frame, err := rpc.NewFrame(rpc.TypeError, id, rpc.ErrorBody{Code: code, Message: message})
	if err != nil {
		return
	}
	c.send(s, conn, frame)
}

// send writes a frame unless the session has quit; a transport failure
// degrades only that session.
func (c *Coordinator) send(s *Session, conn *websocket.Conn, frame rpc.Frame) {
	if s != nil && s.quit {
		return
	}
	if err := conn.WriteJSON(frame); err != nil {
		c.log.Warn(context.Background(), "session write failed", "error", err)
	}
}

// broadcastChanges pushes fresh changes to every session except origin.
func (c *Coordinator) broadcastChanges(origin *websocket.Conn, changes []rpc.WireEntry) {
	frame, err := rpc.NewFrame(rpc.TypeChanges, 0, rpc.ChangesResponse{Changes: changes})
	if err != nil {
		return
	}
	for conn, s := range c.sessions {
		if conn == origin || s.quit {
			continue
		}
		c.send(s, conn, frame)
	}
}

// broadcastDeviceList sends each connected device the full device list:
// the recipient first, then its peers most recently seen first.
func (c *Coordinator) broadcastDeviceList() {
	for conn, s := range c.sessions {
		if s.quit {
			continue
		}
		frame, err := rpc.NewFrame(rpc.TypeDeviceList, 0, rpc.DeviceListBody{Devices: c.deviceListFor(s)})
		if err != nil {
			continue
		}
		c.send(s, conn, frame)
	}
}

func (c *Coordinator) deviceListFor(self *Session) []rpc.DeviceInfo {
	list := []rpc.DeviceInfo{self.info(true)}
	var peers []*Session
	for _, s := range c.sessions {
		if s != self && !s.quit {
			peers = append(peers, s)
		}
	}
	sortSessionsByLastSeen(peers)
	for _, s := range peers {
		list = append(list, s.info(false))
	}
	return list
}

// SessionCount reports the number of live sessions, for tests and stats.
func (c *Coordinator) SessionCount() int {
	n := 0
	_ = c.call(func() { n = len(c.sessions) })
	return n
}
