// Package client implements the device side of journal replication: it
// pushes locally uncommitted entries to the sync server, pulls changes
// committed since its last known sequence, and reacts to live pushes.
package client

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/journalsync/internal/journal"
	"github.com/dmitrijs2005/journalsync/internal/logging"
	"github.com/dmitrijs2005/journalsync/internal/rpc"
)

// ServerRemoteID is the remote id under which server-assigned sequences
// are recorded in the local journal.
const ServerRemoteID = "server"

// DeviceListFunc receives device-list pushes from the server.
type DeviceListFunc func(devices []rpc.DeviceInfo)

// Options tune a Syncer beyond its required collaborators.
type Options struct {
	// Compact optionally collapses a freshly pulled batch before conflict
	// scanning.
	Compact journal.CompactFunc
	// Resolve is invoked for each pulled entry with its conflict set.
	Resolve journal.ResolveFunc
	// OnDeviceList receives device-list pushes.
	OnDeviceList DeviceListFunc
	// IdleTimeout closes the shared connection after inactivity.
	IdleTimeout time.Duration
}

// Syncer replicates one local journal against the sync server over a
// leased WebSocket connection.
type Syncer struct {
	journal *journal.SQLJournal
	lease   *rpc.Lease
	opts    Options
	log     logging.Logger
}

// NewSyncer builds a syncer for the journal. url is the server's sync
// endpoint; header supplies the identity headers per dial, so tokens can
// rotate between reconnects.
func NewSyncer(j *journal.SQLJournal, url string, header func() http.Header, opts Options, log logging.Logger) *Syncer {
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = time.Minute
	}
	s := &Syncer{
		journal: j,
		opts:    opts,
		log:     log.With("module", "syncer"),
	}
	s.lease = rpc.NewLease(url, header, opts.IdleTimeout, s.onPush, s.log)
	return s
}

// onPush handles frames the server sends without a prior request.
func (s *Syncer) onPush(frame rpc.Frame) {
	switch frame.Type {
	case rpc.TypeChanges:
		var body rpc.ChangesResponse
		if err := frame.Decode(&body); err != nil {
			s.log.Warn(context.Background(), "malformed changes push", "error", err)
			return
		}
		if err := s.ingest(context.Background(), body.Changes); err != nil {
			s.log.Error(context.Background(), "change ingestion failed", "error", err)
		}
	case rpc.TypeDeviceList:
		if s.opts.OnDeviceList == nil {
			return
		}
		var body rpc.DeviceListBody
		if err := frame.Decode(&body); err != nil {
			s.log.Warn(context.Background(), "malformed device list push", "error", err)
			return
		}
		s.opts.OnDeviceList(body.Devices)
	}
}

// Sync runs one full replication round: pull everything committed since
// the local cursor, then push everything not yet committed remotely.
func (s *Syncer) Sync(ctx context.Context) error {
	if err := s.Pull(ctx); err != nil {
		return err
	}
	return s.Push(ctx)
}

// Pull requests all changes at or after the local cursor and ingests
// them. Replayed entries dedupe in the journal.
func (s *Syncer) Pull(ctx context.Context) error {
	start, err := s.journal.NextRemoteSequence(ctx, ServerRemoteID)
	if err != nil {
		return err
	}

	conn, err := s.lease.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.lease.Release()

	var resp rpc.ChangesResponse
	if err := conn.Call(ctx, rpc.TypeRequestChanges, rpc.RequestChangesRequest{StartSequence: start}, &resp); err != nil {
		return err
	}
	return s.ingest(ctx, resp.Changes)
}

func (s *Syncer) ingest(ctx context.Context, changes []rpc.WireEntry) error {
	if len(changes) == 0 {
		return nil
	}
	incoming := make([]journal.RemoteEntry, len(changes))
	for i, w := range changes {
		incoming[i] = w.FromWire()
	}
	return s.journal.WriteFromRemote(ctx, ServerRemoteID, incoming, s.opts.Compact, s.opts.Resolve)
}

// Push transmits local entries the server has not committed yet and
// records the sequences it assigns.
func (s *Syncer) Push(ctx context.Context) error {
	conn, err := s.lease.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.lease.Release()

	return s.journal.WithRemoteUncommitted(ctx, ServerRemoteID, func(ctx context.Context, entries []*journal.Entry) ([]journal.RemoteCommit, error) {
		req := rpc.WriteRequest{Entries: make([]rpc.WireEntry, len(entries))}
		for i, e := range entries {
			req.Entries[i] = rpc.ToWire(e, 0)
		}
		var resp rpc.WriteResponse
		if err := conn.Call(ctx, rpc.TypeWrite, req, &resp); err != nil {
			return nil, err
		}
		commits := make([]journal.RemoteCommit, len(resp.Commits))
		for i, c := range resp.Commits {
			commits[i] = journal.RemoteCommit{EntryID: c.EntryID, Sequence: c.Sequence}
		}
		return commits, nil
	})
}

// Run keeps the journal replicated until ctx is canceled: one initial
// full round, then a push for every locally written entry, observed via
// the journal's change feed. Transient failures are logged and retried on
// the next event.
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.Sync(ctx); err != nil {
		s.log.Warn(ctx, "initial sync failed", "error", err)
	}

	events, cancel := s.journal.Changes().Subscribe(16)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			s.lease.Close()
			return ctx.Err()
		case _, ok := <-events:
			if !ok {
				s.lease.Close()
				return nil
			}
			if err := s.Push(ctx); err != nil {
				s.log.Warn(ctx, "push failed", "error", err)
			}
		}
	}
}

// Destroy asks the server to irreversibly delete this identity's
// server-side journal.
func (s *Syncer) Destroy(ctx context.Context) error {
	conn, err := s.lease.Acquire(ctx)
	if err != nil {
		return err
	}
	defer s.lease.Release()
	return conn.Call(ctx, rpc.TypeDestroy, nil, nil)
}
