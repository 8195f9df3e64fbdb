// Package journal implements the append-only event journal: the entry
// model, the journal contract with idempotent writes and change
// notification, and a SQL-backed implementation with per-remote sequence
// bookkeeping and conflict detection.
package journal

import (
	"fmt"

	"github.com/google/uuid"
)

// Entry is one immutable event record in the journal.
//
// ID is a UUIDv7: time-ordered, globally unique, with a random suffix, so
// sorting by ID approximates sorting by creation time. Timestamp is the
// creation instant in unix milliseconds and always matches the instant
// encoded in the ID. Entries sharing (Event, PrimaryKey) may conflict.
// Payload is opaque to the journal and the sync protocol.
type Entry struct {
	ID         string
	Event      string
	PrimaryKey string
	Payload    []byte
	Timestamp  int64
}

// NewEntry creates an entry for the given event tag and logical record key.
// The payload is stored as-is.
func NewEntry(event, primaryKey string, payload []byte) (*Entry, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate entry id: %w", err)
	}
	sec, nsec := id.Time().UnixTime()
	return &Entry{
		ID:         id.String(),
		Event:      event,
		PrimaryKey: primaryKey,
		Payload:    payload,
		Timestamp:  sec*1000 + nsec/1_000_000,
	}, nil
}

// RemoteEntry pairs an entry with the sequence a remote peer assigned to it
// when the entry was committed to that peer's replica.
type RemoteEntry struct {
	Entry    *Entry
	Sequence int64
}

// RemoteCommit records that a remote accepted an entry under a sequence.
type RemoteCommit struct {
	EntryID  string
	Sequence int64
}

// Conflict is a first-class outcome of a remote write, not an error: the
// incoming entry plus all already-stored entries sharing its
// (Event, PrimaryKey) with Timestamp >= the incoming entry's. Resolution
// policy is supplied by the caller.
type Conflict struct {
	Entry     *Entry
	Conflicts []*Entry
}
