package journal

import (
	"context"
	"fmt"
)

// SideEffect runs after an entry is durably recorded, before it is
// published to subscribers.
type SideEffect func(ctx context.Context, e *Entry) error

// CompactFunc may merge or drop incoming entries before conflict checking.
// A nil CompactFunc leaves the batch unchanged.
type CompactFunc func(entries []*Entry) []*Entry

// ResolveFunc receives each conflict detected during a remote write. The
// journal makes no resolution decision itself; last-write-wins, merge, or
// user-prompted strategies all live behind this hook.
type ResolveFunc func(ctx context.Context, c Conflict) error

// Journal is the append-only local event log.
type Journal interface {
	// Write records the entry exactly once (a duplicate ID is a no-op),
	// then runs sideEffect and publishes the entry to subscribers. A
	// failing side effect leaves the entry durably recorded.
	Write(ctx context.Context, e *Entry, sideEffect SideEffect) error

	// Entries returns all entries ordered by creation time ascending.
	// It re-reads storage; it is not a live subscription.
	Entries(ctx context.Context) ([]*Entry, error)

	// Changes is the multicast feed of newly written entries. Delivery is
	// non-durable and at-most-once per subscriber.
	Changes() *Feed
}

// Error wraps a storage failure with the name of the journal operation
// that produced it, so callers can branch on the operation without
// inspecting driver-specific errors.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("journal %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
