// Package rpc implements the framed request/response protocol spoken over
// WebSockets. One transport substrate carries three schemas: device sync
// traffic, replica fan-out between servers, and vault teardown. Frames are
// JSON with a type discriminator and a correlation id; entry payloads stay
// opaque bytes end to end.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/journalsync/internal/journal"
)

// Frame type tags.
const (
	TypeWrite          = "write"
	TypeRequestChanges = "request_changes"
	TypeDestroy        = "destroy"
	TypeResult         = "result"
	TypeError          = "error"
	TypeDeviceList     = "device_list"
	TypeChanges        = "changes"
)

// Error codes carried in ErrorBody. Quota rejections are protocol errors,
// not socket closures, so clients can back off and retry on the same
// connection.
const (
	CodeTooManyRequests = "too_many_requests"
	CodeStorageLimit    = "storage_limit"
	CodeUnauthorized    = "unauthorized"
	CodeInternal        = "internal"
)

// WebSocket close codes used before any storage is touched.
const (
	CloseUnauthorized = 4001
	CloseBadIdentity  = 4002
	CloseRateLimited  = 4008
)

// Identity headers carried on the WebSocket upgrade request. The token is
// a signed claim over the namespace and public key; all three must agree.
const (
	HeaderNamespace = "X-Namespace"
	HeaderPublicKey = "X-Public-Key"
	HeaderSyncToken = "X-Sync-Token"
	HeaderOS        = "X-Device-Os"
	HeaderBrowser   = "X-Device-Browser"
	HeaderType      = "X-Device-Type"
)

// Frame is the wire envelope. ID correlates a response to its request;
// push frames (device_list, changes) carry ID zero.
type Frame struct {
	Type string          `json:"type"`
	ID   uint64          `json:"id,omitempty"`
	Body json.RawMessage `json:"body,omitempty"`
}

// NewFrame marshals body into a frame.
func NewFrame(frameType string, id uint64, body any) (Frame, error) {
	var raw json.RawMessage
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return Frame{}, fmt.Errorf("encode %s frame: %w", frameType, err)
		}
		raw = buf
	}
	return Frame{Type: frameType, ID: id, Body: raw}, nil
}

// Decode unmarshals the frame body into out.
func (f Frame) Decode(out any) error {
	if len(f.Body) == 0 {
		return fmt.Errorf("empty %s frame body", f.Type)
	}
	return json.Unmarshal(f.Body, out)
}

// ErrorBody is the payload of an error frame.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RPCError is an error frame surfaced to a caller.
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %s: %s", e.Code, e.Message)
}

// WireEntry is the serialized form of a journal entry, optionally tagged
// with the per-remote sequence assigned at commit time.
type WireEntry struct {
	ID         string `json:"id"`
	Event      string `json:"event"`
	PrimaryKey string `json:"primary_key"`
	Payload    []byte `json:"payload"`
	Timestamp  int64  `json:"timestamp"`
	Sequence   int64  `json:"sequence,omitempty"`
}

// ToWire converts an entry for transmission.
func ToWire(e *journal.Entry, sequence int64) WireEntry {
	return WireEntry{
		ID:         e.ID,
		Event:      e.Event,
		PrimaryKey: e.PrimaryKey,
		Payload:    e.Payload,
		Timestamp:  e.Timestamp,
		Sequence:   sequence,
	}
}

// FromWire converts a received entry back into the journal model.
func (w WireEntry) FromWire() journal.RemoteEntry {
	return journal.RemoteEntry{
		Entry: &journal.Entry{
			ID:         w.ID,
			Event:      w.Event,
			PrimaryKey: w.PrimaryKey,
			Payload:    w.Payload,
			Timestamp:  w.Timestamp,
		},
		Sequence: w.Sequence,
	}
}

// WriteRequest pushes locally uncommitted entries to a replica.
type WriteRequest struct {
	Entries []WireEntry `json:"entries"`
}

// WriteResponse reports the sequences the replica assigned, plus any
// changes the replica wants fanned back out.
type WriteResponse struct {
	Commits []Commit    `json:"commits"`
	Changes []WireEntry `json:"changes,omitempty"`
}

// Commit mirrors journal.RemoteCommit on the wire.
type Commit struct {
	EntryID  string `json:"entry_id"`
	Sequence int64  `json:"sequence"`
}

// RequestChangesRequest asks for all changes committed at or after
// StartSequence.
type RequestChangesRequest struct {
	StartSequence int64 `json:"start_sequence"`
}

// ChangesResponse carries the requested change stream.
type ChangesResponse struct {
	Changes []WireEntry `json:"changes"`
}

// DeviceInfo describes one connected device in a device-list broadcast.
type DeviceInfo struct {
	OS         string `json:"os"`
	Browser    string `json:"browser"`
	DeviceType string `json:"device_type"`
	LastSeenAt int64  `json:"last_seen_at"`
	Self       bool   `json:"self"`
}

// DeviceListBody is pushed to every connected device whenever the session
// table changes, most recently seen first with the recipient first.
type DeviceListBody struct {
	Devices []DeviceInfo `json:"devices"`
}
