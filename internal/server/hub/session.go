package hub

import (
	"sort"
	"time"

	"github.com/dmitrijs2005/journalsync/internal/rpc"
)

// Channel distinguishes end-user device sockets from server-internal ones.
type Channel string

const (
	// ChannelSync is the device-facing channel; connections count toward
	// the device quota and appear in device lists.
	ChannelSync Channel = "sync"
	// ChannelRpc is the internal channel used by replicas and teardown.
	ChannelRpc Channel = "rpc"
)

// SessionState is the durable part of a session: it is what gets
// serialized into the socket attachment so a connection can be rehydrated
// after a restart.
type SessionState struct {
	Channel    Channel   `json:"channel"`
	OS         string    `json:"os,omitempty"`
	Browser    string    `json:"browser,omitempty"`
	DeviceType string    `json:"deviceType,omitempty"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// Session is one live WebSocket on a coordinator. It is owned by the
// coordinator's actor loop; the quit flag keeps late frames from being
// written to a socket that already left the table.
type Session struct {
	SessionState
	quit bool
}

func newSession(state SessionState) *Session {
	if state.LastSeenAt.IsZero() {
		state.LastSeenAt = time.Now()
	}
	return &Session{SessionState: state}
}

func (s *Session) info(self bool) rpc.DeviceInfo {
	return rpc.DeviceInfo{
		OS:         s.OS,
		Browser:    s.Browser,
		DeviceType: s.DeviceType,
		LastSeenAt: s.LastSeenAt.UnixMilli(),
		Self:       self,
	}
}

// sortSessionsByLastSeen orders peers most recently seen first.
func sortSessionsByLastSeen(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastSeenAt.After(sessions[j].LastSeenAt)
	})
}
