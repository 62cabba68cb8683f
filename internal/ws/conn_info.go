package ws

import "time"

// ConnInfo describes one live subscription for observability purposes. The
// ConnID doubles as the bus exclusion capability: events published with this
// id skip the connection that originated the write.
type ConnInfo struct {
	ConnID      string
	Username    string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
