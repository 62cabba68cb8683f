package models

// EventType names the notification bus event kinds.
type EventType string

const (
	// EventMessage signals that a new message landed in one of the
	// subscriber's chats.
	EventMessage EventType = "message"
	// EventRead signals that the other participant marked a chat read.
	EventRead EventType = "read"
)

// Event is a best-effort cue pushed to online subscribers. It never carries
// the payload of record; consumers refetch authoritative state from the store.
type Event struct {
	Type   EventType `json:"type"`
	ChatID int64     `json:"chat_id"`
	From   string    `json:"from"`
}
