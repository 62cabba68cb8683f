package models

import "time"

// Chat represents a private conversation between exactly two users, addressed
// by their handles. UserA and UserB are kept in lexicographic order so the
// pair forms a unique key regardless of which side created the chat.
type Chat struct {
	ID            int64      `db:"id" json:"id"`
	UserA         string     `db:"user_a" json:"user_a"`
	UserB         string     `db:"user_b" json:"user_b"`
	LastSeq       int64      `db:"last_seq" json:"-"`
	LastMessageAt *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
}

// HasParticipant reports whether the user belongs to the chat.
func (c Chat) HasParticipant(username string) bool {
	return c.UserA == username || c.UserB == username
}

// OtherParticipant returns the handle of the participant that is not the
// given user. The caller must already be a participant.
func (c Chat) OtherParticipant(username string) string {
	if c.UserA == username {
		return c.UserB
	}
	return c.UserA
}

// ChatSummary is the chat-list view for one user: the other participant,
// the latest message for preview text and the viewer's unread flag.
type ChatSummary struct {
	ChatID      int64    `json:"chat_id"`
	Friend      User     `json:"friend"`
	LastMessage *Message `json:"last_message,omitempty"`
	Unread      bool     `json:"unread"`
}
