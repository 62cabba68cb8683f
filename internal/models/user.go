package models

import "time"

// User is a read-only mirror of the identity service's user record. The
// username is the stable handle used to address chats and bus channels.
type User struct {
	Username    string    `db:"username" json:"username"`
	DisplayName string    `db:"display_name" json:"display_name,omitempty"`
	AvatarURL   string    `db:"avatar_url" json:"avatar_url,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"-"`
}
