package models

import "time"

// MessageKind distinguishes the two message variants.
type MessageKind string

const (
	KindPlain   MessageKind = "plain"
	KindSpoiler MessageKind = "spoiler"
)

// MediaType identifies the kind of media a spoiler refers to.
type MediaType string

const (
	MediaMovie MediaType = "MOVIE"
	MediaShow  MediaType = "SHOW"
)

// Message is a single entry in a chat. Spoiler is nil for plain text
// messages; when set, the message is spoiler-gated and its content stays
// hidden until the payload is revealed.
type Message struct {
	ID        int64           `json:"id"`
	ChatID    int64           `json:"chat_id"`
	Seq       int64           `json:"seq"`
	Sender    string          `json:"sender"`
	Content   string          `json:"content"`
	Read      bool            `json:"read"`
	Spoiler   *SpoilerPayload `json:"spoiler,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// SpoilerPayload carries a media recommendation whose details are gated
// behind an explicit reveal. Revealed is terminal once set.
type SpoilerPayload struct {
	MediaID     string    `json:"media_id"`
	MediaType   MediaType `json:"media_type"`
	MediaName   string    `json:"media_name"`
	MediaImage  string    `json:"media_image,omitempty"`
	Description string    `json:"description,omitempty"`
	Season      *int      `json:"season,omitempty"`
	Episode     *int      `json:"episode,omitempty"`
	Revealed    bool      `json:"revealed"`
}

// Kind returns the message variant.
func (m Message) Kind() MessageKind {
	if m.Spoiler != nil {
		return KindSpoiler
	}
	return KindPlain
}

// Hidden reports whether the message content is currently withheld. Plain
// messages are never hidden.
func (m Message) Hidden() bool {
	return m.Spoiler != nil && !m.Spoiler.Revealed
}

// Redacted returns a copy safe for rendering. While hidden, the text content,
// description and season/episode markers are withheld; the media reference
// itself stays visible so the reader knows what the spoiler is about.
func (m Message) Redacted() Message {
	if !m.Hidden() {
		return m
	}
	out := m
	out.Content = ""
	spoiler := *m.Spoiler
	spoiler.Description = ""
	spoiler.Season = nil
	spoiler.Episode = nil
	out.Spoiler = &spoiler
	return out
}
