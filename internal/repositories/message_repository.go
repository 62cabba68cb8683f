package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrNotAParticipant = errors.New("not a chat participant")
)

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	AppendMessage(ctx context.Context, chatID int64, sender, content string, spoiler *models.SpoilerPayload) (models.Message, error)
	ListMessages(ctx context.Context, chatID int64, beforeSeq int64, limit int) ([]models.Message, error)
	GetMessage(ctx context.Context, messageID int64) (models.Message, error)
	MarkRead(ctx context.Context, chatID int64, viewer string) (int64, error)
	RevealSpoiler(ctx context.Context, messageID int64) error
	UnreadCount(ctx context.Context, username string) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// AppendMessage stores a message with the next per-chat sequence number. The
// sequence comes from the chat row under a row lock, so message order within
// a chat stays total even when senders race on the same millisecond.
func (r *MessageRepo) AppendMessage(ctx context.Context, chatID int64, sender, content string, spoiler *models.SpoilerPayload) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var chat models.Chat
	err = tx.GetContext(ctx, &chat, `SELECT id, user_a, user_b, last_seq, last_message_at, created_at FROM chats WHERE id=$1 FOR UPDATE`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrChatNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	if !chat.HasParticipant(sender) {
		return models.Message{}, ErrNotAParticipant
	}

	var seq int64
	if err := tx.GetContext(ctx, &seq, `UPDATE chats SET last_seq = last_seq + 1, last_message_at = NOW() WHERE id=$1 RETURNING last_seq`, chatID); err != nil {
		return models.Message{}, err
	}

	var season, episode *int
	var mediaID, mediaType, mediaName, mediaImage, description *string
	if spoiler != nil {
		mediaID = &spoiler.MediaID
		mt := string(spoiler.MediaType)
		mediaType = &mt
		mediaName = &spoiler.MediaName
		mediaImage = &spoiler.MediaImage
		description = &spoiler.Description
		season = spoiler.Season
		episode = spoiler.Episode
	}

	var row messageRow
	err = tx.GetContext(ctx, &row, `INSERT INTO messages
            (chat_id, seq, sender, content, media_id, media_type, media_name, media_image, spoiler_description, spoiler_season, spoiler_episode)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        RETURNING id, chat_id, seq, sender, content, read, media_id, media_type, media_name, media_image,
            spoiler_description, spoiler_season, spoiler_episode, spoiler_revealed, created_at`,
		chatID, seq, sender, content, mediaID, mediaType, mediaName, mediaImage, description, season, episode)
	if err != nil {
		return models.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return row.toMessage(), nil
}

// ListMessages returns up to limit messages of a chat ordered by sequence
// ascending. A non-zero beforeSeq pages backwards through older history.
func (r *MessageRepo) ListMessages(ctx context.Context, chatID int64, beforeSeq int64, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT id, chat_id, seq, sender, content, read, media_id, media_type, media_name, media_image,
            spoiler_description, spoiler_season, spoiler_episode, spoiler_revealed, created_at
        FROM (
            SELECT * FROM messages
            WHERE chat_id=$1 AND ($2 = 0 OR seq < $2)
            ORDER BY seq DESC LIMIT $3
        ) page ORDER BY seq ASC`

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, query, chatID, beforeSeq, limit); err != nil {
		return nil, err
	}
	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toMessage())
	}
	return msgs, nil
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int64) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT id, chat_id, seq, sender, content, read, media_id, media_type, media_name, media_image,
            spoiler_description, spoiler_season, spoiler_episode, spoiler_revealed, created_at
        FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return row.toMessage(), nil
}

// MarkRead flags every message the viewer has not sent as read and reports
// how many rows changed. Repeat calls with no new messages touch nothing.
func (r *MessageRepo) MarkRead(ctx context.Context, chatID int64, viewer string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read = TRUE WHERE chat_id=$1 AND sender<>$2 AND read = FALSE`, chatID, viewer)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RevealSpoiler flips the spoiler to revealed. Revealed is terminal, so a
// repeat call changes nothing; plain messages are already revealed and are
// left untouched as well.
func (r *MessageRepo) RevealSpoiler(ctx context.Context, messageID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET spoiler_revealed = TRUE WHERE id=$1 AND media_id IS NOT NULL`, messageID)
	return err
}

// UnreadCount counts the user's chats holding at least one unread message
// from the other side.
func (r *MessageRepo) UnreadCount(ctx context.Context, username string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(DISTINCT m.chat_id) FROM messages m
        JOIN chats c ON c.id = m.chat_id
        WHERE m.read = FALSE AND m.sender<>$1 AND (c.user_a=$1 OR c.user_b=$1)`, username)
	return count, err
}

type messageRow struct {
	ID              int64          `db:"id"`
	ChatID          int64          `db:"chat_id"`
	Seq             int64          `db:"seq"`
	Sender          string         `db:"sender"`
	Content         string         `db:"content"`
	Read            bool           `db:"read"`
	MediaID         sql.NullString `db:"media_id"`
	MediaType       sql.NullString `db:"media_type"`
	MediaName       sql.NullString `db:"media_name"`
	MediaImage      sql.NullString `db:"media_image"`
	SpoilerDesc     sql.NullString `db:"spoiler_description"`
	SpoilerSeason   sql.NullInt64  `db:"spoiler_season"`
	SpoilerEpisode  sql.NullInt64  `db:"spoiler_episode"`
	SpoilerRevealed bool           `db:"spoiler_revealed"`
	CreatedAt       sql.NullTime   `db:"created_at"`
}

func (row messageRow) toMessage() models.Message {
	msg := models.Message{
		ID:        row.ID,
		ChatID:    row.ChatID,
		Seq:       row.Seq,
		Sender:    row.Sender,
		Content:   row.Content,
		Read:      row.Read,
		CreatedAt: row.CreatedAt.Time,
	}
	if row.MediaID.Valid {
		msg.Spoiler = &models.SpoilerPayload{
			MediaID:     row.MediaID.String,
			MediaType:   models.MediaType(row.MediaType.String),
			MediaName:   row.MediaName.String,
			MediaImage:  row.MediaImage.String,
			Description: row.SpoilerDesc.String,
			Season:      nullableInt(row.SpoilerSeason),
			Episode:     nullableInt(row.SpoilerEpisode),
			Revealed:    row.SpoilerRevealed,
		}
	}
	return msg
}
