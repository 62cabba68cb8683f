package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

var (
	ErrChatNotFound        = errors.New("chat not found")
	ErrInvalidParticipants = errors.New("invalid participants")
)

// ChatRepository abstracts chat persistence.
type ChatRepository interface {
	GetOrCreateChat(ctx context.Context, userA, userB string) (models.Chat, error)
	GetChat(ctx context.Context, chatID int64) (models.Chat, error)
	GetChatByPair(ctx context.Context, userA, userB string) (models.Chat, error)
	ListChats(ctx context.Context, username string) ([]models.ChatSummary, error)
}

// ChatRepo is a sqlx implementation of ChatRepository.
type ChatRepo struct {
	db *sqlx.DB
}

// NewChatRepo constructs a ChatRepo.
func NewChatRepo(db *sqlx.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

// normalizePair orders two handles lexicographically so the pair maps to a
// single row. Self-chats are rejected.
func normalizePair(userA, userB string) (string, string, error) {
	if userA == userB || userA == "" || userB == "" {
		return "", "", ErrInvalidParticipants
	}
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA, userB, nil
}

// GetOrCreateChat returns the chat for the pair, creating it if absent. The
// upsert makes racing first-sends between the same pair converge on one row.
func (r *ChatRepo) GetOrCreateChat(ctx context.Context, userA, userB string) (models.Chat, error) {
	a, b, err := normalizePair(userA, userB)
	if err != nil {
		return models.Chat{}, err
	}

	var chat models.Chat
	query := `INSERT INTO chats (user_a, user_b) VALUES ($1, $2)
        ON CONFLICT (user_a, user_b) DO UPDATE SET user_a = EXCLUDED.user_a
        RETURNING id, user_a, user_b, last_seq, last_message_at, created_at`
	if err := r.db.GetContext(ctx, &chat, query, a, b); err != nil {
		return models.Chat{}, err
	}
	return chat, nil
}

// GetChat fetches a chat by id.
func (r *ChatRepo) GetChat(ctx context.Context, chatID int64) (models.Chat, error) {
	var chat models.Chat
	err := r.db.GetContext(ctx, &chat, `SELECT id, user_a, user_b, last_seq, last_message_at, created_at FROM chats WHERE id=$1`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// GetChatByPair fetches the chat for a pair without creating it.
func (r *ChatRepo) GetChatByPair(ctx context.Context, userA, userB string) (models.Chat, error) {
	a, b, err := normalizePair(userA, userB)
	if err != nil {
		return models.Chat{}, err
	}
	var chat models.Chat
	err = r.db.GetContext(ctx, &chat, `SELECT id, user_a, user_b, last_seq, last_message_at, created_at FROM chats WHERE user_a=$1 AND user_b=$2`, a, b)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Chat{}, ErrChatNotFound
	}
	return chat, err
}

// ListChats returns the user's chat summaries ordered by the recency of each
// chat's latest message; chats with no messages sort last.
func (r *ChatRepo) ListChats(ctx context.Context, username string) ([]models.ChatSummary, error) {
	query := `SELECT c.id AS chat_id,
            u.username AS friend_username, u.display_name AS friend_display_name, u.avatar_url AS friend_avatar_url,
            m.id AS msg_id, m.seq AS msg_seq, m.sender AS msg_sender, m.content AS msg_content,
            m.read AS msg_read, m.media_id, m.media_type, m.media_name, m.media_image,
            m.spoiler_description, m.spoiler_season, m.spoiler_episode, m.spoiler_revealed,
            m.created_at AS msg_created_at,
            EXISTS(SELECT 1 FROM messages um WHERE um.chat_id=c.id AND um.read=FALSE AND um.sender<>$1) AS unread
        FROM chats c
        JOIN users u ON u.username = CASE WHEN c.user_a=$1 THEN c.user_b ELSE c.user_a END
        LEFT JOIN LATERAL (
            SELECT * FROM messages lm WHERE lm.chat_id=c.id ORDER BY lm.seq DESC LIMIT 1
        ) m ON TRUE
        WHERE c.user_a=$1 OR c.user_b=$1
        ORDER BY c.last_message_at DESC NULLS LAST, c.id DESC`

	rows, err := r.db.QueryxContext(ctx, query, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ChatSummary
	for rows.Next() {
		var row chatSummaryRow
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		result = append(result, row.toSummary())
	}
	return result, rows.Err()
}

type chatSummaryRow struct {
	ChatID            int64          `db:"chat_id"`
	FriendUsername    string         `db:"friend_username"`
	FriendDisplayName string         `db:"friend_display_name"`
	FriendAvatarURL   string         `db:"friend_avatar_url"`
	Unread            bool           `db:"unread"`
	MsgID             sql.NullInt64  `db:"msg_id"`
	MsgSeq            sql.NullInt64  `db:"msg_seq"`
	MsgSender         sql.NullString `db:"msg_sender"`
	MsgContent        sql.NullString `db:"msg_content"`
	MsgRead           sql.NullBool   `db:"msg_read"`
	MediaID           sql.NullString `db:"media_id"`
	MediaType         sql.NullString `db:"media_type"`
	MediaName         sql.NullString `db:"media_name"`
	MediaImage        sql.NullString `db:"media_image"`
	SpoilerDesc       sql.NullString `db:"spoiler_description"`
	SpoilerSeason     sql.NullInt64  `db:"spoiler_season"`
	SpoilerEpisode    sql.NullInt64  `db:"spoiler_episode"`
	SpoilerRevealed   sql.NullBool   `db:"spoiler_revealed"`
	MsgCreatedAt      sql.NullTime   `db:"msg_created_at"`
}

func (row chatSummaryRow) toSummary() models.ChatSummary {
	summary := models.ChatSummary{
		ChatID: row.ChatID,
		Friend: models.User{
			Username:    row.FriendUsername,
			DisplayName: row.FriendDisplayName,
			AvatarURL:   row.FriendAvatarURL,
		},
		Unread: row.Unread,
	}
	if row.MsgID.Valid {
		msg := models.Message{
			ID:        row.MsgID.Int64,
			ChatID:    row.ChatID,
			Seq:       row.MsgSeq.Int64,
			Sender:    row.MsgSender.String,
			Content:   row.MsgContent.String,
			Read:      row.MsgRead.Bool,
			CreatedAt: row.MsgCreatedAt.Time,
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
				Revealed:    row.SpoilerRevealed.Bool,
			}
		}
		summary.LastMessage = &msg
	}
	return summary
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	value := int(v.Int64)
	return &value
}
