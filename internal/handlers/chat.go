package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dm-service/internal/bus"
	"dm-service/internal/middleware"
	"dm-service/internal/models"
	"dm-service/internal/repositories"
	"dm-service/internal/telemetry"
)

// ChatHandler exposes the session-level chat operations, composing the chat
// store and the notification bus.
type ChatHandler struct {
	chatRepo    repositories.ChatRepository
	messageRepo repositories.MessageRepository
	userRepo    repositories.UserRepository
	hub         *bus.Bus
	emitter     *telemetry.AuditEmitter
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chatRepo repositories.ChatRepository, messageRepo repositories.MessageRepository, userRepo repositories.UserRepository, hub *bus.Bus, emitter *telemetry.AuditEmitter) *ChatHandler {
	return &ChatHandler{
		chatRepo:    chatRepo,
		messageRepo: messageRepo,
		userRepo:    userRepo,
		hub:         hub,
		emitter:     emitter,
	}
}

type sendRequest struct {
	To           string          `json:"to" binding:"required"`
	Content      string          `json:"content"`
	Spoiler      *spoilerRequest `json:"spoiler,omitempty"`
	ConnectionID string          `json:"connection_id,omitempty"`
}

type spoilerRequest struct {
	MediaID     string `json:"media_id" binding:"required"`
	MediaType   string `json:"media_type" binding:"required,oneof=MOVIE SHOW"`
	MediaName   string `json:"media_name" binding:"required"`
	MediaImage  string `json:"media_image"`
	Description string `json:"description"`
	Season      *int   `json:"season,omitempty"`
	Episode     *int   `json:"episode,omitempty"`
}

// ListChats returns the caller's chat summaries, most recently active first.
func (h *ChatHandler) ListChats(c *gin.Context) {
	username := c.GetString(middleware.UsernameKey)

	summaries, err := h.chatRepo.ListChats(c.Request.Context(), username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chats"})
		return
	}

	for i := range summaries {
		if summaries[i].LastMessage != nil && summaries[i].LastMessage.Sender != username {
			redacted := summaries[i].LastMessage.Redacted()
			summaries[i].LastMessage = &redacted
		}
	}

	c.JSON(http.StatusOK, gin.H{"chats": summaries})
}

// GetChat returns the chat with another user and its ordered history. Chats
// are created lazily on first send, so an unknown pair yields an empty view
// rather than an error or a new row.
func (h *ChatHandler) GetChat(c *gin.Context) {
	username := c.GetString(middleware.UsernameKey)
	other := c.Param("username")

	if other == username {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}
	if _, err := h.userRepo.GetUser(c.Request.Context(), other); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "user not found"})
		return
	}

	chat, err := h.chatRepo.GetChatByPair(c.Request.Context(), username, other)
	if errors.Is(err, repositories.ErrChatNotFound) {
		c.JSON(http.StatusOK, gin.H{"chat_id": 0, "messages": []models.Message{}})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load chat"})
		return
	}

	beforeSeq, _ := strconv.ParseInt(c.Query("before_seq"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))

	msgs, err := h.messageRepo.ListMessages(c.Request.Context(), chat.ID, beforeSeq, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	for i := range msgs {
		if msgs[i].Sender != username {
			msgs[i] = msgs[i].Redacted()
		}
	}

	c.JSON(http.StatusOK, gin.H{"chat_id": chat.ID, "messages": msgs})
}

// Send appends a message to the chat with the target user, creating the chat
// on first contact, then fans the event out to both participants. The
// originating connection is excluded so it does not refetch its own write.
func (h *ChatHandler) Send(c *gin.Context) {
	username := c.GetString(middleware.UsernameKey)

	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.To == username {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}
	if req.Content == "" && req.Spoiler == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
		return
	}

	if _, err := h.userRepo.GetUser(c.Request.Context(), req.To); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrUserNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "recipient not found"})
		return
	}

	chat, err := h.chatRepo.GetOrCreateChat(c.Request.Context(), username, req.To)
	if err != nil {
		if errors.Is(err, repositories.ErrInvalidParticipants) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participants"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create chat"})
		return
	}

	var spoiler *models.SpoilerPayload
	if req.Spoiler != nil {
		spoiler = &models.SpoilerPayload{
			MediaID:     req.Spoiler.MediaID,
			MediaType:   models.MediaType(req.Spoiler.MediaType),
			MediaName:   req.Spoiler.MediaName,
			MediaImage:  req.Spoiler.MediaImage,
			Description: req.Spoiler.Description,
			Season:      req.Spoiler.Season,
			Episode:     req.Spoiler.Episode,
		}
	}

	msg, err := h.messageRepo.AppendMessage(c.Request.Context(), chat.ID, username, req.Content, spoiler)
	if err != nil {
		h.handleStoreError(c, err, "failed to store message")
		return
	}

	event := models.Event{Type: models.EventMessage, ChatID: chat.ID, From: username}
	h.hub.Publish(req.To, "", event)
	h.hub.Publish(username, req.ConnectionID, event)

	c.JSON(http.StatusCreated, msg)
}

type readRequest struct {
	ConnectionID string `json:"connection_id,omitempty"`
}

// MarkRead flags every message from the other participant as read and
// notifies them so their "seen" state updates without polling.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	username := c.GetString(middleware.UsernameKey)
	chatID, err := strconv.ParseInt(c.Param("chat_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid chat id"})
		return
	}

	var req readRequest
	_ = c.ShouldBindJSON(&req)

	chat, err := h.chatRepo.GetChat(c.Request.Context(), chatID)
	if err != nil {
		h.handleStoreError(c, err, "chat not found")
		return
	}
	if !chat.HasParticipant(username) {
		h.rejectNonParticipant(c, username, "mark-read")
		return
	}

	if _, err := h.messageRepo.MarkRead(c.Request.Context(), chatID, username); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark read"})
		return
	}

	event := models.Event{Type: models.EventRead, ChatID: chatID, From: username}
	h.hub.Publish(chat.OtherParticipant(username), "", event)
	h.hub.Publish(username, req.ConnectionID, event)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// UnreadCount returns the number of chats holding unread messages for the
// caller, for the chat-list badge.
func (h *ChatHandler) UnreadCount(c *gin.Context) {
	username := c.GetString(middleware.UsernameKey)

	count, err := h.messageRepo.UnreadCount(c.Request.Context(), username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count unread chats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"count": count})
}

// RevealSpoiler flips a spoiler message to revealed. Revealing an already
// revealed (or plain) message succeeds without changing anything.
func (h *ChatHandler) RevealSpoiler(c *gin.Context) {
	username := c.GetString(middleware.UsernameKey)
	messageID, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return
	}

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		h.handleStoreError(c, err, "message not found")
		return
	}

	chat, err := h.chatRepo.GetChat(c.Request.Context(), msg.ChatID)
	if err != nil {
		h.handleStoreError(c, err, "chat not found")
		return
	}
	if !chat.HasParticipant(username) {
		h.rejectNonParticipant(c, username, "reveal")
		return
	}

	if err := h.messageRepo.RevealSpoiler(c.Request.Context(), messageID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reveal spoiler"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *ChatHandler) handleStoreError(c *gin.Context, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, repositories.ErrChatNotFound), errors.Is(err, repositories.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFoundMsg})
	case errors.Is(err, repositories.ErrNotAParticipant):
		h.rejectNonParticipant(c, c.GetString(middleware.UsernameKey), "send")
	case errors.Is(err, repositories.ErrInvalidParticipants):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participants"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// rejectNonParticipant surfaces an integrity violation and leaves an audit
// trail; the store itself was never touched.
func (h *ChatHandler) rejectNonParticipant(c *gin.Context, username, op string) {
	h.emitter.Emit(c.Request.Context(), "WARN", "non-participant attempted "+op, requestIDFromContext(c), &username)
	c.JSON(http.StatusForbidden, gin.H{"error": "not a chat participant"})
}
