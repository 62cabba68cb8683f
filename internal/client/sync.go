package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dm-service/internal/models"
)

// SendState tracks one optimistic send through its lifecycle.
type SendState int

const (
	StateIdle SendState = iota
	StateSending
	StateConfirmed
	StateRolledBack
)

// SyncClient keeps a local read-through cache of the caller's chats, applies
// optimistic writes and reconciles against server truth. The cache is never
// authoritative: every bus event and every failed write resolves by
// invalidating and refetching from the server.
type SyncClient struct {
	baseURL string
	token   string
	connID  string
	httpc   *http.Client

	mu        sync.Mutex
	chats     map[string]*chatCache
	chatKeys  map[int64]string
	list      []models.ChatSummary
	listValid bool
	unread    int
	unreadOK  bool
	gen       map[string]uint64
}

type chatCache struct {
	chatID   int64
	messages []models.Message
	valid    bool
}

// ChatView is the local projection of one chat.
type ChatView struct {
	ChatID   int64
	Messages []models.Message
}

// New constructs a SyncClient for one authenticated session. The connection
// id identifies this client instance on the bus so its own publishes are
// excluded from its subscription.
func New(baseURL, token string) *SyncClient {
	return &SyncClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		connID:   uuid.NewString(),
		httpc:    &http.Client{Timeout: 15 * time.Second},
		chats:    make(map[string]*chatCache),
		chatKeys: make(map[int64]string),
		gen:      make(map[string]uint64),
	}
}

// ConnectionID returns the connection id used on subscribe and send.
func (c *SyncClient) ConnectionID() string { return c.connID }

// generation tokens: every invalidation or fetch start bumps the key's
// counter, and a completing fetch only applies if no newer bump happened.
// This is what keeps a slow stale fetch from overwriting fresher state.
func (c *SyncClient) bump(key string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[key]++
	return c.gen[key]
}

// Chat returns the chat with the other user, fetching from the server when
// the local copy is missing or invalidated.
func (c *SyncClient) Chat(ctx context.Context, other string) (ChatView, error) {
	c.mu.Lock()
	cached, ok := c.chats[other]
	if ok && cached.valid {
		view := ChatView{ChatID: cached.chatID, Messages: append([]models.Message(nil), cached.messages...)}
		c.mu.Unlock()
		return view, nil
	}
	c.mu.Unlock()

	return c.refetchChat(ctx, other)
}

func (c *SyncClient) refetchChat(ctx context.Context, other string) (ChatView, error) {
	gen := c.bump("chat:" + other)

	var resp struct {
		ChatID   int64            `json:"chat_id"`
		Messages []models.Message `json:"messages"`
	}
	if err := c.get(ctx, "/chats/with/"+url.PathEscape(other), &resp); err != nil {
		return ChatView{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen["chat:"+other] == gen {
		c.chats[other] = &chatCache{chatID: resp.ChatID, messages: resp.Messages, valid: true}
		if resp.ChatID != 0 {
			c.chatKeys[resp.ChatID] = other
		}
	}
	return ChatView{ChatID: resp.ChatID, Messages: resp.Messages}, nil
}

// Chats returns the chat list, fetching when invalidated.
func (c *SyncClient) Chats(ctx context.Context) ([]models.ChatSummary, error) {
	c.mu.Lock()
	if c.listValid {
		list := append([]models.ChatSummary(nil), c.list...)
		c.mu.Unlock()
		return list, nil
	}
	c.mu.Unlock()

	gen := c.bump("list")
	var resp struct {
		Chats []models.ChatSummary `json:"chats"`
	}
	if err := c.get(ctx, "/chats", &resp); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen["list"] == gen {
		c.list = resp.Chats
		c.listValid = true
		for _, summary := range resp.Chats {
			c.chatKeys[summary.ChatID] = summary.Friend.Username
		}
	}
	return resp.Chats, nil
}

// UnreadCount returns the cached badge count, fetching when invalidated.
func (c *SyncClient) UnreadCount(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.unreadOK {
		count := c.unread
		c.mu.Unlock()
		return count, nil
	}
	c.mu.Unlock()

	gen := c.bump("unread")
	var resp struct {
		Count int `json:"count"`
	}
	if err := c.get(ctx, "/chats/unread-count", &resp); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen["unread"] == gen {
		c.unread = resp.Count
		c.unreadOK = true
	}
	return resp.Count, nil
}

// SendOutcome reports how an optimistic send resolved.
type SendOutcome struct {
	State   SendState
	Message models.Message
}

// Send projects the message into the local cache immediately, then performs
// the server write. On success the optimistic entry is replaced by refetching
// server truth; on failure it is rolled back the same way.
func (c *SyncClient) Send(ctx context.Context, to, content string, spoiler *models.SpoilerPayload) (SendOutcome, error) {
	optimistic := models.Message{
		ID:        -time.Now().UnixNano(),
		Sender:    "",
		Content:   content,
		Spoiler:   spoiler,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	cached, ok := c.chats[to]
	if !ok {
		cached = &chatCache{}
		c.chats[to] = cached
	}
	if len(cached.messages) > 0 {
		optimistic.Seq = cached.messages[len(cached.messages)-1].Seq + 1
	}
	cached.messages = append(cached.messages, optimistic)
	c.listValid = false
	c.mu.Unlock()

	outcome := SendOutcome{State: StateSending}

	body := map[string]interface{}{
		"to":            to,
		"content":       content,
		"connection_id": c.connID,
	}
	if spoiler != nil {
		body["spoiler"] = spoiler
	}

	var confirmed models.Message
	err := c.post(ctx, "/chats/send", body, &confirmed)

	// Either way the optimistic entry is dropped and server truth refetched;
	// a dangling projection is worse than one extra round trip.
	c.InvalidateChat(to)
	c.InvalidateList()
	_, refetchErr := c.refetchChat(ctx, to)

	if err != nil {
		outcome.State = StateRolledBack
		return outcome, err
	}

	// The server accepted the write, so the outcome stays Confirmed even when
	// the refresh fails: retrying the send on a refetch error would duplicate
	// the message. The cache is already invalidated, so the next read heals it.
	outcome.State = StateConfirmed
	outcome.Message = confirmed
	return outcome, refetchErr
}

// MarkRead marks the chat read on the server and refreshes local state.
func (c *SyncClient) MarkRead(ctx context.Context, chatID int64) error {
	err := c.post(ctx, fmt.Sprintf("/chats/%d/read", chatID), map[string]interface{}{"connection_id": c.connID}, nil)
	c.invalidateChatID(chatID)
	c.InvalidateList()
	c.InvalidateUnread()
	return err
}

// RevealSpoiler reveals a spoiler message and invalidates the owning chat.
func (c *SyncClient) RevealSpoiler(ctx context.Context, chatID, messageID int64) error {
	err := c.post(ctx, fmt.Sprintf("/messages/%d/reveal", messageID), map[string]interface{}{}, nil)
	c.invalidateChatID(chatID)
	return err
}

// InvalidateChat drops the cached chat so the next read goes to the server.
func (c *SyncClient) InvalidateChat(other string) {
	c.bump("chat:" + other)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.chats[other]; ok {
		cached.valid = false
	}
}

func (c *SyncClient) invalidateChatID(chatID int64) {
	c.mu.Lock()
	other, ok := c.chatKeys[chatID]
	c.mu.Unlock()
	if ok {
		c.InvalidateChat(other)
	}
}

// InvalidateList drops the cached chat list.
func (c *SyncClient) InvalidateList() {
	c.bump("list")
	c.mu.Lock()
	c.listValid = false
	c.mu.Unlock()
}

// InvalidateUnread drops the cached unread count.
func (c *SyncClient) InvalidateUnread() {
	c.bump("unread")
	c.mu.Lock()
	c.unreadOK = false
	c.mu.Unlock()
}

// HandleEvent applies one bus event: targeted invalidation, never payload.
func (c *SyncClient) HandleEvent(event models.Event) {
	c.invalidateChatID(event.ChatID)
	c.InvalidateChat(event.From)
	c.InvalidateList()
	if event.Type == models.EventMessage {
		c.InvalidateUnread()
	}
}

// Run subscribes to the caller's bus channel over a websocket and applies
// events until the context is canceled or the connection drops. Missed
// events are harmless; the next full refetch re-derives correct state.
func (c *SyncClient) Run(ctx context.Context) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) +
		"/ws/subscribe?token=" + url.QueryEscape(c.token) +
		"&connection_id=" + url.QueryEscape(c.connID)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var event models.Event
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.HandleEvent(event)
	}
}

func (c *SyncClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *SyncClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *SyncClient) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
