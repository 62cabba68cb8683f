package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dm-service/internal/models"
)

// fakeServer serves a single chat between alice and bob backed by an
// in-memory slice, enough to exercise the cache contract.
type fakeServer struct {
	chatID      int64
	messages    []models.Message
	failSend    atomic.Bool
	failChatGet atomic.Bool
	chatGets    atomic.Int64
	listGets    atomic.Int64
	sendSlots   chan struct{} // when non-nil, chat GETs block until a slot is sent
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /chats/with/bob", func(w http.ResponseWriter, r *http.Request) {
		f.chatGets.Add(1)
		if f.sendSlots != nil {
			<-f.sendSlots
		}
		if f.failChatGet.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"chat_id":  f.chatID,
			"messages": f.messages,
		})
	})
	mux.HandleFunc("GET /chats", func(w http.ResponseWriter, r *http.Request) {
		f.listGets.Add(1)
		json.NewEncoder(w).Encode(map[string]interface{}{"chats": []models.ChatSummary{}})
	})
	mux.HandleFunc("GET /chats/unread-count", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"count": 2})
	})
	mux.HandleFunc("POST /chats/send", func(w http.ResponseWriter, r *http.Request) {
		if f.failSend.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "boom"})
			return
		}
		var req struct {
			Content string `json:"content"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		msg := models.Message{
			ID:      int64(len(f.messages) + 1),
			ChatID:  f.chatID,
			Seq:     int64(len(f.messages) + 1),
			Sender:  "alice",
			Content: req.Content,
		}
		f.messages = append(f.messages, msg)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(msg)
	})
	return mux
}

func TestChatReadThroughCache(t *testing.T) {
	fake := &fakeServer{chatID: 1, messages: []models.Message{{ID: 1, ChatID: 1, Seq: 1, Sender: "bob", Content: "hi"}}}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	c := New(server.URL, "token")

	view, err := c.Chat(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), view.ChatID)
	require.Len(t, view.Messages, 1)

	// second read is served from cache
	_, err = c.Chat(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), fake.chatGets.Load())
}

func TestBusEventInvalidatesAndRefetches(t *testing.T) {
	fake := &fakeServer{chatID: 1}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	c := New(server.URL, "token")
	_, err := c.Chat(context.Background(), "bob")
	require.NoError(t, err)

	fake.messages = append(fake.messages, models.Message{ID: 1, ChatID: 1, Seq: 1, Sender: "bob", Content: "new"})
	c.HandleEvent(models.Event{Type: models.EventMessage, ChatID: 1, From: "bob"})

	view, err := c.Chat(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "new", view.Messages[0].Content)
	assert.Equal(t, int64(2), fake.chatGets.Load())
}

func TestSendConfirmedReplacesOptimisticEntry(t *testing.T) {
	fake := &fakeServer{chatID: 1}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	c := New(server.URL, "token")
	_, err := c.Chat(context.Background(), "bob")
	require.NoError(t, err)

	outcome, err := c.Send(context.Background(), "bob", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, outcome.State)
	assert.Equal(t, int64(1), outcome.Message.ID)

	view, err := c.Chat(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, view.Messages, 1)
	// the optimistic placeholder (negative id) is gone, replaced by server truth
	assert.Equal(t, int64(1), view.Messages[0].ID)
	assert.Equal(t, "hello", view.Messages[0].Content)
}

func TestSendFailureRollsBackOptimisticEntry(t *testing.T) {
	fake := &fakeServer{chatID: 1}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	c := New(server.URL, "token")
	_, err := c.Chat(context.Background(), "bob")
	require.NoError(t, err)

	fake.failSend.Store(true)
	outcome, err := c.Send(context.Background(), "bob", "hello", nil)
	require.Error(t, err)
	assert.Equal(t, StateRolledBack, outcome.State)

	view, err := c.Chat(context.Background(), "bob")
	require.NoError(t, err)
	assert.Empty(t, view.Messages, "optimistic projection must not dangle after a failed write")
}

func TestSendAcceptedByServerStaysConfirmedWhenRefreshFails(t *testing.T) {
	fake := &fakeServer{chatID: 1}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	c := New(server.URL, "token")
	_, err := c.Chat(context.Background(), "bob")
	require.NoError(t, err)

	// the write lands, but the follow-up cache refresh fails
	fake.failChatGet.Store(true)
	outcome, err := c.Send(context.Background(), "bob", "hello", nil)
	require.Error(t, err)
	// not RolledBack: retrying the send here would duplicate the message
	assert.Equal(t, StateConfirmed, outcome.State)
	assert.Equal(t, int64(1), outcome.Message.ID)

	// the cache was left invalidated, so once the server recovers the next
	// read refetches and converges on server truth
	fake.failChatGet.Store(false)
	view, err := c.Chat(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, "hello", view.Messages[0].Content)
}

func TestStaleFetchDoesNotOverwriteNewerInvalidation(t *testing.T) {
	fake := &fakeServer{chatID: 1, sendSlots: make(chan struct{})}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	c := New(server.URL, "token")

	// a fetch starts and blocks inside the server
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Chat(context.Background(), "bob")
	}()

	// wait for the request to arrive, then invalidate while it is in flight
	require.Eventually(t, func() bool { return fake.chatGets.Load() == 1 }, time.Second, 5*time.Millisecond)
	c.InvalidateChat("bob")
	fake.sendSlots <- struct{}{}
	<-done

	// the stale completion must not have revalidated the cache: the next
	// read goes back to the server
	go func() { fake.sendSlots <- struct{}{} }()
	_, err := c.Chat(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(2), fake.chatGets.Load())
}

func TestUnreadCountCached(t *testing.T) {
	fake := &fakeServer{chatID: 1}
	server := httptest.NewServer(fake.handler())
	defer server.Close()

	c := New(server.URL, "token")
	count, err := c.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	c.InvalidateUnread()
	count, err = c.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
