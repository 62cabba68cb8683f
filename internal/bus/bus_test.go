package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dm-service/internal/models"
)

func TestPublishReachesAllSubscribersExceptOrigin(t *testing.T) {
	hub := New()
	origin := hub.Subscribe("alice", "conn-1")
	second := hub.Subscribe("alice", "conn-2")

	hub.Publish("alice", "conn-1", models.Event{Type: models.EventMessage, ChatID: 1, From: "bob"})

	select {
	case event := <-second.Events:
		assert.Equal(t, models.EventMessage, event.Type)
	default:
		t.Fatal("second connection should have received the event")
	}

	select {
	case <-origin.Events:
		t.Fatal("origin connection must be excluded")
	default:
	}
}

func TestPublishToOfflineUserIsDropped(t *testing.T) {
	hub := New()
	// no subscribers: publish must not block or panic
	hub.Publish("nobody", "", models.Event{Type: models.EventMessage, ChatID: 1, From: "alice"})
	assert.Zero(t, hub.SubscriberCount("nobody"))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	hub := New()
	sub := hub.Subscribe("alice", "conn-1")
	require.Equal(t, 1, hub.SubscriberCount("alice"))

	hub.Unsubscribe("alice", "conn-1")
	assert.Zero(t, hub.SubscriberCount("alice"))

	_, open := <-sub.Events
	assert.False(t, open)
}

func TestResubscribeSameConnIDReplacesChannel(t *testing.T) {
	hub := New()
	old := hub.Subscribe("alice", "conn-1")
	hub.Subscribe("alice", "conn-1")

	require.Equal(t, 1, hub.SubscriberCount("alice"))
	_, open := <-old.Events
	assert.False(t, open)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := New()
	sub := hub.Subscribe("alice", "conn-1")

	// fill the buffer and then some; Publish must never block
	for i := 0; i < eventBuffer+5; i++ {
		hub.Publish("alice", "", models.Event{Type: models.EventMessage, ChatID: int64(i), From: "bob"})
	}

	received := 0
	for {
		select {
		case <-sub.Events:
			received++
			continue
		default:
		}
		break
	}
	assert.Equal(t, eventBuffer, received)
}
