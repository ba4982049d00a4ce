package chat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatsync/internal/model"
)

func remoteMessage(id, conversationID, senderID, content string) *model.Message {
	return &model.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		MessageType:    model.MessageTypeText,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestStore_ReceiveRemote(t *testing.T) {
	t.Run("duplicate delivery adds exactly one message", func(t *testing.T) {
		s := NewStore("c1")
		m := remoteMessage("m-1", "c1", "bob", "hi")

		assert.True(t, s.ReceiveRemote(m))
		assert.False(t, s.ReceiveRemote(m))
		assert.Equal(t, 1, s.Len())
	})

	t.Run("each id appears exactly once across repeats", func(t *testing.T) {
		s := NewStore("c1")
		ids := []string{"m-1", "m-2", "m-1", "m-3", "m-2", "m-1"}
		for _, id := range ids {
			s.ReceiveRemote(remoteMessage(id, "c1", "bob", "x"))
		}

		seen := make(map[string]int)
		for _, m := range s.Messages() {
			seen[m.ID]++
		}
		assert.Equal(t, map[string]int{"m-1": 1, "m-2": 1, "m-3": 1}, seen)
	})

	t.Run("other conversation ignored", func(t *testing.T) {
		s := NewStore("c1")
		assert.False(t, s.ReceiveRemote(remoteMessage("m-1", "c2", "bob", "hi")))
		assert.Equal(t, 0, s.Len())
	})

	t.Run("missing sender defaults to placeholder", func(t *testing.T) {
		s := NewStore("c1")
		s.ReceiveRemote(remoteMessage("m-1", "c1", "bob", "hi"))
		m, ok := s.Get("m-1")
		require.True(t, ok)
		require.NotNil(t, m.Sender)
		assert.Equal(t, "Unknown User", m.Sender.Username)
		assert.Equal(t, "bob", m.Sender.ID)
	})

	t.Run("arrival order preserved", func(t *testing.T) {
		s := NewStore("c1")
		later := remoteMessage("m-2", "c1", "bob", "second arrival")
		later.CreatedAt = time.Now().Add(-time.Hour) // older timestamp, later arrival
		s.ReceiveRemote(remoteMessage("m-1", "c1", "bob", "first arrival"))
		s.ReceiveRemote(later)

		messages := s.Messages()
		require.Len(t, messages, 2)
		assert.Equal(t, "m-1", messages[0].ID)
		assert.Equal(t, "m-2", messages[1].ID)
		assert.Equal(t, "m-2", s.LastMessage().ID)
	})
}

func TestStore_MarkStatus(t *testing.T) {
	t.Run("seen implies delivered", func(t *testing.T) {
		s := NewStore("c1")
		s.ReceiveRemote(remoteMessage("m-1", "c1", "bob", "hi"))

		assert.True(t, s.MarkStatus("m-1", model.MessageStatusSeen))
		m, _ := s.Get("m-1")
		assert.True(t, m.Seen)
		assert.True(t, m.Delivered)
	})

	t.Run("flags are monotonic", func(t *testing.T) {
		s := NewStore("c1")
		s.ReceiveRemote(remoteMessage("m-1", "c1", "bob", "hi"))
		s.MarkStatus("m-1", model.MessageStatusSeen)
		// A late delivered receipt must not undo seen.
		s.MarkStatus("m-1", model.MessageStatusDelivered)

		m, _ := s.Get("m-1")
		assert.True(t, m.Seen)
		assert.True(t, m.Delivered)
	})

	t.Run("unknown message is a no-op", func(t *testing.T) {
		s := NewStore("c1")
		assert.False(t, s.MarkStatus("missing", model.MessageStatusDelivered))
	})

	t.Run("duplicate receipts are no-ops", func(t *testing.T) {
		s := NewStore("c1")
		s.ReceiveRemote(remoteMessage("m-1", "c1", "bob", "hi"))
		assert.True(t, s.MarkStatus("m-1", model.MessageStatusDelivered))
		assert.True(t, s.MarkStatus("m-1", model.MessageStatusDelivered))
		m, _ := s.Get("m-1")
		assert.True(t, m.Delivered)
		assert.False(t, m.Seen)
	})
}

func TestStore_MarkReadThrough(t *testing.T) {
	t.Run("marks prefix and leaves the tail untouched", func(t *testing.T) {
		s := NewStore("c1")
		for _, id := range []string{"m-1", "m-2", "m-3", "m-4"} {
			s.ReceiveRemote(remoteMessage(id, "c1", "alice", "x"))
		}

		require.True(t, s.MarkReadThrough("m-3"))
		messages := s.Messages()
		for _, m := range messages[:3] {
			assert.True(t, m.Seen, "message %s", m.ID)
			assert.True(t, m.Delivered, "message %s", m.ID)
		}
		assert.False(t, messages[3].Seen)
		assert.False(t, messages[3].Delivered)
	})

	t.Run("absent id is a no-op", func(t *testing.T) {
		s := NewStore("c1")
		s.ReceiveRemote(remoteMessage("m-1", "c1", "alice", "x"))
		assert.False(t, s.MarkReadThrough("missing"))
		m, _ := s.Get("m-1")
		assert.False(t, m.Seen)
	})
}

func TestStore_ResolveIdentity(t *testing.T) {
	provisional := func() *model.Message {
		return &model.Message{
			ID:             "temp-1",
			ConversationID: "c1",
			SenderID:       "alice",
			Content:        "hello",
			MessageType:    model.MessageTypeText,
			CreatedAt:      time.Now().UTC(),
		}
	}

	t.Run("rewrites in place", func(t *testing.T) {
		s := NewStore("c1")
		s.InsertProvisional(provisional())
		ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

		require.True(t, s.ResolveIdentity("temp-1", "m-1", ts))
		assert.Equal(t, 1, s.Len())

		_, tempLeft := s.Get("temp-1")
		assert.False(t, tempLeft)
		m, ok := s.Get("m-1")
		require.True(t, ok)
		assert.Equal(t, ts, m.CreatedAt)
		assert.Equal(t, "hello", m.Content)
		assert.Equal(t, model.SendStateSent, m.SendState)
		assert.False(t, m.Delivered)
	})

	t.Run("absent temp id is a no-op, not an error", func(t *testing.T) {
		s := NewStore("c1")
		assert.False(t, s.ResolveIdentity("temp-unknown", "m-1", time.Now()))
		assert.Equal(t, 0, s.Len())
	})

	t.Run("merges when realtime copy raced ahead", func(t *testing.T) {
		s := NewStore("c1")
		s.InsertProvisional(provisional())
		// The echo with the server id lands before the REST ack resolves.
		echo := remoteMessage("m-1", "c1", "alice", "hello")
		require.True(t, s.ReceiveRemote(echo))
		s.MarkStatus("m-1", model.MessageStatusDelivered)
		require.Equal(t, 2, s.Len())

		require.True(t, s.ResolveIdentity("temp-1", "m-1", time.Now()))
		assert.Equal(t, 1, s.Len())
		m, ok := s.Get("m-1")
		require.True(t, ok)
		assert.True(t, m.Delivered, "merge keeps the survivor's flags")
		assert.Equal(t, model.SendStateSent, m.SendState)
		_, tempLeft := s.Get("temp-1")
		assert.False(t, tempLeft)
	})
}

func TestStore_InsertProvisional(t *testing.T) {
	t.Run("appends and resets flags", func(t *testing.T) {
		s := NewStore("c1")
		m := &model.Message{ID: "temp-1", ConversationID: "c1", SenderID: "alice", Content: "hi", Delivered: true, Seen: true}

		require.True(t, s.InsertProvisional(m))
		got, _ := s.Get("temp-1")
		assert.False(t, got.Delivered)
		assert.False(t, got.Seen)
		assert.Equal(t, model.SendStateSending, got.SendState)
		assert.Equal(t, "temp-1", s.LastMessage().ID)
	})

	t.Run("repeat insert is a no-op", func(t *testing.T) {
		s := NewStore("c1")
		m := &model.Message{ID: "temp-1", ConversationID: "c1", SenderID: "alice", Content: "hi"}
		require.True(t, s.InsertProvisional(m))
		assert.False(t, s.InsertProvisional(m))
		assert.Equal(t, 1, s.Len())
	})
}

func TestStore_OptimisticSendScenario(t *testing.T) {
	// User A sends "hello": one provisional message, REST resolves the
	// identity, then a delivered receipt arrives over the socket.
	s := NewStore("C123")
	s.InsertProvisional(&model.Message{
		ID:             "temp-abc",
		ConversationID: "C123",
		SenderID:       "user-a",
		Content:        "hello",
		MessageType:    model.MessageTypeText,
	})

	messages := s.Messages()
	require.Len(t, messages, 1)
	assert.True(t, messages[0].IsProvisional())
	assert.False(t, messages[0].Delivered)

	ts, _ := time.Parse(time.RFC3339, "2024-01-01T00:00:00Z")
	require.True(t, s.ResolveIdentity("temp-abc", "m-1", ts))

	messages = s.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "m-1", messages[0].ID)
	assert.Equal(t, ts, messages[0].CreatedAt)
	assert.False(t, messages[0].Delivered)

	require.True(t, s.MarkStatus("m-1", model.MessageStatusDelivered))
	m, _ := s.Get("m-1")
	assert.True(t, m.Delivered)
	assert.False(t, m.Seen)
}

func TestStore_AdoptConversation(t *testing.T) {
	s := NewStore("")
	s.InsertProvisional(&model.Message{ID: "temp-1", SenderID: "alice", Content: "hi"})

	s.adoptConversation("c9")
	assert.Equal(t, "c9", s.ConversationID())
	m, _ := s.Get("temp-1")
	assert.Equal(t, "c9", m.ConversationID)

	// Already bound: further adoption attempts are ignored.
	s.adoptConversation("c10")
	assert.Equal(t, "c9", s.ConversationID())
}
