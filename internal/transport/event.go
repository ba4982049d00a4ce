package transport

import (
	"encoding/json"
	"fmt"

	"github.com/chatsync/internal/model"
)

type EventType string

const (
	EventUserOnline           EventType = "userOnline"
	EventUserOffline          EventType = "userOffline"
	EventSendMessage          EventType = "sendMessage"
	EventReceiveMessage       EventType = "receiveMessage"
	EventMessageStatus        EventType = "messageStatus"
	EventMessageStatusUpdated EventType = "messageStatusUpdated"
	EventTypingStatus         EventType = "typingStatus"
	EventConversationRead     EventType = "conversationRead"
	EventJoinConversation     EventType = "joinConversation"
	EventLeaveConversation    EventType = "leaveConversation"
)

// PresencePayload carries online/offline notifications.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// StatusPayload carries delivery/read receipts for a single message.
type StatusPayload struct {
	MessageID      string              `json:"messageId"`
	Status         model.MessageStatus `json:"status"`
	ConversationID string              `json:"conversationId,omitempty"`
}

// ReadPayload marks everything up to LastReadMessageID as seen.
type ReadPayload struct {
	ConversationID    string `json:"conversationId"`
	UserID            string `json:"userId"`
	LastReadMessageID string `json:"lastReadMessageId"`
}

// ConversationPayload scopes join/leave notifications.
type ConversationPayload struct {
	ConversationID string `json:"conversationId"`
}

// Event is the closed union of everything that travels over the realtime
// connection. Exactly one payload field is set, selected by Type.
// Handlers switch on Type; decoding rejects unknown types, so a handler
// never sees an event outside this set.
type Event struct {
	Type EventType

	Presence     *PresencePayload
	Message      *model.Message
	Status       *StatusPayload
	Typing       *model.TypingStatus
	Read         *ReadPayload
	Conversation *ConversationPayload
}

// envelope is the wire form: {"type": ..., "payload": {...}}.
type envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode serializes an event into its wire envelope.
func Encode(ev Event) ([]byte, error) {
	var payload any
	switch ev.Type {
	case EventUserOnline, EventUserOffline:
		payload = ev.Presence
	case EventSendMessage, EventReceiveMessage:
		payload = ev.Message
	case EventMessageStatus, EventMessageStatusUpdated:
		payload = ev.Status
	case EventTypingStatus:
		payload = ev.Typing
	case EventConversationRead:
		payload = ev.Read
	case EventJoinConversation, EventLeaveConversation:
		payload = ev.Conversation
	default:
		return nil, fmt.Errorf("encode event: unknown type %q", ev.Type)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", ev.Type, err)
	}
	return json.Marshal(envelope{Type: ev.Type, Payload: raw})
}

// Decode parses a wire envelope into a typed event.
// Unknown event types are an error, not a pass-through.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	ev := Event{Type: env.Type}

	unmarshal := func(v any) error {
		if len(env.Payload) == 0 {
			return fmt.Errorf("decode event %s: missing payload", env.Type)
		}
		if err := json.Unmarshal(env.Payload, v); err != nil {
			return fmt.Errorf("decode event %s: %w", env.Type, err)
		}
		return nil
	}

	switch env.Type {
	case EventUserOnline, EventUserOffline:
		ev.Presence = &PresencePayload{}
		return ev, unmarshal(ev.Presence)
	case EventSendMessage, EventReceiveMessage:
		ev.Message = &model.Message{}
		return ev, unmarshal(ev.Message)
	case EventMessageStatus, EventMessageStatusUpdated:
		ev.Status = &StatusPayload{}
		return ev, unmarshal(ev.Status)
	case EventTypingStatus:
		ev.Typing = &model.TypingStatus{}
		return ev, unmarshal(ev.Typing)
	case EventConversationRead:
		ev.Read = &ReadPayload{}
		return ev, unmarshal(ev.Read)
	case EventJoinConversation, EventLeaveConversation:
		ev.Conversation = &ConversationPayload{}
		return ev, unmarshal(ev.Conversation)
	default:
		return Event{}, fmt.Errorf("decode event: unknown type %q", env.Type)
	}
}
