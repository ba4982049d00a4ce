package model

import (
	"strings"
	"time"
)

type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
	MessageTypeFile  MessageType = "FILE"
)

type MessageStatus string

const (
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusSeen      MessageStatus = "seen"
)

// SendState tracks the local persistence outcome of an optimistic send.
// It never goes over the wire.
type SendState string

const (
	SendStateSending SendState = "sending"
	SendStateSent    SendState = "sent"
	SendStateFailed  SendState = "failed"
)

// TempIDPrefix marks client-generated provisional message ids.
const TempIDPrefix = "temp-"

type Message struct {
	ID             string      `json:"messageId"`
	ConversationID string      `json:"conversationId,omitempty"`
	SenderID       string      `json:"senderId"`
	ReceiverID     string      `json:"receiverId,omitempty"`
	Content        string      `json:"content"`
	MessageType    MessageType `json:"messageType"`
	Delivered      bool        `json:"delivered"`
	Seen           bool        `json:"seen"`
	CreatedAt      time.Time   `json:"createdAt"`
	Sender         *User       `json:"sender,omitempty"`

	SendState SendState `json:"-"`
}

// IsProvisional reports whether the message still carries a client-generated id.
func (m *Message) IsProvisional() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}
