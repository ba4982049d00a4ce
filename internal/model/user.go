package model

import "time"

type User struct {
	ID         string    `json:"userId"`
	Username   string    `json:"username"`
	AvatarURL  string    `json:"avatarUrl,omitempty"`
	IsOnline   bool      `json:"isOnline"`
	LastSeenAt time.Time `json:"lastSeenAt,omitempty"`
}

// UnknownUser is the placeholder used when the service omits sender details.
func UnknownUser(id string) *User {
	return &User{ID: id, Username: "Unknown User"}
}

// TypingStatus is the ephemeral typing flag for one user in one conversation.
// Never persisted.
type TypingStatus struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}
