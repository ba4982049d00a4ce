package model

import "time"

type Conversation struct {
	ID           string     `json:"id"`
	Participants []User     `json:"participants"`
	Messages     []*Message `json:"messages,omitempty"`
	LastMessage  *Message   `json:"lastMessage,omitempty"`
	UpdatedAt    time.Time  `json:"updatedAt"`
	UnreadCount  int        `json:"unreadCount"`
}

// OtherParticipant returns the first participant that is not userID,
// or nil for a conversation the user has with themselves only.
func (c *Conversation) OtherParticipant(userID string) *User {
	for i := range c.Participants {
		if c.Participants[i].ID != userID {
			return &c.Participants[i]
		}
	}
	return nil
}
