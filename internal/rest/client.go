// Package rest is the client for the chat service's HTTP API. The service
// is the source of durable truth; this client never caches.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chatsync/internal/model"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SendMessageRequest is the body of POST /chat/sendMessage.
// ConversationID takes precedence over ReceiverID when both are set.
type SendMessageRequest struct {
	SenderID       string            `json:"senderId"`
	Content        string            `json:"content"`
	MessageType    model.MessageType `json:"messageType"`
	ReceiverID     string            `json:"receiverId,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
}

// sendMessageResponse mirrors the service's response, which names the
// persisted identity "id" rather than "messageId".
type sendMessageResponse struct {
	ID             string            `json:"id"`
	SenderID       string            `json:"senderId"`
	ReceiverID     string            `json:"receiverId"`
	Content        string            `json:"content"`
	MessageType    model.MessageType `json:"messageType"`
	CreatedAt      time.Time         `json:"createdAt"`
	ConversationID string            `json:"conversationId"`
}

// SendMessage persists a message and returns it with the server-assigned
// identity and timestamp.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*model.Message, error) {
	if req.ConversationID != "" {
		req.ReceiverID = ""
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rest send message: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/sendMessage", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rest send message: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rest send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("rest send message: status %d", resp.StatusCode)
	}

	var out sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("rest send message: decode: %w", err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("rest send message: response missing id")
	}
	return &model.Message{
		ID:             out.ID,
		ConversationID: out.ConversationID,
		SenderID:       out.SenderID,
		ReceiverID:     out.ReceiverID,
		Content:        out.Content,
		MessageType:    out.MessageType,
		CreatedAt:      out.CreatedAt,
		SendState:      model.SendStateSent,
	}, nil
}

// GetConversations fetches the user's conversation list with unread counts
// and last messages. Failures are returned to the caller, which shows a
// retry affordance; nothing here panics or blocks the UI.
func (c *Client) GetConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	u := c.baseURL + "/chat/conversations?userId=" + url.QueryEscape(userID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("rest get conversations: %w", err)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rest get conversations: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rest get conversations: status %d", resp.StatusCode)
	}

	var conversations []model.Conversation
	if err := json.NewDecoder(resp.Body).Decode(&conversations); err != nil {
		return nil, fmt.Errorf("rest get conversations: decode: %w", err)
	}
	for i := range conversations {
		normalizeConversation(&conversations[i])
	}
	return conversations, nil
}

// normalizeConversation defaults fields the service may omit so that a
// partial response never breaks rendering.
func normalizeConversation(c *model.Conversation) {
	for _, m := range c.Messages {
		if m.Sender == nil {
			m.Sender = model.UnknownUser(m.SenderID)
		}
	}
	if c.LastMessage == nil && len(c.Messages) > 0 {
		c.LastMessage = c.Messages[len(c.Messages)-1]
	}
	if c.LastMessage != nil && c.LastMessage.Sender == nil {
		c.LastMessage.Sender = model.UnknownUser(c.LastMessage.SenderID)
	}
}
