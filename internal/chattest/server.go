// Package chattest provides an in-process fake of the chat service for
// hermetic tests: the two REST endpoints and a websocket relay that routes
// realtime events between connected clients the way the real service does.
package chattest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/transport"
)

// Recorded is one event as received from one client.
type Recorded struct {
	UserID string
	Event  transport.Event
}

type client struct {
	userID  string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) write(ev transport.Event) error {
	data, err := transport.Encode(ev)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Server is the fake chat service.
type Server struct {
	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	mu            sync.Mutex
	clients       map[string]*client
	conversations []model.Conversation
	persisted     []*model.Message
	recorded      []Recorded
	nextMessageID int
	failSends     bool
	refuseWS      bool
	wsAttempts    int
}

// NewServer starts the fake service on a random local port.
func NewServer() *Server {
	s := &Server{
		clients:  make(map[string]*client),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Get("/chat/conversations", s.handleConversations)
	r.Post("/chat/sendMessage", s.handleSendMessage)
	r.Get("/ws", s.handleWS)

	s.httpServer = httptest.NewServer(r)
	return s
}

// URL returns the REST base URL.
func (s *Server) URL() string { return s.httpServer.URL }

// WSURL returns the websocket endpoint URL.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/ws"
}

// Close shuts the fake service down.
func (s *Server) Close() {
	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()
	s.httpServer.Close()
}

// SeedConversations sets the list returned by GET /chat/conversations.
func (s *Server) SeedConversations(conversations []model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations = conversations
}

// FailSends makes POST /chat/sendMessage return 500 until reset.
func (s *Server) FailSends(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSends = fail
}

// RefuseConnections makes the websocket endpoint reject upgrades, for
// exercising the client's bounded reconnect.
func (s *Server) RefuseConnections(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuseWS = refuse
}

// DropClient severs userID's connection without a close handshake.
func (s *Server) DropClient(userID string) {
	s.mu.Lock()
	c, ok := s.clients[userID]
	if ok {
		delete(s.clients, userID)
	}
	s.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// WSAttempts returns how many websocket upgrades were attempted,
// including refused ones.
func (s *Server) WSAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wsAttempts
}

// Connected reports whether userID currently holds a live connection.
func (s *Server) Connected(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.clients[userID]
	return ok
}

// Persisted returns every message accepted by the REST endpoint.
func (s *Server) Persisted() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Message, len(s.persisted))
	copy(out, s.persisted)
	return out
}

// Events returns every recorded event of the given type sent by userID.
func (s *Server) Events(userID string, t transport.EventType) []transport.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []transport.Event
	for _, rec := range s.recorded {
		if rec.UserID == userID && rec.Event.Type == t {
			out = append(out, rec.Event)
		}
	}
	return out
}

// SendTo pushes an event to one connected client, as the service would.
func (s *Server) SendTo(userID string, ev transport.Event) error {
	s.mu.Lock()
	c, ok := s.clients[userID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("chattest: user %s not connected", userID)
	}
	return c.write(ev)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("userId") == "" {
		http.Error(w, `{"error":"userId required"}`, http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	conversations := s.conversations
	s.mu.Unlock()
	if conversations == nil {
		conversations = []model.Conversation{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(conversations)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SenderID       string            `json:"senderId"`
		Content        string            `json:"content"`
		MessageType    model.MessageType `json:"messageType"`
		ReceiverID     string            `json:"receiverId"`
		ConversationID string            `json:"conversationId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.failSends {
		s.mu.Unlock()
		http.Error(w, `{"error":"storage unavailable"}`, http.StatusInternalServerError)
		return
	}
	s.nextMessageID++
	id := fmt.Sprintf("m-%d", s.nextMessageID)
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = "c-" + uuid.New().String()
	}
	m := &model.Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       req.SenderID,
		ReceiverID:     req.ReceiverID,
		Content:        req.Content,
		MessageType:    req.MessageType,
		CreatedAt:      time.Now().UTC(),
	}
	s.persisted = append(s.persisted, m)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"id":             m.ID,
		"senderId":       m.SenderID,
		"receiverId":     m.ReceiverID,
		"content":        m.Content,
		"messageType":    m.MessageType,
		"createdAt":      m.CreatedAt,
		"conversationId": m.ConversationID,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.wsAttempts++
	refuse := s.refuseWS
	s.mu.Unlock()
	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{userID: userID, conn: conn}
	s.mu.Lock()
	if old, ok := s.clients[userID]; ok {
		old.conn.Close()
	}
	s.clients[userID] = c
	s.mu.Unlock()

	go s.readLoop(c)
}

func (s *Server) readLoop(c *client) {
	defer func() {
		s.mu.Lock()
		if s.clients[c.userID] == c {
			delete(s.clients, c.userID)
		}
		s.mu.Unlock()
		c.conn.Close()
	}()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		ev, err := transport.Decode(raw)
		if err != nil {
			continue
		}

		s.mu.Lock()
		s.recorded = append(s.recorded, Recorded{UserID: c.userID, Event: ev})
		s.mu.Unlock()

		s.route(c, ev)
	}
}

// route relays an event the way the real service does: messages echo to
// every participant including the sender, receipts and typing go to
// everyone else.
func (s *Server) route(from *client, ev transport.Event) {
	switch ev.Type {
	case transport.EventSendMessage:
		out := transport.Event{Type: transport.EventReceiveMessage, Message: ev.Message}
		s.broadcast(out, "")
	case transport.EventMessageStatus:
		out := transport.Event{Type: transport.EventMessageStatusUpdated, Status: ev.Status}
		s.broadcast(out, from.userID)
	case transport.EventTypingStatus, transport.EventConversationRead,
		transport.EventUserOnline, transport.EventUserOffline:
		s.broadcast(ev, from.userID)
	case transport.EventJoinConversation, transport.EventLeaveConversation:
		// Recorded only; the relay has no room state.
	case transport.EventReceiveMessage, transport.EventMessageStatusUpdated:
		// Server-originated types; clients never send them.
	}
}

func (s *Server) broadcast(ev transport.Event, exceptUserID string) {
	s.mu.Lock()
	targets := make([]*client, 0, len(s.clients))
	for id, c := range s.clients {
		if id == exceptUserID {
			continue
		}
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		c.write(ev)
	}
}
