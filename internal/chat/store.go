// Package chat implements the client-side synchronization core: an
// in-memory store for the open conversation and a session that reconciles
// optimistic local sends with REST acknowledgements and realtime events.
package chat

import (
	"sync"
	"time"

	"github.com/chatsync/internal/model"
)

// Store is the single source of truth for the currently open conversation.
// Messages are kept in arrival order, deduplicated by message id. All
// transitions are idempotent and status flags only move forward: once
// delivered or seen is true it never reverts.
//
// One session goroutine writes; reads take snapshots. The store never does
// I/O under its lock.
type Store struct {
	mu             sync.RWMutex
	conversationID string
	messages       []*model.Message
	index          map[string]int
	// pending maps a provisional id to its server id while a send is in
	// flight. Resolved entries are dropped once reconciled.
	pending map[string]string
}

func NewStore(conversationID string) *Store {
	return &Store{
		conversationID: conversationID,
		index:          make(map[string]int),
		pending:        make(map[string]string),
	}
}

// ConversationID returns the id this store is scoped to.
func (s *Store) ConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conversationID
}

// Messages returns a snapshot of the message list in arrival order.
func (s *Store) Messages() []*model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Message, len(s.messages))
	for i, m := range s.messages {
		cp := *m
		out[i] = &cp
	}
	return out
}

// LastMessage returns a copy of the newest message, or nil when empty.
func (s *Store) LastMessage() *model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return nil
	}
	cp := *s.messages[len(s.messages)-1]
	return &cp
}

// Len returns the number of messages held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Get returns a copy of the message with the given id.
func (s *Store) Get(messageID string) (*model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[messageID]
	if !ok {
		return nil, false
	}
	cp := *s.messages[i]
	return &cp, true
}

// InsertProvisional appends a locally created message awaiting persistence.
// A repeated insert with the same id is a no-op.
func (s *Store) InsertProvisional(m *model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[m.ID]; exists {
		return false
	}
	cp := *m
	cp.Delivered = false
	cp.Seen = false
	if cp.SendState == "" {
		cp.SendState = model.SendStateSending
	}
	s.index[cp.ID] = len(s.messages)
	s.messages = append(s.messages, &cp)
	s.pending[cp.ID] = ""
	return true
}

// ResolveIdentity rewrites a provisional message in place with its
// server-assigned id and timestamp. No-op when tempID is absent (already
// resolved, or the conversation was switched).
//
// When the realtime copy carrying realID raced ahead of the REST ack, the
// provisional row is merged into it instead of left as a duplicate: the
// survivor keeps its position and flags, the provisional row is removed.
func (s *Store) ResolveIdentity(tempID, realID string, realCreatedAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.index[tempID]
	if !ok {
		return false
	}

	if survivorPos, dup := s.index[realID]; dup {
		// Realtime copy already present: merge, don't duplicate.
		survivor := s.messages[survivorPos]
		provisional := s.messages[pos]
		survivor.Delivered = survivor.Delivered || provisional.Delivered
		survivor.Seen = survivor.Seen || provisional.Seen
		if survivor.Seen {
			survivor.Delivered = true
		}
		survivor.SendState = model.SendStateSent
		s.removeAt(pos)
		delete(s.index, tempID)
		delete(s.pending, tempID)
		return true
	}

	m := s.messages[pos]
	delete(s.index, tempID)
	m.ID = realID
	m.CreatedAt = realCreatedAt
	m.SendState = model.SendStateSent
	s.index[realID] = pos
	delete(s.pending, tempID)
	return true
}

// MarkFailed flags a provisional message whose REST persistence failed.
// The message stays visible; callers may retry via the session.
func (s *Store) MarkFailed(tempID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[tempID]
	if !ok {
		return false
	}
	s.messages[pos].SendState = model.SendStateFailed
	return true
}

// ReceiveRemote applies a message pushed over the realtime connection.
// Messages for other conversations are ignored (the conversation list is
// refreshed by re-querying the service). Duplicates by id are ignored.
// Returns true when the message was appended.
func (s *Store) ReceiveRemote(m *model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ConversationID != s.conversationID {
		return false
	}
	if _, exists := s.index[m.ID]; exists {
		return false
	}
	cp := *m
	if cp.Sender == nil {
		cp.Sender = model.UnknownUser(cp.SenderID)
	}
	if cp.SendState == "" {
		cp.SendState = model.SendStateSent
	}
	s.index[cp.ID] = len(s.messages)
	s.messages = append(s.messages, &cp)
	return true
}

// MarkStatus sets a status flag on one message. Seen implies delivered.
// No-op when the message is unknown; duplicates are no-ops too.
func (s *Store) MarkStatus(messageID string, status model.MessageStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[messageID]
	if !ok {
		return false
	}
	m := s.messages[pos]
	switch status {
	case model.MessageStatusDelivered:
		m.Delivered = true
	case model.MessageStatusSeen:
		m.Seen = true
		m.Delivered = true
	default:
		return false
	}
	return true
}

// MarkReadThrough sets seen and delivered on every message at or before the
// position of lastReadMessageID. Later messages are untouched. No-op when
// the id is absent.
func (s *Store) MarkReadThrough(lastReadMessageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[lastReadMessageID]
	if !ok {
		return false
	}
	for i := 0; i <= pos; i++ {
		s.messages[i].Seen = true
		s.messages[i].Delivered = true
	}
	return true
}

// adoptConversation binds a store created without a conversation id (direct
// send to a receiver) to the id the service assigned. No-op once bound.
func (s *Store) adoptConversation(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conversationID == "" && conversationID != "" {
		s.conversationID = conversationID
		for _, m := range s.messages {
			if m.ConversationID == "" {
				m.ConversationID = conversationID
			}
		}
	}
}

// setSendState updates the local persistence state of one message.
func (s *Store) setSendState(messageID string, st model.SendState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.index[messageID]
	if !ok {
		return false
	}
	s.messages[pos].SendState = st
	return true
}

// removeAt deletes the message at pos and reindexes the tail.
// Caller holds the write lock.
func (s *Store) removeAt(pos int) {
	s.messages = append(s.messages[:pos], s.messages[pos+1:]...)
	for i := pos; i < len(s.messages); i++ {
		s.index[s.messages[i].ID] = i
	}
}
