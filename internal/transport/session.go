package transport

import (
	"sync"

	"github.com/chatsync/internal/logger"
)

// SessionManager hands out one shared Binding per user and reference-counts
// it, so independent consumers (conversation view, presence badge, unread
// counter) can acquire and release the connection without clobbering each
// other. The socket is dialed on first acquire and torn down on last release.
type SessionManager struct {
	wsURL string
	opts  Options

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	binding *Binding
	refs    int
}

func NewSessionManager(wsURL string, opts Options) *SessionManager {
	return &SessionManager{
		wsURL:    wsURL,
		opts:     opts,
		sessions: make(map[string]*sessionEntry),
	}
}

// Acquire returns the shared binding for userID, dialing it if this is the
// first consumer. Every successful Acquire must be paired with a Release.
func (m *SessionManager) Acquire(userID string) (*Binding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.sessions[userID]; ok {
		e.refs++
		return e.binding, nil
	}

	b, err := Dial(userID, m.wsURL, m.opts)
	if err != nil {
		return nil, err
	}
	m.sessions[userID] = &sessionEntry{binding: b, refs: 1}
	logger.Infof("transport session opened user=%s", userID)
	return b, nil
}

// Release drops one reference. The last release closes the connection,
// which announces offline before severing.
func (m *SessionManager) Release(userID string) {
	m.mu.Lock()
	e, ok := m.sessions[userID]
	if !ok {
		m.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, userID)
	m.mu.Unlock()

	// Network teardown outside the lock.
	e.binding.Close()
	logger.Infof("transport session closed user=%s", userID)
}

// CloseAll tears down every open session. Used on application shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	entries := make([]*sessionEntry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.sessions = make(map[string]*sessionEntry)
	m.mu.Unlock()

	for _, e := range entries {
		e.binding.Close()
	}
}
