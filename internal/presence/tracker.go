// Package presence tracks the ephemeral per-conversation state: who is
// typing and who is online. Nothing here is persisted; everything resets
// on teardown.
package presence

import (
	"sync"
	"time"

	"github.com/chatsync/internal/model"
)

// EmitFunc sends a typing notification to the counterpart.
type EmitFunc func(model.TypingStatus)

// Tracker handles both directions of typing state for one conversation.
//
// Outbound: NotifyTyping emits isTyping=true immediately and arms a single
// trailing isTyping=false after the stop delay; every keystroke cancels and
// re-arms the timer, so silence produces exactly one false event.
//
// Inbound: Observe records the counterpart's flag. A typing=true refreshes
// an expiry timer that auto-clears the flag, so a dropped "stopped typing"
// event cannot leave a stale indicator.
type Tracker struct {
	conversationID string
	userID         string
	stopDelay      time.Duration
	expiry         time.Duration
	emit           EmitFunc
	onChange       func(userID string, isTyping bool)

	mu        sync.Mutex
	stopTimer *time.Timer
	typing    map[string]*time.Timer
	online    map[string]bool
	closed    bool
}

func NewTracker(conversationID, userID string, stopDelay, expiry time.Duration, emit EmitFunc, onChange func(string, bool)) *Tracker {
	if stopDelay <= 0 {
		stopDelay = 3 * time.Second
	}
	if expiry <= 0 {
		expiry = 2 * stopDelay
	}
	if emit == nil {
		emit = func(model.TypingStatus) {}
	}
	return &Tracker{
		conversationID: conversationID,
		userID:         userID,
		stopDelay:      stopDelay,
		expiry:         expiry,
		emit:           emit,
		onChange:       onChange,
		typing:         make(map[string]*time.Timer),
		online:         make(map[string]bool),
	}
}

// AdoptConversation binds a tracker created without a conversation id to
// the id the service assigned. No-op once bound.
func (t *Tracker) AdoptConversation(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conversationID == "" && conversationID != "" {
		t.conversationID = conversationID
	}
}

// NotifyTyping reports a local keystroke: emits typing=true and re-arms the
// trailing stop timer.
func (t *Tracker) NotifyTyping() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.stopTimer != nil {
		t.stopTimer.Stop()
	}
	t.stopTimer = time.AfterFunc(t.stopDelay, t.emitStopped)
	t.mu.Unlock()

	t.emit(model.TypingStatus{ConversationID: t.conversationID, UserID: t.userID, IsTyping: true})
}

// NotifyStoppedTyping emits an immediate typing=false and cancels the
// pending trailing emission. Called on send.
func (t *Tracker) NotifyStoppedTyping() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if t.stopTimer != nil {
		t.stopTimer.Stop()
		t.stopTimer = nil
	}
	t.mu.Unlock()

	t.emit(model.TypingStatus{ConversationID: t.conversationID, UserID: t.userID, IsTyping: false})
}

func (t *Tracker) emitStopped() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.stopTimer = nil
	t.mu.Unlock()

	t.emit(model.TypingStatus{ConversationID: t.conversationID, UserID: t.userID, IsTyping: false})
}

// Observe applies a counterpart's typing notification. Events for other
// conversations or for the local user are ignored.
func (t *Tracker) Observe(ts model.TypingStatus) {
	if ts.ConversationID != t.conversationID || ts.UserID == t.userID {
		return
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	if timer, ok := t.typing[ts.UserID]; ok {
		timer.Stop()
		delete(t.typing, ts.UserID)
	}
	changed := false
	if ts.IsTyping {
		userID := ts.UserID
		t.typing[userID] = time.AfterFunc(t.expiry, func() { t.expire(userID) })
		changed = true
	}
	t.mu.Unlock()

	if t.onChange != nil {
		if changed {
			t.onChange(ts.UserID, true)
		} else {
			t.onChange(ts.UserID, false)
		}
	}
}

// expire auto-clears a typing flag whose refresh never came.
func (t *Tracker) expire(userID string) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	_, ok := t.typing[userID]
	if ok {
		delete(t.typing, userID)
	}
	t.mu.Unlock()

	if ok && t.onChange != nil {
		t.onChange(userID, false)
	}
}

// IsTyping reports whether userID currently has a live typing flag.
func (t *Tracker) IsTyping(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.typing[userID]
	return ok
}

// TypingUsers returns the ids of everyone currently typing.
func (t *Tracker) TypingUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.typing))
	for id := range t.typing {
		out = append(out, id)
	}
	return out
}

// SetOnline records a presence notification for userID.
func (t *Tracker) SetOnline(userID string, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[userID] = online
}

// Online reports the last known presence of userID.
func (t *Tracker) Online(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[userID]
}

// Close cancels every pending timer. Further notifications are no-ops.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if t.stopTimer != nil {
		t.stopTimer.Stop()
		t.stopTimer = nil
	}
	for id, timer := range t.typing {
		timer.Stop()
		delete(t.typing, id)
	}
}
