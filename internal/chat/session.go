package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/presence"
	"github.com/chatsync/internal/rest"
	"github.com/chatsync/internal/transport"
)

var (
	// ErrEmptyMessage is returned for empty or whitespace-only content.
	// No network call is made.
	ErrEmptyMessage = errors.New("chat: empty message")
	// ErrNotFailed is returned when Resend targets a message that is not
	// in the failed state.
	ErrNotFailed = errors.New("chat: message is not in failed state")
)

const queueSize = 256

// Options tunes a Session. Zero durations fall back to the service defaults
// (1s seen grace, 3s typing stop, 6s typing expiry).
type Options struct {
	SeenGrace       time.Duration
	TypingStopDelay time.Duration
	TypingExpiry    time.Duration

	// Focused marks the conversation surface as open and visible; seen
	// receipts are only emitted while focused.
	Focused bool

	// OnUpdate is called after every applied state change (optional).
	OnUpdate func()
	// OnTyping is called when a counterpart's typing flag changes (optional).
	OnTyping func(userID string, isTyping bool)
}

func (o Options) withDefaults() Options {
	if o.SeenGrace <= 0 {
		o.SeenGrace = time.Second
	}
	if o.TypingStopDelay <= 0 {
		o.TypingStopDelay = 3 * time.Second
	}
	if o.TypingExpiry <= 0 {
		o.TypingExpiry = 6 * time.Second
	}
	return o
}

// Session drives one open conversation: it funnels every mutation (local
// optimistic inserts, REST acknowledgements, realtime pushes) through a
// single goroutine, so the store sees events one at a time in arrival order.
//
// Lifecycle: NewSession -> [Send, Typing, SetFocused ...] -> Close.
// Close unregisters every transport handler the session registered and
// cancels its timers.
type Session struct {
	userID     string
	receiverID string

	store      *Store
	binding    *transport.Binding
	restClient *rest.Client
	typing     *presence.Tracker
	opts       Options

	queue chan func()
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
	offs  []func()

	// Owned by the run loop.
	focused       bool
	deliveredAcks map[string]struct{}
	seenAcks      map[string]struct{}
	pendingSeenID string
	seenTimer     *time.Timer
}

// NewSession opens conversationID over an acquired binding. receiverID may
// be set for a direct conversation that does not exist yet; the first
// persisted message adopts the server-assigned conversation id.
func NewSession(binding *transport.Binding, restClient *rest.Client, conversationID, receiverID string, opts Options) *Session {
	opts = opts.withDefaults()
	s := &Session{
		userID:        binding.UserID(),
		receiverID:    receiverID,
		store:         NewStore(conversationID),
		binding:       binding,
		restClient:    restClient,
		opts:          opts,
		queue:         make(chan func(), queueSize),
		quit:          make(chan struct{}),
		focused:       opts.Focused,
		deliveredAcks: make(map[string]struct{}),
		seenAcks:      make(map[string]struct{}),
	}
	s.typing = presence.NewTracker(conversationID, s.userID, opts.TypingStopDelay, opts.TypingExpiry, s.emitTyping, opts.OnTyping)

	s.subscribe()

	s.wg.Add(1)
	go s.run()

	if conversationID != "" {
		binding.Emit(transport.Event{
			Type:         transport.EventJoinConversation,
			Conversation: &transport.ConversationPayload{ConversationID: conversationID},
		})
	}
	return s
}

// subscribe registers one handler per event type the session consumes.
// Every registration's unsubscribe func is retained for Close.
func (s *Session) subscribe() {
	onMessage := func(ev transport.Event) {
		m := ev.Message
		s.enqueue(func() { s.handleRemoteMessage(m) })
	}
	onStatus := func(ev transport.Event) {
		st := ev.Status
		s.enqueue(func() { s.handleStatus(st) })
	}

	s.offs = append(s.offs,
		s.binding.On(transport.EventReceiveMessage, onMessage),
		s.binding.On(transport.EventSendMessage, onMessage),
		s.binding.On(transport.EventMessageStatus, onStatus),
		s.binding.On(transport.EventMessageStatusUpdated, onStatus),
		s.binding.On(transport.EventConversationRead, func(ev transport.Event) {
			rd := ev.Read
			s.enqueue(func() { s.handleRead(rd) })
		}),
		s.binding.On(transport.EventTypingStatus, func(ev transport.Event) {
			ts := ev.Typing
			s.enqueue(func() { s.typing.Observe(*ts) })
		}),
		s.binding.On(transport.EventUserOnline, func(ev transport.Event) {
			id := ev.Presence.UserID
			s.enqueue(func() { s.typing.SetOnline(id, true) })
		}),
		s.binding.On(transport.EventUserOffline, func(ev transport.Event) {
			id := ev.Presence.UserID
			s.enqueue(func() { s.typing.SetOnline(id, false) })
		}),
	)
}

// Store exposes the conversation state for rendering.
func (s *Session) Store() *Store { return s.store }

// Presence exposes the typing/online tracker for rendering.
func (s *Session) Presence() *presence.Tracker { return s.typing }

// UserID returns the local user's id.
func (s *Session) UserID() string { return s.userID }

func (s *Session) run() {
	defer s.wg.Done()
	defer func() {
		if s.seenTimer != nil {
			s.seenTimer.Stop()
		}
	}()
	for {
		select {
		case <-s.quit:
			return
		case fn := <-s.queue:
			fn()
		}
	}
}

func (s *Session) enqueue(fn func()) {
	select {
	case s.queue <- fn:
	case <-s.quit:
	}
}

// Send creates a provisional message immediately, persists it via the REST
// service in the background, and lets the store reflect the outcome.
// Fire-and-forget: REST failure marks the message failed instead of
// returning an error to the caller.
func (s *Session) Send(content string, messageType model.MessageType) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if messageType == "" {
		messageType = model.MessageTypeText
	}

	tempID := model.TempIDPrefix + uuid.New().String()
	m := &model.Message{
		ID:             tempID,
		ConversationID: s.store.ConversationID(),
		SenderID:       s.userID,
		ReceiverID:     s.receiverID,
		Content:        content,
		MessageType:    messageType,
		CreatedAt:      time.Now().UTC(),
		SendState:      model.SendStateSending,
	}

	s.enqueue(func() {
		s.store.InsertProvisional(m)
		s.notifyUpdate()
	})
	s.typing.NotifyStoppedTyping()

	s.wg.Add(1)
	go s.persist(tempID, m)
	return nil
}

// Resend retries the REST persistence of a failed optimistic message.
func (s *Session) Resend(tempID string) error {
	m, ok := s.store.Get(tempID)
	if !ok || m.SendState != model.SendStateFailed {
		return ErrNotFailed
	}
	s.enqueue(func() {
		s.store.setSendState(tempID, model.SendStateSending)
		s.notifyUpdate()
	})
	s.wg.Add(1)
	go s.persist(tempID, m)
	return nil
}

// persist runs the REST call off the event loop and feeds the result back
// through it. Suspension points stay at the network boundary.
func (s *Session) persist(tempID string, m *model.Message) {
	defer s.wg.Done()
	defer logger.DeferLogDuration("chat.persist", time.Now())()

	saved, err := s.restClient.SendMessage(context.Background(), rest.SendMessageRequest{
		SenderID:       m.SenderID,
		Content:        m.Content,
		MessageType:    m.MessageType,
		ReceiverID:     m.ReceiverID,
		ConversationID: m.ConversationID,
	})
	if err != nil {
		// Degraded path: the message stays visible (marked failed) and
		// still goes out over the socket so the counterpart sees it with
		// minimal latency. Durability is not guaranteed here.
		logger.Errorf("send persist failed, socket-only delivery user=%s: %v", s.userID, err)
		s.enqueue(func() {
			s.store.MarkFailed(tempID)
			s.emitMessage(m, tempID, m.CreatedAt)
			s.notifyUpdate()
		})
		return
	}

	s.enqueue(func() {
		if s.store.ConversationID() == "" && saved.ConversationID != "" {
			s.adoptConversation(saved.ConversationID)
		}
		s.store.ResolveIdentity(tempID, saved.ID, saved.CreatedAt)
		s.emitMessage(m, saved.ID, saved.CreatedAt)
		s.notifyUpdate()
	})
}

// adoptConversation binds a session opened by receiverID to the
// conversation the service created for it.
func (s *Session) adoptConversation(conversationID string) {
	s.store.adoptConversation(conversationID)
	s.typing.AdoptConversation(conversationID)
	s.binding.Emit(transport.Event{
		Type:         transport.EventJoinConversation,
		Conversation: &transport.ConversationPayload{ConversationID: conversationID},
	})
}

// emitMessage pushes the message over the realtime connection with whatever
// identity it has at this point (server id, or still the temp id when the
// REST call failed).
func (s *Session) emitMessage(m *model.Message, id string, createdAt time.Time) {
	if !s.binding.Alive() {
		return
	}
	out := *m
	out.ID = id
	out.CreatedAt = createdAt
	out.ConversationID = s.store.ConversationID()
	out.Sender = &model.User{ID: s.userID}
	s.binding.Emit(transport.Event{Type: transport.EventSendMessage, Message: &out})
}

func (s *Session) handleRemoteMessage(m *model.Message) {
	if !s.store.ReceiveRemote(m) {
		return
	}
	if m.SenderID != s.userID {
		// A user never delivery-acks their own echoed message.
		if _, done := s.deliveredAcks[m.ID]; !done {
			s.deliveredAcks[m.ID] = struct{}{}
			if s.binding.Alive() {
				s.binding.Emit(transport.Event{
					Type: transport.EventMessageStatus,
					Status: &transport.StatusPayload{
						MessageID:      m.ID,
						Status:         model.MessageStatusDelivered,
						ConversationID: s.store.ConversationID(),
					},
				})
			}
		}
		s.pendingSeenID = m.ID
		s.scheduleSeen()
	}
	s.notifyUpdate()
}

func (s *Session) handleStatus(st *transport.StatusPayload) {
	if st.ConversationID != "" && st.ConversationID != s.store.ConversationID() {
		return
	}
	if s.store.MarkStatus(st.MessageID, st.Status) {
		s.notifyUpdate()
	}
}

func (s *Session) handleRead(rd *transport.ReadPayload) {
	if rd.ConversationID != s.store.ConversationID() || rd.UserID == s.userID {
		return
	}
	if s.store.MarkReadThrough(rd.LastReadMessageID) {
		s.notifyUpdate()
	}
}

// SetFocused marks the conversation surface open/closed. Gaining focus with
// unacked inbound messages schedules a seen receipt.
func (s *Session) SetFocused(focused bool) {
	s.enqueue(func() {
		s.focused = focused
		if focused {
			s.scheduleSeen()
		} else if s.seenTimer != nil {
			s.seenTimer.Stop()
			s.seenTimer = nil
		}
	})
}

// scheduleSeen arms the grace timer for the seen receipt. The delay absorbs
// rapid successions of inbound messages into one receipt.
func (s *Session) scheduleSeen() {
	if !s.focused || s.pendingSeenID == "" {
		return
	}
	if _, done := s.seenAcks[s.pendingSeenID]; done {
		s.pendingSeenID = ""
		return
	}
	if s.seenTimer != nil {
		s.seenTimer.Stop()
	}
	s.seenTimer = time.AfterFunc(s.opts.SeenGrace, func() {
		s.enqueue(s.flushSeen)
	})
}

func (s *Session) flushSeen() {
	if !s.focused || s.pendingSeenID == "" {
		return
	}
	id := s.pendingSeenID
	s.pendingSeenID = ""
	if _, done := s.seenAcks[id]; done {
		return
	}
	s.seenAcks[id] = struct{}{}
	if !s.binding.Alive() {
		return
	}
	s.binding.Emit(transport.Event{
		Type: transport.EventMessageStatus,
		Status: &transport.StatusPayload{
			MessageID:      id,
			Status:         model.MessageStatusSeen,
			ConversationID: s.store.ConversationID(),
		},
	})
	s.binding.Emit(transport.Event{
		Type: transport.EventConversationRead,
		Read: &transport.ReadPayload{
			ConversationID:    s.store.ConversationID(),
			UserID:            s.userID,
			LastReadMessageID: id,
		},
	})
}

// Typing reports a local keystroke.
func (s *Session) Typing() {
	s.typing.NotifyTyping()
}

func (s *Session) emitTyping(ts model.TypingStatus) {
	if !s.binding.Alive() {
		return
	}
	cp := ts
	s.binding.Emit(transport.Event{Type: transport.EventTypingStatus, Typing: &cp})
}

func (s *Session) notifyUpdate() {
	if s.opts.OnUpdate != nil {
		s.opts.OnUpdate()
	}
}

// Close leaves the conversation, unregisters every handler this session
// registered, cancels its timers, and waits for in-flight work to settle.
func (s *Session) Close() {
	s.once.Do(func() {
		for _, off := range s.offs {
			off()
		}
		s.offs = nil
		s.typing.Close()
		if convID := s.store.ConversationID(); s.binding.Alive() && convID != "" {
			s.binding.Emit(transport.Event{
				Type:         transport.EventLeaveConversation,
				Conversation: &transport.ConversationPayload{ConversationID: convID},
			})
		}
		close(s.quit)
	})
	s.wg.Wait()
}
