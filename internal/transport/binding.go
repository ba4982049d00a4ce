// Package transport owns the realtime connection to the chat service:
// one websocket per authenticated user, typed event subscription and
// emission, and bounded auto-reconnect.
package transport

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/logger"
)

// Options tunes a Binding. Zero values fall back to the defaults below.
type Options struct {
	SendBufferSize    int
	WriteTimeout      time.Duration
	PongTimeout       time.Duration
	MaxMessageSize    int64
	ReconnectAttempts int
	ReconnectDelay    time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = 256
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = 4096
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = 5
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = time.Second
	}
	return o
}

// OptionsFromConfig maps the client configuration onto binding options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SendBufferSize:    cfg.WSSendBufferSize,
		WriteTimeout:      time.Duration(cfg.WSWriteTimeout) * time.Second,
		PongTimeout:       time.Duration(cfg.WSPongTimeout) * time.Second,
		MaxMessageSize:    int64(cfg.WSMaxMessageSize),
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	}
}

// Handler receives a decoded event. Handlers run on the read goroutine,
// one event at a time, in arrival order.
type Handler func(Event)

var errBindingClosed = errors.New("transport: binding closed")

// Binding is one live realtime connection for one user.
// Lifecycle: Dial -> [Emit, On/off] -> Close.
// Registering the same handler twice for the same event is not deduplicated;
// callers must keep every On paired with its returned off.
type Binding struct {
	userID string
	wsURL  string
	dialer *websocket.Dialer
	opts   Options

	handlersMu    sync.RWMutex
	handlers      map[EventType]map[int]Handler
	nextHandlerID int

	send chan Event
	quit chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	aliveMu sync.Mutex
	alive   bool
}

// Dial connects to the chat service as userID and announces presence.
// The userId query parameter keys the session on the service side.
func Dial(userID, wsURL string, opts Options) (*Binding, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("transport: parse ws url: %w", err)
	}
	q := u.Query()
	q.Set("userId", userID)
	u.RawQuery = q.Encode()

	opts = opts.withDefaults()
	b := &Binding{
		userID:   userID,
		wsURL:    u.String(),
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		opts:     opts,
		handlers: make(map[EventType]map[int]Handler),
		send:     make(chan Event, opts.SendBufferSize),
		quit:     make(chan struct{}),
	}

	conn, _, err := b.dialer.Dial(b.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", wsURL, err)
	}
	b.setAlive(true)

	b.wg.Add(1)
	go b.run(conn)

	b.Emit(Event{Type: EventUserOnline, Presence: &PresencePayload{UserID: userID}})
	return b, nil
}

// UserID returns the session's user id.
func (b *Binding) UserID() string { return b.userID }

// Alive reports whether the connection is currently live (or mid-reconnect
// with attempts remaining).
func (b *Binding) Alive() bool {
	b.aliveMu.Lock()
	defer b.aliveMu.Unlock()
	return b.alive
}

func (b *Binding) setAlive(v bool) {
	b.aliveMu.Lock()
	b.alive = v
	b.aliveMu.Unlock()
}

// On registers a handler for one event type and returns its unsubscribe func.
// Every On must be paired with a call to the returned func on teardown.
func (b *Binding) On(t EventType, h Handler) (off func()) {
	b.handlersMu.Lock()
	id := b.nextHandlerID
	b.nextHandlerID++
	if b.handlers[t] == nil {
		b.handlers[t] = make(map[int]Handler)
	}
	b.handlers[t][id] = h
	b.handlersMu.Unlock()

	return func() {
		b.handlersMu.Lock()
		delete(b.handlers[t], id)
		b.handlersMu.Unlock()
	}
}

// Emit queues an event for sending. Never blocks: when the buffer is full
// the event is dropped with a logged error (slow or dead connection).
func (b *Binding) Emit(ev Event) {
	select {
	case b.send <- ev:
	case <-b.quit:
	default:
		logger.Errorf("ws send buffer full, dropping %s user=%s", ev.Type, b.userID)
	}
}

// Close announces offline (if still connected), flushes queued events and
// severs the connection. Safe to call multiple times.
func (b *Binding) Close() {
	b.once.Do(func() {
		if b.Alive() {
			b.Emit(Event{Type: EventUserOffline, Presence: &PresencePayload{UserID: b.userID}})
		}
		close(b.quit)
	})
	b.wg.Wait()
}

// run owns the connection across reconnects. Handlers stay registered
// through a reconnect; queued events are delivered on the new connection.
func (b *Binding) run(conn *websocket.Conn) {
	defer b.wg.Done()
	for {
		err := b.pump(conn)

		select {
		case <-b.quit:
			return
		default:
		}

		logger.Errorf("ws connection lost user=%s: %v", b.userID, err)
		conn.Close()

		next, rerr := b.redial()
		if rerr != nil {
			if !errors.Is(rerr, errBindingClosed) {
				logger.Errorf("ws reconnect user=%s: giving up after %d attempts: %v",
					b.userID, b.opts.ReconnectAttempts, rerr)
			}
			b.setAlive(false)
			return
		}
		conn = next
		b.setAlive(true)
		b.Emit(Event{Type: EventUserOnline, Presence: &PresencePayload{UserID: b.userID}})
	}
}

// pump runs the write loop in the background and reads until the connection
// fails. Returns the read error.
func (b *Binding) pump(conn *websocket.Conn) error {
	readDone := make(chan struct{})
	var wwg sync.WaitGroup
	wwg.Add(1)
	go func() {
		defer wwg.Done()
		b.writePump(conn, readDone)
	}()

	err := b.readLoop(conn)
	close(readDone)
	wwg.Wait()
	return err
}

func (b *Binding) readLoop(conn *websocket.Conn) error {
	conn.SetReadLimit(b.opts.MaxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(b.opts.PongTimeout)); err != nil {
		return err
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(b.opts.PongTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := Decode(raw)
		if err != nil {
			logger.Errorf("ws decode user=%s: %v", b.userID, err)
			continue
		}
		b.dispatch(ev)
	}
}

// writePump is the single writer for the connection. Exits when the read
// loop ends or the binding closes; on close it drains the queue first so a
// final userOffline is flushed before the close frame.
func (b *Binding) writePump(conn *websocket.Conn, readDone chan struct{}) {
	pingPeriod := b.opts.PongTimeout * 9 / 10
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-b.quit:
			for {
				select {
				case ev := <-b.send:
					if err := b.write(conn, ev); err != nil {
						conn.Close()
						return
					}
				default:
					conn.SetWriteDeadline(time.Now().Add(b.opts.WriteTimeout))
					if err := conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
						logger.Errorf("ws close message user=%s: %v", b.userID, err)
					}
					conn.Close()
					return
				}
			}
		case <-readDone:
			return
		case ev := <-b.send:
			if err := b.write(conn, ev); err != nil {
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(b.opts.WriteTimeout)); err != nil {
				conn.Close()
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (b *Binding) write(conn *websocket.Conn, ev Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(b.opts.WriteTimeout)); err != nil {
		return err
	}
	data, err := Encode(ev)
	if err != nil {
		logger.Errorf("ws encode user=%s: %v", b.userID, err)
		return nil
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// redial retries the connection with a fixed delay between attempts.
func (b *Binding) redial() (*websocket.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= b.opts.ReconnectAttempts; attempt++ {
		select {
		case <-b.quit:
			return nil, errBindingClosed
		case <-time.After(b.opts.ReconnectDelay):
		}
		conn, _, err := b.dialer.Dial(b.wsURL, nil)
		if err != nil {
			lastErr = err
			logger.Errorf("ws reconnect attempt %d/%d user=%s: %v",
				attempt, b.opts.ReconnectAttempts, b.userID, err)
			continue
		}
		return conn, nil
	}
	return nil, lastErr
}

func (b *Binding) dispatch(ev Event) {
	b.handlersMu.RLock()
	hs := make([]Handler, 0, len(b.handlers[ev.Type]))
	for _, h := range b.handlers[ev.Type] {
		hs = append(hs, h)
	}
	b.handlersMu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}
