package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cepro/metersim/metrics"
	"github.com/cepro/metersim/session"
	"github.com/cepro/metersim/telemetry"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	transportName = "websocket"

	eventNewReading   = "newReading"
	eventStartReading = "startReading"
	eventStopReading  = "stopReading"

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var errBufferFull = errors.New("send buffer full")

// message is the envelope of every websocket message in both directions.
type message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub tracks the connected websocket subscribers and delivers events to them.
type Hub struct {
	lock        sync.Mutex
	subscribers map[string]*subscriber
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]*subscriber),
	}
}

// Push queues the event for the subscriber without blocking. If the subscriber's buffer is full the event is
// dropped.
func (h *Hub) Push(subscriberID string, event telemetry.ReadingEvent) error {
	sub, ok := h.get(subscriberID)
	if !ok {
		return session.ErrSubscriberGone
	}
	return sub.push(event)
}

func (h *Hub) OnDisconnect(subscriberID string, fn func()) {
	sub, ok := h.get(subscriberID)
	if !ok {
		fn()
		return
	}
	sub.onDisconnect(fn)
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.subscribers)
}

// CloseAll disconnects every subscriber.
func (h *Hub) CloseAll() {
	h.lock.Lock()
	subs := make([]*subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.lock.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}

func (h *Hub) add(sub *subscriber) {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.subscribers[sub.id] = sub
	sub.hub = h
}

func (h *Hub) remove(id string) {
	h.lock.Lock()
	defer h.lock.Unlock()
	delete(h.subscribers, id)
}

func (h *Hub) get(id string) (*subscriber, bool) {
	h.lock.Lock()
	defer h.lock.Unlock()
	sub, ok := h.subscribers[id]
	return sub, ok
}

// subscriber is one websocket connection. Outbound messages are queued on `send` and written by writeLoop, which
// is the only goroutine that writes to the connection.
type subscriber struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	hub     *Hub
	logger  *slog.Logger

	lock   sync.Mutex
	closed bool
	hooks  []func()
	done   chan struct{}
}

func newSubscriber(id string, conn *websocket.Conn, bufferSize int, limiter *rate.Limiter) *subscriber {
	return &subscriber{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, bufferSize),
		limiter: limiter,
		logger:  slog.Default().With("subscriber_id", id),
		done:    make(chan struct{}),
	}
}

func (s *subscriber) push(event telemetry.ReadingEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg, err := json.Marshal(message{Event: eventNewReading, Data: data})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return session.ErrSubscriberGone
	}
	select {
	case s.send <- msg:
		return nil
	default:
		metrics.CountDroppedPush(transportName)
		return errBufferFull
	}
}

func (s *subscriber) onDisconnect(fn func()) {
	s.lock.Lock()
	if !s.closed {
		s.hooks = append(s.hooks, fn)
		s.lock.Unlock()
		return
	}
	s.lock.Unlock()
	fn()
}

// close disconnects the subscriber and calls the disconnect hooks. It is safe to call more than once.
func (s *subscriber) close() {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	hooks := s.hooks
	s.hooks = nil
	s.lock.Unlock()

	if s.hub != nil {
		s.hub.remove(s.id)
	}
	if s.conn != nil {
		s.conn.Close()
	}
	for _, fn := range hooks {
		fn()
	}
	s.logger.Info("Client disconnected")
}

func (s *subscriber) writeLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.TextMessage, data)
			if err != nil {
				s.logger.Debug("Write failed", "error", err)
				s.close()
				return
			}
		case <-pingTicker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				s.logger.Debug("Ping failed", "error", err)
				s.close()
				return
			}
		}
	}
}

// readLoop handles client control messages until the connection fails.
func (s *subscriber) readLoop(sess *session.Session) {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("Unexpected close", "error", err)
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !s.limiter.Allow() {
			s.logger.Warn("Inbound message rate exceeded, message ignored")
			continue
		}

		var msg message
		err = json.Unmarshal(data, &msg)
		if err != nil {
			s.logger.Debug("Ignoring malformed message", "error", err)
			continue
		}

		switch msg.Event {
		case eventStartReading:
			sess.Resume()
		case eventStopReading:
			sess.Pause()
		default:
			s.logger.Debug("Ignoring unknown event", "event", msg.Event)
		}
	}
}
