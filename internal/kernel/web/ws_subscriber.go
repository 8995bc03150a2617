package web

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSubscriberClosed is returned by Send once Close has run.
var ErrSubscriberClosed = errors.New("web: subscriber closed")

// writeTimeout bounds how long a single websocket frame write may take
// before the subscriber is considered unresponsive and dropped.
const writeTimeout = 5 * time.Second

// WSSubscriber adapts a *websocket.Conn into an EventSubscriber, one per
// connected admin client.
type WSSubscriber struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
	closed bool
}

// NewWSSubscriber wraps conn, deriving its lifetime context from parent.
func NewWSSubscriber(id string, conn *websocket.Conn, parent context.Context) *WSSubscriber {
	ctx, cancel := context.WithCancel(parent)
	return &WSSubscriber{id: id, conn: conn, ctx: ctx, cancel: cancel}
}

func (s *WSSubscriber) ID() string { return s.id }

func (s *WSSubscriber) Context() context.Context { return s.ctx }

func (s *WSSubscriber) Send(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriberClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *WSSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return s.conn.Close()
}

// ReadPump discards inbound client frames (this stream is
// server-to-client only) until the connection errors or closes, so the
// underlying websocket's read deadline / pong handling keeps the
// connection alive per gorilla/websocket's documented usage pattern.
func (s *WSSubscriber) ReadPump() {
	defer s.Close()
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
