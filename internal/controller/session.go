package controller

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchparty/internal/domain"
)

const writeTimeout = 5 * time.Second

// session serializes writes to one socket. Handlers and the room event forwarder write concurrently.
type session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newSession(conn *websocket.Conn) *session {
	return &session{conn: conn}
}

func (s *session) write(messageType string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	return s.conn.WriteJSON(&domain.Message[any]{
		Type:    messageType,
		Payload: payload,
	})
}

func (s *session) close(code int, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeTimeout))
	return s.conn.Close()
}
