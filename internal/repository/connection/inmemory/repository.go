package inmemory

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchparty/internal/repository/connection"
)

type key struct {
	roomID        string
	participantID string
}

// repo tracks the sockets attached to this instance, one per participant and room.
type repo struct {
	connList map[*websocket.Conn]key
	idList   map[key]*websocket.Conn
	mu       sync.RWMutex
	logger   *slog.Logger
}

func NewRepo(logger *slog.Logger) *repo {
	return &repo{
		connList: make(map[*websocket.Conn]key),
		idList:   make(map[key]*websocket.Conn),
		logger:   logger,
	}
}

// Add registers conn and returns the connection it replaced, if the participant was already attached here.
func (r *repo) Add(conn *websocket.Conn, roomID, participantID string) *websocket.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{roomID: roomID, participantID: participantID}
	replaced := r.idList[k]
	if replaced != nil {
		delete(r.connList, replaced)
		r.logger.Debug("connection replaced", "room_id", roomID, "participant_id", participantID)
	}

	r.connList[conn] = k
	r.idList[k] = conn

	return replaced
}

// RemoveByConn fails with ErrNotFound when conn was never added or has been replaced.
func (r *repo) RemoveByConn(conn *websocket.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.connList[conn]
	if !ok {
		return connection.ErrNotFound
	}

	delete(r.connList, conn)
	delete(r.idList, k)

	return nil
}

func (r *repo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.idList)
}
