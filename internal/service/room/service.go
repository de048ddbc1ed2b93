package room

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchparty/internal/metrics"
	"github.com/sharetube/watchparty/internal/repository/room"
)

var (
	ErrNotController      = errors.New("only the controller may change playback")
	ErrFileMismatch       = errors.New("file identity does not match the room")
	ErrNoController       = errors.New("room has no controller")
	ErrControllerConflict = errors.New("controller changed concurrently")
)

type iRoomRepo interface {
	// playback
	GetPlayback(context.Context, string) (room.Playback, error)
	ClaimController(context.Context, *room.ClaimControllerParams) (room.ClaimResult, error)
	UpdatePlayback(context.Context, *room.UpdatePlaybackParams) error
	CompareAndSwapController(context.Context, *room.CompareAndSwapControllerParams) (bool, error)
	// presence
	AddParticipant(context.Context, *room.AddParticipantParams) error
	TouchParticipant(context.Context, *room.TouchParticipantParams) (bool, error)
	RemoveParticipant(context.Context, *room.RemoveParticipantParams) error
	GetParticipantIDs(context.Context, string) ([]string, error)
	RemoveStaleParticipants(context.Context, string) ([]string, error)
	GetRoomIDs(context.Context) ([]string, error)
	UnindexRoomIfEmpty(context.Context, string) (bool, error)
	PublishPresence(ctx context.Context, roomID string, participantIDs []string) error
	// events
	Subscribe(context.Context, string) (room.Subscription, error)
}

type iConnRepo interface {
	Add(conn *websocket.Conn, roomID, participantID string) *websocket.Conn
	RemoveByConn(*websocket.Conn) error
	Len() int
}

type service struct {
	roomRepo iRoomRepo
	connRepo iConnRepo
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewService(roomRepo iRoomRepo, connRepo iConnRepo, clock clockwork.Clock, m *metrics.Metrics, logger *slog.Logger) *service {
	return &service{
		roomRepo: roomRepo,
		connRepo: connRepo,
		clock:    clock,
		metrics:  m,
		logger:   logger,
	}
}
