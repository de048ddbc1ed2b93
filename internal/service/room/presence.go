package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/repository/room"
)

type JoinParams struct {
	RoomID        string
	ParticipantID string
}

type JoinResponse struct {
	Record         *domain.Record
	ParticipantIDs []string
}

// Join registers presence and returns the current room state for the joiner.
func (s service) Join(ctx context.Context, params *JoinParams) (JoinResponse, error) {
	if err := s.roomRepo.AddParticipant(ctx, &room.AddParticipantParams{
		RoomID:        params.RoomID,
		ParticipantID: params.ParticipantID,
	}); err != nil {
		return JoinResponse{}, fmt.Errorf("failed to add participant: %w", err)
	}

	participantIDs, err := s.publishPresence(ctx, params.RoomID)
	if err != nil {
		return JoinResponse{}, err
	}

	if _, err := s.arbitrate(ctx, params.RoomID, participantIDs); err != nil {
		s.logger.WarnContext(ctx, "failed to arbitrate controller", "error", err)
	}

	record, err := s.getRecord(ctx, params.RoomID)
	if err != nil {
		return JoinResponse{}, err
	}

	return JoinResponse{
		Record:         record,
		ParticipantIDs: participantIDs,
	}, nil
}

type LeaveParams struct {
	RoomID        string
	ParticipantID string
}

// Leave releases presence and hands control over if the leaver was the controller.
func (s service) Leave(ctx context.Context, params *LeaveParams) error {
	if err := s.roomRepo.RemoveParticipant(ctx, &room.RemoveParticipantParams{
		RoomID:        params.RoomID,
		ParticipantID: params.ParticipantID,
	}); err != nil && !errors.Is(err, room.ErrParticipantNotFound) {
		return fmt.Errorf("failed to remove participant: %w", err)
	}

	participantIDs, err := s.publishPresence(ctx, params.RoomID)
	if err != nil {
		return err
	}

	if _, err := s.arbitrate(ctx, params.RoomID, participantIDs); err != nil {
		return fmt.Errorf("failed to arbitrate controller: %w", err)
	}

	if len(participantIDs) == 0 {
		if _, err := s.roomRepo.UnindexRoomIfEmpty(ctx, params.RoomID); err != nil {
			s.logger.WarnContext(ctx, "failed to unindex room", "error", err)
		}
	}

	return nil
}

type HeartbeatParams struct {
	RoomID        string
	ParticipantID string
}

func (s service) Heartbeat(ctx context.Context, params *HeartbeatParams) error {
	readded, err := s.roomRepo.TouchParticipant(ctx, &room.TouchParticipantParams{
		RoomID:        params.RoomID,
		ParticipantID: params.ParticipantID,
	})
	if err != nil {
		return fmt.Errorf("failed to touch participant: %w", err)
	}

	if readded {
		s.logger.InfoContext(ctx, "participant re-added after eviction")
		if _, err := s.publishPresence(ctx, params.RoomID); err != nil {
			return err
		}
	}

	return nil
}

type ConnectParams struct {
	Conn          *websocket.Conn
	RoomID        string
	ParticipantID string
}

// Connect attaches conn to the participant. The newest connection wins and a previous socket of the
// same participant is closed.
func (s service) Connect(ctx context.Context, params *ConnectParams) {
	replaced := s.connRepo.Add(params.Conn, params.RoomID, params.ParticipantID)
	if replaced != nil {
		s.logger.InfoContext(ctx, "closing replaced connection")
		replaced.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "replaced by a newer connection"),
			time.Now().Add(time.Second),
		)
		replaced.Close()
	}

	s.metrics.ConnectedParticipants.Set(float64(s.connRepo.Len()))
}

type DisconnectParams struct {
	Conn          *websocket.Conn
	RoomID        string
	ParticipantID string
}

// Disconnect is the remove-on-disconnect rule: presence is released unless the socket was already replaced.
func (s service) Disconnect(ctx context.Context, params *DisconnectParams) error {
	defer func() {
		s.metrics.ConnectedParticipants.Set(float64(s.connRepo.Len()))
	}()

	if err := s.connRepo.RemoveByConn(params.Conn); err != nil {
		s.logger.DebugContext(ctx, "connection was replaced, keeping presence")
		return nil
	}

	return s.Leave(ctx, &LeaveParams{
		RoomID:        params.RoomID,
		ParticipantID: params.ParticipantID,
	})
}
