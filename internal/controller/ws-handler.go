package controller

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/service/room"
	"github.com/sharetube/watchparty/pkg/ctxlogger"
	"github.com/sharetube/watchparty/pkg/rest"
)

type EmptyInput struct{}

func (c controller) joinRoom(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "room-id")
	if errs, ok := c.validate.ValidateVar("room-id", roomID, "required,max=64,identifier"); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": errs})
		return
	}

	participantID := r.URL.Query().Get("participant-id")
	if participantID == "" {
		participantID = c.generateTimeBasedID()
	}
	if errs, ok := c.validate.ValidateVar("participant-id", participantID, "max=64,identifier"); !ok {
		rest.WriteJSON(w, http.StatusBadRequest, rest.Envelope{"errors": errs})
		return
	}

	ctx := ctxlogger.AppendCtx(r.Context(), slog.String("room_id", roomID))
	ctx = ctxlogger.AppendCtx(ctx, slog.String("participant_id", participantID))

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to upgrade to websocket", "error", err)
		return
	}
	defer conn.Close()

	s := newSession(conn)
	if err := c.serveSession(ctx, s, roomID, participantID); err != nil {
		c.logger.WarnContext(ctx, "session failed", "error", err)
		s.write(domain.MessageError, &domain.ErrorPayload{
			Code:    domain.ErrorCodeRoomUnavailable,
			Message: "room is temporarily unavailable",
		})
		s.close(websocket.CloseTryAgainLater, "room unavailable")
	}
}

func (c controller) serveSession(ctx context.Context, s *session, roomID, participantID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// subscribe before reading the snapshot so that no write in between is lost
	sub, err := c.roomService.Subscribe(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Close()

	c.roomService.Connect(ctx, &room.ConnectParams{
		Conn:          s.conn,
		RoomID:        roomID,
		ParticipantID: participantID,
	})
	defer func() {
		// the request context is done by now
		disconnectCtx := context.WithoutCancel(ctx)
		if err := c.roomService.Disconnect(disconnectCtx, &room.DisconnectParams{
			Conn:          s.conn,
			RoomID:        roomID,
			ParticipantID: participantID,
		}); err != nil {
			c.logger.WarnContext(disconnectCtx, "failed to disconnect", "error", err)
		}
	}()

	joinResp, err := c.roomService.Join(ctx, &room.JoinParams{
		RoomID:        roomID,
		ParticipantID: participantID,
	})
	if err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}

	if err := s.write(domain.MessageJoined, &domain.JoinedPayload{
		ParticipantID:  participantID,
		Record:         joinResp.Record,
		ParticipantIDs: joinResp.ParticipantIDs,
	}); err != nil {
		c.logger.InfoContext(ctx, "failed to write joined", "error", err)
		return nil
	}
	c.logger.InfoContext(ctx, "participant joined")

	go c.forwardEvents(ctx, s, sub)

	ctx = context.WithValue(ctx, roomIDCtxKey, roomID)
	ctx = context.WithValue(ctx, participantIDCtxKey, participantID)
	ctx = context.WithValue(ctx, sessionCtxKey, s)

	if err := c.wsmux.ServeConn(ctx, s.conn); err != nil {
		c.logger.InfoContext(ctx, "connection closed", "error", err)
	}

	return nil
}

func (c controller) forwardEvents(ctx context.Context, s *session, sub *room.Subscription) {
	err := sub.Listen(ctx, func(event room.Event) error {
		switch event.Type {
		case room.EventTypeRecord:
			return s.write(domain.MessageRecordUpdated, &domain.RecordUpdatedPayload{Record: *event.Record})
		case room.EventTypePresence:
			return s.write(domain.MessagePresenceUpdated, &domain.PresenceUpdatedPayload{ParticipantIDs: event.ParticipantIDs})
		}
		return nil
	})
	if ctx.Err() != nil {
		return
	}

	c.logger.InfoContext(ctx, "stopped forwarding room events", "error", err)
	// without events the client would silently fall out of sync, make it reconnect
	s.close(websocket.CloseTryAgainLater, "room events unavailable")
}

func (c controller) handleAlive(ctx context.Context, _ *websocket.Conn, _ EmptyInput) error {
	return c.roomService.Heartbeat(ctx, &room.HeartbeatParams{
		RoomID:        c.getRoomIDFromCtx(ctx),
		ParticipantID: c.getParticipantIDFromCtx(ctx),
	})
}

func (c controller) handleLoadFile(ctx context.Context, _ *websocket.Conn, input domain.LoadFileInput) error {
	if errs, ok := c.validate.Validate(input); !ok {
		return validationError{errs: errs}
	}

	if _, err := c.roomService.LoadFile(ctx, &room.LoadFileParams{
		RoomID:       c.getRoomIDFromCtx(ctx),
		SenderID:     c.getParticipantIDFromCtx(ctx),
		FileIdentity: input.FileIdentity,
	}); err != nil {
		return fmt.Errorf("failed to load file: %w", err)
	}

	return nil
}

func (c controller) handleUpdatePlayback(ctx context.Context, _ *websocket.Conn, input domain.UpdatePlaybackInput) error {
	if errs, ok := c.validate.Validate(input); !ok {
		return validationError{errs: errs}
	}

	return c.roomService.UpdatePlayback(ctx, &room.UpdatePlaybackParams{
		RoomID:       c.getRoomIDFromCtx(ctx),
		SenderID:     c.getParticipantIDFromCtx(ctx),
		FileIdentity: input.FileIdentity,
		Patch: domain.PlaybackPatch{
			IsPlaying: input.IsPlaying,
			Position:  input.Position,
		},
	})
}

// handleLeave ends the connection; presence is released by the disconnect path.
func (c controller) handleLeave(ctx context.Context, _ *websocket.Conn, _ EmptyInput) error {
	s := c.getSessionFromCtx(ctx)
	if s == nil {
		return nil
	}

	c.logger.InfoContext(ctx, "participant left")
	s.close(websocket.CloseNormalClosure, "left")
	return nil
}
