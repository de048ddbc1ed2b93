package controller

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/service/room"
	"github.com/sharetube/watchparty/pkg/validator"
	"github.com/sharetube/watchparty/pkg/wsrouter"
)

type validationError struct {
	errs []validator.ValidationError
}

func (e validationError) Error() string {
	if len(e.errs) == 0 {
		return "validation failed"
	}
	return e.errs[0].Message
}

func (c controller) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New()
	mux.Use(c.wsRequestIDMw(), c.wsLoggerMw())
	mux.OnError(c.handleWSError)

	wsrouter.Handle(mux, domain.MessageAlive, c.handleAlive)
	wsrouter.Handle(mux, domain.MessageLoadFile, c.handleLoadFile)
	wsrouter.Handle(mux, domain.MessageUpdatePlayback, c.handleUpdatePlayback)
	wsrouter.Handle(mux, domain.MessageLeave, c.handleLeave)

	return mux
}

// handleWSError reports a failed message to its sender. Nothing here ends the session.
func (c controller) handleWSError(ctx context.Context, _ *websocket.Conn, err error) {
	payload := domain.ErrorPayload{Message: err.Error()}

	var vErr validationError
	switch {
	case errors.As(err, &vErr):
		payload.Code = domain.ErrorCodeValidation
		payload.Details = vErr.errs
	case errors.Is(err, room.ErrNotController), errors.Is(err, room.ErrNoController):
		payload.Code = domain.ErrorCodeNotController
	case errors.Is(err, room.ErrFileMismatch):
		payload.Code = domain.ErrorCodeFileMismatch
	case errors.Is(err, wsrouter.ErrInvalidPayload), errors.Is(err, wsrouter.ErrUnknownMessageType):
		payload.Code = domain.ErrorCodeInvalidMessage
	default:
		c.logger.ErrorContext(ctx, "failed to handle message", "error", err)
		payload.Code = domain.ErrorCodeRoomUnavailable
		payload.Message = "room is temporarily unavailable"
	}

	c.logger.InfoContext(ctx, "message rejected", "code", payload.Code, "error", err)

	s := c.getSessionFromCtx(ctx)
	if s == nil {
		return
	}
	if err := s.write(domain.MessageError, &payload); err != nil {
		c.logger.WarnContext(ctx, "failed to write error", "error", err)
	}
}
