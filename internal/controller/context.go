package controller

import "context"

type contextKey int

const (
	roomIDCtxKey contextKey = iota
	participantIDCtxKey
	sessionCtxKey
)

func (c controller) getRoomIDFromCtx(ctx context.Context) string {
	roomID, ok := ctx.Value(roomIDCtxKey).(string)
	if !ok {
		return ""
	}

	return roomID
}

func (c controller) getParticipantIDFromCtx(ctx context.Context) string {
	participantID, ok := ctx.Value(participantIDCtxKey).(string)
	if !ok {
		return ""
	}

	return participantID
}

func (c controller) getSessionFromCtx(ctx context.Context) *session {
	s, ok := ctx.Value(sessionCtxKey).(*session)
	if !ok {
		return nil
	}

	return s
}
