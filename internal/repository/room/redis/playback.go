package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sharetube/watchparty/internal/repository/room"
	omitnilpointers "github.com/sharetube/watchparty/pkg/omit-nil-pointers"
)

func (r repo) GetPlayback(ctx context.Context, roomID string) (room.Playback, error) {
	r.logger.DebugContext(ctx, "called", "room_id", roomID)
	res := r.rc.HGetAll(ctx, r.getPlaybackKey(roomID))
	if err := res.Err(); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.Playback{}, err
	}

	if len(res.Val()) == 0 {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrRecordNotFound)
		return room.Playback{}, room.ErrRecordNotFound
	}

	var playback room.Playback
	if err := res.Scan(&playback); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.Playback{}, fmt.Errorf("failed to scan playback: %w", err)
	}

	return playback, nil
}

func (r repo) ClaimController(ctx context.Context, params *room.ClaimControllerParams) (room.ClaimResult, error) {
	r.logger.DebugContext(ctx, "called", "params", params)
	res, err := r.claimScript.Run(ctx, r.rc,
		[]string{r.getPlaybackKey(params.RoomID)},
		params.ParticipantID, params.FileIdentity, r.nowMs(), r.expireMs(),
	).Int()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return room.ClaimRejected, err
	}

	result := room.ClaimResult(res)
	if result == room.ClaimApplied {
		if err := r.publishPlayback(ctx, params.RoomID); err != nil {
			r.logger.WarnContext(ctx, "failed to publish playback", "error", err)
		}
	}

	return result, nil
}

func (r repo) UpdatePlayback(ctx context.Context, params *room.UpdatePlaybackParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)
	args := []any{params.SenderID, params.FileIdentity, r.nowMs(), r.expireMs()}
	for field, value := range omitnilpointers.StructFields(params) {
		args = append(args, field, value)
	}

	res, err := r.updateScript.Run(ctx, r.rc, []string{r.getPlaybackKey(params.RoomID)}, args...).Int()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return err
	}

	switch res {
	case -1:
		err = room.ErrRecordNotFound
	case -2:
		err = room.ErrFileMismatch
	case 0:
		err = room.ErrNotController
	}
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return err
	}

	if err := r.publishPlayback(ctx, params.RoomID); err != nil {
		r.logger.WarnContext(ctx, "failed to publish playback", "error", err)
	}

	return nil
}

func (r repo) CompareAndSwapController(ctx context.Context, params *room.CompareAndSwapControllerParams) (bool, error) {
	r.logger.DebugContext(ctx, "called", "params", params)
	next := ""
	if params.Next != nil {
		next = *params.Next
	}

	res, err := r.casScript.Run(ctx, r.rc,
		[]string{r.getPlaybackKey(params.RoomID)},
		params.Expected, next, r.nowMs(),
	).Int()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return false, err
	}

	if res == 0 {
		return false, nil
	}

	if err := r.publishPlayback(ctx, params.RoomID); err != nil {
		r.logger.WarnContext(ctx, "failed to publish playback", "error", err)
	}

	return true, nil
}

func (r repo) publishPlayback(ctx context.Context, roomID string) error {
	playback, err := r.GetPlayback(ctx, roomID)
	if err != nil {
		if errors.Is(err, room.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	return r.publish(ctx, roomID, &room.Event{
		Type:     room.EventTypePlayback,
		Playback: &playback,
	})
}

func (r repo) publish(ctx context.Context, roomID string, event *room.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return r.rc.Publish(ctx, r.getEventsChannel(roomID), data).Err()
}
