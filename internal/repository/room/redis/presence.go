package redis

import (
	"context"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/sharetube/watchparty/internal/repository/room"
)

// AddParticipant registers the participant with a fresh heartbeat and indexes the room for the sweeper.
func (r repo) AddParticipant(ctx context.Context, params *room.AddParticipantParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)
	pipe := r.rc.TxPipeline()

	presenceKey := r.getPresenceKey(params.RoomID)
	pipe.ZAdd(ctx, presenceKey, redis.Z{Score: float64(r.nowMs()), Member: params.ParticipantID})
	pipe.Expire(ctx, presenceKey, r.expireDuration)
	pipe.SAdd(ctx, roomIndexKey, params.RoomID)

	if err := r.executePipe(ctx, pipe); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return err
	}

	return nil
}

// TouchParticipant refreshes the heartbeat. It reports true when the entry was missing
// (for example evicted by the sweeper) and had to be added back.
func (r repo) TouchParticipant(ctx context.Context, params *room.TouchParticipantParams) (bool, error) {
	r.logger.DebugContext(ctx, "called", "params", params)
	presenceKey := r.getPresenceKey(params.RoomID)
	member := redis.Z{Score: float64(r.nowMs()), Member: params.ParticipantID}

	added, err := r.rc.ZAddNX(ctx, presenceKey, member).Result()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return false, err
	}

	pipe := r.rc.TxPipeline()
	if added == 0 {
		pipe.ZAddXX(ctx, presenceKey, member)
	} else {
		pipe.SAdd(ctx, roomIndexKey, params.RoomID)
	}
	pipe.Expire(ctx, presenceKey, r.expireDuration)
	pipe.Expire(ctx, r.getPlaybackKey(params.RoomID), r.expireDuration)

	if err := r.executePipe(ctx, pipe); err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return false, err
	}

	return added > 0, nil
}

func (r repo) RemoveParticipant(ctx context.Context, params *room.RemoveParticipantParams) error {
	r.logger.DebugContext(ctx, "called", "params", params)
	res, err := r.rc.ZRem(ctx, r.getPresenceKey(params.RoomID), params.ParticipantID).Result()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return err
	}

	if res == 0 {
		r.logger.DebugContext(ctx, "returned", "error", room.ErrParticipantNotFound)
		return room.ErrParticipantNotFound
	}

	return nil
}

// GetParticipantIDs returns the live participants sorted lexicographically.
func (r repo) GetParticipantIDs(ctx context.Context, roomID string) ([]string, error) {
	r.logger.DebugContext(ctx, "called", "room_id", roomID)
	ids, err := r.rc.ZRangeByScore(ctx, r.getPresenceKey(roomID), &redis.ZRangeBy{
		Min: "(" + r.liveCutoff(),
		Max: "+inf",
	}).Result()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return nil, err
	}

	sort.Strings(ids)
	return ids, nil
}

// RemoveStaleParticipants evicts entries whose heartbeat is older than the presence TTL.
func (r repo) RemoveStaleParticipants(ctx context.Context, roomID string) ([]string, error) {
	r.logger.DebugContext(ctx, "called", "room_id", roomID)
	evicted, err := r.sweepScript.Run(ctx, r.rc, []string{r.getPresenceKey(roomID)}, r.liveCutoff()).StringSlice()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return nil, err
	}

	return evicted, nil
}

func (r repo) GetRoomIDs(ctx context.Context) ([]string, error) {
	roomIDs, err := r.rc.SMembers(ctx, roomIndexKey).Result()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return nil, err
	}

	return roomIDs, nil
}

// UnindexRoomIfEmpty drops the room from the sweeper index once nobody is present.
func (r repo) UnindexRoomIfEmpty(ctx context.Context, roomID string) (bool, error) {
	res, err := r.unindexEmptyScript.Run(ctx, r.rc,
		[]string{r.getPresenceKey(roomID), roomIndexKey},
		roomID,
	).Int()
	if err != nil {
		r.logger.DebugContext(ctx, "returned", "error", err)
		return false, err
	}

	return res > 0, nil
}

func (r repo) PublishPresence(ctx context.Context, roomID string, participantIDs []string) error {
	r.logger.DebugContext(ctx, "called", "room_id", roomID, "participant_ids", participantIDs)
	return r.publish(ctx, roomID, &room.Event{
		Type:           room.EventTypePresence,
		ParticipantIDs: participantIDs,
	})
}
