package redis

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const roomIndexKey = "rooms"

func (r repo) getPlaybackKey(roomID string) string {
	return "room:" + roomID + ":playback"
}

func (r repo) getPresenceKey(roomID string) string {
	return "room:" + roomID + ":presence"
}

func (r repo) getEventsChannel(roomID string) string {
	return "room:" + roomID + ":events"
}

func (r repo) nowMs() int64 {
	return r.clock.Now().UnixMilli()
}

func (r repo) expireMs() int64 {
	return r.expireDuration.Milliseconds()
}

// liveCutoff is the score at or below which a presence entry is stale.
func (r repo) liveCutoff() string {
	return strconv.FormatInt(r.nowMs()-r.presenceTTL.Milliseconds(), 10)
}

func (r repo) executePipe(ctx context.Context, pipe redis.Pipeliner) error {
	cmds, err := pipe.Exec(ctx)
	if err != nil {
		for _, cmd := range cmds {
			if err := cmd.Err(); err != nil {
				return err
			}
		}

		return err
	}

	return nil
}
