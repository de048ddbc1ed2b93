package redis

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	// PresenceTTL is how long a participant stays live without a heartbeat.
	PresenceTTL time.Duration
	// RecordExpiration is the idle time after which redis drops a room's keys.
	RecordExpiration time.Duration
}

type repo struct {
	rc                 *redis.Client
	clock              clockwork.Clock
	logger             *slog.Logger
	presenceTTL        time.Duration
	expireDuration     time.Duration
	claimScript        *redis.Script
	updateScript       *redis.Script
	casScript          *redis.Script
	sweepScript        *redis.Script
	unindexEmptyScript *redis.Script
}

func NewRepo(rc *redis.Client, clock clockwork.Clock, logger *slog.Logger, cfg *Config) *repo {
	return &repo{
		rc:             rc,
		clock:          clock,
		logger:         logger,
		presenceTTL:    cfg.PresenceTTL,
		expireDuration: cfg.RecordExpiration,
		// KEYS[1] playback; ARGV participant, file identity, now ms, expire ms
		claimScript: redis.NewScript(`
			local controller = redis.call('HGET', KEYS[1], 'controller_id')
			if controller and controller ~= '' and controller ~= ARGV[1] then
				return 0
			end
			local changed = 0
			if controller ~= ARGV[1] then
				redis.call('HSET', KEYS[1], 'controller_id', ARGV[1])
				changed = 1
			end
			if redis.call('HGET', KEYS[1], 'file_identity') ~= ARGV[2] then
				redis.call('HSET', KEYS[1], 'file_identity', ARGV[2], 'is_playing', '0', 'position', '0')
				changed = 1
			end
			redis.call('PEXPIRE', KEYS[1], ARGV[4])
			if changed == 0 then
				return 2
			end
			redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
			redis.call('HINCRBY', KEYS[1], 'version', 1)
			return 1
		`),
		// KEYS[1] playback; ARGV sender, file identity, now ms, expire ms, field, value, ...
		updateScript: redis.NewScript(`
			if redis.call('EXISTS', KEYS[1]) == 0 then
				return -1
			end
			if redis.call('HGET', KEYS[1], 'controller_id') ~= ARGV[1] then
				return 0
			end
			if redis.call('HGET', KEYS[1], 'file_identity') ~= ARGV[2] then
				return -2
			end
			for i = 5, #ARGV, 2 do
				redis.call('HSET', KEYS[1], ARGV[i], ARGV[i + 1])
			end
			redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
			redis.call('HINCRBY', KEYS[1], 'version', 1)
			redis.call('PEXPIRE', KEYS[1], ARGV[4])
			return 1
		`),
		// KEYS[1] playback; ARGV expected controller, next controller ('' clears), now ms
		casScript: redis.NewScript(`
			if redis.call('EXISTS', KEYS[1]) == 0 then
				return 0
			end
			local controller = redis.call('HGET', KEYS[1], 'controller_id')
			if not controller then
				controller = ''
			end
			if controller ~= ARGV[1] then
				return 0
			end
			if ARGV[2] == '' then
				redis.call('HDEL', KEYS[1], 'controller_id')
			else
				redis.call('HSET', KEYS[1], 'controller_id', ARGV[2])
			end
			redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
			redis.call('HINCRBY', KEYS[1], 'version', 1)
			return 1
		`),
		// KEYS[1] presence; ARGV cutoff score. Returns the evicted members.
		sweepScript: redis.NewScript(`
			local stale = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
			if #stale > 0 then
				redis.call('ZREM', KEYS[1], unpack(stale))
			end
			return stale
		`),
		// KEYS[1] presence, KEYS[2] room index; ARGV room id
		unindexEmptyScript: redis.NewScript(`
			if redis.call('ZCARD', KEYS[1]) == 0 then
				return redis.call('SREM', KEYS[2], ARGV[1])
			end
			return 0
		`),
	}
}
