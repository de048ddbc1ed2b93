package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/sharetube/watchparty/internal/repository/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (*repo, *clockwork.FakeClock, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rc.Close() })

	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	r := NewRepo(rc, clock, slog.Default(), &Config{
		PresenceTTL:      30 * time.Second,
		RecordExpiration: time.Hour,
	})
	return r, clock, s
}

func ptr[T any](v T) *T {
	return &v
}

func TestClaimController(t *testing.T) {
	r, _, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := r.GetPlayback(ctx, "room1")
	require.ErrorIs(t, err, room.ErrRecordNotFound)

	res, err := r.ClaimController(ctx, &room.ClaimControllerParams{RoomID: "room1", ParticipantID: "a", FileIdentity: "movie.mp4"})
	require.NoError(t, err)
	assert.Equal(t, room.ClaimApplied, res)

	playback, err := r.GetPlayback(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, "movie.mp4", playback.FileIdentity)
	assert.Equal(t, "a", playback.ControllerID)
	assert.False(t, playback.IsPlaying)
	assert.Equal(t, 0.0, playback.Position)
	assert.Equal(t, int64(1), playback.Version)

	// second loader does not take over and does not write
	res, err = r.ClaimController(ctx, &room.ClaimControllerParams{RoomID: "room1", ParticipantID: "b", FileIdentity: "other.mp4"})
	require.NoError(t, err)
	assert.Equal(t, room.ClaimRejected, res)

	res, err = r.ClaimController(ctx, &room.ClaimControllerParams{RoomID: "room1", ParticipantID: "a", FileIdentity: "movie.mp4"})
	require.NoError(t, err)
	assert.Equal(t, room.ClaimUnchanged, res)

	playback, err = r.GetPlayback(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, "movie.mp4", playback.FileIdentity)
	assert.Equal(t, int64(1), playback.Version)
}

func TestClaimControllerFileChangeResetsPlayback(t *testing.T) {
	r, _, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := r.ClaimController(ctx, &room.ClaimControllerParams{RoomID: "room1", ParticipantID: "a", FileIdentity: "movie.mp4"})
	require.NoError(t, err)
	require.NoError(t, r.UpdatePlayback(ctx, &room.UpdatePlaybackParams{
		RoomID: "room1", SenderID: "a", FileIdentity: "movie.mp4",
		IsPlaying: ptr(true), Position: ptr(321.5),
	}))

	res, err := r.ClaimController(ctx, &room.ClaimControllerParams{RoomID: "room1", ParticipantID: "a", FileIdentity: "sequel.mp4"})
	require.NoError(t, err)
	assert.Equal(t, room.ClaimApplied, res)

	playback, err := r.GetPlayback(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, "sequel.mp4", playback.FileIdentity)
	assert.False(t, playback.IsPlaying)
	assert.Equal(t, 0.0, playback.Position)
	assert.Equal(t, int64(3), playback.Version)
}

func TestClaimControllerConcurrentFirstLoaders(t *testing.T) {
	r, _, _ := newTestRepo(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]room.ClaimResult, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.ClaimController(ctx, &room.ClaimControllerParams{
				RoomID:        "room1",
				ParticipantID: fmt.Sprintf("p%d", i),
				FileIdentity:  "movie.mp4",
			})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	var winners []string
	for i, res := range results {
		if res == room.ClaimApplied {
			winners = append(winners, fmt.Sprintf("p%d", i))
		}
	}
	require.Len(t, winners, 1)

	playback, err := r.GetPlayback(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, winners[0], playback.ControllerID)
}

func TestUpdatePlayback(t *testing.T) {
	r, clock, _ := newTestRepo(t)
	ctx := context.Background()

	err := r.UpdatePlayback(ctx, &room.UpdatePlaybackParams{RoomID: "room1", SenderID: "a", FileIdentity: "movie.mp4", IsPlaying: ptr(true)})
	require.ErrorIs(t, err, room.ErrRecordNotFound)

	_, err = r.ClaimController(ctx, &room.ClaimControllerParams{RoomID: "room1", ParticipantID: "a", FileIdentity: "movie.mp4"})
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.NoError(t, r.UpdatePlayback(ctx, &room.UpdatePlaybackParams{
		RoomID: "room1", SenderID: "a", FileIdentity: "movie.mp4",
		IsPlaying: ptr(true), Position: ptr(10.25),
	}))

	// merge: only the position changes
	require.NoError(t, r.UpdatePlayback(ctx, &room.UpdatePlaybackParams{
		RoomID: "room1", SenderID: "a", FileIdentity: "movie.mp4",
		Position: ptr(12.0),
	}))

	playback, err := r.GetPlayback(ctx, "room1")
	require.NoError(t, err)
	assert.True(t, playback.IsPlaying)
	assert.Equal(t, 12.0, playback.Position)
	assert.Equal(t, int64(3), playback.Version)
	assert.Equal(t, clock.Now().UnixMilli(), playback.UpdatedAt)

	err = r.UpdatePlayback(ctx, &room.UpdatePlaybackParams{RoomID: "room1", SenderID: "b", FileIdentity: "movie.mp4", IsPlaying: ptr(false)})
	assert.ErrorIs(t, err, room.ErrNotController)

	err = r.UpdatePlayback(ctx, &room.UpdatePlaybackParams{RoomID: "room1", SenderID: "a", FileIdentity: "old.mp4", IsPlaying: ptr(false)})
	assert.ErrorIs(t, err, room.ErrFileMismatch)

	playback, err = r.GetPlayback(ctx, "room1")
	require.NoError(t, err)
	assert.True(t, playback.IsPlaying)
	assert.Equal(t, int64(3), playback.Version)
}

func TestCompareAndSwapController(t *testing.T) {
	r, _, _ := newTestRepo(t)
	ctx := context.Background()

	ok, err := r.CompareAndSwapController(ctx, &room.CompareAndSwapControllerParams{RoomID: "room1", Expected: "", Next: ptr("a")})
	require.NoError(t, err)
	assert.False(t, ok, "missing record must not be created by arbitration")

	_, err = r.ClaimController(ctx, &room.ClaimControllerParams{RoomID: "room1", ParticipantID: "a", FileIdentity: "movie.mp4"})
	require.NoError(t, err)

	ok, err = r.CompareAndSwapController(ctx, &room.CompareAndSwapControllerParams{RoomID: "room1", Expected: "x", Next: ptr("b")})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.CompareAndSwapController(ctx, &room.CompareAndSwapControllerParams{RoomID: "room1", Expected: "a", Next: ptr("b")})
	require.NoError(t, err)
	assert.True(t, ok)

	// a second evaluator that still saw "a" loses
	ok, err = r.CompareAndSwapController(ctx, &room.CompareAndSwapControllerParams{RoomID: "room1", Expected: "a", Next: ptr("c")})
	require.NoError(t, err)
	assert.False(t, ok)

	playback, err := r.GetPlayback(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, "b", playback.ControllerID)

	ok, err = r.CompareAndSwapController(ctx, &room.CompareAndSwapControllerParams{RoomID: "room1", Expected: "b", Next: nil})
	require.NoError(t, err)
	assert.True(t, ok)

	playback, err = r.GetPlayback(ctx, "room1")
	require.NoError(t, err)
	assert.Empty(t, playback.ControllerID)
	assert.Equal(t, "movie.mp4", playback.FileIdentity)
}

func TestPresence(t *testing.T) {
	r, clock, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.AddParticipant(ctx, &room.AddParticipantParams{RoomID: "room1", ParticipantID: "b"}))
	require.NoError(t, r.AddParticipant(ctx, &room.AddParticipantParams{RoomID: "room1", ParticipantID: "a"}))

	ids, err := r.GetParticipantIDs(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	roomIDs, err := r.GetRoomIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"room1"}, roomIDs)

	clock.Advance(20 * time.Second)
	added, err := r.TouchParticipant(ctx, &room.TouchParticipantParams{RoomID: "room1", ParticipantID: "a"})
	require.NoError(t, err)
	assert.False(t, added)

	clock.Advance(15 * time.Second)
	ids, err = r.GetParticipantIDs(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids, "b has not sent a heartbeat within the ttl")

	evicted, err := r.RemoveStaleParticipants(ctx, "room1")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, evicted)

	added, err = r.TouchParticipant(ctx, &room.TouchParticipantParams{RoomID: "room1", ParticipantID: "b"})
	require.NoError(t, err)
	assert.True(t, added, "an evicted participant that is still attached comes back")

	require.NoError(t, r.RemoveParticipant(ctx, &room.RemoveParticipantParams{RoomID: "room1", ParticipantID: "a"}))
	require.NoError(t, r.RemoveParticipant(ctx, &room.RemoveParticipantParams{RoomID: "room1", ParticipantID: "b"}))
	err = r.RemoveParticipant(ctx, &room.RemoveParticipantParams{RoomID: "room1", ParticipantID: "b"})
	assert.ErrorIs(t, err, room.ErrParticipantNotFound)

	removed, err := r.UnindexRoomIfEmpty(ctx, "room1")
	require.NoError(t, err)
	assert.True(t, removed)

	roomIDs, err = r.GetRoomIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, roomIDs)
}

func TestSubscribe(t *testing.T) {
	r, _, _ := newTestRepo(t)
	ctx := context.Background()

	sub, err := r.Subscribe(ctx, "room1")
	require.NoError(t, err)
	defer sub.Close()

	_, err = r.ClaimController(ctx, &room.ClaimControllerParams{RoomID: "room1", ParticipantID: "a", FileIdentity: "movie.mp4"})
	require.NoError(t, err)
	require.NoError(t, r.PublishPresence(ctx, "room1", []string{"a"}))

	select {
	case event := <-sub.Events():
		assert.Equal(t, room.EventTypePlayback, event.Type)
		require.NotNil(t, event.Playback)
		assert.Equal(t, "a", event.Playback.ControllerID)
		assert.Equal(t, int64(1), event.Playback.Version)
	case <-time.After(2 * time.Second):
		t.Fatal("no playback event")
	}

	select {
	case event := <-sub.Events():
		assert.Equal(t, room.EventTypePresence, event.Type)
		assert.Equal(t, []string{"a"}, event.ParticipantIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("no presence event")
	}

	require.NoError(t, sub.Close())
	require.Eventually(t, func() bool {
		_, open := <-sub.Events()
		return !open
	}, 2*time.Second, 10*time.Millisecond)
}
