package reconciler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/pkg/ctxlogger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlayer struct {
	mu       sync.Mutex
	snapshot Snapshot
	seeks    []float64
	plays    int
	pauses   int
}

func (p *fakePlayer) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

func (p *fakePlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plays++
	p.snapshot.Paused = false
}

func (p *fakePlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses++
	p.snapshot.Paused = true
}

func (p *fakePlayer) Seek(position float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, position)
	p.snapshot.Position = position
}

func (p *fakePlayer) set(position float64, paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshot.Position = position
	p.snapshot.Paused = paused
}

type write struct {
	fileIdentity string
	patch        domain.PlaybackPatch
}

type fakeStore struct {
	mu     sync.Mutex
	claims []string
	writes []write
	err    error
}

func (s *fakeStore) Claim(_ context.Context, fileIdentity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.claims = append(s.claims, fileIdentity)
	return nil
}

func (s *fakeStore) UpdatePlayback(_ context.Context, fileIdentity string, patch domain.PlaybackPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.writes = append(s.writes, write{fileIdentity: fileIdentity, patch: patch})
	return nil
}

func (s *fakeStore) Writes() []write {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]write(nil), s.writes...)
}

func (s *fakeStore) Claims() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.claims...)
}

func (s *fakeStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func newTestEngine(participantID string) (*Engine, *fakePlayer, *fakeStore, *clockwork.FakeClock) {
	player := &fakePlayer{snapshot: Snapshot{Paused: true}}
	store := &fakeStore{}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	e := New(Config{ParticipantID: participantID}, player, store, clock, slog.Default())
	return e, player, store, clock
}

func record(version int64, fileIdentity, controllerID string, isPlaying bool, position float64) *domain.Record {
	r := &domain.Record{IsPlaying: isPlaying, Position: position, Version: version}
	if fileIdentity != "" {
		r.FileIdentity = &fileIdentity
	}
	if controllerID != "" {
		r.ControllerID = &controllerID
	}
	return r
}

func ptr[T any](v T) *T {
	return &v
}

func TestDriftCorrection(t *testing.T) {
	tests := []struct {
		name     string
		local    float64
		wantSeek bool
		want     State
	}{
		{name: "drift above threshold seeks", local: 96, wantSeek: true, want: StateDrifted},
		{name: "drift within threshold is tolerated", local: 99, wantSeek: false, want: StateSynced},
		{name: "ahead of the room seeks back", local: 103, wantSeek: true, want: StateDrifted},
		{name: "unknown local position seeks", local: math.NaN(), wantSeek: true, want: StateDrifted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, player, store, _ := newTestEngine("b")
			ctx := context.Background()

			require.True(t, e.OnRecord(ctx, record(5, "movie.mp4", "a", true, 100)))
			player.set(tt.local, false)
			e.SelectFile(ctx, "movie.mp4")

			if tt.wantSeek {
				assert.Equal(t, []float64{100}, player.seeks)
			} else {
				assert.Empty(t, player.seeks)
			}
			assert.Equal(t, tt.want, e.State())
			assert.Empty(t, store.Writes())
			assert.Empty(t, store.Claims())
		})
	}
}

func TestCorrectionsAreNotPublished(t *testing.T) {
	e, player, store, _ := newTestEngine("b")
	ctx := context.Background()

	e.OnRecord(ctx, record(1, "movie.mp4", "a", true, 50))
	player.set(10, true)
	e.SelectFile(ctx, "movie.mp4")
	require.Equal(t, []float64{50}, player.seeks)
	require.Equal(t, 1, player.plays)

	assert.Equal(t, OriginRemoteCorrection, e.HandleLocal(ctx, LocalEvent{Type: LocalEventSeeked, Position: 50}))
	assert.Equal(t, OriginRemoteCorrection, e.HandleLocal(ctx, LocalEvent{Type: LocalEventPlay, Position: 50}))
	assert.Equal(t, StateSynced, e.State())

	// the same event again is the user's own
	assert.Equal(t, OriginLocalUser, e.HandleLocal(ctx, LocalEvent{Type: LocalEventPlay, Position: 50}))
	assert.Empty(t, store.Writes())
}

func TestCorrectionExpires(t *testing.T) {
	e, player, _, clock := newTestEngine("b")
	ctx := context.Background()

	e.OnRecord(ctx, record(1, "movie.mp4", "a", false, 30))
	player.set(0, true)
	e.SelectFile(ctx, "movie.mp4")
	require.Equal(t, []float64{30}, player.seeks)

	clock.Advance(DefaultCorrectionWindow + time.Millisecond)
	assert.Equal(t, OriginLocalUser, e.HandleLocal(ctx, LocalEvent{Type: LocalEventSeeked, Position: 30}))
}

func TestNonControllerNeverWrites(t *testing.T) {
	e, player, store, clock := newTestEngine("b")
	ctx := context.Background()

	e.OnRecord(ctx, record(3, "movie.mp4", "a", false, 20))
	player.set(20, true)
	e.SelectFile(ctx, "movie.mp4")

	player.set(20, false)
	assert.Equal(t, OriginLocalUser, e.HandleLocal(ctx, LocalEvent{Type: LocalEventPlay, Position: 20}))
	// snapped back to the record
	assert.Equal(t, 1, player.pauses)

	player.set(80, true)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventSeeked, Position: 80})
	assert.Equal(t, []float64{20}, player.seeks)

	e.HandleLocal(ctx, LocalEvent{Type: LocalEventTimeUpdate, Position: 20})
	clock.Advance(time.Second)

	assert.Empty(t, store.Writes())
	assert.Empty(t, store.Claims())
}

func TestControllerWritesAreThrottled(t *testing.T) {
	e, player, store, clock := newTestEngine("a")
	ctx := context.Background()

	e.SelectFile(ctx, "movie.mp4")
	require.Equal(t, []string{"movie.mp4"}, store.Claims())
	e.OnRecord(ctx, record(1, "movie.mp4", "a", false, 0))
	require.True(t, e.IsController())

	player.set(0, false)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventPlay})
	require.Len(t, store.Writes(), 1)
	assert.Equal(t, ptr(true), store.Writes()[0].patch.IsPlaying)

	// two writes inside the interval collapse into one carrying the latest state
	clock.Advance(50 * time.Millisecond)
	player.set(30, false)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventSeeked, Position: 30})
	clock.Advance(50 * time.Millisecond)
	player.set(30, true)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventPause, Position: 30})
	assert.Len(t, store.Writes(), 1)

	clock.Advance(150 * time.Millisecond)
	require.Eventually(t, func() bool { return len(store.Writes()) == 2 }, time.Second, 5*time.Millisecond)

	last := store.Writes()[1]
	assert.Equal(t, "movie.mp4", last.fileIdentity)
	assert.Equal(t, ptr(false), last.patch.IsPlaying)
	assert.Equal(t, ptr(30.0), last.patch.Position)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, store.Writes(), 2)
}

func TestControllerPublishesProgressOnlyWhilePlaying(t *testing.T) {
	e, player, store, clock := newTestEngine("a")
	ctx := context.Background()

	e.SelectFile(ctx, "movie.mp4")
	e.OnRecord(ctx, record(1, "movie.mp4", "a", false, 0))

	e.HandleLocal(ctx, LocalEvent{Type: LocalEventTimeUpdate})
	assert.Empty(t, store.Writes())

	player.set(1, false)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventTimeUpdate, Position: 1})
	assert.Len(t, store.Writes(), 1)

	clock.Advance(time.Second)
	player.set(2, false)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventTimeUpdate, Position: 2})
	require.Len(t, store.Writes(), 2)
	assert.Equal(t, ptr(2.0), store.Writes()[1].patch.Position)
}

func TestScrubSuppressesWrites(t *testing.T) {
	e, player, store, clock := newTestEngine("a")
	ctx := context.Background()

	e.SelectFile(ctx, "movie.mp4")
	e.OnRecord(ctx, record(1, "movie.mp4", "a", false, 0))

	e.HandleLocal(ctx, LocalEvent{Type: LocalEventScrubStart})
	for _, pos := range []float64{5, 12, 40, 61} {
		player.set(pos, true)
		e.HandleLocal(ctx, LocalEvent{Type: LocalEventSeeked, Position: pos})
		clock.Advance(100 * time.Millisecond)
	}
	assert.Empty(t, store.Writes())

	e.HandleLocal(ctx, LocalEvent{Type: LocalEventScrubEnd, Position: 61})
	require.Len(t, store.Writes(), 1)
	assert.Equal(t, ptr(61.0), store.Writes()[0].patch.Position)
}

func TestWriteFailureIsRetriedOnNextEvent(t *testing.T) {
	e, player, store, clock := newTestEngine("a")
	ctx := context.Background()

	e.SelectFile(ctx, "movie.mp4")
	e.OnRecord(ctx, record(1, "movie.mp4", "a", false, 0))

	store.setErr(errors.New("connection reset"))
	player.set(0, false)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventPlay})
	assert.Empty(t, store.Writes())

	store.setErr(nil)
	clock.Advance(time.Second)
	player.set(1, true)
	// paused progress is normally not published, but the failed write is pending
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventTimeUpdate, Position: 1})
	require.Len(t, store.Writes(), 1)
	assert.Equal(t, ptr(false), store.Writes()[0].patch.IsPlaying)

	clock.Advance(time.Second)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventTimeUpdate, Position: 1})
	assert.Len(t, store.Writes(), 1)
}

func TestMismatchedFile(t *testing.T) {
	e, player, store, _ := newTestEngine("b")
	ctx := context.Background()

	e.OnRecord(ctx, record(2, "movie.mp4", "a", true, 100))
	assert.Equal(t, StateNoFile, e.State())

	e.SelectFile(ctx, "other.mp4")
	assert.Equal(t, StateMismatched, e.State())
	assert.ErrorIs(t, e.Problem(), ErrFileMismatch)
	assert.Empty(t, store.Claims())

	// no corrections while mismatched
	e.OnRecord(ctx, record(3, "movie.mp4", "a", true, 101))
	player.set(3, false)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventSeeked, Position: 3})
	assert.Empty(t, player.seeks)
	assert.Empty(t, store.Writes())

	e.SelectFile(ctx, "movie.mp4")
	assert.NoError(t, e.Problem())
	assert.Equal(t, StateDrifted, e.State())
	assert.Equal(t, []float64{101}, player.seeks)
}

func TestLoadedWaitingUntilRecordHasFile(t *testing.T) {
	e, _, store, _ := newTestEngine("a")
	ctx := context.Background()

	store.setErr(errors.New("offline"))
	e.SelectFile(ctx, "movie.mp4")
	assert.Equal(t, StateLoadedWaiting, e.State())

	store.setErr(nil)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventPlay})
	assert.Equal(t, []string{"movie.mp4"}, store.Claims())

	e.OnRecord(ctx, record(1, "movie.mp4", "a", false, 0))
	assert.Equal(t, StateSynced, e.State())
}

func TestNoControllerFirstActionClaims(t *testing.T) {
	e, player, store, _ := newTestEngine("b")
	ctx := context.Background()

	e.SelectFile(ctx, "movie.mp4")
	e.OnRecord(ctx, record(4, "movie.mp4", "a", true, 40))
	e.OnRecord(ctx, record(5, "movie.mp4", "", true, 40))
	require.False(t, e.IsController())
	assert.ErrorIs(t, e.Problem(), ErrNoController)
	claimsBefore := len(store.Claims())

	player.set(42, true)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventPause, Position: 42})
	assert.Len(t, store.Claims(), claimsBefore+1)
	require.Len(t, store.Writes(), 1)
	assert.Equal(t, ptr(false), store.Writes()[0].patch.IsPlaying)
}

func TestStaleRecordsAreDropped(t *testing.T) {
	e, _, _, _ := newTestEngine("b")
	ctx := context.Background()

	assert.True(t, e.OnRecord(ctx, record(7, "movie.mp4", "a", true, 70)))
	assert.False(t, e.OnRecord(ctx, record(6, "movie.mp4", "a", false, 60)))
	assert.False(t, e.OnRecord(ctx, record(7, "movie.mp4", "a", false, 60)))
	assert.Equal(t, 70.0, e.Record().Position)

	e.Resync()
	assert.True(t, e.OnRecord(ctx, record(2, "movie.mp4", "a", false, 10)))
	assert.Equal(t, int64(2), e.Record().Version)
}

func TestClosedEngineIgnoresInput(t *testing.T) {
	e, player, store, clock := newTestEngine("a")
	ctx := context.Background()

	e.SelectFile(ctx, "movie.mp4")
	e.OnRecord(ctx, record(1, "movie.mp4", "a", false, 0))
	player.set(0, false)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventPlay})
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventPause})
	require.Len(t, store.Writes(), 1)

	e.Close()
	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, store.Writes(), 1)
	assert.False(t, e.OnRecord(ctx, record(2, "movie.mp4", "a", true, 0)))
}

func TestElectedControllerWithOtherFileDoesNotWrite(t *testing.T) {
	e, player, store, clock := newTestEngine("b")
	ctx := context.Background()

	e.SelectFile(ctx, "other.mp4")
	require.True(t, e.OnRecord(ctx, record(5, "movie.mp4", "b", false, 0)))
	require.True(t, e.IsController())
	require.Equal(t, StateMismatched, e.State())

	player.set(0, false)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventPlay})
	clock.Advance(time.Second)
	player.set(1, false)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventTimeUpdate, Position: 1})
	clock.Advance(time.Second)
	time.Sleep(20 * time.Millisecond)

	assert.Empty(t, store.Writes())
	assert.Equal(t, StateMismatched, e.State())
	assert.ErrorIs(t, e.Problem(), ErrFileMismatch)

	e.SelectFile(ctx, "movie.mp4")
	require.Equal(t, StateSynced, e.State())
	player.set(1, true)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventPause, Position: 1})
	require.Len(t, store.Writes(), 1)
	assert.Equal(t, "movie.mp4", store.Writes()[0].fileIdentity)
}

func TestControllerOmitsUnknownPosition(t *testing.T) {
	e, player, store, _ := newTestEngine("a")
	ctx := context.Background()

	e.SelectFile(ctx, "movie.mp4")
	e.OnRecord(ctx, record(1, "movie.mp4", "a", false, 0))

	player.set(math.Inf(1), false)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventPlay})
	require.Len(t, store.Writes(), 1)
	assert.Equal(t, ptr(true), store.Writes()[0].patch.IsPlaying)
	assert.Nil(t, store.Writes()[0].patch.Position)
}

func TestReplacedTimerDoesNotFlushEarly(t *testing.T) {
	e, player, store, clock := newTestEngine("a")
	ctx := context.Background()

	e.SelectFile(ctx, "movie.mp4")
	e.OnRecord(ctx, record(1, "movie.mp4", "a", false, 0))
	player.set(0, false)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventPlay})
	require.Len(t, store.Writes(), 1)

	clock.Advance(100 * time.Millisecond)
	player.set(10, false)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventSeeked, Position: 10})

	// the timer fires while the engine is busy and is replaced before its callback runs
	e.mu.Lock()
	clock.Advance(150 * time.Millisecond)
	e.stopTimer()
	e.schedule(ctx, e.patchFromPlayer())
	e.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, store.Writes(), 1)
	e.mu.Lock()
	assert.NotNil(t, e.timer)
	e.mu.Unlock()

	clock.Advance(250 * time.Millisecond)
	require.Eventually(t, func() bool { return len(store.Writes()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, ptr(10.0), store.Writes()[1].patch.Position)
}

func TestControllerReloadPublishesRewoundElement(t *testing.T) {
	e, player, store, clock := newTestEngine("a")
	ctx := context.Background()

	e.SelectFile(ctx, "movie.mp4")
	e.OnRecord(ctx, record(1, "movie.mp4", "a", true, 80))
	player.set(80, false)
	clock.Advance(time.Second)

	// loading the same file again rewinds and pauses the element
	player.set(0, true)
	e.SelectFile(ctx, "movie.mp4")

	assert.Equal(t, []string{"movie.mp4", "movie.mp4"}, store.Claims())
	require.Len(t, store.Writes(), 1)
	w := store.Writes()[0]
	assert.Equal(t, "movie.mp4", w.fileIdentity)
	assert.Equal(t, ptr(false), w.patch.IsPlaying)
	assert.Equal(t, ptr(0.0), w.patch.Position)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestThrottledWriteKeepsLogContext(t *testing.T) {
	var logs syncBuffer
	logger := slog.New(ctxlogger.ContextHandler{Handler: slog.NewJSONHandler(&logs, nil)})
	player := &fakePlayer{snapshot: Snapshot{Paused: true}}
	store := &fakeStore{}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	e := New(Config{ParticipantID: "a"}, player, store, clock, logger)
	ctx := ctxlogger.AppendCtx(context.Background(), slog.String("room_id", "r1"))

	e.SelectFile(ctx, "movie.mp4")
	e.OnRecord(ctx, record(1, "movie.mp4", "a", false, 0))
	player.set(0, false)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventPlay})
	require.Len(t, store.Writes(), 1)

	store.setErr(errors.New("connection reset"))
	player.set(0, true)
	e.HandleLocal(ctx, LocalEvent{Type: LocalEventPause})
	clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "failed to write playback")
	}, time.Second, 5*time.Millisecond)
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		if strings.Contains(line, "failed to write playback") {
			assert.Contains(t, line, `"room_id":"r1"`)
		}
	}
}
