package player

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchparty/internal/reconciler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMedia(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func nextEvent(t *testing.T, e *Element) reconciler.LocalEvent {
	t.Helper()
	select {
	case event := <-e.Events():
		return event
	case <-time.After(time.Second):
		t.Fatal("no event")
		return reconciler.LocalEvent{}
	}
}

func TestOpenIdentity(t *testing.T) {
	a := writeMedia(t, "movie.mp4", "frames")
	b := writeMedia(t, "copy-of-movie.mp4", "frames")

	byContentA, err := Open(a, IdentityContent)
	require.NoError(t, err)
	defer byContentA.Close()
	byContentB, err := Open(b, IdentityContent)
	require.NoError(t, err)
	defer byContentB.Close()
	assert.Equal(t, byContentA.Identity(), byContentB.Identity())
	assert.Len(t, byContentA.Identity(), 64)

	byName, err := Open(a, IdentityName)
	require.NoError(t, err)
	defer byName.Close()
	assert.Equal(t, "movie.mp4", byName.Identity())

	_, err = Open(filepath.Join(t.TempDir(), "missing.mp4"), IdentityName)
	assert.Error(t, err)
}

func TestElementClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := NewElement(clock, slog.Default(), 0)

	media, err := Open(writeMedia(t, "movie.mp4", "x"), IdentityName)
	require.NoError(t, err)
	e.Load(media)

	e.Play()
	assert.Equal(t, reconciler.LocalEventPlay, nextEvent(t, e).Type)

	clock.Advance(3 * time.Second)
	assert.InDelta(t, 3.0, e.Snapshot().Position, 1e-9)

	e.Seek(100)
	event := nextEvent(t, e)
	assert.Equal(t, reconciler.LocalEventSeeked, event.Type)
	assert.InDelta(t, 100.0, event.Position, 1e-9)

	clock.Advance(time.Second)
	e.Pause()
	event = nextEvent(t, e)
	assert.Equal(t, reconciler.LocalEventPause, event.Type)
	assert.InDelta(t, 101.0, event.Position, 1e-9)

	clock.Advance(time.Minute)
	snapshot := e.Snapshot()
	assert.True(t, snapshot.Paused)
	assert.InDelta(t, 101.0, snapshot.Position, 1e-9)
	assert.Equal(t, "movie.mp4", snapshot.FileIdentity)

	// repeated pause is not an event
	e.Pause()
	select {
	case event := <-e.Events():
		t.Fatalf("unexpected event %v", event)
	default:
	}
}

func TestElementIgnoresNonFiniteValues(t *testing.T) {
	e := NewElement(clockwork.NewFakeClock(), slog.Default(), 0)

	media, err := Open(writeMedia(t, "movie.mp4", "x"), IdentityName)
	require.NoError(t, err)
	e.Load(media)

	e.Seek(42)
	nextEvent(t, e)
	e.SetVolume(0.3)

	e.Seek(math.NaN())
	e.Seek(math.Inf(1))
	e.SetVolume(math.NaN())

	snapshot := e.Snapshot()
	assert.InDelta(t, 42.0, snapshot.Position, 1e-9)
	assert.InDelta(t, 0.3, snapshot.Volume, 1e-9)
	select {
	case event := <-e.Events():
		t.Fatalf("unexpected event %v", event)
	default:
	}
}

func TestElementTimeUpdate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	e := NewElement(clock, slog.Default(), 250*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	media, err := Open(writeMedia(t, "movie.mp4", "x"), IdentityName)
	require.NoError(t, err)
	e.Load(media)

	go e.Run(ctx)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	e.Play()
	nextEvent(t, e)

	clock.Advance(250 * time.Millisecond)
	event := nextEvent(t, e)
	assert.Equal(t, reconciler.LocalEventTimeUpdate, event.Type)
	assert.InDelta(t, 0.25, event.Position, 1e-9)
}

func TestLoadReleasesPreviousMedia(t *testing.T) {
	e := NewElement(clockwork.NewFakeClock(), slog.Default(), 0)

	first, err := Open(writeMedia(t, "a.mp4", "a"), IdentityName)
	require.NoError(t, err)
	second, err := Open(writeMedia(t, "b.mp4", "b"), IdentityName)
	require.NoError(t, err)

	e.Load(first)
	e.Seek(40)
	e.Load(second)

	assert.True(t, first.IsClosed())
	assert.False(t, second.IsClosed())
	assert.Equal(t, 0.0, e.Snapshot().Position)
	assert.True(t, e.Snapshot().Paused)

	require.NoError(t, e.Close())
	assert.True(t, second.IsClosed())
	assert.ErrorIs(t, second.Close(), ErrMediaClosed)
}
