package reconciler

import (
	"context"

	"github.com/sharetube/watchparty/internal/domain"
)

type State string

const (
	StateNoFile        State = "NO_FILE"
	StateLoadedWaiting State = "LOADED_WAITING"
	StateMismatched    State = "MISMATCHED"
	StateSynced        State = "SYNCED"
	StateDrifted       State = "DRIFTED"
)

// Origin tells a change the user made apart from one the engine applied to follow the room.
type Origin string

const (
	OriginLocalUser        Origin = "LOCAL_USER"
	OriginRemoteCorrection Origin = "REMOTE_CORRECTION"
)

type LocalEventType string

const (
	LocalEventPlay       LocalEventType = "play"
	LocalEventPause      LocalEventType = "pause"
	LocalEventSeeked     LocalEventType = "seeked"
	LocalEventTimeUpdate LocalEventType = "timeupdate"
	LocalEventScrubStart LocalEventType = "scrubstart"
	LocalEventScrubEnd   LocalEventType = "scrubend"
)

// LocalEvent is emitted by the media element after its state changed.
type LocalEvent struct {
	Type LocalEventType
	// Position is the media time when the event fired.
	Position float64
}

// Snapshot is the local element state the engine compares against the room record.
type Snapshot struct {
	FileIdentity string
	Position     float64
	Paused       bool
	Volume       float64
	Muted        bool
}

// Player is the local media element. Its methods must not call back into the engine synchronously;
// resulting events are delivered later through HandleLocal.
type Player interface {
	Snapshot() Snapshot
	Play()
	Pause()
	Seek(position float64)
}

// Store is the engine's view of the shared playback record.
type Store interface {
	// Claim creates the record or takes control of an uncontrolled one with fileIdentity loaded.
	Claim(ctx context.Context, fileIdentity string) error
	UpdatePlayback(ctx context.Context, fileIdentity string, patch domain.PlaybackPatch) error
}
