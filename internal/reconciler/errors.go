package reconciler

import "errors"

var (
	// ErrStoreUnavailable wraps failed writes. They are retried on the next local event.
	ErrStoreUnavailable = errors.New("playback store unavailable")
	// ErrFileMismatch is reported by Engine.Problem while the local file differs from the room's.
	ErrFileMismatch = errors.New("loaded file does not match the room")
	// ErrNoController means nobody controls the room yet; the next local action takes control.
	ErrNoController = errors.New("room has no controller")
)
