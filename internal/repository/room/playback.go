package room

// Playback is the stored form of the room record. Empty strings stand for null.
type Playback struct {
	FileIdentity string  `redis:"file_identity" json:"file_identity"`
	IsPlaying    bool    `redis:"is_playing" json:"is_playing"`
	Position     float64 `redis:"position" json:"position"`
	ControllerID string  `redis:"controller_id" json:"controller_id"`
	Version      int64   `redis:"version" json:"version"`
	UpdatedAt    int64   `redis:"updated_at" json:"updated_at"`
}

type ClaimResult int

const (
	// ClaimRejected: another participant controls the room, nothing was written.
	ClaimRejected ClaimResult = iota
	// ClaimApplied: the record was created, control was taken or the file changed.
	ClaimApplied
	// ClaimUnchanged: the sender already controls the room with this file.
	ClaimUnchanged
)

type ClaimControllerParams struct {
	RoomID        string
	ParticipantID string
	FileIdentity  string
}

type UpdatePlaybackParams struct {
	RoomID       string
	SenderID     string
	FileIdentity string
	IsPlaying    *bool    `redis:"is_playing"`
	Position     *float64 `redis:"position"`
}

type CompareAndSwapControllerParams struct {
	RoomID string
	// Expected is the controller the caller observed; empty means none.
	Expected string
	// Next is the successor; nil clears the controller.
	Next *string
}
