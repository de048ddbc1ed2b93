package domain

// Record is the shared playback state of a room.
// A nil ControllerID means the room is uncontrolled and the first participant to load a file takes control.
type Record struct {
	FileIdentity *string `json:"file_identity"`
	IsPlaying    bool    `json:"is_playing"`
	Position     float64 `json:"position"`
	ControllerID *string `json:"controller_id"`
	// Version grows with every accepted write; a reader must ignore versions older than the last it applied.
	Version   int64 `json:"version"`
	UpdatedAt int64 `json:"updated_at"`
}

func (r Record) HasFile(identity string) bool {
	return r.FileIdentity != nil && *r.FileIdentity == identity
}

func (r Record) HasController() bool {
	return r.ControllerID != nil
}

func (r Record) IsControlledBy(participantID string) bool {
	return r.ControllerID != nil && *r.ControllerID == participantID
}

// PlaybackPatch carries only the fields a controller intends to change.
type PlaybackPatch struct {
	IsPlaying *bool    `json:"is_playing,omitempty" redis:"is_playing"`
	Position  *float64 `json:"position,omitempty" redis:"position"`
}

func (p PlaybackPatch) IsEmpty() bool {
	return p.IsPlaying == nil && p.Position == nil
}
