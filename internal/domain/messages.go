package domain

// client -> server
const (
	MessageAlive          = "ALIVE"
	MessageLoadFile       = "LOAD_FILE"
	MessageUpdatePlayback = "UPDATE_PLAYBACK"
	MessageLeave          = "LEAVE"
)

// server -> client
const (
	MessageJoined          = "JOINED"
	MessageRecordUpdated   = "RECORD_UPDATED"
	MessagePresenceUpdated = "PRESENCE_UPDATED"
	MessageError           = "ERROR"
)

const (
	ErrorCodeNotController   = "NOT_CONTROLLER"
	ErrorCodeFileMismatch    = "FILE_MISMATCH"
	ErrorCodeValidation      = "VALIDATION_ERROR"
	ErrorCodeInvalidMessage  = "INVALID_MESSAGE"
	ErrorCodeRoomUnavailable = "ROOM_UNAVAILABLE"
)

type Message[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type LoadFileInput struct {
	FileIdentity string `json:"file_identity" validate:"required,max=512"`
}

type UpdatePlaybackInput struct {
	FileIdentity string   `json:"file_identity" validate:"required,max=512"`
	IsPlaying    *bool    `json:"is_playing,omitempty"`
	Position     *float64 `json:"position,omitempty" validate:"omitempty,gte=0"`
}

type JoinedPayload struct {
	ParticipantID  string   `json:"participant_id"`
	Record         *Record  `json:"record"`
	ParticipantIDs []string `json:"participant_ids"`
}

type RecordUpdatedPayload struct {
	Record Record `json:"record"`
}

type PresenceUpdatedPayload struct {
	ParticipantIDs []string `json:"participant_ids"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}
