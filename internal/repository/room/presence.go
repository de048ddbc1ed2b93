package room

type AddParticipantParams struct {
	RoomID        string
	ParticipantID string
}

type RemoveParticipantParams struct {
	RoomID        string
	ParticipantID string
}

type TouchParticipantParams struct {
	RoomID        string
	ParticipantID string
}
