package room

const (
	EventTypePlayback = "playback"
	EventTypePresence = "presence"
)

// Event is what travels on a room's pub/sub channel.
type Event struct {
	Type           string    `json:"type"`
	Playback       *Playback `json:"playback,omitempty"`
	ParticipantIDs []string  `json:"participant_ids,omitempty"`
}

type Subscription interface {
	// Events is closed after Close or when the underlying connection is gone for good.
	Events() <-chan Event
	Close() error
}
