package room

import (
	"context"
	"fmt"

	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/repository/room"
)

type EventType string

const (
	EventTypeRecord   EventType = "record"
	EventTypePresence EventType = "presence"
)

type Event struct {
	Type           EventType
	Record         *domain.Record
	ParticipantIDs []string
}

type Subscription struct {
	sub room.Subscription
}

// Subscribe must be called before reading the snapshot a client is given, otherwise a write landing
// in between would never reach it.
func (s service) Subscribe(ctx context.Context, roomID string) (*Subscription, error) {
	sub, err := s.roomRepo.Subscribe(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	return &Subscription{sub: sub}, nil
}

// Listen calls fn for every room event until ctx is done, the subscription is closed or fn fails.
func (s *Subscription) Listen(ctx context.Context, fn func(Event) error) error {
	events := s.sub.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}

			var err error
			switch event.Type {
			case room.EventTypePlayback:
				if event.Playback == nil {
					continue
				}
				record := toRecord(*event.Playback)
				err = fn(Event{Type: EventTypeRecord, Record: &record})
			case room.EventTypePresence:
				participantIDs := event.ParticipantIDs
				if participantIDs == nil {
					participantIDs = []string{}
				}
				err = fn(Event{Type: EventTypePresence, ParticipantIDs: participantIDs})
			}
			if err != nil {
				return err
			}
		}
	}
}

func (s *Subscription) Close() error {
	return s.sub.Close()
}
