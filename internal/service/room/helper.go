package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/repository/room"
)

func toRecord(p room.Playback) domain.Record {
	record := domain.Record{
		IsPlaying: p.IsPlaying,
		Position:  p.Position,
		Version:   p.Version,
		UpdatedAt: p.UpdatedAt,
	}
	if p.FileIdentity != "" {
		fileIdentity := p.FileIdentity
		record.FileIdentity = &fileIdentity
	}
	if p.ControllerID != "" {
		controllerID := p.ControllerID
		record.ControllerID = &controllerID
	}

	return record
}

// getRecord returns nil when the room has no record yet.
func (s service) getRecord(ctx context.Context, roomID string) (*domain.Record, error) {
	playback, err := s.roomRepo.GetPlayback(ctx, roomID)
	if err != nil {
		if errors.Is(err, room.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get playback: %w", err)
	}

	record := toRecord(playback)
	return &record, nil
}

func (s service) publishPresence(ctx context.Context, roomID string) ([]string, error) {
	participantIDs, err := s.roomRepo.GetParticipantIDs(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participant ids: %w", err)
	}

	if err := s.roomRepo.PublishPresence(ctx, roomID, participantIDs); err != nil {
		return nil, fmt.Errorf("failed to publish presence: %w", err)
	}

	return participantIDs, nil
}
