package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/repository/room"
)

type LoadFileParams struct {
	RoomID       string
	SenderID     string
	FileIdentity string
}

type LoadFileResponse struct {
	// Applied is false when someone else controls the room; the load then stays local to the sender.
	Applied bool
}

func (s service) LoadFile(ctx context.Context, params *LoadFileParams) (LoadFileResponse, error) {
	res, err := s.roomRepo.ClaimController(ctx, &room.ClaimControllerParams{
		RoomID:        params.RoomID,
		ParticipantID: params.SenderID,
		FileIdentity:  params.FileIdentity,
	})
	if err != nil {
		s.metrics.Claims.WithLabelValues("error").Inc()
		return LoadFileResponse{}, fmt.Errorf("failed to claim controller: %w", err)
	}

	switch res {
	case room.ClaimApplied:
		s.metrics.Claims.WithLabelValues("applied").Inc()
		s.logger.InfoContext(ctx, "file loaded", "file_identity", params.FileIdentity)
	case room.ClaimUnchanged:
		s.metrics.Claims.WithLabelValues("unchanged").Inc()
	default:
		s.metrics.Claims.WithLabelValues("rejected").Inc()
	}

	return LoadFileResponse{Applied: res != room.ClaimRejected}, nil
}

type UpdatePlaybackParams struct {
	RoomID       string
	SenderID     string
	FileIdentity string
	Patch        domain.PlaybackPatch
}

// UpdatePlayback merges the patch into the record. Only the controller may write, and only for the
// file the record currently holds.
func (s service) UpdatePlayback(ctx context.Context, params *UpdatePlaybackParams) error {
	if params.Patch.IsEmpty() {
		return nil
	}

	err := s.roomRepo.UpdatePlayback(ctx, &room.UpdatePlaybackParams{
		RoomID:       params.RoomID,
		SenderID:     params.SenderID,
		FileIdentity: params.FileIdentity,
		IsPlaying:    params.Patch.IsPlaying,
		Position:     params.Patch.Position,
	})
	switch {
	case err == nil:
		s.metrics.PlaybackWrites.WithLabelValues("applied").Inc()
		return nil
	case errors.Is(err, room.ErrNotController):
		s.metrics.PlaybackWrites.WithLabelValues("not_controller").Inc()
		return ErrNotController
	case errors.Is(err, room.ErrFileMismatch):
		s.metrics.PlaybackWrites.WithLabelValues("file_mismatch").Inc()
		return ErrFileMismatch
	case errors.Is(err, room.ErrRecordNotFound):
		s.metrics.PlaybackWrites.WithLabelValues("no_record").Inc()
		return ErrNoController
	default:
		s.metrics.PlaybackWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to update playback: %w", err)
	}
}
