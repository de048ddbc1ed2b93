package room

import (
	"context"
	"fmt"
	"slices"

	"github.com/sharetube/watchparty/internal/repository/room"
)

// Arbitrate makes sure the controller is one of the live participants.
// It reports whether this call changed the controller.
func (s service) Arbitrate(ctx context.Context, roomID string) (bool, error) {
	participantIDs, err := s.roomRepo.GetParticipantIDs(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("failed to get participant ids: %w", err)
	}

	return s.arbitrate(ctx, roomID, participantIDs)
}

// arbitrate hands control to the smallest live id when the controller is gone, or clears it when the
// room is empty. Every instance runs the same rule on the same inputs, and the swap is conditional on the
// old controller, so concurrent evaluations converge on one successor.
func (s service) arbitrate(ctx context.Context, roomID string, participantIDs []string) (bool, error) {
	record, err := s.getRecord(ctx, roomID)
	if err != nil {
		return false, err
	}

	if record == nil || !record.HasController() {
		return false, nil
	}

	current := *record.ControllerID
	if slices.Contains(participantIDs, current) {
		return false, nil
	}

	var next *string
	if len(participantIDs) > 0 {
		successor := slices.Min(participantIDs)
		next = &successor
	}

	swapped, err := s.roomRepo.CompareAndSwapController(ctx, &room.CompareAndSwapControllerParams{
		RoomID:   roomID,
		Expected: current,
		Next:     next,
	})
	if err != nil {
		s.metrics.Elections.WithLabelValues("error").Inc()
		return false, fmt.Errorf("failed to swap controller: %w", err)
	}

	if !swapped {
		s.metrics.Elections.WithLabelValues("conflict").Inc()
		s.logger.InfoContext(ctx, "controller swap lost", "error", ErrControllerConflict, "expected", current)
		return false, nil
	}

	if next == nil {
		s.metrics.Elections.WithLabelValues("cleared").Inc()
		s.logger.InfoContext(ctx, "controller cleared", "previous", current)
	} else {
		s.metrics.Elections.WithLabelValues("elected").Inc()
		s.logger.InfoContext(ctx, "controller elected", "previous", current, "controller_id", *next)
	}

	return true, nil
}
