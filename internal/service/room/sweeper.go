package room

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchparty/pkg/ctxlogger"
)

// Sweeper evicts participants whose heartbeats stopped, which covers instances that died without
// running their disconnect handlers.
type Sweeper struct {
	service  *service
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
}

func NewSweeper(s *service, interval time.Duration) *Sweeper {
	return &Sweeper{
		service:  s,
		interval: interval,
		clock:    s.clock,
		logger:   s.logger,
	}
}

// Serve runs until ctx is cancelled.
func (sw *Sweeper) Serve(ctx context.Context) error {
	ticker := sw.clock.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			if err := sw.SweepOnce(ctx); err != nil {
				sw.logger.ErrorContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}

func (sw *Sweeper) String() string {
	return "presence-sweeper"
}

// SweepOnce walks every indexed room once.
func (sw *Sweeper) SweepOnce(ctx context.Context) error {
	roomIDs, err := sw.service.roomRepo.GetRoomIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to get room ids: %w", err)
	}

	for _, roomID := range roomIDs {
		roomCtx := ctxlogger.AppendCtx(ctx, slog.String("room_id", roomID))
		if err := sw.sweepRoom(roomCtx, roomID); err != nil {
			sw.logger.WarnContext(roomCtx, "failed to sweep room", "error", err)
		}
	}

	return nil
}

func (sw *Sweeper) sweepRoom(ctx context.Context, roomID string) error {
	evicted, err := sw.service.roomRepo.RemoveStaleParticipants(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to remove stale participants: %w", err)
	}

	if len(evicted) > 0 {
		sw.service.metrics.PresenceEvictions.Add(float64(len(evicted)))
		sw.logger.InfoContext(ctx, "evicted stale participants", "participant_ids", evicted)

		participantIDs, err := sw.service.publishPresence(ctx, roomID)
		if err != nil {
			return err
		}

		if _, err := sw.service.arbitrate(ctx, roomID, participantIDs); err != nil {
			return err
		}
	}

	if _, err := sw.service.roomRepo.UnindexRoomIfEmpty(ctx, roomID); err != nil {
		return fmt.Errorf("failed to unindex room: %w", err)
	}

	return nil
}
