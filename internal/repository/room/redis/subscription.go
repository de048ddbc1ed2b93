package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/sharetube/watchparty/internal/repository/room"
)

type subscription struct {
	pubsub    *redis.PubSub
	events    chan room.Event
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// Subscribe returns once redis has confirmed the subscription, so no event published afterwards is missed.
func (r repo) Subscribe(ctx context.Context, roomID string) (room.Subscription, error) {
	r.logger.DebugContext(ctx, "called", "room_id", roomID)
	pubsub := r.rc.Subscribe(ctx, r.getEventsChannel(roomID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		r.logger.DebugContext(ctx, "returned", "error", err)
		return nil, err
	}

	s := &subscription{
		pubsub: pubsub,
		events: make(chan room.Event, 16),
		done:   make(chan struct{}),
		logger: r.logger,
	}
	go s.run()

	return s, nil
}

func (s *subscription) Events() <-chan room.Event {
	return s.events
}

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

func (s *subscription) run() {
	defer close(s.events)

	for msg := range s.pubsub.Channel() {
		var event room.Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			s.logger.Warn("failed to unmarshal event", "error", err, "channel", msg.Channel)
			continue
		}

		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}
