package watcher

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/internal/player"
	"github.com/sharetube/watchparty/internal/reconciler"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/errgroup"
)

type iEngine interface {
	SelectFile(ctx context.Context, fileIdentity string)
	OnRecord(ctx context.Context, record *domain.Record) bool
	HandleLocal(ctx context.Context, event reconciler.LocalEvent) reconciler.Origin
	Resync()
	State() reconciler.State
	Record() *domain.Record
	Problem() error
	IsController() bool
}

type iElement interface {
	Events() <-chan reconciler.LocalEvent
	Run(ctx context.Context) error
	Load(media *player.Media)
	Media() *player.Media
	Snapshot() reconciler.Snapshot
	Play()
	Pause()
	Seek(position float64)
	BeginScrub()
	EndScrub()
	SetVolume(volume float64)
	SetMuted(muted bool)
}

type iClient interface {
	Run(ctx context.Context) error
	Leave(ctx context.Context) error
}

// Session ties the media element, the reconciliation engine and the server connection together.
// It is the client.Listener for the connection.
type Session struct {
	engine       iEngine
	element      iElement
	client       iClient
	identityMode player.IdentityMode
	logger       *slog.Logger

	mu           sync.Mutex
	participants map[string]struct{}
}

func NewSession(engine iEngine, element iElement, identityMode player.IdentityMode, logger *slog.Logger) *Session {
	return &Session{
		engine:       engine,
		element:      element,
		identityMode: identityMode,
		logger:       logger,
		participants: make(map[string]struct{}),
	}
}

// SetClient must be called before Run.
func (s *Session) SetClient(c iClient) {
	s.client = c
}

func (s *Session) Joined(ctx context.Context, payload domain.JoinedPayload) {
	s.logger.InfoContext(ctx, "joined room", "participants", payload.ParticipantIDs)
	s.engine.Resync()
	s.engine.OnRecord(ctx, payload.Record)
	// a file loaded while offline is offered to the room once it is reachable
	if media := s.element.Media(); media != nil && s.engine.State() == reconciler.StateLoadedWaiting {
		s.engine.SelectFile(ctx, media.Identity())
	}
	s.PresenceUpdated(ctx, payload.ParticipantIDs)
}

func (s *Session) RecordUpdated(ctx context.Context, record domain.Record) {
	s.engine.OnRecord(ctx, &record)
}

// PresenceUpdated logs who came and went since the previous update.
func (s *Session) PresenceUpdated(ctx context.Context, participantIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]struct{}, len(participantIDs))
	for _, id := range participantIDs {
		next[id] = struct{}{}
	}

	var joined, left []string
	for _, id := range maps.Keys(next) {
		if _, ok := s.participants[id]; !ok {
			joined = append(joined, id)
		}
	}
	for _, id := range maps.Keys(s.participants) {
		if _, ok := next[id]; !ok {
			left = append(left, id)
		}
	}
	slices.Sort(joined)
	slices.Sort(left)

	if len(joined) > 0 || len(left) > 0 {
		s.logger.InfoContext(ctx, "presence changed", "joined", joined, "left", left)
	}
	s.participants = next
}

func (s *Session) ServerError(ctx context.Context, payload domain.ErrorPayload) {
	s.logger.WarnContext(ctx, "server rejected message", "code", payload.Code, "message", payload.Message)
}

// Participants returns the live participant ids, sorted.
func (s *Session) Participants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := maps.Keys(s.participants)
	slices.Sort(ids)
	return ids
}

// Run drives the element clock, feeds element events to the engine and keeps the connection up
// until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.element.Run(ctx)
	})
	g.Go(func() error {
		return s.pumpEvents(ctx)
	})
	g.Go(func() error {
		return s.client.Run(ctx)
	})

	return g.Wait()
}

func (s *Session) pumpEvents(ctx context.Context) error {
	events := s.element.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-events:
			origin := s.engine.HandleLocal(ctx, event)
			s.logger.DebugContext(ctx, "media event", "type", event.Type, "position", event.Position, "origin", origin)
		}
	}
}
