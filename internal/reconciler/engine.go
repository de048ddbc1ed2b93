package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchparty/internal/domain"
	"golang.org/x/time/rate"
)

const (
	DefaultDriftThreshold   = 2 * time.Second
	DefaultWriteInterval    = 250 * time.Millisecond
	DefaultCorrectionWindow = time.Second

	// seekTolerance is how far a seeked event may land from the requested position and still be
	// recognized as the engine's own correction.
	seekTolerance = 0.5
)

type Config struct {
	ParticipantID string
	// DriftThreshold is the largest position difference tolerated before seeking.
	DriftThreshold time.Duration
	// WriteInterval bounds outbound writes to one per interval.
	WriteInterval time.Duration
	// CorrectionWindow is how long an applied correction waits for its echo from the player.
	CorrectionWindow time.Duration
}

func (c *Config) setDefaults() {
	if c.DriftThreshold <= 0 {
		c.DriftThreshold = DefaultDriftThreshold
	}
	if c.WriteInterval <= 0 {
		c.WriteInterval = DefaultWriteInterval
	}
	if c.CorrectionWindow <= 0 {
		c.CorrectionWindow = DefaultCorrectionWindow
	}
}

type correction struct {
	eventType LocalEventType
	position  float64
	expires   time.Time
}

// Engine keeps one client's media element in step with the room record and, while the client
// controls the room, publishes the element's state. All methods are safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	cfg    Config
	player Player
	store  Store
	clock  clockwork.Clock
	logger *slog.Logger

	state        State
	fileIdentity string
	record       *domain.Record
	lastVersion  int64
	corrections  []correction
	scrubbing    bool

	limiter  *rate.Limiter
	timer    clockwork.Timer
	pending  *domain.PlaybackPatch
	retry    bool
	claiming bool
	closed   bool
}

func New(cfg Config, player Player, store Store, clock clockwork.Clock, logger *slog.Logger) *Engine {
	cfg.setDefaults()

	return &Engine{
		cfg:         cfg,
		player:      player,
		store:       store,
		clock:       clock,
		logger:      logger.With("participant_id", cfg.ParticipantID),
		state:       StateNoFile,
		lastVersion: -1,
		limiter:     rate.NewLimiter(rate.Every(cfg.WriteInterval), 1),
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state
}

// Record returns a copy of the last accepted record, or nil.
func (e *Engine) Record() *domain.Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record == nil {
		return nil
	}
	record := *e.record
	return &record
}

// Problem returns ErrFileMismatch while the loaded file differs from the room's, and ErrNoController
// while a loaded room has nobody in control.
func (e *Engine) Problem() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.state == StateMismatched:
		return ErrFileMismatch
	case e.fileIdentity != "" && e.record != nil && !e.record.HasController():
		return ErrNoController
	}
	return nil
}

func (e *Engine) IsController() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.isController()
}

// SelectFile switches the local file. It takes control of the room when nobody else holds it.
func (e *Engine) SelectFile(ctx context.Context, fileIdentity string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	e.logger.InfoContext(ctx, "file selected", "file_identity", fileIdentity)
	reloaded := fileIdentity != "" && fileIdentity == e.fileIdentity
	e.fileIdentity = fileIdentity
	e.corrections = nil
	e.scrubbing = false
	e.pending = nil
	e.retry = false
	e.stopTimer()

	if e.mayClaim() {
		e.claim(ctx)
	}

	e.updateState()
	e.reconcile(ctx)

	// reloading rewinds the element, the record still holds the old position
	if reloaded && e.isController() && e.state == StateSynced {
		e.schedule(ctx, e.patchFromPlayer())
	}
}

// OnRecord applies a record delivered by the store. A nil record means the room has none yet.
// Versions not newer than the last accepted one are dropped; it reports whether the record was applied.
func (e *Engine) OnRecord(ctx context.Context, record *domain.Record) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return false
	}

	if record == nil {
		if e.lastVersion >= 0 {
			return false
		}
		e.record = nil
		e.updateState()
		return true
	}

	if record.Version <= e.lastVersion {
		e.logger.DebugContext(ctx, "stale record dropped", "version", record.Version, "last_version", e.lastVersion)
		return false
	}

	r := *record
	e.record = &r
	e.lastVersion = r.Version
	e.claiming = false

	prev := e.state
	e.updateState()
	e.reconcile(ctx)
	if prev != e.state {
		e.logger.InfoContext(ctx, "state changed", "from", prev, "to", e.state, "version", r.Version)
	}

	return true
}

// Resync makes the next delivered record authoritative, whatever its version.
// Call it after the store connection was re-established.
func (e *Engine) Resync() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastVersion = -1
}

// HandleLocal classifies an event from the media element and reacts to it.
func (e *Engine) HandleLocal(ctx context.Context, event LocalEvent) Origin {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.matchCorrection(event) {
		if event.Type == LocalEventSeeked && e.state == StateDrifted {
			e.state = StateSynced
		}
		return OriginRemoteCorrection
	}

	if e.closed || e.fileIdentity == "" {
		return OriginLocalUser
	}

	switch event.Type {
	case LocalEventScrubStart:
		e.scrubbing = true
		return OriginLocalUser
	case LocalEventScrubEnd:
		e.scrubbing = false
	case LocalEventTimeUpdate:
		// progress is only published while playing, or to retry a failed write
		if !e.isController() || (e.player.Snapshot().Paused && !e.retry) {
			return OriginLocalUser
		}
	}

	switch {
	case e.mayClaim():
		if !e.isController() {
			e.claim(ctx)
		} else if e.state == StateMismatched || e.state == StateLoadedWaiting {
			return OriginLocalUser
		}
		if !e.scrubbing {
			e.schedule(ctx, e.patchFromPlayer())
		}
	case !e.scrubbing:
		// someone else controls the room: undo the local change
		e.reconcile(ctx)
	}

	return OriginLocalUser
}

// Close stops the pending write. Later calls are ignored.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.closed = true
	e.pending = nil
	e.stopTimer()
}

func (e *Engine) isController() bool {
	return e.record != nil && e.record.IsControlledBy(e.cfg.ParticipantID)
}

// mayClaim reports whether this client controls the room or would take control by acting.
func (e *Engine) mayClaim() bool {
	return e.fileIdentity != "" && (e.record == nil || !e.record.HasController() || e.isController() || e.claiming)
}

func (e *Engine) claim(ctx context.Context) {
	if err := e.store.Claim(ctx, e.fileIdentity); err != nil {
		e.logger.WarnContext(ctx, "failed to claim control", "error", fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
		return
	}
	e.claiming = true
}

func (e *Engine) updateState() {
	switch {
	case e.fileIdentity == "":
		e.state = StateNoFile
	case e.record == nil || e.record.FileIdentity == nil:
		e.state = StateLoadedWaiting
	case !e.record.HasFile(e.fileIdentity):
		e.state = StateMismatched
	case e.state != StateDrifted:
		e.state = StateSynced
	}
}

// reconcile corrects the local element towards the record. The controller is the source of the record
// and is never corrected.
func (e *Engine) reconcile(ctx context.Context) {
	if e.state != StateSynced && e.state != StateDrifted {
		return
	}
	if e.record == nil || !e.record.HasController() || e.isController() {
		e.state = StateSynced
		return
	}

	snapshot := e.player.Snapshot()
	drift := math.Abs(snapshot.Position - e.record.Position)
	// NaN compares false either way and must count as drift
	if !(drift <= e.cfg.DriftThreshold.Seconds()) {
		e.logger.DebugContext(ctx, "correcting drift", "drift", drift, "position", e.record.Position)
		e.addCorrection(LocalEventSeeked, e.record.Position)
		e.player.Seek(e.record.Position)
		e.state = StateDrifted
	} else {
		e.state = StateSynced
	}

	if e.record.IsPlaying && snapshot.Paused {
		e.addCorrection(LocalEventPlay, 0)
		e.player.Play()
	} else if !e.record.IsPlaying && !snapshot.Paused {
		e.addCorrection(LocalEventPause, 0)
		e.player.Pause()
	}
}

func (e *Engine) addCorrection(eventType LocalEventType, position float64) {
	e.corrections = append(e.corrections, correction{
		eventType: eventType,
		position:  position,
		expires:   e.clock.Now().Add(e.cfg.CorrectionWindow),
	})
}

// matchCorrection drops expired corrections and consumes the one event answers, if any.
func (e *Engine) matchCorrection(event LocalEvent) bool {
	now := e.clock.Now()
	live := e.corrections[:0]
	for _, c := range e.corrections {
		if now.Before(c.expires) {
			live = append(live, c)
		}
	}
	e.corrections = live

	for i, c := range e.corrections {
		if c.eventType != event.Type {
			continue
		}
		if c.eventType == LocalEventSeeked && math.Abs(c.position-event.Position) > seekTolerance {
			continue
		}
		e.corrections = append(e.corrections[:i], e.corrections[i+1:]...)
		return true
	}

	return false
}

func (e *Engine) patchFromPlayer() domain.PlaybackPatch {
	snapshot := e.player.Snapshot()
	isPlaying := !snapshot.Paused
	patch := domain.PlaybackPatch{IsPlaying: &isPlaying}
	if position := snapshot.Position; !math.IsNaN(position) && !math.IsInf(position, 0) {
		patch.Position = &position
	}
	return patch
}

// schedule stores patch as the state to publish. It is written at once when the last write is at
// least WriteInterval old, otherwise at the end of the interval with whatever patch is latest by then.
func (e *Engine) schedule(ctx context.Context, patch domain.PlaybackPatch) {
	e.pending = &patch
	if e.timer != nil {
		return
	}

	now := e.clock.Now()
	delay := e.limiter.ReserveN(now, 1).DelayFrom(now)
	if delay == 0 {
		e.flush(ctx)
		return
	}

	flushCtx := context.WithoutCancel(ctx)
	var timer clockwork.Timer
	timer = e.clock.AfterFunc(delay, func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		// replaced or stopped while this callback waited for the lock
		if e.timer != timer {
			return
		}
		e.timer = nil
		if !e.closed {
			e.flush(flushCtx)
		}
	})
	e.timer = timer
}

func (e *Engine) flush(ctx context.Context) {
	if e.pending == nil || e.scrubbing {
		return
	}
	if e.state == StateMismatched {
		e.pending = nil
		return
	}
	if e.record != nil && e.record.HasController() && !e.isController() {
		e.logger.DebugContext(ctx, "dropping write, control was lost")
		e.pending = nil
		return
	}

	patch := *e.pending
	e.pending = nil
	if err := e.store.UpdatePlayback(ctx, e.fileIdentity, patch); err != nil {
		e.retry = true
		e.logger.WarnContext(ctx, "failed to write playback", "error", fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
		return
	}
	e.retry = false
}

func (e *Engine) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}
