package player

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchparty/internal/reconciler"
)

const (
	DefaultTimeUpdateInterval = 250 * time.Millisecond

	eventBufferSize = 64
)

// Element is a headless media element: a clock-driven position plus the events a browser video
// element would fire. Events are delivered on Events, never from inside a method call.
type Element struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	logger    *slog.Logger
	media     *Media
	position  float64
	startedAt time.Time
	paused    bool
	volume    float64
	muted     bool
	events    chan reconciler.LocalEvent
	interval  time.Duration
}

func NewElement(clock clockwork.Clock, logger *slog.Logger, timeUpdateInterval time.Duration) *Element {
	if timeUpdateInterval <= 0 {
		timeUpdateInterval = DefaultTimeUpdateInterval
	}

	return &Element{
		clock:    clock,
		logger:   logger,
		paused:   true,
		volume:   1,
		events:   make(chan reconciler.LocalEvent, eventBufferSize),
		interval: timeUpdateInterval,
	}
}

func (e *Element) Events() <-chan reconciler.LocalEvent {
	return e.events
}

// Run fires timeupdate while playing until ctx is done.
func (e *Element) Run(ctx context.Context) error {
	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			e.mu.Lock()
			if e.media != nil && !e.paused {
				e.emit(reconciler.LocalEventTimeUpdate)
			}
			e.mu.Unlock()
		}
	}
}

// Load replaces the current media, releasing the previous one, and rewinds to a paused start.
func (e *Element) Load(media *Media) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.releaseMedia()
	e.media = media
	e.position = 0
	e.paused = true
}

func (e *Element) Media() *Media {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.media
}

func (e *Element) Snapshot() reconciler.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := reconciler.Snapshot{
		Position: e.currentTime(),
		Paused:   e.paused,
		Volume:   e.volume,
		Muted:    e.muted,
	}
	if e.media != nil {
		snapshot.FileIdentity = e.media.Identity()
	}
	return snapshot
}

func (e *Element) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.media == nil || !e.paused {
		return
	}
	e.startedAt = e.clock.Now()
	e.paused = false
	e.emit(reconciler.LocalEventPlay)
}

func (e *Element) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.media == nil || e.paused {
		return
	}
	e.position = e.currentTime()
	e.paused = true
	e.emit(reconciler.LocalEventPause)
}

func (e *Element) Seek(position float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.media == nil || !finite(position) {
		return
	}
	e.position = max(position, 0)
	e.startedAt = e.clock.Now()
	e.emit(reconciler.LocalEventSeeked)
}

// BeginScrub and EndScrub bracket a drag of the seek bar.
func (e *Element) BeginScrub() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.emit(reconciler.LocalEventScrubStart)
}

func (e *Element) EndScrub() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.emit(reconciler.LocalEventScrubEnd)
}

func (e *Element) SetVolume(volume float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !finite(volume) {
		return
	}
	e.volume = min(max(volume, 0), 1)
}

func (e *Element) SetMuted(muted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.muted = muted
}

// Close releases the loaded media.
func (e *Element) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.releaseMedia()
}

func (e *Element) currentTime() float64 {
	if e.paused {
		return e.position
	}
	return e.position + e.clock.Since(e.startedAt).Seconds()
}

func (e *Element) releaseMedia() error {
	if e.media == nil {
		return nil
	}

	err := e.media.Close()
	e.media = nil
	return err
}

func (e *Element) emit(eventType reconciler.LocalEventType) {
	event := reconciler.LocalEvent{Type: eventType, Position: e.currentTime()}
	select {
	case e.events <- event:
	default:
		e.logger.Warn("media event dropped", "type", eventType)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
