package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sharetube/watchparty/internal/domain"
	"github.com/sharetube/watchparty/pkg/wsrouter"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("client closed")
)

// Listener receives what the server pushes. Calls come from the read loop one at a time.
type Listener interface {
	Joined(ctx context.Context, payload domain.JoinedPayload)
	RecordUpdated(ctx context.Context, record domain.Record)
	PresenceUpdated(ctx context.Context, participantIDs []string)
	ServerError(ctx context.Context, payload domain.ErrorPayload)
}

type Config struct {
	// ServerURL is the base url of the server, e.g. ws://localhost:8080.
	ServerURL         string
	RoomID            string
	ParticipantID     string
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	ReconnectMin      time.Duration
	ReconnectMax      time.Duration
}

// Client keeps one participant attached to a room, reconnecting until Run's context ends.
type Client struct {
	cfg      Config
	listener Listener
	clock    clockwork.Clock
	logger   *slog.Logger
	dialer   *websocket.Dialer
	router   *wsrouter.WSRouter

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex
}

func New(cfg Config, listener Listener, clock clockwork.Clock, logger *slog.Logger) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = 500 * time.Millisecond
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = 10 * time.Second
	}

	c := &Client{
		cfg:      cfg,
		listener: listener,
		clock:    clock,
		logger:   logger,
		dialer:   websocket.DefaultDialer,
	}
	c.router = c.newRouter()

	return c
}

// SetListener replaces the listener. It must be called before Run.
func (c *Client) SetListener(listener Listener) {
	c.listener = listener
}

func (c *Client) newRouter() *wsrouter.WSRouter {
	r := wsrouter.New()
	r.OnError(func(ctx context.Context, _ *websocket.Conn, err error) {
		c.logger.WarnContext(ctx, "failed to handle server message", "error", err)
	})

	wsrouter.Handle(r, domain.MessageJoined, func(ctx context.Context, _ *websocket.Conn, payload domain.JoinedPayload) error {
		c.listener.Joined(ctx, payload)
		return nil
	})
	wsrouter.Handle(r, domain.MessageRecordUpdated, func(ctx context.Context, _ *websocket.Conn, payload domain.RecordUpdatedPayload) error {
		c.listener.RecordUpdated(ctx, payload.Record)
		return nil
	})
	wsrouter.Handle(r, domain.MessagePresenceUpdated, func(ctx context.Context, _ *websocket.Conn, payload domain.PresenceUpdatedPayload) error {
		c.listener.PresenceUpdated(ctx, payload.ParticipantIDs)
		return nil
	})
	wsrouter.Handle(r, domain.MessageError, func(ctx context.Context, _ *websocket.Conn, payload domain.ErrorPayload) error {
		c.listener.ServerError(ctx, payload)
		return nil
	})

	return r
}

func (c *Client) roomURL() (string, error) {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse server url: %w", err)
	}

	u = u.JoinPath("api", "v1", "ws", "room", c.cfg.RoomID)
	q := u.Query()
	q.Set("participant-id", c.cfg.ParticipantID)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Run connects and serves the connection, reconnecting with exponential backoff, until ctx is done
// or Leave is called.
func (c *Client) Run(ctx context.Context) error {
	roomURL, err := c.roomURL()
	if err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.ReconnectMin
	b.MaxInterval = c.cfg.ReconnectMax
	b.MaxElapsedTime = 0
	b.Clock = c.clock
	b.Reset()

	for {
		connected, err := c.serve(ctx, roomURL)
		if c.isClosed() {
			return ErrClosed
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			b.Reset()
		}

		delay := b.NextBackOff()
		c.logger.WarnContext(ctx, "disconnected, reconnecting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.clock.After(delay):
		}
	}
}

func (c *Client) serve(ctx context.Context, roomURL string) (bool, error) {
	conn, resp, err := c.dialer.DialContext(ctx, roomURL, http.Header{})
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("failed to dial: %w (status %d)", err, resp.StatusCode)
		}
		return false, fmt.Errorf("failed to dial: %w", err)
	}

	if !c.attach(conn) {
		conn.Close()
		return false, ErrClosed
	}
	c.logger.InfoContext(ctx, "connected", "url", roomURL)

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.heartbeat(connCtx)
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	err = c.router.ServeConn(connCtx, conn)
	c.detach(conn)

	return true, err
}

func (c *Client) heartbeat(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := c.send(domain.MessageAlive, struct{}{}); err != nil {
				c.logger.DebugContext(ctx, "failed to send heartbeat", "error", err)
			}
		}
	}
}

func (c *Client) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.conn = conn
	return true
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == conn {
		c.conn = nil
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *Client) send(messageType string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		return err
	}

	return conn.WriteJSON(&domain.Message[any]{
		Type:    messageType,
		Payload: payload,
	})
}

// Claim asks the server to load fileIdentity, taking control if the room is uncontrolled.
func (c *Client) Claim(_ context.Context, fileIdentity string) error {
	return c.send(domain.MessageLoadFile, &domain.LoadFileInput{FileIdentity: fileIdentity})
}

func (c *Client) UpdatePlayback(_ context.Context, fileIdentity string, patch domain.PlaybackPatch) error {
	return c.send(domain.MessageUpdatePlayback, &domain.UpdatePlaybackInput{
		FileIdentity: fileIdentity,
		IsPlaying:    patch.IsPlaying,
		Position:     patch.Position,
	})
}

// Leave tells the server this participant is gone and stops reconnecting.
func (c *Client) Leave(ctx context.Context) error {
	err := c.send(domain.MessageLeave, struct{}{})

	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteTimeout),
		)
		c.writeMu.Unlock()
		conn.Close()
	}

	if err != nil && !errors.Is(err, ErrNotConnected) {
		return fmt.Errorf("failed to send leave: %w", err)
	}
	return nil
}
