package controller

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sharetube/watchparty/internal/metrics"
	"github.com/sharetube/watchparty/internal/service/room"
	"github.com/sharetube/watchparty/pkg/mediameta"
	"github.com/sharetube/watchparty/pkg/validator"
	"github.com/sharetube/watchparty/pkg/wsrouter"
)

type iRoomService interface {
	Join(context.Context, *room.JoinParams) (room.JoinResponse, error)
	Leave(context.Context, *room.LeaveParams) error
	Heartbeat(context.Context, *room.HeartbeatParams) error
	Connect(context.Context, *room.ConnectParams)
	Disconnect(context.Context, *room.DisconnectParams) error
	Subscribe(context.Context, string) (*room.Subscription, error)
	LoadFile(context.Context, *room.LoadFileParams) (room.LoadFileResponse, error)
	UpdatePlayback(context.Context, *room.UpdatePlaybackParams) error
}

type iMediaLookup interface {
	Lookup(ctx context.Context, url string) (mediameta.Item, error)
}

type Config struct {
	// LookupRequestsPerMinute limits media lookups per client ip.
	LookupRequestsPerMinute int
}

type controller struct {
	roomService iRoomService
	mediaLookup iMediaLookup
	upgrader    websocket.Upgrader
	wsmux       *wsrouter.WSRouter
	validate    *validator.Validator
	metrics     *metrics.Metrics
	gatherer    prometheus.Gatherer
	logger      *slog.Logger
	cfg         Config
}

func NewController(
	roomService iRoomService,
	mediaLookup iMediaLookup,
	m *metrics.Metrics,
	gatherer prometheus.Gatherer,
	logger *slog.Logger,
	cfg Config,
) *controller {
	if cfg.LookupRequestsPerMinute <= 0 {
		cfg.LookupRequestsPerMinute = 30
	}

	c := &controller{
		roomService: roomService,
		mediaLookup: mediaLookup,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		validate: validator.NewValidator(),
		metrics:  m,
		gatherer: gatherer,
		logger:   logger,
		cfg:      cfg,
	}
	c.wsmux = c.getWSRouter()

	return c
}
