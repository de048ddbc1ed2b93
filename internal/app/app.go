package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"

	"github.com/sharetube/watchparty/internal/controller"
	"github.com/sharetube/watchparty/internal/metrics"
	"github.com/sharetube/watchparty/internal/repository/connection/inmemory"
	roomRedis "github.com/sharetube/watchparty/internal/repository/room/redis"
	"github.com/sharetube/watchparty/internal/service/room"
	"github.com/sharetube/watchparty/pkg/ctxlogger"
	"github.com/sharetube/watchparty/pkg/mediameta"
	"github.com/sharetube/watchparty/pkg/redisclient"
)

type AppConfig struct {
	Host                    string        `json:"host"`
	Port                    int           `json:"port"`
	LogLevel                string        `json:"log_level"`
	RedisHost               string        `json:"redis_host"`
	RedisPort               int           `json:"redis_port"`
	RedisPassword           string        `json:"-"`
	RedisDB                 int           `json:"redis_db"`
	PresenceTTL             time.Duration `json:"presence_ttl"`
	SweepInterval           time.Duration `json:"sweep_interval"`
	RoomExpiration          time.Duration `json:"room_expiration"`
	OEmbedEndpoint          string        `json:"oembed_endpoint"`
	LookupRequestsPerMinute int           `json:"lookup_requests_per_minute"`
}

func (cfg *AppConfig) Validate() error {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535")
	}
	if cfg.RedisPort < 1 || cfg.RedisPort > 65535 {
		return fmt.Errorf("redis port must be between 1 and 65535")
	}
	if cfg.PresenceTTL <= 0 {
		return fmt.Errorf("presence ttl must be greater than 0")
	}
	if cfg.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be greater than 0")
	}
	if cfg.SweepInterval > cfg.PresenceTTL {
		return fmt.Errorf("sweep interval must not exceed presence ttl")
	}
	if cfg.RoomExpiration < cfg.PresenceTTL {
		return fmt.Errorf("room expiration must be at least presence ttl")
	}
	if cfg.LookupRequestsPerMinute < 1 {
		return fmt.Errorf("lookup requests per minute must be greater than 0")
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	return nil
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		logLevel = slog.LevelInfo
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	return slog.New(&h)
}

type server struct {
	handler    http.Handler
	supervisor *suture.Supervisor
}

// newServer wires the room stack on top of rc. Background services are
// registered on the returned supervisor but not started.
func newServer(cfg *AppConfig, rc *redis.Client, clock clockwork.Clock, logger *slog.Logger) *server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	roomRepo := roomRedis.NewRepo(rc, clock, logger, &roomRedis.Config{
		PresenceTTL:      cfg.PresenceTTL,
		RecordExpiration: cfg.RoomExpiration,
	})
	connectionRepo := inmemory.NewRepo(logger)
	roomService := room.NewService(roomRepo, connectionRepo, clock, m, logger)

	lookup := mediameta.New(mediameta.Config{
		OEmbedEndpoint: cfg.OEmbedEndpoint,
	})

	ctrl := controller.NewController(roomService, lookup, m, reg, logger, controller.Config{
		LookupRequestsPerMinute: cfg.LookupRequestsPerMinute,
	})

	hook := &sutureslog.Handler{Logger: logger}
	supervisor := suture.New("watchparty", suture.Spec{
		EventHook: hook.MustHook(),
		Timeout:   10 * time.Second,
	})
	supervisor.Add(room.NewSweeper(roomService, cfg.SweepInterval))

	return &server{
		handler:    ctrl.GetMux(),
		supervisor: supervisor,
	}
}

func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)

	rc, err := redisclient.NewRedisClient(ctx, &redisclient.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer rc.Close()

	srv := newServer(cfg, rc, clockwork.NewRealClock(), logger)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)
	defer serverStopCtx()

	supervisorDone := srv.supervisor.ServeBackground(serverCtx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
		case <-serverCtx.Done():
		}

		shutdownCtx, c := context.WithTimeout(context.WithoutCancel(serverCtx), 30*time.Second)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server", "error", err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting server", "address", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-serverCtx.Done()

	if err := <-supervisorDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("supervisor stopped", "error", err)
	}

	return nil
}
