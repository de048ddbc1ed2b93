package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/watchparty/internal/client"
	"github.com/sharetube/watchparty/internal/player"
	"github.com/sharetube/watchparty/internal/reconciler"
	"github.com/sharetube/watchparty/internal/watcher"
	"github.com/sharetube/watchparty/pkg/ctxlogger"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

type watcherConfig struct {
	ServerURL         string        `json:"server_url"`
	RoomID            string        `json:"room_id"`
	ParticipantID     string        `json:"participant_id"`
	File              string        `json:"file"`
	IdentityMode      string        `json:"identity_mode"`
	DriftThreshold    time.Duration `json:"drift_threshold"`
	WriteInterval     time.Duration `json:"write_interval"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	LogLevel          string        `json:"log_level"`
}

var (
	serverURL = configVar[string]{
		envKey:       "WATCHER_SERVER_URL",
		flagKey:      "server-url",
		defaultValue: "ws://localhost:80",
	}
	roomID = configVar[string]{
		envKey:       "WATCHER_ROOM",
		flagKey:      "room",
		defaultValue: "",
	}
	participantID = configVar[string]{
		envKey:       "WATCHER_PARTICIPANT_ID",
		flagKey:      "participant-id",
		defaultValue: "",
	}
	file = configVar[string]{
		envKey:       "WATCHER_FILE",
		flagKey:      "file",
		defaultValue: "",
	}
	identityMode = configVar[string]{
		envKey:       "WATCHER_IDENTITY_MODE",
		flagKey:      "identity-mode",
		defaultValue: string(player.IdentityContent),
	}
	driftThreshold = configVar[time.Duration]{
		envKey:       "WATCHER_DRIFT_THRESHOLD",
		flagKey:      "drift-threshold",
		defaultValue: reconciler.DefaultDriftThreshold,
	}
	writeInterval = configVar[time.Duration]{
		envKey:       "WATCHER_WRITE_INTERVAL",
		flagKey:      "write-interval",
		defaultValue: reconciler.DefaultWriteInterval,
	}
	heartbeatInterval = configVar[time.Duration]{
		envKey:       "WATCHER_HEARTBEAT_INTERVAL",
		flagKey:      "heartbeat-interval",
		defaultValue: 10 * time.Second,
	}
	logLevel = configVar[string]{
		envKey:       "WATCHER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
)

func loadConfig() *watcherConfig {
	pflag.String(serverURL.flagKey, serverURL.defaultValue, "Server base url")
	pflag.String(roomID.flagKey, roomID.defaultValue, "Room to join")
	pflag.String(participantID.flagKey, participantID.defaultValue, "Participant id, generated when empty")
	pflag.String(file.flagKey, file.defaultValue, "File to load on start")
	pflag.String(identityMode.flagKey, identityMode.defaultValue, "How files are identified: content or name")
	pflag.Duration(driftThreshold.flagKey, driftThreshold.defaultValue, "Position difference tolerated before seeking")
	pflag.Duration(writeInterval.flagKey, writeInterval.defaultValue, "Minimum interval between playback writes")
	pflag.Duration(heartbeatInterval.flagKey, heartbeatInterval.defaultValue, "Presence heartbeat interval")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(serverURL.flagKey, serverURL.envKey)
	viper.BindEnv(roomID.flagKey, roomID.envKey)
	viper.BindEnv(participantID.flagKey, participantID.envKey)
	viper.BindEnv(file.flagKey, file.envKey)
	viper.BindEnv(identityMode.flagKey, identityMode.envKey)
	viper.BindEnv(driftThreshold.flagKey, driftThreshold.envKey)
	viper.BindEnv(writeInterval.flagKey, writeInterval.envKey)
	viper.BindEnv(heartbeatInterval.flagKey, heartbeatInterval.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)

	viper.SetDefault(serverURL.flagKey, serverURL.defaultValue)
	viper.SetDefault(roomID.flagKey, roomID.defaultValue)
	viper.SetDefault(participantID.flagKey, participantID.defaultValue)
	viper.SetDefault(file.flagKey, file.defaultValue)
	viper.SetDefault(identityMode.flagKey, identityMode.defaultValue)
	viper.SetDefault(driftThreshold.flagKey, driftThreshold.defaultValue)
	viper.SetDefault(writeInterval.flagKey, writeInterval.defaultValue)
	viper.SetDefault(heartbeatInterval.flagKey, heartbeatInterval.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)

	cfg := &watcherConfig{
		ServerURL:         viper.GetString(serverURL.flagKey),
		RoomID:            viper.GetString(roomID.flagKey),
		ParticipantID:     viper.GetString(participantID.flagKey),
		File:              viper.GetString(file.flagKey),
		IdentityMode:      viper.GetString(identityMode.flagKey),
		DriftThreshold:    viper.GetDuration(driftThreshold.flagKey),
		WriteInterval:     viper.GetDuration(writeInterval.flagKey),
		HeartbeatInterval: viper.GetDuration(heartbeatInterval.flagKey),
		LogLevel:          viper.GetString(logLevel.flagKey),
	}
	if cfg.ParticipantID == "" {
		cfg.ParticipantID = uuid.NewString()
	}

	return cfg
}

func (cfg *watcherConfig) validate() error {
	if cfg.RoomID == "" {
		return fmt.Errorf("room is required")
	}
	switch player.IdentityMode(cfg.IdentityMode) {
	case player.IdentityContent, player.IdentityName:
	default:
		return fmt.Errorf("unknown identity mode %q", cfg.IdentityMode)
	}
	return nil
}

func run(ctx context.Context, cfg *watcherConfig) error {
	logLevel := slog.LevelInfo
	if err := logLevel.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	// stdout carries command output, logs go to stderr.
	logger := slog.New(&ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}),
	})
	clock := clockwork.NewRealClock()

	element := player.NewElement(clock, logger, 0)
	defer element.Close()

	c := client.New(client.Config{
		ServerURL:         cfg.ServerURL,
		RoomID:            cfg.RoomID,
		ParticipantID:     cfg.ParticipantID,
		HeartbeatInterval: cfg.HeartbeatInterval,
	}, nil, clock, logger)

	engine := reconciler.New(reconciler.Config{
		ParticipantID:  cfg.ParticipantID,
		DriftThreshold: cfg.DriftThreshold,
		WriteInterval:  cfg.WriteInterval,
	}, element, c, clock, logger)
	defer engine.Close()

	session := watcher.NewSession(engine, element, player.IdentityMode(cfg.IdentityMode), logger)
	session.SetClient(c)
	c.SetListener(session)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.File != "" {
		if _, err := session.Execute(ctx, "load "+cfg.File); err != nil {
			return err
		}
	}

	go func() {
		if err := session.ReadCommands(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("failed to read commands", "error", err)
		}
		cancel()
	}()

	err := session.Run(ctx)
	if errors.Is(err, client.ErrClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()
	if err := cfg.validate(); err != nil {
		log.Fatal(err)
	}

	jsonConfig, _ := json.MarshalIndent(cfg, "", "  ")
	fmt.Fprintf(os.Stderr, "starting watcher with config: %s\n", jsonConfig)

	if err := run(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}
