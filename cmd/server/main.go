package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/watchparty/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 80,
	}
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	presenceTTL = configVar[time.Duration]{
		envKey:       "SERVER_PRESENCE_TTL",
		flagKey:      "presence-ttl",
		defaultValue: 30 * time.Second,
	}
	sweepInterval = configVar[time.Duration]{
		envKey:       "SERVER_SWEEP_INTERVAL",
		flagKey:      "sweep-interval",
		defaultValue: 10 * time.Second,
	}
	roomExpiration = configVar[time.Duration]{
		envKey:       "SERVER_ROOM_EXPIRATION",
		flagKey:      "room-expiration",
		defaultValue: 24 * time.Hour,
	}
	oembedEndpoint = configVar[string]{
		envKey:       "SERVER_OEMBED_ENDPOINT",
		flagKey:      "oembed-endpoint",
		defaultValue: "https://noembed.com/embed",
	}
	lookupRate = configVar[int]{
		envKey:       "SERVER_LOOKUP_RATE",
		flagKey:      "lookup-rate",
		defaultValue: 30,
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
	}
	redisDB = configVar[int]{
		envKey:       "REDIS_DB",
		flagKey:      "redis-db",
		defaultValue: 0,
	}
)

func loadAppConfig() *app.AppConfig {
	pflag.Int(port.flagKey, port.defaultValue, "Server port")
	pflag.String(host.flagKey, host.defaultValue, "Server host")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Duration(presenceTTL.flagKey, presenceTTL.defaultValue, "How long a participant stays present without a heartbeat")
	pflag.Duration(sweepInterval.flagKey, sweepInterval.defaultValue, "How often stale participants are evicted")
	pflag.Duration(roomExpiration.flagKey, roomExpiration.defaultValue, "Idle time after which a room is dropped")
	pflag.String(oembedEndpoint.flagKey, oembedEndpoint.defaultValue, "oEmbed endpoint for media lookups")
	pflag.Int(lookupRate.flagKey, lookupRate.defaultValue, "Media lookups allowed per client per minute")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.Int(redisDB.flagKey, redisDB.defaultValue, "Redis database")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(port.flagKey, port.envKey)
	viper.BindEnv(host.flagKey, host.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)
	viper.BindEnv(presenceTTL.flagKey, presenceTTL.envKey)
	viper.BindEnv(sweepInterval.flagKey, sweepInterval.envKey)
	viper.BindEnv(roomExpiration.flagKey, roomExpiration.envKey)
	viper.BindEnv(oembedEndpoint.flagKey, oembedEndpoint.envKey)
	viper.BindEnv(lookupRate.flagKey, lookupRate.envKey)
	viper.BindEnv(redisPort.flagKey, redisPort.envKey)
	viper.BindEnv(redisHost.flagKey, redisHost.envKey)
	viper.BindEnv(redisPassword.flagKey, redisPassword.envKey)
	viper.BindEnv(redisDB.flagKey, redisDB.envKey)

	viper.SetDefault(port.flagKey, port.defaultValue)
	viper.SetDefault(host.flagKey, host.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)
	viper.SetDefault(presenceTTL.flagKey, presenceTTL.defaultValue)
	viper.SetDefault(sweepInterval.flagKey, sweepInterval.defaultValue)
	viper.SetDefault(roomExpiration.flagKey, roomExpiration.defaultValue)
	viper.SetDefault(oembedEndpoint.flagKey, oembedEndpoint.defaultValue)
	viper.SetDefault(lookupRate.flagKey, lookupRate.defaultValue)
	viper.SetDefault(redisPort.flagKey, redisPort.defaultValue)
	viper.SetDefault(redisHost.flagKey, redisHost.defaultValue)
	viper.SetDefault(redisPassword.flagKey, redisPassword.defaultValue)
	viper.SetDefault(redisDB.flagKey, redisDB.defaultValue)

	return &app.AppConfig{
		Host:                    viper.GetString(host.flagKey),
		Port:                    viper.GetInt(port.flagKey),
		LogLevel:                viper.GetString(logLevel.flagKey),
		PresenceTTL:             viper.GetDuration(presenceTTL.flagKey),
		SweepInterval:           viper.GetDuration(sweepInterval.flagKey),
		RoomExpiration:          viper.GetDuration(roomExpiration.flagKey),
		OEmbedEndpoint:          viper.GetString(oembedEndpoint.flagKey),
		LookupRequestsPerMinute: viper.GetInt(lookupRate.flagKey),
		RedisHost:               viper.GetString(redisHost.flagKey),
		RedisPort:               viper.GetInt(redisPort.flagKey),
		RedisPassword:           viper.GetString(redisPassword.flagKey),
		RedisDB:                 viper.GetInt(redisDB.flagKey),
	}
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	if err := app.Run(ctx, appConfig); err != nil {
		log.Fatal(err)
	}
}
