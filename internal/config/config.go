package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	commoncfg "harbor-presence/common/config"
)

// Config is the harbor tracker service configuration.
type Config struct {
	Database commoncfg.DatabaseConfig
	Redis    commoncfg.RedisConfig
	MQTT     commoncfg.MQTTConfig

	Tracker struct {
		ProfileDir        string        // directory holding profile-<n>.json and latest.json
		WindowHorizon     time.Duration // correlation window horizon
		StaleTimeout      time.Duration // per-stream staleness timeout
		FilterIdleTimeout time.Duration // idle filter state eviction
		BeaconIdleTimeout time.Duration // idle beacon worker eviction
		SweepInterval     time.Duration
		OutboundQueueSize int
		BeaconQueueSize   int
		MaxSampleAge      time.Duration // oldest plausible sample timestamp
		MaxClockSkew      time.Duration // how far ahead of wall clock a sample may be
	}

	Scanner struct {
		Topic string // MQTT subscription, e.g. "harbor/scanner/+/adv"
	}

	Notify struct {
		Stream struct {
			Events   string // direction event stream
			Presence string // presence change stream
			MaxLen   int64
		}
		Cache struct {
			PresenceKeyPrefix string // e.g. "harbor:presence:"
			PresenceTTL       int    // seconds, 0 = no expiry
		}
		WebhookURL     string
		WebhookToken   string
		WebhookTimeout time.Duration
	}

	HTTP struct {
		Addr string // websocket feed listen address, empty disables it
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load reads configuration from the environment and validates the
// infrastructure sections.
func Load() (*Config, error) {
	cfg := &Config{
		Database: commoncfg.DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "harbor",
			SSLMode:  "disable",
			MaxConns: 10,
			MaxIdle:  2,
		},
		Redis: commoncfg.RedisConfig{Addr: "localhost:6379"},
		MQTT:  commoncfg.MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "harbor-tracker"},
	}
	cfg.Database.LoadFromEnv("DB")
	cfg.Redis.LoadFromEnv("REDIS")
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Tracker.ProfileDir = getEnv("PROFILE_DIR", "/var/lib/harbor/profiles")
	cfg.Tracker.WindowHorizon = getEnvDuration("WINDOW_HORIZON", 5*time.Second)
	cfg.Tracker.StaleTimeout = getEnvDuration("STALE_TIMEOUT", 3*time.Second)
	cfg.Tracker.FilterIdleTimeout = getEnvDuration("FILTER_IDLE_TIMEOUT", 30*time.Second)
	cfg.Tracker.BeaconIdleTimeout = getEnvDuration("BEACON_IDLE_TIMEOUT", 5*time.Minute)
	cfg.Tracker.SweepInterval = getEnvDuration("SWEEP_INTERVAL", 10*time.Second)
	cfg.Tracker.OutboundQueueSize = getEnvInt("OUTBOUND_QUEUE_SIZE", 1024)
	cfg.Tracker.BeaconQueueSize = getEnvInt("BEACON_QUEUE_SIZE", 256)
	cfg.Tracker.MaxSampleAge = getEnvDuration("MAX_SAMPLE_AGE", 24*time.Hour)
	cfg.Tracker.MaxClockSkew = getEnvDuration("MAX_CLOCK_SKEW", 5*time.Second)

	cfg.Scanner.Topic = getEnv("SCANNER_TOPIC", "harbor/scanner/+/adv")

	cfg.Notify.Stream.Events = getEnv("STREAM_EVENTS", "harbor:direction:stream")
	cfg.Notify.Stream.Presence = getEnv("STREAM_PRESENCE", "harbor:presence:stream")
	cfg.Notify.Stream.MaxLen = int64(getEnvInt("STREAM_MAXLEN", 10000))
	cfg.Notify.Cache.PresenceKeyPrefix = getEnv("CACHE_PRESENCE_PREFIX", "harbor:presence:")
	cfg.Notify.Cache.PresenceTTL = getEnvInt("CACHE_PRESENCE_TTL", 0)
	cfg.Notify.WebhookURL = getEnv("WEBHOOK_URL", "")
	cfg.Notify.WebhookToken = getEnv("WEBHOOK_TOKEN", "")
	cfg.Notify.WebhookTimeout = getEnvDuration("WEBHOOK_TIMEOUT", 5*time.Second)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8090")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	for _, v := range []interface{ Validate() error }{&cfg.Database, &cfg.Redis, &cfg.MQTT} {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Scanner.Topic == "" {
		return nil, fmt.Errorf("SCANNER_TOPIC is required")
	}
	return cfg, nil
}

var (
	getEnv    = commoncfg.String
	getEnvInt = commoncfg.Int
)

// getEnvDuration accepts Go duration strings ("3s", "5m") or plain seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
