package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"harbor-presence/common/database"
	mqttcommon "harbor-presence/common/mqtt"
	rediscommon "harbor-presence/common/redis"
	"harbor-presence/internal/config"
	"harbor-presence/internal/consumer"
	"harbor-presence/internal/httpapi"
	"harbor-presence/internal/notify"
	"harbor-presence/internal/profile"
	"harbor-presence/internal/repository"
	"harbor-presence/internal/tracker"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// TrackerService wires MQTT ingest, the tracker and its listeners.
type TrackerService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client

	store    *profile.Store
	watcher  *profile.Watcher
	tracker  *tracker.Tracker
	repo     *repository.PresenceRepository
	cache    *notify.PresenceCache
	hub      *notify.Hub
	consumer *consumer.ScannerConsumer
	server   *http.Server
}

// NewTrackerService connects to Postgres, Redis and the MQTT broker and
// builds the pipeline. A missing or invalid profile is not fatal: the tracker
// starts in degraded mode with the default profile.
func NewTrackerService(cfg *config.Config, logger *zap.Logger) (*TrackerService, error) {
	ctx := context.Background()

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		rediscommon.Close(redisClient)
		database.Close(db)
		return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
	}

	initial, err := profile.LoadLatest(cfg.Tracker.ProfileDir)
	if err != nil {
		logger.Warn("No usable calibration profile, running degraded with defaults",
			zap.String("dir", cfg.Tracker.ProfileDir),
			zap.Error(err),
		)
	}
	store := profile.NewStore(initial)

	trk := tracker.New(store, trackerOptions(cfg), logger)

	watcher := profile.NewWatcher(cfg.Tracker.ProfileDir, store, logger, func(old, cur *profile.Profile) {
		logger.Info("Tracker switched calibration profile",
			zap.Int("from_version", old.Version),
			zap.Int("to_version", cur.Version),
		)
	})

	repo := repository.NewPresenceRepository(db, logger)
	cache := notify.NewPresenceCache(
		notify.NewRedisKVStore(redisClient),
		cfg.Notify.Cache.PresenceKeyPrefix,
		time.Duration(cfg.Notify.Cache.PresenceTTL)*time.Second,
		logger,
	)
	hub := notify.NewHub(trk.Snapshot, logger)

	var streams *notify.StreamPublisher
	if cfg.Notify.Stream.Events != "" || cfg.Notify.Stream.Presence != "" {
		streams = notify.NewStreamPublisher(
			redisClient,
			cfg.Notify.Stream.Events,
			cfg.Notify.Stream.Presence,
			cfg.Notify.Stream.MaxLen,
			logger,
		)
	}

	for _, l := range buildListeners(cfg, repo, cache, streams, hub, logger) {
		trk.AddListener(l)
	}

	s := &TrackerService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		store:       store,
		watcher:     watcher,
		tracker:     trk,
		repo:        repo,
		cache:       cache,
		hub:         hub,
		consumer:    consumer.NewScannerConsumer(cfg, mqttClient, trk, logger),
	}

	if cfg.HTTP.Addr != "" {
		router := httpapi.NewRouter(logger)
		var feed httpapi.EventFeed
		if streams != nil {
			feed = streams
		}
		router.RegisterRoutes(httpapi.NewHandler(trk, repo, feed, store, watcher.Reload, logger), hub)
		s.server = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return s, nil
}

func trackerOptions(cfg *config.Config) tracker.Options {
	return tracker.Options{
		Horizon:           cfg.Tracker.WindowHorizon,
		StaleTimeout:      cfg.Tracker.StaleTimeout,
		FilterIdleTimeout: cfg.Tracker.FilterIdleTimeout,
		BeaconIdleTimeout: cfg.Tracker.BeaconIdleTimeout,
		SweepInterval:     cfg.Tracker.SweepInterval,
		OutboundQueueSize: cfg.Tracker.OutboundQueueSize,
		BeaconQueueSize:   cfg.Tracker.BeaconQueueSize,
		MaxSampleAge:      cfg.Tracker.MaxSampleAge,
		MaxClockSkew:      cfg.Tracker.MaxClockSkew,
	}
}

// buildListeners returns the outbound listeners in delivery order, persistence first.
func buildListeners(
	cfg *config.Config,
	repo *repository.PresenceRepository,
	cache *notify.PresenceCache,
	streams *notify.StreamPublisher,
	hub *notify.Hub,
	logger *zap.Logger,
) []tracker.Listener {
	listeners := []tracker.Listener{repo, cache}
	if streams != nil {
		listeners = append(listeners, streams)
	}
	if hub != nil {
		listeners = append(listeners, hub)
	}
	if cfg.Notify.WebhookURL != "" {
		listeners = append(listeners, notify.NewWebhookNotifier(
			cfg.Notify.WebhookURL,
			cfg.Notify.WebhookToken,
			cfg.Notify.WebhookTimeout,
			logger,
		))
	}
	return listeners
}

// Start seeds presence from Postgres, then starts the tracker, the profile
// watcher, the HTTP feed and the MQTT consumer. It does not block.
func (s *TrackerService) Start(ctx context.Context) error {
	s.logger.Info("Starting harbor tracker service components")

	if err := s.repo.EnsureSchema(ctx); err != nil {
		return err
	}
	states, err := s.repo.LoadStates(ctx)
	if err != nil {
		return fmt.Errorf("failed to load presence snapshot: %w", err)
	}
	s.tracker.Seed(states)
	if err := s.cache.WarmUp(ctx, states); err != nil {
		s.logger.Warn("Failed to warm presence cache", zap.Error(err))
	}
	s.logger.Info("Presence snapshot loaded", zap.Int("beacons", len(states)))

	s.tracker.Start(ctx)

	go func() {
		if err := s.watcher.Run(ctx); err != nil {
			s.logger.Error("Profile watcher stopped", zap.Error(err))
		}
	}()

	if s.server != nil {
		go func() {
			s.logger.Info("HTTP server listening", zap.String("addr", s.server.Addr))
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("HTTP server failed", zap.Error(err))
			}
		}()
	}

	go func() {
		if err := s.consumer.Start(ctx); err != nil {
			s.logger.Error("Scanner consumer failed", zap.Error(err))
		}
	}()

	s.logger.Info("Harbor tracker service started successfully",
		zap.Int("profile_version", s.store.Current().Version),
		zap.Bool("degraded", s.store.Degraded()),
	)
	return nil
}

// Reload re-reads the latest profile, as on SIGHUP.
func (s *TrackerService) Reload() {
	s.watcher.Reload()
}

// Stop shuts down ingest first, then flushes the tracker into the listeners
// before closing Redis and Postgres.
func (s *TrackerService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping harbor tracker service")

	s.consumer.Stop()
	s.mqttClient.Disconnect()

	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Error shutting down HTTP server", zap.Error(err))
		}
		cancel()
	}

	s.tracker.Close()
	s.hub.Close()

	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Error closing Redis client", zap.Error(err))
	}
	if err := database.Close(s.db); err != nil {
		s.logger.Error("Error closing database connection", zap.Error(err))
	}

	s.logger.Info("Harbor tracker service stopped")
	return nil
}
