package notify

import (
	"context"
	"encoding/json"
	"fmt"

	rediscommon "harbor-presence/common/redis"
	"harbor-presence/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// StreamPublisher appends every notification to a Redis stream so other
// services can consume them with consumer groups.
type StreamPublisher struct {
	client         *redis.Client
	eventStream    string
	presenceStream string
	maxLen         int64
	logger         *zap.Logger
}

func NewStreamPublisher(client *redis.Client, eventStream, presenceStream string, maxLen int64, logger *zap.Logger) *StreamPublisher {
	return &StreamPublisher{
		client:         client,
		eventStream:    eventStream,
		presenceStream: presenceStream,
		maxLen:         maxLen,
		logger:         logger,
	}
}

func (p *StreamPublisher) Name() string { return "redis_stream" }

func (p *StreamPublisher) OnDirectionEvent(ctx context.Context, ev models.DirectionEvent) error {
	if p.eventStream == "" {
		return nil
	}
	id, err := rediscommon.PublishJSONToStream(ctx, p.client, p.eventStream, p.maxLen, "direction", ev)
	if err != nil {
		return fmt.Errorf("failed to publish direction event: %w", err)
	}
	p.logger.Debug("Published direction event",
		zap.String("stream", p.eventStream),
		zap.String("message_id", id),
		zap.String("event_id", ev.EventID),
	)
	return nil
}

func (p *StreamPublisher) OnPresenceChanged(ctx context.Context, change models.PresenceChange) error {
	if p.presenceStream == "" {
		return nil
	}
	id, err := rediscommon.PublishJSONToStream(ctx, p.client, p.presenceStream, p.maxLen, "presence", change)
	if err != nil {
		return fmt.Errorf("failed to publish presence change: %w", err)
	}
	p.logger.Debug("Published presence change",
		zap.String("stream", p.presenceStream),
		zap.String("message_id", id),
		zap.String("beacon_id", change.BeaconID),
	)
	return nil
}

// RecentDirectionEvents reads back the newest direction events from the
// event stream. Entries that do not decode are skipped.
func (p *StreamPublisher) RecentDirectionEvents(ctx context.Context, limit int) ([]models.DirectionEvent, error) {
	if p.eventStream == "" {
		return nil, nil
	}
	entries, err := rediscommon.ReadLatest(ctx, p.client, p.eventStream, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read direction events: %w", err)
	}
	events := make([]models.DirectionEvent, 0, len(entries))
	for _, e := range entries {
		data, _ := e.Values["data"].(string)
		var ev models.DirectionEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			p.logger.Debug("Skipping undecodable stream entry", zap.String("id", e.ID), zap.Error(err))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
