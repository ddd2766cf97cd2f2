package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"harbor-presence/internal/models"

	"go.uber.org/zap"
)

// PresenceCache keeps the latest presence state and direction event per
// beacon in a KV store for dashboards:
//
//	<prefix><beacon_id>             PresenceState JSON
//	<prefix><beacon_id>:last_event  DirectionEvent JSON
type PresenceCache struct {
	kv     KVStore
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewPresenceCache(kv KVStore, prefix string, ttl time.Duration, logger *zap.Logger) *PresenceCache {
	return &PresenceCache{kv: kv, prefix: prefix, ttl: ttl, logger: logger}
}

func (c *PresenceCache) Name() string { return "presence_cache" }

func (c *PresenceCache) stateKey(beaconID string) string {
	return c.prefix + beaconID
}

func (c *PresenceCache) eventKey(beaconID string) string {
	return c.prefix + beaconID + ":last_event"
}

func (c *PresenceCache) OnDirectionEvent(ctx context.Context, ev models.DirectionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal direction event: %w", err)
	}
	if err := c.kv.Set(ctx, c.eventKey(ev.BeaconID), string(data), c.ttl); err != nil {
		return fmt.Errorf("failed to cache direction event: %w", err)
	}
	return nil
}

func (c *PresenceCache) OnPresenceChanged(ctx context.Context, change models.PresenceChange) error {
	return c.Put(ctx, change.State)
}

// Put writes one presence state.
func (c *PresenceCache) Put(ctx context.Context, s models.PresenceState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal presence state: %w", err)
	}
	if err := c.kv.Set(ctx, c.stateKey(s.BeaconID), string(data), c.ttl); err != nil {
		return fmt.Errorf("failed to cache presence state: %w", err)
	}
	c.logger.Debug("Updated presence cache",
		zap.String("beacon_id", s.BeaconID),
		zap.String("state", string(s.State)),
	)
	return nil
}

// Get returns the cached state of beaconID, or ErrCacheMiss.
func (c *PresenceCache) Get(ctx context.Context, beaconID string) (models.PresenceState, error) {
	raw, err := c.kv.Get(ctx, c.stateKey(beaconID))
	if err != nil {
		return models.PresenceState{}, err
	}
	var s models.PresenceState
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return models.PresenceState{}, fmt.Errorf("failed to decode cached presence: %w", err)
	}
	return s, nil
}

// LastEvent returns the cached last direction event of beaconID, or ErrCacheMiss.
func (c *PresenceCache) LastEvent(ctx context.Context, beaconID string) (models.DirectionEvent, error) {
	raw, err := c.kv.Get(ctx, c.eventKey(beaconID))
	if err != nil {
		return models.DirectionEvent{}, err
	}
	var ev models.DirectionEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		return models.DirectionEvent{}, fmt.Errorf("failed to decode cached event: %w", err)
	}
	return ev, nil
}

// WarmUp writes every state, e.g. the snapshot loaded at startup. It keeps
// going after a failure and returns the first error.
func (c *PresenceCache) WarmUp(ctx context.Context, states []models.PresenceState) error {
	var first error
	for _, s := range states {
		if err := c.Put(ctx, s); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// IsMiss reports whether err is a cache miss.
func IsMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
