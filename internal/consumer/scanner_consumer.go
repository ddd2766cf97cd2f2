package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	mqttcommon "harbor-presence/common/mqtt"
	"harbor-presence/internal/config"
	"harbor-presence/internal/tracker"

	"go.uber.org/zap"
)

// Ingester is the tracker surface the consumer feeds. Discard counts input
// that could not be turned into a sample.
type Ingester interface {
	Ingest(receiverID, beaconID string, rssi float64, ts time.Time) error
	Discard(reason tracker.RejectReason)
}

// Subscriber is the MQTT surface the consumer needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Advertisement is one scanner report. Receiver overrides the topic segment
// when set; Addr is accepted as an alias for Beacon.
type Advertisement struct {
	Receiver string          `json:"receiver,omitempty"`
	Beacon   string          `json:"beacon,omitempty"`
	Addr     string          `json:"addr,omitempty"`
	RSSI     *float64        `json:"rssi"`
	TS       json.RawMessage `json:"ts,omitempty"`
}

// ScannerConsumer subscribes to scanner advertisement topics
// (harbor/scanner/<receiver>/adv) and feeds each report into the tracker. The
// receiver ID is the topic segment under the subscription's "+" wildcard.
type ScannerConsumer struct {
	config   *config.Config
	client   Subscriber
	ingester Ingester
	logger   *zap.Logger
	now      func() time.Time

	receiverSegment int // index of the "+" wildcard in the subscription, -1 if none
}

func NewScannerConsumer(cfg *config.Config, client Subscriber, ingester Ingester, logger *zap.Logger) *ScannerConsumer {
	return &ScannerConsumer{
		config:   cfg,
		client:   client,
		ingester: ingester,
		logger:   logger,
		now:      time.Now,

		receiverSegment: wildcardSegment(cfg.Scanner.Topic),
	}
}

// Start subscribes and blocks until ctx is cancelled.
func (c *ScannerConsumer) Start(ctx context.Context) error {
	if err := c.client.Subscribe(c.config.Scanner.Topic, c.config.MQTT.QoS, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to scanner topic: %w", err)
	}
	c.logger.Info("Scanner consumer started", zap.String("topic", c.config.Scanner.Topic))

	<-ctx.Done()
	return nil
}

func (c *ScannerConsumer) Stop() {
	if err := c.client.Unsubscribe(c.config.Scanner.Topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	c.logger.Info("Scanner consumer stopped")
}

// handleMessage accepts a single advertisement object or an array of them.
func (c *ScannerConsumer) handleMessage(topic string, payload []byte) error {
	receiver := receiverFromTopic(topic, c.receiverSegment)

	var ads []Advertisement
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &ads); err != nil {
			c.ingester.Discard(tracker.ReasonMalformed)
			return fmt.Errorf("failed to unmarshal advertisement batch: %w", err)
		}
	} else {
		var ad Advertisement
		if err := json.Unmarshal(trimmed, &ad); err != nil {
			c.ingester.Discard(tracker.ReasonMalformed)
			return fmt.Errorf("failed to unmarshal advertisement: %w", err)
		}
		ads = append(ads, ad)
	}

	var firstErr error
	for _, ad := range ads {
		if err := c.ingest(receiver, ad); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *ScannerConsumer) ingest(topicReceiver string, ad Advertisement) error {
	receiver := topicReceiver
	if ad.Receiver != "" {
		receiver = ad.Receiver
	}
	beacon := ad.Beacon
	if beacon == "" {
		beacon = ad.Addr
	}
	if ad.RSSI == nil {
		c.ingester.Discard(tracker.ReasonMalformed)
		return fmt.Errorf("advertisement from %q has no rssi", receiver)
	}
	ts, err := parseTimestamp(ad.TS, c.now)
	if err != nil {
		c.ingester.Discard(tracker.ReasonMalformed)
		return err
	}

	err = c.ingester.Ingest(receiver, beacon, *ad.RSSI, ts)
	if errors.Is(err, tracker.ErrRejected) {
		c.logger.Debug("Advertisement rejected",
			zap.String("receiver_id", receiver),
			zap.String("beacon_id", beacon),
			zap.Error(err),
		)
	}
	return err
}

// wildcardSegment returns the index of the first single-level wildcard.
func wildcardSegment(pattern string) int {
	for i, part := range strings.Split(pattern, "/") {
		if part == "+" {
			return i
		}
	}
	return -1
}

// receiverFromTopic returns the topic segment matched by the subscription
// wildcard, falling back to the segment after "scanner".
func receiverFromTopic(topic string, segment int) string {
	parts := strings.Split(topic, "/")
	if segment >= 0 && segment < len(parts) {
		return parts[segment]
	}
	for i := 0; i < len(parts)-1; i++ {
		if parts[i] == "scanner" {
			return parts[i+1]
		}
	}
	return ""
}

// parseTimestamp accepts RFC 3339 strings or unix epoch numbers in seconds or
// milliseconds; a missing ts means "received now".
func parseTimestamp(raw json.RawMessage, now func() time.Time) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return now(), nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("invalid ts: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid ts %q: %w", s, err)
		}
		return t, nil
	}
	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ts %s: %w", raw, err)
	}
	// values past 1e11 cannot be seconds within this century
	if f > 1e11 {
		return time.UnixMilli(int64(f)).UTC(), nil
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9)).UTC(), nil
}
