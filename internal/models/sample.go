package models

import "time"

// RawSample is one advertisement observed by one receiver. Treated as immutable.
type RawSample struct {
	ReceiverID string    `json:"receiver_id"`
	BeaconID   string    `json:"beacon_id"`
	RSSI       float64   `json:"rssi"` // dBm
	Timestamp  time.Time `json:"ts"`
}

// StreamStatus reports whether a receiver stream for a beacon is recent enough to decide on.
type StreamStatus string

const (
	StreamFresh StreamStatus = "FRESH"
	StreamStale StreamStatus = "STALE"
)
