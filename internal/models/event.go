package models

import "time"

// Direction is the decided direction of travel through the doorway.
type Direction string

const (
	DirectionEnter Direction = "ENTER" // water side → harbor side
	DirectionLeave Direction = "LEAVE" // harbor side → water side
)

// DirectionEvent is an accepted passage (direction_events table).
type DirectionEvent struct {
	EventID    string        `json:"event_id" db:"event_id"`
	BeaconID   string        `json:"beacon_id" db:"beacon_id"`
	Direction  Direction     `json:"direction" db:"direction"`
	DetectedAt time.Time     `json:"detected_at" db:"detected_at"`
	Lag        time.Duration `json:"lag_ns" db:"lag_ms"` // time between the two peaks, always >= 0
	NearPeak   float64       `json:"near_peak_db" db:"near_peak_db"` // harbor side, filtered dBm
	FarPeak    float64       `json:"far_peak_db" db:"far_peak_db"`   // water side, filtered dBm
	Gap        float64       `json:"gap_db" db:"gap_db"`
}
