package models

import "time"

// State is the presence of a beacon relative to the harbor.
type State string

const (
	StateOut      State = "OUT"
	StateInHarbor State = "IN_HARBOR"
)

// PresenceState is the authoritative state of one beacon (presence_states table).
type PresenceState struct {
	BeaconID         string     `json:"beacon_id" db:"beacon_id"`
	State            State      `json:"state" db:"state"`
	EnteredAt        *time.Time `json:"entered_at,omitempty" db:"entered_at"` // set only while IN_HARBOR
	LastTransitionAt time.Time  `json:"last_transition_at" db:"last_transition_at"`
}

// PresenceChange is emitted for every accepted transition (presence_transitions table).
type PresenceChange struct {
	BeaconID string        `json:"beacon_id"`
	From     State         `json:"from"`
	To       State         `json:"to"`
	At       time.Time     `json:"at"`
	Duration time.Duration `json:"stay_ns,omitempty"` // harbor stay length, LEAVE only
	EventID  string        `json:"event_id"`
	State    PresenceState `json:"state"`
}
