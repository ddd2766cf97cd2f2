// Package presence tracks whether each beacon is IN_HARBOR or OUT from the
// stream of accepted direction events.
package presence

import (
	"time"

	"harbor-presence/internal/models"

	"go.uber.org/zap"
)

// Machine is the two-state presence machine of one beacon. Not safe for concurrent use.
type Machine struct {
	state  models.PresenceState
	logger *zap.Logger
}

// NewMachine starts beaconID in OUT.
func NewMachine(beaconID string, logger *zap.Logger) *Machine {
	return &Machine{
		state:  models.PresenceState{BeaconID: beaconID, State: models.StateOut},
		logger: logger.With(zap.String("beacon_id", beaconID)),
	}
}

// Seed installs an externally persisted state. An unknown state value is treated as OUT.
func (m *Machine) Seed(s models.PresenceState) {
	s.BeaconID = m.state.BeaconID
	if s.State != models.StateInHarbor {
		s.State = models.StateOut
		s.EnteredAt = nil
	}
	m.state = s
}

// State returns a copy of the current state.
func (m *Machine) State() models.PresenceState {
	s := m.state
	if s.EnteredAt != nil {
		t := *s.EnteredAt
		s.EnteredAt = &t
	}
	return s
}

// Apply feeds an accepted direction event. It returns the resulting change, or
// nil when the event is a duplicate for the current state.
func (m *Machine) Apply(ev models.DirectionEvent) *models.PresenceChange {
	from := m.state.State

	switch {
	case from == models.StateOut && ev.Direction == models.DirectionEnter:
		enteredAt := ev.DetectedAt
		m.state.State = models.StateInHarbor
		m.state.EnteredAt = &enteredAt
		m.state.LastTransitionAt = ev.DetectedAt
		return m.change(from, ev, 0)

	case from == models.StateInHarbor && ev.Direction == models.DirectionLeave:
		var stay time.Duration
		if m.state.EnteredAt != nil {
			stay = ev.DetectedAt.Sub(*m.state.EnteredAt)
		}
		m.state.State = models.StateOut
		m.state.EnteredAt = nil
		m.state.LastTransitionAt = ev.DetectedAt
		return m.change(from, ev, stay)
	}

	m.logger.Warn("Duplicate direction event discarded",
		zap.String("state", string(from)),
		zap.String("direction", string(ev.Direction)),
		zap.String("event_id", ev.EventID),
		zap.Time("detected_at", ev.DetectedAt),
	)
	return nil
}

func (m *Machine) change(from models.State, ev models.DirectionEvent, stay time.Duration) *models.PresenceChange {
	return &models.PresenceChange{
		BeaconID: m.state.BeaconID,
		From:     from,
		To:       m.state.State,
		At:       ev.DetectedAt,
		Duration: stay,
		EventID:  ev.EventID,
		State:    m.State(),
	}
}
