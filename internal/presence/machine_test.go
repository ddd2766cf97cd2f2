package presence

import (
	"testing"
	"time"

	"harbor-presence/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 6, 1, 7, 30, 0, 0, time.UTC)

func event(dir models.Direction, at time.Time) models.DirectionEvent {
	return models.DirectionEvent{EventID: string(dir) + at.Format("150405"), BeaconID: "boat-7", Direction: dir, DetectedAt: at}
}

func TestMachine_InitialOut(t *testing.T) {
	m := NewMachine("boat-7", zap.NewNop())
	s := m.State()
	assert.Equal(t, models.StateOut, s.State)
	assert.Nil(t, s.EnteredAt)
}

func TestMachine_EnterThenLeave(t *testing.T) {
	m := NewMachine("boat-7", zap.NewNop())

	ch := m.Apply(event(models.DirectionEnter, t0))
	require.NotNil(t, ch)
	assert.Equal(t, models.StateOut, ch.From)
	assert.Equal(t, models.StateInHarbor, ch.To)
	require.NotNil(t, ch.State.EnteredAt)
	assert.Equal(t, t0, *ch.State.EnteredAt)

	leaveAt := t0.Add(2 * time.Hour)
	ch = m.Apply(event(models.DirectionLeave, leaveAt))
	require.NotNil(t, ch)
	assert.Equal(t, models.StateInHarbor, ch.From)
	assert.Equal(t, models.StateOut, ch.To)
	assert.Equal(t, 2*time.Hour, ch.Duration)
	assert.Nil(t, ch.State.EnteredAt)
	assert.Equal(t, leaveAt, m.State().LastTransitionAt)
}

func TestMachine_DuplicateEnterIsIdempotent(t *testing.T) {
	m := NewMachine("boat-7", zap.NewNop())
	require.NotNil(t, m.Apply(event(models.DirectionEnter, t0)))
	before := m.State()

	assert.Nil(t, m.Apply(event(models.DirectionEnter, t0.Add(time.Minute))))
	assert.Equal(t, before, m.State())
}

func TestMachine_LeaveWhileOutDiscarded(t *testing.T) {
	m := NewMachine("boat-7", zap.NewNop())
	assert.Nil(t, m.Apply(event(models.DirectionLeave, t0)))
	assert.Equal(t, models.StateOut, m.State().State)
}

func TestMachine_SeedInHarbor(t *testing.T) {
	m := NewMachine("boat-7", zap.NewNop())
	entered := t0.Add(-time.Hour)
	m.Seed(models.PresenceState{BeaconID: "ignored", State: models.StateInHarbor, EnteredAt: &entered, LastTransitionAt: entered})

	assert.Equal(t, "boat-7", m.State().BeaconID)
	assert.Nil(t, m.Apply(event(models.DirectionEnter, t0)))

	ch := m.Apply(event(models.DirectionLeave, t0))
	require.NotNil(t, ch)
	assert.Equal(t, time.Hour, ch.Duration)
}

func TestMachine_SeedUnknownStateIsOut(t *testing.T) {
	m := NewMachine("boat-7", zap.NewNop())
	m.Seed(models.PresenceState{State: "DOCKED"})
	assert.Equal(t, models.StateOut, m.State().State)
}

func TestMachine_StateReturnsCopy(t *testing.T) {
	m := NewMachine("boat-7", zap.NewNop())
	m.Apply(event(models.DirectionEnter, t0))
	s := m.State()
	*s.EnteredAt = t0.Add(time.Hour)
	assert.Equal(t, t0, *m.State().EnteredAt)
}
