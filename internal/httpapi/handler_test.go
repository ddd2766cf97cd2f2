package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"harbor-presence/internal/models"
	"harbor-presence/internal/profile"
	"harbor-presence/internal/tracker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePresence struct {
	states map[string]models.PresenceState
}

func (f *fakePresence) Presence(id string) models.PresenceState {
	if s, ok := f.states[id]; ok {
		return s
	}
	return models.PresenceState{BeaconID: id, State: models.StateOut}
}

func (f *fakePresence) Snapshot() []models.PresenceState {
	return []models.PresenceState{f.states["boat-1"], f.states["boat-2"]}
}

func (f *fakePresence) Metrics() tracker.MetricsSnapshot {
	return tracker.MetricsSnapshot{SamplesReceived: 42, DirectionEvents: 3}
}

func (f *fakePresence) ActiveBeacons() int { return 2 }

type mockHistory struct {
	mock.Mock
}

func (m *mockHistory) RecentEvents(ctx context.Context, beaconID string, limit int) ([]models.DirectionEvent, error) {
	args := m.Called(ctx, beaconID, limit)
	events, _ := args.Get(0).([]models.DirectionEvent)
	return events, args.Error(1)
}

type fakeFeed struct {
	limit int
	err   error
}

func (f *fakeFeed) RecentDirectionEvents(_ context.Context, limit int) ([]models.DirectionEvent, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	return []models.DirectionEvent{{EventID: "ev-9", Direction: models.DirectionLeave}}, nil
}

func newTestRouter(t *testing.T, history EventHistory, store *profile.Store, reload func()) *Router {
	return newTestRouterWithFeed(t, history, nil, store, reload)
}

func newTestRouterWithFeed(t *testing.T, history EventHistory, feed EventFeed, store *profile.Store, reload func()) *Router {
	t.Helper()
	entered := time.Date(2026, 8, 12, 6, 0, 0, 0, time.UTC)
	src := &fakePresence{states: map[string]models.PresenceState{
		"boat-1": {BeaconID: "boat-1", State: models.StateInHarbor, EnteredAt: &entered, LastTransitionAt: entered},
		"boat-2": {BeaconID: "boat-2", State: models.StateOut, LastTransitionAt: entered},
	}}
	r := NewRouter(zap.NewNop())
	r.RegisterRoutes(NewHandler(src, history, feed, store, reload, zap.NewNop()), nil)
	return r
}

func do(t *testing.T, r http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestHealth_DegradedWithoutProfile(t *testing.T) {
	r := newTestRouter(t, nil, profile.NewStore(nil), nil)

	rec := do(t, r, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.True(t, body.Degraded)
	assert.Equal(t, 2, body.ActiveBeacons)
}

func TestHealth_CalibratedProfile(t *testing.T) {
	p := profile.Default()
	p.Version = 4
	r := newTestRouter(t, nil, profile.NewStore(p), nil)

	var body healthResponse
	require.NoError(t, json.Unmarshal(do(t, r, http.MethodGet, "/healthz").Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, 4, body.ProfileVersion)
}

func TestListPresence_FilterByState(t *testing.T) {
	r := newTestRouter(t, nil, profile.NewStore(nil), nil)

	var body struct {
		Items []models.PresenceState `json:"items"`
		Total int                    `json:"total"`
	}
	require.NoError(t, json.Unmarshal(do(t, r, http.MethodGet, "/api/v1/presence?state=IN_HARBOR").Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	assert.Equal(t, "boat-1", body.Items[0].BeaconID)
}

func TestGetPresence_WithHistory(t *testing.T) {
	h := &mockHistory{}
	h.On("RecentEvents", mock.Anything, "boat-1", 5).
		Return([]models.DirectionEvent{{EventID: "ev-1", BeaconID: "boat-1", Direction: models.DirectionEnter}}, nil)
	r := newTestRouter(t, h, profile.NewStore(nil), nil)

	rec := do(t, r, http.MethodGet, "/api/v1/presence/boat-1?events=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var body presenceDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.StateInHarbor, body.State)
	require.Len(t, body.RecentEvents, 1)
	assert.Equal(t, "ev-1", body.RecentEvents[0].EventID)
	h.AssertExpectations(t)
}

func TestGetPresence_UnknownBeaconIsOut(t *testing.T) {
	h := &mockHistory{}
	h.On("RecentEvents", mock.Anything, "ghost", 10).Return(nil, errors.New("db down"))
	r := newTestRouter(t, h, profile.NewStore(nil), nil)

	var body presenceDetail
	require.NoError(t, json.Unmarshal(do(t, r, http.MethodGet, "/api/v1/presence/ghost").Body.Bytes(), &body))
	assert.Equal(t, models.StateOut, body.State)
	assert.Empty(t, body.RecentEvents)
}

func TestReloadProfile(t *testing.T) {
	calls := 0
	r := newTestRouter(t, nil, profile.NewStore(nil), func() { calls++ })

	assert.Equal(t, http.StatusAccepted, do(t, r, http.MethodPost, "/api/v1/profile/reload").Code)
	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, r, http.MethodGet, "/api/v1/profile/reload").Code)
}

func TestMetrics(t *testing.T) {
	r := newTestRouter(t, nil, profile.NewStore(nil), nil)

	var body tracker.MetricsSnapshot
	require.NoError(t, json.Unmarshal(do(t, r, http.MethodGet, "/metrics").Body.Bytes(), &body))
	assert.Equal(t, int64(42), body.SamplesReceived)
}

func TestListEvents(t *testing.T) {
	feed := &fakeFeed{}
	r := newTestRouterWithFeed(t, nil, feed, profile.NewStore(nil), nil)

	rec := do(t, r, http.MethodGet, "/api/v1/events?limit=9999")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 500, feed.limit)

	var body struct {
		Items []models.DirectionEvent `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "ev-9", body.Items[0].EventID)

	feed.err = errors.New("redis down")
	assert.Equal(t, http.StatusBadGateway, do(t, r, http.MethodGet, "/api/v1/events").Code)
	assert.Equal(t, 50, feed.limit)
}

func TestListEvents_NoFeed(t *testing.T) {
	r := newTestRouter(t, nil, profile.NewStore(nil), nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, r, http.MethodGet, "/api/v1/events").Code)
}
