package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"harbor-presence/internal/models"
	"harbor-presence/internal/profile"
	"harbor-presence/internal/tracker"

	"go.uber.org/zap"
)

// PresenceSource is the tracker surface the handlers read.
type PresenceSource interface {
	Presence(beaconID string) models.PresenceState
	Snapshot() []models.PresenceState
	Metrics() tracker.MetricsSnapshot
	ActiveBeacons() int
}

// EventHistory returns recent direction events of a beacon.
type EventHistory interface {
	RecentEvents(ctx context.Context, beaconID string, limit int) ([]models.DirectionEvent, error)
}

// EventFeed returns the newest direction events across all beacons.
type EventFeed interface {
	RecentDirectionEvents(ctx context.Context, limit int) ([]models.DirectionEvent, error)
}

type Handler struct {
	presence PresenceSource
	history  EventHistory // optional
	feed     EventFeed    // optional
	profiles *profile.Store
	reload   func()
	logger   *zap.Logger
}

func NewHandler(presence PresenceSource, history EventHistory, feed EventFeed, profiles *profile.Store, reload func(), logger *zap.Logger) *Handler {
	return &Handler{
		presence: presence,
		history:  history,
		feed:     feed,
		profiles: profiles,
		reload:   reload,
		logger:   logger,
	}
}

type healthResponse struct {
	Status         string `json:"status"`
	ProfileVersion int    `json:"profile_version"`
	Degraded       bool   `json:"degraded"`
	ActiveBeacons  int    `json:"active_beacons"`
}

// Health reports "degraded" while the tracker runs on the built-in default profile.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:         "ok",
		ProfileVersion: h.profiles.Current().Version,
		Degraded:       h.profiles.Degraded(),
		ActiveBeacons:  h.presence.ActiveBeacons(),
	}
	if resp.Degraded {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Metrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.presence.Metrics())
}

func (h *Handler) ListPresence(w http.ResponseWriter, r *http.Request) {
	states := h.presence.Snapshot()
	if want := r.URL.Query().Get("state"); want != "" {
		filtered := states[:0]
		for _, s := range states {
			if string(s.State) == want {
				filtered = append(filtered, s)
			}
		}
		states = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": states, "total": len(states)})
}

type presenceDetail struct {
	models.PresenceState
	RecentEvents []models.DirectionEvent `json:"recent_events,omitempty"`
}

func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	beacon := r.PathValue("beacon")
	detail := presenceDetail{PresenceState: h.presence.Presence(beacon)}

	if h.history != nil {
		limit := parseInt(r.URL.Query().Get("events"), 10)
		events, err := h.history.RecentEvents(r.Context(), beacon, limit)
		if err != nil {
			h.logger.Warn("Failed to load recent events", zap.String("beacon_id", beacon), zap.Error(err))
		} else {
			detail.RecentEvents = events
		}
	}
	writeJSON(w, http.StatusOK, detail)
}

// ListEvents serves the newest direction events, capped at 500.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	if h.feed == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event feed not configured"})
		return
	}
	limit := min(parseInt(r.URL.Query().Get("limit"), 50), 500)
	events, err := h.feed.RecentDirectionEvents(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to read event feed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "event feed unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events, "total": len(events)})
}

func (h *Handler) GetProfile(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"degraded": h.profiles.Degraded(),
		"profile":  h.profiles.Current(),
	})
}

// ReloadProfile queues a profile reload, the same as SIGHUP.
func (h *Handler) ReloadProfile(w http.ResponseWriter, _ *http.Request) {
	if h.reload == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "reload not available"})
		return
	}
	h.reload()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reload requested"})
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil || i <= 0 {
		return def
	}
	return i
}
