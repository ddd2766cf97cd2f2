package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router wraps http.ServeMux with the service's route table.
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterRoutes installs the operational endpoints and, if feed is non-nil,
// the websocket live feed at /ws.
func (r *Router) RegisterRoutes(h *Handler, feed http.Handler) {
	r.Handle("GET /healthz", h.Health)
	r.Handle("GET /metrics", h.Metrics)
	r.Handle("GET /api/v1/presence", h.ListPresence)
	r.Handle("GET /api/v1/presence/{beacon}", h.GetPresence)
	r.Handle("GET /api/v1/events", h.ListEvents)
	r.Handle("GET /api/v1/profile", h.GetProfile)
	r.Handle("POST /api/v1/profile/reload", h.ReloadProfile)
	if feed != nil {
		r.HandleHandler("/ws", feed)
	}
}
