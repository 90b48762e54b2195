// Package status serves the notifier's HTTP status API.
package status

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rickgao/liveupdates/internal/connection"
	"github.com/rickgao/liveupdates/internal/model"
	"github.com/rickgao/liveupdates/internal/realtime"
	"github.com/rickgao/liveupdates/internal/subscription"
)

// Service is the part of realtime.Service the handlers use.
type Service interface {
	IsConnected() bool
	Stats() realtime.Stats
	Destinations() []string
	LatestUpdate() (model.Update, bool)
	Subscribe(destination string, callback subscription.Callback) subscription.Handle
	Unsubscribe(destination string)
}

// CallbackFactory builds the callback registered for destinations added over
// HTTP.
type CallbackFactory func(destination string) subscription.Callback

type handler struct {
	svc         Service
	newCallback CallbackFactory
	instanceID  string
	started     time.Time
	logger      *slog.Logger
}

// NewHandler returns the router for the status API:
//
//	GET    /health
//	GET    /status
//	GET    /updates/latest
//	GET    /subscriptions
//	POST   /subscriptions              {"destination": "/topic/x"}
//	DELETE /subscriptions?destination=/topic/x
func NewHandler(svc Service, instanceID string, newCallback CallbackFactory, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handler{
		svc:         svc,
		newCallback: newCallback,
		instanceID:  instanceID,
		started:     time.Now(),
		logger:      logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Get("/status", h.status)
	r.Get("/updates/latest", h.latest)
	r.Route("/subscriptions", func(r chi.Router) {
		r.Get("/", h.listSubscriptions)
		r.Post("/", h.addSubscription)
		r.Delete("/", h.removeSubscription)
	})

	return r
}

type healthResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	State     string `json:"state"`
}

// health is 200 while connected or reconnecting, 503 once reconnects are
// exhausted or the service is closed.
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	stats := h.svc.Stats()
	resp := healthResponse{
		Status:    "healthy",
		Connected: stats.Connected,
		State:     stats.State,
	}

	code := http.StatusOK
	switch {
	case stats.Connected:
	case stats.Exhausted,
		stats.State == connection.StateClosed.String(),
		stats.State == connection.StateIdle.String():
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	default:
		resp.Status = "degraded"
	}

	h.writeJSON(w, code, resp)
}

type statusResponse struct {
	Instance          string             `json:"instance"`
	Uptime            string             `json:"uptime"`
	State             string             `json:"state"`
	Connected         bool               `json:"connected"`
	ReconnectAttempts int                `json:"reconnect_attempts"`
	Exhausted         bool               `json:"exhausted"`
	LastUpdate        *time.Time         `json:"last_update,omitempty"`
	Subscriptions     subscriptionCounts `json:"subscriptions"`
	Dispatch          dispatchCounts     `json:"dispatch"`
	Feed              feedCounts         `json:"feed"`
}

type subscriptionCounts struct {
	Destinations int `json:"destinations"`
	Callbacks    int `json:"callbacks"`
	Live         int `json:"live"`
}

type dispatchCounts struct {
	Received         int64 `json:"received"`
	Dispatched       int64 `json:"dispatched"`
	ParseErrors      int64 `json:"parse_errors"`
	UnknownKinds     int64 `json:"unknown_kinds"`
	CallbacksInvoked int64 `json:"callbacks_invoked"`
	CallbackPanics   int64 `json:"callback_panics"`
}

type feedCounts struct {
	Buffered  int   `json:"buffered"`
	Capacity  int   `json:"capacity"`
	Published int64 `json:"published"`
	Delivered int64 `json:"delivered"`
	Dropped   int64 `json:"dropped"`
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	s := h.svc.Stats()
	resp := statusResponse{
		Instance:          h.instanceID,
		Uptime:            time.Since(h.started).Round(time.Second).String(),
		State:             s.State,
		Connected:         s.Connected,
		ReconnectAttempts: s.ReconnectAttempts,
		Exhausted:         s.Exhausted,
		Subscriptions: subscriptionCounts{
			Destinations: s.Subscriptions.Destinations,
			Callbacks:    s.Subscriptions.Callbacks,
			Live:         s.Subscriptions.Live,
		},
		Dispatch: dispatchCounts{
			Received:         s.Dispatch.Received,
			Dispatched:       s.Dispatch.Dispatched,
			ParseErrors:      s.Dispatch.ParseErrors,
			UnknownKinds:     s.Dispatch.UnknownKinds,
			CallbacksInvoked: s.Dispatch.CallbacksInvoked,
			CallbackPanics:   s.Dispatch.CallbackPanics,
		},
		Feed: feedCounts{
			Buffered:  s.Feed.Count,
			Capacity:  s.Feed.Capacity,
			Published: s.Feed.Published,
			Delivered: s.Feed.Delivered,
			Dropped:   s.Feed.Dropped,
		},
	}
	if !s.LastUpdate.IsZero() {
		last := s.LastUpdate
		resp.LastUpdate = &last
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handler) latest(w http.ResponseWriter, r *http.Request) {
	u, ok := h.svc.LatestUpdate()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, u)
}

func (h *handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	dests := h.svc.Destinations()
	if dests == nil {
		dests = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"count":        len(dests),
		"destinations": dests,
	})
}

type subscribeRequest struct {
	Destination string `json:"destination"`
}

func (h *handler) addSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	dest := strings.TrimSpace(req.Destination)
	if dest == "" {
		h.writeError(w, http.StatusBadRequest, "destination is required")
		return
	}
	if h.newCallback == nil {
		h.writeError(w, http.StatusNotImplemented, "subscriptions are read-only")
		return
	}

	handle := h.svc.Subscribe(dest, h.newCallback(dest))
	h.logger.Info("subscription added",
		"destination", dest,
		"handle", uint64(handle),
		"request_id", middleware.GetReqID(r.Context()),
	)

	h.writeJSON(w, http.StatusCreated, map[string]any{
		"destination": dest,
		"handle":      uint64(handle),
	})
}

func (h *handler) removeSubscription(w http.ResponseWriter, r *http.Request) {
	dest := strings.TrimSpace(r.URL.Query().Get("destination"))
	if dest == "" {
		h.writeError(w, http.StatusBadRequest, "destination is required")
		return
	}

	h.svc.Unsubscribe(dest)
	h.logger.Info("subscription removed",
		"destination", dest,
		"request_id", middleware.GetReqID(r.Context()),
	)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("write response", "error", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, map[string]string{"error": msg})
}
