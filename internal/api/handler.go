package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsewatch/pulsewatch/internal/notify"
	"github.com/pulsewatch/pulsewatch/internal/probe"
	"github.com/pulsewatch/pulsewatch/internal/state"
)

// Handler is the HTTP handler for the operator status surface: current state
// per service, transition history, and delivery records, plus /metrics.
type Handler struct {
	tracker    *state.Tracker
	dispatcher *notify.Dispatcher
	mux        *http.ServeMux
	apiKey     func() string
}

// New creates a Handler and registers all routes. stream, when non-nil, is
// mounted at /api/v1/ws. apiKey is re-resolved per request so a hot-reloaded
// key takes effect without restart; an empty key disables authentication.
func New(tracker *state.Tracker, dispatcher *notify.Dispatcher, stream http.Handler, apiKey func() string) http.Handler {
	h := &Handler{
		tracker:    tracker,
		dispatcher: dispatcher,
		mux:        http.NewServeMux(),
		apiKey:     apiKey,
	}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/services", h.listServices)
	h.mux.HandleFunc("/api/v1/services/", h.getService) // subtree — extracts {name}
	h.mux.HandleFunc("/api/v1/history", h.history)
	h.mux.HandleFunc("/api/v1/deliveries", h.deliveries)
	if stream != nil {
		h.mux.Handle("/api/v1/ws", stream)
	}
	h.mux.Handle("/metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if key := h.apiKey(); key != "" && r.URL.Path != "/metrics" {
		if r.Header.Get("X-API-Key") != key {
			jsonErr(w, http.StatusUnauthorized, "invalid api key")
			return
		}
	}
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health — per-status counts across all services.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	states := h.tracker.States()
	resp := HealthResponse{
		ServiceCount: len(states),
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	for _, st := range states {
		switch st.Status {
		case probe.StatusUp:
			resp.UpCount++
		case probe.StatusDown:
			resp.DownCount++
		case probe.StatusDegraded:
			resp.DegradedCount++
		default:
			resp.UnknownCount++
		}
	}

	switch {
	case resp.DownCount > 0:
		resp.State = string(probe.StatusDown)
	case resp.DegradedCount > 0:
		resp.State = string(probe.StatusDegraded)
	case resp.UpCount > 0:
		resp.State = string(probe.StatusUp)
	default:
		resp.State = string(probe.StatusUnknown)
	}
	jsonResp(w, http.StatusOK, resp)
}

// listServices returns GET /api/v1/services — all tracked service states.
func (h *Handler) listServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.tracker.States())
}

// getService returns GET /api/v1/services/{name} — one service's state.
func (h *Handler) getService(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/api/v1/services/")
	if name == "" {
		h.listServices(w, r)
		return
	}

	st, ok := h.tracker.State(name)
	if !ok {
		jsonErr(w, http.StatusNotFound, "service not found")
		return
	}
	jsonResp(w, http.StatusOK, st)
}

// history returns GET /api/v1/history?limit=N — transitions, newest first.
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.tracker.History(limitParam(r)))
}

// deliveries returns GET /api/v1/deliveries?limit=N — delivery records,
// newest first.
func (h *Handler) deliveries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.dispatcher.Records(limitParam(r)))
}

// --- helpers ----------------------------------------------------------------

// limitParam parses the optional ?limit query parameter. 0 means no limit.
func limitParam(r *http.Request) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
