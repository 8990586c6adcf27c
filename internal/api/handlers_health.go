package api

import (
	"net/http"
)

// HealthResponse reports service status.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	DB         string `json:"db"`
	Message    string `json:"message,omitempty"`
	SSEClients int    `json:"sseClients"`
}

// HealthHandler serves liveness endpoints.
type HealthHandler struct {
	db      Pinger
	events  EventStream
	version string
}

func NewHealthHandler(db Pinger, events EventStream, version string) *HealthHandler {
	return &HealthHandler{db: db, events: events, version: version}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Version: h.version, DB: "ok"}
	if h.events != nil {
		resp.SSEClients = h.events.ClientCount()
	}

	if h.db != nil {
		if err := h.db.Ping(); err != nil {
			resp.Status = "degraded"
			resp.DB = "error"
			resp.Message = err.Error()
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// Version handles GET /api/version.
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.version})
}
