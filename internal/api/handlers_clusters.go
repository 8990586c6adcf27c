package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/clusterd/internal/engine"
	"github.com/thebtf/clusterd/internal/index"
	"github.com/thebtf/clusterd/pkg/models"
)

// AutoclusterRequest is the body of POST /api/autocluster. Every field is optional.
type AutoclusterRequest struct {
	TimeRange      models.TimeRange `json:"timeRange"`
	Scope          string           `json:"scope"`
	MinClusterSize int              `json:"minClusterSize"`
}

// ClustersResponse is the body of GET /api/clusters.
type ClustersResponse struct {
	Clusters []*models.Cluster `json:"clusters"`
	Total    int               `json:"total"`
}

// ClusterHandler serves clustering operations.
type ClusterHandler struct {
	eng Engine
}

func NewClusterHandler(eng Engine) *ClusterHandler {
	return &ClusterHandler{eng: eng}
}

// Autocluster handles POST /api/autocluster.
func (h *ClusterHandler) Autocluster(w http.ResponseWriter, r *http.Request) {
	var req AutoclusterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	scope, err := models.ParseScope(req.Scope)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.TimeRange.Start.IsZero() && !req.TimeRange.End.IsZero() && req.TimeRange.End.Before(req.TimeRange.Start) {
		writeError(w, http.StatusBadRequest, "timeRange end precedes start")
		return
	}
	if req.MinClusterSize < 0 {
		writeError(w, http.StatusBadRequest, "minClusterSize must not be negative")
		return
	}

	result, err := h.eng.Autocluster(r.Context(), models.AutoclusterOptions{
		Scope:          scope,
		TimeRange:      req.TimeRange,
		MinClusterSize: req.MinClusterSize,
	})
	if err != nil {
		log.Error().Err(err).Str("requestId", GetRequestID(r)).Msg("Autocluster failed")
		writeError(w, http.StatusInternalServerError, "autocluster: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Dedup handles POST /api/clusters/dedup.
func (h *ClusterHandler) Dedup(w http.ResponseWriter, r *http.Request) {
	result, err := h.eng.DeduplicateClusters(r.Context())
	if err != nil {
		log.Error().Err(err).Str("requestId", GetRequestID(r)).Msg("Deduplication failed")
		writeError(w, http.StatusInternalServerError, "dedup: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// List handles GET /api/clusters.
func (h *ClusterHandler) List(w http.ResponseWriter, r *http.Request) {
	clusters := h.eng.Clusters()
	if clusters == nil {
		clusters = []*models.Cluster{}
	}
	writeJSON(w, http.StatusOK, ClustersResponse{Clusters: clusters, Total: len(clusters)})
}

// Get handles GET /api/clusters/{id}.
func (h *ClusterHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, c := range h.eng.Clusters() {
		if c.ID == id {
			writeJSON(w, http.StatusOK, c)
			return
		}
	}
	writeError(w, http.StatusNotFound, "cluster not found")
}

// Index handles GET and POST /api/index. GET reads type, sessionId and
// prompt from the query string; POST reads an index.Request body.
func (h *ClusterHandler) Index(w http.ResponseWriter, r *http.Request) {
	var req index.Request
	if r.Method == http.MethodPost {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	} else {
		q := r.URL.Query()
		req = index.Request{
			Type:      index.Type(q.Get("type")),
			SessionID: q.Get("sessionId"),
			Prompt:    q.Get("prompt"),
		}
	}

	text, err := h.eng.GetProgressiveIndex(r.Context(), req)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidIndexType) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Str("requestId", GetRequestID(r)).Msg("Index build failed")
		writeError(w, http.StatusInternalServerError, "index: "+err.Error())
		return
	}
	writeText(w, http.StatusOK, text)
}
