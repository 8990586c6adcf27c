// Package api exposes the clustering engine over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/thebtf/clusterd/internal/index"
	"github.com/thebtf/clusterd/pkg/models"
)

// Engine is the subset of engine.Engine served over HTTP.
type Engine interface {
	Autocluster(ctx context.Context, opts models.AutoclusterOptions) (*models.AutoclusterResult, error)
	DeduplicateClusters(ctx context.Context) (*models.DedupResult, error)
	GetProgressiveIndex(ctx context.Context, req index.Request) (string, error)
	Clusters() []*models.Cluster
}

// Pinger checks the backing database.
type Pinger interface {
	Ping() error
}

// EventStream serves the SSE endpoint.
type EventStream interface {
	HandleSSE(w http.ResponseWriter, r *http.Request)
	ClientCount() int
}

// NewRouter creates the chi router with all routes and middleware.
// A nil events stream disables /api/events.
func NewRouter(eng Engine, db Pinger, events EventStream, version string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestID)
	r.Use(Logger)
	r.Use(Recovery)

	healthH := NewHealthHandler(db, events, version)
	clusterH := NewClusterHandler(eng)

	r.Get("/health", healthH.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", healthH.Version)
		r.Post("/autocluster", clusterH.Autocluster)
		r.Get("/clusters", clusterH.List)
		r.Get("/clusters/{id}", clusterH.Get)
		r.Post("/clusters/dedup", clusterH.Dedup)
		r.Get("/index", clusterH.Index)
		r.Post("/index", clusterH.Index)
		if events != nil {
			r.Get("/events", events.HandleSSE)
		}
	})

	return r
}
