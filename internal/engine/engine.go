// Package engine runs clustering passes, registry maintenance and index rendering.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"

	"github.com/thebtf/clusterd/internal/collector"
	"github.com/thebtf/clusterd/internal/db/gorm"
	"github.com/thebtf/clusterd/internal/embedding"
	"github.com/thebtf/clusterd/internal/index"
	"github.com/thebtf/clusterd/internal/registry"
	"github.com/thebtf/clusterd/pkg/models"
	"github.com/thebtf/clusterd/pkg/similarity"
)

// ErrInvalidIndexType is returned for an unknown index request type.
var ErrInvalidIndexType = errors.New("invalid index type")

// Event names published to the notifier.
const (
	EventAutocluster = "autocluster"
	EventDedup       = "dedup"
)

// DefaultMinClusterSize drops smaller groups proposed by the clustering pass.
const DefaultMinClusterSize = 2

// MetadataLister reads the metadata cache.
type MetadataLister interface {
	ListMetadata(ctx context.Context, filter gorm.MetadataFilter) ([]*models.SessionMetadata, error)
}

// Notifier receives run results. The SSE broadcaster implements it.
type Notifier interface {
	Broadcast(data interface{})
}

// Event is a notification payload.
type Event struct {
	Data interface{} `json:"data"`
	Type string      `json:"type"`
	At   time.Time   `json:"at"`
}

// EventName names the event on the SSE stream.
func (e Event) EventName() string { return e.Type }

// Config tunes the engine.
type Config struct {
	Threshold      float64
	MinClusterSize int
	Workers        int
	MaxClusters    int
	MaxSessions    int
}

// Engine is the session clustering engine. Autocluster and
// DeduplicateClusters never run concurrently; GetProgressiveIndex reads a
// registry snapshot and may run alongside them.
type Engine struct {
	runMu sync.Mutex

	collector  *collector.Collector
	registry   *registry.Registry
	metadata   MetadataLister
	embeddings embedding.Provider
	builder    *index.Builder
	notifier   Notifier
	metrics    *metrics
	now        func() time.Time

	threshold      float64
	minClusterSize int
	workers        int
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier publishes run results to n.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithMeterProvider records metrics with provider instead of the global one.
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(e *Engine) { e.metrics = newMetrics(provider) }
}

// New wires an engine. A nil embedding provider means no embeddings.
func New(c *collector.Collector, reg *registry.Registry, meta MetadataLister, emb embedding.Provider, cfg Config, opts ...Option) *Engine {
	if emb == nil {
		emb = embedding.None{}
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = similarity.DefaultThreshold
	}
	if cfg.MinClusterSize < 2 {
		cfg.MinClusterSize = DefaultMinClusterSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}

	e := &Engine{
		collector:      c,
		registry:       reg,
		metadata:       meta,
		embeddings:     emb,
		builder:        index.NewBuilder(cfg.MaxClusters, cfg.MaxSessions),
		now:            time.Now,
		threshold:      cfg.Threshold,
		minClusterSize: cfg.MinClusterSize,
		workers:        cfg.Workers,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.metrics == nil {
		e.metrics = newMetrics(nil)
	}
	return e
}

// Registry returns the cluster registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Autocluster collects sessions, clusters the unclustered ones and registers
// the resulting groups. No matching sessions yields a zero result.
func (e *Engine) Autocluster(ctx context.Context, opts models.AutoclusterOptions) (result *models.AutoclusterResult, err error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	started := time.Now()
	defer func() { e.metrics.recordRun(ctx, EventAutocluster, started, err) }()

	scope := opts.Scope
	if scope == "" {
		scope = models.ScopeAll
	}
	minSize := opts.MinClusterSize
	if minSize < 2 {
		minSize = e.minClusterSize
	}

	records, err := e.collector.Collect(ctx, scope, opts.TimeRange)
	if err != nil {
		return nil, fmt.Errorf("collect sessions: %w", err)
	}

	candidates := make([]*models.SessionMetadata, 0, len(records))
	for _, r := range records {
		if !e.registry.IsClustered(r.SessionID) {
			candidates = append(candidates, r)
		}
	}
	result = &models.AutoclusterResult{SessionsProcessed: len(candidates)}
	if len(candidates) < 2 {
		log.Info().Str("scope", string(scope)).Int("sessions", len(candidates)).Msg("Nothing to cluster")
		return result, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.SessionID
	}
	vectors := embedding.Lookup(ctx, e.embeddings, ids)

	matrix, err := similarity.BuildMatrix(ctx, candidates, vectors, e.workers)
	if err != nil {
		return nil, fmt.Errorf("build relevance matrix: %w", err)
	}

	var groups [][]string
	for _, g := range similarity.Cluster(candidates, matrix, e.threshold) {
		if len(g) >= minSize {
			groups = append(groups, g)
		}
	}

	applied, err := e.registry.Apply(ctx, groups)
	if err != nil {
		return nil, err
	}
	result.ClustersCreated = len(applied.Created)
	result.ClustersMerged = len(applied.Merged)
	result.SessionsClustered = applied.Assigned

	e.metrics.add(ctx, e.metrics.created, result.ClustersCreated, EventAutocluster)
	e.metrics.add(ctx, e.metrics.merged, result.ClustersMerged, EventAutocluster)
	e.metrics.add(ctx, e.metrics.sessions, result.SessionsClustered, EventAutocluster)

	log.Info().
		Str("scope", string(scope)).
		Int("sessions", result.SessionsProcessed).
		Int("embeddings", len(vectors)).
		Int("groups", len(groups)).
		Int("created", result.ClustersCreated).
		Int("merged", result.ClustersMerged).
		Int("clustered", result.SessionsClustered).
		Dur("took", time.Since(started)).
		Msg("Autocluster run complete")

	e.publish(EventAutocluster, result)
	return result, nil
}

// DeduplicateClusters runs registry maintenance.
func (e *Engine) DeduplicateClusters(ctx context.Context) (result *models.DedupResult, err error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	started := time.Now()
	defer func() { e.metrics.recordRun(ctx, EventDedup, started, err) }()

	result, err = e.registry.Deduplicate(ctx)
	if err != nil {
		return nil, err
	}
	e.metrics.add(ctx, e.metrics.merged, result.Merged, EventDedup)

	log.Info().
		Int("merged", result.Merged).
		Int("deleted", result.Deleted).
		Int("remaining", result.Remaining).
		Msg("Cluster deduplication complete")

	e.publish(EventDedup, result)
	return result, nil
}

// GetProgressiveIndex renders the index for req. An empty type means session-start.
func (e *Engine) GetProgressiveIndex(ctx context.Context, req index.Request) (string, error) {
	switch req.Type {
	case "":
		req.Type = index.TypeSessionStart
	case index.TypeSessionStart, index.TypeContext:
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidIndexType, req.Type)
	}

	clusters := e.registry.Snapshot()
	records, err := e.metadata.ListMetadata(ctx, gorm.MetadataFilter{})
	if err != nil {
		return "", fmt.Errorf("list metadata: %w", err)
	}
	return e.builder.Build(req, clusters, records), nil
}

// Clusters returns a snapshot of every cluster, oldest first.
func (e *Engine) Clusters() []*models.Cluster {
	return e.registry.Snapshot()
}

func (e *Engine) publish(eventType string, data interface{}) {
	if e.notifier == nil {
		return
	}
	e.notifier.Broadcast(Event{Type: eventType, Data: data, At: e.now().UTC()})
}
