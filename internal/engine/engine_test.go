package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm/logger"

	"github.com/thebtf/clusterd/internal/collector"
	"github.com/thebtf/clusterd/internal/db/gorm"
	"github.com/thebtf/clusterd/internal/embedding"
	"github.com/thebtf/clusterd/internal/index"
	"github.com/thebtf/clusterd/internal/registry"
	"github.com/thebtf/clusterd/internal/sources"
	"github.com/thebtf/clusterd/pkg/models"
)

// failingClusterStore rejects every write.
type failingClusterStore struct {
	*gorm.ClusterStore
}

func (failingClusterStore) ApplyClusterChanges(context.Context, *models.ClusterChanges) error {
	return errors.New("database is locked")
}

// recorder captures notifications.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Broadcast(data interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, data.(Event))
}

type memoryDoc struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Files     []string  `json:"files"`
}

// EngineSuite runs the engine against a real SQLite store.
type EngineSuite struct {
	suite.Suite
	dir        string
	store      *gorm.Store
	metadata   *gorm.MetadataStore
	clusters   *gorm.ClusterStore
	embeddings *gorm.EmbeddingStore
	now        time.Time
	docs       []memoryDoc
}

func (s *EngineSuite) SetupTest() {
	s.dir = s.T().TempDir()
	store, err := gorm.NewStore(gorm.Config{Path: filepath.Join(s.dir, "clusterd.db"), LogLevel: logger.Silent})
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = store.Close() })

	s.store = store
	s.metadata = gorm.NewMetadataStore(store)
	s.clusters = gorm.NewClusterStore(store)
	s.embeddings = gorm.NewEmbeddingStore(store)
	s.now = time.Now().UTC().Truncate(time.Second)

	s.docs = []memoryDoc{
		{ID: "s1", Title: "JWT token", Content: "auth", Files: []string{"src/auth.ts"}, CreatedAt: s.now.Add(-3 * time.Hour)},
		{ID: "s2", Title: "JWT token rotation", Content: "auth", Files: []string{"src/auth.ts"}, CreatedAt: s.now.Add(-1 * time.Hour)},
		{ID: "s3", Title: "Docker compose networking", Files: []string{"deploy/docker-compose.yml"}, CreatedAt: s.now.AddDate(0, 0, -40)},
	}
	s.Require().NoError(s.embeddings.PutEmbedding(context.Background(), "s1", models.Embedding{1, 0}, "test"))
	s.Require().NoError(s.embeddings.PutEmbedding(context.Background(), "s2", models.Embedding{0.8, 0.6}, "test"))
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) writeDocs() string {
	path := filepath.Join(s.dir, "memories.json")
	data, err := json.Marshal(map[string]interface{}{"memories": s.docs})
	s.Require().NoError(err)
	s.Require().NoError(os.WriteFile(path, data, 0600))
	return path
}

func (s *EngineSuite) engine(clusterStore registry.ClusterStore, opts ...Option) *Engine {
	reg := registry.New(clusterStore, s.metadata)
	s.Require().NoError(reg.Load(context.Background()))

	srcs := []sources.Source{
		sources.NewMemorySource("memory", s.writeDocs(), models.SessionTypeMemory),
		sources.NewCLIHistorySource("cli", filepath.Join(s.dir, "missing.jsonl")),
	}
	col := collector.New(srcs, s.metadata, collector.WithMembership(reg.IsClustered))
	return New(col, reg, s.metadata, embedding.NewStoreProvider(s.embeddings), Config{Workers: 2}, opts...)
}

func (s *EngineSuite) TestAutoclusterAuthScenario() {
	rec := &recorder{}
	e := s.engine(s.clusters, WithNotifier(rec))

	res, err := e.Autocluster(context.Background(), models.AutoclusterOptions{Scope: models.ScopeAll})
	s.Require().NoError(err)
	s.Equal(&models.AutoclusterResult{ClustersCreated: 1, SessionsProcessed: 3, SessionsClustered: 2}, res)

	persisted, err := s.clusters.ListClusters(context.Background())
	s.Require().NoError(err)
	s.Require().Len(persisted, 1)
	s.Equal("auth-jwt", persisted[0].Name)
	s.Equal("Work on auth-jwt", persisted[0].Intent)
	s.Equal([]string{"s1", "s2"}, persisted[0].Members.Sorted())
	s.False(e.Registry().IsClustered("s3"))

	s.Require().Len(rec.events, 1)
	s.Equal(EventAutocluster, rec.events[0].Type)

	// Clustered sessions are not candidates again.
	again, err := e.Autocluster(context.Background(), models.AutoclusterOptions{})
	s.Require().NoError(err)
	s.Equal(&models.AutoclusterResult{SessionsProcessed: 1}, again)
}

func (s *EngineSuite) TestAutoclusterEmptyScope() {
	e := s.engine(s.clusters)
	res, err := e.Autocluster(context.Background(), models.AutoclusterOptions{
		TimeRange: models.TimeRange{Start: s.now.Add(time.Hour)},
	})
	s.Require().NoError(err)
	s.Equal(&models.AutoclusterResult{}, res)
}

func (s *EngineSuite) TestAutoclusterRecentScope() {
	e := s.engine(s.clusters)
	res, err := e.Autocluster(context.Background(), models.AutoclusterOptions{Scope: models.ScopeRecent})
	s.Require().NoError(err)
	s.Equal(2, res.SessionsProcessed, "the 40 day old session is outside the recent window")
	s.Equal(1, res.ClustersCreated)
}

func (s *EngineSuite) TestAutoclusterMinClusterSize() {
	e := s.engine(s.clusters)
	res, err := e.Autocluster(context.Background(), models.AutoclusterOptions{MinClusterSize: 3})
	s.Require().NoError(err)
	s.Zero(res.ClustersCreated)
	s.Zero(e.Registry().Len())
}

func (s *EngineSuite) TestAutoclusterStoreFailureRollsBack() {
	e := s.engine(failingClusterStore{s.clusters})
	_, err := e.Autocluster(context.Background(), models.AutoclusterOptions{})
	s.Require().Error(err)
	s.Contains(err.Error(), "database is locked")

	s.Zero(e.Registry().Len())
	count, err := s.clusters.CountClusters(context.Background())
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *EngineSuite) TestPartition() {
	s.docs = nil
	topics := []struct {
		title string
		file  string
	}{
		{"Stripe webhook retries", "billing/webhook.go"},
		{"Kafka consumer lag", "stream/consumer.go"},
		{"Terraform state lock", "infra/main.tf"},
	}
	for i := 0; i < 12; i++ {
		t := topics[i%len(topics)]
		s.docs = append(s.docs, memoryDoc{
			ID:        fmt.Sprintf("p%02d", i),
			Title:     t.title,
			Content:   t.title + " notes",
			Files:     []string{t.file},
			CreatedAt: s.now.Add(-time.Duration(i) * time.Hour),
		})
	}
	e := s.engine(s.clusters)

	res, err := e.Autocluster(context.Background(), models.AutoclusterOptions{})
	s.Require().NoError(err)
	s.Equal(12, res.SessionsProcessed)
	s.Equal(3, res.ClustersCreated)

	seen := make(map[string]string)
	for _, c := range e.Clusters() {
		s.GreaterOrEqual(c.Members.Len(), 2)
		for id := range c.Members {
			prev, dup := seen[id]
			s.False(dup, "session %s in clusters %s and %s", id, prev, c.ID)
			seen[id] = c.ID
		}
	}
	s.Equal(res.SessionsClustered, len(seen))
}

func (s *EngineSuite) TestConcurrentRunsAreSerialized() {
	e := s.engine(s.clusters)

	var wg sync.WaitGroup
	results := make([]*models.AutoclusterResult, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Autocluster(context.Background(), models.AutoclusterOptions{})
		}(i)
	}
	wg.Wait()

	created := 0
	for i := range results {
		s.Require().NoError(errs[i])
		created += results[i].ClustersCreated
	}
	s.Equal(1, created)
	s.Equal(1, e.Registry().Len())
}

func (s *EngineSuite) TestDeduplicateIsIdempotent() {
	ctx := context.Background()
	s.Require().NoError(s.metadata.UpsertMetadata(ctx, []*models.SessionMetadata{
		{SessionID: "a", SessionType: models.SessionTypeMemory, Title: "Fix auth", CreatedAt: s.now},
		{SessionID: "b", SessionType: models.SessionTypeMemory, Title: "Fix jwt", CreatedAt: s.now},
		{SessionID: "c", SessionType: models.SessionTypeMemory, CreatedAt: s.now},
	}))
	s.Require().NoError(s.clusters.ApplyClusterChanges(ctx, &models.ClusterChanges{Upserts: []*models.Cluster{
		{ID: "old", Name: "auth-jwt", Intent: "Work on auth-jwt", Members: models.NewStringSet("a"), CreatedAt: s.now.Add(-time.Hour)},
		{ID: "new", Name: "AUTH-JWT", Intent: "Work on AUTH-JWT", Members: models.NewStringSet("b", "ghost"), CreatedAt: s.now},
		{ID: "empty", Name: "stale", Intent: "Work on stale", Members: models.NewStringSet("phantom"), CreatedAt: s.now},
	}}))

	rec := &recorder{}
	e := s.engine(s.clusters, WithNotifier(rec))

	first, err := e.DeduplicateClusters(ctx)
	s.Require().NoError(err)
	s.Equal(&models.DedupResult{Merged: 1, Deleted: 2, Remaining: 1}, first)

	second, err := e.DeduplicateClusters(ctx)
	s.Require().NoError(err)
	s.Equal(&models.DedupResult{Remaining: 1}, second)

	persisted, err := s.clusters.ListClusters(ctx)
	s.Require().NoError(err)
	s.Require().Len(persisted, 1)
	s.Equal("old", persisted[0].ID)
	s.Equal([]string{"a", "b"}, persisted[0].Members.Sorted())
	s.Equal("Fix auth-jwt", persisted[0].Intent)
	s.Len(rec.events, 2)
}

func (s *EngineSuite) TestGetProgressiveIndex() {
	ctx := context.Background()
	e := s.engine(s.clusters)
	_, err := e.Autocluster(ctx, models.AutoclusterOptions{})
	s.Require().NoError(err)
	id, ok := e.Registry().ClusterOf("s1")
	s.Require().True(ok)

	start, err := e.GetProgressiveIndex(ctx, index.Request{})
	s.Require().NoError(err)
	s.True(strings.HasPrefix(start, "<session-context>"))
	s.Contains(start, "1. auth-jwt [2 sessions")
	s.Contains(start, "retrieve cluster:"+id)
	s.Contains(start, "retrieve session:s3")

	excluded, err := e.GetProgressiveIndex(ctx, index.Request{Type: index.TypeSessionStart, SessionID: "s3"})
	s.Require().NoError(err)
	s.NotContains(excluded, "retrieve session:s3")

	matched, err := e.GetProgressiveIndex(ctx, index.Request{Type: index.TypeContext, Prompt: "docker networking"})
	s.Require().NoError(err)
	s.Contains(matched, "## Matching sessions (1)")
	s.Contains(matched, "Docker compose networking (100% match)")
	s.NotContains(matched, "auth-jwt")

	_, err = e.GetProgressiveIndex(ctx, index.Request{Type: "weekly"})
	s.ErrorIs(err, ErrInvalidIndexType)
}
