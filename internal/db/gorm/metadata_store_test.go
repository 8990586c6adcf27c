package gorm

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/clusterd/pkg/models"
)

// MetadataStoreSuite is a test suite for MetadataStore operations.
type MetadataStoreSuite struct {
	suite.Suite
	store *MetadataStore
	base  time.Time
}

func (s *MetadataStoreSuite) SetupTest() {
	s.store = NewMetadataStore(testStore(s.T()))
	s.base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestMetadataStoreSuite(t *testing.T) {
	suite.Run(t, new(MetadataStoreSuite))
}

func (s *MetadataStoreSuite) record(id string, sessionType models.SessionType, age time.Duration) *models.SessionMetadata {
	return &models.SessionMetadata{
		SessionID:     id,
		SessionType:   sessionType,
		Title:         "Session " + id,
		Summary:       "summary of " + id,
		Keywords:      models.NewStringSet("auth", "jwt"),
		FilePatterns:  models.NewStringSet("src/auth/handler.ts"),
		TokenEstimate: 42,
		AccessCount:   3,
		CreatedAt:     s.base.Add(-age),
		LastAccessed:  s.base.Add(-age / 2),
	}
}

func (s *MetadataStoreSuite) TestUpsertAndGet() {
	ctx := context.Background()
	in := s.record("s1", models.SessionTypeMemory, time.Hour)

	s.Require().NoError(s.store.UpsertMetadata(ctx, []*models.SessionMetadata{in}))

	got, err := s.store.GetMetadata(ctx, "s1")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(in.SessionType, got.SessionType)
	s.Equal(in.Title, got.Title)
	s.Equal([]string{"auth", "jwt"}, got.Keywords.Sorted())
	s.Equal([]string{"src/auth/handler.ts"}, got.FilePatterns.Sorted())
	s.Equal(42, got.TokenEstimate)
	s.Equal(3, got.AccessCount)
	s.True(in.CreatedAt.Equal(got.CreatedAt))
	s.True(in.LastAccessed.Equal(got.LastAccessed))
}

func (s *MetadataStoreSuite) TestUpsertReplacesExisting() {
	ctx := context.Background()
	in := s.record("s1", models.SessionTypeMemory, time.Hour)
	s.Require().NoError(s.store.UpsertMetadata(ctx, []*models.SessionMetadata{in}))

	in.Title = "renamed"
	in.Keywords = models.NewStringSet("refresh")
	s.Require().NoError(s.store.UpsertMetadata(ctx, []*models.SessionMetadata{in}))

	got, err := s.store.GetMetadata(ctx, "s1")
	s.Require().NoError(err)
	s.Equal("renamed", got.Title)
	s.Equal([]string{"refresh"}, got.Keywords.Sorted())

	count, err := s.store.CountMetadata(ctx)
	s.Require().NoError(err)
	s.Equal(int64(1), count)
}

func (s *MetadataStoreSuite) TestGetMetadata_NotFound() {
	got, err := s.store.GetMetadata(context.Background(), "missing")
	s.NoError(err)
	s.Nil(got)
}

func (s *MetadataStoreSuite) TestEmptyKeywordsRoundTrip() {
	ctx := context.Background()
	in := s.record("bare", models.SessionTypeNative, time.Hour)
	in.Keywords = nil
	in.FilePatterns = nil
	s.Require().NoError(s.store.UpsertMetadata(ctx, []*models.SessionMetadata{in}))

	got, err := s.store.GetMetadata(ctx, "bare")
	s.Require().NoError(err)
	s.NotNil(got.Keywords)
	s.Equal(0, got.Keywords.Len())
	s.Equal(0, got.FilePatterns.Len())
}

func (s *MetadataStoreSuite) TestGetMetadataByIDs_Chunked() {
	ctx := context.Background()
	var records []*models.SessionMetadata
	var ids []string
	for i := 0; i < maxInClause+25; i++ {
		id := fmt.Sprintf("s%04d", i)
		ids = append(ids, id)
		records = append(records, s.record(id, models.SessionTypeCLIHistory, time.Duration(i)*time.Minute))
	}
	s.Require().NoError(s.store.UpsertMetadata(ctx, records))

	got, err := s.store.GetMetadataByIDs(ctx, append(ids, "missing"))
	s.Require().NoError(err)
	s.Len(got, len(records))
}

func (s *MetadataStoreSuite) TestListMetadata_TableDriven() {
	ctx := context.Background()
	s.Require().NoError(s.store.UpsertMetadata(ctx, []*models.SessionMetadata{
		s.record("new", models.SessionTypeMemory, time.Hour),
		s.record("mid", models.SessionTypeWorkflow, 3*24*time.Hour),
		s.record("old", models.SessionTypeCLIHistory, 40*24*time.Hour),
	}))

	tests := []struct {
		name   string
		filter MetadataFilter
		want   []string
	}{
		{
			name: "everything newest first",
			want: []string{"new", "mid", "old"},
		},
		{
			name:   "start bound",
			filter: MetadataFilter{TimeRange: models.TimeRange{Start: s.base.Add(-7 * 24 * time.Hour)}},
			want:   []string{"new", "mid"},
		},
		{
			name:   "end bound is inclusive",
			filter: MetadataFilter{TimeRange: models.TimeRange{End: s.base.Add(-3 * 24 * time.Hour)}},
			want:   []string{"mid", "old"},
		},
		{
			name:   "type filter",
			filter: MetadataFilter{Types: []models.SessionType{models.SessionTypeCLIHistory, models.SessionTypeMemory}},
			want:   []string{"new", "old"},
		},
		{
			name:   "limit",
			filter: MetadataFilter{Limit: 1},
			want:   []string{"new"},
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			got, err := s.store.ListMetadata(ctx, tt.filter)
			s.Require().NoError(err)
			ids := make([]string, len(got))
			for i, m := range got {
				ids[i] = m.SessionID
			}
			s.Equal(tt.want, ids)
		})
	}
}

func (s *MetadataStoreSuite) TestDeleteMetadata() {
	ctx := context.Background()
	s.Require().NoError(s.store.UpsertMetadata(ctx, []*models.SessionMetadata{
		s.record("a", models.SessionTypeMemory, time.Hour),
		s.record("b", models.SessionTypeMemory, time.Hour),
	}))

	deleted, err := s.store.DeleteMetadata(ctx, []string{"a", "missing"})
	s.Require().NoError(err)
	s.Equal(int64(1), deleted)

	deleted, err = s.store.DeleteMetadata(ctx, nil)
	s.NoError(err)
	s.Zero(deleted)
}
