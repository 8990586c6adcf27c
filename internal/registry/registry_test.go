package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/thebtf/clusterd/pkg/models"
)

// memStore is an in-memory ClusterStore.
type memStore struct {
	clusters map[string]*models.Cluster
	applied  []*models.ClusterChanges
	err      error
}

func newMemStore() *memStore {
	return &memStore{clusters: make(map[string]*models.Cluster)}
}

func (s *memStore) ListClusters(context.Context) ([]*models.Cluster, error) {
	out := make([]*models.Cluster, 0, len(s.clusters))
	for _, c := range s.clusters {
		out = append(out, c.Clone())
	}
	models.SortClusters(out)
	return out, nil
}

func (s *memStore) ApplyClusterChanges(_ context.Context, changes *models.ClusterChanges) error {
	if s.err != nil {
		return s.err
	}
	s.applied = append(s.applied, changes)
	for _, id := range changes.Deletes {
		delete(s.clusters, id)
	}
	for _, c := range changes.Upserts {
		s.clusters[c.ID] = c.Clone()
	}
	return nil
}

// memMeta serves metadata from a map.
type memMeta map[string]*models.SessionMetadata

func (m memMeta) GetMetadataByIDs(_ context.Context, ids []string) ([]*models.SessionMetadata, error) {
	var out []*models.SessionMetadata
	for _, id := range ids {
		if r, ok := m[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// RegistrySuite is a test suite for the cluster registry.
type RegistrySuite struct {
	suite.Suite
	store *memStore
	meta  memMeta
	reg   *Registry
	clock time.Time
	seq   int
}

func (s *RegistrySuite) SetupTest() {
	s.store = newMemStore()
	s.meta = memMeta{}
	s.clock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.seq = 0
	s.reg = New(s.store, s.meta,
		WithClock(func() time.Time {
			s.clock = s.clock.Add(time.Second)
			return s.clock
		}),
		WithIDGenerator(func() string {
			s.seq++
			return fmt.Sprintf("c%02d", s.seq)
		}),
	)
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) addMeta(id, title string, keywords ...string) {
	s.meta[id] = meta(id, title, keywords...)
}

func (s *RegistrySuite) seed(id, name string, age time.Duration, members ...string) {
	c := &models.Cluster{
		ID:        id,
		Name:      name,
		Intent:    "Work on " + name,
		Members:   models.NewStringSet(members...),
		CreatedAt: s.clock.Add(-age),
		UpdatedAt: s.clock.Add(-age),
	}
	s.store.clusters[id] = c
	for _, m := range members {
		if _, ok := s.meta[m]; !ok {
			s.addMeta(m, "")
		}
	}
}

func (s *RegistrySuite) names() []string {
	var names []string
	for _, c := range s.reg.Snapshot() {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

func (s *RegistrySuite) TestApplyCreatesNamedCluster() {
	s.addMeta("s1", "Token refresh", "auth", "jwt")
	s.addMeta("s2", "Token expiry", "jwt", "auth")

	res, err := s.reg.Apply(context.Background(), [][]string{{"s1", "s2"}})
	s.Require().NoError(err)
	s.Equal([]string{"c01"}, res.Created)
	s.Empty(res.Merged)
	s.Equal(2, res.Assigned)

	c, ok := s.reg.Get("c01")
	s.Require().True(ok)
	s.Equal("auth-jwt", c.Name)
	s.Equal("Work on auth-jwt", c.Intent)
	s.Equal([]string{"s1", "s2"}, c.Members.Sorted())

	id, ok := s.reg.ClusterOf("s2")
	s.True(ok)
	s.Equal("c01", id)
	s.False(s.reg.IsClustered("s3"))

	s.Require().Contains(s.store.clusters, "c01")
	s.Equal("auth-jwt", s.store.clusters["c01"].Name)
}

func (s *RegistrySuite) TestApplyMergesOverlappingGroup() {
	s.addMeta("s3", "Fix refresh", "auth")
	s.seed("old", "auth-jwt", time.Hour, "s1", "s2")
	s.Require().NoError(s.reg.Load(context.Background()))

	// Two of three members already belong to "old": 2/2 of the smaller set.
	res, err := s.reg.Apply(context.Background(), [][]string{{"s1", "s2", "s3"}})
	s.Require().NoError(err)
	s.Empty(res.Created)
	s.Equal([]string{"old"}, res.Merged)
	s.Equal(1, res.Assigned)

	c, _ := s.reg.Get("old")
	s.Equal("auth-jwt", c.Name, "merging keeps the name")
	s.Equal([]string{"s1", "s2", "s3"}, c.Members.Sorted())
	s.Equal(1, s.reg.Len())
}

func (s *RegistrySuite) TestApplyHalfOverlapDoesNotMerge() {
	s.seed("old", "auth-jwt", time.Hour, "s1", "s2")
	s.addMeta("s3", "", "db")
	s.addMeta("s4", "", "db")
	s.Require().NoError(s.reg.Load(context.Background()))

	// s1 overlaps 1 of the smaller set of 2: exactly 0.5 is not enough.
	res, err := s.reg.Apply(context.Background(), [][]string{{"s1", "s3"}, {"s3", "s4"}})
	s.Require().NoError(err)
	s.Empty(res.Merged)
	s.Equal([]string{"c01"}, res.Created, "owned members are dropped and a singleton is not a cluster")

	c, _ := s.reg.Get("c01")
	s.Equal([]string{"s3", "s4"}, c.Members.Sorted())
	id, _ := s.reg.ClusterOf("s1")
	s.Equal("old", id)
}

func (s *RegistrySuite) TestApplyStoreFailureLeavesStateUnchanged() {
	s.addMeta("s1", "", "auth")
	s.addMeta("s2", "", "auth")
	s.store.err = errors.New("disk full")

	_, err := s.reg.Apply(context.Background(), [][]string{{"s1", "s2"}})
	s.Error(err)
	s.Zero(s.reg.Len())
	s.False(s.reg.IsClustered("s1"))
}

func (s *RegistrySuite) TestApplyNothing() {
	res, err := s.reg.Apply(context.Background(), nil)
	s.Require().NoError(err)
	s.Empty(res.Created)
	s.Empty(s.store.applied)
}

func (s *RegistrySuite) TestSnapshotIsACopy() {
	s.addMeta("s1", "", "auth")
	s.addMeta("s2", "", "auth")
	_, err := s.reg.Apply(context.Background(), [][]string{{"s1", "s2"}})
	s.Require().NoError(err)

	snap := s.reg.Snapshot()
	snap[0].Members.Add("intruder")
	snap[0].Name = "changed"

	c, _ := s.reg.Get(snap[0].ID)
	s.Equal("auth", c.Name)
	s.False(c.Members.Has("intruder"))
}

func (s *RegistrySuite) TestDeduplicateByName() {
	s.addMeta("a1", "Fix login", "auth")
	s.addMeta("b1", "Fix token", "auth")
	s.seed("young", "Auth-JWT", time.Minute, "b1", "b2")
	s.seed("old", "auth-jwt", time.Hour, "a1", "a2")
	s.seed("other", "db-migration", 2*time.Hour, "d1", "d2")
	s.Require().NoError(s.reg.Load(context.Background()))

	res, err := s.reg.Deduplicate(context.Background())
	s.Require().NoError(err)
	s.Equal(1, res.Merged)
	s.Equal(1, res.Deleted)
	s.Equal(2, res.Remaining)

	c, ok := s.reg.Get("old")
	s.Require().True(ok)
	s.Equal("auth-jwt", c.Name)
	s.Equal([]string{"a1", "a2", "b1", "b2"}, c.Members.Sorted())
	s.Equal("Fix auth-jwt", c.Intent, "intent is recomputed after a merge")
	_, ok = s.reg.Get("young")
	s.False(ok)

	s.NotContains(s.store.clusters, "young")
	s.Equal([]string{"auth-jwt", "db-migration"}, s.names())
}

func (s *RegistrySuite) TestDeduplicateIsIdempotent() {
	s.seed("c1", "auth-jwt", 3*time.Hour, "a1", "a2")
	s.seed("c2", "AUTH-jwt", 2*time.Hour, "a3")
	s.seed("c3", "db", time.Hour, "d1", "d2")
	s.seed("c4", "ci", time.Minute, "e1")
	delete(s.meta, "e1")
	s.Require().NoError(s.reg.Load(context.Background()))

	first, err := s.reg.Deduplicate(context.Background())
	s.Require().NoError(err)
	s.Equal(1, first.Merged)
	s.Equal(2, first.Deleted, "one absorbed, one emptied by stale removal")
	s.Equal(2, first.Remaining)

	applied := len(s.store.applied)
	second, err := s.reg.Deduplicate(context.Background())
	s.Require().NoError(err)
	s.Equal(&models.DedupResult{Remaining: 2}, second)
	s.Len(s.store.applied, applied, "a no-op run writes nothing")
}

func (s *RegistrySuite) TestDeduplicateDropsStaleMembers() {
	s.seed("c1", "auth", time.Hour, "s1", "s2", "gone")
	delete(s.meta, "gone")
	s.Require().NoError(s.reg.Load(context.Background()))

	res, err := s.reg.Deduplicate(context.Background())
	s.Require().NoError(err)
	s.Zero(res.Merged)
	s.Zero(res.Deleted)

	c, _ := s.reg.Get("c1")
	s.Equal([]string{"s1", "s2"}, c.Members.Sorted())
	s.False(s.reg.IsClustered("gone"))
}

func (s *RegistrySuite) TestDeduplicateStoreFailure() {
	s.seed("c1", "auth", 2*time.Hour, "s1")
	s.seed("c2", "auth", time.Hour, "s2")
	s.Require().NoError(s.reg.Load(context.Background()))
	s.store.err = errors.New("locked")

	_, err := s.reg.Deduplicate(context.Background())
	s.Error(err)
	s.Equal(2, s.reg.Len())
}

func (s *RegistrySuite) TestUnnamedClustersAreNotMergedByName() {
	s.seed("c1", models.UnnamedCluster, 2*time.Hour, "s1", "s2")
	s.seed("c2", models.UnnamedCluster, time.Hour, "s3", "s4")
	s.Require().NoError(s.reg.Load(context.Background()))

	res, err := s.reg.Deduplicate(context.Background())
	s.Require().NoError(err)
	s.Zero(res.Merged)
	s.Equal(2, res.Remaining)
}

func TestOverlapRatio(t *testing.T) {
	a := models.NewStringSet("1", "2", "3", "4")
	tests := []struct {
		b    models.StringSet
		want float64
	}{
		{models.NewStringSet("1", "2"), 1},
		{models.NewStringSet("1", "9"), 0.5},
		{models.NewStringSet("1", "2", "3", "9", "8", "7"), 0.75},
		{models.NewStringSet(), 0},
	}
	for _, tt := range tests {
		if got := overlapRatio(a, tt.b); got != tt.want {
			t.Errorf("overlapRatio(%v, %v) = %v, want %v", a.Sorted(), tt.b.Sorted(), got, tt.want)
		}
	}
}
