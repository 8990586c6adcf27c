// Package registry owns the durable set of session clusters.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/clusterd/pkg/models"
)

// DefaultMergeOverlapRatio is the share of the smaller member set that must
// already belong to a cluster before two groups are merged. The comparison is
// strict: exactly half does not merge.
const DefaultMergeOverlapRatio = 0.5

// MinMembers is the smallest group the registry turns into a new cluster.
const MinMembers = 2

// ClusterStore persists clusters.
type ClusterStore interface {
	ListClusters(ctx context.Context) ([]*models.Cluster, error)
	ApplyClusterChanges(ctx context.Context, changes *models.ClusterChanges) error
}

// MetadataReader resolves member metadata for naming and stale-member checks.
type MetadataReader interface {
	GetMetadataByIDs(ctx context.Context, ids []string) ([]*models.SessionMetadata, error)
}

// state is an immutable registry snapshot. Writers build a new state and swap it in.
type state struct {
	clusters map[string]*models.Cluster
	memberOf map[string]string
}

func newState(clusters map[string]*models.Cluster) *state {
	s := &state{clusters: clusters, memberOf: make(map[string]string)}
	for id, c := range clusters {
		for m := range c.Members {
			s.memberOf[m] = id
		}
	}
	return s
}

// clone deep-copies the snapshot for a writer.
func (s *state) clone() map[string]*models.Cluster {
	cp := make(map[string]*models.Cluster, len(s.clusters))
	for id, c := range s.clusters {
		cp[id] = c.Clone()
	}
	return cp
}

// Registry is the cluster registry. Reads are served from the current
// snapshot; mutations are serialized and become visible only after the store
// has committed them.
type Registry struct {
	mu      sync.RWMutex
	writeMu sync.Mutex
	cur     *state

	store        ClusterStore
	meta         MetadataReader
	now          func() time.Time
	newID        func() string
	overlapRatio float64
}

// Option configures a Registry.
type Option func(*Registry)

// WithOverlapRatio sets the merge overlap ratio.
func WithOverlapRatio(ratio float64) Option {
	return func(r *Registry) {
		if ratio > 0 && ratio < 1 {
			r.overlapRatio = ratio
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithIDGenerator overrides the cluster id generator.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) { r.newID = gen }
}

// New creates an empty registry. Call Load to read persisted clusters.
func New(store ClusterStore, meta MetadataReader, opts ...Option) *Registry {
	r := &Registry{
		cur:          newState(map[string]*models.Cluster{}),
		store:        store,
		meta:         meta,
		now:          time.Now,
		newID:        uuid.NewString,
		overlapRatio: DefaultMergeOverlapRatio,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load replaces the in-memory state with the persisted clusters.
func (r *Registry) Load(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	clusters, err := r.store.ListClusters(ctx)
	if err != nil {
		return fmt.Errorf("load clusters: %w", err)
	}
	byID := make(map[string]*models.Cluster, len(clusters))
	for _, c := range clusters {
		byID[c.ID] = c
	}
	r.swap(newState(byID))
	log.Debug().Int("clusters", len(byID)).Msg("Cluster registry loaded")
	return nil
}

func (r *Registry) snapshot() *state {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cur
}

func (r *Registry) swap(s *state) {
	r.mu.Lock()
	r.cur = s
	r.mu.Unlock()
}

// Snapshot returns copies of all clusters, oldest first.
func (r *Registry) Snapshot() []*models.Cluster {
	s := r.snapshot()
	out := make([]*models.Cluster, 0, len(s.clusters))
	for _, c := range s.clusters {
		out = append(out, c.Clone())
	}
	models.SortClusters(out)
	return out
}

// Get returns a copy of one cluster.
func (r *Registry) Get(id string) (*models.Cluster, bool) {
	c, ok := r.snapshot().clusters[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// ClusterOf returns the id of the cluster holding sessionID.
func (r *Registry) ClusterOf(sessionID string) (string, bool) {
	id, ok := r.snapshot().memberOf[sessionID]
	return id, ok
}

// IsClustered reports whether sessionID belongs to any cluster.
func (r *Registry) IsClustered(sessionID string) bool {
	_, ok := r.ClusterOf(sessionID)
	return ok
}

// Len returns the number of clusters.
func (r *Registry) Len() int {
	return len(r.snapshot().clusters)
}

// ApplyResult summarizes an Apply call.
type ApplyResult struct {
	Created  []string
	Merged   []string
	Assigned int
}

// Apply registers proposed groups. Each group either merges into the existing
// cluster it overlaps most (above the overlap ratio) or becomes a new cluster.
// Sessions already owned by another cluster are dropped from the group. All
// changes are persisted in one transaction; on failure the registry is unchanged.
func (r *Registry) Apply(ctx context.Context, groups [][]string) (*ApplyResult, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	result := &ApplyResult{}
	if len(groups) == 0 {
		return result, nil
	}

	clusters := r.snapshot().clone()
	work := newState(clusters)
	touched := make(map[string]bool)
	now := r.timestamp()

	for _, group := range groups {
		set := models.NewStringSet(group...)
		if set.Len() == 0 {
			continue
		}

		if target := work.bestOverlap(set, r.overlapRatio); target != nil {
			added := 0
			for _, id := range set.Sorted() {
				if _, owned := work.memberOf[id]; owned {
					continue
				}
				target.Members.Add(id)
				work.memberOf[id] = target.ID
				added++
			}
			if added == 0 {
				continue
			}
			target.UpdatedAt = now
			touched[target.ID] = true
			result.Merged = append(result.Merged, target.ID)
			result.Assigned += added
			continue
		}

		free := models.StringSet{}
		for id := range set {
			if _, owned := work.memberOf[id]; !owned {
				free.Add(id)
			}
		}
		if free.Len() < MinMembers {
			continue
		}

		c := &models.Cluster{
			ID:        r.newID(),
			Members:   free,
			CreatedAt: now,
			UpdatedAt: now,
		}
		clusters[c.ID] = c
		for id := range free {
			work.memberOf[id] = c.ID
		}
		touched[c.ID] = true
		result.Created = append(result.Created, c.ID)
		result.Assigned += free.Len()
	}

	if len(touched) == 0 {
		return result, nil
	}

	created := models.NewStringSet(result.Created...)
	changes := &models.ClusterChanges{}
	for _, id := range sortedKeys(touched) {
		c := clusters[id]
		members, err := r.memberMetadata(ctx, c.Members)
		if err != nil {
			return nil, err
		}
		if created.Has(id) {
			c.Name = Name(members)
		}
		c.Intent = Intent(c.Name, members)
		changes.Upserts = append(changes.Upserts, c)
	}

	if err := r.store.ApplyClusterChanges(ctx, changes); err != nil {
		return nil, fmt.Errorf("persist clusters: %w", err)
	}
	r.swap(newState(clusters))
	return result, nil
}

// Deduplicate merges clusters sharing a case-insensitive name, then merges
// pairs whose overlap exceeds the ratio until none remain, then deletes empty
// clusters. Members without metadata are removed first. The oldest cluster
// survives a merge and keeps its name.
func (r *Registry) Deduplicate(ctx context.Context) (*models.DedupResult, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	clusters := r.snapshot().clone()
	touched := make(map[string]bool)
	removed := make(map[string]bool)
	result := &models.DedupResult{}
	now := r.timestamp()

	if err := r.dropStaleMembers(ctx, clusters, touched, now); err != nil {
		return nil, err
	}

	absorb := func(survivor, victim *models.Cluster) {
		survivor.Members.Union(victim.Members)
		survivor.UpdatedAt = now
		victim.Members = models.StringSet{}
		touched[survivor.ID] = true
		removed[victim.ID] = true
		delete(clusters, victim.ID)
		result.Merged++
	}

	// Same name.
	byName := make(map[string][]*models.Cluster)
	for _, c := range ordered(clusters) {
		if c.Name == "" || c.Name == models.UnnamedCluster {
			continue
		}
		key := strings.ToLower(c.Name)
		byName[key] = append(byName[key], c)
	}
	for _, key := range sortedKeys(byName) {
		group := byName[key]
		for _, victim := range group[1:] {
			absorb(group[0], victim)
		}
	}

	// Overlapping members, to a fixpoint.
	for merged := true; merged; {
		merged = false
		list := ordered(clusters)
	scan:
		for i := 0; i < len(list); i++ {
			for j := i + 1; j < len(list); j++ {
				if overlapRatio(list[i].Members, list[j].Members) > r.overlapRatio {
					absorb(list[i], list[j])
					merged = true
					break scan
				}
			}
		}
	}

	// Shared members below the ratio stay with the older cluster.
	owner := make(map[string]string)
	for _, c := range ordered(clusters) {
		for _, id := range c.Members.Sorted() {
			if _, taken := owner[id]; taken {
				delete(c.Members, id)
				c.UpdatedAt = now
				touched[c.ID] = true
				continue
			}
			owner[id] = c.ID
		}
	}

	// Empty clusters.
	for _, c := range ordered(clusters) {
		if c.Members.Len() == 0 {
			delete(clusters, c.ID)
			removed[c.ID] = true
			result.Deleted++
		}
	}
	result.Deleted += result.Merged

	changes := &models.ClusterChanges{Deletes: sortedKeys(removed)}
	for _, id := range sortedKeys(touched) {
		c, ok := clusters[id]
		if !ok {
			continue
		}
		members, err := r.memberMetadata(ctx, c.Members)
		if err != nil {
			return nil, err
		}
		c.Intent = Intent(c.Name, members)
		changes.Upserts = append(changes.Upserts, c)
	}
	result.Remaining = len(clusters)

	if !changes.Empty() {
		if err := r.store.ApplyClusterChanges(ctx, changes); err != nil {
			return nil, fmt.Errorf("persist deduplication: %w", err)
		}
		r.swap(newState(clusters))
	}
	return result, nil
}

// dropStaleMembers removes members that no longer have metadata.
func (r *Registry) dropStaleMembers(ctx context.Context, clusters map[string]*models.Cluster, touched map[string]bool, now time.Time) error {
	all := models.StringSet{}
	for _, c := range clusters {
		all.Union(c.Members)
	}
	if all.Len() == 0 {
		return nil
	}
	records, err := r.meta.GetMetadataByIDs(ctx, all.Sorted())
	if err != nil {
		return fmt.Errorf("load member metadata: %w", err)
	}
	known := models.StringSet{}
	for _, m := range records {
		known.Add(m.SessionID)
	}

	for _, c := range ordered(clusters) {
		for _, id := range c.Members.Sorted() {
			if !known.Has(id) {
				delete(c.Members, id)
				c.UpdatedAt = now
				touched[c.ID] = true
				log.Debug().Str("cluster_id", c.ID).Str("session_id", id).Msg("Removing stale cluster member")
			}
		}
	}
	return nil
}

func (r *Registry) memberMetadata(ctx context.Context, members models.StringSet) ([]*models.SessionMetadata, error) {
	records, err := r.meta.GetMetadataByIDs(ctx, members.Sorted())
	if err != nil {
		return nil, fmt.Errorf("load member metadata: %w", err)
	}
	return records, nil
}

func (r *Registry) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Millisecond)
}

// bestOverlap returns the cluster sharing the largest share of members with
// set, provided that share exceeds ratio. Ties go to the oldest cluster.
func (s *state) bestOverlap(set models.StringSet, ratio float64) *models.Cluster {
	var (
		best      *models.Cluster
		bestRatio float64
	)
	for _, c := range ordered(s.clusters) {
		o := overlapRatio(set, c.Members)
		if o > ratio && o > bestRatio {
			best, bestRatio = c, o
		}
	}
	return best
}

// overlapRatio is |a ∩ b| divided by the size of the smaller set.
func overlapRatio(a, b models.StringSet) float64 {
	smaller := a.Len()
	if b.Len() < smaller {
		smaller = b.Len()
	}
	if smaller == 0 {
		return 0
	}
	return float64(a.Intersect(b)) / float64(smaller)
}

// ordered returns the clusters oldest first, then by id.
func ordered(clusters map[string]*models.Cluster) []*models.Cluster {
	list := make([]*models.Cluster, 0, len(clusters))
	for _, c := range clusters {
		list = append(list, c)
	}
	models.SortClusters(list)
	return list
}
