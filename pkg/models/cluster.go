// Package models contains domain models for clusterd.
package models

import (
	"sort"
	"time"
)

// UnnamedCluster is the label used when no keyword can be derived for a cluster.
const UnnamedCluster = "unnamed-cluster"

// Cluster is a named group of session ids. A session belongs to at most one cluster.
type Cluster struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Members   StringSet `json:"members"`
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Intent    string    `json:"intent"`
}

// Clone returns a deep copy of the cluster.
func (c *Cluster) Clone() *Cluster {
	cp := *c
	cp.Members = c.Members.Clone()
	return &cp
}

// SortClusters orders clusters by creation time, then id.
func SortClusters(clusters []*Cluster) {
	sort.Slice(clusters, func(i, j int) bool {
		if !clusters[i].CreatedAt.Equal(clusters[j].CreatedAt) {
			return clusters[i].CreatedAt.Before(clusters[j].CreatedAt)
		}
		return clusters[i].ID < clusters[j].ID
	})
}

// ClusterChanges is a batch of registry mutations persisted atomically.
type ClusterChanges struct {
	Upserts []*Cluster
	Deletes []string
}

// Empty reports whether the batch carries no mutation.
func (c *ClusterChanges) Empty() bool {
	return c == nil || (len(c.Upserts) == 0 && len(c.Deletes) == 0)
}

// AutoclusterOptions controls a single autocluster run.
type AutoclusterOptions struct {
	TimeRange      TimeRange `json:"time_range"`
	Scope          Scope     `json:"scope"`
	MinClusterSize int       `json:"min_cluster_size"`
}

// AutoclusterResult summarizes an autocluster run.
type AutoclusterResult struct {
	ClustersCreated   int `json:"clustersCreated"`
	ClustersMerged    int `json:"clustersMerged"`
	SessionsProcessed int `json:"sessionsProcessed"`
	SessionsClustered int `json:"sessionsClustered"`
}

// DedupResult summarizes a deduplication pass.
type DedupResult struct {
	Merged    int `json:"merged"`
	Deleted   int `json:"deleted"`
	Remaining int `json:"remaining"`
}
