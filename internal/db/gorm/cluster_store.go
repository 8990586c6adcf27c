// Package gorm provides GORM-based persistence for session metadata, clusters and embeddings.
package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/clusterd/pkg/models"
)

// ClusterStore provides cluster registry persistence using GORM.
type ClusterStore struct {
	db *gorm.DB
}

// NewClusterStore creates a new cluster store.
func NewClusterStore(store *Store) *ClusterStore {
	return &ClusterStore{db: store.DB}
}

// ListClusters loads every cluster with its members, oldest first.
func (s *ClusterStore) ListClusters(ctx context.Context) ([]*models.Cluster, error) {
	var rows []SessionCluster
	if err := s.db.WithContext(ctx).Order("created_at_epoch ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	var members []ClusterMember
	if err := s.db.WithContext(ctx).Order("cluster_id, session_id").Find(&members).Error; err != nil {
		return nil, err
	}

	byCluster := make(map[string]models.StringSet, len(rows))
	for _, m := range members {
		set, ok := byCluster[m.ClusterID]
		if !ok {
			set = models.StringSet{}
			byCluster[m.ClusterID] = set
		}
		set.Add(m.SessionID)
	}

	clusters := make([]*models.Cluster, len(rows))
	for i := range rows {
		clusters[i] = toModelCluster(&rows[i], byCluster[rows[i].ID])
	}
	return clusters, nil
}

// GetCluster retrieves one cluster. Returns nil when it does not exist.
func (s *ClusterStore) GetCluster(ctx context.Context, id string) (*models.Cluster, error) {
	var row SessionCluster
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var sessionIDs []string
	err = s.db.WithContext(ctx).
		Model(&ClusterMember{}).
		Where("cluster_id = ?", id).
		Order("session_id").
		Pluck("session_id", &sessionIDs).Error
	if err != nil {
		return nil, err
	}
	return toModelCluster(&row, models.NewStringSet(sessionIDs...)), nil
}

// ApplyClusterChanges persists a batch of registry mutations in one transaction.
// Either every delete and upsert is committed or none is.
func (s *ClusterStore) ApplyClusterChanges(ctx context.Context, changes *models.ClusterChanges) error {
	if changes.Empty() {
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(changes.Deletes) > 0 {
			if err := tx.Where("cluster_id IN ?", changes.Deletes).Delete(&ClusterMember{}).Error; err != nil {
				return fmt.Errorf("delete members: %w", err)
			}
			if err := tx.Where("id IN ?", changes.Deletes).Delete(&SessionCluster{}).Error; err != nil {
				return fmt.Errorf("delete clusters: %w", err)
			}
		}

		if len(changes.Upserts) == 0 {
			return nil
		}

		// Clear membership of every touched cluster before re-inserting, so a
		// session moving between two upserted clusters never collides on its key.
		ids := make([]string, len(changes.Upserts))
		for i, c := range changes.Upserts {
			ids[i] = c.ID
		}
		if err := tx.Where("cluster_id IN ?", ids).Delete(&ClusterMember{}).Error; err != nil {
			return fmt.Errorf("clear members: %w", err)
		}

		now := time.Now().UnixMilli()
		var members []ClusterMember
		for _, c := range changes.Upserts {
			row := fromModelCluster(c)
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "intent", "updated_at_epoch"}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("upsert cluster %s: %w", c.ID, err)
			}
			for _, sessionID := range c.Members.Sorted() {
				members = append(members, ClusterMember{
					SessionID:    sessionID,
					ClusterID:    c.ID,
					AddedAtEpoch: now,
				})
			}
		}

		if len(members) == 0 {
			return nil
		}
		sessionIDs := make([]string, len(members))
		for i, m := range members {
			sessionIDs[i] = m.SessionID
		}
		for _, chunk := range chunkStrings(sessionIDs, maxInClause) {
			if err := tx.Where("session_id IN ?", chunk).Delete(&ClusterMember{}).Error; err != nil {
				return fmt.Errorf("release members: %w", err)
			}
		}
		if err := tx.CreateInBatches(&members, upsertBatchSize).Error; err != nil {
			return fmt.Errorf("insert members: %w", err)
		}
		return nil
	})
}

// CountClusters returns the number of stored clusters.
func (s *ClusterStore) CountClusters(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&SessionCluster{}).Count(&count).Error
	return count, err
}

func toModelCluster(c *SessionCluster, members models.StringSet) *models.Cluster {
	if members == nil {
		members = models.StringSet{}
	}
	return &models.Cluster{
		ID:        c.ID,
		Name:      c.Name,
		Intent:    c.Intent,
		Members:   members,
		CreatedAt: fromEpoch(c.CreatedAtEpoch),
		UpdatedAt: fromEpoch(c.UpdatedAtEpoch),
	}
}

func fromModelCluster(c *models.Cluster) SessionCluster {
	return SessionCluster{
		ID:             c.ID,
		Name:           c.Name,
		Intent:         c.Intent,
		CreatedAtEpoch: toEpoch(c.CreatedAt),
		UpdatedAtEpoch: toEpoch(c.UpdatedAt),
	}
}
