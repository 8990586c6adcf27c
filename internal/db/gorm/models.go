// Package gorm provides GORM-based persistence for session metadata, clusters and embeddings.
package gorm

import (
	"time"

	"gorm.io/gorm"

	"github.com/thebtf/clusterd/pkg/models"
)

// GORM Models

// SessionMetadata is the cached, normalized record for one session.
type SessionMetadata struct {
	SessionID         string           `gorm:"primaryKey;type:text"`
	SessionType       string           `gorm:"type:text;index;not null"`
	Title             string           `gorm:"type:text"`
	Summary           string           `gorm:"type:text"`
	Keywords          models.StringSet `gorm:"type:text"` // JSON array
	FilePatterns      models.StringSet `gorm:"type:text"` // JSON array
	TokenEstimate     int              `gorm:"default:0"`
	AccessCount       int              `gorm:"default:0"`
	CreatedAtEpoch    int64            `gorm:"index:idx_metadata_created,sort:desc;not null"`
	LastAccessedEpoch int64            `gorm:"index:idx_metadata_accessed,sort:desc;default:0"`
	UpdatedAtEpoch    int64            `gorm:"not null"`
}

func (SessionMetadata) TableName() string { return "session_metadata" }

// BeforeSave hook keeps the bookkeeping timestamp current.
func (m *SessionMetadata) BeforeSave(tx *gorm.DB) error {
	m.UpdatedAtEpoch = time.Now().UnixMilli()
	return nil
}

// SessionCluster is a named group of sessions.
type SessionCluster struct {
	ID             string `gorm:"primaryKey;type:text"`
	Name           string `gorm:"type:text;index;not null"`
	Intent         string `gorm:"type:text;not null"`
	CreatedAtEpoch int64  `gorm:"not null"`
	UpdatedAtEpoch int64  `gorm:"index:idx_clusters_updated,sort:desc;not null"`
}

func (SessionCluster) TableName() string { return "session_clusters" }

// BeforeCreate hook to ensure timestamps are set.
func (c *SessionCluster) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().UnixMilli()
	if c.CreatedAtEpoch == 0 {
		c.CreatedAtEpoch = now
	}
	if c.UpdatedAtEpoch == 0 {
		c.UpdatedAtEpoch = c.CreatedAtEpoch
	}
	return nil
}

// ClusterMember assigns a session to a cluster. The primary key on session_id
// keeps every session in at most one cluster.
type ClusterMember struct {
	SessionID    string `gorm:"primaryKey;type:text"`
	ClusterID    string `gorm:"type:text;index:idx_members_cluster;not null"`
	AddedAtEpoch int64  `gorm:"not null"`
}

func (ClusterMember) TableName() string { return "cluster_members" }

// SessionEmbedding stores an externally supplied vector as little-endian float32 bytes.
type SessionEmbedding struct {
	SessionID      string `gorm:"primaryKey;type:text"`
	Vector         []byte `gorm:"not null"`
	Dimensions     int    `gorm:"not null"`
	Model          string `gorm:"type:text"`
	UpdatedAtEpoch int64  `gorm:"not null"`
}

func (SessionEmbedding) TableName() string { return "session_embeddings" }

// BeforeSave hook keeps the bookkeeping timestamp current.
func (e *SessionEmbedding) BeforeSave(tx *gorm.DB) error {
	e.UpdatedAtEpoch = time.Now().UnixMilli()
	return nil
}
