// Package gorm provides GORM-based persistence for session metadata, clusters and embeddings.
package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Metadata cache
		{
			ID: "001_session_metadata",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&SessionMetadata{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("session_metadata")
			},
		},

		// Migration 002: Cluster registry
		{
			ID: "002_session_clusters",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&SessionCluster{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&ClusterMember{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("cluster_members", "session_clusters")
			},
		},

		// Migration 003: Embeddings supplied by external providers
		{
			ID: "003_session_embeddings",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&SessionEmbedding{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("session_embeddings")
			},
		},
	})

	return m.Migrate()
}
