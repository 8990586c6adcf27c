// Package gorm provides GORM-based persistence for session metadata, clusters and embeddings.
package gorm

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/clusterd/pkg/models"
)

// upsertBatchSize is the number of rows written per INSERT statement.
const upsertBatchSize = 100

// MetadataFilter narrows ListMetadata results.
type MetadataFilter struct {
	TimeRange models.TimeRange
	Types     []models.SessionType
	Limit     int
}

// MetadataStore provides session metadata operations using GORM.
type MetadataStore struct {
	db *gorm.DB
}

// NewMetadataStore creates a new metadata store.
func NewMetadataStore(store *Store) *MetadataStore {
	return &MetadataStore{db: store.DB}
}

// UpsertMetadata inserts or refreshes records keyed by session id.
// All records are written in one transaction.
func (s *MetadataStore) UpsertMetadata(ctx context.Context, records []*models.SessionMetadata) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]SessionMetadata, len(records))
	for i, r := range records {
		rows[i] = fromModelMetadata(r)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"session_type", "title", "summary", "keywords", "file_patterns",
				"token_estimate", "access_count", "created_at_epoch",
				"last_accessed_epoch", "updated_at_epoch",
			}),
		}).CreateInBatches(&rows, upsertBatchSize).Error
	})
}

// GetMetadata retrieves a single record. Returns nil when the session is unknown.
func (s *MetadataStore) GetMetadata(ctx context.Context, sessionID string) (*models.SessionMetadata, error) {
	var row SessionMetadata
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toModelMetadata(&row), nil
}

// GetMetadataByIDs retrieves the records for ids. Unknown ids are skipped.
func (s *MetadataStore) GetMetadataByIDs(ctx context.Context, ids []string) ([]*models.SessionMetadata, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var result []*models.SessionMetadata
	for _, chunk := range chunkStrings(ids, maxInClause) {
		var rows []SessionMetadata
		err := s.db.WithContext(ctx).
			Where("session_id IN ?", chunk).
			Order("session_id").
			Find(&rows).Error
		if err != nil {
			return nil, err
		}
		result = append(result, toModelMetadataList(rows)...)
	}
	return result, nil
}

// ListMetadata lists records newest first.
func (s *MetadataStore) ListMetadata(ctx context.Context, filter MetadataFilter) ([]*models.SessionMetadata, error) {
	var rows []SessionMetadata
	err := s.db.WithContext(ctx).
		Scopes(timeRangeFilter(filter.TimeRange), typeFilter(filter.Types), recencyOrdering()).
		Limit(limitOrAll(filter.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toModelMetadataList(rows), nil
}

// CountMetadata returns the number of cached records.
func (s *MetadataStore) CountMetadata(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&SessionMetadata{}).Count(&count).Error
	return count, err
}

// DeleteMetadata removes records by session id.
func (s *MetadataStore) DeleteMetadata(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).Where("session_id IN ?", ids).Delete(&SessionMetadata{})
	return result.RowsAffected, result.Error
}

// ====================
// GORM Scopes (Reusable Query Filters)
// ====================

// timeRangeFilter keeps sessions created inside r.
func timeRangeFilter(r models.TimeRange) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if !r.Start.IsZero() {
			db = db.Where("created_at_epoch >= ?", r.Start.UnixMilli())
		}
		if !r.End.IsZero() {
			db = db.Where("created_at_epoch <= ?", r.End.UnixMilli())
		}
		return db
	}
}

// typeFilter keeps sessions of the given types. An empty list keeps everything.
func typeFilter(types []models.SessionType) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if len(types) == 0 {
			return db
		}
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		return db.Where("session_type IN ?", names)
	}
}

// recencyOrdering orders by creation time DESC with session id as a stable tie-break.
func recencyOrdering() func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at_epoch DESC, session_id ASC")
	}
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

// ====================
// Helper Functions
// ====================

// toModelMetadata converts a GORM SessionMetadata to pkg/models.SessionMetadata.
func toModelMetadata(m *SessionMetadata) *models.SessionMetadata {
	keywords := m.Keywords
	if keywords == nil {
		keywords = models.StringSet{}
	}
	files := m.FilePatterns
	if files == nil {
		files = models.StringSet{}
	}
	return &models.SessionMetadata{
		SessionID:     m.SessionID,
		SessionType:   models.SessionType(m.SessionType),
		Title:         m.Title,
		Summary:       m.Summary,
		Keywords:      keywords,
		FilePatterns:  files,
		TokenEstimate: m.TokenEstimate,
		AccessCount:   m.AccessCount,
		CreatedAt:     fromEpoch(m.CreatedAtEpoch),
		LastAccessed:  fromEpoch(m.LastAccessedEpoch),
	}
}

// toModelMetadataList converts a slice of GORM SessionMetadata to pkg/models.SessionMetadata.
func toModelMetadataList(rows []SessionMetadata) []*models.SessionMetadata {
	result := make([]*models.SessionMetadata, len(rows))
	for i := range rows {
		result[i] = toModelMetadata(&rows[i])
	}
	return result
}

func fromModelMetadata(m *models.SessionMetadata) SessionMetadata {
	return SessionMetadata{
		SessionID:         m.SessionID,
		SessionType:       string(m.SessionType),
		Title:             m.Title,
		Summary:           m.Summary,
		Keywords:          m.Keywords.Clone(),
		FilePatterns:      m.FilePatterns.Clone(),
		TokenEstimate:     m.TokenEstimate,
		AccessCount:       m.AccessCount,
		CreatedAtEpoch:    toEpoch(m.CreatedAt),
		LastAccessedEpoch: toEpoch(m.LastAccessed),
	}
}
