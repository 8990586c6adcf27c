// Package gorm provides GORM-based persistence for session metadata, clusters and embeddings.
package gorm

import (
	"context"
	"errors"
	"fmt"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/clusterd/pkg/models"
)

// EmbeddingStore persists externally supplied session embeddings.
type EmbeddingStore struct {
	db *gorm.DB
}

// NewEmbeddingStore creates a new embedding store.
func NewEmbeddingStore(store *Store) *EmbeddingStore {
	return &EmbeddingStore{db: store.DB}
}

// PutEmbedding stores or replaces the vector for a session.
func (s *EmbeddingStore) PutEmbedding(ctx context.Context, sessionID string, vec models.Embedding, model string) error {
	if !vec.Available() {
		return fmt.Errorf("empty embedding for session %s", sessionID)
	}
	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return fmt.Errorf("serialize embedding: %w", err)
	}

	row := SessionEmbedding{
		SessionID:  sessionID,
		Vector:     blob,
		Dimensions: len(vec),
		Model:      model,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"vector", "dimensions", "model", "updated_at_epoch"}),
	}).Create(&row).Error
}

// GetEmbedding returns the vector for a session. ok is false when none is stored.
func (s *EmbeddingStore) GetEmbedding(ctx context.Context, sessionID string) (models.Embedding, bool, error) {
	var row SessionEmbedding
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	vec, err := decodeVector(row.Vector, row.Dimensions)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

// GetEmbeddings returns the stored vectors for the given sessions, keyed by session id.
// Sessions without a vector are absent from the map.
func (s *EmbeddingStore) GetEmbeddings(ctx context.Context, ids []string) (map[string]models.Embedding, error) {
	result := make(map[string]models.Embedding, len(ids))
	for _, chunk := range chunkStrings(ids, maxInClause) {
		var rows []SessionEmbedding
		if err := s.db.WithContext(ctx).Where("session_id IN ?", chunk).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, row := range rows {
			vec, err := decodeVector(row.Vector, row.Dimensions)
			if err != nil {
				return nil, fmt.Errorf("session %s: %w", row.SessionID, err)
			}
			result[row.SessionID] = vec
		}
	}
	return result, nil
}

// CountEmbeddings returns the number of stored vectors.
func (s *EmbeddingStore) CountEmbeddings(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&SessionEmbedding{}).Count(&count).Error
	return count, err
}

// DeleteEmbeddings removes stored vectors.
func (s *EmbeddingStore) DeleteEmbeddings(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).Where("session_id IN ?", ids).Delete(&SessionEmbedding{})
	return result.RowsAffected, result.Error
}

// decodeVector checks the stored dimensions and decodes the blob.
func decodeVector(blob []byte, dims int) (models.Embedding, error) {
	if dims > 0 && len(blob) != dims*4 {
		return nil, fmt.Errorf("corrupt embedding: %d bytes for %d dimensions", len(blob), dims)
	}
	return models.DecodeEmbedding(blob)
}
