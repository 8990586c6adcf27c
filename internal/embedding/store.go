package embedding

import (
	"context"

	"github.com/thebtf/clusterd/pkg/models"
)

// embeddingReader is the subset of the gorm embedding store used here.
type embeddingReader interface {
	GetEmbedding(ctx context.Context, sessionID string) (models.Embedding, bool, error)
	GetEmbeddings(ctx context.Context, ids []string) (map[string]models.Embedding, error)
}

// StoreProvider serves embeddings imported into the local database.
type StoreProvider struct {
	store embeddingReader
}

// NewStoreProvider wraps an embedding store.
func NewStoreProvider(store embeddingReader) *StoreProvider {
	return &StoreProvider{store: store}
}

func (p *StoreProvider) GetEmbedding(ctx context.Context, sessionID string) (models.Embedding, bool, error) {
	return p.store.GetEmbedding(ctx, sessionID)
}

func (p *StoreProvider) GetEmbeddings(ctx context.Context, ids []string) (map[string]models.Embedding, error) {
	return p.store.GetEmbeddings(ctx, ids)
}
