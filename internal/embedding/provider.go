// Package embedding looks up externally computed session embeddings.
package embedding

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/thebtf/clusterd/pkg/models"
)

// Provider returns the embedding for a session. ok is false when none exists;
// absence is not an error.
type Provider interface {
	GetEmbedding(ctx context.Context, sessionID string) (vec models.Embedding, ok bool, err error)
}

// BatchProvider is implemented by providers that can answer many lookups at once.
type BatchProvider interface {
	GetEmbeddings(ctx context.Context, ids []string) (map[string]models.Embedding, error)
}

// Lookup resolves embeddings for ids. Lookup failures are logged and the
// affected sessions are treated as having no embedding.
func Lookup(ctx context.Context, p Provider, ids []string) map[string]models.Embedding {
	result := make(map[string]models.Embedding, len(ids))
	if p == nil || len(ids) == 0 {
		return result
	}

	if batch, ok := p.(BatchProvider); ok {
		found, err := batch.GetEmbeddings(ctx, ids)
		if err == nil {
			for id, vec := range found {
				if vec.Available() {
					result[id] = vec
				}
			}
			return result
		}
		log.Debug().Err(err).Int("sessions", len(ids)).Msg("Batch embedding lookup failed, falling back to single lookups")
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		vec, ok, err := p.GetEmbedding(ctx, id)
		if err != nil {
			log.Debug().Err(err).Str("session_id", id).Msg("Embedding lookup failed")
			continue
		}
		if ok && vec.Available() {
			result[id] = vec
		}
	}
	return result
}

// Chain consults providers in order and returns the first embedding found.
type Chain []Provider

// GetEmbedding implements Provider. Errors from earlier providers are only
// returned when no later provider has the embedding.
func (c Chain) GetEmbedding(ctx context.Context, sessionID string) (models.Embedding, bool, error) {
	var firstErr error
	for _, p := range c {
		vec, ok, err := p.GetEmbedding(ctx, sessionID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok && vec.Available() {
			return vec, true, nil
		}
	}
	return nil, false, firstErr
}

// GetEmbeddings implements BatchProvider. Each provider is asked only for the
// ids still missing, through its batch method when it has one. A failing
// provider is skipped; the error is returned only when every provider failed.
func (c Chain) GetEmbeddings(ctx context.Context, ids []string) (map[string]models.Embedding, error) {
	found := make(map[string]models.Embedding, len(ids))
	missing := ids
	var firstErr error
	failures := 0

	for _, p := range c {
		if len(missing) == 0 || ctx.Err() != nil {
			break
		}
		got, err := lookupAll(ctx, p, missing)
		if err != nil {
			log.Debug().Err(err).Int("sessions", len(missing)).Msg("Embedding provider failed, trying next")
			if firstErr == nil {
				firstErr = err
			}
			failures++
			continue
		}
		next := missing[:0:0]
		for _, id := range missing {
			if vec, ok := got[id]; ok && vec.Available() {
				found[id] = vec
			} else {
				next = append(next, id)
			}
		}
		missing = next
	}

	if len(c) > 0 && failures == len(c) {
		return nil, firstErr
	}
	return found, nil
}

// lookupAll asks p for ids, in one call when p supports batches. A single
// lookup error aborts so an unreachable provider costs one failure, not one per id.
func lookupAll(ctx context.Context, p Provider, ids []string) (map[string]models.Embedding, error) {
	if batch, ok := p.(BatchProvider); ok {
		return batch.GetEmbeddings(ctx, ids)
	}
	out := make(map[string]models.Embedding, len(ids))
	for _, id := range ids {
		vec, ok, err := p.GetEmbedding(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out[id] = vec
		}
	}
	return out, nil
}

// None is a Provider with no embeddings.
type None struct{}

func (None) GetEmbedding(context.Context, string) (models.Embedding, bool, error) {
	return nil, false, nil
}
