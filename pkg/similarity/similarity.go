// Package similarity provides session relevance scoring and clustering.
package similarity

import (
	"context"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thebtf/clusterd/pkg/keywords"
	"github.com/thebtf/clusterd/pkg/models"
)

// Sub-score weights. They sum to 1.0. A sub-score that degrades to 0 for lack of
// data is not renormalized away, so pairs without embeddings cannot exceed 0.7.
const (
	WeightFileOverlap = 0.20
	WeightTemporal    = 0.15
	WeightKeyword     = 0.15
	WeightVector      = 0.30
	WeightIntent      = 0.20
)

// Breakdown holds the five unweighted sub-scores for a pair of sessions.
type Breakdown struct {
	FileOverlap float64 `json:"file_overlap"`
	Temporal    float64 `json:"temporal"`
	Keyword     float64 `json:"keyword"`
	Vector      float64 `json:"vector"`
	Intent      float64 `json:"intent"`
}

// Total returns the weighted relevance score in [0,1].
func (b Breakdown) Total() float64 {
	total := b.FileOverlap*WeightFileOverlap +
		b.Temporal*WeightTemporal +
		b.Keyword*WeightKeyword +
		b.Vector*WeightVector +
		b.Intent*WeightIntent
	return clamp01(total)
}

// Score returns the relevance of two sessions. ea and eb may be nil when no
// embedding is available.
func Score(a, b *models.SessionMetadata, ea, eb models.Embedding) float64 {
	return Compare(a, b, ea, eb).Total()
}

// Compare computes every sub-score for a pair of sessions.
func Compare(a, b *models.SessionMetadata, ea, eb models.Embedding) Breakdown {
	return compareFeatures(newFeatures(a, ea), newFeatures(b, eb))
}

// features caches the per-session inputs of the pairwise computation.
type features struct {
	createdAt time.Time
	files     map[string]bool
	keywords  map[string]bool
	intent    map[string]bool
	embedding models.Embedding
}

func newFeatures(m *models.SessionMetadata, e models.Embedding) features {
	return features{
		createdAt: m.CreatedAt,
		files:     m.FilePatterns,
		keywords:  m.Keywords,
		intent:    keywords.IntentWords(m.Title + " " + m.Summary),
		embedding: e,
	}
}

func compareFeatures(a, b features) Breakdown {
	return Breakdown{
		FileOverlap: JaccardSimilarity(a.files, b.files),
		Temporal:    TemporalProximity(a.createdAt, b.createdAt),
		Keyword:     JaccardSimilarity(a.keywords, b.keywords),
		Vector:      VectorSimilarity(a.embedding, b.embedding),
		Intent:      JaccardSimilarity(a.intent, b.intent),
	}
}

// JaccardSimilarity calculates the Jaccard similarity between two term sets.
// Returns 0 when either set is empty.
func JaccardSimilarity(set1, set2 map[string]bool) float64 {
	if len(set1) == 0 || len(set2) == 0 {
		return 0.0
	}

	small, large := set1, set2
	if len(large) < len(small) {
		small, large = large, small
	}
	intersection := 0
	for term := range small {
		if large[term] {
			intersection++
		}
	}

	union := len(set1) + len(set2) - intersection
	return float64(intersection) / float64(union)
}

// TemporalProximity is a step function of the absolute time between two sessions.
func TemporalProximity(a, b time.Time) float64 {
	delta := a.Sub(b)
	if delta < 0 {
		delta = -delta
	}
	switch {
	case delta <= 24*time.Hour:
		return 1.0
	case delta <= 7*24*time.Hour:
		return 0.7
	case delta <= 30*24*time.Hour:
		return 0.4
	default:
		return 0.1
	}
}

// CosineSimilarity returns the cosine of the angle between a and b in [-1,1].
// Vectors of different length, empty vectors and zero vectors yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// VectorSimilarity is the vector sub-score: cosine similarity clamped to [0,1],
// or 0 when either embedding is unavailable.
func VectorSimilarity(a, b models.Embedding) float64 {
	if !a.Available() || !b.Available() {
		return 0
	}
	return clamp01(CosineSimilarity(a, b))
}

// Matrix is a symmetric pairwise relevance matrix indexed by record position.
type Matrix [][]float64

// At returns the score between records i and j.
func (m Matrix) At(i, j int) float64 {
	return m[i][j]
}

// BuildMatrix computes the pairwise relevance of records. Rows are computed in
// parallel across at most workers goroutines (runtime.NumCPU when workers <= 0);
// each cell is written by exactly one goroutine, so the result equals the
// sequential computation.
func BuildMatrix(ctx context.Context, records []*models.SessionMetadata, embeddings map[string]models.Embedding, workers int) (Matrix, error) {
	n := len(records)
	feats := make([]features, n)
	m := make(Matrix, n)
	for i, r := range records {
		feats[i] = newFeatures(r, embeddings[r.SessionID])
		m[i] = make([]float64, n)
		m[i][i] = 1.0
	}

	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for j := i + 1; j < n; j++ {
				s := compareFeatures(feats[i], feats[j]).Total()
				m[i][j] = s
				m[j][i] = s
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return m, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
