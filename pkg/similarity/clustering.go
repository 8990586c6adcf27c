// Package similarity provides session relevance scoring and clustering.
package similarity

import (
	"sort"

	"github.com/thebtf/clusterd/pkg/models"
)

// DefaultThreshold is the minimum average-linkage score at which two clusters merge.
const DefaultThreshold = 0.4

// Merge records one agglomeration step.
type Merge struct {
	Left  []int
	Right []int
	Score float64
}

// Cluster groups records by agglomerative average-linkage clustering over the
// precomputed matrix and returns the session ids of every group with at least
// two members. Sessions that never merge are left out.
func Cluster(records []*models.SessionMetadata, matrix Matrix, threshold float64) [][]string {
	groups := Agglomerate(matrix, threshold)
	out := make([][]string, 0, len(groups))
	for _, g := range groups {
		ids := make([]string, len(g))
		for k, idx := range g {
			ids[k] = records[idx].SessionID
		}
		sort.Strings(ids)
		out = append(out, ids)
	}
	return out
}

// Agglomerate runs average-linkage clustering over matrix indices and returns
// groups of size >= 2, each sorted ascending.
func Agglomerate(matrix Matrix, threshold float64) [][]int {
	groups, _ := AgglomerateWithTrace(matrix, threshold)
	return groups
}

// AgglomerateWithTrace is Agglomerate that also returns every merge performed.
//
// Each round scans all pairs (i, j), i < j, of the current clusters in
// ascending order and keeps the first pair with the strictly highest average
// linkage, so ties resolve to the lexicographically lowest pair. The merged
// cluster replaces slot i and slot j is removed. Clustering stops when the best
// linkage falls below threshold.
func AgglomerateWithTrace(matrix Matrix, threshold float64) ([][]int, []Merge) {
	clusters := make([][]int, len(matrix))
	for i := range matrix {
		clusters[i] = []int{i}
	}

	var trace []Merge
	for len(clusters) > 1 {
		bestI, bestJ := -1, -1
		best := -1.0
		for i := 0; i < len(clusters); i++ {
			for j := i + 1; j < len(clusters); j++ {
				score := AverageLinkage(matrix, clusters[i], clusters[j])
				if score > best {
					best, bestI, bestJ = score, i, j
				}
			}
		}
		if best < threshold {
			break
		}

		trace = append(trace, Merge{
			Left:  append([]int(nil), clusters[bestI]...),
			Right: append([]int(nil), clusters[bestJ]...),
			Score: best,
		})

		merged := append(append([]int(nil), clusters[bestI]...), clusters[bestJ]...)
		sort.Ints(merged)
		clusters[bestI] = merged
		clusters = append(clusters[:bestJ], clusters[bestJ+1:]...)
	}

	result := make([][]int, 0, len(clusters))
	for _, c := range clusters {
		if len(c) >= 2 {
			result = append(result, c)
		}
	}
	return result, trace
}

// AverageLinkage is the mean pairwise score between members of a and b.
func AverageLinkage(matrix Matrix, a, b []int) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	sum := 0.0
	for _, i := range a {
		for _, j := range b {
			sum += matrix[i][j]
		}
	}
	return sum / float64(len(a)*len(b))
}
