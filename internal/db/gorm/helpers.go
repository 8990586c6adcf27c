// Package gorm provides GORM-based persistence for session metadata, clusters and embeddings.
package gorm

import (
	"time"
)

// maxInClause bounds the number of ids bound into a single IN (...) clause.
const maxInClause = 500

// toEpoch converts a time to Unix milliseconds. The zero time maps to 0.
func toEpoch(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// fromEpoch converts Unix milliseconds to a UTC time. 0 maps to the zero time.
func fromEpoch(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// chunkStrings splits ids into slices of at most size elements.
func chunkStrings(ids []string, size int) [][]string {
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
