// Package models contains domain models for clusterd.
package models

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Embedding is a session's semantic vector supplied by an external provider.
// A nil Embedding means "not available"; it is never replaced by a zero vector.
type Embedding []float32

// Available reports whether the embedding carries data.
func (e Embedding) Available() bool {
	return len(e) > 0
}

// DecodeEmbedding reads a little-endian float32 blob, the layout produced by
// sqlite_vec.SerializeFloat32.
func DecodeEmbedding(blob []byte) (Embedding, error) {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob of %d bytes", len(blob))
	}
	vec := make(Embedding, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
