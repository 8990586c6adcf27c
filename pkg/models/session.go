// Package models contains domain models for clusterd.
package models

import (
	"time"
)

// SessionType identifies which upstream system produced a session record.
// It is carried for display only and never influences scoring.
type SessionType string

const (
	SessionTypeMemory     SessionType = "memory"
	SessionTypeWorkflow   SessionType = "workflow"
	SessionTypeCLIHistory SessionType = "cli_history"
	SessionTypeNative     SessionType = "native"
)

// MaxKeywords is the cap on keywords derived for a single session.
const MaxKeywords = 20

// SessionMetadata is the normalized record the engine reasons about.
// One exists per session id; collection runs upsert it.
type SessionMetadata struct {
	CreatedAt     time.Time   `json:"created_at"`
	LastAccessed  time.Time   `json:"last_accessed"`
	Keywords      StringSet   `json:"keywords"`
	FilePatterns  StringSet   `json:"file_patterns"`
	SessionID     string      `json:"session_id"`
	SessionType   SessionType `json:"session_type"`
	Title         string      `json:"title"`
	Summary       string      `json:"summary"`
	TokenEstimate int         `json:"token_estimate"`
	AccessCount   int         `json:"access_count"`
}

// RecencyTime returns the timestamp used for recency ordering: last access when
// known, creation time otherwise.
func (m *SessionMetadata) RecencyTime() time.Time {
	if m.LastAccessed.After(m.CreatedAt) {
		return m.LastAccessed
	}
	return m.CreatedAt
}

// DisplayTitle returns the title, falling back to the session id.
func (m *SessionMetadata) DisplayTitle() string {
	if m.Title != "" {
		return m.Title
	}
	return m.SessionID
}

// IndexMetadata returns records keyed by session id.
func IndexMetadata(records []*SessionMetadata) map[string]*SessionMetadata {
	byID := make(map[string]*SessionMetadata, len(records))
	for _, r := range records {
		byID[r.SessionID] = r
	}
	return byID
}
