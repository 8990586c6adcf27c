package sources

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/clusterd/pkg/models"
)

// memoryEntry is one record of a long-term memory export.
type memoryEntry struct {
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Tags        []string  `json:"tags"`
	Files       []string  `json:"files"`
	AccessCount int       `json:"access_count"`
}

// memoryFile is the top-level layout of a memory export.
type memoryFile struct {
	Memories []memoryEntry `json:"memories"`
}

// MemorySource reads a JSON export of the long-term memory store.
type MemorySource struct {
	name        string
	path        string
	sessionType models.SessionType
}

// NewMemorySource creates a source over the export at path. sessionType tags
// the produced records; native transcripts share the memory layout.
func NewMemorySource(name, path string, sessionType models.SessionType) *MemorySource {
	if sessionType == "" {
		sessionType = models.SessionTypeMemory
	}
	return &MemorySource{name: name, path: expandHome(path), sessionType: sessionType}
}

func (s *MemorySource) Name() string { return s.name }
func (s *MemorySource) Path() string { return s.path }

// FetchSessions decodes the export and keeps entries created inside tr.
func (s *MemorySource) FetchSessions(ctx context.Context, tr models.TimeRange) ([]RawSession, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read memory export: %w", err)
	}

	var file memoryFile
	if err := json.UnmarshalContext(ctx, data, &file); err != nil {
		return nil, fmt.Errorf("decode memory export %s: %w", s.path, err)
	}

	sessions := make([]RawSession, 0, len(file.Memories))
	for _, m := range file.Memories {
		if m.ID == "" || !tr.Contains(m.CreatedAt) {
			continue
		}
		title := m.Title
		if title == "" {
			title = firstLine(m.Content, 120)
		}
		summary := m.Content
		if len(m.Tags) > 0 {
			summary += "\n" + strings.Join(m.Tags, " ")
		}
		sessions = append(sessions, RawSession{
			ID:           m.ID,
			Type:         s.sessionType,
			Title:        title,
			Summary:      summary,
			Files:        m.Files,
			CreatedAt:    m.CreatedAt,
			LastAccessed: m.UpdatedAt,
			AccessCount:  m.AccessCount,
		})
	}
	return sessions, nil
}
