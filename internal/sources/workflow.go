package sources

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/clusterd/pkg/models"
)

// workflowStep is one recorded step of a workflow session.
type workflowStep struct {
	Description string   `json:"description"`
	Files       []string `json:"files"`
}

// workflowDoc is the per-session JSON file written by the workflow tracker.
type workflowDoc struct {
	StartedAt   time.Time      `json:"started_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	SessionID   string         `json:"session_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Steps       []workflowStep `json:"steps"`
	Resumes     int            `json:"resumes"`
}

// WorkflowSource reads a directory of workflow session files (*.json).
type WorkflowSource struct {
	name string
	dir  string
}

// NewWorkflowSource creates a source over dir.
func NewWorkflowSource(name, dir string) *WorkflowSource {
	return &WorkflowSource{name: name, dir: expandHome(dir)}
}

func (s *WorkflowSource) Name() string { return s.name }
func (s *WorkflowSource) Path() string { return s.dir }

// FetchSessions decodes every session file. Unreadable files are skipped.
func (s *WorkflowSource) FetchSessions(ctx context.Context, tr models.TimeRange) ([]RawSession, error) {
	if _, err := os.Stat(s.dir); err != nil {
		return nil, fmt.Errorf("workflow directory: %w", err)
	}
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list workflow sessions: %w", err)
	}
	sort.Strings(paths)

	sessions := make([]RawSession, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := readWorkflowDoc(path)
		if err != nil {
			log.Debug().Err(err).Str("source", s.name).Str("path", path).Msg("Skipping workflow file")
			continue
		}
		if !tr.Contains(doc.StartedAt) {
			continue
		}
		sessions = append(sessions, doc.toRaw())
	}
	return sessions, nil
}

func readWorkflowDoc(path string) (*workflowDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc workflowDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.SessionID == "" {
		doc.SessionID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	return &doc, nil
}

func (d *workflowDoc) toRaw() RawSession {
	var (
		summary []string
		files   []string
		seen    = make(map[string]bool)
	)
	if d.Description != "" {
		summary = append(summary, d.Description)
	}
	for _, step := range d.Steps {
		if step.Description != "" {
			summary = append(summary, step.Description)
		}
		for _, f := range step.Files {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	return RawSession{
		ID:           d.SessionID,
		Type:         models.SessionTypeWorkflow,
		Title:        d.Name,
		Summary:      strings.Join(summary, "\n"),
		Files:        files,
		CreatedAt:    d.StartedAt,
		LastAccessed: d.UpdatedAt,
		AccessCount:  d.Resumes + 1,
	}
}
