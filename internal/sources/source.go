// Package sources reads raw session records from the external stores that produce them.
package sources

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/thebtf/clusterd/pkg/models"
)

// RawSession is a session record as delivered by a source, before normalization.
type RawSession struct {
	CreatedAt    time.Time
	LastAccessed time.Time
	ID           string
	Type         models.SessionType
	Title        string
	Summary      string
	Files        []string
	AccessCount  int
}

// Source produces raw session records.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	// Path is the file or directory the source reads from.
	Path() string
	// FetchSessions returns the records created inside tr.
	FetchSessions(ctx context.Context, tr models.TimeRange) ([]RawSession, error)
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// firstLine returns the first non-empty line of s, truncated to max runes.
func firstLine(s string, max int) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		runes := []rune(line)
		if len(runes) > max {
			return string(runes[:max])
		}
		return line
	}
	return ""
}
