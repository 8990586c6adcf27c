package sources

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/clusterd/pkg/models"
)

// maxHistoryLine bounds a single JSONL record.
const maxHistoryLine = 4 * 1024 * 1024

// historyRecord is one line of the CLI execution log.
type historyRecord struct {
	ExecID    string   `json:"exec_id"`
	SessionID string   `json:"session_id"`
	Tool      string   `json:"tool"`
	Prompt    string   `json:"prompt"`
	Status    string   `json:"status"`
	Files     []string `json:"files"`
	Timestamp int64    `json:"timestamp"` // Unix milliseconds
}

// groupKey returns the session a record belongs to. Records without a session
// id stand alone.
func (r *historyRecord) groupKey() string {
	if r.SessionID != "" {
		return r.SessionID
	}
	return r.ExecID
}

// CLIHistorySource reads a JSONL execution log and folds executions into sessions.
type CLIHistorySource struct {
	name string
	path string
}

// NewCLIHistorySource creates a source over the log at path.
func NewCLIHistorySource(name, path string) *CLIHistorySource {
	return &CLIHistorySource{name: name, path: expandHome(path)}
}

func (s *CLIHistorySource) Name() string { return s.name }
func (s *CLIHistorySource) Path() string { return s.path }

// FetchSessions scans the log. Malformed lines are skipped.
func (s *CLIHistorySource) FetchSessions(ctx context.Context, tr models.TimeRange) ([]RawSession, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open cli history: %w", err)
	}
	defer f.Close()

	groups := make(map[string][]historyRecord)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxHistoryLine)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if lineNo%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec historyRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			log.Debug().Err(err).Str("source", s.name).Int("line", lineNo).Msg("Skipping malformed history line")
			continue
		}
		if rec.groupKey() == "" {
			continue
		}
		groups[rec.groupKey()] = append(groups[rec.groupKey()], rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan cli history: %w", err)
	}

	sessions := make([]RawSession, 0, len(groups))
	for id, records := range groups {
		session := foldHistory(id, records)
		if !tr.Contains(session.CreatedAt) {
			continue
		}
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions, nil
}

// foldHistory merges the executions of one session in timestamp order.
func foldHistory(id string, records []historyRecord) RawSession {
	sort.SliceStable(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })

	var (
		prompts []string
		files   []string
		seen    = make(map[string]bool)
	)
	for _, r := range records {
		if r.Prompt != "" {
			entry := r.Prompt
			if r.Tool != "" {
				entry = r.Tool + ": " + entry
			}
			if r.Status != "" {
				entry += " [" + r.Status + "]"
			}
			prompts = append(prompts, entry)
		}
		for _, f := range r.Files {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}

	first, last := records[0], records[len(records)-1]
	return RawSession{
		ID:           id,
		Type:         models.SessionTypeCLIHistory,
		Title:        firstLine(first.Prompt, 120),
		Summary:      strings.Join(prompts, "\n"),
		Files:        files,
		CreatedAt:    time.UnixMilli(first.Timestamp).UTC(),
		LastAccessed: time.UnixMilli(last.Timestamp).UTC(),
		AccessCount:  len(records),
	}
}
