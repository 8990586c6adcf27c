// Package collector gathers raw sessions from every source and caches normalized metadata.
package collector

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"

	"github.com/thebtf/clusterd/internal/privacy"
	"github.com/thebtf/clusterd/internal/sources"
	"github.com/thebtf/clusterd/pkg/keywords"
	"github.com/thebtf/clusterd/pkg/models"
)

// DefaultRecentDays is the window used by the "recent" scope.
const DefaultRecentDays = 30

// upsertBatchSize is the number of records written per store call.
const upsertBatchSize = 500

// MetadataWriter persists normalized records.
type MetadataWriter interface {
	UpsertMetadata(ctx context.Context, records []*models.SessionMetadata) error
}

// Collector is the metadata collector.
type Collector struct {
	store      MetadataWriter
	codec      tokenizer.Codec
	clustered  func(sessionID string) bool
	now        func() time.Time
	sources    []sources.Source
	recentDays int
}

// Option configures a Collector.
type Option func(*Collector)

// WithRecentDays sets the window used by the "recent" scope.
func WithRecentDays(days int) Option {
	return func(c *Collector) {
		if days > 0 {
			c.recentDays = days
		}
	}
}

// WithMembership supplies the cluster membership test used by the "unclustered" scope.
func WithMembership(clustered func(sessionID string) bool) Option {
	return func(c *Collector) { c.clustered = clustered }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// New creates a collector over srcs writing to store.
func New(srcs []sources.Source, store MetadataWriter, opts ...Option) *Collector {
	c := &Collector{
		store:      store,
		sources:    srcs,
		recentDays: DefaultRecentDays,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		log.Warn().Err(err).Msg("Tokenizer unavailable, estimating tokens from length")
	} else {
		c.codec = codec
	}
	return c
}

// Sources returns the configured sources.
func (c *Collector) Sources() []sources.Source {
	return c.sources
}

// Collect queries every source, normalizes the records, upserts them into the
// metadata cache and returns the records selected by scope, sorted by session id.
// A failing source is logged and skipped. A store failure aborts the run.
func (c *Collector) Collect(ctx context.Context, scope models.Scope, tr models.TimeRange) ([]*models.SessionMetadata, error) {
	if scope == models.ScopeRecent {
		tr = tr.Narrow(c.now().AddDate(0, 0, -c.recentDays))
	}

	byID := make(map[string]*models.SessionMetadata)
	for _, src := range c.sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := src.FetchSessions(ctx, tr)
		if err != nil {
			log.Warn().Err(err).Str("source", src.Name()).Msg("Source unavailable, continuing without it")
			continue
		}
		for i := range raw {
			if raw[i].ID == "" {
				continue
			}
			if _, dup := byID[raw[i].ID]; dup {
				log.Debug().Str("source", src.Name()).Str("session_id", raw[i].ID).Msg("Duplicate session id, keeping first")
				continue
			}
			byID[raw[i].ID] = c.Normalize(&raw[i])
		}
		log.Debug().Str("source", src.Name()).Int("sessions", len(raw)).Msg("Fetched sessions")
	}

	records := make([]*models.SessionMetadata, 0, len(byID))
	for _, r := range byID {
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].SessionID < records[j].SessionID })

	for start := 0; start < len(records); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := c.store.UpsertMetadata(ctx, records[start:end]); err != nil {
			return nil, fmt.Errorf("upsert metadata: %w", err)
		}
	}

	if scope == models.ScopeUnclustered && c.clustered != nil {
		kept := records[:0]
		for _, r := range records {
			if !c.clustered(r.SessionID) {
				kept = append(kept, r)
			}
		}
		records = kept
	}
	return records, nil
}

// Normalize converts a raw source record into a metadata record.
func (c *Collector) Normalize(raw *sources.RawSession) *models.SessionMetadata {
	title := privacy.Clean(raw.Title)
	summary := privacy.Clean(raw.Summary)

	files := models.StringSet{}
	for _, f := range raw.Files {
		if p := keywords.NormalizePath(f); p != "" {
			files.Add(p)
		}
	}
	for _, p := range keywords.FilePaths(title + "\n" + summary) {
		files.Add(p)
	}

	lastAccessed := raw.LastAccessed
	if lastAccessed.IsZero() {
		lastAccessed = raw.CreatedAt
	}

	accessCount := raw.AccessCount
	if accessCount < 1 {
		accessCount = 1
	}

	return &models.SessionMetadata{
		SessionID:     raw.ID,
		SessionType:   raw.Type,
		Title:         title,
		Summary:       summary,
		Keywords:      models.NewStringSet(keywords.ExtractN(models.MaxKeywords, title, summary, strings.Join(files.Sorted(), " "))...),
		FilePatterns:  files,
		TokenEstimate: c.estimateTokens(title + "\n" + summary),
		AccessCount:   accessCount,
		CreatedAt:     raw.CreatedAt,
		LastAccessed:  lastAccessed,
	}
}

// estimateTokens counts cl100k tokens, falling back to one token per four bytes.
func (c *Collector) estimateTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	if c.codec != nil {
		if ids, _, err := c.codec.Encode(text); err == nil {
			return len(ids)
		}
	}
	return (len(text) + 3) / 4
}
