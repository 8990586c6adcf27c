// Package index renders the progressive disclosure index of clusters and sessions.
package index

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/thebtf/clusterd/internal/privacy"
	"github.com/thebtf/clusterd/pkg/keywords"
	"github.com/thebtf/clusterd/pkg/models"
)

// Type selects the index mode.
type Type string

const (
	TypeSessionStart Type = "session-start"
	TypeContext      Type = "context"
)

// Defaults for the section sizes.
const (
	DefaultMaxClusters = 5
	DefaultMaxSessions = 5
)

// maxMemberTitles is the number of member titles listed under a cluster.
const maxMemberTitles = 3

const timeLayout = "2006-01-02 15:04"

// Request describes one index query.
type Request struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Prompt    string `json:"prompt,omitempty"`
}

// Builder renders index reports. It holds no state besides its limits and is
// safe for concurrent use.
type Builder struct {
	maxClusters int
	maxSessions int
}

// NewBuilder creates a builder. Non-positive limits fall back to the defaults.
func NewBuilder(maxClusters, maxSessions int) *Builder {
	if maxClusters <= 0 {
		maxClusters = DefaultMaxClusters
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Builder{maxClusters: maxClusters, maxSessions: maxSessions}
}

// clusterEntry is a cluster resolved against the metadata cache.
type clusterEntry struct {
	cluster    *models.Cluster
	members    []*models.SessionMetadata
	lastActive time.Time
	score      float64
}

// sessionEntry is an unclustered session.
type sessionEntry struct {
	meta  *models.SessionMetadata
	score float64
}

// Build renders the report for req over the given clusters and metadata.
// A context request with an empty prompt is served as a session-start request.
func (b *Builder) Build(req Request, clusters []*models.Cluster, records []*models.SessionMetadata) string {
	byID := models.IndexMetadata(records)
	entries := resolveClusters(clusters, byID)
	loose := unclustered(records, clusters, req.SessionID)

	if req.Type == TypeContext && strings.TrimSpace(req.Prompt) != "" {
		return b.renderContext(req.Prompt, entries, loose)
	}
	return b.renderSessionStart(entries, loose)
}

func (b *Builder) renderSessionStart(entries []*clusterEntry, loose []*sessionEntry) string {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].lastActive.Equal(entries[j].lastActive) {
			return entries[i].lastActive.After(entries[j].lastActive)
		}
		return entries[i].cluster.ID < entries[j].cluster.ID
	})
	sortSessions(loose)

	var sb strings.Builder
	sb.WriteString("# Session index\n")
	if len(entries) == 0 && len(loose) == 0 {
		sb.WriteString("\nNo prior sessions.\n")
		return privacy.WrapContext(sb.String())
	}

	if len(entries) > 0 {
		entries = entries[:min(len(entries), b.maxClusters)]
		fmt.Fprintf(&sb, "\n## Recent clusters (%d)\n", len(entries))
		for i, e := range entries {
			writeCluster(&sb, i+1, e, "")
		}
	}
	if len(loose) > 0 {
		loose = loose[:min(len(loose), b.maxSessions)]
		fmt.Fprintf(&sb, "\n## Recent unclustered sessions (%d)\n", len(loose))
		for i, s := range loose {
			writeSession(&sb, i+1, s.meta, "")
		}
	}
	return privacy.WrapContext(sb.String())
}

func (b *Builder) renderContext(prompt string, entries []*clusterEntry, loose []*sessionEntry) string {
	terms := PromptTerms(prompt)

	var matched []*clusterEntry
	for _, e := range entries {
		e.score = clusterScore(terms, e)
		if e.score > 0 {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].score != matched[j].score {
			return matched[i].score > matched[j].score
		}
		if !matched[i].lastActive.Equal(matched[j].lastActive) {
			return matched[i].lastActive.After(matched[j].lastActive)
		}
		return matched[i].cluster.ID < matched[j].cluster.ID
	})

	var hits []*sessionEntry
	for _, s := range loose {
		s.score = coverage(terms, sessionTerms(s.meta))
		if s.score > 0 {
			hits = append(hits, s)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return sessionLess(hits[i].meta, hits[j].meta)
	})

	var sb strings.Builder
	sb.WriteString("# Relevant prior work\n")
	if len(matched) == 0 && len(hits) == 0 {
		sb.WriteString("\nNo matching sessions.\n")
		return privacy.WrapContext(sb.String())
	}

	if len(matched) > 0 {
		matched = matched[:min(len(matched), b.maxClusters)]
		fmt.Fprintf(&sb, "\n## Matching clusters (%d)\n", len(matched))
		for i, e := range matched {
			writeCluster(&sb, i+1, e, percent(e.score))
		}
	}
	if len(hits) > 0 {
		hits = hits[:min(len(hits), b.maxSessions)]
		fmt.Fprintf(&sb, "\n## Matching sessions (%d)\n", len(hits))
		for i, s := range hits {
			writeSession(&sb, i+1, s.meta, percent(s.score))
		}
	}
	return privacy.WrapContext(sb.String())
}

// resolveClusters attaches member metadata. Stale members are skipped and
// clusters without any resolvable member are left out.
func resolveClusters(clusters []*models.Cluster, byID map[string]*models.SessionMetadata) []*clusterEntry {
	entries := make([]*clusterEntry, 0, len(clusters))
	for _, c := range clusters {
		e := &clusterEntry{cluster: c}
		for _, id := range c.Members.Sorted() {
			m, ok := byID[id]
			if !ok {
				continue
			}
			e.members = append(e.members, m)
			if t := m.RecencyTime(); t.After(e.lastActive) {
				e.lastActive = t
			}
		}
		if len(e.members) == 0 {
			continue
		}
		sortMembers(e.members)
		entries = append(entries, e)
	}
	return entries
}

// unclustered returns sessions outside every cluster, excluding exclude.
func unclustered(records []*models.SessionMetadata, clusters []*models.Cluster, exclude string) []*sessionEntry {
	owned := models.StringSet{}
	for _, c := range clusters {
		owned.Union(c.Members)
	}
	var out []*sessionEntry
	for _, r := range records {
		if r.SessionID == exclude || owned.Has(r.SessionID) {
			continue
		}
		out = append(out, &sessionEntry{meta: r})
	}
	return out
}

// PromptTerms extracts the match terms of a free-text prompt.
func PromptTerms(prompt string) models.StringSet {
	terms := models.NewStringSet(keywords.ExtractN(0, prompt)...)
	for w := range keywords.IntentWords(prompt) {
		terms.Add(w)
	}
	return terms
}

func sessionTerms(m *models.SessionMetadata) models.StringSet {
	terms := m.Keywords.Clone()
	for w := range keywords.IntentWords(m.Title + " " + m.Summary) {
		terms.Add(w)
	}
	return terms
}

// clusterScore averages member coverage; the cluster's own name and intent
// count as terms of every member.
func clusterScore(prompt models.StringSet, e *clusterEntry) float64 {
	if prompt.Len() == 0 || len(e.members) == 0 {
		return 0
	}
	shared := models.NewStringSet(strings.Split(e.cluster.Name, "-")...)
	for w := range keywords.IntentWords(e.cluster.Intent) {
		shared.Add(w)
	}

	var total float64
	for _, m := range e.members {
		terms := sessionTerms(m)
		terms.Union(shared)
		total += coverage(prompt, terms)
	}
	return total / float64(len(e.members))
}

// coverage is the share of prompt terms found in terms.
func coverage(prompt, terms models.StringSet) float64 {
	if prompt.Len() == 0 {
		return 0
	}
	return float64(prompt.Intersect(terms)) / float64(prompt.Len())
}

func percent(score float64) string {
	return fmt.Sprintf("%d%% match", int(math.Round(score*100)))
}

func sessionLess(a, b *models.SessionMetadata) bool {
	ta, tb := a.RecencyTime(), b.RecencyTime()
	if !ta.Equal(tb) {
		return ta.After(tb)
	}
	return a.SessionID < b.SessionID
}

func sortSessions(list []*sessionEntry) {
	sort.SliceStable(list, func(i, j int) bool { return sessionLess(list[i].meta, list[j].meta) })
}

func sortMembers(list []*models.SessionMetadata) {
	sort.SliceStable(list, func(i, j int) bool { return sessionLess(list[i], list[j]) })
}

func writeCluster(sb *strings.Builder, rank int, e *clusterEntry, match string) {
	fmt.Fprintf(sb, "%d. %s", rank, e.cluster.Name)
	if match != "" {
		fmt.Fprintf(sb, " (%s)", match)
	}
	fmt.Fprintf(sb, " [%d sessions, last active %s]\n", len(e.members), e.lastActive.UTC().Format(timeLayout))
	fmt.Fprintf(sb, "   Intent: %s\n", e.cluster.Intent)

	titles := make([]string, 0, maxMemberTitles)
	for _, m := range e.members[:min(len(e.members), maxMemberTitles)] {
		titles = append(titles, m.DisplayTitle())
	}
	fmt.Fprintf(sb, "   Sessions: %s\n", strings.Join(titles, "; "))
	fmt.Fprintf(sb, "   retrieve cluster:%s\n", e.cluster.ID)
}

func writeSession(sb *strings.Builder, rank int, m *models.SessionMetadata, match string) {
	fmt.Fprintf(sb, "%d. [%s] %s", rank, m.SessionType, m.DisplayTitle())
	if match != "" {
		fmt.Fprintf(sb, " (%s)", match)
	}
	fmt.Fprintf(sb, " [%s]\n", m.RecencyTime().UTC().Format(timeLayout))
	fmt.Fprintf(sb, "   retrieve session:%s\n", m.SessionID)
}
