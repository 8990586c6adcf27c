// Package keywords provides the heuristic keyword extractor shared by the
// collector and the index builder.
//
// Four token sources are tallied together: file-path segments, camelCase and
// PascalCase identifier fragments, a fixed vocabulary of domain terms, and
// generic words of at least four letters that are not stop words. The result
// is ordered by occurrence count (ties alphabetical) and capped.
package keywords

import (
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultLimit is the keyword cap applied by Extract.
const DefaultLimit = 20

var (
	// pathPattern matches slash-separated paths and bare file names with a known extension.
	pathPattern = regexp.MustCompile(`(?:[A-Za-z0-9_.@-]+/)+[A-Za-z0-9_.@-]+|\b[A-Za-z0-9_-]+\.(?:go|ts|tsx|js|jsx|mjs|cjs|py|rs|java|kt|rb|php|c|h|cc|cpp|hpp|cs|swift|md|json|yaml|yml|toml|sql|css|scss|html|sh|vue|svelte)\b`)

	// identPattern matches camelCase and PascalCase identifiers.
	identPattern = regexp.MustCompile(`\b[a-z]+(?:[A-Z][a-z0-9]*)+\b|\b(?:[A-Z][a-z0-9]+){2,}\b|\b[A-Z]{2,}[A-Z][a-z0-9]+\w*\b`)
)

// fileExtensions are path segments that carry no topical meaning.
var fileExtensions = map[string]bool{
	"go": true, "ts": true, "tsx": true, "js": true, "jsx": true, "mjs": true, "cjs": true,
	"py": true, "rs": true, "java": true, "kt": true, "rb": true, "php": true, "cc": true,
	"cpp": true, "hpp": true, "cs": true, "swift": true, "md": true, "json": true, "yaml": true,
	"yml": true, "toml": true, "sql": true, "css": true, "scss": true, "html": true, "sh": true,
	"vue": true, "svelte": true, "src": true, "lib": true, "internal": true, "pkg": true,
	"dist": true, "build": true, "node_modules": true, "index": true,
}

// domainTerms is the fixed vocabulary counted regardless of word length.
var domainTerms = map[string]bool{
	// frameworks and languages
	"react": true, "vue": true, "angular": true, "svelte": true, "nextjs": true, "express": true,
	"fastapi": true, "django": true, "flask": true, "spring": true, "gin": true, "tailwind": true,
	"vite": true, "webpack": true, "node": true, "typescript": true, "javascript": true,
	"python": true, "golang": true, "rust": true, "docker": true, "kubernetes": true,
	// auth
	"auth": true, "authentication": true, "authorization": true, "jwt": true, "oauth": true,
	"login": true, "logout": true, "token": true, "password": true, "permission": true,
	"rbac": true, "sso": true, "session": true,
	// data
	"database": true, "db": true, "sql": true, "sqlite": true, "postgres": true, "mysql": true,
	"redis": true, "mongodb": true, "cache": true, "migration": true, "schema": true,
	"query": true, "orm": true,
	// testing
	"test": true, "tests": true, "testing": true, "jest": true, "vitest": true, "pytest": true,
	"mock": true, "fixture": true, "coverage": true, "e2e": true,
	// api
	"api": true, "rest": true, "graphql": true, "grpc": true, "http": true, "websocket": true,
	"endpoint": true, "route": true, "middleware": true,
	// orchestration
	"workflow": true, "agent": true, "cli": true, "orchestrator": true, "pipeline": true,
	"task": true, "hook": true, "memory": true, "cluster": true, "embedding": true,
	"prompt": true, "context": true, "planning": true, "brainstorm": true,
}

// stopWords are excluded from the generic-word pass.
var stopWords = map[string]bool{
	"about": true, "above": true, "after": true, "again": true, "also": true, "been": true,
	"before": true, "being": true, "below": true, "between": true, "both": true, "could": true,
	"does": true, "doing": true, "done": true, "down": true, "during": true, "each": true,
	"from": true, "further": true, "have": true, "having": true, "here": true, "into": true,
	"just": true, "like": true, "made": true, "make": true, "many": true, "more": true,
	"most": true, "much": true, "must": true, "need": true, "only": true, "other": true,
	"over": true, "same": true, "should": true, "some": true, "such": true, "than": true,
	"that": true, "their": true, "them": true, "then": true, "there": true, "these": true,
	"they": true, "this": true, "those": true, "through": true, "under": true, "until": true,
	"upon": true, "used": true, "using": true, "very": true, "want": true, "were": true,
	"what": true, "when": true, "where": true, "which": true, "while": true, "will": true,
	"with": true, "within": true, "without": true, "would": true, "your": true, "yours": true,
	"because": true, "every": true, "still": true, "well": true, "even": true, "ever": true,
	"onto": true, "already": true, "across": true, "around": true,
}

// Extract returns at most DefaultLimit keywords found in texts.
func Extract(texts ...string) []string {
	return ExtractN(DefaultLimit, texts...)
}

// ExtractN returns at most limit keywords found in texts. A limit <= 0 means no cap.
func ExtractN(limit int, texts ...string) []string {
	counts := make(map[string]int)
	for _, text := range texts {
		tally(counts, text)
	}

	out := make([]string, 0, len(counts))
	for k := range counts {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func tally(counts map[string]int, text string) {
	if text == "" {
		return
	}

	for _, p := range pathPattern.FindAllString(text, -1) {
		for _, seg := range splitPath(p) {
			if len(seg) >= 3 && !fileExtensions[seg] && !stopWords[seg] {
				counts[seg]++
			}
		}
	}
	rest := pathPattern.ReplaceAllString(text, " ")

	for _, ident := range identPattern.FindAllString(rest, -1) {
		for _, frag := range SplitIdentifier(ident) {
			if len(frag) >= 3 && !stopWords[frag] {
				counts[frag]++
			}
		}
	}

	for _, tok := range strings.FieldsFunc(rest, notWordRune) {
		if isMixedCase(tok) {
			continue // handled by the identifier pass
		}
		w := strings.ToLower(tok)
		switch {
		case domainTerms[w]:
			counts[w]++
		case utf8.RuneCountInString(w) >= 4 && !stopWords[w] && !isNumeric(w):
			counts[w]++
		}
	}
}

// SplitIdentifier breaks a camelCase or PascalCase identifier into lower-cased fragments.
// Runs of capitals are kept together: "HTTPServer" yields "http", "server".
func SplitIdentifier(ident string) []string {
	runes := []rune(ident)
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := unicode.IsLower(prev) && unicode.IsUpper(cur)
		if !boundary && unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]) {
			boundary = true
		}
		if !boundary && unicode.IsDigit(prev) && unicode.IsUpper(cur) {
			boundary = true
		}
		if boundary {
			parts = append(parts, strings.ToLower(string(runes[start:i])))
			start = i
		}
	}
	parts = append(parts, strings.ToLower(string(runes[start:])))
	return parts
}

// FilePaths returns the distinct path-like tokens in text, cleaned and slash-separated.
func FilePaths(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range pathPattern.FindAllString(text, -1) {
		p = NormalizePath(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// NormalizePath cleans a file path for use as a file pattern.
func NormalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	p = strings.Trim(p, `"'(),;:`)
	if p == "" || p == "." {
		return ""
	}
	return path.Clean(p)
}

// IntentWords returns the lower-cased words longer than three runes in text.
func IntentWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), notWordRune) {
		if utf8.RuneCountInString(w) > 3 {
			words[w] = true
		}
	}
	return words
}

func splitPath(p string) []string {
	raw := strings.FieldsFunc(p, func(r rune) bool {
		return r == '/' || r == '.' || r == '-' || r == '_' || r == '@' || r == '\\'
	})
	out := make([]string, 0, len(raw))
	for _, seg := range raw {
		if isMixedCase(seg) {
			out = append(out, SplitIdentifier(seg)...)
			continue
		}
		out = append(out, strings.ToLower(seg))
	}
	return out
}

func notWordRune(r rune) bool {
	return !(unicode.IsLetter(r) || unicode.IsDigit(r))
}

// isMixedCase reports whether s has an upper-case rune after its first rune
// and at least one lower-case rune.
func isMixedCase(s string) bool {
	inner, lower := false, false
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			inner = true
		}
		if unicode.IsLower(r) {
			lower = true
		}
	}
	return inner && lower
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
