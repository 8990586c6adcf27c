package privacy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripPrivateTags(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no tags", "Fix JWT refresh", "Fix JWT refresh"},
		{"inline secret", "Rotate key <private>sk-live-123</private> in config.go", "Rotate key  in config.go"},
		{"multiline", "Deploy <private>\nhost=10.0.0.4\npass=hunter2\n</private> done", "Deploy  done"},
		{"unclosed tag kept", "Deploy <private>host=10.0.0.4", "Deploy <private>host=10.0.0.4"},
		{"upper case not a tag", "Use <PRIVATE>x</PRIVATE>", "Use <PRIVATE>x</PRIVATE>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripPrivateTags(tt.input))
		})
	}
}

func TestIsEntirelyPrivate(t *testing.T) {
	assert.True(t, IsEntirelyPrivate("  <private>a</private><private>b</private> "))
	assert.True(t, IsEntirelyPrivate(""))
	assert.False(t, IsEntirelyPrivate("Migrate users <private>dsn</private>"))
}

func TestCleanSessionTitle(t *testing.T) {
	title := "  Fix auth <private>src/secret/vault.go apiKey</private> handler\n"
	assert.Equal(t, "Fix auth  handler", Clean(title))
	assert.Equal(t, "", Clean("<private>whole session</private>"))
}

func TestWrapContext(t *testing.T) {
	wrapped := WrapContext("# Session index\n\n## Recent clusters (1)\n1. auth-jwt\n   retrieve cluster:c1\n\n")

	assert.Equal(t, "<session-context>\n# Session index\n\n## Recent clusters (1)\n1. auth-jwt\n   retrieve cluster:c1\n</session-context>", wrapped)
	assert.True(t, strings.HasPrefix(wrapped, ContextOpenTag))
	assert.True(t, strings.HasSuffix(wrapped, ContextCloseTag))
}

func TestReingestedReportIsStripped(t *testing.T) {
	report := WrapContext("# Relevant prior work\n\n## Matching sessions (1)\n1. [memory] Redis eviction (100% match)\n   retrieve session:s9\n")
	summary := "Asked about cache limits.\n" + report + "\nLowered maxmemory in redis.conf"

	assert.Equal(t, "Asked about cache limits.\n\nLowered maxmemory in redis.conf", StripContextTags(summary))

	cleaned := Clean("<private>token</private> " + summary)
	assert.NotContains(t, cleaned, "retrieve session:")
	assert.NotContains(t, cleaned, "token")
	assert.True(t, strings.HasPrefix(cleaned, "Asked about cache limits."))

	// Two reports in one summary are removed independently.
	assert.Equal(t, "a  b", StripAllTags(WrapContext("x")+"a "+WrapContext("y")+" b"))
}
